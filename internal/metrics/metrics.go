// Package metrics exposes the Prometheus series every adapter's
// operational dashboards and alerts are built against.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests served by the adapter",
		},
		[]string{"endpoint", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	CacheDataGetCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_data_get_count",
			Help: "Cache reads, partitioned by hit/miss",
		},
		[]string{"endpoint", "result"},
	)

	CacheDataSetCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_data_set_count",
			Help: "Cache writes, partitioned by outcome",
		},
		[]string{"endpoint", "result"},
	)

	CacheDataStalenessSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cache_data_staleness_seconds",
			Help:    "now - writtenAt observed on cache reads",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	TotalDataStalenessSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "total_data_staleness_seconds",
			Help:    "now - providerIndicatedTime observed on cache writes",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	BgExecuteTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bg_execute_total",
			Help: "Background execute ticks run",
		},
		[]string{"endpoint", "transport"},
	)

	BgExecuteErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bg_execute_errors",
			Help: "Background execute ticks that errored",
		},
		[]string{"endpoint", "transport"},
	)

	BgExecuteDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bg_execute_duration_seconds",
			Help:    "Background execute tick duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint", "transport"},
	)

	WsConnectionActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ws_connection_active",
			Help: "WebSocket connections currently open",
		},
		[]string{"endpoint", "transport"},
	)

	WsConnectionErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ws_connection_errors",
			Help: "WebSocket connection/socket errors observed",
		},
		[]string{"endpoint", "transport"},
	)

	WsSubscriptionActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ws_subscription_active",
			Help: "Subscriptions currently open on the provider socket",
		},
		[]string{"endpoint", "transport"},
	)

	WsSubscriptionTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ws_subscription_total",
			Help: "Subscribe/unsubscribe messages sent",
		},
		[]string{"endpoint", "transport", "action"},
	)

	WsMessageTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ws_message_total",
			Help: "Inbound messages received over the provider socket",
		},
		[]string{"endpoint", "transport"},
	)

	TransportPollingFailureCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transport_polling_failure_count",
			Help: "Polling (HTTP transport) request failures",
		},
		[]string{"endpoint"},
	)

	TransportPollingDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "transport_polling_duration_seconds",
			Help:    "Polling (HTTP transport) batch duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	RateLimitCreditsSpentTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_credits_spent_total",
			Help: "Rate limit credits spent per endpoint",
		},
		[]string{"endpoint"},
	)

	RequesterQueueSize = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "requester_queue_size",
			Help: "Current depth of the HTTP transport worker queue",
		},
		[]string{"endpoint"},
	)

	RequesterQueueOverflow = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "requester_queue_overflow",
			Help: "Batches that had to wait because every HTTP transport worker was busy",
		},
		[]string{"endpoint"},
	)
)

var allCollectors = []prometheus.Collector{
	HTTPRequestsTotal, HTTPRequestDuration,
	CacheDataGetCount, CacheDataSetCount, CacheDataStalenessSeconds, TotalDataStalenessSeconds,
	BgExecuteTotal, BgExecuteErrors, BgExecuteDuration,
	WsConnectionActive, WsConnectionErrors, WsSubscriptionActive, WsSubscriptionTotal, WsMessageTotal,
	TransportPollingFailureCount, TransportPollingDuration,
	RateLimitCreditsSpentTotal, RequesterQueueSize, RequesterQueueOverflow,
}

// Register registers every series with reg. Safe to call more than once
// (e.g. from tests that construct multiple adapters in one process); a
// duplicate registration is tolerated rather than panicking.
func Register(reg *prometheus.Registry) {
	for _, c := range allCollectors {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				panic(err)
			}
		}
	}
}
