// Package responsecache is the typed façade transports use instead of
// talking to the cache package directly: it owns fingerprinting,
// serialization, TTL policy, and timestamp attachment.
package responsecache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/eaframework/ea-core/internal/cache"
	"github.com/eaframework/ea-core/internal/events"
	"github.com/eaframework/ea-core/internal/fingerprint"
	"github.com/eaframework/ea-core/internal/metrics"
	"github.com/rs/zerolog"
)

// Timestamps carries the three clocks the response envelope requires:
// when the provider's stream was established (if streaming), when this
// adapter received the data, and when the provider itself says the data
// is from.
type Timestamps struct {
	ProviderDataStreamEstablished *time.Time
	ProviderDataReceived          time.Time
	ProviderIndicatedTime         *time.Time
}

// Result is one provider response a transport wants written to the cache.
type Result struct {
	AdapterName   string
	EndpointName  string
	TransportName string
	Params        map[string]any
	CacheKeyGen   fingerprint.Generator
	Value         any
	StatusCode    int
	MaxAge        time.Duration
	Timestamps    Timestamps
}

// Entry is what Read returns: the decoded value plus its timestamps.
type Entry struct {
	Value      json.RawMessage
	StatusCode int
	Timestamps Timestamps
	Cached     bool
}

// envelope is what actually gets marshaled into cache.Entry.Value, so that
// Read can reconstruct the full Timestamps the request handler needs.
type envelope struct {
	Value                         json.RawMessage `json:"value"`
	ProviderDataStreamEstablished *time.Time      `json:"provider_data_stream_established,omitempty"`
	ProviderDataReceived          time.Time       `json:"provider_data_received"`
}

// ResponseCache wraps a cache.Cache with the domain-specific read/write
// contract every transport shares.
type ResponseCache struct {
	backend cache.Cache
	events  *events.Bus
	logger  zerolog.Logger
}

// New wraps backend. events may be nil to disable the best-effort
// provider-update side channel.
func New(backend cache.Cache, bus *events.Bus, logger zerolog.Logger) *ResponseCache {
	return &ResponseCache{
		backend: backend,
		events:  bus,
		logger:  logger.With().Str("component", "responsecache").Logger(),
	}
}

// Fingerprint computes the cache key for a result, exported so transports
// can read-before-fetch using the same key Write will use.
func Fingerprint(adapterName, endpointName, transportName string, params map[string]any, gen fingerprint.Generator) string {
	return fingerprint.Compute(adapterName, endpointName, transportName, params, gen)
}

// Read returns a miss on expiry or backend unavailability; callers never
// see a cache error surfaced as a request failure.
func (r *ResponseCache) Read(ctx context.Context, endpointName, fp string) (Entry, bool) {
	ent, ok, err := r.backend.Get(ctx, fp)
	if err != nil {
		r.logger.Warn().Err(err).Str("fingerprint", fp).Msg("cache read degraded to miss")
		metrics.CacheDataGetCount.WithLabelValues(endpointName, "error").Inc()
		return Entry{}, false
	}
	if !ok {
		metrics.CacheDataGetCount.WithLabelValues(endpointName, "miss").Inc()
		return Entry{}, false
	}

	var env envelope
	if err := json.Unmarshal(ent.Value, &env); err != nil {
		r.logger.Warn().Err(err).Str("fingerprint", fp).Msg("corrupted cache entry, treating as miss")
		metrics.CacheDataGetCount.WithLabelValues(endpointName, "miss").Inc()
		return Entry{}, false
	}

	metrics.CacheDataGetCount.WithLabelValues(endpointName, "hit").Inc()
	metrics.CacheDataStalenessSeconds.WithLabelValues(endpointName).Observe(time.Since(ent.WrittenAt).Seconds())

	return Entry{
		Value:      env.Value,
		StatusCode: ent.StatusCode,
		Timestamps: Timestamps{
			ProviderDataStreamEstablished: env.ProviderDataStreamEstablished,
			ProviderDataReceived:          env.ProviderDataReceived,
			ProviderIndicatedTime:         ent.ProviderIndicatedTime,
		},
		Cached: true,
	}, true
}

// Write persists each Result, computing its fingerprint and stamping
// writtenAt as now. Safe for concurrent use by multiple transports; the
// last writer for a given fingerprint always wins.
func (r *ResponseCache) Write(ctx context.Context, results ...Result) {
	for _, res := range results {
		r.writeOne(ctx, res)
	}
}

func (r *ResponseCache) writeOne(ctx context.Context, res Result) {
	fp := Fingerprint(res.AdapterName, res.EndpointName, res.TransportName, res.Params, res.CacheKeyGen)

	rawValue, err := json.Marshal(res.Value)
	if err != nil {
		r.logger.Error().Err(err).Str("fingerprint", fp).Msg("failed to marshal provider value")
		return
	}

	if res.Timestamps.ProviderDataReceived.IsZero() {
		res.Timestamps.ProviderDataReceived = time.Now()
	}

	env := envelope{
		Value:                         rawValue,
		ProviderDataStreamEstablished: res.Timestamps.ProviderDataStreamEstablished,
		ProviderDataReceived:          res.Timestamps.ProviderDataReceived,
	}
	rawEnvelope, err := json.Marshal(env)
	if err != nil {
		r.logger.Error().Err(err).Str("fingerprint", fp).Msg("failed to marshal envelope")
		return
	}

	writtenAt := time.Now()
	entry := cache.Entry{
		Value:                 rawEnvelope,
		StatusCode:            res.StatusCode,
		WrittenAt:             writtenAt,
		ProviderIndicatedTime: res.Timestamps.ProviderIndicatedTime,
		MaxAge:                res.MaxAge,
	}

	if err := r.backend.Set(ctx, fp, entry, res.MaxAge); err != nil {
		r.logger.Warn().Err(err).Str("fingerprint", fp).Msg("cache write degraded (backend unavailable)")
		metrics.CacheDataSetCount.WithLabelValues(res.EndpointName, "error").Inc()
		return
	}
	metrics.CacheDataSetCount.WithLabelValues(res.EndpointName, "ok").Inc()

	if res.Timestamps.ProviderIndicatedTime != nil {
		staleness := time.Since(*res.Timestamps.ProviderIndicatedTime).Seconds()
		metrics.TotalDataStalenessSeconds.WithLabelValues(res.EndpointName).Observe(staleness)
	}

	if r.events != nil {
		r.events.Publish(ctx, events.ProviderUpdate{
			Fingerprint:           fp,
			Endpoint:              res.EndpointName,
			Transport:             res.TransportName,
			WrittenAt:             writtenAt,
			ProviderIndicatedTime: res.Timestamps.ProviderIndicatedTime,
			StatusCode:            res.StatusCode,
		})
	}
}

// Close releases the underlying backend.
func (r *ResponseCache) Close() error {
	if r.backend == nil {
		return nil
	}
	if err := r.backend.Close(); err != nil {
		return fmt.Errorf("responsecache: close backend: %w", err)
	}
	return nil
}
