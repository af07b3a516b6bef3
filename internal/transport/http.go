package transport

import (
	"context"
	"sync"
	"time"

	"github.com/eaframework/ea-core/internal/metrics"
	"github.com/eaframework/ea-core/internal/resilience"
	"github.com/eaframework/ea-core/internal/responsecache"
	"github.com/eaframework/ea-core/internal/subscription"
)

// BatchFetcher issues one provider request for a batch of desired
// subscriptions and returns a Result per successfully resolved entry. An
// entry missing from the returned slice is simply not written; the others
// are still cached. A batch failure marks every member errored for metrics
// without evicting cache entries.
type BatchFetcher func(ctx context.Context, batch []subscription.Entry) ([]responsecache.Result, error)

// HttpTransport polls provider HTTP APIs for the current subscription set
// on a fixed cadence, batching the desired set and issuing concurrent
// requests through a bounded worker pool.
type HttpTransport struct {
	Base

	Fetch         BatchFetcher
	BatchSize     int
	Workers       int
	TickInterval  time.Duration
	RetryAttempts int
}

// Initialize applies defaults for batch size and worker pool width.
func (h *HttpTransport) Initialize(deps Deps) error {
	if err := h.Base.Initialize(deps); err != nil {
		return err
	}
	if h.BatchSize <= 0 {
		h.BatchSize = 50
	}
	if h.Workers <= 0 {
		h.Workers = 4
	}
	if h.RetryAttempts <= 0 {
		h.RetryAttempts = 3
	}
	return nil
}

// ForegroundExecute serves a cache hit, or registers subscription interest
// and returns a miss — HttpTransport never performs an inline fetch; the
// next backgroundExecute tick picks up new interest.
func (h *HttpTransport) ForegroundExecute(ctx context.Context, req Request) (*Response, error) {
	if resp, ok := h.lookup(ctx, req); ok {
		return resp, nil
	}
	return nil, nil
}

// BackgroundExecute reads the desired set, splits it into provider-sized
// batches, and fans them out across a bounded worker pool.
func (h *HttpTransport) BackgroundExecute(ctx context.Context) error {
	start := time.Now()
	defer func() {
		metrics.TransportPollingDuration.WithLabelValues(h.Deps.EndpointName).Observe(time.Since(start).Seconds())
	}()

	desired, err := h.Deps.Subscriptions.GetAll(ctx)
	if err != nil {
		h.Deps.Logger.Warn().Err(err).Msg("failed to read subscription set, skipping tick")
		return h.sleep(ctx)
	}

	batches := batchEntries(desired, h.BatchSize)
	metrics.RequesterQueueSize.WithLabelValues(h.Deps.EndpointName).Set(float64(len(batches)))

	if h.Fetch == nil || len(batches) == 0 {
		return h.sleep(ctx)
	}

	sem := make(chan struct{}, h.Workers)
	var wg sync.WaitGroup

	for _, batch := range batches {
		select {
		case sem <- struct{}{}:
		default:
			metrics.RequesterQueueOverflow.WithLabelValues(h.Deps.EndpointName).Inc()
			sem <- struct{}{}
		}

		wg.Add(1)
		go func(batch []subscription.Entry) {
			defer wg.Done()
			defer func() { <-sem }()
			h.fetchBatch(ctx, batch)
		}(batch)
	}

	wg.Wait()
	return h.sleep(ctx)
}

func (h *HttpTransport) fetchBatch(ctx context.Context, batch []subscription.Entry) {
	var results []responsecache.Result

	err := h.callThroughBreaker(func() error {
		return resilience.RetryWithBackoff(ctx, resilience.RetryConfig{
			MaxAttempts:   h.RetryAttempts,
			OperationName: "http transport fetch",
			Logger:        &h.Deps.Logger,
		}, func(ctx context.Context) error {
			res, err := h.Fetch(ctx, batch)
			if err != nil {
				return err
			}
			results = res
			return nil
		})
	})
	if err != nil {
		metrics.TransportPollingFailureCount.WithLabelValues(h.Deps.EndpointName).Add(float64(len(batch)))
		h.Deps.Logger.Warn().Err(err).Int("batch_size", len(batch)).Msg("http transport batch fetch failed")
		return
	}
	if len(results) == 0 {
		return
	}

	for i := range results {
		results[i].AdapterName = h.Deps.AdapterName
		results[i].EndpointName = h.Deps.EndpointName
		results[i].TransportName = h.Deps.TransportName
		results[i].CacheKeyGen = h.Deps.CacheKeyGen
	}
	h.Deps.Cache.Write(ctx, results...)
}

func (h *HttpTransport) sleep(ctx context.Context) error {
	if h.TickInterval <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(h.TickInterval):
		return nil
	}
}

// batchEntries splits entries into groups of at most size.
func batchEntries(entries []subscription.Entry, size int) [][]subscription.Entry {
	if len(entries) == 0 {
		return nil
	}
	var batches [][]subscription.Entry
	for i := 0; i < len(entries); i += size {
		end := i + size
		if end > len(entries) {
			end = len(entries)
		}
		batches = append(batches, entries[i:end])
	}
	return batches
}
