package transport

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/eaframework/ea-core/internal/responsecache"
	"github.com/eaframework/ea-core/internal/subscription"
)

func TestHttpTransportBatchesAndWritesResults(t *testing.T) {
	base := newTestBase(t)

	var maxConcurrent int32
	var current int32
	var mu sync.Mutex
	var seenKeys []string

	ht := &HttpTransport{
		BatchSize: 2,
		Workers:   2,
		Fetch: func(ctx context.Context, batch []subscription.Entry) ([]responsecache.Result, error) {
			n := atomic.AddInt32(&current, 1)
			defer atomic.AddInt32(&current, -1)
			for {
				m := atomic.LoadInt32(&maxConcurrent)
				if n <= m || atomic.CompareAndSwapInt32(&maxConcurrent, m, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)

			mu.Lock()
			for _, e := range batch {
				seenKeys = append(seenKeys, e.Key)
			}
			mu.Unlock()

			results := make([]responsecache.Result, len(batch))
			for i, e := range batch {
				results[i] = responsecache.Result{
					Params:     e.Params,
					Value:      map[string]any{"key": e.Key},
					StatusCode: 200,
					MaxAge:     time.Minute,
				}
			}
			return results, nil
		},
	}
	if err := ht.Initialize(base.Deps); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	ctx := context.Background()
	for _, k := range []string{"a", "b", "c", "d", "e"} {
		_ = ht.Deps.Subscriptions.Add(ctx, k, map[string]any{"base": k}, time.Hour)
	}

	if err := ht.BackgroundExecute(ctx); err != nil {
		t.Fatalf("backgroundExecute: %v", err)
	}

	if len(seenKeys) != 5 {
		t.Fatalf("expected all 5 subscriptions fetched, got %d", len(seenKeys))
	}
	if atomic.LoadInt32(&maxConcurrent) > 2 {
		t.Fatalf("expected worker pool to cap concurrency at 2, observed %d", maxConcurrent)
	}
}

func TestHttpTransportForegroundMissRegistersSubscription(t *testing.T) {
	base := newTestBase(t)
	ht := &HttpTransport{}
	if err := ht.Initialize(base.Deps); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	ctx := context.Background()
	resp, err := ht.ForegroundExecute(ctx, Request{Params: map[string]any{"base": "BTC"}})
	if err != nil {
		t.Fatalf("foregroundExecute: %v", err)
	}
	if resp != nil {
		t.Fatalf("expected a miss (nil response) on first request, got %+v", resp)
	}

	all, err := ht.Deps.Subscriptions.GetAll(ctx)
	if err != nil {
		t.Fatalf("getAll: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected the miss to register one subscription, got %d", len(all))
	}
}
