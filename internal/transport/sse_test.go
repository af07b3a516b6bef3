package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/eaframework/ea-core/internal/responsecache"
	"github.com/eaframework/ea-core/internal/subscription"
)

func newSSEServer(t *testing.T, events [][]byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher, _ := w.(http.Flusher)
		for _, e := range events {
			_, _ = w.Write(e)
			if flusher != nil {
				flusher.Flush()
			}
			time.Sleep(5 * time.Millisecond)
		}
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)
	return srv
}

// TestSseTransportOpensStreamAndWritesCache covers the inbound message
// path for a given delta: handling a delta with a new subscription opens
// the stream, the stream's event reaches the Message handler with the
// desired set, and a non-empty result lands in the response cache.
func TestSseTransportOpensStreamAndWritesCache(t *testing.T) {
	srv := newSSEServer(t, [][]byte{[]byte("data: hello\n\n")})

	base := newTestBase(t)
	var gotDesired []subscription.Entry
	st := &SseTransport{
		TickInterval: time.Hour,
		URLFunc: func(desired []subscription.Entry) (string, error) {
			return srv.URL, nil
		},
		Message: func(ctx context.Context, raw []byte, desired []subscription.Entry) ([]responsecache.Result, error) {
			gotDesired = desired
			return []responsecache.Result{{
				Params:     map[string]any{"base": "BTC"},
				Value:      string(raw),
				StatusCode: 200,
				MaxAge:     time.Minute,
			}}, nil
		},
	}
	if err := st.Initialize(base.Deps); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	ctx := context.Background()
	entry := subscription.Entry{Key: "X", Params: map[string]any{"base": "BTC"}}

	if err := st.handleDelta(ctx, Delta{New: []subscription.Entry{entry}, Desired: []subscription.Entry{entry}}); err != nil {
		t.Fatalf("tick1: %v", err)
	}

	waitForCondition(t, func() bool { return st.Connected() })
	waitForCondition(t, func() bool { return len(gotDesired) == 1 })

	fp := responsecache.Fingerprint("testadapter", "crypto", "ws", map[string]any{"base": "BTC"}, nil)
	waitForCondition(t, func() bool {
		_, ok := st.Deps.Cache.Read(ctx, "crypto", fp)
		return ok
	})
}

func TestSseTransportSkipsWorkWhenDisconnectedAndNothingNew(t *testing.T) {
	base := newTestBase(t)
	st := &SseTransport{TickInterval: time.Hour}
	if err := st.Initialize(base.Deps); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if err := st.handleDelta(context.Background(), Delta{}); err != nil {
		t.Fatalf("expected no-op tick to succeed, got %v", err)
	}
	if st.Connected() {
		t.Fatalf("expected transport to remain disconnected")
	}
}
