package responsecache

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/eaframework/ea-core/internal/cache"
	"github.com/rs/zerolog"
)

func TestWriteThenReadRoundTrip(t *testing.T) {
	rc := New(cache.NewLocal(10), nil, zerolog.Nop())
	ctx := context.Background()

	rc.Write(ctx, Result{
		AdapterName:   "testadapter",
		EndpointName:  "crypto",
		TransportName: "rest",
		Params:        map[string]any{"base": "ETH", "quote": "USD"},
		Value:         map[string]any{"result": 1234.5},
		StatusCode:    200,
		MaxAge:        time.Minute,
	})

	fp := Fingerprint("testadapter", "crypto", "rest", map[string]any{"base": "ETH", "quote": "USD"}, nil)
	entry, ok := rc.Read(ctx, "crypto", fp)
	if !ok {
		t.Fatalf("expected cache hit immediately after write")
	}
	if entry.StatusCode != 200 {
		t.Fatalf("expected status 200, got %d", entry.StatusCode)
	}

	var decoded map[string]any
	if err := json.Unmarshal(entry.Value, &decoded); err != nil {
		t.Fatalf("unmarshal value: %v", err)
	}
	if decoded["result"] != 1234.5 {
		t.Fatalf("expected result 1234.5, got %v", decoded["result"])
	}
}

func TestReadMissOnExpiry(t *testing.T) {
	rc := New(cache.NewLocal(10), nil, zerolog.Nop())
	ctx := context.Background()

	rc.Write(ctx, Result{
		AdapterName:  "testadapter",
		EndpointName: "crypto",
		Params:       map[string]any{"base": "ETH"},
		Value:        map[string]any{"result": 1},
		StatusCode:   200,
		MaxAge:       5 * time.Millisecond,
	})

	fp := Fingerprint("testadapter", "crypto", "", map[string]any{"base": "ETH"}, nil)
	time.Sleep(15 * time.Millisecond)
	if _, ok := rc.Read(ctx, "crypto", fp); ok {
		t.Fatalf("expected miss after TTL expiry")
	}
}

func TestWriteLastWriterWins(t *testing.T) {
	rc := New(cache.NewLocal(10), nil, zerolog.Nop())
	ctx := context.Background()
	params := map[string]any{"base": "ETH"}

	rc.Write(ctx, Result{AdapterName: "a", EndpointName: "e", Params: params, Value: 1, StatusCode: 200, MaxAge: time.Minute})
	rc.Write(ctx, Result{AdapterName: "a", EndpointName: "e", Params: params, Value: 2, StatusCode: 200, MaxAge: time.Minute})

	fp := Fingerprint("a", "e", "", params, nil)
	entry, ok := rc.Read(ctx, "e", fp)
	if !ok {
		t.Fatalf("expected hit")
	}
	var v int
	_ = json.Unmarshal(entry.Value, &v)
	if v != 2 {
		t.Fatalf("expected last write (2) to win, got %d", v)
	}
}
