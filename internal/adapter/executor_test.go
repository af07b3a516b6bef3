package adapter

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/eaframework/ea-core/internal/transport"
	"github.com/rs/zerolog"
)

type countingTransport struct {
	calls int64
}

func (c *countingTransport) Name() string                       { return "counting" }
func (c *countingTransport) Initialize(transport.Deps) error    { return nil }
func (c *countingTransport) ForegroundExecute(context.Context, transport.Request) (*transport.Response, error) {
	return nil, nil
}
func (c *countingTransport) BackgroundExecute(ctx context.Context) error {
	atomic.AddInt64(&c.calls, 1)
	select {
	case <-ctx.Done():
	case <-time.After(time.Millisecond):
	}
	return nil
}

func TestExecutorTicksEachTransportIndependently(t *testing.T) {
	a := &countingTransport{}
	b := &countingTransport{}

	exec := NewExecutor([]namedTransport{
		{endpoint: "crypto", transport: "a", t: a},
		{endpoint: "crypto", transport: "b", t: b},
	}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	exec.Start(ctx)

	time.Sleep(20 * time.Millisecond)
	cancel()
	if err := exec.Stop(time.Second); err != nil {
		t.Fatalf("stop: %v", err)
	}

	if atomic.LoadInt64(&a.calls) == 0 || atomic.LoadInt64(&b.calls) == 0 {
		t.Fatalf("expected both transports to have ticked at least once, got a=%d b=%d", a.calls, b.calls)
	}
}

func TestExecutorStopReturnsPromptlyAfterCancel(t *testing.T) {
	a := &countingTransport{}
	exec := NewExecutor([]namedTransport{{endpoint: "crypto", transport: "a", t: a}}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	exec.Start(ctx)
	cancel()

	if err := exec.Stop(time.Second); err != nil {
		t.Fatalf("expected Stop to observe the drained executor, got %v", err)
	}
}
