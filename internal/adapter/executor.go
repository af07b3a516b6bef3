package adapter

import (
	"context"
	"sync"
	"time"

	"github.com/eaframework/ea-core/internal/metrics"
	"github.com/eaframework/ea-core/internal/transport"
	"github.com/rs/zerolog"
)

// namedTransport pairs a transport with the endpoint it belongs to, for
// logging and metrics labels.
type namedTransport struct {
	endpoint  string
	transport string
	t         transport.Transport
}

// Executor is the background scheduler: a long-lived task that runs each
// transport's backgroundExecute loop independently, so one slow
// transport's tick cadence never blocks another's.
type Executor struct {
	transports []namedTransport
	logger     zerolog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewExecutor builds an Executor over the given transports. Start must be
// called to begin ticking.
func NewExecutor(transports []namedTransport, logger zerolog.Logger) *Executor {
	return &Executor{
		transports: transports,
		logger:     logger.With().Str("component", "executor").Logger(),
	}
}

// Start launches one goroutine per transport, each looping
// backgroundExecute until ctx is canceled. Every transport owns its own
// tick cadence (via its TickInterval field and internal sleep), so the
// executor's only job is fan-out and fair, independent scheduling.
func (e *Executor) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	done := make(chan struct{})
	e.done = done

	var wg sync.WaitGroup
	for _, nt := range e.transports {
		wg.Add(1)
		go func(nt namedTransport) {
			defer wg.Done()
			e.run(runCtx, nt)
		}(nt)
	}

	go func() {
		wg.Wait()
		close(done)
	}()
}

// run drives one transport's backgroundExecute in a tight loop, stopping
// when runCtx is canceled. A tick error is logged and counted but does not
// stop the loop — the next tick retries.
func (e *Executor) run(ctx context.Context, nt namedTransport) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		start := time.Now()
		err := nt.t.BackgroundExecute(ctx)
		metrics.BgExecuteTotal.WithLabelValues(nt.endpoint, nt.transport).Inc()
		metrics.BgExecuteDuration.WithLabelValues(nt.endpoint, nt.transport).Observe(time.Since(start).Seconds())

		if err != nil {
			if ctx.Err() != nil {
				return
			}
			metrics.BgExecuteErrors.WithLabelValues(nt.endpoint, nt.transport).Inc()
			e.logger.Warn().Err(err).Str("endpoint", nt.endpoint).Str("transport", nt.transport).Msg("backgroundExecute tick failed")
		}
	}
}

// Stop cancels every transport's tick loop and waits up to grace for them
// to finish their in-flight tick.
func (e *Executor) Stop(grace time.Duration) error {
	if e.cancel == nil {
		return nil
	}
	e.cancel()

	select {
	case <-e.done:
		return nil
	case <-time.After(grace):
		return context.DeadlineExceeded
	}
}
