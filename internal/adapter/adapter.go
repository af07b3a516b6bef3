// Package adapter wires endpoints, the shared cache, the subscription set
// factory, rate limiting, circuit breaking, and metrics into a single
// long-lived process, and owns its startup/shutdown lifecycle.
package adapter

import (
	"context"
	"fmt"
	"time"

	"github.com/eaframework/ea-core/internal/endpoint"
	"github.com/eaframework/ea-core/internal/events"
	"github.com/eaframework/ea-core/internal/ratelimit"
	"github.com/eaframework/ea-core/internal/resilience"
	"github.com/eaframework/ea-core/internal/responsecache"
	"github.com/eaframework/ea-core/internal/subscription"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// Adapter owns every endpoint of one provider integration plus the
// dependencies every transport shares.
type Adapter struct {
	Name      string
	Endpoints map[string]*endpoint.Endpoint

	Cache               *responsecache.ResponseCache
	SubscriptionFactory subscription.Factory
	RateLimiter         ratelimit.Limiter
	Breakers            *resilience.Registry
	Events              *events.Bus
	Logger              zerolog.Logger

	ShutdownGrace time.Duration

	executor *Executor
}

// Start collects every transport of every endpoint and launches the
// BackgroundExecutor as a long-lived task fairly scheduling
// backgroundExecute across them. Start does not call Initialize on the
// transports; each one must already be initialized when Start runs.
func (a *Adapter) Start(ctx context.Context) error {
	if a.ShutdownGrace <= 0 {
		a.ShutdownGrace = 5 * time.Second
	}

	transports := make([]namedTransport, 0)
	for epName, ep := range a.Endpoints {
		for transportName, t := range ep.Transports {
			transports = append(transports, namedTransport{
				endpoint:  epName,
				transport: transportName,
				t:         t,
			})
		}
	}

	a.executor = NewExecutor(transports, a.Logger)
	a.executor.Start(ctx)

	a.Logger.Info().Str("adapter", a.Name).Int("endpoints", len(a.Endpoints)).Msg("adapter started")
	return nil
}

// Shutdown cancels the background executor, waits up to ShutdownGrace for
// in-flight ticks to finish, then closes the cache and rate limiter
// backends.
func (a *Adapter) Shutdown(ctx context.Context) error {
	if a.executor != nil {
		if err := a.executor.Stop(a.ShutdownGrace); err != nil {
			a.Logger.Warn().Err(err).Msg("background executor did not drain within the shutdown grace window")
		}
	}

	var firstErr error
	if a.Cache != nil {
		if err := a.Cache.Close(); err != nil {
			firstErr = fmt.Errorf("closing cache: %w", err)
		}
	}
	if a.RateLimiter != nil {
		if err := a.RateLimiter.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing rate limiter: %w", err)
		}
	}
	if a.Events != nil {
		a.Events.Close()
	}

	a.Logger.Info().Str("adapter", a.Name).Msg("adapter shut down")
	return firstErr
}

// RegisterMetrics registers the circuit-breaker collectors with reg; the
// core series are registered separately by metrics.Register. Safe to call
// once per process.
func RegisterMetrics(reg *prometheus.Registry) {
	resilience.RegisterMetrics(reg)
}
