// Package transport implements the provider-facing drivers an
// AdapterEndpoint routes requests to: a shared foreground/background
// lifecycle (Transport), specialized into polling (HttpTransport),
// socket-streaming (WebSocketTransport), and server-sent-event streaming
// (SseTransport) variants.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/eaframework/ea-core/internal/fingerprint"
	"github.com/eaframework/ea-core/internal/resilience"
	"github.com/eaframework/ea-core/internal/responsecache"
	"github.com/eaframework/ea-core/internal/subscription"
	"github.com/rs/zerolog"
)

// Request is what an AdapterEndpoint hands to a transport after validation.
type Request struct {
	ID     any
	Data   map[string]any
	Params map[string]any // validated, defaulted input parameters
}

// Response is what foreground execution returns to the client.
type Response struct {
	Result     any
	Data       map[string]any
	StatusCode int
	Cached     bool
	Timestamps responsecache.Timestamps
}

// Deps are the dependencies the caller that builds a transport passes to
// its Initialize.
type Deps struct {
	Cache           *responsecache.ResponseCache
	Subscriptions   subscription.Set
	Logger          zerolog.Logger
	AdapterName     string
	EndpointName    string
	TransportName   string
	CacheKeyGen     fingerprint.Generator
	SubscriptionTTL time.Duration
}

// Transport is the abstract lifecycle every concrete driver implements.
type Transport interface {
	Name() string
	Initialize(deps Deps) error
	ForegroundExecute(ctx context.Context, req Request) (*Response, error)
	BackgroundExecute(ctx context.Context) error
}

// Base wires the dependencies shared by every transport and implements the
// common foreground read/register path: look up the cache, and on miss
// record interest in the subscription set. Concrete transports embed Base
// and implement BackgroundExecute; their ForegroundExecute serves from
// lookup and never performs an inline fetch on miss.
type Base struct {
	Deps Deps

	// Breaker is optional — when set, it short-circuits outbound provider
	// calls (HTTP fetch, WS dial) for a destination that has failed
	// repeatedly, instead of hammering it every tick.
	Breaker *resilience.CircuitBreaker

	initialized bool
}

// Initialize is idempotent; re-calling it with the same deps is a no-op.
func (b *Base) Initialize(deps Deps) error {
	if b.initialized {
		return nil
	}
	if deps.Cache == nil {
		return fmt.Errorf("transport %s/%s: nil response cache", deps.EndpointName, deps.TransportName)
	}
	if deps.Subscriptions == nil {
		return fmt.Errorf("transport %s/%s: nil subscription set", deps.EndpointName, deps.TransportName)
	}
	if deps.SubscriptionTTL <= 0 {
		deps.SubscriptionTTL = 2 * time.Minute
	}
	deps.Logger = deps.Logger.With().
		Str("endpoint", deps.EndpointName).
		Str("transport", deps.TransportName).
		Logger()
	b.Deps = deps
	b.initialized = true
	return nil
}

// Name returns the transport's configured name.
func (b *Base) Name() string { return b.Deps.TransportName }

// callThroughBreaker runs fn directly when no breaker is configured, or
// through it otherwise, so a dead provider trips the breaker open rather
// than being hit again every tick.
func (b *Base) callThroughBreaker(fn func() error) error {
	if b.Breaker == nil {
		return fn()
	}
	return b.Breaker.Call(fn)
}

// fingerprintFor computes the cache fingerprint for a request's params.
func (b *Base) fingerprintFor(params map[string]any) string {
	return responsecache.Fingerprint(b.Deps.AdapterName, b.Deps.EndpointName, b.Deps.TransportName, params, b.Deps.CacheKeyGen)
}

// lookup reads the response cache and, on miss, registers the params in the
// subscription set so the next backgroundExecute tick picks them up. It
// returns (response, true) on a cache hit.
func (b *Base) lookup(ctx context.Context, req Request) (*Response, bool) {
	fp := b.fingerprintFor(req.Params)

	if entry, ok := b.Deps.Cache.Read(ctx, b.Deps.EndpointName, fp); ok {
		var result any
		_ = json.Unmarshal(entry.Value, &result)
		return &Response{
			Result:     result,
			StatusCode: entry.StatusCode,
			Cached:     true,
			Timestamps: entry.Timestamps,
		}, true
	}

	subKey := fingerprint.CanonicalKey(req.Params)
	if err := b.Deps.Subscriptions.Add(ctx, subKey, req.Params, b.Deps.SubscriptionTTL); err != nil {
		b.Deps.Logger.Warn().Err(err).Str("key", subKey).Msg("failed to register subscription interest")
	}

	return nil, false
}
