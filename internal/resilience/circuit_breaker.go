// Package resilience wraps outbound provider calls with retry/backoff and
// circuit-breaking so a slow or dead upstream degrades the adapter rather
// than taking it down.
package resilience

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// State is the current state of a circuit breaker.
type State int

const (
	// Closed — calls flow through normally.
	Closed State = iota
	// Open — calls are rejected immediately without invoking fn.
	Open
	// HalfOpen — a bounded number of probe calls are allowed through.
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrOpen is returned by Call when the breaker is open.
var ErrOpen = errors.New("resilience: circuit breaker is open")

// breakerMetrics are process-wide, keyed by breaker name — a single set of
// labeled vectors avoids the duplicate-registration panic that a
// per-breaker prometheus.NewGauge would hit once an adapter runs more
// than one transport×endpoint breaker.
var breakerMetrics = struct {
	state      *prometheus.GaugeVec
	failures   *prometheus.CounterVec
	successes  *prometheus.CounterVec
	rejections *prometheus.CounterVec
	once       sync.Once
}{
	state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "circuit_breaker_state",
		Help: "0=closed, 1=open, 2=half-open",
	}, []string{"breaker"}),
	failures: prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "circuit_breaker_failures_total",
		Help: "Failures recorded by the circuit breaker",
	}, []string{"breaker"}),
	successes: prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "circuit_breaker_successes_total",
		Help: "Successes recorded by the circuit breaker",
	}, []string{"breaker"}),
	rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "circuit_breaker_rejections_total",
		Help: "Calls rejected while the breaker was open",
	}, []string{"breaker"}),
}

// RegisterMetrics registers the shared breaker metric vectors with reg.
// Call once at adapter startup alongside metrics.Register.
func RegisterMetrics(reg *prometheus.Registry) {
	breakerMetrics.once.Do(func() {
		reg.MustRegister(breakerMetrics.state, breakerMetrics.failures, breakerMetrics.successes, breakerMetrics.rejections)
	})
}

// CircuitBreakerConfig holds tunables for one breaker instance.
type CircuitBreakerConfig struct {
	Name             string
	FailureThreshold int           // consecutive failures before opening (default 5)
	ResetTimeout     time.Duration // time in Open before probing (default 30s)
	HalfOpenMaxCalls int           // probe calls allowed in HalfOpen (default 1)
}

func (c *CircuitBreakerConfig) setDefaults() {
	if c.FailureThreshold == 0 {
		c.FailureThreshold = 5
	}
	if c.ResetTimeout == 0 {
		c.ResetTimeout = 30 * time.Second
	}
	if c.HalfOpenMaxCalls == 0 {
		c.HalfOpenMaxCalls = 1
	}
}

// CircuitBreaker short-circuits calls to a destination that has failed
// repeatedly, so an HttpTransport or WebSocketTransport connect attempt
// does not keep hammering a provider that is completely down. It never
// replaces the WS state machine's own retry-next-tick behavior — it only
// stops outbound attempts from a transport that calls out more eagerly
// than one attempt per tick (e.g. HttpTransport's per-batch requests).
type CircuitBreaker struct {
	mu               sync.Mutex
	name             string
	state            State
	failureCount     int
	successCount     int
	failureThreshold int
	resetTimeout     time.Duration
	halfOpenMaxCalls int
	lastFailureTime  time.Time
	logger           zerolog.Logger
	onStateChange    func(name string, from, to State)
}

// NewCircuitBreaker creates a breaker in the Closed state.
func NewCircuitBreaker(cfg CircuitBreakerConfig, logger zerolog.Logger) *CircuitBreaker {
	cfg.setDefaults()
	return &CircuitBreaker{
		name:             cfg.Name,
		state:            Closed,
		failureThreshold: cfg.FailureThreshold,
		resetTimeout:     cfg.ResetTimeout,
		halfOpenMaxCalls: cfg.HalfOpenMaxCalls,
		logger:           logger.With().Str("component", "circuit_breaker").Str("breaker", cfg.Name).Logger(),
	}
}

// OnStateChange registers a callback fired (async) on every transition.
func (cb *CircuitBreaker) OnStateChange(fn func(name string, from, to State)) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.onStateChange = fn
}

// Call executes fn if the breaker allows it, else returns ErrOpen.
func (cb *CircuitBreaker) Call(fn func() error) error {
	cb.mu.Lock()

	switch cb.state {
	case Open:
		if time.Since(cb.lastFailureTime) > cb.resetTimeout {
			cb.transitionTo(HalfOpen)
			cb.successCount = 0
		} else {
			cb.mu.Unlock()
			breakerMetrics.rejections.WithLabelValues(cb.name).Inc()
			return ErrOpen
		}
	case HalfOpen:
		if cb.successCount >= cb.halfOpenMaxCalls {
			cb.mu.Unlock()
			breakerMetrics.rejections.WithLabelValues(cb.name).Inc()
			return ErrOpen
		}
	}

	cb.mu.Unlock()

	err := fn()

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil {
		cb.recordFailure()
		return err
	}
	cb.recordSuccess()
	return nil
}

// State returns the current state, applying the automatic Open→HalfOpen
// transition if the reset timeout has elapsed.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == Open && time.Since(cb.lastFailureTime) > cb.resetTimeout {
		cb.transitionTo(HalfOpen)
	}
	return cb.state
}

// Reset forces the breaker back to Closed.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.transitionTo(Closed)
	cb.failureCount = 0
	cb.successCount = 0
}

// ConsecutiveFailures returns the current failure streak.
func (cb *CircuitBreaker) ConsecutiveFailures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failureCount
}

func (cb *CircuitBreaker) recordFailure() {
	cb.failureCount++
	cb.lastFailureTime = time.Now()
	breakerMetrics.failures.WithLabelValues(cb.name).Inc()

	if cb.failureCount >= cb.failureThreshold {
		cb.transitionTo(Open)
	}
}

func (cb *CircuitBreaker) recordSuccess() {
	breakerMetrics.successes.WithLabelValues(cb.name).Inc()

	switch cb.state {
	case HalfOpen:
		cb.successCount++
		if cb.successCount >= cb.halfOpenMaxCalls {
			cb.transitionTo(Closed)
			cb.failureCount = 0
			cb.successCount = 0
		}
	case Closed:
		cb.failureCount = 0
	}
}

func (cb *CircuitBreaker) transitionTo(newState State) {
	if cb.state == newState {
		return
	}
	old := cb.state
	cb.state = newState
	breakerMetrics.state.WithLabelValues(cb.name).Set(float64(newState))

	cb.logger.Info().Str("from", old.String()).Str("to", newState.String()).Msg("circuit breaker state transition")

	if cb.onStateChange != nil {
		go cb.onStateChange(cb.name, old, newState)
	}
}

// Registry is a named collection of breakers, one per transport×endpoint.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
	logger   zerolog.Logger
}

// NewRegistry creates an empty breaker registry.
func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{breakers: make(map[string]*CircuitBreaker), logger: logger}
}

// GetOrCreate returns the named breaker, creating it with cfg on first use.
func (r *Registry) GetOrCreate(cfg CircuitBreakerConfig) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cb, ok := r.breakers[cfg.Name]; ok {
		return cb
	}
	cb := NewCircuitBreaker(cfg, r.logger)
	r.breakers[cfg.Name] = cb
	return cb
}

// Get retrieves a breaker by name.
func (r *Registry) Get(name string) (*CircuitBreaker, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cb, ok := r.breakers[name]
	if !ok {
		return nil, fmt.Errorf("resilience: circuit breaker %q not found", name)
	}
	return cb, nil
}

// Snapshot returns breaker name → state string for all registered breakers.
func (r *Registry) Snapshot() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]string, len(r.breakers))
	for name, cb := range r.breakers {
		out[name] = cb.State().String()
	}
	return out
}
