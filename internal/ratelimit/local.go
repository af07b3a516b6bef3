package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Local is an in-process token-bucket limiter, one bucket per key, lazily
// created on first use. Suited to a single-replica adapter; a multi-replica
// deployment should use Remote so all replicas share one counter.
type Local struct {
	mu             sync.Mutex
	buckets        map[string]*rate.Limiter
	requestsPerMin int
	burst          int
	idleTTL        time.Duration
	lastSeen       map[string]time.Time
}

// NewLocal creates a Local limiter allowing requestsPerMin requests/minute
// per key, with a token bucket burst capacity of burst.
func NewLocal(requestsPerMin, burst int) *Local {
	if requestsPerMin <= 0 {
		requestsPerMin = 1000
	}
	if burst <= 0 {
		burst = requestsPerMin
	}
	return &Local{
		buckets:        make(map[string]*rate.Limiter),
		lastSeen:       make(map[string]time.Time),
		requestsPerMin: requestsPerMin,
		burst:          burst,
		idleTTL:        10 * time.Minute,
	}
}

// Allow consumes one token from key's bucket.
func (l *Local) Allow(ctx context.Context, key string) (Decision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.evictIdleLocked()

	b, ok := l.buckets[key]
	if !ok {
		perSecond := rate.Limit(float64(l.requestsPerMin) / 60.0)
		b = rate.NewLimiter(perSecond, l.burst)
		l.buckets[key] = b
	}
	l.lastSeen[key] = time.Now()

	allowed := b.Allow()
	tokens := int(b.Tokens())
	if tokens < 0 {
		tokens = 0
	}

	return Decision{
		Allowed:   allowed,
		Limit:     l.requestsPerMin,
		Remaining: tokens,
		ResetAt:   time.Now().Add(time.Minute),
	}, nil
}

// evictIdleLocked drops buckets untouched for longer than idleTTL so a
// long-running adapter does not accumulate one bucket per client forever.
// Must be called with l.mu held.
func (l *Local) evictIdleLocked() {
	cutoff := time.Now().Add(-l.idleTTL)
	for key, seen := range l.lastSeen {
		if seen.Before(cutoff) {
			delete(l.buckets, key)
			delete(l.lastSeen, key)
		}
	}
}

// Close is a no-op; Local owns no external resources.
func (l *Local) Close() error { return nil }
