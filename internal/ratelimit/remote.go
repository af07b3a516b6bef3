package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Remote is a Redis-backed sliding-window limiter shared across every
// adapter replica, the same sorted-set-per-window algorithm the upstream
// HTTP API layer used for its own rate limiting: sweep entries older than
// the window, count what's left, admit if under the limit, record the new
// entry with a score of its own timestamp.
type Remote struct {
	client         *redis.Client
	adapterName    string
	requestsPerMin int
	window         time.Duration
	logger         zerolog.Logger
}

// NewRemote creates a Remote limiter allowing requestsPerMin requests per
// 60-second sliding window, namespaced under adapterName so multiple
// adapters can share one Redis instance without colliding.
func NewRemote(client *redis.Client, adapterName string, requestsPerMin int, logger zerolog.Logger) *Remote {
	if requestsPerMin <= 0 {
		requestsPerMin = 1000
	}
	return &Remote{
		client:         client,
		adapterName:    adapterName,
		requestsPerMin: requestsPerMin,
		window:         time.Minute,
		logger:         logger.With().Str("component", "ratelimit.remote").Logger(),
	}
}

func (r *Remote) key(clientKey string) string {
	return fmt.Sprintf("ea:%s:ratelimit:%s", r.adapterName, clientKey)
}

// Allow implements Limiter. Any Redis error fails open (Allowed: true) so a
// degraded rate-limit store never blocks adapter traffic.
func (r *Remote) Allow(ctx context.Context, clientKey string) (Decision, error) {
	now := time.Now()
	windowStart := now.Add(-r.window)
	resetAt := now.Add(r.window)
	key := r.key(clientKey)

	pipe := r.client.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", fmt.Sprintf("%d", windowStart.UnixNano()))
	countCmd := pipe.ZCard(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		r.logger.Warn().Err(err).Str("key", clientKey).Msg("rate limit check failed, failing open")
		return Decision{Allowed: true, Limit: r.requestsPerMin, Remaining: r.requestsPerMin, ResetAt: resetAt}, nil
	}

	count := int(countCmd.Val())
	if count >= r.requestsPerMin {
		return Decision{Allowed: false, Limit: r.requestsPerMin, Remaining: 0, ResetAt: resetAt}, nil
	}

	addPipe := r.client.Pipeline()
	addPipe.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixNano()), Member: uuid.New().String()})
	addPipe.Expire(ctx, key, r.window+10*time.Second)
	if _, err := addPipe.Exec(ctx); err != nil {
		r.logger.Warn().Err(err).Str("key", clientKey).Msg("rate limit record failed, failing open")
		return Decision{Allowed: true, Limit: r.requestsPerMin, Remaining: r.requestsPerMin, ResetAt: resetAt}, nil
	}

	remaining := r.requestsPerMin - count - 1
	if remaining < 0 {
		remaining = 0
	}
	return Decision{Allowed: true, Limit: r.requestsPerMin, Remaining: remaining, ResetAt: resetAt}, nil
}

// Close releases nothing; the Redis client is owned by the caller.
func (r *Remote) Close() error { return nil }
