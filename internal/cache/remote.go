package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// remoteRecord is the JSON envelope stored in Redis so that StatusCode and
// ProviderIndicatedTime survive the round trip alongside the opaque value.
type remoteRecord struct {
	Value                 []byte     `json:"value"`
	StatusCode            int        `json:"status_code"`
	WrittenAt             time.Time  `json:"written_at"`
	ProviderIndicatedTime *time.Time `json:"provider_indicated_time,omitempty"`
}

// Remote forwards cache commands to Redis. Keys are namespaced by adapter
// name so multiple adapters can share one Redis instance without colliding.
type Remote struct {
	client      *redis.Client
	adapterName string
	logger      zerolog.Logger
}

// NewRemote creates a Redis-backed Cache namespaced under adapterName.
func NewRemote(client *redis.Client, adapterName string, logger zerolog.Logger) *Remote {
	return &Remote{
		client:      client,
		adapterName: adapterName,
		logger:      logger.With().Str("component", "cache.remote").Logger(),
	}
}

func (r *Remote) namespaced(key string) string {
	return fmt.Sprintf("ea:%s:cache:%s", r.adapterName, key)
}

// Get implements Cache. Never returns an error on a clean miss; a non-nil
// error means the backend itself is unreachable (ErrUnavailable).
func (r *Remote) Get(ctx context.Context, key string) (Entry, bool, error) {
	raw, err := r.client.Get(ctx, r.namespaced(key)).Bytes()
	if err == redis.Nil {
		return Entry{}, false, nil
	}
	if err != nil {
		r.logger.Warn().Err(err).Str("key", key).Msg("remote cache get failed")
		return Entry{}, false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	var rec remoteRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		r.logger.Warn().Err(err).Str("key", key).Msg("remote cache record corrupted")
		return Entry{}, false, nil
	}

	return Entry{
		Value:                 rec.Value,
		StatusCode:            rec.StatusCode,
		WrittenAt:             rec.WrittenAt,
		ProviderIndicatedTime: rec.ProviderIndicatedTime,
	}, true, nil
}

// Set implements Cache; TTL is honored natively by Redis's own expiry.
func (r *Remote) Set(ctx context.Context, key string, entry Entry, ttl time.Duration) error {
	rec := remoteRecord{
		Value:                 entry.Value,
		StatusCode:            entry.StatusCode,
		WrittenAt:             entry.WrittenAt,
		ProviderIndicatedTime: entry.ProviderIndicatedTime,
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("cache: marshal entry: %w", err)
	}
	if err := r.client.Set(ctx, r.namespaced(key), raw, ttl).Err(); err != nil {
		r.logger.Warn().Err(err).Str("key", key).Msg("remote cache set failed")
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Delete implements Cache.
func (r *Remote) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.namespaced(key)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Close implements Cache by closing the underlying Redis client.
func (r *Remote) Close() error {
	return r.client.Close()
}
