package subscription

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Delimiter separates the key from its JSON-encoded value in a sorted-set
// member string. Keys must not contain it.
const Delimiter = '>'

// ErrKeyContainsDelimiter is returned by Add when key contains Delimiter,
// since such a key would corrupt the encoding on read-back. Treated here
// as a validated precondition rather than a silent corruption.
var ErrKeyContainsDelimiter = fmt.Errorf("subscription: key must not contain delimiter %q", string(Delimiter))

// Remote stores subscriptions as a Redis sorted set: member is
// "key>JSON(params)", score is the absolute expiry in epoch milliseconds.
type Remote struct {
	client *redis.Client
	setKey string
	logger zerolog.Logger
}

// NewRemote creates a Redis sorted-set backed Set scoped to one
// (adapter, endpoint, transport) triple.
func NewRemote(client *redis.Client, adapterName, endpointName, transportName string, logger zerolog.Logger) *Remote {
	return &Remote{
		client: client,
		setKey: fmt.Sprintf("ea:%s:subs:%s:%s", adapterName, endpointName, transportName),
		logger: logger.With().Str("component", "subscription.remote").Logger(),
	}
}

func encodeMember(key string, params map[string]any) (string, error) {
	if strings.ContainsRune(key, Delimiter) {
		return "", ErrKeyContainsDelimiter
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("subscription: marshal params: %w", err)
	}
	return key + string(Delimiter) + string(raw), nil
}

func decodeMember(member string) (string, map[string]any, error) {
	idx := strings.IndexRune(member, Delimiter)
	if idx < 0 {
		return "", nil, fmt.Errorf("subscription: malformed member %q", member)
	}
	key := member[:idx]
	var params map[string]any
	if err := json.Unmarshal([]byte(member[idx+1:]), &params); err != nil {
		return "", nil, fmt.Errorf("subscription: unmarshal member %q: %w", member, err)
	}
	return key, params, nil
}

// Add implements Set, refreshing TTL (the ZADD score) on a duplicate key.
// Since the old member for this key may carry a stale params payload, the
// previous member is removed before the new one is added.
func (r *Remote) Add(ctx context.Context, key string, params map[string]any, ttl time.Duration) error {
	member, err := encodeMember(key, params)
	if err != nil {
		return err
	}

	if err := r.removeByKey(ctx, key); err != nil {
		r.logger.Warn().Err(err).Str("key", key).Msg("failed to clear stale member before add")
	}

	score := float64(time.Now().Add(ttl).UnixMilli())
	if err := r.client.ZAdd(ctx, r.setKey, redis.Z{Score: score, Member: member}).Err(); err != nil {
		return fmt.Errorf("subscription: zadd: %w", err)
	}
	return nil
}

// removeByKey scans current members for one matching key and removes it.
// Used only to keep a duplicate Add from leaving two members for one key.
func (r *Remote) removeByKey(ctx context.Context, key string) error {
	members, err := r.client.ZRange(ctx, r.setKey, 0, -1).Result()
	if err != nil {
		return err
	}
	prefix := key + string(Delimiter)
	for _, m := range members {
		if strings.HasPrefix(m, prefix) {
			if err := r.client.ZRem(ctx, r.setKey, m).Err(); err != nil {
				return err
			}
		}
	}
	return nil
}

// Get implements Set.
func (r *Remote) Get(ctx context.Context, key string) (Entry, bool, error) {
	all, err := r.GetAll(ctx)
	if err != nil {
		return Entry{}, false, err
	}
	for _, e := range all {
		if e.Key == key {
			return e, true, nil
		}
	}
	return Entry{}, false, nil
}

// GetAll implements Set: first evicts members with score < now, then
// decodes and returns the remainder. O(N) in live entries.
func (r *Remote) GetAll(ctx context.Context) ([]Entry, error) {
	now := time.Now()
	nowMs := strconv.FormatInt(now.UnixMilli(), 10)

	if err := r.client.ZRemRangeByScore(ctx, r.setKey, "-inf", "("+nowMs).Err(); err != nil {
		return nil, fmt.Errorf("subscription: expire sweep: %w", err)
	}

	results, err := r.client.ZRangeWithScores(ctx, r.setKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("subscription: zrange: %w", err)
	}

	out := make([]Entry, 0, len(results))
	for _, z := range results {
		member, ok := z.Member.(string)
		if !ok {
			continue
		}
		key, params, err := decodeMember(member)
		if err != nil {
			r.logger.Warn().Err(err).Msg("skipping malformed subscription member")
			continue
		}
		out = append(out, Entry{
			Key:       key,
			Params:    params,
			ExpiresAt: time.UnixMilli(int64(z.Score)),
		})
	}
	return out, nil
}

// Close implements Set by closing the underlying Redis client.
func (r *Remote) Close() error {
	return r.client.Close()
}
