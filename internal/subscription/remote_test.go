package subscription

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func newTestRemote(t *testing.T) (*Remote, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewRemote(client, "testadapter", "crypto", "ws", zerolog.Nop()), mr
}

func TestRemoteAddAndGetAll(t *testing.T) {
	s, _ := newTestRemote(t)
	ctx := context.Background()

	_ = s.Add(ctx, "BTC-USD", map[string]any{"base": "BTC", "quote": "USD"}, time.Hour)
	_ = s.Add(ctx, "ETH-USD", map[string]any{"base": "ETH", "quote": "USD"}, time.Hour)

	all, err := s.GetAll(ctx)
	if err != nil {
		t.Fatalf("getAll: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(all))
	}
}

func TestRemoteExpiredMembersSweptOnGetAll(t *testing.T) {
	s, mr := newTestRemote(t)
	ctx := context.Background()

	_ = s.Add(ctx, "BTC-USD", map[string]any{"base": "BTC"}, 1*time.Second)
	mr.FastForward(2 * time.Second)

	all, err := s.GetAll(ctx)
	if err != nil {
		t.Fatalf("getAll: %v", err)
	}
	if len(all) != 0 {
		t.Fatalf("expected expired member swept, got %d", len(all))
	}
}

func TestRemoteDuplicateKeyRefreshesTTL(t *testing.T) {
	s, _ := newTestRemote(t)
	ctx := context.Background()

	_ = s.Add(ctx, "BTC-USD", map[string]any{"base": "BTC"}, 1*time.Hour)
	_ = s.Add(ctx, "BTC-USD", map[string]any{"base": "BTC", "v": 2}, 2*time.Hour)

	all, err := s.GetAll(ctx)
	if err != nil {
		t.Fatalf("getAll: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected duplicate key to collapse to one member, got %d", len(all))
	}
	if all[0].Params["v"] != float64(2) {
		t.Fatalf("expected refreshed params, got %v", all[0].Params)
	}
}

func TestRemoteRejectsKeyContainingDelimiter(t *testing.T) {
	s, _ := newTestRemote(t)
	err := s.Add(context.Background(), "bad>key", nil, time.Hour)
	if err == nil {
		t.Fatalf("expected error for key containing delimiter")
	}
}

func TestRemoteRoundTripEncoding(t *testing.T) {
	params := map[string]any{"base": "ETH", "quote": "USD", "n": float64(5)}
	member, err := encodeMember("ETH-USD", params)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	key, decoded, err := decodeMember(member)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if key != "ETH-USD" {
		t.Fatalf("expected key ETH-USD, got %q", key)
	}
	if decoded["base"] != "ETH" || decoded["quote"] != "USD" || decoded["n"] != float64(5) {
		t.Fatalf("expected round-tripped params, got %v", decoded)
	}
}
