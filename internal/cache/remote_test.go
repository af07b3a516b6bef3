package cache

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
	return NewRemote(client, "testadapter", zerolog.Nop()), mr
}

func TestRemoteReadYourWrites(t *testing.T) {
	c, _ := newTestRemote(t)
	ctx := context.Background()

	entry := Entry{Value: []byte("v"), WrittenAt: time.Now(), StatusCode: 200}
	if err := c.Set(ctx, "fp", entry, 60*time.Second); err != nil {
		t.Fatalf("set: %v", err)
	}

	got, ok, err := c.Get(ctx, "fp")
	if err != nil || !ok {
		t.Fatalf("expected hit, got ok=%v err=%v", ok, err)
	}
	if string(got.Value) != "v" {
		t.Fatalf("expected value v, got %q", got.Value)
	}
}

func TestRemoteTTLExpiry(t *testing.T) {
	c, mr := newTestRemote(t)
	ctx := context.Background()

	if err := c.Set(ctx, "fp", Entry{Value: []byte("v"), WrittenAt: time.Now()}, 1*time.Second); err != nil {
		t.Fatalf("set: %v", err)
	}
	mr.FastForward(2 * time.Second)

	if _, ok, err := c.Get(ctx, "fp"); ok || err != nil {
		t.Fatalf("expected miss after TTL, got ok=%v err=%v", ok, err)
	}
}

func TestRemoteMissNeverErrors(t *testing.T) {
	c, _ := newTestRemote(t)
	_, ok, err := c.Get(context.Background(), "nonexistent")
	if ok || err != nil {
		t.Fatalf("expected clean miss, got ok=%v err=%v", ok, err)
	}
}

func TestRemoteUnavailableSurfacesError(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c := NewRemote(client, "testadapter", zerolog.Nop())
	mr.Close() // backend now unreachable

	_, _, err = c.Get(context.Background(), "fp")
	if err == nil {
		t.Fatalf("expected error when backend unreachable")
	}
}
