package resilience

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestCircuitBreakerOpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "t1", FailureThreshold: 3}, zerolog.Nop())
	failing := errors.New("boom")

	for i := 0; i < 3; i++ {
		if err := cb.Call(func() error { return failing }); err == nil {
			t.Fatalf("expected failure to propagate")
		}
	}

	if cb.State() != Open {
		t.Fatalf("expected breaker open after threshold failures, got %s", cb.State())
	}

	if err := cb.Call(func() error { return nil }); !errors.Is(err, ErrOpen) {
		t.Fatalf("expected ErrOpen while breaker is open, got %v", err)
	}
}

func TestCircuitBreakerHalfOpenRecovers(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:             "t2",
		FailureThreshold: 1,
		ResetTimeout:     10 * time.Millisecond,
		HalfOpenMaxCalls: 1,
	}, zerolog.Nop())

	_ = cb.Call(func() error { return errors.New("boom") })
	if cb.State() != Open {
		t.Fatalf("expected open")
	}

	time.Sleep(20 * time.Millisecond)

	if err := cb.Call(func() error { return nil }); err != nil {
		t.Fatalf("expected probe call to succeed, got %v", err)
	}
	if cb.State() != Closed {
		t.Fatalf("expected breaker to close after successful probe, got %s", cb.State())
	}
}

func TestRegistryGetOrCreateIsStable(t *testing.T) {
	r := NewRegistry(zerolog.Nop())
	a := r.GetOrCreate(CircuitBreakerConfig{Name: "ws:crypto"})
	b := r.GetOrCreate(CircuitBreakerConfig{Name: "ws:crypto"})
	if a != b {
		t.Fatalf("expected GetOrCreate to return the same instance for a repeated name")
	}
	if _, err := r.Get("missing"); err == nil {
		t.Fatalf("expected error for unknown breaker")
	}
}
