package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetryWithBackoffSucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	err := RetryWithBackoff(context.Background(), RetryConfig{
		MaxAttempts:  4,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
	}, func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestRetryWithBackoffStopsOnNonRetryable(t *testing.T) {
	attempts := 0
	err := RetryWithBackoff(context.Background(), RetryConfig{MaxAttempts: 5}, func(ctx context.Context) error {
		attempts++
		return NewNonRetryableError(errors.New("fatal"))
	})
	if err == nil {
		t.Fatalf("expected error")
	}
	if attempts != 1 {
		t.Fatalf("expected to stop after first non-retryable failure, got %d attempts", attempts)
	}
}

func TestRetryWithBackoffRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := RetryWithBackoff(ctx, RetryConfig{MaxAttempts: 3}, func(ctx context.Context) error {
		return errors.New("should not run")
	})
	if err == nil {
		t.Fatalf("expected context cancellation error")
	}
}

func TestRetryForeverStopsOnNonRetryable(t *testing.T) {
	err := RetryForever(context.Background(), RetryConfig{InitialDelay: time.Millisecond}, func(ctx context.Context) error {
		return NewNonRetryableError(errors.New("fatal"))
	})
	if err == nil {
		t.Fatalf("expected error")
	}
}
