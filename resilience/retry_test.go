package resilience

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/utlibraries/mediacat/core"
)

func fastConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  5 * time.Millisecond,
		MaxDelay:      50 * time.Millisecond,
		BackoffFactor: 2.0,
		JitterEnabled: false,
	}
}

// TestRetryBasicSuccess tests successful execution on first attempt
func TestRetryBasicSuccess(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), fastConfig(), func() error {
		attempts++
		return nil
	})

	if err != nil {
		t.Errorf("Expected success, got error: %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", attempts)
	}
}

// TestRetryEventualSuccess tests success after transient failures
func TestRetryEventualSuccess(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), fastConfig(), func() error {
		attempts++
		if attempts < 3 {
			return fmt.Errorf("http 503: %w", core.ErrTransientRemote)
		}
		return nil
	})

	if err != nil {
		t.Errorf("Expected eventual success, got error: %v", err)
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
}

// TestRetryMaxAttemptsExceeded tests failure after all retries exhausted
func TestRetryMaxAttemptsExceeded(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), fastConfig(), func() error {
		attempts++
		return fmt.Errorf("http 500: %w", core.ErrTransientRemote)
	})

	if !errors.Is(err, core.ErrMaxRetriesExceeded) {
		t.Errorf("Expected ErrMaxRetriesExceeded, got: %v", err)
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
}

// TestRetryHardFailureNotRetried tests that definitive errors return at once
func TestRetryHardFailureNotRetried(t *testing.T) {
	attempts := 0
	hard := errors.New("401 unauthorized")
	err := Retry(context.Background(), fastConfig(), func() error {
		attempts++
		return hard
	})

	if !errors.Is(err, hard) {
		t.Errorf("Expected the hard error back, got: %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt for a hard failure, got %d", attempts)
	}
}

type hintedError struct {
	wait time.Duration
}

func (e *hintedError) Error() string             { return "429 too many requests" }
func (e *hintedError) Unwrap() error             { return core.ErrTransientRemote }
func (e *hintedError) RetryAfter() time.Duration { return e.wait }

// TestRetryHonorsRetryAfterHint tests that provider hints drive the wait
func TestRetryHonorsRetryAfterHint(t *testing.T) {
	attempts := 0
	start := time.Now()
	err := Retry(context.Background(), fastConfig(), func() error {
		attempts++
		if attempts < 2 {
			return &hintedError{wait: 30 * time.Millisecond}
		}
		return nil
	})

	if err != nil {
		t.Fatalf("Expected success, got %v", err)
	}
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Errorf("Expected at least the hinted 30ms wait, elapsed %v", elapsed)
	}
}

// TestRetryHintDoublesPerAttempt tests that a repeated 429 hint doubles
// with the attempt index: 20ms, 40ms, 80ms across three waits
func TestRetryHintDoublesPerAttempt(t *testing.T) {
	config := fastConfig()
	config.MaxAttempts = 4

	start := time.Now()
	err := Retry(context.Background(), config, func() error {
		return &hintedError{wait: 20 * time.Millisecond}
	})

	if !errors.Is(err, core.ErrMaxRetriesExceeded) {
		t.Fatalf("Expected ErrMaxRetriesExceeded, got %v", err)
	}
	if elapsed := time.Since(start); elapsed < 140*time.Millisecond {
		t.Errorf("Expected doubled hint waits totaling >= 140ms, elapsed %v", elapsed)
	}
}

// TestRetryContextCancellation tests context cancellation during backoff
func TestRetryContextCancellation(t *testing.T) {
	config := &RetryConfig{
		MaxAttempts:   5,
		InitialDelay:  50 * time.Millisecond,
		MaxDelay:      100 * time.Millisecond,
		BackoffFactor: 2.0,
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := Retry(ctx, config, func() error {
		return fmt.Errorf("down: %w", core.ErrTransientRemote)
	})

	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got: %v", err)
	}
}

// TestRetryWithCircuitBreaker tests the breaker short-circuits calls
func TestRetryWithCircuitBreaker(t *testing.T) {
	cb := NewCircuitBreaker("test", 2, time.Minute, nil)
	calls := 0

	err := RetryWithCircuitBreaker(context.Background(), fastConfig(), cb, func() error {
		calls++
		return fmt.Errorf("down: %w", core.ErrTransientRemote)
	})

	if err == nil {
		t.Fatal("expected failure")
	}
	// Third retry attempt should have been rejected by the open breaker
	if calls != 2 {
		t.Errorf("expected 2 executed calls before the breaker opened, got %d", calls)
	}
	if cb.GetState() != "open" {
		t.Errorf("expected open breaker, got %s", cb.GetState())
	}
}
