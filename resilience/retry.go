package resilience

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/utlibraries/mediacat/core"
)

// RetryConfig configures retry behavior
type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	JitterEnabled bool
}

// DefaultRetryConfig provides the pipeline defaults: three attempts
// with a 30 second base delay, doubling each attempt.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  30 * time.Second,
		MaxDelay:      8 * time.Minute,
		BackoffFactor: 2.0,
		JitterEnabled: true,
	}
}

// RetryAfterHint is implemented by errors that carry a provider-supplied
// wait, e.g. the Retry-After header on a 429 response.
type RetryAfterHint interface {
	RetryAfter() time.Duration
}

// Retry executes a function with retry logic. Only transient errors
// (network faults, timeouts, 5xx, 429) are retried; anything else
// returns immediately. When a 429 carries a provider hint, the hint
// is honored and doubled with each attempt.
func Retry(ctx context.Context, config *RetryConfig, fn func() error) error {
	if config == nil {
		config = DefaultRetryConfig()
	}

	var lastErr error
	delay := config.InitialDelay

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		// Check context
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		// Non-transient failures are definitive
		if !core.IsTransient(err) {
			return err
		}

		// Don't sleep after the last attempt
		if attempt == config.MaxAttempts {
			break
		}

		if attempt > 1 {
			delay = time.Duration(float64(delay) * config.BackoffFactor)
			if delay > config.MaxDelay {
				delay = config.MaxDelay
			}
		}

		wait := delay

		// A provider hint overrides the computed backoff; the wait
		// doubles with the attempt index so repeated 429s back off harder.
		var hint RetryAfterHint
		if errors.As(err, &hint) && hint.RetryAfter() > 0 {
			wait = hint.RetryAfter() << (attempt - 1)
		}

		// Add jitter to prevent synchronized retries across workers
		if config.JitterEnabled {
			jitter := time.Duration(float64(wait) * 0.1 * math.Sin(float64(attempt)))
			wait += jitter
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return fmt.Errorf("max retry attempts (%d) exceeded for %v: %w",
		config.MaxAttempts, lastErr, core.ErrMaxRetriesExceeded)
}

// RetryWithCircuitBreaker combines retry logic with a circuit breaker
func RetryWithCircuitBreaker(ctx context.Context, config *RetryConfig, cb *CircuitBreaker, fn func() error) error {
	return Retry(ctx, config, func() error {
		if !cb.CanExecute() {
			return core.ErrCircuitBreakerOpen
		}

		err := fn()
		if err != nil {
			cb.RecordFailure()
			return err
		}

		cb.RecordSuccess()
		return nil
	})
}
