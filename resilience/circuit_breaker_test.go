package resilience

import (
	"testing"
	"time"
)

func TestCircuitBreakerOpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker("search", 3, time.Minute, nil)

	for i := 0; i < 3; i++ {
		if !cb.CanExecute() {
			t.Fatalf("breaker should be closed before threshold, iteration %d", i)
		}
		cb.RecordFailure()
	}

	if cb.CanExecute() {
		t.Error("breaker should be open after 3 consecutive failures")
	}
	if cb.GetState() != "open" {
		t.Errorf("expected open, got %s", cb.GetState())
	}
}

func TestCircuitBreakerSuccessResetsFailures(t *testing.T) {
	cb := NewCircuitBreaker("search", 3, time.Minute, nil)

	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()
	cb.RecordFailure()

	if !cb.CanExecute() {
		t.Error("interleaved success should reset the failure count")
	}
}

func TestCircuitBreakerHalfOpenProbe(t *testing.T) {
	cb := NewCircuitBreaker("search", 1, 10*time.Millisecond, nil)

	cb.RecordFailure()
	if cb.CanExecute() {
		t.Fatal("breaker should be open")
	}

	time.Sleep(20 * time.Millisecond)

	if !cb.CanExecute() {
		t.Fatal("breaker should allow a probe after the recovery timeout")
	}
	if cb.GetState() != "half-open" {
		t.Errorf("expected half-open, got %s", cb.GetState())
	}

	// A failed probe re-opens immediately
	cb.RecordFailure()
	if cb.CanExecute() {
		t.Error("failed probe should re-open the breaker")
	}

	time.Sleep(20 * time.Millisecond)
	if !cb.CanExecute() {
		t.Fatal("expected another probe window")
	}
	cb.RecordSuccess()
	if cb.GetState() != "closed" {
		t.Errorf("successful probe should close the breaker, got %s", cb.GetState())
	}
}
