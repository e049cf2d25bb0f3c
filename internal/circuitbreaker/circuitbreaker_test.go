package circuitbreaker

import (
	"testing"
	"time"

	"go.uber.org/zap"
)

func newTestBreaker(maxFailures int, recovery time.Duration) *CircuitBreaker {
	return New(Config{
		Name:            "test",
		MaxFailures:     maxFailures,
		RecoveryTimeout: recovery,
	}, zap.NewNop())
}

func TestBreakerStaysClosedUnderThreshold(t *testing.T) {
	cb := newTestBreaker(3, time.Minute)

	cb.RecordFailure()
	cb.RecordFailure()
	if cb.GetState() != StateClosed {
		t.Errorf("state = %s, want closed", cb.GetState())
	}
	if !cb.Allow() {
		t.Error("closed breaker must allow requests")
	}
}

func TestBreakerOpensAtThreshold(t *testing.T) {
	cb := newTestBreaker(3, time.Minute)

	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}
	if cb.GetState() != StateOpen {
		t.Errorf("state = %s, want open", cb.GetState())
	}
	if cb.Allow() {
		t.Error("open breaker must reject requests")
	}
}

func TestSuccessResetsFailureCount(t *testing.T) {
	cb := newTestBreaker(3, time.Minute)

	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()
	cb.RecordFailure()

	if cb.GetState() != StateClosed {
		t.Error("non-consecutive failures must not open the breaker")
	}
}

func TestBreakerProbeAfterRecoveryTimeout(t *testing.T) {
	cb := newTestBreaker(1, 10*time.Millisecond)

	cb.RecordFailure()
	if cb.Allow() {
		t.Fatal("breaker should be open")
	}

	time.Sleep(20 * time.Millisecond)

	if !cb.Allow() {
		t.Fatal("breaker should allow one probe after the recovery timeout")
	}
	if cb.GetState() != StateHalfOpen {
		t.Errorf("state = %s, want half-open", cb.GetState())
	}
	if cb.Allow() {
		t.Error("only one probe may pass in half-open state")
	}
}

func TestProbeSuccessClosesBreaker(t *testing.T) {
	cb := newTestBreaker(1, 10*time.Millisecond)

	cb.RecordFailure()
	time.Sleep(20 * time.Millisecond)
	if !cb.Allow() {
		t.Fatal("expected probe to be allowed")
	}

	cb.RecordSuccess()
	if cb.GetState() != StateClosed {
		t.Errorf("state = %s, want closed", cb.GetState())
	}
	if !cb.Allow() {
		t.Error("closed breaker must allow requests again")
	}
}

func TestProbeFailureReopensBreaker(t *testing.T) {
	cb := newTestBreaker(1, 10*time.Millisecond)

	cb.RecordFailure()
	time.Sleep(20 * time.Millisecond)
	if !cb.Allow() {
		t.Fatal("expected probe to be allowed")
	}

	cb.RecordFailure()
	if cb.GetState() != StateOpen {
		t.Errorf("state = %s, want open", cb.GetState())
	}
	if cb.Allow() {
		t.Error("reopened breaker must reject requests")
	}
}
