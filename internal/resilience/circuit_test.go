package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func timeoutErr() error {
	return &DataSourceTimeoutError{Source: "metals", Timeout: time.Second}
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker("metals", CircuitBreakerConfig{FailureThreshold: 2, ResetTimeout: time.Minute})
	for i := 0; i < 2; i++ {
		_ = cb.Execute(context.Background(), func(_ context.Context) error { return timeoutErr() })
	}
	if cb.State() != CircuitOpen {
		t.Fatalf("expected open, got %s", cb.State())
	}
	err := cb.Execute(context.Background(), func(_ context.Context) error {
		t.Error("must not be called while open")
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestCircuitBreaker_PermanentErrorsDoNotTrip(t *testing.T) {
	cb := NewCircuitBreaker("sales", CircuitBreakerConfig{FailureThreshold: 1})
	_ = cb.Execute(context.Background(), func(_ context.Context) error { return errors.New("bad query") })
	if cb.State() != CircuitClosed {
		t.Errorf("expected closed, got %s", cb.State())
	}
}

func TestCircuitBreaker_HalfOpenTrial(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker("metals", CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: time.Minute})
	cb.now = func() time.Time { return now }

	_ = cb.Execute(context.Background(), func(_ context.Context) error { return timeoutErr() })
	if cb.State() != CircuitOpen {
		t.Fatalf("expected open, got %s", cb.State())
	}

	now = now.Add(2 * time.Minute)
	if cb.State() != CircuitHalfOpen {
		t.Fatalf("expected half-open, got %s", cb.State())
	}

	// A failed trial call reopens.
	_ = cb.Execute(context.Background(), func(_ context.Context) error { return timeoutErr() })
	if cb.State() != CircuitOpen {
		t.Fatalf("expected reopened, got %s", cb.State())
	}

	now = now.Add(2 * time.Minute)
	v, err := ExecuteVal(context.Background(), cb, func(_ context.Context) (int, error) { return 7, nil })
	if err != nil || v != 7 {
		t.Fatalf("trial call failed: %d, %v", v, err)
	}
	if cb.State() != CircuitClosed {
		t.Errorf("expected closed after trial call, got %s", cb.State())
	}
}

func TestBreakers_PerSource(t *testing.T) {
	b := NewBreakers(CircuitBreakerConfig{FailureThreshold: 1})
	if b.Get("metals") != b.Get("metals") {
		t.Error("expected the same breaker for the same source")
	}
	_ = b.Get("metals").Execute(context.Background(), func(_ context.Context) error { return timeoutErr() })
	states := b.States()
	if states["metals"] != CircuitOpen {
		t.Errorf("metals: expected open, got %s", states["metals"])
	}
	if b.Get("sales").State() != CircuitClosed {
		t.Error("sales breaker must be independent")
	}
	b.Get("metals").Reset()
	if b.Get("metals").State() != CircuitClosed {
		t.Error("expected closed after reset")
	}
}
