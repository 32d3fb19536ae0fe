package resilience

import (
	"errors"
	"testing"
	"time"
)

func TestNewDLQEntry(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	e := NewDLQEntry(17, "run-1", "predict", &DataSourceTimeoutError{Source: "sales", Timeout: time.Second}, now)
	if e.ID == "" || e.LotID != 17 || e.RunID != "run-1" || e.Stage != "predict" {
		t.Fatalf("unexpected entry: %+v", e)
	}
	if e.ErrorType != ErrorTransient || !e.CanRetry() {
		t.Errorf("timeout should be a retryable transient failure: %+v", e)
	}
	if !e.NextRetryAt.After(now) {
		t.Error("next retry must be in the future")
	}

	p := NewDLQEntry(18, "run-1", "persist", errors.New("constraint violation"), now)
	if p.ErrorType != ErrorPermanent || p.CanRetry() {
		t.Errorf("permanent failure must not be retryable: %+v", p)
	}
}
