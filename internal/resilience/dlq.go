package resilience

import (
	"time"

	"github.com/google/uuid"
)

// Error classes stored on DLQ entries.
const (
	ErrorTransient = "transient"
	ErrorPermanent = "permanent"
)

// DLQEntry records a lot whose prediction failed with an unexpected error,
// so a later run can retry it.
type DLQEntry struct {
	ID           string    `json:"id"`
	LotID        int64     `json:"lot_id"`
	RunID        string    `json:"run_id,omitempty"`
	Stage        string    `json:"stage,omitempty"`
	Error        string    `json:"error"`
	ErrorType    string    `json:"error_type"`
	RetryCount   int       `json:"retry_count"`
	MaxRetries   int       `json:"max_retries"`
	NextRetryAt  time.Time `json:"next_retry_at"`
	CreatedAt    time.Time `json:"created_at"`
	LastFailedAt time.Time `json:"last_failed_at"`
}

// DLQFilter narrows a DLQ listing.
type DLQFilter struct {
	ErrorType string `json:"error_type,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

// DefaultMaxRetries bounds how often a DLQ entry is retried.
const DefaultMaxRetries = 3

// NewDLQEntry builds an entry for a failed lot. Transient failures become
// retryable after a minute; permanent ones are kept for inspection only.
func NewDLQEntry(lotID int64, runID, stage string, err error, now time.Time) DLQEntry {
	e := DLQEntry{
		ID:           uuid.NewString(),
		LotID:        lotID,
		RunID:        runID,
		Stage:        stage,
		Error:        err.Error(),
		ErrorType:    ClassifyError(err),
		MaxRetries:   DefaultMaxRetries,
		NextRetryAt:  now.Add(time.Minute),
		CreatedAt:    now,
		LastFailedAt: now,
	}
	if e.ErrorType == ErrorPermanent {
		e.MaxRetries = 0
	}
	return e
}

// CanRetry reports whether the entry has retries left.
func (e *DLQEntry) CanRetry() bool {
	return e.RetryCount < e.MaxRetries
}

// ClassifyError returns ErrorTransient or ErrorPermanent.
func ClassifyError(err error) string {
	if IsTransient(err) {
		return ErrorTransient
	}
	return ErrorPermanent
}
