package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
	"time"
)

// DataSourceTimeoutError reports that a lookup against an external data
// source (metals prices, sales history) did not finish in time. Callers
// retry once and then treat the input as unavailable.
type DataSourceTimeoutError struct {
	Source  string
	Timeout time.Duration
	Err     error
}

func (e *DataSourceTimeoutError) Error() string {
	return fmt.Sprintf("%s: lookup timed out after %s", e.Source, e.Timeout)
}

func (e *DataSourceTimeoutError) Unwrap() error {
	return e.Err
}

// IsTimeout reports whether err is, or wraps, a DataSourceTimeoutError.
func IsTimeout(err error) bool {
	var te *DataSourceTimeoutError
	return errors.As(err, &te)
}

// TransientError wraps an error that is safe to retry (429, 5xx, network resets).
type TransientError struct {
	Err        error
	StatusCode int
}

func (e *TransientError) Error() string {
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// NewTransientError wraps an error as transient with an optional HTTP status code.
func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode}
}

var transientPatterns = []string{
	"connection reset by peer",
	"broken pipe",
	"temporary failure in name resolution",
	"tls handshake timeout",
	"i/o timeout",
	"server closed idle connection",
}

// IsTransient reports whether err is worth retrying: lookup timeouts,
// explicit TransientErrors, and network-level failures.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if IsTimeout(err) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var te *TransientError
	if errors.As(err, &te) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// IsTransientHTTPStatus reports whether an HTTP status is safe to retry.
func IsTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case 408, 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}
