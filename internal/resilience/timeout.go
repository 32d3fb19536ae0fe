package resilience

import (
	"context"
	"errors"
	"time"
)

// WithTimeout runs fn under a deadline of d. If the deadline expires (and the
// parent context is still live) the error becomes a DataSourceTimeoutError
// naming source. A non-positive d disables the deadline.
func WithTimeout[T any](ctx context.Context, source string, d time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	if d <= 0 {
		return fn(ctx)
	}
	tctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	val, err := fn(tctx)
	if err == nil {
		return val, nil
	}
	if ctx.Err() == nil && (errors.Is(err, context.DeadlineExceeded) || errors.Is(tctx.Err(), context.DeadlineExceeded)) {
		var zero T
		return zero, &DataSourceTimeoutError{Source: source, Timeout: d, Err: err}
	}
	return val, err
}
