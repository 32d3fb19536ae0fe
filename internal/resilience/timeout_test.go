package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestWithTimeout_ConvertsDeadline(t *testing.T) {
	_, err := WithTimeout(context.Background(), "metals", 5*time.Millisecond, func(ctx context.Context) (int, error) {
		<-ctx.Done()
		return 0, ctx.Err()
	})
	var te *DataSourceTimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("expected DataSourceTimeoutError, got %v", err)
	}
	if te.Source != "metals" || te.Timeout != 5*time.Millisecond {
		t.Errorf("unexpected error fields: %+v", te)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Error("expected wrapped deadline error")
	}
}

func TestWithTimeout_ParentCancelIsNotTimeout(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := WithTimeout(ctx, "sales", time.Second, func(ctx context.Context) (int, error) {
		return 0, ctx.Err()
	})
	if IsTimeout(err) {
		t.Fatal("parent cancellation must not be reported as a timeout")
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestWithTimeout_PassesThrough(t *testing.T) {
	v, err := WithTimeout(context.Background(), "sales", time.Second, func(_ context.Context) (string, error) {
		return "ok", nil
	})
	if err != nil || v != "ok" {
		t.Fatalf("got %q, %v", v, err)
	}

	sentinel := errors.New("boom")
	_, err = WithTimeout(context.Background(), "sales", 0, func(_ context.Context) (string, error) {
		return "", sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Errorf("expected sentinel, got %v", err)
	}
}

func TestIsTransient(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{context.Canceled, false},
		{context.DeadlineExceeded, true},
		{&DataSourceTimeoutError{Source: "x"}, true},
		{NewTransientError(errors.New("503"), 503), true},
		{errors.New("read tcp: connection reset by peer"), true},
		{errors.New("no rows"), false},
	}
	for _, c := range cases {
		if got := IsTransient(c.err); got != c.want {
			t.Errorf("IsTransient(%v) = %v, want %v", c.err, got, c.want)
		}
	}
	if !IsTransientHTTPStatus(429) || IsTransientHTTPStatus(404) {
		t.Error("unexpected HTTP status classification")
	}
}
