package utils

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetry(t *testing.T) {
	originalSleep := sleep
	sleep = func(time.Duration) {}
	defer func() { sleep = originalSleep }()

	errTemporary := errors.New("temporary")
	errFatal := errors.New("fatal")
	retryable := func(err error) bool { return errors.Is(err, errTemporary) }

	tests := []struct {
		name      string
		results   []error
		expectErr error
		calls     int
	}{
		{name: "succeeds first time", results: []error{nil}, calls: 1},
		{name: "retries temporary errors", results: []error{errTemporary, errTemporary, nil}, calls: 3},
		{name: "stops on fatal error", results: []error{errFatal, nil}, expectErr: errFatal, calls: 1},
		{name: "gives up after max retries", results: []error{errTemporary, errTemporary, errTemporary, nil}, expectErr: errTemporary, calls: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			b := Backoff{MaxRetries: 2, InitialWait: time.Millisecond, Multiplier: 2}
			got, err := Retry(context.Background(), b, retryable, func(context.Context) (int, error) {
				err := tt.results[calls]
				calls++
				return calls, err
			})

			if !errors.Is(err, tt.expectErr) {
				t.Fatalf("expected error %v, got %v", tt.expectErr, err)
			}
			if calls != tt.calls {
				t.Fatalf("expected %d calls, got %d", tt.calls, calls)
			}
			if err == nil && got != tt.calls {
				t.Fatalf("expected result %d, got %d", tt.calls, got)
			}
		})
	}
}

func TestRetryHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Retry(ctx, DefaultBackoff, nil, func(context.Context) (int, error) {
		t.Fatalf("fn must not run after cancellation")
		return 0, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestBackoffWaitIsCapped(t *testing.T) {
	t.Parallel()

	b := Backoff{InitialWait: time.Second, MaxWait: 3 * time.Second, Multiplier: 2}
	if got := b.wait(0); got != time.Second {
		t.Fatalf("expected 1s, got %s", got)
	}
	if got := b.wait(5); got != 3*time.Second {
		t.Fatalf("expected cap of 3s, got %s", got)
	}
}
