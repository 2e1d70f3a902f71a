package utils

import (
	"context"
	"math"
	"time"
)

// Backoff controls Retry.
type Backoff struct {
	MaxRetries  int
	InitialWait time.Duration
	MaxWait     time.Duration
	Multiplier  float64
}

// DefaultBackoff suits a single HTTP call made inside a cycle.
var DefaultBackoff = Backoff{
	MaxRetries:  2,
	InitialWait: 500 * time.Millisecond,
	MaxWait:     5 * time.Second,
	Multiplier:  2,
}

func (b Backoff) wait(attempt int) time.Duration {
	mult := b.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := time.Duration(float64(b.InitialWait) * math.Pow(mult, float64(attempt)))
	if b.MaxWait > 0 && d > b.MaxWait {
		d = b.MaxWait
	}
	return d
}

// Retry calls fn until it succeeds, returns an error retryable rejects, or the
// retries are spent. The last error is returned.
func Retry[T any](ctx context.Context, b Backoff, retryable func(error) bool, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; attempt <= b.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if retryable == nil || !retryable(err) || attempt == b.MaxRetries {
			break
		}

		if err := WaitFor(ctx, b.wait(attempt)); err != nil {
			return zero, err
		}
	}

	return zero, lastErr
}
