package resilience

import (
	"context"
	"math/rand/v2"
	"time"
)

// Backoff controls how often a failed page fetch is attempted again before
// the page is given up on.
type Backoff struct {
	// Attempts is the total number of tries. Values below 1 mean 1.
	Attempts int
	// Initial is the delay before the second try; it doubles each time
	// and is capped at Max.
	Initial time.Duration
	Max     time.Duration
	// Jitter spreads each delay by up to ±Jitter of its length.
	Jitter float64
	// Retryable decides which errors are worth another try. Nil uses
	// IsTransient.
	Retryable func(error) bool
	// OnRetry runs before each sleep.
	OnRetry func(attempt int, err error)
}

// delay returns the sleep before try number attempt+1 (attempt >= 1).
func (b Backoff) delay(attempt int) time.Duration {
	d := b.Initial
	for i := 1; i < attempt && (b.Max <= 0 || d < b.Max); i++ {
		d *= 2
	}
	if b.Max > 0 && d > b.Max {
		d = b.Max
	}
	if b.Jitter > 0 {
		d += time.Duration((rand.Float64()*2 - 1) * b.Jitter * float64(d))
	}
	return max(d, 0)
}

// Retry calls fn until it succeeds, returns an error Retryable rejects, the
// attempts run out or ctx ends. It returns the last result.
func Retry[T any](ctx context.Context, b Backoff, fn func(context.Context) (T, error)) (T, error) {
	retryable := b.Retryable
	if retryable == nil {
		retryable = IsTransient
	}
	attempts := max(b.Attempts, 1)

	for attempt := 1; ; attempt++ {
		val, err := fn(ctx)
		if err == nil || attempt >= attempts || ctx.Err() != nil || !retryable(err) {
			return val, err
		}
		if b.OnRetry != nil {
			b.OnRetry(attempt, err)
		}

		timer := time.NewTimer(b.delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return val, err
		case <-timer.C:
		}
	}
}
