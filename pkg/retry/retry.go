// Package retry is a small combinator for bounded exponential-backoff retry
// with randomized jitter. It is deliberately ignorant of what it retries: the
// caller supplies a classifier deciding which errors are transient. Validation
// and not-found style errors must never be classified retryable.
package retry

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

// Classifier reports whether an error is worth another attempt.
type Classifier func(error) bool

type Policy struct {
	// MaxAttempts is the total number of tries, including the first one.
	MaxAttempts int
	// BaseDelay is the wait before the second attempt; it doubles per attempt.
	BaseDelay time.Duration
	// MaxDelay caps the doubled delay.
	MaxDelay time.Duration
	// Jitter is the fraction of the delay randomized around it (0..1).
	Jitter float64
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 4,
		BaseDelay:   25 * time.Millisecond,
		MaxDelay:    2 * time.Second,
		Jitter:      0.2,
	}
}

// Do runs fn until it succeeds, returns a non-retryable error, the attempt
// budget runs out, or ctx is done. The last error is wrapped so callers can
// still errors.Is/As against the underlying cause.
func Do(ctx context.Context, p Policy, retryable Classifier, fn func(ctx context.Context) error) error {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}

	var err error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.delay(attempt - 1)):
			}
		}

		err = fn(ctx)
		if err == nil {
			return nil
		}
		if retryable == nil || !retryable(err) {
			return err
		}
	}

	return fmt.Errorf("retry budget exhausted after %d attempts: %w", p.MaxAttempts, err)
}

// delay computes the backoff for the given zero-based retry index:
// base, 2*base, 4*base, ... capped at MaxDelay, then jittered.
func (p Policy) delay(retry int) time.Duration {
	d := p.BaseDelay
	if d <= 0 {
		d = time.Millisecond
	}
	for i := 0; i < retry; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			d = p.MaxDelay
			break
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	if p.Jitter > 0 {
		spread := float64(d) * p.Jitter
		d = time.Duration(float64(d) - spread/2 + rand.Float64()*spread)
	}
	return d
}
