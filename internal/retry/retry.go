// Package retry provides a single configurable retry policy applied at the
// page and batch level, replacing per-call-site retry loops.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"
)

// ErrPermanent wraps errors that must not be retried. Use Permanent() to
// mark an error as non-retryable from inside an operation.
var ErrPermanent = errors.New("permanent failure")

// Permanent marks err as non-retryable.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

// Policy controls retry behavior.
type Policy struct {
	// MaxAttempts is the total number of tries, including the first.
	MaxAttempts int

	// BaseDelay is the delay before the first retry.
	// Doubles on each retry (exponential backoff).
	BaseDelay time.Duration

	// Multiplier scales the delay between attempts. Default: 2.
	Multiplier float64

	// MaxDelay caps the backoff delay. Zero means no cap.
	MaxDelay time.Duration

	// Jitter adds up to ±Jitter fraction of randomness to each delay.
	// Range [0,1). Zero disables jitter.
	Jitter float64

	// Classify reports whether an error should be retried. Nil retries
	// everything except errors marked Permanent.
	Classify func(error) bool

	// OnRetry is called before each sleep with the attempt number (1-based)
	// and the error that triggered the retry. May be nil.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultPolicy mirrors the defaults used across the engine: 3 retries,
// one second base delay, doubling, capped at 30 seconds.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 4,
		BaseDelay:   time.Second,
		Multiplier:  2,
		MaxDelay:    30 * time.Second,
	}
}

// Do runs op, retrying transient failures with exponential backoff until it
// succeeds, the attempts are exhausted, or ctx is canceled.
func (p Policy) Do(ctx context.Context, name string, op func(ctx context.Context) error) error {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.Multiplier <= 1 {
		p.Multiplier = 2
	}

	delay := p.BaseDelay
	var lastErr error

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}

		if errors.Is(lastErr, ErrPermanent) {
			return fmt.Errorf("%s failed (permanent): %w", name, lastErr)
		}
		if p.Classify != nil && !p.Classify(lastErr) {
			return fmt.Errorf("%s failed (permanent): %w", name, lastErr)
		}

		if attempt == p.MaxAttempts {
			break
		}

		sleep := p.withJitter(delay)
		if p.OnRetry != nil {
			p.OnRetry(attempt, lastErr, sleep)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%s canceled: %w", name, ctx.Err())
		case <-time.After(sleep):
		}

		delay = time.Duration(float64(delay) * p.Multiplier)
		if p.MaxDelay > 0 && delay > p.MaxDelay {
			delay = p.MaxDelay
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", name, p.MaxAttempts, lastErr)
}

// withJitter spreads a delay by ±Jitter fraction.
func (p Policy) withJitter(d time.Duration) time.Duration {
	if p.Jitter <= 0 || d <= 0 {
		return d
	}
	spread := float64(d) * p.Jitter
	offset := (rand.Float64()*2 - 1) * spread
	return time.Duration(float64(d) + offset)
}
