package retry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/fyrsmithlabs/vecshift/internal/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastPolicy(maxAttempts int) retry.Policy {
	return retry.Policy{
		MaxAttempts: maxAttempts,
		BaseDelay:   time.Millisecond,
		Multiplier:  2,
		MaxDelay:    5 * time.Millisecond,
	}
}

func TestPolicy_Do_SucceedsFirstTry(t *testing.T) {
	calls := 0
	err := fastPolicy(3).Do(context.Background(), "op", func(ctx context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestPolicy_Do_RetriesThenSucceeds(t *testing.T) {
	calls := 0
	err := fastPolicy(4).Do(context.Background(), "op", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestPolicy_Do_ExhaustsAttempts(t *testing.T) {
	calls := 0
	err := fastPolicy(3).Do(context.Background(), "op", func(ctx context.Context) error {
		calls++
		return errors.New("always fails")
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Contains(t, err.Error(), "after 3 attempts")
}

func TestPolicy_Do_PermanentErrorStopsImmediately(t *testing.T) {
	calls := 0
	err := fastPolicy(5).Do(context.Background(), "op", func(ctx context.Context) error {
		calls++
		return retry.Permanent(errors.New("bad request"))
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, retry.ErrPermanent)
}

func TestPolicy_Do_ClassifierStopsRetry(t *testing.T) {
	notFound := errors.New("not found")
	p := fastPolicy(5)
	p.Classify = func(err error) bool { return !errors.Is(err, notFound) }

	calls := 0
	err := p.Do(context.Background(), "op", func(ctx context.Context) error {
		calls++
		return notFound
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestPolicy_Do_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	p := retry.Policy{
		MaxAttempts: 10,
		BaseDelay:   time.Hour, // would block forever without cancellation
	}

	done := make(chan error, 1)
	go func() {
		done <- p.Do(ctx, "op", func(ctx context.Context) error {
			return errors.New("transient")
		})
	}()

	cancel()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Do did not return after context cancellation")
	}
}

func TestPolicy_Do_OnRetryCallback(t *testing.T) {
	var attempts []int
	p := fastPolicy(3)
	p.OnRetry = func(attempt int, err error, delay time.Duration) {
		attempts = append(attempts, attempt)
	}

	_ = p.Do(context.Background(), "op", func(ctx context.Context) error {
		return errors.New("transient")
	})

	// Two sleeps for three attempts.
	assert.Equal(t, []int{1, 2}, attempts)
}
