package reliability

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type classifiedError struct {
	retryable bool
}

func (e *classifiedError) Error() string     { return fmt.Sprintf("classified(%v)", e.retryable) }
func (e *classifiedError) IsRetryable() bool { return e.retryable }

func TestExponentialBackoff(t *testing.T) {
	t.Run("ShouldRetry respects max retries", func(t *testing.T) {
		eb := NewExponentialBackoff(100*time.Millisecond, time.Second, 2.0, 3)

		for i := 0; i < 3; i++ {
			retry, delay := eb.ShouldRetry(i, errors.New("test"))
			assert.True(t, retry)
			assert.Greater(t, delay, time.Duration(0))
		}

		retry, delay := eb.ShouldRetry(3, errors.New("test"))
		assert.False(t, retry)
		assert.Zero(t, delay)
	})

	t.Run("NextDelay grows and caps", func(t *testing.T) {
		eb := NewExponentialBackoff(100*time.Millisecond, time.Second, 2.0, 5)
		eb.Jitter = false

		assert.Equal(t, 100*time.Millisecond, eb.NextDelay(0))
		assert.Equal(t, 200*time.Millisecond, eb.NextDelay(1))
		assert.Equal(t, 800*time.Millisecond, eb.NextDelay(3))
		assert.Equal(t, time.Second, eb.NextDelay(10))
	})

	t.Run("jitter stays within fifteen percent", func(t *testing.T) {
		eb := NewExponentialBackoff(time.Second, 10*time.Second, 2.0, 5)

		for i := 0; i < 20; i++ {
			delay := eb.NextDelay(0)
			assert.GreaterOrEqual(t, delay, 850*time.Millisecond)
			assert.LessOrEqual(t, delay, 1150*time.Millisecond)
		}
	})
}

func TestRetry(t *testing.T) {
	ctx := context.Background()

	t.Run("succeeds on first attempt", func(t *testing.T) {
		attempts := 0
		err := Retry(ctx, NewFixedDelay(time.Millisecond, 3), func() error {
			attempts++
			return nil
		})

		assert.NoError(t, err)
		assert.Equal(t, 1, attempts)
	})

	t.Run("retries until success", func(t *testing.T) {
		attempts := 0
		err := Retry(ctx, NewFixedDelay(time.Millisecond, 3), func() error {
			attempts++
			if attempts < 3 {
				return errors.New("temporary")
			}
			return nil
		})

		assert.NoError(t, err)
		assert.Equal(t, 3, attempts)
	})

	t.Run("returns last error unchanged after max retries", func(t *testing.T) {
		persistent := errors.New("persistent")
		attempts := 0
		err := Retry(ctx, NewFixedDelay(time.Millisecond, 2), func() error {
			attempts++
			return persistent
		})

		assert.Same(t, persistent, err)
		assert.Equal(t, 3, attempts)
	})

	t.Run("stops on wrapped non-retryable error", func(t *testing.T) {
		attempts := 0
		err := Retry(ctx, NewFixedDelay(time.Millisecond, 5), func() error {
			attempts++
			return fmt.Errorf("limit check: %w", &classifiedError{retryable: false})
		})

		assert.Error(t, err)
		assert.Equal(t, 1, attempts)
	})

	t.Run("respects context cancellation while waiting", func(t *testing.T) {
		cancelled, cancel := context.WithCancel(ctx)
		attempts := 0

		err := Retry(cancelled, NewFixedDelay(time.Hour, 5), func() error {
			attempts++
			cancel()
			return errors.New("error")
		})

		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, attempts)
	})
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil", nil, false},
		{"plain error", errors.New("boom"), true},
		{"retryable classification", &classifiedError{retryable: true}, true},
		{"wrapped non-retryable classification", fmt.Errorf("ctx: %w", &classifiedError{retryable: false}), false},
		{"RetryableError override", RetryableError{Err: context.Canceled, Retryable: true}, true},
		{"context cancelled", fmt.Errorf("call: %w", context.Canceled), false},
		{"non-retryable sentinel", fmt.Errorf("x: %w", ErrNonRetryable), false},
		{"open circuit", &CircuitBreakerError{State: StateOpen}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsRetryableError(tt.err))
		})
	}
}
