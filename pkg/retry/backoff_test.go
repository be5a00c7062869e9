package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var errFlaky = errors.New("flaky")

func fastConfig(attempts int) RetryConfig {
	return RetryConfig{MaxAttempts: attempts, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}
}

func TestRetryConfig_Delay(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 5, BaseDelay: 100 * time.Millisecond, MaxDelay: 300 * time.Millisecond, Multiplier: 2}

	assert.Equal(t, time.Duration(0), cfg.Delay(0))
	assert.Equal(t, 100*time.Millisecond, cfg.Delay(1))
	assert.Equal(t, 200*time.Millisecond, cfg.Delay(2))
	assert.Equal(t, 300*time.Millisecond, cfg.Delay(3), "capped at MaxDelay")
}

func TestWithExponentialBackoff(t *testing.T) {
	t.Run("succeeds after transient failures", func(t *testing.T) {
		calls := 0
		err := WithExponentialBackoff(context.Background(), fastConfig(3), func() error {
			calls++
			if calls < 3 {
				return errFlaky
			}
			return nil
		}, func(error) bool { return true })

		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("stops on non-retryable error", func(t *testing.T) {
		calls := 0
		permanent := errors.New("permanent")
		err := WithExponentialBackoff(context.Background(), fastConfig(5), func() error {
			calls++
			return permanent
		}, func(err error) bool { return errors.Is(err, errFlaky) })

		assert.ErrorIs(t, err, permanent)
		assert.Equal(t, 1, calls)
	})

	t.Run("wraps last error when attempts run out", func(t *testing.T) {
		calls := 0
		err := WithExponentialBackoff(context.Background(), fastConfig(2), func() error {
			calls++
			return errFlaky
		}, nil)

		assert.ErrorIs(t, err, ErrMaxRetriesExceeded)
		assert.ErrorIs(t, err, errFlaky)
		assert.Equal(t, 2, calls)
	})

	t.Run("honours cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := WithExponentialBackoff(ctx, fastConfig(3), func() error { return nil }, nil)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestRetrier_Do(t *testing.T) {
	var retried []int
	r := NewRetrier("test", fastConfig(3), func(err error) bool { return errors.Is(err, errFlaky) }, zap.NewNop()).
		OnRetry(func(attempt int, err error) { retried = append(retried, attempt) })

	calls := 0
	value, err := DoWithResult(context.Background(), r, func() (int, error) {
		calls++
		if calls == 1 {
			return 0, errFlaky
		}
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42, value)
	assert.Equal(t, []int{1}, retried)
}
