package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrMaxRetriesExceeded is returned once every attempt has failed with a retryable error.
var ErrMaxRetriesExceeded = errors.New("max retries exceeded")

// RetryConfig describes an exponential backoff schedule.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
}

// DefaultRetryConfig is three attempts starting at 500ms.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    5 * time.Second,
		Multiplier:  2.0,
	}
}

func (c RetryConfig) normalized() RetryConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 1
	}
	if c.Multiplier < 1 {
		c.Multiplier = 2.0
	}
	if c.BaseDelay < 0 {
		c.BaseDelay = 0
	}
	return c
}

// Delay returns the wait before the given retry (1-based).
func (c RetryConfig) Delay(retry int) time.Duration {
	c = c.normalized()
	if retry <= 0 {
		return 0
	}
	d := float64(c.BaseDelay) * math.Pow(c.Multiplier, float64(retry-1))
	if c.MaxDelay > 0 && d > float64(c.MaxDelay) {
		return c.MaxDelay
	}
	return time.Duration(d)
}

// WithExponentialBackoff runs fn until it succeeds, returns a non-retryable error,
// the attempts run out, or ctx is done.
func WithExponentialBackoff(ctx context.Context, cfg RetryConfig, fn func() error, isRetryable func(error) bool) error {
	cfg = cfg.normalized()

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if isRetryable != nil && !isRetryable(lastErr) {
			return lastErr
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(cfg.Delay(attempt)):
		}
	}

	return fmt.Errorf("%w: %w", ErrMaxRetriesExceeded, lastErr)
}
