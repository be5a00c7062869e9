package retry

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Retrier applies a RetryConfig with a fixed retryable predicate and logs each retry.
type Retrier struct {
	name        string
	config      RetryConfig
	isRetryable func(error) bool
	onRetry     func(attempt int, err error)
	logger      *zap.Logger
}

// NewRetrier creates a named retrier. A nil predicate retries every error.
func NewRetrier(name string, config RetryConfig, isRetryable func(error) bool, logger *zap.Logger) *Retrier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retrier{
		name:        name,
		config:      config.normalized(),
		isRetryable: isRetryable,
		logger:      logger,
	}
}

// OnRetry registers a hook invoked before each backoff sleep.
func (r *Retrier) OnRetry(fn func(attempt int, err error)) *Retrier {
	r.onRetry = fn
	return r
}

// Do executes operation with retry logic.
func (r *Retrier) Do(ctx context.Context, operation func() error) error {
	attempt := 0
	start := time.Now()

	err := WithExponentialBackoff(ctx, r.config, func() error {
		attempt++
		return operation()
	}, func(err error) bool {
		retryable := r.isRetryable == nil || r.isRetryable(err)
		if retryable && attempt < r.config.MaxAttempts {
			r.logger.Debug("Retrying operation",
				zap.String("operation", r.name),
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", r.config.MaxAttempts),
				zap.Duration("backoff", r.config.Delay(attempt)),
				zap.Error(err))
			if r.onRetry != nil {
				r.onRetry(attempt, err)
			}
		}
		return retryable
	})

	if err != nil && attempt >= r.config.MaxAttempts {
		r.logger.Warn("Max retries exceeded",
			zap.String("operation", r.name),
			zap.Int("attempts", attempt),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
	} else if err == nil && attempt > 1 {
		r.logger.Info("Operation succeeded after retries",
			zap.String("operation", r.name),
			zap.Int("attempt", attempt))
	}
	return err
}

// DoWithResult executes an operation that produces a value.
func DoWithResult[T any](ctx context.Context, r *Retrier, operation func() (T, error)) (T, error) {
	var result T
	err := r.Do(ctx, func() error {
		v, err := operation()
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	return result, err
}
