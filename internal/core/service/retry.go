package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/rl1809/inventory-ledger/internal/core/domain"
)

type RetryConfig struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// AttemptTimeout bounds one unit of work; zero disables it.
	AttemptTimeout time.Duration
}

func (c RetryConfig) normalized() RetryConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.InitialInterval <= 0 {
		c.InitialInterval = 10 * time.Millisecond
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = 500 * time.Millisecond
	}
	return c
}

// retry re-runs op while it fails with a conflict or transient storage error.
// Business rejections stop immediately. Exhausted retries surface as
// ErrTransientStorage.
func retry[T any](ctx context.Context, cfg RetryConfig, op func(ctx context.Context) (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.InitialInterval
	b.MaxInterval = cfg.MaxInterval

	result, err := backoff.Retry(ctx, func() (T, error) {
		attemptCtx := ctx
		if cfg.AttemptTimeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, cfg.AttemptTimeout)
			defer cancel()
		}

		res, err := op(attemptCtx)
		if err == nil {
			return res, nil
		}
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return res, fmt.Errorf("%w: %w", domain.ErrTransientStorage, err)
		}
		if !domain.Retryable(err) {
			return res, backoff.Permanent(err)
		}
		return res, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(uint(cfg.MaxAttempts)))

	if err != nil && domain.Retryable(err) && !errors.Is(err, domain.ErrTransientStorage) {
		err = fmt.Errorf("%w: %w", domain.ErrTransientStorage, err)
	}
	return result, err
}
