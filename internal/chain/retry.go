package chain

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const defaultRetryDelay = 100 * time.Millisecond

// RetryPolicy bounds the attempts Retry makes.
type RetryPolicy struct {
	// MaxRetries is the number of attempts after the first one.
	MaxRetries int
	// BaseDelay is the wait after the first failure; it doubles after each further one.
	BaseDelay time.Duration
	// Permanent reports errors that no further attempt can fix. Nil treats every error
	// as transient.
	Permanent func(error) bool
	Logger    *zap.Logger
}

func (p RetryPolicy) permanent(err error) bool {
	return p.Permanent != nil && p.Permanent(err)
}

// Retry calls fn until it succeeds, returns a permanent error, or runs out of attempts.
// op names the call in logs.
func Retry(ctx context.Context, policy RetryPolicy, op string, fn func(context.Context) error) error {
	maxRetries := policy.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	delay := policy.BaseDelay
	if delay <= 0 {
		delay = defaultRetryDelay
	}
	logger := policy.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	for attempt := 0; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if policy.permanent(err) {
			logger.Debug("permanent failure", zap.String("op", op), zap.Int("attempt", attempt+1), zap.Error(err))
			return err
		}
		if attempt >= maxRetries {
			return err
		}
		logger.Debug("retrying",
			zap.String("op", op),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.Error(err),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay *= 2
	}
}
