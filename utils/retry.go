package utils

import (
	"context"
	"fmt"
	"time"
)

// RetryConfig holds the parameters for the retry strategy.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Logger      *Logger
}

// Do executes fn with exponential back-off until it succeeds, attempts run out
// or ctx is done.
func (r *RetryConfig) Do(ctx context.Context, operationName string, fn func(context.Context) error) error {
	attempts := r.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	delay := r.BaseDelay

	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if attempt == attempts {
			break
		}

		if r.Logger != nil {
			r.Logger.Warn("[retry] %s failed (attempt %d/%d): %v, retrying in %v",
				operationName, attempt, attempts, lastErr, delay)
		}
		if err := sleepCtx(ctx, delay); err != nil {
			return fmt.Errorf("%s interrupted after %d attempts: %w", operationName, attempt, lastErr)
		}
		delay *= 2
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, attempts, lastErr)
}

// PollConfig bounds a poll-with-backoff loop.
type PollConfig struct {
	Interval    time.Duration
	MaxInterval time.Duration
	Timeout     time.Duration
}

// Poll evaluates ready until it reports true, returns an error, or the poll
// timeout expires. It reports whether the condition was met; running out of
// time is not an error. A cancelled ctx is.
func Poll(ctx context.Context, cfg PollConfig, ready func(context.Context) (bool, error)) (bool, error) {
	deadline := time.Now().Add(cfg.Timeout)
	interval := cfg.Interval
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}

	for {
		ok, err := ready(ctx)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false, nil
		}
		wait := interval
		if wait > remaining {
			wait = remaining
		}
		if err := sleepCtx(ctx, wait); err != nil {
			return false, err
		}

		interval *= 2
		if cfg.MaxInterval > 0 && interval > cfg.MaxInterval {
			interval = cfg.MaxInterval
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
