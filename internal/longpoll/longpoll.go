// Package longpoll implements the bounded sleep-and-recheck loop behind the
// pairing and file-list waits.
package longpoll

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"
)

// Config is shared by every wait so all endpoints exhaust at the same bound.
type Config struct {
	Interval    time.Duration
	MaxAttempts int
}

// Check inspects shared state once. ready reports whether the wait is over.
type Check[T any] func(ctx context.Context) (value T, ready bool, err error)

var errNotReady = errors.New("longpoll: not ready")

// backoff allows MaxAttempts checks with a constant Interval between them.
func (c Config) backoff() retry.Backoff {
	interval := c.Interval
	if interval <= 0 {
		interval = time.Millisecond
	}
	retries := 0
	if c.MaxAttempts > 1 {
		retries = c.MaxAttempts - 1
	}
	return retry.WithMaxRetries(uint64(retries), retry.NewConstant(interval))
}

// Wait runs check up to cfg.MaxAttempts times, parking for cfg.Interval
// between attempts. Exhaustion is not an error: it returns the zero value with
// ok=false so the caller can tell the client to reissue the wait.
func Wait[T any](ctx context.Context, cfg Config, check Check[T]) (value T, ok bool, err error) {
	var result T
	err = retry.Do(ctx, cfg.backoff(), func(ctx context.Context) error {
		v, ready, err := check(ctx)
		if err != nil {
			return err
		}
		if !ready {
			return retry.RetryableError(errNotReady)
		}
		result = v
		return nil
	})
	switch {
	case err == nil:
		return result, true, nil
	case errors.Is(err, errNotReady):
		var zero T
		return zero, false, nil
	default:
		var zero T
		return zero, false, err
	}
}

// Ceiling is the longest a wait can block.
func (c Config) Ceiling() time.Duration {
	if c.MaxAttempts <= 1 {
		return 0
	}
	return time.Duration(c.MaxAttempts-1) * c.Interval
}
