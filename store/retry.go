package store

import (
	"context"
	"errors"
	"time"

	"github.com/mrtj/dynamodb-connection/item"
)

// do runs fn, retrying while the table is unavailable. Every error it
// returns is an *OpError.
func (s *Store) do(ctx context.Context, op string, k item.Key, fn func(context.Context) error) error {
	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		err = classify(err)
		if !errors.Is(err, ErrUnavailable) || attempt >= s.config.MaxAttempts {
			return &OpError{Op: op, Key: k, Attempts: attempt, Err: err}
		}

		delay, derr := s.backoff.BackoffDelay(attempt, err)
		if derr != nil {
			delay = s.config.MaxBackoff
		}
		s.logger.Warn("retrying store operation",
			"table", s.config.TableName,
			"op", op,
			"key", k.String(),
			"attempt", attempt,
			"delay", delay,
			"error", err,
		)
		if err := sleep(ctx, delay); err != nil {
			return &OpError{Op: op, Key: k, Attempts: attempt, Err: err}
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
