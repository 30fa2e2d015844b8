package pipeline

import (
	"context"
	"fmt"
	"time"

	"horse.fit/flashpoint/internal/resolve"
)

// withStoreRetry retries fn on transient errors with a linear backoff. Other errors return at once.
func (s *Service) withStoreRetry(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := 1; attempt <= s.opts.StoreRetryAttempts; attempt++ {
		err = fn()
		if err == nil || !resolve.IsTransient(err) {
			return err
		}
		if attempt == s.opts.StoreRetryAttempts {
			break
		}

		s.logger.Warn().Err(err).Str("op", op).Int("attempt", attempt).Msg("transient store error, retrying")
		timer := time.NewTimer(time.Duration(attempt) * s.opts.StoreRetryBackoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%s: %w", op, ctx.Err())
		case <-timer.C:
		}
	}
	return fmt.Errorf("%s: %w", op, &resolve.TransientError{Op: op, Err: err})
}
