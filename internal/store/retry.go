package store

import (
	"context"
	"errors"
	"time"
)

// WithRetry runs fn, retrying only on ErrUnavailable with doubling backoff.
// Any other error, including mutator errors like conflicts, returns
// immediately. This is the caller-side policy for lock contention: bounded
// attempts, never an indefinite wait.
func WithRetry(ctx context.Context, attempts int, backoff time.Duration, fn func() error) error {
	var err error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}
		err = fn()
		if err == nil || !errors.Is(err, ErrUnavailable) {
			return err
		}
	}
	return err
}
