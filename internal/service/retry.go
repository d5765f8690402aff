package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"

	"dmscore/internal/claim"
)

// readRetryTries bounds how many attempts an idempotent read gets before
// its transient failure is surfaced. Mutations are never routed through
// retryRead: a timed-out write may have committed.
const readRetryTries = 3

// retryRead runs an idempotent read, retrying transient store failures with
// a short exponential backoff. Domain outcomes and context cancellation are
// surfaced immediately.
func retryRead[T any](ctx context.Context, op func() (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 10 * time.Millisecond
	b.MaxInterval = 100 * time.Millisecond
	return backoff.Retry(ctx, func() (T, error) {
		v, err := op()
		if err != nil && !retryable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(readRetryTries))
}

// retryable reports whether the error looks transient. Not-found is a
// definitive answer, and a cancelled context will not get better.
func retryable(err error) bool {
	switch {
	case errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, sql.ErrNoRows),
		errors.Is(err, claim.ErrNotFound):
		return false
	}
	return true
}
