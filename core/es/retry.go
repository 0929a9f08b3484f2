package es

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryTransient retries fn with exponential backoff for as long as it
// fails with ErrStorageUnavailable. Any other error stops the retry loop
// immediately. The store never retries internally; this is the caller-side
// policy.
func RetryTransient(ctx context.Context, fn func() error) error {
	op := func() error {
		err := fn()
		if err != nil && !errors.Is(err, ErrStorageUnavailable) {
			return backoff.Permanent(err)
		}
		return err
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 50 * time.Millisecond
	bo.MaxElapsedTime = 30 * time.Second
	return backoff.Retry(op, backoff.WithContext(bo, ctx))
}

// retryConflicts retries fn while it fails with ErrConcurrencyConflict.
// Used by TypedRepository.Update for the reload-and-retry command cycle.
func retryConflicts(ctx context.Context, fn func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 5 * time.Millisecond
	bo.MaxInterval = 250 * time.Millisecond
	bo.MaxElapsedTime = 10 * time.Second
	return backoff.Retry(fn, backoff.WithContext(bo, ctx))
}

func permanent(err error) error { return backoff.Permanent(err) }
