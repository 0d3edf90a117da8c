package engine

import (
	"context"
	"errors"
	"time"

	"github.com/jpillora/backoff"

	"CurveLedger/internal/store"
)

// retryRead runs an idempotent store read with bounded jittered
// backoff. Sentinel outcomes (not found, already exists, stale
// version) are semantic results, not faults, and return immediately;
// any other error is treated as transient and retried up to
// maxAttempts before surfacing.
func retryRead[T any](ctx context.Context, maxAttempts int, fn func() (T, error)) (T, error) {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	b := &backoff.Backoff{
		Min:    50 * time.Millisecond,
		Max:    1 * time.Second,
		Factor: 2,
		Jitter: true,
	}

	var zero T
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		v, err := fn()
		if err == nil {
			return v, nil
		}
		if errors.Is(err, store.ErrNotFound) ||
			errors.Is(err, store.ErrAlreadyExists) ||
			errors.Is(err, store.ErrVersionConflict) {
			return zero, err
		}
		lastErr = err
		if attempt == maxAttempts {
			break
		}
		select {
		case <-time.After(b.Duration()):
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
	return zero, lastErr
}
