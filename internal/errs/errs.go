// Package errs holds error values shared across the indexing and query packages.
package errs

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a lookup by id misses.
	ErrNotFound = errors.New("not found")

	// ErrCancelled is returned when the caller aborts an operation through its context.
	ErrCancelled = errors.New("operation cancelled")
)

// Cancelled wraps a context error so that it matches both ErrCancelled and the
// original context error. Non-context errors are returned unchanged.
func Cancelled(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrCancelled) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrCancelled, err)
	}
	return err
}

// CheckContext returns a cancellation error if ctx is done.
func CheckContext(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return Cancelled(ctx.Err())
	default:
		return nil
	}
}
