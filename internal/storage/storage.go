// Package storage bounds every store round-trip with a client-side
// timeout and classifies failures so callers can surface a retryable
// state instead of hanging.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultTimeout applies when a caller passes a non-positive timeout.
const DefaultTimeout = 5 * time.Second

// ErrTimeout is returned (wrapped) when a store call exceeds its budget.
var ErrTimeout = errors.New("storage: operation timed out")

// TransientError marks an I/O failure the caller may retry.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err (or anything it wraps) is a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// Do runs fn with a deadline derived from ctx. Deadline overruns are
// reported as ErrTimeout; other errors are wrapped as transient unless
// they are already classified. Errors matching any of the permanent
// sentinels pass through untouched.
func Do(ctx context.Context, timeout time.Duration, op string, fn func(ctx context.Context) error, permanent ...error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := fn(callCtx)
	if err == nil {
		return nil
	}
	for _, p := range permanent {
		if errors.Is(err, p) {
			return err
		}
	}
	if IsTransient(err) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return &TransientError{Op: op, Err: fmt.Errorf("%w: %v", ErrTimeout, err)}
	}
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return err
	}
	return &TransientError{Op: op, Err: err}
}

// Kind labels err for metrics: "timeout", "transient" or "permanent".
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case IsTransient(err):
		return "transient"
	default:
		return "permanent"
	}
}
