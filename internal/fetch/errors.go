package fetch

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrTimeout is returned when no response arrived before the deadline.
	ErrTimeout = errors.New("fetch: request timed out")
	// ErrCanceled is returned when the caller's context was canceled.
	ErrCanceled = errors.New("fetch: request canceled")
	// ErrChannel is returned when the underlying channel failed or the
	// client was closed.
	ErrChannel = errors.New("fetch: channel failure")
)

// RemoteError is a failure reported by the provider.
type RemoteError struct {
	ID      string
	Method  string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("fetch: remote error for %s request %s: %s", e.Method, e.ID, e.Message)
}

// contextError maps a context error onto the protocol errors.
func contextError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrCanceled, err)
}

// outcome labels an error for metrics.
func outcome(err error) string {
	var remote *RemoteError
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrCanceled):
		return "canceled"
	case errors.As(err, &remote):
		return "remote"
	default:
		return "channel"
	}
}
