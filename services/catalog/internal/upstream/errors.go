package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
)

// ErrNotFound means upstream has no record. Not retryable.
var ErrNotFound = errors.New("upstream: not found")

// TransientError wraps network failures, 429 and 5xx responses.
type TransientError struct {
	Op     string
	Status int
	Err    error
}

func (e *TransientError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("upstream %s: transient status %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("upstream %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsRetryable reports whether err is worth retrying later.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var te *TransientError
	return errors.As(err, &te)
}

// classifyTransport decides whether a transport error is transient. Caller
// cancellation is not.
func classifyTransport(op string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.As(err, &netErr) ||
		errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return &TransientError{Op: op, Err: err}
	}
	return fmt.Errorf("upstream %s: %w", op, err)
}
