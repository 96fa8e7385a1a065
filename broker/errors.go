package broker

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Error is an adapter failure. Transient failures (timeouts, rate limits,
// venue hiccups) are worth retrying with backoff; anything else is
// definitive and the cycle skips the instrument without touching the ledger.
type Error struct {
	Op        string // adapter call, e.g. "place order"
	Code      string // venue error code when available
	Transient bool
	Err       error
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("broker: %s: code %s: %v", e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("broker: %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Transientf builds a retryable adapter error.
func Transientf(op, code, format string, args ...any) *Error {
	return &Error{Op: op, Code: code, Transient: true, Err: fmt.Errorf(format, args...)}
}

// Permanentf builds a definitive adapter error.
func Permanentf(op, code, format string, args ...any) *Error {
	return &Error{Op: op, Code: code, Transient: false, Err: fmt.Errorf(format, args...)}
}

// IsTransient reports whether err is worth retrying. Deadline expiry and
// network timeouts count as transient even when the adapter did not wrap
// them itself.
func IsTransient(err error) bool {
	var be *Error
	if errors.As(err, &be) {
		return be.Transient
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return false
}
