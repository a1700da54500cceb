package operator

import (
	"context"
	"errors"
	"fmt"
)

// RetryableError marks a transient failure such as a timeout or a dropped
// connection.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string { return e.Err.Error() }
func (e *RetryableError) Unwrap() error { return e.Err }

// FatalError marks a failure that retrying cannot fix: malformed params, a
// failed quality gate, a missing source.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string { return e.Err.Error() }
func (e *FatalError) Unwrap() error { return e.Err }

// Retryable wraps err as a RetryableError. nil stays nil.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}

// Fatal wraps err as a FatalError. nil stays nil.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &FatalError{Err: err}
}

// Fatalf formats a new FatalError.
func Fatalf(format string, args ...any) error {
	return &FatalError{Err: fmt.Errorf(format, args...)}
}

// IsFatal reports whether err carries a FatalError anywhere in its chain.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

// IsRetryable reports whether err should trigger another attempt. Fatal
// errors and context cancellation are never retryable; everything else is.
func IsRetryable(err error) bool {
	if err == nil || IsFatal(err) {
		return false
	}
	return !errors.Is(err, context.Canceled)
}

// GateError is a failed quality assertion.
type GateError struct {
	Check      string
	Observed   any
	Expected   any
	Comparison string
}

func (e *GateError) Error() string {
	return fmt.Sprintf("quality check failed: %s: observed %v, expected %v (%s)", e.Check, e.Observed, e.Expected, e.Comparison)
}
