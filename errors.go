package compose

import (
	"context"
	"errors"
	"fmt"

	pkgerrors "github.com/JohnPlummer/jp-go-errors"
)

// ErrInvalidArgument indicates misuse of the library: a non-positive window
// or batch size, or a request that cannot be encoded as a memo key.
// Test with errors.Is.
var ErrInvalidArgument = errors.New("compose: invalid argument")

// AttemptsError annotates the final failure of a RetryWrapper with the number
// of attempts that were made. It wraps the last error observed, so errors.Is
// and errors.As continue to see the wrapped computation's own error kinds.
type AttemptsError struct {
	Err      error
	Attempts int
}

// Error implements the error interface.
func (e *AttemptsError) Error() string {
	return fmt.Sprintf("%v (after %d attempts)", e.Err, e.Attempts)
}

// Unwrap implements error unwrapping for errors.Is and errors.As.
func (e *AttemptsError) Unwrap() error {
	return e.Err
}

// CancelledError indicates a retry loop was interrupted by the host's
// cancellation signal before attempts were exhausted. It wraps the context
// error, so errors.Is(err, context.Canceled) still holds.
type CancelledError struct {
	Err      error
	Attempts int
}

// Error implements the error interface.
func (e *CancelledError) Error() string {
	return fmt.Sprintf("retry cancelled after %d attempts: %v", e.Attempts, e.Err)
}

// Unwrap implements error unwrapping for errors.Is and errors.As.
func (e *CancelledError) Unwrap() error {
	return e.Err
}

// ErrorClassifier determines whether an error should trigger a retry.
// Implement this interface to customize retry behavior for your specific
// error types.
type ErrorClassifier interface {
	// IsRetryable returns true if the error represents a transient failure
	// that should be retried.
	IsRetryable(err error) bool
}

// CircuitBreakerErrorClassifier determines whether an error should trip the
// circuit breaker.
type CircuitBreakerErrorClassifier interface {
	// ShouldTripCircuit returns true if the error represents a failure
	// serious enough to open the circuit and stop requests temporarily.
	ShouldTripCircuit(err error) bool
}

// ClassifierFunc adapts a predicate function to the ErrorClassifier
// interface.
//
// Example:
//
//	compose.WithErrorClassifier(compose.ClassifierFunc(func(err error) bool {
//	    return errors.Is(err, io.ErrUnexpectedEOF)
//	}))
type ClassifierFunc func(err error) bool

// IsRetryable implements ErrorClassifier.
func (f ClassifierFunc) IsRetryable(err error) bool { return f(err) }

// TransientClassifier classifies errors for a generic computation.
// Context errors and argument errors are permanent. Rate limits and timeouts
// (per jp-go-errors) are transient. Unknown errors are assumed transient for
// retry purposes, but trip the circuit to be safe.
type TransientClassifier struct{}

// IsRetryable implements ErrorClassifier.
func (TransientClassifier) IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	// Context errors are NOT retryable - if the parent context is exceeded or
	// canceled, retrying with the same context will fail immediately.
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}

	// Misuse is permanent.
	if errors.Is(err, ErrInvalidArgument) {
		return false
	}

	// Check for jp-go-errors sentinel errors
	if errors.Is(err, pkgerrors.ErrRateLimited) {
		return true
	}
	if pkgerrors.IsTimeout(err) {
		return true
	}

	// Unknown errors might be retryable (network issues, etc.)
	return true
}

// ShouldTripCircuit implements CircuitBreakerErrorClassifier.
func (TransientClassifier) ShouldTripCircuit(err error) bool {
	if err == nil {
		return false
	}

	// Rate limits and timeouts should NOT trip the circuit - these are transient
	if errors.Is(err, pkgerrors.ErrRateLimited) {
		return false
	}
	if pkgerrors.IsTimeout(err) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}

	// Caller mistakes say nothing about downstream health.
	if errors.Is(err, ErrInvalidArgument) {
		return false
	}

	return true
}

// DefaultErrorClassifier provides reasonable defaults for most use cases.
func DefaultErrorClassifier() ErrorClassifier {
	return TransientClassifier{}
}

// DefaultCircuitBreakerErrorClassifier provides reasonable defaults for
// circuit breaker tripping.
func DefaultCircuitBreakerErrorClassifier() CircuitBreakerErrorClassifier {
	return TransientClassifier{}
}
