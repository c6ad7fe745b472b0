// Package exception defines the error taxonomy shared by the planner, executor,
// controller and verification engine.
//
// BatchError is the common carrier: it records the module that raised it and
// whether the failure may be retried by the job queue. The typed errors in
// errors.go wrap BatchError so callers can branch with errors.As.
package exception

import (
	"errors"
	"fmt"
	"net"
	"runtime"
	"strings"
)

// BatchError is an error raised while planning, executing or verifying work.
type BatchError struct {
	// Module is where the error occurred (e.g. "planner", "executor", "source").
	Module string
	// Message is a short human readable description.
	Message string
	// OriginalErr is the wrapped cause, if any.
	OriginalErr error

	isRetryable bool
	isSkippable bool

	// StackTrace is captured at construction for debugging.
	StackTrace string
}

// NewBatchError creates a BatchError.
func NewBatchError(module, message string, originalErr error, isSkippable, isRetryable bool) *BatchError {
	return &BatchError{
		Module:      module,
		Message:     message,
		OriginalErr: originalErr,
		isRetryable: isRetryable,
		isSkippable: isSkippable,
		StackTrace:  captureStack(),
	}
}

// NewBatchErrorf creates a non-retryable, non-skippable BatchError with a formatted message.
// If the last argument is an error it becomes the wrapped cause.
func NewBatchErrorf(module, format string, a ...interface{}) *BatchError {
	var originalErr error
	if n := len(a); n > 0 {
		if err, ok := a[n-1].(error); ok && strings.Count(format, "%") < n {
			originalErr = err
			a = a[:n-1]
		}
	}
	return &BatchError{
		Module:      module,
		Message:     fmt.Sprintf(format, a...),
		OriginalErr: originalErr,
		StackTrace:  captureStack(),
	}
}

func captureStack() string {
	buf := make([]byte, 2048)
	n := runtime.Stack(buf, false)
	return string(buf[:n])
}

// Error implements the error interface.
func (e *BatchError) Error() string {
	if e.OriginalErr != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Module, e.Message, e.OriginalErr)
	}
	return fmt.Sprintf("[%s] %s", e.Module, e.Message)
}

// Unwrap returns the wrapped cause.
func (e *BatchError) Unwrap() error {
	return e.OriginalErr
}

// IsRetryable reports whether the job queue should retry the failed work.
func (e *BatchError) IsRetryable() bool {
	return e.isRetryable
}

// IsSkippable reports whether the failure may be skipped item-wise.
func (e *BatchError) IsSkippable() bool {
	return e.isSkippable
}

// IsBatchError reports whether err is, or wraps, a *BatchError.
func IsBatchError(err error) bool {
	var be *BatchError
	return errors.As(err, &be)
}

// IsTemporary reports whether err looks transient.
// The retry flag of a wrapped BatchError takes precedence.
func IsTemporary(err error) bool {
	if err == nil {
		return false
	}
	var be *BatchError
	if errors.As(err, &be) {
		return be.IsRetryable()
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "eof")
}

// OptimisticLockingFailureException is the name of the optimistic locking sentinel.
const OptimisticLockingFailureException = "OptimisticLockingFailureException"

// ErrOptimisticLockingFailure signals that a row changed between read and update.
var ErrOptimisticLockingFailure = errors.New(OptimisticLockingFailureException)

// NewOptimisticLockingFailureException wraps ErrOptimisticLockingFailure.
func NewOptimisticLockingFailureException(module, message string, originalErr error) *BatchError {
	errToWrap := ErrOptimisticLockingFailure
	if originalErr != nil {
		errToWrap = errors.Join(ErrOptimisticLockingFailure, originalErr)
	}
	return NewBatchError(module, message, errToWrap, false, false)
}

// IsOptimisticLockingFailure reports whether err is an optimistic locking failure.
func IsOptimisticLockingFailure(err error) bool {
	return errors.Is(err, ErrOptimisticLockingFailure)
}

// ExtractErrorMessage returns the cleanest message available for err.
// For a BatchError that is its Message field followed by the cause.
func ExtractErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	var be *BatchError
	if errors.As(err, &be) {
		if be.OriginalErr != nil {
			return be.Message + ": " + be.OriginalErr.Error()
		}
		return be.Message
	}
	return err.Error()
}
