package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ReleaseError is the structured error type used throughout the engine.
// It carries a stable code for programmatic handling, a human-readable
// message, optional key/value context, and the wrapped cause.
type ReleaseError struct {
	// Code classifies the error condition.
	Code ErrorCode

	// Message describes what failed in human-readable form.
	Message string

	// Context carries structured details about the failure site
	// (artifact identity, reference names, attempt counts).
	Context map[string]any

	// Cause is the underlying error, if any.
	Cause error
}

// Error implements the error interface.
func (e *ReleaseError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Code))
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause for errors.Is/As chains.
func (e *ReleaseError) Unwrap() error {
	return e.Cause
}

// Retryable reports whether the error is classified as transient.
func (e *ReleaseError) Retryable() bool {
	return IsRetryableCode(e.Code)
}

// New creates a new ReleaseError with the given code and message.
func New(code ErrorCode, message string) *ReleaseError {
	return &ReleaseError{Code: code, Message: message}
}

// Newf creates a new ReleaseError with a formatted message.
func Newf(code ErrorCode, format string, args ...any) *ReleaseError {
	return &ReleaseError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an existing error with a code and message while preserving
// the ability to check the cause with errors.Is/As.
func Wrap(err error, code ErrorCode, message string) *ReleaseError {
	return &ReleaseError{Code: code, Message: message, Cause: err}
}

// WrapWithContext wraps an error with a code, message, and structured context.
func WrapWithContext(err error, code ErrorCode, message string, context map[string]any) *ReleaseError {
	return &ReleaseError{Code: code, Message: message, Context: context, Cause: err}
}

// GetCode extracts the ErrorCode from an error chain.
// Returns CodeUnknown if no ReleaseError is present in the chain.
func GetCode(err error) ErrorCode {
	var re *ReleaseError
	if errors.As(err, &re) {
		return re.Code
	}
	return CodeUnknown
}

// IsRetryable reports whether any error in the chain is classified as
// transient. Errors without a ReleaseError in their chain are treated as
// non-retryable so that unknown failures surface instead of looping.
func IsRetryable(err error) bool {
	var re *ReleaseError
	if errors.As(err, &re) {
		return re.Retryable()
	}
	return false
}

// IsCode reports whether any error in the chain carries the given code.
func IsCode(err error, code ErrorCode) bool {
	var re *ReleaseError
	for errors.As(err, &re) {
		if re.Code == code {
			return true
		}
		err = re.Cause
		if err == nil {
			break
		}
		re = nil
	}
	return false
}
