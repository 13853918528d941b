package pipeline

import (
	"errors"
	"fmt"
	"time"

	"wedding-rsvp/internal/validate"
)

// Code classifies a submission failure.
type Code string

const (
	CodeMissingRequiredField Code = "MISSING_REQUIRED_FIELD"
	CodeInvalidToken         Code = "INVALID_TOKEN"
	CodeRateLimited          Code = "RATE_LIMITED"
	CodeBackendUnavailable   Code = "BACKEND_UNAVAILABLE"
	CodeDuplicateSubmission  Code = "DUPLICATE_SUBMISSION"
	CodeUnknown              Code = "UNKNOWN_ERROR"
)

// Error is a submission failure surfaced to the guest.
type Error struct {
	Code    Code
	Message string
	// Fields holds per-field problems for CodeMissingRequiredField.
	Fields validate.FieldErrors
	// RetryAfter is set for CodeRateLimited.
	RetryAfter time.Duration
	Cause      error
}

// Error implements error.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Cause }

// Is matches any *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// Sentinels for errors.Is.
var (
	ErrMissingRequiredField = &Error{Code: CodeMissingRequiredField}
	ErrInvalidToken         = &Error{Code: CodeInvalidToken}
	ErrRateLimited          = &Error{Code: CodeRateLimited}
	ErrBackendUnavailable   = &Error{Code: CodeBackendUnavailable}
	ErrDuplicateSubmission  = &Error{Code: CodeDuplicateSubmission}
	ErrUnknown              = &Error{Code: CodeUnknown}
)

// CodeOf returns the code of err, or CodeUnknown for foreign errors.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}
