package domainerrors

import "errors"

// Code represents a domain error category independent of transport layer.
// These codes describe what went wrong in business logic terms, not HTTP terms.
type Code string

const (
	CodeNotFound               Code = "not_found"
	CodeBadRequest             Code = "bad_request"
	CodeValidation             Code = "validation_failed"
	CodeInvalidStateTransition Code = "invalid_state_transition"
	CodeConflict               Code = "conflict"
	CodeExternalDependency     Code = "external_dependency_failure"
	CodeUnauthorized           Code = "unauthorized"
	CodeForbidden              Code = "forbidden"
	CodeTimeout                Code = "timeout"
	CodeInternal               Code = "internal_error"
)

// Error wraps domain or infrastructure failures with a stable code.
// It is transport-agnostic and can be used across service, store, and other layers.
//
// Details optionally carries the unchanged state of the entity that rejected
// the operation (a case view, a token, or an itemized bulk rejection) so
// callers can act on it without a follow-up read.
type Error struct {
	Code    Code
	Message string
	Err     error
	Details any
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return string(e.Code)
}

// Unwrap implements error unwrapping for error chains.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is enables errors.Is() to match errors by code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New creates a new domain error with the given code and message.
func New(code Code, msg string) error {
	return &Error{Code: code, Message: msg}
}

// Wrap creates a new domain error wrapping an existing error.
// If the wrapped error is already a domain error, the original code and details are preserved.
func Wrap(err error, code Code, msg string) error {
	var existing *Error
	if errors.As(err, &existing) {
		return &Error{Code: existing.Code, Message: msg, Err: err, Details: existing.Details}
	}
	return &Error{Code: code, Message: msg, Err: err}
}

// WithDetails attaches entity state to a domain error. Non-domain errors are
// wrapped as internal errors first.
func WithDetails(err error, details any) error {
	if err == nil {
		return nil
	}
	var existing *Error
	if errors.As(err, &existing) {
		return &Error{Code: existing.Code, Message: existing.Message, Err: existing.Err, Details: details}
	}
	return &Error{Code: CodeInternal, Message: err.Error(), Err: err, Details: details}
}

// HasCode checks if an error is a domain error with the given code.
func HasCode(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// CodeOf returns the domain code of err, or CodeInternal for foreign errors.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// DetailsOf returns the details attached to a domain error, if any.
func DetailsOf(err error) any {
	var e *Error
	if errors.As(err, &e) {
		return e.Details
	}
	return nil
}

// IsRetryable reports whether the caller may retry the operation with backoff.
// The engine itself never retries.
func IsRetryable(err error) bool {
	switch CodeOf(err) {
	case CodeConflict, CodeExternalDependency, CodeTimeout:
		return true
	default:
		return false
	}
}
