// Package domainerrors provides coded errors for the credit lifecycle engine.
//
// Every error that crosses a service boundary carries a stable Code so that
// calling layers (HTTP transport, event consumers, tests) can branch on the
// kind of failure without string matching. Codes follow the taxonomy:
//
//   - validation:    CodeInvalidInput — caller's fault, never retried
//   - authorization: CodeUnauthorized, CodeForbidden — surfaced as-is
//   - state-conflict: CodeConflict — caller may retry with updated state
//   - integrity:     CodeIntegrityViolation — always escalated, never auto-resolved
//   - not-found:     CodeNotFound
//   - transient:     CodeUnavailable — retried with backoff by infrastructure
//   - everything else: CodeInternal
package domainerrors

import (
	"errors"
	"fmt"
)

// Code is a stable kind identifier for a domain error.
type Code string

const (
	CodeInvalidInput       Code = "invalid_input"
	CodeUnauthorized       Code = "unauthorized"
	CodeForbidden          Code = "forbidden"
	CodeNotFound           Code = "not_found"
	CodeConflict           Code = "conflict"
	CodeIntegrityViolation Code = "integrity_violation"
	CodeUnavailable        Code = "unavailable"
	CodeInternal           Code = "internal"
)

// Error is a coded error. It wraps an optional cause for errors.Is/As chains.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New creates a coded error with no underlying cause.
func New(code Code, message string) error {
	return &Error{Code: code, Message: message}
}

// Newf creates a coded error with a formatted message.
func Newf(code Code, format string, args ...any) error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error. A nil err returns nil.
func Wrap(err error, code Code, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, cause: err}
}

// CodeOf extracts the code from an error chain. Uncoded errors map to CodeInternal.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// HasCode reports whether any error in the chain carries the given code.
func HasCode(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}
