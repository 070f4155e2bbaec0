// Package katoerr defines the error kinds surfaced by every KATO
// public operation: a stable code, a one-line message, and a context
// map for caller-visible detail. No operation ever returns a bare
// stdlib error or a silent zero value in place of a failure.
package katoerr

import (
	"fmt"

	"github.com/go-faster/errors"
)

// Code identifies the kind of failure. Callers should compare with
// CodeOf rather than string-matching Error().
type Code string

const (
	InvalidInput      Code = "invalid_input"
	TooFewSymbols     Code = "too_few_symbols"
	NotFound          Code = "not_found"
	SessionExpired    Code = "session_expired"
	DeadlineExceeded  Code = "deadline_exceeded"
	CorpusUnavailable Code = "corpus_unavailable"
	VectorBackend     Code = "vector_backend_error"
	Computation       Code = "computation_error"
	Conflict          Code = "conflict"
)

// Error is the concrete error type returned by every package in this
// module. It is never constructed with a zero Code.
type Error struct {
	Code      Code
	Message   string
	Context   map[string]interface{}
	Retriable bool
	cause     error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Is makes errors.Is(err, &Error{Code: X}) match on Code alone, the
// way callers actually want to branch on failure kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// New constructs an Error with no wrapped cause.
func New(code Code, message string, ctx map[string]interface{}) *Error {
	return &Error{Code: code, Message: message, Context: ctx}
}

// Wrap attaches code and context to an underlying error, preserving
// it (with stack context) as the cause via go-faster/errors.
func Wrap(code Code, cause error, message string, ctx map[string]interface{}) *Error {
	return &Error{Code: code, Message: message, Context: ctx, cause: errors.Wrap(cause, message)}
}

// VectorBackendErr builds the §7 VectorBackendError(retriable) kind.
func VectorBackendErr(cause error, retriable bool, ctx map[string]interface{}) *Error {
	e := Wrap(VectorBackend, cause, "vector backend call failed", ctx)
	e.Retriable = retriable
	return e
}

// CodeOf extracts the Code from err, or "" if err is not (or does not
// wrap) a *Error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsRetriable reports whether err is a retriable VectorBackendError.
func IsRetriable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retriable
	}
	return false
}
