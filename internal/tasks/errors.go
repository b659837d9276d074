// ABOUTME: Typed mutation errors shared by the HTTP and in-band entry points
// ABOUTME: Each transport adapter maps a Code to its own reply convention

package tasks

import (
	"errors"
	"fmt"
)

// Code classifies a failed operation.
type Code string

const (
	CodeUnauthenticated Code = "unauthenticated"
	CodeForbidden       Code = "forbidden"
	CodeInvalidPayload  Code = "invalid_payload"
	CodeInvalidID       Code = "invalid_id"
	CodeNotFound        Code = "not_found"
	CodeConflict        Code = "conflict"
	CodeInternal        Code = "internal"
)

// Issue is one field-level validation failure.
type Issue struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error is returned by every Service operation that fails.
// Message is safe to show to the caller; Err carries the underlying cause
// for logging and is never sent over the wire.
type Error struct {
	Code    Code
	Message string
	Issues  []Issue
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// CodeOf returns the Code of err. A nil error has no code; any error that is
// not an *Error is treated as internal.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var te *Error
	if errors.As(err, &te) {
		return te.Code
	}
	return CodeInternal
}

// MessageOf returns the caller-facing message of err.
func MessageOf(err error) string {
	var te *Error
	if errors.As(err, &te) {
		return te.Message
	}
	return "internal error"
}

func errUnauthenticated(msg string) *Error {
	return &Error{Code: CodeUnauthenticated, Message: msg}
}

func errForbidden(msg string) *Error {
	return &Error{Code: CodeForbidden, Message: msg}
}

// errInvalidPayload reports the first issue as the message and keeps the rest.
func errInvalidPayload(issues []Issue) *Error {
	msg := "Invalid data"
	if len(issues) > 0 {
		msg = issues[0].Message
	}
	return &Error{Code: CodeInvalidPayload, Message: msg, Issues: issues}
}

func errInvalidID(msg string) *Error {
	return &Error{Code: CodeInvalidID, Message: msg}
}

func errNotFound(msg string) *Error {
	return &Error{Code: CodeNotFound, Message: msg}
}

func errConflict(msg string) *Error {
	return &Error{Code: CodeConflict, Message: msg}
}

func errInternal(msg string, err error) *Error {
	return &Error{Code: CodeInternal, Message: msg, Err: err}
}
