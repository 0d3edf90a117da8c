package errs

import (
	"errors"
	"fmt"
)

// Code classifies an error so callers can branch without string matching.
type Code string

const (
	CodeValidation          Code = "validation"
	CodeNotFound            Code = "not_found"
	CodeUnauthorized        Code = "unauthorized"
	CodeInvalidState        Code = "invalid_state"
	CodeInsufficientBalance Code = "insufficient_balance"
	CodeBelowThreshold      Code = "below_threshold"
	CodeAlreadyExists       Code = "already_exists"
	CodeConcurrencyConflict Code = "concurrency_conflict"
	CodeExternalDependency  Code = "external_dependency"
)

// Error is the typed error crossing the engine boundary.
// Every failure returned by the engine carries a Code; internal
// helpers wrap lower-level errors so the cause is preserved.
type Error struct {
	Code Code
	Op   string // operation that failed, e.g. "engine.Buy"
	Msg  string
	Err  error // wrapped cause, may be nil
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s [%s]: %v", e.Op, e.Msg, e.Code, e.Err)
	}
	return fmt.Sprintf("%s: %s [%s]", e.Op, e.Msg, e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same code, so sentinel-style checks
// like errors.Is(err, errs.ConflictSentinel) work across wrapping.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// E constructs a typed error.
func E(code Code, op, format string, args ...interface{}) *Error {
	return &Error{Code: code, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Wrap constructs a typed error around a cause.
func Wrap(code Code, op string, err error, format string, args ...interface{}) *Error {
	return &Error{Code: code, Op: op, Msg: fmt.Sprintf(format, args...), Err: err}
}

// CodeOf extracts the code from an error chain; empty when untyped.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code Code) bool {
	return CodeOf(err) == code
}
