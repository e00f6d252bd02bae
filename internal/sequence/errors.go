package sequence

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes dispense failures.
type ErrorCode string

const (
	// CodeNotFound indicates the name does not resolve in the registry.
	CodeNotFound ErrorCode = "NOT_FOUND"

	// CodeExhausted indicates a non-cycling sequence has run out of values.
	// It is terminal: every later call reports it too.
	CodeExhausted ErrorCode = "EXHAUSTED"

	// CodeRefillFailed indicates the chunk store could not supply a chunk.
	CodeRefillFailed ErrorCode = "REFILL_FAILED"

	// CodeLockTimeout indicates the caller gave up waiting for the
	// sequence lock. No state was touched.
	CodeLockTimeout ErrorCode = "LOCK_TIMEOUT"
)

// Error is returned by every Dispenser operation.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Name is the sequence name as the caller passed it.
	Name string

	// Err is the underlying cause, if any.
	Err error
}

// Sentinels for errors.Is. They match any *Error with the same code.
var (
	ErrNotFound     = &Error{Code: CodeNotFound}
	ErrExhausted    = &Error{Code: CodeExhausted}
	ErrRefillFailed = &Error{Code: CodeRefillFailed}
	ErrLockTimeout  = &Error{Code: CodeLockTimeout}
)

// Error implements the error interface.
func (e *Error) Error() string {
	msg := string(e.Code)
	if e.Name != "" {
		msg = fmt.Sprintf("%s: sequence %q", e.Code, e.Name)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

func newError(code ErrorCode, name string, cause error) *Error {
	return &Error{Code: code, Name: name, Err: cause}
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

// IsNotFound returns true if err is a NOT_FOUND error.
func IsNotFound(err error) bool {
	return CodeOf(err) == CodeNotFound
}

// IsExhausted returns true if err is an EXHAUSTED error.
func IsExhausted(err error) bool {
	return CodeOf(err) == CodeExhausted
}

// IsRefillFailed returns true if err is a REFILL_FAILED error.
func IsRefillFailed(err error) bool {
	return CodeOf(err) == CodeRefillFailed
}

// IsLockTimeout returns true if err is a LOCK_TIMEOUT error.
func IsLockTimeout(err error) bool {
	return CodeOf(err) == CodeLockTimeout
}
