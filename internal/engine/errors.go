package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/seqd/internal/compiler"
)

// RuntimeError represents an error detected by the engine itself rather than
// by the dispenser or the backend.
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// Violations lists the failed rules of an INVALID_DEFINITION error.
	Violations []compiler.ValidationError
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeClosed indicates the engine was used after Close.
	ErrCodeClosed RuntimeErrorCode = "ENGINE_CLOSED"

	// ErrCodeInvalidDefinition indicates a definition failed validation.
	ErrCodeInvalidDefinition RuntimeErrorCode = "INVALID_DEFINITION"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	if len(e.Violations) == 0 {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		parts[i] = v.Error()
	}
	return fmt.Sprintf("%s: %s: %s", e.Code, e.Message, strings.Join(parts, "; "))
}

// IsClosed reports whether err is an ENGINE_CLOSED error.
func IsClosed(err error) bool {
	var re *RuntimeError
	return errors.As(err, &re) && re.Code == ErrCodeClosed
}

// IsInvalidDefinition reports whether err is an INVALID_DEFINITION error.
func IsInvalidDefinition(err error) bool {
	var re *RuntimeError
	return errors.As(err, &re) && re.Code == ErrCodeInvalidDefinition
}

func newClosedError(op string) *RuntimeError {
	return &RuntimeError{Code: ErrCodeClosed, Message: op + " on closed engine"}
}

func newInvalidDefinitionError(violations []compiler.ValidationError) *RuntimeError {
	return &RuntimeError{
		Code:       ErrCodeInvalidDefinition,
		Message:    fmt.Sprintf("%d rule(s) violated", len(violations)),
		Violations: violations,
	}
}
