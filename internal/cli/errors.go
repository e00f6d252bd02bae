package cli

import (
	"errors"

	"github.com/roach88/seqd/internal/engine"
	"github.com/roach88/seqd/internal/ir"
	"github.com/roach88/seqd/internal/sequence"
)

// Catalog error codes reported in CLI output.
const (
	ErrCodeUnknownSequence    = "UNKNOWN_SEQUENCE"
	ErrCodeDefinitionConflict = "DEFINITION_CONFLICT"
	ErrCodeDuplicateSequence  = "DUPLICATE_SEQUENCE"
	ErrCodeStaleDefinition    = "STALE_DEFINITION"
)

// errorCode returns the code shown for err: the dispenser code, the engine
// code, a catalog code, or E001.
func errorCode(err error) string {
	if code := sequence.CodeOf(err); code != "" {
		return string(code)
	}
	var re *engine.RuntimeError
	if errors.As(err, &re) {
		return string(re.Code)
	}
	switch {
	case errors.Is(err, ir.ErrUnknownSequence):
		return ErrCodeUnknownSequence
	case errors.Is(err, ir.ErrDefinitionConflict):
		return ErrCodeDefinitionConflict
	case errors.Is(err, ir.ErrDuplicateSequence):
		return ErrCodeDuplicateSequence
	case errors.Is(err, ir.ErrStaleDefinition):
		return ErrCodeStaleDefinition
	}
	return ErrCodeGeneric
}

// exitCode maps err to a process exit code. Errors about the sequences
// themselves are failures (1); anything else is a command error (2).
func exitCode(err error) int {
	if errorCode(err) == ErrCodeGeneric || engine.IsClosed(err) {
		return ExitCommandError
	}
	return ExitFailure
}

// fail reports err through f and returns the matching ExitError.
func fail(f *OutputFormatter, message string, err error) error {
	return f.Fail(exitCode(err), errorCode(err), message, err)
}
