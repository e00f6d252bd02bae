package compiler

import (
	"fmt"

	"github.com/roach88/seqd/internal/ir"
)

// Validation error codes (E100-E199)
const (
	ErrUnsupportedIRType = "E100" // unsupported IR type for validation
	ErrCUE               = "E101" // CUE evaluation error

	// Definition errors (E110-E119)
	ErrNameInvalid      = "E110" // name empty or contains control characters
	ErrIncrementZero    = "E111" // increment must be non-zero
	ErrBoundsInverted   = "E112" // min exceeds max
	ErrStartOutOfRange  = "E113" // start outside [min, max]
	ErrChunkSizeInvalid = "E114" // chunk_size outside [1, MaxChunkSize]
	ErrDuplicateName    = "E115" // two sequences normalize to one name

	// Source errors (E120-E129)
	ErrFloatForbidden   = "E120" // float values not allowed
	ErrInvalidFieldType = "E121" // field has the wrong CUE kind
	ErrUnknownField     = "E122" // field not part of the sequence schema
)

// ValidationError represents a schema validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Line    int    `json:"line,omitempty"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("[%s] line %d: %s: %s", e.Code, e.Line, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// violationCodes maps ir.Definition.Violations fields to error codes.
var violationCodes = map[string]string{
	"name":       ErrNameInvalid,
	"increment":  ErrIncrementZero,
	"min_val":    ErrBoundsInverted,
	"start_val":  ErrStartOutOfRange,
	"chunk_size": ErrChunkSizeInvalid,
}

// Validate validates compiled definitions against schema rules.
// Returns all errors found (does not fail-fast).
// Supports a single Definition or a slice of them; a slice is also checked
// for names that collide after normalization.
func Validate(v any) []ValidationError {
	switch def := v.(type) {
	case *ir.Definition:
		return validateDefinition(*def, "")
	case ir.Definition:
		return validateDefinition(def, "")
	case []ir.Definition:
		return validateDefinitions(def)
	default:
		return []ValidationError{{
			Field:   "type",
			Message: fmt.Sprintf("unsupported IR type: %T", v),
			Code:    ErrUnsupportedIRType,
		}}
	}
}

func validateDefinition(def ir.Definition, prefix string) []ValidationError {
	var errs []ValidationError
	for _, viol := range def.Violations() {
		errs = append(errs, ValidationError{
			Field:   prefix + viol.Field,
			Message: viol.Message,
			Code:    violationCodes[viol.Field],
		})
	}
	return errs
}

func validateDefinitions(defs []ir.Definition) []ValidationError {
	var errs []ValidationError
	seen := make(map[string]string, len(defs))
	for i, def := range defs {
		prefix := fmt.Sprintf("sequences[%d].", i)
		errs = append(errs, validateDefinition(def, prefix)...)

		key := ir.NormalizeName(def.Name)
		if key == "" {
			continue
		}
		if first, ok := seen[key]; ok {
			errs = append(errs, ValidationError{
				Field:   prefix + "name",
				Message: fmt.Sprintf("%q collides with %q", def.Name, first),
				Code:    ErrDuplicateName,
			})
			continue
		}
		seen[key] = def.Name
	}
	return errs
}
