package compiler

import (
	"fmt"
	"math"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/seqd/internal/ir"
)

// sequenceFields are the fields a sequence struct may declare.
var sequenceFields = map[string]bool{
	"name":       true,
	"min":        true,
	"max":        true,
	"increment":  true,
	"cycle":      true,
	"chunk_size": true,
	"start":      true,
}

// CompileSequences compiles every field of the top-level "sequence" struct.
// It keeps going after a failed sequence and returns all errors.
func CompileSequences(root cue.Value) ([]ir.Definition, []error) {
	seqs := root.LookupPath(cue.ParsePath("sequence"))
	if !seqs.Exists() {
		return nil, nil
	}
	iter, err := seqs.Fields()
	if err != nil {
		return nil, []error{formatCUEError(err)}
	}

	var defs []ir.Definition
	var errs []error
	for iter.Next() {
		def, err := CompileSequence(iter.Value())
		if err != nil {
			errs = append(errs, err)
			continue
		}
		defs = append(defs, *def)
	}
	return defs, errs
}

// CompileSequence parses a CUE value into a sequence definition.
// Uses CUE SDK's Go API directly (not CLI subprocess).
//
// The value is the sequence struct itself, labelled with the sequence name:
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`sequence: orders: { chunk_size: 50 }`)
//	def, err := CompileSequence(v.LookupPath(cue.ParsePath("sequence.orders")))
//
// Omitted fields take the SQL defaults. Increment is 1. An ascending sequence
// spans [1, MaxInt64] and a descending one [MinInt64, -1]. Start is the bound
// the sequence counts away from, and chunk_size is 1.
func CompileSequence(v cue.Value) (*ir.Definition, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	iter, err := v.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for iter.Next() {
		if !sequenceFields[iter.Label()] {
			return nil, &CompileError{
				Field:   iter.Label(),
				Message: "unknown sequence field",
				Code:    ErrUnknownField,
				Pos:     iter.Value().Pos(),
			}
		}
	}

	def := &ir.Definition{Increment: 1, ChunkSize: 1}
	if label, ok := v.Label(); ok {
		def.Name = label
	}

	// An explicit name wins over the label
	nameVal := v.LookupPath(cue.ParsePath("name"))
	if nameVal.Exists() {
		name, err := nameVal.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		def.Name = name
	}

	if inc, ok, err := lookupInt(v, "increment"); err != nil {
		return nil, err
	} else if ok {
		def.Increment = inc
	}

	def.MinVal, def.MaxVal = 1, math.MaxInt64
	if !def.Ascending() {
		def.MinVal, def.MaxVal = math.MinInt64, -1
	}
	if n, ok, err := lookupInt(v, "min"); err != nil {
		return nil, err
	} else if ok {
		def.MinVal = n
	}
	if n, ok, err := lookupInt(v, "max"); err != nil {
		return nil, err
	} else if ok {
		def.MaxVal = n
	}

	def.StartVal = def.MinVal
	if !def.Ascending() {
		def.StartVal = def.MaxVal
	}
	if n, ok, err := lookupInt(v, "start"); err != nil {
		return nil, err
	} else if ok {
		def.StartVal = n
	}

	if n, ok, err := lookupInt(v, "chunk_size"); err != nil {
		return nil, err
	} else if ok {
		def.ChunkSize = n
	}

	cycleVal := v.LookupPath(cue.ParsePath("cycle"))
	if cycleVal.Exists() {
		cycle, err := cycleVal.Bool()
		if err != nil {
			return nil, formatCUEError(err)
		}
		def.Cycle = cycle
	}

	return def, nil
}

// lookupInt reads an optional integer field. Floats are forbidden.
func lookupInt(v cue.Value, field string) (int64, bool, error) {
	f := v.LookupPath(cue.ParsePath(field))
	if !f.Exists() {
		return 0, false, nil
	}
	switch f.IncompleteKind() {
	case cue.IntKind:
	case cue.FloatKind, cue.NumberKind:
		return 0, false, &CompileError{
			Field:   field,
			Message: "float values are forbidden - use int instead",
			Code:    ErrFloatForbidden,
			Pos:     f.Pos(),
		}
	default:
		return 0, false, &CompileError{
			Field:   field,
			Message: fmt.Sprintf("must be an integer, got %v", f.IncompleteKind()),
			Code:    ErrInvalidFieldType,
			Pos:     f.Pos(),
		}
	}
	n, err := f.Int64()
	if err != nil {
		return 0, false, formatCUEError(err)
	}
	return n, true, nil
}

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Code    string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	// CUE errors may contain multiple errors
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	firstErr := errs[0]
	positions := errors.Positions(firstErr)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: firstErr.Error(),
			Code:    ErrCUE,
			Pos:     positions[0],
		}
	}

	return err
}
