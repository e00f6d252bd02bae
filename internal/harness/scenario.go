package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/seqd/internal/ir"
	"github.com/roach88/seqd/internal/sequence"
)

// Scenario defines a conformance test scenario.
// A scenario defines sequences on a fresh in-memory store, injects chunk
// store faults, dispenses values and asserts on the resulting event trace.
type Scenario struct {
	// Name uniquely identifies this scenario. Golden files are named after it.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// RefillPolicy is discard or deliver. Empty means discard.
	RefillPolicy string `yaml:"refill_policy,omitempty"`

	// Sequences are defined, in order, before the first step.
	Sequences []ir.Definition `yaml:"sequences"`

	// Faults lists the chunk store calls that fail, numbered from 1 across
	// all sequences.
	Faults []int `yaml:"faults,omitempty"`

	// Steps run in order.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final trace and states.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// Step is one scenario action. Exactly one of Next and Drop is set.
type Step struct {
	// Next names the sequence to dispense from.
	Next string `yaml:"next,omitempty"`

	// Count dispenses a batch of this many values in one call.
	// Zero dispenses a single value.
	Count int `yaml:"count,omitempty"`

	// Repeat runs the step this many times. Zero runs it once.
	Repeat int `yaml:"repeat,omitempty"`

	// Drop names the sequence to delete.
	Drop string `yaml:"drop,omitempty"`

	// Expect validates the outcome of a next step. Nil skips validation.
	Expect *Expect `yaml:"expect,omitempty"`
}

// times returns how often the step runs.
func (s Step) times() int {
	if s.Repeat > 0 {
		return s.Repeat
	}
	return 1
}

// Expect describes the outcome of a next step across all its repetitions.
type Expect struct {
	// Value is the single value the step must dispense.
	Value *int64 `yaml:"value,omitempty"`

	// Values are the values the step must dispense, in order.
	Values []int64 `yaml:"values,omitempty"`

	// Error is the error code every repetition must fail with.
	Error string `yaml:"error,omitempty"`
}

// Assertion validates the trace or the final states.
type Assertion struct {
	// Type specifies the assertion type:
	// - "trace_contains": an event matching kind, sequence, code, result and value exists
	// - "trace_order": events of the listed kinds appear in that order
	// - "trace_count": exactly count events of kind exist
	// - "refill_count": the sequence was refilled exactly count times
	// - "values": the sequence dispensed exactly these values
	// - "final_status": the sequence ended in status
	Type string `yaml:"type"`

	Sequence string   `yaml:"sequence,omitempty"`
	Kind     string   `yaml:"kind,omitempty"`
	Kinds    []string `yaml:"kinds,omitempty"`
	Code     string   `yaml:"code,omitempty"`
	Result   string   `yaml:"result,omitempty"`
	Status   string   `yaml:"status,omitempty"`
	Value    *int64   `yaml:"value,omitempty"`
	Values   []int64  `yaml:"values,omitempty"`
	Count    *int     `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertRefillCount   = "refill_count"
	AssertValues        = "values"
	AssertFinalStatus   = "final_status"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Reject unknown fields so "assertion:" is not silently ignored.
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
// Sequence definitions are validated when the scenario runs.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Sequences) == 0 {
		return fmt.Errorf("sequences list is required and must be non-empty")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if _, err := sequence.ParseRefillPolicy(s.RefillPolicy); err != nil {
		return err
	}
	for i, call := range s.Faults {
		if call < 1 {
			return fmt.Errorf("faults[%d]: call numbers start at 1, got %d", i, call)
		}
	}

	for i, step := range s.Steps {
		if err := validateStep(i, step); err != nil {
			return err
		}
	}
	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, s Step) error {
	switch {
	case s.Next == "" && s.Drop == "":
		return fmt.Errorf("steps[%d]: next or drop is required", index)
	case s.Next != "" && s.Drop != "":
		return fmt.Errorf("steps[%d]: next and drop are mutually exclusive", index)
	case s.Count < 0 || s.Repeat < 0:
		return fmt.Errorf("steps[%d]: count and repeat must not be negative", index)
	case s.Count > ir.MaxChunkSize || s.Repeat > ir.MaxChunkSize:
		return fmt.Errorf("steps[%d]: count and repeat must not exceed %d", index, ir.MaxChunkSize)
	}
	if s.Drop != "" {
		if s.Expect != nil || s.Count != 0 || s.Repeat != 0 {
			return fmt.Errorf("steps[%d]: drop takes no expect, count or repeat", index)
		}
		return nil
	}
	if s.Expect == nil {
		return nil
	}

	e := s.Expect
	set := 0
	if e.Value != nil {
		set++
	}
	if e.Values != nil {
		set++
	}
	if set > 1 {
		return fmt.Errorf("steps[%d].expect: value and values are mutually exclusive", index)
	}
	if e.Value != nil && (s.times() > 1 || s.Count > 1) {
		return fmt.Errorf("steps[%d].expect: value needs a single-value step, use values", index)
	}
	if set == 0 && e.Error == "" {
		return fmt.Errorf("steps[%d].expect: value, values or error is required", index)
	}
	if e.Error != "" && !knownCode(e.Error) {
		return fmt.Errorf("steps[%d].expect: unknown error code %q", index, e.Error)
	}
	return nil
}

func knownCode(code string) bool {
	switch sequence.ErrorCode(code) {
	case sequence.CodeNotFound, sequence.CodeExhausted, sequence.CodeRefillFailed, sequence.CodeLockTimeout:
		return true
	}
	return false
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertTraceContains:
		if a.Kind == "" {
			return fmt.Errorf("assertions[%d]: kind is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Kinds) == 0 {
			return fmt.Errorf("assertions[%d]: kinds list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Kind == "" || a.Count == nil {
			return fmt.Errorf("assertions[%d]: kind and count are required for trace_count", index)
		}
	case AssertRefillCount:
		if a.Sequence == "" || a.Count == nil {
			return fmt.Errorf("assertions[%d]: sequence and count are required for refill_count", index)
		}
	case AssertValues:
		if a.Sequence == "" || a.Values == nil {
			return fmt.Errorf("assertions[%d]: sequence and values are required for values", index)
		}
	case AssertFinalStatus:
		if a.Sequence == "" {
			return fmt.Errorf("assertions[%d]: sequence is required for final_status", index)
		}
		if _, err := ir.ParseStatus(a.Status); err != nil {
			return fmt.Errorf("assertions[%d]: %w", index, err)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	if a.Count != nil && *a.Count < 0 {
		return fmt.Errorf("assertions[%d]: count must not be negative", index)
	}
	return nil
}
