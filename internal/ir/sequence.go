package ir

import (
	"fmt"
	"strings"
	"unicode"
)

// MaxChunkSize bounds how many values a single refill may reserve.
const MaxChunkSize = 1 << 20

// Definition is the static, persisted definition of one sequence.
// It is what a chunk store receives on every refill.
type Definition struct {
	Name      string `json:"name" yaml:"name"`
	MinVal    int64  `json:"min_val" yaml:"min_val"`
	MaxVal    int64  `json:"max_val" yaml:"max_val"`
	Increment int64  `json:"increment" yaml:"increment"`
	Cycle     bool   `json:"cycle" yaml:"cycle"`
	ChunkSize int64  `json:"chunk_size" yaml:"chunk_size"`
	StartVal  int64  `json:"start_val" yaml:"start_val"`
}

// Ascending reports whether the sequence counts upwards.
func (d Definition) Ascending() bool {
	return d.Increment > 0
}

// InRange reports whether v lies within [MinVal, MaxVal].
func (d Definition) InRange(v int64) bool {
	return v >= d.MinVal && v <= d.MaxVal
}

// Status is the lifecycle state of a sequence.
type Status int32

const (
	// StatusActive sequences can dispense values.
	StatusActive Status = iota
	// StatusExhausted sequences have permanently run out of values.
	StatusExhausted
)

// String returns the lowercase status name used in JSON, YAML and logs.
func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusExhausted:
		return "exhausted"
	default:
		return fmt.Sprintf("status(%d)", int32(s))
	}
}

// ParseStatus parses the output of Status.String.
func ParseStatus(s string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "active":
		return StatusActive, nil
	case "exhausted":
		return StatusExhausted, nil
	default:
		return StatusActive, fmt.Errorf("unknown sequence status %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(text []byte) error {
	parsed, err := ParseStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Chunk is a chunk store's reply to a refill request.
//
// Status is StatusExhausted if and only if Remaining is zero. A chunk that
// reserves the final values of a non-cycling sequence is still reported active;
// the store remembers the exhaustion and reports it on the following request.
//
// FirstVal is the first value of an active chunk. It is zero for an
// exhausted reply.
type Chunk struct {
	Status       Status `json:"status"`
	FirstVal     int64  `json:"first_val"`
	Remaining    int64  `json:"remaining"`
	NextStartVal int64  `json:"next_start_val"`
}

// Position is the persisted allocation cursor of a sequence: the first value
// not yet handed out in a chunk, or exhausted.
type Position struct {
	NextStartVal int64  `json:"next_start_val" yaml:"next_start_val"`
	Status       Status `json:"status" yaml:"status"`
}

// InitialPosition returns the position of a freshly defined sequence.
func (d Definition) InitialPosition() Position {
	return Position{NextStartVal: d.StartVal, Status: StatusActive}
}

// Violation describes one broken definition rule.
type Violation struct {
	Field   string
	Message string
}

func (v Violation) Error() string {
	return fmt.Sprintf("%s: %s", v.Field, v.Message)
}

// Violations returns every rule the definition breaks, in field order.
func (d Definition) Violations() []Violation {
	var out []Violation
	if NormalizeName(d.Name) == "" {
		out = append(out, Violation{Field: "name", Message: "name is required"})
	} else if strings.IndexFunc(strings.TrimSpace(d.Name), unicode.IsControl) >= 0 {
		out = append(out, Violation{Field: "name", Message: "name must not contain control characters"})
	}
	if d.Increment == 0 {
		out = append(out, Violation{Field: "increment", Message: "increment must be non-zero"})
	}
	if d.MinVal > d.MaxVal {
		out = append(out, Violation{Field: "min_val", Message: fmt.Sprintf("min_val %d exceeds max_val %d", d.MinVal, d.MaxVal)})
	} else if !d.InRange(d.StartVal) {
		out = append(out, Violation{Field: "start_val", Message: fmt.Sprintf("start_val %d outside [%d, %d]", d.StartVal, d.MinVal, d.MaxVal)})
	}
	if d.ChunkSize < 1 || d.ChunkSize > MaxChunkSize {
		out = append(out, Violation{Field: "chunk_size", Message: fmt.Sprintf("chunk_size must be in [1, %d]", MaxChunkSize)})
	}
	return out
}

// Validate returns the first violation, or nil for a usable definition.
func (d Definition) Validate() error {
	if v := d.Violations(); len(v) > 0 {
		return fmt.Errorf("invalid sequence %q: %w", d.Name, v[0])
	}
	return nil
}
