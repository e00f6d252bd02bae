package ir

import (
	"errors"
	"fmt"
)

// Catalog errors shared by every backend.
var (
	// ErrUnknownSequence indicates no definition is stored under the name.
	ErrUnknownSequence = errors.New("unknown sequence")

	// ErrDefinitionConflict indicates a different definition already exists
	// under the same name.
	ErrDefinitionConflict = errors.New("definition conflict")

	// ErrDuplicateSequence indicates an import names a sequence that
	// already exists.
	ErrDuplicateSequence = errors.New("sequence already exists")

	// ErrStaleDefinition indicates a chunk was requested with a definition
	// that no longer matches the stored one.
	ErrStaleDefinition = errors.New("stale definition")
)

// DefineResult reports what Define did.
type DefineResult string

const (
	DefineCreated   DefineResult = "created"
	DefineUnchanged DefineResult = "unchanged"
	DefineReplaced  DefineResult = "replaced"
)

// CatalogEntry is one stored sequence: its definition, the definition's
// hash and the allocation cursor.
type CatalogEntry struct {
	Definition Definition `json:"definition" yaml:"definition"`
	Hash       string     `json:"hash" yaml:"hash"`
	Position   Position   `json:"position" yaml:"position"`
}

// Catalog is the portable form of a backend's sequences, used by export and
// import.
type Catalog struct {
	Version   string         `json:"version" yaml:"version"`
	Sequences []CatalogEntry `json:"sequences" yaml:"sequences"`
}

// Check validates every entry of an imported catalog: the version, the
// definitions, positions within bounds, unique names, and hashes that match
// their definitions. An empty hash is filled in.
func (c *Catalog) Check() error {
	if c.Version != CatalogVersion {
		return fmt.Errorf("catalog version %q not supported (want %q)", c.Version, CatalogVersion)
	}
	seen := make(map[string]bool, len(c.Sequences))
	for i := range c.Sequences {
		e := &c.Sequences[i]
		if err := e.Definition.Validate(); err != nil {
			return fmt.Errorf("sequences[%d]: %w", i, err)
		}
		key := NormalizeName(e.Definition.Name)
		if seen[key] {
			return fmt.Errorf("sequences[%d]: %w: %q listed twice", i, ErrDuplicateSequence, e.Definition.Name)
		}
		seen[key] = true

		hash, err := DefinitionHash(e.Definition)
		if err != nil {
			return fmt.Errorf("sequences[%d]: %w", i, err)
		}
		if e.Hash == "" {
			e.Hash = hash
		} else if e.Hash != hash {
			return fmt.Errorf("sequences[%d]: hash %s does not match definition of %q", i, e.Hash, e.Definition.Name)
		}

		p := e.Position
		if p.Status == StatusActive && (p.NextStartVal < e.Definition.MinVal || p.NextStartVal > e.Definition.MaxVal) {
			return fmt.Errorf("sequences[%d]: position %d outside [%d, %d]", i, p.NextStartVal, e.Definition.MinVal, e.Definition.MaxVal)
		}
	}
	return nil
}

// Grant is one chunk handed out by a backend, as recorded in its grant log.
type Grant struct {
	ID           string `json:"id" yaml:"id"`
	Seq          int64  `json:"seq" yaml:"seq"`
	Sequence     string `json:"sequence" yaml:"sequence"`
	FirstVal     int64  `json:"first_val" yaml:"first_val"`
	Count        int64  `json:"count" yaml:"count"`
	NextStartVal int64  `json:"next_start_val" yaml:"next_start_val"`
	Exhausted    bool   `json:"exhausted" yaml:"exhausted"`
}
