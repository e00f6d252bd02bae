package kvstore

import (
	"context"
	"fmt"

	"github.com/cockroachdb/pebble"

	"github.com/roach88/seqd/internal/ir"
)

// Export returns every sequence with its position as a portable catalog.
func (s *Store) Export(ctx context.Context) (ir.Catalog, error) {
	entries, err := s.Definitions(ctx)
	if err != nil {
		return ir.Catalog{}, fmt.Errorf("export: %w", err)
	}
	return ir.Catalog{Version: ir.CatalogVersion, Sequences: entries}, nil
}

// Import adds every sequence of cat with its position in one batch. If any
// name already exists nothing is written and ir.ErrDuplicateSequence is
// returned.
func (s *Store) Import(ctx context.Context, cat ir.Catalog) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := cat.Check(); err != nil {
		return 0, fmt.Errorf("import: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return 0, fmt.Errorf("import: %w", err)
	}

	b := s.db.NewBatch()
	defer b.Close()
	for _, e := range cat.Sequences {
		key := ir.NormalizeName(e.Definition.Name)
		var rec defRecord
		found, err := s.getJSON(defKey(key), &rec)
		if err != nil {
			return 0, fmt.Errorf("import %q: %w", e.Definition.Name, err)
		}
		if found {
			return 0, fmt.Errorf("import %q: %w", e.Definition.Name, ir.ErrDuplicateSequence)
		}
		if err := setJSON(b, defKey(key), defRecord{Definition: e.Definition, Hash: e.Hash}); err != nil {
			return 0, err
		}
		if err := setJSON(b, posKey(key), e.Position); err != nil {
			return 0, err
		}
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return 0, fmt.Errorf("import: commit: %w", err)
	}
	return len(cat.Sequences), nil
}
