package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

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

// Import adds every sequence of cat with its position. It is all or nothing:
// if any name already exists the import fails with ir.ErrDuplicateSequence
// and nothing is written. Grant logs are not carried over.
func (s *Store) Import(ctx context.Context, cat ir.Catalog) (int, error) {
	if err := cat.Check(); err != nil {
		return 0, fmt.Errorf("import: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("import: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	for _, e := range cat.Sequences {
		d := e.Definition
		key := ir.NormalizeName(d.Name)

		var one int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM sequences WHERE name = ?`, key).Scan(&one)
		if err == nil {
			return 0, fmt.Errorf("import %q: %w", d.Name, ir.ErrDuplicateSequence)
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("import %q: %w", d.Name, err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO sequences
			(name, display_name, min_val, max_val, increment, cycle, chunk_size, start_val, def_hash, next_start_val, exhausted)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, key, d.Name, d.MinVal, d.MaxVal, d.Increment, d.Cycle, d.ChunkSize, d.StartVal, e.Hash,
			e.Position.NextStartVal, e.Position.Status == ir.StatusExhausted)
		if err != nil {
			return 0, fmt.Errorf("import %q: %w", d.Name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("import: commit: %w", err)
	}
	return len(cat.Sequences), nil
}
