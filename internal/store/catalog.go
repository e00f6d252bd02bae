package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/seqd/internal/ir"
)

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

const entryColumns = `display_name, min_val, max_val, increment, cycle, chunk_size, start_val, def_hash, next_start_val, exhausted`

func scanEntry(row rowScanner) (ir.CatalogEntry, error) {
	var e ir.CatalogEntry
	var exhausted bool
	d := &e.Definition
	if err := row.Scan(&d.Name, &d.MinVal, &d.MaxVal, &d.Increment, &d.Cycle, &d.ChunkSize, &d.StartVal,
		&e.Hash, &e.Position.NextStartVal, &exhausted); err != nil {
		return ir.CatalogEntry{}, err
	}
	if exhausted {
		e.Position.Status = ir.StatusExhausted
	}
	return e, nil
}

// Define stores a sequence definition.
//
// Defining the same definition twice is a no-op. A different definition
// under an existing name fails with ir.ErrDefinitionConflict unless replace
// is set, in which case the position restarts at StartVal and the grant log
// of the old definition is dropped.
func (s *Store) Define(ctx context.Context, def ir.Definition, replace bool) (ir.DefineResult, error) {
	if err := def.Validate(); err != nil {
		return "", fmt.Errorf("define: %w", err)
	}
	hash, err := ir.DefinitionHash(def)
	if err != nil {
		return "", fmt.Errorf("define: %w", err)
	}
	key := ir.NormalizeName(def.Name)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("define: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	var existing string
	err = tx.QueryRowContext(ctx, `SELECT def_hash FROM sequences WHERE name = ?`, key).Scan(&existing)
	var result ir.DefineResult
	switch {
	case errors.Is(err, sql.ErrNoRows):
		result = ir.DefineCreated
		_, err = tx.ExecContext(ctx, `
			INSERT INTO sequences
			(name, display_name, min_val, max_val, increment, cycle, chunk_size, start_val, def_hash, next_start_val, exhausted)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)
		`, key, def.Name, def.MinVal, def.MaxVal, def.Increment, def.Cycle, def.ChunkSize, def.StartVal, hash, def.StartVal)
	case err != nil:
		return "", fmt.Errorf("define %q: %w", def.Name, err)
	case existing == hash:
		return ir.DefineUnchanged, nil
	case !replace:
		return "", fmt.Errorf("define %q: %w", def.Name, ir.ErrDefinitionConflict)
	default:
		result = ir.DefineReplaced
		if _, err = tx.ExecContext(ctx, `DELETE FROM chunk_grants WHERE sequence_name = ?`, key); err != nil {
			return "", fmt.Errorf("define %q: clear grants: %w", def.Name, err)
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE sequences SET
				display_name = ?, min_val = ?, max_val = ?, increment = ?, cycle = ?,
				chunk_size = ?, start_val = ?, def_hash = ?, next_start_val = ?, exhausted = 0
			WHERE name = ?
		`, def.Name, def.MinVal, def.MaxVal, def.Increment, def.Cycle, def.ChunkSize, def.StartVal, hash, def.StartVal, key)
	}
	if err != nil {
		return "", fmt.Errorf("define %q: %w", def.Name, err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("define %q: commit: %w", def.Name, err)
	}
	return result, nil
}

// Definitions returns every stored sequence ordered by normalized name.
//
// Returns an empty slice (not nil) if the catalog is empty.
func (s *Store) Definitions(ctx context.Context) ([]ir.CatalogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+entryColumns+`
		FROM sequences
		ORDER BY name COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query sequences: %w", err)
	}
	defer rows.Close()

	entries := []ir.CatalogEntry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan sequence: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sequences: %w", err)
	}
	return entries, nil
}

// Lookup returns one stored sequence or ir.ErrUnknownSequence.
func (s *Store) Lookup(ctx context.Context, name string) (ir.CatalogEntry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM sequences WHERE name = ?`, ir.NormalizeName(name))
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.CatalogEntry{}, fmt.Errorf("lookup %q: %w", name, ir.ErrUnknownSequence)
	}
	if err != nil {
		return ir.CatalogEntry{}, fmt.Errorf("lookup %q: %w", name, err)
	}
	return e, nil
}

// Drop deletes a sequence and its grant log.
func (s *Store) Drop(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sequences WHERE name = ?`, ir.NormalizeName(name))
	if err != nil {
		return fmt.Errorf("drop %q: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("drop %q: %w", name, err)
	}
	if n == 0 {
		return fmt.Errorf("drop %q: %w", name, ir.ErrUnknownSequence)
	}
	return nil
}
