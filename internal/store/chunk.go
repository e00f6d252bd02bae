package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/seqd/internal/ir"
)

// AllocateChunk reserves the next chunk of def's sequence.
//
// The position update and the grant row commit together. A failed call
// leaves the position untouched, so the caller may retry it.
func (s *Store) AllocateChunk(ctx context.Context, def ir.Definition) (ir.Chunk, error) {
	hash, err := ir.DefinitionHash(def)
	if err != nil {
		return ir.Chunk{}, fmt.Errorf("allocate chunk: %w", err)
	}
	key := ir.NormalizeName(def.Name)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ir.Chunk{}, fmt.Errorf("allocate chunk %q: begin tx: %w", def.Name, err)
	}
	defer tx.Rollback() // No-op if committed

	var storedHash string
	var pos ir.Position
	var exhausted bool
	err = tx.QueryRowContext(ctx, `
		SELECT def_hash, next_start_val, exhausted FROM sequences WHERE name = ?
	`, key).Scan(&storedHash, &pos.NextStartVal, &exhausted)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.Chunk{}, fmt.Errorf("allocate chunk %q: %w", def.Name, ir.ErrUnknownSequence)
	}
	if err != nil {
		return ir.Chunk{}, fmt.Errorf("allocate chunk %q: %w", def.Name, err)
	}
	if storedHash != hash {
		return ir.Chunk{}, fmt.Errorf("allocate chunk %q: %w", def.Name, ir.ErrStaleDefinition)
	}
	if exhausted {
		pos.Status = ir.StatusExhausted
	}

	chunk, next := def.Allocate(pos)
	if next == pos {
		// Exhausted already: nothing to record.
		return chunk, nil
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE sequences SET next_start_val = ?, exhausted = ? WHERE name = ?
	`, next.NextStartVal, next.Status == ir.StatusExhausted, key)
	if err != nil {
		return ir.Chunk{}, fmt.Errorf("allocate chunk %q: update position: %w", def.Name, err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO chunk_grants (id, sequence_name, first_val, count, next_start_val, exhausted)
		VALUES (?, ?, ?, ?, ?, ?)
	`, s.ids.Generate(), key, pos.NextStartVal, chunk.Remaining, next.NextStartVal, next.Status == ir.StatusExhausted)
	if err != nil {
		return ir.Chunk{}, fmt.Errorf("allocate chunk %q: record grant: %w", def.Name, err)
	}

	if err := tx.Commit(); err != nil {
		return ir.Chunk{}, fmt.Errorf("allocate chunk %q: commit: %w", def.Name, err)
	}
	return chunk, nil
}

// History returns the grant log of a sequence in allocation order.
//
// Returns an empty slice (not nil) if no chunk was handed out yet.
func (s *Store) History(ctx context.Context, name string) ([]ir.Grant, error) {
	key := ir.NormalizeName(name)
	var displayName string
	err := s.db.QueryRowContext(ctx, `SELECT display_name FROM sequences WHERE name = ?`, key).Scan(&displayName)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("history %q: %w", name, ir.ErrUnknownSequence)
	}
	if err != nil {
		return nil, fmt.Errorf("history %q: %w", name, err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, seq, first_val, count, next_start_val, exhausted
		FROM chunk_grants
		WHERE sequence_name = ?
		ORDER BY seq ASC
	`, key)
	if err != nil {
		return nil, fmt.Errorf("query grants: %w", err)
	}
	defer rows.Close()

	grants := []ir.Grant{}
	for rows.Next() {
		g := ir.Grant{Sequence: displayName}
		if err := rows.Scan(&g.ID, &g.Seq, &g.FirstVal, &g.Count, &g.NextStartVal, &g.Exhausted); err != nil {
			return nil, fmt.Errorf("scan grant: %w", err)
		}
		grants = append(grants, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate grants: %w", err)
	}
	return grants, nil
}
