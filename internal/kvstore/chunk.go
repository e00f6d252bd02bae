package kvstore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/pebble"

	"github.com/roach88/seqd/internal/ir"
)

// AllocateChunk reserves the next chunk of def's sequence. The new position,
// the grant and the grant counter commit in one synced batch.
func (s *Store) AllocateChunk(ctx context.Context, def ir.Definition) (ir.Chunk, error) {
	if err := ctx.Err(); err != nil {
		return ir.Chunk{}, err
	}
	hash, err := ir.DefinitionHash(def)
	if err != nil {
		return ir.Chunk{}, fmt.Errorf("allocate chunk: %w", err)
	}
	key := ir.NormalizeName(def.Name)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return ir.Chunk{}, fmt.Errorf("allocate chunk %q: %w", def.Name, err)
	}

	var rec defRecord
	found, err := s.getJSON(defKey(key), &rec)
	if err != nil {
		return ir.Chunk{}, fmt.Errorf("allocate chunk %q: %w", def.Name, err)
	}
	if !found {
		return ir.Chunk{}, fmt.Errorf("allocate chunk %q: %w", def.Name, ir.ErrUnknownSequence)
	}
	if rec.Hash != hash {
		return ir.Chunk{}, fmt.Errorf("allocate chunk %q: %w", def.Name, ir.ErrStaleDefinition)
	}
	var pos ir.Position
	if _, err := s.getJSON(posKey(key), &pos); err != nil {
		return ir.Chunk{}, fmt.Errorf("allocate chunk %q: %w", def.Name, err)
	}

	chunk, next := def.Allocate(pos)
	if next == pos {
		return chunk, nil
	}

	b := s.db.NewBatch()
	defer b.Close()
	seq, err := s.nextGrantSeq(b)
	if err != nil {
		return ir.Chunk{}, fmt.Errorf("allocate chunk %q: %w", def.Name, err)
	}
	grant := ir.Grant{
		ID:           s.ids.Generate(),
		Seq:          seq,
		Sequence:     rec.Definition.Name,
		FirstVal:     pos.NextStartVal,
		Count:        chunk.Remaining,
		NextStartVal: next.NextStartVal,
		Exhausted:    next.Status == ir.StatusExhausted,
	}
	if err := setJSON(b, posKey(key), next); err != nil {
		return ir.Chunk{}, err
	}
	if err := setJSON(b, grantKey(key, seq), grant); err != nil {
		return ir.Chunk{}, err
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return ir.Chunk{}, fmt.Errorf("allocate chunk %q: commit: %w", def.Name, err)
	}
	return chunk, nil
}

// History returns the grant log of a sequence in allocation order.
func (s *Store) History(ctx context.Context, name string) ([]ir.Grant, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key := ir.NormalizeName(name)
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, fmt.Errorf("history %q: %w", name, err)
	}
	var rec defRecord
	found, err := s.getJSON(defKey(key), &rec)
	if err != nil {
		return nil, fmt.Errorf("history %q: %w", name, err)
	}
	if !found {
		return nil, fmt.Errorf("history %q: %w", name, ir.ErrUnknownSequence)
	}

	prefix := grantsPrefix(key)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: upperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("history %q: %w", name, err)
	}
	defer iter.Close()

	grants := []ir.Grant{}
	for iter.First(); iter.Valid(); iter.Next() {
		var g ir.Grant
		if err := json.Unmarshal(iter.Value(), &g); err != nil {
			return nil, fmt.Errorf("decode grant %q: %w", iter.Key(), err)
		}
		grants = append(grants, g)
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("history %q: %w", name, err)
	}
	return grants, nil
}
