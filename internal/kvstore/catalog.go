package kvstore

import (
	"context"
	"fmt"

	"github.com/cockroachdb/pebble"

	"github.com/roach88/seqd/internal/ir"
)

// Define stores a sequence definition with the same rules as the SQLite
// backend: identical definitions are a no-op, a different one conflicts
// unless replace is set, and replacing restarts the position.
func (s *Store) Define(ctx context.Context, def ir.Definition, replace bool) (ir.DefineResult, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := def.Validate(); err != nil {
		return "", fmt.Errorf("define: %w", err)
	}
	hash, err := ir.DefinitionHash(def)
	if err != nil {
		return "", fmt.Errorf("define: %w", err)
	}
	key := ir.NormalizeName(def.Name)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return "", fmt.Errorf("define %q: %w", def.Name, err)
	}

	var existing defRecord
	found, err := s.getJSON(defKey(key), &existing)
	if err != nil {
		return "", fmt.Errorf("define %q: %w", def.Name, err)
	}
	result := ir.DefineCreated
	if found {
		switch {
		case existing.Hash == hash:
			return ir.DefineUnchanged, nil
		case !replace:
			return "", fmt.Errorf("define %q: %w", def.Name, ir.ErrDefinitionConflict)
		}
		result = ir.DefineReplaced
	}

	b := s.db.NewBatch()
	defer b.Close()
	if found {
		prefix := grantsPrefix(key)
		if err := b.DeleteRange(prefix, upperBound(prefix), nil); err != nil {
			return "", fmt.Errorf("define %q: clear grants: %w", def.Name, err)
		}
	}
	if err := setJSON(b, defKey(key), defRecord{Definition: def, Hash: hash}); err != nil {
		return "", err
	}
	if err := setJSON(b, posKey(key), def.InitialPosition()); err != nil {
		return "", err
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return "", fmt.Errorf("define %q: commit: %w", def.Name, err)
	}
	return result, nil
}

// Definitions returns every stored sequence ordered by normalized name.
func (s *Store) Definitions(ctx context.Context) ([]ir.CatalogEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, fmt.Errorf("iterate definitions: %w", err)
	}
	prefix := []byte(defPrefix)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: upperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("iterate definitions: %w", err)
	}
	defer iter.Close()

	var keys []string
	for iter.First(); iter.Valid(); iter.Next() {
		keys = append(keys, string(iter.Key()[len(prefix):]))
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("iterate definitions: %w", err)
	}

	entries := make([]ir.CatalogEntry, 0, len(keys))
	for _, key := range keys {
		e, ok, err := s.entry(key)
		if err != nil {
			return nil, err
		}
		if ok {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

// Lookup returns one stored sequence or ir.ErrUnknownSequence.
func (s *Store) Lookup(ctx context.Context, name string) (ir.CatalogEntry, error) {
	if err := ctx.Err(); err != nil {
		return ir.CatalogEntry{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return ir.CatalogEntry{}, fmt.Errorf("lookup %q: %w", name, err)
	}
	e, ok, err := s.entry(ir.NormalizeName(name))
	if err != nil {
		return ir.CatalogEntry{}, fmt.Errorf("lookup %q: %w", name, err)
	}
	if !ok {
		return ir.CatalogEntry{}, fmt.Errorf("lookup %q: %w", name, ir.ErrUnknownSequence)
	}
	return e, nil
}

// Drop deletes a sequence and its grant log.
func (s *Store) Drop(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key := ir.NormalizeName(name)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen(); err != nil {
		return fmt.Errorf("drop %q: %w", name, err)
	}

	var rec defRecord
	found, err := s.getJSON(defKey(key), &rec)
	if err != nil {
		return fmt.Errorf("drop %q: %w", name, err)
	}
	if !found {
		return fmt.Errorf("drop %q: %w", name, ir.ErrUnknownSequence)
	}

	b := s.db.NewBatch()
	defer b.Close()
	prefix := grantsPrefix(key)
	if err := b.DeleteRange(prefix, upperBound(prefix), nil); err != nil {
		return fmt.Errorf("drop %q: %w", name, err)
	}
	if err := b.Delete(defKey(key), nil); err != nil {
		return fmt.Errorf("drop %q: %w", name, err)
	}
	if err := b.Delete(posKey(key), nil); err != nil {
		return fmt.Errorf("drop %q: %w", name, err)
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("drop %q: commit: %w", name, err)
	}
	return nil
}
