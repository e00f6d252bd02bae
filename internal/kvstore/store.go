package kvstore

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/google/uuid"

	"github.com/roach88/seqd/internal/ir"
)

// IDGenerator produces chunk grant IDs.
type IDGenerator interface {
	Generate() string
}

type uuidV7 struct{}

func (uuidV7) Generate() string { return uuid.Must(uuid.NewV7()).String() }

// Store is the Pebble catalog and chunk store.
type Store struct {
	db  *pebble.DB
	ids IDGenerator

	// mu serializes read-modify-write cycles; pebble batches alone do not
	// isolate the reads. Readers hold it shared so Close waits for them.
	mu sync.RWMutex
}

// ErrClosed is returned by operations on a closed Store.
var ErrClosed = errors.New("kvstore: store is closed")

// Option configures a Store.
type Option func(*Store)

// WithIDGenerator sets the grant ID generator. Default: UUIDv7.
func WithIDGenerator(g IDGenerator) Option {
	return func(s *Store) {
		s.ids = g
	}
}

// Open opens or creates a Pebble database in dir.
func Open(dir string, opts ...Option) (*Store, error) {
	return open(dir, &pebble.Options{}, opts)
}

// OpenInMemory opens a Pebble database backed by memory only.
func OpenInMemory(opts ...Option) (*Store, error) {
	return open("", &pebble.Options{FS: vfs.NewMem()}, opts)
}

func open(dir string, po *pebble.Options, opts []Option) (*Store, error) {
	db, err := pebble.Open(dir, po)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble: %w", err)
	}
	s := &Store{db: db, ids: uuidV7{}}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close closes the database after in-flight operations finish. Later calls
// are no-ops.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

type defRecord struct {
	Definition ir.Definition `json:"definition"`
	Hash       string        `json:"hash"`
}

// checkOpen reports ErrClosed once Close has run. The caller holds s.mu.
func (s *Store) checkOpen() error {
	if s.db == nil {
		return ErrClosed
	}
	return nil
}

// getJSON decodes the value at key into v. It reports false if the key is
// absent.
func (s *Store) getJSON(key []byte, v any) (bool, error) {
	val, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get %q: %w", key, err)
	}
	defer closer.Close()
	if err := json.Unmarshal(val, v); err != nil {
		return false, fmt.Errorf("decode %q: %w", key, err)
	}
	return true, nil
}

func setJSON(b *pebble.Batch, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %q: %w", key, err)
	}
	return b.Set(key, data, nil)
}

// nextGrantSeq reads the grant counter and stages its increment in b.
func (s *Store) nextGrantSeq(b *pebble.Batch) (int64, error) {
	var last uint64
	val, closer, err := s.db.Get(grantSeqKey)
	switch {
	case errors.Is(err, pebble.ErrNotFound):
	case err != nil:
		return 0, fmt.Errorf("get grant seq: %w", err)
	default:
		if len(val) != 8 {
			closer.Close()
			return 0, errors.New("invalid grant seq length")
		}
		last = binary.BigEndian.Uint64(val)
		closer.Close()
	}
	next := last + 1
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, next)
	if err := b.Set(grantSeqKey, buf, nil); err != nil {
		return 0, err
	}
	return int64(next), nil
}

// entry loads the definition and position stored under key.
func (s *Store) entry(key string) (ir.CatalogEntry, bool, error) {
	var rec defRecord
	ok, err := s.getJSON(defKey(key), &rec)
	if err != nil || !ok {
		return ir.CatalogEntry{}, ok, err
	}
	var pos ir.Position
	if _, err := s.getJSON(posKey(key), &pos); err != nil {
		return ir.CatalogEntry{}, false, err
	}
	return ir.CatalogEntry{Definition: rec.Definition, Hash: rec.Hash, Position: pos}, true, nil
}
