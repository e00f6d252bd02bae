package store

import (
	"path/filepath"
	"testing"

	"github.com/roach88/seqd/internal/ir"
	"github.com/roach88/seqd/internal/testutil"
)

// createTestStore creates a new file-backed store with predictable grant IDs.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, WithIDGenerator(testutil.NewSequentialIDs("g")))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// testDefinition creates a small ascending definition.
func testDefinition(name string) ir.Definition {
	return ir.Definition{Name: name, MinVal: 1, MaxVal: 10, Increment: 1, ChunkSize: 4, StartVal: 1}
}
