package testutil

import (
	"fmt"
	"sync"
)

// SequentialIDs generates predictable chunk grant IDs.
//
// Real stores use UUIDv7; tests and golden traces need IDs that are the same
// on every run. The same scenario with a fresh SequentialIDs produces
// byte-identical grant logs.
//
// Thread-safety: safe for concurrent use.
type SequentialIDs struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequentialIDs creates a generator producing "<prefix>-000001", ...
//
// If prefix is empty, "grant" is used.
func NewSequentialIDs(prefix string) *SequentialIDs {
	if prefix == "" {
		prefix = "grant"
	}
	return &SequentialIDs{prefix: prefix}
}

// Generate returns the next ID.
func (g *SequentialIDs) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%06d", g.prefix, g.n)
}
