package testutil

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/roach88/seqd/internal/ir"
)

// ChunkAllocator is the chunk store contract, restated here so testutil does
// not import the packages it helps test.
type ChunkAllocator interface {
	AllocateChunk(ctx context.Context, def ir.Definition) (ir.Chunk, error)
}

// MemoryChunkStore allocates chunks from in-memory positions using the same
// rules as the persistent stores.
//
// Thread-safety: safe for concurrent use.
type MemoryChunkStore struct {
	mu        sync.Mutex
	positions map[string]ir.Position
	calls     map[string]int
}

// NewMemoryChunkStore creates an empty store. Sequences start at their
// definition's StartVal on first allocation.
func NewMemoryChunkStore() *MemoryChunkStore {
	return &MemoryChunkStore{
		positions: make(map[string]ir.Position),
		calls:     make(map[string]int),
	}
}

// SetPosition overrides the stored position of name.
func (m *MemoryChunkStore) SetPosition(name string, pos ir.Position) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions[ir.NormalizeName(name)] = pos
}

// Position returns the stored position of name.
func (m *MemoryChunkStore) Position(name string) (ir.Position, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pos, ok := m.positions[ir.NormalizeName(name)]
	return pos, ok
}

// Calls returns how many chunks were requested for name.
func (m *MemoryChunkStore) Calls(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[ir.NormalizeName(name)]
}

// AllocateChunk implements the chunk store contract.
func (m *MemoryChunkStore) AllocateChunk(ctx context.Context, def ir.Definition) (ir.Chunk, error) {
	if err := ctx.Err(); err != nil {
		return ir.Chunk{}, err
	}
	key := ir.NormalizeName(def.Name)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[key]++
	pos, ok := m.positions[key]
	if !ok {
		pos = def.InitialPosition()
	}
	chunk, next := def.Allocate(pos)
	m.positions[key] = next
	return chunk, nil
}

// ErrInjected is the default error returned by FaultyChunkStore.
var ErrInjected = errors.New("injected chunk store fault")

// FaultyChunkStore wraps a chunk store and fails selected calls.
//
// Calls are numbered from 1 across all sequences. A failed call never
// reaches the wrapped store.
type FaultyChunkStore struct {
	inner ChunkAllocator

	mu      sync.Mutex
	calls   int
	failOn  map[int]bool
	failAll bool
	err     error
	hook    func(call int, def ir.Definition)
}

// NewFaultyChunkStore wraps inner. Without further configuration every call
// passes through.
func NewFaultyChunkStore(inner ChunkAllocator) *FaultyChunkStore {
	return &FaultyChunkStore{inner: inner, failOn: make(map[int]bool), err: ErrInjected}
}

// FailOn makes the given call numbers fail.
func (f *FaultyChunkStore) FailOn(calls ...int) *FaultyChunkStore {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range calls {
		f.failOn[c] = true
	}
	return f
}

// FailAll makes every call fail until cleared with FailAll(false).
func (f *FaultyChunkStore) FailAll(fail bool) *FaultyChunkStore {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failAll = fail
	return f
}

// WithError sets the error returned by failed calls.
func (f *FaultyChunkStore) WithError(err error) *FaultyChunkStore {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
	return f
}

// OnCall registers a hook run before every call, outside the store's mutex.
// Tests use it to block a refill or record ordering.
func (f *FaultyChunkStore) OnCall(hook func(call int, def ir.Definition)) *FaultyChunkStore {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hook = hook
	return f
}

// Calls returns the number of calls made so far, failed ones included.
func (f *FaultyChunkStore) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// AllocateChunk implements the chunk store contract.
func (f *FaultyChunkStore) AllocateChunk(ctx context.Context, def ir.Definition) (ir.Chunk, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	fail := f.failAll || f.failOn[call]
	err := f.err
	hook := f.hook
	f.mu.Unlock()

	if hook != nil {
		hook(call, def)
	}
	if fail {
		return ir.Chunk{}, fmt.Errorf("call %d for %q: %w", call, def.Name, err)
	}
	return f.inner.AllocateChunk(ctx, def)
}

// ChunkFunc adapts a function to the chunk store contract.
type ChunkFunc func(ctx context.Context, def ir.Definition) (ir.Chunk, error)

// AllocateChunk calls f.
func (f ChunkFunc) AllocateChunk(ctx context.Context, def ir.Definition) (ir.Chunk, error) {
	return f(ctx, def)
}
