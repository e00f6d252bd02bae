package kvstore

import (
	"context"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/seqd/internal/ir"
	"github.com/roach88/seqd/internal/sequence"
	"github.com/roach88/seqd/internal/testutil"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenInMemory(WithIDGenerator(testutil.NewSequentialIDs("g")))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testDefinition(name string) ir.Definition {
	return ir.Definition{Name: name, MinVal: 1, MaxVal: 10, Increment: 1, ChunkSize: 4, StartVal: 1}
}

func TestUpperBound(t *testing.T) {
	assert.Equal(t, []byte("seq/def0"), upperBound([]byte("seq/def/")))
	assert.Equal(t, []byte{'a', 0x01}, upperBound([]byte{'a', 0x00}))
	assert.Equal(t, []byte{'b'}, upperBound([]byte{'a', 0xff}))
	assert.Nil(t, upperBound([]byte{0xff, 0xff}))
}

func TestGrantKeysSortNumerically(t *testing.T) {
	assert.Less(t, string(grantKey("a", 9)), string(grantKey("a", 10)))
	assert.Less(t, string(grantKey("a", 999)), string(upperBound(grantsPrefix("a"))))
	assert.NotContains(t, string(grantKey("a/b", 1)), string(grantsPrefix("a")))
}

func TestDefine(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	def := testDefinition("Orders")

	res, err := s.Define(ctx, def, false)
	require.NoError(t, err)
	assert.Equal(t, ir.DefineCreated, res)

	res, err = s.Define(ctx, def, false)
	require.NoError(t, err)
	assert.Equal(t, ir.DefineUnchanged, res)

	changed := def
	changed.MaxVal = 20
	_, err = s.Define(ctx, changed, false)
	require.ErrorIs(t, err, ir.ErrDefinitionConflict)

	res, err = s.Define(ctx, changed, true)
	require.NoError(t, err)
	assert.Equal(t, ir.DefineReplaced, res)

	entry, err := s.Lookup(ctx, "ORDERS")
	require.NoError(t, err)
	assert.Equal(t, changed, entry.Definition)
	assert.Equal(t, ir.MustDefinitionHash(changed), entry.Hash)
	assert.Equal(t, changed.InitialPosition(), entry.Position)
}

func TestDefine_Invalid(t *testing.T) {
	s := openTestStore(t)
	bad := testDefinition("bad")
	bad.Increment = 0
	_, err := s.Define(context.Background(), bad, false)
	assert.Error(t, err)
}

func TestDefine_ReplaceClearsGrants(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	def := testDefinition("orders")
	_, err := s.Define(ctx, def, false)
	require.NoError(t, err)
	_, err = s.AllocateChunk(ctx, def)
	require.NoError(t, err)

	changed := def
	changed.ChunkSize = 2
	_, err = s.Define(ctx, changed, true)
	require.NoError(t, err)

	grants, err := s.History(ctx, "orders")
	require.NoError(t, err)
	assert.Empty(t, grants)
}

func TestDefinitions_SortedByKey(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	for _, name := range []string{"zeta", "Alpha", "mid"} {
		_, err := s.Define(ctx, testDefinition(name), false)
		require.NoError(t, err)
	}

	entries, err := s.Definitions(ctx)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Definition.Name)
	}
	assert.Equal(t, []string{"Alpha", "mid", "zeta"}, names)
}

func TestDrop(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	for _, name := range []string{"a", "a/b"} {
		def := testDefinition(name)
		_, err := s.Define(ctx, def, false)
		require.NoError(t, err)
		_, err = s.AllocateChunk(ctx, def)
		require.NoError(t, err)
	}

	require.NoError(t, s.Drop(ctx, "A"))
	_, err := s.Lookup(ctx, "a")
	assert.ErrorIs(t, err, ir.ErrUnknownSequence)
	assert.ErrorIs(t, s.Drop(ctx, "a"), ir.ErrUnknownSequence)

	grants, err := s.History(ctx, "a/b")
	require.NoError(t, err)
	assert.Len(t, grants, 1, "dropping a leaves a/b untouched")
}

func TestAllocateChunk_RecordsGrants(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	def := testDefinition("orders")
	_, err := s.Define(ctx, def, false)
	require.NoError(t, err)

	var chunks []ir.Chunk
	for range 4 {
		c, err := s.AllocateChunk(ctx, def)
		require.NoError(t, err)
		chunks = append(chunks, c)
	}

	assert.Equal(t, []ir.Chunk{
		{Status: ir.StatusActive, FirstVal: 1, Remaining: 4, NextStartVal: 5},
		{Status: ir.StatusActive, FirstVal: 5, Remaining: 4, NextStartVal: 9},
		{Status: ir.StatusActive, FirstVal: 9, Remaining: 2, NextStartVal: 9},
		{Status: ir.StatusExhausted, Remaining: 0, NextStartVal: 9},
	}, chunks)

	grants, err := s.History(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, []ir.Grant{
		{ID: "g-000001", Seq: 1, Sequence: "orders", FirstVal: 1, Count: 4, NextStartVal: 5},
		{ID: "g-000002", Seq: 2, Sequence: "orders", FirstVal: 5, Count: 4, NextStartVal: 9},
		{ID: "g-000003", Seq: 3, Sequence: "orders", FirstVal: 9, Count: 2, NextStartVal: 9, Exhausted: true},
	}, grants)
}

func TestAllocateChunk_UnknownAndStale(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.AllocateChunk(ctx, testDefinition("missing"))
	require.ErrorIs(t, err, ir.ErrUnknownSequence)

	def := testDefinition("orders")
	_, err = s.Define(ctx, def, false)
	require.NoError(t, err)

	stale := def
	stale.MaxVal = 100
	_, err = s.AllocateChunk(ctx, stale)
	require.ErrorIs(t, err, ir.ErrStaleDefinition)
}

func TestAllocateChunk_Cancelled(t *testing.T) {
	s := openTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.AllocateChunk(ctx, testDefinition("orders"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAllocateChunk_ExtremeValues(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	def := ir.Definition{Name: "wide", MinVal: math.MinInt64, MaxVal: math.MaxInt64, Increment: math.MaxInt64, ChunkSize: 5, StartVal: math.MinInt64}
	_, err := s.Define(ctx, def, false)
	require.NoError(t, err)

	c, err := s.AllocateChunk(ctx, def)
	require.NoError(t, err)
	assert.Equal(t, int64(3), c.Remaining)

	entry, err := s.Lookup(ctx, "wide")
	require.NoError(t, err)
	assert.Equal(t, ir.StatusExhausted, entry.Position.Status)
}

func TestPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	def := testDefinition("orders")

	s, err := Open(dir)
	require.NoError(t, err)
	_, err = s.Define(ctx, def, false)
	require.NoError(t, err)
	_, err = s.AllocateChunk(ctx, def)
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close(), "second close is a no-op")

	s, err = Open(dir)
	require.NoError(t, err)
	defer s.Close()

	entry, err := s.Lookup(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, int64(5), entry.Position.NextStartVal)

	c, err := s.AllocateChunk(ctx, def)
	require.NoError(t, err)
	assert.Equal(t, int64(9), c.NextStartVal)

	grants, err := s.History(ctx, "orders")
	require.NoError(t, err)
	require.Len(t, grants, 2)
	assert.Equal(t, int64(2), grants[1].Seq)
}

func TestExportImport(t *testing.T) {
	ctx := context.Background()
	src := openTestStore(t)
	for _, name := range []string{"a", "b"} {
		def := testDefinition(name)
		_, err := src.Define(ctx, def, false)
		require.NoError(t, err)
		_, err = src.AllocateChunk(ctx, def)
		require.NoError(t, err)
	}
	cat, err := src.Export(ctx)
	require.NoError(t, err)
	require.Len(t, cat.Sequences, 2)

	dst := openTestStore(t)
	n, err := dst.Import(ctx, cat)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := dst.Definitions(ctx)
	require.NoError(t, err)
	assert.Equal(t, cat.Sequences, got)

	_, err = dst.Import(ctx, cat)
	require.ErrorIs(t, err, ir.ErrDuplicateSequence)
}

func TestImport_AllOrNothing(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	_, err := s.Define(ctx, testDefinition("b"), false)
	require.NoError(t, err)

	cat := ir.Catalog{Version: ir.CatalogVersion, Sequences: []ir.CatalogEntry{
		{Definition: testDefinition("a"), Position: testDefinition("a").InitialPosition()},
		{Definition: testDefinition("B"), Position: testDefinition("B").InitialPosition()},
	}}
	_, err = s.Import(ctx, cat)
	require.ErrorIs(t, err, ir.ErrDuplicateSequence)

	_, err = s.Lookup(ctx, "a")
	assert.ErrorIs(t, err, ir.ErrUnknownSequence)
}

func TestDispenserOverKVStore(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	def := ir.Definition{Name: "ids", MinVal: 0, MaxVal: 1_000, Increment: 5, ChunkSize: 7, StartVal: 0}
	_, err := s.Define(ctx, def, false)
	require.NoError(t, err)

	reg := sequence.NewRegistry()
	_, err = reg.Load(def, def.InitialPosition())
	require.NoError(t, err)
	d := sequence.NewDispenser(reg, s)

	const workers = 4
	const perWorker = 50
	var mu sync.Mutex
	seen := make(map[int64]bool)
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range perWorker {
				v, err := d.NextValue(ctx, "ids")
				if !assert.NoError(t, err) {
					return
				}
				mu.Lock()
				seen[v] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, seen, workers*perWorker)
	for i := range int64(workers * perWorker) {
		assert.True(t, seen[i*5], "missing %d", i*5)
	}
}

func TestClose_ConcurrentWithOperations(t *testing.T) {
	s, err := OpenInMemory()
	require.NoError(t, err)
	ctx := context.Background()
	def := ir.Definition{Name: "ids", MinVal: 1, MaxVal: 100, Increment: 1, Cycle: true, ChunkSize: 3, StartVal: 1}
	_, err = s.Define(ctx, def, false)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				if _, err := s.AllocateChunk(ctx, def); err != nil {
					assert.ErrorIs(t, err, ErrClosed)
					return
				}
				if _, err := s.History(ctx, "ids"); err != nil {
					assert.ErrorIs(t, err, ErrClosed)
					return
				}
			}
		}()
	}
	require.NoError(t, s.Close())
	wg.Wait()

	_, err = s.AllocateChunk(ctx, def)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = s.Lookup(ctx, "ids")
	assert.ErrorIs(t, err, ErrClosed)
	_, err = s.Definitions(ctx)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = s.Define(ctx, testDefinition("other"), false)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, s.Drop(ctx, "ids"), ErrClosed)
	_, err = s.Import(ctx, ir.Catalog{Version: ir.CatalogVersion})
	assert.ErrorIs(t, err, ErrClosed)
}
