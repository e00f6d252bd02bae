package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/seqd/internal/ir"
)

func TestDefine_CreateAndUnchanged(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	def := testDefinition("Orders")

	res, err := s.Define(ctx, def, false)
	require.NoError(t, err)
	assert.Equal(t, ir.DefineCreated, res)

	res, err = s.Define(ctx, def, false)
	require.NoError(t, err)
	assert.Equal(t, ir.DefineUnchanged, res)

	def.Name = "ORDERS"
	res, err = s.Define(ctx, def, false)
	require.NoError(t, err)
	assert.Equal(t, ir.DefineUnchanged, res, "names compare after normalization")

	entry, err := s.Lookup(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, "Orders", entry.Definition.Name)
	assert.Equal(t, ir.MustDefinitionHash(def), entry.Hash)
	assert.Equal(t, ir.Position{NextStartVal: 1, Status: ir.StatusActive}, entry.Position)
}

func TestDefine_Conflict(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	_, err := s.Define(ctx, testDefinition("orders"), false)
	require.NoError(t, err)

	changed := testDefinition("orders")
	changed.ChunkSize = 8
	_, err = s.Define(ctx, changed, false)
	require.ErrorIs(t, err, ir.ErrDefinitionConflict)
}

func TestDefine_ReplaceResetsPosition(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	def := testDefinition("orders")
	_, err := s.Define(ctx, def, false)
	require.NoError(t, err)
	_, err = s.AllocateChunk(ctx, def)
	require.NoError(t, err)

	changed := testDefinition("orders")
	changed.StartVal = 5
	res, err := s.Define(ctx, changed, true)
	require.NoError(t, err)
	assert.Equal(t, ir.DefineReplaced, res)

	entry, err := s.Lookup(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, int64(5), entry.Position.NextStartVal)

	grants, err := s.History(ctx, "orders")
	require.NoError(t, err)
	assert.Empty(t, grants)
}

func TestDefine_Invalid(t *testing.T) {
	s := createTestStore(t)
	def := testDefinition("orders")
	def.Increment = 0

	_, err := s.Define(context.Background(), def, false)
	assert.Error(t, err)
}

func TestDefinitions_Ordered(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	entries, err := s.Definitions(ctx)
	require.NoError(t, err)
	assert.NotNil(t, entries)
	assert.Empty(t, entries)

	for _, name := range []string{"zeta", "Alpha", "mid"} {
		_, err := s.Define(ctx, testDefinition(name), false)
		require.NoError(t, err)
	}

	entries, err = s.Definitions(ctx)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Definition.Name)
	}
	assert.Equal(t, []string{"Alpha", "mid", "zeta"}, names)
}

func TestDrop(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	def := testDefinition("orders")
	_, err := s.Define(ctx, def, false)
	require.NoError(t, err)
	_, err = s.AllocateChunk(ctx, def)
	require.NoError(t, err)

	require.NoError(t, s.Drop(ctx, "ORDERS"))

	_, err = s.Lookup(ctx, "orders")
	assert.ErrorIs(t, err, ir.ErrUnknownSequence)

	var grants int
	require.NoError(t, s.db.QueryRow("SELECT COUNT(*) FROM chunk_grants").Scan(&grants))
	assert.Zero(t, grants, "grants are deleted with their sequence")

	assert.ErrorIs(t, s.Drop(ctx, "orders"), ir.ErrUnknownSequence)
}
