package cli

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/seqd/internal/config"
	"github.com/roach88/seqd/internal/ir"
	"github.com/roach88/seqd/internal/sequence"
)

var backends = []string{config.BackendSQLite, config.BackendPebble}

// dbArgs returns the global flags selecting a fresh database for backend.
func dbArgs(t *testing.T, backend string) []string {
	t.Helper()
	return []string{"--db", filepath.Join(t.TempDir(), "seqd.db"), "--backend", backend}
}

func with(base []string, args ...string) []string {
	out := append([]string{}, base...)
	return append(out, args...)
}

const lifecycleSpecs = `
sequence: orders: { chunk_size: 10 }
sequence: tickets: { max: 3 }
`

func TestDefineAndNext(t *testing.T) {
	for _, backend := range backends {
		t.Run(backend, func(t *testing.T) {
			db := dbArgs(t, backend)
			specs := writeSpecs(t, lifecycleSpecs)

			out, err := runCLI(t, with(db, "define", specs)...)
			require.NoError(t, err, out)
			assert.Contains(t, out, "orders: created")
			assert.Contains(t, out, "tickets: created")

			out, err = runCLI(t, with(db, "define", specs)...)
			require.NoError(t, err, out)
			assert.Contains(t, out, "orders: unchanged")

			out, err = runCLI(t, with(db, "next", "orders", "-n", "3")...)
			require.NoError(t, err, out)
			assert.Equal(t, "1\n2\n3\n", out)

			// The rest of the first chunk died with the previous process.
			out, err = runCLI(t, with(db, "next", "orders")...)
			require.NoError(t, err, out)
			assert.Equal(t, "11\n", out)
		})
	}
}

func TestNextExhausted(t *testing.T) {
	for _, backend := range backends {
		t.Run(backend, func(t *testing.T) {
			db := dbArgs(t, backend)
			_, err := runCLI(t, with(db, "define", writeSpecs(t, lifecycleSpecs))...)
			require.NoError(t, err)

			out, err := runCLI(t, with(db, "next", "tickets", "-n", "3")...)
			require.NoError(t, err, out)
			assert.Equal(t, "1\n2\n3\n", out)

			out, err = runCLI(t, with(db, "next", "tickets")...)
			require.Error(t, err)
			assert.Equal(t, ExitFailure, GetExitCode(err))
			assert.Contains(t, out, "Error [EXHAUSTED]")
		})
	}
}

func TestNextPartialBatch(t *testing.T) {
	db := dbArgs(t, config.BackendSQLite)
	_, err := runCLI(t, with(db, "define", writeSpecs(t, lifecycleSpecs))...)
	require.NoError(t, err)

	out, err := runCLI(t, with(db, "next", "tickets", "-n", "5")...)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "1\n2\n3\n")
	assert.Contains(t, out, "EXHAUSTED")
}

func TestNextJSON(t *testing.T) {
	db := dbArgs(t, config.BackendSQLite)
	_, err := runCLI(t, with(db, "define", writeSpecs(t, lifecycleSpecs))...)
	require.NoError(t, err)

	out, err := runCLI(t, with(db, "--format", "json", "next", "orders", "-n", "2")...)
	require.NoError(t, err, out)

	var resp struct {
		Status string     `json:"status"`
		Data   NextResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, NextResult{Sequence: "orders", Values: []int64{1, 2}}, resp.Data)
}

func TestNextUnknownSequence(t *testing.T) {
	db := dbArgs(t, config.BackendSQLite)

	out, err := runCLI(t, with(db, "--format", "json", "next", "missing")...)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, string(sequence.CodeNotFound), resp.Error.Code)
}

func TestNextInvalidCount(t *testing.T) {
	_, err := runCLI(t, with(dbArgs(t, config.BackendSQLite), "next", "orders", "-n", "0")...)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "count must be at least 1")
}

func TestDefineConflictAndReplace(t *testing.T) {
	for _, backend := range backends {
		t.Run(backend, func(t *testing.T) {
			db := dbArgs(t, backend)
			_, err := runCLI(t, with(db, "define", writeSpecs(t, `sequence: orders: { chunk_size: 10 }`))...)
			require.NoError(t, err)
			_, err = runCLI(t, with(db, "next", "orders", "-n", "2")...)
			require.NoError(t, err)

			changed := writeSpecs(t, `sequence: orders: { chunk_size: 20 }`)
			out, err := runCLI(t, with(db, "define", changed)...)
			require.Error(t, err)
			assert.Equal(t, ExitFailure, GetExitCode(err))
			assert.Contains(t, out, ErrCodeDefinitionConflict)

			out, err = runCLI(t, with(db, "define", changed, "--replace")...)
			require.NoError(t, err, out)
			assert.Contains(t, out, "orders: replaced")

			out, err = runCLI(t, with(db, "next", "orders")...)
			require.NoError(t, err, out)
			assert.Equal(t, "1\n", out)
		})
	}
}

func TestDefineInvalidSpecs(t *testing.T) {
	out, err := runCLI(t, with(dbArgs(t, config.BackendSQLite), "define", writeSpecs(t, `sequence: bad: { increment: 0 }`))...)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ Validation failed")
}

func TestListAndDrop(t *testing.T) {
	for _, backend := range backends {
		t.Run(backend, func(t *testing.T) {
			db := dbArgs(t, backend)

			out, err := runCLI(t, with(db, "list")...)
			require.NoError(t, err, out)
			assert.Contains(t, out, "No sequences defined.")

			_, err = runCLI(t, with(db, "define", writeSpecs(t, lifecycleSpecs))...)
			require.NoError(t, err)
			_, err = runCLI(t, with(db, "next", "orders")...)
			require.NoError(t, err)

			out, err = runCLI(t, with(db, "list")...)
			require.NoError(t, err, out)
			assert.Contains(t, out, "NEXT START")
			assert.Contains(t, out, "orders")
			assert.Contains(t, out, "tickets")

			out, err = runCLI(t, with(db, "--format", "json", "list")...)
			require.NoError(t, err, out)
			var resp struct {
				Data []ir.CatalogEntry `json:"data"`
			}
			require.NoError(t, json.Unmarshal([]byte(out), &resp))
			positions := map[string]ir.Position{}
			for _, e := range resp.Data {
				positions[e.Definition.Name] = e.Position
			}
			assert.Equal(t, int64(11), positions["orders"].NextStartVal)
			assert.Equal(t, ir.StatusActive, positions["orders"].Status)
			assert.Equal(t, int64(1), positions["tickets"].NextStartVal)

			out, err = runCLI(t, with(db, "drop", "orders")...)
			require.NoError(t, err, out)
			assert.Contains(t, out, "Dropped orders")

			out, err = runCLI(t, with(db, "list")...)
			require.NoError(t, err, out)
			assert.NotContains(t, out, "orders")

			out, err = runCLI(t, with(db, "drop", "orders")...)
			require.Error(t, err)
			assert.Equal(t, ExitFailure, GetExitCode(err))
			assert.Contains(t, out, ErrCodeUnknownSequence)
		})
	}
}

func TestHistory(t *testing.T) {
	for _, backend := range backends {
		t.Run(backend, func(t *testing.T) {
			db := dbArgs(t, backend)
			_, err := runCLI(t, with(db, "define", writeSpecs(t, lifecycleSpecs))...)
			require.NoError(t, err)

			out, err := runCLI(t, with(db, "history", "orders")...)
			require.NoError(t, err, out)
			assert.Contains(t, out, "No chunks granted for orders.")

			for range 2 {
				_, err = runCLI(t, with(db, "next", "orders")...)
				require.NoError(t, err)
			}

			out, err = runCLI(t, with(db, "--format", "json", "history", "orders")...)
			require.NoError(t, err, out)
			var resp struct {
				Data []ir.Grant `json:"data"`
			}
			require.NoError(t, json.Unmarshal([]byte(out), &resp))
			require.Len(t, resp.Data, 2)
			assert.Equal(t, int64(1), resp.Data[0].FirstVal)
			assert.Equal(t, int64(10), resp.Data[0].Count)
			assert.Equal(t, int64(11), resp.Data[1].FirstVal)
			assert.Equal(t, int64(21), resp.Data[1].NextStartVal)
			assert.Less(t, resp.Data[0].Seq, resp.Data[1].Seq)

			out, err = runCLI(t, with(db, "history", "orders")...)
			require.NoError(t, err, out)
			assert.Contains(t, out, "FIRST")
		})
	}
}

func TestErrorCodes(t *testing.T) {
	tests := []struct {
		err      error
		code     string
		exitCode int
	}{
		{ir.ErrUnknownSequence, ErrCodeUnknownSequence, ExitFailure},
		{ir.ErrDefinitionConflict, ErrCodeDefinitionConflict, ExitFailure},
		{ir.ErrDuplicateSequence, ErrCodeDuplicateSequence, ExitFailure},
		{ir.ErrStaleDefinition, ErrCodeStaleDefinition, ExitFailure},
		{assert.AnError, ErrCodeGeneric, ExitCommandError},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.code, errorCode(tt.err))
			assert.Equal(t, tt.exitCode, exitCode(tt.err))
		})
	}
}
