package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalogCheck_FillsHash(t *testing.T) {
	d := validDefinition()
	c := Catalog{Version: CatalogVersion, Sequences: []CatalogEntry{{Definition: d, Position: d.InitialPosition()}}}

	require.NoError(t, c.Check())
	assert.Equal(t, MustDefinitionHash(d), c.Sequences[0].Hash)
}

func TestCatalogCheck_Rejects(t *testing.T) {
	d := validDefinition()
	other := validDefinition()
	other.Name = "ORDERS"

	tests := []struct {
		name    string
		catalog Catalog
		errIs   error
	}{
		{"version", Catalog{Version: "0"}, nil},
		{"invalid definition", Catalog{Version: CatalogVersion, Sequences: []CatalogEntry{{Definition: Definition{Name: "x"}}}}, nil},
		{"duplicate", Catalog{Version: CatalogVersion, Sequences: []CatalogEntry{
			{Definition: d, Position: d.InitialPosition()},
			{Definition: other, Position: other.InitialPosition()},
		}}, ErrDuplicateSequence},
		{"hash mismatch", Catalog{Version: CatalogVersion, Sequences: []CatalogEntry{{Definition: d, Hash: "abc", Position: d.InitialPosition()}}}, nil},
		{"position out of bounds", Catalog{Version: CatalogVersion, Sequences: []CatalogEntry{{Definition: d, Position: Position{NextStartVal: 5000}}}}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.catalog.Check()
			require.Error(t, err)
			if tt.errIs != nil {
				assert.ErrorIs(t, err, tt.errIs)
			}
		})
	}
}

func TestCatalogCheck_ExhaustedPositionUnbounded(t *testing.T) {
	d := validDefinition()
	c := Catalog{Version: CatalogVersion, Sequences: []CatalogEntry{{Definition: d, Position: Position{NextStartVal: 5000, Status: StatusExhausted}}}}
	assert.NoError(t, c.Check())
}
