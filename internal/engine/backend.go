package engine

import (
	"context"
	"fmt"

	"github.com/roach88/seqd/internal/config"
	"github.com/roach88/seqd/internal/ir"
	"github.com/roach88/seqd/internal/kvstore"
	"github.com/roach88/seqd/internal/sequence"
	"github.com/roach88/seqd/internal/store"
)

// Backend is a persistent sequence catalog that also serves chunks.
type Backend interface {
	sequence.ChunkStore

	Define(ctx context.Context, def ir.Definition, replace bool) (ir.DefineResult, error)
	Definitions(ctx context.Context) ([]ir.CatalogEntry, error)
	Lookup(ctx context.Context, name string) (ir.CatalogEntry, error)
	Drop(ctx context.Context, name string) error
	History(ctx context.Context, name string) ([]ir.Grant, error)
	Export(ctx context.Context) (ir.Catalog, error)
	Import(ctx context.Context, cat ir.Catalog) (int, error)
	Close() error
}

var (
	_ Backend = (*store.Store)(nil)
	_ Backend = (*kvstore.Store)(nil)
)

// OpenBackend opens the backend named by cfg.Backend at cfg.Database.
func OpenBackend(cfg config.Config) (Backend, error) {
	switch cfg.Backend {
	case config.BackendSQLite, "":
		s, err := store.Open(cfg.Database)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.BackendPebble:
		s, err := kvstore.Open(cfg.Database)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}
