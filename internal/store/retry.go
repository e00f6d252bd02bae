package store

import (
	"context"
	"errors"
	"time"

	"github.com/juju/clock"
	"github.com/juju/retry"
	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/roach88/seqd/internal/ir"
)

// ChunkAllocator is the chunk store contract the retrying decorator wraps.
type ChunkAllocator interface {
	AllocateChunk(ctx context.Context, def ir.Definition) (ir.Chunk, error)
}

// RetryConfig configures NewRetryingChunkStore.
type RetryConfig struct {
	// Attempts is the total number of calls, first one included.
	Attempts int

	// Delay is the wait before the first retry. It doubles on each retry.
	Delay time.Duration

	// MaxDelay caps the doubled delay. Zero means no cap.
	MaxDelay time.Duration

	// IsTransient selects retryable errors. Default: IsBusy.
	IsTransient func(error) bool

	// Clock drives the backoff. Default: clock.WallClock.
	Clock clock.Clock

	// Logger receives one debug line per failed attempt. Default: no-op.
	Logger *zap.Logger
}

// DefaultRetryConfig returns the retry settings used when config leaves them
// unset.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		Attempts: 3,
		Delay:    10 * time.Millisecond,
		MaxDelay: 200 * time.Millisecond,
	}
}

// RetryingChunkStore retries transient chunk store failures with doubling
// backoff. Non-transient errors and context cancellation return at once.
type RetryingChunkStore struct {
	inner ChunkAllocator
	cfg   RetryConfig
}

// NewRetryingChunkStore wraps inner.
func NewRetryingChunkStore(inner ChunkAllocator, cfg RetryConfig) *RetryingChunkStore {
	if cfg.Attempts < 1 {
		cfg.Attempts = 1
	}
	if cfg.Delay <= 0 {
		cfg.Delay = time.Millisecond
	}
	if cfg.IsTransient == nil {
		cfg.IsTransient = IsBusy
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.WallClock
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &RetryingChunkStore{inner: inner, cfg: cfg}
}

// AllocateChunk implements the chunk store contract.
func (r *RetryingChunkStore) AllocateChunk(ctx context.Context, def ir.Definition) (ir.Chunk, error) {
	var chunk ir.Chunk
	err := retry.Call(retry.CallArgs{
		Func: func() error {
			c, err := r.inner.AllocateChunk(ctx, def)
			if err != nil {
				return err
			}
			chunk = c
			return nil
		},
		IsFatalError: func(err error) bool {
			return ctx.Err() != nil || !r.cfg.IsTransient(err)
		},
		NotifyFunc: func(err error, attempt int) {
			r.cfg.Logger.Debug("chunk allocation failed",
				zap.String("sequence", def.Name),
				zap.Int("attempt", attempt),
				zap.Error(err))
		},
		Attempts:    r.cfg.Attempts,
		Delay:       r.cfg.Delay,
		MaxDelay:    r.cfg.MaxDelay,
		BackoffFunc: retry.DoubleDelay,
		Clock:       r.cfg.Clock,
		Stop:        ctx.Done(),
	})
	if err != nil {
		if retry.IsRetryStopped(err) && ctx.Err() != nil {
			return ir.Chunk{}, ctx.Err()
		}
		return ir.Chunk{}, retry.LastError(err)
	}
	return chunk, nil
}

// IsBusy reports whether err is SQLite lock contention (SQLITE_BUSY or
// SQLITE_LOCKED), the only failures worth retrying.
func IsBusy(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked
}
