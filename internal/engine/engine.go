package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/juju/clock"
	"go.uber.org/zap"

	"github.com/roach88/seqd/internal/compiler"
	"github.com/roach88/seqd/internal/config"
	"github.com/roach88/seqd/internal/ir"
	"github.com/roach88/seqd/internal/sequence"
	"github.com/roach88/seqd/internal/store"
)

// Engine is one seqd session over a backend.
//
// Thread-safety model:
//   - NextValue, NextValues, Peek: safe from any goroutine, never wait on
//     catalog changes
//   - Define, Drop, Import: safe from any goroutine, serialized
//   - Close: idempotent; later calls fail with ENGINE_CLOSED
type Engine struct {
	backend   Backend
	registry  *sequence.Registry
	dispenser *sequence.Dispenser
	clock     *Clock
	logger    *zap.Logger
	observer  Observer

	// catalog serializes definition changes.
	catalog sync.Mutex
	closed  atomic.Bool
}

type options struct {
	logger      *zap.Logger
	lockTimeout time.Duration
	policy      sequence.RefillPolicy
	metrics     *sequence.MetricsCollector
	timeSource  clock.Clock
	retry       *store.RetryConfig
	wrap        func(sequence.ChunkStore) sequence.ChunkStore
	observer    Observer
	clock       *Clock
}

// Option configures an Engine.
type Option func(*options)

// WithLogger sets the logger. Default: zap.NewNop().
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithLockTimeout bounds the wait for a sequence lock.
func WithLockTimeout(timeout time.Duration) Option {
	return func(o *options) {
		o.lockTimeout = timeout
	}
}

// WithRefillPolicy sets the dispenser's refill failure policy.
func WithRefillPolicy(policy sequence.RefillPolicy) Option {
	return func(o *options) {
		o.policy = policy
	}
}

// WithMetrics records dispenser activity on c.
func WithMetrics(c *sequence.MetricsCollector) Option {
	return func(o *options) {
		o.metrics = c
	}
}

// WithTimeSource sets the clock used for refill timings and retry backoff.
// Default: clock.WallClock.
func WithTimeSource(clk clock.Clock) Option {
	return func(o *options) {
		o.timeSource = clk
	}
}

// WithRetry retries transient chunk store failures.
func WithRetry(cfg store.RetryConfig) Option {
	return func(o *options) {
		o.retry = &cfg
	}
}

// WithChunkStoreWrapper decorates the chunk store the dispenser refills from,
// after retries are applied.
func WithChunkStoreWrapper(wrap func(sequence.ChunkStore) sequence.ChunkStore) Option {
	return func(o *options) {
		o.wrap = wrap
	}
}

// WithObserver receives every engine event.
func WithObserver(obs Observer) Option {
	return func(o *options) {
		o.observer = obs
	}
}

// WithClock sets the event clock. Default: NewClock().
func WithClock(c *Clock) Option {
	return func(o *options) {
		o.clock = c
	}
}

// Open opens the backend cfg names and starts a session on it. Options
// derived from cfg come first, so opts override them.
func Open(ctx context.Context, cfg config.Config, opts ...Option) (*Engine, error) {
	policy, err := sequence.ParseRefillPolicy(cfg.RefillPolicy)
	if err != nil {
		return nil, err
	}
	backend, err := OpenBackend(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s backend: %w", cfg.Backend, err)
	}

	base := []Option{
		WithLockTimeout(cfg.LockTimeout),
		WithRefillPolicy(policy),
	}
	if cfg.Backend != config.BackendPebble {
		base = append(base, WithRetry(cfg.Retry.StoreConfig()))
	}

	e, err := New(ctx, backend, append(base, opts...)...)
	if err != nil {
		backend.Close()
		return nil, err
	}
	return e, nil
}

// New starts a session on an open backend and loads its catalog. The engine
// owns backend from here on and closes it in Close.
func New(ctx context.Context, backend Backend, opts ...Option) (*Engine, error) {
	o := options{
		logger: zap.NewNop(),
		policy: sequence.RefillPolicyDiscard,
		clock:  NewClock(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	e := &Engine{
		backend:  backend,
		registry: sequence.NewRegistry(),
		clock:    o.clock,
		logger:   o.logger,
		observer: o.observer,
	}

	var chunks sequence.ChunkStore = backend
	if o.retry != nil {
		rc := *o.retry
		if rc.Logger == nil {
			rc.Logger = o.logger
		}
		if rc.Clock == nil {
			rc.Clock = o.timeSource
		}
		chunks = store.NewRetryingChunkStore(chunks, rc)
	}
	if o.wrap != nil {
		chunks = o.wrap(chunks)
	}
	chunks = &observedChunks{inner: chunks, e: e}

	dopts := []sequence.Option{
		sequence.WithLogger(o.logger),
		sequence.WithLockTimeout(o.lockTimeout),
		sequence.WithRefillPolicy(o.policy),
	}
	if o.metrics != nil {
		dopts = append(dopts, sequence.WithMetrics(o.metrics))
	}
	if o.timeSource != nil {
		dopts = append(dopts, sequence.WithClock(o.timeSource))
	}
	e.dispenser = sequence.NewDispenser(e.registry, chunks, dopts...)

	entries, err := backend.Definitions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load catalog: %w", err)
	}
	for _, entry := range entries {
		if _, err := e.registry.Load(entry.Definition, entry.Position); err != nil {
			return nil, fmt.Errorf("failed to load sequence %q: %w", entry.Definition.Name, err)
		}
	}
	e.logger.Debug("engine started",
		zap.Int("sequences", e.registry.Len()),
		zap.Strings("names", e.registry.Names()))
	return e, nil
}

// Close closes the backend. It is safe to call more than once.
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	return e.backend.Close()
}

// Metrics returns the dispenser's collector.
func (e *Engine) Metrics() *sequence.MetricsCollector {
	return e.dispenser.Metrics()
}

// NextValue returns the next value of the named sequence.
func (e *Engine) NextValue(ctx context.Context, name string) (int64, error) {
	if e.closed.Load() {
		return 0, newClosedError("next value")
	}
	v, err := e.dispenser.NextValue(ctx, name)
	if err != nil {
		e.emitDispense(name, nil, err)
		return 0, err
	}
	e.emitDispense(name, []int64{v}, nil)
	return v, nil
}

// NextValues returns up to n values of the named sequence in one lock hold.
func (e *Engine) NextValues(ctx context.Context, name string, n int) ([]int64, error) {
	if e.closed.Load() {
		return nil, newClosedError("next values")
	}
	values, err := e.dispenser.NextValues(ctx, name, n)
	e.emitDispense(name, values, err)
	return values, err
}

// Peek returns the in-memory state of the named sequence.
func (e *Engine) Peek(ctx context.Context, name string) (sequence.Snapshot, error) {
	if e.closed.Load() {
		return sequence.Snapshot{}, newClosedError("peek")
	}
	return e.dispenser.Peek(ctx, name)
}

// DefineOutcome reports what Define did with one definition.
type DefineOutcome struct {
	Name   string          `json:"name" yaml:"name"`
	Result ir.DefineResult `json:"result" yaml:"result"`
}

// Define validates every definition, then stores them in order and loads
// the stored position into the registry. Nothing is stored if any
// definition is invalid. A backend failure stops at that definition and
// returns the outcomes of the ones before it.
func (e *Engine) Define(ctx context.Context, defs []ir.Definition, replace bool) ([]DefineOutcome, error) {
	if e.closed.Load() {
		return nil, newClosedError("define")
	}
	if violations := compiler.Validate(defs); len(violations) > 0 {
		return nil, newInvalidDefinitionError(violations)
	}

	e.catalog.Lock()
	defer e.catalog.Unlock()

	out := make([]DefineOutcome, 0, len(defs))
	for _, def := range defs {
		res, err := e.backend.Define(ctx, def, replace)
		if err != nil {
			return out, err
		}
		out = append(out, DefineOutcome{Name: def.Name, Result: res})

		if _, ok := e.registry.Lookup(def.Name); ok && res == ir.DefineUnchanged {
			continue
		}
		if err := e.load(ctx, def.Name); err != nil {
			return out, err
		}
		e.logger.Info("sequence defined", zap.String("sequence", def.Name), zap.String("result", string(res)))
		e.emit(Event{Kind: EventDefine, Sequence: def.Name, Result: string(res)})
	}
	return out, nil
}

// load reads name back from the backend into the registry.
func (e *Engine) load(ctx context.Context, name string) error {
	entry, err := e.backend.Lookup(ctx, name)
	if err != nil {
		return err
	}
	_, err = e.registry.Load(entry.Definition, entry.Position)
	return err
}

// Drop deletes the named sequence from the backend and the registry.
func (e *Engine) Drop(ctx context.Context, name string) error {
	if e.closed.Load() {
		return newClosedError("drop")
	}
	e.catalog.Lock()
	defer e.catalog.Unlock()

	if err := e.backend.Drop(ctx, name); err != nil {
		return err
	}
	e.registry.Remove(name)
	e.logger.Info("sequence dropped", zap.String("sequence", name))
	e.emit(Event{Kind: EventDrop, Sequence: name})
	return nil
}

// Sequences returns every stored sequence with its persisted position.
func (e *Engine) Sequences(ctx context.Context) ([]ir.CatalogEntry, error) {
	if e.closed.Load() {
		return nil, newClosedError("list")
	}
	return e.backend.Definitions(ctx)
}

// History returns the chunk grant log of the named sequence.
func (e *Engine) History(ctx context.Context, name string) ([]ir.Grant, error) {
	if e.closed.Load() {
		return nil, newClosedError("history")
	}
	return e.backend.History(ctx, name)
}

// Export returns the stored catalog.
func (e *Engine) Export(ctx context.Context) (ir.Catalog, error) {
	if e.closed.Load() {
		return ir.Catalog{}, newClosedError("export")
	}
	return e.backend.Export(ctx)
}

// Import stores every sequence of cat and loads it into the registry.
func (e *Engine) Import(ctx context.Context, cat ir.Catalog) (int, error) {
	if e.closed.Load() {
		return 0, newClosedError("import")
	}
	e.catalog.Lock()
	defer e.catalog.Unlock()

	n, err := e.backend.Import(ctx, cat)
	if err != nil {
		return 0, err
	}
	for _, entry := range cat.Sequences {
		if err := e.load(ctx, entry.Definition.Name); err != nil {
			return n, err
		}
		e.emit(Event{Kind: EventImport, Sequence: entry.Definition.Name})
	}
	e.logger.Info("catalog imported", zap.Int("sequences", n))
	return n, nil
}
