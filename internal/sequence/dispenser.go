package sequence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/juju/clock"
	"go.uber.org/zap"

	"github.com/roach88/seqd/internal/ir"
)

// ChunkStore hands out chunks of future values. It must be safe for
// concurrent refills of distinct sequences, and a failed call must be safe
// to retry.
//
// A reply reports StatusExhausted if and only if Remaining is zero.
type ChunkStore interface {
	AllocateChunk(ctx context.Context, def ir.Definition) (ir.Chunk, error)
}

// RefillPolicy decides what happens to the captured value when the refill
// that follows it fails.
type RefillPolicy int

const (
	// RefillPolicyDiscard fails the call with REFILL_FAILED and drops the
	// value, although the state already moved past it.
	RefillPolicyDiscard RefillPolicy = iota

	// RefillPolicyDeliver returns the value with a nil error. The refill
	// stays pending and is retried at the start of the next call.
	RefillPolicyDeliver
)

func (p RefillPolicy) String() string {
	switch p {
	case RefillPolicyDiscard:
		return "discard"
	case RefillPolicyDeliver:
		return "deliver"
	default:
		return fmt.Sprintf("RefillPolicy(%d)", int(p))
	}
}

// ParseRefillPolicy parses the output of RefillPolicy.String.
func ParseRefillPolicy(s string) (RefillPolicy, error) {
	switch s {
	case "", "discard":
		return RefillPolicyDiscard, nil
	case "deliver":
		return RefillPolicyDeliver, nil
	default:
		return RefillPolicyDiscard, fmt.Errorf("unknown refill policy %q (want discard or deliver)", s)
	}
}

// Dispenser hands out sequence values.
//
// Thread-safety: all methods are safe for concurrent use. Calls on one
// sequence are serialized by that sequence's lock; calls on different
// sequences never wait on each other.
type Dispenser struct {
	resolver    Resolver
	store       ChunkStore
	logger      *zap.Logger
	clock       clock.Clock
	metrics     *MetricsCollector
	lockTimeout time.Duration
	policy      RefillPolicy
}

// Option configures a Dispenser.
type Option func(*Dispenser)

// WithLogger sets the logger. Default: zap.NewNop().
func WithLogger(logger *zap.Logger) Option {
	return func(d *Dispenser) {
		d.logger = logger
	}
}

// WithLockTimeout bounds how long a call waits for a sequence lock.
// Zero waits until the caller's context ends.
func WithLockTimeout(timeout time.Duration) Option {
	return func(d *Dispenser) {
		d.lockTimeout = timeout
	}
}

// WithRefillPolicy sets the refill failure policy. Default: RefillPolicyDiscard.
func WithRefillPolicy(policy RefillPolicy) Option {
	return func(d *Dispenser) {
		d.policy = policy
	}
}

// WithMetrics records activity on c instead of a private collector.
func WithMetrics(c *MetricsCollector) Option {
	return func(d *Dispenser) {
		d.metrics = c
	}
}

// WithClock sets the clock used to time refills. Default: clock.WallClock.
func WithClock(clk clock.Clock) Option {
	return func(d *Dispenser) {
		d.clock = clk
	}
}

// NewDispenser creates a Dispenser over the given registry and chunk store.
func NewDispenser(resolver Resolver, store ChunkStore, opts ...Option) *Dispenser {
	d := &Dispenser{
		resolver: resolver,
		store:    store,
		logger:   zap.NewNop(),
		clock:    clock.WallClock,
		metrics:  NewMetricsCollector(),
		policy:   RefillPolicyDiscard,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Metrics returns the collector the dispenser records on.
func (d *Dispenser) Metrics() *MetricsCollector {
	return d.metrics
}

// NextValue returns the next value of the named sequence.
//
// Errors are always *Error: NOT_FOUND, EXHAUSTED, REFILL_FAILED or
// LOCK_TIMEOUT.
func (d *Dispenser) NextValue(ctx context.Context, name string) (int64, error) {
	s, release, err := d.acquire(ctx, name)
	if err != nil {
		return 0, err
	}
	defer release()

	v, err := d.dispenseLocked(ctx, s)
	if err != nil {
		return 0, d.fail(s.key, err)
	}
	return v, nil
}

// NextValues dispenses up to n values in a single lock hold. It stops at the
// first error and returns the values obtained before it.
func (d *Dispenser) NextValues(ctx context.Context, name string, n int) ([]int64, error) {
	if n <= 0 {
		return nil, nil
	}
	s, release, err := d.acquire(ctx, name)
	if err != nil {
		return nil, err
	}
	defer release()

	out := make([]int64, 0, min(n, ir.MaxChunkSize))
	for range n {
		v, err := d.dispenseLocked(ctx, s)
		if err != nil {
			return out, d.fail(s.key, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// Peek returns a snapshot of the named sequence taken under its lock.
func (d *Dispenser) Peek(ctx context.Context, name string) (Snapshot, error) {
	s, ok := d.resolver.Lookup(name)
	if !ok {
		return Snapshot{}, newError(CodeNotFound, name, nil)
	}
	release, err := d.lock(ctx, s)
	if err != nil {
		return Snapshot{}, err
	}
	defer release()
	return s.snapshot(), nil
}

// acquire resolves name, applies the unlocked exhausted check and takes the
// sequence lock. On success the caller must invoke release exactly once.
func (d *Dispenser) acquire(ctx context.Context, name string) (*State, func(), error) {
	s, ok := d.resolver.Lookup(name)
	if !ok {
		return nil, nil, d.fail("", newError(CodeNotFound, name, nil))
	}
	if s.Status() == ir.StatusExhausted {
		return nil, nil, d.fail(s.key, newError(CodeExhausted, s.def.Name, nil))
	}
	release, err := d.lock(ctx, s)
	if err != nil {
		return nil, nil, d.fail(s.key, err)
	}
	return s, release, nil
}

func (d *Dispenser) lock(ctx context.Context, s *State) (func(), error) {
	if d.lockTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.lockTimeout)
		defer cancel()
	}
	if err := s.lock.Acquire(ctx, 1); err != nil {
		return nil, newError(CodeLockTimeout, s.def.Name, err)
	}
	return func() { s.lock.Release(1) }, nil
}

// dispenseLocked produces one value. The caller holds s.lock.
func (d *Dispenser) dispenseLocked(ctx context.Context, s *State) (int64, error) {
	if s.Status() == ir.StatusExhausted {
		return 0, newError(CodeExhausted, s.def.Name, nil)
	}

	// A previous refill failed or this state was just loaded.
	if s.remaining == 0 {
		if err := d.refill(ctx, s); err != nil {
			return 0, err
		}
		if s.Status() == ir.StatusExhausted {
			return 0, newError(CodeExhausted, s.def.Name, nil)
		}
	}

	output := s.nextVal
	s.remaining--

	next, transition := s.def.Advance(s.nextVal)
	switch transition {
	case ir.TransitionExhaust:
		s.setStatus(ir.StatusExhausted)
		s.remaining = 0
	case ir.TransitionWrap:
		d.logger.Debug("sequence wrapped",
			zap.String("sequence", s.def.Name),
			zap.Int64("next_val", next))
		s.nextVal = next
	default:
		s.nextVal = next
	}

	// An exhausted sequence has nothing left to reserve.
	if s.remaining == 0 && s.Status() == ir.StatusActive {
		if err := d.refill(ctx, s); err != nil {
			if d.policy == RefillPolicyDeliver {
				d.metrics.Dispensed(s.key).Inc()
				return output, nil
			}
			return 0, err
		}
	}

	d.metrics.Dispensed(s.key).Inc()
	return output, nil
}

// refill asks the store for a new chunk. The caller holds s.lock. On error
// the state is left untouched, so the refill stays pending.
func (d *Dispenser) refill(ctx context.Context, s *State) error {
	start := d.clock.Now()
	chunk, err := d.store.AllocateChunk(ctx, s.def)
	d.metrics.refillDuration.WithLabelValues(s.key).Observe(d.clock.Now().Sub(start).Seconds())

	if err == nil {
		err = checkChunk(s.def, chunk)
	}
	if err != nil {
		d.metrics.Refills(s.key, refillFailed).Inc()
		d.logger.Warn("chunk refill failed",
			zap.String("sequence", s.def.Name),
			zap.Stringer("policy", d.policy),
			zap.Error(err))
		return newError(CodeRefillFailed, s.def.Name, err)
	}

	s.nextStartVal = chunk.NextStartVal
	if chunk.Status == ir.StatusExhausted {
		d.metrics.Refills(s.key, refillExhausted).Inc()
		d.logger.Info("sequence exhausted by chunk store", zap.String("sequence", s.def.Name))
		s.setStatus(ir.StatusExhausted)
		s.remaining = 0
		return nil
	}

	d.metrics.Refills(s.key, refillOK).Inc()
	d.logger.Debug("chunk refilled",
		zap.String("sequence", s.def.Name),
		zap.Int64("first_val", chunk.FirstVal),
		zap.Int64("remaining", chunk.Remaining),
		zap.Int64("next_start_val", chunk.NextStartVal))
	s.nextVal = chunk.FirstVal
	s.remaining = chunk.Remaining
	return nil
}

// errBadChunk marks a store reply that breaks the chunk contract.
var errBadChunk = errors.New("chunk store reply violates contract")

func checkChunk(def ir.Definition, c ir.Chunk) error {
	switch {
	case c.Remaining < 0:
		return fmt.Errorf("%w: negative remaining %d", errBadChunk, c.Remaining)
	case c.Status == ir.StatusActive && c.Remaining == 0:
		return fmt.Errorf("%w: active chunk with no values", errBadChunk)
	case c.Status == ir.StatusActive && !def.InRange(c.FirstVal):
		return fmt.Errorf("%w: first value %d outside [%d, %d]", errBadChunk, c.FirstVal, def.MinVal, def.MaxVal)
	case c.Status == ir.StatusExhausted && c.Remaining != 0:
		return fmt.Errorf("%w: exhausted chunk with %d values", errBadChunk, c.Remaining)
	case c.Status != ir.StatusActive && c.Status != ir.StatusExhausted:
		return fmt.Errorf("%w: unknown status %s", errBadChunk, c.Status)
	}
	return nil
}

// fail records err and returns it unchanged.
func (d *Dispenser) fail(key string, err error) error {
	d.metrics.Errors(key, CodeOf(err)).Inc()
	return err
}
