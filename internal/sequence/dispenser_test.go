package sequence

import (
	"context"
	"math"
	"slices"
	"sync"
	"testing"
	"time"

	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/seqd/internal/ir"
	"github.com/roach88/seqd/internal/testutil"
)

type fixture struct {
	dispenser *Dispenser
	registry  *Registry
	faults    *testutil.FaultyChunkStore
	memory    *testutil.MemoryChunkStore
}

func newFixture(t *testing.T, defs []ir.Definition, opts ...Option) *fixture {
	t.Helper()
	reg := NewRegistry()
	mem := testutil.NewMemoryChunkStore()
	faults := testutil.NewFaultyChunkStore(mem)
	for _, def := range defs {
		_, err := reg.Load(def, def.InitialPosition())
		require.NoError(t, err)
	}
	return &fixture{
		dispenser: NewDispenser(reg, faults, opts...),
		registry:  reg,
		faults:    faults,
		memory:    mem,
	}
}

func seqDef(name string, min, max, inc int64, cycle bool, chunk int64) ir.Definition {
	start := min
	if inc < 0 {
		start = max
	}
	return ir.Definition{Name: name, MinVal: min, MaxVal: max, Increment: inc, Cycle: cycle, ChunkSize: chunk, StartVal: start}
}

// drain calls NextValue n times and returns values up to the first error.
func drain(t *testing.T, d *Dispenser, name string, n int) ([]int64, error) {
	t.Helper()
	var out []int64
	for range n {
		v, err := d.NextValue(t.Context(), name)
		if err != nil {
			return out, err
		}
		out = append(out, v)
	}
	return out, nil
}

func TestNextValue_AscendingExhausts(t *testing.T) {
	f := newFixture(t, []ir.Definition{seqDef("s", 1, 3, 1, false, 2)})

	values, err := drain(t, f.dispenser, "s", 3)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3}, values)

	for range 3 {
		_, err := f.dispenser.NextValue(t.Context(), "s")
		require.ErrorIs(t, err, ErrExhausted)
	}
}

func TestNextValue_AscendingCycles(t *testing.T) {
	f := newFixture(t, []ir.Definition{seqDef("s", 1, 3, 1, true, 2)})

	values, err := drain(t, f.dispenser, "s", 9)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3, 1, 2, 3, 1, 2, 3}, values)
}

func TestNextValue_DescendingExhausts(t *testing.T) {
	f := newFixture(t, []ir.Definition{seqDef("s", -3, -1, -1, false, 5)})

	values, err := drain(t, f.dispenser, "s", 4)
	assert.Equal(t, []int64{-1, -2, -3}, values)
	assert.True(t, IsExhausted(err))
}

func TestNextValue_DescendingCycles(t *testing.T) {
	f := newFixture(t, []ir.Definition{seqDef("s", -3, -1, -1, true, 1)})

	values, err := drain(t, f.dispenser, "s", 7)
	require.NoError(t, err)
	assert.Equal(t, []int64{-1, -2, -3, -1, -2, -3, -1}, values)
}

func TestNextValue_ArithmeticProgression(t *testing.T) {
	defs := []ir.Definition{
		seqDef("by7", 0, 100, 7, false, 3),
		seqDef("down5", -40, 40, -5, false, 4),
		seqDef("big", math.MinInt64, math.MaxInt64, 1<<60, false, 2),
		seqDef("single", 5, 5, 1, false, 1),
	}
	f := newFixture(t, defs)

	for _, def := range defs {
		t.Run(def.Name, func(t *testing.T) {
			values, err := drain(t, f.dispenser, def.Name, 1000)
			require.True(t, IsExhausted(err), "sequence must end in EXHAUSTED, got %v", err)
			require.NotEmpty(t, values)
			assert.Equal(t, def.StartVal, values[0])
			for i := 1; i < len(values); i++ {
				assert.Equal(t, def.Increment, values[i]-values[i-1], "step %d", i)
			}
			last := values[len(values)-1]
			_, overflow := ir.AddOverflows(last, def.Increment)
			beyond := last + def.Increment
			assert.True(t, overflow || beyond > def.MaxVal || beyond < def.MinVal, "stopped before the bound")
		})
	}
}

func TestNextValue_OverflowExhausts(t *testing.T) {
	def := ir.Definition{Name: "edge", MinVal: 0, MaxVal: math.MaxInt64, Increment: 10, ChunkSize: 4, StartVal: math.MaxInt64 - 5}
	f := newFixture(t, []ir.Definition{def})

	v, err := f.dispenser.NextValue(t.Context(), "edge")
	require.NoError(t, err)
	assert.Equal(t, int64(math.MaxInt64-5), v)

	_, err = f.dispenser.NextValue(t.Context(), "edge")
	assert.ErrorIs(t, err, ErrExhausted)
}

func TestNextValue_OverflowWraps(t *testing.T) {
	def := ir.Definition{Name: "edge", MinVal: 3, MaxVal: math.MaxInt64, Increment: 10, Cycle: true, ChunkSize: 4, StartVal: math.MaxInt64 - 5}
	f := newFixture(t, []ir.Definition{def})

	values, err := drain(t, f.dispenser, "edge", 3)
	require.NoError(t, err)
	assert.Equal(t, []int64{math.MaxInt64 - 5, 3, 13}, values)
}

func TestNextValue_UnderflowExhausts(t *testing.T) {
	def := ir.Definition{Name: "edge", MinVal: math.MinInt64, MaxVal: 0, Increment: -3, ChunkSize: 1, StartVal: math.MinInt64 + 1}
	f := newFixture(t, []ir.Definition{def})

	values, err := drain(t, f.dispenser, "edge", 3)
	assert.Equal(t, []int64{math.MinInt64 + 1}, values)
	assert.ErrorIs(t, err, ErrExhausted)
}

func TestNextValue_NotFound(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.dispenser.NextValue(t.Context(), "missing")
	require.ErrorIs(t, err, ErrNotFound)

	var se *Error
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "missing", se.Name)
	assert.Zero(t, f.faults.Calls())
}

func TestNextValue_CaseInsensitiveName(t *testing.T) {
	f := newFixture(t, []ir.Definition{seqDef("Orders", 1, 100, 1, false, 10)})

	a, err := f.dispenser.NextValue(t.Context(), "orders")
	require.NoError(t, err)
	b, err := f.dispenser.NextValue(t.Context(), "  ORDERS ")
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, []int64{a, b})
}

func TestRefill_AfterExactlyChunkSizeDispenses(t *testing.T) {
	f := newFixture(t, []ir.Definition{seqDef("s", 1, 100, 1, false, 2)})

	// The first call loads the initial chunk.
	_, err := f.dispenser.NextValue(t.Context(), "s")
	require.NoError(t, err)
	assert.Equal(t, 1, f.faults.Calls())

	_, err = f.dispenser.NextValue(t.Context(), "s")
	require.NoError(t, err)
	assert.Equal(t, 2, f.faults.Calls(), "second dispense empties the chunk and refills")

	_, err = f.dispenser.NextValue(t.Context(), "s")
	require.NoError(t, err)
	assert.Equal(t, 2, f.faults.Calls())

	_, err = f.dispenser.NextValue(t.Context(), "s")
	require.NoError(t, err)
	assert.Equal(t, 3, f.faults.Calls())
}

func TestRefill_FailureReleasesLock(t *testing.T) {
	f := newFixture(t, []ir.Definition{seqDef("s", 1, 100, 1, false, 2)})
	f.faults.FailOn(2)

	v, err := f.dispenser.NextValue(t.Context(), "s")
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	_, err = f.dispenser.NextValue(t.Context(), "s")
	require.ErrorIs(t, err, ErrRefillFailed)
	assert.ErrorIs(t, err, testutil.ErrInjected)

	// Another caller must get the lock promptly.
	ctx, cancel := context.WithTimeout(t.Context(), time.Second)
	defer cancel()
	v, err = f.dispenser.NextValue(ctx, "s")
	require.NoError(t, err)

	// 2 was captured before the failed refill and is discarded.
	assert.Equal(t, int64(3), v)
	assert.Equal(t, 3, f.faults.Calls())
	assert.Equal(t, ir.StatusActive, mustLookup(t, f.registry, "s").Status(), "refill failure never changes status")
}

func TestRefill_DeliverPolicy(t *testing.T) {
	f := newFixture(t, []ir.Definition{seqDef("s", 1, 100, 1, false, 2)}, WithRefillPolicy(RefillPolicyDeliver))
	f.faults.FailOn(2, 3)

	values, err := drain(t, f.dispenser, "s", 2)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, values, "value captured before the failed refill is delivered")

	// The pending refill fails again on entry: nothing is consumed.
	_, err = f.dispenser.NextValue(t.Context(), "s")
	require.ErrorIs(t, err, ErrRefillFailed)

	v, err := f.dispenser.NextValue(t.Context(), "s")
	require.NoError(t, err)
	assert.Equal(t, int64(3), v)
	assert.Equal(t, 4, f.faults.Calls())
}

func TestRefill_InitialFailureConsumesNothing(t *testing.T) {
	f := newFixture(t, []ir.Definition{seqDef("s", 10, 100, 5, false, 3)})
	f.faults.FailOn(1)

	_, err := f.dispenser.NextValue(t.Context(), "s")
	require.True(t, IsRefillFailed(err))

	values, err := drain(t, f.dispenser, "s", 3)
	require.NoError(t, err)
	assert.Equal(t, []int64{10, 15, 20}, values)
}

func TestRefill_SkippedAfterExhaustion(t *testing.T) {
	f := newFixture(t, []ir.Definition{seqDef("s", 1, 3, 1, false, 3)})

	values, err := drain(t, f.dispenser, "s", 3)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3}, values)
	assert.Equal(t, 1, f.faults.Calls(), "no refill once the final value is out")

	_, err = f.dispenser.NextValue(t.Context(), "s")
	require.ErrorIs(t, err, ErrExhausted)
	assert.Equal(t, 1, f.faults.Calls(), "fast path never reaches the store")
}

func TestRefill_StoreReportsExhausted(t *testing.T) {
	def := seqDef("s", 1, 3, 1, false, 2)
	f := newFixture(t, []ir.Definition{def})
	f.memory.SetPosition("s", ir.Position{NextStartVal: 3, Status: ir.StatusExhausted})

	_, err := f.dispenser.NextValue(t.Context(), "s")
	require.ErrorIs(t, err, ErrExhausted)
	assert.Equal(t, ir.StatusExhausted, mustLookup(t, f.registry, "s").Status())

	_, err = f.dispenser.NextValue(t.Context(), "s")
	require.ErrorIs(t, err, ErrExhausted)
	assert.Equal(t, 1, f.faults.Calls())
}

func TestRefill_ContractViolation(t *testing.T) {
	reg := NewRegistry()
	def := seqDef("s", 1, 10, 1, false, 2)
	_, err := reg.Load(def, def.InitialPosition())
	require.NoError(t, err)

	bad := testutil.ChunkFunc(func(context.Context, ir.Definition) (ir.Chunk, error) {
		return ir.Chunk{Status: ir.StatusActive, Remaining: 0}, nil
	})
	d := NewDispenser(reg, bad)

	_, err = d.NextValue(t.Context(), "s")
	require.ErrorIs(t, err, ErrRefillFailed)
	assert.ErrorIs(t, err, errBadChunk)
}

func TestRefill_FirstValueOutOfRange(t *testing.T) {
	reg := NewRegistry()
	def := seqDef("s", 1, 10, 1, false, 2)
	_, err := reg.Load(def, def.InitialPosition())
	require.NoError(t, err)

	bad := testutil.ChunkFunc(func(context.Context, ir.Definition) (ir.Chunk, error) {
		return ir.Chunk{Status: ir.StatusActive, FirstVal: 11, Remaining: 2, NextStartVal: 13}, nil
	})
	d := NewDispenser(reg, bad)

	_, err = d.NextValue(t.Context(), "s")
	require.ErrorIs(t, err, ErrRefillFailed)
	assert.ErrorIs(t, err, errBadChunk)
}

func TestRefill_StartsAtChunkFirstValue(t *testing.T) {
	def := seqDef("s", 1, 100, 1, false, 3)
	f := newFixture(t, []ir.Definition{def})

	// The store moved on since the state was loaded.
	f.memory.SetPosition("s", ir.Position{NextStartVal: 40, Status: ir.StatusActive})

	values, err := drain(t, f.dispenser, "s", 4)
	require.NoError(t, err)
	assert.Equal(t, []int64{40, 41, 42, 43}, values)
}

func TestNextValue_ExhaustedPositionSkipsStore(t *testing.T) {
	reg := NewRegistry()
	def := seqDef("s", 1, 10, 1, false, 2)
	_, err := reg.Load(def, ir.Position{NextStartVal: 10, Status: ir.StatusExhausted})
	require.NoError(t, err)

	store := testutil.NewFaultyChunkStore(testutil.NewMemoryChunkStore())
	d := NewDispenser(reg, store)

	_, err = d.NextValue(t.Context(), "s")
	require.ErrorIs(t, err, ErrExhausted)
	assert.Zero(t, store.Calls())
}

func TestLockTimeout_NoMutation(t *testing.T) {
	entered := make(chan struct{})
	unblock := make(chan struct{})
	f := newFixture(t, []ir.Definition{seqDef("s", 1, 100, 1, false, 5)}, WithLockTimeout(20*time.Millisecond))
	f.faults.OnCall(func(call int, _ ir.Definition) {
		if call == 1 {
			close(entered)
			<-unblock
		}
	})

	type result struct {
		v   int64
		err error
	}
	first := make(chan result, 1)
	go func() {
		v, err := f.dispenser.NextValue(context.Background(), "s")
		first <- result{v, err}
	}()
	<-entered

	_, err := f.dispenser.NextValue(t.Context(), "s")
	require.ErrorIs(t, err, ErrLockTimeout)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(unblock)
	r := <-first
	require.NoError(t, r.err)
	assert.Equal(t, int64(1), r.v)

	v, err := f.dispenser.NextValue(t.Context(), "s")
	require.NoError(t, err)
	assert.Equal(t, int64(2), v, "timed out caller consumed nothing")
}

func TestLockTimeout_CallerCancel(t *testing.T) {
	entered := make(chan struct{})
	unblock := make(chan struct{})
	f := newFixture(t, []ir.Definition{seqDef("s", 1, 100, 1, false, 5)})
	f.faults.OnCall(func(call int, _ ir.Definition) {
		if call == 1 {
			close(entered)
			<-unblock
		}
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = f.dispenser.NextValue(context.Background(), "s")
	}()
	<-entered

	ctx, cancel := context.WithCancel(t.Context())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err := f.dispenser.NextValue(ctx, "s")
	require.True(t, IsLockTimeout(err))
	assert.ErrorIs(t, err, context.Canceled)

	close(unblock)
	<-done
}

func TestNextValue_ConcurrentDistinctNoGaps(t *testing.T) {
	const workers = 8
	const perWorker = 250
	f := newFixture(t, []ir.Definition{seqDef("s", 1, math.MaxInt64, 1, false, 7)})

	var wg sync.WaitGroup
	results := make([][]int64, workers)
	errs := make(chan error, workers)
	for i := range workers {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			for range perWorker {
				v, err := f.dispenser.NextValue(context.Background(), "s")
				if err != nil {
					errs <- err
					return
				}
				results[idx] = append(results[idx], v)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	var all []int64
	for _, r := range results {
		require.True(t, slices.IsSorted(r), "each caller observes increasing values")
		all = append(all, r...)
	}
	slices.Sort(all)
	require.Len(t, all, workers*perWorker)
	for i, v := range all {
		require.Equal(t, int64(i+1), v)
	}
}

func TestNextValue_ConcurrentSequencesIndependent(t *testing.T) {
	f := newFixture(t, []ir.Definition{
		seqDef("slow", 1, 100, 1, false, 1),
		seqDef("fast", 1, 100, 1, false, 1),
	})
	entered := make(chan struct{})
	unblock := make(chan struct{})
	var once sync.Once
	f.faults.OnCall(func(_ int, def ir.Definition) {
		if def.Name == "slow" {
			once.Do(func() {
				close(entered)
				<-unblock
			})
		}
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = f.dispenser.NextValue(context.Background(), "slow")
	}()
	<-entered

	ctx, cancel := context.WithTimeout(t.Context(), time.Second)
	defer cancel()
	v, err := f.dispenser.NextValue(ctx, "fast")
	require.NoError(t, err, "a refill on one sequence never blocks another")
	assert.Equal(t, int64(1), v)

	close(unblock)
	<-done
}

func TestNextValues(t *testing.T) {
	f := newFixture(t, []ir.Definition{seqDef("s", 1, 5, 1, false, 2)})

	values, err := f.dispenser.NextValues(t.Context(), "s", 3)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3}, values)

	values, err = f.dispenser.NextValues(t.Context(), "s", 10)
	assert.Equal(t, []int64{4, 5}, values)
	assert.ErrorIs(t, err, ErrExhausted)

	values, err = f.dispenser.NextValues(t.Context(), "s", 0)
	assert.NoError(t, err)
	assert.Empty(t, values)
}

func TestNextValues_HugeCountStopsAtExhaustion(t *testing.T) {
	f := newFixture(t, []ir.Definition{seqDef("s", 1, 3, 1, false, 2)})

	values, err := f.dispenser.NextValues(t.Context(), "s", math.MaxInt)
	assert.Equal(t, []int64{1, 2, 3}, values)
	assert.ErrorIs(t, err, ErrExhausted)
}

func TestPeek(t *testing.T) {
	f := newFixture(t, []ir.Definition{seqDef("s", 1, 3, 1, false, 2)})

	snap, err := f.dispenser.Peek(t.Context(), "s")
	require.NoError(t, err)
	assert.Equal(t, Snapshot{Name: "s", Definition: seqDef("s", 1, 3, 1, false, 2), Status: ir.StatusActive, NextVal: 1, NextStartVal: 1}, snap)

	_, err = drain(t, f.dispenser, "s", 1)
	require.NoError(t, err)
	snap, err = f.dispenser.Peek(t.Context(), "s")
	require.NoError(t, err)
	assert.Equal(t, int64(2), snap.NextVal)
	assert.Equal(t, int64(1), snap.Remaining)
	assert.Equal(t, int64(3), snap.NextStartVal)

	_, err = drain(t, f.dispenser, "s", 3)
	require.ErrorIs(t, err, ErrExhausted)
	snap, err = f.dispenser.Peek(t.Context(), "s")
	require.NoError(t, err)
	assert.Equal(t, ir.StatusExhausted, snap.Status)
	assert.Zero(t, snap.NextVal)

	_, err = f.dispenser.Peek(t.Context(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMetrics(t *testing.T) {
	metrics := NewMetricsCollector()
	f := newFixture(t, []ir.Definition{seqDef("s", 1, 3, 1, false, 2)}, WithMetrics(metrics))
	f.faults.FailOn(2)

	for range 5 {
		_, _ = f.dispenser.NextValue(t.Context(), "s")
	}
	_, _ = f.dispenser.NextValue(t.Context(), "missing")

	assert.Same(t, metrics, f.dispenser.Metrics())
	// 1, then 2 is discarded by the failed refill, then 3.
	assert.Equal(t, float64(2), promtestutil.ToFloat64(metrics.Dispensed("s")))
	assert.Equal(t, float64(1), promtestutil.ToFloat64(metrics.Errors("s", CodeRefillFailed)))
	assert.Equal(t, float64(1), promtestutil.ToFloat64(metrics.Errors("", CodeNotFound)))
	assert.Equal(t, float64(1), promtestutil.ToFloat64(metrics.Refills("s", refillFailed)))
	assert.Equal(t, float64(2), promtestutil.ToFloat64(metrics.Refills("s", refillOK)))
	assert.Positive(t, promtestutil.ToFloat64(metrics.Errors("s", CodeExhausted)))
}

func TestParseRefillPolicy(t *testing.T) {
	for _, p := range []RefillPolicy{RefillPolicyDiscard, RefillPolicyDeliver} {
		got, err := ParseRefillPolicy(p.String())
		require.NoError(t, err)
		assert.Equal(t, p, got)
	}
	got, err := ParseRefillPolicy("")
	require.NoError(t, err)
	assert.Equal(t, RefillPolicyDiscard, got)

	_, err = ParseRefillPolicy("retry")
	assert.Error(t, err)
}

func mustLookup(t *testing.T, r *Registry, name string) *State {
	t.Helper()
	s, ok := r.Lookup(name)
	if !ok {
		t.Fatalf("sequence %q not registered", name)
	}
	return s
}
