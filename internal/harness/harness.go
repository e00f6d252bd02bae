package harness

import (
	"context"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/roach88/seqd/internal/engine"
	"github.com/roach88/seqd/internal/sequence"
	"github.com/roach88/seqd/internal/store"
	"github.com/roach88/seqd/internal/testutil"
)

// Harness is the test execution engine.
// It runs one scenario against a real engine with a deterministic clock and
// grant IDs, so two runs of a scenario produce the same trace.
type Harness struct {
	engine   *engine.Engine
	clock    *testutil.DeterministicClock
	faults   *testutil.FaultyChunkStore
	recorder *recorder
	logger   *zap.Logger
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation.
//
// Execution flow:
// 1. Create fresh in-memory database and an engine on top of it
// 2. Define the scenario's sequences
// 3. Execute steps with expect validation
// 4. Capture the final state of every sequence
// 5. Evaluate assertions
//
// An error is returned only when the scenario cannot be set up. Failed
// expectations and assertions are reported in the result.
func Run(scenario *Scenario) (*Result, error) {
	return RunWithLogger(scenario, zap.NewNop())
}

// RunWithLogger is Run with engine logs sent to logger.
func RunWithLogger(scenario *Scenario, logger *zap.Logger) (*Result, error) {
	ctx := context.Background()

	policy, err := sequence.ParseRefillPolicy(scenario.RefillPolicy)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(":memory:", store.WithIDGenerator(testutil.NewSequentialIDs("grant")))
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}

	h := &Harness{
		clock:    testutil.NewDeterministicClock(time.Millisecond),
		recorder: &recorder{},
		logger:   logger,
	}
	eng, err := engine.New(ctx, st,
		engine.WithLogger(logger),
		engine.WithRefillPolicy(policy),
		engine.WithTimeSource(h.clock),
		engine.WithObserver(h.recorder.observe),
		engine.WithChunkStoreWrapper(func(inner sequence.ChunkStore) sequence.ChunkStore {
			h.faults = testutil.NewFaultyChunkStore(inner).FailOn(scenario.Faults...)
			return h.faults
		}),
	)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to start engine: %w", err)
	}
	h.engine = eng
	defer eng.Close()

	if _, err := eng.Define(ctx, scenario.Sequences, false); err != nil {
		return nil, fmt.Errorf("failed to define sequences: %w", err)
	}

	result := NewResult()
	h.executeSteps(ctx, scenario.Steps, result)

	for _, def := range scenario.Sequences {
		snap, err := eng.Peek(ctx, def.Name)
		if sequence.IsNotFound(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read final state of %q: %w", def.Name, err)
		}
		result.Final[def.Name] = snap
	}
	result.Trace = h.recorder.snapshot()

	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}

	h.logger.Debug("scenario finished",
		zap.String("scenario", scenario.Name),
		zap.Bool("pass", result.Pass),
		zap.Int("events", len(result.Trace)),
		zap.Int("chunk_store_calls", h.faults.Calls()))
	return result, nil
}

// executeSteps runs steps in order. A failed expectation is recorded and
// execution continues with the next step.
func (h *Harness) executeSteps(ctx context.Context, steps []Step, result *Result) {
	for i, step := range steps {
		if step.Drop != "" {
			if err := h.engine.Drop(ctx, step.Drop); err != nil {
				result.AddError(fmt.Sprintf("steps[%d]: drop %q: %v", i, step.Drop, err))
			}
			continue
		}

		var values []int64
		errs := make([]error, 0, step.times())
		for range step.times() {
			if step.Count > 0 {
				vs, err := h.engine.NextValues(ctx, step.Next, step.Count)
				values = append(values, vs...)
				errs = append(errs, err)
				continue
			}
			v, err := h.engine.NextValue(ctx, step.Next)
			if err == nil {
				values = append(values, v)
			}
			errs = append(errs, err)
		}

		if step.Expect == nil {
			continue
		}
		for _, msg := range checkExpect(*step.Expect, values, errs) {
			result.AddError(fmt.Sprintf("steps[%d] (next %q): %s", i, step.Next, msg))
		}
	}
}

// checkExpect compares the outcome of one step against its expect clause.
func checkExpect(expect Expect, values []int64, errs []error) []string {
	var msgs []string
	for n, err := range errs {
		code := sequence.CodeOf(err)
		switch {
		case expect.Error != "" && string(code) != expect.Error:
			msgs = append(msgs, fmt.Sprintf("call %d: expected error %s, got %v", n+1, expect.Error, err))
		case expect.Error == "" && err != nil:
			msgs = append(msgs, fmt.Sprintf("call %d: unexpected error: %v", n+1, err))
		}
	}

	switch {
	case expect.Value != nil:
		if len(values) != 1 || values[0] != *expect.Value {
			msgs = append(msgs, fmt.Sprintf("expected value %d, got %v", *expect.Value, values))
		}
	case expect.Values != nil:
		if !slices.Equal(values, expect.Values) {
			msgs = append(msgs, fmt.Sprintf("expected values %v, got %v", expect.Values, values))
		}
	}
	return msgs
}
