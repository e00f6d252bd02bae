package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/seqd/internal/engine"
	"github.com/roach88/seqd/internal/ir"
)

// TraceSnapshot captures the complete trace for a scenario execution.
// All fields use canonical JSON serialization for deterministic comparison.
type TraceSnapshot struct {
	ScenarioName string         `json:"scenario_name"`
	Trace        []engine.Event `json:"trace"`
}

// toCanonicalMap converts a TraceSnapshot to a map[string]any for canonical
// JSON serialization. Fields that mean nothing for an event's kind are left
// out; fields that do are kept even when zero.
func (s *TraceSnapshot) toCanonicalMap() map[string]any {
	traceList := make([]any, len(s.Trace))
	for i, ev := range s.Trace {
		m := map[string]any{
			"seq":      ev.Seq,
			"kind":     string(ev.Kind),
			"sequence": ev.Sequence,
		}
		switch ev.Kind {
		case engine.EventDispense:
			m["value"] = ev.Value
		case engine.EventError:
			m["code"] = ev.Code
			m["error"] = ev.Error
		case engine.EventRefill:
			m["result"] = ev.Result
			if ev.Error != "" {
				m["error"] = ev.Error
			} else {
				m["remaining"] = ev.Remaining
				m["next_start_val"] = ev.NextStartVal
			}
		case engine.EventDefine:
			m["result"] = ev.Result
		}
		traceList[i] = m
	}

	return map[string]any{
		"scenario_name": s.ScenarioName,
		"trace":         traceList,
	}
}

// Snapshot renders the canonical JSON golden form of a trace.
func Snapshot(scenarioName string, trace []engine.Event) ([]byte, error) {
	snapshot := TraceSnapshot{ScenarioName: scenarioName, Trace: trace}
	return ir.MarshalCanonical(snapshot.toCanonicalMap())
}

// RunWithGolden executes a scenario and compares the trace against a golden file.
// The golden file is stored in testdata/golden/{scenario.Name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if scenario execution fails.
// Test failure (via goldie) occurs if trace doesn't match golden file.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	return result, AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares the given result's trace against a golden file
// without re-running the scenario.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	traceJSON, err := Snapshot(scenarioName, result.Trace)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, traceJSON)
	return nil
}
