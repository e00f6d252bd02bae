package harness

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/seqd/internal/engine"
	"github.com/roach88/seqd/internal/ir"
)

// AssertionError is returned when an assertion fails.
// It includes the trace to help debug the failure.
type AssertionError struct {
	Type     string         // Assertion type for categorization
	Expected string         // Human-readable expected outcome
	Actual   string         // Human-readable actual outcome
	Trace    []engine.Event // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	fmt.Fprintf(&buf, "\nFull trace:\n")
	for _, ev := range e.Trace {
		fmt.Fprintf(&buf, "  [%d] %s\n", ev.Seq, describeEvent(ev))
	}
	return buf.String()
}

func describeEvent(ev engine.Event) string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "%s %s", ev.Kind, ev.Sequence)
	switch ev.Kind {
	case engine.EventDispense:
		fmt.Fprintf(&buf, " value=%d", ev.Value)
	case engine.EventError:
		fmt.Fprintf(&buf, " code=%s", ev.Code)
	case engine.EventRefill, engine.EventDefine:
		fmt.Fprintf(&buf, " result=%s", ev.Result)
	}
	return buf.String()
}

// sameSequence compares sequence names the way the catalog does.
func sameSequence(a, b string) bool {
	return ir.NormalizeName(a) == ir.NormalizeName(b)
}

// matchEvent reports whether ev satisfies every field set on a.
func matchEvent(ev engine.Event, a Assertion) bool {
	if string(ev.Kind) != a.Kind {
		return false
	}
	if a.Sequence != "" && !sameSequence(ev.Sequence, a.Sequence) {
		return false
	}
	if a.Code != "" && ev.Code != a.Code {
		return false
	}
	if a.Result != "" && ev.Result != a.Result {
		return false
	}
	if a.Value != nil && (ev.Kind != engine.EventDispense || ev.Value != *a.Value) {
		return false
	}
	return true
}

func assertTraceContains(trace []engine.Event, a Assertion) error {
	for _, ev := range trace {
		if matchEvent(ev, a) {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: fmt.Sprintf("event %s", describeAssertion(a)),
		Actual:   "no matching event",
		Trace:    trace,
	}
}

// assertTraceOrder checks that the listed kinds appear as a subsequence of
// the trace, restricted to a.Sequence when set.
func assertTraceOrder(trace []engine.Event, a Assertion) error {
	var seen []string
	next := 0
	for _, ev := range trace {
		if a.Sequence != "" && !sameSequence(ev.Sequence, a.Sequence) {
			continue
		}
		seen = append(seen, string(ev.Kind))
		if next < len(a.Kinds) && string(ev.Kind) == a.Kinds[next] {
			next++
		}
	}
	if next == len(a.Kinds) {
		return nil
	}
	return &AssertionError{
		Type:     AssertTraceOrder,
		Expected: fmt.Sprintf("kinds in order %v", a.Kinds),
		Actual:   fmt.Sprintf("%v (matched %d of %d)", seen, next, len(a.Kinds)),
		Trace:    trace,
	}
}

func assertTraceCount(trace []engine.Event, a Assertion) error {
	if a.Count == nil {
		return fmt.Errorf("%s: count is required", a.Type)
	}
	count := 0
	for _, ev := range trace {
		if matchEvent(ev, a) {
			count++
		}
	}
	if count == *a.Count {
		return nil
	}
	return &AssertionError{
		Type:     AssertTraceCount,
		Expected: fmt.Sprintf("%d events %s", *a.Count, describeAssertion(a)),
		Actual:   fmt.Sprintf("%d events", count),
		Trace:    trace,
	}
}

func assertRefillCount(trace []engine.Event, a Assertion) error {
	a.Kind = string(engine.EventRefill)
	err := assertTraceCount(trace, a)
	if ae, ok := err.(*AssertionError); ok {
		ae.Type = AssertRefillCount
	}
	return err
}

func assertValues(trace []engine.Event, a Assertion) error {
	values := []int64{}
	for _, ev := range trace {
		if ev.Kind == engine.EventDispense && sameSequence(ev.Sequence, a.Sequence) {
			values = append(values, ev.Value)
		}
	}
	if slices.Equal(values, a.Values) {
		return nil
	}
	return &AssertionError{
		Type:     AssertValues,
		Expected: fmt.Sprintf("%s dispensed %v", a.Sequence, a.Values),
		Actual:   fmt.Sprintf("%v", values),
		Trace:    trace,
	}
}

func assertFinalStatus(result *Result, a Assertion) error {
	want, err := ir.ParseStatus(a.Status)
	if err != nil {
		return err
	}
	for name, snap := range result.Final {
		if !sameSequence(name, a.Sequence) {
			continue
		}
		if snap.Status == want {
			return nil
		}
		return &AssertionError{
			Type:     AssertFinalStatus,
			Expected: fmt.Sprintf("%s is %s", a.Sequence, want),
			Actual:   snap.Status.String(),
			Trace:    result.Trace,
		}
	}
	return &AssertionError{
		Type:     AssertFinalStatus,
		Expected: fmt.Sprintf("%s is %s", a.Sequence, want),
		Actual:   "sequence not defined",
		Trace:    result.Trace,
	}
}

func describeAssertion(a Assertion) string {
	parts := []string{"kind=" + a.Kind}
	if a.Sequence != "" {
		parts = append(parts, "sequence="+a.Sequence)
	}
	if a.Code != "" {
		parts = append(parts, "code="+a.Code)
	}
	if a.Result != "" {
		parts = append(parts, "result="+a.Result)
	}
	if a.Value != nil {
		parts = append(parts, fmt.Sprintf("value=%d", *a.Value))
	}
	return strings.Join(parts, " ")
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, assertion)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, assertion)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, assertion)
		case AssertRefillCount:
			err = assertRefillCount(result.Trace, assertion)
		case AssertValues:
			err = assertValues(result.Trace, assertion)
		case AssertFinalStatus:
			err = assertFinalStatus(result, assertion)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}

	return errors
}
