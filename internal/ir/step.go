package ir

import "math"

// Transition is the outcome of advancing a sequence by one increment.
type Transition int

const (
	// TransitionStep means next_val moved by exactly one increment.
	TransitionStep Transition = iota
	// TransitionWrap means a bound was crossed and a cycling sequence restarted
	// at the opposite bound.
	TransitionWrap
	// TransitionExhaust means a bound was crossed (or int64 overflowed) on a
	// non-cycling sequence. The returned value must not be used.
	TransitionExhaust
)

func (t Transition) String() string {
	switch t {
	case TransitionStep:
		return "step"
	case TransitionWrap:
		return "wrap"
	case TransitionExhaust:
		return "exhaust"
	default:
		return "unknown"
	}
}

// AddOverflows reports whether a+b overflows int64, along with the wrapped sum.
func AddOverflows(a, b int64) (int64, bool) {
	sum := a + b
	if b > 0 && sum < a {
		return sum, true
	}
	if b < 0 && sum > a {
		return sum, true
	}
	return sum, false
}

// Advance computes the value that follows v.
//
// Overflow and bound crossing are treated alike: a cycling sequence restarts at
// MinVal (ascending) or MaxVal (descending), a non-cycling one is exhausted.
func (d Definition) Advance(v int64) (int64, Transition) {
	next, overflow := AddOverflows(v, d.Increment)
	crossed := overflow ||
		(d.Ascending() && next > d.MaxVal) ||
		(!d.Ascending() && next < d.MinVal)
	if !crossed {
		return next, TransitionStep
	}
	if !d.Cycle {
		return 0, TransitionExhaust
	}
	return d.wrapStart(), TransitionWrap
}

// AdvanceN reserves up to n values starting at cur and returns the first value
// after the reservation, how many values were taken, and whether a non-cycling
// sequence ran out. When exhausted is true, next is meaningless.
//
// AdvanceN(cur, n) agrees with n successive calls to Advance.
func (d Definition) AdvanceN(cur, n int64) (next, taken int64, exhausted bool) {
	if n <= 0 {
		return cur, 0, false
	}
	left := d.stepsLeft(cur)
	un := uint64(n)
	if un < left {
		return addSteps(cur, un, d.Increment), n, false
	}
	if !d.Cycle {
		return cur, int64(left), true
	}
	un -= left
	start := d.wrapStart()
	un %= d.stepsLeft(start)
	return addSteps(start, un, d.Increment), n, false
}

func (d Definition) wrapStart() int64 {
	if d.Ascending() {
		return d.MinVal
	}
	return d.MaxVal
}

// stepsLeft counts the values from cur to the bound in the direction of travel,
// cur included. Saturates at MaxUint64 for a full-range unit increment.
func (d Definition) stepsLeft(cur int64) uint64 {
	var dist, step uint64
	if d.Ascending() {
		dist = uint64(d.MaxVal) - uint64(cur)
		step = uint64(d.Increment)
	} else {
		dist = uint64(cur) - uint64(d.MinVal)
		step = uint64(-d.Increment)
	}
	n := dist / step
	if n == math.MaxUint64 {
		return math.MaxUint64
	}
	return n + 1
}

// addSteps returns cur + k*inc using two's complement arithmetic. The caller
// guarantees the true result lies within the definition's bounds.
func addSteps(cur int64, k uint64, inc int64) int64 {
	return int64(uint64(cur) + k*uint64(inc))
}
