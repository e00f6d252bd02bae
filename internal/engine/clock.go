package engine

import "sync/atomic"

// Clock stamps engine events with a strictly increasing sequence number, so a
// trace orders the same way on every run.
//
// Thread-safety: Clock is safe for concurrent use (atomic operations).
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a clock whose first stamp is 1.
func NewClock() *Clock {
	return &Clock{}
}

// Next returns the next stamp.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the last stamp handed out, or 0.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
