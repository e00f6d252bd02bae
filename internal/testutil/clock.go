package testutil

import (
	"sync"
	"time"

	"github.com/juju/clock"
)

// Epoch is the instant a DeterministicClock starts at.
var Epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// DeterministicClock is a clock.Clock for tests whose time only moves when
// it is read or waited on. Every Now call advances it by Step, and every
// wait completes at once after advancing by the requested duration, so
// timings and backoffs are identical on every run.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type DeterministicClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

var _ clock.Clock = (*DeterministicClock)(nil)

// NewDeterministicClock creates a clock at Epoch that advances by step on
// each Now call. A zero step freezes it between waits.
func NewDeterministicClock(step time.Duration) *DeterministicClock {
	return &DeterministicClock{now: Epoch, step: step}
}

// Now advances the clock by its step and returns the new time.
func (c *DeterministicClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(c.step)
	return c.now
}

// Elapsed returns how far the clock has moved since Epoch without moving it.
func (c *DeterministicClock) Elapsed() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now.Sub(Epoch)
}

// Reset moves the clock back to Epoch.
func (c *DeterministicClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = Epoch
}

func (c *DeterministicClock) advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if d > 0 {
		c.now = c.now.Add(d)
	}
	return c.now
}

// After advances the clock by d and returns a channel that already holds the
// new time.
func (c *DeterministicClock) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- c.advance(d)
	return ch
}

// NewTimer returns a timer that has already fired.
func (c *DeterministicClock) NewTimer(d time.Duration) clock.Timer {
	return &firedTimer{ch: c.After(d)}
}

// AfterFunc advances the clock by d and calls f before returning.
func (c *DeterministicClock) AfterFunc(d time.Duration, f func()) clock.Timer {
	c.advance(d)
	f()
	return &firedTimer{}
}

type firedTimer struct {
	ch <-chan time.Time
}

func (t *firedTimer) Chan() <-chan time.Time { return t.ch }

func (t *firedTimer) Reset(time.Duration) bool { return false }

func (t *firedTimer) Stop() bool { return false }
