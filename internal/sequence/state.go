package sequence

import (
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/roach88/seqd/internal/ir"
)

// State is the in-memory record of one sequence.
//
// The definition is immutable. Every other field is guarded by lock, except
// status, which is written under the lock but may be loaded without it.
type State struct {
	def ir.Definition
	key string

	lock   *semaphore.Weighted
	status atomic.Int32

	nextVal      int64
	remaining    int64
	nextStartVal int64
}

// NewState builds a state from a definition and its persisted position.
//
// The state owns no chunk yet: the first dispense refills before handing
// out pos.NextStartVal.
func NewState(def ir.Definition, pos ir.Position) (*State, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	s := &State{
		def:          def,
		key:          ir.NormalizeName(def.Name),
		lock:         semaphore.NewWeighted(1),
		nextStartVal: pos.NextStartVal,
	}
	switch pos.Status {
	case ir.StatusActive:
		if !def.InRange(pos.NextStartVal) {
			return nil, fmt.Errorf("sequence %q: position %d outside [%d, %d]", def.Name, pos.NextStartVal, def.MinVal, def.MaxVal)
		}
		s.nextVal = pos.NextStartVal
	case ir.StatusExhausted:
	default:
		return nil, fmt.Errorf("sequence %q: invalid status %d", def.Name, int32(pos.Status))
	}
	s.status.Store(int32(pos.Status))
	return s, nil
}

// Name returns the sequence name as defined.
func (s *State) Name() string { return s.def.Name }

// Key returns the normalized registry key.
func (s *State) Key() string { return s.key }

// Definition returns the static definition.
func (s *State) Definition() ir.Definition { return s.def }

// Status loads the status without taking the lock.
func (s *State) Status() ir.Status {
	return ir.Status(s.status.Load())
}

func (s *State) setStatus(st ir.Status) {
	s.status.Store(int32(st))
}

// Snapshot is a consistent copy of a state taken under its lock.
type Snapshot struct {
	Name         string        `json:"name" yaml:"name"`
	Definition   ir.Definition `json:"definition" yaml:"definition"`
	Status       ir.Status     `json:"status" yaml:"status"`
	NextVal      int64         `json:"next_val" yaml:"next_val"` // zero once exhausted
	Remaining    int64         `json:"remaining" yaml:"remaining"`
	NextStartVal int64         `json:"next_start_val" yaml:"next_start_val"`
}

// snapshot must be called with the lock held.
func (s *State) snapshot() Snapshot {
	snap := Snapshot{
		Name:         s.def.Name,
		Definition:   s.def,
		Status:       s.Status(),
		Remaining:    s.remaining,
		NextStartVal: s.nextStartVal,
	}
	if snap.Status == ir.StatusActive {
		snap.NextVal = s.nextVal
	}
	return snap
}
