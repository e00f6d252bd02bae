package sequence

import (
	"slices"
	"strings"
	"sync"

	"github.com/roach88/seqd/internal/ir"
)

// Resolver resolves a sequence name to its state.
// Lookup performs no I/O and is safe to call without any sequence lock.
type Resolver interface {
	Lookup(name string) (*State, bool)
}

// Registry owns every State of an engine session, keyed by normalized name.
//
// The map lock guards membership only. It is never held while a sequence
// lock is taken, so loading or dropping a definition never waits on a
// dispense.
type Registry struct {
	mu     sync.RWMutex
	states map[string]*State
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{states: make(map[string]*State)}
}

// Load builds a state from def and pos and registers it, replacing any state
// with the same normalized name.
func (r *Registry) Load(def ir.Definition, pos ir.Position) (*State, error) {
	s, err := NewState(def, pos)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states[s.key] = s
	return s, nil
}

// Lookup implements Resolver.
func (r *Registry) Lookup(name string) (*State, bool) {
	key := ir.NormalizeName(name)
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.states[key]
	return s, ok
}

// Remove unregisters name and reports whether it was present. Callers already
// holding the state may finish their dispense.
func (r *Registry) Remove(name string) bool {
	key := ir.NormalizeName(name)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.states[key]; !ok {
		return false
	}
	delete(r.states, key)
	return true
}

// Names returns the defined names ordered by normalized key.
func (r *Registry) Names() []string {
	r.mu.RLock()
	states := make([]*State, 0, len(r.states))
	for _, s := range r.states {
		states = append(states, s)
	}
	r.mu.RUnlock()

	slices.SortFunc(states, func(a, b *State) int {
		return strings.Compare(a.key, b.key)
	})
	out := make([]string, len(states))
	for i, s := range states {
		out[i] = s.def.Name
	}
	return out
}

// Len returns the number of registered sequences.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.states)
}
