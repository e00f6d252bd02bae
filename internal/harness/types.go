package harness

import (
	"sync"

	"github.com/roach88/seqd/internal/engine"
	"github.com/roach88/seqd/internal/sequence"
)

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass indicates overall test success.
	// True if every expect clause and assertion matched.
	Pass bool `json:"pass"`

	// Trace contains every engine event in stamp order.
	Trace []engine.Event `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Final holds the end state of every sequence still defined, keyed by
	// the name it was defined with.
	Final map[string]sequence.Snapshot `json:"final,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []engine.Event{},
		Errors: []string{},
		Final:  make(map[string]sequence.Snapshot),
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// recorder collects engine events for the trace.
type recorder struct {
	mu     sync.Mutex
	events []engine.Event
}

func (r *recorder) observe(ev engine.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) snapshot() []engine.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]engine.Event{}, r.events...)
}
