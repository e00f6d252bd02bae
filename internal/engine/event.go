package engine

import (
	"context"

	"github.com/roach88/seqd/internal/ir"
	"github.com/roach88/seqd/internal/sequence"
)

// EventKind names what an Event records.
type EventKind string

const (
	EventDispense EventKind = "dispense"
	EventError    EventKind = "error"
	EventRefill   EventKind = "refill"
	EventDefine   EventKind = "define"
	EventDrop     EventKind = "drop"
	EventImport   EventKind = "import"
)

// Event is one stamped engine occurrence.
type Event struct {
	Seq      int64     `json:"seq" yaml:"seq"`
	Kind     EventKind `json:"kind" yaml:"kind"`
	Sequence string    `json:"sequence" yaml:"sequence"`

	// Value is the dispensed value.
	Value int64 `json:"value,omitempty" yaml:"value,omitempty"`

	// Code is the error code of an error event.
	Code string `json:"code,omitempty" yaml:"code,omitempty"`

	// Result is ok, exhausted or failed for refills, and the define result
	// for definitions.
	Result string `json:"result,omitempty" yaml:"result,omitempty"`

	// Remaining and NextStartVal describe the chunk of a refill.
	Remaining    int64 `json:"remaining,omitempty" yaml:"remaining,omitempty"`
	NextStartVal int64 `json:"next_start_val,omitempty" yaml:"next_start_val,omitempty"`

	// Error is the failure message of error and failed refill events.
	Error string `json:"error,omitempty" yaml:"error,omitempty"`
}

// Observer receives every event. It is called synchronously, from any
// goroutine that uses the engine, and must be safe for concurrent use.
type Observer func(Event)

func (e *Engine) emit(ev Event) {
	if e.observer == nil {
		return
	}
	ev.Seq = e.clock.Next()
	e.observer(ev)
}

func (e *Engine) emitDispense(name string, values []int64, err error) {
	for _, v := range values {
		e.emit(Event{Kind: EventDispense, Sequence: name, Value: v})
	}
	if err != nil {
		e.emit(Event{
			Kind:     EventError,
			Sequence: name,
			Code:     string(sequence.CodeOf(err)),
			Error:    err.Error(),
		})
	}
}

// observedChunks reports every refill to the engine's observer.
type observedChunks struct {
	inner sequence.ChunkStore
	e     *Engine
}

func (o *observedChunks) AllocateChunk(ctx context.Context, def ir.Definition) (ir.Chunk, error) {
	chunk, err := o.inner.AllocateChunk(ctx, def)
	ev := Event{Kind: EventRefill, Sequence: def.Name}
	switch {
	case err != nil:
		ev.Result = "failed"
		ev.Error = err.Error()
	case chunk.Status == ir.StatusExhausted:
		ev.Result = "exhausted"
		ev.NextStartVal = chunk.NextStartVal
	default:
		ev.Result = "ok"
		ev.Remaining = chunk.Remaining
		ev.NextStartVal = chunk.NextStartVal
	}
	o.e.emit(ev)
	return chunk, err
}
