package ir

// Allocate reserves the next chunk from pos and returns the reply for the
// dispenser along with the position to persist.
//
// A chunk that takes the final values of a non-cycling sequence is reported
// active with the values it holds; the returned position is already
// exhausted, so the following call gets an exhausted chunk.
func (d Definition) Allocate(pos Position) (Chunk, Position) {
	if pos.Status == StatusExhausted {
		return Chunk{Status: StatusExhausted, NextStartVal: pos.NextStartVal}, pos
	}
	next, taken, exhausted := d.AdvanceN(pos.NextStartVal, d.ChunkSize)
	if exhausted {
		return Chunk{Status: StatusActive, FirstVal: pos.NextStartVal, Remaining: taken, NextStartVal: pos.NextStartVal},
			Position{NextStartVal: pos.NextStartVal, Status: StatusExhausted}
	}
	return Chunk{Status: StatusActive, FirstVal: pos.NextStartVal, Remaining: taken, NextStartVal: next},
		Position{NextStartVal: next, Status: StatusActive}
}
