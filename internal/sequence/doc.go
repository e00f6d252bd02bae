// Package sequence dispenses values for named int64 sequences.
//
// A State holds one sequence's bounds, direction, cycling policy and the
// chunk of values it currently owns. The Registry maps names to states for
// the lifetime of an engine session. The Dispenser hands out values:
//
//  1. Resolve the name (NOT_FOUND).
//  2. Read status without the lock; reject exhausted sequences early.
//  3. Take the per-sequence lock, bounded by the context (LOCK_TIMEOUT).
//  4. Re-check status under the lock.
//  5. Refill first if the previous refill never happened or failed.
//  6. Capture next_val, consume one value of the chunk, advance.
//  7. Refill from the ChunkStore once the chunk is empty (REFILL_FAILED).
//
// The lock is released by a deferred call, so every return path gives it
// back. The unlocked status read in step 2 only ever short-circuits towards
// EXHAUSTED, which is terminal, so a stale read costs one extra lock
// acquisition and never a wrong answer.
//
// Only status may be read without the lock. next_val is never read once a
// sequence is exhausted.
package sequence
