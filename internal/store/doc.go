// Package store provides the SQLite backend of seqd.
//
// The store keeps three things per sequence:
//   - Definition: bounds, increment, cycling, chunk size and start value
//   - Position: the first value not yet handed out in any chunk
//   - Grant log: one row per chunk, in allocation order
//
// AllocateChunk is the chunk store the dispenser refills from. It reads the
// position, reserves the next chunk with ir.Definition.Allocate, writes the
// new position and appends the grant in one transaction, so a crash never
// hands out the same values twice.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Grants are deleted with their sequence
//
// All queries order by name or seq so listings are deterministic.
package store
