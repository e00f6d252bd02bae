// Package engine runs a seqd session: it opens a backend, loads every stored
// definition into a registry and serves values through a dispenser until
// Close.
//
// Event flow:
// 1. Open picks the backend from config and wraps it for retries.
// 2. New loads the catalog into the registry.
// 3. NextValue and NextValues go straight to the dispenser.
// 4. Define, Drop and Import change the backend first and then the
//    registry, one catalog change at a time.
// 5. Every dispense, error, refill and catalog change is stamped by Clock
//    and passed to the Observer, if one is set.
package engine
