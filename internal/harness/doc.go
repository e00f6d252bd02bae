// Package harness runs YAML conformance scenarios against the engine.
//
// A scenario defines sequences on a fresh in-memory SQLite store, lists the
// chunk store calls that should fail, then dispenses values step by step:
//
//	name: refill_failure_discard
//	description: A failed refill discards the value it followed
//	sequences:
//	  - {name: ids, min_val: 1, max_val: 100, increment: 1, chunk_size: 2, start_val: 1}
//	faults: [2]
//	steps:
//	  - next: ids
//	    expect: {value: 1}
//	  - next: ids
//	    expect: {error: REFILL_FAILED}
//	assertions:
//	  - type: refill_count
//	    sequence: ids
//	    count: 2
//
// Every engine event becomes part of the trace. Grant IDs and the refill
// timer are deterministic, so a trace can be compared byte for byte against
// a golden file.
package harness
