// Package kvstore provides the Pebble backend of seqd.
//
// It stores the same catalog as the SQLite backend in a key/value layout:
//
//	seq/def/<name>              definition and hash (JSON)
//	seq/pos/<name>              allocation position (JSON)
//	seq/grant/<name>\x00<seq>   one chunk grant (JSON), seq zero padded
//	meta/grant_seq              last grant seq (big endian uint64)
//
// <name> is the normalized sequence name. Every mutation is a single batch
// committed with pebble.Sync. A mutex serializes read-modify-write cycles.
package kvstore
