// Package ir provides the canonical sequence types shared by every layer of seqd.
//
// This package contains definitions and pure arithmetic only. All other internal
// packages import ir; ir imports nothing internal, so the dispenser and the chunk
// store backends agree on one implementation of the step rules.
//
// Key design constraints:
//   - All sequence values are int64; overflow is detected, never wrapped silently
//   - Sequence names are compared after NormalizeName (NFC + case fold)
//   - Definition hashes use canonical JSON so equal definitions hash equal
//   - All JSON and YAML tags use snake_case
package ir
