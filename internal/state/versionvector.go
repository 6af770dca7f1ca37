// Package state implements ELARA's state field: state atoms, the
// version-vector causality engine, the six-stage event reconciliation
// pipeline, the quarantine buffer, and the degradation ladder.
package state

import "github.com/elara-net/elara/pkg/ids"

// VersionVector maps NodeId to a monotonically increasing tick, per spec
// §3. The zero value is the empty vector (every entry implicitly 0).
type VersionVector map[ids.NodeId]uint64

// Clone returns an independent copy.
func (v VersionVector) Clone() VersionVector {
	out := make(VersionVector, len(v))
	for k, val := range v {
		out[k] = val
	}
	return out
}

// Increment returns a copy of v with source's tick incremented by one.
func (v VersionVector) Increment(source ids.NodeId) VersionVector {
	out := v.Clone()
	out[source] = out[source] + 1
	return out
}

// Merge returns the pointwise maximum of u and v. Merge is commutative,
// associative and idempotent by construction (pointwise max is), per spec
// §3's invariants.
func Merge(u, v VersionVector) VersionVector {
	out := make(VersionVector, len(u)+len(v))
	for k, val := range u {
		out[k] = val
	}
	for k, val := range v {
		if val > out[k] {
			out[k] = val
		}
	}
	return out
}

// leq reports whether every entry of u is <= the corresponding entry of v,
// treating a missing entry as 0. This is the core partial-order primitive
// the rest of the type builds on.
func leq(u, v VersionVector) bool {
	for k, val := range u {
		if val > v[k] {
			return false
		}
	}
	return true
}

// Equal reports whether u and v have identical entries (missing entries
// treated as 0).
func (u VersionVector) Equal(v VersionVector) bool {
	return leq(u, v) && leq(v, u)
}

// HappensBefore reports whether u strictly happens before v: every entry
// of u is <= v's, and they are not equal.
func (u VersionVector) HappensBefore(v VersionVector) bool {
	return leq(u, v) && !u.Equal(v)
}

// Dominates reports whether u happens after v: v is <= u and they are not
// equal. Equivalent to v.HappensBefore(u).
func (u VersionVector) Dominates(v VersionVector) bool {
	return leq(v, u) && !u.Equal(v)
}

// ConcurrentWith reports whether neither u happens-before v nor v
// happens-before u — the "otherwise" branch of spec §4.4 stage 2's
// causality check.
func (u VersionVector) ConcurrentWith(v VersionVector) bool {
	return !leq(u, v) && !leq(v, u)
}
