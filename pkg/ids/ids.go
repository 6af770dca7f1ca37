// Package ids defines ELARA's identifier types: NodeId, SessionId,
// StateId and EventId. All are small value types so they pass cheaply
// by value and key maps directly.
package ids

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
)

// NodeId is a 64-bit value derived from a node's signing and
// key-agreement public keys under a domain tag (crypto.DeriveNodeId).
type NodeId uint64

// String renders a NodeId as a fixed-width hex string for logs.
func (n NodeId) String() string {
	return fmt.Sprintf("%016x", uint64(n))
}

// SessionId identifies a reality space agreed at session setup.
type SessionId uint64

func (s SessionId) String() string {
	return fmt.Sprintf("%016x", uint64(s))
}

// StateId names a state atom, conventionally (state-type, instance).
type StateId uint64

// NewStateId packs a state-type and instance number into a StateId,
// mirroring the "typically (state-type u32, instance u32)" layout.
func NewStateId(stateType, instance uint32) StateId {
	return StateId(uint64(stateType)<<32 | uint64(instance))
}

// Split recovers the (state-type, instance) pair from a StateId.
func (s StateId) Split() (stateType, instance uint32) {
	return uint32(uint64(s) >> 32), uint32(uint64(s))
}

func (s StateId) String() string {
	st, inst := s.Split()
	return fmt.Sprintf("state(%d,%d)", st, inst)
}

// EventId uniquely identifies an event by its source and a
// monotonically increasing per-source sequence number.
type EventId struct {
	Source   NodeId
	Sequence uint64
}

func (e EventId) String() string {
	return fmt.Sprintf("%s/%d", e.Source, e.Sequence)
}

// Less implements the (source, sequence) lexicographic tie-break used
// by AppendOnly merges and quarantine ordering.
func (e EventId) Less(other EventId) bool {
	if e.Source != other.Source {
		return e.Source < other.Source
	}
	return e.Sequence < other.Sequence
}

// nodeIdDomainTag is the domain separator mixed into the NodeId hash,
// keeping it distinct from other hashes derived from the same keys.
const nodeIdDomainTag = "elara-node-id-v0"

// DeriveNodeId computes NodeId = lower-8-bytes(SHA-256(domain-tag ||
// signingPublic || kaPublic)), per the wire spec's identity binding.
func DeriveNodeId(signingPublic, kaPublic []byte) NodeId {
	h := sha256.New()
	h.Write([]byte(nodeIdDomainTag))
	h.Write(signingPublic)
	h.Write(kaPublic)
	sum := h.Sum(nil)
	return NodeId(binary.LittleEndian.Uint64(sum[len(sum)-8:]))
}
