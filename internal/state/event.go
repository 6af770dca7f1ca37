package state

import (
	"encoding/binary"
	"math"
	"time"

	"github.com/elara-net/elara/internal/cryptoengine"
	"github.com/elara-net/elara/pkg/ids"
)

// MutationKind names the closed set of event mutations, per spec §3.
type MutationKind int

const (
	MutationSet MutationKind = iota
	MutationIncrement
	MutationAppend
	MutationMerge
	MutationDelete
	MutationBlend
)

// Mutation is a tagged-sum mutation payload: only the field matching Kind
// is meaningful.
type Mutation struct {
	Kind      MutationKind
	Bytes     []byte  // Set, Append, Merge
	Delta     int64   // Increment
	Weight    float64 // Blend
}

// TimeIntent carries an event's target StateTime and urgency, per spec §3.
type TimeIntent struct {
	Timestamp time.Duration // StateTime
	Urgency   float64
}

// AuthorityProof binds an event's signature and an optional delegation
// chain, per spec §3.
type AuthorityProof struct {
	Signature []byte
	Chain     []cryptoengine.DelegationLink
}

// EventType names the event's role; StateCreate/StateDelete are
// distinguished from ordinary mutations since they affect atom lifecycle
// rather than atom value, per spec §3's atom-lifecycle description.
type EventType int

const (
	EventMutate EventType = iota
	EventStateCreate
	EventStateDelete
)

// Event is ELARA's unit of causal history, per spec §3. Events are
// immutable once signed.
type Event struct {
	ID             ids.EventId
	EventType      EventType
	Source         ids.NodeId
	TargetState    ids.StateId
	VersionRef     VersionVector
	Mutation       Mutation
	TimeIntent     TimeIntent
	AuthorityProof AuthorityProof
	EntropyHint    float64
}

const eventDomainTag = "elara-event-v0"

// CanonicalEncoding returns the bytes an event's signature covers:
// domain-tag || id || target_state || version_ref || mutation, per spec
// §3: "The signature covers a canonical encoding of (domain-tag, id,
// target_state, version_ref, mutation)."
func (e Event) CanonicalEncoding() []byte {
	buf := []byte(eventDomainTag)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(e.ID.Source))
	buf = binary.LittleEndian.AppendUint64(buf, e.ID.Sequence)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(e.TargetState))

	// version_ref: sorted by NodeId for a deterministic encoding —
	// map iteration order must never leak into a signed byte string.
	keys := make([]ids.NodeId, 0, len(e.VersionRef))
	for k := range e.VersionRef {
		keys = append(keys, k)
	}
	sortNodeIds(keys)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(keys)))
	for _, k := range keys {
		buf = binary.LittleEndian.AppendUint64(buf, uint64(k))
		buf = binary.LittleEndian.AppendUint64(buf, e.VersionRef[k])
	}

	buf = append(buf, byte(e.Mutation.Kind))
	buf = append(buf, e.Mutation.Bytes...)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(e.Mutation.Delta))
	buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(e.Mutation.Weight))

	return buf
}

func sortNodeIds(nodes []ids.NodeId) {
	for i := 1; i < len(nodes); i++ {
		for j := i; j > 0 && nodes[j-1] > nodes[j]; j-- {
			nodes[j-1], nodes[j] = nodes[j], nodes[j-1]
		}
	}
}
