package state

import (
	"time"

	"github.com/elara-net/elara/pkg/ids"
)

// AtomType names the state-type dimension of an atom, per spec §3's
// `state_type ∈ {Core, Perceptual, Enhancement, Cosmetic}` — distinct
// from PacketClass, though the names mirror it: an atom's type decides
// its divergence-control simplification policy (spec §4.4 stage 5).
type AtomType int

const (
	AtomCore AtomType = iota
	AtomPerceptual
	AtomEnhancement
	AtomCosmetic
)

// AtomStatus tracks an atom's lifecycle: live, soft-deleted (pending
// purge), or purged.
type AtomStatus int

const (
	AtomLive AtomStatus = iota
	AtomSoftDeleted
	AtomPurged
)

// maxEventHistory bounds how many past events an atom retains in memory
// before handing the overflow to storage's compaction (SPEC_FULL "memory
// bounds" supplement).
const maxEventHistory = 256

// StateAtom is a single named unit of shared state, per spec §3.
type StateAtom struct {
	ID            ids.StateId
	Type          AtomType
	AuthoritySet  map[ids.NodeId]struct{}
	VersionVector VersionVector
	DeltaLaw      DeltaLaw
	EntropyModel  EntropyModel
	Value         []byte

	Status       AtomStatus
	DeletedAt    time.Duration
	PurgeGrace   time.Duration
	EntropyLevel float64 // current threshold, adjustable per stage 5's "raise entropy threshold"

	// EphemeralExpiry is the StateTime at which an Ephemeral-law atom's
	// current value expires (now + ttl at the time of the last accepted
	// write), per spec §4.4 stage 4: "replace value with expiry τs + ttl;
	// expired entries pruned by compression loop." Zero for atoms whose
	// delta_law is not Ephemeral.
	EphemeralExpiry time.Duration

	// NeedsResolution is set when a Core atom's divergence exceeded
	// threshold; Core atoms are never auto-simplified, so this sticks
	// until a caller clears it after manual resolution.
	NeedsResolution bool

	history []ids.EventId // most-recent-first, bounded by maxEventHistory

	// appendSegments holds the individual contributions to an AppendOnly
	// atom, kept sorted by (source, sequence) so concurrent appends
	// delivered in different orders at different participants still
	// materialize to the same byte sequence (spec §4.4 stage 4's
	// "(source, sequence) lexicographic tie-break"). Unused by every
	// other delta_law.
	appendSegments []appendSegment

	// LastWriteAt and LastWriteBy record the wall-time and source of the
	// write a LastWriteWins atom currently holds, so the next write can be
	// compared against it instead of unconditionally overwriting — spec
	// §3's "replace value, using source NodeId as tiebreaker when
	// concurrent with equal wall-time." Unused by every other delta_law.
	LastWriteAt time.Duration
	LastWriteBy ids.NodeId
}

// NewStateAtom constructs a live atom owned by authority, per spec §3's
// "created by a StateCreate event from a node in its authority set."
func NewStateAtom(id ids.StateId, atomType AtomType, authority []ids.NodeId, law DeltaLaw, entropy EntropyModel) *StateAtom {
	set := make(map[ids.NodeId]struct{}, len(authority))
	for _, n := range authority {
		set[n] = struct{}{}
	}
	return &StateAtom{
		ID:            id,
		Type:          atomType,
		AuthoritySet:  set,
		VersionVector: VersionVector{},
		DeltaLaw:      law,
		EntropyModel:  entropy,
		Status:        AtomLive,
		PurgeGrace:    30 * time.Second,
	}
}

// HasAuthority reports whether node is a direct member of the atom's
// authority set (delegation chains are checked separately by the
// reconciler).
func (a *StateAtom) HasAuthority(node ids.NodeId) bool {
	_, ok := a.AuthoritySet[node]
	return ok
}

// RecordEvent appends an event id to the atom's bounded in-memory history,
// evicting the oldest entry once maxEventHistory is exceeded — the
// evicted entries are the compaction boundary storage.Compactor consumes.
func (a *StateAtom) RecordEvent(id ids.EventId) (evicted ids.EventId, hasEvicted bool) {
	a.history = append([]ids.EventId{id}, a.history...)
	if len(a.history) > maxEventHistory {
		evicted = a.history[len(a.history)-1]
		a.history = a.history[:len(a.history)-1]
		hasEvicted = true
	}
	return evicted, hasEvicted
}

// SoftDelete marks the atom deleted at t, per spec §3's "soft-deleted by a
// StateDelete event; purged after a policy-defined grace period."
func (a *StateAtom) SoftDelete(t time.Duration) {
	a.Status = AtomSoftDeleted
	a.DeletedAt = t
}

// ReadyToPurge reports whether enough time has elapsed since soft-delete
// to purge the atom outright.
func (a *StateAtom) ReadyToPurge(now time.Duration) bool {
	return a.Status == AtomSoftDeleted && now-a.DeletedAt >= a.PurgeGrace
}

// Expired reports whether an Ephemeral-law atom's value has passed its
// EphemeralExpiry as of now. Always false for atoms with no expiry set.
func (a *StateAtom) Expired(now time.Duration) bool {
	return a.DeltaLaw.Kind == Ephemeral && a.EphemeralExpiry != 0 && now >= a.EphemeralExpiry
}
