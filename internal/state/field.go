package state

import (
	"time"

	"github.com/elara-net/elara/internal/timeengine"
	"github.com/elara-net/elara/pkg/ids"
)

// StateField is the mapping from StateId to StateAtom plus the quarantine
// buffer of events awaiting release, per spec §4.4.
type StateField struct {
	atoms       map[ids.StateId]*StateAtom
	quarantine  *Quarantine
	reconciler  *Reconciler
	rateLimiter *SourceRateLimiter
	interests   *InterestMap

	// onEvicted, if set, receives every event id RecordEvent pushes out of
	// an atom's bounded in-memory history, so the caller can persist it to
	// a durable delta log. StateAtom itself stays storage-agnostic;
	// internal/runtime wires this to a storage.Compactor.
	onEvicted func(ids.StateId, ids.EventId)

	// seenSeq is the highest per-source sequence number this field has
	// recorded anywhere, used by stage 2 to tell "we're behind, request
	// sync" apart from "dependency event not yet received" — sequence
	// numbers within a source are monotonic (spec §5's ordering
	// guarantees), so a single high-water mark per source suffices.
	seenSeq map[ids.NodeId]uint64
}

// NewStateField constructs an empty field backed by reconciler and, if
// non-nil, rateLimiter.
func NewStateField(reconciler *Reconciler, rateLimiter *SourceRateLimiter) *StateField {
	return &StateField{
		atoms:       make(map[ids.StateId]*StateAtom),
		quarantine:  NewQuarantine(),
		reconciler:  reconciler,
		rateLimiter: rateLimiter,
		interests:   NewInterestMap(),
		seenSeq:     make(map[ids.NodeId]uint64),
	}
}

// DeclareInterest records node's interest in state at level for stage 6's
// fanout filtering, per spec §4.4 stage 6's "update interest/heat maps."
// A level of InterestNone withdraws any standing declaration.
func (f *StateField) DeclareInterest(node ids.NodeId, state ids.StateId, level InterestLevel, now, ttl time.Duration) {
	f.interests.Declare(node, state, level, now, ttl)
}

// RemoveInterest drops every interest declaration a disconnecting node has
// made across every state.
func (f *StateField) RemoveInterest(node ids.NodeId) {
	f.interests.RemoveNode(node)
}

// SetEvictionSink wires fn to receive every event id evicted from an
// atom's bounded in-memory history, per SPEC_FULL's state-atom compaction
// policy. Optional: a field with no sink simply drops evicted ids, as
// before.
func (f *StateField) SetEvictionSink(fn func(ids.StateId, ids.EventId)) {
	f.onEvicted = fn
}

// fanoutTargets reports the interest-scoped node set for state as of now,
// or nil if nobody has declared interest yet (meaning stage 6 should
// broadcast to every peer but the source).
func (f *StateField) fanoutTargets(state ids.StateId, now time.Duration) []ids.NodeId {
	if !f.interests.Declared(state) {
		return nil
	}
	return f.interests.InterestedNodes(state, now)
}

// CreateAtom registers a new live atom, per spec §3's "created by a
// StateCreate event from a node in its authority set" — the caller is
// responsible for having authorized the creator before calling this; a
// brand-new atom has no prior authority_set to check a signature against.
func (f *StateField) CreateAtom(id ids.StateId, atomType AtomType, authority []ids.NodeId, law DeltaLaw, entropy EntropyModel) (*StateAtom, error) {
	if _, exists := f.atoms[id]; exists {
		return nil, ErrStateExists
	}
	atom := NewStateAtom(id, atomType, authority, law, entropy)
	f.atoms[id] = atom
	return atom, nil
}

// Atom returns the atom for id, if any.
func (f *StateField) Atom(id ids.StateId) (*StateAtom, bool) {
	a, ok := f.atoms[id]
	return a, ok
}

// Quarantine exposes the field's quarantine buffer, mainly for tests and
// metrics.
func (f *StateField) Quarantine() *Quarantine { return f.quarantine }

// Range calls fn for every atom in the field, soft-deleted and purged
// atoms included, in map iteration
// order, stopping early if fn returns false. It exists for the
// compression loop (spec §4.4 stage 4's "expired entries pruned by
// compression loop") and similar maintenance sweeps that must visit every
// atom without the field exposing its internal map.
func (f *StateField) Range(fn func(ids.StateId, *StateAtom) bool) {
	for id, atom := range f.atoms {
		if !fn(id, atom) {
			return
		}
	}
}

func (f *StateField) seen(id ids.EventId) bool {
	return id.Sequence <= f.seenSeq[id.Source]
}

func (f *StateField) markSeen(id ids.EventId) {
	if id.Sequence > f.seenSeq[id.Source] {
		f.seenSeq[id.Source] = id.Sequence
	}
}

// ProcessEvent admits, rate-limits, and reconciles a single inbound event
// against the field, per spec §4.4. arrival is the wall-clock time used
// for rate limiting; tau and now are the local perceptual/state clock
// readings used for temporal placement and atom bookkeeping respectively.
func (f *StateField) ProcessEvent(e Event, arrival time.Time, window *timeengine.RealityWindow, tau, now time.Duration, sink FanoutSink) (ReconcileOutcome, error) {
	if f.rateLimiter != nil {
		if err := f.rateLimiter.Admit(e.Source, arrival); err != nil {
			return ReconcileRejected, err
		}
	}

	if e.EventType == EventStateDelete {
		return f.processDelete(e, now)
	}

	atom, ok := f.atoms[e.TargetState]
	if !ok {
		return ReconcileRejected, ErrUnknownState
	}

	allowed := f.fanoutTargets(e.TargetState, now)
	outcome, reason, _, needsResolution, evicted, evictedOK := f.reconciler.Apply(atom, &e, window, tau, now, f.seen, sink, 0, allowed)
	if needsResolution {
		atom.NeedsResolution = true
	}
	if evictedOK && f.onEvicted != nil {
		f.onEvicted(e.TargetState, evicted)
	}

	switch outcome {
	case ReconcileAccepted:
		f.markSeen(e.ID)
		return outcome, nil
	case ReconcileQuarantined:
		f.quarantine.Add(e, reason, now)
		return outcome, nil
	case ReconcileArchived:
		return outcome, nil
	case ReconcileBehind:
		return outcome, nil
	default:
		return ReconcileRejected, ErrUnauthorized
	}
}

func (f *StateField) processDelete(e Event, now time.Duration) (ReconcileOutcome, error) {
	atom, ok := f.atoms[e.TargetState]
	if !ok {
		return ReconcileRejected, ErrUnknownState
	}
	if err := f.reconciler.stage1Authority(atom, &e); err != nil {
		return ReconcileRejected, ErrUnauthorized
	}
	atom.SoftDelete(now)
	f.markSeen(e.ID)
	return ReconcileAccepted, nil
}

// Tick drains expired quarantine entries and releases any whose
// dependencies or temporal class now clear, and purges soft-deleted atoms
// past their grace period. A released event runs through the whole
// pipeline again via Reconciler.Apply, stage 1 (authority) and stage 2
// (causality) included, so it can come out Behind or Rejected rather than
// applied; only a Quarantined result puts it back in the buffer.
func (f *StateField) Tick(window *timeengine.RealityWindow, tau, now time.Duration, sink FanoutSink) []ReconcileOutcome {
	f.quarantine.ExpireOlderThan(now)

	released := f.quarantine.Drain(func(e Event) bool {
		atom, ok := f.atoms[e.TargetState]
		if !ok {
			return false
		}
		class := window.Classify(tau, e.TimeIntent.Timestamp)
		if class == timeengine.TooFuture {
			return false
		}
		return leq(e.VersionRef, atom.VersionVector) || atom.VersionVector.ConcurrentWith(e.VersionRef) || dependenciesSeen(e.VersionRef, f.seen)
	})

	outcomes := make([]ReconcileOutcome, 0, len(released))
	for _, e := range released {
		atom, ok := f.atoms[e.TargetState]
		if !ok {
			outcomes = append(outcomes, ReconcileRejected)
			continue
		}
		allowed := f.fanoutTargets(e.TargetState, now)
		outcome, reason, _, needsResolution, evicted, evictedOK := f.reconciler.Apply(atom, &e, window, tau, now, f.seen, sink, 0, allowed)
		if needsResolution {
			atom.NeedsResolution = true
		}
		if evictedOK && f.onEvicted != nil {
			f.onEvicted(e.TargetState, evicted)
		}
		if outcome == ReconcileAccepted {
			f.markSeen(e.ID)
		} else if outcome == ReconcileQuarantined {
			f.quarantine.Add(e, reason, now)
		}
		outcomes = append(outcomes, outcome)
	}

	for _, atom := range f.atoms {
		if atom.ReadyToPurge(now) {
			atom.Status = AtomPurged
		}
	}

	return outcomes
}

func dependenciesSeen(ref VersionVector, seen func(ids.EventId) bool) bool {
	for dep, seq := range ref {
		if !seen(ids.EventId{Source: dep, Sequence: seq}) {
			return false
		}
	}
	return true
}
