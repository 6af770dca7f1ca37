package state

import (
	"crypto/ed25519"
	"sort"
	"time"

	"github.com/elara-net/elara/internal/cryptoengine"
	"github.com/elara-net/elara/internal/timeengine"
	"github.com/elara-net/elara/pkg/ids"
)

// ReconcileOutcome is the per-event result of the six-stage pipeline, per
// spec §4.4.
type ReconcileOutcome int

const (
	ReconcileAccepted ReconcileOutcome = iota
	ReconcileRejected
	ReconcileQuarantined
	ReconcileBehind // local atom is behind the event's version_ref: caller should request sync
	ReconcileArchived
)

func (o ReconcileOutcome) String() string {
	switch o {
	case ReconcileAccepted:
		return "accepted"
	case ReconcileRejected:
		return "rejected"
	case ReconcileQuarantined:
		return "quarantined"
	case ReconcileBehind:
		return "behind"
	case ReconcileArchived:
		return "archived"
	default:
		return "unknown"
	}
}

// NodePublicKey resolves a NodeId to its Ed25519 signing public key, for
// authority and delegation verification. The reconciler carries no
// directory of its own.
type NodePublicKey func(ids.NodeId) (ed25519.PublicKey, bool)

// FanoutSink receives events released by stage 6 for re-emission to
// interested peers other than the source. allowed, when non-nil, is the
// set of nodes the field's interest map has scoped delivery to for this
// state; a nil allowed means no node has declared interest in this state
// yet, so the sink should broadcast to every peer but excludeSource.
type FanoutSink interface {
	Enqueue(e Event, excludeSource ids.NodeId, allowed []ids.NodeId)
}

// Reconciler runs the six-stage pipeline over a StateField's atoms, per
// spec §4.4. It holds no atom state of its own — StateField owns the atom
// map and quarantine, Reconciler is the stateless stage logic plus the
// fanout cap.
type Reconciler struct {
	PublicKeyOf     NodePublicKey
	FanoutCap       int
	DivergenceLimit float64
}

// NewReconciler constructs a reconciler with the spec's suggested fanout
// cap and a permissive default divergence threshold.
func NewReconciler(publicKeyOf NodePublicKey) *Reconciler {
	return &Reconciler{PublicKeyOf: publicKeyOf, FanoutCap: 32, DivergenceLimit: 0.5}
}

// stage1Authority verifies the event's signature and that its source is
// authorized, directly or via delegation, to mutate the target atom.
func (r *Reconciler) stage1Authority(atom *StateAtom, e *Event) error {
	pub, ok := r.PublicKeyOf(e.Source)
	if !ok {
		return ErrUnauthorized
	}
	if !cryptoengine.Verify(pub, e.CanonicalEncoding(), e.AuthorityProof.Signature) {
		return ErrUnauthorized
	}

	if atom.HasAuthority(e.Source) {
		return nil
	}

	if len(e.AuthorityProof.Chain) == 0 {
		return ErrUnauthorized
	}
	err := cryptoengine.VerifyDelegationChain(e.AuthorityProof.Chain, atom.AuthoritySet, e.Source, "state:"+atom.ID.String(), e.TimeIntent.Timestamp, r.PublicKeyOf)
	if err != nil {
		return ErrUnauthorized
	}
	return nil
}

// stage2Causality compares event.version_ref against the atom's current
// version vector, per spec §4.4 stage 2: ref happens-before-or-equal
// current is valid; current happens-before ref means we're behind;
// concurrent is legal (delta_law decides); a ref entry ahead of current
// whose event has not been seen anywhere quarantines as MissingDependency.
func (r *Reconciler) stage2Causality(atom *StateAtom, e *Event, seen func(ids.EventId) bool) ReconcileOutcome {
	ref := e.VersionRef
	cur := atom.VersionVector

	if leq(ref, cur) {
		return ReconcileAccepted
	}

	for dep, seq := range ref {
		if seq > cur[dep] && !seen(ids.EventId{Source: dep, Sequence: seq}) {
			return ReconcileQuarantined
		}
	}

	if cur.HappensBefore(ref) {
		return ReconcileBehind
	}
	return ReconcileAccepted
}

// stage3Temporal classifies the event's intended time against the reality
// window and returns the correction weight to use during delta merge.
func (r *Reconciler) stage3Temporal(window *timeengine.RealityWindow, tau time.Duration, e *Event) (ReconcileOutcome, float64) {
	class := window.Classify(tau, e.TimeIntent.Timestamp)
	switch class {
	case timeengine.TooOld:
		return ReconcileArchived, 0
	case timeengine.TooFuture:
		return ReconcileQuarantined, 0
	case timeengine.Correctable:
		age := tau - e.TimeIntent.Timestamp
		return ReconcileAccepted, window.CorrectionWeight(age)
	default: // CurrentOrPredicted
		return ReconcileAccepted, 1
	}
}

// stage4DeltaMerge applies the mutation per the atom's delta_law, per spec
// §4.4 stage 4. It mutates atom.Value in place and returns the merged
// value before stage 5 measures divergence against it.
func (r *Reconciler) stage4DeltaMerge(atom *StateAtom, e *Event, correctionWeight float64, now time.Duration) []byte {
	law := atom.DeltaLaw
	switch law.Kind {
	case LastWriteWins:
		ts := e.TimeIntent.Timestamp
		replace := atom.Value == nil
		switch {
		case replace:
		case ts > atom.LastWriteAt:
			replace = true
		case ts == atom.LastWriteAt:
			replace = e.Source > atom.LastWriteBy
		}
		if !replace {
			return atom.Value
		}
		atom.LastWriteAt = ts
		atom.LastWriteBy = e.Source
		return append([]byte{}, e.Mutation.Bytes...)

	case AppendOnly:
		atom.appendSegments = append(atom.appendSegments, appendSegment{
			source:   e.Source,
			sequence: e.ID.Sequence,
			data:     append([]byte{}, e.Mutation.Bytes...),
		})
		sort.Slice(atom.appendSegments, func(i, j int) bool {
			return atom.appendSegments[i].less(atom.appendSegments[j])
		})
		out := make([]byte, 0, len(atom.Value)+len(e.Mutation.Bytes))
		for _, seg := range atom.appendSegments {
			out = append(out, seg.data...)
		}
		return out

	case SetCRDT:
		return mergeSetCRDT(atom.Value, e.Mutation.Bytes, law.AddWins)

	case PNCounter:
		cur := decodeCounter(atom.Value)
		return encodeCounter(cur + e.Mutation.Delta)

	case Ephemeral:
		atom.EphemeralExpiry = now + law.TTL
		return append([]byte{}, e.Mutation.Bytes...)

	case FrameBased:
		w := e.Mutation.Weight
		if w == 0 {
			w = correctionWeight
		}
		return blendFrames(atom.Value, e.Mutation.Bytes, w)

	case Custom:
		if law.CustomMerge != nil {
			return law.CustomMerge(atom.Value, e.Mutation.Bytes, correctionWeight)
		}
		return atom.Value

	default:
		return atom.Value
	}
}

// appendSegment is one contribution to an AppendOnly atom, tagged by the
// event id that produced it so concurrent contributions sort identically
// everywhere regardless of delivery order.
type appendSegment struct {
	source   ids.NodeId
	sequence uint64
	data     []byte
}

func (a appendSegment) less(b appendSegment) bool {
	if a.source != b.source {
		return a.source < b.source
	}
	return a.sequence < b.sequence
}

func mergeSetCRDT(current, incoming []byte, addWins bool) []byte {
	// tagged add/remove: incoming[0] == 1 means add, 0 means remove; the
	// remainder is the element. add_wins decides the outcome only when
	// current already holds a conflicting tag for the same element —
	// this reconciler keeps the set as a flat concatenation of live
	// add-tagged elements, since StateAtom.Value is opaque bytes and a
	// richer structure belongs to a representation-profile layer.
	if len(incoming) == 0 {
		return current
	}
	add := incoming[0] == 1
	elem := incoming[1:]

	out := make([]byte, 0, len(current)+len(incoming))
	found := false
	i := 0
	for i < len(current) {
		tagLen := int(current[i])
		i++
		entry := current[i : i+tagLen]
		i += tagLen
		if string(entry) == string(elem) {
			found = true
			if add || addWins {
				out = appendSetEntry(out, entry)
			}
			continue
		}
		out = appendSetEntry(out, entry)
	}
	if add && !found {
		out = appendSetEntry(out, elem)
	}
	return out
}

func appendSetEntry(buf, entry []byte) []byte {
	buf = append(buf, byte(len(entry)))
	return append(buf, entry...)
}

func decodeCounter(buf []byte) int64 {
	if len(buf) < 8 {
		return 0
	}
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(buf[i]) << (8 * i)
	}
	return int64(v)
}

func encodeCounter(v int64) []byte {
	out := make([]byte, 8)
	u := uint64(v)
	for i := 0; i < 8; i++ {
		out[i] = byte(u >> (8 * i))
	}
	return out
}

func blendFrames(current, incoming []byte, w float64) []byte {
	n := len(current)
	if len(incoming) > n {
		n = len(incoming)
	}
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		var c, in float64
		if i < len(current) {
			c = float64(current[i])
		}
		if i < len(incoming) {
			in = float64(incoming[i])
		}
		blended := (1-w)*c + w*in
		if blended < 0 {
			blended = 0
		} else if blended > 255 {
			blended = 255
		}
		out[i] = byte(blended)
	}
	return out
}

// stage5Divergence measures divergence entropy between the atom's prior
// value and the merged result, and applies the state_type-specific
// simplification policy when it exceeds threshold, per spec §4.4 stage 5.
// It returns the (possibly simplified) merged value and whether the atom
// needs manual resolution (Core atoms only, never auto-simplified).
func (r *Reconciler) stage5Divergence(atom *StateAtom, merged []byte) (value []byte, needsResolution bool) {
	if atom.EntropyModel == nil {
		return merged, false
	}
	divergence := atom.EntropyModel.Divergence(atom.Value, merged)
	atom.EntropyLevel = divergence

	threshold := r.DivergenceLimit
	if divergence <= threshold {
		return merged, false
	}

	switch atom.Type {
	case AtomCosmetic:
		return atom.Value, false // drop the incoming change entirely
	case AtomEnhancement:
		return merged[:len(merged)/2+len(merged)%2], false // reduce quality: keep the coarse half
	case AtomPerceptual:
		r.DivergenceLimit = threshold * 1.1 // raise entropy threshold
		return merged, false
	case AtomCore:
		return merged, true // flag NeedsResolution, apply anyway
	default:
		return merged, false
	}
}

// stage6SwarmDiffusion enqueues the event for re-emission to interested
// peers other than the source, bounded by FanoutCap, per spec §4.4 stage 6
// ("update interest/heat maps; enqueue the event for re-emission to
// interested peers other than the source"). allowed narrows delivery to a
// specific set of interested nodes; nil means no interest has been
// declared for this state, so every peer but the source is still a valid
// target.
func (r *Reconciler) stage6SwarmDiffusion(sink FanoutSink, e Event, fanoutSoFar int, allowed []ids.NodeId) int {
	if sink == nil || fanoutSoFar >= r.FanoutCap {
		return fanoutSoFar
	}
	sink.Enqueue(e, e.Source, allowed)
	return fanoutSoFar + 1
}

// Apply runs the full six-stage pipeline for a single event against atom,
// per spec §4.4. window and tau supply the temporal classification; seen
// reports whether a given event id has been recorded anywhere in the
// field, used by stage 2 to distinguish Behind from MissingDependency. The
// returned QuarantineReason is only meaningful when outcome is
// ReconcileQuarantined. evicted/evictedOK report an event id pushed out of
// atom's bounded in-memory history by this call, for the caller to hand to
// durable delta-log storage (SPEC_FULL's state-atom compaction policy).
func (r *Reconciler) Apply(atom *StateAtom, e *Event, window *timeengine.RealityWindow, tau time.Duration, now time.Duration, seen func(ids.EventId) bool, sink FanoutSink, fanoutSoFar int, allowed []ids.NodeId) (outcome ReconcileOutcome, reason QuarantineReason, fanout int, needsResolution bool, evicted ids.EventId, evictedOK bool) {
	if err := r.stage1Authority(atom, e); err != nil {
		return ReconcileRejected, 0, fanoutSoFar, false, ids.EventId{}, false
	}

	if outcome := r.stage2Causality(atom, e, seen); outcome != ReconcileAccepted {
		return outcome, MissingDependency, fanoutSoFar, false, ids.EventId{}, false
	}

	temporal, correctionWeight := r.stage3Temporal(window, tau, e)
	if temporal != ReconcileAccepted {
		return temporal, QuarantinedTooFuture, fanoutSoFar, false, ids.EventId{}, false
	}

	merged := r.stage4DeltaMerge(atom, e, correctionWeight, now)
	value, needsRes := r.stage5Divergence(atom, merged)
	atom.Value = value

	fanout = r.stage6SwarmDiffusion(sink, *e, fanoutSoFar, allowed)

	atom.VersionVector = atom.VersionVector.Increment(e.Source)
	evicted, evictedOK = atom.RecordEvent(e.ID)

	return ReconcileAccepted, 0, fanout, needsRes, evicted, evictedOK
}
