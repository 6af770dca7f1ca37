package state

import (
	"crypto/ed25519"
	crand "crypto/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elara-net/elara/internal/timeengine"
	"github.com/elara-net/elara/pkg/ids"
)

type testDirectory struct {
	keys map[ids.NodeId]ed25519.PublicKey
}

func newTestDirectory() *testDirectory {
	return &testDirectory{keys: make(map[ids.NodeId]ed25519.PublicKey)}
}

func (d *testDirectory) lookup(n ids.NodeId) (ed25519.PublicKey, bool) {
	k, ok := d.keys[n]
	return k, ok
}

func (d *testDirectory) newNode(t *testing.T) (ids.NodeId, ed25519.PrivateKey) {
	pub, priv, err := ed25519.GenerateKey(crand.Reader)
	require.NoError(t, err)
	n := ids.NodeId(len(d.keys) + 1)
	d.keys[n] = pub
	return n, priv
}

func signedEvent(priv ed25519.PrivateKey, source ids.NodeId, seq uint64, target ids.StateId, mutation Mutation, ts time.Duration, ref VersionVector) Event {
	e := Event{
		ID:          ids.EventId{Source: source, Sequence: seq},
		EventType:   EventMutate,
		Source:      source,
		TargetState: target,
		VersionRef:  ref,
		Mutation:    mutation,
		TimeIntent:  TimeIntent{Timestamp: ts, Urgency: 1},
	}
	e.AuthorityProof.Signature = ed25519.Sign(priv, e.CanonicalEncoding())
	return e
}

func freshField(dir *testDirectory) (*StateField, *timeengine.RealityWindow) {
	reconciler := NewReconciler(dir.lookup)
	field := NewStateField(reconciler, NewSourceRateLimiter(1000, 1000))
	window := timeengine.NewRealityWindow(timeengine.HorizonBounds{
		HpMin: 50 * time.Millisecond, HpMax: 150 * time.Millisecond,
		HcMin: 100 * time.Millisecond, HcMax: 500 * time.Millisecond,
	})
	return field, window
}

func TestProcessEventAcceptsAuthorizedMutation(t *testing.T) {
	dir := newTestDirectory()
	nodeA, privA := dir.newNode(t)
	field, window := freshField(dir)

	stateID := ids.NewStateId(1, 1)
	_, err := field.CreateAtom(stateID, AtomCore, []ids.NodeId{nodeA}, DeltaLaw{Kind: LastWriteWins}, NewByteEditDistanceModel())
	require.NoError(t, err)

	now := 1 * time.Second
	e := signedEvent(privA, nodeA, 1, stateID, Mutation{Kind: MutationSet, Bytes: []byte("hello")}, now, VersionVector{})

	outcome, err := field.ProcessEvent(e, time.Now(), window, now, now, nil)
	require.NoError(t, err)
	assert.Equal(t, ReconcileAccepted, outcome)

	atom, ok := field.Atom(stateID)
	require.True(t, ok)
	assert.Equal(t, []byte("hello"), atom.Value)
	assert.Equal(t, uint64(1), atom.VersionVector[nodeA])
}

func TestProcessEventRejectsUnauthorizedSource(t *testing.T) {
	dir := newTestDirectory()
	nodeA, _ := dir.newNode(t)
	nodeB, privB := dir.newNode(t)
	field, window := freshField(dir)

	stateID := ids.NewStateId(1, 2)
	_, err := field.CreateAtom(stateID, AtomCore, []ids.NodeId{nodeA}, DeltaLaw{Kind: LastWriteWins}, nil)
	require.NoError(t, err)

	now := 1 * time.Second
	e := signedEvent(privB, nodeB, 1, stateID, Mutation{Kind: MutationSet, Bytes: []byte("x")}, now, VersionVector{})

	outcome, err := field.ProcessEvent(e, time.Now(), window, now, now, nil)
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, ReconcileRejected, outcome)
}

func TestProcessEventQuarantinesTooFutureThenReleasesOnTick(t *testing.T) {
	dir := newTestDirectory()
	nodeA, privA := dir.newNode(t)
	field, window := freshField(dir)

	stateID := ids.NewStateId(1, 3)
	_, err := field.CreateAtom(stateID, AtomCore, []ids.NodeId{nodeA}, DeltaLaw{Kind: LastWriteWins}, nil)
	require.NoError(t, err)

	tau := 1 * time.Second
	farFuture := tau + window.Bounds.HpMax*10
	e := signedEvent(privA, nodeA, 1, stateID, Mutation{Kind: MutationSet, Bytes: []byte("later")}, farFuture, VersionVector{})

	outcome, err := field.ProcessEvent(e, time.Now(), window, tau, tau, nil)
	require.NoError(t, err)
	assert.Equal(t, ReconcileQuarantined, outcome)
	assert.Equal(t, 1, field.Quarantine().Len())

	laterTau := farFuture + time.Millisecond
	field.Tick(window, laterTau, laterTau, nil)
	assert.Equal(t, 0, field.Quarantine().Len())

	atom, _ := field.Atom(stateID)
	assert.Equal(t, []byte("later"), atom.Value)
}

func TestProcessEventRateLimited(t *testing.T) {
	dir := newTestDirectory()
	nodeA, privA := dir.newNode(t)
	reconciler := NewReconciler(dir.lookup)
	field := NewStateField(reconciler, NewSourceRateLimiter(1, 1))
	window := timeengine.NewRealityWindow(timeengine.DefaultHorizonBounds(0))

	stateID := ids.NewStateId(1, 4)
	_, err := field.CreateAtom(stateID, AtomCore, []ids.NodeId{nodeA}, DeltaLaw{Kind: LastWriteWins}, nil)
	require.NoError(t, err)

	now := 1 * time.Second
	arrival := time.Now()
	e1 := signedEvent(privA, nodeA, 1, stateID, Mutation{Kind: MutationSet, Bytes: []byte("a")}, now, VersionVector{})
	e2 := signedEvent(privA, nodeA, 2, stateID, Mutation{Kind: MutationSet, Bytes: []byte("b")}, now, VersionVector{})

	_, err = field.ProcessEvent(e1, arrival, window, now, now, nil)
	require.NoError(t, err)

	_, err = field.ProcessEvent(e2, arrival, window, now, now, nil)
	assert.ErrorIs(t, err, ErrRateLimited)
}

func TestProcessEventAppendOnlyConcurrentMerge(t *testing.T) {
	dir := newTestDirectory()
	nodeA, privA := dir.newNode(t)
	nodeB, privB := dir.newNode(t)
	field, window := freshField(dir)

	stateID := ids.NewStateId(1, 5)
	_, err := field.CreateAtom(stateID, AtomCore, []ids.NodeId{nodeA, nodeB}, DeltaLaw{Kind: AppendOnly}, nil)
	require.NoError(t, err)

	now := 1 * time.Second
	eA := signedEvent(privA, nodeA, 1, stateID, Mutation{Kind: MutationAppend, Bytes: []byte("A")}, now, VersionVector{})
	eB := signedEvent(privB, nodeB, 1, stateID, Mutation{Kind: MutationAppend, Bytes: []byte("B")}, now, VersionVector{})

	_, err = field.ProcessEvent(eA, time.Now(), window, now, now, nil)
	require.NoError(t, err)
	_, err = field.ProcessEvent(eB, time.Now(), window, now, now, nil)
	require.NoError(t, err)

	atom, _ := field.Atom(stateID)
	assert.Equal(t, []byte("AB"), atom.Value)
	assert.Equal(t, uint64(1), atom.VersionVector[nodeA])
	assert.Equal(t, uint64(1), atom.VersionVector[nodeB])
}

// TestProcessEventAppendOnlyMergeIsOrderIndependent mirrors spec §4.4's S4
// scenario: A and B each append once while partitioned, then reconcile in
// opposite delivery orders. Both must land on the same bytes, tie-broken
// by (source, sequence) rather than arrival order.
func TestProcessEventAppendOnlyMergeIsOrderIndependent(t *testing.T) {
	dir := newTestDirectory()
	nodeA, privA := dir.newNode(t)
	nodeB, privB := dir.newNode(t)
	fieldReversed, window := freshField(dir)

	stateID := ids.NewStateId(1, 6)
	_, err := fieldReversed.CreateAtom(stateID, AtomCore, []ids.NodeId{nodeA, nodeB}, DeltaLaw{Kind: AppendOnly}, nil)
	require.NoError(t, err)

	now := 1 * time.Second
	eA := signedEvent(privA, nodeA, 1, stateID, Mutation{Kind: MutationAppend, Bytes: []byte("A")}, now, VersionVector{})
	eB := signedEvent(privB, nodeB, 1, stateID, Mutation{Kind: MutationAppend, Bytes: []byte("B")}, now, VersionVector{})

	// Delivered in the opposite order from TestProcessEventAppendOnlyConcurrentMerge.
	_, err = fieldReversed.ProcessEvent(eB, time.Now(), window, now, now, nil)
	require.NoError(t, err)
	_, err = fieldReversed.ProcessEvent(eA, time.Now(), window, now, now, nil)
	require.NoError(t, err)

	atom, _ := fieldReversed.Atom(stateID)
	assert.Equal(t, []byte("AB"), atom.Value)
}

// TestProcessEventLastWriteWinsConvergesOnTimestampThenSource mirrors the
// AppendOnly order-independence test above for LastWriteWins: two
// concurrent writes with equal wall-time must converge to the same value
// regardless of which one a given node happens to apply first, tie-broken
// by source NodeId per spec §3.
func TestProcessEventLastWriteWinsConvergesOnTimestampThenSource(t *testing.T) {
	dir := newTestDirectory()
	nodeA, privA := dir.newNode(t)
	nodeB, privB := dir.newNode(t)

	now := 1 * time.Second
	eA := signedEvent(privA, nodeA, 1, ids.NewStateId(1, 7), Mutation{Kind: MutationSet, Bytes: []byte("fromA")}, now, VersionVector{})
	eB := signedEvent(privB, nodeB, 1, ids.NewStateId(1, 7), Mutation{Kind: MutationSet, Bytes: []byte("fromB")}, now, VersionVector{})

	winner := []byte("fromA")
	if nodeB > nodeA {
		winner = []byte("fromB")
	}

	fieldAB, window := freshField(dir)
	stateID := ids.NewStateId(1, 7)
	_, err := fieldAB.CreateAtom(stateID, AtomCore, []ids.NodeId{nodeA, nodeB}, DeltaLaw{Kind: LastWriteWins}, nil)
	require.NoError(t, err)
	_, err = fieldAB.ProcessEvent(eA, time.Now(), window, now, now, nil)
	require.NoError(t, err)
	_, err = fieldAB.ProcessEvent(eB, time.Now(), window, now, now, nil)
	require.NoError(t, err)
	atomAB, _ := fieldAB.Atom(stateID)
	assert.Equal(t, winner, atomAB.Value)

	fieldBA, window := freshField(dir)
	_, err = fieldBA.CreateAtom(stateID, AtomCore, []ids.NodeId{nodeA, nodeB}, DeltaLaw{Kind: LastWriteWins}, nil)
	require.NoError(t, err)
	_, err = fieldBA.ProcessEvent(eB, time.Now(), window, now, now, nil)
	require.NoError(t, err)
	_, err = fieldBA.ProcessEvent(eA, time.Now(), window, now, now, nil)
	require.NoError(t, err)
	atomBA, _ := fieldBA.Atom(stateID)
	assert.Equal(t, winner, atomBA.Value)
}

type recordingSink struct {
	delivered []ids.NodeId
}

func (s *recordingSink) Enqueue(e Event, excludeSource ids.NodeId, allowed []ids.NodeId) {
	if allowed == nil {
		s.delivered = append(s.delivered, 0) // sentinel: broadcast, no specific target recorded
		return
	}
	s.delivered = append(s.delivered, allowed...)
}

// TestDeclareInterestNarrowsFanoutTargets mirrors spec §4.4 stage 6's
// "update interest/heat maps; enqueue the event for re-emission to
// interested peers" — once a node has declared interest in a state, stage
// 6 must hand the sink that node's id rather than leaving the fanout
// target list unconstrained.
func TestDeclareInterestNarrowsFanoutTargets(t *testing.T) {
	dir := newTestDirectory()
	nodeA, privA := dir.newNode(t)
	nodeB, _ := dir.newNode(t)
	field, window := freshField(dir)

	stateID := ids.NewStateId(3, 1)
	_, err := field.CreateAtom(stateID, AtomCore, []ids.NodeId{nodeA}, DeltaLaw{Kind: LastWriteWins}, nil)
	require.NoError(t, err)

	now := 1 * time.Second
	sink := &recordingSink{}

	// No declarations yet: stage 6 falls back to unrestricted broadcast.
	e1 := signedEvent(privA, nodeA, 1, stateID, Mutation{Kind: MutationSet, Bytes: []byte("v1")}, now, VersionVector{})
	_, err = field.ProcessEvent(e1, time.Now(), window, now, now, sink)
	require.NoError(t, err)
	require.Len(t, sink.delivered, 1)
	assert.Equal(t, ids.NodeId(0), sink.delivered[0])

	// nodeB declares interest: subsequent fanout is scoped to nodeB alone.
	field.DeclareInterest(nodeB, stateID, InterestHigh, now, 0)
	sink.delivered = nil
	e2 := signedEvent(privA, nodeA, 2, stateID, Mutation{Kind: MutationSet, Bytes: []byte("v2")}, now, VersionVector{})
	_, err = field.ProcessEvent(e2, time.Now(), window, now, now, sink)
	require.NoError(t, err)
	assert.Equal(t, []ids.NodeId{nodeB}, sink.delivered)

	// Withdrawing interest restores unrestricted broadcast.
	field.DeclareInterest(nodeB, stateID, InterestNone, now, 0)
	sink.delivered = nil
	e3 := signedEvent(privA, nodeA, 3, stateID, Mutation{Kind: MutationSet, Bytes: []byte("v3")}, now, VersionVector{})
	_, err = field.ProcessEvent(e3, time.Now(), window, now, now, sink)
	require.NoError(t, err)
	require.Len(t, sink.delivered, 1)
	assert.Equal(t, ids.NodeId(0), sink.delivered[0])
}

// TestSetEvictionSinkReceivesEvictedEventIds exercises the wiring
// SPEC_FULL's state-atom compaction policy describes: once an atom's
// bounded in-memory history (maxEventHistory) is exceeded, the oldest
// event id evicted from it must reach the field's eviction sink so a
// caller can persist it to a durable delta log.
func TestSetEvictionSinkReceivesEvictedEventIds(t *testing.T) {
	dir := newTestDirectory()
	nodeA, privA := dir.newNode(t)
	field, window := freshField(dir)

	stateID := ids.NewStateId(4, 1)
	_, err := field.CreateAtom(stateID, AtomCore, []ids.NodeId{nodeA}, DeltaLaw{Kind: AppendOnly}, nil)
	require.NoError(t, err)

	var evictedIDs []ids.EventId
	field.SetEvictionSink(func(id ids.StateId, evicted ids.EventId) {
		require.Equal(t, stateID, id)
		evictedIDs = append(evictedIDs, evicted)
	})

	now := 1 * time.Second
	for seq := uint64(1); seq <= maxEventHistory+1; seq++ {
		e := signedEvent(privA, nodeA, seq, stateID, Mutation{Kind: MutationAppend, Bytes: []byte{byte(seq)}}, now, VersionVector{})
		_, err := field.ProcessEvent(e, time.Now(), window, now, now, nil)
		require.NoError(t, err)
	}

	require.Len(t, evictedIDs, 1)
	assert.Equal(t, ids.EventId{Source: nodeA, Sequence: 1}, evictedIDs[0])
}

func TestCreateAtomRejectsDuplicate(t *testing.T) {
	dir := newTestDirectory()
	nodeA, _ := dir.newNode(t)
	field, _ := freshField(dir)

	stateID := ids.NewStateId(2, 1)
	_, err := field.CreateAtom(stateID, AtomCore, []ids.NodeId{nodeA}, DeltaLaw{Kind: LastWriteWins}, nil)
	require.NoError(t, err)

	_, err = field.CreateAtom(stateID, AtomCore, []ids.NodeId{nodeA}, DeltaLaw{Kind: LastWriteWins}, nil)
	assert.ErrorIs(t, err, ErrStateExists)
}
