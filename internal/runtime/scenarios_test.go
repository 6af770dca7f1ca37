package runtime

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elara-net/elara/internal/state"
	"github.com/elara-net/elara/pkg/ids"
	"github.com/elara-net/elara/pkg/wire"
)

// These tests implement spec §8's concrete end-to-end scenarios S1-S6
// directly against the two-session harness in session_test.go, rather
// than against a single package in isolation, since every one of them is
// a cross-session property.

// TestScenarioS1RoundTripText: A emits an Append to a Core atom; after
// delivery and a tick, B's atom value and version vector reflect it.
func TestScenarioS1RoundTripText(t *testing.T) {
	a, b, idA, idB := newTestPair(t)
	stateID := ids.NewStateId(1, 1)
	authority := []ids.NodeId{idA.NodeId(), idB.NodeId()}
	mustAtom(t, a, stateID, authority)
	mustAtom(t, b, stateID, authority)

	ctx := context.Background()
	now := 10 * time.Second
	a.Tick(ctx, now)
	b.Tick(ctx, now)

	e := state.Event{
		EventType:   state.EventMutate,
		TargetState: stateID,
		VersionRef:  state.VersionVector{},
		Mutation:    state.Mutation{Kind: state.MutationAppend, Bytes: []byte("hello")},
		TimeIntent:  state.TimeIntent{Timestamp: a.stateClock.Now(now), Urgency: 1},
	}
	outcome, err := a.EmitEvent(ctx, wire.ClassCore, wire.ProfileRaw, e)
	require.NoError(t, err)
	require.Equal(t, state.ReconcileAccepted, outcome)

	b.Tick(ctx, now+time.Second)

	atomB, ok := b.Atom(stateID)
	require.True(t, ok)
	assert.Equal(t, []byte("hello"), atomB.Value)
	assert.Equal(t, uint64(1), atomB.VersionVector[idA.NodeId()])
}

// TestScenarioS2ReplayRejected: the exact same encrypted frame delivered
// twice to B yields no second state change, since B's crypto session's
// replay window rejects the repeat at decrypt time.
func TestScenarioS2ReplayRejected(t *testing.T) {
	a, b, idA, idB := newTestPair(t)
	stateID := ids.NewStateId(1, 2)
	authority := []ids.NodeId{idA.NodeId(), idB.NodeId()}
	mustAtom(t, a, stateID, authority)
	mustAtom(t, b, stateID, authority)

	ctx := context.Background()
	now := 10 * time.Second
	a.Tick(ctx, now)
	b.Tick(ctx, now)

	e := state.Event{
		EventType:   state.EventMutate,
		TargetState: stateID,
		VersionRef:  state.VersionVector{},
		Mutation:    state.Mutation{Kind: state.MutationSet, Bytes: []byte("v1")},
		TimeIntent:  state.TimeIntent{Timestamp: a.stateClock.Now(now), Urgency: 1},
	}

	var captured []byte
	peerA := a.peers[idB.NodeId()]
	payload := EncodeEvent(func() state.Event {
		ev := e
		ev.Source = idA.NodeId()
		ev.ID = ids.EventId{Source: idA.NodeId(), Sequence: 0}
		ev.AuthorityProof.Signature = idA.Sign(ev.CanonicalEncoding())
		return ev
	}())
	frame, err := peerA.crypto.Encrypt(wire.ClassCore, wire.ProfileRaw, 0, nil, payload)
	require.NoError(t, err)
	captured = frame

	outcome1, err := b.OnDatagram(ctx, idA.NodeId(), captured)
	require.NoError(t, err)
	require.Equal(t, state.ReconcileAccepted, outcome1)

	atomB, _ := b.Atom(stateID)
	vvAfterFirst := atomB.VersionVector.Clone()

	_, err = b.OnDatagram(ctx, idA.NodeId(), captured)
	require.Error(t, err)

	atomB, _ = b.Atom(stateID)
	assert.True(t, vvAfterFirst.Equal(atomB.VersionVector))
}

// TestScenarioS3OutOfWindowFutureEvicted: a far-future event quarantines
// rather than applying, and is evicted from quarantine once its max age
// elapses with no correction bringing it into range.
func TestScenarioS3OutOfWindowFutureEvicted(t *testing.T) {
	a, _, idA, idB := newTestPair(t)
	stateID := ids.NewStateId(2, 1)
	authority := []ids.NodeId{idA.NodeId(), idB.NodeId()}
	mustAtom(t, a, stateID, authority)

	ctx := context.Background()
	now := 10 * time.Second
	a.Tick(ctx, now)

	window := a.windowFor(wire.ProfileVoiceMinimal)
	tau := a.stateClock.Now(now)

	e := state.Event{
		EventType:   state.EventMutate,
		Source:      idB.NodeId(),
		ID:          ids.EventId{Source: idB.NodeId(), Sequence: 1},
		TargetState: stateID,
		VersionRef:  state.VersionVector{},
		Mutation:    state.Mutation{Kind: state.MutationSet, Bytes: []byte("future")},
		TimeIntent:  state.TimeIntent{Timestamp: tau + 5*time.Second, Urgency: 1},
	}
	e.AuthorityProof.Signature = idB.Sign(e.CanonicalEncoding())

	outcome, err := a.applyLocked(ctx, e, time.Now(), window, tau, now, wire.ClassPerceptual, wire.ProfileVoiceMinimal)
	require.NoError(t, err)
	require.Equal(t, state.ReconcileQuarantined, outcome)
	require.Equal(t, 1, a.field.Quarantine().Len())

	atom, _ := a.Atom(stateID)
	require.Nil(t, atom.Value)

	// Advance past the quarantine's max age with no τs catch-up: the
	// entry is evicted outright, state remains unchanged.
	a.Tick(ctx, now+31*time.Second)
	assert.Equal(t, 0, a.field.Quarantine().Len())

	atom, _ = a.Atom(stateID)
	assert.Nil(t, atom.Value)
}

// TestScenarioS4ConcurrentAppendMergeConverges: A and B each append once
// while partitioned; after both deliver to each other, both atoms hold
// the same bytes regardless of delivery order.
func TestScenarioS4ConcurrentAppendMergeConverges(t *testing.T) {
	a, b, idA, idB := newTestPair(t)
	stateID := ids.NewStateId(1, 4)
	authority := []ids.NodeId{idA.NodeId(), idB.NodeId()}
	_, err := a.CreateAtom(stateID, state.AtomCore, authority, state.DeltaLaw{Kind: state.AppendOnly}, nil)
	require.NoError(t, err)
	_, err = b.CreateAtom(stateID, state.AtomCore, authority, state.DeltaLaw{Kind: state.AppendOnly}, nil)
	require.NoError(t, err)

	ctx := context.Background()
	now := 10 * time.Second
	a.Tick(ctx, now)
	b.Tick(ctx, now)

	eA := state.Event{
		EventType:   state.EventMutate,
		TargetState: stateID,
		VersionRef:  state.VersionVector{},
		Mutation:    state.Mutation{Kind: state.MutationAppend, Bytes: []byte("foo")},
		TimeIntent:  state.TimeIntent{Timestamp: a.stateClock.Now(now), Urgency: 1},
	}
	eB := state.Event{
		EventType:   state.EventMutate,
		TargetState: stateID,
		VersionRef:  state.VersionVector{},
		Mutation:    state.Mutation{Kind: state.MutationAppend, Bytes: []byte("bar")},
		TimeIntent:  state.TimeIntent{Timestamp: b.stateClock.Now(now), Urgency: 1},
	}

	_, err = a.EmitEvent(ctx, wire.ClassCore, wire.ProfileRaw, eA)
	require.NoError(t, err)
	_, err = b.EmitEvent(ctx, wire.ClassCore, wire.ProfileRaw, eB)
	require.NoError(t, err)

	finalA, _ := a.Atom(stateID)
	finalB, _ := b.Atom(stateID)
	assert.Equal(t, finalA.Value, finalB.Value)
	assert.True(t, string(finalA.Value) == "foobar" || string(finalA.Value) == "barfoo")
}

// TestScenarioS5DegradationRecoversAfterChaos: sustained simulated loss
// drives the degradation level up; once the loss stops, recovery over
// RecoveryTicks stable ticks returns it to L0.
func TestScenarioS5DegradationRecoversAfterChaos(t *testing.T) {
	a, _, _, idB := newTestPair(t)
	ctx := context.Background()

	peer := a.peers[idB.NodeId()]
	var seq uint16
	for i := 0; i < 30; i++ {
		seq += 10
		a.sampleNetworkModel(peer, wire.Header{Class: wire.ClassCore, Seq: seq})
	}

	var now time.Duration
	for i := 0; i < 15; i++ {
		now += 200 * time.Millisecond
		a.Tick(ctx, now)
	}
	require.GreaterOrEqual(t, a.DegradationLevel(), state.L1)

	// Remove chaos: every subsequent frame arrives with no gap, carrying a
	// time hint equal to a's current τs so it adds no latency or jitter.
	for i := 0; i < 40; i++ {
		seq++
		a.sampleNetworkModel(peer, wire.Header{Class: wire.ClassCore, Seq: seq, TimeHint: int32(now / time.Millisecond)})
		now += 200 * time.Millisecond
		a.Tick(ctx, now)
	}
	assert.Equal(t, state.L0, a.DegradationLevel())
}

// TestScenarioS6HeartbeatAtL5: with the peer unreachable long enough to
// bottom out the degradation ladder, the session still emits identity
// heartbeats at L5 rather than terminating.
func TestScenarioS6HeartbeatAtL5(t *testing.T) {
	a, b, _, idB := newTestPair(t)
	ctx := context.Background()

	var delivered int
	transportA := a.transport.(*pairedTransport)
	realPeer := transportA.peer
	transportA.peer = func(ctx context.Context, frame []byte) error {
		delivered++
		return realPeer(ctx, frame)
	}

	peer := a.peers[idB.NodeId()]
	var seq uint16
	for i := 0; i < 60; i++ {
		seq += 50
		a.sampleNetworkModel(peer, wire.Header{Class: wire.ClassCore, Seq: seq})
	}

	var now time.Duration
	for i := 0; i < 200 && a.DegradationLevel() != state.L5; i++ {
		now += 200 * time.Millisecond
		a.Tick(ctx, now)
	}
	require.Equal(t, state.L5, a.DegradationLevel())

	before := delivered
	now += a.cfg.HeartbeatInterval + time.Second
	a.Tick(ctx, now)
	assert.Greater(t, delivered, before)

	_, ok := b.Atom(ids.NewStateId(9, 9))
	assert.False(t, ok) // heartbeats carry no application state
}
