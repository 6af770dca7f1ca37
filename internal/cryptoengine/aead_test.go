package cryptoengine

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elara-net/elara/pkg/ids"
	"github.com/elara-net/elara/pkg/wire"
)

func pairedSessions(t *testing.T) (*Session, *Session) {
	t.Helper()
	a, err := GenerateIdentity(rand.Reader)
	require.NoError(t, err)
	b, err := GenerateIdentity(rand.Reader)
	require.NoError(t, err)

	sessA, err := NewSession(a, b.SigningPublic, b.KAPublic[:], ids.SessionId(42))
	require.NoError(t, err)
	sessB, err := NewSession(b, a.SigningPublic, a.KAPublic[:], ids.SessionId(42))
	require.NoError(t, err)
	return sessA, sessB
}

func TestAEADRoundTrip(t *testing.T) {
	sessA, sessB := pairedSessions(t)

	frame, err := sessA.Encrypt(wire.ClassCore, wire.ProfileTextual, 0, nil, []byte("hello"))
	require.NoError(t, err)

	_, _, plaintext, err := sessB.Decrypt(frame)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), plaintext)
}

func TestAEADRoundTripManyMessages(t *testing.T) {
	sessA, sessB := pairedSessions(t)

	for i := 0; i < 250; i++ { // crosses the perceptual epoch threshold (100)
		frame, err := sessA.Encrypt(wire.ClassPerceptual, wire.ProfileRaw, 0, nil, []byte{byte(i)})
		require.NoError(t, err)
		_, _, plaintext, err := sessB.Decrypt(frame)
		require.NoError(t, err)
		assert.Equal(t, []byte{byte(i)}, plaintext)
	}
}

func TestAEADRejectsTamperedCiphertext(t *testing.T) {
	sessA, sessB := pairedSessions(t)

	frame, err := sessA.Encrypt(wire.ClassCore, wire.ProfileTextual, 0, nil, []byte("hello"))
	require.NoError(t, err)
	frame[len(frame)-1] ^= 0xFF

	_, _, _, err = sessB.Decrypt(frame)
	assert.ErrorIs(t, err, ErrTagMismatch)
}

func TestAEADRejectsTamperedHeader(t *testing.T) {
	sessA, sessB := pairedSessions(t)

	frame, err := sessA.Encrypt(wire.ClassCore, wire.ProfileTextual, 0, nil, []byte("hello"))
	require.NoError(t, err)
	frame[21] ^= 0xFF // profile byte is part of AAD

	_, _, _, err = sessB.Decrypt(frame)
	assert.ErrorIs(t, err, ErrTagMismatch)
}

func TestDecryptRejectsReplay(t *testing.T) {
	sessA, sessB := pairedSessions(t)

	frame, err := sessA.Encrypt(wire.ClassCore, wire.ProfileTextual, 0, nil, []byte("hello"))
	require.NoError(t, err)

	_, _, _, err = sessB.Decrypt(frame)
	require.NoError(t, err)

	_, _, _, err = sessB.Decrypt(frame)
	assert.ErrorIs(t, err, ErrReplay)
}

func TestDecryptDoesNotAdvanceReplayWindowOnTagFailure(t *testing.T) {
	sessA, sessB := pairedSessions(t)

	frame, err := sessA.Encrypt(wire.ClassCore, wire.ProfileTextual, 0, nil, []byte("hello"))
	require.NoError(t, err)
	tampered := append([]byte(nil), frame...)
	tampered[len(tampered)-1] ^= 0xFF

	_, _, _, err = sessB.Decrypt(tampered)
	require.ErrorIs(t, err, ErrTagMismatch)

	// The original, untampered frame for the same seq must still be
	// accepted: a tag failure must not have consumed the replay window bit.
	_, _, plaintext, err := sessB.Decrypt(frame)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), plaintext)
}

func TestSessionEpochHintFiresNearRotation(t *testing.T) {
	sessA, _ := pairedSessions(t)
	class := wire.ClassPerceptual // smallest epoch threshold (100), cheapest to drive

	_, ok := sessA.EpochHint(class)
	assert.False(t, ok)

	for i := 0; i < int(epochThreshold(class))-epochHintWindow; i++ {
		_, err := sessA.Encrypt(class, wire.ProfileRaw, 0, nil, []byte{byte(i)})
		require.NoError(t, err)
	}

	hint, ok := sessA.EpochHint(class)
	require.True(t, ok)
	assert.Equal(t, class, hint.Class)
	assert.Equal(t, uint32(0), hint.Epoch)
}

// TestDecryptWithoutEpochSyncHintFailsBeyondHeuristicWindow demonstrates
// why the hint is needed: once the gap between a receive cursor and the
// sender's true position exceeds resolvePosition's cheap +-32768 window,
// decrypt resolves to the wrong chain position and authentication fails.
func TestDecryptWithoutEpochSyncHintFailsBeyondHeuristicWindow(t *testing.T) {
	sessA, sessB := pairedSessions(t)
	class := wire.ClassPerceptual

	const gap = 32768 + 50
	var frame []byte
	var err error
	for i := 0; i < gap; i++ {
		frame, err = sessA.Encrypt(class, wire.ProfileRaw, 0, nil, []byte{byte(i)})
		require.NoError(t, err)
	}
	// sessB never decrypted any of the preceding frames on class, so its
	// receive cursor is still at position 0.

	_, _, _, err = sessB.Decrypt(frame)
	assert.Error(t, err)
}

// TestDecryptUsesEpochSyncHintToResolveBeyondHeuristicWindow is the same
// setup as above, except the final frame carries an EpochSync extension
// naming the sender's true epoch, which Decrypt uses to recompute the
// target position instead of trusting the cheap heuristic alone.
func TestDecryptUsesEpochSyncHintToResolveBeyondHeuristicWindow(t *testing.T) {
	sessA, sessB := pairedSessions(t)
	class := wire.ClassPerceptual

	const gap = 32768 + 50
	for i := 0; i < gap-1; i++ {
		_, err := sessA.Encrypt(class, wire.ProfileRaw, 0, nil, []byte{byte(i)})
		require.NoError(t, err)
	}

	epoch := sessA.sendRatchets[class].Epoch()
	hint := []wire.Extension{{Type: wire.ExtEpochSync, Value: wire.EncodeEpochSync(wire.EpochSync{Class: class, Epoch: epoch})}}
	frame, err := sessA.Encrypt(class, wire.ProfileRaw, 0, hint, []byte("final"))
	require.NoError(t, err)

	_, _, plaintext, err := sessB.Decrypt(frame)
	require.NoError(t, err)
	assert.Equal(t, []byte("final"), plaintext)
}
