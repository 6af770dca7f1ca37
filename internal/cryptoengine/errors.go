// Package cryptoengine implements ELARA's identity, session-root derivation,
// per-class ratchets, AEAD framing and per-(peer,class) replay protection.
// It has no opinion on transport or state semantics; callers hand it
// plaintext event bytes and get back wire-ready frames, and vice versa.
package cryptoengine

import "errors"

// These are never fatal: per the error-handling design, a crypto failure
// drops the frame, increments a counter, and leaves ratchet/replay state
// untouched.
var (
	// ErrTagMismatch means AEAD authentication failed.
	ErrTagMismatch = errors.New("cryptoengine: authentication tag mismatch")

	// ErrReplay means the replay window rejected seq.
	ErrReplay = errors.New("cryptoengine: sequence rejected by replay window")

	// ErrEpochUnreachable means the peer's ratchet has advanced past the
	// point this side can still derive (chain keys are one-way).
	ErrEpochUnreachable = errors.New("cryptoengine: ratchet position no longer derivable")

	// ErrEpochMismatch means the frame's EpochSync hint still doesn't
	// agree with the position resolved from it, distinct from a replay or
	// tag-mismatch rejection: the peer's ratchet has drifted further than
	// the hint alone can reconcile.
	ErrEpochMismatch = errors.New("cryptoengine: epoch hint did not resolve to a consistent position")

	// ErrUnknownPeer means no session/peer state exists for this node_id.
	ErrUnknownPeer = errors.New("cryptoengine: unknown peer")

	// ErrInvalidClass means a PacketClass byte did not name one of the five
	// defined classes.
	ErrInvalidClass = errors.New("cryptoengine: invalid packet class")

	// ErrBadSignature means an Ed25519 signature failed verification.
	ErrBadSignature = errors.New("cryptoengine: signature verification failed")

	// ErrDelegationExpired means a delegation link's expiry is before the
	// time it was checked against.
	ErrDelegationExpired = errors.New("cryptoengine: delegation link expired")

	// ErrDelegationScope means a delegation chain does not cover the
	// requested scope.
	ErrDelegationScope = errors.New("cryptoengine: delegation scope mismatch")

	// ErrIdentityCorrupt means a persisted identity's self-signature does
	// not verify.
	ErrIdentityCorrupt = errors.New("cryptoengine: identity self-signature invalid")
)
