package cryptoengine

import (
	"crypto/ed25519"
	"fmt"
)

// PersistedIdentityVersion is the only export format version this build
// understands (spec §6: version u8 = 0x00).
const PersistedIdentityVersion = 0x00

// PersistedIdentitySize is the exact byte length of an exported identity:
// version(1) + signing_public(32) + ka_public(32) + signing_secret(32) +
// ka_secret(32) + self_signature(64).
const PersistedIdentitySize = 1 + 32 + 32 + 32 + 32 + 64

// Export serializes id into the persisted identity wire format from spec
// §6. The self-signature is computed over the preceding fields with this
// identity's own signing key, binding the exported blob against silent
// corruption or tampering.
func (id *Identity) Export() []byte {
	buf := make([]byte, PersistedIdentitySize)
	buf[0] = PersistedIdentityVersion
	off := 1
	off += copy(buf[off:], id.SigningPublic)
	off += copy(buf[off:], id.KAPublic[:])
	off += copy(buf[off:], id.SigningSecret.Seed())
	off += copy(buf[off:], id.KASecret[:])

	sig := id.Sign(buf[:off])
	copy(buf[off:], sig)
	return buf
}

// ImportIdentity parses and verifies a persisted identity blob produced by
// Export. It returns ErrIdentityCorrupt if the self-signature does not
// verify, so a corrupted or tampered file is never silently trusted.
func ImportIdentity(buf []byte) (*Identity, error) {
	if len(buf) != PersistedIdentitySize {
		return nil, fmt.Errorf("cryptoengine: persisted identity: want %d bytes, got %d", PersistedIdentitySize, len(buf))
	}
	if buf[0] != PersistedIdentityVersion {
		return nil, fmt.Errorf("cryptoengine: persisted identity: unknown version %d", buf[0])
	}

	off := 1
	signingPublic := ed25519.PublicKey(append([]byte(nil), buf[off:off+32]...))
	off += 32
	var kaPublic [32]byte
	copy(kaPublic[:], buf[off:off+32])
	off += 32
	seed := append([]byte(nil), buf[off:off+32]...)
	off += 32
	var kaSecret [32]byte
	copy(kaSecret[:], buf[off:off+32])
	off += 32
	selfSig := buf[off : off+64]

	if !Verify(signingPublic, buf[:off], selfSig) {
		return nil, ErrIdentityCorrupt
	}

	return &Identity{
		SigningPublic: signingPublic,
		SigningSecret: ed25519.NewKeyFromSeed(seed),
		KAPublic:      kaPublic,
		KASecret:      kaSecret,
	}, nil
}
