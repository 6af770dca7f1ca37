package cryptoengine

import (
	"crypto/ed25519"
	"io"

	"golang.org/x/crypto/curve25519"

	"github.com/elara-net/elara/pkg/ids"
)

// Identity holds a node's signing and key-agreement keypairs. The secret
// halves must never be logged; pkg/log call sites touching an Identity log
// only its NodeId.
type Identity struct {
	SigningPublic ed25519.PublicKey
	SigningSecret ed25519.PrivateKey

	KAPublic [32]byte
	KASecret [32]byte
}

// GenerateIdentity creates a fresh signing and key-agreement keypair from
// the given cryptographically secure random source (the "random contract"
// of the external interfaces section).
func GenerateIdentity(rand io.Reader) (*Identity, error) {
	signPub, signSec, err := ed25519.GenerateKey(rand)
	if err != nil {
		return nil, err
	}

	var kaSecret [32]byte
	if _, err := io.ReadFull(rand, kaSecret[:]); err != nil {
		return nil, err
	}
	kaPublic, err := curve25519.X25519(kaSecret[:], curve25519.Basepoint)
	if err != nil {
		return nil, err
	}

	id := &Identity{SigningPublic: signPub, SigningSecret: signSec, KASecret: kaSecret}
	copy(id.KAPublic[:], kaPublic)
	return id, nil
}

// NodeId derives this identity's 64-bit NodeId per spec §4.2:
// lower-8-bytes(SHA-256("elara-node-id-v0" || signing_public || ka_public)).
func (id *Identity) NodeId() ids.NodeId {
	return DeriveNodeId(id.SigningPublic, id.KAPublic[:])
}

// DeriveNodeId computes a NodeId from a signing and key-agreement public
// key, independent of whether the caller holds the matching secrets — used
// both locally and when learning a peer's NodeId from a handshake.
func DeriveNodeId(signingPublic, kaPublic []byte) ids.NodeId {
	return ids.DeriveNodeId(signingPublic, kaPublic)
}

// Sign signs data with this identity's Ed25519 signing key.
func (id *Identity) Sign(data []byte) []byte {
	return ed25519.Sign(id.SigningSecret, data)
}

// Verify checks an Ed25519 signature over data against pub.
func Verify(pub ed25519.PublicKey, data, sig []byte) bool {
	return ed25519.Verify(pub, data, sig)
}

// SharedSecret runs X25519 between this identity's KA secret and a peer's
// KA public key, producing the 32-byte shared secret session-root
// derivation consumes.
func (id *Identity) SharedSecret(peerKAPublic []byte) ([]byte, error) {
	return curve25519.X25519(id.KASecret[:], peerKAPublic)
}
