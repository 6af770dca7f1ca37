package cryptoengine

import (
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"
)

const keySize = 32

// expand derives a keySize-byte key via HKDF-SHA256(secret, salt, info),
// matching the spec's HKDF(ikm, salt, info) argument order throughout —
// session root, class keys and every ratchet step all go through this.
func expand(secret, salt, info []byte) [keySize]byte {
	r := hkdf.New(sha256.New, secret, salt, info)
	var out [keySize]byte
	if _, err := io.ReadFull(r, out[:]); err != nil {
		// HKDF-SHA256 can only fail to produce 32 bytes if misconfigured;
		// that's a programmer error, not a runtime condition to recover from.
		panic("cryptoengine: hkdf expand: " + err.Error())
	}
	return out
}
