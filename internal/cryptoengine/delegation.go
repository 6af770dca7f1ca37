package cryptoengine

import (
	"crypto/ed25519"
	"time"

	"github.com/elara-net/elara/pkg/ids"
)

// DelegationLink is one signed link in a delegation chain, per spec
// §3/§4.2: a delegator grants a delegate authority within a scope, signed
// by the delegator.
type DelegationLink struct {
	Delegator ids.NodeId
	Delegate  ids.NodeId
	Scope     string
	Expiry    *time.Duration // nil means no expiry; measured in StateTime, compared by the caller
	Signature []byte
}

// CanonicalEncoding returns the bytes a delegation link's signature covers:
// a domain-tagged concatenation of (delegator, delegate, scope, expiry).
func (l DelegationLink) CanonicalEncoding() []byte {
	buf := []byte("elara-delegation-v0")
	buf = appendUint64(buf, uint64(l.Delegator))
	buf = appendUint64(buf, uint64(l.Delegate))
	buf = append(buf, []byte(l.Scope)...)
	if l.Expiry != nil {
		buf = appendUint64(buf, uint64(*l.Expiry))
	}
	return buf
}

func appendUint64(buf []byte, v uint64) []byte {
	for i := 0; i < 8; i++ {
		buf = append(buf, byte(v>>(8*i)))
	}
	return buf
}

// VerifyDelegationChain walks a delegation chain link by link starting
// from an authority-set member and checks that it grants delegate
// authority over scope at evaluation time now, per spec §4.2 "Authority
// proofs" and §9. Every link's signature must verify against its
// delegator's signing key; a chain that fails at any link is rejected in
// full — there is no partial trust.
//
// nodePublicKey resolves a NodeId to its Ed25519 signing public key (the
// caller supplies this, since cryptoengine has no directory of its own).
func VerifyDelegationChain(chain []DelegationLink, authoritySet map[ids.NodeId]struct{}, delegate ids.NodeId, scope string, now time.Duration, nodePublicKey func(ids.NodeId) (ed25519.PublicKey, bool)) error {
	if len(chain) == 0 {
		return ErrBadSignature
	}

	if _, ok := authoritySet[chain[0].Delegator]; !ok {
		return ErrBadSignature
	}

	for i, link := range chain {
		pub, ok := nodePublicKey(link.Delegator)
		if !ok {
			return ErrBadSignature
		}
		if !Verify(pub, link.CanonicalEncoding(), link.Signature) {
			return ErrBadSignature
		}
		if link.Expiry != nil && now > *link.Expiry {
			return ErrDelegationExpired
		}
		if link.Scope != scope {
			return ErrDelegationScope
		}
		if i+1 < len(chain) && link.Delegate != chain[i+1].Delegator {
			return ErrBadSignature // chain must be contiguous: each link hands off to the next
		}
	}

	if chain[len(chain)-1].Delegate != delegate {
		return ErrDelegationScope
	}
	return nil
}
