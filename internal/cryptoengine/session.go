package cryptoengine

import (
	"encoding/binary"

	"github.com/elara-net/elara/pkg/ids"
	"github.com/elara-net/elara/pkg/wire"
)

const sessionRootDomainTag = "elara-session-root-v0"

var classKeyNames = map[wire.PacketClass]string{
	wire.ClassCore:        "elara-class-core-v0",
	wire.ClassPerceptual:  "elara-class-perceptual-v0",
	wire.ClassEnhancement: "elara-class-enhancement-v0",
	wire.ClassCosmetic:    "elara-class-cosmetic-v0",
	wire.ClassRepair:      "elara-class-repair-v0",
}

// DeriveSessionRoot computes the session root from a X25519 shared secret,
// per spec §4.2. Node ids are canonically ordered (min before max) so both
// participants derive the identical root regardless of who initiated.
func DeriveSessionRoot(sharedSecret []byte, sessionID ids.SessionId, nodeA, nodeB ids.NodeId) [32]byte {
	lo, hi := nodeA, nodeB
	if lo > hi {
		lo, hi = hi, lo
	}

	info := make([]byte, 0, len(sessionRootDomainTag)+8+8+8)
	info = append(info, sessionRootDomainTag...)
	info = binary.LittleEndian.AppendUint64(info, uint64(sessionID))
	info = binary.LittleEndian.AppendUint64(info, uint64(lo))
	info = binary.LittleEndian.AppendUint64(info, uint64(hi))

	return expand(sharedSecret, nil, info)
}

// ClassKey derives the per-class key K_c from a session root, per spec
// §4.2. It panics on an invalid class since the five classes are the
// entire domain of PacketClass and are validated at frame-parse time.
func ClassKey(sessionRoot [32]byte, class wire.PacketClass) [32]byte {
	name, ok := classKeyNames[class]
	if !ok {
		panic("cryptoengine: invalid packet class")
	}
	return expand(sessionRoot[:], nil, []byte(name))
}

// Session holds the full crypto state for one pairwise ELARA session: a
// send ratchet per class (this node writing to the peer) and a receive
// cursor + replay window per class (the peer writing to this node). The
// spec's crypto model is inherently pairwise — one X25519 shared secret
// per pair — so a group conversation is composed at the runtime layer out
// of several pairwise Sessions, not modeled here.
type Session struct {
	localID ids.NodeId
	peerID  ids.NodeId
	id      ids.SessionId

	sendRatchets  map[wire.PacketClass]*SendRatchet
	recvCursors   map[wire.PacketClass]*ReceiveCursor
	replayWindows map[wire.PacketClass]*ReplayWindow
	localSeq      map[wire.PacketClass]uint16
}

// NewSession derives the session root from local's secret and the peer's
// public key-agreement key, then seeds every class's send ratchet and
// receive cursor from it.
func NewSession(local *Identity, peerSigningPublic, peerKAPublic []byte, sessionID ids.SessionId) (*Session, error) {
	shared, err := local.SharedSecret(peerKAPublic)
	if err != nil {
		return nil, err
	}

	localID := local.NodeId()
	peerID := DeriveNodeId(peerSigningPublic, peerKAPublic)
	root := DeriveSessionRoot(shared, sessionID, localID, peerID)

	s := &Session{
		localID:       localID,
		peerID:        peerID,
		id:            sessionID,
		sendRatchets:  make(map[wire.PacketClass]*SendRatchet, len(wire.AllClasses)),
		recvCursors:   make(map[wire.PacketClass]*ReceiveCursor, len(wire.AllClasses)),
		replayWindows: make(map[wire.PacketClass]*ReplayWindow, len(wire.AllClasses)),
		localSeq:      make(map[wire.PacketClass]uint16, len(wire.AllClasses)),
	}
	for _, class := range wire.AllClasses {
		k := ClassKey(root, class)
		s.sendRatchets[class] = NewSendRatchet(k, class)
		s.recvCursors[class] = NewReceiveCursor(k, class)
		s.replayWindows[class] = &ReplayWindow{}
	}
	return s, nil
}

// EpochHint reports a wire.EpochSync value worth attaching to an outbound
// frame on class, when this side's send ratchet is close enough to its
// next rotation that the peer's decrypt side may need the hint to resolve
// positions beyond the cheap ±32768 heuristic's range (spec §4.2 step 4).
func (s *Session) EpochHint(class wire.PacketClass) (wire.EpochSync, bool) {
	r, ok := s.sendRatchets[class]
	if !ok || !r.NearRotation() {
		return wire.EpochSync{}, false
	}
	return wire.EpochSync{Class: class, Epoch: r.Epoch()}, true
}

// LocalID reports this side's NodeId for this session.
func (s *Session) LocalID() ids.NodeId { return s.localID }

// PeerID reports the remote side's NodeId for this session.
func (s *Session) PeerID() ids.NodeId { return s.peerID }

// resolvePosition reconstructs a receive cursor's absolute chain position
// from a 16-bit wire seq, choosing the representative within ±32768 of the
// cursor's current frontier — the same admission window the replay window
// already enforces, so a seq the replay window would accept always
// resolves to a well-defined position.
func resolvePosition(cursorPos uint64, seq uint16) uint64 {
	base := uint16(cursorPos)
	diff := int32(seq) - int32(base)
	if diff > 32768 {
		diff -= 65536
	} else if diff < -32768 {
		diff += 65536
	}
	target := int64(cursorPos) + int64(diff)
	if target < 0 {
		return 0
	}
	return uint64(target)
}
