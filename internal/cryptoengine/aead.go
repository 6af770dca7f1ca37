package cryptoengine

import (
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/elara-net/elara/pkg/ids"
	"github.com/elara-net/elara/pkg/wire"
)

// nonce builds the 12-byte ChaCha20-Poly1305 nonce per spec §4.2:
// node_id (8) || seq_le (2) || class (1) || 0 (1).
func nonce(nodeID ids.NodeId, seq uint16, class wire.PacketClass) []byte {
	n := make([]byte, chacha20poly1305.NonceSize)
	u := uint64(nodeID)
	for i := 0; i < 8; i++ {
		n[i] = byte(u >> (8 * i))
	}
	n[8] = byte(seq)
	n[9] = byte(seq >> 8)
	n[10] = byte(class)
	n[11] = 0
	return n
}

// Encrypt implements spec §4.2's Encrypt algorithm end to end: allocate
// seq, advance the send ratchet, build the header+extensions AAD, AEAD
// seal, and return the full wire frame.
func (s *Session) Encrypt(class wire.PacketClass, profile wire.RepresentationProfile, timeHint int32, exts []wire.Extension, payload []byte) ([]byte, error) {
	ratchet, ok := s.sendRatchets[class]
	if !ok {
		return nil, ErrInvalidClass
	}

	seq := s.localSeq[class]
	s.localSeq[class] = seq + 1
	messageKey := ratchet.Next()

	header := wire.NewHeader(s.id, s.localID, class, profile, seq, timeHint)
	aad, err := wire.Encode(header, exts, nil)
	if err != nil {
		return nil, err
	}

	aead, err := chacha20poly1305.New(messageKey[:])
	if err != nil {
		return nil, err
	}
	sealed := aead.Seal(nil, nonce(s.localID, seq, class), payload, aad)

	return wire.Encode(header, exts, sealed)
}

// Decrypt implements spec §4.2's Decrypt algorithm: parse, look up peer
// ratchet/replay state, reject replays without advancing state, resolve
// the message key, and AEAD-open. On tag failure the replay window and
// ratchet frontier are left untouched.
func (s *Session) Decrypt(frame []byte) (wire.Header, []wire.Extension, []byte, error) {
	header, exts, bodyOffset, err := wire.Parse(frame)
	if err != nil {
		return wire.Header{}, nil, nil, err
	}
	if !header.Class.Valid() {
		return wire.Header{}, nil, nil, ErrInvalidClass
	}

	window, ok := s.replayWindows[header.Class]
	if !ok {
		return wire.Header{}, nil, nil, ErrInvalidClass
	}
	if !window.Check(header.Seq) {
		return wire.Header{}, nil, nil, ErrReplay
	}

	cursor := s.recvCursors[header.Class]
	target := resolvePosition(cursor.pos, header.Seq)
	if hint, ok := findEpochSync(exts, header.Class); ok && cursor.EpochAt(target) != hint.Epoch {
		threshold := uint64(epochThreshold(header.Class))
		target = uint64(hint.Epoch)*threshold + uint64(header.Seq)%threshold
		if cursor.EpochAt(target) != hint.Epoch {
			return wire.Header{}, nil, nil, ErrEpochMismatch
		}
	}
	// Derive the key without moving the cursor: the frontier only advances
	// once the frame authenticates.
	var messageKey [32]byte
	if target < cursor.pos {
		if messageKey, err = cursor.KeyAt(target); err != nil {
			return wire.Header{}, nil, nil, err
		}
	} else {
		st := cursor.frontier
		for p := cursor.pos; p < target; p++ {
			_, st = step(st, header.Class)
		}
		messageKey, _ = step(st, header.Class)
	}

	aead, err := chacha20poly1305.New(messageKey[:])
	if err != nil {
		return wire.Header{}, nil, nil, err
	}

	aad := frame[:bodyOffset]
	plaintext, err := aead.Open(nil, nonce(header.NodeId, header.Seq, header.Class), frame[bodyOffset:], aad)
	if err != nil {
		return wire.Header{}, nil, nil, ErrTagMismatch
	}

	if target >= cursor.pos {
		cursor.KeyAt(target) // commit the authenticated position to the cursor
	}
	window.Accept(header.Seq)
	return header, exts, plaintext, nil
}

// findEpochSync looks for an ExtEpochSync extension naming class among
// the frame's parsed extensions.
func findEpochSync(exts []wire.Extension, class wire.PacketClass) (wire.EpochSync, bool) {
	for _, ext := range exts {
		if ext.Type != wire.ExtEpochSync {
			continue
		}
		if sync, ok := wire.DecodeEpochSync(ext.Value); ok && sync.Class == class {
			return sync, true
		}
	}
	return wire.EpochSync{}, false
}
