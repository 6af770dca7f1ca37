package wire

import "github.com/elara-net/elara/pkg/ids"

// ExtType names a TLV extension type. Values are this implementation's
// own assignment; the spec fixes only END = 0xFF, leaving the rest as
// an internal numbering scheme that unknown-type skipping makes safe
// to extend later.
type ExtType byte

const (
	ExtFragmentInfo  ExtType = 0x01
	ExtRelayPath     ExtType = 0x02
	ExtPriorityHint  ExtType = 0x03
	ExtTimestampFull ExtType = 0x04
	ExtAckVector     ExtType = 0x05
	ExtEpochSync     ExtType = 0x06
	ExtEnd           ExtType = 0xFF
)

// Extension is one parsed TLV entry. Value is a zero-copy slice into
// the original frame buffer; callers must not retain it past the
// buffer's lifetime without copying.
type Extension struct {
	Type  ExtType
	Value []byte
}

// FragmentInfo decodes an ExtFragmentInfo extension's value.
type FragmentInfo struct {
	FragID  uint16
	FragSeq uint8
	Total   uint8
	Flags   uint8
}

// DecodeFragmentInfo parses a FragmentInfo TLV value.
func DecodeFragmentInfo(v []byte) (FragmentInfo, bool) {
	if len(v) != 5 {
		return FragmentInfo{}, false
	}
	return FragmentInfo{
		FragID:  uint16(v[0]) | uint16(v[1])<<8,
		FragSeq: v[2],
		Total:   v[3],
		Flags:   v[4],
	}, true
}

// EncodeFragmentInfo serializes a FragmentInfo into a TLV value.
func EncodeFragmentInfo(f FragmentInfo) []byte {
	return []byte{byte(f.FragID), byte(f.FragID >> 8), f.FragSeq, f.Total, f.Flags}
}

// EpochSync decodes an ExtEpochSync extension's value: the peer's
// current ratchet epoch for one class, used to resynchronize decrypt
// when an implicit epoch guess misses.
type EpochSync struct {
	Class PacketClass
	Epoch uint32
}

func DecodeEpochSync(v []byte) (EpochSync, bool) {
	if len(v) != 5 {
		return EpochSync{}, false
	}
	return EpochSync{
		Class: PacketClass(v[0]),
		Epoch: uint32(v[1]) | uint32(v[2])<<8 | uint32(v[3])<<16 | uint32(v[4])<<24,
	}, true
}

func EncodeEpochSync(e EpochSync) []byte {
	return []byte{byte(e.Class), byte(e.Epoch), byte(e.Epoch >> 8), byte(e.Epoch >> 16), byte(e.Epoch >> 24)}
}

// DecodeRelayPath parses a sequence of little-endian NodeId values.
func DecodeRelayPath(v []byte) ([]ids.NodeId, bool) {
	if len(v)%8 != 0 {
		return nil, false
	}
	path := make([]ids.NodeId, 0, len(v)/8)
	for i := 0; i < len(v); i += 8 {
		var n uint64
		for j := 0; j < 8; j++ {
			n |= uint64(v[i+j]) << (8 * j)
		}
		path = append(path, ids.NodeId(n))
	}
	return path, true
}

// EncodeAckVector serializes a sequence of u16 sequence numbers.
func EncodeAckVector(seqs []uint16) []byte {
	out := make([]byte, len(seqs)*2)
	for i, s := range seqs {
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}

// DecodeAckVector parses a sequence of u16 sequence numbers.
func DecodeAckVector(v []byte) ([]uint16, bool) {
	if len(v)%2 != 0 {
		return nil, false
	}
	out := make([]uint16, len(v)/2)
	for i := range out {
		out[i] = uint16(v[i*2]) | uint16(v[i*2+1])<<8
	}
	return out, true
}

// encodeExtensions serializes a TLV list: type byte, length byte,
// value bytes, repeated. It does not append an explicit END marker;
// the extensions region is bounded by header_len.
func encodeExtensions(exts []Extension) ([]byte, error) {
	var total int
	for _, e := range exts {
		if len(e.Value) > 0xFF {
			return nil, ErrMalformedExtension
		}
		total += 2 + len(e.Value)
	}
	buf := make([]byte, total)
	off := 0
	for _, e := range exts {
		buf[off] = byte(e.Type)
		buf[off+1] = byte(len(e.Value))
		copy(buf[off+2:], e.Value)
		off += 2 + len(e.Value)
	}
	return buf, nil
}

// parseExtensions walks the TLV region in buf. Unknown extension types
// are returned like any other — callers that don't recognize a type
// simply ignore that entry, which is what "unknown types MUST be
// skipped" amounts to in a single linear pass. Encountering ExtEnd
// stops the scan immediately, even if bytes remain.
func parseExtensions(buf []byte) ([]Extension, error) {
	var exts []Extension
	for len(buf) > 0 {
		if ExtType(buf[0]) == ExtEnd {
			break
		}
		if len(buf) < 2 {
			return nil, ErrMalformedExtension
		}
		typ := ExtType(buf[0])
		length := int(buf[1])
		if len(buf) < 2+length {
			return nil, ErrMalformedExtension
		}
		exts = append(exts, Extension{Type: typ, Value: buf[2 : 2+length]})
		buf = buf[2+length:]
	}
	return exts, nil
}
