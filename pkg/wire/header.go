// Package wire implements ELARA's frame format: a 28-byte fixed header,
// optional TLV extensions, an encrypted payload and a 16-byte
// authentication tag. Wire only knows about bytes — it has no opinion
// on keys, ratchets or reality windows; it hands the crypto layer the
// header+extensions bytes to use as authenticated associated data.
package wire

import (
	"encoding/binary"

	"github.com/elara-net/elara/pkg/ids"
)

// HeaderSize is the fixed header length in bytes.
const HeaderSize = 28

// MaxWireSize is the maximum size of an encoded frame, chosen to stay
// below common path MTU.
const MaxWireSize = 1200

// TagSize is the AEAD authentication tag length.
const TagSize = 16

// WireVersion0 is the only wire version this build understands.
const WireVersion0 = 0

// CryptoSuiteChaCha20Poly1305Ed25519X25519 is crypto suite id 0:
// ChaCha20-Poly1305 + Ed25519 + X25519.
const CryptoSuiteChaCha20Poly1305Ed25519X25519 = 0

// Flag bits within the header's flags byte. Bits 0-1 are reserved and
// must be zero.
const (
	FlagExtensionsPresent byte = 1 << 2
	FlagPriority          byte = 1 << 3
	FlagRepair            byte = 1 << 4
	FlagFragment          byte = 1 << 5
	FlagRelay             byte = 1 << 6
	FlagMultipath         byte = 1 << 7

	reservedFlagMask byte = 1<<0 | 1<<1
)

// PacketClass is the single-byte class carried at offset 20. Each class
// has an independent ratchet, replay window and drop policy.
type PacketClass byte

const (
	ClassCore        PacketClass = 0x00
	ClassPerceptual  PacketClass = 0x01
	ClassEnhancement PacketClass = 0x02
	ClassCosmetic    PacketClass = 0x03
	ClassRepair      PacketClass = 0x04
)

func (c PacketClass) String() string {
	switch c {
	case ClassCore:
		return "core"
	case ClassPerceptual:
		return "perceptual"
	case ClassEnhancement:
		return "enhancement"
	case ClassCosmetic:
		return "cosmetic"
	case ClassRepair:
		return "repair"
	default:
		return "unknown"
	}
}

// Valid reports whether c names one of the five defined classes.
func (c PacketClass) Valid() bool {
	return c <= ClassRepair
}

// AllClasses lists the five packet classes in a stable order, used
// anywhere ratchets or replay windows must be enumerated per class.
var AllClasses = [...]PacketClass{ClassCore, ClassPerceptual, ClassEnhancement, ClassCosmetic, ClassRepair}

// RepresentationProfile is an informational hint for upper-layer
// decoding; it never affects wire validity.
type RepresentationProfile byte

const (
	ProfileRaw                  RepresentationProfile = 0
	ProfileTextual              RepresentationProfile = 1
	ProfileVoiceMinimal         RepresentationProfile = 2
	ProfileVoiceRich            RepresentationProfile = 3
	ProfileVideoPerceptual      RepresentationProfile = 4
	ProfileGroupSwarm           RepresentationProfile = 5
	ProfileLivestreamAsymmetric RepresentationProfile = 6
	ProfileAgent                RepresentationProfile = 7
)

// Header is the decoded fixed 28-byte frame header.
type Header struct {
	VersionCrypto byte
	Flags         byte
	HeaderLen     uint16
	SessionId     ids.SessionId
	NodeId        ids.NodeId
	Class         PacketClass
	Profile       RepresentationProfile
	Seq           uint16
	TimeHint      int32
}

// WireVersion returns the high nibble of VersionCrypto.
func (h Header) WireVersion() byte { return h.VersionCrypto >> 4 }

// CryptoSuite returns the low nibble of VersionCrypto.
func (h Header) CryptoSuite() byte { return h.VersionCrypto & 0x0F }

// HasExtensions reports whether the extensions-present flag is set.
func (h Header) HasExtensions() bool { return h.Flags&FlagExtensionsPresent != 0 }

// NewHeader builds a header for wire version 0 / crypto suite 0 with
// the given fields; HeaderLen is left to the caller (Encode fills it).
func NewHeader(sessionID ids.SessionId, nodeID ids.NodeId, class PacketClass, profile RepresentationProfile, seq uint16, timeHint int32) Header {
	return Header{
		VersionCrypto: WireVersion0<<4 | CryptoSuiteChaCha20Poly1305Ed25519X25519,
		SessionId:     sessionID,
		NodeId:        nodeID,
		Class:         class,
		Profile:       profile,
		Seq:           seq,
		TimeHint:      timeHint,
	}
}

// encodeFixed writes the 28-byte fixed header into dst, which must be
// at least HeaderSize bytes.
func encodeFixed(dst []byte, h Header) {
	dst[0] = h.VersionCrypto
	dst[1] = h.Flags
	binary.LittleEndian.PutUint16(dst[2:4], h.HeaderLen)
	binary.LittleEndian.PutUint64(dst[4:12], uint64(h.SessionId))
	binary.LittleEndian.PutUint64(dst[12:20], uint64(h.NodeId))
	dst[20] = byte(h.Class)
	dst[21] = byte(h.Profile)
	binary.LittleEndian.PutUint16(dst[22:24], h.Seq)
	binary.LittleEndian.PutUint32(dst[24:28], uint32(h.TimeHint))
}

// parseFixed reads the 28-byte fixed header from buf, which must be at
// least HeaderSize bytes. It does not validate header_len against the
// full buffer length or check flag bits — callers use Parse for
// full validation.
func parseFixed(buf []byte) Header {
	return Header{
		VersionCrypto: buf[0],
		Flags:         buf[1],
		HeaderLen:     binary.LittleEndian.Uint16(buf[2:4]),
		SessionId:     ids.SessionId(binary.LittleEndian.Uint64(buf[4:12])),
		NodeId:        ids.NodeId(binary.LittleEndian.Uint64(buf[12:20])),
		Class:         PacketClass(buf[20]),
		Profile:       RepresentationProfile(buf[21]),
		Seq:           binary.LittleEndian.Uint16(buf[22:24]),
		TimeHint:      int32(binary.LittleEndian.Uint32(buf[24:28])),
	}
}
