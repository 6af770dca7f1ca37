package runtime

import (
	"encoding/binary"
	"errors"
	"math"
	"time"

	"github.com/elara-net/elara/internal/cryptoengine"
	"github.com/elara-net/elara/internal/state"
	"github.com/elara-net/elara/pkg/ids"
)

// ErrShortEvent is returned by DecodeEvent when the buffer ends before a
// length-prefixed field is fully present.
var ErrShortEvent = errors.New("runtime: truncated event encoding")

// EncodeEvent serializes a state.Event for transport as an ELARA frame's
// decrypted payload. The encoding is a hand-rolled little-endian,
// length-prefixed layout mirroring pkg/wire's header codec rather than a
// schema-driven format: there is no shared schema to generate against,
// and the event shape is small and stable enough that hand-rolling it
// keeps the wire payload free of an unused general-purpose serializer.
func EncodeEvent(e state.Event) []byte {
	buf := make([]byte, 0, 128)
	buf = appendUint64(buf, uint64(e.ID.Source))
	buf = appendUint64(buf, e.ID.Sequence)
	buf = append(buf, byte(e.EventType))
	buf = appendUint64(buf, uint64(e.Source))
	buf = appendUint64(buf, uint64(e.TargetState))

	buf = appendUint32(buf, uint32(len(e.VersionRef)))
	keys := make([]ids.NodeId, 0, len(e.VersionRef))
	for k := range e.VersionRef {
		keys = append(keys, k)
	}
	sortNodeIdsAsc(keys)
	for _, k := range keys {
		buf = appendUint64(buf, uint64(k))
		buf = appendUint64(buf, e.VersionRef[k])
	}

	buf = append(buf, byte(e.Mutation.Kind))
	buf = appendBytes(buf, e.Mutation.Bytes)
	buf = appendUint64(buf, uint64(e.Mutation.Delta))
	buf = appendUint64(buf, math.Float64bits(e.Mutation.Weight))

	buf = appendUint64(buf, uint64(e.TimeIntent.Timestamp))
	buf = appendUint64(buf, math.Float64bits(e.TimeIntent.Urgency))

	buf = appendBytes(buf, e.AuthorityProof.Signature)
	buf = appendUint32(buf, uint32(len(e.AuthorityProof.Chain)))
	for _, link := range e.AuthorityProof.Chain {
		buf = appendUint64(buf, uint64(link.Delegator))
		buf = appendUint64(buf, uint64(link.Delegate))
		buf = appendBytes(buf, []byte(link.Scope))
		if link.Expiry != nil {
			buf = append(buf, 1)
			buf = appendUint64(buf, uint64(*link.Expiry))
		} else {
			buf = append(buf, 0)
		}
		buf = appendBytes(buf, link.Signature)
	}

	buf = appendUint64(buf, math.Float64bits(e.EntropyHint))
	return buf
}

// DecodeEvent parses an EncodeEvent payload back into a state.Event.
func DecodeEvent(buf []byte) (state.Event, error) {
	r := &reader{buf: buf}
	var e state.Event

	e.ID.Source = ids.NodeId(r.uint64())
	e.ID.Sequence = r.uint64()
	e.EventType = state.EventType(r.byte())
	e.Source = ids.NodeId(r.uint64())
	e.TargetState = ids.StateId(r.uint64())

	n := r.uint32()
	e.VersionRef = make(state.VersionVector, n)
	for i := uint32(0); i < n; i++ {
		node := ids.NodeId(r.uint64())
		tick := r.uint64()
		e.VersionRef[node] = tick
	}

	e.Mutation.Kind = state.MutationKind(r.byte())
	e.Mutation.Bytes = r.bytes()
	e.Mutation.Delta = int64(r.uint64())
	e.Mutation.Weight = math.Float64frombits(r.uint64())

	e.TimeIntent.Timestamp = time.Duration(r.uint64())
	e.TimeIntent.Urgency = math.Float64frombits(r.uint64())

	e.AuthorityProof.Signature = r.bytes()
	chainLen := r.uint32()
	e.AuthorityProof.Chain = make([]cryptoengine.DelegationLink, chainLen)
	for i := uint32(0); i < chainLen; i++ {
		link := cryptoengine.DelegationLink{
			Delegator: ids.NodeId(r.uint64()),
			Delegate:  ids.NodeId(r.uint64()),
			Scope:     string(r.bytes()),
		}
		if r.byte() == 1 {
			expiry := time.Duration(r.uint64())
			link.Expiry = &expiry
		}
		link.Signature = r.bytes()
		e.AuthorityProof.Chain[i] = link
	}

	e.EntropyHint = math.Float64frombits(r.uint64())

	if r.err != nil {
		return state.Event{}, r.err
	}
	return e, nil
}

func appendUint64(buf []byte, v uint64) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendUint32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendBytes(buf, data []byte) []byte {
	buf = appendUint32(buf, uint32(len(data)))
	return append(buf, data...)
}

func sortNodeIdsAsc(nodes []ids.NodeId) {
	for i := 1; i < len(nodes); i++ {
		for j := i; j > 0 && nodes[j-1] > nodes[j]; j-- {
			nodes[j-1], nodes[j] = nodes[j], nodes[j-1]
		}
	}
}

// reader walks buf sequentially, recording the first short-read error so
// callers can decode a whole event and check err once at the end.
type reader struct {
	buf []byte
	off int
	err error
}

func (r *reader) need(n int) bool {
	if r.err != nil {
		return false
	}
	if r.off+n > len(r.buf) {
		r.err = ErrShortEvent
		return false
	}
	return true
}

func (r *reader) byte() byte {
	if !r.need(1) {
		return 0
	}
	b := r.buf[r.off]
	r.off++
	return b
}

func (r *reader) uint32() uint32 {
	if !r.need(4) {
		return 0
	}
	v := binary.LittleEndian.Uint32(r.buf[r.off:])
	r.off += 4
	return v
}

func (r *reader) uint64() uint64 {
	if !r.need(8) {
		return 0
	}
	v := binary.LittleEndian.Uint64(r.buf[r.off:])
	r.off += 8
	return v
}

func (r *reader) bytes() []byte {
	n := r.uint32()
	if !r.need(int(n)) {
		return nil
	}
	out := make([]byte, n)
	copy(out, r.buf[r.off:r.off+int(n)])
	r.off += int(n)
	return out
}
