package cryptoengine

import (
	"strconv"

	"github.com/elara-net/elara/pkg/wire"
)

// epochThreshold returns the message_index value at which a class's
// ratchet rotates epoch (spec §4.2 "Epoch thresholds by class").
func epochThreshold(class wire.PacketClass) uint32 {
	switch class {
	case wire.ClassCore:
		return 1000
	case wire.ClassPerceptual:
		return 100
	case wire.ClassEnhancement:
		return 500
	case wire.ClassCosmetic:
		return 1000
	case wire.ClassRepair:
		return 500
	default:
		panic("cryptoengine: invalid packet class")
	}
}

// chainState is the ratchet state at a given absolute message position:
// the position's chain_key, epoch and message_index triple.
type chainState struct {
	chainKey     [32]byte
	epoch        uint32
	messageIndex uint32
}

// step advances chainState by exactly one message per spec §4.2 steps 1-4,
// returning the message_key for the *current* position and the state for
// position+1.
func step(s chainState, class wire.PacketClass) (messageKey [32]byte, next chainState) {
	messageKey = expand(s.chainKey[:], nil, []byte("msg-"+strconv.FormatUint(uint64(s.messageIndex), 10)))

	newChain := expand(s.chainKey[:], nil, []byte("chain-advance"))
	newIndex := s.messageIndex + 1
	newEpoch := s.epoch

	if newIndex >= epochThreshold(class) {
		newChain = expand(newChain[:], nil, []byte("epoch-"+strconv.FormatUint(uint64(s.epoch+1), 10)))
		newEpoch = s.epoch + 1
		newIndex = 0
	}

	return messageKey, chainState{chainKey: newChain, epoch: newEpoch, messageIndex: newIndex}
}

// SendRatchet is the local, single-threaded outbound ratchet for one
// class: every call to Next() advances exactly one position, matching
// "allocate next seq... advance the class ratchet" (spec §4.2 Encrypt
// step 1). There is only ever one sender per (session, class), so no
// cache or catch-up logic is needed here.
type SendRatchet struct {
	state chainState
	class wire.PacketClass
}

// NewSendRatchet seeds a ratchet at message_index 0, epoch 0, with the
// class key as its initial chain_key.
func NewSendRatchet(classKey [32]byte, class wire.PacketClass) *SendRatchet {
	return &SendRatchet{state: chainState{chainKey: classKey}, class: class}
}

// Next returns the message_key for the next outbound message on this
// class and advances the ratchet.
func (r *SendRatchet) Next() [32]byte {
	key, next := step(r.state, r.class)
	r.state = next
	return key
}

// Epoch reports the ratchet's current epoch, used to populate an
// EpochSync extension proactively near a rotation boundary.
func (r *SendRatchet) Epoch() uint32 { return r.state.epoch }

// epochHintWindow is how many messages before a rotation the send side
// starts attaching a proactive EpochSync extension, so a peer who has
// fallen more than ±32768 sequence numbers behind can still resolve the
// new epoch instead of failing outright (spec §4.2 step 4).
const epochHintWindow = 20

// NearRotation reports whether the ratchet is within epochHintWindow
// messages of advancing to a new epoch.
func (r *SendRatchet) NearRotation() bool {
	return epochThreshold(r.class)-r.state.messageIndex <= epochHintWindow
}

const receiveCursorCacheSize = 64

// ReceiveCursor mirrors a single peer's ratchet for one class on the
// decrypt side. Because the chain is a pure function of absolute message
// position (no per-message randomness folded in), any position's key is
// derivable by replaying the deterministic step function forward from
// position 0 — so instead of tracking "the peer's real-time position" we
// track our own furthest-derived frontier plus a small cache, sized to
// match the replay window, to tolerate the same reordering/loss the
// replay window already admits.
type ReceiveCursor struct {
	class    wire.PacketClass
	frontier chainState // state AT position frontierPos, not yet consumed
	pos      uint64     // frontierPos
	cache    map[uint64][32]byte
	cacheLRU []uint64
}

// NewReceiveCursor seeds a receive cursor at position 0 with the class key.
func NewReceiveCursor(classKey [32]byte, class wire.PacketClass) *ReceiveCursor {
	return &ReceiveCursor{
		class:    class,
		frontier: chainState{chainKey: classKey},
		cache:    make(map[uint64][32]byte, receiveCursorCacheSize),
	}
}

// KeyAt returns the message_key at absolute position target, advancing the
// frontier forward (and caching intermediate keys) if target is ahead of
// it. Positions already passed and evicted from the cache return
// ErrEpochUnreachable — the one-way chain cannot be wound backward.
func (c *ReceiveCursor) KeyAt(target uint64) ([32]byte, error) {
	if target < c.pos {
		if key, ok := c.cache[target]; ok {
			return key, nil
		}
		return [32]byte{}, ErrEpochUnreachable
	}

	for c.pos < target {
		key, next := step(c.frontier, c.class)
		c.remember(c.pos, key)
		c.frontier = next
		c.pos++
	}

	key, next := step(c.frontier, c.class)
	c.remember(c.pos, key)
	c.frontier = next
	c.pos++
	return key, nil
}

// EpochAt reports the epoch that would be in effect at absolute position
// target, without consuming it — used to cross-check an incoming
// EpochSync extension.
func (c *ReceiveCursor) EpochAt(target uint64) uint32 {
	threshold := uint64(epochThreshold(c.class))
	return uint32(target / threshold)
}

func (c *ReceiveCursor) remember(pos uint64, key [32]byte) {
	if _, exists := c.cache[pos]; !exists {
		c.cacheLRU = append(c.cacheLRU, pos)
	}
	c.cache[pos] = key
	for len(c.cacheLRU) > receiveCursorCacheSize {
		oldest := c.cacheLRU[0]
		c.cacheLRU = c.cacheLRU[1:]
		delete(c.cache, oldest)
	}
}
