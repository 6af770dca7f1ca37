package storage

import (
	"encoding/binary"

	"github.com/elara-net/elara/pkg/ids"
)

// Compactor persists the overflow StateAtom.RecordEvent evicts from its
// bounded in-memory history (maxEventHistory, 256 entries), plus periodic
// full-value snapshots, per SPEC_FULL's supplemented "state-atom
// compaction policy": recent history lives in memory for bounded-work
// access on the critical path (spec §5), older history is durable but off
// the critical path.
type Compactor struct {
	store *Store
}

// NewCompactor wraps store for atom compaction.
func NewCompactor(store *Store) *Compactor {
	return &Compactor{store: store}
}

func snapshotKey(id ids.StateId) []byte {
	buf := make([]byte, len("snapshot/")+8)
	copy(buf, "snapshot/")
	binary.BigEndian.PutUint64(buf[len("snapshot/"):], uint64(id))
	return buf
}

func deltaLogKey(id ids.StateId, evicted ids.EventId) []byte {
	prefix := deltaLogPrefix(id)
	buf := make([]byte, len(prefix)+16)
	copy(buf, prefix)
	binary.BigEndian.PutUint64(buf[len(prefix):], uint64(evicted.Source))
	binary.BigEndian.PutUint64(buf[len(prefix)+8:], evicted.Sequence)
	return buf
}

func deltaLogPrefix(id ids.StateId) []byte {
	buf := make([]byte, len("deltalog/")+8)
	copy(buf, "deltalog/")
	binary.BigEndian.PutUint64(buf[len("deltalog/"):], uint64(id))
	return buf
}

// SaveSnapshot persists the atom's current value, replacing any prior
// snapshot — called periodically by the compression loop, not per-event.
func (c *Compactor) SaveSnapshot(id ids.StateId, value []byte) error {
	return c.store.Put(snapshotKey(id), value)
}

// LoadSnapshot returns the most recently saved snapshot for id, or
// ErrNotFound if none exists.
func (c *Compactor) LoadSnapshot(id ids.StateId) ([]byte, error) {
	return c.store.Get(snapshotKey(id))
}

// AppendEvicted records an event id evicted from an atom's bounded
// in-memory history, keyed so a later ScanPrefix over the state id
// recovers eviction order (big-endian source/sequence sort lexically by
// value, matching EventId.Less's ordering for same-source entries; the
// delta log's purpose is audit/replay, not causal ordering, so
// cross-source key order here is not significant).
func (c *Compactor) AppendEvicted(id ids.StateId, evicted ids.EventId) error {
	return c.store.Put(deltaLogKey(id, evicted), nil)
}

// ReplayEvicted returns every evicted event id recorded for id, in key
// order.
func (c *Compactor) ReplayEvicted(id ids.StateId) ([]ids.EventId, error) {
	var out []ids.EventId
	prefix := deltaLogPrefix(id)
	err := c.store.ScanPrefix(prefix, func(key, _ []byte) error {
		rest := key[len(prefix):]
		out = append(out, ids.EventId{
			Source:   ids.NodeId(binary.BigEndian.Uint64(rest[:8])),
			Sequence: binary.BigEndian.Uint64(rest[8:16]),
		})
		return nil
	})
	return out, err
}
