package state

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elara-net/elara/pkg/ids"
)

func eventWithID(source ids.NodeId, seq uint64) Event {
	return Event{ID: ids.EventId{Source: source, Sequence: seq}}
}

func TestQuarantineEvictsOldestAtCapacity(t *testing.T) {
	q := NewQuarantine()
	q.MaxSize = 2

	_, evicted := q.Add(eventWithID(1, 1), MissingDependency, 0)
	assert.False(t, evicted)
	_, evicted = q.Add(eventWithID(1, 2), MissingDependency, 1*time.Second)
	assert.False(t, evicted)

	victim, evicted := q.Add(eventWithID(1, 3), MissingDependency, 2*time.Second)
	require.True(t, evicted)
	assert.Equal(t, uint64(1), victim.ID.Sequence)
	assert.Equal(t, 2, q.Len())
}

func TestQuarantineExpiresOlderThanMaxAge(t *testing.T) {
	q := NewQuarantine()
	q.MaxAge = 10 * time.Second

	q.Add(eventWithID(1, 1), MissingDependency, 0)
	q.Add(eventWithID(1, 2), MissingDependency, 5*time.Second)

	expired := q.ExpireOlderThan(11 * time.Second)
	require.Len(t, expired, 1)
	assert.Equal(t, uint64(1), expired[0].ID.Sequence)
	assert.Equal(t, 1, q.Len())
}

func TestQuarantineDrainReleasesInCausalOrder(t *testing.T) {
	q := NewQuarantine()
	q.Add(eventWithID(2, 5), MissingDependency, 0)
	q.Add(eventWithID(1, 3), MissingDependency, 0)
	q.Add(eventWithID(1, 1), MissingDependency, 0)

	released := q.Drain(func(Event) bool { return true })
	require.Len(t, released, 3)
	assert.Equal(t, ids.NodeId(1), released[0].ID.Source)
	assert.Equal(t, uint64(1), released[0].ID.Sequence)
	assert.Equal(t, ids.NodeId(1), released[1].ID.Source)
	assert.Equal(t, uint64(3), released[1].ID.Sequence)
	assert.Equal(t, ids.NodeId(2), released[2].ID.Source)
	assert.Equal(t, 0, q.Len())
}

func TestQuarantineDrainLeavesUnreadyEntries(t *testing.T) {
	q := NewQuarantine()
	q.Add(eventWithID(1, 1), MissingDependency, 0)
	q.Add(eventWithID(1, 2), MissingDependency, 0)

	released := q.Drain(func(e Event) bool { return e.ID.Sequence == 1 })
	require.Len(t, released, 1)
	assert.Equal(t, 1, q.Len())
}
