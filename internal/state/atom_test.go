package state

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/elara-net/elara/pkg/ids"
)

func TestStateAtomHasAuthority(t *testing.T) {
	a := NewStateAtom(ids.NewStateId(1, 1), AtomCore, []ids.NodeId{1, 2}, DeltaLaw{Kind: LastWriteWins}, nil)
	assert.True(t, a.HasAuthority(1))
	assert.True(t, a.HasAuthority(2))
	assert.False(t, a.HasAuthority(3))
}

func TestStateAtomRecordEventEvictsOldest(t *testing.T) {
	a := NewStateAtom(ids.NewStateId(1, 1), AtomCore, nil, DeltaLaw{Kind: LastWriteWins}, nil)
	for i := uint64(0); i < maxEventHistory; i++ {
		_, evicted := a.RecordEvent(ids.EventId{Source: 1, Sequence: i})
		assert.False(t, evicted)
	}
	evicted, didEvict := a.RecordEvent(ids.EventId{Source: 1, Sequence: maxEventHistory})
	assert.True(t, didEvict)
	assert.Equal(t, uint64(0), evicted.Sequence)
	assert.Len(t, a.history, maxEventHistory)
}

func TestStateAtomSoftDeleteAndPurge(t *testing.T) {
	a := NewStateAtom(ids.NewStateId(1, 1), AtomCore, nil, DeltaLaw{Kind: LastWriteWins}, nil)
	a.SoftDelete(10 * time.Second)
	assert.Equal(t, AtomSoftDeleted, a.Status)
	assert.False(t, a.ReadyToPurge(20*time.Second))
	assert.True(t, a.ReadyToPurge(10*time.Second+a.PurgeGrace))
}
