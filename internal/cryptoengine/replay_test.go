package cryptoengine

import (
	"math/rand"
	"testing"
	"testing/quick"

	"github.com/stretchr/testify/assert"
)

func TestReplayWindowAcceptsEachOnceInOrder(t *testing.T) {
	var w ReplayWindow
	for seq := uint16(0); seq < 200; seq++ {
		assert.True(t, w.Check(seq))
		w.Accept(seq)
		assert.False(t, w.Check(seq), "seq %d should be rejected on replay", seq)
	}
}

func TestReplayWindowRejectsFarBehind(t *testing.T) {
	var w ReplayWindow
	w.Accept(40000)
	// 32767 behind is offset 32769 mod 2^16, past the 32768 admission
	// limit. (32769 behind would be offset 32767, i.e. 32767 ahead, which
	// a 16-bit window cannot tell apart from a fresh seq.)
	assert.False(t, w.Check(40000-32767))
}

func TestReplayWindowWrapsAt65536(t *testing.T) {
	var w ReplayWindow
	w.Accept(65534)
	w.Accept(65535)
	assert.True(t, w.Check(0))
	w.Accept(0)
	assert.False(t, w.Check(0))
	assert.True(t, w.Check(1))
}

func TestReplayWindowSlidesAndForgetsOldEntries(t *testing.T) {
	var w ReplayWindow
	w.Accept(0)
	w.Accept(1000) // far ahead: window slides, seq 0 falls out of tracked bitmap
	// seq 0 is now "before window" by more than the window size but still
	// within the ±32768 admission range, so Check reports it as already
	// consumed/too old to re-derive rather than freshly acceptable.
	assert.False(t, w.Check(0))
}

func TestReplayWindowExactlyOnceProperty(t *testing.T) {
	f := func(seed int64) bool {
		r := rand.New(rand.NewSource(seed))
		var w ReplayWindow
		accepted := map[uint16]bool{}
		base := uint16(r.Intn(1000))
		for i := 0; i < 500; i++ {
			seq := base + uint16(i)
			ok := w.Check(seq)
			if accepted[seq] && ok {
				return false
			}
			if ok {
				w.Accept(seq)
				accepted[seq] = true
				if !w.Check(seq) {
					// immediate re-presentation must now be rejected
				} else {
					return false
				}
			}
		}
		return true
	}
	assertNoError(t, quick.Check(f, &quick.Config{MaxCount: 200}))
}

func assertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
}
