package state

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestByteEditDistanceModelIdenticalIsZero(t *testing.T) {
	m := NewByteEditDistanceModel()
	assert.Equal(t, 0.0, m.Divergence([]byte("hello"), []byte("hello")))
}

func TestByteEditDistanceModelCompletelyDifferent(t *testing.T) {
	m := NewByteEditDistanceModel()
	d := m.Divergence([]byte("aaaa"), []byte("bbbb"))
	assert.Equal(t, 1.0, d)
}

func TestByteEditDistanceModelBandedSmallEdit(t *testing.T) {
	m := NewByteEditDistanceModel()
	d := m.Divergence([]byte("hello world"), []byte("hello worlds"))
	assert.Greater(t, d, 0.0)
	assert.Less(t, d, 0.3)
}

func TestByteEditDistanceModelEmptyInputs(t *testing.T) {
	m := NewByteEditDistanceModel()
	assert.Equal(t, 0.0, m.Divergence(nil, nil))
}

func encodeInt64Vector(vs ...int64) []byte {
	buf := make([]byte, 8*len(vs))
	for i, v := range vs {
		binary.LittleEndian.PutUint64(buf[i*8:], uint64(v))
	}
	return buf
}

func TestL2DistanceModelIdenticalIsZero(t *testing.T) {
	m := L2DistanceModel{}
	v := encodeInt64Vector(1, 2, 3)
	assert.Equal(t, 0.0, m.Divergence(v, v))
}

func TestL2DistanceModelDifferingVectors(t *testing.T) {
	m := L2DistanceModel{}
	a := encodeInt64Vector(10, 0)
	b := encodeInt64Vector(0, 0)
	d := m.Divergence(a, b)
	assert.Greater(t, d, 0.0)
	assert.LessOrEqual(t, d, 1.0)
}

func TestL2DistanceModelBothEmpty(t *testing.T) {
	m := L2DistanceModel{}
	assert.Equal(t, 0.0, m.Divergence(nil, nil))
}
