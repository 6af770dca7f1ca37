package timeengine

import (
	"time"

	"github.com/elara-net/elara/pkg/ids"
)

// offsetAlpha and skewAlpha are the EMA smoothing factors from spec §4.3:
// "updated by exponential moving averages with α ≈ 0.1" for offset and
// jitter, and a slower "α ≈ 0.05" for skew once enough samples exist.
const (
	offsetAlpha        = 0.1
	skewAlpha          = 0.05
	skewMinSampleCount = 10
)

// PeerModel is one peer's passively-learned network characteristics:
// offset, skew, jitter envelope and sample count, per spec §4.3.
type PeerModel struct {
	Offset         time.Duration
	Skew           float64
	JitterEnvelope time.Duration
	SampleCount    uint64

	lastOffset time.Duration
	hasLast    bool
}

// Sample folds one observation into the peer model: sample = local_time -
// remote_state_time, as reported on an accepted frame.
func (p *PeerModel) Sample(sample time.Duration) {
	p.SampleCount++

	if p.SampleCount == 1 {
		p.Offset = sample
		p.JitterEnvelope = 0
		p.lastOffset = sample
		p.hasLast = true
		return
	}

	diff := sample - p.Offset
	p.Offset += time.Duration(float64(diff) * offsetAlpha)

	absDev := sample - p.Offset
	if absDev < 0 {
		absDev = -absDev
	}
	jitterDiff := absDev - p.JitterEnvelope
	p.JitterEnvelope += time.Duration(float64(jitterDiff) * offsetAlpha)

	if p.SampleCount >= skewMinSampleCount && p.hasLast {
		trend := float64(p.Offset - p.lastOffset)
		p.Skew += (trend - p.Skew) * skewAlpha
	}
	p.lastOffset = p.Offset
	p.hasLast = true
}

// GlobalAggregates holds the network-wide summary stats from spec §4.3:
// latency mean, jitter envelope, reorder depth, loss rate, and a [0,1]
// stability score.
type GlobalAggregates struct {
	LatencyMean    time.Duration
	JitterEnvelope time.Duration
	ReorderDepth   float64
	LossRate       float64
	Stability      float64
}

// NetworkModel owns the global aggregates and the per-peer models for one
// session. It is session-local, per spec §5's "no shared mutable session
// state across threads."
type NetworkModel struct {
	Global GlobalAggregates
	peers  map[ids.NodeId]*PeerModel
}

// NewNetworkModel constructs an empty network model.
func NewNetworkModel() *NetworkModel {
	return &NetworkModel{peers: make(map[ids.NodeId]*PeerModel)}
}

// Peer returns the model for a peer, creating one on first reference.
// Per-peer memory is O(1), per spec §5 "Memory bounds."
func (m *NetworkModel) Peer(peer ids.NodeId) *PeerModel {
	p, ok := m.peers[peer]
	if !ok {
		p = &PeerModel{}
		m.peers[peer] = p
	}
	return p
}

// RecordLoss folds a loss observation into the global loss rate via the
// same EMA family; PeerModel keeps no per-peer loss rate.
func (m *NetworkModel) RecordLoss(lost bool) {
	sample := 0.0
	if lost {
		sample = 1.0
	}
	m.Global.LossRate += (sample - m.Global.LossRate) * offsetAlpha
}

// RecordLatency folds a one-way latency sample into the global mean and
// jitter envelope.
func (m *NetworkModel) RecordLatency(sample time.Duration) {
	diff := sample - m.Global.LatencyMean
	m.Global.LatencyMean += time.Duration(float64(diff) * offsetAlpha)

	absDev := sample - m.Global.LatencyMean
	if absDev < 0 {
		absDev = -absDev
	}
	jitterDiff := absDev - m.Global.JitterEnvelope
	m.Global.JitterEnvelope += time.Duration(float64(jitterDiff) * offsetAlpha)
}

// RecordStability folds a per-tick stability sample (1.0 = fully stable)
// into the global stability score.
func (m *NetworkModel) RecordStability(sample float64) {
	m.Global.Stability += (sample - m.Global.Stability) * offsetAlpha
}

// NormalizedJitter reports the global jitter envelope as a fraction of one
// second, the unit the horizon-adaptation formula (§4.3) expects.
func (m *NetworkModel) NormalizedJitter() float64 {
	return m.Global.JitterEnvelope.Seconds()
}
