// Package timeengine implements ELARA's dual-clock time model: a
// monotonic perceptual clock, an elastic state clock, a per-peer network
// model learned passively from traffic, and the reality window that
// classifies incoming events against the state clock.
package timeengine

import "time"

// minRate and maxRate bound the state clock's instantaneous rate, per
// spec §3 "rate... bounded ~[0.9, 1.1]".
const (
	minRate = 0.9
	maxRate = 1.1
)

// PerceptualClock is the monotonic, never-adjusted local clock (τp). It
// never decreases and is never touched by network input.
type PerceptualClock struct {
	base time.Duration
}

// NewPerceptualClock seeds a perceptual clock at the given monotonic base
// reading (the clock contract's "nanosecond-resolution duration since an
// arbitrary base").
func NewPerceptualClock(base time.Duration) *PerceptualClock {
	return &PerceptualClock{base: base}
}

// Now returns τp given the current monotonic reading.
func (c *PerceptualClock) Now(monotonic time.Duration) time.Duration {
	return monotonic - c.base
}

// StateClock is the elastic projection of network consensus time (τs):
// monotonic_elapsed*rate + offset, with rate bounded to [0.9, 1.1] and
// offset adjusted only by blended corrections.
type StateClock struct {
	base   time.Duration
	rate   float64
	offset time.Duration
}

// NewStateClock seeds a state clock at the given monotonic base with
// rate 1.0 and zero offset.
func NewStateClock(base time.Duration) *StateClock {
	return &StateClock{base: base, rate: 1.0}
}

// Now returns τs given the current monotonic reading.
func (c *StateClock) Now(monotonic time.Duration) time.Duration {
	elapsed := monotonic - c.base
	return time.Duration(float64(elapsed)*c.rate) + c.offset
}

// Rate reports the state clock's current rate factor.
func (c *StateClock) Rate() float64 { return c.rate }

// Offset reports the state clock's current offset.
func (c *StateClock) Offset() time.Duration { return c.offset }

// ApplyCorrection blends a correction c into the offset with weight w, per
// spec §4.3 "Non-destructive correction": offset += c*w, bounded per tick
// so the implied instantaneous rate stays within [minRate, maxRate]. τp is
// never touched by this.
func (c *StateClock) ApplyCorrection(correction time.Duration, weight float64, tickInterval time.Duration) {
	if weight < 0 {
		weight = 0
	} else if weight > 1 {
		weight = 1
	}
	delta := time.Duration(float64(correction) * weight)

	if tickInterval > 0 {
		maxDelta := time.Duration(float64(tickInterval) * (maxRate - 1.0))
		minDelta := time.Duration(float64(tickInterval) * (minRate - 1.0))
		if delta > maxDelta {
			delta = maxDelta
		} else if delta < minDelta {
			delta = minDelta
		}
	}
	c.offset += delta
}

// SetRate sets the state clock's rate factor, clamped to [0.9, 1.1].
func (c *StateClock) SetRate(rate float64) {
	if rate < minRate {
		rate = minRate
	} else if rate > maxRate {
		rate = maxRate
	}
	c.rate = rate
}
