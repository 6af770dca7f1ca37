package timeengine

import (
	"time"

	"github.com/elara-net/elara/pkg/wire"
)

// TemporalClass is the classification of an event's target time against
// the reality window, per spec §4.3.
type TemporalClass int

const (
	TooOld TemporalClass = iota
	Correctable
	CurrentOrPredicted
	TooFuture
)

func (c TemporalClass) String() string {
	switch c {
	case TooOld:
		return "too-old"
	case Correctable:
		return "correctable"
	case CurrentOrPredicted:
		return "current-predicted"
	case TooFuture:
		return "too-future"
	default:
		return "unknown"
	}
}

// HorizonBounds is one profile's [min, max] range for Hp and Hc, per spec
// §4.3's profile defaults table.
type HorizonBounds struct {
	HpMin, HpMax time.Duration
	HcMin, HcMax time.Duration
}

// DefaultHorizonBounds returns the spec §4.3 profile defaults. Profiles
// not named there (Raw, GroupSwarm variants beyond the table, Agent) fall
// back to the widest named bound, Textual, since they have no dedicated
// real-time perceptual requirement.
func DefaultHorizonBounds(profile wire.RepresentationProfile) HorizonBounds {
	switch profile {
	case wire.ProfileVoiceMinimal:
		return HorizonBounds{40 * time.Millisecond, 100 * time.Millisecond, 80 * time.Millisecond, 200 * time.Millisecond}
	case wire.ProfileVoiceRich, wire.ProfileVideoPerceptual:
		return HorizonBounds{50 * time.Millisecond, 150 * time.Millisecond, 100 * time.Millisecond, 500 * time.Millisecond}
	case wire.ProfileGroupSwarm, wire.ProfileLivestreamAsymmetric:
		return HorizonBounds{60 * time.Millisecond, 200 * time.Millisecond, 100 * time.Millisecond, 400 * time.Millisecond}
	default:
		return HorizonBounds{100 * time.Millisecond, 500 * time.Millisecond, 5 * time.Second, 30 * time.Second}
	}
}

// RealityWindow holds the current adaptive horizons for one profile. Hp
// and Hc are recomputed by Adapt each drift-estimation tick.
type RealityWindow struct {
	Bounds HorizonBounds
	Hp     time.Duration
	Hc     time.Duration
}

// NewRealityWindow seeds a reality window at its bounds' minimums — the
// least-adaptive, most-responsive starting point.
func NewRealityWindow(bounds HorizonBounds) *RealityWindow {
	return &RealityWindow{Bounds: bounds, Hp: bounds.HpMin, Hc: bounds.HcMin}
}

// HorizonTunables are the magic constants from the horizon-adaptation
// formula (spec §9: "retain them as defaults but expose them as
// tunables").
type HorizonTunables struct {
	JitterWeight float64
	LossWeight   float64
}

// DefaultHorizonTunables returns the spec's defaults: instability =
// (1 + 10*jitter) * (1 + 5*loss).
func DefaultHorizonTunables() HorizonTunables {
	return HorizonTunables{JitterWeight: 10, LossWeight: 5}
}

// Adapt recomputes Hp and Hc from the current jitter (seconds) and loss
// ([0,1]) samples, per spec §4.3's horizon-adaptation formula.
func (w *RealityWindow) Adapt(jitter, loss float64, tunables HorizonTunables) {
	instability := (1 + tunables.JitterWeight*jitter) * (1 + tunables.LossWeight*loss)
	x := instability - 1
	if x < 0 {
		x = 0
	} else if x > 1 {
		x = 1
	}

	w.Hp = w.Bounds.HpMin + time.Duration(x*float64(w.Bounds.HpMax-w.Bounds.HpMin))
	w.Hc = w.Bounds.HcMin + time.Duration(x*float64(w.Bounds.HcMax-w.Bounds.HcMin))
}

// Classify maps an event's target time t against τs and the current
// horizons, per spec §4.3's reality-window table.
func (w *RealityWindow) Classify(tau time.Duration, t time.Duration) TemporalClass {
	switch {
	case t < tau-w.Hc:
		return TooOld
	case t < tau:
		return Correctable
	case t <= tau+w.Hp:
		return CurrentOrPredicted
	default:
		return TooFuture
	}
}

// CorrectionWeight computes w = clamp(1 - age/Hc, 0, 1) for a Correctable
// event, per spec §4.3's "Non-destructive correction." age is τs - t and
// must be >= 0 for a Correctable classification to have been reached.
func (w *RealityWindow) CorrectionWeight(age time.Duration) float64 {
	if w.Hc <= 0 {
		return 0
	}
	weight := 1 - float64(age)/float64(w.Hc)
	if weight < 0 {
		return 0
	}
	if weight > 1 {
		return 1
	}
	return weight
}
