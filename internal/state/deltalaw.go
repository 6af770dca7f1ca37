package state

import "time"

// DeltaLawKind names the legal merge semantics an atom can carry, per
// spec §3. Modeled as a tagged sum (spec §9: "avoid virtual-dispatch
// hierarchies; the closed set is small and fixed") rather than an
// interface hierarchy.
type DeltaLawKind int

const (
	LastWriteWins DeltaLawKind = iota
	AppendOnly
	SetCRDT
	PNCounter
	Ephemeral
	FrameBased
	Custom
)

func (k DeltaLawKind) String() string {
	switch k {
	case LastWriteWins:
		return "last-write-wins"
	case AppendOnly:
		return "append-only"
	case SetCRDT:
		return "set-crdt"
	case PNCounter:
		return "pn-counter"
	case Ephemeral:
		return "ephemeral"
	case FrameBased:
		return "frame-based"
	case Custom:
		return "custom"
	default:
		return "unknown"
	}
}

// DeltaLaw carries a DeltaLawKind plus the parameters each kind needs.
// Only the fields matching Kind are meaningful.
type DeltaLaw struct {
	Kind DeltaLawKind

	// SetCRDT
	AddWins bool

	// Ephemeral
	TTL time.Duration

	// FrameBased
	Interval time.Duration

	// Custom: a caller-supplied merge function, used only when Kind ==
	// Custom. This is the one escape hatch the closed tagged sum leaves
	// for profile-specific atoms the core does not anticipate.
	CustomMerge func(current, incoming []byte, correctionWeight float64) []byte
}
