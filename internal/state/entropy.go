package state

import "math"

// EntropyModel computes a divergence score between an atom's current
// value and an incoming merge result, used by stage 5 (divergence
// control). Spec §9 leaves the exact metric unspecified ("implementers
// should define a concrete metric... and treat it as a tunable"); this
// exposes the choice as an interface so a representation-profile layer
// can override it per atom.
type EntropyModel interface {
	Divergence(current, merged []byte) float64
}

// ByteEditDistanceModel scores divergence as a banded, capped
// normalized edit distance — O(n) rather than the full O(n*m) Levenshtein
// table, since this sits on the per-event critical path (spec §5: "delta
// merge must... complete in bounded time per call"). It is the default
// for byte-valued atoms (LastWriteWins, AppendOnly, Ephemeral).
type ByteEditDistanceModel struct {
	Band int // max positions either side of the diagonal to consider
}

// NewByteEditDistanceModel returns a model with a sensible default band.
func NewByteEditDistanceModel() ByteEditDistanceModel {
	return ByteEditDistanceModel{Band: 32}
}

// Divergence returns a banded Levenshtein distance between current and
// merged, normalized to [0, 1] by the longer input's length.
func (m ByteEditDistanceModel) Divergence(current, merged []byte) float64 {
	n, k := len(current), len(merged)
	maxLen := n
	if k > maxLen {
		maxLen = k
	}
	if maxLen == 0 {
		return 0
	}

	band := m.Band
	if band <= 0 {
		band = 32
	}

	const unreachable = 1 << 30
	prev := make([]int, k+1)
	curr := make([]int, k+1)
	for j := 0; j <= k; j++ {
		if j <= band {
			prev[j] = j
		} else {
			prev[j] = unreachable
		}
	}

	for i := 1; i <= n; i++ {
		lo := i - band
		if lo < 0 {
			lo = 0
		}
		hi := i + band
		if hi > k {
			hi = k
		}
		for j := range curr {
			curr[j] = unreachable
		}
		if lo == 0 {
			curr[0] = i
		}
		for j := lo + 1; j <= hi; j++ {
			cost := 1
			if current[i-1] == merged[j-1] {
				cost = 0
			}
			best := prev[j] + 1
			if curr[j-1]+1 < best {
				best = curr[j-1] + 1
			}
			if prev[j-1]+cost < best {
				best = prev[j-1] + cost
			}
			curr[j] = best
		}
		prev, curr = curr, prev
	}

	dist := prev[k]
	if dist >= unreachable {
		dist = maxLen // band too narrow to reach: treat as maximally divergent
	}
	return math.Min(1.0, float64(dist)/float64(maxLen))
}

// L2DistanceModel scores divergence for fixed-width numeric vectors
// (int64s packed little-endian), used by PNCounter and FrameBased atoms.
type L2DistanceModel struct{}

// Divergence decodes both byte slices as little-endian int64 vectors and
// returns their normalized Euclidean distance.
func (L2DistanceModel) Divergence(current, merged []byte) float64 {
	a := decodeInt64Vector(current)
	b := decodeInt64Vector(merged)
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	if n == 0 {
		return 0
	}

	var sumSq, norm float64
	for i := 0; i < n; i++ {
		var av, bv float64
		if i < len(a) {
			av = float64(a[i])
		}
		if i < len(b) {
			bv = float64(b[i])
		}
		diff := av - bv
		sumSq += diff * diff
		norm += math.Max(av*av, bv*bv)
	}
	if norm == 0 {
		return 0
	}
	return math.Min(1.0, math.Sqrt(sumSq/norm))
}

func decodeInt64Vector(buf []byte) []int64 {
	n := len(buf) / 8
	out := make([]int64, n)
	for i := 0; i < n; i++ {
		var v uint64
		for j := 0; j < 8; j++ {
			v |= uint64(buf[i*8+j]) << (8 * j)
		}
		out[i] = int64(v)
	}
	return out
}
