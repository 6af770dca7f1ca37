package state

import (
	"time"

	"github.com/elara-net/elara/pkg/ids"
)

// InterestLevel names how strongly a node cares about updates to a given
// state, per spec §4.4 stage 6's "update interest/heat maps." Grounded on
// the original implementation's interest model
// (elara-diffusion/interest.rs's InterestLevel), trimmed to the ordered
// levels themselves since the original's heat concept is just "how many
// nodes, at what level" over this same map rather than a separate
// structure.
type InterestLevel int

const (
	InterestNone InterestLevel = iota
	InterestLow
	InterestMedium
	InterestHigh
	InterestCritical
)

type interestKey struct {
	state ids.StateId
	node  ids.NodeId
}

type interestEntry struct {
	level     InterestLevel
	expiresAt time.Duration // zero means permanent
}

// InterestMap tracks which nodes want updates to which states and at what
// level, per spec §4.4 stage 6, grounded on elara-diffusion/interest.rs's
// InterestMap (state -> node -> level). A state with no current
// declaration falls back to the engine's pre-interest behavior of
// fanning out to every peer: interest only narrows delivery once a node
// has actually scoped its own attention, rather than requiring every
// caller to opt every peer in before anything is ever delivered.
type InterestMap struct {
	entries map[interestKey]interestEntry
}

// NewInterestMap constructs an empty interest map.
func NewInterestMap() *InterestMap {
	return &InterestMap{entries: make(map[interestKey]interestEntry)}
}

// Declare records node's interest in state at level, expiring at now+ttl
// (ttl of zero never expires). A level of InterestNone removes any
// standing declaration, mirroring the original's "register with None
// unregisters."
func (m *InterestMap) Declare(node ids.NodeId, state ids.StateId, level InterestLevel, now, ttl time.Duration) {
	key := interestKey{state: state, node: node}
	if level == InterestNone {
		delete(m.entries, key)
		return
	}
	var expiresAt time.Duration
	if ttl > 0 {
		expiresAt = now + ttl
	}
	m.entries[key] = interestEntry{level: level, expiresAt: expiresAt}
}

// Declared reports whether any node currently holds a declaration for
// state (withdrawn declarations are gone; expired ones still count until
// withdrawn) — used to distinguish "nobody has opted in yet, broadcast" from "someone
// has opted in, so filter to declared interest."
func (m *InterestMap) Declared(state ids.StateId) bool {
	for k := range m.entries {
		if k.state == state {
			return true
		}
	}
	return false
}

// InterestedNodes returns every node with a live, unexpired, above-None
// declaration for state as of now.
func (m *InterestMap) InterestedNodes(state ids.StateId, now time.Duration) []ids.NodeId {
	var nodes []ids.NodeId
	for k, e := range m.entries {
		if k.state != state {
			continue
		}
		if e.expiresAt != 0 && now >= e.expiresAt {
			continue
		}
		nodes = append(nodes, k.node)
	}
	return nodes
}

// RemoveNode drops every declaration node has made, across every state,
// per the original's "remove a node entirely (they disconnected)."
func (m *InterestMap) RemoveNode(node ids.NodeId) {
	for k := range m.entries {
		if k.node == node {
			delete(m.entries, k)
		}
	}
}
