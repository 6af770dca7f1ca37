package state

import "time"

// QuarantineReason names why an event was held back from the pipeline,
// per spec §4.4 stage 2/3.
type QuarantineReason int

const (
	MissingDependency QuarantineReason = iota
	QuarantinedTooFuture
)

type quarantinedEvent struct {
	event     Event
	reason    QuarantineReason
	enteredAt time.Duration
}

// Quarantine holds events whose causal or temporal prerequisites have not
// yet arrived, bounded by max_size and max_age, per spec §4.4/§5.
type Quarantine struct {
	MaxSize int
	MaxAge  time.Duration

	entries []quarantinedEvent
}

// NewQuarantine constructs a quarantine with the spec's suggested
// defaults (max_size ~1024, max_age ~30s).
func NewQuarantine() *Quarantine {
	return &Quarantine{MaxSize: 1024, MaxAge: 30 * time.Second}
}

// Add inserts an event into quarantine at time now. If the buffer is at
// MaxSize, the oldest entry (lowest enteredAt) is evicted first — the
// "lowest-priority pending entries are evicted" resource-exhaustion
// policy from spec §7, using age as the priority proxy since quarantine
// entries carry no independent priority field.
func (q *Quarantine) Add(e Event, reason QuarantineReason, now time.Duration) (evicted Event, didEvict bool) {
	if len(q.entries) >= q.MaxSize {
		oldestIdx := 0
		for i, existing := range q.entries {
			if existing.enteredAt < q.entries[oldestIdx].enteredAt {
				oldestIdx = i
			}
		}
		evicted = q.entries[oldestIdx].event
		didEvict = true
		q.entries = append(q.entries[:oldestIdx], q.entries[oldestIdx+1:]...)
	}
	q.entries = append(q.entries, quarantinedEvent{event: e, reason: reason, enteredAt: now})
	return evicted, didEvict
}

// ExpireOlderThan drops every entry whose age exceeds MaxAge as of now,
// returning the dropped events — per spec §7 "Causality pending... event
// quarantined, retried on tick; expires silently."
func (q *Quarantine) ExpireOlderThan(now time.Duration) []Event {
	var expired []Event
	kept := q.entries[:0]
	for _, entry := range q.entries {
		if now-entry.enteredAt > q.MaxAge {
			expired = append(expired, entry.event)
			continue
		}
		kept = append(kept, entry)
	}
	q.entries = kept
	return expired
}

// Drain removes and returns every entry for which ready reports true,
// in causal order (event id's (source, sequence) ascending) — per spec
// §4.4 "On each tick, events whose dependencies are now present or whose
// temporal class is now Current are released... Quarantine release
// preserves causal order by construction" (spec §5).
func (q *Quarantine) Drain(ready func(Event) bool) []Event {
	var released []Event
	kept := q.entries[:0]
	for _, entry := range q.entries {
		if ready(entry.event) {
			released = append(released, entry.event)
			continue
		}
		kept = append(kept, entry)
	}
	q.entries = kept
	sortEventsCausally(released)
	return released
}

func sortEventsCausally(events []Event) {
	for i := 1; i < len(events); i++ {
		for j := i; j > 0 && events[j].ID.Less(events[j-1].ID); j-- {
			events[j-1], events[j] = events[j], events[j-1]
		}
	}
}

// Len reports the current number of quarantined events.
func (q *Quarantine) Len() int { return len(q.entries) }
