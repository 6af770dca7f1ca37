package state

import "errors"

var (
	// ErrRateLimited is returned when a source has exceeded its admitted
	// event rate, per spec §4.4's Byzantine containment note: "excess
	// traffic from a single source is rate-limited, not specially
	// detected."
	ErrRateLimited = errors.New("state: source rate limited")

	// ErrSourceIsolated is returned once a source has been placed in
	// temporary isolation after sustained rate-limit violations.
	ErrSourceIsolated = errors.New("state: source temporarily isolated")

	// ErrUnauthorized is returned when an event's source is neither a
	// direct authority-set member nor covered by a valid delegation chain.
	ErrUnauthorized = errors.New("state: source lacks authority over target state")

	// ErrUnknownState is returned when an event targets a state id the
	// field has no atom for, and the event is not itself a StateCreate.
	ErrUnknownState = errors.New("state: unknown target state")

	// ErrStateExists is returned when a StateCreate event targets an id
	// that already has a live atom.
	ErrStateExists = errors.New("state: target state already exists")
)
