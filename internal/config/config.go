// Package config collects every tunable default spec.md names — horizon
// bounds, quarantine limits, rate-limiter budgets, degradation recovery
// ticks, the fanout cap and divergence threshold — behind a single
// SessionConfig, built with the functional-options pattern the reference
// P2P stack uses for its own node options (options.go/presets.go).
package config

import (
	"time"

	"github.com/elara-net/elara/internal/timeengine"
	"github.com/elara-net/elara/pkg/wire"
)

// SessionConfig holds every constructor-time tunable a runtime.Session
// needs. Every field has a spec-derived default; embedders override only
// what they need via Option.
type SessionConfig struct {
	// HorizonBounds maps a representation profile to its [Hp, Hc] bounds.
	// Profiles absent from the map fall back to
	// timeengine.DefaultHorizonBounds at session construction time.
	HorizonBounds map[wire.RepresentationProfile]timeengine.HorizonBounds

	// HorizonTunables are the jitter/loss weights in the horizon
	// adaptation formula, spec §9's "retain them as defaults but expose
	// them as tunables."
	HorizonTunables timeengine.HorizonTunables

	// QuarantineMaxSize and QuarantineMaxAge bound the quarantine buffer,
	// spec §4.4/§7.
	QuarantineMaxSize int
	QuarantineMaxAge  time.Duration

	// RateLimitRPS and RateLimitBurst seed the per-source token bucket,
	// spec §4.4 "Byzantine containment."
	RateLimitRPS   float64
	RateLimitBurst int

	// DegradationRecoveryTicks is N in spec §4.4's "recovery requires
	// sustained stability for >= N ticks."
	DegradationRecoveryTicks int

	// FanoutCap bounds stage 6's swarm-diffusion re-emission per event.
	FanoutCap int

	// DivergenceLimit is stage 5's entropy threshold before a
	// state-type-specific simplification policy kicks in.
	DivergenceLimit float64

	// HeartbeatInterval is how often an L5-degraded session emits an
	// identity-only heartbeat, spec §8 S6.
	HeartbeatInterval time.Duration
}

// Default returns spec.md's suggested defaults.
func Default() SessionConfig {
	return SessionConfig{
		HorizonBounds:            make(map[wire.RepresentationProfile]timeengine.HorizonBounds),
		HorizonTunables:          timeengine.DefaultHorizonTunables(),
		QuarantineMaxSize:        1024,
		QuarantineMaxAge:         30 * time.Second,
		RateLimitRPS:             200,
		RateLimitBurst:           400,
		DegradationRecoveryTicks: 10,
		FanoutCap:                32,
		DivergenceLimit:          0.5,
		HeartbeatInterval:        2 * time.Second,
	}
}

// Option mutates a SessionConfig under construction.
type Option func(*SessionConfig)

// New builds a SessionConfig from Default with opts applied in order.
func New(opts ...Option) SessionConfig {
	cfg := Default()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// WithHorizonBounds overrides the [Hp, Hc] bounds for a single profile.
func WithHorizonBounds(profile wire.RepresentationProfile, bounds timeengine.HorizonBounds) Option {
	return func(c *SessionConfig) {
		if c.HorizonBounds == nil {
			c.HorizonBounds = make(map[wire.RepresentationProfile]timeengine.HorizonBounds)
		}
		c.HorizonBounds[profile] = bounds
	}
}

// WithHorizonTunables overrides the jitter/loss weights in the horizon
// adaptation formula.
func WithHorizonTunables(t timeengine.HorizonTunables) Option {
	return func(c *SessionConfig) { c.HorizonTunables = t }
}

// WithQuarantineLimits overrides the quarantine buffer's size and age
// bounds.
func WithQuarantineLimits(maxSize int, maxAge time.Duration) Option {
	return func(c *SessionConfig) {
		c.QuarantineMaxSize = maxSize
		c.QuarantineMaxAge = maxAge
	}
}

// WithRateLimit overrides the per-source token bucket's rate and burst.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *SessionConfig) {
		c.RateLimitRPS = rps
		c.RateLimitBurst = burst
	}
}

// WithDegradationRecoveryTicks overrides N, the consecutive stable ticks
// required before the degradation ladder steps down one level.
func WithDegradationRecoveryTicks(n int) Option {
	return func(c *SessionConfig) { c.DegradationRecoveryTicks = n }
}

// WithFanoutCap overrides stage 6's per-event re-emission cap.
func WithFanoutCap(cap int) Option {
	return func(c *SessionConfig) { c.FanoutCap = cap }
}

// WithDivergenceLimit overrides stage 5's entropy threshold.
func WithDivergenceLimit(limit float64) Option {
	return func(c *SessionConfig) { c.DivergenceLimit = limit }
}

// WithHeartbeatInterval overrides how often an L5 session emits an
// identity heartbeat.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(c *SessionConfig) { c.HeartbeatInterval = d }
}

// HorizonBoundsFor resolves a profile's configured bounds, falling back
// to timeengine's spec-table defaults when the profile has no override.
func (c SessionConfig) HorizonBoundsFor(profile wire.RepresentationProfile) timeengine.HorizonBounds {
	if b, ok := c.HorizonBounds[profile]; ok {
		return b
	}
	return timeengine.DefaultHorizonBounds(profile)
}
