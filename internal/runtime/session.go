// Package runtime composes ELARA's wire, crypto, time and state engines
// into a running session, per spec.md §5: routing inbound frames through
// decrypt -> time-update -> reconcile, routing outbound events through
// sign -> classify -> encrypt -> frame, and driving the periodic ticks
// that keep the degradation ladder honest. It is grounded on the
// reference P2P stack's node_lifecycle.go start/stop discipline and
// fx.go composition, radically narrowed from a multi-protocol host down
// to the protocol engine's single-session model.
package runtime

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/elara-net/elara/internal/config"
	"github.com/elara-net/elara/internal/cryptoengine"
	"github.com/elara-net/elara/internal/state"
	"github.com/elara-net/elara/internal/storage"
	"github.com/elara-net/elara/internal/timeengine"
	"github.com/elara-net/elara/pkg/ids"
	"github.com/elara-net/elara/pkg/log"
	"github.com/elara-net/elara/pkg/wire"
)

var sessionLogger = log.Logger("runtime.session")

// EventCallback is invoked for every event the session accepts into its
// state field, inbound or locally emitted, per spec.md §5's "publishes
// presence and degradation level" application callback surface. It must
// not block and must not be called from inside the pipeline's own
// critical section (spec §5 "Coroutines / callbacks").
type EventCallback func(e state.Event, outcome state.ReconcileOutcome)

// DegradationCallback is invoked whenever the degradation ladder's level
// changes.
type DegradationCallback func(level state.DegradationLevel)

// peerState is everything the session keeps about one participant:
// its pairwise crypto channel and its signing public key (for authority
// and delegation-chain verification, which need a bare Ed25519 key, not
// a crypto session).
type peerState struct {
	crypto        *cryptoengine.Session
	signingPublic ed25519.PublicKey
	lastSeq       map[wire.PacketClass]uint16
	hasLastSeq    map[wire.PacketClass]bool
}

// Session is one reality space: a local identity, a set of peers, a
// shared state field and time engine, and the periodic loops that drive
// them. Per spec §5's scheduling model it is single-threaded and
// cooperative; the mutex below exists only to make "single-threaded" an
// enforced invariant rather than a convention an embedder could violate
// by calling from two goroutines.
type Session struct {
	mu sync.Mutex

	id        ids.SessionId
	local     *cryptoengine.Identity
	transport Transport
	cfg       config.SessionConfig
	compactor *storage.Compactor

	peers map[ids.NodeId]*peerState

	field       *state.StateField
	reconciler  *state.Reconciler
	rateLimiter *state.SourceRateLimiter
	degradation *state.DegradationController

	windows      map[wire.RepresentationProfile]*timeengine.RealityWindow
	networkModel *timeengine.NetworkModel
	perceptual   *timeengine.PerceptualClock
	stateClock   *timeengine.StateClock
	scheduler    *timeengine.Scheduler

	nextSeq       uint64
	lastHeartbeat time.Duration

	// monotonic is the most recent monotonic reading handed to Tick.
	// Inbound frame handling and event emission read the clocks at this
	// reading rather than sampling a live clock themselves: per spec §5's
	// scheduling model, inbound handling and ticks are serialized within
	// a session, so the last tick's projection is the session's current
	// notion of time between ticks.
	monotonic time.Duration

	onEvent       EventCallback
	onDegradation DegradationCallback
}

// NewSession constructs a session rooted at monotonic base, with an
// empty peer set and state field. Callers register peers with AddPeer
// and state atoms with CreateAtom before driving the session with
// OnDatagram/EmitEvent/Tick.
func NewSession(id ids.SessionId, local *cryptoengine.Identity, transport Transport, cfg config.SessionConfig) *Session {
	s := &Session{
		id:            id,
		local:         local,
		transport:     transport,
		cfg:           cfg,
		peers:         make(map[ids.NodeId]*peerState),
		windows:       make(map[wire.RepresentationProfile]*timeengine.RealityWindow),
		networkModel:  timeengine.NewNetworkModel(),
		perceptual:    timeengine.NewPerceptualClock(0),
		stateClock:    timeengine.NewStateClock(0),
		scheduler:     timeengine.NewScheduler(),
		degradation:   newDegradationController(cfg.DegradationRecoveryTicks),
		rateLimiter:   state.NewSourceRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst),
	}
	s.reconciler = &state.Reconciler{
		PublicKeyOf:     s.publicKeyOf,
		FanoutCap:       cfg.FanoutCap,
		DivergenceLimit: cfg.DivergenceLimit,
	}
	s.field = state.NewStateField(s.reconciler, s.rateLimiter)
	if cfg.QuarantineMaxSize > 0 {
		s.field.Quarantine().MaxSize = cfg.QuarantineMaxSize
	}
	if cfg.QuarantineMaxAge > 0 {
		s.field.Quarantine().MaxAge = cfg.QuarantineMaxAge
	}
	s.registerLoops()
	return s
}

func newDegradationController(recoveryTicks int) *state.DegradationController {
	c := state.NewDegradationController()
	if recoveryTicks > 0 {
		c.RecoveryTicks = recoveryTicks
	}
	return c
}

// SetCompactor wires a storage.Compactor for the compression loop's
// snapshot/delta-log persistence. Optional: a session with no compactor
// simply keeps everything in memory, bounded by StateAtom's in-memory
// ring.
func (s *Session) SetCompactor(c *storage.Compactor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.compactor = c
	s.field.SetEvictionSink(func(id ids.StateId, evicted ids.EventId) {
		if err := c.AppendEvicted(id, evicted); err != nil {
			sessionLogger.Warn("delta log append failed", "state", id, "err", err)
		}
	})
}

// OnEvent registers a callback invoked for every event the session's
// pipeline resolves (inbound or locally emitted).
func (s *Session) OnEvent(cb EventCallback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onEvent = cb
}

// OnDegradationChange registers a callback invoked whenever the
// degradation ladder's level changes.
func (s *Session) OnDegradationChange(cb DegradationCallback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onDegradation = cb
}

// AddPeer registers a session participant: local's pairwise crypto
// channel with them, and their signing public key for authority checks.
// signingPublic and kaPublic are the raw public keys learned at session
// setup (spec §4.1's out-of-scope handshake/signaling layer hands these
// to the runtime).
func (s *Session) AddPeer(signingPublic, kaPublic []byte) (ids.NodeId, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	crypto, err := cryptoengine.NewSession(s.local, signingPublic, kaPublic, s.id)
	if err != nil {
		return 0, wrapError(ErrCodeInvalidArgument, err)
	}
	peer := crypto.PeerID()
	s.peers[peer] = &peerState{
		crypto:        crypto,
		signingPublic: append(ed25519.PublicKey{}, signingPublic...),
		lastSeq:       make(map[wire.PacketClass]uint16),
		hasLastSeq:    make(map[wire.PacketClass]bool),
	}
	return peer, nil
}

func (s *Session) publicKeyOf(node ids.NodeId) (ed25519.PublicKey, bool) {
	if node == s.local.NodeId() {
		return s.local.SigningPublic, true
	}
	p, ok := s.peers[node]
	if !ok {
		return nil, false
	}
	return p.signingPublic, true
}

// windowFor returns the reality window for profile, creating one from
// configured or spec-default bounds on first reference.
func (s *Session) windowFor(profile wire.RepresentationProfile) *timeengine.RealityWindow {
	w, ok := s.windows[profile]
	if !ok {
		w = timeengine.NewRealityWindow(s.cfg.HorizonBoundsFor(profile))
		s.windows[profile] = w
	}
	return w
}

// CreateAtom registers a new state atom on the session's field.
func (s *Session) CreateAtom(id ids.StateId, atomType state.AtomType, authority []ids.NodeId, law state.DeltaLaw, entropy state.EntropyModel) (*state.StateAtom, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	atom, err := s.field.CreateAtom(id, atomType, authority, law, entropy)
	if err != nil {
		return nil, wrapError(ErrCodeInvalidArgument, err)
	}
	return atom, nil
}

// Atom returns the atom for id, if any.
func (s *Session) Atom(id ids.StateId) (*state.StateAtom, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.field.Atom(id)
}

// DeclareInterest scopes stage 6 re-emission of updates to state down to
// the nodes that have declared interest in it, per spec §4.4 stage 6. A
// node with no declarations for a given state still receives its updates
// (see state.StateField.fanoutTargets); level of state.InterestNone
// withdraws a standing declaration.
func (s *Session) DeclareInterest(node ids.NodeId, id ids.StateId, level state.InterestLevel, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.stateClock.Now(s.monotonic)
	s.field.DeclareInterest(node, id, level, now, ttl)
}

// sessionFanout adapts Session to state.FanoutSink: events stage 6
// releases are re-sent to every peer but the source, narrowed to allowed
// when the field's interest map has scoped the state to specific nodes.
// Events whose source is the local node are skipped here, since EmitEvent
// sends those to every peer itself.
type sessionFanout struct {
	s       *Session
	ctx     context.Context
	profile wire.RepresentationProfile
	class   wire.PacketClass
}

func (f sessionFanout) Enqueue(e state.Event, excludeSource ids.NodeId, allowed []ids.NodeId) {
	if e.Source == f.s.local.NodeId() {
		return
	}
	wants := func(ids.NodeId) bool { return true }
	if allowed != nil {
		set := make(map[ids.NodeId]bool, len(allowed))
		for _, n := range allowed {
			set[n] = true
		}
		wants = func(n ids.NodeId) bool { return set[n] }
	}

	for peer := range f.s.peers {
		if peer == excludeSource || !wants(peer) {
			continue
		}
		if err := f.s.sendEventTo(f.ctx, peer, f.class, f.profile, e); err != nil {
			sessionLogger.Warn("fanout send failed", "peer", peer, "err", err)
		}
	}
}

// EmitEvent signs e as local, applies it to the session's own field, then
// encrypts and sends it to every registered peer. e.Source and e.ID are
// filled in by EmitEvent; callers supply everything else.
func (s *Session) EmitEvent(ctx context.Context, class wire.PacketClass, profile wire.RepresentationProfile, e state.Event) (state.ReconcileOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	local := s.local.NodeId()
	e.Source = local
	e.ID = ids.EventId{Source: local, Sequence: s.nextSeq}
	s.nextSeq++
	e.AuthorityProof.Signature = s.local.Sign(e.CanonicalEncoding())

	tau := s.stateClock.Now(s.monotonic)
	window := s.windowFor(profile)

	outcome, err := s.applyLocked(ctx, e, time.Now(), window, tau, tau, class, profile)
	if err != nil {
		return outcome, err
	}

	for peer := range s.peers {
		if err := s.sendEventTo(ctx, peer, class, profile, e); err != nil {
			sessionLogger.Warn("emit send failed", "peer", peer, "err", err)
		}
	}
	return outcome, nil
}

// applyLocked runs e through the state field and fires onEvent. Caller
// must hold s.mu.
func (s *Session) applyLocked(ctx context.Context, e state.Event, arrival time.Time, window *timeengine.RealityWindow, tau, now time.Duration, class wire.PacketClass, profile wire.RepresentationProfile) (state.ReconcileOutcome, error) {
	sink := sessionFanout{s: s, ctx: ctx, profile: profile, class: class}
	outcome, err := s.field.ProcessEvent(e, arrival, window, tau, now, sink)
	if outcome == state.ReconcileAccepted {
		s.applyClockCorrection(e, tau, window)
	}
	if s.onEvent != nil {
		cb, ev, out := s.onEvent, e, outcome
		go cb(ev, out)
	}
	if err != nil {
		err = wrapError(classifyStateErr(err), err)
	}
	return outcome, err
}

// classifyStateErr maps a state-package sentinel to the boundary
// ErrorCode an embedder should see, per spec §6's "stable code while
// internals keep idiomatic Go error chains."
func classifyStateErr(err error) ErrorCode {
	switch {
	case errors.Is(err, state.ErrRateLimited), errors.Is(err, state.ErrSourceIsolated):
		return ErrCodeResourceExhausted
	case errors.Is(err, state.ErrUnauthorized):
		return ErrCodeUnauthorized
	case errors.Is(err, state.ErrUnknownState), errors.Is(err, state.ErrStateExists):
		return ErrCodeInvalidArgument
	default:
		return ErrCodeInternal
	}
}

// applyClockCorrection folds a single accepted event's temporal placement
// into τs, per spec §4.3: "an accepted Correctable event contributes a
// correction c to τs with weight w." Events classified CurrentOrPredicted
// or TooOld/TooFuture contribute no correction here — only the Correctable
// band does. This runs once per accepted event, independent of and in
// addition to correctionLoop's steady background nudge toward mean peer
// offset.
func (s *Session) applyClockCorrection(e state.Event, tau time.Duration, window *timeengine.RealityWindow) {
	if window.Classify(tau, e.TimeIntent.Timestamp) != timeengine.Correctable {
		return
	}
	age := tau - e.TimeIntent.Timestamp
	weight := window.CorrectionWeight(age)
	correction := e.TimeIntent.Timestamp - tau
	s.stateClock.ApplyCorrection(correction, weight, timeengine.CorrectionInterval)
}

func (s *Session) sendEventTo(ctx context.Context, peer ids.NodeId, class wire.PacketClass, profile wire.RepresentationProfile, e state.Event) error {
	if s.transport == nil {
		return wrapError(ErrCodeNotInitialized, ErrNoTransport)
	}
	p, ok := s.peers[peer]
	if !ok {
		return wrapError(ErrCodeInvalidArgument, ErrPeerUnknown)
	}
	payload := EncodeEvent(e)
	timeHint := int32(e.TimeIntent.Timestamp / time.Millisecond)
	var exts []wire.Extension
	if hint, ok := p.crypto.EpochHint(class); ok {
		exts = []wire.Extension{{Type: wire.ExtEpochSync, Value: wire.EncodeEpochSync(hint)}}
	}
	frame, err := p.crypto.Encrypt(class, profile, timeHint, exts, payload)
	if err != nil {
		return wrapError(ErrCodeInternal, fmt.Errorf("runtime: encrypt event: %w", err))
	}
	return s.transport.Send(ctx, peer, frame)
}

// OnDatagram decrypts and reconciles one inbound wire frame, per spec §5's
// "decrypt -> time-update -> reconcile" inbound path.
func (s *Session) OnDatagram(ctx context.Context, peer ids.NodeId, frame []byte) (state.ReconcileOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.peers[peer]
	if !ok {
		return state.ReconcileRejected, wrapError(ErrCodeInvalidArgument, ErrPeerUnknown)
	}

	header, _, plaintext, err := p.crypto.Decrypt(frame)
	if err != nil {
		return state.ReconcileRejected, wrapError(ErrCodeUnauthorized, fmt.Errorf("runtime: decrypt frame: %w", err))
	}

	s.sampleNetworkModel(p, header)

	e, err := DecodeEvent(plaintext)
	if err != nil {
		return state.ReconcileRejected, wrapError(ErrCodeInvalidArgument, err)
	}

	tau := s.stateClock.Now(s.monotonic)
	window := s.windowFor(header.Profile)

	return s.applyLocked(ctx, e, time.Now(), window, tau, tau, header.Class, header.Profile)
}

// sampleNetworkModel folds an accepted frame's header into the peer's
// passively-learned network model, per spec §4.3: time_hint carries the
// sender's τs at send time (milliseconds), so sample = local τs -
// remote τs. Loss is inferred from a gap in the per-class wire sequence.
func (s *Session) sampleNetworkModel(p *peerState, header wire.Header) {
	remoteTau := time.Duration(header.TimeHint) * time.Millisecond
	localTau := s.stateClock.Now(s.monotonic)

	model := s.networkModel.Peer(p.crypto.PeerID())
	model.Sample(localTau - remoteTau)
	s.networkModel.RecordLatency(localTau - remoteTau)

	last, had := p.lastSeq[header.Class], p.hasLastSeq[header.Class]
	if had {
		gap := int(header.Seq) - int(last) - 1
		if gap < 0 {
			gap += 1 << 16
		}
		for i := 0; i < gap; i++ {
			s.networkModel.RecordLoss(true)
		}
		s.networkModel.RecordLoss(false) // this frame itself arrived
	}
	p.lastSeq[header.Class] = header.Seq
	p.hasLastSeq[header.Class] = true
}

// registerLoops wires the four periodic loops spec §4.3 names onto the
// session's scheduler, at the spec's default intervals.
func (s *Session) registerLoops() {
	s.scheduler.Register("drift-estimation", timeengine.DriftEstimationInterval, s.driftEstimationLoop)
	s.scheduler.Register("prediction", timeengine.PredictionInterval, s.predictionLoop)
	s.scheduler.Register("correction", timeengine.CorrectionInterval, s.correctionLoop)
	s.scheduler.Register("compression", timeengine.CompressionInterval, s.compressionLoop)
}

// driftEstimationLoop recomputes every active profile's reality-window
// horizons from the network model's current jitter/loss estimate, and
// folds a derived stability sample into the network model, per spec
// §4.3's horizon-adaptation formula.
func (s *Session) driftEstimationLoop(now time.Duration) {
	jitter := s.networkModel.NormalizedJitter()
	loss := s.networkModel.Global.LossRate
	for _, w := range s.windows {
		w.Adapt(jitter, loss, s.cfg.HorizonTunables)
	}

	instability := (1 + s.cfg.HorizonTunables.JitterWeight*jitter) * (1 + s.cfg.HorizonTunables.LossWeight*loss)
	stability := clamp01(2 - instability)
	s.networkModel.RecordStability(stability)
}

// predictionLoop tracks the state clock's rate to the mean skew observed
// across connected peers, so "current/predicted" classification (spec
// §4.3's reality-window table) stays centered on group consensus rather
// than drifting with any single peer.
func (s *Session) predictionLoop(now time.Duration) {
	if len(s.peers) == 0 {
		return
	}
	var totalSkew float64
	for _, p := range s.peers {
		totalSkew += s.networkModel.Peer(p.crypto.PeerID()).Skew
	}
	s.stateClock.SetRate(1 + totalSkew/float64(len(s.peers)))
}

// correctionLoop applies a steady background nudge toward the mean
// observed peer offset, independent of the per-event correction already
// applied inline for accepted Correctable events (applyClockCorrection):
// this keeps τs tracking consensus time even during quiet periods with no
// new events to correct against.
func (s *Session) correctionLoop(now time.Duration) {
	if len(s.peers) == 0 {
		return
	}
	var totalOffset time.Duration
	for _, p := range s.peers {
		totalOffset += s.networkModel.Peer(p.crypto.PeerID()).Offset
	}
	avgOffset := totalOffset / time.Duration(len(s.peers))
	s.stateClock.ApplyCorrection(avgOffset, 0.1, timeengine.CorrectionInterval)
}

// compressionLoop prunes expired Ephemeral atoms and, when a Compactor is
// wired, persists a full snapshot of every atom's value — spec §4.4 stage
// 4's "expired entries pruned by compression loop" and SPEC_FULL's
// state-atom compaction policy. It does not touch an atom's in-memory
// event history, which stays bounded by StateAtom.RecordEvent's eviction.
func (s *Session) compressionLoop(now time.Duration) {
	s.field.Range(func(id ids.StateId, atom *state.StateAtom) bool {
		if atom.Expired(now) {
			atom.Value = nil
		}
		if s.compactor != nil {
			if err := s.compactor.SaveSnapshot(id, atom.Value); err != nil {
				sessionLogger.Warn("snapshot failed", "state", id, "err", err)
			}
		}
		return true
	})
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Tick advances the session by one external clock reading: it runs every
// due periodic loop, drains the quarantine buffer, recomputes the
// degradation ladder, and — at L5 — emits an identity-only heartbeat to
// every peer, per spec §5's "tick(now): invoke time loops, drain
// quarantine, recompute degradation, emit periodic identity heartbeats at
// L5."
func (s *Session) Tick(ctx context.Context, now time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.monotonic = now
	s.scheduler.Tick(now)

	tau := s.stateClock.Now(now)
	window := s.windowFor(wire.ProfileRaw)
	sink := sessionFanout{s: s, ctx: ctx, profile: wire.ProfileRaw, class: wire.ClassCore}
	s.field.Tick(window, tau, tau, sink)

	sample := s.degradationSample()
	level := s.degradation.Tick(sample)
	if s.onDegradation != nil {
		cb := s.onDegradation
		go cb(level)
	}

	if level == state.L5 && now-s.lastHeartbeat >= s.cfg.HeartbeatInterval {
		s.lastHeartbeat = now
		s.emitHeartbeatLocked(ctx)
	}
}

// degradationSample reads the current instability, divergence and
// compression-pressure inputs the level controller samples, per spec
// §4.4. Divergence is flagged when any atom in the field carries
// NeedsResolution; compression pressure approximates as the fraction of
// the quarantine buffer currently occupied.
func (s *Session) degradationSample() state.DegradationSample {
	jitter := s.networkModel.NormalizedJitter()
	loss := s.networkModel.Global.LossRate
	instability := (1 + s.cfg.HorizonTunables.JitterWeight*jitter) * (1 + s.cfg.HorizonTunables.LossWeight*loss)

	divergence := false
	s.field.Range(func(_ ids.StateId, atom *state.StateAtom) bool {
		if atom.NeedsResolution {
			divergence = true
			return false
		}
		return true
	})

	pressure := 0.0
	if s.cfg.QuarantineMaxSize > 0 {
		pressure = float64(s.field.Quarantine().Len()) / float64(s.cfg.QuarantineMaxSize)
	}

	return state.DegradationSample{
		Instability:         instability,
		DivergenceFlag:      divergence,
		CompressionPressure: pressure,
	}
}

// emitHeartbeatLocked sends an empty, signed keep-alive event to every
// peer so identity and causal position survive an L5 degradation without
// any real payload, per spec §4.4's degradation ladder "L5 (identity
// heartbeat)" floor. Caller must hold s.mu.
func (s *Session) emitHeartbeatLocked(ctx context.Context) {
	local := s.local.NodeId()
	for peer, p := range s.peers {
		_ = p
		e := state.Event{
			ID:         ids.EventId{Source: local, Sequence: s.nextSeq},
			EventType:  state.EventMutate,
			Source:     local,
			VersionRef: state.VersionVector{},
			Mutation:   state.Mutation{Kind: state.MutationSet},
		}
		s.nextSeq++
		e.AuthorityProof.Signature = s.local.Sign(e.CanonicalEncoding())
		if err := s.sendEventTo(ctx, peer, wire.ClassCore, wire.ProfileRaw, e); err != nil {
			sessionLogger.Warn("heartbeat send failed", "peer", peer, "err", err)
		}
	}
}

// Identity returns the session's local identity.
func (s *Session) Identity() *cryptoengine.Identity { return s.local }

// ID returns the session's SessionId.
func (s *Session) ID() ids.SessionId { return s.id }

// DegradationLevel reports the session's current degradation level.
func (s *Session) DegradationLevel() state.DegradationLevel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.degradation.Level
}
