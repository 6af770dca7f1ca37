package runtime

import (
	"context"
	"crypto/rand"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/elara-net/elara/internal/config"
	"github.com/elara-net/elara/internal/cryptoengine"
	"github.com/elara-net/elara/internal/storage"
	"github.com/elara-net/elara/pkg/ids"
	"github.com/elara-net/elara/pkg/log"
)

var hostLogger = log.Logger("runtime.host")

// Host owns every session a process is party to, plus the identity and
// storage each session is built from. A process runs exactly one Host; a
// Host runs one or more Sessions, one per reality space the node has
// joined, per SPEC_FULL's multi-session supplement (spec.md itself scopes
// the protocol to a single session's mechanics).
type Host struct {
	mu       sync.Mutex
	identity *cryptoengine.Identity
	store    *storage.Store
	sessions map[ids.SessionId]*Session

	tickInterval time.Duration
	stopTick     context.CancelFunc
	tickDone     chan struct{}
}

// HostParams are the constructor-time dependencies fx assembles for a
// Host, per the reference stack's params-struct convention for
// multi-dependency constructors (node_lifecycle.go's NodeParams).
type HostParams struct {
	fx.In

	Identity *cryptoengine.Identity
	Store    *storage.Store
}

// NewHost constructs an empty Host over an already-resolved identity and
// storage handle. Use StartSession to join a reality space.
func NewHost(p HostParams) *Host {
	return &Host{
		identity:     p.Identity,
		store:        p.Store,
		sessions:     make(map[ids.SessionId]*Session),
		tickInterval: 16 * time.Millisecond, // matches timeengine.PredictionInterval; the 10ms correction loop runs at most once per tick
	}
}

// StartSession creates and registers a new Session under id, backed by
// the host's identity and a storage.Compactor scoped to the host's store.
func (h *Host) StartSession(id ids.SessionId, transport Transport, cfg config.SessionConfig) (*Session, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.sessions[id]; exists {
		return nil, ErrSessionExists
	}

	s := NewSession(id, h.identity, transport, cfg)
	if h.store != nil {
		s.SetCompactor(storage.NewCompactor(h.store))
	}
	h.sessions[id] = s
	hostLogger.Info("session started", "session", id, "correlation", uuid.NewString())
	return s, nil
}

// Session returns a registered session by id.
func (h *Host) Session(id ids.SessionId) (*Session, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.sessions[id]
	return s, ok
}

// RequireSession is Session's boundary-coded counterpart, for callers
// that want a spec §6 error-code on a miss instead of a bare bool, per
// spec.md §6's "session-not-found" boundary code.
func (h *Host) RequireSession(id ids.SessionId) (*Session, error) {
	s, ok := h.Session(id)
	if !ok {
		return nil, wrapError(ErrCodeSessionNotFound, ErrSessionUnknown)
	}
	return s, nil
}

// StopSession drops a session from the host. It does not close the
// host's shared store, since other sessions may still use it.
func (h *Host) StopSession(id ids.SessionId) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.sessions, id)
}

// runTicks drives every registered session's Tick at the host's tick
// interval until ctx is cancelled, per spec §5's tick(now) contract. Each
// call's "now" is a monotonic reading relative to process start, not
// wall-clock time, matching PerceptualClock/StateClock's contract.
func (h *Host) runTicks(ctx context.Context) {
	defer close(h.tickDone)

	ticker := time.NewTicker(h.tickInterval)
	defer ticker.Stop()

	start := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Since(start)
			h.mu.Lock()
			sessions := make([]*Session, 0, len(h.sessions))
			for _, s := range h.sessions {
				sessions = append(sessions, s)
			}
			h.mu.Unlock()
			for _, s := range sessions {
				s.Tick(ctx, now)
			}
		}
	}
}

// start begins the host's tick loop, for fx.Lifecycle's OnStart hook.
func (h *Host) start(ctx context.Context) error {
	tickCtx, cancel := context.WithCancel(context.Background())
	h.stopTick = cancel
	h.tickDone = make(chan struct{})
	go h.runTicks(tickCtx)
	return nil
}

// stop halts the tick loop and waits for it to exit, for fx.Lifecycle's
// OnStop hook.
func (h *Host) stop(ctx context.Context) error {
	if h.stopTick == nil {
		return nil
	}
	h.stopTick()
	select {
	case <-h.tickDone:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// provideIdentity loads the host's identity from store, generating and
// persisting a fresh one on first run, per spec §5's "identity survives
// process restarts without key renegotiation."
func provideIdentity(store *storage.Store) (*cryptoengine.Identity, error) {
	is := storage.NewIdentityStore(store)
	id, err := is.Load()
	if err == nil {
		return id, nil
	}
	if err != storage.ErrNotFound {
		return nil, fmt.Errorf("runtime: load identity: %w", err)
	}

	id, err = cryptoengine.GenerateIdentity(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("runtime: generate identity: %w", err)
	}
	if err := is.Save(id); err != nil {
		return nil, fmt.Errorf("runtime: persist identity: %w", err)
	}
	return id, nil
}

// provideStore opens the Badger store at dataDir. It is the fx module's
// only place a filesystem path enters the dependency graph.
func provideStore(dataDir string) (*storage.Store, error) {
	return storage.Open(storage.DefaultConfig(dataDir))
}

// Module builds the fx options graph for one Host: identity and storage
// resolution, Host construction, and the tick-loop lifecycle hook. It is
// grounded on the reference stack's fx.go module composition, narrowed
// from dep2p's dozens of conditionally-loaded core/discovery/realm
// modules down to the three components ELARA's single-session engine
// actually needs.
func Module(dataDir string) fx.Option {
	return fx.Module("elara",
		fx.Supply(dataDir),
		fx.Provide(
			provideStore,
			provideIdentity,
			NewHost,
		),
		fx.Invoke(func(lc fx.Lifecycle, h *Host) {
			lc.Append(fx.Hook{OnStart: h.start, OnStop: h.stop})
		}),
	)
}

// NewFxLogger adapts fx's event stream onto a zap logger at info level,
// per the reference stack's buildFxApp use of fx.WithLogger — fx's own
// startup/shutdown trace is noisy enough that it earns a dedicated sink
// rather than going through pkg/log's slog handler.
func NewFxLogger() fxevent.Logger {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	zl, err := cfg.Build()
	if err != nil {
		zl = zap.NewNop()
	}
	return &fxevent.ZapLogger{Logger: zl}
}
