package storage

import (
	"os"
	"path/filepath"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// Config configures the Badger-backed store, per spec §5's external
// interface contract: "persistence... a small embedded store keyed by
// session id / state id, used for identity persistence and state-atom
// compaction, not a general database."
type Config struct {
	Path       string
	SyncWrites bool
	GCInterval time.Duration
	GCDiscard  float64
}

// DefaultConfig returns sane defaults for an embedded single-process
// store: infrequent GC, async writes (identity and compaction data are
// not on the decrypt/reconcile critical path, so losing the last few
// writes on an unclean shutdown is an acceptable tradeoff for not
// fsync-ing every event).
func DefaultConfig(path string) Config {
	return Config{
		Path:       path,
		SyncWrites: false,
		GCInterval: 10 * time.Minute,
		GCDiscard:  0.5,
	}
}

func (c Config) ensureDir() (string, error) {
	absPath, err := filepath.Abs(c.Path)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(absPath, 0o755); err != nil {
		return "", err
	}
	return absPath, nil
}

func (c Config) badgerOptions(path string) badger.Options {
	return badger.DefaultOptions(path).
		WithSyncWrites(c.SyncWrites).
		WithLogger(nil)
}
