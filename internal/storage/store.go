// Package storage persists identity material and state-atom compaction
// overflow in a single embedded Badger database per session directory.
package storage

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/elara-net/elara/pkg/log"
)

var logger = log.Logger("storage")

// ErrClosed is returned by any operation against a closed Store.
var ErrClosed = errors.New("storage: closed")

// ErrNotFound is returned when a key has no value.
var ErrNotFound = errors.New("storage: not found")

// Store wraps a Badger database, adapted from the teacher's badger engine
// to the narrow Get/Put/Delete/ScanPrefix contract ELARA's identity and
// compaction layers need — no generic iterator/transaction abstraction,
// since those two callers never need cursor scans over arbitrary ranges.
type Store struct {
	db     *badger.DB
	closed atomic.Bool

	gcCtx    context.Context
	gcCancel context.CancelFunc
	gcWg     sync.WaitGroup

	gcInterval time.Duration
	gcDiscard  float64
}

// Open creates or opens a Badger database at cfg.Path and starts its
// background value-log GC loop, per the teacher's db.go startGC/runGC
// pattern.
func Open(cfg Config) (*Store, error) {
	path, err := cfg.ensureDir()
	if err != nil {
		return nil, err
	}

	db, err := badger.Open(cfg.badgerOptions(path))
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Store{
		db:         db,
		gcCtx:      ctx,
		gcCancel:   cancel,
		gcInterval: cfg.GCInterval,
		gcDiscard:  cfg.GCDiscard,
	}
	if s.gcInterval > 0 {
		s.startGC()
	}
	return s, nil
}

func (s *Store) startGC() {
	s.gcWg.Add(1)
	go func() {
		defer s.gcWg.Done()
		ticker := time.NewTicker(s.gcInterval)
		defer ticker.Stop()
		for {
			select {
			case <-s.gcCtx.Done():
				return
			case <-ticker.C:
				s.runGC()
			}
		}
	}()
}

func (s *Store) runGC() {
	if s.closed.Load() {
		return
	}
	for {
		if err := s.db.RunValueLogGC(s.gcDiscard); err != nil {
			break
		}
	}
}

// Get returns the value for key, or ErrNotFound.
func (s *Store) Get(key []byte) ([]byte, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return ErrNotFound
			}
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return value, nil
}

// Put writes key to value.
func (s *Store) Put(key, value []byte) error {
	if s.closed.Load() {
		return ErrClosed
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
}

// Delete removes key.
func (s *Store) Delete(key []byte) error {
	if s.closed.Load() {
		return ErrClosed
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
}

// ScanPrefix invokes fn for every key/value pair whose key starts with
// prefix, in key order. fn's value slice is only valid within the call.
func (s *Store) ScanPrefix(prefix []byte, fn func(key, value []byte) error) error {
	if s.closed.Load() {
		return ErrClosed
	}
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if err := fn(item.KeyCopy(nil), value); err != nil {
				return err
			}
		}
		return nil
	})
}

// Close stops the GC loop and closes the database.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.gcCancel()
	s.gcWg.Wait()
	if err := s.db.Close(); err != nil {
		logger.Error("close failed", "error", err)
		return err
	}
	return nil
}
