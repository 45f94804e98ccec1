// Copyright (C) 2026 Harbor AI (oss@harborai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package session implements multi-turn parameter collection: the session
// state machine, its store, and the service that advances it.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/HarborAI/HarborFlow/services/action/datatypes"
)

// snapshotPrefix keys session snapshots in Badger.
const snapshotPrefix = "session/v1/"

var (
	liveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "harborflow",
		Subsystem: "session",
		Name:      "live_sessions",
		Help:      "Sessions currently held in memory.",
	})

	sweptSessions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "harborflow",
		Subsystem: "session",
		Name:      "swept_total",
		Help:      "Sessions expired by the background sweep.",
	})
)

// =============================================================================
// Store
// =============================================================================

// Store holds live collection sessions in memory with optional Badger
// snapshots so non-terminal sessions survive a restart.
//
// # Thread Safety
//
// All operations are safe for concurrent use. The store gives per-key
// atomicity only; serializing turns of one session is the service's job.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*datatypes.CollectSession

	db     *badger.DB
	logger *slog.Logger

	sweeping atomic.Bool
}

// NewStore creates a Store. db may be nil to disable snapshot persistence.
func NewStore(db *badger.DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		sessions: make(map[string]*datatypes.CollectSession),
		db:       db,
		logger:   logger,
	}
}

// Put inserts or replaces a session and snapshots it.
func (s *Store) Put(sess *datatypes.CollectSession) {
	s.mu.Lock()
	_, existed := s.sessions[sess.ID]
	s.sessions[sess.ID] = sess
	s.mu.Unlock()

	if !existed {
		liveSessions.Inc()
	}
	s.snapshot(sess)
}

// Get returns the session with the given id. Expired sessions are treated
// as absent.
func (s *Store) Get(id string, now time.Time) (*datatypes.CollectSession, bool) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok || sess.IsExpired(now) {
		return nil, false
	}
	return sess, true
}

// Delete removes a session from memory and from the snapshot store.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	_, existed := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()

	if !existed {
		return
	}
	liveSessions.Dec()
	if s.db != nil {
		err := s.db.Update(func(txn *badger.Txn) error {
			return txn.Delete([]byte(snapshotPrefix + id))
		})
		if err != nil {
			s.logger.Warn("Failed to delete session snapshot", "session_id", id, "error", err)
		}
	}
}

// Sweep marks every expired non-terminal session EXPIRED and evicts it.
// Safe to call from multiple goroutines; overlapping sweeps are skipped.
func (s *Store) Sweep(now time.Time) int {
	if !s.sweeping.CompareAndSwap(false, true) {
		return 0
	}
	defer s.sweeping.Store(false)

	s.mu.RLock()
	var expired []string
	for id, sess := range s.sessions {
		if sess.IsExpired(now) || sess.State.IsTerminal() {
			expired = append(expired, id)
		}
	}
	s.mu.RUnlock()

	for _, id := range expired {
		s.mu.Lock()
		sess, ok := s.sessions[id]
		if ok && !sess.State.IsTerminal() {
			sess.State = datatypes.SessionExpired
			sess.UpdatedAt = now
		}
		s.mu.Unlock()
		if ok {
			s.Delete(id)
			sweptSessions.Inc()
		}
	}
	return len(expired)
}

// StartSweeper runs Sweep on a ticker until ctx is cancelled.
func (s *Store) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				if n := s.Sweep(now); n > 0 {
					s.logger.Debug("Session sweep", "evicted", n)
				}
			}
		}
	}()
}

// =============================================================================
// Snapshot Persistence
// =============================================================================

// snapshot writes the session to Badger with a TTL matching its expiry.
func (s *Store) snapshot(sess *datatypes.CollectSession) {
	if s.db == nil {
		return
	}
	payload, err := json.Marshal(sess)
	if err != nil {
		s.logger.Warn("Failed to encode session snapshot", "session_id", sess.ID, "error", err)
		return
	}
	ttl := time.Until(sess.ExpiresAt)
	if ttl <= 0 {
		return
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(snapshotPrefix+sess.ID), payload).WithTTL(ttl)
		return txn.SetEntry(entry)
	})
	if err != nil {
		s.logger.Warn("Failed to write session snapshot", "session_id", sess.ID, "error", err)
	}
}

// Restore loads non-terminal snapshots back into memory after a restart.
func (s *Store) Restore(now time.Time) error {
	if s.db == nil {
		return nil
	}
	restored := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(snapshotPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var sess datatypes.CollectSession
				if err := json.Unmarshal(val, &sess); err != nil {
					key := string(it.Item().Key())
					s.logger.Warn("Skipping corrupt session snapshot",
						"key", strings.TrimPrefix(key, snapshotPrefix), "error", err)
					return nil
				}
				if sess.State.IsTerminal() || sess.IsExpired(now) {
					return nil
				}
				s.mu.Lock()
				s.sessions[sess.ID] = &sess
				s.mu.Unlock()
				liveSessions.Inc()
				restored++
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
		return err
	}
	if restored > 0 {
		s.logger.Info("Restored collection sessions from snapshots", "count", restored)
	}
	return nil
}
