// Copyright (C) 2026 Harbor AI (oss@harborai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/HarborAI/HarborFlow/services/action/datatypes"
)

// actionPrefix keys catalog entries: action/v1/<id>.
const actionPrefix = "action/v1/"

// BadgerStore is the embedded ActionStore over a Badger keyspace. Values
// are JSON; secondary lookups (name, category, tag) scan the prefix, as the
// catalog is small enough that indexes are not worth their upkeep.
//
// # Thread Safety
//
// Safe for concurrent use; Badger transactions provide isolation.
type BadgerStore struct {
	db     *badger.DB
	logger *slog.Logger
}

// NewBadgerStore creates a BadgerStore over an open database.
func NewBadgerStore(db *badger.DB, logger *slog.Logger) *BadgerStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &BadgerStore{db: db, logger: logger}
}

func actionKey(id string) []byte { return []byte(actionPrefix + id) }

// FindByID returns the action with the given id, or (nil, nil).
func (s *BadgerStore) FindByID(ctx context.Context, id string) (*datatypes.ActionDefinition, error) {
	var action *datatypes.ActionDefinition
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(actionKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			action = &datatypes.ActionDefinition{}
			return json.Unmarshal(val, action)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading action %s: %w", id, err)
	}
	return action, nil
}

// FindByName returns the first action whose name matches case-insensitively.
func (s *BadgerStore) FindByName(ctx context.Context, name string) (*datatypes.ActionDefinition, error) {
	var found *datatypes.ActionDefinition
	err := s.scan(func(a *datatypes.ActionDefinition) bool {
		if strings.EqualFold(a.Name, name) {
			found = a
			return false
		}
		return true
	})
	return found, err
}

// FindAll returns every catalog entry.
func (s *BadgerStore) FindAll(ctx context.Context) ([]*datatypes.ActionDefinition, error) {
	return s.filter(func(a *datatypes.ActionDefinition) bool { return true })
}

// FindByCategory returns the actions in a category (case-insensitive).
func (s *BadgerStore) FindByCategory(ctx context.Context, category string) ([]*datatypes.ActionDefinition, error) {
	return s.filter(func(a *datatypes.ActionDefinition) bool {
		return strings.EqualFold(a.Category, category)
	})
}

// FindByTag returns the actions carrying a tag (case-insensitive).
func (s *BadgerStore) FindByTag(ctx context.Context, tag string) ([]*datatypes.ActionDefinition, error) {
	return s.filter(func(a *datatypes.ActionDefinition) bool {
		for _, t := range a.Tags {
			if strings.EqualFold(t, tag) {
				return true
			}
		}
		return false
	})
}

// ListEnabled returns the enabled actions, the matcher's candidate set.
func (s *BadgerStore) ListEnabled(ctx context.Context) ([]*datatypes.ActionDefinition, error) {
	return s.filter(func(a *datatypes.ActionDefinition) bool { return a.Enabled })
}

// Save inserts or replaces one catalog entry.
func (s *BadgerStore) Save(ctx context.Context, action *datatypes.ActionDefinition) error {
	if action.ID == "" {
		return datatypes.NewEngineError(datatypes.ErrCodeInvalidPlan, "action has no id", false)
	}
	payload, err := json.Marshal(action)
	if err != nil {
		return fmt.Errorf("encoding action %s: %w", action.ID, err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(actionKey(action.ID), payload)
	})
}

// Delete removes one catalog entry. Deleting an absent id is a no-op.
func (s *BadgerStore) Delete(ctx context.Context, id string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(actionKey(id))
	})
}

// Count returns the number of catalog entries.
func (s *BadgerStore) Count(ctx context.Context) (int, error) {
	n := 0
	err := s.scan(func(a *datatypes.ActionDefinition) bool {
		n++
		return true
	})
	return n, err
}

// Categories returns the distinct categories, sorted.
func (s *BadgerStore) Categories(ctx context.Context) ([]string, error) {
	return s.distinct(func(a *datatypes.ActionDefinition) []string {
		if a.Category == "" {
			return nil
		}
		return []string{a.Category}
	})
}

// Tags returns the distinct tags, sorted.
func (s *BadgerStore) Tags(ctx context.Context) ([]string, error) {
	return s.distinct(func(a *datatypes.ActionDefinition) []string { return a.Tags })
}

// =============================================================================
// Scan Helpers
// =============================================================================

// scan walks every entry; visit returning false stops the walk. Corrupt
// values are logged and skipped rather than failing the scan.
func (s *BadgerStore) scan(visit func(*datatypes.ActionDefinition) bool) error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(actionPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			stop := false
			err := it.Item().Value(func(val []byte) error {
				var a datatypes.ActionDefinition
				if err := json.Unmarshal(val, &a); err != nil {
					s.logger.Warn("Skipping corrupt catalog entry",
						"key", string(it.Item().Key()), "error", err)
					return nil
				}
				if !visit(&a) {
					stop = true
				}
				return nil
			})
			if err != nil {
				return err
			}
			if stop {
				return nil
			}
		}
		return nil
	})
}

func (s *BadgerStore) filter(keep func(*datatypes.ActionDefinition) bool) ([]*datatypes.ActionDefinition, error) {
	var out []*datatypes.ActionDefinition
	err := s.scan(func(a *datatypes.ActionDefinition) bool {
		if keep(a) {
			out = append(out, a)
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *BadgerStore) distinct(extract func(*datatypes.ActionDefinition) []string) ([]string, error) {
	seen := make(map[string]struct{})
	err := s.scan(func(a *datatypes.ActionDefinition) bool {
		for _, v := range extract(a) {
			seen[v] = struct{}{}
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(seen))
	for v := range seen {
		out = append(out, v)
	}
	sort.Strings(out)
	return out, nil
}
