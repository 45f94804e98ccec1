// Copyright (C) 2026 Harbor AI (oss@harborai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/HarborAI/HarborFlow/services/action/datatypes"
)

// MemoryStore is an in-memory ActionStore used by tests and by deployments
// that load their whole catalog from a file at boot.
type MemoryStore struct {
	mu      sync.RWMutex
	actions map[string]*datatypes.ActionDefinition
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{actions: make(map[string]*datatypes.ActionDefinition)}
}

func (s *MemoryStore) FindByID(ctx context.Context, id string) (*datatypes.ActionDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.actions[id], nil
}

func (s *MemoryStore) FindByName(ctx context.Context, name string) (*datatypes.ActionDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, a := range s.actions {
		if strings.EqualFold(a.Name, name) {
			return a, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) FindAll(ctx context.Context) ([]*datatypes.ActionDefinition, error) {
	return s.filter(func(a *datatypes.ActionDefinition) bool { return true }), nil
}

func (s *MemoryStore) FindByCategory(ctx context.Context, category string) ([]*datatypes.ActionDefinition, error) {
	return s.filter(func(a *datatypes.ActionDefinition) bool {
		return strings.EqualFold(a.Category, category)
	}), nil
}

func (s *MemoryStore) FindByTag(ctx context.Context, tag string) ([]*datatypes.ActionDefinition, error) {
	return s.filter(func(a *datatypes.ActionDefinition) bool {
		for _, t := range a.Tags {
			if strings.EqualFold(t, tag) {
				return true
			}
		}
		return false
	}), nil
}

func (s *MemoryStore) ListEnabled(ctx context.Context) ([]*datatypes.ActionDefinition, error) {
	return s.filter(func(a *datatypes.ActionDefinition) bool { return a.Enabled }), nil
}

func (s *MemoryStore) Save(ctx context.Context, action *datatypes.ActionDefinition) error {
	if action.ID == "" {
		return datatypes.NewEngineError(datatypes.ErrCodeInvalidPlan, "action has no id", false)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions[action.ID] = action
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.actions, id)
	return nil
}

func (s *MemoryStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.actions), nil
}

func (s *MemoryStore) Categories(ctx context.Context) ([]string, error) {
	return s.distinct(func(a *datatypes.ActionDefinition) []string {
		if a.Category == "" {
			return nil
		}
		return []string{a.Category}
	}), nil
}

func (s *MemoryStore) Tags(ctx context.Context) ([]string, error) {
	return s.distinct(func(a *datatypes.ActionDefinition) []string { return a.Tags }), nil
}

// Replace swaps the whole catalog in one shot. Used by hot reload.
func (s *MemoryStore) Replace(actions []*datatypes.ActionDefinition) {
	next := make(map[string]*datatypes.ActionDefinition, len(actions))
	for _, a := range actions {
		next[a.ID] = a
	}
	s.mu.Lock()
	s.actions = next
	s.mu.Unlock()
}

func (s *MemoryStore) filter(keep func(*datatypes.ActionDefinition) bool) []*datatypes.ActionDefinition {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*datatypes.ActionDefinition
	for _, a := range s.actions {
		if keep(a) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *MemoryStore) distinct(extract func(*datatypes.ActionDefinition) []string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]struct{})
	for _, a := range s.actions {
		for _, v := range extract(a) {
			seen[v] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for v := range seen {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
