// Copyright (C) 2026 Harbor AI (oss@harborai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package action

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/HarborAI/HarborFlow/services/action/datatypes"
	"github.com/HarborAI/HarborFlow/services/action/store"
)

func writeCatalog(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "actions.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing catalog fixture: %v", err)
	}
	return path
}

const goodCatalog = `
actions:
  - id: flight_booking
    name: Book Flight
    description: Book a flight
    enabled: true
    trigger_keywords: ["book a flight"]
    parameters:
      - name: destination
        type: string
        required: true
  - id: hotel_booking
    name: Book Hotel
    enabled: true
`

func TestLoadCatalogFile(t *testing.T) {
	path := writeCatalog(t, goodCatalog)

	actions, err := LoadCatalogFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(actions) != 2 {
		t.Fatalf("expected 2 actions, got %d", len(actions))
	}
	if actions[0].ID != "flight_booking" || len(actions[0].Parameters) != 1 {
		t.Errorf("expected parsed flight_booking with 1 parameter, got %+v", actions[0])
	}
	if len(actions[0].TriggerKeywords) != 1 {
		t.Errorf("expected trigger keywords parsed, got %v", actions[0].TriggerKeywords)
	}
}

func TestLoadCatalogFile_Rejects(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"missing id", "actions:\n  - name: No ID\n"},
		{"missing name", "actions:\n  - id: nameless\n"},
		{"duplicate id", "actions:\n  - id: a\n    name: One\n  - id: a\n    name: Two\n"},
		{"malformed yaml", "actions: [\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := LoadCatalogFile(writeCatalog(t, tc.content)); err == nil {
				t.Error("expected load to fail")
			}
		})
	}
}

func TestLoadCatalogFile_MissingFile(t *testing.T) {
	if _, err := LoadCatalogFile(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

// ============================================================================
// CatalogLoader Tests
// ============================================================================

type recordingIndexer struct {
	actions []*datatypes.ActionDefinition
	err     error
	calls   int
}

func (r *recordingIndexer) Reindex(_ context.Context, actions []*datatypes.ActionDefinition) error {
	r.calls++
	r.actions = actions
	return r.err
}

func TestCatalogLoader_Load(t *testing.T) {
	path := writeCatalog(t, goodCatalog)
	actionStore := store.NewMemoryStore()
	indexer := &recordingIndexer{}

	loader := NewCatalogLoader(path, actionStore, indexer, nil)
	if err := loader.Load(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if n, _ := actionStore.Count(context.Background()); n != 2 {
		t.Errorf("expected 2 actions saved, got %d", n)
	}
	if indexer.calls != 1 || len(indexer.actions) != 2 {
		t.Errorf("expected one reindex over the enabled set, got %d calls with %d actions",
			indexer.calls, len(indexer.actions))
	}
}

func TestCatalogLoader_ReindexFailureIsNotFatal(t *testing.T) {
	path := writeCatalog(t, goodCatalog)
	actionStore := store.NewMemoryStore()
	indexer := &recordingIndexer{err: errors.New("vector backend down")}

	loader := NewCatalogLoader(path, actionStore, indexer, nil)
	if err := loader.Load(context.Background()); err != nil {
		t.Errorf("expected load to survive a reindex failure, got %v", err)
	}
	if n, _ := actionStore.Count(context.Background()); n != 2 {
		t.Errorf("expected catalog saved despite reindex failure, got %d", n)
	}
}

func TestCatalogLoader_NilIndexer(t *testing.T) {
	path := writeCatalog(t, goodCatalog)
	loader := NewCatalogLoader(path, store.NewMemoryStore(), nil, nil)
	if err := loader.Load(context.Background()); err != nil {
		t.Errorf("unexpected error without a vector backend: %v", err)
	}
}

func TestCatalogLoader_LoadFailsOnBrokenCatalog(t *testing.T) {
	path := writeCatalog(t, "actions:\n  - name: No ID\n")
	loader := NewCatalogLoader(path, store.NewMemoryStore(), nil, nil)
	if err := loader.Load(context.Background()); err == nil {
		t.Error("expected load failure for broken catalog")
	}
}
