// Copyright (C) 2026 Harbor AI (oss@harborai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package action

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/HarborAI/HarborFlow/services/action/datatypes"
	"github.com/HarborAI/HarborFlow/services/action/store"
)

// maxCatalogFileSize bounds the catalog file.
const maxCatalogFileSize = 4 << 20

// reloadDebounce coalesces the burst of fsnotify events an editor save
// produces into one reload.
const reloadDebounce = 250 * time.Millisecond

// catalogFile is the YAML catalog document shape.
type catalogFile struct {
	Actions []*datatypes.ActionDefinition `yaml:"actions"`
}

// Reindexer rebuilds the vector backend after the catalog changes.
type Reindexer interface {
	Reindex(ctx context.Context, actions []*datatypes.ActionDefinition) error
}

// LoadCatalogFile parses a YAML action catalog. Entries missing an id or
// name are rejected rather than skipped: a broken catalog should fail loud
// at load time, not surface as missing actions later.
func LoadCatalogFile(path string) ([]*datatypes.ActionDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog %s: %w", path, err)
	}
	if len(data) > maxCatalogFileSize {
		return nil, fmt.Errorf("catalog %s exceeds maximum size (%d > %d)", path, len(data), maxCatalogFileSize)
	}

	var doc catalogFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing catalog %s: %w", path, err)
	}

	seen := make(map[string]struct{}, len(doc.Actions))
	for i, a := range doc.Actions {
		if a.ID == "" {
			return nil, fmt.Errorf("catalog %s: actions[%d] has no id", path, i)
		}
		if a.Name == "" {
			return nil, fmt.Errorf("catalog %s: action %s has no name", path, a.ID)
		}
		if _, dup := seen[a.ID]; dup {
			return nil, fmt.Errorf("catalog %s: duplicate action id %s", path, a.ID)
		}
		seen[a.ID] = struct{}{}
	}
	return doc.Actions, nil
}

// CatalogLoader loads the YAML catalog into the store and keeps the vector
// backend in sync, optionally watching the file for changes.
type CatalogLoader struct {
	path    string
	store   store.ActionStore
	indexer Reindexer
	logger  *slog.Logger
}

// NewCatalogLoader creates a loader. indexer may be nil when no vector
// backend is configured.
func NewCatalogLoader(path string, actionStore store.ActionStore, indexer Reindexer, logger *slog.Logger) *CatalogLoader {
	if logger == nil {
		logger = slog.Default()
	}
	return &CatalogLoader{path: path, store: actionStore, indexer: indexer, logger: logger}
}

// Load reads the catalog file, saves every entry, and reindexes.
func (l *CatalogLoader) Load(ctx context.Context) error {
	actions, err := LoadCatalogFile(l.path)
	if err != nil {
		return err
	}
	for _, a := range actions {
		if err := l.store.Save(ctx, a); err != nil {
			return fmt.Errorf("saving action %s: %w", a.ID, err)
		}
	}
	l.logger.Info("Action catalog loaded", "path", l.path, "actions", len(actions))

	if l.indexer != nil {
		enabled, err := l.store.ListEnabled(ctx)
		if err != nil {
			return err
		}
		if err := l.indexer.Reindex(ctx, enabled); err != nil {
			// Keyword matching still works; log and carry on.
			l.logger.Warn("Catalog reindex failed, matching degrades to keyword-only", "error", err)
		}
	}
	return nil
}

// Watch reloads the catalog whenever the file changes, until ctx is
// cancelled. A reload that fails keeps the previous catalog in service.
func (l *CatalogLoader) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating catalog watcher: %w", err)
	}

	// Watch the directory: editors replace files on save, which drops
	// a watch registered on the file itself.
	if err := watcher.Add(filepath.Dir(l.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watching catalog dir: %w", err)
	}

	go func() {
		defer watcher.Close()
		var timer *time.Timer
		for {
			select {
			case <-ctx.Done():
				if timer != nil {
					timer.Stop()
				}
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(l.path) {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
					continue
				}
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(reloadDebounce, func() {
					if err := l.Load(ctx); err != nil {
						l.logger.Error("Catalog reload failed, keeping previous catalog",
							"path", l.path, "error", err)
					}
				})
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				l.logger.Warn("Catalog watcher error", "error", err)
			}
		}
	}()

	l.logger.Info("Watching action catalog", "path", l.path)
	return nil
}
