// Copyright (C) 2026 Harbor AI (oss@harborai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config loads and validates the engine configuration.
package config

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/HarborAI/HarborFlow/services/action/dispatch"
	"github.com/HarborAI/HarborFlow/services/action/extraction"
	"github.com/HarborAI/HarborFlow/services/action/matching"
	"github.com/HarborAI/HarborFlow/services/action/session"
)

// MaxYAMLFileSize bounds config and catalog files. Anything bigger is a
// mistake, not a configuration.
const MaxYAMLFileSize = 4 << 20

//go:embed defaults.yaml
var defaultsYAML []byte

// ServerConfig tunes the HTTP listener.
type ServerConfig struct {
	ListenAddr    string        `yaml:"listen_addr" validate:"required"`
	ReadTimeout   time.Duration `yaml:"read_timeout" validate:"required"`
	WriteTimeout  time.Duration `yaml:"write_timeout" validate:"required"`
	ShutdownGrace time.Duration `yaml:"shutdown_grace" validate:"required"`
}

// EmbeddingConfig selects and locates the vector backend.
type EmbeddingConfig struct {
	// Backend is "ollama" (embedded index), "weaviate", or "none".
	Backend string `yaml:"backend" validate:"oneof=ollama weaviate none"`

	// URL and Model override the environment-derived defaults.
	URL   string `yaml:"url"`
	Model string `yaml:"model"`

	// WeaviateHost and WeaviateScheme locate the external backend.
	WeaviateHost   string `yaml:"weaviate_host"`
	WeaviateScheme string `yaml:"weaviate_scheme"`
}

// DispatchConfig groups the transport executor settings.
type DispatchConfig struct {
	HTTP        dispatch.HTTPExecutorConfig `yaml:"http"`
	ToolGateway dispatch.ToolExecutorConfig `yaml:"tool_gateway"`
}

// StorageConfig locates the Badger database.
type StorageConfig struct {
	DataDir  string `yaml:"data_dir"`
	InMemory bool   `yaml:"in_memory"`
}

// CatalogConfig locates the optional YAML action catalog.
type CatalogConfig struct {
	// Path is the catalog file. Empty means the Badger store alone is
	// authoritative.
	Path string `yaml:"path"`

	// Watch enables fsnotify hot reload of the catalog file.
	Watch bool `yaml:"watch"`
}

// EngineConfig is the full engine configuration tree.
//
// Thread Safety: Immutable after loading; safe for concurrent use.
type EngineConfig struct {
	Server     ServerConfig      `yaml:"server"`
	Matching   matching.Config   `yaml:"matching"`
	Extraction extraction.Config `yaml:"extraction"`
	Session    session.Config    `yaml:"session"`
	Embedding  EmbeddingConfig   `yaml:"embedding"`
	Dispatch   DispatchConfig    `yaml:"dispatch"`
	Storage    StorageConfig     `yaml:"storage"`
	Catalog    CatalogConfig     `yaml:"catalog"`
}

// Load reads the engine configuration: embedded defaults first, then the
// optional overlay file at path. The merged result is validated as a whole.
func Load(path string) (*EngineConfig, error) {
	cfg := &EngineConfig{}
	if err := yaml.Unmarshal(defaultsYAML, cfg); err != nil {
		return nil, fmt.Errorf("parsing embedded defaults: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
		if len(data) > MaxYAMLFileSize {
			return nil, fmt.Errorf("config %s exceeds maximum size (%d > %d)", path, len(data), MaxYAMLFileSize)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	slog.Info("Engine config loaded",
		"listen_addr", cfg.Server.ListenAddr,
		"embedding_backend", cfg.Embedding.Backend,
		"catalog_path", cfg.Catalog.Path,
		"overlay", path != "")
	return cfg, nil
}
