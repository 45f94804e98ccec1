// Copyright (C) 2026 Harbor AI (oss@harborai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command actiond starts the HarborFlow action engine API server.
//
// The engine matches user utterances against an action catalog, collects
// missing parameters over multi-turn sessions, and executes the resulting
// plans against HTTP, tool-gateway and in-process bindings.
//
// Usage:
//
//	go run ./cmd/actiond
//	go run ./cmd/actiond -config config.yaml -catalog actions.yaml
//
// With Ollama (for semantic matching and parameter extraction):
//
//	OLLAMA_BASE_URL=http://localhost:11434 go run ./cmd/actiond -catalog actions.yaml
//
// Example requests:
//
//	# Health check
//	curl http://localhost:8620/v1/actions/health
//
//	# Route an utterance
//	curl -X POST http://localhost:8620/v1/actions/message \
//	  -H "Content-Type: application/json" \
//	  -d '{"user_id": "u1", "chat_id": "c1", "input": "book a table for four tomorrow"}'
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/HarborAI/HarborFlow/services/action"
	"github.com/HarborAI/HarborFlow/services/action/config"
	"github.com/HarborAI/HarborFlow/services/action/datatypes"
	"github.com/HarborAI/HarborFlow/services/action/dispatch"
	"github.com/HarborAI/HarborFlow/services/action/executor"
	"github.com/HarborAI/HarborFlow/services/action/extraction"
	"github.com/HarborAI/HarborFlow/services/action/matching"
	"github.com/HarborAI/HarborFlow/services/action/plan"
	"github.com/HarborAI/HarborFlow/services/action/semantic"
	"github.com/HarborAI/HarborFlow/services/action/session"
	"github.com/HarborAI/HarborFlow/services/action/store"
)

func main() {
	configPath := flag.String("config", "", "Path to engine config YAML (overlays embedded defaults)")
	catalogPath := flag.String("catalog", "", "Path to action catalog YAML (overrides config)")
	debug := flag.Bool("debug", false, "Enable debug mode")
	flag.Parse()

	if *debug {
		gin.SetMode(gin.DebugMode)
		slog.SetLogLoggerLevel(slog.LevelDebug)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	if *catalogPath != "" {
		cfg.Catalog.Path = *catalogPath
	}

	// W3C TraceContext propagation so spans join caller traces.
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	logger := slog.Default()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Badger backs the action catalog, session snapshots and vector cache.
	db, err := openBadger(cfg.Storage, logger)
	if err != nil {
		slog.Error("Failed to open storage", "data_dir", cfg.Storage.DataDir, "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Warn("Failed to close storage", "error", err)
		}
	}()

	actionStore := store.NewBadgerStore(db, logger)

	vector, reindexer := buildVectorBackend(cfg.Embedding, db, logger)

	matcher := matching.NewMatcher(action.Lister{Store: actionStore}, vector, cfg.Matching, logger)
	generator := plan.NewGenerator()

	factory := dispatch.NewFactory(nil, logger)
	factory.Register(dispatch.NewHTTPExecutor(nil, cfg.Dispatch.HTTP, logger))
	factory.Register(dispatch.NewToolExecutor(nil, cfg.Dispatch.ToolGateway, logger))
	factory.Register(dispatch.NewMethodExecutor())

	planExec := executor.NewPlanExecutor(executor.NewRegistry(), logger)

	extractor := buildExtractor(cfg.Extraction, logger)

	sessionStore := session.NewStore(db, logger)
	if err := sessionStore.Restore(time.Now()); err != nil {
		logger.Warn("Failed to restore session snapshots", "error", err)
	}
	sessionStore.StartSweeper(ctx, cfg.Session.SweepInterval)

	svc := action.NewService(actionStore, matcher, generator, planExec, nil, cfg.Matching, logger)

	// The sessions execute through the facade, and the facade resolves
	// schemas for the validation step; wire both after construction.
	sessions := session.NewService(sessionStore, actionStore, extractor, svc, cfg.Session, logger)
	svc.AttachSessions(sessions)
	executor.RegisterBuiltins(planExec.Registry(), factory, svc)

	if cfg.Catalog.Path != "" {
		loader := action.NewCatalogLoader(cfg.Catalog.Path, actionStore, reindexer, logger)
		if err := loader.Load(ctx); err != nil {
			slog.Error("Failed to load action catalog", "path", cfg.Catalog.Path, "error", err)
			os.Exit(1)
		}
		if cfg.Catalog.Watch {
			if err := loader.Watch(ctx); err != nil {
				logger.Warn("Catalog watch unavailable", "error", err)
			}
		}
	} else if reindexer != nil {
		// No catalog file: warm the index from whatever Badger holds.
		enabled, err := actionStore.ListEnabled(ctx)
		if err == nil {
			if err := reindexer.Reindex(ctx, enabled); err != nil {
				logger.Warn("Vector warm-up failed, matching degrades to keyword-only", "error", err)
			}
		}
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("harborflow-actiond"))
	if *debug {
		router.Use(gin.Logger())
	}
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")
	action.RegisterRoutes(v1, action.NewHandlers(svc))

	printBanner(cfg.Server.ListenAddr)

	server := &http.Server{
		Addr:         cfg.Server.ListenAddr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		slog.Info("Starting HarborFlow action server", "address", cfg.Server.ListenAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("Shutting down HarborFlow action server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownGrace)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Forced shutdown", "error", err)
	}
}

// openBadger opens the engine database, honoring the in-memory switch used
// by tests and ephemeral deployments.
func openBadger(cfg config.StorageConfig, logger *slog.Logger) (*badger.DB, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(cfg.DataDir)
	}
	opts = opts.WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	logger.Info("Storage opened", "data_dir", cfg.DataDir, "in_memory", cfg.InMemory)
	return db, nil
}

// buildVectorBackend selects the semantic backend. A nil return keeps the
// matcher in keyword-only mode.
func buildVectorBackend(cfg config.EmbeddingConfig, db *badger.DB, logger *slog.Logger) (matching.VectorSearch, action.Reindexer) {
	switch cfg.Backend {
	case "weaviate":
		idx, err := semantic.NewWeaviateIndex(cfg.WeaviateHost, cfg.WeaviateScheme, logger)
		if err != nil {
			logger.Warn("Weaviate unavailable, matching degrades to keyword-only", "error", err)
			return nil, nil
		}
		return idx, weaviateReindexer{idx}
	case "none":
		return nil, nil
	default:
		idx := semantic.NewEmbeddingIndex(cfg.URL, cfg.Model, semantic.NewBadgerVectorCache(db), logger)
		return idx, ollamaReindexer{idx}
	}
}

// buildExtractor connects the Ollama extraction client. A nil return
// disables LLM extraction; direct answers still collect.
func buildExtractor(cfg extraction.Config, logger *slog.Logger) *extraction.Extractor {
	if !cfg.Enabled {
		return nil
	}
	client, err := extraction.NewOllamaChatClient("")
	if err != nil {
		logger.Warn("Ollama unavailable, parameter extraction disabled", "error", err)
		return nil
	}
	extractor, err := extraction.NewExtractor(client, cfg, logger)
	if err != nil {
		logger.Warn("Extractor unavailable", "error", err)
		return nil
	}
	return extractor
}

type ollamaReindexer struct{ idx *semantic.EmbeddingIndex }

func (r ollamaReindexer) Reindex(ctx context.Context, actions []*datatypes.ActionDefinition) error {
	return r.idx.Warm(ctx, actions)
}

type weaviateReindexer struct{ idx *semantic.WeaviateIndex }

func (r weaviateReindexer) Reindex(ctx context.Context, actions []*datatypes.ActionDefinition) error {
	if err := r.idx.EnsureSchema(ctx); err != nil {
		return err
	}
	return r.idx.IndexActions(ctx, actions)
}

func printBanner(addr string) {
	banner := `
╔═══════════════════════════════════════════════════════════════════╗
║                   HARBORFLOW ACTION SERVER                        ║
╠═══════════════════════════════════════════════════════════════════╣
║                                                                   ║
║  Intent matching, parameter collection and plan execution.        ║
║                                                                   ║
║  Quick Start:                                                     ║
║  ┌─────────────────────────────────────────────────────────────┐  ║
║  │ # Health check                                              │  ║
║  │ curl http://localhost%s/v1/actions/health                │  ║
║  │                                                             │  ║
║  │ # Route an utterance                                        │  ║
║  │ curl -X POST http://localhost%s/v1/actions/message \     │  ║
║  │   -H "Content-Type: application/json" \                     │  ║
║  │   -d '{"input": "book a table for four tomorrow"}'          │  ║
║  └─────────────────────────────────────────────────────────────┘  ║
║                                                                   ║
║  Endpoints:                                                       ║
║  ├── Actions:  /message, /:id, /health, /ready                    ║
║  ├── Sessions: /:id, /:id/input, /:id/confirm, /:id/cancel        ║
║  └── Plans:    /:id, /:id/resume, /:id/cancel                     ║
║                                                                   ║
║  Press Ctrl+C to stop                                             ║
╚═══════════════════════════════════════════════════════════════════╝
`
	fmt.Printf(banner, addr, addr)
}
