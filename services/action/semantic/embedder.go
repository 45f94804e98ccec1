// Copyright (C) 2026 Harbor AI (oss@harborai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package semantic provides the vector backends behind action matching: an
// embedded Ollama cosine index and an optional Weaviate adapter.
package semantic

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/HarborAI/HarborFlow/services/action/datatypes"
	"github.com/HarborAI/HarborFlow/services/action/matching"
)

// warmConcurrency caps parallel Ollama calls during index warm-up.
const warmConcurrency = 10

// queryEmbedTimeout bounds the query-time embedding call. Matching is on
// the hot path; 3 seconds is ample for a local Ollama instance.
const queryEmbedTimeout = 3 * time.Second

// ollamaEmbedReq is the Ollama /api/embed request body.
type ollamaEmbedReq struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

// ollamaEmbedResp is the Ollama /api/embed response body.
type ollamaEmbedResp struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// VectorCache persists warmed vectors between restarts, keyed by corpus
// hash. A nil cache means in-memory-only operation.
type VectorCache interface {
	LoadVectors(ctx context.Context, corpusHash string) (map[string][]float32, error)
	SaveVectors(ctx context.Context, corpusHash string, vectors map[string][]float32) error
}

// EmbeddingIndex scores queries against the action catalog by cosine
// similarity of Ollama embeddings.
//
// # Description
//
// Warm() embeds one document per action (name, triggers, synonyms, example
// phrases) and keeps the unit-normalized vectors in memory. SearchActions
// embeds the query and ranks actions by dot product. If Ollama is down at
// warm-up or at query time, the index reports an error and the matcher
// degrades to keyword-only scoring.
//
// The corpus hash (catalog content + model name) keys the persisted
// vectors, so catalog or model changes invalidate the cache automatically.
//
// # Thread Safety
//
// Safe for concurrent use after Warm() completes.
type EmbeddingIndex struct {
	mu      sync.RWMutex
	vectors map[string][]float32 // action id → unit-normalized vector
	warmed  bool

	url    string
	model  string
	client *http.Client
	cache  VectorCache
	logger *slog.Logger
}

// NewEmbeddingIndex creates an unwarmed index.
//
// Reads EMBEDDING_SERVICE_URL and EMBEDDING_MODEL from the environment when
// url or model is empty. cache may be nil to disable persistence.
func NewEmbeddingIndex(url, model string, cache VectorCache, logger *slog.Logger) *EmbeddingIndex {
	if logger == nil {
		logger = slog.Default()
	}
	if url == "" {
		url = os.Getenv("EMBEDDING_SERVICE_URL")
	}
	if url == "" {
		url = "http://localhost:11434/api/embed"
	}
	if model == "" {
		model = os.Getenv("EMBEDDING_MODEL")
	}
	if model == "" {
		model = "nomic-embed-text-v2-moe"
	}
	return &EmbeddingIndex{
		vectors: make(map[string][]float32),
		url:     url,
		model:   model,
		client:  &http.Client{Timeout: 30 * time.Second},
		cache:   cache,
		logger:  logger,
	}
}

// Warm embeds every enabled action and caches the vectors.
//
// Individual embed failures are logged and skipped; those actions score 0
// until the next warm. The error return is reserved for a completely
// unreachable endpoint with no persisted vectors to fall back on.
//
// Not safe to call concurrently with itself. Call at startup and after
// catalog reloads.
func (x *EmbeddingIndex) Warm(ctx context.Context, actions []*datatypes.ActionDefinition) error {
	if len(actions) == 0 {
		return nil
	}

	corpusHash := corpusHash(actions, x.model)
	if x.cache != nil {
		cached, err := x.cache.LoadVectors(ctx, corpusHash)
		if err != nil {
			x.logger.Warn("Vector cache load failed, warming from Ollama", "error", err)
		} else if len(cached) > 0 {
			x.mu.Lock()
			x.vectors = cached
			x.warmed = true
			x.mu.Unlock()
			x.logger.Info("Loaded action vectors from cache",
				"count", len(cached), "corpus_hash", corpusHash[:12])
			return nil
		}
	}

	x.logger.Info("Warming action embedding index",
		"actions", len(actions), "url", x.url, "model", x.model)

	type result struct {
		id     string
		vector []float32
	}
	results := make(chan result, len(actions))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(warmConcurrency)

	for _, action := range actions {
		a := action
		g.Go(func() error {
			vec, err := x.embed(gctx, embeddingDoc(a))
			if err != nil {
				x.logger.Warn("Failed to embed action", "action_id", a.ID, "error", err)
				return nil
			}
			results <- result{id: a.ID, vector: vec}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("embedding warm-up: %w", err)
	}
	close(results)

	fresh := make(map[string][]float32, len(actions))
	for r := range results {
		if unit := unitVector(r.vector); unit != nil {
			fresh[r.id] = unit
		}
	}

	x.mu.Lock()
	x.vectors = fresh
	x.warmed = len(fresh) > 0
	x.mu.Unlock()

	x.logger.Info("Embedding warm-up complete",
		"embedded", len(fresh), "requested", len(actions))

	if len(fresh) > 0 && x.cache != nil {
		// Persistence failure is non-fatal: vectors are already in RAM.
		if err := x.cache.SaveVectors(ctx, corpusHash, fresh); err != nil {
			x.logger.Warn("Failed to persist action vectors", "error", err)
		}
	}
	if len(fresh) == 0 {
		return fmt.Errorf("embedding warm-up: no action could be embedded")
	}
	return nil
}

// IsWarmed reports whether the index holds usable vectors.
func (x *EmbeddingIndex) IsWarmed() bool {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.warmed
}

// SearchActions implements matching.VectorSearch.
func (x *EmbeddingIndex) SearchActions(ctx context.Context, text string, limit int) ([]matching.SemanticHit, error) {
	x.mu.RLock()
	warmed := x.warmed
	x.mu.RUnlock()
	if !warmed {
		return nil, fmt.Errorf("embedding index not warmed")
	}

	embedCtx, cancel := context.WithTimeout(ctx, queryEmbedTimeout)
	defer cancel()

	queryVec, err := x.embed(embedCtx, text)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	queryUnit := unitVector(queryVec)
	if queryUnit == nil {
		return nil, fmt.Errorf("embedding query: zero vector")
	}

	x.mu.RLock()
	hits := make([]matching.SemanticHit, 0, len(x.vectors))
	for id, vec := range x.vectors {
		// Dot of two unit vectors is their cosine.
		if sim := dot(queryUnit, vec); sim > 0 {
			hits = append(hits, matching.SemanticHit{ActionID: id, Score: float64(sim)})
		}
	}
	x.mu.RUnlock()

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ActionID < hits[j].ActionID
	})
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// =============================================================================
// Helpers
// =============================================================================

// embeddingDoc builds the text embedded for one action: name, triggers,
// synonyms and example phrases joined into one document.
func embeddingDoc(a *datatypes.ActionDefinition) string {
	parts := make([]string, 0, 1+len(a.TriggerKeywords)+len(a.Synonyms)+len(a.ExamplePhrases))
	parts = append(parts, a.Name)
	parts = append(parts, a.TriggerKeywords...)
	parts = append(parts, a.Synonyms...)
	parts = append(parts, a.ExamplePhrases...)
	return strings.Join(parts, ". ")
}

// corpusHash fingerprints everything that shapes the vectors.
func corpusHash(actions []*datatypes.ActionDefinition, model string) string {
	h := sha256.New()
	io.WriteString(h, model)
	ids := make([]string, 0, len(actions))
	byID := make(map[string]*datatypes.ActionDefinition, len(actions))
	for _, a := range actions {
		ids = append(ids, a.ID)
		byID[a.ID] = a
	}
	sort.Strings(ids)
	for _, id := range ids {
		io.WriteString(h, id)
		io.WriteString(h, embeddingDoc(byID[id]))
	}
	return hex.EncodeToString(h.Sum(nil))
}

func (x *EmbeddingIndex) embed(ctx context.Context, text string) ([]float32, error) {
	payload, err := json.Marshal(ollamaEmbedReq{Model: x.model, Input: text})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, x.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := x.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embed HTTP call: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read embed response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embed service returned %d: %s", resp.StatusCode, string(body))
	}

	var parsed ollamaEmbedResp
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("parse embed response: %w", err)
	}
	if len(parsed.Embeddings) == 0 || len(parsed.Embeddings[0]) == 0 {
		return nil, fmt.Errorf("embed service returned empty vector")
	}
	return parsed.Embeddings[0], nil
}

// unitVector returns v scaled to unit length, or nil for a zero vector.
func unitVector(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	norm := math.Sqrt(sum)
	if norm == 0 {
		return nil
	}
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = x / float32(norm)
	}
	return out
}

// dot computes the dot product; mismatched lengths use the shorter.
func dot(a, b []float32) float32 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float32
	for i := 0; i < n; i++ {
		sum += a[i] * b[i]
	}
	return sum
}
