// Copyright (C) 2026 Harbor AI (oss@harborai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package matching fuses lexical and semantic signals into ranked action
// matches and derives the coarse dispatch disposition consumed by callers.
package matching

import (
	"context"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/HarborAI/HarborFlow/services/action/datatypes"
)

// =============================================================================
// Prometheus Metrics
// =============================================================================

var (
	matchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "harborflow",
		Subsystem: "matcher",
		Name:      "match_total",
		Help:      "Matching calls by outcome: matched, empty, degraded",
	}, []string{"outcome"})

	matchLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "harborflow",
		Subsystem: "matcher",
		Name:      "latency_seconds",
		Help:      "Latency of a full matching call including the vector backend",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
	})

	matchCandidates = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "harborflow",
		Subsystem: "matcher",
		Name:      "candidates",
		Help:      "Candidates surviving the match threshold per call",
		Buckets:   []float64{0, 1, 2, 3, 5, 10, 20},
	})
)

var tracer = otel.Tracer("harborflow.action.matching")

// =============================================================================
// Collaborator Interfaces
// =============================================================================

// SemanticHit is one (action, score) pair returned by the vector backend.
type SemanticHit struct {
	ActionID string
	Score    float64
}

// VectorSearch is the semantic search collaborator. Implementations live in
// the semantic package; the matcher only consumes ranked hits.
type VectorSearch interface {
	// SearchActions returns up to limit hits ranked by descending score.
	// Scores are expected in [0,1].
	SearchActions(ctx context.Context, text string, limit int) ([]SemanticHit, error)
}

// ActionLister supplies the candidate set for lexical scoring.
type ActionLister interface {
	ListEnabled(ctx context.Context) ([]datatypes.ActionDefinition, error)
}

// =============================================================================
// Configuration
// =============================================================================

// Config holds the fusion weights and routing thresholds.
//
// With the defaults (semantic 0.6 / keyword 0.4, threshold 0.5) a
// pure-keyword exact match scores 0.38 when no semantic backend is
// configured, which is below the threshold. This is deliberate configuration
// surface, not something the matcher silently corrects: deployments without
// a vector backend should raise KeywordWeight or lower MatchThreshold.
type Config struct {
	// SemanticWeight and KeywordWeight are the non-negative fusion weights.
	SemanticWeight float64 `yaml:"semantic_weight" validate:"gte=0"`
	KeywordWeight  float64 `yaml:"keyword_weight" validate:"gte=0"`

	// MatchThreshold discards candidates below it.
	MatchThreshold float64 `yaml:"match_threshold" validate:"gte=0,lte=1"`

	// ExecuteThreshold and HintThreshold are the disposition tiers:
	// >= ExecuteThreshold → execute, [HintThreshold, ExecuteThreshold) →
	// hint, below → ignore.
	ExecuteThreshold float64 `yaml:"execute_threshold" validate:"gte=0,lte=1"`
	HintThreshold    float64 `yaml:"hint_threshold" validate:"gte=0,lte=1"`

	// SemanticLimit bounds the vector backend result size.
	SemanticLimit int `yaml:"semantic_limit" validate:"gte=1"`
}

// DefaultConfig returns the reference defaults.
func DefaultConfig() Config {
	return Config{
		SemanticWeight:   0.6,
		KeywordWeight:    0.4,
		MatchThreshold:   0.5,
		ExecuteThreshold: 0.95,
		HintThreshold:    0.7,
		SemanticLimit:    10,
	}
}

// DispositionFor maps a confidence score to the three-tier routing decision.
func (c Config) DispositionFor(confidence float64) datatypes.Disposition {
	switch {
	case confidence >= c.ExecuteThreshold:
		return datatypes.DispositionExecute
	case confidence >= c.HintThreshold:
		return datatypes.DispositionHint
	default:
		return datatypes.DispositionIgnore
	}
}

// =============================================================================
// Matcher
// =============================================================================

// Matcher ranks catalog actions against free text.
//
// # Description
//
// Computes two independent per-action scores and fuses them linearly:
//
//	combined = semantic*SemanticWeight + keyword*KeywordWeight
//
// The keyword score comes from a fixed-priority rule ladder (see keyword.go);
// the semantic score from the vector backend. Actions absent from both
// signals are dropped; candidates below MatchThreshold are discarded. Ties
// on combined score break by action id ascending so ranking is deterministic.
//
// If the vector backend errors, matching degrades to keyword-only; it never
// returns the backend error to the caller.
//
// # Thread Safety
//
// Safe for concurrent use. All per-call state is local.
type Matcher struct {
	actions ActionLister
	vector  VectorSearch // nil disables the semantic signal
	cfg     Config
	logger  *slog.Logger
}

// NewMatcher creates a Matcher.
//
// Inputs:
//
//	actions - Candidate source. Must not be nil.
//	vector  - Semantic backend. Nil disables semantic scoring.
//	cfg     - Fusion configuration.
//	logger  - Logger instance. Nil uses slog.Default().
func NewMatcher(actions ActionLister, vector VectorSearch, cfg Config, logger *slog.Logger) *Matcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Matcher{actions: actions, vector: vector, cfg: cfg, logger: logger}
}

// MatchActions returns candidate actions sorted by descending confidence.
//
// # Description
//
// Never returns nil on success: no candidate over the threshold yields an
// empty, non-nil slice. The only error source is the action catalog itself;
// vector backend failures degrade to keyword-only scoring.
//
// # Inputs
//
//   - ctx: Context for cancellation and tracing.
//   - text: The user's free-text request.
//   - reqCtx: Caller hints (tenant, session). May be nil.
//
// # Thread Safety
//
// Safe for concurrent use.
func (m *Matcher) MatchActions(ctx context.Context, text string, reqCtx map[string]string) ([]datatypes.ActionMatch, error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "matching.Matcher.MatchActions")
	defer span.End()
	span.SetAttributes(attribute.String("query_preview", truncateForLog(text, 80)))

	candidates, err := m.actions.ListEnabled(ctx)
	if err != nil {
		return nil, err
	}

	queryLower := strings.ToLower(text)

	// Lexical pass over every enabled action.
	kwScores := make(map[string]KeywordScore, len(candidates))
	byID := make(map[string]*datatypes.ActionDefinition, len(candidates))
	for i := range candidates {
		a := &candidates[i]
		byID[a.ID] = a
		if ks := scoreKeywords(queryLower, a.TriggerKeywords, a.Synonyms, a.ExamplePhrases, a.Name); ks.Score > 0 {
			kwScores[a.ID] = ks
		}
	}

	// Semantic pass. Backend failure degrades to keyword-only.
	semScores := make(map[string]float64)
	if m.vector != nil {
		hits, serr := m.vector.SearchActions(ctx, text, m.cfg.SemanticLimit)
		if serr != nil {
			m.logger.Warn("vector backend failed, degrading to keyword-only matching",
				slog.String("error", serr.Error()),
			)
			matchTotal.WithLabelValues("degraded").Inc()
		} else {
			for _, h := range hits {
				if _, known := byID[h.ActionID]; known {
					semScores[h.ActionID] = h.Score
				}
			}
		}
	}

	matches := m.fuse(kwScores, semScores, byID, queryLower)

	matchLatency.Observe(time.Since(start).Seconds())
	matchCandidates.Observe(float64(len(matches)))
	if len(matches) == 0 {
		matchTotal.WithLabelValues("empty").Inc()
	} else {
		matchTotal.WithLabelValues("matched").Inc()
	}

	span.SetAttributes(
		attribute.Int("keyword_candidates", len(kwScores)),
		attribute.Int("semantic_candidates", len(semScores)),
		attribute.Int("matches", len(matches)),
	)
	return matches, nil
}

// fuse combines the two score maps into final ranked matches.
func (m *Matcher) fuse(
	kwScores map[string]KeywordScore,
	semScores map[string]float64,
	byID map[string]*datatypes.ActionDefinition,
	queryLower string,
) []datatypes.ActionMatch {
	// Actions absent from both signals are dropped.
	seen := make(map[string]bool, len(kwScores)+len(semScores))
	for id := range kwScores {
		seen[id] = true
	}
	for id := range semScores {
		seen[id] = true
	}

	matches := make([]datatypes.ActionMatch, 0, len(seen))
	for id := range seen {
		action := byID[id]
		kw := kwScores[id]
		sem, inSemantic := semScores[id]

		combined := sem*m.cfg.SemanticWeight + kw.Score*m.cfg.KeywordWeight
		if combined < m.cfg.MatchThreshold {
			continue
		}

		extracted := inferParams(action, queryLower)
		matches = append(matches, datatypes.ActionMatch{
			ActionID:        id,
			ActionName:      action.Name,
			Confidence:      combined,
			MatchType:       deriveMatchType(kw, inSemantic),
			ExtractedParams: extracted,
			MissingParams:   missingAfter(action, extracted),
		})
	}

	// Descending confidence; ties break by action id ascending so ordering
	// is stable across runs.
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Confidence != matches[j].Confidence {
			return matches[i].Confidence > matches[j].Confidence
		}
		return matches[i].ActionID < matches[j].ActionID
	})
	return matches
}

// deriveMatchType maps score provenance to a match-type tag:
// keyword >= 0.9 → exact; present in semantic results with keyword < 0.7 →
// semantic; otherwise fuzzy (example-based when the example rule fired).
func deriveMatchType(kw KeywordScore, inSemantic bool) datatypes.MatchType {
	switch {
	case kw.Score >= 0.9:
		return datatypes.MatchExactKeyword
	case inSemantic && kw.Score < scoreActionName:
		return datatypes.MatchSemantic
	case kw.Rule == RuleExample:
		return datatypes.MatchExample
	default:
		return datatypes.MatchFuzzyKeyword
	}
}

// inferParams extracts parameters already visible in the query text:
// enum values appearing verbatim, and a bare numeric token for the first
// number-typed parameter. Anything subtler is the extraction service's job.
func inferParams(action *datatypes.ActionDefinition, queryLower string) map[string]any {
	extracted := make(map[string]any)
	// Raw tokens in query order, so the first numeric token wins and
	// single-digit quantities are not filtered out.
	tokens := splitTokens(queryLower)

	for _, p := range action.Parameters {
		switch p.Type {
		case datatypes.ParamTypeEnum:
			for _, ev := range p.EnumValues {
				if strings.Contains(queryLower, strings.ToLower(ev)) {
					extracted[p.Name] = ev
					break
				}
			}
		case datatypes.ParamTypeNumber:
			if _, have := extracted[p.Name]; have {
				continue
			}
			for _, t := range tokens {
				if n, err := strconv.ParseFloat(t, 64); err == nil {
					extracted[p.Name] = n
					break
				}
			}
		}
	}

	if len(extracted) == 0 {
		return nil
	}
	return extracted
}

// missingAfter lists required parameters not covered by extracted.
func missingAfter(action *datatypes.ActionDefinition, extracted map[string]any) []string {
	var missing []string
	for _, name := range action.RequiredParams() {
		if _, ok := extracted[name]; !ok {
			missing = append(missing, name)
		}
	}
	return missing
}
