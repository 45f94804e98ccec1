// Copyright (C) 2026 Harbor AI (oss@harborai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

// =============================================================================
// Match Types
// =============================================================================

// MatchType records which signal produced a match's confidence score.
type MatchType string

const (
	MatchExactKeyword MatchType = "exact-keyword"
	MatchFuzzyKeyword MatchType = "fuzzy-keyword"
	MatchSemantic     MatchType = "semantic"
	MatchInference    MatchType = "inference"
	MatchExample      MatchType = "example-based"
)

// Disposition is the coarse-grained routing decision derived from a match's
// confidence by the caller-facing tiers.
type Disposition string

const (
	// DispositionExecute means confidence cleared the direct-execution tier.
	DispositionExecute Disposition = "execute"

	// DispositionHint means the caller should surface the match and confirm.
	DispositionHint Disposition = "hint"

	// DispositionIgnore means no intervention.
	DispositionIgnore Disposition = "ignore"
)

// ActionMatch is the ephemeral result of a single matching call. Not
// persisted.
type ActionMatch struct {
	ActionID   string `json:"action_id"`
	ActionName string `json:"action_name"`

	// Confidence is the fused score in [0,1].
	Confidence float64 `json:"confidence"`

	MatchType MatchType `json:"match_type"`

	// ExtractedParams holds parameters already inferable from the input text.
	ExtractedParams map[string]any `json:"extracted_params,omitempty"`

	// MissingParams lists required parameters not covered by ExtractedParams.
	MissingParams []string `json:"missing_params,omitempty"`
}
