// Copyright (C) 2026 Harbor AI (oss@harborai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package matching

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/HarborAI/HarborFlow/services/action/datatypes"
)

// =============================================================================
// Test Fixtures
// =============================================================================

type staticLister struct {
	actions []datatypes.ActionDefinition
}

func (l staticLister) ListEnabled(_ context.Context) ([]datatypes.ActionDefinition, error) {
	return l.actions, nil
}

type failingLister struct{}

func (failingLister) ListEnabled(_ context.Context) ([]datatypes.ActionDefinition, error) {
	return nil, errors.New("catalog offline")
}

type staticVector struct {
	hits []SemanticHit
	err  error
}

func (v staticVector) SearchActions(_ context.Context, _ string, _ int) ([]SemanticHit, error) {
	return v.hits, v.err
}

func makeTestActions() []datatypes.ActionDefinition {
	return []datatypes.ActionDefinition{
		{
			ID:              "flight_booking",
			Name:            "Book Flight",
			TriggerKeywords: []string{"book a flight"},
			Synonyms:        []string{"reserve a seat"},
			ExamplePhrases:  []string{"find cheap flights"},
			Parameters: []datatypes.ParameterSpec{
				{Name: "destination", Type: datatypes.ParamTypeString, Required: true},
				{Name: "passengers", Type: datatypes.ParamTypeNumber, Required: true},
				{Name: "cabin", Type: datatypes.ParamTypeEnum, EnumValues: []string{"economy", "business"}},
			},
			Enabled: true,
		},
		{
			ID:              "hotel_booking",
			Name:            "Book Hotel",
			TriggerKeywords: []string{"book a hotel"},
			Enabled:         true,
		},
	}
}

func newTestMatcher(actions []datatypes.ActionDefinition, vector VectorSearch) *Matcher {
	return NewMatcher(staticLister{actions: actions}, vector, DefaultConfig(), nil)
}

// =============================================================================
// Fusion Tests
// =============================================================================

func TestMatchActions_FusesBothSignals(t *testing.T) {
	vector := staticVector{hits: []SemanticHit{{ActionID: "flight_booking", Score: 0.9}}}
	m := newTestMatcher(makeTestActions(), vector)

	matches, err := m.MatchActions(context.Background(), "book a flight", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected 1 match, got %d", len(matches))
	}

	// semantic 0.9*0.6 + keyword 0.95*0.4 = 0.92
	want := 0.9*0.6 + 0.95*0.4
	if math.Abs(matches[0].Confidence-want) > 1e-9 {
		t.Errorf("expected confidence %v, got %v", want, matches[0].Confidence)
	}
	if matches[0].ActionID != "flight_booking" {
		t.Errorf("expected flight_booking, got %s", matches[0].ActionID)
	}
}

func TestMatchActions_ThresholdDiscards(t *testing.T) {
	// Keyword-only: exact trigger 0.95 * 0.4 = 0.38, below 0.5.
	m := newTestMatcher(makeTestActions(), nil)

	matches, err := m.MatchActions(context.Background(), "book a flight", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(matches) != 0 {
		t.Errorf("expected no matches below the threshold, got %d", len(matches))
	}
	if matches == nil {
		t.Error("expected a non-nil empty slice")
	}
}

func TestMatchActions_KeywordWeightCompensatesForMissingBackend(t *testing.T) {
	cfg := DefaultConfig()
	cfg.KeywordWeight = 1.0
	m := NewMatcher(staticLister{actions: makeTestActions()}, nil, cfg, nil)

	matches, err := m.MatchActions(context.Background(), "book a flight", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected 1 match with keyword weight 1.0, got %d", len(matches))
	}
	if matches[0].Confidence != 0.95 {
		t.Errorf("expected 0.95, got %v", matches[0].Confidence)
	}
	if matches[0].MatchType != datatypes.MatchExactKeyword {
		t.Errorf("expected exact keyword match type, got %s", matches[0].MatchType)
	}
}

func TestMatchActions_SemanticOnlyCandidate(t *testing.T) {
	// No lexical overlap at all; the semantic signal alone carries it.
	vector := staticVector{hits: []SemanticHit{{ActionID: "hotel_booking", Score: 0.95}}}
	m := newTestMatcher(makeTestActions(), vector)

	matches, err := m.MatchActions(context.Background(), "somewhere to sleep tonight", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected 1 match, got %d", len(matches))
	}
	if matches[0].ActionID != "hotel_booking" {
		t.Errorf("expected hotel_booking, got %s", matches[0].ActionID)
	}
	if matches[0].MatchType != datatypes.MatchSemantic {
		t.Errorf("expected semantic match type, got %s", matches[0].MatchType)
	}
}

func TestMatchActions_TieBreaksByActionID(t *testing.T) {
	actions := []datatypes.ActionDefinition{
		{ID: "b_action", Name: "Bravo", Enabled: true},
		{ID: "a_action", Name: "Alpha", Enabled: true},
	}
	vector := staticVector{hits: []SemanticHit{
		{ActionID: "b_action", Score: 0.9},
		{ActionID: "a_action", Score: 0.9},
	}}
	m := newTestMatcher(actions, vector)

	matches, err := m.MatchActions(context.Background(), "route this request", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(matches))
	}
	if matches[0].ActionID != "a_action" || matches[1].ActionID != "b_action" {
		t.Errorf("expected tie broken by id ascending, got %s, %s",
			matches[0].ActionID, matches[1].ActionID)
	}
}

func TestMatchActions_UnknownSemanticHitIgnored(t *testing.T) {
	vector := staticVector{hits: []SemanticHit{{ActionID: "ghost", Score: 0.99}}}
	m := newTestMatcher(makeTestActions(), vector)

	matches, err := m.MatchActions(context.Background(), "unrelated", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(matches) != 0 {
		t.Errorf("expected hits for unknown actions to be dropped, got %d", len(matches))
	}
}

// =============================================================================
// Degradation Tests
// =============================================================================

func TestMatchActions_VectorFailureDegradesToKeyword(t *testing.T) {
	cfg := DefaultConfig()
	cfg.KeywordWeight = 1.0
	vector := staticVector{err: errors.New("backend down")}
	m := NewMatcher(staticLister{actions: makeTestActions()}, vector, cfg, nil)

	matches, err := m.MatchActions(context.Background(), "book a flight", nil)
	if err != nil {
		t.Fatalf("expected degradation, not an error: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected keyword-only match after backend failure, got %d", len(matches))
	}
	if matches[0].Confidence != 0.95 {
		t.Errorf("expected pure keyword score, got %v", matches[0].Confidence)
	}
}

func TestMatchActions_CatalogErrorPropagates(t *testing.T) {
	m := NewMatcher(failingLister{}, nil, DefaultConfig(), nil)

	if _, err := m.MatchActions(context.Background(), "book a flight", nil); err == nil {
		t.Error("expected catalog error to propagate")
	}
}

// =============================================================================
// Parameter Inference Tests
// =============================================================================

func TestMatchActions_InfersEnumAndNumber(t *testing.T) {
	vector := staticVector{hits: []SemanticHit{{ActionID: "flight_booking", Score: 0.9}}}
	m := newTestMatcher(makeTestActions(), vector)

	matches, err := m.MatchActions(context.Background(), "book a flight business class for 12 people", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected 1 match, got %d", len(matches))
	}

	params := matches[0].ExtractedParams
	if params["cabin"] != "business" {
		t.Errorf("expected enum value extracted, got %v", params["cabin"])
	}
	if params["passengers"] != 12.0 {
		t.Errorf("expected numeric value extracted, got %v", params["passengers"])
	}

	// destination remains unknown; it must be reported missing.
	missing := matches[0].MissingParams
	if len(missing) != 1 || missing[0] != "destination" {
		t.Errorf("expected destination missing, got %v", missing)
	}
}

func TestInferParams_SingleDigitQuantity(t *testing.T) {
	action := &datatypes.ActionDefinition{
		ID: "table_booking",
		Parameters: []datatypes.ParameterSpec{
			{Name: "party_size", Type: datatypes.ParamTypeNumber, Required: true},
		},
	}

	params := inferParams(action, "book a table for 4")
	if params["party_size"] != 4.0 {
		t.Errorf("expected single-digit quantity inferred, got %v", params)
	}
}

func TestInferParams_FirstNumericTokenWins(t *testing.T) {
	action := &datatypes.ActionDefinition{
		ID: "flight_booking",
		Parameters: []datatypes.ParameterSpec{
			{Name: "passengers", Type: datatypes.ParamTypeNumber, Required: true},
		},
	}

	// Several numeric tokens; query order decides, every time.
	for i := 0; i < 20; i++ {
		params := inferParams(action, "2 tickets on flight 917 gate 44")
		if params["passengers"] != 2.0 {
			t.Fatalf("expected the first numeric token, got %v", params["passengers"])
		}
	}
}

// =============================================================================
// Disposition Tests
// =============================================================================

func TestDispositionFor_Tiers(t *testing.T) {
	cfg := DefaultConfig()
	cases := []struct {
		confidence float64
		want       datatypes.Disposition
	}{
		{1.0, datatypes.DispositionExecute},
		{0.95, datatypes.DispositionExecute},
		{0.949, datatypes.DispositionHint},
		{0.7, datatypes.DispositionHint},
		{0.699, datatypes.DispositionIgnore},
		{0.0, datatypes.DispositionIgnore},
	}
	for _, tc := range cases {
		if got := cfg.DispositionFor(tc.confidence); got != tc.want {
			t.Errorf("DispositionFor(%v) = %s, want %s", tc.confidence, got, tc.want)
		}
	}
}
