// Copyright (C) 2026 Harbor AI (oss@harborai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package matching

import "strings"

// =============================================================================
// Keyword Scoring Ladder
// =============================================================================

// Keyword rule ceilings. Each rule contributes its ceiling only when no
// higher-priority rule already fired for the action; downstream policy
// routing depends on which rule produced the score, so the evaluation
// order is fixed.
const (
	scoreExactTrigger  = 0.95
	scoreSynonym       = 0.85
	scoreExampleScale  = 0.8
	scoreActionName    = 0.7
	exampleJaccardGate = 0.6
)

// KeywordRule identifies which ladder rule produced a keyword score.
type KeywordRule string

const (
	RuleExactTrigger KeywordRule = "exact_trigger"
	RuleSynonym      KeywordRule = "synonym"
	RuleExample      KeywordRule = "example_phrase"
	RuleActionName   KeywordRule = "action_name"
	RuleNone         KeywordRule = "none"
)

// KeywordScore is the lexical score of one action for one query.
type KeywordScore struct {
	Score float64
	Rule  KeywordRule
}

// scoreKeywords evaluates the fixed-priority keyword ladder for a single
// action.
//
// # Description
//
// Rules fire in priority order; the first hit wins:
//
//  1. Exact trigger-keyword substring match → 0.95
//  2. Synonym substring match → 0.85
//  3. Token-Jaccard vs example phrases, scaled by 0.8, only when the best
//     similarity exceeds 0.6
//  4. Action-name substring match → 0.7
//
// queryLower must already be lowercased. Returns {0, RuleNone} when nothing
// fires.
//
// # Thread Safety
//
// Stateless. Safe for concurrent use.
func scoreKeywords(queryLower string, triggerKeywords, synonyms, examples []string, actionName string) KeywordScore {
	for _, kw := range triggerKeywords {
		if kw != "" && strings.Contains(queryLower, strings.ToLower(kw)) {
			return KeywordScore{Score: scoreExactTrigger, Rule: RuleExactTrigger}
		}
	}

	for _, syn := range synonyms {
		if syn != "" && strings.Contains(queryLower, strings.ToLower(syn)) {
			return KeywordScore{Score: scoreSynonym, Rule: RuleSynonym}
		}
	}

	var best float64
	for _, ex := range examples {
		if sim := TokenJaccard(queryLower, ex); sim > best {
			best = sim
		}
	}
	if best > exampleJaccardGate {
		return KeywordScore{Score: best * scoreExampleScale, Rule: RuleExample}
	}

	if actionName != "" && strings.Contains(queryLower, strings.ToLower(actionName)) {
		return KeywordScore{Score: scoreActionName, Rule: RuleActionName}
	}

	return KeywordScore{Score: 0, Rule: RuleNone}
}
