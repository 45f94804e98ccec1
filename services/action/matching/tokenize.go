// Copyright (C) 2026 Harbor AI (oss@harborai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package matching

import (
	"strings"
	"unicode"
)

// =============================================================================
// Query Tokenization
// =============================================================================

// noiseWords are dropped from token sets before similarity scoring. They
// carry no routing signal and inflate Jaccard denominators.
var noiseWords = map[string]bool{
	"a": true, "an": true, "the": true, "of": true, "in": true, "on": true,
	"to": true, "for": true, "and": true, "or": true, "is": true, "are": true,
	"do": true, "does": true, "can": true, "could": true, "would": true,
	"please": true, "me": true, "my": true, "i": true, "you": true,
	"want": true, "need": true, "like": true, "with": true, "this": true,
	"that": true, "it": true, "at": true, "by": true, "be": true, "was": true,
}

// ExtractQueryTerms tokenizes free text into a deduplicated term set.
//
// # Description
//
// Handles lowercase normalization, camelCase splitting ("orderId" →
// "order", "id"), delimiter normalization (spaces, underscores, dots,
// hyphens) and noise-word removal. The result is a presence set: term
// frequency is deliberately discarded; Jaccard similarity over short
// trigger phrases does not benefit from it.
//
// # Thread Safety
//
// Stateless. Safe for concurrent use.
func ExtractQueryTerms(text string) map[string]bool {
	terms := make(map[string]bool)
	for _, tok := range splitTokens(text) {
		tok = strings.ToLower(tok)
		if len(tok) < 2 || noiseWords[tok] {
			continue
		}
		terms[tok] = true
	}
	return terms
}

// splitTokens breaks text on delimiters and camelCase boundaries.
func splitTokens(text string) []string {
	var tokens []string
	var cur strings.Builder

	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, cur.String())
			cur.Reset()
		}
	}

	var prev rune
	for _, r := range text {
		switch {
		case unicode.IsLetter(r):
			// camelCase boundary: lower→upper starts a new token.
			if unicode.IsUpper(r) && unicode.IsLower(prev) {
				flush()
			}
			cur.WriteRune(r)
		case unicode.IsDigit(r):
			cur.WriteRune(r)
		default:
			flush()
		}
		prev = r
	}
	flush()
	return tokens
}

// TokenJaccard computes Jaccard similarity between the term sets of two
// strings. Returns 0 when either set is empty.
func TokenJaccard(a, b string) float64 {
	sa := ExtractQueryTerms(a)
	sb := ExtractQueryTerms(b)
	if len(sa) == 0 || len(sb) == 0 {
		return 0
	}

	inter := 0
	for t := range sa {
		if sb[t] {
			inter++
		}
	}
	union := len(sa) + len(sb) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// truncateForLog shortens a string for log/span attributes.
func truncateForLog(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
