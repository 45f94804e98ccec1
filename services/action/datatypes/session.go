// Copyright (C) 2026 Harbor AI (oss@harborai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import "time"

// =============================================================================
// Parameter Collection Session Types
// =============================================================================

// SessionState is the collection state machine position.
type SessionState string

const (
	SessionInit           SessionState = "INIT"
	SessionCollecting     SessionState = "COLLECTING"
	SessionPendingConfirm SessionState = "PENDING_CONFIRM"
	SessionConfirmed      SessionState = "CONFIRMED"
	SessionExecuting      SessionState = "EXECUTING"
	SessionCompleted      SessionState = "COMPLETED"
	SessionFailed         SessionState = "FAILED"
	SessionCancelled      SessionState = "CANCELLED"
	SessionExpired        SessionState = "EXPIRED"
)

// IsTerminal reports whether the session can accept no further transitions.
func (s SessionState) IsTerminal() bool {
	switch s {
	case SessionCompleted, SessionFailed, SessionCancelled, SessionExpired:
		return true
	}
	return false
}

// ValueSource records the provenance of a collected parameter value.
type ValueSource string

const (
	ValueFromUser    ValueSource = "USER_INPUT"
	ValueFromLLM     ValueSource = "LLM_EXTRACTED"
	ValueFromDefault ValueSource = "DEFAULT"
)

// CollectedParam is one parameter value with its provenance.
type CollectedParam struct {
	Value      any         `json:"value"`
	Type       ParamType   `json:"type"`
	Confidence float64     `json:"confidence"`
	Source     ValueSource `json:"source"`
}

// MissingParamInfo describes one still-missing required parameter together
// with the prompt hint used to ask for it.
type MissingParamInfo struct {
	Name    string    `json:"name"`
	Type    ParamType `json:"type"`
	Prompt  string    `json:"prompt,omitempty"`
	Options []string  `json:"options,omitempty"`
}

// CollectSession is the conversation-scoped state of a multi-turn parameter
// collection. The session exclusively owns its Collected and Missing entries.
//
// Concurrency: a single session must not be advanced by two concurrent
// callers; the session service guarantees only per-key atomicity of the
// underlying store.
type CollectSession struct {
	ID       string `json:"id"`
	ActionID string `json:"action_id"`
	UserID   string `json:"user_id,omitempty"`
	ChatID   string `json:"chat_id,omitempty"`

	State SessionState `json:"state"`

	Collected map[string]CollectedParam `json:"collected,omitempty"`
	Missing   []MissingParamInfo        `json:"missing,omitempty"`

	UserConfirmed bool `json:"user_confirmed"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	ConfirmedAt *time.Time `json:"confirmed_at,omitempty"`
	ExpiresAt   time.Time  `json:"expires_at"`

	// Error is the captured failure message for FAILED sessions.
	Error string `json:"error,omitempty"`
}

// IsExpired reports whether the session TTL has elapsed.
func (s *CollectSession) IsExpired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// CanCollect reports whether ProcessUserInput may run: only in INIT or
// COLLECTING, not expired, and not cancelled.
func (s *CollectSession) CanCollect(now time.Time) bool {
	if s.IsExpired(now) {
		return false
	}
	return s.State == SessionInit || s.State == SessionCollecting
}

// Values flattens the collected map into a plain parameter bag.
func (s *CollectSession) Values() map[string]any {
	out := make(map[string]any, len(s.Collected))
	for name, p := range s.Collected {
		out[name] = p.Value
	}
	return out
}
