// Copyright (C) 2026 Harbor AI (oss@harborai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import "time"

// =============================================================================
// Plan and Step Types
// =============================================================================

// StepType tags one unit of work inside a plan and selects its handler.
type StepType string

const (
	StepTypeQuery           StepType = "query"
	StepTypeInput           StepType = "input"
	StepTypeExecute         StepType = "execute"
	StepTypeAPICall         StepType = "api-call"
	StepTypeInternalService StepType = "internal-service"
	StepTypeValidation      StepType = "validation"
)

// PlanStatus is the plan-level state.
type PlanStatus string

const (
	PlanPending      PlanStatus = "PENDING"
	PlanInProgress   PlanStatus = "IN_PROGRESS"
	PlanCompleted    PlanStatus = "COMPLETED"
	PlanFailed       PlanStatus = "FAILED"
	PlanWaitingInput PlanStatus = "WAITING_INPUT"
	PlanCancelled    PlanStatus = "CANCELLED"
	PlanTimeout      PlanStatus = "TIMEOUT"
	PlanPartial      PlanStatus = "PARTIAL"
)

// IsTerminal reports whether the plan can never advance again.
// WAITING_INPUT is deliberately non-terminal: Resume re-enters IN_PROGRESS
// at the same cursor.
func (s PlanStatus) IsTerminal() bool {
	switch s {
	case PlanCompleted, PlanFailed, PlanCancelled, PlanTimeout, PlanPartial:
		return true
	}
	return false
}

// StepStatus mirrors the plan granularity at step level.
type StepStatus string

const (
	StepPending      StepStatus = "PENDING"
	StepInProgress   StepStatus = "IN_PROGRESS"
	StepCompleted    StepStatus = "COMPLETED"
	StepFailed       StepStatus = "FAILED"
	StepWaitingInput StepStatus = "WAITING_INPUT"
	StepSkipped      StepStatus = "SKIPPED"
)

// IsTerminal reports whether the step has finished. Step statuses are
// monotonic: a step never regresses from a terminal state.
func (s StepStatus) IsTerminal() bool {
	switch s {
	case StepCompleted, StepFailed, StepSkipped:
		return true
	}
	return false
}

// ExecutionStep is one unit of work inside a plan. The owning plan is the
// only mutator after generation.
type ExecutionStep struct {
	ID    string   `json:"id"`
	Name  string   `json:"name,omitempty"`
	Type  StepType `json:"type"`
	Order int      `json:"order"`

	// Inputs are the resolved input values, bound at generation time or
	// filled during execution (Resume merges user-supplied values here).
	Inputs map[string]any `json:"inputs,omitempty"`

	// Outputs are recorded once the step completes.
	Outputs map[string]any `json:"outputs,omitempty"`

	Status StepStatus `json:"status"`
	Error  string     `json:"error,omitempty"`

	// Prompt and Options are set when the step suspends for user input.
	Prompt  string   `json:"prompt,omitempty"`
	Options []string `json:"options,omitempty"`

	// PrevBindings are the PREVIOUS_STEP inputs still unresolved at
	// generation time; the executor fills them from upstream outputs.
	PrevBindings []InputBinding `json:"prev_bindings,omitempty"`

	Binding *BindingSpec   `json:"binding,omitempty"`
	Retry   *RetryStrategy `json:"retry,omitempty"`
}

// ExecutionPlan is a run instance of an action: the ordered, parameter-bound
// step sequence plus a cursor and status.
//
// Ownership: the plan exclusively owns its Steps slice; no step is shared
// across plans. Created by the plan generator; mutated only by the plan
// executor.
type ExecutionPlan struct {
	ID       string `json:"id"`
	ActionID string `json:"action_id"`

	// RawInput is the free text the plan originated from.
	RawInput string `json:"raw_input,omitempty"`

	// Params is the parameter bag known at generation time.
	Params map[string]any `json:"params,omitempty"`

	Steps  []ExecutionStep `json:"steps"`
	Cursor int             `json:"cursor"`
	Status PlanStatus      `json:"status"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	ExpiresAt   time.Time  `json:"expires_at"`

	// Result holds the final output of the last completed step.
	Result any `json:"result,omitempty"`

	// Error is the captured failure message for FAILED plans.
	Error string `json:"error,omitempty"`
}

// CurrentStep returns the step under the cursor, or nil when the cursor is
// past the end.
func (p *ExecutionPlan) CurrentStep() *ExecutionStep {
	if p.Cursor < 0 || p.Cursor >= len(p.Steps) {
		return nil
	}
	return &p.Steps[p.Cursor]
}

// IsExpired reports whether the plan's expiry timestamp has passed.
func (p *ExecutionPlan) IsExpired(now time.Time) bool {
	return !p.ExpiresAt.IsZero() && now.After(p.ExpiresAt)
}
