// Copyright (C) 2026 Harbor AI (oss@harborai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package plan turns a static action definition into an ordered,
// parameter-bound execution plan.
package plan

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/HarborAI/HarborFlow/services/action/datatypes"
)

// DefaultTimeoutMinutes bounds plan lifetime when the action declares none.
const DefaultTimeoutMinutes = 30

// =============================================================================
// Generation Context
// =============================================================================

// Context carries the per-request inputs of one generation call.
type Context struct {
	// SessionID and UserID identify the originating conversation.
	SessionID string
	UserID    string

	// RawInput is the free text that triggered the action.
	RawInput string

	// Variables backs datatypes.SourceContext input bindings.
	Variables map[string]any

	// TimeoutOverride, when positive, replaces the action's declared
	// timeout.
	TimeoutOverride time.Duration

	// Now allows tests to pin the clock. Zero uses time.Now.
	Now time.Time
}

func (c *Context) now() time.Time {
	if c != nil && !c.Now.IsZero() {
		return c.Now
	}
	return time.Now()
}

// =============================================================================
// Generator
// =============================================================================

// Generator builds execution plans from action definitions.
//
// # Description
//
// One ExecutionStep is created per declared step definition, preserving
// declared order; an action with no steps gets exactly one synthetic step
// whose type derives from the action's own type. Input bindings are
// resolved by source; unresolved required inputs are left absent for
// validation to catch; the generator never fails on missing parameters.
//
// # Thread Safety
//
// Stateless. Safe for concurrent use.
type Generator struct{}

// NewGenerator creates a Generator.
func NewGenerator() *Generator {
	return &Generator{}
}

// Generate builds a PENDING plan for action with the given parameter bag.
func (g *Generator) Generate(action *datatypes.ActionDefinition, params map[string]any, genCtx *Context) *datatypes.ExecutionPlan {
	now := genCtx.now()

	p := &datatypes.ExecutionPlan{
		ID:        uuid.NewString(),
		ActionID:  action.ID,
		Params:    params,
		Status:    datatypes.PlanPending,
		CreatedAt: now,
		ExpiresAt: now.Add(planTimeout(action, genCtx)),
	}
	if genCtx != nil {
		p.RawInput = genCtx.RawInput
	}

	if len(action.Steps) == 0 {
		p.Steps = []datatypes.ExecutionStep{synthesizeStep(action, params)}
		return p
	}

	// Declared order wins regardless of slice order in the catalog file.
	defs := make([]datatypes.StepDefinition, len(action.Steps))
	copy(defs, action.Steps)
	sort.SliceStable(defs, func(i, j int) bool { return defs[i].Order < defs[j].Order })

	p.Steps = make([]datatypes.ExecutionStep, 0, len(defs))
	for i, def := range defs {
		p.Steps = append(p.Steps, buildStep(def, i, params, genCtx))
	}
	return p
}

// planTimeout resolves the plan lifetime.
func planTimeout(action *datatypes.ActionDefinition, genCtx *Context) time.Duration {
	if genCtx != nil && genCtx.TimeoutOverride > 0 {
		return genCtx.TimeoutOverride
	}
	minutes := action.TimeoutMinutes
	if minutes <= 0 {
		minutes = DefaultTimeoutMinutes
	}
	return time.Duration(minutes) * time.Minute
}

// synthesizeStep builds the single implicit step of a single-step action.
func synthesizeStep(action *datatypes.ActionDefinition, params map[string]any) datatypes.ExecutionStep {
	inputs := make(map[string]any, len(params))
	for k, v := range params {
		inputs[k] = v
	}
	return datatypes.ExecutionStep{
		ID:      uuid.NewString(),
		Name:    action.Name,
		Type:    syntheticStepType(action.Type),
		Order:   0,
		Inputs:  inputs,
		Status:  datatypes.StepPending,
		Binding: action.Binding,
	}
}

// syntheticStepType derives the implicit step type from the action type.
func syntheticStepType(t datatypes.ActionType) datatypes.StepType {
	switch t {
	case datatypes.ActionTypeAPICall:
		return datatypes.StepTypeAPICall
	case datatypes.ActionTypeInternalService:
		return datatypes.StepTypeInternalService
	default:
		return datatypes.StepTypeExecute
	}
}

// buildStep materializes one declared step, resolving its input bindings.
func buildStep(def datatypes.StepDefinition, index int, params map[string]any, genCtx *Context) datatypes.ExecutionStep {
	step := datatypes.ExecutionStep{
		ID:      def.ID,
		Name:    def.Name,
		Type:    def.Type,
		Order:   index,
		Inputs:  make(map[string]any, len(def.Inputs)),
		Status:  datatypes.StepPending,
		Binding: def.Binding,
		Retry:   def.Retry,
	}
	if step.ID == "" {
		step.ID = uuid.NewString()
	}

	for _, in := range def.Inputs {
		switch in.Source {
		case datatypes.SourceUserInput:
			if v, ok := params[in.Name]; ok {
				step.Inputs[in.Name] = v
			}
		case datatypes.SourceContext:
			if genCtx != nil && genCtx.Variables != nil {
				if v, ok := genCtx.Variables[in.Ref]; ok {
					step.Inputs[in.Name] = v
				}
			}
		case datatypes.SourcePreviousStep:
			// Resolved at execution time, once the source step has output.
			step.PrevBindings = append(step.PrevBindings, in)
		}
	}
	return step
}

// =============================================================================
// Step-Output Path Resolution
// =============================================================================

// ResolvePath walks a dot path ("response.order_id") into a value. An empty
// path returns the root. Returns (nil, false) on any missing segment.
func ResolvePath(root any, path string) (any, bool) {
	if path == "" {
		return root, root != nil
	}
	cur := root
	for _, seg := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// =============================================================================
// Plan Validation
// =============================================================================

// FieldError is one structural violation found by Validate.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationResult aggregates structural violations. Valid when empty.
type ValidationResult struct {
	Errors []FieldError `json:"errors,omitempty"`
}

// OK reports whether the plan passed all structural checks.
func (r *ValidationResult) OK() bool { return len(r.Errors) == 0 }

// Validate runs the explicit pre-execution structural pass: a plan is
// invalid if it has no action id, has zero steps, or any step lacks a step
// type. Each violation is reported field-level, not as one opaque failure.
func (g *Generator) Validate(p *datatypes.ExecutionPlan) *ValidationResult {
	res := &ValidationResult{}
	if p.ActionID == "" {
		res.Errors = append(res.Errors, FieldError{Field: "action_id", Message: "plan has no action id"})
	}
	if len(p.Steps) == 0 {
		res.Errors = append(res.Errors, FieldError{Field: "steps", Message: "plan has zero steps"})
	}
	for i := range p.Steps {
		if p.Steps[i].Type == "" {
			res.Errors = append(res.Errors, FieldError{
				Field:   fmt.Sprintf("steps[%d].type", i),
				Message: "step lacks a step type",
			})
		}
	}
	return res
}

// Optimize is the identity extension point. Deployments may replace the
// generator with one that reorders or merges steps; the default changes
// nothing.
func (g *Generator) Optimize(p *datatypes.ExecutionPlan) *datatypes.ExecutionPlan {
	return p
}
