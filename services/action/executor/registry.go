// Copyright (C) 2026 Harbor AI (oss@harborai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package executor drives execution plans through their step state machine.
package executor

import (
	"context"
	"sync"

	"github.com/HarborAI/HarborFlow/services/action/datatypes"
)

// =============================================================================
// Step Executor Contract
// =============================================================================

// StepResult is the outcome of one step handler invocation.
type StepResult struct {
	// Outputs become the step's recorded outputs and feed PREVIOUS_STEP
	// bindings of later steps.
	Outputs map[string]any

	// NeedsInput parks the step (and the plan) in WAITING_INPUT. Prompt
	// and Options describe what to ask the user for.
	NeedsInput bool
	Prompt     string
	Options    []string
}

// StepExecutor handles one step type.
type StepExecutor interface {
	// Type returns the step type this executor handles.
	Type() datatypes.StepType

	// Priority breaks ties when several executors claim the same type;
	// the highest wins.
	Priority() int

	// ExecuteStep runs the step. A returned error fails the step.
	ExecuteStep(ctx context.Context, plan *datatypes.ExecutionPlan, step *datatypes.ExecutionStep) (*StepResult, error)
}

// =============================================================================
// Registry
// =============================================================================

// Registry maps step types to their highest-priority executor.
//
// # Thread Safety
//
// Safe for concurrent registration and lookup.
type Registry struct {
	mu       sync.RWMutex
	handlers map[datatypes.StepType]StepExecutor
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[datatypes.StepType]StepExecutor)}
}

// Register installs exec for its declared type. When a handler for the type
// already exists, the one with the higher Priority stays.
func (r *Registry) Register(exec StepExecutor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := exec.Type()
	if cur, ok := r.handlers[t]; ok && cur.Priority() >= exec.Priority() {
		return
	}
	r.handlers[t] = exec
}

// Lookup returns the executor for a step type, or (nil, false).
func (r *Registry) Lookup(t datatypes.StepType) (StepExecutor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	exec, ok := r.handlers[t]
	return exec, ok
}

// Types lists the registered step types.
func (r *Registry) Types() []datatypes.StepType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]datatypes.StepType, 0, len(r.handlers))
	for t := range r.handlers {
		out = append(out, t)
	}
	return out
}
