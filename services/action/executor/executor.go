// Copyright (C) 2026 Harbor AI (oss@harborai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/HarborAI/HarborFlow/services/action/datatypes"
	"github.com/HarborAI/HarborFlow/services/action/plan"
)

// =============================================================================
// Metrics
// =============================================================================

var (
	plansTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "harborflow",
		Subsystem: "executor",
		Name:      "plans_total",
		Help:      "Plan runs by terminal outcome.",
	}, []string{"outcome"})

	stepLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "harborflow",
		Subsystem: "executor",
		Name:      "step_latency_seconds",
		Help:      "Per-step handler latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"step_type"})

	livePlans = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "harborflow",
		Subsystem: "executor",
		Name:      "live_plans",
		Help:      "Plans currently tracked (non-terminal or awaiting pickup).",
	})
)

var tracer = otel.Tracer("harborflow.action.executor")

// =============================================================================
// Plan Executor
// =============================================================================

// ExecutionResult is the caller-facing outcome of Execute or Resume.
type ExecutionResult struct {
	PlanID string              `json:"plan_id"`
	Status datatypes.PlanStatus `json:"status"`

	// Result is the last completed step's outputs when the plan completed.
	Result any `json:"result,omitempty"`

	// Error carries the failure message for FAILED and TIMEOUT plans.
	Error string `json:"error,omitempty"`

	// Prompt and Options are populated when the plan parked in
	// WAITING_INPUT.
	Prompt  string   `json:"prompt,omitempty"`
	Options []string `json:"options,omitempty"`
}

// PlanExecutor runs plans step by step against a handler registry.
//
// # Description
//
// Each plan advances PENDING -> IN_PROGRESS and then through its steps in
// cursor order. A step with no registered handler fails the step and the
// plan. A handler asking for input parks both step and plan in
// WAITING_INPUT until Resume supplies values. Expiry is checked before
// every step.
//
// # Thread Safety
//
// Safe for concurrent use. Each tracked plan is guarded so two goroutines
// cannot drive the same plan at once.
type PlanExecutor struct {
	registry *Registry
	logger   *slog.Logger

	mu    sync.RWMutex
	plans map[string]*trackedPlan
}

type trackedPlan struct {
	mu   sync.Mutex
	plan *datatypes.ExecutionPlan
}

// NewPlanExecutor creates a PlanExecutor over the given registry.
func NewPlanExecutor(registry *Registry, logger *slog.Logger) *PlanExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	return &PlanExecutor{
		registry: registry,
		logger:   logger,
		plans:    make(map[string]*trackedPlan),
	}
}

// Registry exposes the step handler registry for wiring.
func (e *PlanExecutor) Registry() *Registry { return e.registry }

// Execute starts p and drives it until a terminal state or WAITING_INPUT.
// The plan is tracked afterwards so Resume, Cancel and GetStatus can find
// it by id.
func (e *PlanExecutor) Execute(ctx context.Context, p *datatypes.ExecutionPlan) (*ExecutionResult, error) {
	ctx, span := tracer.Start(ctx, "executor.Execute", trace.WithAttributes(
		attribute.String("plan.id", p.ID),
		attribute.String("plan.action_id", p.ActionID),
		attribute.Int("plan.steps", len(p.Steps)),
	))
	defer span.End()

	if p.Status.IsTerminal() {
		return nil, datatypes.NewEngineError(datatypes.ErrCodeInvalidState,
			fmt.Sprintf("plan %s is already %s", p.ID, p.Status), false)
	}

	tp := e.track(p)
	tp.mu.Lock()
	defer tp.mu.Unlock()

	now := time.Now()
	p.Status = datatypes.PlanInProgress
	if p.StartedAt == nil {
		p.StartedAt = &now
	}
	// Callers may hand over plans whose steps were never given a status.
	for i := range p.Steps {
		if p.Steps[i].Status == "" {
			p.Steps[i].Status = datatypes.StepPending
		}
	}

	res := e.run(ctx, p)
	e.finish(span, p, res)
	return res, nil
}

// Resume merges user-supplied values into the waiting step and continues
// the plan from the cursor.
func (e *PlanExecutor) Resume(ctx context.Context, planID string, input map[string]any) (*ExecutionResult, error) {
	ctx, span := tracer.Start(ctx, "executor.Resume", trace.WithAttributes(
		attribute.String("plan.id", planID),
	))
	defer span.End()

	tp, ok := e.lookup(planID)
	if !ok {
		return nil, datatypes.NewEngineError(datatypes.ErrCodeNotFound,
			fmt.Sprintf("plan %s not found", planID), false)
	}
	tp.mu.Lock()
	defer tp.mu.Unlock()

	p := tp.plan
	if p.Status != datatypes.PlanWaitingInput {
		return nil, datatypes.NewEngineError(datatypes.ErrCodeInvalidState,
			fmt.Sprintf("plan %s is %s, not WAITING_INPUT", planID, p.Status), false)
	}

	step := p.CurrentStep()
	if step == nil {
		return nil, datatypes.NewEngineError(datatypes.ErrCodeInvalidState,
			fmt.Sprintf("plan %s has no step under its cursor", planID), false)
	}
	if step.Inputs == nil {
		step.Inputs = make(map[string]any, len(input))
	}
	for k, v := range input {
		step.Inputs[k] = v
	}
	step.Status = datatypes.StepPending
	step.Prompt = ""
	step.Options = nil
	p.Status = datatypes.PlanInProgress

	res := e.run(ctx, p)
	e.finish(span, p, res)
	return res, nil
}

// Cancel moves a non-terminal plan to CANCELLED. Every step that has not
// finished is marked SKIPPED.
func (e *PlanExecutor) Cancel(planID string) error {
	tp, ok := e.lookup(planID)
	if !ok {
		return datatypes.NewEngineError(datatypes.ErrCodeNotFound,
			fmt.Sprintf("plan %s not found", planID), false)
	}
	tp.mu.Lock()
	defer tp.mu.Unlock()

	p := tp.plan
	if p.Status.IsTerminal() {
		return datatypes.NewEngineError(datatypes.ErrCodeInvalidState,
			fmt.Sprintf("plan %s is already %s", planID, p.Status), false)
	}
	for i := range p.Steps {
		if !p.Steps[i].Status.IsTerminal() {
			p.Steps[i].Status = datatypes.StepSkipped
		}
	}
	e.terminate(p, datatypes.PlanCancelled, "cancelled by caller")
	e.logger.Info("Plan cancelled", "plan_id", planID)
	return nil
}

// GetStatus returns the tracked plan, or a NOT_FOUND error.
func (e *PlanExecutor) GetStatus(planID string) (*datatypes.ExecutionPlan, error) {
	tp, ok := e.lookup(planID)
	if !ok {
		return nil, datatypes.NewEngineError(datatypes.ErrCodeNotFound,
			fmt.Sprintf("plan %s not found", planID), false)
	}
	tp.mu.Lock()
	defer tp.mu.Unlock()
	return tp.plan, nil
}

// Release drops a terminal plan from the tracking map. Non-terminal plans
// stay tracked.
func (e *PlanExecutor) Release(planID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if tp, ok := e.plans[planID]; ok && tp.plan.Status.IsTerminal() {
		delete(e.plans, planID)
		livePlans.Dec()
	}
}

// =============================================================================
// Run Loop
// =============================================================================

// run drives the plan from its cursor. Caller holds the plan lock.
func (e *PlanExecutor) run(ctx context.Context, p *datatypes.ExecutionPlan) *ExecutionResult {
	for p.Cursor < len(p.Steps) {
		if p.IsExpired(time.Now()) {
			e.terminate(p, datatypes.PlanTimeout, "plan expired before completion")
			return resultOf(p)
		}
		if err := ctx.Err(); err != nil {
			e.terminate(p, datatypes.PlanTimeout, err.Error())
			return resultOf(p)
		}

		step := &p.Steps[p.Cursor]
		if step.Status.IsTerminal() {
			p.Cursor++
			continue
		}

		handler, ok := e.registry.Lookup(step.Type)
		if !ok {
			step.Status = datatypes.StepFailed
			step.Error = fmt.Sprintf("no executor found for step type %q", step.Type)
			e.terminate(p, datatypes.PlanFailed, step.Error)
			e.logger.Error("No handler for step type",
				"plan_id", p.ID, "step_id", step.ID, "step_type", step.Type)
			return resultOf(p)
		}

		e.bindPreviousOutputs(p, step)
		step.Status = datatypes.StepInProgress

		start := time.Now()
		stepRes, err := e.invokeHandler(ctx, handler, p, step)
		stepLatency.WithLabelValues(string(step.Type)).Observe(time.Since(start).Seconds())

		if err != nil {
			step.Status = datatypes.StepFailed
			step.Error = err.Error()
			e.terminate(p, datatypes.PlanFailed, fmt.Sprintf("step %s failed: %s", step.ID, err))
			e.logger.Error("Step failed",
				"plan_id", p.ID, "step_id", step.ID, "step_type", step.Type, "error", err)
			return resultOf(p)
		}

		if stepRes != nil && stepRes.NeedsInput {
			step.Status = datatypes.StepWaitingInput
			step.Prompt = stepRes.Prompt
			step.Options = stepRes.Options
			p.Status = datatypes.PlanWaitingInput
			e.logger.Info("Plan waiting for input",
				"plan_id", p.ID, "step_id", step.ID, "prompt", stepRes.Prompt)
			return resultOf(p)
		}

		if stepRes != nil {
			step.Outputs = stepRes.Outputs
		}
		step.Status = datatypes.StepCompleted
		p.Cursor++
	}

	// Past the last step. A zero-step plan completes immediately here too.
	if len(p.Steps) > 0 {
		p.Result = p.Steps[len(p.Steps)-1].Outputs
	}
	e.terminate(p, datatypes.PlanCompleted, "")
	return resultOf(p)
}

// invokeHandler calls a step handler with panic containment. Registry
// handlers are caller-supplied, so a panic is surfaced as a step error
// rather than unwinding past the run loop with the plan IN_PROGRESS.
func (e *PlanExecutor) invokeHandler(ctx context.Context, handler StepExecutor, p *datatypes.ExecutionPlan, step *datatypes.ExecutionStep) (res *StepResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Step handler panicked",
				"plan_id", p.ID, "step_id", step.ID, "step_type", step.Type, "panic", r)
			res = nil
			err = datatypes.NewEngineError(datatypes.ErrCodeDownstream,
				fmt.Sprintf("step handler panicked: %v", r), false)
		}
	}()
	return handler.ExecuteStep(ctx, p, step)
}

// bindPreviousOutputs fills PREVIOUS_STEP inputs from completed steps. A
// binding names the source step and an optional dot path into its outputs.
func (e *PlanExecutor) bindPreviousOutputs(p *datatypes.ExecutionPlan, step *datatypes.ExecutionStep) {
	if len(step.PrevBindings) == 0 {
		return
	}
	for i := range p.Steps {
		src := &p.Steps[i]
		if src.Status != datatypes.StepCompleted || src.Outputs == nil {
			continue
		}
		for name, want := range pendingPrevBindings(step, src.ID) {
			if v, ok := plan.ResolvePath(src.Outputs, want); ok {
				if step.Inputs == nil {
					step.Inputs = make(map[string]any)
				}
				step.Inputs[name] = v
			}
		}
	}
}

// pendingPrevBindings lists the PREVIOUS_STEP inputs of step that name
// srcID and are still unresolved, keyed by input name with the dot path as
// value.
func pendingPrevBindings(step *datatypes.ExecutionStep, srcID string) map[string]string {
	out := make(map[string]string)
	for _, b := range step.PrevBindings {
		if b.SourceStep != srcID {
			continue
		}
		if _, have := step.Inputs[b.Name]; have {
			continue
		}
		out[b.Name] = b.Path
	}
	return out
}

// =============================================================================
// Internals
// =============================================================================

func (e *PlanExecutor) track(p *datatypes.ExecutionPlan) *trackedPlan {
	e.mu.Lock()
	defer e.mu.Unlock()
	if tp, ok := e.plans[p.ID]; ok {
		return tp
	}
	tp := &trackedPlan{plan: p}
	e.plans[p.ID] = tp
	livePlans.Inc()
	return tp
}

func (e *PlanExecutor) lookup(planID string) (*trackedPlan, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	tp, ok := e.plans[planID]
	return tp, ok
}

// terminate stamps a terminal (or waiting) status onto the plan.
func (e *PlanExecutor) terminate(p *datatypes.ExecutionPlan, status datatypes.PlanStatus, errMsg string) {
	p.Status = status
	if errMsg != "" {
		p.Error = errMsg
	}
	if status.IsTerminal() {
		now := time.Now()
		p.CompletedAt = &now
		plansTotal.WithLabelValues(string(status)).Inc()
	}
}

func (e *PlanExecutor) finish(span trace.Span, p *datatypes.ExecutionPlan, res *ExecutionResult) {
	span.SetAttributes(attribute.String("plan.status", string(p.Status)))
	if p.Status == datatypes.PlanFailed || p.Status == datatypes.PlanTimeout {
		span.SetStatus(codes.Error, p.Error)
	}
}

func resultOf(p *datatypes.ExecutionPlan) *ExecutionResult {
	res := &ExecutionResult{
		PlanID: p.ID,
		Status: p.Status,
		Result: p.Result,
		Error:  p.Error,
	}
	if p.Status == datatypes.PlanWaitingInput {
		if step := p.CurrentStep(); step != nil {
			res.Prompt = step.Prompt
			res.Options = step.Options
		}
	}
	return res
}
