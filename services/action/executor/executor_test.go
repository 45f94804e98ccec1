// Copyright (C) 2026 Harbor AI (oss@harborai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/HarborAI/HarborFlow/services/action/datatypes"
)

// =============================================================================
// Test Fixtures
// =============================================================================

// funcExecutor adapts a function to the StepExecutor interface.
type funcExecutor struct {
	stepType datatypes.StepType
	priority int
	fn       func(ctx context.Context, p *datatypes.ExecutionPlan, step *datatypes.ExecutionStep) (*StepResult, error)
}

func (f funcExecutor) Type() datatypes.StepType { return f.stepType }
func (f funcExecutor) Priority() int            { return f.priority }
func (f funcExecutor) ExecuteStep(ctx context.Context, p *datatypes.ExecutionPlan, step *datatypes.ExecutionStep) (*StepResult, error) {
	return f.fn(ctx, p, step)
}

func passThrough(stepType datatypes.StepType) funcExecutor {
	return funcExecutor{
		stepType: stepType,
		fn: func(_ context.Context, _ *datatypes.ExecutionPlan, step *datatypes.ExecutionStep) (*StepResult, error) {
			return &StepResult{Outputs: step.Inputs}, nil
		},
	}
}

func makePlan(steps ...datatypes.ExecutionStep) *datatypes.ExecutionPlan {
	return &datatypes.ExecutionPlan{
		ID:        "p-1",
		ActionID:  "a-1",
		Status:    datatypes.PlanPending,
		Steps:     steps,
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(time.Hour),
	}
}

func newTestExecutor(handlers ...StepExecutor) *PlanExecutor {
	reg := NewRegistry()
	for _, h := range handlers {
		reg.Register(h)
	}
	return NewPlanExecutor(reg, nil)
}

// =============================================================================
// Happy Path Tests
// =============================================================================

func TestExecute_RunsStepsInOrder(t *testing.T) {
	var order []string
	exec := newTestExecutor(funcExecutor{
		stepType: datatypes.StepTypeExecute,
		fn: func(_ context.Context, _ *datatypes.ExecutionPlan, step *datatypes.ExecutionStep) (*StepResult, error) {
			order = append(order, step.ID)
			return &StepResult{Outputs: map[string]any{"step": step.ID}}, nil
		},
	})

	p := makePlan(
		datatypes.ExecutionStep{ID: "s1", Type: datatypes.StepTypeExecute},
		datatypes.ExecutionStep{ID: "s2", Type: datatypes.StepTypeExecute},
	)
	res, err := exec.Execute(context.Background(), p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if res.Status != datatypes.PlanCompleted {
		t.Errorf("expected COMPLETED, got %s", res.Status)
	}
	if len(order) != 2 || order[0] != "s1" || order[1] != "s2" {
		t.Errorf("expected s1 then s2, got %v", order)
	}
	if p.CompletedAt == nil {
		t.Error("expected CompletedAt stamped")
	}

	// The plan result is the last step's outputs.
	result, ok := res.Result.(map[string]any)
	if !ok || result["step"] != "s2" {
		t.Errorf("expected last step outputs as result, got %v", res.Result)
	}
}

func TestExecute_ZeroStepPlanCompletes(t *testing.T) {
	exec := newTestExecutor()

	res, err := exec.Execute(context.Background(), makePlan())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != datatypes.PlanCompleted {
		t.Errorf("expected zero-step plan to complete, got %s", res.Status)
	}
	if res.Result != nil {
		t.Errorf("expected no result for zero-step plan, got %v", res.Result)
	}
}

func TestExecute_TerminalPlanRejected(t *testing.T) {
	exec := newTestExecutor()
	p := makePlan()
	p.Status = datatypes.PlanCompleted

	if _, err := exec.Execute(context.Background(), p); err == nil {
		t.Error("expected error when executing a terminal plan")
	}
}

// =============================================================================
// Failure Tests
// =============================================================================

func TestExecute_NoHandlerFailsPlan(t *testing.T) {
	exec := newTestExecutor() // empty registry
	p := makePlan(datatypes.ExecutionStep{ID: "s1", Type: datatypes.StepTypeAPICall})

	res, err := exec.Execute(context.Background(), p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if res.Status != datatypes.PlanFailed {
		t.Errorf("expected FAILED, got %s", res.Status)
	}
	if p.Steps[0].Status != datatypes.StepFailed {
		t.Errorf("expected step FAILED, got %s", p.Steps[0].Status)
	}
	if res.Error == "" {
		t.Error("expected a failure message naming the missing executor")
	}
}

func TestExecute_StepErrorFailsPlan(t *testing.T) {
	exec := newTestExecutor(funcExecutor{
		stepType: datatypes.StepTypeExecute,
		fn: func(_ context.Context, _ *datatypes.ExecutionPlan, _ *datatypes.ExecutionStep) (*StepResult, error) {
			return nil, errors.New("downstream exploded")
		},
	})
	p := makePlan(
		datatypes.ExecutionStep{ID: "s1", Type: datatypes.StepTypeExecute},
		datatypes.ExecutionStep{ID: "s2", Type: datatypes.StepTypeExecute},
	)

	res, err := exec.Execute(context.Background(), p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if res.Status != datatypes.PlanFailed {
		t.Errorf("expected FAILED, got %s", res.Status)
	}
	if p.Steps[0].Error == "" {
		t.Error("expected step error recorded")
	}
	// The second step never ran.
	if p.Steps[1].Status != datatypes.StepPending {
		t.Errorf("expected s2 untouched, got %s", p.Steps[1].Status)
	}
}

func TestExecute_HandlerPanicFailsPlan(t *testing.T) {
	exec := newTestExecutor(funcExecutor{
		stepType: datatypes.StepTypeExecute,
		fn: func(_ context.Context, _ *datatypes.ExecutionPlan, _ *datatypes.ExecutionStep) (*StepResult, error) {
			panic("handler exploded")
		},
	})
	p := makePlan(datatypes.ExecutionStep{ID: "s1", Type: datatypes.StepTypeExecute})

	res, err := exec.Execute(context.Background(), p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if res.Status != datatypes.PlanFailed {
		t.Errorf("expected FAILED after handler panic, got %s", res.Status)
	}
	if p.Steps[0].Status != datatypes.StepFailed {
		t.Errorf("expected s1 FAILED, got %s", p.Steps[0].Status)
	}
	if p.Steps[0].Error == "" {
		t.Error("expected panic recorded as step error")
	}
}

func TestExecute_NormalizesZeroValueStepStatus(t *testing.T) {
	exec := newTestExecutor(funcExecutor{
		stepType: datatypes.StepTypeInput,
		fn: func(_ context.Context, _ *datatypes.ExecutionPlan, _ *datatypes.ExecutionStep) (*StepResult, error) {
			return &StepResult{NeedsInput: true, Prompt: "City?"}, nil
		},
	})
	p := makePlan(
		datatypes.ExecutionStep{ID: "s1", Type: datatypes.StepTypeInput},
		datatypes.ExecutionStep{ID: "s2", Type: datatypes.StepTypeInput},
	)
	if p.Steps[1].Status != "" {
		t.Fatalf("fixture should leave status unset, got %s", p.Steps[1].Status)
	}

	res, err := exec.Execute(context.Background(), p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != datatypes.PlanWaitingInput {
		t.Fatalf("expected WAITING_INPUT, got %s", res.Status)
	}
	// The step the run never reached holds an explicit PENDING, not the
	// zero value.
	if p.Steps[1].Status != datatypes.StepPending {
		t.Errorf("expected s2 PENDING, got %q", p.Steps[1].Status)
	}
}

func TestExecute_ExpiredPlanTimesOut(t *testing.T) {
	exec := newTestExecutor(passThrough(datatypes.StepTypeExecute))
	p := makePlan(datatypes.ExecutionStep{ID: "s1", Type: datatypes.StepTypeExecute})
	p.ExpiresAt = time.Now().Add(-time.Minute)

	res, err := exec.Execute(context.Background(), p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != datatypes.PlanTimeout {
		t.Errorf("expected TIMEOUT, got %s", res.Status)
	}
}

// =============================================================================
// Waiting / Resume Tests
// =============================================================================

func TestExecute_WaitsForInputAndResumes(t *testing.T) {
	exec := newTestExecutor(funcExecutor{
		stepType: datatypes.StepTypeInput,
		fn: func(_ context.Context, _ *datatypes.ExecutionPlan, step *datatypes.ExecutionStep) (*StepResult, error) {
			if len(step.Inputs) == 0 {
				return &StepResult{NeedsInput: true, Prompt: "City?", Options: []string{"Oslo", "Paris"}}, nil
			}
			return &StepResult{Outputs: step.Inputs}, nil
		},
	})
	p := makePlan(datatypes.ExecutionStep{ID: "s1", Type: datatypes.StepTypeInput})

	res, err := exec.Execute(context.Background(), p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != datatypes.PlanWaitingInput {
		t.Fatalf("expected WAITING_INPUT, got %s", res.Status)
	}
	if res.Prompt != "City?" || len(res.Options) != 2 {
		t.Errorf("expected prompt and options surfaced, got %q %v", res.Prompt, res.Options)
	}

	res, err = exec.Resume(context.Background(), p.ID, map[string]any{"city": "Oslo"})
	if err != nil {
		t.Fatalf("unexpected resume error: %v", err)
	}
	if res.Status != datatypes.PlanCompleted {
		t.Errorf("expected COMPLETED after resume, got %s", res.Status)
	}
	out, _ := res.Result.(map[string]any)
	if out["city"] != "Oslo" {
		t.Errorf("expected resumed input in outputs, got %v", res.Result)
	}
}

func TestResume_UnknownPlan(t *testing.T) {
	exec := newTestExecutor()

	_, err := exec.Resume(context.Background(), "nope", nil)
	if datatypes.CodeOf(err) != datatypes.ErrCodeNotFound {
		t.Errorf("expected NOT_FOUND, got %v", err)
	}
}

func TestResume_NotWaiting(t *testing.T) {
	exec := newTestExecutor(passThrough(datatypes.StepTypeExecute))
	p := makePlan(datatypes.ExecutionStep{ID: "s1", Type: datatypes.StepTypeExecute})

	if _, err := exec.Execute(context.Background(), p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := exec.Resume(context.Background(), p.ID, nil); datatypes.CodeOf(err) != datatypes.ErrCodeInvalidState {
		t.Errorf("expected INVALID_STATE resuming a completed plan, got %v", err)
	}
}

// =============================================================================
// Cancel / Status / Release Tests
// =============================================================================

func TestCancel_MarksRemainingStepsSkipped(t *testing.T) {
	exec := newTestExecutor(funcExecutor{
		stepType: datatypes.StepTypeInput,
		fn: func(_ context.Context, _ *datatypes.ExecutionPlan, _ *datatypes.ExecutionStep) (*StepResult, error) {
			return &StepResult{NeedsInput: true, Prompt: "?"}, nil
		},
	})
	p := makePlan(
		datatypes.ExecutionStep{ID: "s1", Type: datatypes.StepTypeInput},
		datatypes.ExecutionStep{ID: "s2", Type: datatypes.StepTypeExecute},
	)
	if _, err := exec.Execute(context.Background(), p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := exec.Cancel(p.ID); err != nil {
		t.Fatalf("unexpected cancel error: %v", err)
	}
	if p.Status != datatypes.PlanCancelled {
		t.Errorf("expected CANCELLED, got %s", p.Status)
	}
	for _, s := range p.Steps {
		if s.Status != datatypes.StepSkipped {
			t.Errorf("expected step %s SKIPPED, got %s", s.ID, s.Status)
		}
	}

	// Cancel is not idempotent: a second call reports the terminal state.
	if err := exec.Cancel(p.ID); datatypes.CodeOf(err) != datatypes.ErrCodeInvalidState {
		t.Errorf("expected INVALID_STATE on second cancel, got %v", err)
	}
}

func TestGetStatus_AndRelease(t *testing.T) {
	exec := newTestExecutor(passThrough(datatypes.StepTypeExecute))
	p := makePlan(datatypes.ExecutionStep{ID: "s1", Type: datatypes.StepTypeExecute})

	if _, err := exec.Execute(context.Background(), p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := exec.GetStatus(p.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != datatypes.PlanCompleted {
		t.Errorf("expected COMPLETED from GetStatus, got %s", got.Status)
	}

	exec.Release(p.ID)
	if _, err := exec.GetStatus(p.ID); datatypes.CodeOf(err) != datatypes.ErrCodeNotFound {
		t.Errorf("expected NOT_FOUND after release, got %v", err)
	}
}

func TestRelease_KeepsNonTerminalPlans(t *testing.T) {
	exec := newTestExecutor(funcExecutor{
		stepType: datatypes.StepTypeInput,
		fn: func(_ context.Context, _ *datatypes.ExecutionPlan, _ *datatypes.ExecutionStep) (*StepResult, error) {
			return &StepResult{NeedsInput: true, Prompt: "?"}, nil
		},
	})
	p := makePlan(datatypes.ExecutionStep{ID: "s1", Type: datatypes.StepTypeInput})
	if _, err := exec.Execute(context.Background(), p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	exec.Release(p.ID)
	if _, err := exec.GetStatus(p.ID); err != nil {
		t.Errorf("expected waiting plan to stay tracked, got %v", err)
	}
}

// =============================================================================
// Previous-Step Binding Tests
// =============================================================================

func TestExecute_BindsPreviousStepOutputs(t *testing.T) {
	exec := newTestExecutor(
		funcExecutor{
			stepType: datatypes.StepTypeAPICall,
			fn: func(_ context.Context, _ *datatypes.ExecutionPlan, step *datatypes.ExecutionStep) (*StepResult, error) {
				if step.ID == "create" {
					return &StepResult{Outputs: map[string]any{
						"response": map[string]any{"order_id": "o-42"},
					}}, nil
				}
				return &StepResult{Outputs: step.Inputs}, nil
			},
		},
	)
	p := makePlan(
		datatypes.ExecutionStep{ID: "create", Type: datatypes.StepTypeAPICall},
		datatypes.ExecutionStep{
			ID:   "confirm",
			Type: datatypes.StepTypeAPICall,
			PrevBindings: []datatypes.InputBinding{
				{Name: "order_id", Source: datatypes.SourcePreviousStep, SourceStep: "create", Path: "response.order_id"},
			},
		},
	)

	res, err := exec.Execute(context.Background(), p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != datatypes.PlanCompleted {
		t.Fatalf("expected COMPLETED, got %s (%s)", res.Status, res.Error)
	}
	out, _ := res.Result.(map[string]any)
	if out["order_id"] != "o-42" {
		t.Errorf("expected upstream output bound into the second step, got %v", res.Result)
	}
}

// =============================================================================
// Registry Tests
// =============================================================================

func TestRegistry_HigherPriorityWins(t *testing.T) {
	reg := NewRegistry()
	low := funcExecutor{stepType: datatypes.StepTypeExecute, priority: 1}
	high := funcExecutor{stepType: datatypes.StepTypeExecute, priority: 10}

	reg.Register(low)
	reg.Register(high)
	if got, _ := reg.Lookup(datatypes.StepTypeExecute); got.Priority() != 10 {
		t.Errorf("expected priority 10 handler, got %d", got.Priority())
	}

	// Registering a lower priority afterwards does not displace it.
	reg.Register(low)
	if got, _ := reg.Lookup(datatypes.StepTypeExecute); got.Priority() != 10 {
		t.Errorf("expected priority 10 handler to stay, got %d", got.Priority())
	}
}

func TestRegistry_LookupMiss(t *testing.T) {
	reg := NewRegistry()
	if _, ok := reg.Lookup(datatypes.StepTypeQuery); ok {
		t.Error("expected lookup miss on empty registry")
	}
}
