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
	"strings"

	"github.com/HarborAI/HarborFlow/services/action/datatypes"
	"github.com/HarborAI/HarborFlow/services/action/dispatch"
	"github.com/HarborAI/HarborFlow/services/action/validation"
)

// =============================================================================
// Input Step
// =============================================================================

// InputStepExecutor handles "input" steps: it suspends the plan until the
// step's inputs have been supplied, then passes them through as outputs.
type InputStepExecutor struct{}

func NewInputStepExecutor() *InputStepExecutor { return &InputStepExecutor{} }

func (e *InputStepExecutor) Type() datatypes.StepType { return datatypes.StepTypeInput }
func (e *InputStepExecutor) Priority() int            { return 0 }

func (e *InputStepExecutor) ExecuteStep(ctx context.Context, p *datatypes.ExecutionPlan, step *datatypes.ExecutionStep) (*StepResult, error) {
	if len(step.Inputs) == 0 {
		prompt := step.Prompt
		if prompt == "" {
			prompt = fmt.Sprintf("Please provide input for %s", step.Name)
		}
		return &StepResult{NeedsInput: true, Prompt: prompt, Options: step.Options}, nil
	}
	return &StepResult{Outputs: step.Inputs}, nil
}

// =============================================================================
// Validation Step
// =============================================================================

// SchemaResolver looks up the parameter schema backing a plan.
type SchemaResolver interface {
	ParamSpecs(ctx context.Context, actionID string) ([]datatypes.ParameterSpec, error)
}

// ValidationStepExecutor handles "validation" steps by checking the step's
// inputs against the owning action's parameter schema. Missing required
// values suspend the plan with a combined prompt; invalid values fail the
// step.
type ValidationStepExecutor struct {
	schemas SchemaResolver
}

func NewValidationStepExecutor(schemas SchemaResolver) *ValidationStepExecutor {
	return &ValidationStepExecutor{schemas: schemas}
}

func (e *ValidationStepExecutor) Type() datatypes.StepType { return datatypes.StepTypeValidation }
func (e *ValidationStepExecutor) Priority() int            { return 0 }

func (e *ValidationStepExecutor) ExecuteStep(ctx context.Context, p *datatypes.ExecutionPlan, step *datatypes.ExecutionStep) (*StepResult, error) {
	specs, err := e.schemas.ParamSpecs(ctx, p.ActionID)
	if err != nil {
		return nil, err
	}

	values := make(map[string]any, len(p.Params)+len(step.Inputs))
	for k, v := range p.Params {
		values[k] = v
	}
	for k, v := range step.Inputs {
		values[k] = v
	}

	res := validation.Validate(specs, values)
	if len(res.FieldErrors) > 0 {
		parts := make([]string, 0, len(res.FieldErrors))
		for _, fe := range res.FieldErrors {
			parts = append(parts, fmt.Sprintf("%s: %s", fe.Name, fe.Message))
		}
		return nil, datatypes.NewEngineError(datatypes.ErrCodeInvalidPlan,
			"parameter validation failed: "+strings.Join(parts, "; "), false)
	}
	if len(res.Missing) > 0 {
		prompts := make([]string, 0, len(res.Missing))
		var options []string
		for _, spec := range res.Missing {
			prompt := spec.Prompt
			if prompt == "" {
				prompt = fmt.Sprintf("Please provide %s", spec.Name)
			}
			prompts = append(prompts, prompt)
			if spec.Type == datatypes.ParamTypeEnum && len(options) == 0 {
				options = spec.EnumValues
			}
		}
		return &StepResult{
			NeedsInput: true,
			Prompt:     strings.Join(prompts, " "),
			Options:    options,
		}, nil
	}

	// Defaults and coercions flow into the plan's bag for later steps.
	if p.Params == nil {
		p.Params = make(map[string]any)
	}
	for k, v := range res.Defaulted {
		p.Params[k] = v
	}
	for k, v := range res.Coerced {
		p.Params[k] = v
	}
	return &StepResult{Outputs: map[string]any{"validated": true}}, nil
}

// =============================================================================
// Dispatch-Backed Steps
// =============================================================================

// DispatchStepExecutor handles leaf step types by routing the step's binding
// through the transport factory. One instance is registered per step type it
// should cover (execute, api-call, internal-service, query).
type DispatchStepExecutor struct {
	factory  *dispatch.Factory
	stepType datatypes.StepType
}

// NewDispatchStepExecutor creates a dispatch-backed handler for stepType.
func NewDispatchStepExecutor(factory *dispatch.Factory, stepType datatypes.StepType) *DispatchStepExecutor {
	return &DispatchStepExecutor{factory: factory, stepType: stepType}
}

func (e *DispatchStepExecutor) Type() datatypes.StepType { return e.stepType }
func (e *DispatchStepExecutor) Priority() int            { return 0 }

func (e *DispatchStepExecutor) ExecuteStep(ctx context.Context, p *datatypes.ExecutionPlan, step *datatypes.ExecutionStep) (*StepResult, error) {
	params := make(map[string]any, len(p.Params)+len(step.Inputs))
	for k, v := range p.Params {
		params[k] = v
	}
	for k, v := range step.Inputs {
		params[k] = v
	}

	res, err := e.factory.Dispatch(ctx, &dispatch.InvocationRequest{
		ActionID: p.ActionID,
		UserID:   stringParam(params, "user_id"),
		SystemID: stringParam(params, "system_id"),
		Binding:  step.Binding,
		Params:   params,
	})
	if err != nil {
		return nil, err
	}
	if !res.Success {
		return nil, datatypes.NewEngineError(res.Code, res.Error, res.Code == datatypes.ErrCodeDownstream)
	}
	return &StepResult{Outputs: res.Outputs}, nil
}

// stringParam reads a string value out of the parameter bag, or "" when
// absent or not a string.
func stringParam(params map[string]any, key string) string {
	s, _ := params[key].(string)
	return s
}

// RegisterBuiltins wires the standard handlers into reg.
func RegisterBuiltins(reg *Registry, factory *dispatch.Factory, schemas SchemaResolver) {
	reg.Register(NewInputStepExecutor())
	reg.Register(NewValidationStepExecutor(schemas))
	for _, t := range []datatypes.StepType{
		datatypes.StepTypeExecute,
		datatypes.StepTypeAPICall,
		datatypes.StepTypeInternalService,
		datatypes.StepTypeQuery,
	} {
		reg.Register(NewDispatchStepExecutor(factory, t))
	}
}
