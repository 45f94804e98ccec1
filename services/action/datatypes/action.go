// Copyright (C) 2026 Harbor AI (oss@harborai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes holds the shared value types of the HarborFlow action
// engine: catalog entries, match results, execution plans and collection
// sessions. Types here are plain data; behavior lives in the packages that
// own each lifecycle (matching, plan, executor, session).
package datatypes

import "time"

// =============================================================================
// Action Catalog Types
// =============================================================================

// ActionType classifies how a single-step action is carried out when it
// declares no explicit steps.
type ActionType string

const (
	ActionTypeAPICall         ActionType = "API_CALL"
	ActionTypeInternalService ActionType = "INTERNAL_SERVICE"
	ActionTypeRemoteTool      ActionType = "REMOTE_TOOL"
	ActionTypeComposite       ActionType = "COMPOSITE"
)

// ParamType is the declared type of an action parameter.
type ParamType string

const (
	ParamTypeString  ParamType = "string"
	ParamTypeNumber  ParamType = "number"
	ParamTypeBoolean ParamType = "boolean"
	ParamTypeDate    ParamType = "date"
	ParamTypeEnum    ParamType = "enum"
)

// ParamSource identifies where a step input value comes from at plan
// generation time.
type ParamSource string

const (
	// SourceUserInput pulls the value from the caller-supplied parameter bag.
	SourceUserInput ParamSource = "USER_INPUT"

	// SourcePreviousStep pulls the value from a named earlier step's recorded
	// output via a path expression.
	SourcePreviousStep ParamSource = "PREVIOUS_STEP"

	// SourceContext pulls the value from the generation context's variable map.
	SourceContext ParamSource = "CONTEXT"
)

// ParameterSpec declares a single parameter of an action.
//
// Description:
//
//	Immutable schema entry. Range bounds and pattern apply only when the
//	declared type supports them (number range, string pattern). EnumValues
//	is consulted only for ParamTypeEnum.
type ParameterSpec struct {
	// Name is the parameter identifier used in value bags.
	Name string `json:"name" yaml:"name"`

	// Type is the declared value type.
	Type ParamType `json:"type" yaml:"type"`

	// Required marks the parameter as mandatory before execution.
	Required bool `json:"required" yaml:"required"`

	// Default, when non-nil, backfills a missing value during validation.
	Default any `json:"default,omitempty" yaml:"default,omitempty"`

	// Pattern is an optional regular expression a string value must match.
	Pattern string `json:"pattern,omitempty" yaml:"pattern,omitempty"`

	// Min and Max bound numeric values when non-nil.
	Min *float64 `json:"min,omitempty" yaml:"min,omitempty"`
	Max *float64 `json:"max,omitempty" yaml:"max,omitempty"`

	// EnumValues lists the allowed values for ParamTypeEnum.
	EnumValues []string `json:"enum_values,omitempty" yaml:"enum_values,omitempty"`

	// Prompt is the human-readable question used when the value is missing.
	Prompt string `json:"prompt,omitempty" yaml:"prompt,omitempty"`

	// Description documents the parameter for extraction prompts.
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// InputBinding declares how one input of a step is resolved.
type InputBinding struct {
	// Name is the input parameter name as seen by the step handler.
	Name string `json:"name" yaml:"name"`

	// Source selects the resolution strategy.
	Source ParamSource `json:"source" yaml:"source"`

	// SourceStep names the earlier step whose output is read when
	// Source == SourcePreviousStep.
	SourceStep string `json:"source_step,omitempty" yaml:"source_step,omitempty"`

	// Path is a dot path into the source step's output map
	// (e.g. "response.order_id"). Empty selects the whole output.
	Path string `json:"path,omitempty" yaml:"path,omitempty"`

	// Ref is the context variable key when Source == SourceContext.
	Ref string `json:"ref,omitempty" yaml:"ref,omitempty"`

	// Required inputs that stay unresolved are caught by plan validation,
	// not by the generator.
	Required bool `json:"required" yaml:"required"`
}

// RetryStrategy is the optional declared retry policy of a step. The plan
// executor performs no implicit retries; honoring the strategy is the step
// handler's responsibility.
type RetryStrategy struct {
	MaxRetries        int           `json:"max_retries" yaml:"max_retries"`
	Delay             time.Duration `json:"delay" yaml:"delay"`
	ContinueOnFailure bool          `json:"continue_on_failure" yaml:"continue_on_failure"`

	// Compensation names a binding to invoke when the step ultimately fails.
	Compensation string `json:"compensation,omitempty" yaml:"compensation,omitempty"`
}

// BindingSpec declares the mechanism by which a leaf step reaches an
// external system.
type BindingSpec struct {
	// Type is the transport tag: "http", "remote_tool" or "internal_method".
	// Matching is case-insensitive.
	Type string `json:"type" yaml:"type"`

	// Method is the HTTP method for http bindings ("GET", "POST", ...).
	Method string `json:"method,omitempty" yaml:"method,omitempty"`

	// URL is the target endpoint for http bindings.
	URL string `json:"url,omitempty" yaml:"url,omitempty"`

	// Tool names the remote tool for remote_tool bindings.
	Tool string `json:"tool,omitempty" yaml:"tool,omitempty"`

	// Target names the registered in-process method for internal_method
	// bindings ("service.Method").
	Target string `json:"target,omitempty" yaml:"target,omitempty"`

	// FilterParams maps permission data-scope filter names to the parameter
	// names they are injected as.
	FilterParams map[string]string `json:"filter_params,omitempty" yaml:"filter_params,omitempty"`
}

// StepDefinition is one declared step of a multi-step action.
type StepDefinition struct {
	ID    string   `json:"id" yaml:"id"`
	Name  string   `json:"name" yaml:"name"`
	Type  StepType `json:"type" yaml:"type"`
	Order int      `json:"order" yaml:"order"`

	Inputs  []InputBinding `json:"inputs,omitempty" yaml:"inputs,omitempty"`
	Binding *BindingSpec   `json:"binding,omitempty" yaml:"binding,omitempty"`
	Retry   *RetryStrategy `json:"retry,omitempty" yaml:"retry,omitempty"`
}

// OwnershipScope is a coarse visibility filter for catalog entries. It is
// not a permission engine.
type OwnershipScope struct {
	Tenant string `json:"tenant,omitempty" yaml:"tenant,omitempty"`
	System string `json:"system,omitempty" yaml:"system,omitempty"`
	Module string `json:"module,omitempty" yaml:"module,omitempty"`
}

// ActionDefinition is an immutable catalog entry describing one
// parameterized operation the engine can perform.
//
// Description:
//
//	Created and updated by an external authoring flow; read-only to the
//	engine. Referenced by id from ActionMatch and ExecutionPlan, never
//	copied into mutable state.
type ActionDefinition struct {
	ID       string     `json:"id" yaml:"id"`
	Name     string     `json:"name" yaml:"name"`
	Category string     `json:"category,omitempty" yaml:"category,omitempty"`
	Tags     []string   `json:"tags,omitempty" yaml:"tags,omitempty"`
	Type     ActionType `json:"type" yaml:"type"`

	// TriggerKeywords, Synonyms and ExamplePhrases drive lexical matching.
	TriggerKeywords []string `json:"trigger_keywords,omitempty" yaml:"trigger_keywords,omitempty"`
	Synonyms        []string `json:"synonyms,omitempty" yaml:"synonyms,omitempty"`
	ExamplePhrases  []string `json:"example_phrases,omitempty" yaml:"example_phrases,omitempty"`

	// Parameters is the ordered parameter schema.
	Parameters []ParameterSpec `json:"parameters,omitempty" yaml:"parameters,omitempty"`

	// Steps is the ordered step list. Empty means single-step: one implicit
	// step is synthesized from the action's own Binding at plan time.
	Steps []StepDefinition `json:"steps,omitempty" yaml:"steps,omitempty"`

	// Binding is the transport used by the synthesized step of a
	// single-step action.
	Binding *BindingSpec `json:"binding,omitempty" yaml:"binding,omitempty"`

	// TimeoutMinutes bounds plan lifetime. Zero means the engine default.
	TimeoutMinutes int `json:"timeout_minutes,omitempty" yaml:"timeout_minutes,omitempty"`

	Enabled bool            `json:"enabled" yaml:"enabled"`
	Scope   *OwnershipScope `json:"scope,omitempty" yaml:"scope,omitempty"`
}

// RequiredParams returns the names of all required parameters in declared
// order.
func (a *ActionDefinition) RequiredParams() []string {
	var names []string
	for _, p := range a.Parameters {
		if p.Required {
			names = append(names, p.Name)
		}
	}
	return names
}

// ParamSpec returns the parameter schema entry with the given name, or nil.
func (a *ActionDefinition) ParamSpec(name string) *ParameterSpec {
	for i := range a.Parameters {
		if a.Parameters[i].Name == name {
			return &a.Parameters[i]
		}
	}
	return nil
}
