// Copyright (C) 2026 Harbor AI (oss@harborai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package dispatch routes leaf-step invocations to transport executors and
// enforces the permission gate in front of them.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/HarborAI/HarborFlow/services/action/datatypes"
)

// =============================================================================
// Metrics
// =============================================================================

var (
	dispatchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "harborflow",
		Subsystem: "dispatch",
		Name:      "invocations_total",
		Help:      "Binding invocations by binding type and outcome.",
	}, []string{"binding_type", "outcome"})

	permissionDenials = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "harborflow",
		Subsystem: "dispatch",
		Name:      "permission_denials_total",
		Help:      "Invocations rejected by the permission gate.",
	})
)

var tracer = otel.Tracer("harborflow.action.dispatch")

// =============================================================================
// Contracts
// =============================================================================

// InvocationRequest is one leaf invocation handed to a transport executor.
// The permission gate consults UserID and SystemID; when either is empty
// the invocation is not gated and no filters are injected.
type InvocationRequest struct {
	ActionID string
	UserID   string
	SystemID string

	Binding *datatypes.BindingSpec

	// Params is the fully resolved parameter bag, including any permission
	// filters injected by the factory.
	Params map[string]any
}

// InvocationResult is the always-non-nil outcome of a dispatch. Transport
// failures, permission denials and handler panics all land here as
// Success=false rather than as raw errors.
type InvocationResult struct {
	Success bool                `json:"success"`
	Outputs map[string]any      `json:"outputs,omitempty"`
	Error   string              `json:"error,omitempty"`
	Code    datatypes.ErrorCode `json:"code,omitempty"`
}

// ActionExecutor carries one invocation over one transport.
type ActionExecutor interface {
	// BindingType returns the binding type tag this executor serves.
	// Matching in the factory is case-insensitive.
	BindingType() string

	// Priority breaks ties between executors claiming the same type; the
	// highest wins.
	Priority() int

	// Execute performs the invocation. Errors (and panics) are converted
	// to failure results by the factory.
	Execute(ctx context.Context, req *InvocationRequest) (*InvocationResult, error)
}

// Decision is the permission gate's verdict for one invocation.
type Decision struct {
	Allowed bool
	Reason  string

	// Filters are data-scope values the gate requires downstream. The
	// factory injects them into the parameter bag via the binding's
	// FilterParams mapping, never overwriting caller-supplied values.
	Filters map[string]any
}

// PermissionGate decides whether a user may perform an invocation. A nil
// gate allows everything.
type PermissionGate interface {
	Check(ctx context.Context, req *InvocationRequest) (*Decision, error)
}

// =============================================================================
// Factory
// =============================================================================

// Factory resolves binding types to transport executors.
//
// # Thread Safety
//
// Registration is expected at startup; Dispatch is safe for concurrent use
// throughout.
type Factory struct {
	gate   PermissionGate
	logger *slog.Logger

	mu        sync.RWMutex
	executors map[string]ActionExecutor
}

// NewFactory creates a Factory. gate may be nil.
func NewFactory(gate PermissionGate, logger *slog.Logger) *Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Factory{
		gate:      gate,
		logger:    logger,
		executors: make(map[string]ActionExecutor),
	}
}

// Register installs exec under its lower-cased binding type. On a type
// collision the higher-priority executor stays.
func (f *Factory) Register(exec ActionExecutor) {
	key := strings.ToLower(exec.BindingType())
	f.mu.Lock()
	defer f.mu.Unlock()
	if cur, ok := f.executors[key]; ok && cur.Priority() >= exec.Priority() {
		return
	}
	f.executors[key] = exec
}

// Dispatch runs one invocation end to end: permission check, filter
// injection, executor selection, and panic containment. The returned result
// is never nil; the error return is reserved for context cancellation.
func (f *Factory) Dispatch(ctx context.Context, req *InvocationRequest) (*InvocationResult, error) {
	bindingType := ""
	if req.Binding != nil {
		bindingType = strings.ToLower(req.Binding.Type)
	}

	ctx, span := tracer.Start(ctx, "dispatch.Dispatch")
	span.SetAttributes(
		attribute.String("binding.type", bindingType),
		attribute.String("action.id", req.ActionID),
	)
	defer span.End()

	if req.Binding == nil || bindingType == "" {
		dispatchTotal.WithLabelValues("none", "unsupported").Inc()
		return failure(datatypes.ErrCodeNoExecutor, "step declares no binding"), nil
	}

	f.mu.RLock()
	exec, ok := f.executors[bindingType]
	f.mu.RUnlock()
	if !ok {
		dispatchTotal.WithLabelValues(bindingType, "unsupported").Inc()
		span.SetStatus(codes.Error, "no executor for binding type")
		return failure(datatypes.ErrCodeNoExecutor,
			fmt.Sprintf("no executor registered for binding type %q", req.Binding.Type)), nil
	}

	// Gating needs both identifiers; with either missing the invocation
	// proceeds ungated and without filters.
	if f.gate != nil && req.UserID != "" && req.SystemID != "" {
		decision, err := f.gate.Check(ctx, req)
		if err != nil {
			dispatchTotal.WithLabelValues(bindingType, "gate_error").Inc()
			span.SetStatus(codes.Error, err.Error())
			return failure(datatypes.ErrCodeDownstream,
				fmt.Sprintf("permission check failed: %s", err)), nil
		}
		if !decision.Allowed {
			permissionDenials.Inc()
			dispatchTotal.WithLabelValues(bindingType, "denied").Inc()
			f.logger.Warn("Permission denied",
				"action_id", req.ActionID, "user_id", req.UserID, "reason", decision.Reason)
			return failure(datatypes.ErrCodePermissionDenied, decision.Reason), nil
		}
		injectFilters(req, decision.Filters)
	}

	res := f.invoke(ctx, exec, req)
	outcome := "success"
	if !res.Success {
		outcome = "failure"
		span.SetStatus(codes.Error, res.Error)
	}
	dispatchTotal.WithLabelValues(bindingType, outcome).Inc()
	return res, nil
}

// invoke calls the executor with panic containment. A panicking transport
// must cost one invocation, not the process.
func (f *Factory) invoke(ctx context.Context, exec ActionExecutor, req *InvocationRequest) (res *InvocationResult) {
	defer func() {
		if r := recover(); r != nil {
			f.logger.Error("Executor panicked",
				"binding_type", exec.BindingType(), "action_id", req.ActionID, "panic", r)
			res = failure(datatypes.ErrCodeDownstream, fmt.Sprintf("executor panicked: %v", r))
		}
	}()

	out, err := exec.Execute(ctx, req)
	if err != nil {
		return failure(datatypes.CodeOf(err), err.Error())
	}
	if out == nil {
		return failure(datatypes.ErrCodeDownstream, "executor returned no result")
	}
	return out
}

// injectFilters merges gate-mandated filter values into the parameter bag.
// The binding's FilterParams maps filter names to parameter names; values
// the caller already supplied are never overwritten.
func injectFilters(req *InvocationRequest, filters map[string]any) {
	if len(filters) == 0 {
		return
	}
	if req.Params == nil {
		req.Params = make(map[string]any, len(filters))
	}
	for filterName, value := range filters {
		paramName := filterName
		if req.Binding != nil && req.Binding.FilterParams != nil {
			if mapped, ok := req.Binding.FilterParams[filterName]; ok {
				paramName = mapped
			}
		}
		if _, exists := req.Params[paramName]; exists {
			continue
		}
		req.Params[paramName] = value
	}
}

func failure(code datatypes.ErrorCode, msg string) *InvocationResult {
	return &InvocationResult{Success: false, Error: msg, Code: code}
}
