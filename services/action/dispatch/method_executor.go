// Copyright (C) 2026 Harbor AI (oss@harborai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package dispatch

import (
	"context"
	"fmt"
	"sync"

	"github.com/HarborAI/HarborFlow/services/action/datatypes"
)

// MethodFunc is one registered in-process handler. It receives the resolved
// parameter bag and returns the step outputs.
type MethodFunc func(ctx context.Context, params map[string]any) (map[string]any, error)

// MethodExecutor carries "internal_method" bindings by calling handlers
// registered under a "service.Method" target name.
//
// # Thread Safety
//
// Registration and execution are both safe for concurrent use.
type MethodExecutor struct {
	mu      sync.RWMutex
	methods map[string]MethodFunc
}

// NewMethodExecutor creates an empty MethodExecutor.
func NewMethodExecutor() *MethodExecutor {
	return &MethodExecutor{methods: make(map[string]MethodFunc)}
}

// RegisterMethod installs fn under target, replacing any previous handler.
func (e *MethodExecutor) RegisterMethod(target string, fn MethodFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.methods[target] = fn
}

func (e *MethodExecutor) BindingType() string { return "internal_method" }
func (e *MethodExecutor) Priority() int       { return 0 }

// Execute looks up the binding's target and invokes it.
func (e *MethodExecutor) Execute(ctx context.Context, req *InvocationRequest) (*InvocationResult, error) {
	target := req.Binding.Target
	if target == "" {
		return failure(datatypes.ErrCodeInvalidPlan, "internal_method binding has no target"), nil
	}

	e.mu.RLock()
	fn, ok := e.methods[target]
	e.mu.RUnlock()
	if !ok {
		return failure(datatypes.ErrCodeNoExecutor,
			fmt.Sprintf("no method registered for target %q", target)), nil
	}

	outputs, err := fn(ctx, req.Params)
	if err != nil {
		return failure(datatypes.CodeOf(err), err.Error()), nil
	}
	return &InvocationResult{Success: true, Outputs: outputs}, nil
}
