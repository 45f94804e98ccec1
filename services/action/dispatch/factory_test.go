// Copyright (C) 2026 Harbor AI (oss@harborai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package dispatch

import (
	"context"
	"errors"
	"testing"

	"github.com/HarborAI/HarborFlow/services/action/datatypes"
)

// =============================================================================
// Test Fixtures
// =============================================================================

type fakeExecutor struct {
	bindingType string
	priority    int
	fn          func(ctx context.Context, req *InvocationRequest) (*InvocationResult, error)
}

func (e fakeExecutor) BindingType() string { return e.bindingType }
func (e fakeExecutor) Priority() int       { return e.priority }
func (e fakeExecutor) Execute(ctx context.Context, req *InvocationRequest) (*InvocationResult, error) {
	return e.fn(ctx, req)
}

func echoExecutor(bindingType string) fakeExecutor {
	return fakeExecutor{
		bindingType: bindingType,
		fn: func(_ context.Context, req *InvocationRequest) (*InvocationResult, error) {
			return &InvocationResult{Success: true, Outputs: req.Params}, nil
		},
	}
}

type fakeGate struct {
	decision *Decision
	err      error
}

func (g fakeGate) Check(_ context.Context, _ *InvocationRequest) (*Decision, error) {
	return g.decision, g.err
}

func httpRequest(params map[string]any) *InvocationRequest {
	return &InvocationRequest{
		ActionID: "a-1",
		UserID:   "u-1",
		SystemID: "erp",
		Binding:  &datatypes.BindingSpec{Type: "http"},
		Params:   params,
	}
}

// =============================================================================
// Routing Tests
// =============================================================================

func TestDispatch_RoutesByBindingType(t *testing.T) {
	f := NewFactory(nil, nil)
	f.Register(echoExecutor("http"))

	res, err := f.Dispatch(context.Background(), httpRequest(map[string]any{"k": "v"}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	if res.Outputs["k"] != "v" {
		t.Errorf("expected params echoed, got %v", res.Outputs)
	}
}

func TestDispatch_CaseInsensitiveBindingType(t *testing.T) {
	f := NewFactory(nil, nil)
	f.Register(echoExecutor("HTTP"))

	req := httpRequest(nil)
	req.Binding.Type = "Http"
	res, err := f.Dispatch(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Success {
		t.Errorf("expected case-insensitive routing, got %+v", res)
	}
}

func TestDispatch_NoBinding(t *testing.T) {
	f := NewFactory(nil, nil)

	res, err := f.Dispatch(context.Background(), &InvocationRequest{ActionID: "a-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Success || res.Code != datatypes.ErrCodeNoExecutor {
		t.Errorf("expected NO_EXECUTOR failure result, got %+v", res)
	}
}

func TestDispatch_UnknownBindingType(t *testing.T) {
	f := NewFactory(nil, nil)
	f.Register(echoExecutor("http"))

	req := httpRequest(nil)
	req.Binding.Type = "carrier_pigeon"
	res, err := f.Dispatch(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Success || res.Code != datatypes.ErrCodeNoExecutor {
		t.Errorf("expected NO_EXECUTOR failure result, got %+v", res)
	}
}

func TestRegister_HigherPriorityWins(t *testing.T) {
	f := NewFactory(nil, nil)
	f.Register(fakeExecutor{bindingType: "http", priority: 1,
		fn: func(_ context.Context, _ *InvocationRequest) (*InvocationResult, error) {
			return &InvocationResult{Success: true, Outputs: map[string]any{"who": "low"}}, nil
		}})
	f.Register(fakeExecutor{bindingType: "http", priority: 5,
		fn: func(_ context.Context, _ *InvocationRequest) (*InvocationResult, error) {
			return &InvocationResult{Success: true, Outputs: map[string]any{"who": "high"}}, nil
		}})

	res, _ := f.Dispatch(context.Background(), httpRequest(nil))
	if res.Outputs["who"] != "high" {
		t.Errorf("expected the higher-priority executor, got %v", res.Outputs)
	}
}

// =============================================================================
// Permission Gate Tests
// =============================================================================

func TestDispatch_DeniedShortCircuits(t *testing.T) {
	called := false
	f := NewFactory(fakeGate{decision: &Decision{Allowed: false, Reason: "not yours"}}, nil)
	f.Register(fakeExecutor{bindingType: "http",
		fn: func(_ context.Context, _ *InvocationRequest) (*InvocationResult, error) {
			called = true
			return &InvocationResult{Success: true}, nil
		}})

	res, err := f.Dispatch(context.Background(), httpRequest(nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Success || res.Code != datatypes.ErrCodePermissionDenied {
		t.Errorf("expected PERMISSION_DENIED, got %+v", res)
	}
	if res.Error != "not yours" {
		t.Errorf("expected the gate reason surfaced, got %q", res.Error)
	}
	if called {
		t.Error("expected the executor not to run after denial")
	}
}

func TestDispatch_GateErrorIsDownstreamFailure(t *testing.T) {
	f := NewFactory(fakeGate{err: errors.New("gate offline")}, nil)
	f.Register(echoExecutor("http"))

	res, err := f.Dispatch(context.Background(), httpRequest(nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Success || res.Code != datatypes.ErrCodeDownstream {
		t.Errorf("expected DOWNSTREAM failure, got %+v", res)
	}
}

func TestDispatch_InjectsFiltersWithoutOverwriting(t *testing.T) {
	gate := fakeGate{decision: &Decision{
		Allowed: true,
		Filters: map[string]any{"tenant": "acme", "region": "eu"},
	}}
	f := NewFactory(gate, nil)
	f.Register(echoExecutor("http"))

	req := httpRequest(map[string]any{"region": "us"})
	req.Binding.FilterParams = map[string]string{"tenant": "tenant_id"}

	res, err := f.Dispatch(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// tenant maps to tenant_id via FilterParams; region collides with the
	// caller's value and must stay untouched.
	if res.Outputs["tenant_id"] != "acme" {
		t.Errorf("expected mapped filter injected, got %v", res.Outputs)
	}
	if res.Outputs["region"] != "us" {
		t.Errorf("expected caller value preserved, got %v", res.Outputs)
	}
}

func TestDispatch_InjectsIntoNilParams(t *testing.T) {
	gate := fakeGate{decision: &Decision{Allowed: true, Filters: map[string]any{"tenant": "acme"}}}
	f := NewFactory(gate, nil)
	f.Register(echoExecutor("http"))

	res, err := f.Dispatch(context.Background(), httpRequest(nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Outputs["tenant"] != "acme" {
		t.Errorf("expected filter injected into empty bag, got %v", res.Outputs)
	}
}

func TestDispatch_SkipsGateWithoutSystemID(t *testing.T) {
	// A denying gate that would reject anything it sees.
	f := NewFactory(fakeGate{decision: &Decision{Allowed: false, Reason: "no"}}, nil)
	f.Register(echoExecutor("http"))

	req := httpRequest(map[string]any{"k": "v"})
	req.SystemID = ""

	res, err := f.Dispatch(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Success {
		t.Errorf("expected ungated invocation without a system id, got %+v", res)
	}
}

func TestDispatch_SkipsGateWithoutUserID(t *testing.T) {
	gate := fakeGate{decision: &Decision{Allowed: true, Filters: map[string]any{"tenant": "acme"}}}
	f := NewFactory(gate, nil)
	f.Register(echoExecutor("http"))

	req := httpRequest(map[string]any{"k": "v"})
	req.UserID = ""

	res, err := f.Dispatch(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected ungated invocation without a user id, got %+v", res)
	}
	// Skipping the gate also means its filters are never injected.
	if _, ok := res.Outputs["tenant"]; ok {
		t.Errorf("expected no filter injection when ungated, got %v", res.Outputs)
	}
}

// =============================================================================
// Failure Containment Tests
// =============================================================================

func TestDispatch_PanicBecomesFailureResult(t *testing.T) {
	f := NewFactory(nil, nil)
	f.Register(fakeExecutor{bindingType: "http",
		fn: func(_ context.Context, _ *InvocationRequest) (*InvocationResult, error) {
			panic("transport bug")
		}})

	res, err := f.Dispatch(context.Background(), httpRequest(nil))
	if err != nil {
		t.Fatalf("expected the panic contained, got error: %v", err)
	}
	if res.Success || res.Code != datatypes.ErrCodeDownstream {
		t.Errorf("expected DOWNSTREAM failure for panic, got %+v", res)
	}
}

func TestDispatch_ExecutorErrorBecomesFailureResult(t *testing.T) {
	f := NewFactory(nil, nil)
	f.Register(fakeExecutor{bindingType: "http",
		fn: func(_ context.Context, _ *InvocationRequest) (*InvocationResult, error) {
			return nil, datatypes.NewEngineError(datatypes.ErrCodeDownstream, "connection refused", true)
		}})

	res, err := f.Dispatch(context.Background(), httpRequest(nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Success || res.Code != datatypes.ErrCodeDownstream {
		t.Errorf("expected failure result carrying the error code, got %+v", res)
	}
}

func TestDispatch_NilResultBecomesFailure(t *testing.T) {
	f := NewFactory(nil, nil)
	f.Register(fakeExecutor{bindingType: "http",
		fn: func(_ context.Context, _ *InvocationRequest) (*InvocationResult, error) {
			return nil, nil
		}})

	res, err := f.Dispatch(context.Background(), httpRequest(nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Success {
		t.Errorf("expected a failure result for a nil executor result, got %+v", res)
	}
}
