// Copyright (C) 2026 Harbor AI (oss@harborai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package dispatch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/HarborAI/HarborFlow/services/action/datatypes"
)

func newHTTPExecutorForTest() *HTTPExecutor {
	return NewHTTPExecutor(nil, DefaultHTTPExecutorConfig(), nil)
}

func TestHTTPExecutor_GetEncodesQuery(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("city")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"temp": 12}`))
	}))
	defer srv.Close()

	exec := newHTTPExecutorForTest()
	res, err := exec.Execute(context.Background(), &InvocationRequest{
		Binding: &datatypes.BindingSpec{Type: "http", Method: "GET", URL: srv.URL},
		Params:  map[string]any{"city": "oslo"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	if gotQuery != "oslo" {
		t.Errorf("expected params on the query string, got %q", gotQuery)
	}

	body, ok := res.Outputs["response"].(map[string]any)
	if !ok || body["temp"] != 12.0 {
		t.Errorf("expected decoded JSON response, got %v", res.Outputs["response"])
	}
	if res.Outputs["status_code"] != 200 {
		t.Errorf("expected status code recorded, got %v", res.Outputs["status_code"])
	}
}

func TestHTTPExecutor_PostSendsJSONBody(t *testing.T) {
	var gotBody map[string]any
	var gotContentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok": true}`))
	}))
	defer srv.Close()

	exec := newHTTPExecutorForTest()
	res, err := exec.Execute(context.Background(), &InvocationRequest{
		Binding: &datatypes.BindingSpec{Type: "http", Method: "POST", URL: srv.URL},
		Params:  map[string]any{"order_id": "o-7"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	if gotContentType != "application/json" {
		t.Errorf("expected JSON content type, got %q", gotContentType)
	}
	if gotBody["order_id"] != "o-7" {
		t.Errorf("expected params in body, got %v", gotBody)
	}
}

func TestHTTPExecutor_ErrorStatusKeepsOutputs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"reason": "backend down"}`))
	}))
	defer srv.Close()

	exec := newHTTPExecutorForTest()
	res, err := exec.Execute(context.Background(), &InvocationRequest{
		Binding: &datatypes.BindingSpec{Type: "http", URL: srv.URL},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Success {
		t.Fatal("expected failure for 502")
	}
	if res.Code != datatypes.ErrCodeDownstream {
		t.Errorf("expected DOWNSTREAM code, got %s", res.Code)
	}

	// The response body survives for diagnosis even on failure.
	body, ok := res.Outputs["response"].(map[string]any)
	if !ok || body["reason"] != "backend down" {
		t.Errorf("expected failure body preserved, got %v", res.Outputs)
	}
}

func TestHTTPExecutor_MissingURL(t *testing.T) {
	exec := newHTTPExecutorForTest()

	res, err := exec.Execute(context.Background(), &InvocationRequest{
		Binding: &datatypes.BindingSpec{Type: "http"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Success || res.Code != datatypes.ErrCodeInvalidPlan {
		t.Errorf("expected INVALID_PLAN for a url-less binding, got %+v", res)
	}
}

func TestHTTPExecutor_ConnectionRefused(t *testing.T) {
	exec := newHTTPExecutorForTest()

	res, err := exec.Execute(context.Background(), &InvocationRequest{
		Binding: &datatypes.BindingSpec{Type: "http", URL: "http://127.0.0.1:1"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Success || res.Code != datatypes.ErrCodeDownstream {
		t.Errorf("expected DOWNSTREAM failure, got %+v", res)
	}
}
