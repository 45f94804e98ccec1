// Copyright (C) 2026 Harbor AI (oss@harborai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package action

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HarborAI/HarborFlow/services/action/datatypes"
	"github.com/HarborAI/HarborFlow/services/action/executor"
	"github.com/HarborAI/HarborFlow/services/action/matching"
	"github.com/HarborAI/HarborFlow/services/action/plan"
	"github.com/HarborAI/HarborFlow/services/action/session"
	"github.com/HarborAI/HarborFlow/services/action/store"
)

// =============================================================================
// Test Fixtures
// =============================================================================

// pongExecutor answers every execute step without touching a network.
type pongExecutor struct{}

func (pongExecutor) Type() datatypes.StepType { return datatypes.StepTypeExecute }
func (pongExecutor) Priority() int            { return 0 }
func (pongExecutor) ExecuteStep(_ context.Context, _ *datatypes.ExecutionPlan, _ *datatypes.ExecutionStep) (*executor.StepResult, error) {
	return &executor.StepResult{Outputs: map[string]any{"pong": true}}, nil
}

// newTestEngine wires the facade over a memory store with keyword-only
// matching, so exact trigger phrases land in the execute tier.
func newTestEngine(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	actionStore := store.NewMemoryStore()
	seed := []*datatypes.ActionDefinition{
		{
			ID:              "gateway_ping",
			Name:            "Ping Gateway",
			TriggerKeywords: []string{"ping the gateway"},
			Enabled:         true,
		},
		{
			ID:              "flight_booking",
			Name:            "Book Flight",
			Category:        "travel",
			TriggerKeywords: []string{"book a flight"},
			Parameters: []datatypes.ParameterSpec{
				{Name: "destination", Type: datatypes.ParamTypeString, Required: true, Prompt: "Where to?"},
			},
			Enabled: true,
		},
	}
	for _, a := range seed {
		require.NoError(t, actionStore.Save(context.Background(), a))
	}

	cfg := matching.DefaultConfig()
	cfg.SemanticWeight = 0
	cfg.KeywordWeight = 1.0
	matcher := matching.NewMatcher(Lister{Store: actionStore}, nil, cfg, nil)

	reg := executor.NewRegistry()
	reg.Register(pongExecutor{})
	planExec := executor.NewPlanExecutor(reg, nil)

	svc := NewService(actionStore, matcher, plan.NewGenerator(), planExec, nil, cfg, nil)
	sessions := session.NewService(session.NewStore(nil, nil), actionStore, nil, svc, session.DefaultConfig(), nil)
	svc.AttachSessions(sessions)

	router := gin.New()
	RegisterRoutes(router.Group("/v1"), NewHandlers(svc))
	return router
}

func doJSON(t *testing.T, router *gin.Engine, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var decoded map[string]any
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &decoded))
	}
	return w, decoded
}

// =============================================================================
// Message Routing Tests
// =============================================================================

func TestHandleMessage_ExecutesCompleteMatch(t *testing.T) {
	router := newTestEngine(t)

	w, body := doJSON(t, router, http.MethodPost, "/v1/actions/message",
		`{"user_id": "u1", "input": "ping the gateway"}`)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "executed", body["outcome"])
	match, ok := body["match"].(map[string]any)
	require.True(t, ok, "expected match payload, got %v", body)
	assert.Equal(t, "gateway_ping", match["action_id"])

	result, ok := body["result"].(map[string]any)
	require.True(t, ok, "expected execution result, got %v", body)
	assert.Equal(t, true, result["pong"])
}

func TestHandleMessage_OpensCollectionForMissingParams(t *testing.T) {
	router := newTestEngine(t)

	w, body := doJSON(t, router, http.MethodPost, "/v1/actions/message",
		`{"user_id": "u1", "input": "book a flight"}`)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "collecting", body["outcome"])
	assert.NotEmpty(t, body["session_id"])
	assert.Equal(t, "Where to?", body["prompt"])
}

func TestHandleMessage_UnmatchedInput(t *testing.T) {
	router := newTestEngine(t)

	w, body := doJSON(t, router, http.MethodPost, "/v1/actions/message",
		`{"input": "completely unrelated chatter"}`)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "none", body["outcome"])
}

func TestHandleMessage_RejectsMissingInput(t *testing.T) {
	router := newTestEngine(t)

	w, _ := doJSON(t, router, http.MethodPost, "/v1/actions/message", `{"user_id": "u1"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// =============================================================================
// Session Endpoint Tests
// =============================================================================

func TestSessionEndpoints_CollectConfirmExecute(t *testing.T) {
	router := newTestEngine(t)

	_, opened := doJSON(t, router, http.MethodPost, "/v1/actions/message",
		`{"user_id": "u1", "input": "book a flight"}`)
	sessionID, _ := opened["session_id"].(string)
	require.NotEmpty(t, sessionID)

	w, turn := doJSON(t, router, http.MethodPost, "/v1/sessions/"+sessionID+"/input",
		`{"input": "Oslo"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, string(datatypes.SessionPendingConfirm), turn["state"])
	summary, ok := turn["summary"].(map[string]any)
	require.True(t, ok, "expected confirmation summary, got %v", turn)
	assert.Equal(t, "Oslo", summary["destination"])

	w, turn = doJSON(t, router, http.MethodPost, "/v1/sessions/"+sessionID+"/confirm", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, string(datatypes.SessionCompleted), turn["state"])
	result, ok := turn["result"].(map[string]any)
	require.True(t, ok, "expected execution result, got %v", turn)
	assert.Equal(t, true, result["pong"])
}

func TestSessionEndpoints_ConfirmBeforeComplete(t *testing.T) {
	router := newTestEngine(t)

	_, opened := doJSON(t, router, http.MethodPost, "/v1/actions/message",
		`{"user_id": "u1", "input": "book a flight"}`)
	sessionID, _ := opened["session_id"].(string)
	require.NotEmpty(t, sessionID)

	w, body := doJSON(t, router, http.MethodPost, "/v1/sessions/"+sessionID+"/confirm", "")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, string(datatypes.ErrCodeInvalidState), body["code"])
}

func TestSessionEndpoints_Cancel(t *testing.T) {
	router := newTestEngine(t)

	_, opened := doJSON(t, router, http.MethodPost, "/v1/actions/message",
		`{"user_id": "u1", "input": "book a flight"}`)
	sessionID, _ := opened["session_id"].(string)
	require.NotEmpty(t, sessionID)

	w, _ := doJSON(t, router, http.MethodPost, "/v1/sessions/"+sessionID+"/cancel", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w, body := doJSON(t, router, http.MethodPost, "/v1/sessions/"+sessionID+"/input", `{"input": "Oslo"}`)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, string(datatypes.ErrCodeInvalidState), body["code"])
}

func TestSessionEndpoints_UnknownSession(t *testing.T) {
	router := newTestEngine(t)

	w, body := doJSON(t, router, http.MethodGet, "/v1/sessions/ghost", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, string(datatypes.ErrCodeNotFound), body["code"])
}

// =============================================================================
// Catalog Endpoint Tests
// =============================================================================

func TestCatalogEndpoints_ListAndFilter(t *testing.T) {
	router := newTestEngine(t)

	w, body := doJSON(t, router, http.MethodGet, "/v1/actions", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(2), body["count"])

	w, body = doJSON(t, router, http.MethodGet, "/v1/actions?category=travel", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), body["count"])
}

func TestCatalogEndpoints_GetSaveDelete(t *testing.T) {
	router := newTestEngine(t)

	w, body := doJSON(t, router, http.MethodGet, "/v1/actions/flight_booking", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Book Flight", body["name"])

	w, _ = doJSON(t, router, http.MethodGet, "/v1/actions/ghost", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = doJSON(t, router, http.MethodPut, "/v1/actions/hotel_booking",
		`{"name": "Book Hotel", "enabled": true}`)
	require.Equal(t, http.StatusOK, w.Code)

	w, body = doJSON(t, router, http.MethodGet, "/v1/actions", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(3), body["count"])

	w, _ = doJSON(t, router, http.MethodDelete, "/v1/actions/hotel_booking", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHealthAndReady(t *testing.T) {
	router := newTestEngine(t)

	w, body := doJSON(t, router, http.MethodGet, "/v1/actions/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", body["status"])

	w, body = doJSON(t, router, http.MethodGet, "/v1/actions/ready", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(2), body["actions"])
}
