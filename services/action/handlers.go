// Copyright (C) 2026 Harbor AI (oss@harborai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package action

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/HarborAI/HarborFlow/services/action/datatypes"
)

// ErrorResponse is the uniform error envelope for every endpoint.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// Handlers binds the engine facade to HTTP.
type Handlers struct {
	service *Service
}

// NewHandlers creates the HTTP handler set.
func NewHandlers(service *Service) *Handlers {
	return &Handlers{service: service}
}

// writeEngineError maps EngineError codes onto HTTP statuses.
func writeEngineError(c *gin.Context, err error) {
	var ee *datatypes.EngineError
	if !errors.As(err, &ee) {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}
	status := http.StatusInternalServerError
	switch ee.Code {
	case datatypes.ErrCodeNotFound:
		status = http.StatusNotFound
	case datatypes.ErrCodeInvalidState, datatypes.ErrCodeInvalidPlan:
		status = http.StatusConflict
	case datatypes.ErrCodePermissionDenied:
		status = http.StatusForbidden
	case datatypes.ErrCodeDownstream:
		status = http.StatusBadGateway
	}
	c.JSON(status, ErrorResponse{Error: ee.Message, Code: string(ee.Code)})
}

// HandleMessage routes one utterance through the engine.
//
//	POST /v1/actions/message
func (h *Handlers) HandleMessage(c *gin.Context) {
	var req MessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request: " + err.Error()})
		return
	}

	resp, err := h.service.ProcessMessage(c.Request.Context(), &req)
	if err != nil {
		writeEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// HandleListActions lists the catalog.
//
//	GET /v1/actions?category=&tag=
func (h *Handlers) HandleListActions(c *gin.Context) {
	ctx := c.Request.Context()
	var (
		actions []*datatypes.ActionDefinition
		err     error
	)
	switch {
	case c.Query("category") != "":
		actions, err = h.service.Store().FindByCategory(ctx, c.Query("category"))
	case c.Query("tag") != "":
		actions, err = h.service.Store().FindByTag(ctx, c.Query("tag"))
	default:
		actions, err = h.service.Store().FindAll(ctx)
	}
	if err != nil {
		writeEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"actions": actions, "count": len(actions)})
}

// HandleGetAction returns one catalog entry.
//
//	GET /v1/actions/:id
func (h *Handlers) HandleGetAction(c *gin.Context) {
	action, err := h.service.Store().FindByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeEngineError(c, err)
		return
	}
	if action == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "action not found", Code: string(datatypes.ErrCodeNotFound)})
		return
	}
	c.JSON(http.StatusOK, action)
}

// HandleSaveAction inserts or replaces one catalog entry.
//
//	PUT /v1/actions/:id
func (h *Handlers) HandleSaveAction(c *gin.Context) {
	var action datatypes.ActionDefinition
	if err := c.ShouldBindJSON(&action); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid action: " + err.Error()})
		return
	}
	action.ID = c.Param("id")
	if err := h.service.Store().Save(c.Request.Context(), &action); err != nil {
		writeEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, action)
}

// HandleDeleteAction removes one catalog entry.
//
//	DELETE /v1/actions/:id
func (h *Handlers) HandleDeleteAction(c *gin.Context) {
	if err := h.service.Store().Delete(c.Request.Context(), c.Param("id")); err != nil {
		writeEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

// HandleGetSession returns collection session state.
//
//	GET /v1/sessions/:id
func (h *Handlers) HandleGetSession(c *gin.Context) {
	sess, err := h.service.Sessions().GetSession(c.Param("id"))
	if err != nil {
		writeEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

type sessionInputRequest struct {
	Input string `json:"input" binding:"required"`
}

// HandleSessionInput advances a collection session with one user message.
//
//	POST /v1/sessions/:id/input
func (h *Handlers) HandleSessionInput(c *gin.Context) {
	var req sessionInputRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request: " + err.Error()})
		return
	}
	turn, err := h.service.Sessions().ProcessUserInput(c.Request.Context(), c.Param("id"), req.Input)
	if err != nil {
		writeEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, turn)
}

// HandleSessionConfirm confirms and executes a collected session.
//
//	POST /v1/sessions/:id/confirm
func (h *Handlers) HandleSessionConfirm(c *gin.Context) {
	turn, err := h.service.Sessions().ConfirmAndExecute(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, turn)
}

// HandleSessionCancel cancels a collection session.
//
//	POST /v1/sessions/:id/cancel
func (h *Handlers) HandleSessionCancel(c *gin.Context) {
	if err := h.service.Sessions().CancelSession(c.Param("id")); err != nil {
		writeEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cancelled": true})
}

// HandleGetPlan returns a tracked plan's state.
//
//	GET /v1/plans/:id
func (h *Handlers) HandleGetPlan(c *gin.Context) {
	p, err := h.service.Executor().GetStatus(c.Param("id"))
	if err != nil {
		writeEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

type planResumeRequest struct {
	Input map[string]any `json:"input" binding:"required"`
}

// HandlePlanResume resumes a plan waiting for input.
//
//	POST /v1/plans/:id/resume
func (h *Handlers) HandlePlanResume(c *gin.Context) {
	var req planResumeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request: " + err.Error()})
		return
	}
	res, err := h.service.Executor().Resume(c.Request.Context(), c.Param("id"), req.Input)
	if err != nil {
		writeEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// HandlePlanCancel cancels a tracked plan.
//
//	POST /v1/plans/:id/cancel
func (h *Handlers) HandlePlanCancel(c *gin.Context) {
	if err := h.service.Executor().Cancel(c.Param("id")); err != nil {
		writeEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cancelled": true})
}

// HandleHealth reports liveness.
//
//	GET /v1/actions/health
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// HandleReady reports readiness: the catalog must be reachable.
//
//	GET /v1/actions/ready
func (h *Handlers) HandleReady(c *gin.Context) {
	count, err := h.service.Store().Count(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "catalog unavailable: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready", "actions": count})
}
