// Copyright (C) 2026 Harbor AI (oss@harborai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/HarborAI/HarborFlow/services/action/datatypes"
)

// ToolExecutorConfig locates the remote tool gateway.
type ToolExecutorConfig struct {
	// GatewayURL is the base URL of the tool gateway.
	GatewayURL string `yaml:"gateway_url" validate:"required,url"`

	// Timeout bounds one tool invocation.
	Timeout time.Duration `yaml:"timeout" validate:"required"`
}

// toolInvocation is the gateway wire request.
type toolInvocation struct {
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments,omitempty"`
	UserID    string         `json:"user_id,omitempty"`
}

// toolResponse is the gateway wire response.
type toolResponse struct {
	OK     bool           `json:"ok"`
	Result map[string]any `json:"result,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// ToolExecutor carries "remote_tool" bindings through the tool gateway.
type ToolExecutor struct {
	client *http.Client
	cfg    ToolExecutorConfig
	logger *slog.Logger
}

// NewToolExecutor creates a ToolExecutor. client may be nil for a default.
func NewToolExecutor(client *http.Client, cfg ToolExecutorConfig, logger *slog.Logger) *ToolExecutor {
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ToolExecutor{client: client, cfg: cfg, logger: logger}
}

func (e *ToolExecutor) BindingType() string { return "remote_tool" }
func (e *ToolExecutor) Priority() int       { return 0 }

// Execute posts the invocation to the gateway and unwraps its envelope.
func (e *ToolExecutor) Execute(ctx context.Context, req *InvocationRequest) (*InvocationResult, error) {
	if req.Binding.Tool == "" {
		return failure(datatypes.ErrCodeInvalidPlan, "remote_tool binding names no tool"), nil
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	payload, err := json.Marshal(toolInvocation{
		Tool:      req.Binding.Tool,
		Arguments: req.Params,
		UserID:    req.UserID,
	})
	if err != nil {
		return failure(datatypes.ErrCodeInvalidPlan, fmt.Sprintf("encoding invocation: %s", err)), nil
	}

	endpoint := e.cfg.GatewayURL + "/v1/tools/invoke"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return failure(datatypes.ErrCodeInvalidPlan, err.Error()), nil
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(httpReq)
	if err != nil {
		e.logger.Warn("Tool gateway call failed", "tool", req.Binding.Tool, "error", err)
		return failure(datatypes.ErrCodeDownstream, err.Error()), nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return failure(datatypes.ErrCodeDownstream, fmt.Sprintf("reading gateway response: %s", err)), nil
	}
	if resp.StatusCode >= 400 {
		return failure(datatypes.ErrCodeDownstream,
			fmt.Sprintf("tool gateway returned %d", resp.StatusCode)), nil
	}

	var envelope toolResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		return failure(datatypes.ErrCodeParse,
			fmt.Sprintf("unparseable gateway response: %s", err)), nil
	}
	if !envelope.OK {
		return failure(datatypes.ErrCodeDownstream, envelope.Error), nil
	}
	return &InvocationResult{Success: true, Outputs: envelope.Result}, nil
}
