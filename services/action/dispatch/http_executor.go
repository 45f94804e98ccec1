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
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/HarborAI/HarborFlow/services/action/datatypes"
)

// HTTPExecutorConfig tunes the outbound HTTP transport.
type HTTPExecutorConfig struct {
	// Timeout bounds one request end to end.
	Timeout time.Duration `yaml:"timeout" validate:"required"`

	// RequestsPerSecond and Burst feed the shared outbound rate limiter.
	RequestsPerSecond float64 `yaml:"requests_per_second" validate:"gt=0"`
	Burst             int     `yaml:"burst" validate:"gt=0"`

	// MaxResponseBytes caps how much of a response body is read.
	MaxResponseBytes int64 `yaml:"max_response_bytes" validate:"gt=0"`
}

// DefaultHTTPExecutorConfig returns the production defaults.
func DefaultHTTPExecutorConfig() HTTPExecutorConfig {
	return HTTPExecutorConfig{
		Timeout:           15 * time.Second,
		RequestsPerSecond: 20,
		Burst:             40,
		MaxResponseBytes:  1 << 20,
	}
}

// HTTPExecutor carries "http" bindings. GET and DELETE encode parameters as
// query string; other methods send a JSON body.
type HTTPExecutor struct {
	client  *http.Client
	limiter *rate.Limiter
	cfg     HTTPExecutorConfig
	logger  *slog.Logger
}

// NewHTTPExecutor creates an HTTPExecutor. client may be nil for a default.
func NewHTTPExecutor(client *http.Client, cfg HTTPExecutorConfig, logger *slog.Logger) *HTTPExecutor {
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPExecutor{
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		cfg:     cfg,
		logger:  logger,
	}
}

func (e *HTTPExecutor) BindingType() string { return "http" }
func (e *HTTPExecutor) Priority() int       { return 0 }

// Execute performs the bound HTTP call and wraps the response.
func (e *HTTPExecutor) Execute(ctx context.Context, req *InvocationRequest) (*InvocationResult, error) {
	if req.Binding.URL == "" {
		return failure(datatypes.ErrCodeInvalidPlan, "http binding has no url"), nil
	}

	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	httpReq, err := e.buildRequest(ctx, req)
	if err != nil {
		return failure(datatypes.ErrCodeInvalidPlan, err.Error()), nil
	}

	start := time.Now()
	resp, err := e.client.Do(httpReq)
	if err != nil {
		e.logger.Warn("HTTP binding call failed",
			"url", req.Binding.URL, "method", httpReq.Method, "error", err)
		return failure(datatypes.ErrCodeDownstream, err.Error()), nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, e.cfg.MaxResponseBytes))
	if err != nil {
		return failure(datatypes.ErrCodeDownstream, fmt.Sprintf("reading response: %s", err)), nil
	}

	e.logger.Debug("HTTP binding call",
		"url", req.Binding.URL, "method", httpReq.Method,
		"status", resp.StatusCode, "duration_ms", time.Since(start).Milliseconds())

	outputs := map[string]any{
		"status_code": resp.StatusCode,
		"response":    decodeBody(body),
	}
	if resp.StatusCode >= 400 {
		return &InvocationResult{
			Success: false,
			Outputs: outputs,
			Error:   fmt.Sprintf("upstream returned %d", resp.StatusCode),
			Code:    datatypes.ErrCodeDownstream,
		}, nil
	}
	return &InvocationResult{Success: true, Outputs: outputs}, nil
}

func (e *HTTPExecutor) buildRequest(ctx context.Context, req *InvocationRequest) (*http.Request, error) {
	method := req.Binding.Method
	if method == "" {
		method = http.MethodPost
	}

	switch method {
	case http.MethodGet, http.MethodDelete:
		u, err := url.Parse(req.Binding.URL)
		if err != nil {
			return nil, fmt.Errorf("invalid binding url: %w", err)
		}
		q := u.Query()
		for k, v := range req.Params {
			q.Set(k, fmt.Sprintf("%v", v))
		}
		u.RawQuery = q.Encode()
		return http.NewRequestWithContext(ctx, method, u.String(), nil)

	default:
		payload, err := json.Marshal(req.Params)
		if err != nil {
			return nil, fmt.Errorf("encoding parameters: %w", err)
		}
		httpReq, err := http.NewRequestWithContext(ctx, method, req.Binding.URL, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		return httpReq, nil
	}
}

// decodeBody returns parsed JSON when the body is JSON, else the raw string.
func decodeBody(body []byte) any {
	var parsed any
	if err := json.Unmarshal(body, &parsed); err == nil {
		return parsed
	}
	return string(body)
}
