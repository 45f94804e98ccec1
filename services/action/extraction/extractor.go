// Copyright (C) 2026 Harbor AI (oss@harborai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package extraction turns free-text user input into a best-effort partial
// parameter bag using a completion service. All text cleanup and JSON
// parsing is isolated here; the rest of the engine only ever sees typed
// values.
package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/HarborAI/HarborFlow/services/action/datatypes"
)

// =============================================================================
// Prometheus Metrics
// =============================================================================

var (
	extractionTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "harborflow",
		Subsystem: "extractor",
		Name:      "total",
		Help:      "Extraction calls by outcome: success, timeout, error, parse_error, disabled",
	}, []string{"outcome"})

	extractionLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "harborflow",
		Subsystem: "extractor",
		Name:      "latency_seconds",
		Help:      "Latency of completion-service extraction calls",
		Buckets:   []float64{0.1, 0.5, 1.0, 2.0, 3.0, 5.0, 10.0},
	})
)

var tracer = otel.Tracer("harborflow.action.extraction")

// =============================================================================
// Collaborator Interface
// =============================================================================

// ChatOptions tune a single completion call.
type ChatOptions struct {
	Model       string
	Temperature float64
	MaxTokens   int
}

// ChatClient is the completion-service collaborator. Implementations must
// be safe for concurrent use.
type ChatClient interface {
	Chat(ctx context.Context, messages []datatypes.Message, opts ChatOptions) (string, error)
}

// =============================================================================
// Extractor
// =============================================================================

// Config configures the extractor.
type Config struct {
	// Model is the completion model used for extraction. A small, fast
	// model is appropriate since the prompt is a few hundred tokens.
	Model string `yaml:"model"`

	// Timeout bounds one extraction call.
	Timeout time.Duration `yaml:"timeout"`

	// Temperature controls randomness. Low values keep extraction
	// deterministic.
	Temperature float64 `yaml:"temperature"`

	// MaxTokens limits the response length.
	MaxTokens int `yaml:"max_tokens"`

	// Enabled is the feature flag. When false, Extract returns an empty
	// bag with Failed set.
	Enabled bool `yaml:"enabled"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Model:       "qwen2.5:3b",
		Timeout:     3 * time.Second,
		Temperature: 0.1,
		MaxTokens:   512,
		Enabled:     true,
	}
}

// ExtractedValue is one parameter value with the extractor's confidence.
type ExtractedValue struct {
	Value      any     `json:"value"`
	Confidence float64 `json:"confidence"`
}

// Bag is the fail-soft result of one extraction call.
//
// Failed is set instead of returning an error: extraction never aborts a
// session turn, it only produces fewer values.
type Bag struct {
	Values map[string]ExtractedValue
	Failed bool
	Reason string
}

// Extractor wraps a ChatClient to extract action parameters from natural
// language.
//
// # Thread Safety
//
// Safe for concurrent use.
type Extractor struct {
	client ChatClient
	cfg    Config
	logger *slog.Logger
}

// NewExtractor creates an Extractor.
//
// Inputs:
//
//	client - Completion client. Must not be nil.
//	cfg    - Extractor configuration.
//	logger - Logger instance. Nil uses slog.Default().
func NewExtractor(client ChatClient, cfg Config, logger *slog.Logger) (*Extractor, error) {
	if client == nil {
		return nil, fmt.Errorf("chat client must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{client: client, cfg: cfg, logger: logger}, nil
}

// Extract asks the completion service for parameter values visible in input.
//
// # Description
//
// Builds a schema-aware system prompt, sends the user input (plus optional
// prior turns for pronoun/ellipsis resolution), and parses the JSON object
// out of the response. Every failure mode (timeout, transport error,
// unparseable output) produces an empty Bag with Failed set, never an
// error: the session loop treats a failed extraction as "nothing new this
// turn" and re-prompts.
//
// Values the model returns for parameters not in the schema are dropped.
// Confidence defaults to 0.8 for extracted values when the model does not
// report one.
//
// # Thread Safety
//
// Safe for concurrent use.
func (e *Extractor) Extract(
	ctx context.Context,
	specs []datatypes.ParameterSpec,
	input string,
	history []datatypes.Message,
) *Bag {
	if !e.cfg.Enabled {
		extractionTotal.WithLabelValues("disabled").Inc()
		return &Bag{Values: map[string]ExtractedValue{}, Failed: true, Reason: "extractor disabled"}
	}

	ctx, span := tracer.Start(ctx, "extraction.Extractor.Extract")
	defer span.End()
	span.SetAttributes(
		attribute.String("extractor.model", e.cfg.Model),
		attribute.Int("schema_params", len(specs)),
		attribute.String("input_preview", truncate(input, 100)),
	)

	start := time.Now()
	if e.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancel()
	}

	messages := make([]datatypes.Message, 0, len(history)+2)
	messages = append(messages, datatypes.Message{Role: "system", Content: buildSystemPrompt(specs)})
	messages = append(messages, history...)
	messages = append(messages, datatypes.Message{Role: "user", Content: input})

	response, err := e.client.Chat(ctx, messages, ChatOptions{
		Model:       e.cfg.Model,
		Temperature: e.cfg.Temperature,
		MaxTokens:   e.cfg.MaxTokens,
	})
	duration := time.Since(start)
	extractionLatency.Observe(duration.Seconds())

	if err != nil {
		outcome := "error"
		if ctx.Err() == context.DeadlineExceeded {
			outcome = "timeout"
		}
		extractionTotal.WithLabelValues(outcome).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		e.logger.Warn("parameter extraction failed",
			slog.String("outcome", outcome),
			slog.String("error", err.Error()),
			slog.Duration("duration", duration),
		)
		return &Bag{Values: map[string]ExtractedValue{}, Failed: true, Reason: err.Error()}
	}

	raw, err := parseResponse(response)
	if err != nil {
		extractionTotal.WithLabelValues("parse_error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "parse failed")
		e.logger.Warn("parameter extraction returned unparseable output",
			slog.String("error", err.Error()),
		)
		return &Bag{Values: map[string]ExtractedValue{}, Failed: true, Reason: err.Error()}
	}

	values := filterToSchema(raw, specs)
	extractionTotal.WithLabelValues("success").Inc()
	span.SetAttributes(
		attribute.Int("extracted_values", len(values)),
		attribute.Int64("duration_ms", duration.Milliseconds()),
	)
	return &Bag{Values: values}
}

// buildSystemPrompt constructs the schema-aware extraction prompt.
func buildSystemPrompt(specs []datatypes.ParameterSpec) string {
	var sb strings.Builder
	sb.WriteString(`You are a parameter extraction assistant. Given a user's
message, extract values for the parameters listed below.

Rules:
- Only extract values the user actually stated. Never invent values.
- Omit parameters the message does not mention.
- For enum parameters, map the user's wording onto one of the allowed values.
- Dates use ISO format (YYYY-MM-DD) when the user gives a calendar date.

Parameters:
`)
	for _, p := range specs {
		required := "optional"
		if p.Required {
			required = "required"
		}
		sb.WriteString(fmt.Sprintf("  - %s (%s, %s)", p.Name, p.Type, required))
		if len(p.EnumValues) > 0 {
			sb.WriteString(fmt.Sprintf(", allowed: [%s]", strings.Join(p.EnumValues, ", ")))
		}
		if p.Description != "" {
			sb.WriteString(": " + p.Description)
		}
		sb.WriteString("\n")
	}

	sb.WriteString(`
Respond with ONLY a JSON object mapping parameter names to values, e.g.
{"name": "widget", "qty": 5}
Do not include any explanation or markdown formatting.
`)
	return sb.String()
}

// parseResponse extracts the JSON object from a model response, tolerating
// markdown fences and surrounding prose.
func parseResponse(response string) (map[string]any, error) {
	response = strings.TrimSpace(response)
	if response == "" {
		return nil, fmt.Errorf("empty response from model")
	}

	response = strings.TrimPrefix(response, "```json")
	response = strings.TrimPrefix(response, "```")
	response = strings.TrimSuffix(response, "```")
	response = strings.TrimSpace(response)

	start := strings.Index(response, "{")
	end := strings.LastIndex(response, "}")
	if start == -1 || end == -1 || end <= start {
		return nil, fmt.Errorf("no JSON object found in response: %s", truncate(response, 100))
	}

	var result map[string]any
	if err := json.Unmarshal([]byte(response[start:end+1]), &result); err != nil {
		return nil, fmt.Errorf("parse extraction JSON: %w", err)
	}
	return result, nil
}

// filterToSchema keeps only declared parameters and attaches confidence.
//
// The model may answer either a flat {"name": value} object or a nested
// {"name": {"value": ..., "confidence": 0.9}} shape; both are accepted.
func filterToSchema(raw map[string]any, specs []datatypes.ParameterSpec) map[string]ExtractedValue {
	declared := make(map[string]bool, len(specs))
	for _, p := range specs {
		declared[p.Name] = true
	}

	const defaultConfidence = 0.8

	values := make(map[string]ExtractedValue)
	for name, v := range raw {
		if !declared[name] || v == nil {
			continue
		}
		if nested, ok := v.(map[string]any); ok {
			inner, hasValue := nested["value"]
			if !hasValue {
				continue
			}
			conf := defaultConfidence
			if c, hasConf := nested["confidence"]; hasConf {
				if f, isNum := c.(float64); isNum {
					conf = f
				}
			}
			values[name] = ExtractedValue{Value: inner, Confidence: conf}
			continue
		}
		values[name] = ExtractedValue{Value: v, Confidence: defaultConfidence}
	}
	return values
}

// truncate shortens a string for logs and span attributes.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
