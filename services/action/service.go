// Copyright (C) 2026 Harbor AI (oss@harborai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package action assembles the intent engine: matching, plan generation,
// execution and parameter collection behind one service facade.
package action

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/HarborAI/HarborFlow/services/action/datatypes"
	"github.com/HarborAI/HarborFlow/services/action/executor"
	"github.com/HarborAI/HarborFlow/services/action/matching"
	"github.com/HarborAI/HarborFlow/services/action/plan"
	"github.com/HarborAI/HarborFlow/services/action/session"
	"github.com/HarborAI/HarborFlow/services/action/store"
)

var messagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "harborflow",
	Subsystem: "engine",
	Name:      "messages_total",
	Help:      "Processed messages by routing outcome.",
}, []string{"outcome"})

var tracer = otel.Tracer("harborflow.action")

// =============================================================================
// Request / Response
// =============================================================================

// MessageRequest is one user utterance entering the engine.
type MessageRequest struct {
	UserID string `json:"user_id"`
	ChatID string `json:"chat_id"`
	Input  string `json:"input" binding:"required"`

	// Context backs CONTEXT-sourced step inputs.
	Context map[string]any `json:"context,omitempty"`
}

// MessageResponse is the engine's routing verdict for one utterance.
type MessageResponse struct {
	// Outcome is "executed", "collecting", "confirm", "hint" or "none".
	Outcome string `json:"outcome"`

	Match        *datatypes.ActionMatch  `json:"match,omitempty"`
	Alternatives []datatypes.ActionMatch `json:"alternatives,omitempty"`

	// Result is the execution output for the "executed" outcome.
	Result any `json:"result,omitempty"`

	// Session fields are set for "collecting" and "confirm".
	SessionID string         `json:"session_id,omitempty"`
	Prompt    string         `json:"prompt,omitempty"`
	Options   []string       `json:"options,omitempty"`
	Summary   map[string]any `json:"summary,omitempty"`
}

// =============================================================================
// Service
// =============================================================================

// Service is the engine facade: it routes utterances to direct execution,
// parameter collection, or suggestion hints based on match confidence.
type Service struct {
	store     store.ActionStore
	matcher   *matching.Matcher
	generator *plan.Generator
	executor  *executor.PlanExecutor
	sessions  *session.Service
	cfg       matching.Config
	logger    *slog.Logger
}

// NewService wires the engine facade.
func NewService(
	actionStore store.ActionStore,
	matcher *matching.Matcher,
	generator *plan.Generator,
	planExec *executor.PlanExecutor,
	sessions *session.Service,
	cfg matching.Config,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     actionStore,
		matcher:   matcher,
		generator: generator,
		executor:  planExec,
		sessions:  sessions,
		cfg:       cfg,
		logger:    logger,
	}
}

// ProcessMessage matches an utterance against the catalog and acts on the
// top match according to its confidence tier.
func (s *Service) ProcessMessage(ctx context.Context, req *MessageRequest) (*MessageResponse, error) {
	ctx, span := tracer.Start(ctx, "action.ProcessMessage")
	defer span.End()

	matches, err := s.matcher.MatchActions(ctx, req.Input, nil)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if len(matches) == 0 {
		messagesTotal.WithLabelValues("none").Inc()
		return &MessageResponse{Outcome: "none"}, nil
	}

	top := matches[0]
	disposition := s.cfg.DispositionFor(top.Confidence)
	span.SetAttributes(
		attribute.String("match.action_id", top.ActionID),
		attribute.Float64("match.confidence", top.Confidence),
		attribute.String("match.disposition", string(disposition)),
	)

	switch disposition {
	case datatypes.DispositionExecute:
		return s.actOnMatch(ctx, req, &top, matches[1:])
	case datatypes.DispositionHint:
		messagesTotal.WithLabelValues("hint").Inc()
		return &MessageResponse{
			Outcome:      "hint",
			Match:        &top,
			Alternatives: matches[1:],
		}, nil
	default:
		messagesTotal.WithLabelValues("none").Inc()
		return &MessageResponse{Outcome: "none"}, nil
	}
}

// actOnMatch executes the matched action when its parameters are complete,
// or opens a collection session when they are not.
func (s *Service) actOnMatch(ctx context.Context, req *MessageRequest, match *datatypes.ActionMatch, alternatives []datatypes.ActionMatch) (*MessageResponse, error) {
	if len(match.MissingParams) == 0 {
		result, err := s.Run(ctx, match.ActionID, match.ExtractedParams, req.Input)
		if err != nil {
			messagesTotal.WithLabelValues("failed").Inc()
			return nil, err
		}
		messagesTotal.WithLabelValues("executed").Inc()
		return &MessageResponse{
			Outcome:      "executed",
			Match:        match,
			Alternatives: alternatives,
			Result:       result,
		}, nil
	}

	turn, err := s.sessions.Open(ctx, match.ActionID, req.UserID, req.ChatID, match.ExtractedParams, req.Input)
	if err != nil {
		return nil, err
	}

	resp := &MessageResponse{
		Match:     match,
		SessionID: turn.SessionID,
		Prompt:    turn.Prompt,
		Options:   turn.Options,
		Summary:   turn.Summary,
	}
	if turn.State == datatypes.SessionPendingConfirm {
		resp.Outcome = "confirm"
	} else {
		resp.Outcome = "collecting"
	}
	messagesTotal.WithLabelValues(resp.Outcome).Inc()
	return resp, nil
}

// Run generates, validates and executes a plan for one action. It
// implements session.Runner, so confirmed collection sessions execute
// through the same path as direct matches.
func (s *Service) Run(ctx context.Context, actionID string, params map[string]any, rawInput string) (any, error) {
	ctx, span := tracer.Start(ctx, "action.Run")
	span.SetAttributes(attribute.String("action.id", actionID))
	defer span.End()

	action, err := s.store.FindByID(ctx, actionID)
	if err != nil {
		return nil, err
	}
	if action == nil {
		return nil, datatypes.NewEngineError(datatypes.ErrCodeNotFound,
			fmt.Sprintf("action %s not found", actionID), false)
	}

	p := s.generator.Generate(action, params, &plan.Context{RawInput: rawInput})
	if vr := s.generator.Validate(p); !vr.OK() {
		return nil, datatypes.NewEngineError(datatypes.ErrCodeInvalidPlan,
			fmt.Sprintf("plan for action %s is invalid: %s", actionID, vr.Errors[0].Message), false)
	}
	p = s.generator.Optimize(p)

	res, err := s.executor.Execute(ctx, p)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	defer s.executor.Release(p.ID)

	switch res.Status {
	case datatypes.PlanCompleted:
		return res.Result, nil
	case datatypes.PlanWaitingInput:
		// Collected parameters were complete, so a waiting plan means the
		// action declares inputs the schema does not cover.
		return nil, datatypes.NewEngineError(datatypes.ErrCodeInvalidState,
			fmt.Sprintf("plan %s suspended for input: %s", res.PlanID, res.Prompt), false)
	default:
		return nil, datatypes.NewEngineError(datatypes.ErrCodeDownstream,
			fmt.Sprintf("plan %s ended %s: %s", res.PlanID, res.Status, res.Error), false)
	}
}

// ParamSpecs implements executor.SchemaResolver over the catalog.
func (s *Service) ParamSpecs(ctx context.Context, actionID string) ([]datatypes.ParameterSpec, error) {
	action, err := s.store.FindByID(ctx, actionID)
	if err != nil {
		return nil, err
	}
	if action == nil {
		return nil, datatypes.NewEngineError(datatypes.ErrCodeNotFound,
			fmt.Sprintf("action %s not found", actionID), false)
	}
	return action.Parameters, nil
}

// AttachSessions wires the collection service after construction. The
// sessions execute through this facade, so the two are built in sequence.
func (s *Service) AttachSessions(sessions *session.Service) { s.sessions = sessions }

// Sessions exposes the collection service to the transport layer.
func (s *Service) Sessions() *session.Service { return s.sessions }

// Store exposes the catalog store to the transport layer.
func (s *Service) Store() store.ActionStore { return s.store }

// Executor exposes the plan executor to the transport layer.
func (s *Service) Executor() *executor.PlanExecutor { return s.executor }

// =============================================================================
// Store Adapters
// =============================================================================

// Lister adapts an ActionStore to matching.ActionLister.
type Lister struct {
	Store store.ActionStore
}

// ListEnabled flattens the store's pointer slice into match candidates.
func (l Lister) ListEnabled(ctx context.Context) ([]datatypes.ActionDefinition, error) {
	actions, err := l.Store.ListEnabled(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]datatypes.ActionDefinition, 0, len(actions))
	for _, a := range actions {
		out = append(out, *a)
	}
	return out, nil
}
