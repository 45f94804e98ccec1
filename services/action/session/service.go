// Copyright (C) 2026 Harbor AI (oss@harborai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package session

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/HarborAI/HarborFlow/services/action/datatypes"
	"github.com/HarborAI/HarborFlow/services/action/extraction"
	"github.com/HarborAI/HarborFlow/services/action/validation"
)

// DefaultTTL bounds a collection conversation.
const DefaultTTL = time.Hour

var (
	turnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "harborflow",
		Subsystem: "session",
		Name:      "turns_total",
		Help:      "Collection turns by resulting state.",
	}, []string{"state"})

	executionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "harborflow",
		Subsystem: "session",
		Name:      "executions_total",
		Help:      "Confirmed executions by outcome.",
	}, []string{"outcome"})
)

var tracer = otel.Tracer("harborflow.action.session")

// =============================================================================
// Contracts
// =============================================================================

// ActionSource resolves catalog entries by id.
type ActionSource interface {
	FindByID(ctx context.Context, id string) (*datatypes.ActionDefinition, error)
}

// Runner executes a fully collected action. The session service hands it a
// complete, validated parameter bag.
type Runner interface {
	Run(ctx context.Context, actionID string, params map[string]any, rawInput string) (any, error)
}

// TurnResult is what one collection turn returns to the conversation layer.
type TurnResult struct {
	SessionID string                 `json:"session_id"`
	State     datatypes.SessionState `json:"state"`

	// Prompt batches the questions for every still-missing parameter into
	// one message. Options lists allowed values when a missing parameter
	// is an enum.
	Prompt  string   `json:"prompt,omitempty"`
	Options []string `json:"options,omitempty"`

	Missing []datatypes.MissingParamInfo `json:"missing,omitempty"`

	// Summary is the confirmation payload shown before execution.
	Summary map[string]any `json:"summary,omitempty"`

	// Result and Error are set by ConfirmAndExecute.
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// =============================================================================
// Service
// =============================================================================

// Config tunes the session service.
type Config struct {
	// TTL is the session lifetime from creation.
	TTL time.Duration `yaml:"ttl" validate:"required"`

	// SweepInterval spaces background expiry sweeps.
	SweepInterval time.Duration `yaml:"sweep_interval" validate:"required"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{TTL: DefaultTTL, SweepInterval: time.Minute}
}

// Service advances parameter collection sessions.
//
// # Description
//
// One session collects the parameters of one action over multiple user
// turns. Each turn runs LLM extraction over the latest message, merges the
// results new-turn-wins, validates against the action schema, and either
// asks for what is still missing (one batched prompt) or parks in
// PENDING_CONFIRM. Confirmation triggers execution through the Runner;
// the session always leaves EXECUTING for COMPLETED or FAILED.
//
// # Thread Safety
//
// Turns of distinct sessions may run concurrently. Two concurrent turns of
// the same session are not serialized here; conversation layers deliver
// user messages one at a time.
type Service struct {
	store     *Store
	actions   ActionSource
	extractor *extraction.Extractor
	runner    Runner
	cfg       Config
	logger    *slog.Logger

	now func() time.Time
}

// NewService creates a session Service. extractor may be nil to disable
// LLM extraction (direct answers still work).
func NewService(store *Store, actions ActionSource, extractor *extraction.Extractor, runner Runner, cfg Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	return &Service{
		store:     store,
		actions:   actions,
		extractor: extractor,
		runner:    runner,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// lookupAction resolves a catalog entry, mapping the store's (nil, nil)
// absent convention onto a NOT_FOUND error.
func (s *Service) lookupAction(ctx context.Context, actionID string) (*datatypes.ActionDefinition, error) {
	action, err := s.actions.FindByID(ctx, actionID)
	if err != nil {
		return nil, err
	}
	if action == nil {
		return nil, datatypes.NewEngineError(datatypes.ErrCodeNotFound,
			fmt.Sprintf("action %s not found", actionID), false)
	}
	return action, nil
}

// CreateSession opens a collection session for action, seeded with whatever
// parameters are already known.
func (s *Service) CreateSession(ctx context.Context, actionID, userID, chatID string, seed map[string]any) (*datatypes.CollectSession, error) {
	action, err := s.lookupAction(ctx, actionID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	sess := &datatypes.CollectSession{
		ID:        uuid.NewString(),
		ActionID:  actionID,
		UserID:    userID,
		ChatID:    chatID,
		State:     datatypes.SessionInit,
		Collected: make(map[string]datatypes.CollectedParam),
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(s.cfg.TTL),
	}

	for name, value := range seed {
		spec := action.ParamSpec(name)
		if spec == nil {
			continue
		}
		sess.Collected[name] = datatypes.CollectedParam{
			Value:      value,
			Type:       spec.Type,
			Confidence: 1.0,
			Source:     datatypes.ValueFromUser,
		}
	}
	sess.Missing = missingInfos(action, sess.Collected)

	s.store.Put(sess)
	s.logger.Info("Collection session created",
		"session_id", sess.ID, "action_id", actionID, "missing", len(sess.Missing))
	return sess, nil
}

// GetSession returns a live session. Expired sessions are reported as not
// found.
func (s *Service) GetSession(id string) (*datatypes.CollectSession, error) {
	sess, ok := s.store.Get(id, s.now())
	if !ok {
		return nil, datatypes.NewEngineError(datatypes.ErrCodeNotFound,
			fmt.Sprintf("session %s not found", id), false)
	}
	return sess, nil
}

// Open creates a session and immediately mines the triggering utterance
// for parameter values. Unlike a collection turn, the utterance is never
// taken verbatim as a single missing parameter's answer.
func (s *Service) Open(ctx context.Context, actionID, userID, chatID string, seed map[string]any, utterance string) (*TurnResult, error) {
	sess, err := s.CreateSession(ctx, actionID, userID, chatID, seed)
	if err != nil {
		return nil, err
	}
	action, err := s.lookupAction(ctx, sess.ActionID)
	if err != nil {
		return nil, err
	}
	return s.advance(ctx, sess, action, utterance, false)
}

// ProcessUserInput advances a session with one user message.
func (s *Service) ProcessUserInput(ctx context.Context, sessionID, input string) (*TurnResult, error) {
	ctx, span := tracer.Start(ctx, "session.ProcessUserInput")
	span.SetAttributes(attribute.String("session.id", sessionID))
	defer span.End()

	sess, err := s.GetSession(sessionID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if !sess.CanCollect(s.now()) {
		err := datatypes.NewEngineError(datatypes.ErrCodeInvalidState,
			fmt.Sprintf("session %s is %s and cannot collect input", sessionID, sess.State), false)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	action, err := s.lookupAction(ctx, sess.ActionID)
	if err != nil {
		return nil, err
	}

	res, err := s.advance(ctx, sess, action, input, true)
	if err == nil {
		span.SetAttributes(
			attribute.String("session.state", string(sess.State)),
			attribute.Int("session.missing", len(sess.Missing)),
		)
	}
	return res, err
}

// advance runs one collection turn: extract, merge new-turn-wins, validate,
// and re-derive the missing set and state.
func (s *Service) advance(ctx context.Context, sess *datatypes.CollectSession, action *datatypes.ActionDefinition, input string, allowDirect bool) (*TurnResult, error) {
	for name, val := range s.extractTurn(ctx, action, sess, input, allowDirect) {
		sess.Collected[name] = val
	}

	s.applyValidation(action, sess)
	sess.Missing = missingInfos(action, sess.Collected)
	sess.UpdatedAt = s.now()

	res := &TurnResult{SessionID: sess.ID}
	if len(sess.Missing) == 0 {
		sess.State = datatypes.SessionPendingConfirm
		res.Summary = confirmationSummary(sess)
	} else {
		sess.State = datatypes.SessionCollecting
		res.Prompt, res.Options = batchedPrompt(sess.Missing)
		res.Missing = sess.Missing
	}
	res.State = sess.State

	s.store.Put(sess)
	turnsTotal.WithLabelValues(string(sess.State)).Inc()
	return res, nil
}

// ConfirmAndExecute runs the collected action. Valid only from
// PENDING_CONFIRM; the session never stays in EXECUTING.
func (s *Service) ConfirmAndExecute(ctx context.Context, sessionID string) (*TurnResult, error) {
	ctx, span := tracer.Start(ctx, "session.ConfirmAndExecute")
	span.SetAttributes(attribute.String("session.id", sessionID))
	defer span.End()

	sess, err := s.GetSession(sessionID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if sess.State != datatypes.SessionPendingConfirm {
		err := datatypes.NewEngineError(datatypes.ErrCodeInvalidState,
			fmt.Sprintf("session %s is %s, not PENDING_CONFIRM", sessionID, sess.State), false)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	now := s.now()
	sess.UserConfirmed = true
	sess.ConfirmedAt = &now
	sess.State = datatypes.SessionConfirmed
	s.store.Put(sess)

	sess.State = datatypes.SessionExecuting
	s.store.Put(sess)

	result, runErr := s.runConfirmed(ctx, sess)

	sess.UpdatedAt = s.now()
	res := &TurnResult{SessionID: sess.ID}
	if runErr != nil {
		sess.State = datatypes.SessionFailed
		sess.Error = runErr.Error()
		res.Error = runErr.Error()
		executionsTotal.WithLabelValues("failure").Inc()
		span.SetStatus(codes.Error, runErr.Error())
		s.logger.Error("Confirmed execution failed",
			"session_id", sess.ID, "action_id", sess.ActionID, "error", runErr)
	} else {
		sess.State = datatypes.SessionCompleted
		res.Result = result
		executionsTotal.WithLabelValues("success").Inc()
	}
	res.State = sess.State
	s.store.Put(sess)
	return res, nil
}

// runConfirmed invokes the runner with the session's collected values.
// A panicking runner is contained here so ConfirmAndExecute can still
// move the session to FAILED.
func (s *Service) runConfirmed(ctx context.Context, sess *datatypes.CollectSession) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Runner panicked",
				"session_id", sess.ID, "action_id", sess.ActionID, "panic", r)
			result = nil
			err = datatypes.NewEngineError(datatypes.ErrCodeDownstream,
				fmt.Sprintf("execution panicked: %v", r), false)
		}
	}()
	return s.runner.Run(ctx, sess.ActionID, sess.Values(), "")
}

// CancelSession moves a non-terminal session to CANCELLED.
func (s *Service) CancelSession(sessionID string) error {
	sess, err := s.GetSession(sessionID)
	if err != nil {
		return err
	}
	if sess.State.IsTerminal() {
		return datatypes.NewEngineError(datatypes.ErrCodeInvalidState,
			fmt.Sprintf("session %s is already %s", sessionID, sess.State), false)
	}
	sess.State = datatypes.SessionCancelled
	sess.UpdatedAt = s.now()
	s.store.Put(sess)
	s.logger.Info("Session cancelled", "session_id", sessionID)
	return nil
}

// CleanupExpiredSessions runs one expiry sweep and returns the eviction
// count.
func (s *Service) CleanupExpiredSessions() int {
	return s.store.Sweep(s.now())
}

// =============================================================================
// Turn Mechanics
// =============================================================================

// extractTurn pulls parameter values out of one user message. LLM
// extraction runs over the full schema so corrections to already-collected
// values are picked up; when extraction is unavailable and exactly one
// parameter is missing, the message is taken verbatim as its value.
func (s *Service) extractTurn(ctx context.Context, action *datatypes.ActionDefinition, sess *datatypes.CollectSession, input string, allowDirect bool) map[string]datatypes.CollectedParam {
	out := make(map[string]datatypes.CollectedParam)

	if s.extractor != nil {
		bag := s.extractor.Extract(ctx, action.Parameters, input, nil)
		if !bag.Failed {
			for name, ev := range bag.Values {
				spec := action.ParamSpec(name)
				if spec == nil {
					continue
				}
				out[name] = datatypes.CollectedParam{
					Value:      ev.Value,
					Type:       spec.Type,
					Confidence: ev.Confidence,
					Source:     datatypes.ValueFromLLM,
				}
			}
			if len(out) > 0 {
				return out
			}
		}
	}

	// Direct-answer fallback: one open question, one answer.
	trimmed := strings.TrimSpace(input)
	if allowDirect && trimmed != "" && len(sess.Missing) == 1 {
		name := sess.Missing[0].Name
		if spec := action.ParamSpec(name); spec != nil {
			out[name] = datatypes.CollectedParam{
				Value:      trimmed,
				Type:       spec.Type,
				Confidence: 1.0,
				Source:     datatypes.ValueFromUser,
			}
		}
	}
	return out
}

// applyValidation checks collected values against the schema: defaults
// backfill with full confidence, coercions normalize in place, and invalid
// values are dropped so the parameter is asked for again.
func (s *Service) applyValidation(action *datatypes.ActionDefinition, sess *datatypes.CollectSession) {
	res := validation.Validate(action.Parameters, sess.Values())

	for name, value := range res.Defaulted {
		spec := action.ParamSpec(name)
		if spec == nil {
			continue
		}
		sess.Collected[name] = datatypes.CollectedParam{
			Value:      value,
			Type:       spec.Type,
			Confidence: 1.0,
			Source:     datatypes.ValueFromDefault,
		}
	}
	for name, value := range res.Coerced {
		if cur, ok := sess.Collected[name]; ok {
			cur.Value = value
			sess.Collected[name] = cur
		}
	}
	for _, fe := range res.FieldErrors {
		s.logger.Debug("Dropping invalid collected value",
			"session_id", sess.ID, "param", fe.Name, "reason", fe.Message)
		delete(sess.Collected, fe.Name)
	}
}

// missingInfos lists the required parameters not yet collected, in declared
// order.
func missingInfos(action *datatypes.ActionDefinition, collected map[string]datatypes.CollectedParam) []datatypes.MissingParamInfo {
	var out []datatypes.MissingParamInfo
	for _, spec := range action.Parameters {
		if !spec.Required {
			continue
		}
		if _, ok := collected[spec.Name]; ok {
			continue
		}
		out = append(out, datatypes.MissingParamInfo{
			Name:    spec.Name,
			Type:    spec.Type,
			Prompt:  promptFor(spec),
			Options: spec.EnumValues,
		})
	}
	return out
}

func promptFor(spec datatypes.ParameterSpec) string {
	if spec.Prompt != "" {
		return spec.Prompt
	}
	return fmt.Sprintf("Please provide %s", spec.Name)
}

// batchedPrompt merges the questions for all missing parameters into one
// message, appending allowed values for enums.
func batchedPrompt(missing []datatypes.MissingParamInfo) (string, []string) {
	parts := make([]string, 0, len(missing))
	var options []string
	for _, m := range missing {
		line := m.Prompt
		if len(m.Options) > 0 {
			line = fmt.Sprintf("%s (options: %s)", line, strings.Join(m.Options, ", "))
			if options == nil {
				options = m.Options
			}
		}
		parts = append(parts, line)
	}
	return strings.Join(parts, " "), options
}

// confirmationSummary flattens collected values for the confirmation
// message, keyed by parameter name with deterministic ordering left to the
// presenter.
func confirmationSummary(sess *datatypes.CollectSession) map[string]any {
	out := make(map[string]any, len(sess.Collected))
	names := make([]string, 0, len(sess.Collected))
	for name := range sess.Collected {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		out[name] = sess.Collected[name].Value
	}
	return out
}
