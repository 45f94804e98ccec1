// Copyright (C) 2026 Harbor AI (oss@harborai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import "fmt"

// =============================================================================
// Engine Errors
// =============================================================================

// ErrorCode classifies an engine failure for callers that branch on it.
type ErrorCode string

const (
	// ErrCodeNotFound marks a missing action, plan or session. Session
	// expiry is reported with this code; expired is treated like absent.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"

	// ErrCodeNoExecutor marks a step type or binding type with no
	// registered handler. Fatal for the plan, never retried.
	ErrCodeNoExecutor ErrorCode = "NO_EXECUTOR"

	// ErrCodeInvalidState marks an operation attempted from the wrong
	// state machine position (e.g. resume on a plan not waiting for input).
	ErrCodeInvalidState ErrorCode = "INVALID_STATE"

	// ErrCodePermissionDenied marks a functional permission denial. It
	// short-circuits before any downstream call.
	ErrCodePermissionDenied ErrorCode = "PERMISSION_DENIED"

	// ErrCodeDownstream marks a caught downstream call failure (network,
	// remote tool, in-process panic) converted to a result.
	ErrCodeDownstream ErrorCode = "DOWNSTREAM"

	// ErrCodeParse marks unusable output from the completion service.
	ErrCodeParse ErrorCode = "PARSE_ERROR"

	// ErrCodeInvalidPlan marks a plan that failed structural validation.
	ErrCodeInvalidPlan ErrorCode = "INVALID_PLAN"
)

// EngineError is the typed error crossing package boundaries inside the
// engine. Public operations convert it to a failure result rather than
// letting it escape as a raw error to users.
type EngineError struct {
	Code      ErrorCode
	Message   string
	Retryable bool
}

// NewEngineError builds an EngineError.
func NewEngineError(code ErrorCode, message string, retryable bool) *EngineError {
	return &EngineError{Code: code, Message: message, Retryable: retryable}
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// CodeOf extracts the ErrorCode from err if it is an *EngineError, else
// returns ErrCodeDownstream.
func CodeOf(err error) ErrorCode {
	if ee, ok := err.(*EngineError); ok {
		return ee.Code
	}
	return ErrCodeDownstream
}
