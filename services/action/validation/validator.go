// Copyright (C) 2026 Harbor AI (oss@harborai.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package validation checks a parameter value bag against an action's
// declared schema. Everything here is a pure computation over its inputs:
// no I/O, no shared state.
package validation

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/HarborAI/HarborFlow/services/action/datatypes"
)

// =============================================================================
// Result Types
// =============================================================================

// FieldError reports one failed check on one provided value. Field errors
// never abort a session; they are routed back to the user as follow-ups.
type FieldError struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

// Result is the outcome of one validation pass.
type Result struct {
	// Missing lists required parameters with no value and no default.
	Missing []datatypes.ParameterSpec

	// FieldErrors lists provided values that failed a check.
	FieldErrors []FieldError

	// Defaulted maps parameter names to declared defaults that backfilled
	// a missing value.
	Defaulted map[string]any

	// Coerced maps parameter names to their normalized values (e.g. a
	// numeric string parsed into a float64). Caller merges these over the
	// raw bag.
	Coerced map[string]any
}

// OK reports whether the bag is complete and every provided value passed.
func (r *Result) OK() bool {
	return len(r.Missing) == 0 && len(r.FieldErrors) == 0
}

// dateLayouts are accepted in order for date-typed parameters.
var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006/01/02",
}

// =============================================================================
// Validate
// =============================================================================

// Validate checks values against specs.
//
// # Description
//
// For each declared parameter:
//
//   - absent + required + no default → Missing
//   - absent + declared default → Defaulted (value is NOT written into the
//     input bag; the caller decides where defaults land)
//   - present → type coercion, then range / pattern / enum / date checks;
//     failures land in FieldErrors
//
// Values present in the bag but not declared in the schema are ignored;
// the extraction service is allowed to over-produce.
//
// # Thread Safety
//
// Pure function. Safe for concurrent use.
func Validate(specs []datatypes.ParameterSpec, values map[string]any) *Result {
	res := &Result{
		Defaulted: make(map[string]any),
		Coerced:   make(map[string]any),
	}

	for _, spec := range specs {
		val, present := values[spec.Name]
		if !present || val == nil || isEmptyString(val) {
			if spec.Default != nil {
				res.Defaulted[spec.Name] = spec.Default
			} else if spec.Required {
				res.Missing = append(res.Missing, spec)
			}
			continue
		}

		coerced, err := checkValue(&spec, val)
		if err != nil {
			res.FieldErrors = append(res.FieldErrors, FieldError{Name: spec.Name, Message: err.Error()})
			continue
		}
		res.Coerced[spec.Name] = coerced
	}

	return res
}

// checkValue coerces and validates a single value against its spec.
func checkValue(spec *datatypes.ParameterSpec, val any) (any, error) {
	switch spec.Type {
	case datatypes.ParamTypeNumber:
		return checkNumber(spec, val)
	case datatypes.ParamTypeBoolean:
		return checkBoolean(val)
	case datatypes.ParamTypeDate:
		return checkDate(val)
	case datatypes.ParamTypeEnum:
		return checkEnum(spec, val)
	default:
		return checkString(spec, val)
	}
}

func checkNumber(spec *datatypes.ParameterSpec, val any) (any, error) {
	n, err := toFloat(val)
	if err != nil {
		return nil, fmt.Errorf("expected a number, got %q", fmt.Sprintf("%v", val))
	}
	if spec.Min != nil && n < *spec.Min {
		return nil, fmt.Errorf("must be >= %v", *spec.Min)
	}
	if spec.Max != nil && n > *spec.Max {
		return nil, fmt.Errorf("must be <= %v", *spec.Max)
	}
	return n, nil
}

func checkBoolean(val any) (any, error) {
	switch v := val.(type) {
	case bool:
		return v, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return nil, fmt.Errorf("expected true/false, got %q", v)
		}
		return b, nil
	default:
		return nil, fmt.Errorf("expected a boolean, got %T", val)
	}
}

func checkDate(val any) (any, error) {
	s, ok := val.(string)
	if !ok {
		if t, isTime := val.(time.Time); isTime {
			return t, nil
		}
		return nil, fmt.Errorf("expected a date string, got %T", val)
	}
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return nil, fmt.Errorf("unrecognized date %q", s)
}

func checkEnum(spec *datatypes.ParameterSpec, val any) (any, error) {
	s := fmt.Sprintf("%v", val)
	for _, allowed := range spec.EnumValues {
		if strings.EqualFold(s, allowed) {
			// Normalize to the declared casing.
			return allowed, nil
		}
	}
	return nil, fmt.Errorf("must be one of [%s]", strings.Join(spec.EnumValues, ", "))
}

func checkString(spec *datatypes.ParameterSpec, val any) (any, error) {
	s, ok := val.(string)
	if !ok {
		s = fmt.Sprintf("%v", val)
	}
	if spec.Pattern != "" {
		re, err := regexp.Compile(spec.Pattern)
		if err != nil {
			// Schema bug, not a user error: report it against the field so
			// authoring can see it, but do not reject the value.
			return s, nil
		}
		if !re.MatchString(s) {
			return nil, fmt.Errorf("does not match pattern %s", spec.Pattern)
		}
	}
	return s, nil
}

// toFloat coerces the numeric shapes JSON and YAML decoding produce.
func toFloat(val any) (float64, error) {
	switch v := val.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case string:
		return strconv.ParseFloat(strings.TrimSpace(v), 64)
	default:
		return 0, fmt.Errorf("not numeric: %T", val)
	}
}

func isEmptyString(val any) bool {
	s, ok := val.(string)
	return ok && strings.TrimSpace(s) == ""
}
