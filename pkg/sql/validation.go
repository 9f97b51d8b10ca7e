package sql

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"github.com/spf13/cast"

	"github.com/ekaya-inc/ekaya-report-engine/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-report-engine/pkg/models"
)

// ValidationError aggregates every parameter violation found in one pass.
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Error() string {
	return "parameter validation failed: " + strings.Join(e.Violations, "; ")
}

func (e *ValidationError) Unwrap() error {
	return apperrors.ErrInvalidRequest
}

// Validate checks params against defs and returns a new, coerced map.
// Parameters without a definition pass through unchanged. The input map is
// never modified. Validation is atomic: on any violation no map is
// returned, and the error lists every violation rather than just the first.
func Validate(params Params, defs []models.ParameterDefinition) (Params, error) {
	out := params.Clone()
	if out == nil {
		out = make(Params)
	}
	var violations []string

	for _, def := range defs {
		value, present := params[def.Name]

		if !present || value.IsBlank() {
			if def.Default != nil {
				coerced, err := Coerce(FromAny(def.Default), def.Type)
				if err != nil {
					violations = append(violations, fmt.Sprintf("parameter '%s' has an invalid default: %v", def.Name, err))
					continue
				}
				out[def.Name] = coerced
				continue
			}
			if def.Required {
				violations = append(violations, fmt.Sprintf("parameter '%s' is required", def.Name))
			}
			continue
		}

		coerced, err := Coerce(value, def.Type)
		if err != nil {
			violations = append(violations, fmt.Sprintf("parameter '%s': %v", def.Name, err))
			continue
		}

		violations = append(violations, checkBounds(def, coerced)...)
		out[def.Name] = coerced
	}

	if len(violations) > 0 {
		return nil, &ValidationError{Violations: violations}
	}
	return out, nil
}

func checkBounds(def models.ParameterDefinition, v Value) []string {
	var violations []string

	switch v.Kind() {
	case KindString:
		n := utf8.RuneCountInString(v.Str())
		if def.MinLength != nil && n < *def.MinLength {
			violations = append(violations, fmt.Sprintf("parameter '%s' is shorter than %d characters", def.Name, *def.MinLength))
		}
		if def.MaxLength != nil && n > *def.MaxLength {
			violations = append(violations, fmt.Sprintf("parameter '%s' is longer than %d characters", def.Name, *def.MaxLength))
		}
		if def.Pattern != "" {
			re, err := regexp.Compile(def.Pattern)
			if err != nil {
				violations = append(violations, fmt.Sprintf("parameter '%s' has an invalid pattern: %v", def.Name, err))
			} else if !re.MatchString(v.Str()) {
				violations = append(violations, fmt.Sprintf("parameter '%s' does not match pattern %s", def.Name, def.Pattern))
			}
		}

	case KindInteger, KindDecimal:
		var n decimal.Decimal
		if v.Kind() == KindInteger {
			n = decimal.NewFromInt(v.Int())
		} else {
			n = v.Dec()
		}
		if def.Min != nil && n.LessThan(decimal.NewFromFloat(*def.Min)) {
			violations = append(violations, fmt.Sprintf("parameter '%s' is less than minimum %v", def.Name, *def.Min))
		}
		if def.Max != nil && n.GreaterThan(decimal.NewFromFloat(*def.Max)) {
			violations = append(violations, fmt.Sprintf("parameter '%s' is greater than maximum %v", def.Name, *def.Max))
		}

	case KindList:
		n := len(v.Items())
		if def.MinLength != nil && n < *def.MinLength {
			violations = append(violations, fmt.Sprintf("parameter '%s' has fewer than %d items", def.Name, *def.MinLength))
		}
		if def.MaxLength != nil && n > *def.MaxLength {
			violations = append(violations, fmt.Sprintf("parameter '%s' has more than %d items", def.Name, *def.MaxLength))
		}
	}

	return violations
}

var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	time.RFC3339,
	time.RFC3339Nano,
	"2006/01/02",
	"2006/01/02 15:04:05",
	"20060102",
}

// Coerce converts v to the declared parameter type. An empty declared type
// leaves v unchanged.
func Coerce(v Value, typ models.ParameterType) (Value, error) {
	if v.IsNull() {
		return v, nil
	}

	switch models.ParameterType(strings.ToUpper(string(typ))) {
	case "":
		return v, nil

	case models.ParameterTypeString:
		if v.Kind() == KindList {
			return Value{}, fmt.Errorf("expected string, got list")
		}
		return String(v.String()), nil

	case models.ParameterTypeInteger:
		switch v.Kind() {
		case KindInteger:
			return v, nil
		case KindDecimal:
			if !v.Dec().IsInteger() {
				return Value{}, fmt.Errorf("expected integer, got %s", v.Dec())
			}
			return Integer(v.Dec().IntPart()), nil
		case KindString:
			i, err := strconv.ParseInt(strings.TrimSpace(v.Str()), 10, 64)
			if err != nil {
				return Value{}, fmt.Errorf("expected integer, got %q", v.Str())
			}
			return Integer(i), nil
		case KindBoolean:
			return Integer(cast.ToInt64(v.Bool())), nil
		}

	case models.ParameterTypeDecimal:
		switch v.Kind() {
		case KindDecimal:
			return v, nil
		case KindInteger:
			return Decimal(decimal.NewFromInt(v.Int())), nil
		case KindString:
			d, err := decimal.NewFromString(strings.TrimSpace(v.Str()))
			if err != nil {
				return Value{}, fmt.Errorf("expected decimal, got %q", v.Str())
			}
			return Decimal(d), nil
		}

	case models.ParameterTypeBoolean:
		switch v.Kind() {
		case KindBoolean:
			return v, nil
		case KindInteger:
			return Boolean(v.Int() != 0), nil
		case KindString:
			switch strings.ToLower(strings.TrimSpace(v.Str())) {
			case "yes", "y", "on":
				return Boolean(true), nil
			case "no", "n", "off":
				return Boolean(false), nil
			}
			b, err := cast.ToBoolE(strings.TrimSpace(v.Str()))
			if err != nil {
				return Value{}, fmt.Errorf("expected boolean, got %q", v.Str())
			}
			return Boolean(b), nil
		}

	case models.ParameterTypeDate:
		switch v.Kind() {
		case KindDate:
			return v, nil
		case KindString:
			s := strings.TrimSpace(v.Str())
			for _, layout := range dateLayouts {
				if t, err := time.Parse(layout, s); err == nil {
					return Date(t), nil
				}
			}
			t, err := cast.ToTimeInDefaultLocationE(s, time.UTC)
			if err != nil {
				return Value{}, fmt.Errorf("expected date, got %q", v.Str())
			}
			return Date(t), nil
		case KindInteger:
			return Date(time.UnixMilli(v.Int()).UTC()), nil
		}

	case models.ParameterTypeList:
		switch v.Kind() {
		case KindList:
			return v, nil
		case KindString:
			s := strings.TrimSpace(v.Str())
			if s == "" {
				return List(), nil
			}
			parts := strings.Split(s, ",")
			items := make([]Value, len(parts))
			for i, part := range parts {
				items[i] = String(strings.TrimSpace(part))
			}
			return List(items...), nil
		default:
			return List(v), nil
		}

	default:
		return Value{}, fmt.Errorf("unknown parameter type %q", typ)
	}

	return Value{}, fmt.Errorf("cannot convert %s to %s", v.Kind(), strings.ToLower(string(typ)))
}
