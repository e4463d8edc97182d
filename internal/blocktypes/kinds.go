package blocktypes

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

type FieldKind string

const (
	KindString             FieldKind = "string"
	KindInteger            FieldKind = "integer"
	KindFloat              FieldKind = "float"
	KindBoolean            FieldKind = "boolean"
	KindDate               FieldKind = "date"
	KindTimedelta          FieldKind = "timedelta"
	KindDict               FieldKind = "dict"
	KindList               FieldKind = "list"
	KindReference          FieldKind = "reference"
	KindReferenceList      FieldKind = "reference_list"
	KindReferenceValueDict FieldKind = "reference_value_dict"
)

func (k FieldKind) valid() bool {
	switch k {
	case KindString, KindInteger, KindFloat, KindBoolean, KindDate, KindTimedelta,
		KindDict, KindList, KindReference, KindReferenceList, KindReferenceValueDict:
		return true
	}
	return false
}

// IsReference reports whether values of this kind hold usage keys.
func (k FieldKind) IsReference() bool {
	return k == KindReference || k == KindReferenceList || k == KindReferenceValueDict
}

// Normalize converts a decoded value (JSON, BSON, YAML or a Go literal) into the
// in-memory form for the kind: int for integers, float64 for floats, time.Time (UTC)
// for dates, []any and map[string]any for containers. Reference kinds stay strings
// here; binding them to a course happens in the store. nil stays nil.
func (k FieldKind) Normalize(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch k {
	case KindInteger:
		return toInt(v)
	case KindFloat:
		return toFloat(v)
	case KindBoolean:
		switch t := v.(type) {
		case bool:
			return t, nil
		case string:
			return strconv.ParseBool(strings.TrimSpace(t))
		}
		return nil, fmt.Errorf("expected boolean, got %T", v)
	case KindDate:
		switch t := v.(type) {
		case time.Time:
			return t.UTC(), nil
		case string:
			if strings.TrimSpace(t) == "" {
				return nil, nil
			}
			ts, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(t))
			if err != nil {
				return nil, fmt.Errorf("expected RFC3339 date: %w", err)
			}
			return ts.UTC(), nil
		}
		return nil, fmt.Errorf("expected date, got %T", v)
	case KindDict, KindReferenceValueDict:
		return NormalizeGeneric(v), nil
	case KindList, KindReferenceList:
		n := NormalizeGeneric(v)
		if _, ok := n.([]any); !ok {
			return nil, fmt.Errorf("expected list, got %T", v)
		}
		return n, nil
	default:
		return v, nil
	}
}

// Encode converts an in-memory value to its stored form.
func (k FieldKind) Encode(v any) any {
	switch t := v.(type) {
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	case int:
		return int64(t)
	}
	return v
}

// NormalizeGeneric turns typed maps and slices into map[string]any / []any so values
// from different decoders compare equal.
func NormalizeGeneric(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, inner := range t {
			out[k] = NormalizeGeneric(inner)
		}
		return out
	case map[string]string:
		out := make(map[string]any, len(t))
		for k, inner := range t {
			out[k] = inner
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, inner := range t {
			out[fmt.Sprint(k)] = NormalizeGeneric(inner)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, inner := range t {
			out[i] = NormalizeGeneric(inner)
		}
		return out
	case []string:
		out := make([]any, len(t))
		for i, inner := range t {
			out[i] = inner
		}
		return out
	case []map[string]any:
		out := make([]any, len(t))
		for i, inner := range t {
			out[i] = NormalizeGeneric(inner)
		}
		return out
	case int:
		return float64(t)
	case int32:
		return float64(t)
	case int64:
		return float64(t)
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return t.String()
		}
		return f
	}
	return v
}

func toInt(v any) (any, error) {
	switch t := v.(type) {
	case int:
		return t, nil
	case int32:
		return int(t), nil
	case int64:
		return int(t), nil
	case float64:
		if t != math.Trunc(t) {
			return nil, fmt.Errorf("expected integer, got %v", t)
		}
		return int(t), nil
	case json.Number:
		i, err := t.Int64()
		return int(i), err
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return nil, fmt.Errorf("expected integer: %w", err)
		}
		return i, nil
	}
	return nil, fmt.Errorf("expected integer, got %T", v)
}

func toFloat(v any) (any, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case float32:
		return float64(t), nil
	case int:
		return float64(t), nil
	case int32:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case json.Number:
		return t.Float64()
	case string:
		return strconv.ParseFloat(strings.TrimSpace(t), 64)
	}
	return nil, fmt.Errorf("expected float, got %T", v)
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, inner := range t {
			out[k] = cloneValue(inner)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, inner := range t {
			out[i] = cloneValue(inner)
		}
		return out
	}
	return v
}

// Clone deep-copies maps and slices of a normalized value.
func Clone(v any) any { return cloneValue(v) }
