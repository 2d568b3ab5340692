// Package visibility decides whether a form field renders given the current answers.
package visibility

import (
	"github.com/jwalitptl/clinic-forms/pkg/forms/schema"
)

// IsVisible reports whether field should render for the given answers.
// Unknown operators leave the field visible.
func IsVisible(field schema.Field, answers schema.Answers) bool {
	cond := field.Condition
	if cond == nil {
		return true
	}

	v := answers[cond.FieldID]

	switch cond.Operator {
	case schema.OpEquals:
		return equal(v, cond.Value)
	case schema.OpNotEquals:
		return !equal(v, cond.Value)
	case schema.OpExists:
		return exists(v)
	case schema.OpNotExists:
		return !exists(v)
	case schema.OpGt:
		a, okA := number(v)
		b, okB := number(cond.Value)
		return okA && okB && a > b
	case schema.OpLt:
		a, okA := number(v)
		b, okB := number(cond.Value)
		return okA && okB && a < b
	case schema.OpIncludes:
		return includes(v, cond.Value)
	default:
		return true
	}
}

// VisibleFields returns the visible fields in template order.
func VisibleFields(fields []schema.Field, answers schema.Answers) []schema.Field {
	out := make([]schema.Field, 0, len(fields))
	for _, f := range fields {
		if IsVisible(f, answers) {
			out = append(out, f)
		}
	}
	return out
}

func exists(v any) bool {
	if v == nil {
		return false
	}
	if s, ok := v.(string); ok && s == "" {
		return false
	}
	return true
}

// equal is strict equality on scalars: numbers compare by value across Go
// numeric kinds, everything else must share a type. Sequences and maps never
// compare equal.
func equal(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if x, ok := number(a); ok {
		y, ok := number(b)
		return ok && x == y
	}
	switch x := a.(type) {
	case string:
		y, ok := b.(string)
		return ok && x == y
	case bool:
		y, ok := b.(bool)
		return ok && x == y
	}
	return false
}

func includes(seq any, want any) bool {
	switch s := seq.(type) {
	case []any:
		for _, item := range s {
			if equal(item, want) {
				return true
			}
		}
	case []string:
		for _, item := range s {
			if equal(item, want) {
				return true
			}
		}
	}
	return false
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}
