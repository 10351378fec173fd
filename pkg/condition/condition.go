// Package condition evaluates visibility and requirement rules against the
// form's current values. Evaluation is total: malformed trees and missing
// fields degrade to false instead of failing, since schemas may be authored
// by non-engineers.
package condition

import (
	"reflect"
	"strings"

	"github.com/goliatone/go-formflow/internal/coerce"
	"github.com/goliatone/go-formflow/pkg/schema"
)

// Evaluate resolves a condition tree against the value bag. A nil condition
// is vacuously true. Compound conditions short-circuit: and stops at the
// first false branch, or at the first true one.
func Evaluate(c *schema.Condition, values map[string]any) bool {
	if c == nil {
		return true
	}

	switch c.Operator {
	case schema.OpAnd:
		for i := range c.Conditions {
			if !Evaluate(&c.Conditions[i], values) {
				return false
			}
		}
		return true
	case schema.OpOr:
		for i := range c.Conditions {
			if Evaluate(&c.Conditions[i], values) {
				return true
			}
		}
		return false
	}

	return evaluateSimple(c, values)
}

func evaluateSimple(c *schema.Condition, values map[string]any) bool {
	var current any
	if values != nil {
		current = values[c.Field]
	}

	switch c.Operator {
	case schema.OpEquals:
		return coerce.Equal(current, c.Value)
	case schema.OpNotEquals:
		return !coerce.Equal(current, c.Value)
	case schema.OpContains:
		return contains(current, c.Value)
	case schema.OpNotContains:
		return !contains(current, c.Value)
	case schema.OpGreaterThan:
		return compareNumbers(current, c.Value, func(a, b float64) bool { return a > b })
	case schema.OpLessThan:
		return compareNumbers(current, c.Value, func(a, b float64) bool { return a < b })
	case schema.OpGreaterThanOrEqual:
		return compareNumbers(current, c.Value, func(a, b float64) bool { return a >= b })
	case schema.OpLessThanOrEqual:
		return compareNumbers(current, c.Value, func(a, b float64) bool { return a <= b })
	case schema.OpIn:
		return member(current, c.Value)
	case schema.OpNotIn:
		return !member(current, c.Value)
	case schema.OpIsEmpty:
		return coerce.IsEmpty(current)
	case schema.OpIsNotEmpty:
		return !coerce.IsEmpty(current)
	}
	return false
}

// contains checks substring membership for strings and element membership
// for collections.
func contains(current, want any) bool {
	if current == nil {
		return false
	}
	if items, ok := asSlice(current); ok {
		for _, item := range items {
			if coerce.Equal(item, want) {
				return true
			}
		}
		return false
	}
	return strings.Contains(coerce.String(current), coerce.String(want))
}

// member tests whether current appears in the condition's collection. A
// non-collection value degrades to no-match.
func member(current, collection any) bool {
	items, ok := asSlice(collection)
	if !ok {
		return false
	}
	for _, item := range items {
		if coerce.Equal(current, item) {
			return true
		}
	}
	return false
}

func compareNumbers(current, want any, cmp func(a, b float64) bool) bool {
	a, ok := coerce.Number(current)
	if !ok {
		return false
	}
	b, ok := coerce.Number(want)
	if !ok {
		return false
	}
	return cmp(a, b)
}

func asSlice(value any) ([]any, bool) {
	if value == nil {
		return nil, false
	}
	if typed, ok := value.([]any); ok {
		return typed, true
	}
	rv := reflect.ValueOf(value)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}
