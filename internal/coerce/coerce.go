// Package coerce centralises the loose value conversions shared by the
// condition, computed, and validation packages. Field values arrive from JSON
// payloads or user input and may be strings, numbers, booleans, or
// collections; evaluators treat them interchangeably where that is safe.
package coerce

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// Number attempts to read value as a float64. Strings are parsed after
// trimming whitespace.
func Number(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int8:
		return float64(v), true
	case int16:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case uint:
		return float64(v), true
	case uint64:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// String renders value for display and comparison. Nil yields the empty
// string. Floats drop a trailing ".0" so 5.0 and 5 compare equal when both
// sides fall back to string comparison.
func String(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	case bool:
		if v {
			return "true"
		}
		return "false"
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 64)
	default:
		return fmt.Sprint(value)
	}
}

// Bool reads value as a boolean. Strings accept the strconv.ParseBool forms.
func Bool(value any) (bool, bool) {
	switch v := value.(type) {
	case bool:
		return v, true
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return false, false
		}
		return parsed, true
	default:
		return false, false
	}
}

// IsEmpty reports whether value counts as an empty field: nil, a blank
// string, or a zero-length collection.
func IsEmpty(value any) bool {
	if value == nil {
		return true
	}
	switch v := value.(type) {
	case string:
		return strings.TrimSpace(v) == ""
	case []any:
		return len(v) == 0
	case map[string]any:
		return len(v) == 0
	}
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() == 0
	}
	return false
}

// Equal compares two field values loosely: numbers compare numerically
// regardless of representation ("5" equals 5), scalars fall back to string
// comparison, and collections use deep equality.
func Equal(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if na, ok := Number(a); ok {
		if nb, ok := Number(b); ok {
			return na == nb
		}
	}
	if isScalar(a) && isScalar(b) {
		return String(a) == String(b)
	}
	return reflect.DeepEqual(a, b)
}

func isScalar(value any) bool {
	switch value.(type) {
	case string, bool,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64, []byte:
		return true
	}
	return false
}
