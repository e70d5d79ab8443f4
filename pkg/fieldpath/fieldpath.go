// Package fieldpath resolves dot-paths over arbitrary nested project
// data. Project data arrives as decoded JSON; a missing path is a
// normal outcome, never a panic.
package fieldpath

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Resolve walks data one segment per dot. Numeric segments index into
// arrays. The second return is false when any segment misses.
func Resolve(data map[string]any, path string) (any, bool) {
	path = strings.TrimSpace(path)
	if path == "" || data == nil {
		return nil, false
	}
	var cur any = data
	for _, seg := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			next, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = next
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			cur = node[idx]
		default:
			return nil, false
		}
	}
	return cur, true
}

// Number coerces a resolved value to float64.
func Number(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	case bool:
		if t {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

// String coerces a resolved value to its string form.
func String(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case json.Number:
		return t.String(), true
	case float64:
		return FormatNumber(t), true
	case int:
		return strconv.Itoa(t), true
	case bool:
		return strconv.FormatBool(t), true
	}
	return "", false
}

// Truthy follows JSON truthiness: nil, false, 0, "" and empty
// containers are falsy.
func Truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0
	case int:
		return t != 0
	case json.Number:
		f, err := t.Float64()
		return err == nil && f != 0
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	}
	return true
}

// Key coerces a value to the string representation lookup tables are
// authored with: integers without a decimal part, no trailing zeros.
func Key(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	if n, ok := Number(v); ok {
		return FormatNumber(n)
	}
	s, _ := String(v)
	return s
}

// FormatNumber renders whole numbers without a fractional part.
func FormatNumber(n float64) string {
	if n == float64(int64(n)) {
		return strconv.FormatInt(int64(n), 10)
	}
	return strconv.FormatFloat(n, 'f', -1, 64)
}

// Display renders any resolved value for report interpolation.
func Display(v any) string {
	if s, ok := String(v); ok {
		return s
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(raw)
}
