// Package typeutil provides lenient type coercion for decoded model output.
//
// Structured model responses are decoded into map[string]any and read through
// these helpers; none of them panic. Values that a model uses to mean "no
// value" ("null", "n/a", "unknown", "") are treated as absent.
package typeutil

import (
	"strconv"
	"strings"
)

var absentMarkers = map[string]bool{
	"":        true,
	"null":    true,
	"none":    true,
	"n/a":     true,
	"na":      true,
	"unknown": true,
	"-":       true,
}

// IsAbsent reports whether a string is a model's way of saying "no value".
func IsAbsent(s string) bool {
	return absentMarkers[strings.ToLower(strings.TrimSpace(s))]
}

// String returns a trimmed string value. Numbers and bools are formatted.
func String(value any) (string, bool) {
	switch v := value.(type) {
	case string:
		s := strings.TrimSpace(v)
		if IsAbsent(s) {
			return "", false
		}
		return s, true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case int:
		return strconv.Itoa(v), true
	case bool:
		return strconv.FormatBool(v), true
	default:
		return "", false
	}
}

// StringDefault returns String(value) or defaultVal.
func StringDefault(value any, defaultVal string) string {
	if s, ok := String(value); ok {
		return s
	}
	return defaultVal
}

// OptionalString returns a pointer to the string value, or nil when absent.
func OptionalString(value any) *string {
	if s, ok := String(value); ok {
		return &s
	}
	return nil
}

// Int coerces numbers and numeric strings ("85", "85/100", "85%") to int.
func Int(value any) (int, bool) {
	switch v := value.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	case string:
		s := strings.TrimSpace(v)
		if i := strings.IndexAny(s, "/%"); i >= 0 {
			s = strings.TrimSpace(s[:i])
		}
		if n, err := strconv.Atoi(s); err == nil {
			return n, true
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return int(f), true
		}
		return 0, false
	default:
		return 0, false
	}
}

// Score coerces a value to an int clamped to 0..100.
func Score(value any) (int, bool) {
	n, ok := Int(value)
	if !ok {
		return 0, false
	}
	if n < 0 {
		n = 0
	}
	if n > 100 {
		n = 100
	}
	return n, true
}

// Bool accepts JSON bools and common textual forms.
func Bool(value any) (bool, bool) {
	switch v := value.(type) {
	case bool:
		return v, true
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "yes", "y", "pass", "passed":
			return true, true
		case "false", "no", "n", "fail", "failed":
			return false, true
		}
	}
	return false, false
}

// StringSlice accepts a JSON array of scalars or a single comma/semicolon
// separated string. Absent entries are dropped. Returns a non-nil slice.
func StringSlice(value any) []string {
	result := []string{}
	switch v := value.(type) {
	case []any:
		for _, item := range v {
			if s, ok := String(item); ok {
				result = append(result, s)
			}
		}
	case []string:
		for _, item := range v {
			if s, ok := String(item); ok {
				result = append(result, s)
			}
		}
	case string:
		for _, part := range strings.FieldsFunc(v, func(r rune) bool { return r == ',' || r == ';' || r == '\n' }) {
			if s, ok := String(part); ok {
				result = append(result, s)
			}
		}
	}
	return result
}

// Map returns value as map[string]any.
func Map(value any) (map[string]any, bool) {
	m, ok := value.(map[string]any)
	return m, ok && m != nil
}

// First returns the first key present in data, so callers can accept the
// aliases models use for the same field ("recent_activity", "recentActivity").
func First(data map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := data[k]; ok && v != nil {
			return v
		}
	}
	return nil
}
