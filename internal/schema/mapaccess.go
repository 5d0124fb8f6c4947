package schema

import (
	"fmt"
	"strconv"
	"strings"
)

// Tolerant accessors for builder payloads and stored schema documents.
// The builder UI posts loosely-typed JSON (numbers as strings, missing
// keys), so everything goes through these instead of strict unmarshaling.

func asString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		if t {
			return "true"
		}
		return "false"
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", t)
	}
}

func trimmedString(m map[string]any, key string) string {
	return strings.TrimSpace(asString(m[key]))
}

func asBool(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "1", "true", "on", "yes":
			return true
		}
		return false
	case float64:
		return t != 0
	default:
		return false
	}
}

func asSlice(v any) []any {
	if s, ok := v.([]any); ok {
		return s
	}
	return nil
}

func asMap(v any) map[string]any {
	if m, ok := v.(map[string]any); ok {
		return m
	}
	return nil
}

func asStringSlice(v any) []string {
	var out []string
	for _, item := range asSlice(v) {
		text := strings.TrimSpace(asString(item))
		if text != "" {
			out = append(out, text)
		}
	}
	return out
}

// asFloatPtr parses numbers and numeric strings; "" and junk become nil.
func asFloatPtr(v any) *float64 {
	switch t := v.(type) {
	case float64:
		f := t
		return &f
	case string:
		text := strings.TrimSpace(t)
		if text == "" {
			return nil
		}
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return nil
		}
		return &f
	default:
		return nil
	}
}
