// Package filter narrows submission lists by free text, date range, and
// per-column criteria, and renders filtered results as cursors and CSV.
package filter

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"formsmith/internal/schema"
	"formsmith/internal/store"
)

// ParseBool mirrors HTML form semantics: checkbox-ish truthy strings.
func ParseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "on", "yes":
		return true
	}
	return false
}

var queryTimeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

// ParseQueryTime parses the ISO-ish timestamps browsers and API clients
// send. Naive values are taken as UTC.
func ParseQueryTime(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	for _, layout := range queryTimeLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// ParamKey maps a flat field key to its query-parameter name. Dots can't
// ride in form input names cleanly, so they become double underscores.
func ParamKey(flatKey string) string {
	return "f_" + strings.ReplaceAll(flatKey, ".", "__")
}

// FilterValues resolves a dotted key against submission data, fanning out
// through any lists met along the path. A trailing list is flattened into
// its elements.
func FilterValues(data any, dottedKey string) []any {
	parts := strings.Split(dottedKey, ".")
	var walk func(node any, idx int) []any
	walk = func(node any, idx int) []any {
		if idx >= len(parts) {
			if items, ok := node.([]any); ok {
				return items
			}
			return []any{node}
		}
		switch t := node.(type) {
		case map[string]any:
			if child, ok := t[parts[idx]]; ok {
				return walk(child, idx+1)
			}
		case []any:
			var values []any
			for _, item := range t {
				values = append(values, walk(item, idx)...)
			}
			return values
		}
		return nil
	}
	return walk(data, 0)
}

func toFloat(value any) (float64, bool) {
	switch t := value.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	}
	return 0, false
}

func toText(value any) string {
	switch t := value.(type) {
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

func isEmpty(value any) bool {
	return value == nil || value == ""
}

// ApplyFilters returns the submissions matching every criterion present in
// params: q (free text across all answers), submitted_from / submitted_to
// (created_at bounds), and per-column f_* parameters. Multi-valued columns
// match when any element matches.
func ApplyFilters(submissions []store.Submission, fields []schema.Field, params url.Values, fileNames map[string]string) []store.Submission {
	q := strings.ToLower(strings.TrimSpace(params.Get("q")))
	fromTime, hasFrom := ParseQueryTime(params.Get("submitted_from"))
	toTime, hasTo := ParseQueryTime(params.Get("submitted_to"))
	flatFields := schema.FlattenFilterFields(fields)

	var filtered []store.Submission
	for _, sub := range submissions {
		if hasFrom && sub.CreatedAt.UTC().Before(fromTime) {
			continue
		}
		if hasTo && sub.CreatedAt.UTC().After(toTime) {
			continue
		}
		if q != "" && !strings.Contains(searchableText(fields, sub.Data, fileNames), q) {
			continue
		}
		if matchesFieldFilters(flatFields, sub.Data, params, fileNames) {
			filtered = append(filtered, sub)
		}
	}
	return filtered
}

// searchableText concatenates every leaf answer, resolving file ids to
// their original names so free text can find uploads.
func searchableText(fields []schema.Field, data any, fileNames map[string]string) string {
	var parts []string
	var visit func(fieldList []schema.Field, node any)
	visit = func(fieldList []schema.Field, node any) {
		m, ok := node.(map[string]any)
		if !ok {
			return
		}
		for _, field := range fieldList {
			value, present := m[field.Key]
			if !present {
				continue
			}
			switch {
			case field.Type == schema.TypeGroup:
				if field.IsArray {
					for _, item := range asSlice(value) {
						visit(field.Children, item)
					}
				} else {
					visit(field.Children, value)
				}
			case field.Type == schema.TypeFile:
				for _, item := range scalarOrItems(value, field.IsArray) {
					if id, ok := item.(string); ok {
						if name := fileNames[id]; name != "" {
							parts = append(parts, name)
						}
					}
				}
			default:
				for _, item := range scalarOrItems(value, field.IsArray) {
					if !isEmpty(item) {
						parts = append(parts, toText(item))
					}
				}
			}
		}
	}
	visit(fields, data)
	return strings.ToLower(strings.Join(parts, " "))
}

func scalarOrItems(value any, isArray bool) []any {
	if isArray {
		return asSlice(value)
	}
	return []any{value}
}

func asSlice(value any) []any {
	items, _ := value.([]any)
	return items
}

func matchesFieldFilters(flatFields []schema.FlatField, data map[string]any, params url.Values, fileNames map[string]string) bool {
	for _, field := range flatFields {
		paramKey := ParamKey(field.FlatKey)
		values := FilterValues(data, field.FlatKey)
		var first any
		if len(values) > 0 {
			first = values[0]
		}

		if field.IsArray || field.Type == schema.TypeGroup {
			filterValue := strings.TrimSpace(params.Get(paramKey))
			if filterValue == "" {
				continue
			}
			if !matchAny(field.Type, values, filterValue, fileNames) {
				return false
			}
			continue
		}

		switch field.Type {
		case schema.TypeString, schema.TypeEnum, schema.TypeFile,
			schema.TypeDatetime, schema.TypeDate, schema.TypeTime, schema.TypeMaster:
			filterValue := strings.TrimSpace(params.Get(paramKey))
			if filterValue == "" {
				continue
			}
			switch field.Type {
			case schema.TypeEnum, schema.TypeMaster:
				if toText(first) != filterValue {
					return false
				}
			case schema.TypeFile:
				name := fileNames[toText(first)]
				if !strings.Contains(strings.ToLower(name), strings.ToLower(filterValue)) {
					return false
				}
			default:
				if !strings.Contains(strings.ToLower(toText(first)), strings.ToLower(filterValue)) {
					return false
				}
			}
		case schema.TypeNumber, schema.TypeInteger:
			minRaw := strings.TrimSpace(params.Get(paramKey + "_min"))
			maxRaw := strings.TrimSpace(params.Get(paramKey + "_max"))
			if minRaw == "" && maxRaw == "" {
				continue
			}
			numeric, ok := toFloat(first)
			if !ok {
				return false
			}
			if minRaw != "" {
				if bound, ok := toFloat(minRaw); ok && numeric < bound {
					return false
				}
			}
			if maxRaw != "" {
				if bound, ok := toFloat(maxRaw); ok && numeric > bound {
					return false
				}
			}
		case schema.TypeBoolean:
			filterValue := strings.TrimSpace(params.Get(paramKey))
			if filterValue == "" {
				continue
			}
			actual, _ := first.(bool)
			if actual != ParseBool(filterValue) {
				return false
			}
		}
	}
	return true
}

// matchAny applies the multi-valued match rule: enum needs one exact
// element, file matches on resolved name substring, everything else on
// element substring.
func matchAny(fieldType string, values []any, filterValue string, fileNames map[string]string) bool {
	lowered := strings.ToLower(filterValue)
	for _, item := range values {
		if isEmpty(item) {
			continue
		}
		switch fieldType {
		case schema.TypeEnum, schema.TypeMaster:
			if toText(item) == filterValue {
				return true
			}
		case schema.TypeFile:
			id, ok := item.(string)
			if !ok {
				continue
			}
			if strings.Contains(strings.ToLower(fileNames[id]), lowered) {
				return true
			}
		default:
			if strings.Contains(strings.ToLower(toText(item)), lowered) {
				return true
			}
		}
	}
	return false
}
