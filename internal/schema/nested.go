package schema

import "strings"

// GetNestedValue resolves a dotted key against submission data. Returns
// nil when any segment is missing or not an object.
func GetNestedValue(data map[string]any, dottedKey string) any {
	var current any = data
	for _, part := range strings.Split(dottedKey, ".") {
		m := asMap(current)
		if m == nil {
			return nil
		}
		current = m[part]
	}
	return current
}

// SetNestedValue writes a value at a dotted key, creating intermediate
// objects as needed.
func SetNestedValue(data map[string]any, dottedKey string, value any) {
	parts := strings.Split(dottedKey, ".")
	current := data
	for _, part := range parts[:len(parts)-1] {
		child := asMap(current[part])
		if child == nil {
			child = map[string]any{}
			current[part] = child
		}
		current = child
	}
	current[parts[len(parts)-1]] = value
}

// CleanEmpty recursively prunes nils and empty strings so "required"
// validation catches blank answers. Objects and lists that end up empty
// collapse to nil.
func CleanEmpty(data any) any {
	switch t := data.(type) {
	case map[string]any:
		cleaned := map[string]any{}
		for key, value := range t {
			if result := CleanEmpty(value); result != nil && result != "" {
				cleaned[key] = result
			}
		}
		if len(cleaned) == 0 {
			return nil
		}
		return cleaned
	case []any:
		var cleaned []any
		for _, item := range t {
			if result := CleanEmpty(item); result != nil && result != "" {
				cleaned = append(cleaned, result)
			}
		}
		if len(cleaned) == 0 {
			return nil
		}
		return cleaned
	default:
		return data
	}
}
