package schema

import "encoding/json"

// FlatField is a leaf column produced by flattening the field tree.
// FlatKey is the dotted path into submission data; FlatLabel the dotted
// human-readable header.
type FlatField struct {
	Field
	FlatKey   string
	FlatLabel string
}

// FlattenFields flattens nested groups into leaf columns. Non-array groups
// always dissolve into their children. Array groups normally stay as one
// column (rendered as JSON); with expandRowsForGroupArrays they stay as a
// single group column too, but callers pair this with ExpandGroupArrayRows
// so each row carries a single element.
func FlattenFields(fields []Field, expandRowsForGroupArrays bool) []FlatField {
	return flattenFields(fields, "", "", expandRowsForGroupArrays)
}

func flattenFields(fields []Field, prefix, labelPrefix string, expandGroups bool) []FlatField {
	var result []FlatField
	for _, field := range fields {
		key := field.Key
		if prefix != "" {
			key = prefix + field.Key
		}
		label := field.DisplayLabel()
		if labelPrefix != "" {
			label = labelPrefix + label
		}
		if field.Type == TypeGroup {
			if field.IsArray && !(expandGroups && field.ExpandRows) {
				result = append(result, FlatField{Field: field, FlatKey: key, FlatLabel: label})
				continue
			}
			result = append(result, flattenFields(field.Children, key+".", label+".", expandGroups)...)
			continue
		}
		result = append(result, FlatField{Field: field, FlatKey: key, FlatLabel: label})
	}
	return result
}

// FlattenFilterFields flattens for the filter UI: every group dissolves,
// including array groups, so each leaf gets its own filter input. Leaves
// reached through an array group are marked multi-valued because one
// submission holds many of them.
func FlattenFilterFields(fields []Field) []FlatField {
	return flattenFilterFields(fields, "", "", false)
}

func flattenFilterFields(fields []Field, prefix, labelPrefix string, inArray bool) []FlatField {
	var result []FlatField
	for _, field := range fields {
		key := field.Key
		if prefix != "" {
			key = prefix + field.Key
		}
		label := field.DisplayLabel()
		if labelPrefix != "" {
			label = labelPrefix + label
		}
		if field.Type == TypeGroup {
			result = append(result, flattenFilterFields(field.Children, key+".", label+".", inArray || field.IsArray)...)
			continue
		}
		flat := FlatField{Field: field, FlatKey: key, FlatLabel: label}
		if inArray {
			flat.IsArray = true
		}
		result = append(result, flat)
	}
	return result
}

// ExpandGroupArrayRows turns one submission into one row per element of
// each expand_rows group array, taking the cartesian product when several
// apply. Submissions without expandable groups come back unchanged as a
// single row. Expanders are discovered through non-array groups only; an
// expander nested inside another array group is unreachable until its
// parent expands.
func ExpandGroupArrayRows(fields []Field, data map[string]any) []map[string]any {
	paths := collectExpanderPaths(fields, nil)
	if len(paths) == 0 {
		return []map[string]any{data}
	}
	rows := []map[string]any{data}
	for _, path := range paths {
		var next []map[string]any
		for _, row := range rows {
			next = append(next, expandOne(row, path)...)
		}
		rows = next
	}
	return rows
}

func collectExpanderPaths(fields []Field, prefix []string) [][]string {
	var paths [][]string
	for _, field := range fields {
		if field.Type != TypeGroup {
			continue
		}
		path := append(append([]string{}, prefix...), field.Key)
		if field.IsArray {
			if field.ExpandRows {
				paths = append(paths, path)
			}
			continue
		}
		paths = append(paths, collectExpanderPaths(field.Children, path)...)
	}
	return paths
}

// expandOne produces one row per element of the group array at path,
// cloning the maps along the path so rows don't alias each other.
func expandOne(data map[string]any, path []string) []map[string]any {
	node := any(data)
	for _, part := range path[:len(path)-1] {
		m := asMap(node)
		if m == nil {
			return []map[string]any{data}
		}
		node = m[part]
	}
	parent := asMap(node)
	if parent == nil {
		return []map[string]any{data}
	}
	items := asSlice(parent[path[len(path)-1]])
	if len(items) == 0 {
		row := clonePath(data, path)
		setAtPath(row, path, map[string]any{})
		return []map[string]any{row}
	}
	var rows []map[string]any
	for _, item := range items {
		row := clonePath(data, path)
		setAtPath(row, path, item)
		rows = append(rows, row)
	}
	return rows
}

func clonePath(data map[string]any, path []string) map[string]any {
	root := make(map[string]any, len(data))
	for k, v := range data {
		root[k] = v
	}
	current := root
	for _, part := range path[:len(path)-1] {
		child := asMap(current[part])
		if child == nil {
			return root
		}
		cloned := make(map[string]any, len(child))
		for k, v := range child {
			cloned[k] = v
		}
		current[part] = cloned
		current = cloned
	}
	return root
}

func setAtPath(data map[string]any, path []string, value any) {
	current := data
	for _, part := range path[:len(path)-1] {
		child := asMap(current[part])
		if child == nil {
			return
		}
		current = child
	}
	current[path[len(path)-1]] = value
}

// HasExpandRows reports whether any group array in the tree asks for row
// expansion.
func HasExpandRows(fields []Field) bool {
	for _, field := range fields {
		if field.Type != TypeGroup {
			continue
		}
		if field.IsArray && field.ExpandRows {
			return true
		}
		if HasExpandRows(field.Children) {
			return true
		}
	}
	return false
}

// FormatArrayGroupValue renders an unexpanded group-array cell: each
// element's keys are replaced by child labels, then the list is JSON
// encoded for display.
func FormatArrayGroupValue(value any, children []Field) string {
	items := asSlice(value)
	if len(items) == 0 {
		return ""
	}
	var out []any
	for _, item := range items {
		if m := asMap(item); m != nil {
			out = append(out, labelGroupItem(m, children))
		} else {
			out = append(out, item)
		}
	}
	encoded, err := json.Marshal(out)
	if err != nil {
		return ""
	}
	return string(encoded)
}

func labelGroupItem(item map[string]any, children []Field) map[string]any {
	childByKey := map[string]Field{}
	for _, child := range children {
		childByKey[child.Key] = child
	}
	formatted := map[string]any{}
	for key, raw := range item {
		child, ok := childByKey[key]
		if !ok {
			formatted[key] = raw
			continue
		}
		formatted[child.DisplayLabel()] = labelGroupValue(raw, child)
	}
	return formatted
}

func labelGroupValue(value any, field Field) any {
	if field.Type != TypeGroup {
		return value
	}
	if field.IsArray {
		items := asSlice(value)
		if items == nil {
			return value
		}
		var out []any
		for _, item := range items {
			if m := asMap(item); m != nil {
				out = append(out, labelGroupItem(m, field.Children))
			} else {
				out = append(out, item)
			}
		}
		return out
	}
	if m := asMap(value); m != nil {
		return labelGroupItem(m, field.Children)
	}
	return value
}
