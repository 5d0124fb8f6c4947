package filter

import (
	"strconv"
	"strings"

	"formsmith/internal/schema"
	"formsmith/internal/store"
)

// CollectFileIDs gathers every file id referenced by the submissions'
// file-typed columns.
func CollectFileIDs(submissions []store.Submission, fields []schema.Field) map[string]bool {
	ids := map[string]bool{}
	for _, flat := range schema.FlattenFields(fields, false) {
		if flat.Type != schema.TypeFile {
			continue
		}
		for _, sub := range submissions {
			value := schema.GetNestedValue(sub.Data, flat.FlatKey)
			switch t := value.(type) {
			case string:
				if t != "" {
					ids[t] = true
				}
			case []any:
				for _, item := range t {
					if id, ok := item.(string); ok && id != "" {
						ids[id] = true
					}
				}
			}
		}
	}
	return ids
}

// ResolveFileNames maps file ids to their original upload names. Missing
// ids are skipped.
func ResolveFileNames(files store.FileRepo, ids map[string]bool) map[string]string {
	names := map[string]string{}
	for id := range ids {
		meta, err := files.GetFile(id)
		if err != nil {
			continue
		}
		names[id] = meta.OriginalName
	}
	return names
}

// ValueToText renders an answer for display or export. Lists join with a
// comma; file ids become upload names when useFileNames is set.
func ValueToText(value any, fileNames map[string]string, useFileNames bool) string {
	if items, ok := value.([]any); ok {
		var parts []string
		for _, item := range items {
			if item == nil {
				continue
			}
			parts = append(parts, ValueToText(item, fileNames, useFileNames))
		}
		return strings.Join(parts, ", ")
	}
	if useFileNames {
		if id, ok := value.(string); ok {
			if name, found := fileNames[id]; found {
				return name
			}
		}
	}
	return toText(value)
}

// ExportTable builds the header row and data rows for CSV/TSV export.
// Scalar-array columns widen to the longest list in the export, padding
// shorter rows with blanks; unexpanded group arrays stay as one JSON cell.
func ExportTable(fields []schema.Field, submissions []store.Submission, fileNames map[string]string) ([]string, [][]string) {
	flat := schema.FlattenFields(fields, true)

	maxLengths := map[string]int{}
	for _, field := range flat {
		if !field.IsArray || field.Type == schema.TypeGroup {
			continue
		}
		maxLen := 1
		for _, sub := range submissions {
			if items, ok := schema.GetNestedValue(sub.Data, field.FlatKey).([]any); ok && len(items) > maxLen {
				maxLen = len(items)
			}
		}
		maxLengths[field.FlatKey] = maxLen
	}

	var headers []string
	for _, field := range flat {
		switch {
		case field.Type == schema.TypeGroup && field.IsArray:
			headers = append(headers, field.FlatLabel)
		case field.IsArray:
			for idx := 0; idx < maxLengths[field.FlatKey]; idx++ {
				headers = append(headers, field.FlatLabel+"_"+strconv.Itoa(idx))
			}
		default:
			headers = append(headers, field.FlatLabel)
		}
	}

	var rows [][]string
	for _, sub := range submissions {
		var row []string
		for _, field := range flat {
			value := schema.GetNestedValue(sub.Data, field.FlatKey)
			isFile := field.Type == schema.TypeFile
			switch {
			case field.Type == schema.TypeGroup && field.IsArray:
				row = append(row, schema.FormatArrayGroupValue(value, field.Children))
			case field.IsArray:
				items, _ := value.([]any)
				for idx := 0; idx < maxLengths[field.FlatKey]; idx++ {
					var item any
					if idx < len(items) {
						item = items[idx]
					}
					row = append(row, ValueToText(item, fileNames, isFile))
				}
			default:
				row = append(row, ValueToText(value, fileNames, isFile))
			}
		}
		rows = append(rows, row)
	}
	return headers, rows
}
