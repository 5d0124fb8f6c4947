package schema

import "sort"

// SchemaFromFields compiles a field list into the JSON-Schema document
// stored with the form, plus the property order (JSON objects don't keep
// key order, so the order travels separately).
func SchemaFromFields(fields []Field) (map[string]any, []string) {
	properties := map[string]any{}
	var required []string
	var order []string
	for _, field := range fields {
		order = append(order, field.Key)
		properties[field.Key] = buildProperty(field)
		if field.Required {
			required = append(required, field.Key)
		}
	}
	doc := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		doc["required"] = required
	}
	return doc, order
}

func buildProperty(field Field) map[string]any {
	var prop map[string]any

	switch {
	case field.Type == TypeGroup:
		childSchema, childOrder := SchemaFromFields(field.Children)
		obj := map[string]any{
			"type":          "object",
			"properties":    childSchema["properties"],
			"x-field-type":  TypeGroup,
			"x-field-order": childOrder,
		}
		if req, ok := childSchema["required"]; ok {
			obj["required"] = req
		}
		if field.IsArray {
			prop = map[string]any{"type": "array", "items": obj}
			if field.ExpandRows {
				prop["x-expand-rows"] = true
			}
		} else {
			prop = obj
		}
	case field.IsArray:
		itemType := field.ItemsType
		if itemType == "" {
			itemType = TypeString
		}
		prop = map[string]any{"type": "array", "items": buildItem(field, itemType)}
	default:
		prop = buildItem(field, field.Type)
	}

	prop["title"] = field.DisplayLabel()
	if field.Description != "" {
		prop["description"] = field.Description
	}
	if field.Placeholder != "" {
		prop["x-placeholder"] = field.Placeholder
	}
	if field.Multiline {
		prop["x-multiline"] = true
	}
	return prop
}

// buildItem compiles a scalar field (or array item) into its property
// payload. Builder-only concepts ride on x- keywords that any JSON-Schema
// validator ignores.
func buildItem(field Field, itemType string) map[string]any {
	switch itemType {
	case TypeFile:
		payload := map[string]any{"type": "string", "format": "binary"}
		if format := NormalizeFileFormat(field.Format); format != "" {
			payload["x-file-format"] = format
		}
		if exts := NormalizeAllowedExtensions(field.AllowedExtensions); len(exts) > 0 {
			payload["x-file-extensions"] = exts
		}
		return payload
	case TypeDatetime:
		return map[string]any{"type": "string", "format": "datetime-local"}
	case TypeDate:
		return map[string]any{"type": "string", "format": "date"}
	case TypeTime:
		return map[string]any{"type": "string", "format": "time"}
	case TypeEnum:
		return map[string]any{"type": "string", "enum": toAnySlice(field.Enum)}
	case TypeMaster:
		payload := map[string]any{"type": "string", "x-field-type": TypeMaster}
		if field.MasterFormID != "" {
			payload["x-master-form-id"] = field.MasterFormID
		}
		if field.MasterLabelKey != "" {
			payload["x-master-label-key"] = field.MasterLabelKey
		}
		if len(field.MasterDisplayFields) > 0 {
			payload["x-master-display-fields"] = toAnySlice(field.MasterDisplayFields)
		}
		return payload
	}

	payload := map[string]any{"type": itemType}
	if itemType == TypeNumber || itemType == TypeInteger {
		if field.Min != nil {
			payload["minimum"] = *field.Min
		}
		if field.Max != nil {
			payload["maximum"] = *field.Max
		}
	}
	if itemType == TypeString && field.Format != "" {
		payload["format"] = field.Format
	}
	return payload
}

func toAnySlice(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}

// NormalizeFieldOrder keeps the requested keys that actually exist in the
// schema, in order, then appends any property keys the order missed.
func NormalizeFieldOrder(doc map[string]any, order []string) []string {
	properties := asMap(doc["properties"])
	seen := map[string]bool{}
	var normalized []string
	for _, key := range order {
		if _, ok := properties[key]; ok && !seen[key] {
			normalized = append(normalized, key)
			seen[key] = true
		}
	}
	// Iterate the stored order of the remaining keys deterministically.
	for _, key := range sortedKeys(properties) {
		if !seen[key] {
			normalized = append(normalized, key)
			seen[key] = true
		}
	}
	return normalized
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// FieldsFromSchema decompiles a stored schema document back into the
// builder's field list, honoring the stored field order.
func FieldsFromSchema(doc map[string]any, order []string) []Field {
	properties := asMap(doc["properties"])
	if len(order) == 0 {
		order = sortedKeys(properties)
	}
	requiredKeys := map[string]bool{}
	for _, key := range asStringSlice(doc["required"]) {
		requiredKeys[key] = true
	}

	var fields []Field
	for _, key := range order {
		prop := asMap(properties[key])
		if prop == nil {
			continue
		}
		isArray := asString(prop["type"]) == "array"
		target := prop
		if isArray {
			target = asMap(prop["items"])
			if target == nil {
				target = map[string]any{}
			}
		}

		isGroup := asString(target["x-field-type"]) == TypeGroup ||
			(asString(target["type"]) == "object" && target["properties"] != nil)

		if isGroup {
			childOrder := asStringSlice(target["x-field-order"])
			if len(childOrder) == 0 {
				childOrder = sortedKeys(asMap(target["properties"]))
			}
			fields = append(fields, Field{
				Key:         key,
				Label:       asString(prop["title"]),
				Type:        TypeGroup,
				Required:    requiredKeys[key],
				Description: asString(prop["description"]),
				IsArray:     isArray,
				ExpandRows:  isArray && asBool(prop["x-expand-rows"]),
				Children:    FieldsFromSchema(target, childOrder),
			})
			continue
		}

		fieldType := asString(target["type"])
		if fieldType == "" {
			fieldType = TypeString
		}
		switch asString(target["format"]) {
		case "datetime-local":
			fieldType = TypeDatetime
		case "date":
			fieldType = TypeDate
		case "time":
			fieldType = TypeTime
		case "binary":
			fieldType = TypeFile
		}
		if target["enum"] != nil {
			fieldType = TypeEnum
		}
		if asString(target["x-field-type"]) == TypeMaster {
			fieldType = TypeMaster
		}

		field := Field{
			Key:         key,
			Label:       asString(prop["title"]),
			Type:        fieldType,
			Required:    requiredKeys[key],
			Description: asString(prop["description"]),
			Placeholder: asString(prop["x-placeholder"]),
			Enum:        asStringSlice(target["enum"]),
			Min:         asFloatPtr(target["minimum"]),
			Max:         asFloatPtr(target["maximum"]),
			IsArray:     isArray,
			Multiline:   asBool(prop["x-multiline"]),
		}
		if isArray {
			field.ItemsType = fieldType
		}
		switch fieldType {
		case TypeString:
			field.Format = asString(target["format"])
		case TypeFile:
			field.Format = NormalizeFileFormat(asString(target["x-file-format"]))
			field.AllowedExtensions = NormalizeAllowedExtensions(asStringSlice(target["x-file-extensions"]))
		case TypeMaster:
			field.MasterFormID = asString(target["x-master-form-id"])
			field.MasterLabelKey = asString(target["x-master-label-key"])
			field.MasterDisplayFields = asStringSlice(target["x-master-display-fields"])
		}
		fields = append(fields, field)
	}
	return fields
}
