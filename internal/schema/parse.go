package schema

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ParseFieldsJSON parses and validates the builder's fields_json payload.
// It returns the parsed fields together with every validation problem it
// found, so the builder can re-render with all errors at once. Missing
// keys are auto-generated; everything else that is wrong is reported.
func ParseFieldsJSON(raw string) ([]Field, []string) {
	var errs []string

	var rawFields []any
	if strings.TrimSpace(raw) != "" {
		if err := json.Unmarshal([]byte(raw), &rawFields); err != nil {
			return nil, []string{"could not parse field definitions"}
		}
	}

	seenKeys := map[string]bool{}

	var parseList func(items []any, locPrefix string) []Field
	parseList = func(items []any, locPrefix string) []Field {
		var fields []Field
		for index, item := range items {
			loc := fmt.Sprintf("row %d", index+1)
			if locPrefix != "" {
				loc = locPrefix + "." + fmt.Sprintf("%d", index+1)
			}
			rawField := asMap(item)
			if rawField == nil {
				errs = append(errs, loc+": field definition must be an object")
				continue
			}

			key := trimmedString(rawField, "key")
			label := trimmedString(rawField, "label")
			if label == "" {
				errs = append(errs, loc+": label is required")
			}
			if key == "" {
				key = GenerateFieldKey(seenKeys)
			}
			if !KeyPattern.MatchString(key) {
				errs = append(errs, loc+": key must start with a letter and use only letters, digits, and underscores")
			}
			if seenKeys[key] {
				errs = append(errs, fmt.Sprintf("%s: duplicate key (%s)", loc, key))
			} else {
				seenKeys[key] = true
			}

			fieldType := trimmedString(rawField, "type")
			isArray := asBool(rawField["is_array"])
			itemsType := ""
			if isArray {
				itemsType = trimmedString(rawField, "items_type")
			}
			expandRows := false
			if fieldType == TypeGroup && isArray {
				expandRows = asBool(rawField["expand_rows"])
			}
			masterFormID := ""
			masterLabelKey := ""
			var masterDisplayFields []string
			if fieldType == TypeMaster {
				masterFormID = trimmedString(rawField, "master_form_id")
				masterLabelKey = trimmedString(rawField, "master_label_key")
				seenDisplay := map[string]bool{}
				for _, name := range asStringSlice(rawField["master_display_fields"]) {
					if seenDisplay[name] {
						continue
					}
					seenDisplay[name] = true
					masterDisplayFields = append(masterDisplayFields, name)
				}
			}

			rawFormat := trimmedString(rawField, "format")
			format := ""
			var allowedExtensions []string
			switch fieldType {
			case TypeString:
				if rawFormat == "" || rawFormat == "email" || rawFormat == "url" {
					format = rawFormat
				} else {
					errs = append(errs, fmt.Sprintf("%s: invalid string format (%s)", loc, rawFormat))
				}
			case TypeFile:
				format = NormalizeFileFormat(rawFormat)
				if rawFormat != "" && format == "" {
					errs = append(errs, fmt.Sprintf("%s: invalid file class (%s)", loc, rawFormat))
				}
				var invalid []string
				allowedExtensions, invalid = ParseAllowedExtensions(asStringSlice(rawField["allowed_extensions"]))
				if len(invalid) > 0 {
					samples := invalid
					if len(samples) > 3 {
						samples = samples[:3]
					}
					errs = append(errs, fmt.Sprintf("%s: invalid allowed extensions (%s)", loc, strings.Join(samples, ", ")))
				}
			}

			if !allowedTypes[fieldType] {
				errs = append(errs, fmt.Sprintf("%s: invalid field type (%s)", loc, fieldType))
			}
			if fieldType == TypeMaster && masterFormID == "" {
				errs = append(errs, loc+": select a source form for the reference")
			}

			var children []Field
			if fieldType == TypeGroup {
				children = parseList(asSlice(rawField["children"]), loc)
				if len(children) == 0 && len(errs) == 0 {
					errs = append(errs, loc+": a group needs at least one child field")
				}
			} else if isArray && !allowedTypes[itemsType] {
				errs = append(errs, fmt.Sprintf("%s: invalid array item type (%s)", loc, itemsType))
			}

			enumValues := asStringSlice(rawField["enum"])
			if (fieldType == TypeEnum || itemsType == TypeEnum) && len(enumValues) == 0 {
				errs = append(errs, loc+": enum fields need at least one value")
			}

			fields = append(fields, Field{
				Key:                 key,
				Label:               label,
				Type:                fieldType,
				Required:            asBool(rawField["required"]),
				Description:         trimmedString(rawField, "description"),
				Placeholder:         trimmedString(rawField, "placeholder"),
				Enum:                enumValues,
				Min:                 asFloatPtr(rawField["min"]),
				Max:                 asFloatPtr(rawField["max"]),
				Format:              format,
				AllowedExtensions:   allowedExtensions,
				IsArray:             isArray,
				ItemsType:           itemsType,
				Multiline:           asBool(rawField["multiline"]),
				ExpandRows:          expandRows,
				MasterFormID:        masterFormID,
				MasterLabelKey:      masterLabelKey,
				MasterDisplayFields: masterDisplayFields,
				Children:            children,
			})
		}
		return fields
	}

	fields := parseList(rawFields, "")
	if len(fields) == 0 {
		errs = append(errs, "at least one field is required")
	}
	return fields, errs
}
