// Package master resolves cross-form references: a master field stores the
// id of a submission in another form, and rendering needs that submission's
// label and display values, possibly through further master hops.
package master

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"formsmith/internal/schema"
	"formsmith/internal/store"
)

// maxNestDepth bounds candidate discovery through chained master fields.
const maxNestDepth = 6

// Resolver memoizes storage lookups for the duration of one request.
// It is not safe for concurrent use; build one per request.
type Resolver struct {
	storage     store.Storage
	forms       map[string]*store.Form
	formFields  map[string][]schema.Field
	submissions map[string]map[string]store.Submission
	expanded    map[string][]map[string]any
	candidates  map[string][]Candidate
}

// Candidate is a referenceable column of a source form, keyed by its
// flattened dotted path.
type Candidate struct {
	Key   string
	Label string
	Type  string
}

// Record is one selectable option of a master field.
type Record struct {
	ID     string
	Label  string
	Values map[string]string
}

// ReferenceContext is everything a master field needs for rendering:
// the validated label and display keys plus the selectable records.
type ReferenceContext struct {
	SourceFormID string
	LabelKey     string
	DisplayKeys  []string
	DisplayItems []schema.DisplayItem
	Records      []Record
}

func NewResolver(storage store.Storage) *Resolver {
	return &Resolver{
		storage:     storage,
		forms:       map[string]*store.Form{},
		formFields:  map[string][]schema.Field{},
		submissions: map[string]map[string]store.Submission{},
		expanded:    map[string][]map[string]any{},
		candidates:  map[string][]Candidate{},
	}
}

func (r *Resolver) form(formID string) *store.Form {
	if form, ok := r.forms[formID]; ok {
		return form
	}
	form, err := r.storage.Forms().GetForm(formID)
	if err != nil {
		form = nil
	}
	r.forms[formID] = form
	return form
}

func (r *Resolver) fields(formID string) []schema.Field {
	if fields, ok := r.formFields[formID]; ok {
		return fields
	}
	var fields []schema.Field
	if form := r.form(formID); form != nil {
		fields = schema.FieldsFromSchema(form.SchemaDoc, form.FieldOrder)
	}
	r.formFields[formID] = fields
	return fields
}

func (r *Resolver) submissionMap(formID string) map[string]store.Submission {
	if rows, ok := r.submissions[formID]; ok {
		return rows
	}
	rows := map[string]store.Submission{}
	subs, err := r.storage.Submissions().ListSubmissions(formID)
	if err == nil {
		for _, sub := range subs {
			if sub.ID != "" {
				rows[sub.ID] = sub
			}
		}
	}
	r.submissions[formID] = rows
	return rows
}

// submissionByID looks up a referenced submission. Ids of the form
// "<base>:<n>" address the n-th expanded row of a submission whose source
// form uses row expansion.
func (r *Resolver) submissionByID(formID, submissionID string) (store.Submission, bool) {
	rows := r.submissionMap(formID)
	if sub, ok := rows[submissionID]; ok {
		return sub, true
	}

	sep := strings.LastIndex(submissionID, ":")
	if sep < 0 {
		return store.Submission{}, false
	}
	baseID := submissionID[:sep]
	rowIndex, err := strconv.Atoi(submissionID[sep+1:])
	if err != nil {
		return store.Submission{}, false
	}
	base, ok := rows[baseID]
	if !ok {
		return store.Submission{}, false
	}
	sourceFields := r.fields(formID)
	if len(sourceFields) == 0 || base.Data == nil {
		return store.Submission{}, false
	}

	cacheKey := formID + "|" + baseID
	expanded, ok := r.expanded[cacheKey]
	if !ok {
		expanded = schema.ExpandGroupArrayRows(sourceFields, base.Data)
		r.expanded[cacheKey] = expanded
	}
	if rowIndex < 0 || rowIndex >= len(expanded) {
		return store.Submission{}, false
	}
	row := base
	row.Data = expanded[rowIndex]
	return row, true
}

type pathContext struct {
	value   any
	fields  []schema.Field
	visited map[string]bool
}

func cloneSet(src map[string]bool) map[string]bool {
	dst := make(map[string]bool, len(src))
	for k := range src {
		dst[k] = true
	}
	return dst
}

func flattenValues(value any) []any {
	if items, ok := value.([]any); ok {
		var out []any
		for _, item := range items {
			out = append(out, flattenValues(item)...)
		}
		return out
	}
	return []any{value}
}

// resolvePathValues walks a dotted key through the field tree, fanning out
// over array groups and hopping into referenced forms at master fields.
// visited forms are never re-entered, which breaks reference cycles.
func (r *Resolver) resolvePathValues(data map[string]any, fields []schema.Field, dottedKey string, visited map[string]bool) []any {
	var parts []string
	for _, part := range strings.Split(dottedKey, ".") {
		if part != "" {
			parts = append(parts, part)
		}
	}
	if len(parts) == 0 || data == nil {
		return nil
	}

	contexts := []pathContext{{value: data, fields: fields, visited: cloneSet(visited)}}
	for idx, part := range parts {
		terminal := idx == len(parts)-1
		var next []pathContext
		for _, ctx := range contexts {
			next = append(next, r.resolveSinglePart(ctx.value, ctx.fields, part, terminal, ctx.visited)...)
		}
		contexts = next
		if len(contexts) == 0 {
			return nil
		}
	}

	var results []any
	for _, ctx := range contexts {
		results = append(results, flattenValues(ctx.value)...)
	}
	return results
}

func fieldByKey(fields []schema.Field, key string) (schema.Field, bool) {
	for _, field := range fields {
		if field.Key == key {
			return field, true
		}
	}
	return schema.Field{}, false
}

func (r *Resolver) resolveSinglePart(value any, fields []schema.Field, keyPart string, terminal bool, visited map[string]bool) []pathContext {
	if items, ok := value.([]any); ok {
		var contexts []pathContext
		for _, item := range items {
			contexts = append(contexts, r.resolveSinglePart(item, fields, keyPart, terminal, visited)...)
		}
		return contexts
	}

	m, ok := value.(map[string]any)
	if !ok {
		return nil
	}
	field, ok := fieldByKey(fields, keyPart)
	if !ok {
		return nil
	}
	rawChild := m[keyPart]

	switch field.Type {
	case schema.TypeGroup:
		if field.IsArray {
			switch t := rawChild.(type) {
			case []any:
				var contexts []pathContext
				for _, item := range t {
					contexts = append(contexts, pathContext{value: item, fields: field.Children, visited: cloneSet(visited)})
				}
				return contexts
			case map[string]any:
				return []pathContext{{value: t, fields: field.Children, visited: cloneSet(visited)}}
			}
			return nil
		}
		return []pathContext{{value: rawChild, fields: field.Children, visited: cloneSet(visited)}}

	case schema.TypeMaster:
		sourceFormID := strings.TrimSpace(field.MasterFormID)
		if sourceFormID == "" {
			return nil
		}
		values, ok := rawChild.([]any)
		if !ok {
			values = []any{rawChild}
		}
		var contexts []pathContext
		for _, rawID := range values {
			submissionID := strings.TrimSpace(labelText(rawID))
			if submissionID == "" {
				continue
			}
			sub, found := r.submissionByID(sourceFormID, submissionID)
			if !found {
				continue
			}
			if visited[sourceFormID] {
				continue
			}
			nextVisited := cloneSet(visited)
			nextVisited[sourceFormID] = true

			if terminal {
				candidates := r.FormCandidates(sourceFormID, visited)
				label := r.optionLabel(sourceFormID, sub, field.MasterLabelKey, fallbackKeys(candidates), 0, nextVisited)
				contexts = append(contexts, pathContext{value: label, fields: nil, visited: cloneSet(visited)})
				continue
			}
			if sub.Data == nil {
				continue
			}
			contexts = append(contexts, pathContext{value: sub.Data, fields: r.fields(sourceFormID), visited: nextVisited})
		}
		return contexts
	}

	return []pathContext{{value: rawChild, fields: fields, visited: cloneSet(visited)}}
}

// labelText renders a resolved value for a label: objects and lists become
// JSON, everything else its plain text form.
func labelText(value any) string {
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
	case map[string]any, []any:
		encoded, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(encoded)
	default:
		return fmt.Sprintf("%v", t)
	}
}

// labelFromKey resolves a dotted key and joins the distinct non-empty
// values with a comma.
func (r *Resolver) labelFromKey(data map[string]any, fields []schema.Field, dottedKey string, visited map[string]bool) string {
	if dottedKey == "" {
		return ""
	}
	values := r.resolvePathValues(data, fields, dottedKey, visited)
	var labels []string
	seen := map[string]bool{}
	for _, value := range values {
		text := strings.TrimSpace(labelText(value))
		if text == "" || seen[text] {
			continue
		}
		labels = append(labels, text)
		seen[text] = true
	}
	return strings.Join(labels, ", ")
}

func candidateCacheKey(formID string, exclude map[string]bool) string {
	keys := make([]string, 0, len(exclude))
	for k := range exclude {
		if k != "" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return formID + "|" + strings.Join(keys, ",")
}

// FormCandidates lists the referenceable columns of a source form,
// descending into groups and (depth-limited) into chained master sources.
// File columns are excluded.
func (r *Resolver) FormCandidates(sourceFormID string, exclude map[string]bool) []Candidate {
	cacheKey := candidateCacheKey(sourceFormID, exclude)
	if cached, ok := r.candidates[cacheKey]; ok {
		return cached
	}

	baseFields := r.fields(sourceFormID)
	var candidates []Candidate
	if len(baseFields) > 0 {
		visited := cloneSet(exclude)
		visited[sourceFormID] = true
		candidates = r.collectCandidates(baseFields, "", "", visited, 0, map[string]bool{})
	}
	r.candidates[cacheKey] = candidates
	return candidates
}

func (r *Resolver) collectCandidates(fields []schema.Field, prefixKey, prefixLabel string, visited map[string]bool, depth int, seenKeys map[string]bool) []Candidate {
	if depth > maxNestDepth {
		return nil
	}
	var candidates []Candidate
	for _, field := range fields {
		if field.Key == "" {
			continue
		}
		label := field.DisplayLabel()
		fullKey := field.Key
		fullLabel := label
		if prefixKey != "" {
			fullKey = prefixKey + "." + field.Key
			fullLabel = prefixLabel + "." + label
		}

		if field.Type == schema.TypeGroup {
			candidates = append(candidates, r.collectCandidates(field.Children, fullKey, fullLabel, cloneSet(visited), depth, seenKeys)...)
			continue
		}

		if field.Type != schema.TypeFile && !seenKeys[fullKey] {
			candidates = append(candidates, Candidate{Key: fullKey, Label: fullLabel, Type: field.Type})
			seenKeys[fullKey] = true
		}

		if field.Type != schema.TypeMaster {
			continue
		}
		sourceFormID := strings.TrimSpace(field.MasterFormID)
		if sourceFormID == "" || visited[sourceFormID] {
			continue
		}
		nested := r.fields(sourceFormID)
		if len(nested) == 0 {
			continue
		}
		nextVisited := cloneSet(visited)
		nextVisited[sourceFormID] = true
		candidates = append(candidates, r.collectCandidates(nested, fullKey, fullLabel, nextVisited, depth+1, seenKeys)...)
	}
	return candidates
}

func fallbackKeys(candidates []Candidate) []string {
	var keys []string
	for _, c := range candidates {
		if c.Key != "" {
			keys = append(keys, c.Key)
		}
	}
	return keys
}

// OptionLabel builds the display label for a referenced submission: the
// configured label key first, then each candidate column, then the
// submission timestamp, then a positional fallback.
func (r *Resolver) OptionLabel(sourceFormID string, sub store.Submission, labelKey string, fallbacks []string, fallbackIndex int) string {
	return r.optionLabel(sourceFormID, sub, labelKey, fallbacks, fallbackIndex, map[string]bool{})
}

func (r *Resolver) optionLabel(sourceFormID string, sub store.Submission, labelKey string, fallbacks []string, fallbackIndex int, visited map[string]bool) string {
	if sub.Data != nil {
		sourceFields := r.fields(sourceFormID)
		if labelKey != "" {
			if text := r.labelFromKey(sub.Data, sourceFields, labelKey, visited); text != "" {
				return text
			}
		}
		for _, key := range fallbacks {
			if text := r.labelFromKey(sub.Data, sourceFields, key, visited); text != "" {
				return text
			}
		}
	}
	if !sub.CreatedAt.IsZero() {
		return sub.CreatedAt.UTC().Format("2006-01-02 15:04")
	}
	if fallbackIndex > 0 {
		return fmt.Sprintf("Submission %d", fallbackIndex)
	}
	return "Submission"
}

// DisplayValues resolves the configured display keys of a referenced
// submission into text, skipping keys that resolve to nothing.
func (r *Resolver) DisplayValues(sourceFormID string, sub store.Submission, displayKeys []string, visited map[string]bool) map[string]string {
	if sub.Data == nil {
		return map[string]string{}
	}
	sourceFields := r.fields(sourceFormID)
	values := map[string]string{}
	for _, key := range displayKeys {
		dottedKey := strings.TrimSpace(key)
		if dottedKey == "" {
			continue
		}
		if text := r.labelFromKey(sub.Data, sourceFields, dottedKey, visited); text != "" {
			values[dottedKey] = text
		}
	}
	return values
}

// BuildReferenceContext assembles a master field's rendering context. When
// the source form expands group-array rows, each expanded row becomes its
// own record with an "<id>:<row>" id.
func (r *Resolver) BuildReferenceContext(field schema.Field) ReferenceContext {
	sourceFormID := strings.TrimSpace(field.MasterFormID)
	labelKey := strings.TrimSpace(field.MasterLabelKey)

	var candidates []Candidate
	if sourceFormID != "" {
		candidates = r.FormCandidates(sourceFormID, nil)
	}
	labelByKey := map[string]string{}
	for _, c := range candidates {
		if c.Key != "" {
			labelByKey[c.Key] = c.Label
		}
	}

	effectiveLabelKey := ""
	if _, ok := labelByKey[labelKey]; ok {
		effectiveLabelKey = labelKey
	}
	var displayKeys []string
	var displayItems []schema.DisplayItem
	for _, raw := range field.MasterDisplayFields {
		key := strings.TrimSpace(raw)
		if key == "" {
			continue
		}
		label, ok := labelByKey[key]
		if !ok {
			continue
		}
		displayKeys = append(displayKeys, key)
		displayItems = append(displayItems, schema.DisplayItem{Key: key, Label: label})
	}

	ctx := ReferenceContext{
		SourceFormID: sourceFormID,
		LabelKey:     effectiveLabelKey,
		DisplayKeys:  displayKeys,
		DisplayItems: displayItems,
	}
	if sourceFormID == "" {
		return ctx
	}

	sourceFields := r.fields(sourceFormID)
	useExpansion := schema.HasExpandRows(sourceFields)
	subs, err := r.storage.Submissions().ListSubmissions(sourceFormID)
	if err != nil {
		return ctx
	}

	fallbacks := fallbackKeys(candidates)
	recordIndex := 0
	appendRecord := func(recordID string, sub store.Submission) {
		recordIndex++
		visited := map[string]bool{sourceFormID: true}
		ctx.Records = append(ctx.Records, Record{
			ID:     recordID,
			Label:  r.optionLabel(sourceFormID, sub, effectiveLabelKey, fallbacks, recordIndex, visited),
			Values: r.DisplayValues(sourceFormID, sub, displayKeys, visited),
		})
	}

	for _, sub := range subs {
		if sub.ID == "" {
			continue
		}
		if useExpansion {
			rows := []map[string]any{{}}
			if sub.Data != nil {
				rows = schema.ExpandGroupArrayRows(sourceFields, sub.Data)
			}
			for rowIdx, rowData := range rows {
				expanded := sub
				expanded.Data = rowData
				appendRecord(sub.ID+":"+strconv.Itoa(rowIdx), expanded)
			}
		} else {
			appendRecord(sub.ID, sub)
		}
	}
	return ctx
}

// EnrichMasterOptions fills the render-only option and display-item slots
// of every master field in the tree, in place.
func (r *Resolver) EnrichMasterOptions(fields []schema.Field) {
	for i := range fields {
		if fields[i].Type == schema.TypeGroup {
			r.EnrichMasterOptions(fields[i].Children)
			continue
		}
		if fields[i].Type != schema.TypeMaster {
			continue
		}
		ctx := r.BuildReferenceContext(fields[i])
		fields[i].MasterDisplayFields = ctx.DisplayKeys
		fields[i].MasterDisplayItems = ctx.DisplayItems
		options := make([]schema.MasterOption, 0, len(ctx.Records))
		for _, record := range ctx.Records {
			displayJSON, err := json.Marshal(record.Values)
			if err != nil {
				displayJSON = []byte("{}")
			}
			options = append(options, schema.MasterOption{
				Value:       record.ID,
				Label:       record.Label,
				DisplayJSON: string(displayJSON),
			})
		}
		fields[i].MasterOptions = options
	}
}

// extractBaseID strips the row suffix from an expanded-row reference id.
func extractBaseID(value string) string {
	if sep := strings.LastIndex(value, ":"); sep >= 0 {
		return value[:sep]
	}
	return value
}

// ValidateMasterReferences checks that every selected master value points
// at an existing submission of its source form.
func (r *Resolver) ValidateMasterReferences(fields []schema.Field, data map[string]any) []string {
	var errors []string
	idCache := map[string]map[string]bool{}

	validIDs := func(formID string) map[string]bool {
		if ids, ok := idCache[formID]; ok {
			return ids
		}
		ids := map[string]bool{}
		for id := range r.submissionMap(formID) {
			ids[id] = true
		}
		idCache[formID] = ids
		return ids
	}

	var validate func(fieldList []schema.Field, target map[string]any)
	validate = func(fieldList []schema.Field, target map[string]any) {
		if target == nil {
			return
		}
		for _, field := range fieldList {
			if field.Key == "" {
				continue
			}
			value := target[field.Key]
			if field.Type == schema.TypeGroup {
				if field.IsArray {
					if items, ok := value.([]any); ok {
						for _, item := range items {
							if m, ok := item.(map[string]any); ok {
								validate(field.Children, m)
							}
						}
					}
				} else if m, ok := value.(map[string]any); ok {
					validate(field.Children, m)
				}
				continue
			}
			if field.Type != schema.TypeMaster {
				continue
			}
			sourceFormID := strings.TrimSpace(field.MasterFormID)
			if sourceFormID == "" {
				continue
			}
			ids := validIDs(sourceFormID)
			label := field.DisplayLabel()

			if field.IsArray {
				items, ok := value.([]any)
				if !ok {
					continue
				}
				for _, item := range items {
					text := labelText(item)
					if text == "" {
						continue
					}
					if !ids[extractBaseID(text)] {
						errors = append(errors, label+": selection contains invalid entries")
						break
					}
				}
				continue
			}

			text := labelText(value)
			if text == "" {
				continue
			}
			if !ids[extractBaseID(text)] {
				errors = append(errors, label+": invalid selection")
			}
		}
	}

	validate(fields, data)
	return errors
}
