package server

import (
	"encoding/csv"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"formsmith/internal/filter"
	"formsmith/internal/master"
	"formsmith/internal/schema"
	"formsmith/internal/store"
	"formsmith/internal/webhook"
)

// displayColumn is one column of the submissions table. Master fields
// contribute the selected label plus one extra column per configured
// display key.
type displayColumn struct {
	Kind       string // "default", "master_label", "master_display"
	Label      string
	Field      schema.FlatField
	DisplayKey string
}

// masterLookup maps a master field's flat key to its selectable records
// by id, with base-id aliases for expanded-row ids so stale references
// still resolve.
type masterLookup map[string]map[string]master.Record

func buildDisplayColumns(resolver *master.Resolver, fields []schema.Field) ([]displayColumn, masterLookup) {
	flatFields := schema.FlattenFields(fields, true)
	var columns []displayColumn
	lookups := masterLookup{}

	for _, field := range flatFields {
		if field.Type != schema.TypeMaster {
			columns = append(columns, displayColumn{Kind: "default", Label: field.FlatLabel, Field: field})
			continue
		}

		ctx := resolver.BuildReferenceContext(field.Field)
		lookup := map[string]master.Record{}
		for _, rec := range ctx.Records {
			lookup[rec.ID] = rec
		}
		for _, rec := range ctx.Records {
			if idx := strings.LastIndex(rec.ID, ":"); idx >= 0 {
				baseID := rec.ID[:idx]
				if _, exists := lookup[baseID]; !exists {
					lookup[baseID] = rec
				}
			}
		}
		lookups[field.FlatKey] = lookup

		// The selected reference itself is always shown.
		columns = append(columns, displayColumn{Kind: "master_label", Label: field.FlatLabel, Field: field})
		for _, item := range ctx.DisplayItems {
			columns = append(columns, displayColumn{
				Kind:       "master_display",
				Label:      field.FlatLabel + "." + item.Label,
				Field:      field,
				DisplayKey: item.Key,
			})
		}
	}
	return columns, lookups
}

// renderMasterText resolves a stored reference id (or list of them) to its
// label, or to one display column when displayKey is set.
func renderMasterText(raw any, lookup map[string]master.Record, displayKey string) string {
	resolveOne := func(value any) string {
		if value == nil || value == "" {
			return ""
		}
		rec, ok := lookup[fmt.Sprint(value)]
		if !ok {
			return ""
		}
		if displayKey != "" {
			return rec.Values[displayKey]
		}
		return rec.Label
	}
	if items, ok := raw.([]any); ok {
		var parts []string
		for _, item := range items {
			if text := resolveOne(item); text != "" {
				parts = append(parts, text)
			}
		}
		return strings.Join(parts, ", ")
	}
	return resolveOne(raw)
}

// columnSortKey makes one submission row comparable by one column. Empty
// values always sort last regardless of direction.
type columnSortKey struct {
	empty   bool
	numeric bool
	num     float64
	text    string
}

func (k columnSortKey) less(other columnSortKey) bool {
	if k.empty != other.empty {
		return !k.empty
	}
	if k.numeric {
		return k.num < other.num
	}
	return k.text < other.text
}

func sortKeyForColumn(data map[string]any, column displayColumn, lookups masterLookup) columnSortKey {
	flatKey := column.Field.FlatKey
	value := schema.GetNestedValue(data, flatKey)
	isNumeric := column.Field.Type == schema.TypeNumber || column.Field.Type == schema.TypeInteger

	if value == nil || value == "" {
		return columnSortKey{empty: true, numeric: isNumeric}
	}

	if column.Field.Type == schema.TypeMaster {
		text := renderMasterText(value, lookups[flatKey], column.DisplayKey)
		if text == "" {
			return columnSortKey{empty: true}
		}
		return columnSortKey{text: strings.ToLower(text)}
	}

	if items, ok := value.([]any); ok {
		if isNumeric {
			total := 0.0
			for _, item := range items {
				n, ok := toFloat(item)
				if !ok {
					return columnSortKey{empty: true, numeric: true}
				}
				total += n
			}
			return columnSortKey{numeric: true, num: total}
		}
		return columnSortKey{text: strings.ToLower(fmt.Sprint(items))}
	}

	if _, ok := value.(map[string]any); ok {
		if isNumeric {
			return columnSortKey{empty: true, numeric: true}
		}
		return columnSortKey{text: strings.ToLower(fmt.Sprint(value))}
	}

	if isNumeric {
		n, ok := toFloat(value)
		if !ok {
			return columnSortKey{empty: true, numeric: true}
		}
		return columnSortKey{numeric: true, num: n}
	}
	return columnSortKey{text: strings.ToLower(fmt.Sprint(value))}
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		n, err := strconv.ParseFloat(v, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

func timestampKey(sub store.Submission, field string) string {
	if field == "updated_at" {
		if sub.UpdatedAt == nil {
			return ""
		}
		return sub.UpdatedAt.Format(time.RFC3339Nano)
	}
	return sub.CreatedAt.Format(time.RFC3339Nano)
}

// sortSubmissions orders the (already expanded) rows by a timestamp or by
// a display column given as its numeric index. Anything else falls back
// to created_at descending.
func sortSubmissions(subs []store.Submission, sortParam, order string, columns []displayColumn, lookups masterLookup) {
	if order != "asc" && order != "desc" {
		order = "desc"
	}
	reverse := order == "desc"

	if sortParam == "created_at" || sortParam == "updated_at" {
		sort.SliceStable(subs, func(i, j int) bool {
			a, b := timestampKey(subs[i], sortParam), timestampKey(subs[j], sortParam)
			if reverse {
				return a > b
			}
			return a < b
		})
		return
	}

	if idx, err := strconv.Atoi(sortParam); err == nil && idx >= 0 && idx < len(columns) {
		column := columns[idx]
		sort.SliceStable(subs, func(i, j int) bool {
			a := sortKeyForColumn(subs[i].Data, column, lookups)
			b := sortKeyForColumn(subs[j].Data, column, lookups)
			if reverse {
				return b.less(a)
			}
			return a.less(b)
		})
		return
	}

	sort.SliceStable(subs, func(i, j int) bool {
		return timestampKey(subs[i], "created_at") > timestampKey(subs[j], "created_at")
	})
}

func rowValues(data map[string]any, columns []displayColumn, lookups masterLookup, fileNames map[string]string) []string {
	values := make([]string, 0, len(columns))
	for _, column := range columns {
		field := column.Field
		value := schema.GetNestedValue(data, field.FlatKey)

		if field.Type == schema.TypeGroup && field.IsArray {
			values = append(values, schema.FormatArrayGroupValue(value, field.Children))
			continue
		}
		if field.Type == schema.TypeMaster {
			values = append(values, renderMasterText(value, lookups[field.FlatKey], column.DisplayKey))
			continue
		}
		values = append(values, filter.ValueToText(value, fileNames, field.Type == schema.TypeFile))
	}
	return values
}

// expandSubmissions produces one row per expand_rows group element,
// copying the submission shell around each expanded data map.
func expandSubmissions(fields []schema.Field, subs []store.Submission) []store.Submission {
	var expanded []store.Submission
	for _, sub := range subs {
		for _, data := range schema.ExpandGroupArrayRows(fields, sub.Data) {
			row := sub
			row.Data = data
			expanded = append(expanded, row)
		}
	}
	return expanded
}

// filteredRows loads, expands, and filters a form's submissions along
// with the resolved file names; shared by the list page and the export.
func (s *Server) filteredRows(c *gin.Context, form *store.Form, fields []schema.Field) ([]store.Submission, map[string]string, error) {
	subs, err := s.storage.Submissions().ListSubmissions(form.ID)
	if err != nil {
		return nil, nil, err
	}
	expanded := expandSubmissions(fields, subs)
	fileIDs := filter.CollectFileIDs(subs, fields)
	fileNames := filter.ResolveFileNames(s.storage.Files(), fileIDs)
	filtered := filter.ApplyFilters(expanded, fields, c.Request.URL.Query(), fileNames)
	return filtered, fileNames, nil
}

type submissionRow struct {
	ID        string
	CreatedAt time.Time
	UpdatedAt *time.Time
	Values    []string
}

func (s *Server) listSubmissions(c *gin.Context) {
	form, ok := s.getForm(c, c.Param("form_id"))
	if !ok {
		return
	}
	fields := schema.FieldsFromSchema(form.SchemaDoc, form.FieldOrder)

	filtered, fileNames, err := s.filteredRows(c, form, fields)
	if err != nil {
		s.serverError(c, err)
		return
	}

	resolver := master.NewResolver(s.storage)
	columns, lookups := buildDisplayColumns(resolver, fields)

	sortParam := c.DefaultQuery("sort", "created_at")
	order := c.DefaultQuery("order", "desc")
	sortSubmissions(filtered, sortParam, order, columns, lookups)

	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil || page < 1 {
		page = 1
	}
	pageSize, err := strconv.Atoi(c.DefaultQuery("page_size", "50"))
	if err != nil || pageSize < 1 {
		pageSize = 50
	}
	total := len(filtered)
	start := (page - 1) * pageSize
	if start > total {
		start = total
	}
	end := start + pageSize
	if end > total {
		end = total
	}

	rows := make([]submissionRow, 0, end-start)
	for _, item := range filtered[start:end] {
		rows = append(rows, submissionRow{
			ID:        item.ID,
			CreatedAt: item.CreatedAt,
			UpdatedAt: item.UpdatedAt,
			Values:    rowValues(item.Data, columns, lookups, fileNames),
		})
	}

	totalPages := (total + pageSize - 1) / pageSize
	if totalPages < 1 {
		totalPages = 1
	}

	query := map[string]string{}
	for key, vals := range c.Request.URL.Query() {
		if len(vals) > 0 {
			query[key] = vals[0]
		}
	}

	c.HTML(http.StatusOK, "submissions.html", gin.H{
		"Form":         form,
		"Fields":       fields,
		"Columns":      columns,
		"FilterFields": schema.FlattenFilterFields(fields),
		"Rows":         rows,
		"Page":         page,
		"PageSize":     pageSize,
		"Total":        total,
		"TotalPages":   totalPages,
		"Query":        query,
		"Sort":         sortParam,
		"Order":        order,
	})
}

func (s *Server) deleteSubmission(c *gin.Context) {
	formID := c.Param("form_id")
	submissionID := c.Param("submission_id")

	form, err := s.storage.Forms().GetForm(formID)
	if err != nil && !isNotFound(err) {
		s.serverError(c, err)
		return
	}
	sub, err := s.storage.Submissions().GetSubmission(submissionID)
	if err != nil && !isNotFound(err) {
		s.serverError(c, err)
		return
	}

	if err := s.storage.Submissions().DeleteSubmission(submissionID); err != nil && !isNotFound(err) {
		s.serverError(c, err)
		return
	}
	s.logger.Info("submission deleted",
		zap.String("form_id", formID),
		zap.String("submission_id", submissionID))

	if form != nil && sub != nil && webhook.ShouldSend(form, webhook.EventDelete) {
		s.webhooks.Send(webhook.EventDelete, form, sub)
	}
	c.Redirect(http.StatusSeeOther, "/admin/forms/"+formID+"/submissions")
}

// getSubmissionForForm loads a submission and checks it belongs to the
// form in the URL.
func (s *Server) getSubmissionForForm(c *gin.Context, formID, submissionID string) (*store.Submission, bool) {
	sub, err := s.storage.Submissions().GetSubmission(submissionID)
	if err != nil {
		if isNotFound(err) {
			s.renderError(c, http.StatusNotFound, "Submission not found")
		} else {
			s.serverError(c, err)
		}
		return nil, false
	}
	if sub.FormID != formID {
		s.renderError(c, http.StatusNotFound, "Submission not found")
		return nil, false
	}
	return sub, true
}

func (s *Server) renderSubmissionEdit(c *gin.Context, status int, form *store.Form, fields []schema.Field, sub *store.Submission, errs []string) {
	if errs == nil {
		errs = []string{}
	}
	c.HTML(status, "submission_edit.html", gin.H{
		"Form":       form,
		"Fields":     fields,
		"Submission": sub,
		"Errors":     errs,
	})
}

func (s *Server) editSubmission(c *gin.Context) {
	form, ok := s.getForm(c, c.Param("form_id"))
	if !ok {
		return
	}
	sub, ok := s.getSubmissionForForm(c, form.ID, c.Param("submission_id"))
	if !ok {
		return
	}
	fields := schema.FieldsFromSchema(form.SchemaDoc, form.FieldOrder)
	master.NewResolver(s.storage).EnrichMasterOptions(fields)
	s.renderSubmissionEdit(c, http.StatusOK, form, fields, sub, nil)
}

func (s *Server) updateSubmission(c *gin.Context) {
	form, ok := s.getForm(c, c.Param("form_id"))
	if !ok {
		return
	}
	sub, ok := s.getSubmissionForForm(c, form.ID, c.Param("submission_id"))
	if !ok {
		return
	}
	fields := schema.FieldsFromSchema(form.SchemaDoc, form.FieldOrder)
	resolver := master.NewResolver(s.storage)
	resolver.EnrichMasterOptions(fields)

	in := readFormInput(c)
	collected, err := s.collectSubmission(in, form, fields, "", sub.Data)
	if err != nil {
		status, message := s.handleRequestError(c, err)
		s.renderSubmissionEdit(c, status, form, fields, sub, []string{message})
		return
	}
	data, _ := schema.CleanEmpty(collected).(map[string]any)
	if data == nil {
		data = map[string]any{}
	}

	errs, err := schema.ValidateSubmission(form.SchemaDoc, data)
	if err != nil {
		s.serverError(c, err)
		return
	}
	errs = append(errs, resolver.ValidateMasterReferences(fields, data)...)
	if len(errs) > 0 {
		preview := *sub
		preview.Data = data
		s.renderSubmissionEdit(c, http.StatusOK, form, fields, &preview, errs)
		return
	}

	updated, err := s.storage.Submissions().UpdateSubmission(sub.ID, data, time.Now().UTC())
	if err != nil {
		if isNotFound(err) {
			s.renderError(c, http.StatusNotFound, "Submission not found")
		} else {
			s.serverError(c, err)
		}
		return
	}

	if webhook.ShouldSend(form, webhook.EventEdit) {
		s.webhooks.Send(webhook.EventEdit, form, updated)
	}
	c.Redirect(http.StatusSeeOther, "/admin/forms/"+form.ID+"/submissions")
}

func (s *Server) exportSubmissions(c *gin.Context) {
	form, ok := s.getForm(c, c.Param("form_id"))
	if !ok {
		return
	}
	fields := schema.FieldsFromSchema(form.SchemaDoc, form.FieldOrder)

	filtered, fileNames, err := s.filteredRows(c, form, fields)
	if err != nil {
		s.serverError(c, err)
		return
	}

	resolver := master.NewResolver(s.storage)
	columns, lookups := buildDisplayColumns(resolver, fields)
	sortSubmissions(filtered, c.DefaultQuery("sort", "created_at"), c.DefaultQuery("order", "desc"), columns, lookups)

	headers := make([]string, 0, len(columns))
	for _, column := range columns {
		headers = append(headers, column.Label)
	}
	records := [][]string{headers}
	for _, item := range filtered {
		records = append(records, rowValues(item.Data, columns, lookups, fileNames))
	}

	writeDelimited(c, c.DefaultQuery("format", "csv"), records)
}

// writeDelimited streams the records as a csv or tsv attachment.
func writeDelimited(c *gin.Context, format string, records [][]string) {
	contentType := "text/csv"
	delimiter := ','
	if format != "csv" {
		format = "tsv"
		contentType = "text/tab-separated-values"
		delimiter = '\t'
	}
	c.Header("Content-Type", contentType)
	c.Header("Content-Disposition", "attachment; filename=submissions."+format)
	c.Status(http.StatusOK)

	writer := csv.NewWriter(c.Writer)
	writer.Comma = delimiter
	_ = writer.WriteAll(records)
}
