package server

import (
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

func apiError(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"detail": message})
}

func (s *Server) apiListForms(c *gin.Context) {
	forms, err := s.storage.Forms().ListForms()
	if err != nil {
		apiError(c, http.StatusInternalServerError, "could not list forms")
		_ = c.Error(err)
		return
	}
	out := make([]gin.H, 0, len(forms))
	for i := range forms {
		out = append(out, sanitizeForm(&forms[i]))
	}
	c.JSON(http.StatusOK, out)
}

type formPayload struct {
	Name            *string        `json:"name"`
	Description     *string        `json:"description"`
	SchemaDoc       map[string]any `json:"schema_json"`
	FieldOrder      []string       `json:"field_order"`
	Status          *string        `json:"status"`
	WebhookURL      *string        `json:"webhook_url"`
	WebhookOnSubmit *bool          `json:"webhook_on_submit"`
	WebhookOnDelete *bool          `json:"webhook_on_delete"`
	WebhookOnEdit   *bool          `json:"webhook_on_edit"`
}

func (s *Server) apiCreateForm(c *gin.Context) {
	var payload formPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		apiError(c, http.StatusBadRequest, "invalid JSON body")
		return
	}
	name := ""
	if payload.Name != nil {
		name = strings.TrimSpace(*payload.Name)
	}
	if name == "" {
		apiError(c, http.StatusBadRequest, "name is required")
		return
	}
	doc := payload.SchemaDoc
	if doc == nil {
		doc = map[string]any{}
	}
	webhookURL := ""
	if payload.WebhookURL != nil {
		webhookURL = strings.TrimSpace(*payload.WebhookURL)
	}
	if webhookURL != "" && !webhook.IsValidURL(webhookURL) {
		apiError(c, http.StatusBadRequest, "webhook_url is invalid")
		return
	}
	status := store.StatusInactive
	if payload.Status != nil && *payload.Status != "" {
		status = *payload.Status
	}

	now := time.Now().UTC()
	form := &store.Form{
		ID:          newULID(),
		PublicID:    newShortID(),
		Name:        name,
		Description: derefTrimmed(payload.Description),
		Status:      status,
		SchemaDoc:   doc,
		FieldOrder:  schema.NormalizeFieldOrder(doc, payload.FieldOrder),
		WebhookURL:  webhookURL,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if payload.WebhookOnSubmit != nil {
		form.WebhookOnSubmit = *payload.WebhookOnSubmit
	}
	if payload.WebhookOnDelete != nil {
		form.WebhookOnDelete = *payload.WebhookOnDelete
	}
	if payload.WebhookOnEdit != nil {
		form.WebhookOnEdit = *payload.WebhookOnEdit
	}
	if err := s.storage.Forms().CreateForm(form); err != nil {
		apiError(c, http.StatusInternalServerError, "could not create form")
		_ = c.Error(err)
		return
	}
	s.logger.Info("form created", zap.String("form_id", form.ID), zap.String("name", form.Name))
	c.JSON(http.StatusOK, sanitizeForm(form))
}

func (s *Server) apiUpdateForm(c *gin.Context) {
	form, err := s.storage.Forms().GetForm(c.Param("form_id"))
	if err != nil {
		if isNotFound(err) {
			apiError(c, http.StatusNotFound, "form not found")
		} else {
			apiError(c, http.StatusInternalServerError, "could not load form")
			_ = c.Error(err)
		}
		return
	}

	var payload formPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		apiError(c, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if payload.Name != nil {
		name := strings.TrimSpace(*payload.Name)
		if name == "" {
			apiError(c, http.StatusBadRequest, "name is required")
			return
		}
		form.Name = name
	}
	if payload.Description != nil {
		form.Description = strings.TrimSpace(*payload.Description)
	}
	if payload.SchemaDoc != nil {
		form.SchemaDoc = payload.SchemaDoc
		form.FieldOrder = schema.NormalizeFieldOrder(payload.SchemaDoc, payload.FieldOrder)
	}
	if payload.Status != nil {
		status := *payload.Status
		if status == "" {
			status = store.StatusInactive
		}
		form.Status = status
	}
	if payload.WebhookURL != nil {
		webhookURL := strings.TrimSpace(*payload.WebhookURL)
		if webhookURL != "" && !webhook.IsValidURL(webhookURL) {
			apiError(c, http.StatusBadRequest, "webhook_url is invalid")
			return
		}
		form.WebhookURL = webhookURL
	}
	if payload.WebhookOnSubmit != nil {
		form.WebhookOnSubmit = *payload.WebhookOnSubmit
	}
	if payload.WebhookOnDelete != nil {
		form.WebhookOnDelete = *payload.WebhookOnDelete
	}
	if payload.WebhookOnEdit != nil {
		form.WebhookOnEdit = *payload.WebhookOnEdit
	}
	form.UpdatedAt = time.Now().UTC()

	if err := s.storage.Forms().SaveForm(form); err != nil {
		apiError(c, http.StatusInternalServerError, "could not update form")
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, sanitizeForm(form))
}

func (s *Server) apiSubmitForm(c *gin.Context) {
	form, err := s.storage.Forms().GetFormByPublicID(c.Param("public_id"))
	if err != nil {
		if isNotFound(err) {
			apiError(c, http.StatusNotFound, "form not found")
		} else {
			apiError(c, http.StatusInternalServerError, "could not load form")
			_ = c.Error(err)
		}
		return
	}
	if form.Status != store.StatusActive {
		apiError(c, http.StatusBadRequest, "this form is not accepting submissions")
		return
	}

	// The body may either wrap the data in data_json or be the data
	// itself.
	var raw map[string]any
	if err := c.ShouldBindJSON(&raw); err != nil {
		apiError(c, http.StatusBadRequest, "invalid JSON body")
		return
	}
	data := raw
	if wrapped, ok := raw["data_json"]; ok {
		inner, ok := wrapped.(map[string]any)
		if !ok {
			apiError(c, http.StatusBadRequest, "data_json is invalid")
			return
		}
		data = inner
	}

	errs, err := schema.ValidateSubmission(form.SchemaDoc, data)
	if err != nil {
		apiError(c, http.StatusInternalServerError, "could not validate submission")
		_ = c.Error(err)
		return
	}
	fields := schema.FieldsFromSchema(form.SchemaDoc, form.FieldOrder)
	errs = append(errs, master.NewResolver(s.storage).ValidateMasterReferences(fields, data)...)
	if len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "validation failed", "errors": errs})
		return
	}

	sub := &store.Submission{
		ID:        newULID(),
		FormID:    form.ID,
		Data:      data,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.storage.Submissions().CreateSubmission(sub); err != nil {
		apiError(c, http.StatusInternalServerError, "could not store submission")
		_ = c.Error(err)
		return
	}
	s.logger.Info("submission created",
		zap.String("form_id", form.ID),
		zap.String("submission_id", sub.ID))

	if webhook.ShouldSend(form, webhook.EventSubmit) {
		s.webhooks.Send(webhook.EventSubmit, form, sub)
	}

	c.JSON(http.StatusOK, gin.H{
		"submission_id": sub.ID,
		"created_at":    sub.CreatedAt.Format(time.RFC3339Nano),
	})
}

func (s *Server) apiListSubmissions(c *gin.Context) {
	form, err := s.storage.Forms().GetForm(c.Param("form_id"))
	if err != nil {
		if isNotFound(err) {
			apiError(c, http.StatusNotFound, "form not found")
		} else {
			apiError(c, http.StatusInternalServerError, "could not load form")
			_ = c.Error(err)
		}
		return
	}
	fields := schema.FieldsFromSchema(form.SchemaDoc, form.FieldOrder)

	subs, err := s.storage.Submissions().ListSubmissions(form.ID)
	if err != nil {
		apiError(c, http.StatusInternalServerError, "could not list submissions")
		_ = c.Error(err)
		return
	}
	fileIDs := filter.CollectFileIDs(subs, fields)
	fileNames := filter.ResolveFileNames(s.storage.Files(), fileIDs)

	filtered := filter.ApplyFilters(subs, fields, c.Request.URL.Query(), fileNames)
	sort.SliceStable(filtered, func(i, j int) bool {
		if !filtered[i].CreatedAt.Equal(filtered[j].CreatedAt) {
			return filtered[i].CreatedAt.After(filtered[j].CreatedAt)
		}
		return filtered[i].ID > filtered[j].ID
	})

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit < 1 {
		limit = 50
	}
	if cursorRaw := c.Query("cursor"); cursorRaw != "" {
		cursorAt, cursorID, ok := filter.DecodeCursor(cursorRaw)
		if !ok {
			apiError(c, http.StatusBadRequest, "cursor is invalid")
			return
		}
		var after []store.Submission
		for _, item := range filtered {
			if item.CreatedAt.Before(cursorAt) ||
				(item.CreatedAt.Equal(cursorAt) && item.ID < cursorID) {
				after = append(after, item)
			}
		}
		filtered = after
	}

	if len(filtered) > limit {
		filtered = filtered[:limit]
	}
	items := make([]gin.H, 0, len(filtered))
	for _, item := range filtered {
		var updatedAt any
		if item.UpdatedAt != nil {
			updatedAt = item.UpdatedAt.Format(time.RFC3339Nano)
		}
		items = append(items, gin.H{
			"id":         item.ID,
			"form_id":    item.FormID,
			"data_json":  item.Data,
			"created_at": item.CreatedAt.Format(time.RFC3339Nano),
			"updated_at": updatedAt,
		})
	}
	if len(filtered) == limit && limit > 0 {
		last := filtered[len(filtered)-1]
		c.Header("X-Next-Cursor", filter.EncodeCursor(last.CreatedAt, last.ID))
	}
	c.JSON(http.StatusOK, items)
}

// apiExportSubmissions streams the filtered submissions as a flat
// delimited table: group-array rows expanded, one column per
// scalar-array element.
func (s *Server) apiExportSubmissions(c *gin.Context) {
	form, err := s.storage.Forms().GetForm(c.Param("form_id"))
	if err != nil {
		if isNotFound(err) {
			apiError(c, http.StatusNotFound, "form not found")
		} else {
			apiError(c, http.StatusInternalServerError, "could not load form")
			_ = c.Error(err)
		}
		return
	}
	fields := schema.FieldsFromSchema(form.SchemaDoc, form.FieldOrder)

	filtered, fileNames, err := s.filteredRows(c, form, fields)
	if err != nil {
		apiError(c, http.StatusInternalServerError, "could not list submissions")
		_ = c.Error(err)
		return
	}

	headers, rows := filter.ExportTable(fields, filtered, fileNames)
	records := append([][]string{headers}, rows...)
	writeDelimited(c, c.DefaultQuery("format", "csv"), records)
}

func derefTrimmed(v *string) string {
	if v == nil {
		return ""
	}
	return strings.TrimSpace(*v)
}
