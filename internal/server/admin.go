package server

import (
	"encoding/json"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"formsmith/internal/schema"
	"formsmith/internal/store"
	"formsmith/internal/webhook"
)

func jsonString(v any) string {
	encoded, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(encoded)
}

func (s *Server) listForms(c *gin.Context) {
	forms, err := s.storage.Forms().ListForms()
	if err != nil {
		s.serverError(c, err)
		return
	}

	sortKey := c.DefaultQuery("sort", "updated_at")
	order := c.DefaultQuery("order", "desc")
	if order != "asc" && order != "desc" {
		order = "desc"
	}
	reverse := order == "desc"

	less := func(a, b string) bool {
		if reverse {
			return a > b
		}
		return a < b
	}
	switch sortKey {
	case "name":
		sort.SliceStable(forms, func(i, j int) bool {
			return less(strings.ToLower(forms[i].Name), strings.ToLower(forms[j].Name))
		})
	case "status":
		sort.SliceStable(forms, func(i, j int) bool {
			return less(forms[i].Status, forms[j].Status)
		})
	default:
		sortKey = "updated_at"
		sort.SliceStable(forms, func(i, j int) bool {
			return less(forms[i].UpdatedAt.Format(time.RFC3339Nano), forms[j].UpdatedAt.Format(time.RFC3339Nano))
		})
	}

	c.HTML(http.StatusOK, "admin_forms.html", gin.H{
		"Forms": forms,
		"Sort":  sortKey,
		"Order": order,
	})
}

// builderContext is the data the form builder page renders from, both on
// first load and when re-rendering with validation errors.
type builderContext struct {
	Form    *store.Form
	Fields  []schema.Field
	Errors  []string
	IsNew   bool
	current string
}

func (s *Server) renderBuilder(c *gin.Context, status int, ctx builderContext) {
	masterForms, catalog := s.masterFieldCatalog(ctx.current)
	if masterForms == nil {
		masterForms = []masterFormEntry{}
	}
	fields := ctx.Fields
	if fields == nil {
		fields = []schema.Field{}
	}
	errs := ctx.Errors
	if errs == nil {
		errs = []string{}
	}
	c.HTML(status, "admin_form_builder.html", gin.H{
		"Form":                   ctx.Form,
		"Fields":                 fields,
		"IsNew":                  ctx.IsNew,
		"FieldsJSON":             jsonString(fields),
		"MasterFormsJSON":        jsonString(masterForms),
		"MasterFieldCatalogJSON": jsonString(catalog),
		"Errors":                 errs,
	})
}

func (s *Server) createForm(c *gin.Context) {
	name := strings.TrimSpace(c.PostForm("name"))
	description := strings.TrimSpace(c.PostForm("description"))
	fieldsJSON := c.PostForm("fields_json")

	fields, errs := schema.ParseFieldsJSON(fieldsJSON)
	if name == "" {
		errs = append(errs, "form name is required")
	}
	webhookURL := strings.TrimSpace(c.PostForm("webhook_url"))
	if webhookURL != "" && !webhook.IsValidURL(webhookURL) {
		errs = append(errs, "webhook URL must be a valid http:// or https:// URL")
	}
	if len(errs) > 0 {
		s.renderBuilder(c, http.StatusOK, builderContext{
			Form:   &store.Form{Name: name, Description: description, WebhookURL: webhookURL},
			Fields: fields,
			Errors: errs,
			IsNew:  true,
		})
		return
	}

	doc, fieldOrder := schema.SchemaFromFields(fields)
	now := time.Now().UTC()
	form := &store.Form{
		ID:              newULID(),
		PublicID:        newShortID(),
		Name:            name,
		Description:     description,
		Status:          store.StatusInactive,
		SchemaDoc:       doc,
		FieldOrder:      fieldOrder,
		WebhookURL:      webhookURL,
		WebhookOnSubmit: c.PostForm("webhook_on_submit") != "",
		WebhookOnDelete: c.PostForm("webhook_on_delete") != "",
		WebhookOnEdit:   c.PostForm("webhook_on_edit") != "",
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.storage.Forms().CreateForm(form); err != nil {
		s.serverError(c, err)
		return
	}
	s.logger.Info("form created", zap.String("form_id", form.ID), zap.String("name", form.Name))
	c.Redirect(http.StatusSeeOther, "/admin/forms/"+form.ID)
}

func (s *Server) editForm(c *gin.Context) {
	formID := c.Param("form_id")
	if formID == "new" {
		s.renderBuilder(c, http.StatusOK, builderContext{IsNew: true})
		return
	}
	form, ok := s.getForm(c, formID)
	if !ok {
		return
	}
	fields := schema.FieldsFromSchema(form.SchemaDoc, form.FieldOrder)
	s.renderBuilder(c, http.StatusOK, builderContext{
		Form:    form,
		Fields:  fields,
		current: formID,
	})
}

func (s *Server) updateForm(c *gin.Context) {
	formID := c.Param("form_id")
	if formID == "new" {
		s.createForm(c)
		return
	}
	form, ok := s.getForm(c, formID)
	if !ok {
		return
	}

	name := strings.TrimSpace(c.PostForm("name"))
	description := strings.TrimSpace(c.PostForm("description"))
	fields, errs := schema.ParseFieldsJSON(c.PostForm("fields_json"))
	if name == "" {
		errs = append(errs, "form name is required")
	}
	webhookURL := strings.TrimSpace(c.PostForm("webhook_url"))
	if webhookURL != "" && !webhook.IsValidURL(webhookURL) {
		errs = append(errs, "webhook URL must be a valid http:// or https:// URL")
	}
	if len(errs) > 0 {
		preview := *form
		preview.Name = name
		preview.Description = description
		preview.WebhookURL = webhookURL
		s.renderBuilder(c, http.StatusOK, builderContext{
			Form:    &preview,
			Fields:  fields,
			Errors:  errs,
			current: formID,
		})
		return
	}

	doc, fieldOrder := schema.SchemaFromFields(fields)
	form.Name = name
	form.Description = description
	form.SchemaDoc = doc
	form.FieldOrder = fieldOrder
	form.WebhookURL = webhookURL
	form.WebhookOnSubmit = c.PostForm("webhook_on_submit") != ""
	form.WebhookOnDelete = c.PostForm("webhook_on_delete") != ""
	form.WebhookOnEdit = c.PostForm("webhook_on_edit") != ""
	form.UpdatedAt = time.Now().UTC()
	if err := s.storage.Forms().SaveForm(form); err != nil {
		s.serverError(c, err)
		return
	}
	c.Redirect(http.StatusSeeOther, "/admin/forms/"+form.ID)
}

func (s *Server) publishForm(c *gin.Context) {
	s.setFormStatus(c, store.StatusActive)
}

func (s *Server) stopForm(c *gin.Context) {
	s.setFormStatus(c, store.StatusInactive)
}

func (s *Server) setFormStatus(c *gin.Context, status string) {
	if err := s.storage.Forms().SetStatus(c.Param("form_id"), status); err != nil && !isNotFound(err) {
		s.serverError(c, err)
		return
	}
	c.Redirect(http.StatusSeeOther, resolveRedirectTarget(c.Query("next")))
}

func (s *Server) deleteForm(c *gin.Context) {
	formID := c.Param("form_id")
	if err := s.storage.Forms().DeleteForm(formID); err != nil && !isNotFound(err) {
		s.serverError(c, err)
		return
	}
	s.logger.Info("form deleted", zap.String("form_id", formID))
	c.Redirect(http.StatusSeeOther, "/admin/forms")
}
