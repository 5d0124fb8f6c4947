package server

import (
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"formsmith/internal/master"
	"formsmith/internal/store"
)

// resolveRedirectTarget validates a "next" parameter so publish/stop
// actions can bounce back to the page they came from. Anything that is not
// a relative admin path falls back to the form list.
func resolveRedirectTarget(next string) string {
	const fallback = "/admin/forms"
	candidate := strings.TrimSpace(next)
	if candidate == "" {
		return fallback
	}
	if !strings.HasPrefix(candidate, "/") || strings.HasPrefix(candidate, "//") {
		return fallback
	}
	parsed, err := url.Parse(candidate)
	if err != nil || parsed.Scheme != "" || parsed.Host != "" {
		return fallback
	}
	if !strings.HasPrefix(parsed.Path, "/admin/forms") {
		return fallback
	}
	if parsed.RawQuery != "" {
		return parsed.Path + "?" + parsed.RawQuery
	}
	return parsed.Path
}

// masterFormEntry is one selectable source form in the builder.
type masterFormEntry struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// catalogEntry is one referenceable column offered by the builder UI.
type catalogEntry struct {
	Key   string `json:"key"`
	Label string `json:"label"`
}

// masterFieldCatalog lists, for every other form, the columns a master
// field could reference. The form being edited is excluded so it can't
// reference itself.
func (s *Server) masterFieldCatalog(currentFormID string) ([]masterFormEntry, map[string][]catalogEntry) {
	var masterForms []masterFormEntry
	catalog := map[string][]catalogEntry{}

	forms, err := s.storage.Forms().ListForms()
	if err != nil {
		return masterForms, catalog
	}
	resolver := master.NewResolver(s.storage)
	for _, form := range forms {
		if form.ID == "" || form.ID == currentFormID {
			continue
		}
		name := form.Name
		if name == "" {
			name = form.ID
		}
		masterForms = append(masterForms, masterFormEntry{ID: form.ID, Name: name})

		var exclude map[string]bool
		if currentFormID != "" {
			exclude = map[string]bool{currentFormID: true}
		}
		entries := []catalogEntry{}
		for _, candidate := range resolver.FormCandidates(form.ID, exclude) {
			entries = append(entries, catalogEntry{Key: candidate.Key, Label: candidate.Label})
		}
		catalog[form.ID] = entries
	}
	return masterForms, catalog
}

// sanitizeForm shapes a form for API responses.
func sanitizeForm(form *store.Form) gin.H {
	fieldOrder := form.FieldOrder
	if fieldOrder == nil {
		fieldOrder = []string{}
	}
	return gin.H{
		"id":                form.ID,
		"public_id":         form.PublicID,
		"name":              form.Name,
		"description":       form.Description,
		"status":            form.Status,
		"schema_json":       form.SchemaDoc,
		"field_order":       fieldOrder,
		"webhook_url":       form.WebhookURL,
		"webhook_on_submit": form.WebhookOnSubmit,
		"webhook_on_delete": form.WebhookOnDelete,
		"webhook_on_edit":   form.WebhookOnEdit,
		"created_at":        form.CreatedAt.UTC().Format(time.RFC3339Nano),
		"updated_at":        form.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

// getForm loads a form or writes the 404, reporting whether the caller
// may proceed.
func (s *Server) getForm(c *gin.Context, formID string) (*store.Form, bool) {
	form, err := s.storage.Forms().GetForm(formID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.renderError(c, 404, "Form not found")
		} else {
			s.serverError(c, err)
		}
		return nil, false
	}
	return form, true
}

func (s *Server) getFormByPublicID(c *gin.Context, publicID string) (*store.Form, bool) {
	form, err := s.storage.Forms().GetFormByPublicID(publicID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			s.renderError(c, 404, "Form not found")
		} else {
			s.serverError(c, err)
		}
		return nil, false
	}
	return form, true
}
