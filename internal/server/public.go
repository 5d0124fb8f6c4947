package server

import (
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"formsmith/internal/master"
	"formsmith/internal/schema"
	"formsmith/internal/store"
	"formsmith/internal/webhook"
)

const inactiveMessage = "This form is not accepting submissions"

func (s *Server) renderPublicForm(c *gin.Context, status int, form *store.Form, fields []schema.Field, errs []string, inactive bool) {
	if errs == nil {
		errs = []string{}
	}
	c.HTML(status, "form_public.html", gin.H{
		"Form":     form,
		"Fields":   fields,
		"Errors":   errs,
		"Inactive": inactive,
	})
}

func (s *Server) publicForm(c *gin.Context) {
	form, ok := s.getFormByPublicID(c, c.Param("public_id"))
	if !ok {
		return
	}
	fields := schema.FieldsFromSchema(form.SchemaDoc, form.FieldOrder)
	master.NewResolver(s.storage).EnrichMasterOptions(fields)

	inactive := form.Status != store.StatusActive
	var errs []string
	if inactive {
		errs = []string{inactiveMessage}
	}
	s.renderPublicForm(c, http.StatusOK, form, fields, errs, inactive)
}

func (s *Server) submitPublicForm(c *gin.Context) {
	form, ok := s.getFormByPublicID(c, c.Param("public_id"))
	if !ok {
		return
	}
	fields := schema.FieldsFromSchema(form.SchemaDoc, form.FieldOrder)
	resolver := master.NewResolver(s.storage)
	resolver.EnrichMasterOptions(fields)

	if form.Status != store.StatusActive {
		s.renderPublicForm(c, http.StatusOK, form, fields, []string{inactiveMessage}, true)
		return
	}

	in := readFormInput(c)
	collected, err := s.collectSubmission(in, form, fields, "", nil)
	if err != nil {
		status, message := s.handleRequestError(c, err)
		s.renderPublicForm(c, status, form, fields, []string{message}, false)
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
		s.renderPublicForm(c, http.StatusOK, form, fields, errs, false)
		return
	}

	sub := &store.Submission{
		ID:        newULID(),
		FormID:    form.ID,
		Data:      data,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.storage.Submissions().CreateSubmission(sub); err != nil {
		s.serverError(c, err)
		return
	}
	s.logger.Info("submission created",
		zap.String("form_id", form.ID),
		zap.String("submission_id", sub.ID))

	if webhook.ShouldSend(form, webhook.EventSubmit) {
		s.webhooks.Send(webhook.EventSubmit, form, sub)
	}

	c.HTML(http.StatusOK, "submission_done.html", gin.H{"Form": form})
}

// downloadFile streams a stored upload under its original name. The
// stored path must stay inside the upload directory.
func (s *Server) downloadFile(c *gin.Context) {
	meta, err := s.storage.Files().GetFile(c.Param("file_id"))
	if err != nil {
		if isNotFound(err) {
			s.renderError(c, http.StatusNotFound, "File not found")
		} else {
			s.serverError(c, err)
		}
		return
	}

	uploadDir, err := filepath.Abs(s.cfg.Uploads.Dir)
	if err != nil {
		s.serverError(c, err)
		return
	}
	path, err := filepath.Abs(meta.StoredPath)
	if err != nil {
		s.serverError(c, err)
		return
	}
	if !strings.HasPrefix(path, uploadDir+string(filepath.Separator)) {
		s.renderError(c, http.StatusBadRequest, "Invalid file path")
		return
	}

	name := meta.OriginalName
	if name == "" {
		name = meta.ID
	}
	c.FileAttachment(path, name)
}
