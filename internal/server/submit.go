package server

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"formsmith/internal/filter"
	"formsmith/internal/schema"
	"formsmith/internal/store"
)

// requestError is a user-facing failure surfaced with its HTTP status
// instead of a 500.
type requestError struct {
	status  int
	message string
}

func (e *requestError) Error() string { return e.message }

func badRequest(message string) *requestError {
	return &requestError{status: http.StatusBadRequest, message: message}
}

// formInput is the posted body, normalized so the collector reads
// multipart and urlencoded submissions the same way.
type formInput struct {
	values map[string][]string
	files  map[string][]*multipart.FileHeader
}

func readFormInput(c *gin.Context) *formInput {
	in := &formInput{
		values: map[string][]string{},
		files:  map[string][]*multipart.FileHeader{},
	}
	if form, err := c.MultipartForm(); err == nil && form != nil {
		for key, vals := range form.Value {
			in.values[key] = vals
		}
		in.files = form.File
		return in
	}
	if err := c.Request.ParseForm(); err == nil {
		for key, vals := range c.Request.PostForm {
			in.values[key] = vals
		}
	}
	return in
}

func (in *formInput) value(key string) (string, bool) {
	vals := in.values[key]
	if len(vals) == 0 {
		return "", false
	}
	return vals[0], true
}

// saveUpload validates one uploaded file against the field's constraints,
// writes it under the upload directory keyed by a fresh id, and records
// its metadata.
func (s *Server) saveUpload(fh *multipart.FileHeader, formID, fileFormat string, allowedExtensions []string) (string, error) {
	contentType := fh.Header.Get("Content-Type")
	if !schema.UploadMatchesFileConstraints(contentType, fh.Filename, fileFormat, allowedExtensions) {
		return "", badRequest("file type is not allowed")
	}
	if fh.Size > s.cfg.Uploads.MaxBytes {
		return "", badRequest("file exceeds the size limit")
	}

	fileID := newULID()
	destination := filepath.Join(s.cfg.Uploads.Dir, fileID)

	src, err := fh.Open()
	if err != nil {
		return "", fmt.Errorf("open upload: %w", err)
	}
	defer src.Close()

	dst, err := os.Create(destination)
	if err != nil {
		return "", fmt.Errorf("store upload: %w", err)
	}
	written, err := io.Copy(dst, src)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(destination)
		return "", fmt.Errorf("store upload: %w", err)
	}

	meta := &store.FileMeta{
		ID:           fileID,
		FormID:       formID,
		OriginalName: fh.Filename,
		StoredPath:   destination,
		ContentType:  contentType,
		Size:         written,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.storage.Files().CreateFile(meta); err != nil {
		os.Remove(destination)
		return "", fmt.Errorf("record upload: %w", err)
	}
	return fileID, nil
}

// normalizeNumber parses a posted numeric string. Empty or unparseable
// input becomes nil so schema validation reports the problem.
func normalizeNumber(value string, isInt bool) any {
	if value == "" {
		return nil
	}
	if isInt {
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return nil
		}
		return n
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil
	}
	return f
}

// collectSubmission walks the field tree and pulls typed values out of the
// posted body. Group arrays gather their element indices from the posted
// key names, so gaps left by removed rows in the UI are tolerated. When
// old is non-nil (editing), file fields keep their previous value unless a
// replacement was uploaded, matched to rows by position.
func (s *Server) collectSubmission(in *formInput, form *store.Form, fields []schema.Field, prefix string, old map[string]any) (map[string]any, error) {
	target := map[string]any{}
	for _, field := range fields {
		formKey := field.Key
		if prefix != "" {
			formKey = prefix + field.Key
		}

		if field.Type == schema.TypeGroup {
			if field.IsArray {
				items, err := s.collectGroupArray(in, form, field, formKey, old)
				if err != nil {
					return nil, err
				}
				target[field.Key] = items
			} else {
				var oldGroup map[string]any
				if old != nil {
					oldGroup, _ = old[field.Key].(map[string]any)
				}
				group, err := s.collectSubmission(in, form, field.Children, formKey+".", oldGroup)
				if err != nil {
					return nil, err
				}
				target[field.Key] = group
			}
			continue
		}

		if field.IsArray {
			if field.Type == schema.TypeFile {
				value, err := s.collectFileArray(in, form, field, formKey, old)
				if err != nil {
					return nil, err
				}
				target[field.Key] = value
				continue
			}
			var values []string
			for _, v := range in.values[formKey] {
				if v != "" {
					values = append(values, v)
				}
			}
			switch field.Type {
			case schema.TypeNumber, schema.TypeInteger:
				parsed := []any{}
				for _, v := range values {
					if n := normalizeNumber(v, field.Type == schema.TypeInteger); n != nil {
						parsed = append(parsed, n)
					}
				}
				target[field.Key] = parsed
			case schema.TypeBoolean:
				parsed := []any{}
				for _, v := range values {
					parsed = append(parsed, filter.ParseBool(v))
				}
				target[field.Key] = parsed
			default:
				items := []any{}
				for _, v := range values {
					items = append(items, v)
				}
				target[field.Key] = items
			}
			continue
		}

		if field.Type == schema.TypeFile {
			value, err := s.collectFileScalar(in, form, field, formKey, old)
			if err != nil {
				return nil, err
			}
			target[field.Key] = value
			continue
		}

		raw, present := in.value(formKey)
		switch field.Type {
		case schema.TypeNumber, schema.TypeInteger:
			target[field.Key] = normalizeNumber(raw, field.Type == schema.TypeInteger)
		case schema.TypeBoolean:
			target[field.Key] = filter.ParseBool(raw)
		default:
			if present {
				target[field.Key] = raw
			} else {
				target[field.Key] = nil
			}
		}
	}
	return target, nil
}

func (s *Server) collectGroupArray(in *formInput, form *store.Form, field schema.Field, formKey string, old map[string]any) ([]any, error) {
	formPrefix := formKey + "."
	indexSet := map[int]bool{}
	collect := func(key string) {
		if !strings.HasPrefix(key, formPrefix) {
			return
		}
		rest := strings.SplitN(key[len(formPrefix):], ".", 2)
		if idx, err := strconv.Atoi(rest[0]); err == nil {
			indexSet[idx] = true
		}
	}
	for key := range in.values {
		collect(key)
	}
	for key := range in.files {
		collect(key)
	}

	indices := make([]int, 0, len(indexSet))
	for idx := range indexSet {
		indices = append(indices, idx)
	}
	sort.Ints(indices)

	var oldItems []any
	if old != nil {
		oldItems, _ = old[field.Key].([]any)
	}

	items := []any{}
	for order, idx := range indices {
		var oldItem map[string]any
		if order < len(oldItems) {
			oldItem, _ = oldItems[order].(map[string]any)
		}
		item, err := s.collectSubmission(in, form, field.Children, fmt.Sprintf("%s.%d.", formKey, idx), oldItem)
		if err != nil {
			return nil, err
		}
		if len(item) > 0 {
			items = append(items, item)
		}
	}
	return items, nil
}

func (s *Server) collectFileArray(in *formInput, form *store.Form, field schema.Field, formKey string, old map[string]any) (any, error) {
	uploads := in.files[formKey]
	hasNew := false
	for _, fh := range uploads {
		if fh != nil && fh.Filename != "" {
			hasNew = true
			break
		}
	}
	if !hasNew && old != nil {
		if previous, ok := old[field.Key].([]any); ok {
			return previous, nil
		}
		return []any{}, nil
	}
	fileIDs := []any{}
	for _, fh := range uploads {
		if fh == nil || fh.Filename == "" {
			continue
		}
		fileID, err := s.saveUpload(fh, form.ID, field.Format, field.AllowedExtensions)
		if err != nil {
			return nil, err
		}
		fileIDs = append(fileIDs, fileID)
	}
	return fileIDs, nil
}

func (s *Server) collectFileScalar(in *formInput, form *store.Form, field schema.Field, formKey string, old map[string]any) (any, error) {
	uploads := in.files[formKey]
	var fh *multipart.FileHeader
	if len(uploads) > 0 {
		fh = uploads[0]
	}
	if fh == nil || fh.Filename == "" {
		if old != nil {
			return old[field.Key], nil
		}
		return nil, nil
	}
	fileID, err := s.saveUpload(fh, form.ID, field.Format, field.AllowedExtensions)
	if err != nil {
		return nil, err
	}
	return fileID, nil
}
