package server

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"formsmith/internal/config"
	"formsmith/internal/schema"
	"formsmith/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"))
}

func newTestServer(t *testing.T, mutate func(*config.Config)) (*Server, store.Storage) {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Storage.Backend = store.BackendJSON
	cfg.Storage.JSONPath = filepath.Join(dir, "data.json")
	cfg.Uploads.Dir = filepath.Join(dir, "uploads")
	if mutate != nil {
		mutate(cfg)
	}

	storage, err := store.Open(cfg.Storage.Backend, cfg.Storage.SQLitePath, cfg.Storage.JSONPath)
	require.NoError(t, err)
	t.Cleanup(func() { storage.Close() })

	srv, err := New(cfg, storage, zaptest.NewLogger(t))
	require.NoError(t, err)
	return srv, storage
}

func createTestForm(t *testing.T, storage store.Storage, name string, fields []schema.Field, status string) *store.Form {
	t.Helper()
	doc, order := schema.SchemaFromFields(fields)
	now := time.Now().UTC()
	form := &store.Form{
		ID:         newULID(),
		PublicID:   newShortID(),
		Name:       name,
		Status:     status,
		SchemaDoc:  doc,
		FieldOrder: order,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	require.NoError(t, storage.Forms().CreateForm(form))
	return form
}

func contactFields() []schema.Field {
	return []schema.Field{
		{Key: "name", Label: "Name", Type: schema.TypeString, Required: true},
		{Key: "age", Label: "Age", Type: schema.TypeInteger},
		{Key: "tags", Label: "Tags", Type: schema.TypeEnum, IsArray: true, ItemsType: schema.TypeEnum, Enum: []string{"dev", "ops"}},
	}
}

func doRequest(srv *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	rec := doRequest(srv, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestRequestIDHeader(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	rec := doRequest(srv, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec = doRequest(srv, req)
	assert.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))
}

func TestAPIFormLifecycle(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	doc, order := schema.SchemaFromFields(contactFields())
	body, _ := json.Marshal(map[string]any{
		"name":        "Contact",
		"schema_json": doc,
		"field_order": order,
	})
	req := httptest.NewRequest(http.MethodPost, "/api/forms", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := doRequest(srv, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var created map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "Contact", created["name"])
	assert.Equal(t, "inactive", created["status"])
	assert.NotEmpty(t, created["public_id"])

	formID := created["id"].(string)
	update, _ := json.Marshal(map[string]any{"status": "active", "description": " hello "})
	req = httptest.NewRequest(http.MethodPut, "/api/forms/"+formID, bytes.NewReader(update))
	req.Header.Set("Content-Type", "application/json")
	rec = doRequest(srv, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var updated map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
	assert.Equal(t, "active", updated["status"])
	assert.Equal(t, "hello", updated["description"])

	rec = doRequest(srv, httptest.NewRequest(http.MethodGet, "/api/forms", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var forms []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &forms))
	assert.Len(t, forms, 1)
}

func TestAPICreateFormRequiresName(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/forms", strings.NewReader(`{"name":"  "}`))
	req.Header.Set("Content-Type", "application/json")
	rec := doRequest(srv, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPICreateFormRejectsBadWebhookURL(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/forms",
		strings.NewReader(`{"name":"X","webhook_url":"ftp://nope"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := doRequest(srv, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPISubmitAndList(t *testing.T) {
	srv, storage := newTestServer(t, nil)
	form := createTestForm(t, storage, "Contact", contactFields(), store.StatusActive)

	submit := func(name string, age int) {
		body := fmt.Sprintf(`{"data_json":{"name":%q,"age":%d}}`, name, age)
		req := httptest.NewRequest(http.MethodPost, "/api/public/forms/"+form.PublicID+"/submissions",
			strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		rec := doRequest(srv, req)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var out map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
		assert.NotEmpty(t, out["submission_id"])
		assert.NotEmpty(t, out["created_at"])
	}
	submit("Ada", 36)
	submit("Grace", 45)
	submit("Linus", 31)

	rec := doRequest(srv, httptest.NewRequest(http.MethodGet,
		"/api/forms/"+form.ID+"/submissions?limit=2", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var page []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Len(t, page, 2)
	cursor := rec.Header().Get("X-Next-Cursor")
	require.NotEmpty(t, cursor)

	rec = doRequest(srv, httptest.NewRequest(http.MethodGet,
		"/api/forms/"+form.ID+"/submissions?limit=2&cursor="+url.QueryEscape(cursor), nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var rest []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rest))
	assert.Len(t, rest, 1)
	for _, item := range page {
		assert.NotEqual(t, rest[0]["id"], item["id"])
	}
}

func TestAPISubmitValidatesSchema(t *testing.T) {
	srv, storage := newTestServer(t, nil)
	form := createTestForm(t, storage, "Contact", contactFields(), store.StatusActive)

	req := httptest.NewRequest(http.MethodPost, "/api/public/forms/"+form.PublicID+"/submissions",
		strings.NewReader(`{"data_json":{"age":12}}`))
	req.Header.Set("Content-Type", "application/json")
	rec := doRequest(srv, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPISubmitRejectsInactiveForm(t *testing.T) {
	srv, storage := newTestServer(t, nil)
	form := createTestForm(t, storage, "Contact", contactFields(), store.StatusInactive)

	req := httptest.NewRequest(http.MethodPost, "/api/public/forms/"+form.PublicID+"/submissions",
		strings.NewReader(`{"name":"Ada"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := doRequest(srv, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPIListSubmissionsRejectsBadCursor(t *testing.T) {
	srv, storage := newTestServer(t, nil)
	form := createTestForm(t, storage, "Contact", contactFields(), store.StatusActive)

	rec := doRequest(srv, httptest.NewRequest(http.MethodGet,
		"/api/forms/"+form.ID+"/submissions?cursor=not-a-cursor", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPublicFormPage(t *testing.T) {
	srv, storage := newTestServer(t, nil)
	form := createTestForm(t, storage, "Contact", contactFields(), store.StatusActive)

	rec := doRequest(srv, httptest.NewRequest(http.MethodGet, "/f/"+form.PublicID, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Contact")
	assert.Contains(t, rec.Body.String(), `name="name"`)

	rec = doRequest(srv, httptest.NewRequest(http.MethodGet, "/f/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPublicFormSubmitCreatesSubmission(t *testing.T) {
	srv, storage := newTestServer(t, nil)
	form := createTestForm(t, storage, "Contact", contactFields(), store.StatusActive)

	body := url.Values{"name": {"Ada"}, "age": {"36"}, "tags": {"dev", "ops"}}
	req := httptest.NewRequest(http.MethodPost, "/f/"+form.PublicID,
		strings.NewReader(body.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := doRequest(srv, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Thank you")

	subs, err := storage.Submissions().ListSubmissions(form.ID)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "Ada", subs[0].Data["name"])
	assert.EqualValues(t, 36, subs[0].Data["age"])
	assert.Equal(t, []any{"dev", "ops"}, subs[0].Data["tags"])
}

func TestPublicFormSubmitShowsValidationErrors(t *testing.T) {
	srv, storage := newTestServer(t, nil)
	form := createTestForm(t, storage, "Contact", contactFields(), store.StatusActive)

	req := httptest.NewRequest(http.MethodPost, "/f/"+form.PublicID,
		strings.NewReader(url.Values{"age": {"12"}}.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := doRequest(srv, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "errors")

	subs, err := storage.Submissions().ListSubmissions(form.ID)
	require.NoError(t, err)
	assert.Empty(t, subs)
}

func TestPublicFormSubmitRefusedWhenInactive(t *testing.T) {
	srv, storage := newTestServer(t, nil)
	form := createTestForm(t, storage, "Contact", contactFields(), store.StatusInactive)

	req := httptest.NewRequest(http.MethodPost, "/f/"+form.PublicID,
		strings.NewReader(url.Values{"name": {"Ada"}}.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := doRequest(srv, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "not accepting submissions")

	subs, err := storage.Submissions().ListSubmissions(form.ID)
	require.NoError(t, err)
	assert.Empty(t, subs)
}

func TestFileUploadAndDownload(t *testing.T) {
	srv, storage := newTestServer(t, nil)
	fields := []schema.Field{
		{Key: "name", Label: "Name", Type: schema.TypeString},
		{Key: "resume", Label: "Resume", Type: schema.TypeFile},
	}
	form := createTestForm(t, storage, "Jobs", fields, store.StatusActive)

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	require.NoError(t, writer.WriteField("name", "Ada"))
	part, err := writer.CreateFormFile("resume", "resume.txt")
	require.NoError(t, err)
	_, err = part.Write([]byte("ada's resume"))
	require.NoError(t, err)
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/f/"+form.PublicID, &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	rec := doRequest(srv, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Thank you")

	subs, err := storage.Submissions().ListSubmissions(form.ID)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	fileID, _ := subs[0].Data["resume"].(string)
	require.NotEmpty(t, fileID)

	meta, err := storage.Files().GetFile(fileID)
	require.NoError(t, err)
	assert.Equal(t, "resume.txt", meta.OriginalName)

	rec = doRequest(srv, httptest.NewRequest(http.MethodGet, "/files/"+fileID, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ada's resume", rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "resume.txt")
}

func TestAdminFormBuilderFlow(t *testing.T) {
	srv, storage := newTestServer(t, nil)

	rec := doRequest(srv, httptest.NewRequest(http.MethodGet, "/admin/forms/new", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	fieldsJSON := `[{"key":"name","label":"Name","type":"string","required":true}]`
	body := url.Values{"name": {"Survey"}, "fields_json": {fieldsJSON}}
	req := httptest.NewRequest(http.MethodPost, "/admin/forms", strings.NewReader(body.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec = doRequest(srv, req)
	require.Equal(t, http.StatusSeeOther, rec.Code)
	location := rec.Header().Get("Location")
	require.True(t, strings.HasPrefix(location, "/admin/forms/"), location)

	forms, err := storage.Forms().ListForms()
	require.NoError(t, err)
	require.Len(t, forms, 1)
	assert.Equal(t, "Survey", forms[0].Name)
	assert.Equal(t, store.StatusInactive, forms[0].Status)

	// Missing name re-renders the builder with the problem listed.
	req = httptest.NewRequest(http.MethodPost, "/admin/forms",
		strings.NewReader(url.Values{"fields_json": {fieldsJSON}}.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec = doRequest(srv, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "form name is required")
}

func TestAdminPublishStopRedirects(t *testing.T) {
	srv, storage := newTestServer(t, nil)
	form := createTestForm(t, storage, "Survey", contactFields(), store.StatusInactive)

	req := httptest.NewRequest(http.MethodPost,
		"/admin/forms/"+form.ID+"/publish?next="+url.QueryEscape("/admin/forms?sort=name"), nil)
	rec := doRequest(srv, req)
	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/admin/forms?sort=name", rec.Header().Get("Location"))

	reloaded, err := storage.Forms().GetForm(form.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusActive, reloaded.Status)

	req = httptest.NewRequest(http.MethodPost, "/admin/forms/"+form.ID+"/stop?next=https://evil.example", nil)
	rec = doRequest(srv, req)
	require.Equal(t, http.StatusSeeOther, rec.Code)
	assert.Equal(t, "/admin/forms", rec.Header().Get("Location"))
}

func TestAdminSubmissionsPageAndExport(t *testing.T) {
	srv, storage := newTestServer(t, nil)
	form := createTestForm(t, storage, "Contact", contactFields(), store.StatusActive)
	require.NoError(t, storage.Submissions().CreateSubmission(&store.Submission{
		ID:        newULID(),
		FormID:    form.ID,
		Data:      map[string]any{"name": "Ada", "age": float64(36)},
		CreatedAt: time.Now().UTC(),
	}))

	rec := doRequest(srv, httptest.NewRequest(http.MethodGet,
		"/admin/forms/"+form.ID+"/submissions", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Ada")

	rec = doRequest(srv, httptest.NewRequest(http.MethodGet,
		"/admin/forms/"+form.ID+"/export?format=csv", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "submissions.csv")

	records, err := csv.NewReader(strings.NewReader(rec.Body.String())).ReadAll()
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(records), 2)
	assert.Equal(t, []string{"Name", "Age", "Tags"}, records[0])
	assert.Equal(t, "Ada", records[1][0])
}

func TestAPIExportExpandsGroupArrayRows(t *testing.T) {
	srv, storage := newTestServer(t, nil)
	fields := []schema.Field{
		{Key: "title", Label: "Title", Type: schema.TypeString},
		{
			Key: "rows", Label: "Rows", Type: schema.TypeGroup, IsArray: true, ExpandRows: true,
			Children: []schema.Field{
				{Key: "item", Label: "Item", Type: schema.TypeString},
			},
		},
	}
	form := createTestForm(t, storage, "Orders", fields, store.StatusActive)
	require.NoError(t, storage.Submissions().CreateSubmission(&store.Submission{
		ID:     newULID(),
		FormID: form.ID,
		Data: map[string]any{
			"title": "order-1",
			"rows": []any{
				map[string]any{"item": "apple"},
				map[string]any{"item": "pear"},
			},
		},
		CreatedAt: time.Now().UTC(),
	}))

	rec := doRequest(srv, httptest.NewRequest(http.MethodGet,
		"/api/forms/"+form.ID+"/export?format=csv", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	records, err := csv.NewReader(strings.NewReader(rec.Body.String())).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, []string{"Title", "Rows.Item"}, records[0])
	assert.Equal(t, []string{"order-1", "apple"}, records[1])
	assert.Equal(t, []string{"order-1", "pear"}, records[2])
}

func TestAdminSubmissionFiltering(t *testing.T) {
	srv, storage := newTestServer(t, nil)
	form := createTestForm(t, storage, "Contact", contactFields(), store.StatusActive)
	for _, name := range []string{"Ada", "Grace"} {
		require.NoError(t, storage.Submissions().CreateSubmission(&store.Submission{
			ID:        newULID(),
			FormID:    form.ID,
			Data:      map[string]any{"name": name},
			CreatedAt: time.Now().UTC(),
		}))
	}

	rec := doRequest(srv, httptest.NewRequest(http.MethodGet,
		"/admin/forms/"+form.ID+"/submissions?f_name=Grace", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Grace")
	assert.NotContains(t, rec.Body.String(), "<td>Ada</td>")
}

func TestAdminSubmissionDelete(t *testing.T) {
	srv, storage := newTestServer(t, nil)
	form := createTestForm(t, storage, "Contact", contactFields(), store.StatusActive)
	sub := &store.Submission{
		ID:        newULID(),
		FormID:    form.ID,
		Data:      map[string]any{"name": "Ada"},
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, storage.Submissions().CreateSubmission(sub))

	req := httptest.NewRequest(http.MethodPost,
		"/admin/forms/"+form.ID+"/submissions/"+sub.ID+"/delete", nil)
	rec := doRequest(srv, req)
	require.Equal(t, http.StatusSeeOther, rec.Code)

	subs, err := storage.Submissions().ListSubmissions(form.ID)
	require.NoError(t, err)
	assert.Empty(t, subs)
}

type brokenFormRepo struct {
	store.FormRepo
	err error
}

func (r brokenFormRepo) GetForm(string) (*store.Form, error) { return nil, r.err }

type brokenFormStorage struct {
	store.Storage
	err error
}

func (s brokenFormStorage) Forms() store.FormRepo {
	return brokenFormRepo{s.Storage.Forms(), s.err}
}

func TestAdminSubmissionDeleteSurfacesStorageErrors(t *testing.T) {
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Storage.Backend = store.BackendJSON
	cfg.Storage.JSONPath = filepath.Join(dir, "data.json")
	cfg.Uploads.Dir = filepath.Join(dir, "uploads")

	base, err := store.Open(cfg.Storage.Backend, cfg.Storage.SQLitePath, cfg.Storage.JSONPath)
	require.NoError(t, err)
	t.Cleanup(func() { base.Close() })

	form := createTestForm(t, base, "Contact", contactFields(), store.StatusActive)
	sub := &store.Submission{
		ID:        newULID(),
		FormID:    form.ID,
		Data:      map[string]any{"name": "Ada"},
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, base.Submissions().CreateSubmission(sub))

	srv, err := New(cfg, brokenFormStorage{base, errors.New("backend unavailable")}, zaptest.NewLogger(t))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost,
		"/admin/forms/"+form.ID+"/submissions/"+sub.ID+"/delete", nil)
	rec := doRequest(srv, req)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	// The submission survives a failed form lookup.
	subs, err := base.Submissions().ListSubmissions(form.ID)
	require.NoError(t, err)
	assert.Len(t, subs, 1)
}

func TestAdminSubmissionEdit(t *testing.T) {
	srv, storage := newTestServer(t, nil)
	form := createTestForm(t, storage, "Contact", contactFields(), store.StatusActive)
	sub := &store.Submission{
		ID:        newULID(),
		FormID:    form.ID,
		Data:      map[string]any{"name": "Ada", "age": float64(36)},
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, storage.Submissions().CreateSubmission(sub))

	rec := doRequest(srv, httptest.NewRequest(http.MethodGet,
		"/admin/forms/"+form.ID+"/submissions/"+sub.ID+"/edit", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Ada")

	body := url.Values{"name": {"Ada Lovelace"}, "age": {"37"}}
	req := httptest.NewRequest(http.MethodPost,
		"/admin/forms/"+form.ID+"/submissions/"+sub.ID+"/edit",
		strings.NewReader(body.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec = doRequest(srv, req)
	require.Equal(t, http.StatusSeeOther, rec.Code)

	updated, err := storage.Submissions().GetSubmission(sub.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", updated.Data["name"])
	assert.NotNil(t, updated.UpdatedAt)
}

func TestBasicAuthGuardsAdminAndAPI(t *testing.T) {
	srv, _ := newTestServer(t, func(cfg *config.Config) {
		cfg.Auth.Mode = config.AuthBasic
		cfg.Auth.Username = "admin"
		cfg.Auth.Password = "secret"
	})

	rec := doRequest(srv, httptest.NewRequest(http.MethodGet, "/admin/forms", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = doRequest(srv, httptest.NewRequest(http.MethodGet, "/api/forms", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/admin/forms", nil)
	req.SetBasicAuth("admin", "secret")
	rec = doRequest(srv, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Public routes stay open.
	rec = doRequest(srv, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestResolveRedirectTarget(t *testing.T) {
	tests := []struct {
		name string
		next string
		want string
	}{
		{"empty", "", "/admin/forms"},
		{"relative admin path", "/admin/forms/abc/submissions", "/admin/forms/abc/submissions"},
		{"keeps query", "/admin/forms?sort=name&order=asc", "/admin/forms?sort=name&order=asc"},
		{"absolute url", "https://evil.example/admin/forms", "/admin/forms"},
		{"protocol relative", "//evil.example", "/admin/forms"},
		{"outside admin", "/api/forms", "/admin/forms"},
		{"no leading slash", "admin/forms", "/admin/forms"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, resolveRedirectTarget(tc.next))
		})
	}
}
