package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists everything in a single SQLite database file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the database at dbPath and
// applies the schema.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// modernc/sqlite serializes writers; a single connection avoids
	// SQLITE_BUSY churn under concurrent requests.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.bootstrap(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) bootstrap() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS forms (
	id TEXT PRIMARY KEY,
	public_id TEXT NOT NULL UNIQUE,
	name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'inactive',
	schema_json TEXT NOT NULL,
	field_order TEXT NOT NULL DEFAULT '[]',
	webhook_url TEXT NOT NULL DEFAULT '',
	webhook_on_submit INTEGER NOT NULL DEFAULT 0,
	webhook_on_delete INTEGER NOT NULL DEFAULT 0,
	webhook_on_edit INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS submissions (
	id TEXT PRIMARY KEY,
	form_id TEXT NOT NULL,
	data_json TEXT NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT
);

CREATE INDEX IF NOT EXISTS idx_submissions_form ON submissions(form_id, created_at);

CREATE TABLE IF NOT EXISTS files (
	id TEXT PRIMARY KEY,
	form_id TEXT NOT NULL,
	original_name TEXT NOT NULL,
	stored_path TEXT NOT NULL,
	content_type TEXT NOT NULL DEFAULT '',
	size INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL
);
`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("bootstrap schema: %w", err)
	}
	return s.migrateWebhookColumns()
}

// migrateWebhookColumns adds webhook columns to databases created before
// webhooks existed.
func (s *SQLiteStore) migrateWebhookColumns() error {
	rows, err := s.db.Query(`PRAGMA table_info(forms)`)
	if err != nil {
		return fmt.Errorf("inspect forms table: %w", err)
	}
	existing := map[string]bool{}
	for rows.Next() {
		var (
			cid        int
			name, typ  string
			notNull    int
			defaultVal sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &defaultVal, &pk); err != nil {
			rows.Close()
			return fmt.Errorf("scan column info: %w", err)
		}
		existing[name] = true
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	additions := []struct{ column, ddl string }{
		{"webhook_url", `ALTER TABLE forms ADD COLUMN webhook_url TEXT NOT NULL DEFAULT ''`},
		{"webhook_on_submit", `ALTER TABLE forms ADD COLUMN webhook_on_submit INTEGER NOT NULL DEFAULT 0`},
		{"webhook_on_delete", `ALTER TABLE forms ADD COLUMN webhook_on_delete INTEGER NOT NULL DEFAULT 0`},
		{"webhook_on_edit", `ALTER TABLE forms ADD COLUMN webhook_on_edit INTEGER NOT NULL DEFAULT 0`},
	}
	for _, add := range additions {
		if existing[add.column] {
			continue
		}
		if _, err := s.db.Exec(add.ddl); err != nil {
			return fmt.Errorf("add column %s: %w", add.column, err)
		}
	}
	return nil
}

func (s *SQLiteStore) Forms() FormRepo             { return sqliteForms{s.db} }
func (s *SQLiteStore) Submissions() SubmissionRepo { return sqliteSubmissions{s.db} }
func (s *SQLiteStore) Files() FileRepo             { return sqliteFiles{s.db} }

func (s *SQLiteStore) Close() error { return s.db.Close() }

// Timestamps are stored as RFC 3339 text in UTC so lexical order matches
// chronological order.
func encodeTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func decodeTime(raw string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}

type sqliteForms struct {
	db *sql.DB
}

const formColumns = `id, public_id, name, description, status, schema_json, field_order,
	webhook_url, webhook_on_submit, webhook_on_delete, webhook_on_edit, created_at, updated_at`

func scanForm(row interface{ Scan(...any) error }) (*Form, error) {
	var (
		f                    Form
		schemaJSON, orderRaw string
		createdAt, updatedAt string
	)
	err := row.Scan(&f.ID, &f.PublicID, &f.Name, &f.Description, &f.Status,
		&schemaJSON, &orderRaw,
		&f.WebhookURL, &f.WebhookOnSubmit, &f.WebhookOnDelete, &f.WebhookOnEdit,
		&createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(schemaJSON), &f.SchemaDoc); err != nil {
		return nil, fmt.Errorf("decode schema for form %s: %w", f.ID, err)
	}
	if err := json.Unmarshal([]byte(orderRaw), &f.FieldOrder); err != nil {
		return nil, fmt.Errorf("decode field order for form %s: %w", f.ID, err)
	}
	f.CreatedAt = decodeTime(createdAt)
	f.UpdatedAt = decodeTime(updatedAt)
	return &f, nil
}

func (r sqliteForms) ListForms() ([]Form, error) {
	rows, err := r.db.Query(`SELECT ` + formColumns + ` FROM forms ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list forms: %w", err)
	}
	defer rows.Close()

	var forms []Form
	for rows.Next() {
		form, err := scanForm(rows)
		if err != nil {
			return nil, fmt.Errorf("list forms: %w", err)
		}
		forms = append(forms, *form)
	}
	return forms, rows.Err()
}

func (r sqliteForms) GetForm(formID string) (*Form, error) {
	row := r.db.QueryRow(`SELECT `+formColumns+` FROM forms WHERE id = ?`, formID)
	form, err := scanForm(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get form %s: %w", formID, err)
	}
	return form, nil
}

func (r sqliteForms) GetFormByPublicID(publicID string) (*Form, error) {
	row := r.db.QueryRow(`SELECT `+formColumns+` FROM forms WHERE public_id = ?`, publicID)
	form, err := scanForm(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get form by public id %s: %w", publicID, err)
	}
	return form, nil
}

func encodeFormDocs(form *Form) (schemaJSON, orderJSON string, err error) {
	schemaBytes, err := json.Marshal(form.SchemaDoc)
	if err != nil {
		return "", "", fmt.Errorf("encode schema: %w", err)
	}
	order := form.FieldOrder
	if order == nil {
		order = []string{}
	}
	orderBytes, err := json.Marshal(order)
	if err != nil {
		return "", "", fmt.Errorf("encode field order: %w", err)
	}
	return string(schemaBytes), string(orderBytes), nil
}

func (r sqliteForms) CreateForm(form *Form) error {
	schemaJSON, orderJSON, err := encodeFormDocs(form)
	if err != nil {
		return err
	}
	_, err = r.db.Exec(`INSERT INTO forms (`+formColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		form.ID, form.PublicID, form.Name, form.Description, form.Status,
		schemaJSON, orderJSON,
		form.WebhookURL, form.WebhookOnSubmit, form.WebhookOnDelete, form.WebhookOnEdit,
		encodeTime(form.CreatedAt), encodeTime(form.UpdatedAt))
	if err != nil {
		return fmt.Errorf("create form: %w", err)
	}
	return nil
}

func (r sqliteForms) SaveForm(form *Form) error {
	schemaJSON, orderJSON, err := encodeFormDocs(form)
	if err != nil {
		return err
	}
	res, err := r.db.Exec(`UPDATE forms SET
		name = ?, description = ?, status = ?, schema_json = ?, field_order = ?,
		webhook_url = ?, webhook_on_submit = ?, webhook_on_delete = ?, webhook_on_edit = ?,
		updated_at = ?
		WHERE id = ?`,
		form.Name, form.Description, form.Status, schemaJSON, orderJSON,
		form.WebhookURL, form.WebhookOnSubmit, form.WebhookOnDelete, form.WebhookOnEdit,
		encodeTime(form.UpdatedAt), form.ID)
	if err != nil {
		return fmt.Errorf("save form %s: %w", form.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r sqliteForms) SetStatus(formID, status string) error {
	res, err := r.db.Exec(`UPDATE forms SET status = ?, updated_at = ? WHERE id = ?`,
		status, encodeTime(time.Now()), formID)
	if err != nil {
		return fmt.Errorf("set status for form %s: %w", formID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteForm removes the form and its submissions; file metadata stays so
// previously issued download links keep working.
func (r sqliteForms) DeleteForm(formID string) error {
	res, err := r.db.Exec(`DELETE FROM forms WHERE id = ?`, formID)
	if err != nil {
		return fmt.Errorf("delete form %s: %w", formID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	if _, err := r.db.Exec(`DELETE FROM submissions WHERE form_id = ?`, formID); err != nil {
		return fmt.Errorf("delete submissions for form %s: %w", formID, err)
	}
	return nil
}

type sqliteSubmissions struct {
	db *sql.DB
}

func scanSubmission(row interface{ Scan(...any) error }) (*Submission, error) {
	var (
		sub       Submission
		dataJSON  string
		createdAt string
		updatedAt sql.NullString
	)
	if err := row.Scan(&sub.ID, &sub.FormID, &dataJSON, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(dataJSON), &sub.Data); err != nil {
		return nil, fmt.Errorf("decode data for submission %s: %w", sub.ID, err)
	}
	sub.CreatedAt = decodeTime(createdAt)
	if updatedAt.Valid && updatedAt.String != "" {
		t := decodeTime(updatedAt.String)
		sub.UpdatedAt = &t
	}
	return &sub, nil
}

func (r sqliteSubmissions) ListSubmissions(formID string) ([]Submission, error) {
	rows, err := r.db.Query(`SELECT id, form_id, data_json, created_at, updated_at
		FROM submissions WHERE form_id = ? ORDER BY created_at DESC, id DESC`, formID)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	defer rows.Close()

	var subs []Submission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, fmt.Errorf("list submissions: %w", err)
		}
		subs = append(subs, *sub)
	}
	return subs, rows.Err()
}

func (r sqliteSubmissions) GetSubmission(submissionID string) (*Submission, error) {
	row := r.db.QueryRow(`SELECT id, form_id, data_json, created_at, updated_at
		FROM submissions WHERE id = ?`, submissionID)
	sub, err := scanSubmission(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get submission %s: %w", submissionID, err)
	}
	return sub, nil
}

func (r sqliteSubmissions) CreateSubmission(sub *Submission) error {
	dataJSON, err := json.Marshal(sub.Data)
	if err != nil {
		return fmt.Errorf("encode submission data: %w", err)
	}
	var updatedAt any
	if sub.UpdatedAt != nil {
		updatedAt = encodeTime(*sub.UpdatedAt)
	}
	_, err = r.db.Exec(`INSERT INTO submissions (id, form_id, data_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`,
		sub.ID, sub.FormID, string(dataJSON), encodeTime(sub.CreatedAt), updatedAt)
	if err != nil {
		return fmt.Errorf("create submission: %w", err)
	}
	return nil
}

func (r sqliteSubmissions) UpdateSubmission(submissionID string, data map[string]any, updatedAt time.Time) (*Submission, error) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode submission data: %w", err)
	}
	res, err := r.db.Exec(`UPDATE submissions SET data_json = ?, updated_at = ? WHERE id = ?`,
		string(dataJSON), encodeTime(updatedAt), submissionID)
	if err != nil {
		return nil, fmt.Errorf("update submission %s: %w", submissionID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}
	return r.GetSubmission(submissionID)
}

func (r sqliteSubmissions) DeleteSubmission(submissionID string) error {
	res, err := r.db.Exec(`DELETE FROM submissions WHERE id = ?`, submissionID)
	if err != nil {
		return fmt.Errorf("delete submission %s: %w", submissionID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type sqliteFiles struct {
	db *sql.DB
}

func (r sqliteFiles) CreateFile(meta *FileMeta) error {
	_, err := r.db.Exec(`INSERT INTO files (id, form_id, original_name, stored_path, content_type, size, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		meta.ID, meta.FormID, meta.OriginalName, meta.StoredPath, meta.ContentType, meta.Size,
		encodeTime(meta.CreatedAt))
	if err != nil {
		return fmt.Errorf("create file record: %w", err)
	}
	return nil
}

func (r sqliteFiles) GetFile(fileID string) (*FileMeta, error) {
	row := r.db.QueryRow(`SELECT id, form_id, original_name, stored_path, content_type, size, created_at
		FROM files WHERE id = ?`, fileID)
	var (
		meta      FileMeta
		createdAt string
	)
	err := row.Scan(&meta.ID, &meta.FormID, &meta.OriginalName, &meta.StoredPath,
		&meta.ContentType, &meta.Size, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get file %s: %w", fileID, err)
	}
	meta.CreatedAt = decodeTime(createdAt)
	return &meta, nil
}

var _ Storage = (*SQLiteStore)(nil)
