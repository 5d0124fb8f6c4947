package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

// JSONStore keeps all records in one JSON document on disk. Writes rewrite
// the whole file through a temp file and rename, guarded by a process
// mutex and a cross-process file lock.
type JSONStore struct {
	path string
	mu   sync.Mutex
	lock *flock.Flock
}

type jsonDocument struct {
	Forms       []jsonForm       `json:"forms"`
	Submissions []jsonSubmission `json:"submissions"`
	Files       []jsonFile       `json:"files"`
}

type jsonForm struct {
	ID              string         `json:"id"`
	PublicID        string         `json:"public_id"`
	Name            string         `json:"name"`
	Description     string         `json:"description"`
	Status          string         `json:"status"`
	SchemaDoc       map[string]any `json:"schema"`
	FieldOrder      []string       `json:"field_order"`
	WebhookURL      string         `json:"webhook_url,omitempty"`
	WebhookOnSubmit bool           `json:"webhook_on_submit,omitempty"`
	WebhookOnDelete bool           `json:"webhook_on_delete,omitempty"`
	WebhookOnEdit   bool           `json:"webhook_on_edit,omitempty"`
	CreatedAt       string         `json:"created_at"`
	UpdatedAt       string         `json:"updated_at"`
}

type jsonSubmission struct {
	ID        string         `json:"id"`
	FormID    string         `json:"form_id"`
	Data      map[string]any `json:"data"`
	CreatedAt string         `json:"created_at"`
	UpdatedAt string         `json:"updated_at,omitempty"`
}

type jsonFile struct {
	ID           string `json:"id"`
	FormID       string `json:"form_id"`
	OriginalName string `json:"original_name"`
	StoredPath   string `json:"stored_path"`
	ContentType  string `json:"content_type"`
	Size         int64  `json:"size"`
	CreatedAt    string `json:"created_at"`
}

// NewJSONStore opens (creating if needed) the document at path.
func NewJSONStore(path string) (*JSONStore, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}
	s := &JSONStore{
		path: path,
		lock: flock.New(path + ".lock"),
	}
	// Touch the document so first reads don't special-case a missing file.
	err := s.update(func(doc *jsonDocument) error { return nil })
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (s *JSONStore) Forms() FormRepo             { return jsonForms{s} }
func (s *JSONStore) Submissions() SubmissionRepo { return jsonSubmissions{s} }
func (s *JSONStore) Files() FileRepo             { return jsonFiles{s} }

func (s *JSONStore) Close() error { return nil }

func (s *JSONStore) load() (*jsonDocument, error) {
	doc := &jsonDocument{}
	raw, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return doc, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read store file: %w", err)
	}
	if len(raw) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(raw, doc); err != nil {
		return nil, fmt.Errorf("decode store file: %w", err)
	}
	return doc, nil
}

func (s *JSONStore) view(fn func(doc *jsonDocument) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.lock.RLock(); err != nil {
		return fmt.Errorf("lock store file: %w", err)
	}
	defer s.lock.Unlock()

	doc, err := s.load()
	if err != nil {
		return err
	}
	return fn(doc)
}

func (s *JSONStore) update(fn func(doc *jsonDocument) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("lock store file: %w", err)
	}
	defer s.lock.Unlock()

	doc, err := s.load()
	if err != nil {
		return err
	}
	if err := fn(doc); err != nil {
		return err
	}

	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode store file: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write store file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace store file: %w", err)
	}
	return nil
}

func toJSONForm(form *Form) jsonForm {
	order := form.FieldOrder
	if order == nil {
		order = []string{}
	}
	return jsonForm{
		ID:              form.ID,
		PublicID:        form.PublicID,
		Name:            form.Name,
		Description:     form.Description,
		Status:          form.Status,
		SchemaDoc:       form.SchemaDoc,
		FieldOrder:      order,
		WebhookURL:      form.WebhookURL,
		WebhookOnSubmit: form.WebhookOnSubmit,
		WebhookOnDelete: form.WebhookOnDelete,
		WebhookOnEdit:   form.WebhookOnEdit,
		CreatedAt:       encodeTime(form.CreatedAt),
		UpdatedAt:       encodeTime(form.UpdatedAt),
	}
}

func fromJSONForm(rec jsonForm) Form {
	return Form{
		ID:              rec.ID,
		PublicID:        rec.PublicID,
		Name:            rec.Name,
		Description:     rec.Description,
		Status:          rec.Status,
		SchemaDoc:       rec.SchemaDoc,
		FieldOrder:      rec.FieldOrder,
		WebhookURL:      rec.WebhookURL,
		WebhookOnSubmit: rec.WebhookOnSubmit,
		WebhookOnDelete: rec.WebhookOnDelete,
		WebhookOnEdit:   rec.WebhookOnEdit,
		CreatedAt:       decodeTime(rec.CreatedAt),
		UpdatedAt:       decodeTime(rec.UpdatedAt),
	}
}

type jsonForms struct {
	s *JSONStore
}

func (r jsonForms) ListForms() ([]Form, error) {
	var forms []Form
	err := r.s.view(func(doc *jsonDocument) error {
		for _, rec := range doc.Forms {
			forms = append(forms, fromJSONForm(rec))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(forms, func(i, j int) bool {
		return forms[i].UpdatedAt.After(forms[j].UpdatedAt)
	})
	return forms, nil
}

func (r jsonForms) GetForm(formID string) (*Form, error) {
	var found *Form
	err := r.s.view(func(doc *jsonDocument) error {
		for _, rec := range doc.Forms {
			if rec.ID == formID {
				form := fromJSONForm(rec)
				found = &form
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, ErrNotFound
	}
	return found, nil
}

func (r jsonForms) GetFormByPublicID(publicID string) (*Form, error) {
	var found *Form
	err := r.s.view(func(doc *jsonDocument) error {
		for _, rec := range doc.Forms {
			if rec.PublicID == publicID {
				form := fromJSONForm(rec)
				found = &form
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, ErrNotFound
	}
	return found, nil
}

func (r jsonForms) CreateForm(form *Form) error {
	return r.s.update(func(doc *jsonDocument) error {
		doc.Forms = append(doc.Forms, toJSONForm(form))
		return nil
	})
}

func (r jsonForms) SaveForm(form *Form) error {
	return r.s.update(func(doc *jsonDocument) error {
		for i, rec := range doc.Forms {
			if rec.ID == form.ID {
				updated := toJSONForm(form)
				updated.PublicID = rec.PublicID
				updated.CreatedAt = rec.CreatedAt
				doc.Forms[i] = updated
				return nil
			}
		}
		return ErrNotFound
	})
}

func (r jsonForms) SetStatus(formID, status string) error {
	return r.s.update(func(doc *jsonDocument) error {
		for i, rec := range doc.Forms {
			if rec.ID == formID {
				doc.Forms[i].Status = status
				doc.Forms[i].UpdatedAt = encodeTime(time.Now())
				return nil
			}
		}
		return ErrNotFound
	})
}

func (r jsonForms) DeleteForm(formID string) error {
	return r.s.update(func(doc *jsonDocument) error {
		idx := -1
		for i, rec := range doc.Forms {
			if rec.ID == formID {
				idx = i
				break
			}
		}
		if idx < 0 {
			return ErrNotFound
		}
		doc.Forms = append(doc.Forms[:idx], doc.Forms[idx+1:]...)
		kept := doc.Submissions[:0]
		for _, sub := range doc.Submissions {
			if sub.FormID != formID {
				kept = append(kept, sub)
			}
		}
		doc.Submissions = kept
		return nil
	})
}

type jsonSubmissions struct {
	s *JSONStore
}

func fromJSONSubmission(rec jsonSubmission) Submission {
	sub := Submission{
		ID:        rec.ID,
		FormID:    rec.FormID,
		Data:      rec.Data,
		CreatedAt: decodeTime(rec.CreatedAt),
	}
	if rec.UpdatedAt != "" {
		t := decodeTime(rec.UpdatedAt)
		sub.UpdatedAt = &t
	}
	return sub
}

func (r jsonSubmissions) ListSubmissions(formID string) ([]Submission, error) {
	var subs []Submission
	err := r.s.view(func(doc *jsonDocument) error {
		for _, rec := range doc.Submissions {
			if rec.FormID == formID {
				subs = append(subs, fromJSONSubmission(rec))
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(subs, func(i, j int) bool {
		if subs[i].CreatedAt.Equal(subs[j].CreatedAt) {
			return subs[i].ID > subs[j].ID
		}
		return subs[i].CreatedAt.After(subs[j].CreatedAt)
	})
	return subs, nil
}

func (r jsonSubmissions) GetSubmission(submissionID string) (*Submission, error) {
	var found *Submission
	err := r.s.view(func(doc *jsonDocument) error {
		for _, rec := range doc.Submissions {
			if rec.ID == submissionID {
				sub := fromJSONSubmission(rec)
				found = &sub
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, ErrNotFound
	}
	return found, nil
}

func (r jsonSubmissions) CreateSubmission(sub *Submission) error {
	return r.s.update(func(doc *jsonDocument) error {
		rec := jsonSubmission{
			ID:        sub.ID,
			FormID:    sub.FormID,
			Data:      sub.Data,
			CreatedAt: encodeTime(sub.CreatedAt),
		}
		if sub.UpdatedAt != nil {
			rec.UpdatedAt = encodeTime(*sub.UpdatedAt)
		}
		doc.Submissions = append(doc.Submissions, rec)
		return nil
	})
}

func (r jsonSubmissions) UpdateSubmission(submissionID string, data map[string]any, updatedAt time.Time) (*Submission, error) {
	var updated *Submission
	err := r.s.update(func(doc *jsonDocument) error {
		for i, rec := range doc.Submissions {
			if rec.ID == submissionID {
				doc.Submissions[i].Data = data
				doc.Submissions[i].UpdatedAt = encodeTime(updatedAt)
				sub := fromJSONSubmission(doc.Submissions[i])
				updated = &sub
				return nil
			}
		}
		return ErrNotFound
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (r jsonSubmissions) DeleteSubmission(submissionID string) error {
	return r.s.update(func(doc *jsonDocument) error {
		for i, rec := range doc.Submissions {
			if rec.ID == submissionID {
				doc.Submissions = append(doc.Submissions[:i], doc.Submissions[i+1:]...)
				return nil
			}
		}
		return ErrNotFound
	})
}

type jsonFiles struct {
	s *JSONStore
}

func (r jsonFiles) CreateFile(meta *FileMeta) error {
	return r.s.update(func(doc *jsonDocument) error {
		doc.Files = append(doc.Files, jsonFile{
			ID:           meta.ID,
			FormID:       meta.FormID,
			OriginalName: meta.OriginalName,
			StoredPath:   meta.StoredPath,
			ContentType:  meta.ContentType,
			Size:         meta.Size,
			CreatedAt:    encodeTime(meta.CreatedAt),
		})
		return nil
	})
}

func (r jsonFiles) GetFile(fileID string) (*FileMeta, error) {
	var found *FileMeta
	err := r.s.view(func(doc *jsonDocument) error {
		for _, rec := range doc.Files {
			if rec.ID == fileID {
				found = &FileMeta{
					ID:           rec.ID,
					FormID:       rec.FormID,
					OriginalName: rec.OriginalName,
					StoredPath:   rec.StoredPath,
					ContentType:  rec.ContentType,
					Size:         rec.Size,
					CreatedAt:    decodeTime(rec.CreatedAt),
				}
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, ErrNotFound
	}
	return found, nil
}

var _ Storage = (*JSONStore)(nil)
