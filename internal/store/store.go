// Package store persists forms, submissions, and uploaded-file metadata
// behind a backend-neutral interface. Two backends exist: SQLite (default)
// and a flat-file JSON document store.
package store

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a form, submission, or file does not exist.
var ErrNotFound = errors.New("not found")

// Form statuses. Only active forms accept submissions.
const (
	StatusActive   = "active"
	StatusInactive = "inactive"
)

// Form is a stored form definition. SchemaDoc is the compiled JSON-Schema
// document; FieldOrder preserves the builder's property order.
type Form struct {
	ID              string
	PublicID        string
	Name            string
	Description     string
	Status          string
	SchemaDoc       map[string]any
	FieldOrder      []string
	WebhookURL      string
	WebhookOnSubmit bool
	WebhookOnDelete bool
	WebhookOnEdit   bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Submission is one collected response. Data is the nested answer map.
type Submission struct {
	ID        string
	FormID    string
	Data      map[string]any
	CreatedAt time.Time
	UpdatedAt *time.Time
}

// FileMeta describes one uploaded file; the bytes live on disk at
// StoredPath.
type FileMeta struct {
	ID           string
	FormID       string
	OriginalName string
	StoredPath   string
	ContentType  string
	Size         int64
	CreatedAt    time.Time
}

// FormRepo provides form CRUD. ListForms orders by updated_at descending.
type FormRepo interface {
	ListForms() ([]Form, error)
	GetForm(formID string) (*Form, error)
	GetFormByPublicID(publicID string) (*Form, error)
	CreateForm(form *Form) error
	SaveForm(form *Form) error
	SetStatus(formID, status string) error
	DeleteForm(formID string) error
}

// SubmissionRepo provides submission CRUD. ListSubmissions orders by
// created_at descending.
type SubmissionRepo interface {
	ListSubmissions(formID string) ([]Submission, error)
	GetSubmission(submissionID string) (*Submission, error)
	CreateSubmission(sub *Submission) error
	UpdateSubmission(submissionID string, data map[string]any, updatedAt time.Time) (*Submission, error)
	DeleteSubmission(submissionID string) error
}

// FileRepo records uploaded-file metadata.
type FileRepo interface {
	CreateFile(meta *FileMeta) error
	GetFile(fileID string) (*FileMeta, error)
}

// Storage aggregates the three repositories of one backend.
type Storage interface {
	Forms() FormRepo
	Submissions() SubmissionRepo
	Files() FileRepo
	Close() error
}
