// Package webhook notifies external endpoints about submission events.
// Deliveries are best effort: failures are logged, never surfaced to the
// submitter.
package webhook

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"formsmith/internal/store"
)

// Events a form can subscribe to.
const (
	EventSubmit = "submission.created"
	EventEdit   = "submission.updated"
	EventDelete = "submission.deleted"
)

const deliveryTimeout = 10 * time.Second

// Sender posts event payloads to form webhook URLs.
type Sender struct {
	client *http.Client
	logger *zap.Logger
}

func NewSender(logger *zap.Logger) *Sender {
	return &Sender{
		client: &http.Client{Timeout: deliveryTimeout},
		logger: logger,
	}
}

type payload struct {
	Event        string         `json:"event"`
	FormID       string         `json:"form_id"`
	FormName     string         `json:"form_name"`
	FormPublicID string         `json:"form_public_id"`
	SubmissionID string         `json:"submission_id,omitempty"`
	Data         map[string]any `json:"data,omitempty"`
	CreatedAt    string         `json:"created_at,omitempty"`
}

// Send posts the event to the form's webhook URL. Returns whether the
// endpoint acknowledged with a 2xx.
func (s *Sender) Send(event string, form *store.Form, sub *store.Submission) bool {
	if form == nil || form.WebhookURL == "" {
		return false
	}

	body := payload{
		Event:        event,
		FormID:       form.ID,
		FormName:     form.Name,
		FormPublicID: form.PublicID,
	}
	if sub != nil {
		body.SubmissionID = sub.ID
		body.Data = sub.Data
		if !sub.CreatedAt.IsZero() {
			body.CreatedAt = sub.CreatedAt.UTC().Format(time.RFC3339Nano)
		}
	}

	raw, err := json.Marshal(body)
	if err != nil {
		s.logger.Error("webhook payload encoding failed",
			zap.String("event", event), zap.String("url", form.WebhookURL), zap.Error(err))
		return false
	}

	resp, err := s.client.Post(form.WebhookURL, "application/json", bytes.NewReader(raw))
	if err != nil {
		s.logger.Warn("webhook delivery failed",
			zap.String("event", event), zap.String("url", form.WebhookURL), zap.Error(err))
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		s.logger.Warn("webhook rejected",
			zap.String("event", event), zap.String("url", form.WebhookURL),
			zap.Int("status", resp.StatusCode))
		return false
	}
	s.logger.Info("webhook sent",
		zap.String("event", event), zap.String("url", form.WebhookURL))
	return true
}

// ShouldSend reports whether the form opted into the event.
func ShouldSend(form *store.Form, event string) bool {
	if form == nil || form.WebhookURL == "" {
		return false
	}
	switch event {
	case EventSubmit:
		return form.WebhookOnSubmit
	case EventEdit:
		return form.WebhookOnEdit
	case EventDelete:
		return form.WebhookOnDelete
	}
	return false
}

// IsValidURL accepts absolute http(s) URLs with a host.
func IsValidURL(raw string) bool {
	if raw == "" {
		return false
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	return u.Host != ""
}
