package dto

import (
	"errors"
	"strings"
	"time"

	"chatwiki/internal/models"
)

type AttachmentRequest struct {
	FileName   string `json:"file_name"`
	MimeType   string `json:"mime_type"`
	LocalPath  string `json:"local_path"`
	Transcript string `json:"transcript"`
}

// EnqueueMessageRequest is a chat message pushed by a transport bridge.
type EnqueueMessageRequest struct {
	SourceID   string             `json:"source_id"`
	ChatRef    string             `json:"chat_ref"`
	AuthorRef  string             `json:"author_ref"`
	Kind       string             `json:"kind"`
	Text       string             `json:"text"`
	Caption    string             `json:"caption"`
	Attachment *AttachmentRequest `json:"attachment"`
	Timestamp  time.Time          `json:"timestamp"`
}

func (r *EnqueueMessageRequest) Validate() error {
	if strings.TrimSpace(r.SourceID) == "" {
		return errors.New("source_id is required")
	}
	if strings.TrimSpace(r.ChatRef) == "" {
		return errors.New("chat_ref is required")
	}
	if strings.TrimSpace(r.Text) == "" && strings.TrimSpace(r.Caption) == "" && r.Attachment == nil {
		return errors.New("text, caption or attachment is required")
	}
	return nil
}

func (r *EnqueueMessageRequest) ToRawMessage() models.RawMessage {
	raw := models.RawMessage{
		SourceID:  strings.TrimSpace(r.SourceID),
		ChatRef:   strings.TrimSpace(r.ChatRef),
		AuthorRef: r.AuthorRef,
		Kind:      r.Kind,
		Text:      r.Text,
		Caption:   r.Caption,
		Timestamp: r.Timestamp,
	}
	if raw.Timestamp.IsZero() {
		raw.Timestamp = time.Now().UTC()
	}
	if a := r.Attachment; a != nil {
		raw.Attachment = &models.Attachment{
			FileName:   a.FileName,
			MimeType:   a.MimeType,
			LocalPath:  a.LocalPath,
			Transcript: a.Transcript,
		}
	}
	return raw
}

type EnqueueMessageResponse struct {
	UnitID string `json:"unit_id"`
}
