package models

import "time"

type ContentKind string

const (
	ContentKindText     ContentKind = "text"
	ContentKindImage    ContentKind = "image"
	ContentKindDocument ContentKind = "document"
)

// Attachment references binary content held by the chat transport. The
// pipeline never keeps the bytes, only what can be read out of them.
type Attachment struct {
	FileName   string `json:"file_name,omitempty"`
	MimeType   string `json:"mime_type,omitempty"`
	LocalPath  string `json:"local_path,omitempty"`
	Transcript string `json:"transcript,omitempty"` // OCR or transcript supplied upstream
}

// RawMessage is a chat message as delivered by the transport (at least once).
type RawMessage struct {
	SourceID   string      `json:"source_id"`
	ChatRef    string      `json:"chat_ref"`
	AuthorRef  string      `json:"author_ref"`
	Kind       string      `json:"kind,omitempty"`
	Text       string      `json:"text,omitempty"`
	Caption    string      `json:"caption,omitempty"`
	Attachment *Attachment `json:"attachment,omitempty"`
	Timestamp  time.Time   `json:"timestamp"`
}

type AnalyzableUnit struct {
	UnitID    string      `db:"unit_id"`
	SourceID  string      `db:"source_id"`
	Kind      ContentKind `db:"kind"`
	Payload   string      `db:"payload"`
	Timestamp time.Time   `db:"timestamp"`
	AuthorRef string      `db:"author_ref"`
	ChatRef   string      `db:"chat_ref"`
}
