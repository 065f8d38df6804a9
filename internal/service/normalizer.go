package service

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"chatwiki/internal/failure"
	"chatwiki/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MaxPayloadRunes caps the text handed to the analysis service.
const MaxPayloadRunes = 12000

// unitNamespace scopes name-based unit ids to this service.
var unitNamespace = uuid.MustParse("8f2b7c1e-4d3a-5b6c-9e0f-1a2b3c4d5e6f")

// Extractor reads text out of an attachment the transport downloaded.
type Extractor interface {
	ExtractText(ctx context.Context, att *models.Attachment, kind models.ContentKind) (string, error)
}

type Normalizer struct {
	extractor Extractor
	logger    *zap.Logger
}

// NewNormalizer creates a normalizer. extractor may be nil, in which case
// binary content is described by its caption, file name and upstream
// transcript only.
func NewNormalizer(extractor Extractor, logger *zap.Logger) *Normalizer {
	return &Normalizer{
		extractor: extractor,
		logger:    logger,
	}
}

// UnitID derives the stable unit id of a chat message. Redelivery of the
// same message always yields the same id.
func UnitID(chatRef, sourceID string) string {
	return uuid.NewSHA1(unitNamespace, []byte(chatRef+"/"+sourceID)).String()
}

// ContentKindOf maps a transport label to a content kind.
func ContentKindOf(raw models.RawMessage) (models.ContentKind, error) {
	switch strings.ToLower(strings.TrimSpace(raw.Kind)) {
	case "text", "message":
		return models.ContentKindText, nil
	case "photo", "image":
		return models.ContentKindImage, nil
	case "document", "file", "pdf":
		return models.ContentKindDocument, nil
	case "":
		if raw.Attachment == nil {
			return models.ContentKindText, nil
		}
		if strings.HasPrefix(strings.ToLower(raw.Attachment.MimeType), "image/") {
			return models.ContentKindImage, nil
		}
		return models.ContentKindDocument, nil
	default:
		return "", fmt.Errorf("%w: %q", failure.ErrUnsupportedContentKind, raw.Kind)
	}
}

// Normalize converts a raw message into an analyzable unit. Raw binary data
// is never kept; only captions, file names and extracted text end up in the
// payload.
func (n *Normalizer) Normalize(ctx context.Context, raw models.RawMessage) (*models.AnalyzableUnit, error) {
	if raw.SourceID == "" {
		return nil, fmt.Errorf("%w: message has no source id", failure.ErrInvalidMessage)
	}

	kind, err := ContentKindOf(raw)
	if err != nil {
		return nil, err
	}

	var payload string
	switch kind {
	case models.ContentKindText:
		payload = raw.Text
		if strings.TrimSpace(payload) == "" {
			payload = raw.Caption
		}
	default:
		payload = n.describeAttachment(ctx, raw, kind)
	}

	payload = truncateRunes(cleanText(payload), MaxPayloadRunes)
	if payload == "" {
		return nil, fmt.Errorf("message %s: %w", raw.SourceID, failure.ErrEmptyContent)
	}

	return &models.AnalyzableUnit{
		UnitID:    UnitID(raw.ChatRef, raw.SourceID),
		SourceID:  raw.SourceID,
		Kind:      kind,
		Payload:   payload,
		Timestamp: raw.Timestamp.UTC(),
		AuthorRef: raw.AuthorRef,
		ChatRef:   raw.ChatRef,
	}, nil
}

func (n *Normalizer) describeAttachment(ctx context.Context, raw models.RawMessage, kind models.ContentKind) string {
	var parts []string
	if c := strings.TrimSpace(raw.Caption); c != "" {
		parts = append(parts, c)
	} else if t := strings.TrimSpace(raw.Text); t != "" {
		parts = append(parts, t)
	}

	att := raw.Attachment
	if att == nil {
		return strings.Join(parts, "\n\n")
	}

	if att.FileName != "" {
		parts = append(parts, "File: "+filepath.Base(att.FileName))
	}

	text := strings.TrimSpace(att.Transcript)
	if text == "" && n.extractor != nil && att.LocalPath != "" {
		extracted, err := n.extractor.ExtractText(ctx, att, kind)
		if err != nil {
			n.logger.Warn("Attachment extraction failed, using metadata only",
				zap.String("source_id", raw.SourceID),
				zap.String("kind", string(kind)),
				zap.Error(err),
			)
		}
		text = strings.TrimSpace(extracted)
	}
	if text != "" {
		parts = append(parts, text)
	}

	return strings.Join(parts, "\n\n")
}
