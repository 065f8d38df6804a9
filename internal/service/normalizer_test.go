package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"chatwiki/internal/failure"
	"chatwiki/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type extractorFunc func(ctx context.Context, att *models.Attachment, kind models.ContentKind) (string, error)

func (f extractorFunc) ExtractText(ctx context.Context, att *models.Attachment, kind models.ContentKind) (string, error) {
	return f(ctx, att, kind)
}

func TestNormalizer_Text(t *testing.T) {
	n := NewNormalizer(nil, zap.NewNop())
	ts := time.Date(2024, 4, 8, 18, 0, 0, 0, time.FixedZone("MSK", 3*3600))

	unit, err := n.Normalize(context.Background(), models.RawMessage{
		SourceID: "42", ChatRef: "-100", AuthorRef: "7", Kind: "text",
		Text: "  Total eclipse today\r\nvisible in Texas  ", Timestamp: ts,
	})
	require.NoError(t, err)

	assert.Equal(t, models.ContentKindText, unit.Kind)
	assert.Equal(t, "Total eclipse today\nvisible in Texas", unit.Payload)
	assert.Equal(t, UnitID("-100", "42"), unit.UnitID)
	assert.Equal(t, time.UTC, unit.Timestamp.Location())
	assert.True(t, ts.Equal(unit.Timestamp))
}

func TestUnitID_StableAndScoped(t *testing.T) {
	assert.Equal(t, UnitID("chat", "1"), UnitID("chat", "1"))
	assert.NotEqual(t, UnitID("chat", "1"), UnitID("chat", "2"))
	assert.NotEqual(t, UnitID("chat-a", "1"), UnitID("chat-b", "1"))
}

func TestNormalizer_ImageWithTranscript(t *testing.T) {
	n := NewNormalizer(extractorFunc(func(context.Context, *models.Attachment, models.ContentKind) (string, error) {
		t.Fatal("extractor must not run when a transcript is present")
		return "", nil
	}), zap.NewNop())

	unit, err := n.Normalize(context.Background(), models.RawMessage{
		SourceID: "1", ChatRef: "c", Kind: "photo", Caption: "Eclipse photo",
		Attachment: &models.Attachment{FileName: "/tmp/dl/IMG_1.jpg", MimeType: "image/jpeg", LocalPath: "/tmp/dl/IMG_1.jpg", Transcript: "corona visible"},
	})
	require.NoError(t, err)

	assert.Equal(t, models.ContentKindImage, unit.Kind)
	assert.Equal(t, "Eclipse photo\n\nFile: IMG_1.jpg\n\ncorona visible", unit.Payload)
}

func TestNormalizer_DocumentUsesExtractor(t *testing.T) {
	var gotKind models.ContentKind
	n := NewNormalizer(extractorFunc(func(_ context.Context, att *models.Attachment, kind models.ContentKind) (string, error) {
		gotKind = kind
		return "Quarterly report text", nil
	}), zap.NewNop())

	unit, err := n.Normalize(context.Background(), models.RawMessage{
		SourceID: "2", ChatRef: "c",
		Attachment: &models.Attachment{FileName: "report.pdf", MimeType: "application/pdf", LocalPath: "/tmp/report.pdf"},
	})
	require.NoError(t, err)

	assert.Equal(t, models.ContentKindDocument, gotKind)
	assert.Equal(t, "File: report.pdf\n\nQuarterly report text", unit.Payload)
}

func TestNormalizer_ExtractionFailureFallsBackToMetadata(t *testing.T) {
	n := NewNormalizer(extractorFunc(func(context.Context, *models.Attachment, models.ContentKind) (string, error) {
		return "", errors.New("vision unavailable")
	}), zap.NewNop())

	unit, err := n.Normalize(context.Background(), models.RawMessage{
		SourceID: "3", ChatRef: "c", Kind: "image",
		Attachment: &models.Attachment{FileName: "map.png", LocalPath: "/tmp/map.png"},
	})
	require.NoError(t, err)
	assert.Equal(t, "File: map.png", unit.Payload)
}

func TestNormalizer_Failures(t *testing.T) {
	n := NewNormalizer(nil, zap.NewNop())

	_, err := n.Normalize(context.Background(), models.RawMessage{SourceID: "4", Kind: "sticker"})
	assert.ErrorIs(t, err, failure.ErrUnsupportedContentKind)

	_, err = n.Normalize(context.Background(), models.RawMessage{SourceID: "5", Kind: "text", Text: " \n "})
	assert.ErrorIs(t, err, failure.ErrEmptyContent)
	assert.Equal(t, failure.KindContent, failure.KindOf(err))

	_, err = n.Normalize(context.Background(), models.RawMessage{Kind: "text", Text: "no id"})
	assert.ErrorIs(t, err, failure.ErrInvalidMessage)
	assert.NotErrorIs(t, err, failure.ErrUnsupportedContentKind)
	assert.Equal(t, failure.KindContent, failure.KindOf(err))
}

func TestNormalizer_CapsPayload(t *testing.T) {
	n := NewNormalizer(nil, zap.NewNop())

	unit, err := n.Normalize(context.Background(), models.RawMessage{
		SourceID: "6", Text: strings.Repeat("я", MaxPayloadRunes+100),
	})
	require.NoError(t, err)
	assert.Equal(t, MaxPayloadRunes, len([]rune(unit.Payload)))
}

func TestContentKindOf(t *testing.T) {
	tests := []struct {
		raw  models.RawMessage
		want models.ContentKind
	}{
		{models.RawMessage{Kind: "message"}, models.ContentKindText},
		{models.RawMessage{Kind: "Photo"}, models.ContentKindImage},
		{models.RawMessage{Kind: "file"}, models.ContentKindDocument},
		{models.RawMessage{}, models.ContentKindText},
		{models.RawMessage{Attachment: &models.Attachment{MimeType: "image/png"}}, models.ContentKindImage},
		{models.RawMessage{Attachment: &models.Attachment{MimeType: "application/zip"}}, models.ContentKindDocument},
	}
	for _, tt := range tests {
		got, err := ContentKindOf(tt.raw)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}
