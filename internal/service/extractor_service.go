package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"chatwiki/internal/models"

	"github.com/gen2brain/go-fitz"
	"go.uber.org/zap"
)

// maxPlainTextBytes bounds how much of a plain-text attachment is read.
const maxPlainTextBytes = 256 << 10

var errNoDescriber = errors.New("no image describer configured")

// ImageDescriber turns an image file into a textual description.
type ImageDescriber interface {
	DescribeImage(ctx context.Context, imagePath string) (string, error)
}

// ExtractorService pulls text out of chat attachments.
// PDF: go-fitz text extraction. Plain text: read directly.
// Images: delegated to a vision-capable describer.
type ExtractorService struct {
	describer ImageDescriber
	logger    *zap.Logger
}

func NewExtractorService(describer ImageDescriber, logger *zap.Logger) *ExtractorService {
	return &ExtractorService{
		describer: describer,
		logger:    logger,
	}
}

func (s *ExtractorService) ExtractText(ctx context.Context, att *models.Attachment, kind models.ContentKind) (string, error) {
	if att == nil || att.LocalPath == "" {
		return "", fmt.Errorf("attachment has no local file")
	}

	ext := strings.ToLower(filepath.Ext(att.LocalPath))
	if ext == "" {
		ext = strings.ToLower(filepath.Ext(att.FileName))
	}
	mimeType := strings.ToLower(att.MimeType)

	var (
		text   string
		err    error
		method string
	)
	switch {
	case kind == models.ContentKindImage:
		if s.describer == nil {
			return "", errNoDescriber
		}
		method = "vision"
		text, err = s.describer.DescribeImage(ctx, att.LocalPath)
	case ext == ".pdf" || mimeType == "application/pdf":
		method = "go-fitz"
		text, err = s.extractTextFromPDF(att.LocalPath)
	case strings.HasPrefix(mimeType, "text/") || ext == ".txt" || ext == ".md" || ext == ".csv":
		method = "plain"
		text, err = readPlainText(att.LocalPath)
	default:
		return "", fmt.Errorf("unsupported attachment format: %q (%s)", ext, att.MimeType)
	}
	if err != nil {
		return "", fmt.Errorf("failed to extract text with %s: %w", method, err)
	}

	text = strings.TrimSpace(text)
	s.logger.Info("Attachment text extracted",
		zap.String("file", att.LocalPath),
		zap.String("kind", string(kind)),
		zap.String("method", method),
		zap.Int("text_length", len(text)),
	)

	if text == "" {
		return "", fmt.Errorf("no text extracted from %s", filepath.Base(att.LocalPath))
	}
	return text, nil
}

// extractTextFromPDF extracts text from PDF using go-fitz library
func (s *ExtractorService) extractTextFromPDF(pdfPath string) (string, error) {
	doc, err := fitz.New(pdfPath)
	if err != nil {
		return "", fmt.Errorf("failed to open PDF: %w", err)
	}
	defer doc.Close()

	var textBuilder strings.Builder
	for i := 0; i < doc.NumPage(); i++ {
		pageText, err := doc.Text(i)
		if err != nil {
			s.logger.Warn("Failed to extract text from page",
				zap.Int("page", i+1),
				zap.String("file", pdfPath),
				zap.Error(err),
			)
			continue
		}

		if pageText != "" {
			textBuilder.WriteString(pageText)
			textBuilder.WriteString("\n")
		}
		if textBuilder.Len() > MaxPayloadRunes*4 {
			break
		}
	}

	return textBuilder.String(), nil
}

func readPlainText(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxPlainTextBytes))
	if err != nil {
		return "", err
	}
	return sanitizeUTF8(string(data)), nil
}
