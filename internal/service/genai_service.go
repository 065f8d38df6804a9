package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"chatwiki/internal/failure"
	"chatwiki/pkg/config"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

// GenAIService generates analyses with Google's Gemini API.
type GenAIService struct {
	client *genai.Client
	model  string
	logger *zap.Logger
}

func NewGenAIService(ctx context.Context, cfg *config.GeminiConfig, logger *zap.Logger) (*GenAIService, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("GenAI API key is required")
	}

	model := cfg.Model
	if model == "" {
		model = "gemini-2.5-flash"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	logger.Info("Using Gemini model", zap.String("model", model))
	return &GenAIService{
		client: client,
		model:  model,
		logger: logger,
	}, nil
}

// Generate implements Generator. The response is requested as JSON.
func (s *GenAIService) Generate(ctx context.Context, system, prompt string) (string, error) {
	temperature := float32(0.2)
	contents := []*genai.Content{
		genai.NewContentFromText(prompt, genai.RoleUser),
	}

	resp, err := s.client.Models.GenerateContent(ctx, s.model, contents, &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(system, genai.RoleUser),
		ResponseMIMEType:  "application/json",
		Temperature:       &temperature,
	})
	if err != nil {
		return "", classifyGenAIError(err)
	}

	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("%w: empty response from Gemini", failure.ErrAnalysisRejected)
	}
	return text, nil
}

func classifyGenAIError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusBadRequest:
			return fmt.Errorf("%w: GenAI request refused: %w", failure.ErrAnalysisRejected, err)
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("%w: GenAI credentials: %w", failure.ErrPermissionDenied, err)
		}
	}
	return fmt.Errorf("%w: GenAI generate failed: %w", failure.ErrAnalysisUnavailable, err)
}
