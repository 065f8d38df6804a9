package service

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"chatwiki/internal/failure"
	"chatwiki/pkg/config"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// OllamaService generates analyses with a local Ollama server.
type OllamaService struct {
	client *resty.Client
	model  string
	logger *zap.Logger
}

func NewOllamaService(cfg *config.OllamaConfig, timeout time.Duration, logger *zap.Logger) *OllamaService {
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.URL, "/")).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")

	return &OllamaService{
		client: client,
		model:  cfg.Model,
		logger: logger,
	}
}

type ollamaGenerateRequest struct {
	Model  string `json:"model"`
	System string `json:"system,omitempty"`
	Prompt string `json:"prompt"`
	Format string `json:"format,omitempty"`
	Stream bool   `json:"stream"`
}

type ollamaGenerateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

type ollamaErrorResponse struct {
	Error string `json:"error"`
}

// Ping checks that the server is reachable and serves the configured model.
func (s *OllamaService) Ping(ctx context.Context) error {
	var tags struct {
		Models []struct {
			Name  string `json:"name"`
			Model string `json:"model"`
		} `json:"models"`
	}

	resp, err := s.client.R().
		SetContext(ctx).
		SetResult(&tags).
		Get("/api/tags")
	if err != nil {
		return fmt.Errorf("failed to list Ollama models: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("failed to list Ollama models: status %d", resp.StatusCode())
	}

	for _, m := range tags.Models {
		if m.Name == s.model || m.Model == s.model || strings.TrimSuffix(m.Name, ":latest") == s.model {
			s.logger.Info("Ollama model available", zap.String("model", s.model))
			return nil
		}
	}
	return fmt.Errorf("model %s not found on Ollama server: %w", s.model, failure.ErrInvalidConfig)
}

// Generate implements Generator.
func (s *OllamaService) Generate(ctx context.Context, system, prompt string) (string, error) {
	var (
		out    ollamaGenerateResponse
		errOut ollamaErrorResponse
	)

	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(ollamaGenerateRequest{
			Model:  s.model,
			System: system,
			Prompt: prompt,
			Format: "json",
			Stream: false,
		}).
		SetResult(&out).
		SetError(&errOut).
		Post("/api/generate")
	if err != nil {
		return "", fmt.Errorf("%w: ollama request failed: %w", failure.ErrAnalysisUnavailable, err)
	}

	switch {
	case resp.StatusCode() == http.StatusTooManyRequests || resp.StatusCode() >= 500:
		return "", fmt.Errorf("%w: ollama status %d: %s", failure.ErrAnalysisUnavailable, resp.StatusCode(), errOut.Error)
	case resp.StatusCode() == http.StatusNotFound:
		return "", fmt.Errorf("ollama model %s: %s: %w", s.model, errOut.Error, failure.ErrInvalidConfig)
	case resp.IsError():
		return "", fmt.Errorf("%w: ollama status %d: %s", failure.ErrAnalysisRejected, resp.StatusCode(), errOut.Error)
	}

	s.logger.Debug("Ollama response received",
		zap.Int("length", len(out.Response)),
		zap.Duration("took", resp.Time()),
	)
	return out.Response, nil
}
