package service

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"chatwiki/internal/failure"
	"chatwiki/pkg/config"

	"github.com/Role1776/gigago"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	gigaChatBaseURL  = "https://gigachat.devices.sberbank.ru/api/v1"
	gigaChatOAuthURL = "https://ngw.devices.sberbank.ru:9443/api/v2/oauth"
)

const describeImagePrompt = `Describe this image for a knowledge base.
Write out any text that is visible on it, then describe in 1-3 sentences what it shows.
Return only the description, without comments.`

// LLMService talks to GigaChat: text generation through gigago, image
// description through the files and chat completions REST endpoints.
type LLMService struct {
	client     *gigago.Client
	config     *config.GigaChatConfig
	logger     *zap.Logger
	httpClient *http.Client
	baseURL    string
	oauthURL   string

	mu          sync.Mutex
	accessToken string // cached for file uploads
}

func NewLLMService(cfg *config.GigaChatConfig, logger *zap.Logger) (*LLMService, error) {
	ctx := context.Background()

	opts := []gigago.Option{
		gigago.WithCustomScope(cfg.Scope),
	}
	if cfg.InsecureSkipVerify {
		opts = append(opts, gigago.WithCustomInsecureSkipVerify(true))
		logger.Warn("GigaChat TLS certificate verification is disabled")
	}

	client, err := gigago.NewClient(ctx, cfg.APIKey, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GigaChat client: %w", err)
	}

	httpClient := &http.Client{}
	if cfg.InsecureSkipVerify {
		httpClient.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}

	logger.Info("Using GigaChat model", zap.String("model", cfg.Model), zap.Bool("vision", cfg.Vision))

	return &LLMService{
		client:     client,
		config:     cfg,
		logger:     logger,
		httpClient: httpClient,
		baseURL:    gigaChatBaseURL,
		oauthURL:   gigaChatOAuthURL,
	}, nil
}

// Generate implements Generator.
func (s *LLMService) Generate(ctx context.Context, system, prompt string) (string, error) {
	model := s.client.GenerativeModel(s.config.Model)
	model.SystemInstruction = system
	model.Temperature = 0.2

	messages := []gigago.Message{
		{Role: gigago.RoleUser, Content: prompt},
	}

	resp, err := model.Generate(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("%w: failed to generate response: %w", failure.ErrAnalysisUnavailable, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: no response from GigaChat", failure.ErrAnalysisUnavailable)
	}

	return resp.Choices[0].Message.Content, nil
}

// DescribeImage implements ImageDescriber through GigaChat vision.
func (s *LLMService) DescribeImage(ctx context.Context, imagePath string) (string, error) {
	if !s.config.Vision {
		return "", fmt.Errorf("GigaChat vision is disabled")
	}

	file, err := os.Open(imagePath)
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	fileID, err := s.UploadFile(ctx, file, filepath.Base(imagePath))
	if err != nil {
		return "", fmt.Errorf("failed to upload file: %w", err)
	}

	return s.completeWithAttachment(ctx, fileID, describeImagePrompt)
}

func (s *LLMService) token(ctx context.Context, refresh bool) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.accessToken != "" && !refresh {
		return s.accessToken, nil
	}

	token, err := s.fetchAccessToken(ctx)
	if err != nil {
		return "", err
	}
	s.accessToken = token
	return token, nil
}

// fetchAccessToken obtains an access token from GigaChat OAuth endpoint.
// The API key is expected to be Base64-encoded already.
func (s *LLMService) fetchAccessToken(ctx context.Context) (string, error) {
	rqUID := uuid.New().String()

	formData := url.Values{}
	formData.Set("scope", s.config.Scope)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.oauthURL, strings.NewReader(formData.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to create OAuth request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("RqUID", rqUID)
	req.Header.Set("Authorization", "Basic "+s.config.APIKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to get access token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		s.logger.Error("OAuth request failed",
			zap.Int("status", resp.StatusCode),
			zap.String("response", string(bodyBytes)),
			zap.String("rq_uid", rqUID),
		)
		return "", fmt.Errorf("OAuth failed with status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var oauthResp struct {
		AccessToken string `json:"access_token"`
		ExpiresAt   int64  `json:"expires_at"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&oauthResp); err != nil {
		return "", fmt.Errorf("failed to decode OAuth response: %w", err)
	}
	if oauthResp.AccessToken == "" {
		return "", fmt.Errorf("empty access token in OAuth response")
	}

	s.logger.Info("Access token obtained")
	return oauthResp.AccessToken, nil
}

// UploadFile uploads a file to GigaChat and returns the file id.
// A 401 refreshes the cached token and retries once.
func (s *LLMService) UploadFile(ctx context.Context, fileReader io.Reader, fileName string) (string, error) {
	data, err := io.ReadAll(fileReader)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}

	for attempt := 0; attempt < 2; attempt++ {
		token, err := s.token(ctx, attempt > 0)
		if err != nil {
			return "", err
		}

		body, contentType, err := multipartFile(data, fileName)
		if err != nil {
			return "", err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/files", body)
		if err != nil {
			return "", fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", contentType)
		req.Header.Set("Authorization", "Bearer "+token)

		resp, err := s.httpClient.Do(req)
		if err != nil {
			return "", fmt.Errorf("failed to upload file: %w", err)
		}
		bodyBytes, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusUnauthorized && attempt == 0:
			s.logger.Info("GigaChat token expired, refreshing")
			continue
		case resp.StatusCode == http.StatusRequestEntityTooLarge:
			return "", fmt.Errorf("file too large (413): %s", string(bodyBytes))
		case resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated:
			return "", fmt.Errorf("upload failed with status %d: %s", resp.StatusCode, string(bodyBytes))
		}

		var uploadResp struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(bodyBytes, &uploadResp); err != nil {
			return "", fmt.Errorf("failed to decode response: %w", err)
		}

		s.logger.Info("File uploaded to GigaChat", zap.String("file_id", uploadResp.ID))
		return uploadResp.ID, nil
	}

	return "", fmt.Errorf("upload failed: unauthorized after token refresh")
}

func multipartFile(data []byte, fileName string) (*bytes.Buffer, string, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	// "general" lets the uploaded file be attached to chat completions
	if err := writer.WriteField("purpose", "general"); err != nil {
		return nil, "", fmt.Errorf("failed to write purpose field: %w", err)
	}

	mimeType := mime.TypeByExtension(strings.ToLower(filepath.Ext(fileName)))
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	part, err := writer.CreatePart(map[string][]string{
		"Content-Type":        {mimeType},
		"Content-Disposition": {fmt.Sprintf(`form-data; name="file"; filename="%s"`, fileName)},
	})
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, "", fmt.Errorf("failed to copy file: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close writer: %w", err)
	}

	return &body, writer.FormDataContentType(), nil
}

// completeWithAttachment runs a chat completion with an uploaded file
// attached. Attachments are sent as [["file_id"]].
func (s *LLMService) completeWithAttachment(ctx context.Context, fileID, prompt string) (string, error) {
	token, err := s.token(ctx, false)
	if err != nil {
		return "", err
	}

	requestBody := map[string]interface{}{
		"model": s.config.Model,
		"messages": []map[string]interface{}{
			{
				"role":        "user",
				"content":     prompt,
				"attachments": [][]string{{fileID}},
			},
		},
		"temperature": 0.3,
		"stream":      false,
	}

	jsonData, err := json.Marshal(requestBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/chat/completions", bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("vision API failed with status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var visionResp struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&visionResp); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}
	if len(visionResp.Choices) == 0 {
		return "", fmt.Errorf("no response from Vision API")
	}

	text := strings.TrimSpace(visionResp.Choices[0].Message.Content)

	lower := strings.ToLower(text)
	for _, phrase := range refusalPhrases {
		if strings.Contains(lower, phrase) {
			s.logger.Warn("Vision model returned a refusal instead of a description",
				zap.String("file_id", fileID),
				zap.String("message", text),
			)
			return "", fmt.Errorf("model returned error message: %s", text)
		}
	}

	s.logger.Info("Image described via GigaChat Vision",
		zap.String("file_id", fileID),
		zap.Int("text_length", len(text)),
	)
	return text, nil
}

func (s *LLMService) Close() error {
	if s.client != nil {
		s.client.Close()
	}
	return nil
}
