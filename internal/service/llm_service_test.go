package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"chatwiki/pkg/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// newGigaChatServer fakes the OAuth, files and completions endpoints. The
// first issued token is already expired for uploads.
func newGigaChatServer(t *testing.T, answer string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var tokens atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("/oauth", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Basic secret", r.Header.Get("Authorization"))
		assert.NotEmpty(t, r.Header.Get("RqUID"))
		n := tokens.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]any{"access_token": fmt.Sprintf("t%d", n), "expires_at": 0})
	})
	mux.HandleFunc("/files", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer t2" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		assert.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "general", r.FormValue("purpose"))
		_, hdr, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			return
		}
		assert.Equal(t, "map.png", hdr.Filename)
		assert.Equal(t, "image/png", hdr.Header.Get("Content-Type"))
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "file-1"})
	})
	mux.HandleFunc("/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Model    string `json:"model"`
			Messages []struct {
				Attachments [][]string `json:"attachments"`
			} `json:"messages"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "GigaChat-Pro", body.Model)
		assert.Equal(t, [][]string{{"file-1"}}, body.Messages[0].Attachments)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]string{"content": answer}}},
		})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &tokens
}

func newTestLLMService(srv *httptest.Server, vision bool) *LLMService {
	return &LLMService{
		config:     &config.GigaChatConfig{APIKey: "secret", Scope: "GIGACHAT_API_PERS", Model: "GigaChat-Pro", Vision: vision},
		logger:     zap.NewNop(),
		httpClient: srv.Client(),
		baseURL:    srv.URL,
		oauthURL:   srv.URL + "/oauth",
	}
}

func TestLLMService_DescribeImage(t *testing.T) {
	srv, tokens := newGigaChatServer(t, "  A map of the 2024 eclipse path.  ")
	svc := newTestLLMService(srv, true)

	text, err := svc.DescribeImage(context.Background(), writeTempFile(t, "map.png", "\x89PNG"))
	require.NoError(t, err)
	assert.Equal(t, "A map of the 2024 eclipse path.", text)
	assert.Equal(t, int32(2), tokens.Load(), "expired token is refreshed once")
}

func TestLLMService_DescribeImageRefusal(t *testing.T) {
	srv, _ := newGigaChatServer(t, "I'm sorry, I cannot process images like this.")
	svc := newTestLLMService(srv, true)

	_, err := svc.DescribeImage(context.Background(), writeTempFile(t, "map.png", "\x89PNG"))
	assert.Error(t, err)
}

func TestLLMService_VisionDisabled(t *testing.T) {
	srv, tokens := newGigaChatServer(t, "unused")
	svc := newTestLLMService(srv, false)

	_, err := svc.DescribeImage(context.Background(), writeTempFile(t, "map.png", "\x89PNG"))
	assert.Error(t, err)
	assert.Zero(t, tokens.Load())
}
