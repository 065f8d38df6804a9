package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"chatwiki/internal/api/handlers"
	"chatwiki/internal/models"
	"chatwiki/internal/repository"
	"chatwiki/internal/service"
	"chatwiki/pkg/auth"
	"chatwiki/pkg/config"
	"chatwiki/pkg/sqlite"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type testServer struct {
	app         *fiber.App
	token       string
	queue       *service.IngestQueue
	index       *repository.KnowledgeRepository
	outcomes    *repository.OutcomeRepository
	deadLetters *repository.DeadLetterRepository
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	db, err := sqlite.Open(filepath.Join(t.TempDir(), "state.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, repository.Migrate(context.Background(), db))

	log := zap.NewNop()
	s := &testServer{
		queue:       service.NewIngestQueue(4),
		index:       repository.NewKnowledgeRepository(db, repository.DialectSQLite, log),
		outcomes:    repository.NewOutcomeRepository(db, repository.DialectSQLite, log),
		deadLetters: repository.NewDeadLetterRepository(db, repository.DialectSQLite, log),
	}

	jwtManager := auth.NewJWTManager("test-secret", time.Hour)
	s.token, err = jwtManager.GenerateToken("bridge")
	require.NoError(t, err)

	s.app = SetupRouter(Handlers{
		Messages:    handlers.NewMessageHandler(s.queue, log),
		Knowledge:   handlers.NewKnowledgeHandler(s.index, s.outcomes, s.queue, log),
		DeadLetters: handlers.NewDeadLetterHandler(s.deadLetters, s.queue, log),
		Health:      handlers.NewHealthHandler(db, s.queue, log),
	}, &config.ServerConfig{ReadTimeout: 5 * time.Second, WriteTimeout: 5 * time.Second}, jwtManager, log)
	return s
}

func (s *testServer) do(t *testing.T, method, path, body string) (int, map[string]any) {
	t.Helper()

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.token)

	resp, err := s.app.Test(req, 5000)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(data) > 0 {
		require.NoError(t, json.Unmarshal(data, &out), string(data))
	}
	return resp.StatusCode, out
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)

	resp, err := s.app.Test(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestSwaggerDoc(t *testing.T) {
	s := newTestServer(t)

	status, doc := s.do(t, http.MethodGet, "/swagger/doc.json", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "2.0", doc["swagger"])

	info, ok := doc["info"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "chatwiki API", info["title"])

	paths, ok := doc["paths"].(map[string]any)
	require.True(t, ok)
	for _, route := range []string{
		"/health",
		"/api/v1/messages",
		"/api/v1/entries/{topic}",
		"/api/v1/units/{unit_id}",
		"/api/v1/stats",
		"/api/v1/dead-letters",
		"/api/v1/dead-letters/{id}/retry",
	} {
		assert.Contains(t, paths, route)
	}
}

func TestMessages_RequireToken(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/messages", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Zero(t, s.queue.Len())
}

func TestMessages_Enqueue(t *testing.T) {
	s := newTestServer(t)

	status, body := s.do(t, http.MethodPost, "/api/v1/messages",
		`{"source_id":"42","chat_ref":"astro","author_ref":"alice","text":"Total eclipse today"}`)
	assert.Equal(t, http.StatusAccepted, status)
	assert.Equal(t, service.UnitID("astro", "42"), body["unit_id"])
	assert.Equal(t, 1, s.queue.Len())

	tests := []struct {
		name string
		body string
	}{
		{"malformed", `{"source_id":`},
		{"missing source", `{"chat_ref":"astro","text":"x"}`},
		{"missing chat", `{"source_id":"1","text":"x"}`},
		{"no content", `{"source_id":"1","chat_ref":"astro"}`},
		{"unsupported kind", `{"source_id":"1","chat_ref":"astro","kind":"sticker","caption":"x"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := s.do(t, http.MethodPost, "/api/v1/messages", tt.body)
			assert.Equal(t, http.StatusBadRequest, status)
			assert.NotEmpty(t, body["error"])
		})
	}
	assert.Equal(t, 1, s.queue.Len())

	s.queue.Close()
	status, _ = s.do(t, http.MethodPost, "/api/v1/messages", `{"source_id":"43","chat_ref":"astro","text":"x"}`)
	assert.Equal(t, http.StatusServiceUnavailable, status)
}

func TestEntries_Get(t *testing.T) {
	s := newTestServer(t)
	_, err := s.index.Commit(context.Background(), models.EntryUpdate{
		TopicKey:    "solar eclipse 2024",
		PageTitle:   "Solar Eclipse 2024",
		NewRevision: "1001",
		Categories:  []string{"Astronomy"},
		Fingerprint: "fp-1",
		UnitID:      "u-1",
	})
	require.NoError(t, err)

	status, body := s.do(t, http.MethodGet, "/api/v1/entries/Solar%20Eclipse,%202024", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Solar Eclipse 2024", body["page_title"])
	assert.Equal(t, "1001", body["page_revision_id"])
	assert.EqualValues(t, 1, body["contributions"])

	status, _ = s.do(t, http.MethodGet, "/api/v1/entries/mercury", "")
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = s.do(t, http.MethodGet, "/api/v1/entries/%3F%21", "")
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestUnits_GetAndStats(t *testing.T) {
	s := newTestServer(t)
	unitID := service.UnitID("astro", "42")

	status, _ := s.do(t, http.MethodGet, "/api/v1/units/"+unitID, "")
	assert.Equal(t, http.StatusNotFound, status)

	require.NoError(t, s.outcomes.Record(context.Background(), &models.UnitOutcome{
		UnitID: unitID, SourceID: "42", ChatRef: "astro", Status: models.OutcomePublished, PageTitle: "Solar Eclipse 2024",
	}))

	status, body := s.do(t, http.MethodGet, "/api/v1/units/"+unitID, "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "published", body["status"])

	status, body = s.do(t, http.MethodGet, "/api/v1/stats", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, map[string]any{"published": float64(1)}, body["outcomes"])
}

func TestDeadLetters_ListAndRetry(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	dl := &models.DeadLetter{
		UnitID:   service.UnitID("astro", "42"),
		SourceID: "42",
		ChatRef:  "astro",
		Kind:     "transient",
		Stage:    "publish",
		Reason:   "wiki service unavailable",
		Attempts: 5,
		Message:  models.RawMessage{SourceID: "42", ChatRef: "astro", Text: "Total eclipse today"},
	}
	require.NoError(t, s.deadLetters.Park(ctx, dl))

	status, body := s.do(t, http.MethodGet, "/api/v1/dead-letters?limit=10", "")
	assert.Equal(t, http.StatusOK, status)
	items := body["items"].([]any)
	require.Len(t, items, 1)
	assert.Equal(t, dl.ID.String(), items[0].(map[string]any)["id"])

	status, body = s.do(t, http.MethodPost, "/api/v1/dead-letters/"+dl.ID.String()+"/retry", "")
	assert.Equal(t, http.StatusAccepted, status)
	assert.Equal(t, dl.UnitID, body["unit_id"])
	assert.Equal(t, 1, s.queue.Len())

	status, body = s.do(t, http.MethodGet, "/api/v1/dead-letters", "")
	assert.Equal(t, http.StatusOK, status)
	assert.Empty(t, body["items"])

	status, _ = s.do(t, http.MethodPost, "/api/v1/dead-letters/"+dl.ID.String()+"/retry", "")
	assert.Equal(t, http.StatusConflict, status)

	status, _ = s.do(t, http.MethodPost, "/api/v1/dead-letters/"+uuid.NewString()+"/retry", "")
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = s.do(t, http.MethodPost, "/api/v1/dead-letters/not-a-uuid/retry", "")
	assert.Equal(t, http.StatusBadRequest, status)
}
