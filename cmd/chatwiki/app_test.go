package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"chatwiki/internal/failure"
	"chatwiki/internal/repository"
	"chatwiki/pkg/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestOpenStore_SQLite(t *testing.T) {
	cfg := &config.DatabaseConfig{
		Driver:     "sqlite",
		SQLitePath: filepath.Join(t.TempDir(), "state", "chatwiki.db"),
	}

	db, dialect, closeFn, err := openStore(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer closeFn()

	assert.Equal(t, repository.DialectSQLite, dialect)
	require.NoError(t, repository.Migrate(context.Background(), db))
	require.NoError(t, db.PingContext(context.Background()))
}

func TestOpenStore_UnknownDriver(t *testing.T) {
	_, _, _, err := openStore(context.Background(), &config.DatabaseConfig{Driver: "mysql"}, zap.NewNop())
	assert.ErrorIs(t, err, failure.ErrInvalidConfig)
}

func TestNewApplication_MigratesStore(t *testing.T) {
	cfg := &config.Config{
		Database: config.DatabaseConfig{Driver: "sqlite", SQLitePath: filepath.Join(t.TempDir(), "chatwiki.db")},
	}

	app, err := newApplication(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer app.Close()

	entry, err := app.index.Lookup(context.Background(), "solar eclipse")
	require.NoError(t, err)
	assert.Nil(t, entry)

	counts, err := app.outcomes.CountByStatus(context.Background())
	require.NoError(t, err)
	assert.Empty(t, counts)
}

func TestNewAnalysisBackend_Ollama(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/tags", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"models":[{"name":"llama3:latest","model":"llama3:latest"}]}`))
	}))
	defer srv.Close()

	cfg := &config.AnalysisConfig{
		Provider: "ollama",
		Timeout:  time.Second,
		Ollama:   config.OllamaConfig{URL: srv.URL, Model: "llama3"},
	}

	gen, describer, closeFn, err := newAnalysisBackend(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer closeFn()

	assert.NotNil(t, gen)
	assert.Nil(t, describer)
}

func TestNewAnalysisBackend_OllamaMissingModel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"models":[{"name":"mistral:latest"}]}`))
	}))
	defer srv.Close()

	cfg := &config.AnalysisConfig{
		Provider: "ollama",
		Timeout:  time.Second,
		Ollama:   config.OllamaConfig{URL: srv.URL, Model: "llama3"},
	}

	_, _, _, err := newAnalysisBackend(context.Background(), cfg, zap.NewNop())
	assert.ErrorIs(t, err, failure.ErrInvalidConfig)
}

func TestNewAnalysisBackend_UnknownProvider(t *testing.T) {
	_, _, _, err := newAnalysisBackend(context.Background(), &config.AnalysisConfig{Provider: "eliza"}, zap.NewNop())
	assert.ErrorIs(t, err, failure.ErrInvalidConfig)
}
