package config

import (
	"testing"

	"chatwiki/internal/failure"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("WIKI_API_URL", "https://wiki.example.org/api.php")
	t.Setenv("ANALYSIS_PROVIDER", "ollama")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "data/chatwiki.db", cfg.Database.SQLitePath)
	assert.Equal(t, 0.5, cfg.Analysis.ConfidenceThreshold)
	assert.Equal(t, 4, cfg.Pipeline.Workers)
	assert.Equal(t, 5, cfg.Pipeline.MaxTransientAttempts)
	assert.Equal(t, "info", cfg.Logger.Level)
}

func TestLoad_Overrides(t *testing.T) {
	setRequired(t)
	t.Setenv("PIPELINE_WORKERS", "9")
	t.Setenv("ANALYSIS_CONFIDENCE_THRESHOLD", "0.75")
	t.Setenv("PIPELINE_BACKOFF_BASE_MS", "10")
	t.Setenv("PIPELINE_BACKOFF_MAX_MS", "20")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9, cfg.Pipeline.Workers)
	assert.Equal(t, 0.75, cfg.Analysis.ConfidenceThreshold)
	assert.Equal(t, int64(10), cfg.Pipeline.BackoffBase.Milliseconds())
}

func TestLoad_InvalidConfigIsFatal(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"missing wiki url", map[string]string{"WIKI_API_URL": ""}},
		{"relative wiki url", map[string]string{"WIKI_API_URL": "wiki/api.php"}},
		{"unknown provider", map[string]string{"ANALYSIS_PROVIDER": "eliza"}},
		{"gigachat without key", map[string]string{"ANALYSIS_PROVIDER": "gigachat", "GIGACHAT_API_KEY": ""}},
		{"threshold out of range", map[string]string{"ANALYSIS_CONFIDENCE_THRESHOLD": "1.5"}},
		{"bad driver", map[string]string{"DB_DRIVER": "mysql"}},
		{"no workers", map[string]string{"PIPELINE_WORKERS": "0"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequired(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := Load()
			require.Error(t, err)
			assert.ErrorIs(t, err, failure.ErrInvalidConfig)
			assert.Equal(t, failure.KindFatal, failure.KindOf(err))
		})
	}
}
