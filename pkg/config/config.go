package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"chatwiki/internal/failure"

	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Auth     AuthConfig
	Analysis AnalysisConfig
	Wiki     WikiConfig
	Pipeline PipelineConfig
	Logger   LoggerConfig
}

type LoggerConfig struct {
	Level string
	File  string // optional extra output next to stderr
}

type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type DatabaseConfig struct {
	Driver     string // postgres or sqlite
	Host       string
	Port       string
	User       string
	Password   string
	DBName     string
	SSLMode    string
	SQLitePath string
}

type AuthConfig struct {
	SecretKey  string
	Expiration time.Duration
}

type AnalysisConfig struct {
	Provider            string // gigachat, gemini or ollama
	ConfidenceThreshold float64
	Timeout             time.Duration
	GigaChat            GigaChatConfig
	Gemini              GeminiConfig
	Ollama              OllamaConfig
}

type GigaChatConfig struct {
	APIKey             string
	Scope              string
	Model              string
	InsecureSkipVerify bool
	Vision             bool
}

type GeminiConfig struct {
	APIKey string
	Model  string
}

type OllamaConfig struct {
	URL   string
	Model string
}

type WikiConfig struct {
	APIURL        string
	Username      string
	Password      string
	UserAgent     string
	CreateSummary string
	UpdateSummary string
	Timeout       time.Duration
}

type PipelineConfig struct {
	Workers              int
	QueueSize            int
	MaxTransientAttempts int
	MaxConflictAttempts  int
	CommitAttempts       int
	BackoffBase          time.Duration
	BackoffMax           time.Duration
}

func Load() (*Config, error) {
	// .env is optional; plain environment variables work as well
	for _, envFile := range []string{".env", "../.env", "../../.env"} {
		if err := godotenv.Load(envFile); err == nil {
			break
		}
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:         getEnv("SERVER_PORT", "8080"),
			ReadTimeout:  getSeconds("SERVER_READ_TIMEOUT", 30),
			WriteTimeout: getSeconds("SERVER_WRITE_TIMEOUT", 30),
		},
		Database: DatabaseConfig{
			Driver:     getEnv("DB_DRIVER", "sqlite"),
			Host:       getEnv("DB_HOST", "localhost"),
			Port:       getEnv("DB_PORT", "5432"),
			User:       getEnv("DB_USER", "postgres"),
			Password:   getEnv("DB_PASSWORD", "postgres"),
			DBName:     getEnv("DB_NAME", "chatwiki"),
			SSLMode:    getEnv("DB_SSLMODE", "disable"),
			SQLitePath: getEnv("DB_SQLITE_PATH", "data/chatwiki.db"),
		},
		Auth: AuthConfig{
			SecretKey:  getEnv("JWT_SECRET_KEY", ""),
			Expiration: time.Duration(getInt("JWT_EXPIRATION_HOURS", 24)) * time.Hour,
		},
		Analysis: AnalysisConfig{
			Provider:            getEnv("ANALYSIS_PROVIDER", "ollama"),
			ConfidenceThreshold: getFloat("ANALYSIS_CONFIDENCE_THRESHOLD", 0.5),
			Timeout:             getSeconds("ANALYSIS_TIMEOUT", 120),
			GigaChat: GigaChatConfig{
				APIKey:             getEnv("GIGACHAT_API_KEY", ""),
				Scope:              getEnv("GIGACHAT_SCOPE", "GIGACHAT_API_PERS"),
				Model:              getEnv("GIGACHAT_MODEL", "GigaChat"),
				InsecureSkipVerify: getEnv("GIGACHAT_INSECURE_SKIP_VERIFY", "false") == "true",
				Vision:             getEnv("GIGACHAT_VISION", "true") == "true",
			},
			Gemini: GeminiConfig{
				APIKey: getEnv("GEMINI_API_KEY", ""),
				Model:  getEnv("GEMINI_MODEL", "gemini-2.5-flash"),
			},
			Ollama: OllamaConfig{
				URL:   getEnv("OLLAMA_URL", "http://localhost:11434"),
				Model: getEnv("OLLAMA_MODEL", "llama3"),
			},
		},
		Wiki: WikiConfig{
			APIURL:        getEnv("WIKI_API_URL", ""),
			Username:      getEnv("WIKI_USERNAME", ""),
			Password:      getEnv("WIKI_PASSWORD", ""),
			UserAgent:     getEnv("WIKI_USER_AGENT", "chatwiki/1.0"),
			CreateSummary: getEnv("WIKI_CREATE_SUMMARY", "Page created from chat"),
			UpdateSummary: getEnv("WIKI_UPDATE_SUMMARY", "Page updated from chat"),
			Timeout:       getSeconds("WIKI_TIMEOUT", 30),
		},
		Pipeline: PipelineConfig{
			Workers:              getInt("PIPELINE_WORKERS", 4),
			QueueSize:            getInt("PIPELINE_QUEUE_SIZE", 256),
			MaxTransientAttempts: getInt("PIPELINE_MAX_TRANSIENT_ATTEMPTS", 5),
			MaxConflictAttempts:  getInt("PIPELINE_MAX_CONFLICT_ATTEMPTS", 3),
			CommitAttempts:       getInt("PIPELINE_COMMIT_ATTEMPTS", 5),
			BackoffBase:          getMillis("PIPELINE_BACKOFF_BASE_MS", 500),
			BackoffMax:           getMillis("PIPELINE_BACKOFF_MAX_MS", 30000),
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
			File:  getEnv("LOG_FILE", ""),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks settings that would otherwise fail deep inside the
// pipeline. Every error wraps failure.ErrInvalidConfig.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return invalid("DB_DRIVER", "must be postgres or sqlite, got %q", c.Database.Driver)
	}

	switch c.Analysis.Provider {
	case "gigachat":
		if c.Analysis.GigaChat.APIKey == "" {
			return invalid("GIGACHAT_API_KEY", "required for the gigachat provider")
		}
	case "gemini":
		if c.Analysis.Gemini.APIKey == "" {
			return invalid("GEMINI_API_KEY", "required for the gemini provider")
		}
	case "ollama":
		if c.Analysis.Ollama.URL == "" || c.Analysis.Ollama.Model == "" {
			return invalid("OLLAMA_URL", "url and model are required for the ollama provider")
		}
	default:
		return invalid("ANALYSIS_PROVIDER", "unknown provider %q", c.Analysis.Provider)
	}

	if t := c.Analysis.ConfidenceThreshold; t < 0 || t > 1 {
		return invalid("ANALYSIS_CONFIDENCE_THRESHOLD", "must be within [0,1], got %v", t)
	}

	if c.Wiki.APIURL == "" {
		return invalid("WIKI_API_URL", "required")
	}
	if u, err := url.Parse(c.Wiki.APIURL); err != nil || u.Scheme == "" || u.Host == "" {
		return invalid("WIKI_API_URL", "must be an absolute URL, got %q", c.Wiki.APIURL)
	}

	if c.Pipeline.Workers < 1 {
		return invalid("PIPELINE_WORKERS", "must be positive")
	}
	if c.Pipeline.MaxTransientAttempts < 1 || c.Pipeline.MaxConflictAttempts < 1 || c.Pipeline.CommitAttempts < 1 {
		return invalid("PIPELINE_*_ATTEMPTS", "attempt limits must be positive")
	}
	if c.Pipeline.BackoffMax < c.Pipeline.BackoffBase {
		return invalid("PIPELINE_BACKOFF_MAX_MS", "must not be lower than the base backoff")
	}

	return nil
}

func invalid(key, format string, args ...any) error {
	return fmt.Errorf("%s: %s: %w", key, fmt.Sprintf(format, args...), failure.ErrInvalidConfig)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	v, err := strconv.Atoi(getEnv(key, ""))
	if err != nil {
		return defaultValue
	}
	return v
}

func getFloat(key string, defaultValue float64) float64 {
	v, err := strconv.ParseFloat(getEnv(key, ""), 64)
	if err != nil {
		return defaultValue
	}
	return v
}

func getSeconds(key string, defaultValue int) time.Duration {
	return time.Duration(getInt(key, defaultValue)) * time.Second
}

func getMillis(key string, defaultValue int) time.Duration {
	return time.Duration(getInt(key, defaultValue)) * time.Millisecond
}
