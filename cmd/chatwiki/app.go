package main

import (
	"context"
	"database/sql"
	"fmt"

	"chatwiki/internal/failure"
	"chatwiki/internal/repository"
	"chatwiki/internal/service"
	"chatwiki/pkg/config"
	"chatwiki/pkg/mediawiki"
	"chatwiki/pkg/postgres"
	"chatwiki/pkg/sqlite"

	"go.uber.org/zap"
)

// application holds the state store and, once built, the pipeline.
type application struct {
	cfg         *config.Config
	logger      *zap.Logger
	db          *sql.DB
	index       *repository.KnowledgeRepository
	outcomes    *repository.OutcomeRepository
	deadLetters *repository.DeadLetterRepository
	closers     []func()
}

func newApplication(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*application, error) {
	db, dialect, closeDB, err := openStore(ctx, &cfg.Database, logger)
	if err != nil {
		return nil, err
	}

	app := &application{
		cfg:         cfg,
		logger:      logger,
		db:          db,
		index:       repository.NewKnowledgeRepository(db, dialect, logger),
		outcomes:    repository.NewOutcomeRepository(db, dialect, logger),
		deadLetters: repository.NewDeadLetterRepository(db, dialect, logger),
		closers:     []func(){closeDB},
	}

	if err := repository.Migrate(ctx, db); err != nil {
		app.Close()
		return nil, err
	}
	return app, nil
}

// Close releases resources in reverse order of acquisition.
func (a *application) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// buildPipeline connects the analysis backend and the wiki.
func (a *application) buildPipeline(ctx context.Context) (*service.PipelineService, error) {
	generator, describer, closeBackend, err := newAnalysisBackend(ctx, &a.cfg.Analysis, a.logger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, closeBackend)

	wiki := mediawiki.New(mediawiki.Config{
		APIURL:    a.cfg.Wiki.APIURL,
		Username:  a.cfg.Wiki.Username,
		Password:  a.cfg.Wiki.Password,
		UserAgent: a.cfg.Wiki.UserAgent,
		Timeout:   a.cfg.Wiki.Timeout,
	}, a.logger)
	if err := wiki.Login(ctx); err != nil {
		return nil, fmt.Errorf("failed to log in to wiki: %w", err)
	}

	return service.NewPipelineService(service.PipelineDeps{
		Normalizer:  service.NewNormalizer(service.NewExtractorService(describer, a.logger), a.logger),
		Analyzer:    service.NewAnalysisService(generator, a.cfg.Analysis.Timeout, a.logger),
		Synthesizer: service.NewSynthesisService(a.cfg.Analysis.ConfidenceThreshold),
		Publisher:   service.NewWikiService(wiki, &a.cfg.Wiki, a.logger),
		Index:       a.index,
		Outcomes:    a.outcomes,
		DeadLetters: a.deadLetters,
	}, &a.cfg.Pipeline, a.logger), nil
}

func openStore(ctx context.Context, cfg *config.DatabaseConfig, logger *zap.Logger) (*sql.DB, repository.Dialect, func(), error) {
	switch cfg.Driver {
	case "postgres":
		db, closeFn, err := postgres.OpenDB(ctx, cfg, logger)
		if err != nil {
			return nil, "", nil, err
		}
		return db, repository.DialectPostgres, closeFn, nil
	case "sqlite":
		db, err := sqlite.Open(cfg.SQLitePath, logger)
		if err != nil {
			return nil, "", nil, err
		}
		return db, repository.DialectSQLite, func() { _ = db.Close() }, nil
	default:
		return nil, "", nil, fmt.Errorf("unknown database driver %q: %w", cfg.Driver, failure.ErrInvalidConfig)
	}
}

// newAnalysisBackend returns the configured text-analysis backend and, when
// it can see images, an image describer.
func newAnalysisBackend(ctx context.Context, cfg *config.AnalysisConfig, logger *zap.Logger) (service.Generator, service.ImageDescriber, func(), error) {
	switch cfg.Provider {
	case "gigachat":
		llm, err := service.NewLLMService(&cfg.GigaChat, logger)
		if err != nil {
			return nil, nil, nil, err
		}
		closeFn := func() { _ = llm.Close() }
		if !cfg.GigaChat.Vision {
			return llm, nil, closeFn, nil
		}
		return llm, llm, closeFn, nil
	case "gemini":
		genAI, err := service.NewGenAIService(ctx, &cfg.Gemini, logger)
		if err != nil {
			return nil, nil, nil, err
		}
		return genAI, nil, func() {}, nil
	case "ollama":
		ollama := service.NewOllamaService(&cfg.Ollama, cfg.Timeout, logger)
		if err := ollama.Ping(ctx); err != nil {
			return nil, nil, nil, err
		}
		return ollama, nil, func() {}, nil
	default:
		return nil, nil, nil, fmt.Errorf("unknown analysis provider %q: %w", cfg.Provider, failure.ErrInvalidConfig)
	}
}
