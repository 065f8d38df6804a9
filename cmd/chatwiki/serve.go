package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chatwiki/internal/api"
	"chatwiki/internal/api/handlers"
	"chatwiki/internal/failure"
	"chatwiki/internal/service"
	"chatwiki/pkg/auth"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const (
	shutdownTimeout = 10 * time.Second
	drainTimeout    = 30 * time.Second
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Accept chat messages over HTTP and fold them into the wiki",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, appLogger, err := setup()
	if err != nil {
		return err
	}
	if cfg.Auth.SecretKey == "" {
		return fmt.Errorf("JWT_SECRET_KEY is required to serve: %w", failure.ErrInvalidConfig)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := newApplication(ctx, cfg, appLogger)
	if err != nil {
		return err
	}
	defer app.Close()

	pipeline, err := app.buildPipeline(ctx)
	if err != nil {
		return err
	}

	queue := service.NewIngestQueue(cfg.Pipeline.QueueSize)
	jwtManager := auth.NewJWTManager(cfg.Auth.SecretKey, cfg.Auth.Expiration)

	router := api.SetupRouter(api.Handlers{
		Messages:    handlers.NewMessageHandler(queue, appLogger),
		Knowledge:   handlers.NewKnowledgeHandler(app.index, app.outcomes, queue, appLogger),
		DeadLetters: handlers.NewDeadLetterHandler(app.deadLetters, queue, appLogger),
		Health:      handlers.NewHealthHandler(app.db, queue, appLogger),
	}, &cfg.Server, jwtManager, appLogger)

	// The pipeline outlives the signal so queued messages can drain.
	pipelineCtx, cancelPipeline := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelPipeline()

	pipelineDone := make(chan error, 1)
	go func() {
		pipelineDone <- pipeline.Run(pipelineCtx, queue)
	}()

	serverErr := make(chan error, 1)
	go func() {
		appLogger.Info("Starting server", zap.String("port", cfg.Server.Port))
		serverErr <- router.Listen(":" + cfg.Server.Port)
	}()

	select {
	case <-ctx.Done():
		appLogger.Info("Shutting down")
	case err := <-serverErr:
		if err != nil {
			appLogger.Error("Server stopped", zap.Error(err))
		}
	case err := <-pipelineDone:
		_ = router.ShutdownWithTimeout(shutdownTimeout)
		return err
	}

	if err := router.ShutdownWithTimeout(shutdownTimeout); err != nil {
		appLogger.Error("Failed to shut down server", zap.Error(err))
	}
	queue.Close()

	select {
	case err := <-pipelineDone:
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
	case <-time.After(drainTimeout):
		appLogger.Warn("Queue did not drain in time, abandoning queued messages",
			zap.Int("queued", queue.Len()),
		)
		cancelPipeline()
		<-pipelineDone
	}

	appLogger.Info("Server stopped")
	return nil
}
