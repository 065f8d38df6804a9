package main

import (
	"fmt"
	"os"

	"chatwiki/pkg/config"
	"chatwiki/pkg/logger"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

//go:generate swag init --dir ../../ --generalInfo cmd/chatwiki/main.go --output ../../docs --outputTypes go

// @title chatwiki API
// @version 1.0
// @description Ingest chat messages and inspect the knowledge they were folded into.
// @BasePath /

// @securityDefinitions.apikey Bearer
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.

var rootCmd = &cobra.Command{
	Use:   "chatwiki",
	Short: "Incremental chat-to-wiki knowledge synthesis",
	Long: `chatwiki turns chat messages into MediaWiki articles.

Every message is analyzed for the topic it is about and folded into the
page that accumulates that topic: new topics get a new page, known topics
get an update section. Redelivered messages never produce duplicate content.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(serveCmd, backfillCmd, deadLettersCmd, tokenCmd)
}

// setup loads the configuration and initializes the global logger.
func setup() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := logger.Init(cfg.Logger); err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, logger.Get(), nil
}

func main() {
	defer logger.Sync()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		logger.Sync()
		os.Exit(1)
	}
}
