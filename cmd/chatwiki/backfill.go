package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"chatwiki/internal/models"
	"chatwiki/internal/service"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var backfillBatchSize int

var backfillCmd = &cobra.Command{
	Use:   "backfill <export.jsonl>",
	Short: "Fold an exported chat history into the wiki",
	Long: `Reads one JSON message per line and processes the export in batches.
Messages that were already processed are skipped, so an interrupted
backfill can simply be run again.`,
	Args: cobra.ExactArgs(1),
	RunE: runBackfill,
}

func init() {
	backfillCmd.Flags().IntVar(&backfillBatchSize, "batch-size", 100, "messages processed per batch")
}

func runBackfill(cmd *cobra.Command, args []string) error {
	cfg, appLogger, err := setup()
	if err != nil {
		return err
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

	var (
		total   service.Report
		batchNo int
	)
	out := cmd.OutOrStdout()

	err = service.NewJSONLSource(args[0]).Batches(ctx, backfillBatchSize, func(batch []models.RawMessage) error {
		batchNo++
		report, err := pipeline.ProcessBatch(ctx, batch)
		total.Merge(report)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "batch %d: %d messages, %d published, %d discarded, %d parked, %d skipped, %d failed\n",
			batchNo, len(batch), report.Published, report.Discarded, report.Parked, report.Skipped, report.Failed)
		return nil
	})

	summary, _ := json.MarshalIndent(total, "", "  ")
	fmt.Fprintln(out, string(summary))

	if err != nil {
		appLogger.Error("Backfill interrupted", zap.Int("batch", batchNo), zap.Error(err))
		return err
	}
	appLogger.Info("Backfill completed", zap.Int("batches", batchNo))
	return nil
}
