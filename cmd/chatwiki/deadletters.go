package main

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"chatwiki/internal/repository"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var deadLettersLimit int

var deadLettersCmd = &cobra.Command{
	Use:     "dead-letters",
	Aliases: []string{"dl"},
	Short:   "Inspect parked messages",
	Args:    cobra.NoArgs,
	RunE:    runDeadLettersList,
}

var deadLettersRetryCmd = &cobra.Command{
	Use:   "retry <id>...",
	Short: "Process parked messages again and resolve the ones that finish",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runDeadLettersRetry,
}

func init() {
	deadLettersCmd.Flags().IntVar(&deadLettersLimit, "limit", 50, "maximum number of entries to list")
	deadLettersCmd.AddCommand(deadLettersRetryCmd)
}

func runDeadLettersList(cmd *cobra.Command, _ []string) error {
	cfg, appLogger, err := setup()
	if err != nil {
		return err
	}

	app, err := newApplication(cmd.Context(), cfg, appLogger)
	if err != nil {
		return err
	}
	defer app.Close()

	items, err := app.deadLetters.ListOpen(cmd.Context(), deadLettersLimit, 0)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tUNIT\tKIND\tSTAGE\tATTEMPTS\tPARKED\tREASON")
	for _, dl := range items {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			dl.ID, dl.UnitID, dl.Kind, dl.Stage, dl.Attempts, dl.CreatedAt.Format(time.RFC3339), dl.Reason)
	}
	return w.Flush()
}

func runDeadLettersRetry(cmd *cobra.Command, args []string) error {
	ids := make([]uuid.UUID, 0, len(args))
	for _, arg := range args {
		id, err := uuid.Parse(arg)
		if err != nil {
			return fmt.Errorf("invalid dead letter id %q: %w", arg, err)
		}
		ids = append(ids, id)
	}

	cfg, appLogger, err := setup()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	app, err := newApplication(ctx, cfg, appLogger)
	if err != nil {
		return err
	}
	defer app.Close()

	pipeline, err := app.buildPipeline(ctx)
	if err != nil {
		return err
	}

	var errs []error
	for _, id := range ids {
		dl, err := app.deadLetters.Get(ctx, id)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", id, err))
			continue
		}
		if dl.ResolvedAt != nil {
			fmt.Fprintf(cmd.OutOrStdout(), "%s: already resolved\n", id)
			continue
		}

		outcome, err := pipeline.Process(ctx, dl.Message)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", id, err))
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", id, outcome.Status)

		// A retry that parks again leaves a fresh entry behind, so the old one
		// is resolved either way.
		if err := app.deadLetters.Resolve(ctx, id); err != nil && !errors.Is(err, repository.ErrNotFound) {
			errs = append(errs, fmt.Errorf("%s: %w", id, err))
			continue
		}
		appLogger.Info("Dead letter retried",
			zap.String("dead_letter_id", id.String()),
			zap.String("status", string(outcome.Status)),
		)
	}
	return errors.Join(errs...)
}
