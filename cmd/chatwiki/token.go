package main

import (
	"fmt"

	"chatwiki/internal/failure"
	"chatwiki/pkg/auth"

	"github.com/spf13/cobra"
)

var tokenCmd = &cobra.Command{
	Use:   "token <client>",
	Short: "Issue an API token for a chat bridge",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := setup()
		if err != nil {
			return err
		}
		if cfg.Auth.SecretKey == "" {
			return fmt.Errorf("JWT_SECRET_KEY is not set: %w", failure.ErrInvalidConfig)
		}

		jwtManager := auth.NewJWTManager(cfg.Auth.SecretKey, cfg.Auth.Expiration)
		token, err := jwtManager.GenerateToken(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}
