package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"crabstack.local/claude-gateway/internal/claude"
)

const healthcheckTimeout = 10 * time.Second

func newHealthcheckCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "healthcheck",
		Short: "Verify that the configured Claude CLI can be executed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), healthcheckTimeout)
			defer cancel()
			version, err := claude.Version(ctx, cfg.ClaudeBinaryPath)
			if err != nil {
				return fmt.Errorf("claude CLI unavailable: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), version)
			return nil
		},
	}
}
