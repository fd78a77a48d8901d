package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"crabstack.local/claude-gateway/internal/config"
)

type rootOptions struct {
	configPath string
}

// newRootCommand builds the CLI. Running it without a subcommand serves.
func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "claude-gateway",
		Short: "OpenAI-compatible chat completions backed by the Claude CLI",
		Long: `claude-gateway exposes the OpenAI chat completions API and answers each
request by driving a local Claude CLI process.

  claude-gateway serve                 # run the HTTP gateway
  claude-gateway healthcheck           # check that the Claude CLI runs
  claude-gateway --config ./gw.yaml    # use an explicit config file`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file path (default: "+config.EnvConfigFile+" or discovered config.yaml)")

	cmd.AddCommand(newServeCommand(opts), newHealthcheckCommand(opts))
	return cmd
}

func (o *rootOptions) loadConfig() (config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
