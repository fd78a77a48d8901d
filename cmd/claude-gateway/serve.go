package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"crabstack.local/claude-gateway/internal/claude"
	"crabstack.local/claude-gateway/internal/completion"
	"crabstack.local/claude-gateway/internal/dispatch"
	"crabstack.local/claude-gateway/internal/httpapi"
	"crabstack.local/claude-gateway/internal/model"
	"crabstack.local/claude-gateway/internal/store"
	"crabstack.local/claude-gateway/internal/subscribers"
	logging "crabstack.local/claude-gateway/internal/subscribers/logging"
	"crabstack.local/claude-gateway/internal/subscribers/webhook"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP gateway",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
}

func newLogger(w io.Writer, level string) zerolog.Logger {
	parsed, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		parsed = zerolog.InfoLevel
	}
	return zerolog.New(w).Level(parsed).With().Timestamp().Str("service", "claude-gateway").Logger()
}

// runServe wires the gateway and serves until ctx is cancelled.
func runServe(ctx context.Context, opts *rootOptions) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(os.Stdout, cfg.LogLevel)

	st, err := store.Open(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Error().Err(err).Msg("store close error")
		}
	}()

	dispatcher := dispatch.New(logger, buildSubscribers(logger, cfg.WebhookURLs))

	registry := model.NewRegistry(logger, cfg.DefaultModel)
	for alias, target := range cfg.ModelAliases {
		registry.RegisterAlias(alias, target)
	}

	if err := os.MkdirAll(cfg.ProjectRoot, 0o755); err != nil {
		return fmt.Errorf("create project root: %w", err)
	}

	driver := claude.NewDriver(logger, cfg.ClaudeBinaryPath)
	manager := claude.NewManager(logger, claude.DriverSpawner(driver), cfg.MaxConcurrentSessions)
	service := completion.NewService(logger, manager, registry, st, dispatcher, completion.Options{
		ProjectRoot: cfg.ProjectRoot,
		ImageDir:    cfg.ImageDir,
	})

	srv := httpapi.NewServer(logger, cfg.HTTPAddr(), httpapi.Deps{
		Completions: service,
		Sessions:    manager,
		Models:      registry,
		Store:       st,
		CLIVersion: func(ctx context.Context) (string, error) {
			return claude.Version(ctx, cfg.ClaudeBinaryPath)
		},
		Auth: httpapi.AuthConfig{
			Required:          cfg.RequireAuth,
			APIKeys:           cfg.APIKeys,
			RequestsPerMinute: cfg.RateLimitPerMinute,
			Burst:             cfg.RateLimitBurst,
		},
		AllowedOrigins:   cfg.AllowedOrigins,
		StreamingTimeout: cfg.StreamingTimeout,
	})

	serveErr := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", srv.Addr).
			Str("model", cfg.DefaultModel).
			Int("max_concurrent_sessions", cfg.MaxConcurrentSessions).
			Bool("require_auth", cfg.RequireAuth).
			Msg("listening")
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	janitorCtx, stopJanitor := context.WithCancel(ctx)
	defer stopJanitor()
	go runJanitor(janitorCtx, logger, manager, cfg.CleanupInterval, cfg.SessionTimeout)

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info().Msg("shutting down")
	case err := <-serveErr:
		if err != nil {
			runErr = fmt.Errorf("http server crashed: %w", err)
		}
	}
	stopJanitor()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http server shutdown error")
	}
	manager.CleanupAll()
	if err := dispatcher.Wait(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("event delivery did not drain")
	}
	return runErr
}

func buildSubscribers(logger zerolog.Logger, webhookURLs []string) []subscribers.Subscriber {
	subs := []subscribers.Subscriber{logging.New(logger)}
	for idx, webhookURL := range webhookURLs {
		subs = append(subs, webhook.New(webhookSubscriberName(idx, webhookURL), webhookURL, logger))
	}
	return subs
}

func webhookSubscriberName(index int, webhookURL string) string {
	parsed, err := url.Parse(webhookURL)
	if err == nil && parsed.Host != "" {
		return parsed.Host
	}
	return fmt.Sprintf("webhook-%d", index+1)
}

// runJanitor periodically logs the active session count and stops sessions
// tracked for longer than maxAge.
func runJanitor(ctx context.Context, logger zerolog.Logger, manager *claude.Manager, interval, maxAge time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweepSessions(logger, manager, maxAge)
		}
	}
}

func sweepSessions(logger zerolog.Logger, manager *claude.Manager, maxAge time.Duration) []string {
	logger.Info().Int("active_sessions", manager.ActiveCount()).Msg("session cleanup tick")
	if maxAge <= 0 {
		return nil
	}
	stopped := manager.StopOlderThan(maxAge)
	if len(stopped) > 0 {
		logger.Warn().Strs("session_ids", stopped).Dur("max_age", maxAge).Msg("stopped expired sessions")
	}
	return stopped
}
