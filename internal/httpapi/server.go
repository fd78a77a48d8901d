package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"crabstack.local/claude-gateway/internal/apierr"
	"crabstack.local/claude-gateway/internal/claude"
	"crabstack.local/claude-gateway/internal/completion"
	"crabstack.local/claude-gateway/internal/model"
	"crabstack.local/claude-gateway/internal/store"
)

const (
	serviceName    = "Claude Code API Gateway"
	serviceVersion = "1.0.0"
	backendName    = "go"

	maxRequestBytes int64 = 32 << 20
	healthTimeout         = 10 * time.Second
)

// Deps are the collaborators the HTTP layer routes requests to.
type Deps struct {
	Completions *completion.Service
	Sessions    *claude.Manager
	Models      *model.Registry
	Store       store.Store
	// CLIVersion reports the backend CLI version for /health.
	CLIVersion func(ctx context.Context) (string, error)

	Auth             AuthConfig
	AllowedOrigins   []string
	StreamingTimeout time.Duration
}

type server struct {
	logger zerolog.Logger
	deps   Deps
}

func NewServer(logger zerolog.Logger, addr string, deps Deps) *http.Server {
	h := &server{
		logger: logger.With().Str("component", "httpapi").Logger(),
		deps:   deps,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", h.handleRoot)
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.HandleFunc("GET /healthz", h.handleHealthz)

	mux.HandleFunc("POST /v1/chat/completions", h.handleChatCompletions)
	mux.HandleFunc("POST /v1/chat/completions/debug", h.handleDebugCompletion)
	mux.HandleFunc("GET /v1/chat/completions/ws", h.handleChatCompletionsWS)
	mux.HandleFunc("GET /v1/chat/completions/{session_id}/status", h.handleCompletionStatus)
	mux.HandleFunc("DELETE /v1/chat/completions/{session_id}", h.handleStopCompletion)

	mux.HandleFunc("GET /v1/models", h.handleListModels)
	mux.HandleFunc("GET /v1/models/capabilities", h.handleModelCapabilities)
	mux.HandleFunc("GET /v1/models/{model_id}", h.handleGetModel)

	mux.HandleFunc("GET /v1/projects", h.handleListProjects)
	mux.HandleFunc("POST /v1/projects", h.handleCreateProject)
	mux.HandleFunc("GET /v1/projects/{project_id}", h.handleGetProject)
	mux.HandleFunc("DELETE /v1/projects/{project_id}", h.handleDeleteProject)

	mux.HandleFunc("GET /v1/sessions", h.handleListSessions)
	mux.HandleFunc("POST /v1/sessions", h.handleCreateSession)
	mux.HandleFunc("GET /v1/sessions/stats", h.handleSessionStats)
	mux.HandleFunc("GET /v1/sessions/{session_id}", h.handleGetSession)
	mux.HandleFunc("DELETE /v1/sessions/{session_id}", h.handleDeleteSession)

	handler := withCORS(deps.AllowedOrigins, withAuth(h.logger, deps.Auth, mux))
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func (s *server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":        serviceName,
		"version":     serviceVersion,
		"description": "OpenAI-compatible API for Claude Code",
		"backend":     backendName,
		"endpoints": map[string]string{
			"chat":     "/v1/chat/completions",
			"models":   "/v1/models",
			"projects": "/v1/projects",
			"sessions": "/v1/sessions",
		},
		"health": "/health",
	})
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.CLIVersion == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "unhealthy",
			"error":  "claude version check not configured",
		})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()
	version, err := s.deps.CLIVersion(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("health check failed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":          "healthy",
		"version":         serviceVersion,
		"backend":         backendName,
		"claude_version":  version,
		"active_sessions": s.activeSessions(),
	})
}

func (s *server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *server) activeSessions() int {
	if s.deps.Sessions == nil {
		return 0
	}
	return s.deps.Sessions.ActiveCount()
}

// decodeJSON reads one JSON value from the size-limited request body.
func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return apierr.BadRequest("request body is required")
		}
		return apierr.BadRequest("invalid json: %v", err)
	}
	if dec.More() {
		return apierr.BadRequest("invalid json: trailing content")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	status, envelope := apierr.HTTP(err)
	writeJSON(w, status, envelope)
}

// storeError maps persistence errors onto API error kinds.
func storeError(err error, format string, args ...any) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return apierr.NotFound(format, args...)
	case errors.Is(err, store.ErrInvalid), errors.Is(err, store.ErrConflict):
		return &apierr.Error{Kind: apierr.KindBadRequest, Err: err}
	default:
		return apierr.Internal(err, "storage failure")
	}
}
