package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"crabstack.local/claude-gateway/internal/completion"
	"crabstack.local/claude-gateway/internal/openai"
	"crabstack.local/claude-gateway/internal/store"
	"crabstack.local/claude-gateway/internal/stream"
)

const (
	headerSessionID = "X-Session-ID"
	headerProjectID = "X-Project-ID"
)

func (s *server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	var req openai.ChatCompletionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	ctx, cancel := s.completionContext(r.Context())
	defer cancel()

	turn, err := s.deps.Completions.Start(ctx, req)
	if err != nil {
		writeError(w, err)
		return
	}
	defer s.stopOnDone(ctx, turn)()

	w.Header().Set(headerSessionID, turn.SessionID)
	w.Header().Set(headerProjectID, turn.ProjectID)

	if req.WantsStream() {
		sink := stream.NewSSESink(w)
		if err := turn.Stream(ctx, sink); err != nil {
			if !sink.Started() {
				writeError(w, err)
				return
			}
			s.logger.Warn().Err(err).Str("session_id", turn.SessionID).Msg("completion stream ended early")
		}
		return
	}

	resp, err := turn.Collect(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// completionContext bounds one completion by the streaming timeout.
func (s *server) completionContext(parent context.Context) (context.Context, context.CancelFunc) {
	if s.deps.StreamingTimeout > 0 {
		return context.WithTimeout(parent, s.deps.StreamingTimeout)
	}
	return context.WithCancel(parent)
}

// stopOnDone kills the turn's session when ctx ends first: the streaming
// timeout fired or the client went away. The returned func detaches it.
func (s *server) stopOnDone(ctx context.Context, turn *completion.Turn) func() {
	if s.deps.Sessions == nil {
		return func() {}
	}
	stop := context.AfterFunc(ctx, func() {
		s.logger.Warn().Err(ctx.Err()).Str("session_id", turn.SessionID).Msg("stopping completion")
		s.deps.Sessions.StopSession(turn.SessionID)
	})
	return func() { stop() }
}

func (s *server) handleDebugCompletion(w http.ResponseWriter, r *http.Request) {
	var body json.RawMessage
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"debug":    true,
		"received": body,
	})
}

func (s *server) handleCompletionStatus(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")

	body := map[string]any{"session_id": sessionID}
	tracked, isTracked := s.deps.Sessions.Status(sessionID)
	if isTracked {
		body["claude_session"] = tracked
	}

	rec, err := s.deps.Store.GetSession(r.Context(), sessionID)
	switch {
	case err == nil:
		body["model"] = rec.Model
		body["is_active"] = rec.IsActive
		body["created_at"] = rec.CreatedAt
		body["updated_at"] = rec.UpdatedAt
		body["total_tokens"] = rec.TotalTokens
		body["total_cost"] = rec.TotalCost
		body["message_count"] = rec.MessageCount
	case errors.Is(err, store.ErrNotFound) && isTracked:
		body["model"] = tracked.Model
		body["is_active"] = true
	default:
		writeError(w, storeError(err, "Session %s not found", sessionID))
		return
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *server) handleStopCompletion(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")
	s.deps.Sessions.StopSession(sessionID)
	s.logger.Info().Str("session_id", sessionID).Msg("chat completion stopped")
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sessionID,
		"status":     "stopped",
	})
}
