package httpapi

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"

	"crabstack.local/claude-gateway/internal/apierr"
	"crabstack.local/claude-gateway/internal/openai"
)

const wsDoneMessage = "[DONE]"

// handleChatCompletionsWS serves one completion per connection: the client
// sends a single request message and receives every chunk as a JSON text
// message followed by "[DONE]". Errors arrive as the error envelope.
func (s *server) handleChatCompletionsWS(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{CheckOrigin: s.isWebSocketOriginAllowed}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("completions ws upgrade failed")
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxRequestBytes)

	var req openai.ChatCompletionRequest
	if err := conn.ReadJSON(&req); err != nil {
		writeWSError(conn, apierr.BadRequest("invalid request: %v", err))
		return
	}

	ctx, cancel := s.completionContext(r.Context())
	defer cancel()

	turn, err := s.deps.Completions.Start(ctx, req)
	if err != nil {
		writeWSError(conn, err)
		return
	}
	defer s.stopOnDone(ctx, turn)()

	if err := turn.Stream(ctx, wsSink{conn: conn}); err != nil {
		s.logger.Warn().Err(err).Str("session_id", turn.SessionID).Msg("completion ws stream ended early")
		writeWSError(conn, err)
		return
	}
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

type wsSink struct {
	conn *websocket.Conn
}

func (s wsSink) WriteChunk(chunk openai.ChatCompletionChunk) error {
	return s.conn.WriteJSON(chunk)
}

func (s wsSink) WriteDone() error {
	return s.conn.WriteMessage(websocket.TextMessage, []byte(wsDoneMessage))
}

func writeWSError(conn *websocket.Conn, err error) {
	_, envelope := apierr.HTTP(err)
	_ = conn.WriteJSON(envelope)
}

// isWebSocketOriginAllowed accepts requests without an Origin, same-host
// origins and origins allowed by the CORS configuration.
func (s *server) isWebSocketOriginAllowed(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	if originAllowed(s.deps.AllowedOrigins, origin) {
		return true
	}
	parsedOrigin, err := url.Parse(origin)
	if err != nil || strings.TrimSpace(parsedOrigin.Host) == "" {
		return false
	}
	return strings.EqualFold(parsedOrigin.Host, r.Host)
}
