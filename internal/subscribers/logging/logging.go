package logging

import (
	"context"

	"github.com/rs/zerolog"

	"crabstack.local/claude-gateway/internal/events"
)

type Subscriber struct {
	logger zerolog.Logger
}

func New(logger zerolog.Logger) *Subscriber {
	return &Subscriber{logger: logger.With().Str("subscriber", "logging").Logger()}
}

func (s *Subscriber) Name() string {
	return "logging"
}

func (s *Subscriber) Handle(_ context.Context, event events.Event) error {
	payload := []byte(event.Payload)
	if len(payload) == 0 {
		payload = []byte("null")
	}
	s.logger.Info().
		Str("event_id", event.EventID).
		Str("event_type", string(event.Type)).
		Str("session_id", event.SessionID).
		Str("project_id", event.ProjectID).
		Str("model", event.Model).
		RawJSON("payload", payload).
		Msg("completion event")
	return nil
}
