// Package events defines the completion lifecycle events fanned out to
// subscribers.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"crabstack.local/claude-gateway/internal/ids"
)

const Version = "v1"

type Type string

const (
	TypeCompletionStarted   Type = "completion.started"
	TypeCompletionCompleted Type = "completion.completed"
	TypeCompletionFailed    Type = "completion.failed"
)

type Event struct {
	Version    string          `json:"version"`
	EventID    string          `json:"event_id"`
	Type       Type            `json:"event_type"`
	OccurredAt time.Time       `json:"occurred_at"`
	SessionID  string          `json:"session_id"`
	ProjectID  string          `json:"project_id"`
	Model      string          `json:"model"`
	Payload    json.RawMessage `json:"payload"`
}

func (e Event) DecodePayload(v any) error {
	return json.Unmarshal(e.Payload, v)
}

type StartedPayload struct {
	Stream       bool `json:"stream"`
	HasTools     bool `json:"has_tools"`
	MessageCount int  `json:"message_count"`
	PromptSize   int  `json:"prompt_size"`
	ImageCount   int  `json:"image_count"`
}

type CompletedPayload struct {
	FinishReason  string  `json:"finish_reason"`
	InputTokens   int64   `json:"input_tokens"`
	OutputTokens  int64   `json:"output_tokens"`
	Cost          float64 `json:"cost"`
	ToolCallCount int     `json:"tool_call_count"`
	DurationMS    int64   `json:"duration_ms"`
}

type FailedPayload struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// New builds an event with a fresh id and the current UTC time.
func New(eventType Type, sessionID, projectID, model string, payload any) (Event, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return Event{
		Version:    Version,
		EventID:    "evt_" + ids.New(),
		Type:       eventType,
		OccurredAt: time.Now().UTC(),
		SessionID:  sessionID,
		ProjectID:  projectID,
		Model:      model,
		Payload:    encoded,
	}, nil
}
