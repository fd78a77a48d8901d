package claude

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"
)

const (
	eventTypeAssistant = "assistant"
	eventTypeResult    = "result"
	eventTypeText      = "text"
)

// RawEvent is one JSON line emitted by the CLI in stream-json mode.
type RawEvent []byte

type Usage struct {
	InputTokens  int64
	OutputTokens int64
	Cost         float64
}

func (u Usage) TotalTokens() int64 {
	return u.InputTokens + u.OutputTokens
}

// Message is the classified form of a RawEvent. It is one of AssistantText,
// Result or Raw.
type Message interface {
	isMessage()
}

type AssistantText struct {
	Text string
}

type Result struct {
	Usage    Usage
	HasUsage bool
}

// Raw is any event that carries no assistant text and is not a result.
type Raw struct {
	Type string
	Text string
}

func (AssistantText) isMessage() {}
func (Result) isMessage()        {}
func (Raw) isMessage()           {}

// Translate classifies raw. It never fails; malformed fields degrade to Raw
// or to zero values.
func Translate(raw RawEvent) Message {
	switch {
	case IsResult(raw):
		usage, ok := ExtractUsage(raw)
		return Result{Usage: usage, HasUsage: ok}
	case IsAssistant(raw):
		if text, ok := ExtractText(raw); ok {
			return AssistantText{Text: text}
		}
		return Raw{Type: eventTypeAssistant}
	default:
		return Raw{
			Type: eventType(raw),
			Text: gjson.GetBytes(raw, "content").String(),
		}
	}
}

func eventType(raw RawEvent) string {
	value := gjson.GetBytes(raw, "type")
	if value.Type != gjson.String {
		return ""
	}
	return value.Str
}

func IsAssistant(raw RawEvent) bool {
	return eventType(raw) == eventTypeAssistant && gjson.GetBytes(raw, "message.content").Exists()
}

func IsResult(raw RawEvent) bool {
	return eventType(raw) == eventTypeResult
}

// ExtractText returns the assistant text carried by message.content.
func ExtractText(raw RawEvent) (string, bool) {
	return ContentText(gjson.GetBytes(raw, "message.content"))
}

// ContentText applies the assistant content rules to a bare content value:
// strings are trimmed, block arrays join their text blocks with newlines, and
// blank results or other shapes are absent.
func ContentText(content gjson.Result) (string, bool) {
	switch {
	case content.Type == gjson.String:
		trimmed := strings.TrimSpace(content.Str)
		return trimmed, trimmed != ""
	case content.IsArray():
		parts := make([]string, 0)
		content.ForEach(func(_, block gjson.Result) bool {
			if block.Get("type").String() != eventTypeText {
				return true
			}
			if text := block.Get("text"); text.Type == gjson.String {
				parts = append(parts, text.Str)
			}
			return true
		})
		joined := strings.Join(parts, "\n")
		if strings.TrimSpace(joined) == "" {
			return "", false
		}
		return joined, true
	default:
		return "", false
	}
}

// ExtractUsage reads token counts from usage and the cost from cost_usd,
// falling back to total_cost_usd.
func ExtractUsage(raw RawEvent) (Usage, bool) {
	usage := gjson.GetBytes(raw, "usage")
	if !usage.Exists() {
		return Usage{}, false
	}

	cost := gjson.GetBytes(raw, "cost_usd")
	if cost.Type != gjson.Number {
		cost = gjson.GetBytes(raw, "total_cost_usd")
	}

	return Usage{
		InputTokens:  tokenCount(usage.Get("input_tokens")),
		OutputTokens: tokenCount(usage.Get("output_tokens")),
		Cost:         numberOrZero(cost),
	}, true
}

func tokenCount(value gjson.Result) int64 {
	if value.Type != gjson.Number || value.Num < 0 {
		return 0
	}
	return value.Int()
}

func numberOrZero(value gjson.Result) float64 {
	if value.Type != gjson.Number {
		return 0
	}
	return value.Num
}

// SessionID returns the CLI-assigned session id carried by raw, if any.
func SessionID(raw RawEvent) string {
	value := gjson.GetBytes(raw, "session_id")
	if value.Type != gjson.String {
		return ""
	}
	return value.Str
}

// textEvent wraps a non-JSON output line so it still flows downstream.
func textEvent(line string) RawEvent {
	encoded, err := json.Marshal(struct {
		Type    string `json:"type"`
		Content string `json:"content"`
	}{Type: eventTypeText, Content: line})
	if err != nil {
		return RawEvent(`{"type":"text","content":""}`)
	}
	return encoded
}

func decodeLine(line []byte) RawEvent {
	if json.Valid(line) {
		event := make(RawEvent, len(line))
		copy(event, line)
		return event
	}
	return textEvent(string(line))
}
