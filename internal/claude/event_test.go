package claude

import (
	"math"
	"testing"

	"github.com/tidwall/gjson"
)

func TestExtractText(t *testing.T) {
	cases := []struct {
		name   string
		raw    string
		want   string
		wantOK bool
	}{
		{"trimmed string", `{"type":"assistant","message":{"content":"  hello  "}}`, "hello", true},
		{"blank string", `{"type":"assistant","message":{"content":"   "}}`, "", false},
		{"empty blocks", `{"type":"assistant","message":{"content":[]}}`, "", false},
		{"text blocks", `{"type":"assistant","message":{"content":[{"type":"text","text":"A"},{"type":"text","text":"B"}]}}`, "A\nB", true},
		{"non text blocks", `{"type":"assistant","message":{"content":[{"type":"tool_use","name":"Read"},{"type":"text","text":"A"}]}}`, "A", true},
		{"blank blocks", `{"type":"assistant","message":{"content":[{"type":"text","text":" "}]}}`, "", false},
		{"object content", `{"type":"assistant","message":{"content":{"text":"A"}}}`, "", false},
		{"missing content", `{"type":"assistant","message":{}}`, "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := ExtractText(RawEvent(tc.raw))
			if ok != tc.wantOK || got != tc.want {
				t.Fatalf("expected (%q, %v), got (%q, %v)", tc.want, tc.wantOK, got, ok)
			}
		})
	}
}

func TestContentText(t *testing.T) {
	got, ok := ContentText(gjson.Parse(`"  hello  "`))
	if !ok || got != "hello" {
		t.Fatalf("expected hello, got %q (%v)", got, ok)
	}
	if _, ok := ContentText(gjson.Parse(`[]`)); ok {
		t.Fatalf("expected empty array to be absent")
	}
}

func TestEventClassification(t *testing.T) {
	if !IsAssistant(RawEvent(`{"type":"assistant","message":{"content":"hi"}}`)) {
		t.Fatalf("expected assistant event")
	}
	if IsAssistant(RawEvent(`{"type":"assistant","message":{}}`)) {
		t.Fatalf("expected assistant without message.content to be rejected")
	}
	if IsAssistant(RawEvent(`{"type":"user","message":{"content":"hi"}}`)) {
		t.Fatalf("expected user event not to be assistant")
	}
	if !IsResult(RawEvent(`{"type":"result"}`)) {
		t.Fatalf("expected result event")
	}
	if IsResult(RawEvent(`{"type":"assistant"}`)) {
		t.Fatalf("expected assistant not to be result")
	}
	if IsResult(RawEvent(`{"type":["result"]}`)) {
		t.Fatalf("expected non-string type not to be result")
	}
}

func TestExtractUsage(t *testing.T) {
	usage, ok := ExtractUsage(RawEvent(`{"type":"result","usage":{"input_tokens":100,"output_tokens":50},"cost_usd":0.005}`))
	if !ok {
		t.Fatalf("expected usage")
	}
	if usage.InputTokens != 100 || usage.OutputTokens != 50 {
		t.Fatalf("unexpected tokens %+v", usage)
	}
	if math.Abs(usage.Cost-0.005) > 1e-12 {
		t.Fatalf("expected cost 0.005, got %v", usage.Cost)
	}
	if usage.TotalTokens() != 150 {
		t.Fatalf("expected total 150, got %d", usage.TotalTokens())
	}

	usage, ok = ExtractUsage(RawEvent(`{"type":"result","usage":{"input_tokens":"many","output_tokens":-3},"total_cost_usd":0.25}`))
	if !ok {
		t.Fatalf("expected usage")
	}
	if usage.InputTokens != 0 || usage.OutputTokens != 0 {
		t.Fatalf("expected invalid token counts to default to 0, got %+v", usage)
	}
	if usage.Cost != 0.25 {
		t.Fatalf("expected total_cost_usd fallback, got %v", usage.Cost)
	}

	if _, ok := ExtractUsage(RawEvent(`{"type":"result"}`)); ok {
		t.Fatalf("expected no usage without usage field")
	}
}

func TestTranslate(t *testing.T) {
	switch msg := Translate(RawEvent(`{"type":"assistant","message":{"content":"Hello!"}}`)).(type) {
	case AssistantText:
		if msg.Text != "Hello!" {
			t.Fatalf("expected Hello!, got %q", msg.Text)
		}
	default:
		t.Fatalf("expected AssistantText, got %T", msg)
	}

	switch msg := Translate(RawEvent(`{"type":"result","usage":{"input_tokens":5,"output_tokens":2}}`)).(type) {
	case Result:
		if !msg.HasUsage || msg.Usage.TotalTokens() != 7 {
			t.Fatalf("unexpected result %+v", msg)
		}
	default:
		t.Fatalf("expected Result, got %T", msg)
	}

	switch msg := Translate(textEvent("plain output")).(type) {
	case Raw:
		if msg.Type != "text" || msg.Text != "plain output" {
			t.Fatalf("unexpected raw %+v", msg)
		}
	default:
		t.Fatalf("expected Raw, got %T", msg)
	}

	if _, ok := Translate(RawEvent(`{"type":"assistant","message":{"content":[]}}`)).(Raw); !ok {
		t.Fatalf("expected assistant without text to translate to Raw")
	}
}

func TestDecodeLine(t *testing.T) {
	event := decodeLine([]byte(`{"type":"system","session_id":"abc"}`))
	if SessionID(event) != "abc" {
		t.Fatalf("expected session id abc, got %q", SessionID(event))
	}

	wrapped := decodeLine([]byte(`not "json"`))
	if gjson.GetBytes(wrapped, "type").String() != "text" {
		t.Fatalf("expected wrapped text event, got %s", wrapped)
	}
	if gjson.GetBytes(wrapped, "content").String() != `not "json"` {
		t.Fatalf("expected original line preserved, got %s", wrapped)
	}
	if SessionID(wrapped) != "" {
		t.Fatalf("expected no session id on wrapped line")
	}
}
