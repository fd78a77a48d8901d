package stream

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"crabstack.local/claude-gateway/internal/openai"
)

type recordingSink struct {
	chunks  []openai.ChatCompletionChunk
	done    int
	failErr error
}

func (s *recordingSink) WriteChunk(chunk openai.ChatCompletionChunk) error {
	if s.failErr != nil {
		return s.failErr
	}
	s.chunks = append(s.chunks, chunk)
	return nil
}

func (s *recordingSink) WriteDone() error {
	s.done++
	return nil
}

func chunkKind(chunk openai.ChatCompletionChunk) string {
	choice := chunk.Choices[0]
	switch {
	case choice.FinishReason != nil:
		return "finish:" + *choice.FinishReason
	case choice.Delta.Role != "":
		return "role"
	case len(choice.Delta.ToolCalls) > 0:
		return "tool"
	case choice.Delta.Content != nil:
		return "content:" + *choice.Delta.Content
	default:
		return "unknown"
	}
}

func kinds(chunks []openai.ChatCompletionChunk) string {
	parts := make([]string, 0, len(chunks))
	for _, chunk := range chunks {
		parts = append(parts, chunkKind(chunk))
	}
	return strings.Join(parts, ",")
}

func TestEncodeFraming(t *testing.T) {
	emitter := Emitter{ID: "chatcmpl-1", Model: "claude-opus-4-6", Created: 42}
	frame, err := Encode(emitter.ContentChunk("Hello!"))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	want := `data: {"id":"chatcmpl-1","object":"chat.completion.chunk","created":42,"model":"claude-opus-4-6","choices":[{"index":0,"delta":{"content":"Hello!"},"finish_reason":null}]}` + "\n\n"
	if string(frame) != want {
		t.Fatalf("expected %q, got %q", want, frame)
	}

	finish, err := Encode(emitter.FinishChunk(openai.FinishReasonStop))
	if err != nil {
		t.Fatalf("encode finish: %v", err)
	}
	if !strings.Contains(string(finish), `"delta":{},"finish_reason":"stop"`) {
		t.Fatalf("expected empty delta with finish reason, got %q", finish)
	}
	if DoneFrame != "data: [DONE]\n\n" {
		t.Fatalf("unexpected done frame %q", DoneFrame)
	}
}

func TestNewEmitterIDs(t *testing.T) {
	emitter := NewEmitter("claude-opus-4-6")
	if !strings.HasPrefix(emitter.ID, "chatcmpl-") || len(emitter.ID) != len("chatcmpl-")+29 {
		t.Fatalf("unexpected completion id %q", emitter.ID)
	}
	if emitter.Created == 0 {
		t.Fatalf("expected created timestamp")
	}
	role := emitter.RoleChunk()
	content := emitter.ContentChunk("x")
	if role.ID != content.ID || role.Created != content.Created {
		t.Fatalf("expected chunks to share id and created")
	}
}

func TestWriterOrdering(t *testing.T) {
	sink := &recordingSink{}
	writer := NewWriter(sink, Emitter{ID: "chatcmpl-1", Model: "m", Created: 1})

	if err := writer.Content("Hel"); err != nil {
		t.Fatalf("content: %v", err)
	}
	if err := writer.Content("lo"); err != nil {
		t.Fatalf("content: %v", err)
	}
	if err := writer.Open(); err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := writer.Finish(openai.FinishReasonStop); err != nil {
		t.Fatalf("finish: %v", err)
	}

	if got := kinds(sink.chunks); got != "role,content:Hel,content:lo,finish:stop" {
		t.Fatalf("unexpected chunk order %s", got)
	}
	if sink.done != 1 {
		t.Fatalf("expected one done marker, got %d", sink.done)
	}
	if writer.ContentChunks() != 2 {
		t.Fatalf("expected 2 content chunks, got %d", writer.ContentChunks())
	}

	if err := writer.Content("late"); !errors.Is(err, ErrStreamFinished) {
		t.Fatalf("expected ErrStreamFinished, got %v", err)
	}
	if err := writer.Finish(openai.FinishReasonStop); !errors.Is(err, ErrStreamFinished) {
		t.Fatalf("expected second finish to fail, got %v", err)
	}
	if sink.done != 1 || len(sink.chunks) != 4 {
		t.Fatalf("expected no writes after finish")
	}
}

func TestWriterFinishWithoutContent(t *testing.T) {
	sink := &recordingSink{}
	writer := NewWriter(sink, Emitter{ID: "chatcmpl-1", Model: "m", Created: 1})
	if err := writer.Finish(openai.FinishReasonStop); err != nil {
		t.Fatalf("finish: %v", err)
	}
	if got := kinds(sink.chunks); got != "role,finish:stop" {
		t.Fatalf("unexpected chunk order %s", got)
	}
	if !writer.Finished() {
		t.Fatalf("expected writer finished")
	}
}

func TestWriterSinkFailureFinishes(t *testing.T) {
	sink := &recordingSink{failErr: errors.New("broken pipe")}
	writer := NewWriter(sink, Emitter{ID: "chatcmpl-1", Model: "m", Created: 1})
	if err := writer.Content("x"); err == nil {
		t.Fatalf("expected sink error")
	}
	writer.opened = true
	if err := writer.Finish(openai.FinishReasonStop); err == nil {
		t.Fatalf("expected sink error on finish")
	}
	if !writer.Finished() {
		t.Fatalf("expected writer finished after a failed finish")
	}
}

func TestReplayToolCalls(t *testing.T) {
	resp := openai.ChatCompletionResponse{
		ID:      "chatcmpl-abc",
		Object:  openai.ObjectChatCompletion,
		Created: 7,
		Model:   "claude-sonnet-4-5-20250929",
		Choices: []openai.Choice{{
			Message: openai.MessageResponse{
				Role: openai.RoleAssistant,
				ToolCalls: []openai.ToolCall{
					{ID: "call_1", Type: openai.ToolTypeFunction, Function: openai.FunctionCall{Name: "a", Arguments: "{}"}},
					{ID: "call_2", Type: openai.ToolTypeFunction, Function: openai.FunctionCall{Name: "b", Arguments: `{"x":1}`}},
				},
			},
			FinishReason: openai.FinishReasonToolCalls,
		}},
	}

	sink := &recordingSink{}
	if err := WriteReplay(sink, resp); err != nil {
		t.Fatalf("write replay: %v", err)
	}
	if got := kinds(sink.chunks); got != "role,tool,tool,finish:tool_calls" {
		t.Fatalf("unexpected replay order %s", got)
	}
	if sink.done != 1 {
		t.Fatalf("expected one done marker, got %d", sink.done)
	}
	for i, chunk := range sink.chunks[1:3] {
		delta := chunk.Choices[0].Delta.ToolCalls[0]
		if delta.Index != i {
			t.Fatalf("expected tool call index %d, got %d", i, delta.Index)
		}
		if delta.ID != resp.Choices[0].Message.ToolCalls[i].ID {
			t.Fatalf("expected id %q, got %q", resp.Choices[0].Message.ToolCalls[i].ID, delta.ID)
		}
	}
	for _, chunk := range sink.chunks {
		if chunk.ID != resp.ID || chunk.Created != resp.Created || chunk.Model != resp.Model {
			t.Fatalf("expected replay chunks to reuse response identity, got %+v", chunk)
		}
	}
}

func TestReplayContent(t *testing.T) {
	content := "Hello!"
	resp := openai.ChatCompletionResponse{
		ID:    "chatcmpl-abc",
		Model: "m",
		Choices: []openai.Choice{{
			Message:      openai.MessageResponse{Role: openai.RoleAssistant, Content: &content},
			FinishReason: openai.FinishReasonStop,
		}},
	}
	if got := kinds(Replay(resp)); got != "role,content:Hello!,finish:stop" {
		t.Fatalf("unexpected replay order %s", got)
	}
}

func TestSSESink(t *testing.T) {
	recorder := httptest.NewRecorder()
	sink := NewSSESink(recorder)
	if sink.Started() {
		t.Fatalf("expected sink not started before first write")
	}

	writer := NewWriter(sink, Emitter{ID: "chatcmpl-1", Model: "m", Created: 1})
	if err := writer.Content("hi"); err != nil {
		t.Fatalf("content: %v", err)
	}
	if err := writer.Finish(openai.FinishReasonStop); err != nil {
		t.Fatalf("finish: %v", err)
	}

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	if got := recorder.Header().Get("Content-Type"); got != "text/event-stream" {
		t.Fatalf("expected event stream content type, got %q", got)
	}
	if got := recorder.Header().Get("X-Accel-Buffering"); got != "no" {
		t.Fatalf("expected buffering disabled, got %q", got)
	}
	if !recorder.Flushed {
		t.Fatalf("expected frames flushed")
	}

	frames := strings.Split(strings.TrimSuffix(recorder.Body.String(), "\n\n"), "\n\n")
	if len(frames) != 4 {
		t.Fatalf("expected 4 frames, got %d: %q", len(frames), recorder.Body.String())
	}
	if frames[3] != "data: [DONE]" {
		t.Fatalf("expected done marker last, got %q", frames[3])
	}
	var chunk openai.ChatCompletionChunk
	if err := json.Unmarshal([]byte(strings.TrimPrefix(frames[1], "data: ")), &chunk); err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	if chunk.Choices[0].Delta.Content == nil || *chunk.Choices[0].Delta.Content != "hi" {
		t.Fatalf("expected content frame, got %+v", chunk)
	}
}
