// Package stream turns completion output into OpenAI chat.completion.chunk
// sequences and frames them for SSE or websocket delivery.
package stream

import (
	"encoding/json"
	"fmt"
	"time"

	"crabstack.local/claude-gateway/internal/ids"
	"crabstack.local/claude-gateway/internal/openai"
)

const DoneFrame = "data: [DONE]\n\n"

// Emitter builds the chunks of one completion. ID, Model and Created are
// shared by every chunk it produces.
type Emitter struct {
	ID      string
	Model   string
	Created int64
}

func NewEmitter(model string) Emitter {
	return Emitter{
		ID:      ids.NewCompletionID(),
		Model:   model,
		Created: time.Now().Unix(),
	}
}

func (e Emitter) RoleChunk() openai.ChatCompletionChunk {
	empty := ""
	return e.chunk(openai.ChunkDelta{Role: openai.RoleAssistant, Content: &empty}, nil)
}

func (e Emitter) ContentChunk(text string) openai.ChatCompletionChunk {
	return e.chunk(openai.ChunkDelta{Content: &text}, nil)
}

func (e Emitter) ToolCallChunk(index int, call openai.ToolCall) openai.ChatCompletionChunk {
	return e.chunk(openai.ChunkDelta{
		ToolCalls: []openai.ToolCallDelta{{
			Index:    index,
			ID:       call.ID,
			Type:     openai.ToolTypeFunction,
			Function: call.Function,
		}},
	}, nil)
}

func (e Emitter) FinishChunk(reason string) openai.ChatCompletionChunk {
	return e.chunk(openai.ChunkDelta{}, &reason)
}

func (e Emitter) chunk(delta openai.ChunkDelta, finishReason *string) openai.ChatCompletionChunk {
	return openai.ChatCompletionChunk{
		ID:      e.ID,
		Object:  openai.ObjectChatCompletionChunk,
		Created: e.Created,
		Model:   e.Model,
		Choices: []openai.ChunkChoice{{
			Index:        0,
			Delta:        delta,
			FinishReason: finishReason,
		}},
	}
}

// Encode frames chunk as one SSE data event.
func Encode(chunk openai.ChatCompletionChunk) ([]byte, error) {
	payload, err := json.Marshal(chunk)
	if err != nil {
		return nil, fmt.Errorf("encode chunk: %w", err)
	}
	frame := make([]byte, 0, len(payload)+8)
	frame = append(frame, "data: "...)
	frame = append(frame, payload...)
	frame = append(frame, "\n\n"...)
	return frame, nil
}
