package stream

import "crabstack.local/claude-gateway/internal/openai"

// Replay renders a complete response as the chunk sequence a streaming
// client expects: role, content when present, one tool call delta per call,
// then the finish chunk with the response's own finish reason.
func Replay(resp openai.ChatCompletionResponse) []openai.ChatCompletionChunk {
	emitter := Emitter{ID: resp.ID, Model: resp.Model, Created: resp.Created}
	chunks := []openai.ChatCompletionChunk{emitter.RoleChunk()}

	finishReason := openai.FinishReasonStop
	if len(resp.Choices) > 0 {
		choice := resp.Choices[0]
		if choice.Message.Content != nil {
			chunks = append(chunks, emitter.ContentChunk(*choice.Message.Content))
		}
		for i, call := range choice.Message.ToolCalls {
			chunks = append(chunks, emitter.ToolCallChunk(i, call))
		}
		if choice.FinishReason != "" {
			finishReason = choice.FinishReason
		}
	}

	return append(chunks, emitter.FinishChunk(finishReason))
}

// WriteReplay writes Replay(resp) followed by the done marker.
func WriteReplay(sink Sink, resp openai.ChatCompletionResponse) error {
	for _, chunk := range Replay(resp) {
		if err := sink.WriteChunk(chunk); err != nil {
			return err
		}
	}
	return sink.WriteDone()
}
