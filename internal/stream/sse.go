package stream

import (
	"errors"
	"fmt"
	"net/http"

	"crabstack.local/claude-gateway/internal/openai"
)

// SSESink writes server-sent event frames to an HTTP response, flushing
// after every frame. Headers are committed on the first write, so callers
// can still set response headers or fall back to a JSON error before then.
type SSESink struct {
	w          http.ResponseWriter
	controller *http.ResponseController
	started    bool
}

func NewSSESink(w http.ResponseWriter) *SSESink {
	return &SSESink{w: w, controller: http.NewResponseController(w)}
}

func (s *SSESink) Started() bool {
	return s.started
}

func (s *SSESink) WriteChunk(chunk openai.ChatCompletionChunk) error {
	frame, err := Encode(chunk)
	if err != nil {
		return err
	}
	return s.write(frame)
}

func (s *SSESink) WriteDone() error {
	return s.write([]byte(DoneFrame))
}

func (s *SSESink) write(frame []byte) error {
	if !s.started {
		header := s.w.Header()
		header.Set("Content-Type", "text/event-stream")
		header.Set("Cache-Control", "no-cache")
		header.Set("Connection", "keep-alive")
		header.Set("X-Accel-Buffering", "no")
		s.w.WriteHeader(http.StatusOK)
		s.started = true
	}
	if _, err := s.w.Write(frame); err != nil {
		return fmt.Errorf("write sse frame: %w", err)
	}
	if err := s.controller.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
		return fmt.Errorf("flush sse frame: %w", err)
	}
	return nil
}
