package stream

import (
	"errors"

	"crabstack.local/claude-gateway/internal/openai"
)

var ErrStreamFinished = errors.New("stream already finished")

// Sink delivers chunks and the end-of-stream marker to one client.
type Sink interface {
	WriteChunk(chunk openai.ChatCompletionChunk) error
	WriteDone() error
}

// Writer enforces chunk ordering on a Sink: the role chunk precedes any
// other chunk and exactly one finish chunk is followed by the done marker.
// A Writer is not safe for concurrent use.
type Writer struct {
	sink    Sink
	emitter Emitter

	opened   bool
	finished bool
	content  int
}

func NewWriter(sink Sink, emitter Emitter) *Writer {
	return &Writer{sink: sink, emitter: emitter}
}

func (w *Writer) Emitter() Emitter {
	return w.emitter
}

// Open sends the role chunk if it has not been sent yet.
func (w *Writer) Open() error {
	if w.finished {
		return ErrStreamFinished
	}
	if w.opened {
		return nil
	}
	if err := w.sink.WriteChunk(w.emitter.RoleChunk()); err != nil {
		return err
	}
	w.opened = true
	return nil
}

func (w *Writer) Content(text string) error {
	if err := w.Open(); err != nil {
		return err
	}
	if err := w.sink.WriteChunk(w.emitter.ContentChunk(text)); err != nil {
		return err
	}
	w.content++
	return nil
}

func (w *Writer) ToolCall(index int, call openai.ToolCall) error {
	if err := w.Open(); err != nil {
		return err
	}
	return w.sink.WriteChunk(w.emitter.ToolCallChunk(index, call))
}

// Finish sends the finish chunk and the done marker. The writer is finished
// afterwards even if the sink failed.
func (w *Writer) Finish(reason string) error {
	if err := w.Open(); err != nil {
		return err
	}
	w.finished = true
	if err := w.sink.WriteChunk(w.emitter.FinishChunk(reason)); err != nil {
		return err
	}
	return w.sink.WriteDone()
}

func (w *Writer) Finished() bool {
	return w.finished
}

// ContentChunks reports how many content chunks were written.
func (w *Writer) ContentChunks() int {
	return w.content
}
