// Package completion turns one OpenAI chat-completion request into one
// Claude CLI turn: it builds the prompt, spawns the session, relays the
// output as a buffered response or a chunk stream, and records the result.
package completion

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"crabstack.local/claude-gateway/internal/apierr"
	"crabstack.local/claude-gateway/internal/claude"
	"crabstack.local/claude-gateway/internal/dispatch"
	"crabstack.local/claude-gateway/internal/events"
	"crabstack.local/claude-gateway/internal/ids"
	"crabstack.local/claude-gateway/internal/model"
	"crabstack.local/claude-gateway/internal/openai"
	"crabstack.local/claude-gateway/internal/store"
	"crabstack.local/claude-gateway/internal/stream"
	"crabstack.local/claude-gateway/internal/toolcall"
)

const (
	DefaultProjectID = "default"
	// FallbackContent is returned when the CLI produced no assistant text.
	FallbackContent = "Hello! I'm Claude, ready to help."
)

type Options struct {
	ProjectRoot string
	ImageDir    string
}

type Service struct {
	logger     zerolog.Logger
	sessions   *claude.Manager
	models     *model.Registry
	store      store.Store
	dispatcher *dispatch.Dispatcher
	opts       Options
}

func NewService(logger zerolog.Logger, sessions *claude.Manager, models *model.Registry, st store.Store, dispatcher *dispatch.Dispatcher, opts Options) *Service {
	if opts.ImageDir == "" {
		opts.ImageDir = os.TempDir()
	}
	return &Service{
		logger:     logger.With().Str("component", "completion").Logger(),
		sessions:   sessions,
		models:     models,
		store:      st,
		dispatcher: dispatcher,
		opts:       opts,
	}
}

// Turn is one spawned CLI session waiting to be consumed by exactly one of
// Stream or Collect.
type Turn struct {
	SessionID string
	ProjectID string
	Model     string

	svc         *Service
	output      *claude.Stream
	prompt      string
	hasTools    bool
	wantsStream bool
	images      []string
	startedAt   time.Time

	consumed  bool
	closeOnce sync.Once
}

// Start validates req, spawns the CLI session and records the user turn.
// The returned Turn must be consumed with Stream or Collect.
func (s *Service) Start(ctx context.Context, req openai.ChatCompletionRequest) (*Turn, error) {
	modelName := s.models.Resolve(req.Model)

	if len(req.Messages) == 0 {
		return nil, apierr.BadRequest("At least one message is required")
	}
	lastUser, ok := lastUserMessage(req.Messages)
	if !ok {
		return nil, apierr.BadRequest("At least one user message is required")
	}

	projectID := strings.TrimSpace(req.ProjectID)
	if projectID == "" {
		projectID = DefaultProjectID
	}
	workDir, err := s.projectDir(projectID)
	if err != nil {
		return nil, err
	}

	systemPrompt, hasSystem, conversation := splitSystemPrompt(req.Messages)
	if !hasSystem {
		systemPrompt = req.SystemPrompt
	}
	prompt := renderConversation(conversation, lastUser)

	images, imageErrs := lastUser.Images()
	for _, imageErr := range imageErrs {
		s.logger.Warn().Err(imageErr).Msg("skipping image")
	}
	imagePaths, err := saveImages(s.opts.ImageDir, images)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to save images, continuing without them")
		imagePaths = nil
	}
	prompt = withImages(prompt, imagePaths)

	hasTools := len(req.Tools) > 0
	spawn := claude.SpawnRequest{
		Prompt:       prompt,
		Model:        modelName,
		SystemPrompt: systemPrompt,
		WorkDir:      workDir,
	}
	if hasTools {
		spawn.AppendSystemPrompt = toolcall.FormatPrompt(req.Tools)
		spawn.DisableBuiltinTools = true
	}

	clientID := strings.TrimSpace(req.SessionID)
	if clientID == "" {
		clientID = ids.NewSessionID()
	}

	s.logger.Info().
		Str("model", modelName).
		Int("prompt_size", len(prompt)).
		Bool("stream", req.WantsStream() && !hasTools).
		Bool("has_tools", hasTools).
		Str("session_id", clientID).
		Str("project_id", projectID).
		Msg("chat completion request")

	output, nativeID, err := s.sessions.CreateSession(ctx, clientID, spawn)
	if err != nil {
		removeImages(s.logger, imagePaths)
		s.logger.Error().Err(err).Str("session_id", clientID).Msg("failed to create claude session")
		s.publishFailed(ctx, clientID, projectID, modelName, err)
		return nil, err
	}

	sessionID := clientID
	if nativeID != "" {
		sessionID = nativeID
	}

	turn := &Turn{
		SessionID:   sessionID,
		ProjectID:   projectID,
		Model:       modelName,
		svc:         s,
		output:      output,
		prompt:      prompt,
		hasTools:    hasTools,
		wantsStream: req.WantsStream(),
		images:      imagePaths,
		startedAt:   time.Now(),
	}

	s.recordUserTurn(ctx, turn, systemPrompt)
	s.publish(ctx, turn, turn.started(len(req.Messages), len(imagePaths)))
	return turn, nil
}

func (s *Service) projectDir(projectID string) (string, error) {
	if projectID == "." || projectID == ".." || strings.ContainsAny(projectID, `/\`) {
		return "", apierr.BadRequest("invalid project_id %q", projectID)
	}
	if s.opts.ProjectRoot == "" {
		return "", nil
	}
	dir := filepath.Join(s.opts.ProjectRoot, projectID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", apierr.Internal(err, "create project directory")
	}
	return dir, nil
}

// Streaming reports whether the turn relays tokens as they arrive. Requests
// with tools are always buffered so the tool block can be parsed.
func (t *Turn) Streaming() bool {
	return t.wantsStream && !t.hasTools
}

// Stream writes the turn to sink as a chunk stream terminated by the done
// marker. Buffered turns are replayed as chunks once complete.
func (t *Turn) Stream(ctx context.Context, sink stream.Sink) error {
	if err := t.consume(); err != nil {
		return err
	}
	if t.hasTools {
		resp, err := t.collect(ctx)
		if err != nil {
			return err
		}
		return stream.WriteReplay(sink, resp)
	}

	writer := stream.NewWriter(sink, stream.NewEmitter(t.Model))
	if err := writer.Open(); err != nil {
		t.close(true)
		t.svc.logger.Warn().Err(err).Str("session_id", t.SessionID).Msg("client stream write failed")
		t.svc.publishFailed(ctx, t.SessionID, t.ProjectID, t.Model, err)
		return err
	}
	result := t.drain(ctx, writer.Content)

	if result.writeErr != nil {
		t.close(true)
		t.svc.logger.Warn().Err(result.writeErr).Str("session_id", t.SessionID).Msg("client stream write failed")
		t.svc.publishFailed(ctx, t.SessionID, t.ProjectID, t.Model, result.writeErr)
		return result.writeErr
	}
	if result.cancelled {
		t.close(true)
		err := apierr.ServiceUnavailable(ctx.Err(), "claude did not finish the completion")
		// Best effort: a timed-out client may still be writable.
		_ = writer.Finish(openai.FinishReasonStop)
		t.svc.publishFailed(ctx, t.SessionID, t.ProjectID, t.Model, err)
		return err
	}
	if !result.sawResult {
		t.svc.logger.Warn().Str("session_id", t.SessionID).Msg("claude output ended before result")
	}

	// The client sees the end of the stream before the process is reaped.
	finishErr := writer.Finish(openai.FinishReasonStop)
	t.close(false)

	content := strings.Join(result.parts, "\n")
	t.svc.recordAssistantTurn(ctx, t.SessionID, content, result.usage)
	t.svc.publish(ctx, t, t.completed(openai.FinishReasonStop, result.usage, 0))
	return finishErr
}

// Collect waits for the CLI to finish and builds the complete response.
func (t *Turn) Collect(ctx context.Context) (openai.ChatCompletionResponse, error) {
	if err := t.consume(); err != nil {
		return openai.ChatCompletionResponse{}, err
	}
	return t.collect(ctx)
}

func (t *Turn) collect(ctx context.Context) (openai.ChatCompletionResponse, error) {
	result := t.drain(ctx, nil)
	t.close(result.cancelled)

	if result.cancelled {
		err := apierr.ServiceUnavailable(ctx.Err(), "claude did not finish the completion")
		t.svc.publishFailed(ctx, t.SessionID, t.ProjectID, t.Model, err)
		return openai.ChatCompletionResponse{}, err
	}

	content := FallbackContent
	if len(result.parts) > 0 {
		content = strings.Join(result.parts, "\n")
	}

	message := openai.MessageResponse{Role: openai.RoleAssistant}
	finishReason := openai.FinishReasonStop
	var calls []openai.ToolCall
	if t.hasTools {
		var cleaned string
		calls, cleaned = toolcall.Parse(content)
		if len(calls) > 0 {
			message.ToolCalls = calls
			finishReason = openai.FinishReasonToolCalls
		} else {
			message.Content = &cleaned
		}
	} else {
		text := content
		message.Content = &text
	}

	resp := openai.ChatCompletionResponse{
		ID:      ids.NewCompletionID(),
		Object:  openai.ObjectChatCompletion,
		Created: time.Now().Unix(),
		Model:   t.Model,
		Choices: []openai.Choice{{
			Index:        0,
			Message:      message,
			FinishReason: finishReason,
		}},
		Usage:     openai.NewUsage(result.usage.InputTokens, result.usage.OutputTokens),
		SessionID: t.SessionID,
		ProjectID: t.ProjectID,
	}

	t.svc.recordAssistantTurn(ctx, t.SessionID, content, result.usage)
	t.svc.publish(ctx, t, t.completed(finishReason, result.usage, len(calls)))
	return resp, nil
}

type drainResult struct {
	parts     []string
	usage     claude.Usage
	sawResult bool
	// cancelled is set when ctx ended the drain; writeErr when the client
	// could not be written to. Output that simply ends is neither.
	cancelled bool
	writeErr  error
}

// drain reads events until the result event, the end of output or ctx is
// done. Each assistant text is passed to emit when it is set.
func (t *Turn) drain(ctx context.Context, emit func(string) error) drainResult {
	var result drainResult
	for {
		select {
		case raw, ok := <-t.output.Events():
			if !ok {
				return result
			}
			switch msg := claude.Translate(raw).(type) {
			case claude.AssistantText:
				result.parts = append(result.parts, msg.Text)
				if emit != nil {
					if err := emit(msg.Text); err != nil {
						result.writeErr = err
						return result
					}
				}
			case claude.Result:
				if msg.HasUsage {
					result.usage = msg.Usage
				}
				result.sawResult = true
				return result
			}
		case <-ctx.Done():
			result.cancelled = true
			return result
		}
	}
}

// close releases the session exactly once. Interrupted turns are killed;
// finished ones are reaped.
func (t *Turn) close(interrupted bool) {
	t.closeOnce.Do(func() {
		t.output.Close()
		if interrupted {
			t.svc.sessions.StopSession(t.SessionID)
		} else {
			t.svc.sessions.SessionFinished(t.SessionID)
		}
		removeImages(t.svc.logger, t.images)
	})
}

// Abandon releases a turn that will not be consumed.
func (t *Turn) Abandon() {
	t.consumed = true
	t.close(true)
}

var errTurnConsumed = errors.New("completion turn already consumed")

func (t *Turn) consume() error {
	if t.consumed {
		return errTurnConsumed
	}
	t.consumed = true
	return nil
}

func (t *Turn) started(messageCount, imageCount int) eventSpec {
	return eventSpec{
		eventType: events.TypeCompletionStarted,
		payload: events.StartedPayload{
			Stream:       t.Streaming(),
			HasTools:     t.hasTools,
			MessageCount: messageCount,
			PromptSize:   len(t.prompt),
			ImageCount:   imageCount,
		},
	}
}

func (t *Turn) completed(finishReason string, usage claude.Usage, toolCalls int) eventSpec {
	return eventSpec{
		eventType: events.TypeCompletionCompleted,
		payload: events.CompletedPayload{
			FinishReason:  finishReason,
			InputTokens:   usage.InputTokens,
			OutputTokens:  usage.OutputTokens,
			Cost:          usage.Cost,
			ToolCallCount: toolCalls,
			DurationMS:    time.Since(t.startedAt).Milliseconds(),
		},
	}
}

// recordUserTurn ensures the session row, then stores the prompt without
// waiting for the write.
func (s *Service) recordUserTurn(ctx context.Context, turn *Turn, systemPrompt string) {
	if s.store == nil {
		return
	}
	persistCtx := context.WithoutCancel(ctx)
	if _, err := s.store.EnsureSession(persistCtx, store.SessionRecord{
		ID:           turn.SessionID,
		ProjectID:    turn.ProjectID,
		Model:        turn.Model,
		SystemPrompt: systemPrompt,
	}); err != nil {
		s.logger.Warn().Err(err).Str("session_id", turn.SessionID).Msg("ensure session row")
	}

	go func() {
		if _, err := s.store.AddMessage(persistCtx, store.MessageRecord{
			SessionID: turn.SessionID,
			Role:      openai.RoleUser,
			Content:   turn.prompt,
		}); err != nil {
			s.logger.Warn().Err(err).Str("session_id", turn.SessionID).Msg("record user message")
		}
	}()
}

func (s *Service) recordAssistantTurn(ctx context.Context, sessionID, content string, usage claude.Usage) {
	if s.store == nil {
		return
	}
	persistCtx := context.WithoutCancel(ctx)
	if _, err := s.store.AddMessage(persistCtx, store.MessageRecord{
		SessionID:    sessionID,
		Role:         openai.RoleAssistant,
		Content:      content,
		InputTokens:  usage.InputTokens,
		OutputTokens: usage.OutputTokens,
		Cost:         usage.Cost,
	}); err != nil {
		s.logger.Warn().Err(err).Str("session_id", sessionID).Msg("record assistant message")
	}
	if err := s.store.UpdateSessionMetrics(persistCtx, sessionID, usage.TotalTokens(), usage.Cost); err != nil {
		s.logger.Warn().Err(err).Str("session_id", sessionID).Msg("update session metrics")
	}
}

type eventSpec struct {
	eventType events.Type
	payload   any
}

func (s *Service) publish(ctx context.Context, turn *Turn, spec eventSpec) {
	s.dispatch(ctx, spec.eventType, turn.SessionID, turn.ProjectID, turn.Model, spec.payload)
}

func (s *Service) publishFailed(ctx context.Context, sessionID, projectID, modelName string, err error) {
	s.dispatch(ctx, events.TypeCompletionFailed, sessionID, projectID, modelName, events.FailedPayload{
		Kind:    string(apierr.KindOf(err)),
		Message: err.Error(),
	})
}

func (s *Service) dispatch(ctx context.Context, eventType events.Type, sessionID, projectID, modelName string, payload any) {
	if s.dispatcher == nil {
		return
	}
	event, err := events.New(eventType, sessionID, projectID, modelName, payload)
	if err != nil {
		s.logger.Error().Err(err).Str("event_type", string(eventType)).Msg("drop lifecycle event")
		return
	}
	s.dispatcher.Dispatch(ctx, event)
}
