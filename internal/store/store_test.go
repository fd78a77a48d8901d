package store

import (
	"context"
	"errors"
	"testing"
)

// exerciseStore runs the behaviour every Store implementation must share.
func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	project, err := s.CreateProject(ctx, ProjectRecord{ID: "proj_1", Name: "demo", Path: "/tmp/demo"})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	if !project.IsActive {
		t.Fatalf("expected new project to be active")
	}
	if _, err := s.CreateProject(ctx, ProjectRecord{ID: "proj_2", Name: "dup", Path: "/tmp/demo"}); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict for duplicate path, got %v", err)
	}
	if _, err := s.CreateProject(ctx, ProjectRecord{ID: "proj_3"}); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected invalid error for missing name, got %v", err)
	}

	projects, err := s.ListProjects(ctx)
	if err != nil {
		t.Fatalf("list projects: %v", err)
	}
	if len(projects) != 1 || projects[0].ID != "proj_1" {
		t.Fatalf("unexpected projects: %+v", projects)
	}

	sess, err := s.EnsureSession(ctx, SessionRecord{ID: "sess_1", ProjectID: "proj_1", Model: "claude-sonnet-4-5-20250929"})
	if err != nil {
		t.Fatalf("ensure session: %v", err)
	}
	if sess.MessageCount != 0 || sess.TotalTokens != 0 {
		t.Fatalf("expected zero counters, got %+v", sess)
	}

	if err := s.UpdateSessionMetrics(ctx, "sess_1", 7, 0.25); err != nil {
		t.Fatalf("update metrics: %v", err)
	}
	if err := s.UpdateSessionMetrics(ctx, "sess_1", 3, 0.5); err != nil {
		t.Fatalf("update metrics: %v", err)
	}
	if err := s.UpdateSessionMetrics(ctx, "missing", 1, 0); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found for unknown session, got %v", err)
	}

	sess, err = s.EnsureSession(ctx, SessionRecord{ID: "sess_1", Model: "claude-haiku-4-5-20251001"})
	if err != nil {
		t.Fatalf("ensure existing session: %v", err)
	}
	if sess.Model != "claude-haiku-4-5-20251001" {
		t.Fatalf("expected merged model, got %q", sess.Model)
	}
	if sess.ProjectID != "proj_1" {
		t.Fatalf("expected project id to survive merge, got %q", sess.ProjectID)
	}

	loaded, err := s.GetSession(ctx, "sess_1")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if loaded.TotalTokens != 10 {
		t.Fatalf("expected 10 total tokens, got %d", loaded.TotalTokens)
	}
	if loaded.TotalCost < 0.749 || loaded.TotalCost > 0.751 {
		t.Fatalf("expected total cost 0.75, got %f", loaded.TotalCost)
	}
	if loaded.MessageCount != 2 {
		t.Fatalf("expected message count 2, got %d", loaded.MessageCount)
	}

	if _, err := s.AddMessage(ctx, MessageRecord{SessionID: "sess_1", Role: "user", Content: "hi"}); err != nil {
		t.Fatalf("add user message: %v", err)
	}
	if _, err := s.AddMessage(ctx, MessageRecord{SessionID: "sess_1", Role: "assistant", Content: "Hello!", InputTokens: 5, OutputTokens: 2}); err != nil {
		t.Fatalf("add assistant message: %v", err)
	}
	if _, err := s.AddMessage(ctx, MessageRecord{SessionID: "sess_1"}); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected invalid error for missing role, got %v", err)
	}

	msgs, err := s.ListMessages(ctx, "sess_1", 0)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Role != "user" || msgs[1].Role != "assistant" {
		t.Fatalf("unexpected message order: %s, %s", msgs[0].Role, msgs[1].Role)
	}
	if msgs[1].OutputTokens != 2 {
		t.Fatalf("expected output tokens 2, got %d", msgs[1].OutputTokens)
	}

	limited, err := s.ListMessages(ctx, "sess_1", 1)
	if err != nil {
		t.Fatalf("list limited messages: %v", err)
	}
	if len(limited) != 1 {
		t.Fatalf("expected 1 message with limit, got %d", len(limited))
	}

	if _, err := s.CreateSession(ctx, SessionRecord{ID: "sess_2", Model: "claude-opus-4-6", Title: "second"}); err != nil {
		t.Fatalf("create session: %v", err)
	}
	sessions, err := s.ListSessions(ctx)
	if err != nil {
		t.Fatalf("list sessions: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(sessions))
	}

	if err := s.DeleteSession(ctx, "sess_2"); err != nil {
		t.Fatalf("delete session: %v", err)
	}
	if err := s.DeleteSession(ctx, "sess_2"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
	if _, err := s.GetSession(ctx, "sess_2"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected deleted session to be hidden, got %v", err)
	}

	if err := s.DeleteProject(ctx, "proj_1"); err != nil {
		t.Fatalf("delete project: %v", err)
	}
	if _, err := s.GetProject(ctx, "proj_1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected deleted project to be hidden, got %v", err)
	}
	if err := s.DeleteProject(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found for unknown project, got %v", err)
	}
}

func TestOpenMemoryDriver(t *testing.T) {
	s, err := Open("memory", "")
	if err != nil {
		t.Fatalf("open memory store: %v", err)
	}
	defer func() { _ = s.Close() }()
	if _, ok := s.(*MemoryStore); !ok {
		t.Fatalf("expected *MemoryStore, got %T", s)
	}
}
