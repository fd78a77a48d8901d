// Package store persists projects, sessions and messages for the gateway.
// The completion path only reports into it; nothing in the streaming core
// depends on a write succeeding.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrNotFound = errors.New("not found")
	ErrInvalid  = errors.New("invalid record")
	ErrConflict = errors.New("conflict")
)

type Store interface {
	CreateProject(context.Context, ProjectRecord) (ProjectRecord, error)
	GetProject(context.Context, string) (ProjectRecord, error)
	ListProjects(context.Context) ([]ProjectRecord, error)
	DeleteProject(context.Context, string) error

	CreateSession(context.Context, SessionRecord) (SessionRecord, error)
	EnsureSession(context.Context, SessionRecord) (SessionRecord, error)
	GetSession(context.Context, string) (SessionRecord, error)
	ListSessions(context.Context) ([]SessionRecord, error)
	DeleteSession(context.Context, string) error
	UpdateSessionMetrics(ctx context.Context, sessionID string, tokens int64, cost float64) error

	AddMessage(context.Context, MessageRecord) (MessageRecord, error)
	ListMessages(ctx context.Context, sessionID string, limit int) ([]MessageRecord, error)

	Close() error
}

func newProject(in ProjectRecord, now time.Time) (ProjectRecord, error) {
	out := ProjectRecord{
		ID:          strings.TrimSpace(in.ID),
		Name:        strings.TrimSpace(in.Name),
		Description: in.Description,
		Path:        strings.TrimSpace(in.Path),
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if out.ID == "" {
		return ProjectRecord{}, fmt.Errorf("%w: project id is required", ErrInvalid)
	}
	if out.Name == "" {
		return ProjectRecord{}, fmt.Errorf("%w: project name is required", ErrInvalid)
	}
	return out, nil
}

func newSession(in SessionRecord, now time.Time) (SessionRecord, error) {
	out := SessionRecord{
		ID:           strings.TrimSpace(in.ID),
		ProjectID:    strings.TrimSpace(in.ProjectID),
		Title:        in.Title,
		Model:        strings.TrimSpace(in.Model),
		SystemPrompt: in.SystemPrompt,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if out.ID == "" {
		return SessionRecord{}, fmt.Errorf("%w: session id is required", ErrInvalid)
	}
	if out.Model == "" {
		return SessionRecord{}, fmt.Errorf("%w: session model is required", ErrInvalid)
	}
	return out, nil
}

// mergeSession applies the non-empty fields of incoming onto an existing row.
// Counters are never touched here.
func mergeSession(existing SessionRecord, incoming SessionRecord, now time.Time) SessionRecord {
	out := existing
	if strings.TrimSpace(incoming.ProjectID) != "" {
		out.ProjectID = strings.TrimSpace(incoming.ProjectID)
	}
	if strings.TrimSpace(incoming.Model) != "" {
		out.Model = strings.TrimSpace(incoming.Model)
	}
	if incoming.Title != "" {
		out.Title = incoming.Title
	}
	if incoming.SystemPrompt != "" {
		out.SystemPrompt = incoming.SystemPrompt
	}
	out.IsActive = true
	out.UpdatedAt = now
	return out
}

func validateMessage(msg MessageRecord) error {
	if strings.TrimSpace(msg.SessionID) == "" {
		return fmt.Errorf("%w: session_id is required", ErrInvalid)
	}
	if strings.TrimSpace(msg.Role) == "" {
		return fmt.Errorf("%w: role is required", ErrInvalid)
	}
	return nil
}

func validateID(kind, id string) error {
	if strings.TrimSpace(id) == "" {
		return fmt.Errorf("%w: %s id is required", ErrInvalid, kind)
	}
	return nil
}

// Open returns a MemoryStore for driver "memory" and a GormStore otherwise.
func Open(driver, dsn string) (Store, error) {
	if strings.EqualFold(strings.TrimSpace(driver), "memory") {
		return NewMemoryStore(), nil
	}
	return NewGormStore(driver, dsn)
}
