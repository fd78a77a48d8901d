package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps everything in process memory. It backs tests and the
// serve command when persistence is disabled with DB_DRIVER=memory.
type MemoryStore struct {
	mu        sync.Mutex
	projects  map[string]ProjectRecord
	sessions  map[string]SessionRecord
	messages  map[string][]MessageRecord
	order     map[string]int64
	seq       int64
	messageID int64
	closed    bool
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		projects: make(map[string]ProjectRecord),
		sessions: make(map[string]SessionRecord),
		messages: make(map[string][]MessageRecord),
		order:    make(map[string]int64),
	}
}

func (s *MemoryStore) CreateProject(_ context.Context, project ProjectRecord) (ProjectRecord, error) {
	rec, err := newProject(project, time.Now().UTC())
	if err != nil {
		return ProjectRecord{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ProjectRecord{}, fmt.Errorf("memory store is closed")
	}
	if _, ok := s.projects[rec.ID]; ok {
		return ProjectRecord{}, fmt.Errorf("%w: project %q already exists", ErrConflict, rec.ID)
	}
	if rec.Path != "" {
		for _, existing := range s.projects {
			if existing.Path == rec.Path {
				return ProjectRecord{}, fmt.Errorf("%w: project path %q already registered", ErrConflict, rec.Path)
			}
		}
	}
	s.projects[rec.ID] = rec
	s.touch("project:" + rec.ID)
	return rec, nil
}

func (s *MemoryStore) GetProject(_ context.Context, id string) (ProjectRecord, error) {
	if err := validateID("project", id); err != nil {
		return ProjectRecord{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ProjectRecord{}, fmt.Errorf("memory store is closed")
	}
	rec, ok := s.projects[id]
	if !ok || !rec.IsActive {
		return ProjectRecord{}, ErrNotFound
	}
	return rec, nil
}

func (s *MemoryStore) ListProjects(_ context.Context) ([]ProjectRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("memory store is closed")
	}

	out := make([]ProjectRecord, 0, len(s.projects))
	for _, rec := range s.projects {
		if rec.IsActive {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return s.order["project:"+out[i].ID] > s.order["project:"+out[j].ID]
	})
	return out, nil
}

func (s *MemoryStore) DeleteProject(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("memory store is closed")
	}
	rec, ok := s.projects[id]
	if !ok || !rec.IsActive {
		return ErrNotFound
	}
	rec.IsActive = false
	rec.UpdatedAt = time.Now().UTC()
	s.projects[id] = rec
	return nil
}

func (s *MemoryStore) CreateSession(_ context.Context, session SessionRecord) (SessionRecord, error) {
	rec, err := newSession(session, time.Now().UTC())
	if err != nil {
		return SessionRecord{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return SessionRecord{}, fmt.Errorf("memory store is closed")
	}
	if _, ok := s.sessions[rec.ID]; ok {
		return SessionRecord{}, fmt.Errorf("%w: session %q already exists", ErrConflict, rec.ID)
	}
	s.sessions[rec.ID] = rec
	s.touch("session:" + rec.ID)
	return rec, nil
}

func (s *MemoryStore) EnsureSession(_ context.Context, session SessionRecord) (SessionRecord, error) {
	now := time.Now().UTC()
	incoming, err := newSession(session, now)
	if err != nil {
		return SessionRecord{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return SessionRecord{}, fmt.Errorf("memory store is closed")
	}

	if existing, ok := s.sessions[incoming.ID]; ok {
		updated := mergeSession(existing, incoming, now)
		s.sessions[incoming.ID] = updated
		s.touch("session:" + incoming.ID)
		return updated, nil
	}
	s.sessions[incoming.ID] = incoming
	s.touch("session:" + incoming.ID)
	return incoming, nil
}

func (s *MemoryStore) GetSession(_ context.Context, id string) (SessionRecord, error) {
	if err := validateID("session", id); err != nil {
		return SessionRecord{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return SessionRecord{}, fmt.Errorf("memory store is closed")
	}
	rec, ok := s.sessions[id]
	if !ok || !rec.IsActive {
		return SessionRecord{}, ErrNotFound
	}
	return rec, nil
}

func (s *MemoryStore) ListSessions(_ context.Context) ([]SessionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("memory store is closed")
	}

	out := make([]SessionRecord, 0, len(s.sessions))
	for _, rec := range s.sessions {
		if rec.IsActive {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return s.order["session:"+out[i].ID] > s.order["session:"+out[j].ID]
	})
	return out, nil
}

func (s *MemoryStore) DeleteSession(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("memory store is closed")
	}
	rec, ok := s.sessions[id]
	if !ok || !rec.IsActive {
		return ErrNotFound
	}
	rec.IsActive = false
	rec.UpdatedAt = time.Now().UTC()
	s.sessions[id] = rec
	return nil
}

func (s *MemoryStore) UpdateSessionMetrics(_ context.Context, sessionID string, tokens int64, cost float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("memory store is closed")
	}
	rec, ok := s.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	rec.TotalTokens += tokens
	rec.TotalCost += cost
	rec.MessageCount++
	rec.UpdatedAt = time.Now().UTC()
	s.sessions[sessionID] = rec
	s.touch("session:" + sessionID)
	return nil
}

func (s *MemoryStore) AddMessage(_ context.Context, msg MessageRecord) (MessageRecord, error) {
	if err := validateMessage(msg); err != nil {
		return MessageRecord{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return MessageRecord{}, fmt.Errorf("memory store is closed")
	}
	s.messageID++
	msg.ID = s.messageID
	msg.CreatedAt = time.Now().UTC()
	s.messages[msg.SessionID] = append(s.messages[msg.SessionID], msg)
	return msg, nil
}

func (s *MemoryStore) ListMessages(_ context.Context, sessionID string, limit int) ([]MessageRecord, error) {
	if err := validateID("session", sessionID); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("memory store is closed")
	}
	msgs := s.messages[sessionID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[:limit]
	}
	out := make([]MessageRecord, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// touch records recency for list ordering; callers hold s.mu.
func (s *MemoryStore) touch(key string) {
	s.seq++
	s.order[key] = s.seq
}
