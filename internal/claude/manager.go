package claude

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"crabstack.local/claude-gateway/internal/apierr"
)

var ErrCapacityReached = errors.New("maximum concurrent sessions reached")

type State string

const (
	StateCreated   State = "created"
	StateStreaming State = "streaming"
	StateFinished  State = "finished"
	StateKilled    State = "killed"
	StateReaped    State = "reaped"
)

// Handle is the manager's view of a spawned backend process.
type Handle interface {
	Kill() error
	Reap() error
}

type Spawner interface {
	Spawn(ctx context.Context, req SpawnRequest) (Handle, *Stream, string, error)
}

type driverSpawner struct {
	driver *Driver
}

// DriverSpawner adapts d to the Spawner interface.
func DriverSpawner(d *Driver) Spawner {
	return driverSpawner{driver: d}
}

func (s driverSpawner) Spawn(ctx context.Context, req SpawnRequest) (Handle, *Stream, string, error) {
	process, stream, nativeID, err := s.driver.Spawn(ctx, req)
	if err != nil {
		return nil, nil, "", err
	}
	return process, stream, nativeID, nil
}

type SessionStatus struct {
	ID        string    `json:"id"`
	ClientID  string    `json:"client_id"`
	NativeID  string    `json:"native_id,omitempty"`
	Model     string    `json:"model"`
	State     State     `json:"state"`
	StartedAt time.Time `json:"started_at"`
}

type session struct {
	status SessionStatus
	handle Handle
}

// Manager tracks in-flight backend processes and enforces the concurrency
// ceiling. The ceiling is checked before spawning and the entry inserted
// after, so concurrent creations can briefly overshoot it.
type Manager struct {
	logger        zerolog.Logger
	spawner       Spawner
	maxConcurrent int
	now           func() time.Time

	mu       sync.RWMutex
	sessions map[string]*session
}

func NewManager(logger zerolog.Logger, spawner Spawner, maxConcurrent int) *Manager {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Manager{
		logger:        logger.With().Str("component", "claude_manager").Logger(),
		spawner:       spawner,
		maxConcurrent: maxConcurrent,
		now:           time.Now,
		sessions:      make(map[string]*session),
	}
}

// CreateSession spawns a backend process and tracks it under the CLI-assigned
// session id when one was reported, else under clientID.
func (m *Manager) CreateSession(ctx context.Context, clientID string, req SpawnRequest) (*Stream, string, error) {
	m.mu.RLock()
	count := len(m.sessions)
	m.mu.RUnlock()
	if count >= m.maxConcurrent {
		return nil, "", apierr.ServiceUnavailable(ErrCapacityReached, "maximum concurrent sessions (%d) reached", m.maxConcurrent)
	}

	handle, stream, nativeID, err := m.spawner.Spawn(ctx, req)
	if err != nil {
		return nil, "", err
	}

	key := clientID
	if nativeID != "" {
		key = nativeID
	}
	tracked := &session{
		handle: handle,
		status: SessionStatus{
			ID:        key,
			ClientID:  clientID,
			NativeID:  nativeID,
			Model:     req.Model,
			State:     StateStreaming,
			StartedAt: m.now(),
		},
	}

	m.mu.Lock()
	replaced := m.sessions[key]
	m.sessions[key] = tracked
	m.mu.Unlock()

	if replaced != nil {
		m.logger.Warn().Str("session_id", key).Msg("session id reused, stopping previous process")
		m.release(replaced, StateKilled)
	}

	m.logger.Info().
		Str("session_id", key).
		Str("client_session_id", clientID).
		Str("model", req.Model).
		Msg("claude session started")
	return stream, nativeID, nil
}

// StopSession kills the session's process. Unknown ids are a no-op.
func (m *Manager) StopSession(id string) {
	if tracked := m.remove(id); tracked != nil {
		m.release(tracked, StateKilled)
	}
}

// SessionFinished untracks the session and waits for its process to exit.
func (m *Manager) SessionFinished(id string) {
	if tracked := m.remove(id); tracked != nil {
		m.release(tracked, StateFinished)
	}
}

// CleanupAll kills every tracked session.
func (m *Manager) CleanupAll() {
	m.mu.Lock()
	drained := make([]*session, 0, len(m.sessions))
	for id, tracked := range m.sessions {
		drained = append(drained, tracked)
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, tracked := range drained {
		wg.Add(1)
		go func(tracked *session) {
			defer wg.Done()
			m.release(tracked, StateKilled)
		}(tracked)
	}
	wg.Wait()
}

// StopOlderThan kills sessions tracked for longer than maxAge and returns
// their ids in sorted order.
func (m *Manager) StopOlderThan(maxAge time.Duration) []string {
	cutoff := m.now().Add(-maxAge)

	m.mu.RLock()
	expired := make([]string, 0)
	for id, tracked := range m.sessions {
		if tracked.status.StartedAt.Before(cutoff) {
			expired = append(expired, id)
		}
	}
	m.mu.RUnlock()

	sort.Strings(expired)
	for _, id := range expired {
		m.StopSession(id)
	}
	return expired
}

func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func (m *Manager) ActiveSessionIDs() []string {
	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	sort.Strings(ids)
	return ids
}

func (m *Manager) Status(id string) (SessionStatus, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tracked, ok := m.sessions[id]
	if !ok {
		return SessionStatus{}, false
	}
	return tracked.status, true
}

func (m *Manager) MaxConcurrent() int {
	return m.maxConcurrent
}

func (m *Manager) remove(id string) *session {
	m.mu.Lock()
	defer m.mu.Unlock()
	tracked, ok := m.sessions[id]
	if !ok {
		return nil
	}
	delete(m.sessions, id)
	return tracked
}

func (m *Manager) release(tracked *session, state State) {
	tracked.status.State = state
	m.logger.Info().Str("session_id", tracked.status.ID).Str("state", string(state)).Msg("claude session ended")

	var err error
	if state == StateKilled {
		err = tracked.handle.Kill()
	} else {
		err = tracked.handle.Reap()
	}

	tracked.status.State = StateReaped
	event := m.logger.Debug().Str("session_id", tracked.status.ID).Str("state", string(StateReaped))
	if err != nil {
		event = event.AnErr("exit", err)
	}
	event.Msg("claude process reaped")
}
