package claude

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"crabstack.local/claude-gateway/internal/apierr"
)

type fakeHandle struct {
	mu    sync.Mutex
	kills int
	reaps int
}

func (h *fakeHandle) Kill() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.kills++
	return nil
}

func (h *fakeHandle) Reap() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.reaps++
	return nil
}

func (h *fakeHandle) counts() (int, int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.kills, h.reaps
}

type fakeSpawner struct {
	mu        sync.Mutex
	nativeIDs []string
	handles   []*fakeHandle
	requests  []SpawnRequest
	err       error
}

func (s *fakeSpawner) Spawn(_ context.Context, req SpawnRequest) (Handle, *Stream, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, nil, "", s.err
	}
	nativeID := ""
	if len(s.nativeIDs) > 0 {
		nativeID = s.nativeIDs[0]
		s.nativeIDs = s.nativeIDs[1:]
	}
	handle := &fakeHandle{}
	s.handles = append(s.handles, handle)
	s.requests = append(s.requests, req)
	return handle, newStream(io.NopCloser(strings.NewReader(""))), nativeID, nil
}

func (s *fakeSpawner) handle(t *testing.T, index int) *fakeHandle {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if index >= len(s.handles) {
		t.Fatalf("expected at least %d spawned handles, got %d", index+1, len(s.handles))
	}
	return s.handles[index]
}

func TestManagerEnforcesCeiling(t *testing.T) {
	spawner := &fakeSpawner{}
	manager := NewManager(zerolog.Nop(), spawner, 2)
	ctx := context.Background()

	for _, id := range []string{"a", "b"} {
		if _, _, err := manager.CreateSession(ctx, id, SpawnRequest{Prompt: "hi"}); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}

	_, _, err := manager.CreateSession(ctx, "c", SpawnRequest{Prompt: "hi"})
	if !errors.Is(err, ErrCapacityReached) {
		t.Fatalf("expected capacity error, got %v", err)
	}
	if kind := apierr.KindOf(err); kind != apierr.KindServiceUnavailable {
		t.Fatalf("expected service unavailable, got %s", kind)
	}

	manager.SessionFinished("a")
	if _, reaps := spawner.handle(t, 0).counts(); reaps != 1 {
		t.Fatalf("expected finished session to be reaped once, got %d", reaps)
	}

	if _, _, err := manager.CreateSession(ctx, "c", SpawnRequest{Prompt: "hi"}); err != nil {
		t.Fatalf("expected creation to succeed after a session finished, got %v", err)
	}
	manager.StopSession("b")
	if _, _, err := manager.CreateSession(ctx, "d", SpawnRequest{Prompt: "hi"}); err != nil {
		t.Fatalf("expected creation to succeed after a session stopped, got %v", err)
	}
}

func TestManagerStopSessionIdempotent(t *testing.T) {
	spawner := &fakeSpawner{}
	manager := NewManager(zerolog.Nop(), spawner, 4)

	manager.StopSession("unknown")
	if manager.ActiveCount() != 0 {
		t.Fatalf("expected no sessions")
	}

	if _, _, err := manager.CreateSession(context.Background(), "a", SpawnRequest{}); err != nil {
		t.Fatalf("create: %v", err)
	}
	manager.StopSession("a")
	manager.StopSession("a")
	manager.SessionFinished("a")

	kills, reaps := spawner.handle(t, 0).counts()
	if kills != 1 || reaps != 0 {
		t.Fatalf("expected exactly one kill and no reap, got kills=%d reaps=%d", kills, reaps)
	}
	if _, ok := manager.Status("a"); ok {
		t.Fatalf("expected stopped session to be untracked")
	}
}

func TestManagerKeysByNativeID(t *testing.T) {
	spawner := &fakeSpawner{nativeIDs: []string{"native-1"}}
	manager := NewManager(zerolog.Nop(), spawner, 4)

	_, nativeID, err := manager.CreateSession(context.Background(), "client-1", SpawnRequest{Model: "claude-opus-4-6"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if nativeID != "native-1" {
		t.Fatalf("expected native id, got %q", nativeID)
	}
	if _, ok := manager.Status("client-1"); ok {
		t.Fatalf("expected session not tracked under the client id")
	}
	status, ok := manager.Status("native-1")
	if !ok {
		t.Fatalf("expected session tracked under the native id")
	}
	if status.ClientID != "client-1" || status.Model != "claude-opus-4-6" || status.State != StateStreaming {
		t.Fatalf("unexpected status %+v", status)
	}
}

func TestManagerActiveSessionIDsSorted(t *testing.T) {
	manager := NewManager(zerolog.Nop(), &fakeSpawner{}, 5)
	for _, id := range []string{"c", "a", "b"} {
		if _, _, err := manager.CreateSession(context.Background(), id, SpawnRequest{}); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}
	ids := manager.ActiveSessionIDs()
	if strings.Join(ids, ",") != "a,b,c" {
		t.Fatalf("expected sorted ids a,b,c, got %v", ids)
	}
	if manager.ActiveCount() != 3 {
		t.Fatalf("expected 3 active sessions, got %d", manager.ActiveCount())
	}
}

func TestManagerCleanupAll(t *testing.T) {
	spawner := &fakeSpawner{}
	manager := NewManager(zerolog.Nop(), spawner, 5)
	for _, id := range []string{"a", "b", "c"} {
		if _, _, err := manager.CreateSession(context.Background(), id, SpawnRequest{}); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}

	manager.CleanupAll()
	if manager.ActiveCount() != 0 {
		t.Fatalf("expected no active sessions after cleanup, got %d", manager.ActiveCount())
	}
	for i := 0; i < 3; i++ {
		if kills, _ := spawner.handle(t, i).counts(); kills != 1 {
			t.Fatalf("expected handle %d killed once, got %d", i, kills)
		}
	}
}

func TestManagerSpawnErrorIsNotTracked(t *testing.T) {
	spawnErr := apierr.ServiceUnavailable(ErrCLINotFound, "failed to spawn claude")
	manager := NewManager(zerolog.Nop(), &fakeSpawner{err: spawnErr}, 1)

	_, _, err := manager.CreateSession(context.Background(), "a", SpawnRequest{})
	if !errors.Is(err, ErrCLINotFound) {
		t.Fatalf("expected spawn error, got %v", err)
	}
	if manager.ActiveCount() != 0 {
		t.Fatalf("expected failed spawn not to be tracked")
	}
}

func TestManagerReusedKeyStopsPreviousProcess(t *testing.T) {
	spawner := &fakeSpawner{}
	manager := NewManager(zerolog.Nop(), spawner, 5)
	for i := 0; i < 2; i++ {
		if _, _, err := manager.CreateSession(context.Background(), "same", SpawnRequest{}); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	if kills, _ := spawner.handle(t, 0).counts(); kills != 1 {
		t.Fatalf("expected replaced process killed, got %d", kills)
	}
	if manager.ActiveCount() != 1 {
		t.Fatalf("expected one tracked session, got %d", manager.ActiveCount())
	}
}

func TestManagerStopOlderThan(t *testing.T) {
	spawner := &fakeSpawner{}
	manager := NewManager(zerolog.Nop(), spawner, 5)

	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	manager.now = func() time.Time { return now }
	if _, _, err := manager.CreateSession(context.Background(), "old", SpawnRequest{}); err != nil {
		t.Fatalf("create old: %v", err)
	}
	now = now.Add(20 * time.Minute)
	if _, _, err := manager.CreateSession(context.Background(), "new", SpawnRequest{}); err != nil {
		t.Fatalf("create new: %v", err)
	}
	now = now.Add(15 * time.Minute)

	stopped := manager.StopOlderThan(30 * time.Minute)
	if len(stopped) != 1 || stopped[0] != "old" {
		t.Fatalf("expected only old stopped, got %v", stopped)
	}
	if _, ok := manager.Status("new"); !ok {
		t.Fatalf("expected new session still tracked")
	}
}
