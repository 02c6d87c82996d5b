package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/foremanlabs/foreman/internal/config"
	"github.com/foremanlabs/foreman/internal/task"
)

// fakeStore records persistence calls for assertions.
type fakeStore struct {
	mu          sync.Mutex
	saved       map[string]*task.Task
	transitions []string
	deleted     []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{saved: make(map[string]*task.Task)}
}

func (s *fakeStore) SaveTask(ctx context.Context, t *task.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved[t.ID] = t
	return nil
}

func (s *fakeStore) DeleteTask(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = append(s.deleted, id)
	return nil
}

func (s *fakeStore) RecordTransition(ctx context.Context, taskID string, from, to task.Status, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transitions = append(s.transitions, fmt.Sprintf("%s:%s->%s", taskID, from, to))
	return nil
}

func (s *fakeStore) transitionLog() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.transitions...)
}

func testConfig(capacity int) *config.Config {
	cfg := config.DefaultConfig()
	cfg.MaxConcurrentAgents = capacity
	return cfg
}

func newTestCoordinator(capacity int) *Coordinator {
	return New(testConfig(capacity), Options{})
}

func TestGetTaskNotFound(t *testing.T) {
	c := newTestCoordinator(1)
	_, err := c.GetTask("missing")
	if !errors.Is(err, task.ErrNotFound) {
		t.Errorf("GetTask error = %v, want ErrNotFound", err)
	}
}

func TestGetStateSnapshot(t *testing.T) {
	c := newTestCoordinator(1)

	first, err := c.AddTask(TaskParams{Title: "first"})
	if err != nil {
		t.Fatalf("AddTask: %v", err)
	}
	if _, err := c.AddTask(TaskParams{Title: "second"}); err != nil {
		t.Fatalf("AddTask: %v", err)
	}

	state := c.GetState()
	if len(state.Tasks) != 2 {
		t.Fatalf("state tasks = %d, want 2", len(state.Tasks))
	}
	if state.ActiveAgents != 1 {
		t.Errorf("active agents = %d, want 1", state.ActiveAgents)
	}
	if state.QueueDepth != 1 {
		t.Errorf("queue depth = %d, want 1", state.QueueDepth)
	}
	if !state.AtCapacity {
		t.Error("expected at capacity with limit 1 and one active task")
	}

	// Snapshot must be detached from internal state.
	state.Tasks[0].Title = "mutated"
	got, _ := c.GetTask(first.ID)
	if got.Title == "mutated" {
		t.Error("GetState returned shared task pointers")
	}
}

func TestActiveAgentsDerivedFromStatus(t *testing.T) {
	c := newTestCoordinator(3)

	a, _ := c.AddTask(TaskParams{Title: "a"})
	b, _ := c.AddTask(TaskParams{Title: "b"})

	if got := c.ActiveAgents(); got != 2 {
		t.Fatalf("ActiveAgents() = %d, want 2", got)
	}

	// The count drops the moment a run ends; review and commit review do
	// not occupy an agent.
	if err := c.OnTaskComplete(a.ID, ""); err != nil {
		t.Fatalf("OnTaskComplete: %v", err)
	}
	if got := c.ActiveAgents(); got != 1 {
		t.Errorf("ActiveAgents() = %d, want 1 with one task in review", got)
	}
	if err := c.OnQCComplete(a.ID, &task.QCResult{Passed: true}); err != nil {
		t.Fatalf("OnQCComplete: %v", err)
	}
	if got := c.ActiveAgents(); got != 1 {
		t.Errorf("ActiveAgents() = %d, want 1 with one task in commit review", got)
	}

	if err := c.ApproveTask(a.ID); err != nil {
		t.Fatalf("ApproveTask: %v", err)
	}
	if err := c.FailTask(b.ID, "boom"); err != nil {
		t.Fatalf("FailTask: %v", err)
	}
	if got := c.ActiveAgents(); got != 0 {
		t.Errorf("ActiveAgents() = %d, want 0 after failure", got)
	}
}

func TestUpdateConfigPartial(t *testing.T) {
	c := newTestCoordinator(2)

	limit := 5
	auto := false
	if err := c.UpdateConfig(ConfigUpdate{MaxConcurrentAgents: &limit, AutoQC: &auto}); err != nil {
		t.Fatalf("UpdateConfig: %v", err)
	}

	cfg := c.GetConfig()
	if cfg.MaxConcurrentAgents != 5 {
		t.Errorf("MaxConcurrentAgents = %d, want 5", cfg.MaxConcurrentAgents)
	}
	if cfg.AutoQC {
		t.Error("AutoQC should be false after update")
	}
	// Untouched fields survive.
	if cfg.DefaultAgent != "coder" {
		t.Errorf("DefaultAgent = %q, want coder", cfg.DefaultAgent)
	}
}

func TestUpdateConfigRejectsInvalid(t *testing.T) {
	c := newTestCoordinator(2)

	zero := 0
	if err := c.UpdateConfig(ConfigUpdate{MaxConcurrentAgents: &zero}); err == nil {
		t.Fatal("expected error for zero agent limit")
	}
	if got := c.GetConfig().MaxConcurrentAgents; got != 2 {
		t.Errorf("config changed despite rejected update: %d", got)
	}
}

func TestRaisingCapacityAllowsDispatch(t *testing.T) {
	c := newTestCoordinator(1)

	c.AddTask(TaskParams{Title: "a"})
	b, _ := c.AddTask(TaskParams{Title: "b"})

	if got, _ := c.GetTask(b.ID); got.Status != task.StatusBacklog {
		t.Fatalf("task b status = %s, want backlog at capacity", got.Status)
	}

	limit := 2
	if err := c.UpdateConfig(ConfigUpdate{MaxConcurrentAgents: &limit}); err != nil {
		t.Fatalf("UpdateConfig: %v", err)
	}
	id, dispatched := c.ProcessBacklog()
	if !dispatched || id != b.ID {
		t.Fatalf("ProcessBacklog = (%q, %v), want (%q, true)", id, dispatched, b.ID)
	}
}

func TestPersistenceRecordsTransitions(t *testing.T) {
	store := newFakeStore()
	c := New(testConfig(1), Options{Store: store})

	created, err := c.AddTask(TaskParams{Title: "tracked"})
	if err != nil {
		t.Fatalf("AddTask: %v", err)
	}
	if err := c.OnTaskComplete(created.ID, ""); err != nil {
		t.Fatalf("OnTaskComplete: %v", err)
	}

	log := store.transitionLog()
	want := []string{
		created.ID + ":backlog->in_progress",
		created.ID + ":in_progress->review",
	}
	if len(log) != len(want) {
		t.Fatalf("transition log = %v, want %v", log, want)
	}
	for i := range want {
		if log[i] != want[i] {
			t.Errorf("transition[%d] = %s, want %s", i, log[i], want[i])
		}
	}

	store.mu.Lock()
	saved := store.saved[created.ID]
	store.mu.Unlock()
	if saved == nil || saved.Status != task.StatusReview {
		t.Errorf("persisted task = %+v, want review status", saved)
	}
}

func TestClear(t *testing.T) {
	c := newTestCoordinator(1)
	created, _ := c.AddTask(TaskParams{Title: "gone"})

	c.Clear()

	if _, err := c.GetTask(created.ID); !errors.Is(err, task.ErrNotFound) {
		t.Errorf("GetTask after Clear = %v, want ErrNotFound", err)
	}
	if state := c.GetState(); len(state.Tasks) != 0 || state.QueueDepth != 0 {
		t.Errorf("state after Clear = %+v, want empty", state)
	}
}
