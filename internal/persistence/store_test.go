package persistence

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/foremanlabs/foreman/internal/dag"
	"github.com/foremanlabs/foreman/internal/task"
)

// testStore creates an in-memory store for testing and registers cleanup.
func testStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewMemoryStore(context.Background())
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

func TestSaveAndGetTask(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	tk := &task.Task{
		ID:           "task-1",
		Title:        "Implement parser",
		Briefing:     "Write the config parser",
		Project:      "alpha",
		Priority:     task.PriorityHigh,
		AllowedFiles: []string{"internal/config/*.go"},
		BlockedFiles: []string{"cmd/**"},
		Dependencies: []string{"dep-1", "dep-2"},
		Status:       task.StatusInProgress,
		AssignedAgent: "agent-7",
		BranchName:    "foreman/task-1",
		Verification: &task.QCResult{
			Passed:  false,
			Summary: "two checks failed",
			Checks: []task.QCCheck{
				{Name: "build", Passed: true},
				{Name: "lint", Passed: false, Message: "unused import"},
			},
		},
		MaxTurns:   40,
		TokensUsed: 1200,
		CreatedAt:  time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
		StartedAt:  &started,
	}

	if err := store.SaveTask(ctx, tk); err != nil {
		t.Fatalf("failed to save task: %v", err)
	}

	got, err := store.GetTask(ctx, "task-1")
	if err != nil {
		t.Fatalf("failed to get task: %v", err)
	}

	if got.ID != tk.ID || got.Title != tk.Title || got.Briefing != tk.Briefing {
		t.Errorf("identity fields mismatch: got %+v", got)
	}
	if got.Status != tk.Status || got.Priority != tk.Priority || got.Project != tk.Project {
		t.Errorf("status/priority/project mismatch: got %s/%s/%s", got.Status, got.Priority, got.Project)
	}
	if got.AssignedAgent != "agent-7" || got.BranchName != "foreman/task-1" {
		t.Errorf("assignment fields mismatch: got %s/%s", got.AssignedAgent, got.BranchName)
	}
	if len(got.AllowedFiles) != 1 || len(got.BlockedFiles) != 1 || len(got.Dependencies) != 2 {
		t.Errorf("scope fields mismatch: %v %v %v", got.AllowedFiles, got.BlockedFiles, got.Dependencies)
	}
	if got.Verification == nil {
		t.Fatal("verification was not persisted")
	}
	if got.Verification.Passed || got.Verification.Summary != "two checks failed" {
		t.Errorf("verification mismatch: %+v", got.Verification)
	}
	if len(got.Verification.Checks) != 2 || got.Verification.Checks[1].Message != "unused import" {
		t.Errorf("verification checks mismatch: %+v", got.Verification.Checks)
	}
	if !got.CreatedAt.Equal(tk.CreatedAt) {
		t.Errorf("CreatedAt mismatch: got %v, want %v", got.CreatedAt, tk.CreatedAt)
	}
	if got.StartedAt == nil || !got.StartedAt.Equal(started) {
		t.Errorf("StartedAt mismatch: got %v, want %v", got.StartedAt, started)
	}
	if got.CompletedAt != nil {
		t.Errorf("CompletedAt should be nil, got %v", got.CompletedAt)
	}
	if got.MaxTurns != 40 || got.TokensUsed != 1200 {
		t.Errorf("budget fields mismatch: %d/%d", got.MaxTurns, got.TokensUsed)
	}
}

func TestSaveTaskIdempotent(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	tk := &task.Task{
		ID:        "task-idempotent",
		Title:     "Idempotent Task",
		Briefing:  "Test upserts",
		Priority:  task.PriorityMedium,
		Status:    task.StatusBacklog,
		CreatedAt: time.Now().UTC(),
	}

	if err := store.SaveTask(ctx, tk); err != nil {
		t.Fatalf("failed to save task: %v", err)
	}

	tk.Status = task.StatusDone
	tk.Verification = &task.QCResult{Passed: true, Summary: "all green"}

	if err := store.SaveTask(ctx, tk); err != nil {
		t.Fatalf("failed to save task second time: %v", err)
	}

	got, err := store.GetTask(ctx, "task-idempotent")
	if err != nil {
		t.Fatalf("failed to get task: %v", err)
	}
	if got.Status != task.StatusDone {
		t.Errorf("Status should be done after update, got %s", got.Status)
	}
	if got.Verification == nil || !got.Verification.Passed {
		t.Errorf("Verification should be updated, got %+v", got.Verification)
	}

	tasks, err := store.ListTasks(ctx)
	if err != nil {
		t.Fatalf("failed to list tasks: %v", err)
	}
	if len(tasks) != 1 {
		t.Errorf("upsert created a duplicate row: %d tasks", len(tasks))
	}
}

func TestGetTaskNotFound(t *testing.T) {
	store := testStore(t)

	_, err := store.GetTask(context.Background(), "nonexistent")
	if !errors.Is(err, task.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got: %v", err)
	}
}

func TestListTasks(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	// IDs sort in insertion order so listing is deterministic even when
	// rows share a creation timestamp.
	ids := []string{"list-a", "list-b", "list-c"}
	statuses := []task.Status{task.StatusDone, task.StatusInProgress, task.StatusBacklog}
	for i, id := range ids {
		tk := &task.Task{
			ID:        id,
			Title:     "Task " + id,
			Briefing:  "work",
			Priority:  task.PriorityMedium,
			Status:    statuses[i],
			CreatedAt: time.Now().UTC(),
		}
		if err := store.SaveTask(ctx, tk); err != nil {
			t.Fatalf("failed to save %s: %v", id, err)
		}
	}

	tasks, err := store.ListTasks(ctx)
	if err != nil {
		t.Fatalf("failed to list tasks: %v", err)
	}
	if len(tasks) != 3 {
		t.Fatalf("expected 3 tasks, got %d", len(tasks))
	}
	for i, id := range ids {
		if tasks[i].ID != id {
			t.Errorf("tasks[%d].ID = %s, want %s", i, tasks[i].ID, id)
		}
	}

	backlog, err := store.ListTasksByStatus(ctx, task.StatusBacklog)
	if err != nil {
		t.Fatalf("failed to list by status: %v", err)
	}
	if len(backlog) != 1 || backlog[0].ID != "list-c" {
		t.Errorf("backlog filter returned %v", backlog)
	}

	none, err := store.ListTasksByStatus(ctx, task.StatusFailed)
	if err != nil {
		t.Fatalf("failed to list by status: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("expected no failed tasks, got %d", len(none))
	}
}

func TestDeleteTask(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	tk := &task.Task{
		ID:        "delete-me",
		Title:     "Doomed",
		Briefing:  "short lived",
		Priority:  task.PriorityLow,
		Status:    task.StatusBacklog,
		CreatedAt: time.Now().UTC(),
	}
	if err := store.SaveTask(ctx, tk); err != nil {
		t.Fatalf("failed to save task: %v", err)
	}

	if err := store.DeleteTask(ctx, "delete-me"); err != nil {
		t.Fatalf("failed to delete task: %v", err)
	}
	if _, err := store.GetTask(ctx, "delete-me"); !errors.Is(err, task.ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got: %v", err)
	}
	if err := store.DeleteTask(ctx, "delete-me"); !errors.Is(err, task.ErrNotFound) {
		t.Errorf("expected ErrNotFound on second delete, got: %v", err)
	}
}

func TestTransitionsChronological(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	tk := &task.Task{
		ID:        "task-history",
		Title:     "History Task",
		Briefing:  "track me",
		Priority:  task.PriorityMedium,
		Status:    task.StatusBacklog,
		CreatedAt: time.Now().UTC(),
	}
	if err := store.SaveTask(ctx, tk); err != nil {
		t.Fatalf("failed to save task: %v", err)
	}

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	steps := []struct {
		from, to task.Status
		at       time.Time
	}{
		{task.StatusBacklog, task.StatusInProgress, base},
		{task.StatusInProgress, task.StatusReview, base.Add(5 * time.Minute)},
		// Same instant as the next row: insertion order must win.
		{task.StatusReview, task.StatusBacklog, base.Add(10 * time.Minute)},
		{task.StatusBacklog, task.StatusInProgress, base.Add(10 * time.Minute)},
	}
	for _, s := range steps {
		if err := store.RecordTransition(ctx, "task-history", s.from, s.to, s.at); err != nil {
			t.Fatalf("failed to record transition: %v", err)
		}
	}

	history, err := store.Transitions(ctx, "task-history")
	if err != nil {
		t.Fatalf("failed to load transitions: %v", err)
	}
	if len(history) != 4 {
		t.Fatalf("expected 4 transitions, got %d", len(history))
	}
	for i, s := range steps {
		if history[i].From != s.from || history[i].To != s.to {
			t.Errorf("transition[%d] = %s->%s, want %s->%s", i, history[i].From, history[i].To, s.from, s.to)
		}
		if !history[i].At.Equal(s.at) {
			t.Errorf("transition[%d] at = %v, want %v", i, history[i].At, s.at)
		}
	}

	empty, err := store.Transitions(ctx, "no-history")
	if err != nil {
		t.Fatalf("failed to load empty history: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("expected empty history, got %d rows", len(empty))
	}
}

func TestSaveAndGetDag(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	started := time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)
	d := &dag.Dag{
		ID:           "dag-1",
		Name:         "release pipeline",
		Project:      "alpha",
		Status:       dag.StatusRunning,
		ApprovalMode: dag.ApprovalManual,
		Nodes: []*dag.Node{
			{ID: "build", Type: dag.NodeTask, Title: "Build", Status: dag.NodeCompleted, Output: []string{"ok"}},
			{ID: "approve", Type: dag.NodeGate, Title: "Ship it", Gate: dag.GateAllPass, Status: dag.NodeWaitingApproval},
		},
		Edges:     []dag.Edge{{From: "build", To: "approve"}},
		CreatedAt: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
		StartedAt: &started,
	}

	if err := store.SaveDag(ctx, d); err != nil {
		t.Fatalf("failed to save dag: %v", err)
	}

	got, err := store.GetDag(ctx, "dag-1")
	if err != nil {
		t.Fatalf("failed to get dag: %v", err)
	}
	if got.ID != d.ID || got.Name != d.Name || got.Project != d.Project {
		t.Errorf("identity fields mismatch: %+v", got)
	}
	if got.Status != dag.StatusRunning || got.ApprovalMode != dag.ApprovalManual {
		t.Errorf("status/mode mismatch: %s/%s", got.Status, got.ApprovalMode)
	}
	if len(got.Nodes) != 2 || len(got.Edges) != 1 {
		t.Fatalf("graph shape mismatch: %d nodes, %d edges", len(got.Nodes), len(got.Edges))
	}
	build := got.Node("build")
	if build == nil || build.Status != dag.NodeCompleted || len(build.Output) != 1 {
		t.Errorf("build node mismatch: %+v", build)
	}
	gate := got.Node("approve")
	if gate == nil || gate.Gate != dag.GateAllPass || gate.Status != dag.NodeWaitingApproval {
		t.Errorf("gate node mismatch: %+v", gate)
	}
	if !got.CreatedAt.Equal(d.CreatedAt) {
		t.Errorf("CreatedAt mismatch: got %v, want %v", got.CreatedAt, d.CreatedAt)
	}
	if got.StartedAt == nil || !got.StartedAt.Equal(started) {
		t.Errorf("StartedAt mismatch: got %v", got.StartedAt)
	}
}

func TestSaveDagIdempotent(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	d := &dag.Dag{
		ID:           "dag-upsert",
		Name:         "pipeline",
		Status:       dag.StatusCreated,
		ApprovalMode: dag.ApprovalAuto,
		Nodes:        []*dag.Node{{ID: "a", Type: dag.NodeTask, Title: "A", Status: dag.NodePending}},
		CreatedAt:    time.Now().UTC(),
	}
	if err := store.SaveDag(ctx, d); err != nil {
		t.Fatalf("failed to save dag: %v", err)
	}

	d.Status = dag.StatusCompleted
	d.Nodes[0].Status = dag.NodeCompleted
	if err := store.SaveDag(ctx, d); err != nil {
		t.Fatalf("failed to save dag second time: %v", err)
	}

	got, err := store.GetDag(ctx, "dag-upsert")
	if err != nil {
		t.Fatalf("failed to get dag: %v", err)
	}
	if got.Status != dag.StatusCompleted {
		t.Errorf("Status should be completed after update, got %s", got.Status)
	}
	if got.Nodes[0].Status != dag.NodeCompleted {
		t.Errorf("node status should be completed, got %s", got.Nodes[0].Status)
	}

	dags, err := store.ListDags(ctx)
	if err != nil {
		t.Fatalf("failed to list dags: %v", err)
	}
	if len(dags) != 1 {
		t.Errorf("upsert created a duplicate row: %d dags", len(dags))
	}
}

func TestListDags(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	for _, id := range []string{"dag-a", "dag-b"} {
		d := &dag.Dag{
			ID:           id,
			Name:         "wf " + id,
			Status:       dag.StatusCreated,
			ApprovalMode: dag.ApprovalManual,
			CreatedAt:    time.Now().UTC(),
		}
		if err := store.SaveDag(ctx, d); err != nil {
			t.Fatalf("failed to save %s: %v", id, err)
		}
	}

	dags, err := store.ListDags(ctx)
	if err != nil {
		t.Fatalf("failed to list dags: %v", err)
	}
	if len(dags) != 2 {
		t.Fatalf("expected 2 dags, got %d", len(dags))
	}
	if dags[0].ID != "dag-a" || dags[1].ID != "dag-b" {
		t.Errorf("list order = %s, %s; want dag-a, dag-b", dags[0].ID, dags[1].ID)
	}
}

func TestDeleteDag(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	d := &dag.Dag{
		ID:           "dag-delete",
		Name:         "doomed",
		Status:       dag.StatusCreated,
		ApprovalMode: dag.ApprovalManual,
		CreatedAt:    time.Now().UTC(),
	}
	if err := store.SaveDag(ctx, d); err != nil {
		t.Fatalf("failed to save dag: %v", err)
	}

	if err := store.DeleteDag(ctx, "dag-delete"); err != nil {
		t.Fatalf("failed to delete dag: %v", err)
	}
	if _, err := store.GetDag(ctx, "dag-delete"); !errors.Is(err, dag.ErrDagNotFound) {
		t.Errorf("expected ErrDagNotFound after delete, got: %v", err)
	}
	if err := store.DeleteDag(ctx, "dag-delete"); !errors.Is(err, dag.ErrDagNotFound) {
		t.Errorf("expected ErrDagNotFound on second delete, got: %v", err)
	}
}
