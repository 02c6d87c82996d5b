package coordinator

import (
	"errors"
	"testing"

	"github.com/foremanlabs/foreman/internal/task"
)

func TestSubAgentDispatched(t *testing.T) {
	c := newTestCoordinator(2)
	parent, _ := c.AddTask(TaskParams{Title: "parent"})

	res, err := c.HandleSubAgentRequest(parent.ID, TaskParams{Title: "helper"})
	if err != nil {
		t.Fatalf("HandleSubAgentRequest: %v", err)
	}
	if res.Outcome != OutcomeDispatched {
		t.Errorf("outcome = %s, want dispatched", res.Outcome)
	}
	if got, _ := c.GetTask(res.TaskID); got.Status != task.StatusInProgress {
		t.Errorf("helper status = %s, want in_progress", got.Status)
	}
}

func TestSubAgentAtCapacity(t *testing.T) {
	c := newTestCoordinator(1)
	parent, _ := c.AddTask(TaskParams{Title: "parent"})

	res, err := c.HandleSubAgentRequest(parent.ID, TaskParams{Title: "helper"})
	if err != nil {
		t.Fatalf("HandleSubAgentRequest: %v", err)
	}
	if res.Outcome != OutcomeAtCapacity {
		t.Errorf("outcome = %s, want at_capacity", res.Outcome)
	}

	// The helper is still accepted and waits in the backlog.
	got, err := c.GetTask(res.TaskID)
	if err != nil {
		t.Fatalf("helper task not tracked: %v", err)
	}
	if got.Status != task.StatusBacklog {
		t.Errorf("helper status = %s, want backlog", got.Status)
	}
}

func TestSubAgentQueuedOnUnmetDependency(t *testing.T) {
	c := newTestCoordinator(3)
	parent, _ := c.AddTask(TaskParams{Title: "parent"})

	res, err := c.HandleSubAgentRequest(parent.ID, TaskParams{
		Title:        "helper",
		Dependencies: []string{parent.ID},
	})
	if err != nil {
		t.Fatalf("HandleSubAgentRequest: %v", err)
	}
	if res.Outcome != OutcomeQueued {
		t.Errorf("outcome = %s, want queued (capacity free, dependency unmet)", res.Outcome)
	}
	if got, _ := c.GetTask(res.TaskID); got.Status != task.StatusBacklog {
		t.Errorf("helper status = %s, want backlog", got.Status)
	}
}

func TestSubAgentUnknownParent(t *testing.T) {
	c := newTestCoordinator(2)

	_, err := c.HandleSubAgentRequest("ghost", TaskParams{Title: "helper"})
	if !errors.Is(err, task.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestSubAgentInactiveParent(t *testing.T) {
	c := newTestCoordinator(2)
	parent, _ := c.AddTask(TaskParams{Title: "parent"})
	c.FailTask(parent.ID, "crashed")

	if _, err := c.HandleSubAgentRequest(parent.ID, TaskParams{Title: "helper"}); err == nil {
		t.Error("expected error for inactive parent")
	}
}
