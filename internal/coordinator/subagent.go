package coordinator

import (
	"fmt"

	"github.com/foremanlabs/foreman/internal/task"
)

// SubAgentOutcome tells the requesting agent what happened to its request.
type SubAgentOutcome string

const (
	// OutcomeDispatched means the helper task started immediately.
	OutcomeDispatched SubAgentOutcome = "dispatched"
	// OutcomeQueued means the helper task waits on priority or dependencies.
	OutcomeQueued SubAgentOutcome = "queued"
	// OutcomeAtCapacity means every agent slot was taken when the request
	// arrived.
	OutcomeAtCapacity SubAgentOutcome = "at_capacity"
)

// SubAgentResult is the answer to a sub-agent request.
type SubAgentResult struct {
	TaskID  string
	Outcome SubAgentOutcome
}

// HandleSubAgentRequest lets an active agent spawn a helper task. The
// request is always accepted into the backlog; the outcome reports whether
// it started right away, is waiting its turn, or hit the capacity limit.
func (c *Coordinator) HandleSubAgentRequest(parentID string, params TaskParams) (*SubAgentResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	parent, ok := c.tasks[parentID]
	if !ok {
		return nil, fmt.Errorf("%w: parent %s", task.ErrNotFound, parentID)
	}
	if !parent.Status.IsActive() {
		return nil, fmt.Errorf("parent task %s is not active (status %s)", parentID, parent.Status)
	}

	t, err := c.addTaskLocked(params)
	if err != nil {
		return nil, err
	}

	atCapacity := c.atCapacityLocked()
	dispatchedID, dispatched := c.processBacklogLocked()

	outcome := OutcomeQueued
	switch {
	case dispatched && dispatchedID == t.ID:
		outcome = OutcomeDispatched
	case atCapacity:
		outcome = OutcomeAtCapacity
	}

	c.logger.Info("sub-agent request handled",
		"parent", parentID,
		"task", t.ID,
		"outcome", outcome)

	return &SubAgentResult{TaskID: t.ID, Outcome: outcome}, nil
}
