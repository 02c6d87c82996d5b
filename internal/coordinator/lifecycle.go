package coordinator

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/foremanlabs/foreman/internal/events"
	"github.com/foremanlabs/foreman/internal/task"
)

// TaskParams describes a task to create.
type TaskParams struct {
	Title        string
	Briefing     string
	Project      string
	Priority     task.Priority
	Agent        string // role key, defaults to config
	MaxTurns     int    // defaults to role or config
	AllowedFiles []string
	BlockedFiles []string
	Dependencies []string
}

// AddTask creates a task in the backlog and immediately tries to fill free
// capacity. Returns a copy of the created task.
func (c *Coordinator) AddTask(params TaskParams) (*task.Task, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	t, err := c.addTaskLocked(params)
	if err != nil {
		return nil, err
	}
	c.processBacklogLocked()

	return c.tasks[t.ID].Clone(), nil
}

func (c *Coordinator) addTaskLocked(params TaskParams) (*task.Task, error) {
	if params.Title == "" {
		return nil, fmt.Errorf("task title must not be empty")
	}

	priority := params.Priority
	if priority == "" {
		priority = task.PriorityMedium
	}
	if !priority.IsValid() {
		return nil, fmt.Errorf("invalid priority %q", priority)
	}

	agent := params.Agent
	if agent == "" {
		agent = c.cfg.DefaultAgent
	}

	maxTurns := params.MaxTurns
	if maxTurns <= 0 {
		if role, ok := c.cfg.Agents[agent]; ok && role.MaxTurns > 0 {
			maxTurns = role.MaxTurns
		} else {
			maxTurns = c.cfg.DefaultMaxTurns
		}
	}

	now := time.Now()
	t := &task.Task{
		ID:            uuid.New().String(),
		Title:         params.Title,
		Briefing:      params.Briefing,
		Project:       params.Project,
		Priority:      priority,
		AllowedFiles:  append([]string(nil), params.AllowedFiles...),
		BlockedFiles:  append([]string(nil), params.BlockedFiles...),
		Dependencies:  append([]string(nil), params.Dependencies...),
		Status:        task.StatusBacklog,
		AssignedAgent: agent,
		MaxTurns:      maxTurns,
		CreatedAt:     now,
	}

	c.tasks[t.ID] = t
	c.queue.Enqueue(t)
	c.persistTask(t)

	if c.metrics != nil {
		c.metrics.TasksEnqueued.Inc()
	}
	c.updateGaugesLocked()

	c.publish(events.TaskEnqueuedEvent{
		ID:        t.ID,
		Title:     t.Title,
		Priority:  string(t.Priority),
		Timestamp: now,
	})

	return t, nil
}

// ProcessBacklog dispatches the next eligible task if capacity allows.
// Returns the dispatched task's ID, or ("", false) when nothing was
// dispatched.
func (c *Coordinator) ProcessBacklog() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.processBacklogLocked()
}

func (c *Coordinator) processBacklogLocked() (string, bool) {
	if c.atCapacityLocked() {
		return "", false
	}

	next := c.queue.Dequeue()
	if next == nil {
		return "", false
	}

	t, ok := c.tasks[next.ID]
	if !ok {
		c.logger.Error("dequeued unknown task", "task", next.ID)
		return "", false
	}

	now := time.Now()
	if _, err := c.transitionLocked(t, task.StatusInProgress, now); err != nil {
		c.logger.Error("dispatch failed", "task", t.ID, "error", err)
		return "", false
	}

	if t.AssignedAgent == "" {
		t.AssignedAgent = c.cfg.DefaultAgent
	}
	if t.BranchName == "" {
		t.BranchName = t.DeriveBranch()
	}
	c.queue.Update(t)
	c.persistTask(t)

	if c.metrics != nil {
		c.metrics.TasksDispatched.Inc()
	}
	c.updateGaugesLocked()

	c.publish(events.TaskStartedEvent{
		ID:        t.ID,
		Title:     t.Title,
		Agent:     t.AssignedAgent,
		Branch:    t.BranchName,
		Timestamp: now,
	})

	return t.ID, true
}

// OnTaskComplete records that the agent finished its run; the task moves to
// review and waits for verification, keeping the agent's final report. The
// freed slot goes straight back to the backlog.
func (c *Coordinator) OnTaskComplete(id, output string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	t, ok := c.tasks[id]
	if !ok {
		return fmt.Errorf("%w: %s", task.ErrNotFound, id)
	}
	if t.Status == task.StatusReview {
		return nil
	}
	if t.Status != task.StatusInProgress {
		return fmt.Errorf("%w: %s -> %s for task %s", task.ErrInvalidTransition, t.Status, task.StatusReview, t.ID)
	}

	now := time.Now()
	t.Output = output
	if _, err := c.transitionLocked(t, task.StatusReview, now); err != nil {
		return err
	}
	c.updateGaugesLocked()

	var duration time.Duration
	if t.StartedAt != nil {
		duration = now.Sub(*t.StartedAt)
	}

	c.publish(events.TaskCompletedEvent{
		ID:        t.ID,
		Title:     t.Title,
		Duration:  duration,
		Timestamp: now,
	})

	c.processBacklogLocked()

	return nil
}

// OnQCComplete records a verification result. Passing moves the task to
// commit review. Failing appends the findings to the briefing and requeues
// the task, freeing capacity for the next dispatch.
func (c *Coordinator) OnQCComplete(id string, res *task.QCResult) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	t, ok := c.tasks[id]
	if !ok {
		return fmt.Errorf("%w: %s", task.ErrNotFound, id)
	}
	if res == nil {
		return fmt.Errorf("nil verification result for task %s", id)
	}

	now := time.Now()

	if res.Passed {
		if t.Status == task.StatusCommitReview || t.Status == task.StatusDone {
			return nil
		}
		if t.Status != task.StatusReview {
			return fmt.Errorf("%w: %s -> %s for task %s", task.ErrInvalidTransition, t.Status, task.StatusCommitReview, t.ID)
		}
		t.Verification = res.Clone()
		if _, err := c.transitionLocked(t, task.StatusCommitReview, now); err != nil {
			return err
		}
		if c.metrics != nil {
			c.metrics.QCRuns.WithLabelValues("pass").Inc()
		}
		c.publish(events.TaskQCPassedEvent{
			ID:        t.ID,
			Summary:   res.Summary,
			Timestamp: now,
		})
		if c.cfg.AutoMergeOnQCPass {
			// Commit review is skipped; the task completes on the spot.
			return c.approveLocked(t, now)
		}
		return nil
	}

	if t.Status == task.StatusBacklog {
		return nil
	}
	if t.Status != task.StatusReview {
		return fmt.Errorf("%w: %s -> %s for task %s", task.ErrInvalidTransition, t.Status, task.StatusBacklog, t.ID)
	}

	t.Verification = res.Clone()
	t.AppendQCFeedback(res, now)
	t.ResetForRetry()
	if _, err := c.transitionLocked(t, task.StatusBacklog, now); err != nil {
		return err
	}
	c.queue.Enqueue(t)

	if c.metrics != nil {
		c.metrics.QCRuns.WithLabelValues("fail").Inc()
		c.metrics.TasksRequeued.Inc()
	}
	c.updateGaugesLocked()

	var failedNames []string
	for _, check := range res.FailedChecks() {
		failedNames = append(failedNames, check.Name)
	}
	c.publish(events.TaskQCFailedEvent{
		ID:           t.ID,
		Summary:      res.Summary,
		FailedChecks: failedNames,
		Timestamp:    now,
	})

	// The requeued task may dispatch again right away.
	c.processBacklogLocked()

	return nil
}

// ApproveTask moves a task from commit review to done. Approving a task
// that is already done is a no-op.
func (c *Coordinator) ApproveTask(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	t, ok := c.tasks[id]
	if !ok {
		return fmt.Errorf("%w: %s", task.ErrNotFound, id)
	}

	return c.approveLocked(t, time.Now())
}

func (c *Coordinator) approveLocked(t *task.Task, now time.Time) error {
	changed, err := c.transitionLocked(t, task.StatusDone, now)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}

	if c.metrics != nil {
		c.metrics.TasksCompleted.Inc()
	}
	c.updateGaugesLocked()

	c.publish(events.TaskApprovedEvent{ID: t.ID, Timestamp: now})

	// Completion may unblock tasks that depend on this one.
	c.processBacklogLocked()

	return nil
}

// RejectTask sends a commit-review task back to the backlog with a note.
// Rejecting a task already in the backlog is a no-op.
func (c *Coordinator) RejectTask(id, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	t, ok := c.tasks[id]
	if !ok {
		return fmt.Errorf("%w: %s", task.ErrNotFound, id)
	}
	if t.Status == task.StatusBacklog {
		return nil
	}
	if t.Status != task.StatusCommitReview {
		return fmt.Errorf("%w: %s -> %s for task %s", task.ErrInvalidTransition, t.Status, task.StatusBacklog, t.ID)
	}

	now := time.Now()
	if reason != "" {
		t.AppendNote("Rejected in commit review: "+reason, now)
	}
	t.ResetForRetry()
	if _, err := c.transitionLocked(t, task.StatusBacklog, now); err != nil {
		return err
	}
	c.queue.Enqueue(t)

	if c.metrics != nil {
		c.metrics.TasksRequeued.Inc()
	}
	c.updateGaugesLocked()

	c.publish(events.TaskRejectedEvent{ID: t.ID, Reason: reason, Timestamp: now})

	c.processBacklogLocked()

	return nil
}

// FailTask marks an active task as failed.
func (c *Coordinator) FailTask(id, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	t, ok := c.tasks[id]
	if !ok {
		return fmt.Errorf("%w: %s", task.ErrNotFound, id)
	}

	now := time.Now()
	changed, err := c.transitionLocked(t, task.StatusFailed, now)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}

	if c.metrics != nil {
		c.metrics.TasksFailed.Inc()
	}
	c.updateGaugesLocked()

	c.publish(events.TaskFailedEvent{ID: t.ID, Reason: reason, Timestamp: now})

	c.processBacklogLocked()

	return nil
}

// UpdateTaskStatus applies an explicit status change, enforcing the
// transition rules. Moving a task back to backlog requeues it.
func (c *Coordinator) UpdateTaskStatus(id string, to task.Status) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	t, ok := c.tasks[id]
	if !ok {
		return fmt.Errorf("%w: %s", task.ErrNotFound, id)
	}
	if !to.IsValid() {
		return fmt.Errorf("invalid status %q", to)
	}

	now := time.Now()
	changed, err := c.transitionLocked(t, to, now)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}

	if to == task.StatusBacklog {
		t.ResetForRetry()
		c.queue.Enqueue(t)
	}
	c.updateGaugesLocked()

	return nil
}

// RecordTokenUsage adds to a task's token count.
func (c *Coordinator) RecordTokenUsage(id string, tokens int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	t, ok := c.tasks[id]
	if !ok {
		return fmt.Errorf("%w: %s", task.ErrNotFound, id)
	}

	t.TokensUsed += tokens
	c.queue.Update(t)
	c.persistTask(t)
	return nil
}

// RemoveTask deletes a task that is not currently active.
func (c *Coordinator) RemoveTask(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	t, ok := c.tasks[id]
	if !ok {
		return fmt.Errorf("%w: %s", task.ErrNotFound, id)
	}
	if t.Status.IsActive() {
		return fmt.Errorf("cannot remove task %s while %s", id, t.Status)
	}

	c.queue.Remove(id)
	delete(c.tasks, id)
	c.updateGaugesLocked()

	if c.store != nil {
		ctx, cancel := contextWithPersistTimeout()
		defer cancel()
		if err := c.store.DeleteTask(ctx, id); err != nil {
			c.logger.Warn("failed to delete task", "task", id, "error", err)
		}
	}

	return nil
}
