// Package coordinator drives tasks through their lifecycle: backlog,
// dispatch to an agent, review, verification, commit review, and finally
// done or failed. Capacity is enforced by counting tasks dispatched to an
// agent against the configured limit; a slot frees as soon as the agent
// run ends, not when the task is signed off.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/foremanlabs/foreman/internal/config"
	"github.com/foremanlabs/foreman/internal/events"
	"github.com/foremanlabs/foreman/internal/metrics"
	"github.com/foremanlabs/foreman/internal/queue"
	"github.com/foremanlabs/foreman/internal/task"
)

const persistTimeout = 5 * time.Second

// Store is the slice of persistence the coordinator needs.
type Store interface {
	SaveTask(ctx context.Context, t *task.Task) error
	DeleteTask(ctx context.Context, id string) error
	RecordTransition(ctx context.Context, taskID string, from, to task.Status, at time.Time) error
}

// Options carries the optional collaborators. Any field may be nil.
type Options struct {
	Store   Store
	Bus     *events.Bus
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Coordinator owns all task state. Every public method takes the single
// mutex; helpers suffixed Locked assume it is held.
type Coordinator struct {
	mu      sync.Mutex
	cfg     *config.Config
	queue   *queue.TaskQueue
	tasks   map[string]*task.Task
	store   Store
	bus     *events.Bus
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// New creates a coordinator with the given configuration.
func New(cfg *config.Config, opts Options) *Coordinator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Coordinator{
		cfg:     cfg.Clone(),
		queue:   queue.New(),
		tasks:   make(map[string]*task.Task),
		store:   opts.Store,
		bus:     opts.Bus,
		metrics: opts.Metrics,
		logger:  logger,
	}
}

// State is a point-in-time snapshot for observers.
type State struct {
	Tasks        []*task.Task
	QueueDepth   int
	ActiveAgents int
	AtCapacity   bool
}

// GetState returns a snapshot of all tasks and capacity counters.
func (c *Coordinator) GetState() *State {
	c.mu.Lock()
	defer c.mu.Unlock()

	tasks := make([]*task.Task, 0, len(c.tasks))
	for _, t := range c.tasks {
		tasks = append(tasks, t.Clone())
	}
	sort.Slice(tasks, func(i, j int) bool {
		if !tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
		}
		return tasks[i].ID < tasks[j].ID
	})

	return &State{
		Tasks:        tasks,
		QueueDepth:   c.queue.Size(),
		ActiveAgents: c.activeAgentsLocked(),
		AtCapacity:   c.atCapacityLocked(),
	}
}

// GetTask returns a copy of the task, or ErrNotFound.
func (c *Coordinator) GetTask(id string) (*task.Task, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	t, ok := c.tasks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", task.ErrNotFound, id)
	}
	return t.Clone(), nil
}

// ActiveAgents returns the number of tasks currently dispatched to an
// agent. The count is always derived from task state, never tracked
// separately.
func (c *Coordinator) ActiveAgents() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeAgentsLocked()
}

// IsAtCapacity reports whether dispatching one more task would exceed the
// configured agent limit.
func (c *Coordinator) IsAtCapacity() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.atCapacityLocked()
}

// activeAgentsLocked counts tasks currently dispatched to an agent. Review
// and commit review do not hold a slot: the agent process has exited by
// then and the limit governs concurrent runs, not open tasks.
func (c *Coordinator) activeAgentsLocked() int {
	count := 0
	for _, t := range c.tasks {
		if t.Status == task.StatusInProgress {
			count++
		}
	}
	return count
}

func (c *Coordinator) atCapacityLocked() bool {
	return c.activeAgentsLocked() >= c.cfg.MaxConcurrentAgents
}

// GetConfig returns a copy of the current configuration.
func (c *Coordinator) GetConfig() *config.Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg.Clone()
}

// ConfigUpdate is a partial configuration change. Nil fields are left as
// they are.
type ConfigUpdate struct {
	MaxConcurrentAgents *int
	DefaultAgent        *string
	DefaultMaxTurns     *int
	AutoQC              *bool
	AutoMergeOnQCPass   *bool
}

// UpdateConfig applies a partial configuration change. Raising the agent
// limit does not dispatch by itself; call ProcessBacklog to fill the new
// capacity.
func (c *Coordinator) UpdateConfig(update ConfigUpdate) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	next := c.cfg.Clone()
	if update.MaxConcurrentAgents != nil {
		next.MaxConcurrentAgents = *update.MaxConcurrentAgents
	}
	if update.DefaultAgent != nil {
		next.DefaultAgent = *update.DefaultAgent
	}
	if update.DefaultMaxTurns != nil {
		next.DefaultMaxTurns = *update.DefaultMaxTurns
	}
	if update.AutoQC != nil {
		next.AutoQC = *update.AutoQC
	}
	if update.AutoMergeOnQCPass != nil {
		next.AutoMergeOnQCPass = *update.AutoMergeOnQCPass
	}

	if err := next.Validate(); err != nil {
		return fmt.Errorf("invalid config update: %w", err)
	}

	c.cfg = next
	return nil
}

// Clear removes all tasks and resets the queue.
func (c *Coordinator) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.tasks = make(map[string]*task.Task)
	c.queue.Clear()
	c.updateGaugesLocked()
}

func (c *Coordinator) publish(ev events.Event) {
	if c.bus != nil {
		c.bus.Publish(ev)
	}
}

func contextWithPersistTimeout() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), persistTimeout)
}

func (c *Coordinator) persistTask(t *task.Task) {
	if c.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := c.store.SaveTask(ctx, t.Clone()); err != nil {
		c.logger.Warn("failed to persist task", "task", t.ID, "error", err)
	}
}

func (c *Coordinator) recordTransition(id string, from, to task.Status, at time.Time) {
	if c.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := c.store.RecordTransition(ctx, id, from, to, at); err != nil {
		c.logger.Warn("failed to record transition", "task", id, "from", from, "to", to, "error", err)
	}
}

func (c *Coordinator) updateGaugesLocked() {
	if c.metrics == nil {
		return
	}
	c.metrics.QueueDepth.Set(float64(c.queue.Size()))
	c.metrics.ActiveAgents.Set(float64(c.activeAgentsLocked()))
}

// transitionLocked moves a task to a new status, stamping timestamps and
// syncing the queue's dependency tracking. Returns false without error when
// the task is already in the target state.
func (c *Coordinator) transitionLocked(t *task.Task, to task.Status, now time.Time) (bool, error) {
	if t.Status == to {
		return false, nil
	}
	if !t.Status.CanTransitionTo(to) {
		return false, fmt.Errorf("%w: %s -> %s for task %s", task.ErrInvalidTransition, t.Status, to, t.ID)
	}

	from := t.Status
	t.Status = to

	switch to {
	case task.StatusInProgress:
		ts := now
		t.StartedAt = &ts
	case task.StatusReview:
		// The agent run ends here. Approval later does not move the stamp.
		ts := now
		t.CompletedAt = &ts
	case task.StatusDone, task.StatusFailed:
		if t.CompletedAt == nil {
			ts := now
			t.CompletedAt = &ts
		}
	}

	c.queue.Update(t)
	c.persistTask(t)
	c.recordTransition(t.ID, from, to, now)
	c.logger.Info("task transition", "task", t.ID, "from", from, "to", to)

	return true, nil
}
