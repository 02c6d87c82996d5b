package events

import (
	"time"
)

// Event is the base interface for all events.
type Event interface {
	EventType() string
	EntityID() string
}

// Topic constants
const (
	TopicTask = "task"
	TopicDAG  = "dag"
)

// Event type constants
const (
	EventTypeTaskEnqueued  = "task.enqueued"
	EventTypeTaskStarted   = "task.started"
	EventTypeTaskCompleted = "task.completed"
	EventTypeTaskQCPassed  = "task.qc_passed"
	EventTypeTaskQCFailed  = "task.qc_failed"
	EventTypeTaskApproved  = "task.approved"
	EventTypeTaskRejected  = "task.rejected"
	EventTypeTaskFailed    = "task.failed"
	EventTypeTaskMerged    = "task.merged"

	EventTypeDAGCreated   = "dag.created"
	EventTypeDAGStarted   = "dag.started"
	EventTypeDAGCompleted = "dag.completed"
	EventTypeDAGProgress  = "dag.progress"

	EventTypeNodeStarted         = "dag.node.started"
	EventTypeNodeOutput          = "dag.node.output"
	EventTypeNodeCompleted       = "dag.node.completed"
	EventTypeNodeFailed          = "dag.node.failed"
	EventTypeNodeWaitingApproval = "dag.node.waiting_approval"
	EventTypeNodeAdded           = "dag.node.added"
)

// Topic returns the coarse routing topic for an event type: the segment
// before the first dot ("dag.node.started" routes to "dag").
func Topic(eventType string) string {
	for i := 0; i < len(eventType); i++ {
		if eventType[i] == '.' {
			return eventType[:i]
		}
	}
	return eventType
}

// TaskEnqueuedEvent is published when a task enters the backlog.
type TaskEnqueuedEvent struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Priority  string    `json:"priority"`
	Timestamp time.Time `json:"timestamp"`
}

func (e TaskEnqueuedEvent) EventType() string { return EventTypeTaskEnqueued }
func (e TaskEnqueuedEvent) EntityID() string  { return e.ID }

// TaskStartedEvent is published when a task is dispatched to an agent.
type TaskStartedEvent struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Agent     string    `json:"agent"`
	Branch    string    `json:"branch"`
	Timestamp time.Time `json:"timestamp"`
}

func (e TaskStartedEvent) EventType() string { return EventTypeTaskStarted }
func (e TaskStartedEvent) EntityID() string  { return e.ID }

// TaskCompletedEvent is published when an agent finishes its run and the
// task enters review.
type TaskCompletedEvent struct {
	ID        string        `json:"id"`
	Title     string        `json:"title"`
	Duration  time.Duration `json:"duration"`
	Timestamp time.Time     `json:"timestamp"`
}

func (e TaskCompletedEvent) EventType() string { return EventTypeTaskCompleted }
func (e TaskCompletedEvent) EntityID() string  { return e.ID }

// TaskQCPassedEvent is published when verification succeeds.
type TaskQCPassedEvent struct {
	ID        string    `json:"id"`
	Summary   string    `json:"summary"`
	Timestamp time.Time `json:"timestamp"`
}

func (e TaskQCPassedEvent) EventType() string { return EventTypeTaskQCPassed }
func (e TaskQCPassedEvent) EntityID() string  { return e.ID }

// TaskQCFailedEvent is published when verification fails and the task is
// sent back to the backlog with feedback.
type TaskQCFailedEvent struct {
	ID           string    `json:"id"`
	Summary      string    `json:"summary"`
	FailedChecks []string  `json:"failed_checks,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

func (e TaskQCFailedEvent) EventType() string { return EventTypeTaskQCFailed }
func (e TaskQCFailedEvent) EntityID() string  { return e.ID }

// TaskApprovedEvent is published when a reviewer approves a task in
// commit review.
type TaskApprovedEvent struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
}

func (e TaskApprovedEvent) EventType() string { return EventTypeTaskApproved }
func (e TaskApprovedEvent) EntityID() string  { return e.ID }

// TaskRejectedEvent is published when a reviewer rejects a task in
// commit review.
type TaskRejectedEvent struct {
	ID        string    `json:"id"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func (e TaskRejectedEvent) EventType() string { return EventTypeTaskRejected }
func (e TaskRejectedEvent) EntityID() string  { return e.ID }

// TaskFailedEvent is published when a task fails.
type TaskFailedEvent struct {
	ID        string    `json:"id"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func (e TaskFailedEvent) EventType() string { return EventTypeTaskFailed }
func (e TaskFailedEvent) EntityID() string  { return e.ID }

// TaskMergedEvent is published when a task's branch is merged.
type TaskMergedEvent struct {
	ID            string    `json:"id"`
	Branch        string    `json:"branch"`
	Merged        bool      `json:"merged"`
	ConflictFiles []string  `json:"conflict_files,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

func (e TaskMergedEvent) EventType() string { return EventTypeTaskMerged }
func (e TaskMergedEvent) EntityID() string  { return e.ID }

// DAGCreatedEvent is published when a graph is registered.
type DAGCreatedEvent struct {
	DagID     string    `json:"dag_id"`
	Name      string    `json:"name"`
	Nodes     int       `json:"nodes"`
	Timestamp time.Time `json:"timestamp"`
}

func (e DAGCreatedEvent) EventType() string { return EventTypeDAGCreated }
func (e DAGCreatedEvent) EntityID() string  { return e.DagID }

// DAGStartedEvent is published when graph execution begins.
type DAGStartedEvent struct {
	DagID     string    `json:"dag_id"`
	Timestamp time.Time `json:"timestamp"`
}

func (e DAGStartedEvent) EventType() string { return EventTypeDAGStarted }
func (e DAGStartedEvent) EntityID() string  { return e.DagID }

// DAGCompletedEvent is published when graph execution reaches a terminal
// state. Status is "completed" or "failed".
type DAGCompletedEvent struct {
	DagID     string        `json:"dag_id"`
	Status    string        `json:"status"`
	Duration  time.Duration `json:"duration"`
	Timestamp time.Time     `json:"timestamp"`
}

func (e DAGCompletedEvent) EventType() string { return EventTypeDAGCompleted }
func (e DAGCompletedEvent) EntityID() string  { return e.DagID }

// DAGProgressEvent is published whenever node counts change.
type DAGProgressEvent struct {
	DagID           string    `json:"dag_id"`
	Total           int       `json:"total"`
	Completed       int       `json:"completed"`
	Running         int       `json:"running"`
	Failed          int       `json:"failed"`
	Pending         int       `json:"pending"`
	Skipped         int       `json:"skipped"`
	WaitingApproval int       `json:"waiting_approval"`
	Timestamp       time.Time `json:"timestamp"`
}

func (e DAGProgressEvent) EventType() string { return EventTypeDAGProgress }
func (e DAGProgressEvent) EntityID() string  { return e.DagID }

// NodeStartedEvent is published when a node begins execution.
type NodeStartedEvent struct {
	DagID     string    `json:"dag_id"`
	NodeID    string    `json:"node_id"`
	Name      string    `json:"name"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

func (e NodeStartedEvent) EventType() string { return EventTypeNodeStarted }
func (e NodeStartedEvent) EntityID() string  { return e.NodeID }

// NodeOutputEvent is published when a running node produces output.
type NodeOutputEvent struct {
	DagID     string    `json:"dag_id"`
	NodeID    string    `json:"node_id"`
	Line      string    `json:"line"`
	Timestamp time.Time `json:"timestamp"`
}

func (e NodeOutputEvent) EventType() string { return EventTypeNodeOutput }
func (e NodeOutputEvent) EntityID() string  { return e.NodeID }

// NodeCompletedEvent is published when a node completes successfully.
type NodeCompletedEvent struct {
	DagID     string        `json:"dag_id"`
	NodeID    string        `json:"node_id"`
	Duration  time.Duration `json:"duration"`
	Timestamp time.Time     `json:"timestamp"`
}

func (e NodeCompletedEvent) EventType() string { return EventTypeNodeCompleted }
func (e NodeCompletedEvent) EntityID() string  { return e.NodeID }

// NodeFailedEvent is published when a node fails or is skipped on a dead
// branch.
type NodeFailedEvent struct {
	DagID     string    `json:"dag_id"`
	NodeID    string    `json:"node_id"`
	Status    string    `json:"status"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func (e NodeFailedEvent) EventType() string { return EventTypeNodeFailed }
func (e NodeFailedEvent) EntityID() string  { return e.NodeID }

// NodeWaitingApprovalEvent is published when a manual gate is reached and
// blocks for an operator decision.
type NodeWaitingApprovalEvent struct {
	DagID     string    `json:"dag_id"`
	NodeID    string    `json:"node_id"`
	Name      string    `json:"name"`
	Timestamp time.Time `json:"timestamp"`
}

func (e NodeWaitingApprovalEvent) EventType() string { return EventTypeNodeWaitingApproval }
func (e NodeWaitingApprovalEvent) EntityID() string  { return e.NodeID }

// NodeAddedEvent is published when a node is grafted onto a running graph.
type NodeAddedEvent struct {
	DagID     string    `json:"dag_id"`
	NodeID    string    `json:"node_id"`
	Name      string    `json:"name"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
}

func (e NodeAddedEvent) EventType() string { return EventTypeNodeAdded }
func (e NodeAddedEvent) EntityID() string  { return e.NodeID }
