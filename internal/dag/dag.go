// Package dag executes workflow graphs: task nodes dispatched to an
// external runner, gate nodes suspending downstream work until approved,
// and structural fan-out/fan-in nodes. Graphs can be mutated while
// running; every mutation is re-validated for cycles.
package dag

import (
	"errors"
	"time"
)

var (
	// ErrDagNotFound is returned when a dag ID does not exist.
	ErrDagNotFound = errors.New("dag not found")
	// ErrNodeNotFound is returned when a node ID does not exist in a dag.
	ErrNodeNotFound = errors.New("node not found")
	// ErrInvalidTransition is returned when an operation is not legal in
	// the target's current state.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrCycle is returned when an edge set does not form a DAG.
	ErrCycle = errors.New("graph contains a cycle")
)

// Status represents the state of a whole graph.
type Status string

const (
	StatusCreated   Status = "created"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// IsTerminal reports whether s is a final state.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ApprovalMode controls whether armed gates wait for an operator.
type ApprovalMode string

const (
	// ApprovalManual leaves armed gates in waiting_approval until
	// ApproveGate is called.
	ApprovalManual ApprovalMode = "manual"
	// ApprovalAuto approves gates the moment they arm.
	ApprovalAuto ApprovalMode = "auto"
)

// Edge is a directed dependency: To may not start before From resolves.
type Edge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Dag is a workflow graph snapshot.
type Dag struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Project      string       `json:"project,omitempty"`
	Status       Status       `json:"status"`
	ApprovalMode ApprovalMode `json:"approval_mode"`
	Nodes        []*Node      `json:"nodes"`
	Edges        []Edge       `json:"edges"`
	CreatedAt    time.Time    `json:"created_at"`
	StartedAt    *time.Time   `json:"started_at,omitempty"`
	CompletedAt  *time.Time   `json:"completed_at,omitempty"`
}

// Clone returns a deep copy of the dag.
func (d *Dag) Clone() *Dag {
	if d == nil {
		return nil
	}
	cp := *d
	if d.StartedAt != nil {
		t := *d.StartedAt
		cp.StartedAt = &t
	}
	if d.CompletedAt != nil {
		t := *d.CompletedAt
		cp.CompletedAt = &t
	}
	cp.Nodes = make([]*Node, len(d.Nodes))
	for i, n := range d.Nodes {
		cp.Nodes[i] = n.Clone()
	}
	cp.Edges = append([]Edge(nil), d.Edges...)
	return &cp
}

// Node returns the node with the given ID, or nil.
func (d *Dag) Node(id string) *Node {
	for _, n := range d.Nodes {
		if n.ID == id {
			return n
		}
	}
	return nil
}
