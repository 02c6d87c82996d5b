package dag

import "time"

// NodeType distinguishes executable nodes from structural ones.
type NodeType string

const (
	NodeTask   NodeType = "task"    // dispatched to the Runner
	NodeGate   NodeType = "gate"    // suspends downstream work until approved
	NodeFanOut NodeType = "fan_out" // structural branch split
	NodeFanIn  NodeType = "fan_in"  // structural branch join
)

// IsValid reports whether t is a known node type.
func (t NodeType) IsValid() bool {
	switch t {
	case NodeTask, NodeGate, NodeFanOut, NodeFanIn:
		return true
	}
	return false
}

// GateCondition controls when a gate arms (enters waiting_approval).
type GateCondition string

const (
	// GateAllPass arms only when every predecessor completed. A failed
	// predecessor kills the gate and everything reachable only through it.
	GateAllPass GateCondition = "all_pass"
	// GateAnyPass arms as soon as one predecessor completes. Unresolved
	// sibling branches are skipped when the gate is approved.
	GateAnyPass GateCondition = "any_pass"
	// GateManual arms once all predecessors are terminal, whatever their
	// outcomes.
	GateManual GateCondition = "manual"
)

// IsValid reports whether c is a known gate condition.
func (c GateCondition) IsValid() bool {
	switch c {
	case GateAllPass, GateAnyPass, GateManual:
		return true
	}
	return false
}

// NodeStatus represents the current state of a node.
type NodeStatus string

const (
	NodePending         NodeStatus = "pending"
	NodeRunning         NodeStatus = "running"
	NodeWaitingApproval NodeStatus = "waiting_approval"
	NodeCompleted       NodeStatus = "completed"
	NodeFailed          NodeStatus = "failed"
	NodeSkipped         NodeStatus = "skipped"
)

// IsTerminal reports whether s is a final state.
func (s NodeStatus) IsTerminal() bool {
	return s == NodeCompleted || s == NodeFailed || s == NodeSkipped
}

// Node is a single unit in a workflow graph.
type Node struct {
	ID          string            `json:"id"`
	Type        NodeType          `json:"type"`
	Title       string            `json:"title"`
	Briefing    string            `json:"briefing,omitempty"`
	Role        string            `json:"role,omitempty"`
	Status      NodeStatus        `json:"status"`
	Gate        GateCondition     `json:"gate,omitempty"`
	Error       string            `json:"error,omitempty"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
	Output      []string          `json:"output,omitempty"`
	Artifacts   map[string]string `json:"artifacts,omitempty"`
}

// Clone returns a deep copy of the node.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	cp := *n
	if n.StartedAt != nil {
		t := *n.StartedAt
		cp.StartedAt = &t
	}
	if n.CompletedAt != nil {
		t := *n.CompletedAt
		cp.CompletedAt = &t
	}
	if n.Output != nil {
		cp.Output = append([]string(nil), n.Output...)
	}
	if n.Artifacts != nil {
		cp.Artifacts = make(map[string]string, len(n.Artifacts))
		for k, v := range n.Artifacts {
			cp.Artifacts[k] = v
		}
	}
	return &cp
}
