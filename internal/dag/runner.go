package dag

import "context"

// Runner executes task nodes. Implementations run the actual agent
// process; the executor only reacts to the returned result.
type Runner interface {
	RunNode(ctx context.Context, job NodeJob) (NodeResult, error)
}

// NodeJob is handed to the Runner for one task node.
type NodeJob struct {
	DagID string
	Node  *Node

	// Output streams a line of agent output. Lines are appended to the
	// node and published to observers while the node is still running.
	Output func(line string)

	// Expand grafts new nodes and edges onto the running graph, wiring
	// them under this node. Returns an error if the insertion would
	// create a cycle or the graph is no longer accepting mutations.
	Expand func(nodes []*Node, edges []Edge) error
}

// NodeResult is the Runner's final report for a node.
type NodeResult struct {
	Output    []string
	Artifacts map[string]string
}
