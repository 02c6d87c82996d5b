package dag

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/foremanlabs/foreman/internal/events"
	"github.com/foremanlabs/foreman/internal/metrics"
)

// persistTimeout bounds snapshot writes so a slow disk cannot stall
// graph progress.
const persistTimeout = 5 * time.Second

// Store persists graph snapshots. Writes are best-effort from the
// executor's point of view; in-memory state stays authoritative.
type Store interface {
	SaveDag(ctx context.Context, d *Dag) error
}

// Options configures an Executor. Runner is required for graphs with
// task nodes; everything else may be nil.
type Options struct {
	Runner     Runner
	MaxWorkers int
	Bus        *events.Bus
	Store      Store
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
}

// Executor drives workflow graphs: it computes node eligibility,
// dispatches eligible task nodes to the Runner under a global
// concurrency cap, arms and resolves gates, and skips branches that can
// no longer run.
type Executor struct {
	mu   sync.Mutex
	dags map[string]*dagState

	runner    Runner
	sem       *semaphore.Weighted
	expansion *ExpansionChannel
	bus       *events.Bus
	store     Store
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// dagState is the executor's live view of one graph. The node pointers
// are shared with dag.Nodes; preds and succs index the edge set.
type dagState struct {
	dag    *Dag
	nodes  map[string]*Node
	preds  map[string][]string
	succs  map[string][]string
	runCtx context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewExecutor creates an Executor. MaxWorkers <= 0 defaults to 4.
func NewExecutor(opts Options) *Executor {
	maxWorkers := opts.MaxWorkers
	if maxWorkers <= 0 {
		maxWorkers = 4
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	e := &Executor{
		dags:    make(map[string]*dagState),
		runner:  opts.Runner,
		sem:     semaphore.NewWeighted(int64(maxWorkers)),
		bus:     opts.Bus,
		store:   opts.Store,
		metrics: opts.Metrics,
		logger:  logger,
	}
	e.expansion = NewExpansionChannel(2*maxWorkers, e.applyExpansion)
	return e
}

// Start launches the expansion handler. NodeJob.Expand calls block until
// Start has been called.
func (e *Executor) Start(ctx context.Context) {
	e.expansion.Start(ctx)
}

// CreateDag validates and registers a new graph. Node statuses are
// forced to pending; gate nodes without a condition default to all_pass.
func (e *Executor) CreateDag(name, project string, mode ApprovalMode, nodes []*Node, edges []Edge) (*Dag, error) {
	if mode == "" {
		mode = ApprovalManual
	}
	if mode != ApprovalManual && mode != ApprovalAuto {
		return nil, fmt.Errorf("unknown approval mode %q", mode)
	}

	cloned, err := normalizeNodes(nodes)
	if err != nil {
		return nil, err
	}
	edgesCopy := append([]Edge(nil), edges...)
	if _, err := Validate(cloned, edgesCopy); err != nil {
		return nil, err
	}

	d := &Dag{
		ID:           uuid.New().String(),
		Name:         name,
		Project:      project,
		Status:       StatusCreated,
		ApprovalMode: mode,
		Nodes:        cloned,
		Edges:        edgesCopy,
		CreatedAt:    time.Now(),
	}

	e.mu.Lock()
	st := newDagState(d)
	e.dags[d.ID] = st
	e.persistLocked(st)
	e.mu.Unlock()

	e.publish(events.DAGCreatedEvent{
		DagID:     d.ID,
		Name:      d.Name,
		Nodes:     len(d.Nodes),
		Timestamp: time.Now(),
	})
	e.logger.Info("dag created", "dag_id", d.ID, "name", d.Name, "nodes", len(d.Nodes), "edges", len(d.Edges))

	return d.Clone(), nil
}

func normalizeNodes(nodes []*Node) ([]*Node, error) {
	cloned := make([]*Node, len(nodes))
	for i, n := range nodes {
		cp := n.Clone()
		cp.Status = NodePending
		if cp.Type == NodeGate {
			if cp.Gate == "" {
				cp.Gate = GateAllPass
			}
			if !cp.Gate.IsValid() {
				return nil, fmt.Errorf("gate %q has unknown condition %q", cp.ID, cp.Gate)
			}
		}
		cloned[i] = cp
	}
	return cloned, nil
}

func newDagState(d *Dag) *dagState {
	st := &dagState{
		dag:   d,
		nodes: make(map[string]*Node, len(d.Nodes)),
		preds: make(map[string][]string),
		succs: make(map[string][]string),
	}
	for _, n := range d.Nodes {
		st.nodes[n.ID] = n
	}
	for _, edge := range d.Edges {
		st.preds[edge.To] = append(st.preds[edge.To], edge.From)
		st.succs[edge.From] = append(st.succs[edge.From], edge.To)
	}
	st.done = make(chan struct{})
	return st
}

// Execute starts a created graph. The context bounds the whole run:
// cancelling it cancels every in-flight node. Calling Execute on an
// already running graph is a no-op.
func (e *Executor) Execute(ctx context.Context, dagID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, ok := e.dags[dagID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrDagNotFound, dagID)
	}
	switch st.dag.Status {
	case StatusRunning:
		return nil
	case StatusCreated:
	default:
		return fmt.Errorf("%w: cannot execute dag in status %s", ErrInvalidTransition, st.dag.Status)
	}

	st.dag.Status = StatusRunning
	now := time.Now()
	st.dag.StartedAt = &now
	st.runCtx, st.cancel = context.WithCancel(ctx)

	e.publish(events.DAGStartedEvent{DagID: dagID, Timestamp: now})
	e.logger.Info("dag started", "dag_id", dagID, "name", st.dag.Name)

	e.settleLocked(st)
	e.syncLocked(st)
	return nil
}

// ApproveGate resolves a gate in waiting_approval. Approving an already
// completed gate is a no-op; any other state is an invalid transition.
func (e *Executor) ApproveGate(dagID, nodeID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, ok := e.dags[dagID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrDagNotFound, dagID)
	}
	node, ok := st.nodes[nodeID]
	if !ok {
		return fmt.Errorf("%w: %s in dag %s", ErrNodeNotFound, nodeID, dagID)
	}
	if node.Type != NodeGate {
		return fmt.Errorf("%w: node %s is not a gate", ErrInvalidTransition, nodeID)
	}
	if node.Status == NodeCompleted {
		return nil
	}
	if node.Status != NodeWaitingApproval {
		return fmt.Errorf("%w: gate %s is %s, not waiting_approval", ErrInvalidTransition, nodeID, node.Status)
	}

	e.approveGateLocked(st, node)
	e.settleLocked(st)
	e.syncLocked(st)
	return nil
}

// approveGateLocked completes an armed gate. For any_pass gates the
// unresolved sibling branches are skipped; their late results are
// dropped as stale.
func (e *Executor) approveGateLocked(st *dagState, node *Node) {
	now := time.Now()
	node.Status = NodeCompleted
	node.CompletedAt = &now

	if node.Gate == GateAnyPass {
		for _, predID := range st.preds[node.ID] {
			pred := st.nodes[predID]
			if pred != nil && !pred.Status.IsTerminal() {
				e.markSkippedLocked(st, pred, "unresolved when gate approved")
			}
		}
	}

	if e.metrics != nil {
		e.metrics.GateApprovals.Inc()
	}
	e.publish(events.NodeCompletedEvent{
		DagID:     st.dag.ID,
		NodeID:    node.ID,
		Duration:  durationSince(node.StartedAt),
		Timestamp: now,
	})
	e.logger.Info("gate approved", "dag_id", st.dag.ID, "node_id", node.ID)
}

// Cancel aborts a graph: pending and waiting nodes are skipped, running
// nodes are failed, and in-flight runner contexts are cancelled. Late
// completion callbacks are dropped. Cancelling a terminal graph is a
// no-op.
func (e *Executor) Cancel(dagID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, ok := e.dags[dagID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrDagNotFound, dagID)
	}
	if st.dag.Status.IsTerminal() {
		return nil
	}

	now := time.Now()
	for _, node := range st.dag.Nodes {
		switch node.Status {
		case NodePending, NodeWaitingApproval:
			e.markSkippedLocked(st, node, "dag cancelled")
		case NodeRunning:
			node.Status = NodeFailed
			node.Error = "dag cancelled"
			node.CompletedAt = &now
			if e.metrics != nil {
				e.metrics.NodesFailed.Inc()
			}
			e.publish(events.NodeFailedEvent{
				DagID:     st.dag.ID,
				NodeID:    node.ID,
				Status:    string(NodeFailed),
				Reason:    "dag cancelled",
				Timestamp: now,
			})
		}
	}

	e.finishLocked(st, StatusFailed)
	e.syncLocked(st)
	e.logger.Info("dag cancelled", "dag_id", dagID)
	return nil
}

// Pause freezes dispatch and eligibility computation. Running nodes keep
// running and their results are still recorded.
func (e *Executor) Pause(dagID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, ok := e.dags[dagID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrDagNotFound, dagID)
	}
	switch st.dag.Status {
	case StatusPaused:
		return nil
	case StatusRunning:
	default:
		return fmt.Errorf("%w: cannot pause dag in status %s", ErrInvalidTransition, st.dag.Status)
	}

	st.dag.Status = StatusPaused
	e.syncLocked(st)
	e.logger.Info("dag paused", "dag_id", dagID)
	return nil
}

// Resume restarts a paused graph.
func (e *Executor) Resume(dagID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, ok := e.dags[dagID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrDagNotFound, dagID)
	}
	switch st.dag.Status {
	case StatusRunning:
		return nil
	case StatusPaused:
	default:
		return fmt.Errorf("%w: cannot resume dag in status %s", ErrInvalidTransition, st.dag.Status)
	}

	st.dag.Status = StatusRunning
	e.settleLocked(st)
	e.syncLocked(st)
	e.logger.Info("dag resumed", "dag_id", dagID)
	return nil
}

// AddNodes grafts nodes and edges onto a live graph. The extended graph
// is validated before anything is applied; a rejected batch leaves the
// graph untouched. Terminal nodes are never re-evaluated.
func (e *Executor) AddNodes(dagID string, nodes []*Node, edges []Edge) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, ok := e.dags[dagID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrDagNotFound, dagID)
	}
	if st.dag.Status.IsTerminal() {
		return fmt.Errorf("%w: cannot modify dag in status %s", ErrInvalidTransition, st.dag.Status)
	}

	cloned, err := normalizeNodes(nodes)
	if err != nil {
		return err
	}

	candidateNodes := make([]*Node, 0, len(st.dag.Nodes)+len(cloned))
	candidateNodes = append(candidateNodes, st.dag.Nodes...)
	candidateNodes = append(candidateNodes, cloned...)
	candidateEdges := make([]Edge, 0, len(st.dag.Edges)+len(edges))
	candidateEdges = append(candidateEdges, st.dag.Edges...)
	candidateEdges = append(candidateEdges, edges...)
	if _, err := Validate(candidateNodes, candidateEdges); err != nil {
		return err
	}

	st.dag.Nodes = candidateNodes
	st.dag.Edges = candidateEdges
	for _, n := range cloned {
		st.nodes[n.ID] = n
	}
	for _, edge := range edges {
		st.preds[edge.To] = append(st.preds[edge.To], edge.From)
		st.succs[edge.From] = append(st.succs[edge.From], edge.To)
	}

	now := time.Now()
	for _, n := range cloned {
		e.publish(events.NodeAddedEvent{
			DagID:     dagID,
			NodeID:    n.ID,
			Name:      n.Title,
			Type:      string(n.Type),
			Timestamp: now,
		})
	}
	e.logger.Info("dag expanded", "dag_id", dagID, "nodes", len(cloned), "edges", len(edges))

	e.settleLocked(st)
	e.syncLocked(st)
	return nil
}

func (e *Executor) applyExpansion(ctx context.Context, req ExpansionRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.logger.Debug("expansion requested", "dag_id", req.DagID, "parent_id", req.ParentID, "nodes", len(req.Nodes))
	return e.AddNodes(req.DagID, req.Nodes, req.Edges)
}

// GetDag returns a snapshot of a graph.
func (e *Executor) GetDag(dagID string) (*Dag, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, ok := e.dags[dagID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDagNotFound, dagID)
	}
	return st.dag.Clone(), nil
}

// ListDags returns snapshots of all graphs, oldest first.
func (e *Executor) ListDags() []*Dag {
	e.mu.Lock()
	defer e.mu.Unlock()

	dags := make([]*Dag, 0, len(e.dags))
	for _, st := range e.dags {
		dags = append(dags, st.dag.Clone())
	}
	sort.Slice(dags, func(i, j int) bool {
		if dags[i].CreatedAt.Equal(dags[j].CreatedAt) {
			return dags[i].ID < dags[j].ID
		}
		return dags[i].CreatedAt.Before(dags[j].CreatedAt)
	})
	return dags
}

// Wait returns a channel that is closed when the graph reaches a
// terminal status.
func (e *Executor) Wait(dagID string) (<-chan struct{}, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, ok := e.dags[dagID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDagNotFound, dagID)
	}
	return st.done, nil
}

// settleLocked advances a running graph to fixpoint: dead branches are
// skipped, structural nodes and gates resolve, and eligible task nodes
// are dispatched up to the concurrency cap. Returns whether anything
// changed.
func (e *Executor) settleLocked(st *dagState) bool {
	if st.dag.Status != StatusRunning {
		return false
	}

	anyChange := false
	for changed := true; changed; {
		changed = false
		for _, node := range st.dag.Nodes {
			if node.Status != NodePending {
				continue
			}
			switch {
			case e.deadLocked(st, node):
				e.markSkippedLocked(st, node, "dependency failed")
				changed = true
			case node.Type == NodeFanOut || node.Type == NodeFanIn:
				if e.predsCompletedLocked(st, node) {
					e.completeStructuralLocked(st, node)
					changed = true
				}
			case node.Type == NodeGate:
				if e.gateArmedLocked(st, node) {
					e.armGateLocked(st, node)
					if st.dag.ApprovalMode == ApprovalAuto {
						e.approveGateLocked(st, node)
					}
					changed = true
				}
			case node.Type == NodeTask:
				if e.predsCompletedLocked(st, node) && e.dispatchLocked(st, node) {
					changed = true
				}
			}
		}
		anyChange = anyChange || changed
	}

	finished := e.checkQuiescenceLocked(st)
	return anyChange || finished
}

// deadLocked reports whether a pending node can never run.
func (e *Executor) deadLocked(st *dagState, node *Node) bool {
	preds := st.preds[node.ID]

	if node.Type == NodeGate {
		switch node.Gate {
		case GateAnyPass:
			// Dead only once every branch has resolved without a pass.
			if len(preds) == 0 {
				return false
			}
			for _, predID := range preds {
				switch st.nodes[predID].Status {
				case NodeCompleted:
					return false
				case NodeFailed, NodeSkipped:
				default:
					return false
				}
			}
			return true
		case GateManual:
			// Manual gates arm on any mix of terminal outcomes.
			return false
		}
	}

	for _, predID := range preds {
		switch st.nodes[predID].Status {
		case NodeFailed, NodeSkipped:
			return true
		}
	}
	return false
}

func (e *Executor) predsCompletedLocked(st *dagState, node *Node) bool {
	for _, predID := range st.preds[node.ID] {
		if st.nodes[predID].Status != NodeCompleted {
			return false
		}
	}
	return true
}

// gateArmedLocked reports whether a pending gate's condition is met.
func (e *Executor) gateArmedLocked(st *dagState, node *Node) bool {
	preds := st.preds[node.ID]
	switch node.Gate {
	case GateAnyPass:
		if len(preds) == 0 {
			return true
		}
		for _, predID := range preds {
			if st.nodes[predID].Status == NodeCompleted {
				return true
			}
		}
		return false
	case GateManual:
		for _, predID := range preds {
			if !st.nodes[predID].Status.IsTerminal() {
				return false
			}
		}
		return true
	default:
		return e.predsCompletedLocked(st, node)
	}
}

func (e *Executor) armGateLocked(st *dagState, node *Node) {
	now := time.Now()
	node.Status = NodeWaitingApproval
	node.StartedAt = &now
	e.publish(events.NodeWaitingApprovalEvent{
		DagID:     st.dag.ID,
		NodeID:    node.ID,
		Name:      node.Title,
		Timestamp: now,
	})
	e.logger.Info("gate waiting for approval", "dag_id", st.dag.ID, "node_id", node.ID, "condition", node.Gate)
}

func (e *Executor) completeStructuralLocked(st *dagState, node *Node) {
	now := time.Now()
	node.Status = NodeCompleted
	node.StartedAt = &now
	node.CompletedAt = &now
	if e.metrics != nil {
		e.metrics.NodesCompleted.Inc()
	}
	e.publish(events.NodeCompletedEvent{
		DagID:     st.dag.ID,
		NodeID:    node.ID,
		Timestamp: now,
	})
}

func (e *Executor) markSkippedLocked(st *dagState, node *Node, reason string) {
	now := time.Now()
	node.Status = NodeSkipped
	node.Error = reason
	node.CompletedAt = &now
	if e.metrics != nil {
		e.metrics.NodesSkipped.Inc()
	}
	e.publish(events.NodeFailedEvent{
		DagID:     st.dag.ID,
		NodeID:    node.ID,
		Status:    string(NodeSkipped),
		Reason:    reason,
		Timestamp: now,
	})
	e.logger.Debug("node skipped", "dag_id", st.dag.ID, "node_id", node.ID, "reason", reason)
}

// dispatchLocked hands an eligible task node to the runner. Returns
// false when the concurrency cap is exhausted; the node stays pending
// and is retried on the next settle.
func (e *Executor) dispatchLocked(st *dagState, node *Node) bool {
	if e.runner == nil {
		now := time.Now()
		node.Status = NodeFailed
		node.Error = "no runner configured"
		node.CompletedAt = &now
		if e.metrics != nil {
			e.metrics.NodesFailed.Inc()
		}
		e.publish(events.NodeFailedEvent{
			DagID:     st.dag.ID,
			NodeID:    node.ID,
			Status:    string(NodeFailed),
			Reason:    node.Error,
			Timestamp: now,
		})
		return true
	}

	if !e.sem.TryAcquire(1) {
		return false
	}

	now := time.Now()
	node.Status = NodeRunning
	node.StartedAt = &now
	if e.metrics != nil {
		e.metrics.NodesStarted.Inc()
	}
	e.publish(events.NodeStartedEvent{
		DagID:     st.dag.ID,
		NodeID:    node.ID,
		Name:      node.Title,
		Type:      string(node.Type),
		Timestamp: now,
	})
	e.logger.Info("node started", "dag_id", st.dag.ID, "node_id", node.ID, "title", node.Title)

	dagID := st.dag.ID
	nodeID := node.ID
	runCtx := st.runCtx
	job := NodeJob{
		DagID: dagID,
		Node:  node.Clone(),
		Output: func(line string) {
			e.appendOutput(dagID, nodeID, line)
		},
		Expand: func(nodes []*Node, edges []Edge) error {
			return e.expansion.Request(runCtx, ExpansionRequest{
				DagID:    dagID,
				ParentID: nodeID,
				Nodes:    nodes,
				Edges:    edges,
			})
		},
	}

	go func() {
		res, err := e.runner.RunNode(runCtx, job)
		e.onNodeResult(dagID, nodeID, res, err)
	}()
	return true
}

// onNodeResult applies a runner's report. A result whose node is no
// longer running is stale (the dag was cancelled or the branch was
// skipped) and is dropped.
func (e *Executor) onNodeResult(dagID, nodeID string, res NodeResult, runErr error) {
	e.mu.Lock()

	st, ok := e.dags[dagID]
	if !ok {
		e.mu.Unlock()
		e.sem.Release(1)
		return
	}
	node := st.nodes[nodeID]
	if node == nil || node.Status != NodeRunning {
		e.logger.Debug("dropping stale node result", "dag_id", dagID, "node_id", nodeID)
		e.mu.Unlock()
		e.sem.Release(1)
		return
	}

	now := time.Now()
	node.CompletedAt = &now
	if runErr != nil {
		node.Status = NodeFailed
		node.Error = runErr.Error()
		if e.metrics != nil {
			e.metrics.NodesFailed.Inc()
		}
		e.publish(events.NodeFailedEvent{
			DagID:     dagID,
			NodeID:    nodeID,
			Status:    string(NodeFailed),
			Reason:    node.Error,
			Timestamp: now,
		})
		e.logger.Warn("node failed", "dag_id", dagID, "node_id", nodeID, "error", runErr)
	} else {
		node.Status = NodeCompleted
		node.Output = append(node.Output, res.Output...)
		if len(res.Artifacts) > 0 {
			if node.Artifacts == nil {
				node.Artifacts = make(map[string]string, len(res.Artifacts))
			}
			for k, v := range res.Artifacts {
				node.Artifacts[k] = v
			}
		}
		if e.metrics != nil {
			e.metrics.NodesCompleted.Inc()
		}
		e.publish(events.NodeCompletedEvent{
			DagID:     dagID,
			NodeID:    nodeID,
			Duration:  durationSince(node.StartedAt),
			Timestamp: now,
		})
		e.logger.Info("node completed", "dag_id", dagID, "node_id", nodeID)
	}
	e.syncLocked(st)
	e.mu.Unlock()

	e.sem.Release(1)
	e.settleAll()
}

// settleAll re-settles every running graph. Called after a worker slot
// frees because capacity is shared across graphs.
func (e *Executor) settleAll() {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, st := range e.dags {
		if st.dag.Status != StatusRunning {
			continue
		}
		if e.settleLocked(st) {
			e.syncLocked(st)
		}
	}
}

// appendOutput records a line of agent output. Output for a node no
// longer running is dropped.
func (e *Executor) appendOutput(dagID, nodeID, line string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	st, ok := e.dags[dagID]
	if !ok {
		return
	}
	node := st.nodes[nodeID]
	if node == nil || node.Status != NodeRunning {
		return
	}
	node.Output = append(node.Output, line)
	e.publish(events.NodeOutputEvent{
		DagID:     dagID,
		NodeID:    nodeID,
		Line:      line,
		Timestamp: time.Now(),
	})
}

// checkQuiescenceLocked decides a running graph's terminal status once
// nothing can make further progress: no running node, no armed gate, and
// no eligible task waiting for a worker slot. Pending nodes left at that
// point are unreachable and swept to skipped. Returns whether the graph
// finished.
func (e *Executor) checkQuiescenceLocked(st *dagState) bool {
	if st.dag.Status != StatusRunning {
		return false
	}
	for _, node := range st.dag.Nodes {
		switch node.Status {
		case NodeRunning, NodeWaitingApproval:
			return false
		case NodePending:
			if node.Type == NodeTask && e.predsCompletedLocked(st, node) {
				return false
			}
		}
	}

	for _, node := range st.dag.Nodes {
		if node.Status == NodePending {
			e.markSkippedLocked(st, node, "unreachable")
		}
	}

	status := StatusCompleted
	for _, node := range st.dag.Nodes {
		if node.Status == NodeFailed {
			status = StatusFailed
			break
		}
	}
	e.finishLocked(st, status)
	return true
}

// finishLocked stamps a terminal status and releases waiters.
func (e *Executor) finishLocked(st *dagState, status Status) {
	now := time.Now()
	st.dag.Status = status
	st.dag.CompletedAt = &now
	if st.cancel != nil {
		st.cancel()
	}
	close(st.done)

	if e.metrics != nil {
		e.metrics.DagsCompleted.WithLabelValues(string(status)).Inc()
	}
	e.publish(events.DAGCompletedEvent{
		DagID:     st.dag.ID,
		Status:    string(status),
		Duration:  durationSince(st.dag.StartedAt),
		Timestamp: now,
	})
	e.logger.Info("dag finished", "dag_id", st.dag.ID, "status", status)
}

// syncLocked persists a snapshot and publishes a progress event.
func (e *Executor) syncLocked(st *dagState) {
	e.persistLocked(st)

	progress := events.DAGProgressEvent{
		DagID:     st.dag.ID,
		Total:     len(st.dag.Nodes),
		Timestamp: time.Now(),
	}
	for _, node := range st.dag.Nodes {
		switch node.Status {
		case NodeCompleted:
			progress.Completed++
		case NodeRunning:
			progress.Running++
		case NodeFailed:
			progress.Failed++
		case NodePending:
			progress.Pending++
		case NodeSkipped:
			progress.Skipped++
		case NodeWaitingApproval:
			progress.WaitingApproval++
		}
	}
	e.publish(progress)
}

func (e *Executor) persistLocked(st *dagState) {
	if e.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := e.store.SaveDag(ctx, st.dag.Clone()); err != nil {
		e.logger.Warn("failed to persist dag", "dag_id", st.dag.ID, "error", err)
	}
}

func (e *Executor) publish(event events.Event) {
	if e.bus != nil {
		e.bus.Publish(event)
	}
}

func durationSince(t *time.Time) time.Duration {
	if t == nil {
		return 0
	}
	return time.Since(*t)
}
