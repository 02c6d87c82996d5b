package dag

import (
	"context"
)

// ExpansionRequest asks the executor to graft new nodes and edges onto a
// running graph on behalf of a running node.
type ExpansionRequest struct {
	DagID    string
	ParentID string
	Nodes    []*Node
	Edges    []Edge
	replyCh  chan error
}

// ApplyFunc validates and applies one expansion request.
type ApplyFunc func(ctx context.Context, req ExpansionRequest) error

// ExpansionChannel serializes graph mutations requested by running nodes
// through a single handler goroutine, so a runner can fan out sub-agents
// mid-flight and learn whether the insertion was accepted.
type ExpansionChannel struct {
	requestCh chan ExpansionRequest
	applyFn   ApplyFunc
	done      chan struct{}
}

// NewExpansionChannel creates a channel with the given buffer size and
// apply function. bufferSize should typically be 2x the dispatch cap to
// prevent blocking.
func NewExpansionChannel(bufferSize int, applyFn ApplyFunc) *ExpansionChannel {
	return &ExpansionChannel{
		requestCh: make(chan ExpansionRequest, bufferSize),
		applyFn:   applyFn,
		done:      make(chan struct{}),
	}
}

// Start launches the request handler goroutine. It processes requests
// until the context is cancelled.
func (ec *ExpansionChannel) Start(ctx context.Context) {
	go ec.handleRequests(ctx)
}

func (ec *ExpansionChannel) handleRequests(ctx context.Context) {
	defer close(ec.done)

	for {
		select {
		case <-ctx.Done():
			return
		case req := <-ec.requestCh:
			err := ec.applyFn(ctx, req)

			// Check if context was cancelled during the apply.
			select {
			case <-ctx.Done():
				req.replyCh <- ctx.Err()
				return
			default:
				req.replyCh <- err
			}
		}
	}
}

// Request posts an expansion and waits for the executor's verdict. It
// respects context cancellation at both the send and receive stages.
func (ec *ExpansionChannel) Request(ctx context.Context, req ExpansionRequest) error {
	// Buffered so the handler never blocks on a caller that gave up.
	req.replyCh = make(chan error, 1)

	select {
	case ec.requestCh <- req:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-req.replyCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop blocks until the handler goroutine has exited.
func (ec *ExpansionChannel) Stop() {
	<-ec.done
}
