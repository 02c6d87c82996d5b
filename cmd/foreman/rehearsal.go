package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/foremanlabs/foreman/internal/coordinator"
	"github.com/foremanlabs/foreman/internal/dag"
	"github.com/foremanlabs/foreman/internal/pipeline"
	"github.com/foremanlabs/foreman/internal/task"
)

// rehearsalVerifier approves every run. Rehearsals exercise the
// lifecycle, not the work.
type rehearsalVerifier struct{}

func (rehearsalVerifier) Verify(_ context.Context, _, _ string) (*task.QCResult, error) {
	return &task.QCResult{
		Passed:  true,
		Summary: "rehearsal verification, no checks executed",
		Checks: []task.QCCheck{
			{Name: "rehearsal", Passed: true, Message: "accepted without inspection"},
		},
	}, nil
}

// rehearsalRunner drives each task node through the full coordinator
// lifecycle without launching an agent process. The node's output
// stream narrates the transitions.
type rehearsalRunner struct {
	pipe   *pipeline.Pipeline
	logger *slog.Logger
}

func (r *rehearsalRunner) RunNode(ctx context.Context, job dag.NodeJob) (dag.NodeResult, error) {
	created, err := r.pipe.Coordinator().AddTask(coordinator.TaskParams{
		Title:    job.Node.Title,
		Briefing: job.Node.Briefing,
		Agent:    job.Node.Role,
	})
	if err != nil {
		return dag.NodeResult{}, fmt.Errorf("enqueue task: %w", err)
	}
	job.Output(fmt.Sprintf("queued as task %s for %s", created.ID, created.AssignedAgent))

	if err := r.waitForDispatch(ctx, created.ID); err != nil {
		return dag.NodeResult{}, err
	}

	spec, err := r.pipe.PrepareTask(created.ID)
	if err != nil {
		return dag.NodeResult{}, fmt.Errorf("prepare task %s: %w", created.ID, err)
	}
	job.Output(fmt.Sprintf("briefing assembled, %d bytes, branch %s", len(spec.Briefing), spec.Branch))

	report := fmt.Sprintf("rehearsal run for %q finished", job.Node.Title)
	out, err := r.pipe.OnAgentComplete(ctx, created.ID, report)
	if err != nil {
		return dag.NodeResult{}, fmt.Errorf("complete task %s: %w", created.ID, err)
	}

	switch out.NextAction {
	case pipeline.ActionReview:
		// AutoQC is off; stand in for the reviewer so the rehearsal
		// still reaches a verdict.
		r.logger.Debug("recording stand-in review", "task", created.ID)
		res := &task.QCResult{Passed: true, Summary: "rehearsal review"}
		if err := r.pipe.Coordinator().OnQCComplete(created.ID, res); err != nil {
			return dag.NodeResult{}, err
		}
		if err := r.pipe.Approve(created.ID); err != nil {
			return dag.NodeResult{}, err
		}
	case pipeline.ActionCommitReview:
		if err := r.pipe.Approve(created.ID); err != nil {
			return dag.NodeResult{}, err
		}
	case pipeline.ActionRetry:
		return dag.NodeResult{}, fmt.Errorf("task %s failed verification: %s", created.ID, out.Result.Summary)
	case pipeline.ActionDone:
	}

	job.Output("task signed off")
	return dag.NodeResult{
		Output:    []string{report},
		Artifacts: map[string]string{"task_id": created.ID},
	}, nil
}

// waitForDispatch blocks until the coordinator hands the task an agent
// slot. Graph-level parallelism can outrun MaxConcurrentAgents, so a
// node may sit queued behind its siblings for a while.
func (r *rehearsalRunner) waitForDispatch(ctx context.Context, id string) error {
	ticker := time.NewTicker(25 * time.Millisecond)
	defer ticker.Stop()
	for {
		t, err := r.pipe.Coordinator().GetTask(id)
		if err != nil {
			return err
		}
		switch t.Status {
		case task.StatusInProgress:
			return nil
		case task.StatusBacklog:
		default:
			return fmt.Errorf("task %s left the queue in state %s", id, t.Status)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
