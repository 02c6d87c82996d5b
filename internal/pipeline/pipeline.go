// Package pipeline drives tasks across the agent boundary. Before a run
// it assembles the briefing the agent receives; after a run it verifies
// the work, feeds the verdict back into the coordinator, and merges
// approved branches. The coordinator owns all task state, the pipeline
// owns the collaborators around it.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/foremanlabs/foreman/internal/config"
	"github.com/foremanlabs/foreman/internal/coordinator"
	"github.com/foremanlabs/foreman/internal/events"
	"github.com/foremanlabs/foreman/internal/scope"
	"github.com/foremanlabs/foreman/internal/task"
	"github.com/foremanlabs/foreman/internal/vcs"
)

// Branches is the slice of branch management the pipeline needs.
type Branches interface {
	EnsureBranch(branch string) error
	DiffFiles(branch string) ([]string, error)
	MergeDefault(branch string) (*vcs.MergeReport, error)
	DeleteBranch(branch string) error
}

// Options carries the pipeline collaborators. Builder defaults to
// SectionBuilder; every other field may be nil.
type Options struct {
	Builder  Builder
	Verifier Verifier
	Branches Branches
	Bus      *events.Bus
	Logger   *slog.Logger
}

// Pipeline composes the coordinator with briefing assembly, verification,
// and branch management.
type Pipeline struct {
	coord    *coordinator.Coordinator
	builder  Builder
	verifier Verifier
	branches Branches
	bus      *events.Bus
	logger   *slog.Logger
}

// New creates a pipeline around an existing coordinator.
func New(coord *coordinator.Coordinator, opts Options) *Pipeline {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	builder := opts.Builder
	if builder == nil {
		builder = SectionBuilder{}
	}

	return &Pipeline{
		coord:    coord,
		builder:  builder,
		verifier: opts.Verifier,
		branches: opts.Branches,
		bus:      opts.Bus,
		logger:   logger,
	}
}

// RunSpec is everything the process runner needs to launch an agent for
// one task.
type RunSpec struct {
	TaskID       string
	Briefing     string
	Branch       string
	AllowedFiles []string
	BlockedFiles []string
}

// defaultSystemPrompt is used when neither the agent role nor the project
// provides one.
const defaultSystemPrompt = "You are an autonomous coding agent working on a single assigned task."

// PrepareTask assembles the run spec for a task. The optional
// system-prompt and manifest documents are read from the project
// directory; a missing file reads as empty. When a branch manager is
// wired the task branch is created up front, but a failure there only
// logs, the agent can still start.
func (p *Pipeline) PrepareTask(id string) (*RunSpec, error) {
	t, err := p.coord.GetTask(id)
	if err != nil {
		return nil, err
	}
	cfg := p.coord.GetConfig()

	branch := t.BranchName
	if branch == "" {
		branch = t.DeriveBranch()
	}
	if p.branches != nil {
		if err := p.branches.EnsureBranch(branch); err != nil {
			p.logger.Warn("branch setup failed", "task", id, "branch", branch, "error", err)
		}
	}

	briefing := p.builder.Build(BriefingInput{
		SystemPrompt: p.systemPrompt(cfg, t.AssignedAgent),
		Branch:       branch,
		Manifest:     p.readDocument(cfg, cfg.ManifestPath),
		AllowedFiles: t.AllowedFiles,
		BlockedFiles: t.BlockedFiles,
		Title:        t.Title,
		Briefing:     t.Briefing,
	})

	return &RunSpec{
		TaskID:       id,
		Briefing:     briefing,
		Branch:       branch,
		AllowedFiles: t.AllowedFiles,
		BlockedFiles: t.BlockedFiles,
	}, nil
}

// systemPrompt composes the agent's role prompt with the optional project
// document. Either part may be absent.
func (p *Pipeline) systemPrompt(cfg *config.Config, agent string) string {
	var parts []string
	if role, ok := cfg.Agents[agent]; ok && role.SystemPrompt != "" {
		parts = append(parts, role.SystemPrompt)
	}
	if doc := p.readDocument(cfg, cfg.SystemPromptPath); doc != "" {
		parts = append(parts, doc)
	}
	if len(parts) == 0 {
		return defaultSystemPrompt
	}
	return strings.Join(parts, "\n\n")
}

// readDocument reads an optional briefing document relative to the
// project directory. Absent files read as empty.
func (p *Pipeline) readDocument(cfg *config.Config, rel string) string {
	if rel == "" {
		return ""
	}
	path := rel
	if !filepath.IsAbs(path) {
		path = filepath.Join(cfg.ProjectDir, rel)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			p.logger.Warn("briefing document unreadable", "path", path, "error", err)
		}
		return ""
	}
	return strings.TrimSpace(string(data))
}

// NextAction tells the caller what happens to a task after its agent run
// was handed back.
type NextAction string

const (
	// ActionReview: the task waits in review for verification to be
	// triggered externally.
	ActionReview NextAction = "review"
	// ActionCommitReview: verification passed, the task awaits sign-off.
	ActionCommitReview NextAction = "commit_review"
	// ActionRetry: verification failed, the task is back in the backlog
	// with feedback.
	ActionRetry NextAction = "retry"
	// ActionDone: verification passed and the task completed without a
	// sign-off step.
	ActionDone NextAction = "done"
)

// Outcome reports what happened after an agent run was handed back.
type Outcome struct {
	QCPassed   bool
	Result     *task.QCResult
	NextAction NextAction
}

// OnAgentComplete ingests a finished agent run. The task moves to review;
// when a verifier is wired and AutoQC is on, verification runs now and
// its verdict drives the next transition. A verifier outage fails the
// task rather than leaving it parked in review.
func (p *Pipeline) OnAgentComplete(ctx context.Context, id, output string) (*Outcome, error) {
	if err := p.coord.OnTaskComplete(id, output); err != nil {
		return nil, err
	}

	cfg := p.coord.GetConfig()
	if p.verifier == nil || !cfg.AutoQC {
		return &Outcome{NextAction: ActionReview}, nil
	}

	t, err := p.coord.GetTask(id)
	if err != nil {
		return nil, err
	}
	branch := t.BranchName
	if branch == "" {
		branch = t.DeriveBranch()
	}

	res, err := p.verifier.Verify(ctx, cfg.ProjectDir, branch)
	if err == nil && res == nil {
		err = errors.New("verifier returned no result")
	}
	if err != nil {
		if !errors.Is(err, ErrVerifierUnavailable) {
			err = fmt.Errorf("%w: %w", ErrVerifierUnavailable, err)
		}
		if failErr := p.coord.FailTask(id, err.Error()); failErr != nil {
			p.logger.Error("could not fail task after verifier outage", "task", id, "error", failErr)
		}
		return nil, err
	}

	res = p.applyScopeCheck(t, branch, res)

	if err := p.coord.OnQCComplete(id, res); err != nil {
		return nil, err
	}

	if !res.Passed {
		return &Outcome{Result: res, NextAction: ActionRetry}, nil
	}

	out := &Outcome{QCPassed: true, Result: res, NextAction: ActionCommitReview}
	if cfg.AutoMergeOnQCPass {
		// The coordinator already took the task to done; land the branch.
		out.NextAction = ActionDone
		p.mergeBranch(id, branch)
	}
	return out, nil
}

// applyScopeCheck diffs the branch against the base and demotes a passing
// verdict when the agent touched files outside the task's writable scope.
// The failed scope check rides the normal QC retry loop.
func (p *Pipeline) applyScopeCheck(t *task.Task, branch string, res *task.QCResult) *task.QCResult {
	if p.branches == nil || (len(t.AllowedFiles) == 0 && len(t.BlockedFiles) == 0) {
		return res
	}

	files, err := p.branches.DiffFiles(branch)
	if err != nil {
		p.logger.Warn("scope diff failed", "task", t.ID, "branch", branch, "error", err)
		return res
	}
	violations := scope.New(t.AllowedFiles, t.BlockedFiles).Violations(files)
	if len(violations) == 0 {
		return res
	}

	out := res.Clone()
	out.Passed = false
	out.Checks = append([]task.QCCheck{{
		Name:    "scope",
		Message: "files changed outside the task scope: " + strings.Join(violations, ", "),
	}}, out.Checks...)
	if out.Summary == "" {
		out.Summary = "changes outside the allowed file scope"
	}
	return out
}

// Approve signs off a task in commit review and lands its branch.
// Approving a task that is already done is a no-op.
func (p *Pipeline) Approve(id string) error {
	t, err := p.coord.GetTask(id)
	if err != nil {
		return err
	}
	if t.Status == task.StatusDone {
		return nil
	}
	if err := p.coord.ApproveTask(id); err != nil {
		return err
	}

	branch := t.BranchName
	if branch == "" {
		branch = t.DeriveBranch()
	}
	p.mergeBranch(id, branch)
	return nil
}

// Reject sends a commit-review task back to the backlog with a note. The
// branch stays for the next attempt.
func (p *Pipeline) Reject(id, reason string) error {
	return p.coord.RejectTask(id, reason)
}

// mergeBranch merges the task branch into the base branch and reports the
// outcome on the bus. A conflict leaves the branch in place for manual
// resolution; the task itself stays done.
func (p *Pipeline) mergeBranch(id, branch string) {
	if p.branches == nil {
		return
	}

	report, err := p.branches.MergeDefault(branch)
	if err != nil {
		p.logger.Error("merge failed", "task", id, "branch", branch, "error", err)
		report = &vcs.MergeReport{Merged: false}
	}
	if report.Merged {
		if err := p.branches.DeleteBranch(branch); err != nil {
			p.logger.Warn("could not delete merged branch", "branch", branch, "error", err)
		}
	} else if report.Error != nil {
		p.logger.Warn("branch not merged", "task", id, "branch", branch, "error", report.Error)
	}

	p.publish(events.TaskMergedEvent{
		ID:            id,
		Branch:        branch,
		Merged:        report.Merged,
		ConflictFiles: report.ConflictFiles,
		Timestamp:     time.Now(),
	})
}

// Tick dispatches the next eligible task if capacity allows. Scheduler
// loops call this on a timer.
func (p *Pipeline) Tick() (string, bool) {
	return p.coord.ProcessBacklog()
}

// GetState returns the coordinator's snapshot.
func (p *Pipeline) GetState() *coordinator.State {
	return p.coord.GetState()
}

// Coordinator exposes the underlying coordinator for direct lifecycle
// calls.
func (p *Pipeline) Coordinator() *coordinator.Coordinator {
	return p.coord
}

func (p *Pipeline) publish(ev events.Event) {
	if p.bus != nil {
		p.bus.Publish(ev)
	}
}
