package task

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sentinel errors shared by every component that mutates tasks.
var (
	ErrNotFound          = errors.New("task not found")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Task is one unit of agent work: the briefing the agent receives, the file
// scope it may touch, the tasks it waits on, and the state the coordinator
// drives it through.
type Task struct {
	ID            string     `json:"id"`
	Title         string     `json:"title"`
	Briefing      string     `json:"briefing"`
	Project       string     `json:"project,omitempty"`
	Priority      Priority   `json:"priority"`
	AllowedFiles  []string   `json:"allowed_files,omitempty"`
	BlockedFiles  []string   `json:"blocked_files,omitempty"`
	Dependencies  []string   `json:"dependencies,omitempty"`
	Status        Status     `json:"status"`
	AssignedAgent string     `json:"assigned_agent,omitempty"`
	BranchName    string     `json:"branch_name,omitempty"`
	Output        string     `json:"output,omitempty"`
	Verification  *QCResult  `json:"verification,omitempty"`
	MaxTurns      int        `json:"max_turns,omitempty"`
	TokensUsed    int        `json:"tokens_used,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// QCResult is what the verifier reports after inspecting completed work.
type QCResult struct {
	Passed  bool      `json:"passed"`
	Summary string    `json:"summary,omitempty"`
	Checks  []QCCheck `json:"checks,omitempty"`
}

// QCCheck is a single named verification finding.
type QCCheck struct {
	Name    string `json:"name"`
	Passed  bool   `json:"passed"`
	Message string `json:"message,omitempty"`
}

// FailedChecks returns the checks that did not pass, in report order.
func (r *QCResult) FailedChecks() []QCCheck {
	var failed []QCCheck
	for _, c := range r.Checks {
		if !c.Passed {
			failed = append(failed, c)
		}
	}
	return failed
}

// Clone returns a deep copy of the result.
func (r *QCResult) Clone() *QCResult {
	clone := *r
	clone.Checks = append([]QCCheck(nil), r.Checks...)
	return &clone
}

// Clone returns a deep copy so callers cannot mutate shared state.
func (t *Task) Clone() *Task {
	clone := *t
	clone.AllowedFiles = append([]string(nil), t.AllowedFiles...)
	clone.BlockedFiles = append([]string(nil), t.BlockedFiles...)
	clone.Dependencies = append([]string(nil), t.Dependencies...)
	if t.Verification != nil {
		clone.Verification = t.Verification.Clone()
	}
	if t.StartedAt != nil {
		ts := *t.StartedAt
		clone.StartedAt = &ts
	}
	if t.CompletedAt != nil {
		ts := *t.CompletedAt
		clone.CompletedAt = &ts
	}
	return &clone
}

// AppendQCFeedback appends a dated feedback section to the briefing: the
// verifier summary plus each failed check's name and message. The next
// attempt sees its own review history.
func (t *Task) AppendQCFeedback(res *QCResult, now time.Time) {
	var b strings.Builder
	fmt.Fprintf(&b, "\n\n### QC feedback (%s)\n", now.UTC().Format("2006-01-02 15:04 UTC"))
	if res.Summary != "" {
		b.WriteString(res.Summary)
		b.WriteString("\n")
	}
	for _, c := range res.FailedChecks() {
		fmt.Fprintf(&b, "- %s: %s\n", c.Name, c.Message)
	}
	t.Briefing += b.String()
}

// AppendNote appends a dated free-form note to the briefing.
func (t *Task) AppendNote(note string, now time.Time) {
	t.Briefing += fmt.Sprintf("\n\n### Note (%s)\n%s\n", now.UTC().Format("2006-01-02 15:04 UTC"), note)
}

// ResetForRetry clears execution state so the task can be dequeued again.
// The next dispatch assigns an agent afresh and produces a fresh report.
func (t *Task) ResetForRetry() {
	t.StartedAt = nil
	t.CompletedAt = nil
	t.AssignedAgent = ""
	t.Output = ""
}

// DeriveBranch returns the working branch for this task.
func (t *Task) DeriveBranch() string {
	return "foreman/" + t.ID
}
