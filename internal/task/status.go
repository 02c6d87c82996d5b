package task

// Status tracks a task through its lifecycle. The legal path is
// backlog -> in_progress -> review -> (commit_review | backlog) -> done,
// with failed reachable from any active state.
type Status string

const (
	StatusBacklog      Status = "backlog"
	StatusInProgress   Status = "in_progress"
	StatusReview       Status = "review"
	StatusCommitReview Status = "commit_review"
	StatusDone         Status = "done"
	StatusFailed       Status = "failed"
)

func (s Status) String() string { return string(s) }

// IsValid reports whether s is a known status.
func (s Status) IsValid() bool {
	switch s {
	case StatusBacklog, StatusInProgress, StatusReview, StatusCommitReview, StatusDone, StatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether no further transitions are possible from s.
func (s Status) IsTerminal() bool {
	return s == StatusDone || s == StatusFailed
}

// IsActive reports whether the task is between dispatch and final sign-off.
func (s Status) IsActive() bool {
	switch s {
	case StatusInProgress, StatusReview, StatusCommitReview:
		return true
	}
	return false
}

// CanTransitionTo reports whether moving from s to target is legal.
// commit_review -> backlog covers human rejection, review -> backlog covers a
// failed QC round. Terminal states allow nothing.
func (s Status) CanTransitionTo(target Status) bool {
	switch s {
	case StatusBacklog:
		return target == StatusInProgress
	case StatusInProgress:
		return target == StatusReview || target == StatusFailed
	case StatusReview:
		return target == StatusCommitReview || target == StatusBacklog || target == StatusFailed
	case StatusCommitReview:
		return target == StatusDone || target == StatusBacklog || target == StatusFailed
	default:
		return false
	}
}

// Priority orders tasks in the backlog queue. Critical dequeues first.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

func (p Priority) String() string { return string(p) }

// IsValid reports whether p is a known priority.
func (p Priority) IsValid() bool {
	switch p {
	case PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow:
		return true
	}
	return false
}

// Rank returns the sort rank of p; lower ranks dequeue first.
// Unknown priorities sort last.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 3
	default:
		return 4
	}
}
