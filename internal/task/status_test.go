package task

import "testing"

func TestStatusCanTransitionTo(t *testing.T) {
	tests := []struct {
		name   string
		from   Status
		to     Status
		want   bool
	}{
		{"backlog to in_progress", StatusBacklog, StatusInProgress, true},
		{"backlog to review", StatusBacklog, StatusReview, false},
		{"backlog to failed", StatusBacklog, StatusFailed, false},
		{"in_progress to review", StatusInProgress, StatusReview, true},
		{"in_progress to failed", StatusInProgress, StatusFailed, true},
		{"in_progress to done", StatusInProgress, StatusDone, false},
		{"review to commit_review", StatusReview, StatusCommitReview, true},
		{"review to backlog", StatusReview, StatusBacklog, true},
		{"review to failed", StatusReview, StatusFailed, true},
		{"review to done", StatusReview, StatusDone, false},
		{"commit_review to done", StatusCommitReview, StatusDone, true},
		{"commit_review to backlog", StatusCommitReview, StatusBacklog, true},
		{"commit_review to failed", StatusCommitReview, StatusFailed, true},
		{"commit_review to review", StatusCommitReview, StatusReview, false},
		{"done is terminal", StatusDone, StatusBacklog, false},
		{"failed is terminal", StatusFailed, StatusBacklog, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.from.CanTransitionTo(tt.to); got != tt.want {
				t.Errorf("CanTransitionTo(%s -> %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestStatusPredicates(t *testing.T) {
	if !StatusDone.IsTerminal() || !StatusFailed.IsTerminal() {
		t.Error("done and failed should be terminal")
	}
	if StatusReview.IsTerminal() {
		t.Error("review should not be terminal")
	}
	for _, s := range []Status{StatusInProgress, StatusReview, StatusCommitReview} {
		if !s.IsActive() {
			t.Errorf("%s should be active", s)
		}
	}
	for _, s := range []Status{StatusBacklog, StatusDone, StatusFailed} {
		if s.IsActive() {
			t.Errorf("%s should not be active", s)
		}
	}
	if Status("bogus").IsValid() {
		t.Error("unknown status should not be valid")
	}
	if !StatusCommitReview.IsValid() {
		t.Error("commit_review should be valid")
	}
}

func TestPriorityRank(t *testing.T) {
	order := []Priority{PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow}
	for i := 1; i < len(order); i++ {
		if order[i-1].Rank() >= order[i].Rank() {
			t.Errorf("%s should rank before %s", order[i-1], order[i])
		}
	}
	if Priority("urgent").IsValid() {
		t.Error("unknown priority should not be valid")
	}
	if Priority("urgent").Rank() <= PriorityLow.Rank() {
		t.Error("unknown priority should rank after low")
	}
}
