package tui

import (
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/foremanlabs/foreman/internal/events"
)

type recordingApprover struct {
	dagID  string
	nodeID string
	calls  int
	err    error
}

func (a *recordingApprover) ApproveGate(dagID, nodeID string) error {
	a.calls++
	a.dagID = dagID
	a.nodeID = nodeID
	return a.err
}

func keyPress(r rune) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}}
}

func TestDAGPaneApprovesSelectedGate(t *testing.T) {
	approver := &recordingApprover{}
	m := NewDAGPaneModel(approver)
	m.SetFocused(true)

	m, _ = m.Update(events.NodeWaitingApprovalEvent{DagID: "d1", NodeID: "review", Name: "review gate", Timestamp: time.Now()})
	m, _ = m.Update(events.NodeWaitingApprovalEvent{DagID: "d1", NodeID: "ship", Name: "ship gate", Timestamp: time.Now()})

	// Move to the second gate and approve it.
	m, _ = m.Update(keyPress('j'))
	m, _ = m.Update(keyPress('a'))

	if approver.calls != 1 {
		t.Fatalf("approver calls = %d, want 1", approver.calls)
	}
	if approver.dagID != "d1" || approver.nodeID != "ship" {
		t.Errorf("approved %s/%s, want d1/ship", approver.dagID, approver.nodeID)
	}

	// The row leaves the list once the executor reports the node done.
	m, _ = m.Update(events.NodeCompletedEvent{DagID: "d1", NodeID: "ship", Timestamp: time.Now()})
	if len(m.gates) != 1 || m.gates[0].NodeID != "review" {
		t.Errorf("gates after completion = %+v, want only the review gate", m.gates)
	}
}

func TestDAGPaneIgnoresApproveWhenUnfocused(t *testing.T) {
	approver := &recordingApprover{}
	m := NewDAGPaneModel(approver)

	m, _ = m.Update(events.NodeWaitingApprovalEvent{DagID: "d1", NodeID: "review", Name: "review gate", Timestamp: time.Now()})
	_, _ = m.Update(keyPress('a'))

	if approver.calls != 0 {
		t.Errorf("approver calls = %d, want 0 while the pane is unfocused", approver.calls)
	}
}

func TestDAGPaneDropsDeadGates(t *testing.T) {
	m := NewDAGPaneModel(nil)

	m, _ = m.Update(events.NodeWaitingApprovalEvent{DagID: "d1", NodeID: "review", Name: "review gate", Timestamp: time.Now()})
	m, _ = m.Update(events.NodeFailedEvent{DagID: "d1", NodeID: "review", Status: "skipped", Reason: "dead branch", Timestamp: time.Now()})

	if len(m.gates) != 0 {
		t.Errorf("gates = %+v, want none after the node died", m.gates)
	}
}

func TestDAGPaneTracksProgressCounts(t *testing.T) {
	m := NewDAGPaneModel(nil)
	m, _ = m.Update(events.DAGProgressEvent{
		DagID: "d1", Total: 6, Completed: 2, Running: 1, Failed: 0,
		Pending: 1, Skipped: 1, WaitingApproval: 1, Timestamp: time.Now(),
	})

	if m.total != 6 || m.completed != 2 || m.skipped != 1 || m.waiting != 1 {
		t.Errorf("counts = total %d completed %d skipped %d waiting %d, want 6/2/1/1",
			m.total, m.completed, m.skipped, m.waiting)
	}
}
