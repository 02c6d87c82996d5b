package tui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/foremanlabs/foreman/internal/events"
)

// GateApprover resolves manual gates that block a running graph.
// *dag.Executor satisfies it.
type GateApprover interface {
	ApproveGate(dagID, nodeID string) error
}

// gateRow is one gate currently waiting for an operator decision.
type gateRow struct {
	DagID  string
	NodeID string
	Name   string
}

// DAGPaneModel renders graph progress and the gates awaiting approval.
type DAGPaneModel struct {
	total     int
	completed int
	running   int
	failed    int
	pending   int
	skipped   int
	waiting   int

	gates       []gateRow
	selectedIdx int
	approver    GateApprover
	lastErr     error

	width   int
	height  int
	focused bool
}

// NewDAGPaneModel creates a new DAG pane model. A nil approver disables
// the approve key.
func NewDAGPaneModel(approver GateApprover) DAGPaneModel {
	return DAGPaneModel{approver: approver}
}

// Update handles messages for the DAG pane.
func (m DAGPaneModel) Update(msg tea.Msg) (DAGPaneModel, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tea.KeyMsg:
		if !m.focused {
			break
		}
		switch msg.String() {
		case KeyJ, KeyDown:
			if m.selectedIdx < len(m.gates)-1 {
				m.selectedIdx++
			}
		case KeyK, KeyUp:
			if m.selectedIdx > 0 {
				m.selectedIdx--
			}
		case KeyApprove:
			m.approveSelected()
		}

	case events.DAGProgressEvent:
		m.total = msg.Total
		m.completed = msg.Completed
		m.running = msg.Running
		m.failed = msg.Failed
		m.pending = msg.Pending
		m.skipped = msg.Skipped
		m.waiting = msg.WaitingApproval

	case events.NodeWaitingApprovalEvent:
		m.addGate(gateRow{DagID: msg.DagID, NodeID: msg.NodeID, Name: msg.Name})

	// A gate leaves the list when the graph moves past it, however that
	// happened: approved here, approved through another client, or the
	// branch died.
	case events.NodeCompletedEvent:
		m.removeGate(msg.DagID, msg.NodeID)
	case events.NodeFailedEvent:
		m.removeGate(msg.DagID, msg.NodeID)
	}

	return m, nil
}

// approveSelected asks the executor to open the selected gate. The row
// stays listed until the bus confirms the node moved on.
func (m *DAGPaneModel) approveSelected() {
	if m.approver == nil || len(m.gates) == 0 {
		return
	}
	if m.selectedIdx < 0 || m.selectedIdx >= len(m.gates) {
		return
	}
	g := m.gates[m.selectedIdx]
	m.lastErr = m.approver.ApproveGate(g.DagID, g.NodeID)
}

func (m *DAGPaneModel) addGate(g gateRow) {
	for _, have := range m.gates {
		if have.DagID == g.DagID && have.NodeID == g.NodeID {
			return
		}
	}
	m.gates = append(m.gates, g)
}

func (m *DAGPaneModel) removeGate(dagID, nodeID string) {
	for i, g := range m.gates {
		if g.DagID == dagID && g.NodeID == nodeID {
			m.gates = append(m.gates[:i], m.gates[i+1:]...)
			if m.selectedIdx >= len(m.gates) && m.selectedIdx > 0 {
				m.selectedIdx--
			}
			return
		}
	}
}

// View renders the DAG pane.
func (m DAGPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	var b strings.Builder

	title := StyleTitle.Render("Graph Progress")
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", lipgloss.Width(title)))
	b.WriteString("\n\n")

	b.WriteString(fmt.Sprintf("Total:     %d\n", m.total))
	b.WriteString(fmt.Sprintf("Completed: %s\n", StyleStatusDone.Render(fmt.Sprintf("%d", m.completed))))
	b.WriteString(fmt.Sprintf("Running:   %s\n", StyleStatusRunning.Render(fmt.Sprintf("%d", m.running))))
	b.WriteString(fmt.Sprintf("Failed:    %s\n", StyleStatusFailed.Render(fmt.Sprintf("%d", m.failed))))
	b.WriteString(fmt.Sprintf("Skipped:   %s\n", StyleStatusPending.Render(fmt.Sprintf("%d", m.skipped))))
	b.WriteString(fmt.Sprintf("Waiting:   %s\n", StyleStatusGate.Render(fmt.Sprintf("%d", m.waiting))))
	b.WriteString(fmt.Sprintf("Pending:   %s\n", StyleStatusPending.Render(fmt.Sprintf("%d", m.pending))))

	b.WriteString("\n")

	// Progress bar. Waiting gates count as pending: the bar tracks
	// terminal progress, the gate list below tracks the operator's inbox.
	if m.total > 0 {
		barWidth := min(m.width-4, 40)
		completedWidth := (m.completed * barWidth) / m.total
		skippedWidth := (m.skipped * barWidth) / m.total
		failedWidth := (m.failed * barWidth) / m.total
		runningWidth := (m.running * barWidth) / m.total
		pendingWidth := barWidth - completedWidth - skippedWidth - failedWidth - runningWidth

		bar := StyleStatusDone.Render(strings.Repeat("=", max(0, completedWidth)))
		bar += StyleStatusPending.Render(strings.Repeat("~", max(0, skippedWidth)))
		bar += StyleStatusFailed.Render(strings.Repeat("!", max(0, failedWidth)))
		bar += StyleStatusRunning.Render(strings.Repeat("-", max(0, runningWidth)))
		bar += StyleStatusPending.Render(strings.Repeat(".", max(0, pendingWidth)))

		b.WriteString(fmt.Sprintf("[%s]  %d/%d\n", bar, m.completed+m.skipped, m.total))
	}

	if len(m.gates) > 0 {
		b.WriteString("\n")
		b.WriteString(StyleStatusGate.Render("Gates awaiting approval"))
		b.WriteString("\n")
		for i, g := range m.gates {
			line := fmt.Sprintf("? %s", g.Name)
			if i == m.selectedIdx {
				line = StyleSelected.Render(line)
			}
			b.WriteString(line)
			b.WriteString("\n")
		}
		b.WriteString(StyleHelp.Render("press a to approve"))
		b.WriteString("\n")
	}

	if m.lastErr != nil {
		b.WriteString("\n")
		b.WriteString(StyleStatusFailed.Render(fmt.Sprintf("approve failed: %v", m.lastErr)))
		b.WriteString("\n")
	}

	content := b.String()

	style := StyleUnfocusedBorder
	if m.focused {
		style = StyleFocusedBorder
	}

	return style.
		Width(m.width - 2).
		Height(m.height - 2).
		Render(content)
}

// SetSize updates the pane dimensions.
func (m *DAGPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
}

// SetFocused updates the focus state.
func (m *DAGPaneModel) SetFocused(focused bool) {
	m.focused = focused
}
