package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/foremanlabs/foreman/internal/events"
	"github.com/foremanlabs/foreman/internal/task"
)

// taskRow is what the pane knows about one coordinator task, built
// entirely from bus events.
type taskRow struct {
	ID       string
	Title    string
	Agent    string
	Status   task.Status
	Attempt  int
	Activity []string
	Duration time.Duration
}

// TaskPaneModel renders the task list and the selected task's activity log.
type TaskPaneModel struct {
	rows        map[string]*taskRow
	order       []string // insertion order for display
	selectedIdx int
	viewport    viewport.Model
	width       int
	height      int
	focused     bool
	updateTag   int // for debouncing
}

// NewTaskPaneModel creates a new task pane model.
func NewTaskPaneModel() TaskPaneModel {
	vp := viewport.New(0, 0)
	return TaskPaneModel{
		rows:     make(map[string]*taskRow),
		viewport: vp,
	}
}

// tickMsg is used for debouncing viewport updates.
type tickMsg struct {
	tag int
}

// Update handles messages for the task pane.
func (m TaskPaneModel) Update(msg tea.Msg) (TaskPaneModel, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resizeViewport()

	case tea.KeyMsg:
		if !m.focused {
			break
		}

		switch msg.String() {
		case KeyJ, KeyDown:
			if m.selectedIdx < len(m.order)-1 {
				m.selectedIdx++
				m.updateViewportContent()
			}
		case KeyK, KeyUp:
			if m.selectedIdx > 0 {
				m.selectedIdx--
				m.updateViewportContent()
			}
		default:
			// Delegate other keys to viewport for scrolling
			m.viewport, cmd = m.viewport.Update(msg)
		}

	case events.TaskEnqueuedEvent:
		row := m.ensureRow(msg.ID, msg.Title)
		row.Status = task.StatusBacklog
		return m.logActivity(msg.ID, fmt.Sprintf("queued with priority %s", msg.Priority))

	case events.TaskStartedEvent:
		row := m.ensureRow(msg.ID, msg.Title)
		row.Status = task.StatusInProgress
		row.Agent = msg.Agent
		row.Attempt++
		line := fmt.Sprintf("dispatched to %s on %s", msg.Agent, msg.Branch)
		if row.Attempt > 1 {
			line = fmt.Sprintf("%s (attempt %d)", line, row.Attempt)
		}
		return m.logActivity(msg.ID, line)

	case events.TaskCompletedEvent:
		row := m.ensureRow(msg.ID, msg.Title)
		row.Status = task.StatusReview
		row.Duration = msg.Duration
		return m.logActivity(msg.ID, fmt.Sprintf("\n[run finished in %v]", msg.Duration))

	case events.TaskQCPassedEvent:
		row := m.ensureRow(msg.ID, "")
		row.Status = task.StatusCommitReview
		line := "[QC passed]"
		if msg.Summary != "" {
			line += " " + msg.Summary
		}
		return m.logActivity(msg.ID, line)

	case events.TaskQCFailedEvent:
		row := m.ensureRow(msg.ID, "")
		row.Status = task.StatusBacklog
		line := "[QC failed]"
		if msg.Summary != "" {
			line += " " + msg.Summary
		}
		if len(msg.FailedChecks) > 0 {
			line += "\nfailed checks: " + strings.Join(msg.FailedChecks, ", ")
		}
		return m.logActivity(msg.ID, line)

	case events.TaskApprovedEvent:
		row := m.ensureRow(msg.ID, "")
		row.Status = task.StatusDone
		return m.logActivity(msg.ID, "\n[approved]")

	case events.TaskRejectedEvent:
		row := m.ensureRow(msg.ID, "")
		row.Status = task.StatusBacklog
		line := "[rejected]"
		if msg.Reason != "" {
			line += " " + msg.Reason
		}
		return m.logActivity(msg.ID, line)

	case events.TaskFailedEvent:
		row := m.ensureRow(msg.ID, "")
		row.Status = task.StatusFailed
		line := "\n[failed]"
		if msg.Reason != "" {
			line = fmt.Sprintf("\n[failed] %s", msg.Reason)
		}
		return m.logActivity(msg.ID, line)

	case events.TaskMergedEvent:
		m.ensureRow(msg.ID, "")
		line := fmt.Sprintf("[merged %s]", msg.Branch)
		if !msg.Merged {
			line = fmt.Sprintf("[%s not merged]", msg.Branch)
			if len(msg.ConflictFiles) > 0 {
				line += " conflicts: " + strings.Join(msg.ConflictFiles, ", ")
			}
		}
		return m.logActivity(msg.ID, line)

	case tickMsg:
		// Only update if this tick matches the current tag (debouncing)
		if msg.tag == m.updateTag {
			m.updateViewportContent()
		}
	}

	return m, cmd
}

// ensureRow returns the row for id, creating it if this is the first
// event seen for that task. A pane attached mid-run still builds a list.
func (m *TaskPaneModel) ensureRow(id, title string) *taskRow {
	if row, ok := m.rows[id]; ok {
		if title != "" {
			row.Title = title
		}
		return row
	}
	if title == "" {
		title = shortID(id)
	}
	row := &taskRow{
		ID:     id,
		Title:  title,
		Status: task.StatusBacklog,
	}
	m.rows[id] = row
	m.order = append(m.order, id)
	if len(m.order) == 1 {
		m.selectedIdx = 0
	}
	return row
}

// logActivity appends a line to the task's activity log. Updates for the
// selected task are debounced so event bursts repaint the viewport once.
func (m TaskPaneModel) logActivity(id, line string) (TaskPaneModel, tea.Cmd) {
	row, ok := m.rows[id]
	if !ok {
		return m, nil
	}
	row.Activity = append(row.Activity, line)
	if m.selectedTaskID() != id {
		return m, nil
	}
	m.updateTag++
	tag := m.updateTag
	return m, tea.Tick(50*time.Millisecond, func(time.Time) tea.Msg {
		return tickMsg{tag: tag}
	})
}

// View renders the task pane.
func (m TaskPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	// Split into two columns: task list (left) and activity viewport (right)
	listWidth := 28
	viewportWidth := m.width - listWidth - 4 // account for borders and padding

	listContent := m.renderTaskList(listWidth)
	viewportContent := m.viewport.View()

	content := lipgloss.JoinHorizontal(
		lipgloss.Top,
		listContent,
		lipgloss.NewStyle().
			Width(viewportWidth).
			Height(m.height-2).
			Render(viewportContent),
	)

	style := StyleUnfocusedBorder
	if m.focused {
		style = StyleFocusedBorder
	}

	return style.
		Width(m.width - 2).
		Height(m.height - 2).
		Render(content)
}

// renderTaskList renders the task list column.
func (m TaskPaneModel) renderTaskList(width int) string {
	var b strings.Builder

	title := StyleTitle.Render("Tasks")
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", min(width, lipgloss.Width(title))))
	b.WriteString("\n\n")

	if len(m.order) == 0 {
		b.WriteString(StyleStatusPending.Render("Waiting..."))
	} else {
		for i, id := range m.order {
			row := m.rows[id]
			icon := statusIcon(row.Status)
			name := row.Title
			if len(name) > width-6 {
				name = name[:width-9] + "..."
			}

			line := fmt.Sprintf("%s %s", icon, name)
			if i == m.selectedIdx {
				line = StyleSelected.Render(line)
			}
			b.WriteString(line)
			b.WriteString("\n")
		}
	}

	return lipgloss.NewStyle().
		Width(width).
		Height(m.height - 2).
		Render(b.String())
}

// statusIcon returns a styled indicator for a task status.
func statusIcon(s task.Status) string {
	switch s {
	case task.StatusInProgress:
		return StyleStatusRunning.Render("●")
	case task.StatusReview:
		return StyleStatusReview.Render("◆")
	case task.StatusCommitReview:
		return StyleStatusGate.Render("◆")
	case task.StatusDone:
		return StyleStatusDone.Render("✓")
	case task.StatusFailed:
		return StyleStatusFailed.Render("✗")
	default:
		return StyleStatusPending.Render("○")
	}
}

// selectedTaskID returns the ID of the currently selected task.
func (m TaskPaneModel) selectedTaskID() string {
	if m.selectedIdx >= 0 && m.selectedIdx < len(m.order) {
		return m.order[m.selectedIdx]
	}
	return ""
}

// updateViewportContent updates the viewport with the selected task's
// activity log.
func (m *TaskPaneModel) updateViewportContent() {
	id := m.selectedTaskID()
	if id == "" {
		m.viewport.SetContent("Waiting for tasks...")
		return
	}

	row, ok := m.rows[id]
	if !ok {
		m.viewport.SetContent("Waiting for tasks...")
		return
	}

	header := fmt.Sprintf("%s  [%s]", row.Title, row.Status)
	if row.Agent != "" {
		header += "  agent: " + row.Agent
	}
	content := header + "\n" + strings.Repeat("-", len(header)) + "\n" + strings.Join(row.Activity, "\n")
	m.viewport.SetContent(content)
	// Auto-scroll to bottom
	m.viewport.GotoBottom()
}

// resizeViewport resizes the viewport based on pane dimensions.
func (m *TaskPaneModel) resizeViewport() {
	listWidth := 28
	viewportWidth := m.width - listWidth - 4
	viewportHeight := m.height - 4 // account for borders

	if viewportWidth < 10 {
		viewportWidth = 10
	}
	if viewportHeight < 5 {
		viewportHeight = 5
	}

	m.viewport.Width = viewportWidth
	m.viewport.Height = viewportHeight
}

// SetSize updates the pane dimensions.
func (m *TaskPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
	m.resizeViewport()
}

// SetFocused updates the focus state.
func (m *TaskPaneModel) SetFocused(focused bool) {
	m.focused = focused
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
