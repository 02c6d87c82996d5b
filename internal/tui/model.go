// Package tui is the terminal observer for a running orchestrator. It
// consumes the event bus like any other subscriber; the only writes it
// performs go through the small Controller and GateApprover hooks.
package tui

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/foremanlabs/foreman/internal/events"
)

// PaneID identifies which pane is focused.
type PaneID int

const (
	PaneTasks PaneID = iota
	PaneOutput
	PaneGraph
)

// Options configures the TUI model.
type Options struct {
	Bus      *events.Bus
	Control  Controller   // nil disables the settings form
	Approver GateApprover // nil disables gate approval

	GlobalConfigPath  string
	ProjectConfigPath string
}

// Model is the root Bubble Tea model.
type Model struct {
	taskPane     TaskPaneModel
	dagPane      DAGPaneModel
	settingsPane SettingsPaneModel
	hasSettings  bool
	focusedPane  PaneID
	eventSub     <-chan events.Event
	width        int
	height       int
	quitting     bool
	showSettings bool
}

// New creates the root model and subscribes to all bus topics.
func New(opts Options) Model {
	m := Model{
		taskPane:    NewTaskPaneModel(),
		dagPane:     NewDAGPaneModel(opts.Approver),
		focusedPane: PaneTasks,
		eventSub:    opts.Bus.SubscribeAll(256),
	}
	if opts.Control != nil {
		m.settingsPane = NewSettingsPaneModel(opts.Control, opts.GlobalConfigPath, opts.ProjectConfigPath)
		m.hasSettings = true
	}
	return m
}

// Init initializes the model and returns the initial command.
func (m Model) Init() tea.Cmd {
	return waitForEvent(m.eventSub)
}

// waitForEvent returns a command that waits for the next bus event.
func waitForEvent(sub <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		event, ok := <-sub
		if !ok {
			return nil // bus closed
		}
		return event
	}
}

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		// While the settings form is open it owns the keyboard.
		if m.showSettings {
			switch msg.String() {
			case KeySettings, KeyEsc:
				m.showSettings = false
				m.settingsPane.SetVisible(false)
			default:
				var cmd tea.Cmd
				m.settingsPane, cmd = m.settingsPane.Update(msg)
				cmds = append(cmds, cmd)

				// The form hides itself after a successful save.
				if !m.settingsPane.IsVisible() {
					m.showSettings = false
				}
			}
			return m, tea.Batch(cmds...)
		}

		switch msg.String() {
		case KeyQuit, KeyCtrlC:
			m.quitting = true
			return m, tea.Quit

		case KeySettings:
			if m.hasSettings {
				m.showSettings = true
				m.settingsPane.SetVisible(true)
				cmds = append(cmds, m.settingsPane.Init())
			}

		case KeyTab:
			m.focusedPane = (m.focusedPane + 1) % 3
			m.updateFocusStates()

		case KeyShiftTab:
			m.focusedPane = (m.focusedPane + 2) % 3
			m.updateFocusStates()

		case KeyPane1:
			m.focusedPane = PaneTasks
			m.updateFocusStates()

		case KeyPane2:
			m.focusedPane = PaneOutput
			m.updateFocusStates()

		case KeyPane3:
			m.focusedPane = PaneGraph
			m.updateFocusStates()

		default:
			// Delegate to the focused pane
			switch m.focusedPane {
			case PaneTasks, PaneOutput:
				var cmd tea.Cmd
				m.taskPane, cmd = m.taskPane.Update(msg)
				cmds = append(cmds, cmd)
			case PaneGraph:
				var cmd tea.Cmd
				m.dagPane, cmd = m.dagPane.Update(msg)
				cmds = append(cmds, cmd)
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.computeLayout()
		m.settingsPane.SetSize(msg.Width, msg.Height)

	case events.Event:
		// Every bus event goes to both panes; each keeps what it knows.
		// Re-arm the subscription for the next one.
		var cmd tea.Cmd
		m.taskPane, cmd = m.taskPane.Update(msg)
		cmds = append(cmds, cmd)
		m.dagPane, cmd = m.dagPane.Update(msg)
		cmds = append(cmds, cmd)
		cmds = append(cmds, waitForEvent(m.eventSub))

	case tickMsg:
		// Debounce ticks belong to the task pane's viewport.
		var cmd tea.Cmd
		m.taskPane, cmd = m.taskPane.Update(msg)
		cmds = append(cmds, cmd)

	default:
		// The form runs its own cursor and spinner messages.
		if m.showSettings {
			var cmd tea.Cmd
			m.settingsPane, cmd = m.settingsPane.Update(msg)
			cmds = append(cmds, cmd)
		}
	}

	return m, tea.Batch(cmds...)
}

// View renders the TUI.
func (m Model) View() string {
	if m.quitting {
		return "Shutting down.\n"
	}

	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}

	if m.showSettings {
		return m.settingsPane.View()
	}

	leftPane := m.taskPane.View()
	rightPane := m.dagPane.View()
	mainContent := lipgloss.JoinHorizontal(lipgloss.Top, leftPane, rightPane)

	return lipgloss.JoinVertical(lipgloss.Left, mainContent, HelpView())
}

// computeLayout calculates pane dimensions and updates the child models.
// The task pane takes the left two thirds, the graph pane the rest; one
// line is reserved for the help bar.
func (m *Model) computeLayout() {
	leftWidth := (m.width * 65) / 100
	rightWidth := m.width - leftWidth
	availableHeight := m.height - 1

	m.taskPane.SetSize(leftWidth, availableHeight)
	m.dagPane.SetSize(rightWidth, availableHeight)

	m.updateFocusStates()
}

// updateFocusStates updates the focus state of all panes.
func (m *Model) updateFocusStates() {
	m.taskPane.SetFocused(m.focusedPane == PaneTasks || m.focusedPane == PaneOutput)
	m.dagPane.SetFocused(m.focusedPane == PaneGraph)
}
