package tui

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/foremanlabs/foreman/internal/config"
	"github.com/foremanlabs/foreman/internal/coordinator"
)

// Controller is the slice of the coordinator the settings form drives.
// *coordinator.Coordinator satisfies it.
type Controller interface {
	GetConfig() *config.Config
	UpdateConfig(coordinator.ConfigUpdate) error
}

// SettingsPaneModel manages the settings form overlay.
type SettingsPaneModel struct {
	form        *huh.Form
	control     Controller
	globalPath  string
	projectPath string
	width       int
	height      int
	visible     bool
	saved       bool
	err         error

	// Form field bindings (strings for Huh inputs)
	saveTarget   string
	maxAgents    string
	defaultAgent string
	maxTurns     string
	autoQC       bool
	autoMerge    bool
}

// NewSettingsPaneModel creates a new settings pane.
func NewSettingsPaneModel(control Controller, globalPath, projectPath string) SettingsPaneModel {
	m := SettingsPaneModel{
		control:     control,
		globalPath:  globalPath,
		projectPath: projectPath,
		saveTarget:  "global",
	}
	m.seedFromConfig()
	m.buildForm()
	return m
}

// seedFromConfig pulls the live configuration into the form bindings.
func (m *SettingsPaneModel) seedFromConfig() {
	cfg := m.control.GetConfig()
	m.maxAgents = strconv.Itoa(cfg.MaxConcurrentAgents)
	m.defaultAgent = cfg.DefaultAgent
	m.maxTurns = strconv.Itoa(cfg.DefaultMaxTurns)
	m.autoQC = cfg.AutoQC
	m.autoMerge = cfg.AutoMergeOnQCPass
}

// buildForm constructs the Huh form with all settings fields.
func (m *SettingsPaneModel) buildForm() {
	cfg := m.control.GetConfig()
	roles := make([]string, 0, len(cfg.Agents))
	for name := range cfg.Agents {
		roles = append(roles, name)
	}
	sort.Strings(roles)

	roleOptions := make([]huh.Option[string], 0, len(roles))
	for _, name := range roles {
		roleOptions = append(roleOptions, huh.NewOption(name, name))
	}

	m.form = huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Key("saveTarget").
				Title("Save To").
				Options(
					huh.NewOption("Global (~/.foreman/config.json)", "global"),
					huh.NewOption("Project (.foreman/config.json)", "project"),
				).
				Value(&m.saveTarget),
		).Title("Save Target"),

		huh.NewGroup(
			huh.NewInput().
				Key("maxAgents").
				Title("Max Concurrent Agents").
				Value(&m.maxAgents).
				Validate(atLeastOne).
				Placeholder("3"),

			huh.NewSelect[string]().
				Key("defaultAgent").
				Title("Default Agent").
				Options(roleOptions...).
				Value(&m.defaultAgent),

			huh.NewInput().
				Key("maxTurns").
				Title("Default Max Turns").
				Value(&m.maxTurns).
				Validate(atLeastOne).
				Placeholder("30"),
		).Title("Dispatch Settings"),

		huh.NewGroup(
			huh.NewConfirm().
				Key("autoQC").
				Title("Run QC when an agent finishes").
				Value(&m.autoQC),

			huh.NewConfirm().
				Key("autoMerge").
				Title("Merge the branch when QC passes").
				Value(&m.autoMerge),
		).Title("Review Settings"),
	)
}

// atLeastOne validates a numeric form field.
func atLeastOne(s string) error {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 1 {
		return fmt.Errorf("enter a number of at least 1")
	}
	return nil
}

// Init initializes the settings pane.
func (m SettingsPaneModel) Init() tea.Cmd {
	return m.form.Init()
}

// Update handles messages for the settings pane.
func (m SettingsPaneModel) Update(msg tea.Msg) (SettingsPaneModel, tea.Cmd) {
	if !m.visible {
		return m, nil
	}

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case KeyEsc:
			// Cancel without saving
			m.visible = false
			m.saved = false
			return m, nil
		}
	}

	// Delegate to form
	form, cmd := m.form.Update(msg)
	if f, ok := form.(*huh.Form); ok {
		m.form = f
	}

	if m.form.State == huh.StateCompleted {
		if err := m.applyConfig(); err != nil {
			m.err = err
			m.saved = false
		} else {
			m.saved = true
			m.err = nil
			m.visible = false
		}
	}

	return m, cmd
}

// applyConfig pushes the form values into the running coordinator, then
// writes the resulting configuration to the chosen file.
func (m *SettingsPaneModel) applyConfig() error {
	agents, err := strconv.Atoi(strings.TrimSpace(m.maxAgents))
	if err != nil {
		return fmt.Errorf("max concurrent agents: %w", err)
	}
	turns, err := strconv.Atoi(strings.TrimSpace(m.maxTurns))
	if err != nil {
		return fmt.Errorf("default max turns: %w", err)
	}

	update := coordinator.ConfigUpdate{
		MaxConcurrentAgents: &agents,
		DefaultAgent:        &m.defaultAgent,
		DefaultMaxTurns:     &turns,
		AutoQC:              &m.autoQC,
		AutoMergeOnQCPass:   &m.autoMerge,
	}
	if err := m.control.UpdateConfig(update); err != nil {
		return err
	}

	path := m.globalPath
	if m.saveTarget == "project" {
		path = m.projectPath
	}
	return config.Save(m.control.GetConfig(), path)
}

// View renders the settings pane.
func (m SettingsPaneModel) View() string {
	if !m.visible {
		return ""
	}

	var content string

	if m.saved && m.form.State == huh.StateCompleted {
		content = StyleStatusDone.Render("✓ Settings saved")
	} else if m.err != nil {
		content = StyleStatusFailed.Render(fmt.Sprintf("✗ Error saving: %v", m.err))
	} else {
		content = m.form.View()
	}

	style := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("62")).
		Padding(1, 2).
		Width(m.width - 4).
		Height(m.height - 4)

	title := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("62")).
		Render("⚙ Settings")

	return lipgloss.JoinVertical(lipgloss.Left, title, style.Render(content))
}

// SetSize updates the dimensions of the settings pane.
func (m *SettingsPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
	if m.form != nil {
		m.form.WithWidth(w - 8).WithHeight(h - 8)
	}
}

// SetVisible shows or hides the settings pane. Showing rebuilds the form
// from the live configuration so runtime changes are reflected.
func (m *SettingsPaneModel) SetVisible(v bool) {
	m.visible = v
	m.saved = false
	m.err = nil

	if v {
		m.seedFromConfig()
		m.buildForm()
	}
}

// IsVisible returns whether the settings pane is currently visible.
func (m SettingsPaneModel) IsVisible() bool {
	return m.visible
}
