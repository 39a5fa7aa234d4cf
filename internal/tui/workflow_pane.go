package tui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/hallqvist/devteam/internal/events"
)

type workflowProgress struct {
	status    string
	phase     string
	completed int
	total     int
}

// WorkflowPaneModel shows per-workflow progress and any escalations waiting
// for a human.
type WorkflowPaneModel struct {
	progress    map[string]*workflowProgress // workflowID -> latest progress
	order       []string                     // insertion order for display
	escalations []string
	width       int
	height      int
	focused     bool
}

// NewWorkflowPaneModel creates a new workflow pane model.
func NewWorkflowPaneModel() WorkflowPaneModel {
	return WorkflowPaneModel{
		progress: make(map[string]*workflowProgress),
	}
}

// Update handles messages for the workflow pane.
func (m WorkflowPaneModel) Update(msg tea.Msg) (WorkflowPaneModel, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case events.WorkflowProgressEvent:
		p, exists := m.progress[msg.WorkflowID]
		if !exists {
			p = &workflowProgress{}
			m.progress[msg.WorkflowID] = p
			m.order = append(m.order, msg.WorkflowID)
		}
		p.status = msg.Status
		p.phase = msg.Phase
		p.completed = msg.Completed
		p.total = msg.Total

	case events.EscalationEvent:
		m.escalations = append(m.escalations, fmt.Sprintf("%s: %s (%s)", msg.WorkflowID, msg.Reason, msg.Risk))
	}

	return m, nil
}

// View renders the workflow pane.
func (m WorkflowPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	var b strings.Builder

	title := StyleTitle.Render("Workflows")
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", lipgloss.Width(title)))
	b.WriteString("\n\n")

	if len(m.order) == 0 {
		b.WriteString(StyleStatusPending.Render("No workflows yet"))
		b.WriteString("\n")
	}

	for _, id := range m.order {
		p := m.progress[id]
		b.WriteString(fmt.Sprintf("%s %s  phase: %s\n", m.statusIcon(p.status), id, p.phase))
		b.WriteString(fmt.Sprintf("  [%s]  %d/%d\n", m.progressBar(p), p.completed, p.total))
	}

	if len(m.escalations) > 0 {
		b.WriteString("\n")
		b.WriteString(StyleStatusFailed.Render("Needs a human:"))
		b.WriteString("\n")
		for _, esc := range m.escalations {
			b.WriteString("  ")
			b.WriteString(StyleStatusFailed.Render("!"))
			b.WriteString(" ")
			b.WriteString(esc)
			b.WriteString("\n")
		}
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

func (m WorkflowPaneModel) statusIcon(status string) string {
	switch status {
	case "completed":
		return StyleStatusComplete.Render("✓")
	case "blocked":
		return StyleStatusFailed.Render("✗")
	default:
		return StyleStatusRunning.Render("●")
	}
}

func (m WorkflowPaneModel) progressBar(p *workflowProgress) string {
	if p.total == 0 {
		return ""
	}
	barWidth := min(m.width-12, 40)
	completedWidth := (p.completed * barWidth) / p.total
	pendingWidth := barWidth - completedWidth

	bar := StyleStatusComplete.Render(strings.Repeat("=", max(0, completedWidth)))
	bar += StyleStatusPending.Render(strings.Repeat(".", max(0, pendingWidth)))
	return bar
}

// SetSize updates the pane dimensions.
func (m *WorkflowPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
}

// SetFocused updates the focus state.
func (m *WorkflowPaneModel) SetFocused(focused bool) {
	m.focused = focused
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
