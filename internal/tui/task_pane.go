package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/hallqvist/devteam/internal/events"
)

// TaskState tracks one task's visible history: its role, current status and
// the event lines accumulated for it.
type TaskState struct {
	TaskID     string
	WorkflowID string
	Role       string
	Status     string // "queued", "running", "completed", "failed"
	Lines      []string
	StartTime  time.Time
	Duration   time.Duration
}

// TaskPaneModel shows the task list with a viewport for the selected task's
// event history.
type TaskPaneModel struct {
	tasks       map[string]*TaskState // taskID -> state
	taskOrder   []string              // insertion order for display
	selectedIdx int
	viewport    viewport.Model
	width       int
	height      int
	focused     bool
}

// NewTaskPaneModel creates a new task pane model.
func NewTaskPaneModel() TaskPaneModel {
	vp := viewport.New(0, 0)
	return TaskPaneModel{
		tasks:    make(map[string]*TaskState),
		viewport: vp,
	}
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
			if m.selectedIdx < len(m.taskOrder)-1 {
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

	case events.TaskQueuedEvent:
		m.track(msg.ID, msg.WorkflowID, msg.Role, msg.Timestamp)
		m.appendLine(msg.ID, fmt.Sprintf("[%s] queued", msg.Timestamp.Format("15:04:05")))

	case events.TaskStartedEvent:
		m.track(msg.ID, msg.WorkflowID, msg.Role, msg.Timestamp)
		if task := m.tasks[msg.ID]; task != nil {
			task.Status = "running"
			task.StartTime = msg.Timestamp
		}
		m.appendLine(msg.ID, fmt.Sprintf("[%s] started by %s", msg.Timestamp.Format("15:04:05"), msg.Role))

	case events.TaskCompletedEvent:
		if task := m.tasks[msg.ID]; task != nil {
			task.Status = "completed"
			task.Duration = msg.Duration
		}
		m.appendLine(msg.ID, fmt.Sprintf("[%s] completed with %s in %v", msg.Timestamp.Format("15:04:05"), msg.Code, msg.Duration.Round(time.Millisecond)))

	case events.TaskFailedEvent:
		if task := m.tasks[msg.ID]; task != nil {
			task.Status = "failed"
			task.Duration = msg.Duration
		}
		m.appendLine(msg.ID, fmt.Sprintf("[%s] failed with %s: %s", msg.Timestamp.Format("15:04:05"), msg.Code, msg.Err))
	}

	return m, cmd
}

func (m *TaskPaneModel) track(taskID, workflowID, role string, at time.Time) {
	if _, exists := m.tasks[taskID]; exists {
		return
	}
	m.tasks[taskID] = &TaskState{
		TaskID:     taskID,
		WorkflowID: workflowID,
		Role:       role,
		Status:     "queued",
		StartTime:  at,
	}
	m.taskOrder = append(m.taskOrder, taskID)
	if len(m.taskOrder) == 1 {
		m.selectedIdx = 0
		m.updateViewportContent()
	}
}

func (m *TaskPaneModel) appendLine(taskID, line string) {
	task, exists := m.tasks[taskID]
	if !exists {
		return
	}
	task.Lines = append(task.Lines, line)
	if m.selectedTaskID() == taskID {
		m.updateViewportContent()
	}
}

// View renders the task pane.
func (m TaskPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	// Split into two columns: task list (left) and viewport (right)
	listWidth := 30
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

	if len(m.taskOrder) == 0 {
		b.WriteString(StyleStatusPending.Render("Waiting..."))
	} else {
		for i, taskID := range m.taskOrder {
			task := m.tasks[taskID]
			icon := m.StatusIcon(task.Status)
			name := task.TaskID
			if len(name) > width-6 {
				name = name[:width-9] + "..."
			}

			line := fmt.Sprintf("%s %s", icon, name)
			if i == m.selectedIdx {
				line = lipgloss.NewStyle().
					Background(lipgloss.Color("62")).
					Foreground(lipgloss.Color("0")).
					Render(line)
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

// StatusIcon returns a styled status indicator.
func (m TaskPaneModel) StatusIcon(status string) string {
	switch status {
	case "running":
		return StyleStatusRunning.Render("●")
	case "completed":
		return StyleStatusComplete.Render("✓")
	case "failed":
		return StyleStatusFailed.Render("✗")
	default:
		return StyleStatusPending.Render("○")
	}
}

func (m TaskPaneModel) selectedTaskID() string {
	if m.selectedIdx >= 0 && m.selectedIdx < len(m.taskOrder) {
		return m.taskOrder[m.selectedIdx]
	}
	return ""
}

// updateViewportContent updates the viewport with the selected task's history.
func (m *TaskPaneModel) updateViewportContent() {
	taskID := m.selectedTaskID()
	if taskID == "" {
		m.viewport.SetContent("Waiting for tasks...")
		return
	}

	task, exists := m.tasks[taskID]
	if !exists {
		m.viewport.SetContent("Waiting for tasks...")
		return
	}

	header := fmt.Sprintf("%s (%s, workflow %s)\n\n", task.TaskID, task.Role, task.WorkflowID)
	m.viewport.SetContent(header + strings.Join(task.Lines, "\n"))
	// Auto-scroll to bottom
	m.viewport.GotoBottom()
}

// resizeViewport resizes the viewport based on pane dimensions.
func (m *TaskPaneModel) resizeViewport() {
	listWidth := 30
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
