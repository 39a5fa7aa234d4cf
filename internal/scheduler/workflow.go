package scheduler

import (
	"time"
)

// WorkflowStatus is the overall state of a workflow, fully derived from its
// tasks: completed iff every task completed, blocked iff any task failed.
type WorkflowStatus int

const (
	WorkflowActive WorkflowStatus = iota
	WorkflowCompleted
	WorkflowBlocked
)

func (s WorkflowStatus) String() string {
	switch s {
	case WorkflowActive:
		return "active"
	case WorkflowCompleted:
		return "completed"
	case WorkflowBlocked:
		return "blocked"
	}
	return "unknown"
}

// PhaseDone is the terminal phase name once every task has completed.
const PhaseDone = "done"

// Workflow is one backlog item's full execution plan: the dependency DAG of
// its tasks plus the template order they were generated in.
type Workflow struct {
	ID          string
	Title       string
	Description string
	Type        string // workflow-type name that selected the template
	CreatedAt   time.Time

	dag   *DAG
	order []string // task IDs in template sequence order

	Artifacts []string // references produced by completed tasks
}

// DAG exposes the workflow's task graph.
func (w *Workflow) DAG() *DAG {
	return w.dag
}

// Order returns the task IDs in template sequence order.
func (w *Workflow) Order() []string {
	return append([]string(nil), w.order...)
}

// Tasks returns snapshots of the workflow's tasks in sequence order.
func (w *Workflow) Tasks() []*Task {
	tasks := make([]*Task, 0, len(w.order))
	seen := make(map[string]bool, len(w.order))
	for _, id := range w.order {
		if task, ok := w.dag.Get(id); ok {
			tasks = append(tasks, task)
			seen[id] = true
		}
	}
	// Corrective tasks inserted after creation are not part of the template
	// order; they follow the original sequence.
	for _, task := range w.dag.Tasks() {
		if !seen[task.ID] {
			tasks = append(tasks, task)
		}
	}
	return tasks
}

// Status derives the workflow's overall status from its tasks.
func (w *Workflow) Status() WorkflowStatus {
	tasks := w.dag.Tasks()
	if len(tasks) == 0 {
		return WorkflowActive
	}

	completed := 0
	for _, task := range tasks {
		switch task.Status {
		case TaskFailed:
			return WorkflowBlocked
		case TaskCompleted:
			completed++
		}
	}
	if completed == len(tasks) {
		return WorkflowCompleted
	}
	return WorkflowActive
}

// CompletionFraction returns the fraction of tasks completed, in [0, 1].
func (w *Workflow) CompletionFraction() float64 {
	tasks := w.dag.Tasks()
	if len(tasks) == 0 {
		return 0
	}
	completed := 0
	for _, task := range tasks {
		if task.Status == TaskCompleted {
			completed++
		}
	}
	return float64(completed) / float64(len(tasks))
}

// Phase returns the task-type name of the earliest task in the template
// sequence that has not yet completed, or PhaseDone when all have.
func (w *Workflow) Phase() string {
	for _, id := range w.order {
		task, ok := w.dag.Get(id)
		if !ok {
			continue
		}
		if task.Status != TaskCompleted {
			return task.Type.String()
		}
	}
	return PhaseDone
}

// FailedTasks returns snapshots of all failed tasks.
func (w *Workflow) FailedTasks() []*Task {
	failed := []*Task{}
	for _, task := range w.dag.Tasks() {
		if task.Status == TaskFailed {
			failed = append(failed, task)
		}
	}
	return failed
}

// Snapshot is a read-only projection of a workflow for external monitoring.
type Snapshot struct {
	ID                 string
	Title              string
	Type               string
	Status             WorkflowStatus
	Phase              string
	CompletionFraction float64
	CreatedAt          time.Time
	Tasks              []*Task
	Artifacts          []string
}

// Snapshot captures the workflow's current state without mutating it.
func (w *Workflow) Snapshot() *Snapshot {
	return &Snapshot{
		ID:                 w.ID,
		Title:              w.Title,
		Type:               w.Type,
		Status:             w.Status(),
		Phase:              w.Phase(),
		CompletionFraction: w.CompletionFraction(),
		CreatedAt:          w.CreatedAt,
		Tasks:              w.Tasks(),
		Artifacts:          append([]string(nil), w.Artifacts...),
	}
}
