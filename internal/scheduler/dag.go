package scheduler

import (
	"fmt"
	"strings"
	"sync"

	"github.com/gammazero/toposort"
)

// DAG holds one workflow's tasks and their dependency relation.
type DAG struct {
	mu         sync.RWMutex
	tasks      map[string]*Task    // All tasks indexed by ID
	dependents map[string][]string // Maps taskID -> tasks that depend on it
}

// NewDAG creates an empty DAG.
func NewDAG() *DAG {
	return &DAG{
		tasks:      make(map[string]*Task),
		dependents: make(map[string][]string),
	}
}

// AddTask adds a task to the DAG. Returns error if the task ID already exists.
func (d *DAG) AddTask(task *Task) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.tasks[task.ID]; exists {
		return fmt.Errorf("task with ID %q already exists", task.ID)
	}

	d.tasks[task.ID] = task

	for _, depID := range task.DependsOn {
		d.dependents[depID] = append(d.dependents[depID], task.ID)
	}

	return nil
}

// Validate runs topological sort using gammazero/toposort.
// Returns ordered task IDs or an error if a cycle is detected.
// Also verifies all task IDs in DependsOn exist in the DAG.
func (d *DAG) Validate() ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	for taskID, task := range d.tasks {
		for _, depID := range task.DependsOn {
			if _, exists := d.tasks[depID]; !exists {
				return nil, fmt.Errorf("task %q depends on non-existent task %q", taskID, depID)
			}
		}
	}

	var edges []toposort.Edge
	for taskID, task := range d.tasks {
		if len(task.DependsOn) == 0 {
			// Task with no dependencies - edge from nil keeps it in the sort
			edges = append(edges, toposort.Edge{nil, taskID})
		} else {
			for _, depID := range task.DependsOn {
				// Edge (depID, taskID) means depID must come before taskID
				edges = append(edges, toposort.Edge{depID, taskID})
			}
		}
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		return nil, fmt.Errorf("dependency graph contains cycle: %w", err)
	}

	order := make([]string, 0, len(sorted))
	for _, id := range sorted {
		if id != nil {
			order = append(order, id.(string))
		}
	}

	// Catches disconnected components lost by the sort
	if len(order) != len(d.tasks) {
		missing := []string{}
		foundMap := make(map[string]bool)
		for _, id := range order {
			foundMap[id] = true
		}
		for taskID := range d.tasks {
			if !foundMap[taskID] {
				missing = append(missing, taskID)
			}
		}
		return nil, fmt.Errorf("topological sort lost %d tasks: %s", len(missing), strings.Join(missing, ", "))
	}

	return order, nil
}

// Ready returns all tasks still in TaskAssigned whose every dependency has
// completed. Tasks already queued, in progress, or terminal are never included.
func (d *DAG) Ready() []*Task {
	d.mu.RLock()
	defer d.mu.RUnlock()

	ready := []*Task{}

	for _, task := range d.tasks {
		if task.Status != TaskAssigned {
			continue
		}

		allCompleted := true
		for _, depID := range task.DependsOn {
			dep, exists := d.tasks[depID]
			if !exists || dep.Status != TaskCompleted {
				allCompleted = false
				break
			}
		}

		if allCompleted {
			ready = append(ready, cloneTask(task))
		}
	}

	return ready
}

// MarkQueued transitions a task from assigned to queued.
// Rejects the transition if any dependency has not completed.
func (d *DAG) MarkQueued(taskID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	task, exists := d.tasks[taskID]
	if !exists {
		return fmt.Errorf("task %q not found", taskID)
	}
	if task.Status != TaskAssigned {
		return fmt.Errorf("task %q is %s, cannot queue", taskID, task.Status)
	}
	for _, depID := range task.DependsOn {
		dep, ok := d.tasks[depID]
		if !ok || dep.Status != TaskCompleted {
			return fmt.Errorf("task %q has unresolved dependency %q", taskID, depID)
		}
	}

	task.Status = TaskQueued
	return nil
}

// MarkInProgress sets task status to TaskInProgress.
func (d *DAG) MarkInProgress(taskID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	task, exists := d.tasks[taskID]
	if !exists {
		return fmt.Errorf("task %q not found", taskID)
	}

	task.Status = TaskInProgress
	return nil
}

// MarkCompleted sets task status to TaskCompleted and stores the result payload.
func (d *DAG) MarkCompleted(taskID string, result string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	task, exists := d.tasks[taskID]
	if !exists {
		return fmt.Errorf("task %q not found", taskID)
	}

	task.Status = TaskCompleted
	task.Result = result
	task.Err = ""
	return nil
}

// MarkFailed sets task status to TaskFailed with the error message.
// Dependents of a failed task stay assigned; Ready never yields them.
func (d *DAG) MarkFailed(taskID string, errMsg string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	task, exists := d.tasks[taskID]
	if !exists {
		return fmt.Errorf("task %q not found", taskID)
	}

	task.Status = TaskFailed
	task.Err = errMsg
	return nil
}

// Reset returns a failed task to TaskAssigned, clearing its error and
// optionally extending its dependency set. Used when the exception router
// issues a corrective task that the failed task must now wait on.
func (d *DAG) Reset(taskID string, extraDeps []string, guidance string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	task, exists := d.tasks[taskID]
	if !exists {
		return fmt.Errorf("task %q not found", taskID)
	}
	if task.Status != TaskFailed {
		return fmt.Errorf("task %q is %s, only failed tasks can be reset", taskID, task.Status)
	}

	for _, depID := range extraDeps {
		if _, ok := d.tasks[depID]; !ok {
			return fmt.Errorf("reset of %q references non-existent task %q", taskID, depID)
		}
		task.DependsOn = append(task.DependsOn, depID)
		d.dependents[depID] = append(d.dependents[depID], taskID)
	}

	task.Status = TaskAssigned
	task.Err = ""
	if guidance != "" {
		task.Description = task.Description + "\n\n" + guidance
	}
	return nil
}

// Get returns a snapshot of the task by ID.
func (d *DAG) Get(taskID string) (*Task, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	task, exists := d.tasks[taskID]
	if !exists {
		return nil, false
	}
	return cloneTask(task), true
}

// Tasks returns snapshots of all tasks.
func (d *DAG) Tasks() []*Task {
	d.mu.RLock()
	defer d.mu.RUnlock()

	tasks := make([]*Task, 0, len(d.tasks))
	for _, task := range d.tasks {
		tasks = append(tasks, cloneTask(task))
	}
	return tasks
}

// Dependents returns the IDs of tasks that directly depend on taskID.
func (d *DAG) Dependents(taskID string) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]string(nil), d.dependents[taskID]...)
}
