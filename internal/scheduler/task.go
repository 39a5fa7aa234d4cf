package scheduler

import (
	"fmt"
	"time"
)

// TaskStatus represents the current state of a task.
type TaskStatus int

const (
	TaskAssigned   TaskStatus = iota // Created, waiting for dependencies
	TaskQueued                       // All dependencies completed, ready for dispatch
	TaskInProgress                   // Dispatched to its worker
	TaskCompleted                    // Finished successfully
	TaskFailed                       // Finished with an error
)

func (s TaskStatus) String() string {
	switch s {
	case TaskAssigned:
		return "assigned"
	case TaskQueued:
		return "queued"
	case TaskInProgress:
		return "in_progress"
	case TaskCompleted:
		return "completed"
	case TaskFailed:
		return "failed"
	}
	return fmt.Sprintf("TaskStatus(%d)", int(s))
}

// TaskType is the closed vocabulary of work a task can represent.
type TaskType int

const (
	TaskSpecification TaskType = iota
	TaskBackend
	TaskFrontend
	TaskUnitTesting
	TaskIntegrationTesting
	TaskManualTesting
	TaskQualityReview
)

func (t TaskType) String() string {
	switch t {
	case TaskSpecification:
		return "specification"
	case TaskBackend:
		return "backend"
	case TaskFrontend:
		return "frontend"
	case TaskUnitTesting:
		return "unit_testing"
	case TaskIntegrationTesting:
		return "integration_testing"
	case TaskManualTesting:
		return "manual_testing"
	case TaskQualityReview:
		return "quality_review"
	}
	return fmt.Sprintf("TaskType(%d)", int(t))
}

// ParseTaskType converts a task-type name (as found in config files) to its
// enum value. Unknown names are an error, never a silent default.
func ParseTaskType(name string) (TaskType, error) {
	switch name {
	case "specification":
		return TaskSpecification, nil
	case "backend":
		return TaskBackend, nil
	case "frontend":
		return TaskFrontend, nil
	case "unit_testing":
		return TaskUnitTesting, nil
	case "integration_testing":
		return TaskIntegrationTesting, nil
	case "manual_testing":
		return TaskManualTesting, nil
	case "quality_review":
		return TaskQualityReview, nil
	}
	return 0, fmt.Errorf("unknown task type %q", name)
}

// Role identifies which worker a task is bound to.
type Role int

const (
	RoleDesigner Role = iota
	RoleDeveloper
	RoleTestEngineer
	RoleQA
	RoleReviewer
	RoleCoordinator // supervisory role, target of deadlock escalations
)

func (r Role) String() string {
	switch r {
	case RoleDesigner:
		return "designer"
	case RoleDeveloper:
		return "developer"
	case RoleTestEngineer:
		return "test_engineer"
	case RoleQA:
		return "qa"
	case RoleReviewer:
		return "reviewer"
	case RoleCoordinator:
		return "coordinator"
	}
	return fmt.Sprintf("Role(%d)", int(r))
}

// ParseRole converts a role name to its enum value.
func ParseRole(name string) (Role, error) {
	switch name {
	case "designer":
		return RoleDesigner, nil
	case "developer":
		return RoleDeveloper, nil
	case "test_engineer":
		return RoleTestEngineer, nil
	case "qa":
		return RoleQA, nil
	case "reviewer":
		return RoleReviewer, nil
	case "coordinator":
		return RoleCoordinator, nil
	}
	return 0, fmt.Errorf("unknown role %q", name)
}

// Task is one dispatchable unit of work bound to a single worker role.
type Task struct {
	ID          string // Composed from workflow ID and task type
	WorkflowID  string // Back-reference to the owning workflow
	Type        TaskType
	Role        Role
	Description string
	DependsOn   []string // Task IDs that must complete before this one is queued
	Artifacts   []string // Paths this task produces (used for resource locking)
	AssignedAt  time.Time
	Deadline    time.Time // Zero means no deadline
	Status      TaskStatus
	Result      string // Opaque worker payload, populated on completion
	Err         string // Error message, present only when failed
}

func cloneTask(task *Task) *Task {
	if task == nil {
		return nil
	}
	cp := *task
	if task.DependsOn != nil {
		cp.DependsOn = append([]string(nil), task.DependsOn...)
	}
	if task.Artifacts != nil {
		cp.Artifacts = append([]string(nil), task.Artifacts...)
	}
	return &cp
}
