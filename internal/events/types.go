package events

import (
	"time"
)

// Event is the base interface for all events.
type Event interface {
	EventType() string
	TaskID() string
}

// Topic constants
const (
	TopicTask       = "task"
	TopicWorkflow   = "workflow"
	TopicEscalation = "escalation"
)

// Event type constants
const (
	EventTypeTaskQueued       = "task.queued"
	EventTypeTaskStarted      = "task.started"
	EventTypeTaskCompleted    = "task.completed"
	EventTypeTaskFailed       = "task.failed"
	EventTypeWorkflowProgress = "workflow.progress"
	EventTypeEscalation       = "escalation.raised"
)

// TaskQueuedEvent is published when a task's dependencies are satisfied and
// it enters the dispatch queue.
type TaskQueuedEvent struct {
	ID         string
	WorkflowID string
	Role       string
	Timestamp  time.Time
}

func (e TaskQueuedEvent) EventType() string { return EventTypeTaskQueued }
func (e TaskQueuedEvent) TaskID() string    { return e.ID }

// TaskStartedEvent is published when a worker picks up a task.
type TaskStartedEvent struct {
	ID         string
	WorkflowID string
	Role       string
	Timestamp  time.Time
}

func (e TaskStartedEvent) EventType() string { return EventTypeTaskStarted }
func (e TaskStartedEvent) TaskID() string    { return e.ID }

// TaskCompletedEvent is published when a task completes successfully.
type TaskCompletedEvent struct {
	ID         string
	WorkflowID string
	Code       string
	Duration   time.Duration
	Timestamp  time.Time
}

func (e TaskCompletedEvent) EventType() string { return EventTypeTaskCompleted }
func (e TaskCompletedEvent) TaskID() string    { return e.ID }

// TaskFailedEvent is published when a task fails.
type TaskFailedEvent struct {
	ID         string
	WorkflowID string
	Code       string
	Err        string
	Duration   time.Duration
	Timestamp  time.Time
}

func (e TaskFailedEvent) EventType() string { return EventTypeTaskFailed }
func (e TaskFailedEvent) TaskID() string    { return e.ID }

// WorkflowProgressEvent is published when a workflow's derived status or
// completion fraction changes.
type WorkflowProgressEvent struct {
	WorkflowID string
	Status     string
	Phase      string
	Completed  int
	Total      int
	Timestamp  time.Time
}

func (e WorkflowProgressEvent) EventType() string { return EventTypeWorkflowProgress }
func (e WorkflowProgressEvent) TaskID() string    { return "" }

// EscalationEvent is published when automatic recovery gives up and a human
// must intervene.
type EscalationEvent struct {
	WorkflowID string
	Risk       string
	Reason     string
	Timestamp  time.Time
}

func (e EscalationEvent) EventType() string { return EventTypeEscalation }
func (e EscalationEvent) TaskID() string    { return "" }
