// Package worker defines the contract between the coordinator and the
// external actors that execute tasks. Workers are opaque: the coordinator
// only needs this single call, and never inspects what a worker did beyond
// its reported outcome.
package worker

import (
	"context"
)

// Request carries one task to a worker: the task description plus the result
// payloads of every completed upstream dependency.
type Request struct {
	TaskID      string
	WorkflowID  string
	Role        string
	Description string
	Upstream    []string // Result payloads of completed predecessor tasks, in sequence order
}

// Result is a worker's report of one task execution.
type Result struct {
	Success bool
	Code    string // Outcome code from the status log vocabulary; empty means use the default for the task type
	Output  string // Opaque result payload, stored on the task
	Error   string // Error message, set when Success is false
}

// Worker executes a task description and reports success or failure.
// A returned error means the worker itself could not run (transport or
// infrastructure failure); a Result with Success=false means the worker ran
// and the work was rejected.
type Worker interface {
	Execute(ctx context.Context, req Request) (Result, error)
}

// Func adapts a plain function to the Worker interface.
type Func func(ctx context.Context, req Request) (Result, error)

func (f Func) Execute(ctx context.Context, req Request) (Result, error) {
	return f(ctx, req)
}
