// Package coordinator drives workflows to completion: it admits tasks whose
// dependencies are satisfied, dispatches them to role workers with bounded
// concurrency, and routes failures through the exception router. All state
// transitions happen under one mutex; workers run outside it.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hallqvist/devteam/internal/events"
	"github.com/hallqvist/devteam/internal/exceptions"
	"github.com/hallqvist/devteam/internal/scheduler"
	"github.com/hallqvist/devteam/internal/statuslog"
	"github.com/hallqvist/devteam/internal/worker"
)

// Workers binds one worker to each role. All six must be set; the engine
// refuses to start with a hole in the team.
type Workers struct {
	Designer     worker.Worker
	Developer    worker.Worker
	TestEngineer worker.Worker
	QA           worker.Worker
	Reviewer     worker.Worker
	Coordinator  worker.Worker
}

// For returns the worker bound to a role.
func (w Workers) For(role scheduler.Role) (worker.Worker, error) {
	var picked worker.Worker
	switch role {
	case scheduler.RoleDesigner:
		picked = w.Designer
	case scheduler.RoleDeveloper:
		picked = w.Developer
	case scheduler.RoleTestEngineer:
		picked = w.TestEngineer
	case scheduler.RoleQA:
		picked = w.QA
	case scheduler.RoleReviewer:
		picked = w.Reviewer
	case scheduler.RoleCoordinator:
		picked = w.Coordinator
	default:
		return nil, fmt.Errorf("no worker slot for role %q", role)
	}
	if picked == nil {
		return nil, fmt.Errorf("no worker bound for role %q", role)
	}
	return picked, nil
}

func (w Workers) validate() error {
	for _, role := range []scheduler.Role{
		scheduler.RoleDesigner,
		scheduler.RoleDeveloper,
		scheduler.RoleTestEngineer,
		scheduler.RoleQA,
		scheduler.RoleReviewer,
		scheduler.RoleCoordinator,
	} {
		if _, err := w.For(role); err != nil {
			return err
		}
	}
	return nil
}

// Config configures an Engine.
type Config struct {
	Registry    *scheduler.Registry
	Workers     Workers
	RoleCaps    map[scheduler.Role]int // max concurrent tasks per role (default 1)
	Concurrency int                    // global concurrency limit (default 4)
	Retry       RetryConfig
	Bus         *events.EventBus // optional; nil disables event publishing
	Log         statuslog.Sink   // optional; nil disables status reporting
}

// Escalation is a recovery the engine gave up on. The workflow stays blocked
// until a human intervenes.
type Escalation struct {
	WorkflowID string
	Risk       string
	Reason     string
	At         time.Time
}

// Engine owns all workflows and runs their tasks.
type Engine struct {
	mu        sync.Mutex
	cfg       Config
	workflows map[string]*scheduler.Workflow
	order     []string // workflow IDs in submission order
	inFlight  map[scheduler.Role]int
	running   int

	locks    *scheduler.ArtifactLockManager
	breakers *CircuitBreakerRegistry
	router   *exceptions.Router

	escalations []Escalation
	seq         atomic.Int64 // corrective task name counter

	kick chan struct{}
}

// New creates an engine. Fails if any role has no worker or the registry is
// missing.
func New(cfg Config) (*Engine, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("engine requires a task registry")
	}
	if err := cfg.Workers.validate(); err != nil {
		return nil, err
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.Retry == (RetryConfig{}) {
		cfg.Retry = DefaultRetryConfig()
	}

	return &Engine{
		cfg:       cfg,
		workflows: make(map[string]*scheduler.Workflow),
		inFlight:  make(map[scheduler.Role]int),
		locks:     scheduler.NewArtifactLockManager(),
		breakers:  NewCircuitBreakerRegistry(),
		router:    exceptions.NewRouter(),
		kick:      make(chan struct{}, 1),
	}, nil
}

// Submit expands a story into a workflow and schedules it. Returns the
// workflow so callers can track it.
func (e *Engine) Submit(story scheduler.Story, workflowType string) (*scheduler.Workflow, error) {
	wf, err := e.cfg.Registry.Build(story, workflowType)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	if _, exists := e.workflows[wf.ID]; exists {
		e.mu.Unlock()
		return nil, fmt.Errorf("workflow %q already exists", wf.ID)
	}
	e.workflows[wf.ID] = wf
	e.order = append(e.order, wf.ID)
	e.mu.Unlock()

	log.Printf("coordinator: workflow %q submitted (%s, %d tasks)", wf.ID, workflowType, len(wf.Order()))
	e.kickNow()
	return wf, nil
}

// Workflow returns the snapshot of one workflow.
func (e *Engine) Workflow(id string) (*scheduler.Snapshot, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	wf, ok := e.workflows[id]
	if !ok {
		return nil, false
	}
	return wf.Snapshot(), true
}

// Workflows returns snapshots of all workflows in submission order.
func (e *Engine) Workflows() []*scheduler.Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	snaps := make([]*scheduler.Snapshot, 0, len(e.order))
	for _, id := range e.order {
		snaps = append(snaps, e.workflows[id].Snapshot())
	}
	return snaps
}

// Escalations returns every recovery the engine has given up on.
func (e *Engine) Escalations() []Escalation {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Escalation(nil), e.escalations...)
}

// RoleLoad is one role's share of the team's current workload.
type RoleLoad struct {
	Cap      int
	InFlight int
	Waiting  int // tasks assigned or queued for this role
}

// TeamStatus returns per-role workload, for monitoring.
func (e *Engine) TeamStatus() map[string]RoleLoad {
	e.mu.Lock()
	defer e.mu.Unlock()

	status := make(map[string]RoleLoad)
	for role, cap := range e.cfg.RoleCaps {
		status[role.String()] = RoleLoad{Cap: cap}
	}
	for role, n := range e.inFlight {
		load := status[role.String()]
		load.InFlight = n
		if load.Cap == 0 {
			load.Cap = e.roleCapLocked(role)
		}
		status[role.String()] = load
	}
	for _, id := range e.order {
		for _, task := range e.workflows[id].Tasks() {
			if task.Status == scheduler.TaskAssigned || task.Status == scheduler.TaskQueued {
				load := status[task.Role.String()]
				load.Waiting++
				if load.Cap == 0 {
					load.Cap = e.roleCapLocked(task.Role)
				}
				status[task.Role.String()] = load
			}
		}
	}
	return status
}

// RouterStats exposes the exception router's recent activity.
func (e *Engine) RouterStats(window time.Duration) exceptions.RouterStats {
	return e.router.Stats(window)
}

// Run drives the engine until ctx is cancelled, then waits for in-flight
// tasks to drain. Task failures never stop the loop; they are routed through
// the exception router instead.
func (e *Engine) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Concurrency)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

loop:
	for {
		e.admit(gctx, g)

		select {
		case <-gctx.Done():
			break loop
		case <-e.kick:
		case <-ticker.C:
		}
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// kickNow wakes the admission loop without blocking.
func (e *Engine) kickNow() {
	select {
	case e.kick <- struct{}{}:
	default:
	}
}

// admit scans all workflows for ready tasks and dispatches as many as the
// global and per-role limits allow. Holding the mutex across the scan and
// the queued transition is what makes admission race-free: a task is queued
// exactly once.
func (e *Engine) admit(ctx context.Context, g *errgroup.Group) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, wfID := range e.order {
		wf := e.workflows[wfID]
		for _, task := range wf.DAG().Ready() {
			if e.running >= e.cfg.Concurrency {
				return
			}
			if e.inFlight[task.Role] >= e.roleCapLocked(task.Role) {
				continue
			}

			if err := wf.DAG().MarkQueued(task.ID); err != nil {
				log.Printf("coordinator: cannot queue task %q: %v", task.ID, err)
				continue
			}
			e.running++
			e.inFlight[task.Role]++
			e.publish(events.TopicTask, events.TaskQueuedEvent{
				ID:         task.ID,
				WorkflowID: task.WorkflowID,
				Role:       task.Role.String(),
				Timestamp:  time.Now(),
			})

			t := task
			g.Go(func() error {
				e.execute(ctx, wf, t)
				e.mu.Lock()
				e.running--
				e.inFlight[t.Role]--
				e.mu.Unlock()
				e.kickNow()
				return nil // Task outcome lives in the DAG, never aborts the group
			})
		}
	}
}

func (e *Engine) roleCapLocked(role scheduler.Role) int {
	if cap, ok := e.cfg.RoleCaps[role]; ok && cap > 0 {
		return cap
	}
	return 1
}

// execute runs one queued task through its worker and settles the outcome.
func (e *Engine) execute(ctx context.Context, wf *scheduler.Workflow, task *scheduler.Task) {
	dag := wf.DAG()

	if err := dag.MarkInProgress(task.ID); err != nil {
		log.Printf("coordinator: cannot start task %q: %v", task.ID, err)
		return
	}
	e.publish(events.TopicTask, events.TaskStartedEvent{
		ID:         task.ID,
		WorkflowID: task.WorkflowID,
		Role:       task.Role.String(),
		Timestamp:  time.Now(),
	})

	w, err := e.cfg.Workers.For(task.Role)
	if err != nil {
		e.settleFailure(wf, task, statuslog.CodeTaskFailed, err.Error(), nil, 0)
		return
	}

	req := worker.Request{
		TaskID:      task.ID,
		WorkflowID:  task.WorkflowID,
		Role:        task.Role.String(),
		Description: task.Description,
		Upstream:    e.upstreamResults(dag, task),
	}

	// Serialize tasks touching the same artifacts
	e.locks.LockAll(task.Artifacts)
	defer e.locks.UnlockAll(task.Artifacts)

	execCtx := ctx
	if !task.Deadline.IsZero() {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithDeadline(ctx, task.Deadline)
		defer cancel()
	}

	start := time.Now()
	cb := e.breakers.Get(task.Role.String())
	res, err := executeWithRetry(execCtx, w, req, cb, e.cfg.Retry)
	elapsed := time.Since(start)

	switch {
	case err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		e.settleTimeout(wf, task, elapsed)
	case err != nil:
		e.settleFailure(wf, task, statuslog.CodeTaskFailed, err.Error(), nil, elapsed)
	case res.Success:
		e.settleSuccess(wf, task, res, elapsed)
	default:
		code := res.Code
		if code == "" {
			code = statuslog.CodeTaskFailed
		}
		errMsg := res.Error
		if errMsg == "" {
			errMsg = "task rejected without detail"
		}
		payload := map[string]any{"error_message": errMsg}
		if res.Output != "" {
			payload["output"] = res.Output
		}
		e.settleFailure(wf, task, code, errMsg, payload, elapsed)
	}
}

// upstreamResults collects the result payloads of every completed dependency,
// in dependency order.
func (e *Engine) upstreamResults(dag *scheduler.DAG, task *scheduler.Task) []string {
	var upstream []string
	for _, depID := range task.DependsOn {
		if dep, ok := dag.Get(depID); ok && dep.Status == scheduler.TaskCompleted && dep.Result != "" {
			upstream = append(upstream, dep.Result)
		}
	}
	return upstream
}

func (e *Engine) settleSuccess(wf *scheduler.Workflow, task *scheduler.Task, res worker.Result, elapsed time.Duration) {
	if err := wf.DAG().MarkCompleted(task.ID, res.Output); err != nil {
		log.Printf("coordinator: cannot complete task %q: %v", task.ID, err)
		return
	}

	e.mu.Lock()
	wf.Artifacts = append(wf.Artifacts, task.Artifacts...)
	e.mu.Unlock()

	code := res.Code
	if code == "" || !statuslog.IsSuccess(code) {
		code = defaultSuccessCode(task.Type)
	}

	e.report(statuslog.Report{
		Actor:   task.Role.String(),
		Code:    code,
		StoryID: task.WorkflowID,
		Payload: map[string]any{"task_id": task.ID, "duration": elapsed.String()},
	})
	e.publish(events.TopicTask, events.TaskCompletedEvent{
		ID:         task.ID,
		WorkflowID: task.WorkflowID,
		Code:       code,
		Duration:   elapsed,
		Timestamp:  time.Now(),
	})
	e.publishProgress(wf)

	if wf.Status() == scheduler.WorkflowCompleted {
		log.Printf("coordinator: workflow %q completed", wf.ID)
		e.report(statuslog.Report{
			Actor:   scheduler.RoleCoordinator.String(),
			Code:    statuslog.CodeStoryCompleted,
			StoryID: wf.ID,
			Payload: map[string]any{"workflow_type": wf.Type},
		})
	}

	e.kickNow()
}

func (e *Engine) settleFailure(wf *scheduler.Workflow, task *scheduler.Task, code, errMsg string, payload map[string]any, elapsed time.Duration) {
	if err := wf.DAG().MarkFailed(task.ID, errMsg); err != nil {
		log.Printf("coordinator: cannot fail task %q: %v", task.ID, err)
		return
	}
	log.Printf("coordinator: task %q failed (%s): %s", task.ID, code, errMsg)

	if payload == nil {
		payload = map[string]any{"error_message": errMsg}
	}
	reportCode := code
	if !statuslog.IsKnownCode(reportCode) {
		reportCode = statuslog.CodeTaskFailed
	}
	e.report(statuslog.Report{
		Actor:     task.Role.String(),
		Code:      reportCode,
		StoryID:   task.WorkflowID,
		Payload:   payload,
		Iteration: statuslog.IterationFromCode(code),
	})
	e.publish(events.TopicTask, events.TaskFailedEvent{
		ID:         task.ID,
		WorkflowID: task.WorkflowID,
		Code:       code,
		Err:        errMsg,
		Duration:   elapsed,
		Timestamp:  time.Now(),
	})
	e.publishProgress(wf)

	resolution := e.router.Handle(exceptions.Signal{
		Code:       code,
		Payload:    payload,
		WorkflowID: task.WorkflowID,
		Role:       task.Role,
		Iteration:  statuslog.IterationFromCode(code),
	})
	e.applyResolution(wf, task, resolution)
}

func (e *Engine) settleTimeout(wf *scheduler.Workflow, task *scheduler.Task, elapsed time.Duration) {
	errMsg := fmt.Sprintf("task exceeded its deadline after %s", elapsed.Round(time.Second))
	if err := wf.DAG().MarkFailed(task.ID, errMsg); err != nil {
		log.Printf("coordinator: cannot fail task %q: %v", task.ID, err)
		return
	}
	log.Printf("coordinator: task %q timed out after %s", task.ID, elapsed.Round(time.Second))

	e.report(statuslog.Report{
		Actor:   scheduler.RoleCoordinator.String(),
		Code:    statuslog.CodeStoryTimeout,
		StoryID: task.WorkflowID,
		Payload: map[string]any{"error_message": errMsg, "task_id": task.ID},
	})
	e.publish(events.TopicTask, events.TaskFailedEvent{
		ID:         task.ID,
		WorkflowID: task.WorkflowID,
		Code:       statuslog.CodeStoryTimeout,
		Err:        errMsg,
		Duration:   elapsed,
		Timestamp:  time.Now(),
	})
	e.publishProgress(wf)

	resolution := e.router.HandleTimeout(task.WorkflowID, task.Role, elapsed)
	e.applyResolution(wf, task, resolution)
}

// applyResolution turns a router decision into DAG mutations: corrective
// tasks are inserted as new nodes, and the failed task is reset to wait on
// them. Escalations leave the workflow blocked and record the handoff.
func (e *Engine) applyResolution(wf *scheduler.Workflow, failed *scheduler.Task, res exceptions.Resolution) {
	if res.EscalateToHuman {
		esc := Escalation{
			WorkflowID: failed.WorkflowID,
			Risk:       res.Risk.String(),
			Reason:     res.EscalationReason,
			At:         time.Now(),
		}
		e.mu.Lock()
		e.escalations = append(e.escalations, esc)
		e.mu.Unlock()

		log.Printf("coordinator: escalating workflow %q to human (%s): %s", failed.WorkflowID, res.Risk, res.EscalationReason)
		e.publish(events.TopicEscalation, events.EscalationEvent{
			WorkflowID: failed.WorkflowID,
			Risk:       res.Risk.String(),
			Reason:     res.EscalationReason,
			Timestamp:  time.Now(),
		})
		return
	}

	var correctiveIDs []string
	for _, spec := range res.NewTasks {
		id := fmt.Sprintf("%s_%s_%d", failed.WorkflowID, spec.Kind, e.seq.Add(1))
		corrective := &scheduler.Task{
			ID:          id,
			WorkflowID:  failed.WorkflowID,
			Type:        correctiveTaskType(spec.Role, failed.Type),
			Role:        spec.Role,
			Description: spec.Description,
			AssignedAt:  time.Now(),
			Status:      scheduler.TaskAssigned,
		}
		if err := wf.DAG().AddTask(corrective); err != nil {
			log.Printf("coordinator: cannot insert corrective task %q: %v", id, err)
			continue
		}
		correctiveIDs = append(correctiveIDs, id)
		log.Printf("coordinator: corrective task %q created for %s", id, spec.Role)
	}

	if len(correctiveIDs) > 0 && res.RetryRecommended {
		guidance := fmt.Sprintf("Reattempt after corrective work: %v", res.ActionsTaken)
		if err := wf.DAG().Reset(failed.ID, correctiveIDs, guidance); err != nil {
			log.Printf("coordinator: cannot reset task %q: %v", failed.ID, err)
		}
	}

	e.kickNow()
}

// correctiveTaskType picks the task type for a corrective task: the failed
// task's own type when the router sent the retry back to the same role, the
// role's natural type otherwise.
func correctiveTaskType(role scheduler.Role, failedType scheduler.TaskType) scheduler.TaskType {
	switch role {
	case scheduler.RoleDesigner:
		return scheduler.TaskSpecification
	case scheduler.RoleTestEngineer:
		return scheduler.TaskUnitTesting
	case scheduler.RoleQA:
		return scheduler.TaskManualTesting
	case scheduler.RoleReviewer, scheduler.RoleCoordinator:
		return scheduler.TaskQualityReview
	}
	if role == scheduler.RoleDeveloper {
		switch failedType {
		case scheduler.TaskFrontend:
			return scheduler.TaskFrontend
		}
	}
	return scheduler.TaskBackend
}

func defaultSuccessCode(taskType scheduler.TaskType) string {
	switch taskType {
	case scheduler.TaskSpecification:
		return statuslog.CodeSpecDelivered
	case scheduler.TaskBackend, scheduler.TaskFrontend:
		return statuslog.CodeCodeImplemented
	case scheduler.TaskUnitTesting, scheduler.TaskIntegrationTesting:
		return statuslog.CodeTestsWritten
	case scheduler.TaskManualTesting:
		return statuslog.CodeQAApproved
	case scheduler.TaskQualityReview:
		return statuslog.CodeTechReviewOK
	}
	return statuslog.CodeStoryCompleted
}

func (e *Engine) publish(topic string, ev events.Event) {
	if e.cfg.Bus != nil {
		e.cfg.Bus.Publish(topic, ev)
	}
}

func (e *Engine) publishProgress(wf *scheduler.Workflow) {
	if e.cfg.Bus == nil {
		return
	}
	e.mu.Lock()
	snap := wf.Snapshot()
	e.mu.Unlock()
	completed := 0
	for _, task := range snap.Tasks {
		if task.Status == scheduler.TaskCompleted {
			completed++
		}
	}
	e.cfg.Bus.Publish(events.TopicWorkflow, events.WorkflowProgressEvent{
		WorkflowID: snap.ID,
		Status:     snap.Status.String(),
		Phase:      snap.Phase,
		Completed:  completed,
		Total:      len(snap.Tasks),
		Timestamp:  time.Now(),
	})
}

func (e *Engine) report(r statuslog.Report) {
	if e.cfg.Log == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.cfg.Log.Append(ctx, r); err != nil {
		log.Printf("coordinator: status report %s/%s rejected: %v", r.Actor, r.Code, err)
	}
}
