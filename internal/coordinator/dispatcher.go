package coordinator

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/hallqvist/devteam/internal/backlog"
	"github.com/hallqvist/devteam/internal/events"
	"github.com/hallqvist/devteam/internal/scheduler"
)

// Dispatcher bridges the backlog to the engine. It periodically refreshes the
// priority queue from the issue store, submits the next available item as a
// workflow, and pushes outcomes back to the store as comments and labels.
type Dispatcher struct {
	queue    *backlog.Queue
	store    backlog.Store
	engine   *Engine
	bus      *events.EventBus
	interval time.Duration

	submitted map[int]string // item number -> workflow ID
	items     map[string]int // workflow ID -> item number
	settled   map[string]bool
}

// NewDispatcher creates a dispatcher polling the store at the given interval
// (default 30s).
func NewDispatcher(queue *backlog.Queue, store backlog.Store, engine *Engine, bus *events.EventBus, interval time.Duration) *Dispatcher {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Dispatcher{
		queue:     queue,
		store:     store,
		engine:    engine,
		bus:       bus,
		interval:  interval,
		submitted: make(map[int]string),
		items:     make(map[string]int),
		settled:   make(map[string]bool),
	}
}

// Run polls until ctx is cancelled. Escalations arriving on the bus are
// posted as comments on the originating item so a human sees them where the
// work was requested.
func (d *Dispatcher) Run(ctx context.Context) error {
	var escalations <-chan events.Event
	if d.bus != nil {
		escalations = d.bus.Subscribe(events.TopicEscalation, 64)
	}

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	// First pass immediately rather than one interval in
	d.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-escalations:
			if !ok {
				escalations = nil
				continue
			}
			if esc, isEsc := ev.(events.EscalationEvent); isEsc {
				d.postEscalation(ctx, esc)
			}
		case <-ticker.C:
			d.poll(ctx)
		}
	}
}

func (d *Dispatcher) poll(ctx context.Context) {
	records, err := d.store.ListOpenItems(ctx, nil)
	if err != nil {
		log.Printf("dispatcher: cannot list backlog items: %v", err)
	} else {
		d.queue.Refresh(records)
	}

	// Items already handed off keep their queue state across refreshes
	for number, wfID := range d.submitted {
		if !d.settled[wfID] {
			d.queue.MarkInProgress(number, "devteam")
		}
	}

	// Settle first so items unblocked by a completion are admissible in the
	// same poll.
	d.settleFinished(ctx)
	d.submitNext(ctx)
}

// submitNext drains the queue of admissible items, one workflow each.
func (d *Dispatcher) submitNext(ctx context.Context) {
	for {
		item := d.queue.NextAvailable()
		if item == nil {
			return
		}
		if _, already := d.submitted[item.Number]; already {
			d.queue.MarkInProgress(item.Number, "devteam")
			continue
		}

		story := scheduler.Story{
			ID:          fmt.Sprintf("story-%d", item.Number),
			Title:       item.Title,
			Description: item.Body,
		}
		wf, err := d.engine.Submit(story, workflowTypeFor(item.Labels))
		if err != nil {
			log.Printf("dispatcher: cannot submit item #%d: %v", item.Number, err)
			return
		}

		d.submitted[item.Number] = wf.ID
		d.items[wf.ID] = item.Number
		d.queue.MarkInProgress(item.Number, "devteam")

		if err := d.store.AddLabels(ctx, item.Number, []string{"ai-working"}); err != nil {
			log.Printf("dispatcher: cannot label item #%d: %v", item.Number, err)
		}
		if err := d.store.PostComment(ctx, item.Number, fmt.Sprintf("Work started as workflow %s (%s).", wf.ID, wf.Type)); err != nil {
			log.Printf("dispatcher: cannot comment on item #%d: %v", item.Number, err)
		}
	}
}

// settleFinished closes the loop on workflows that have reached a terminal
// derived status.
func (d *Dispatcher) settleFinished(ctx context.Context) {
	for _, snap := range d.engine.Workflows() {
		number, tracked := d.items[snap.ID]
		if !tracked || d.settled[snap.ID] {
			continue
		}

		switch snap.Status {
		case scheduler.WorkflowCompleted:
			d.settled[snap.ID] = true
			d.queue.MarkCompleted(number)
			if err := d.store.AddLabels(ctx, number, []string{"completed"}); err != nil {
				log.Printf("dispatcher: cannot label item #%d: %v", number, err)
			}
			comment := fmt.Sprintf("All %d tasks completed. Artifacts: %s",
				len(snap.Tasks), strings.Join(snap.Artifacts, ", "))
			if err := d.store.PostComment(ctx, number, comment); err != nil {
				log.Printf("dispatcher: cannot comment on item #%d: %v", number, err)
			}
		case scheduler.WorkflowBlocked:
			// Blocked is not terminal while the router can still recover it;
			// escalations are reported through postEscalation instead.
		}
	}
}

func (d *Dispatcher) postEscalation(ctx context.Context, esc events.EscalationEvent) {
	number, tracked := d.items[esc.WorkflowID]
	if !tracked {
		log.Printf("dispatcher: escalation for untracked workflow %q: %s", esc.WorkflowID, esc.Reason)
		return
	}

	d.settled[esc.WorkflowID] = true

	if err := d.store.AddLabels(ctx, number, []string{"blocked", "needs-human"}); err != nil {
		log.Printf("dispatcher: cannot label item #%d: %v", number, err)
	}
	comment := fmt.Sprintf("Automatic recovery gave up (%s): %s\nA human needs to pick this up.", esc.Risk, esc.Reason)
	if err := d.store.PostComment(ctx, number, comment); err != nil {
		log.Printf("dispatcher: cannot comment on item #%d: %v", number, err)
	}
}

// workflowTypeFor picks the workflow template from item labels; items without
// a scope label get the full pipeline.
func workflowTypeFor(labels []string) string {
	for _, label := range labels {
		switch strings.ToLower(strings.TrimSpace(label)) {
		case "backend-only", "backend":
			return "backend_only"
		case "frontend-only", "frontend":
			return "frontend_only"
		case "spec-only", "specification":
			return "specification_only"
		}
	}
	return "full_feature"
}
