package backlog

import (
	"log"
	"sort"
	"sync"
)

// Queue is the priority-ordered view over the backlog. It never talks to the
// issue store itself: Refresh is handed raw records by the caller, so the
// queue stays testable without network access.
//
// Ordering is strict priority, with creation time breaking ties within a
// tier. There is deliberately no aging: a P2 item can wait indefinitely
// behind a steady stream of fresh P0/P1 arrivals. Starvation-freedom for
// low-priority items is explicitly not a goal of this queue.
type Queue struct {
	mu        sync.Mutex
	items     []*Item
	completed map[int]bool // Item numbers known to be completed
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{
		completed: make(map[int]bool),
	}
}

// Refresh replaces the queue's snapshot with the given raw records: derives
// each item's priority tier and lifecycle status from its labels, parses
// dependency declarations from its body, and sorts by (priority ascending,
// creation time ascending).
func (q *Queue) Refresh(records []Record) []*Item {
	items := make([]*Item, 0, len(records))
	for _, rec := range records {
		items = append(items, &Item{
			Number:       rec.Number,
			Title:        rec.Title,
			Priority:     DerivePriority(rec.Labels),
			Labels:       append([]string(nil), rec.Labels...),
			Dependencies: ExtractDependencies(rec.Body),
			Status:       DeriveStatus(rec.State, rec.Labels),
			Body:         rec.Body,
			CreatedAt:    rec.CreatedAt,
			UpdatedAt:    rec.UpdatedAt,
		})
	}

	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Priority != items[j].Priority {
			return items[i].Priority < items[j].Priority
		}
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})

	q.mu.Lock()
	defer q.mu.Unlock()

	q.items = items
	for _, item := range items {
		if item.Status == StatusCompleted {
			q.completed[item.Number] = true
		}
	}

	log.Printf("backlog: queue refreshed with %d items", len(items))
	return q.snapshotLocked()
}

// NextAvailable returns the first open item, in sorted order, whose every
// declared dependency is completed. Returns nil both for an empty queue and
// when all items are blocked; the two cases are distinguished in the log.
func (q *Queue) NextAvailable() *Item {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		log.Printf("backlog: queue is empty")
		return nil
	}

	for _, item := range q.items {
		if item.Status != StatusOpen {
			continue
		}

		blocked := false
		for _, dep := range item.Dependencies {
			if !q.completed[dep] {
				log.Printf("backlog: item #%d waiting on #%d", item.Number, dep)
				blocked = true
				break
			}
		}
		if !blocked {
			return cloneItem(item)
		}
	}

	log.Printf("backlog: no admissible items (all open items blocked)")
	return nil
}

// MarkInProgress transitions an item to in_progress and records its assigned
// worker. Idempotent. Returns false when the item is not in the queue.
func (q *Queue) MarkInProgress(number int, workerName string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, item := range q.items {
		if item.Number == number {
			item.Status = StatusInProgress
			item.AssignedWorker = workerName
			return true
		}
	}
	return false
}

// MarkCompleted transitions an item to completed and adds it to the
// completed set consulted by NextAvailable. Idempotent: marking an already
// completed item is a no-op that still reports success.
func (q *Queue) MarkCompleted(number int) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, item := range q.items {
		if item.Number == number {
			item.Status = StatusCompleted
			q.completed[number] = true
			return true
		}
	}
	return false
}

// Items returns a snapshot of the current queue in sorted order.
func (q *Queue) Items() []*Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.snapshotLocked()
}

// Stats summarizes the queue for monitoring.
type Stats struct {
	Total      int
	ByStatus   map[string]int
	ByPriority map[string]int
	Completed  []int
}

// Stats counts items by status and priority tier.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	stats := Stats{
		Total:      len(q.items),
		ByStatus:   make(map[string]int),
		ByPriority: make(map[string]int),
	}
	for _, item := range q.items {
		stats.ByStatus[item.Status.String()]++
		stats.ByPriority[item.Priority.String()]++
	}
	for number := range q.completed {
		stats.Completed = append(stats.Completed, number)
	}
	sort.Ints(stats.Completed)
	return stats
}

func (q *Queue) snapshotLocked() []*Item {
	snapshot := make([]*Item, 0, len(q.items))
	for _, item := range q.items {
		snapshot = append(snapshot, cloneItem(item))
	}
	return snapshot
}

func cloneItem(item *Item) *Item {
	cp := *item
	if item.Labels != nil {
		cp.Labels = append([]string(nil), item.Labels...)
	}
	if item.Dependencies != nil {
		cp.Dependencies = append([]int(nil), item.Dependencies...)
	}
	return &cp
}
