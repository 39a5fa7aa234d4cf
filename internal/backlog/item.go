// Package backlog maintains a priority-ordered, dependency-aware view over a
// flat list of backlog items supplied by an external issue store.
package backlog

import (
	"fmt"
	"strings"
	"time"
)

// Priority is the urgency tier of a backlog item. Lower is more urgent.
type Priority int

const (
	P0Critical Priority = 0 // Security fixes, system-critical issues
	P1High     Priority = 1 // Core functionality
	P2Medium   Priority = 2 // Improvements, optimizations
	P3Low      Priority = 3 // Nice-to-have

	// PriorityUnassigned sorts after every explicit tier.
	PriorityUnassigned Priority = 99
)

func (p Priority) String() string {
	switch p {
	case P0Critical:
		return "P0"
	case P1High:
		return "P1"
	case P2Medium:
		return "P2"
	case P3Low:
		return "P3"
	case PriorityUnassigned:
		return "unassigned"
	}
	return fmt.Sprintf("Priority(%d)", int(p))
}

// Status is the lifecycle state of a backlog item.
type Status int

const (
	StatusOpen Status = iota
	StatusInProgress
	StatusCompleted
	StatusBlocked
)

func (s Status) String() string {
	switch s {
	case StatusOpen:
		return "open"
	case StatusInProgress:
		return "in_progress"
	case StatusCompleted:
		return "completed"
	case StatusBlocked:
		return "blocked"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// Item is one backlog entry with the metadata the queue needs for
// scheduling: priority, declared dependencies, and lifecycle status.
type Item struct {
	Number         int
	Title          string
	Priority       Priority
	Labels         []string
	Dependencies   []int // Item numbers this item depends on, parsed from the body
	Status         Status
	Body           string
	AssignedWorker string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// priorityKeywords maps label substrings to tiers. First match wins,
// scanning tiers from most to least urgent.
var priorityKeywords = []struct {
	priority Priority
	keywords []string
}{
	{P0Critical, []string{"p0", "critical", "urgent", "security"}},
	{P1High, []string{"p1", "high", "important"}},
	{P2Medium, []string{"p2", "medium", "enhancement"}},
	{P3Low, []string{"p3", "low", "nice-to-have"}},
}

// DerivePriority scans labels for known priority markers.
// Items without any marker land in the unassigned tier.
func DerivePriority(labels []string) Priority {
	for _, tier := range priorityKeywords {
		for _, label := range labels {
			name := strings.ToLower(strings.TrimSpace(label))
			for _, keyword := range tier.keywords {
				if strings.Contains(name, keyword) {
					return tier.priority
				}
			}
		}
	}
	return PriorityUnassigned
}

var statusLabels = map[string]Status{
	"in-progress": StatusInProgress,
	"ai-working":  StatusInProgress,
	"developing":  StatusInProgress,
	"completed":   StatusCompleted,
	"done":        StatusCompleted,
	"finished":    StatusCompleted,
	"blocked":     StatusBlocked,
	"waiting":     StatusBlocked,
	"on-hold":     StatusBlocked,
}

// DeriveStatus determines an item's lifecycle status from its store state
// and labels. A closed item is completed regardless of labels; otherwise
// status labels decide, defaulting to open.
func DeriveStatus(state string, labels []string) Status {
	if state == "closed" {
		return StatusCompleted
	}
	for _, label := range labels {
		if status, ok := statusLabels[strings.ToLower(strings.TrimSpace(label))]; ok {
			return status
		}
	}
	return StatusOpen
}
