package backlog

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Record is the raw shape of a backlog item as it comes out of the issue
// store, before the queue derives priority, status, and dependencies.
type Record struct {
	Number    int
	Title     string
	State     string // "open" or "closed"
	Labels    []string
	Body      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ChildSpec describes a follow-up item to create under a parent, e.g. a
// corrective task surfaced for humans to see.
type ChildSpec struct {
	Title  string
	Body   string
	Labels []string
}

// Store is the external issue store contract. Implementations wrap whatever
// backs the backlog (a GitHub repository, a tracker, a file); the queue and
// coordinator only consume records and push human-visible updates through it.
type Store interface {
	ListOpenItems(ctx context.Context, labelFilter []string) ([]Record, error)
	GetItem(ctx context.Context, number int) (Record, error)
	CreateChildItem(ctx context.Context, parent int, spec ChildSpec) (int, error)
	PostComment(ctx context.Context, number int, text string) error
	AddLabels(ctx context.Context, number int, labels []string) error
}

// MemoryStore is an in-memory Store used in tests and as a stand-in where no
// real tracker is wired up.
type MemoryStore struct {
	mu       sync.Mutex
	nextNum  int
	records  map[int]*Record
	comments map[int][]string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nextNum:  1,
		records:  make(map[int]*Record),
		comments: make(map[int][]string),
	}
}

// Add inserts a record, assigning the next number if the record has none.
// Returns the record's number.
func (m *MemoryStore) Add(rec Record) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	if rec.Number == 0 {
		rec.Number = m.nextNum
	}
	if rec.Number >= m.nextNum {
		m.nextNum = rec.Number + 1
	}
	if rec.State == "" {
		rec.State = "open"
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	m.records[rec.Number] = &rec
	return rec.Number
}

// ListOpenItems returns open records carrying every label in labelFilter.
func (m *MemoryStore) ListOpenItems(ctx context.Context, labelFilter []string) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Record
	for _, rec := range m.records {
		if rec.State != "open" {
			continue
		}
		if !hasAllLabels(rec.Labels, labelFilter) {
			continue
		}
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

// GetItem returns the record with the given number.
func (m *MemoryStore) GetItem(ctx context.Context, number int) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[number]
	if !ok {
		return Record{}, fmt.Errorf("item #%d not found", number)
	}
	return *rec, nil
}

// CreateChildItem creates a new open record whose body references the parent.
func (m *MemoryStore) CreateChildItem(ctx context.Context, parent int, spec ChildSpec) (int, error) {
	m.mu.Lock()
	if _, ok := m.records[parent]; !ok {
		m.mu.Unlock()
		return 0, fmt.Errorf("parent item #%d not found", parent)
	}
	m.mu.Unlock()

	body := spec.Body
	if body != "" {
		body += "\n\n"
	}
	body += fmt.Sprintf("Parent: #%d", parent)

	number := m.Add(Record{
		Title:  spec.Title,
		Labels: spec.Labels,
		Body:   body,
	})
	return number, nil
}

// PostComment records a comment on an item.
func (m *MemoryStore) PostComment(ctx context.Context, number int, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[number]; !ok {
		return fmt.Errorf("item #%d not found", number)
	}
	m.comments[number] = append(m.comments[number], text)
	return nil
}

// AddLabels appends labels to an item, skipping duplicates.
func (m *MemoryStore) AddLabels(ctx context.Context, number int, labels []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[number]
	if !ok {
		return fmt.Errorf("item #%d not found", number)
	}
	for _, label := range labels {
		if !containsLabel(rec.Labels, label) {
			rec.Labels = append(rec.Labels, label)
		}
	}
	return nil
}

// Comments returns the comments posted on an item.
func (m *MemoryStore) Comments(number int) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.comments[number]...)
}

func hasAllLabels(labels, wanted []string) bool {
	for _, w := range wanted {
		if !containsLabel(labels, w) {
			return false
		}
	}
	return true
}

func containsLabel(labels []string, label string) bool {
	for _, l := range labels {
		if strings.EqualFold(l, label) {
			return true
		}
	}
	return false
}
