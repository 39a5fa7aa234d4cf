package backlog

import (
	"context"
	"strings"
	"testing"
)

func TestMemoryStoreAddAndGet(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	n1 := store.Add(Record{Title: "First"})
	n2 := store.Add(Record{Title: "Second"})
	if n1 != 1 || n2 != 2 {
		t.Fatalf("auto-numbering = (%d, %d), want (1, 2)", n1, n2)
	}

	rec, err := store.GetItem(ctx, n1)
	if err != nil {
		t.Fatalf("GetItem() error = %v", err)
	}
	if rec.Title != "First" || rec.State != "open" {
		t.Errorf("GetItem() = (%q, %q), want open item First", rec.Title, rec.State)
	}
	if rec.CreatedAt.IsZero() {
		t.Error("Add() should default CreatedAt")
	}

	if _, err := store.GetItem(ctx, 99); err == nil {
		t.Error("GetItem(99) error = nil, want not found")
	}

	// Explicit numbers advance the counter
	store.Add(Record{Number: 10, Title: "Pinned"})
	if n := store.Add(Record{Title: "After pinned"}); n != 11 {
		t.Errorf("number after explicit #10 = %d, want 11", n)
	}
}

func TestMemoryStoreListOpenItems(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	store.Add(Record{Title: "Plain open"})
	store.Add(Record{Title: "Labelled open", Labels: []string{"story", "p1"}})
	store.Add(Record{Title: "Closed", State: "closed", Labels: []string{"story"}})

	all, err := store.ListOpenItems(ctx, nil)
	if err != nil {
		t.Fatalf("ListOpenItems() error = %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("ListOpenItems(nil) returned %d records, want 2", len(all))
	}
	if all[0].Number > all[1].Number {
		t.Error("records not sorted by number")
	}

	filtered, err := store.ListOpenItems(ctx, []string{"story"})
	if err != nil {
		t.Fatalf("ListOpenItems() error = %v", err)
	}
	if len(filtered) != 1 || filtered[0].Title != "Labelled open" {
		t.Errorf("ListOpenItems([story]) = %v, want only the labelled open item", filtered)
	}
}

func TestMemoryStoreCreateChildItem(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	parent := store.Add(Record{Title: "Story"})
	child, err := store.CreateChildItem(ctx, parent, ChildSpec{
		Title:  "Clarify acceptance criteria",
		Body:   "The spec is ambiguous about pagination.",
		Labels: []string{"corrective"},
	})
	if err != nil {
		t.Fatalf("CreateChildItem() error = %v", err)
	}

	rec, err := store.GetItem(ctx, child)
	if err != nil {
		t.Fatalf("GetItem(child) error = %v", err)
	}
	if !strings.Contains(rec.Body, "Parent: #1") {
		t.Errorf("child body %q doesn't reference the parent", rec.Body)
	}
	if rec.State != "open" {
		t.Errorf("child state = %q, want open", rec.State)
	}

	if _, err := store.CreateChildItem(ctx, 99, ChildSpec{Title: "orphan"}); err == nil {
		t.Error("CreateChildItem() with missing parent should fail")
	}
}

func TestMemoryStoreCommentsAndLabels(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	n := store.Add(Record{Title: "Story", Labels: []string{"p1"}})

	if err := store.PostComment(ctx, n, "Working on it."); err != nil {
		t.Fatalf("PostComment() error = %v", err)
	}
	if err := store.PostComment(ctx, 99, "ghost"); err == nil {
		t.Error("PostComment(99) error = nil, want not found")
	}
	comments := store.Comments(n)
	if len(comments) != 1 || comments[0] != "Working on it." {
		t.Errorf("Comments() = %v", comments)
	}

	if err := store.AddLabels(ctx, n, []string{"ai-working", "P1"}); err != nil {
		t.Fatalf("AddLabels() error = %v", err)
	}
	rec, _ := store.GetItem(ctx, n)
	// "P1" duplicates the existing "p1" label case-insensitively
	if len(rec.Labels) != 2 {
		t.Errorf("labels = %v, want [p1 ai-working]", rec.Labels)
	}
	if err := store.AddLabels(ctx, 99, []string{"x"}); err == nil {
		t.Error("AddLabels(99) error = nil, want not found")
	}
}
