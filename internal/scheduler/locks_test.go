package scheduler

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// TestArtifactLockManager_BasicLockUnlock verifies basic lock/unlock operations.
func TestArtifactLockManager_BasicLockUnlock(t *testing.T) {
	mgr := NewArtifactLockManager()

	// Lock and unlock should not panic
	mgr.Lock("docs/specs/spec-story-1.md")
	mgr.Unlock("docs/specs/spec-story-1.md")

	// Should be able to lock again after unlock
	mgr.Lock("docs/specs/spec-story-1.md")
	mgr.Unlock("docs/specs/spec-story-1.md")
}

// TestArtifactLockManager_SameArtifactBlocks verifies that locking the same artifact blocks concurrent access.
func TestArtifactLockManager_SameArtifactBlocks(t *testing.T) {
	mgr := NewArtifactLockManager()
	orderChan := make(chan int, 2)

	// Goroutine A locks the artifact first
	go func() {
		mgr.Lock("backend/app/api/story-1.py")
		orderChan <- 1
		time.Sleep(50 * time.Millisecond) // Hold the lock briefly
		mgr.Unlock("backend/app/api/story-1.py")
	}()

	// Give goroutine A time to acquire the lock
	time.Sleep(10 * time.Millisecond)

	// Goroutine B tries to lock the same artifact - should block
	go func() {
		mgr.Lock("backend/app/api/story-1.py")
		orderChan <- 2
		mgr.Unlock("backend/app/api/story-1.py")
	}()

	// Verify ordering: A acquired first, then B
	first := <-orderChan
	second := <-orderChan

	if first != 1 || second != 2 {
		t.Errorf("Expected order [1, 2], got [%d, %d]", first, second)
	}
}

// TestArtifactLockManager_DifferentArtifactsConcurrent verifies that locking different artifacts doesn't block.
func TestArtifactLockManager_DifferentArtifactsConcurrent(t *testing.T) {
	mgr := NewArtifactLockManager()
	var wg sync.WaitGroup
	var aLocked, bLocked atomic.Bool

	wg.Add(2)

	go func() {
		defer wg.Done()
		mgr.Lock("reports/qa-story-1.md")
		aLocked.Store(true)
		time.Sleep(20 * time.Millisecond)
		mgr.Unlock("reports/qa-story-1.md")
	}()

	go func() {
		defer wg.Done()
		mgr.Lock("reports/qa-story-2.md")
		bLocked.Store(true)
		time.Sleep(20 * time.Millisecond)
		mgr.Unlock("reports/qa-story-2.md")
	}()

	// Give both goroutines time to acquire their locks
	time.Sleep(10 * time.Millisecond)

	// Both should have acquired locks (no blocking)
	if !aLocked.Load() || !bLocked.Load() {
		t.Error("Both goroutines should have acquired their locks concurrently")
	}

	wg.Wait()
}

// TestArtifactLockManager_LockAllOrdering verifies that LockAll sorts and prevents deadlocks.
func TestArtifactLockManager_LockAllOrdering(t *testing.T) {
	mgr := NewArtifactLockManager()
	var wg sync.WaitGroup

	// Both goroutines try to lock the same artifacts in different orders.
	// If LockAll doesn't sort, this could deadlock.
	wg.Add(2)

	go func() {
		defer wg.Done()
		mgr.LockAll([]string{"b.md", "a.md"})
		time.Sleep(10 * time.Millisecond)
		mgr.UnlockAll([]string{"b.md", "a.md"})
	}()

	go func() {
		defer wg.Done()
		time.Sleep(5 * time.Millisecond) // Slight delay to ensure A acquires first
		mgr.LockAll([]string{"a.md", "b.md"})
		time.Sleep(10 * time.Millisecond)
		mgr.UnlockAll([]string{"a.md", "b.md"})
	}()

	// Wait with timeout to catch deadlocks
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		// Success - no deadlock
	case <-time.After(2 * time.Second):
		t.Fatal("Deadlock detected: LockAll did not prevent deadlock through ordering")
	}
}

// TestArtifactLockManager_UnlockAllReleasesAll verifies that UnlockAll releases all locks.
func TestArtifactLockManager_UnlockAllReleasesAll(t *testing.T) {
	mgr := NewArtifactLockManager()

	artifacts := []string{"a.md", "b.md", "c.md"}
	mgr.LockAll(artifacts)
	mgr.UnlockAll(artifacts)

	// Another goroutine should be able to acquire all locks
	acquired := make(chan bool, 1)
	go func() {
		mgr.LockAll(artifacts)
		acquired <- true
		mgr.UnlockAll(artifacts)
	}()

	select {
	case <-acquired:
		// Success - locks were released
	case <-time.After(500 * time.Millisecond):
		t.Fatal("Locks were not fully released by UnlockAll")
	}
}

// TestArtifactLockManager_EmptyPaths verifies that LockAll/UnlockAll handle empty slices.
func TestArtifactLockManager_EmptyPaths(t *testing.T) {
	mgr := NewArtifactLockManager()

	// Should not panic
	mgr.LockAll([]string{})
	mgr.UnlockAll([]string{})
}
