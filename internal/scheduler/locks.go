package scheduler

import (
	"sort"
	"sync"
)

// ArtifactLockManager provides per-artifact mutual exclusion for concurrent
// task execution. Uses a keyed mutex pattern: each artifact path gets its own
// mutex, so tasks producing different artifacts run concurrently while two
// tasks touching the same artifact serialize.
type ArtifactLockManager struct {
	mu    sync.Mutex             // Guards the locks map itself
	locks map[string]*sync.Mutex // Per-artifact mutexes
}

// NewArtifactLockManager creates a new ArtifactLockManager.
func NewArtifactLockManager() *ArtifactLockManager {
	return &ArtifactLockManager{
		locks: make(map[string]*sync.Mutex),
	}
}

// Lock acquires the mutex for the given artifact path, creating it on first use.
func (m *ArtifactLockManager) Lock(path string) {
	m.mu.Lock()
	lock, exists := m.locks[path]
	if !exists {
		lock = &sync.Mutex{}
		m.locks[path] = lock
	}
	m.mu.Unlock()

	// Acquire outside the manager lock to avoid contention
	lock.Lock()
}

// Unlock releases the mutex for the given artifact path.
func (m *ArtifactLockManager) Unlock(path string) {
	m.mu.Lock()
	lock, exists := m.locks[path]
	m.mu.Unlock()

	if exists {
		lock.Unlock()
	}
}

// LockAll acquires locks for all given artifact paths.
// Sorts paths lexicographically BEFORE acquiring to prevent deadlocks
// between tasks that list the same artifacts in different orders.
func (m *ArtifactLockManager) LockAll(paths []string) {
	if len(paths) == 0 {
		return
	}

	sorted := make([]string, len(paths))
	copy(sorted, paths)
	sort.Strings(sorted)

	for _, path := range sorted {
		m.Lock(path)
	}
}

// UnlockAll releases locks for all given artifact paths, in reverse sorted
// order for symmetry with LockAll.
func (m *ArtifactLockManager) UnlockAll(paths []string) {
	if len(paths) == 0 {
		return
	}

	sorted := make([]string, len(paths))
	copy(sorted, paths)
	sort.Strings(sorted)

	for i := len(sorted) - 1; i >= 0; i-- {
		m.Unlock(sorted[i])
	}
}
