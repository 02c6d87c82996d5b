package vcs

import (
	"sort"
	"sync"
)

// LockManager provides per-branch mutual exclusion for concurrent git
// operations. Uses a keyed mutex pattern: each branch gets its own mutex,
// allowing concurrent operations on different branches while blocking
// concurrent operations on the same one.
type LockManager struct {
	mu    sync.Mutex // Guards the locks map itself
	locks map[string]*sync.Mutex
}

// NewLockManager creates a new LockManager.
func NewLockManager() *LockManager {
	return &LockManager{
		locks: make(map[string]*sync.Mutex),
	}
}

// Lock acquires the mutex for the given branch, creating it on first
// access.
func (l *LockManager) Lock(branch string) {
	l.mu.Lock()
	branchLock, exists := l.locks[branch]
	if !exists {
		branchLock = &sync.Mutex{}
		l.locks[branch] = branchLock
	}
	l.mu.Unlock()

	// Acquire the per-branch lock outside the manager lock to avoid
	// contention.
	branchLock.Lock()
}

// Unlock releases the mutex for the given branch.
func (l *LockManager) Unlock(branch string) {
	l.mu.Lock()
	branchLock, exists := l.locks[branch]
	l.mu.Unlock()

	if exists {
		branchLock.Unlock()
	}
}

// LockAll acquires locks for all given branches. Branches are sorted
// lexicographically before acquiring so overlapping sets cannot deadlock.
func (l *LockManager) LockAll(branches []string) {
	if len(branches) == 0 {
		return
	}

	sorted := make([]string, len(branches))
	copy(sorted, branches)
	sort.Strings(sorted)

	for _, branch := range sorted {
		l.Lock(branch)
	}
}

// UnlockAll releases locks for all given branches in reverse sorted order,
// symmetric with LockAll.
func (l *LockManager) UnlockAll(branches []string) {
	if len(branches) == 0 {
		return
	}

	sorted := make([]string, len(branches))
	copy(sorted, branches)
	sort.Strings(sorted)

	for i := len(sorted) - 1; i >= 0; i-- {
		l.Unlock(sorted[i])
	}
}
