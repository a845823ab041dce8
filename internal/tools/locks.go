package tools

import (
	"sort"
	"sync"
)

// pathLocks enforces at-most-one in-flight execution per distinct key
// (typically a file path) so concurrent dispatches never interleave writes.
type pathLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newPathLocks() *pathLocks {
	return &pathLocks{locks: make(map[string]*sync.Mutex)}
}

// acquire locks the key and returns the unlock function.
func (p *pathLocks) acquire(key string) func() {
	p.mu.Lock()
	m, ok := p.locks[key]
	if !ok {
		m = &sync.Mutex{}
		p.locks[key] = m
	}
	p.mu.Unlock()

	m.Lock()
	return m.Unlock
}

// acquireAll locks every key and returns one unlock function. Keys are
// deduplicated and taken in sorted order so two calls holding overlapping
// sets can never deadlock each other.
func (p *pathLocks) acquireAll(keys []string) func() {
	sorted := make([]string, 0, len(keys))
	seen := make(map[string]bool, len(keys))
	for _, k := range keys {
		if !seen[k] {
			seen[k] = true
			sorted = append(sorted, k)
		}
	}
	sort.Strings(sorted)

	unlocks := make([]func(), 0, len(sorted))
	for _, k := range sorted {
		unlocks = append(unlocks, p.acquire(k))
	}
	return func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}
}
