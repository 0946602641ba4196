package runtime

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

type (
	// turnLocks serializes turns per user key. Each key maps to a
	// weighted semaphore of capacity one; entries are reference
	// counted so idle keys do not accumulate.
	turnLocks struct {
		mu      sync.Mutex
		entries map[string]*lockEntry
	}

	lockEntry struct {
		sem  *semaphore.Weighted
		refs int
	}
)

func newTurnLocks() *turnLocks {
	return &turnLocks{entries: make(map[string]*lockEntry)}
}

// acquire blocks until the key's lock is free or ctx is done. On
// success the returned release function must be called exactly once.
func (l *turnLocks) acquire(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	entry, ok := l.entries[key]
	if !ok {
		entry = &lockEntry{sem: semaphore.NewWeighted(1)}
		l.entries[key] = entry
	}
	entry.refs++
	l.mu.Unlock()

	if err := entry.sem.Acquire(ctx, 1); err != nil {
		l.release(key, entry, false)
		return nil, err
	}
	return func() { l.release(key, entry, true) }, nil
}

func (l *turnLocks) release(key string, entry *lockEntry, held bool) {
	if held {
		entry.sem.Release(1)
	}
	l.mu.Lock()
	entry.refs--
	if entry.refs == 0 {
		delete(l.entries, key)
	}
	l.mu.Unlock()
}
