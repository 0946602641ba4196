// Package inmem provides an in-process checkpoint store. It satisfies
// the engine.Store contract for single-process deployments and tests;
// nothing survives a restart.
package inmem

import (
	"context"
	"fmt"
	"sync"

	"github.com/flowdial/flowdial/dialog/engine"
)

// Store keeps snapshots in a map guarded by a mutex. Snapshots are
// cloned on the way in and out so callers never share memory with the
// store.
type Store struct {
	mu    sync.RWMutex
	snaps map[string]*engine.Snapshot
}

// New returns an empty store.
func New() *Store {
	return &Store{snaps: make(map[string]*engine.Snapshot)}
}

// Load implements engine.Store.
func (s *Store) Load(ctx context.Context, userKey string) (*engine.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snaps[userKey]
	if !ok {
		return nil, engine.ErrNotFound
	}
	return snap.Clone(), nil
}

// Save implements engine.Store.
func (s *Store) Save(ctx context.Context, snap *engine.Snapshot) error {
	if snap == nil || snap.UserKey == "" {
		return fmt.Errorf("inmem: snapshot user key is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snaps[snap.UserKey] = snap.Clone()
	return nil
}

// Len returns the number of stored snapshots.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.snaps)
}
