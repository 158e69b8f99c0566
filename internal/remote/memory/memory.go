// Package memory is an in-memory remote source for tests and local
// development without network credentials.
package memory

import (
	"context"
	"sync"
	"time"

	"divvy/internal/core"
	"divvy/internal/remote"
)

type entry struct {
	tx        core.Transaction
	updatedAt time.Time
}

type removal struct {
	txID      string
	removedAt time.Time
}

// Store holds per-group transactions with modification timestamps.
type Store struct {
	mu       sync.Mutex
	items    map[string][]entry   // group id -> entries
	removals map[string][]removal // group id -> soft deletes
}

var _ remote.Source = (*Store)(nil)

func New() *Store {
	return &Store{
		items:    make(map[string][]entry),
		removals: make(map[string][]removal),
	}
}

// Add registers a transaction as created/modified at ts.
func (s *Store) Add(tx core.Transaction, ts time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[tx.GroupID] = append(s.items[tx.GroupID], entry{tx: tx, updatedAt: ts})
}

// Delete soft-deletes a transaction at ts.
func (s *Store) Delete(groupID, txID string, ts time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.items[groupID][:0]
	for _, e := range s.items[groupID] {
		if e.tx.ID != txID {
			kept = append(kept, e)
		}
	}
	s.items[groupID] = kept
	s.removals[groupID] = append(s.removals[groupID], removal{txID: txID, removedAt: ts})
}

// FetchSince implements remote.TransactionSource.
func (s *Store) FetchSince(_ context.Context, groupID string, since time.Time) ([]core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.Transaction
	for _, e := range s.items[groupID] {
		if e.updatedAt.After(since) {
			out = append(out, e.tx)
		}
	}
	return out, nil
}

// RemovedSince implements remote.RemovalSource.
func (s *Store) RemovedSince(_ context.Context, groupID string, since time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, r := range s.removals[groupID] {
		if r.removedAt.After(since) {
			out = append(out, r.txID)
		}
	}
	return out, nil
}
