// Package memory provides the in-memory ledger store used by unit tests and
// single-process development. Append-only semantics match the Postgres store.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	id "geosync/pkg/domain"
	"geosync/pkg/platform/ledger"
)

// Store keeps entries in insertion order under a mutex.
type Store struct {
	mu      sync.RWMutex
	entries []ledger.Entry
}

func New() *Store {
	return &Store{}
}

// Append records one entry. Entries are copied in; callers cannot mutate
// history after the fact.
func (s *Store) Append(ctx context.Context, entry ledger.Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

// ListFrom returns entries with Timestamp >= since, oldest first.
func (s *Store) ListFrom(ctx context.Context, since time.Time) ([]ledger.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []ledger.Entry
	for _, e := range s.entries {
		if !e.Timestamp.Before(since) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

// ListByUnit returns all entries for one tenant unit, oldest first.
func (s *Store) ListByUnit(ctx context.Context, unitID id.UnitID) ([]ledger.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []ledger.Entry
	for _, e := range s.entries {
		if e.UnitID == unitID {
			out = append(out, e)
		}
	}
	return out, nil
}

// Len reports the number of appended entries. Test helper.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
