package store

import (
	"context"
	"sort"
	"sync"

	"geosync/internal/conflict/models"
	id "geosync/pkg/domain"
	"geosync/pkg/platform/sentinel"
)

// Memory is an in-memory case store used by tests and single-process runs.
type Memory struct {
	mu    sync.Mutex
	cases map[id.CaseID]*models.ConflictCase
}

func NewMemory() *Memory {
	return &Memory{cases: make(map[id.CaseID]*models.ConflictCase)}
}

func (m *Memory) Create(ctx context.Context, c *models.ConflictCase) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.cases[c.ID]; ok {
		return sentinel.ErrConflict
	}
	m.cases[c.ID] = cloneCase(c)
	return nil
}

func (m *Memory) Update(ctx context.Context, c *models.ConflictCase) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.cases[c.ID]; !ok {
		return sentinel.ErrNotFound
	}
	m.cases[c.ID] = cloneCase(c)
	return nil
}

func (m *Memory) FindByID(ctx context.Context, caseID id.CaseID) (*models.ConflictCase, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.cases[caseID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return cloneCase(c), nil
}

// ListOpen returns unresolved cases, oldest first.
func (m *Memory) ListOpen(ctx context.Context) ([]*models.ConflictCase, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*models.ConflictCase
	for _, c := range m.cases {
		if c.Status == models.StatusOpen {
			out = append(out, cloneCase(c))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].OpenedAt.Equal(out[j].OpenedAt) {
			return out[i].OpenedAt.Before(out[j].OpenedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func cloneCase(c *models.ConflictCase) *models.ConflictCase {
	cp := *c
	cp.Candidates = append([]models.Candidate(nil), c.Candidates...)
	if c.Resolution != nil {
		res := *c.Resolution
		cp.Resolution = &res
	}
	if c.ResolvedAt != nil {
		t := *c.ResolvedAt
		cp.ResolvedAt = &t
	}
	return &cp
}
