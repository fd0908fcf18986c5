package store

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"

	"geosync/internal/canonical/models"
	id "geosync/pkg/domain"
	"geosync/pkg/platform/sentinel"
)

// Memory is the in-memory canonical unit store. The single mutex is the
// mutual-exclusion guarantee for concurrent first sightings: two goroutines
// racing to create the same (level, parent, normalized name) scope serialize
// here, and the loser gets sentinel.ErrConflict exactly like the Postgres
// unique index produces.
type Memory struct {
	mu    sync.RWMutex
	units map[id.CanonicalID]*models.CanonicalUnit
	// scope maps (level, parent, normalized name) to the live unit claiming it.
	scope map[string]id.CanonicalID
}

func NewMemory() *Memory {
	return &Memory{
		units: make(map[id.CanonicalID]*models.CanonicalUnit),
		scope: make(map[string]id.CanonicalID),
	}
}

func scopeKey(parentID *id.CanonicalID, level int, normalized string) string {
	parent := uuid.Nil.String()
	if parentID != nil {
		parent = parentID.String()
	}
	return strings.Join([]string{strconv.Itoa(level), parent, normalized}, "|")
}

// Create inserts a unit, enforcing scope uniqueness.
func (s *Memory) Create(ctx context.Context, unit *models.CanonicalUnit) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := scopeKey(unit.ParentID, unit.Level, unit.NormalizedName)
	if _, taken := s.scope[key]; taken {
		return sentinel.ErrConflict
	}
	if _, exists := s.units[unit.ID]; exists {
		return sentinel.ErrConflict
	}
	s.units[unit.ID] = cloneUnit(unit)
	s.scope[key] = unit.ID
	return nil
}

// Update persists mutable fields. Retiring a unit releases its scope key so
// a later unit may claim the name.
func (s *Memory) Update(ctx context.Context, unit *models.CanonicalUnit) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.units[unit.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	oldKey := scopeKey(stored.ParentID, stored.Level, stored.NormalizedName)
	newKey := scopeKey(unit.ParentID, unit.Level, unit.NormalizedName)
	if newKey != oldKey && !unit.Retired {
		if _, taken := s.scope[newKey]; taken {
			return sentinel.ErrConflict
		}
	}
	delete(s.scope, oldKey)
	if !unit.Retired {
		s.scope[newKey] = unit.ID
	}
	s.units[unit.ID] = cloneUnit(unit)
	return nil
}

// FindByID retrieves one unit.
func (s *Memory) FindByID(ctx context.Context, canonicalID id.CanonicalID) (*models.CanonicalUnit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	unit, ok := s.units[canonicalID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return cloneUnit(unit), nil
}

// FindByScope retrieves the live unit holding a (level, parent, normalized
// name) scope, the race-loser fallback after a Create conflict.
func (s *Memory) FindByScope(ctx context.Context, parentID *id.CanonicalID, level int, normalized string) (*models.CanonicalUnit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	canonicalID, ok := s.scope[scopeKey(parentID, level, normalized)]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	unit, ok := s.units[canonicalID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return cloneUnit(unit), nil
}

// ListActive returns live (non-retired) units at a level, optionally
// restricted to one canonical parent.
func (s *Memory) ListActive(ctx context.Context, parentID *id.CanonicalID, level int) ([]*models.CanonicalUnit, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.CanonicalUnit
	for _, unit := range s.units {
		if unit.Retired || unit.Level != level {
			continue
		}
		if parentID != nil {
			if unit.ParentID == nil || *unit.ParentID != *parentID {
				continue
			}
		}
		out = append(out, cloneUnit(unit))
	}
	return out, nil
}

func cloneUnit(u *models.CanonicalUnit) *models.CanonicalUnit {
	out := *u
	out.AlternateNames = append([]string(nil), u.AlternateNames...)
	if u.TenantRefs != nil {
		out.TenantRefs = make(map[id.TenantID]struct{}, len(u.TenantRefs))
		for t := range u.TenantRefs {
			out.TenantRefs[t] = struct{}{}
		}
	}
	if u.ParentID != nil {
		parent := *u.ParentID
		out.ParentID = &parent
	}
	if u.MergedInto != nil {
		merged := *u.MergedInto
		out.MergedInto = &merged
	}
	return &out
}
