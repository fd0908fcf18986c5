package unit

import (
	"context"
	"sort"
	"sync"

	"geosync/internal/geography/models"
	id "geosync/pkg/domain"
	"geosync/pkg/platform/sentinel"
)

// Memory is an in-memory unit store used by tests and single-process runs.
type Memory struct {
	mu    sync.Mutex
	units map[id.UnitID]*models.TenantGeoUnit
}

func NewMemory() *Memory {
	return &Memory{units: make(map[id.UnitID]*models.TenantGeoUnit)}
}

func (m *Memory) Create(ctx context.Context, unit *models.TenantGeoUnit) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.units[unit.ID]; ok {
		return sentinel.ErrConflict
	}
	m.units[unit.ID] = cloneUnit(unit)
	return nil
}

func (m *Memory) Update(ctx context.Context, unit *models.TenantGeoUnit) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.units[unit.ID]; !ok {
		return sentinel.ErrNotFound
	}
	m.units[unit.ID] = cloneUnit(unit)
	return nil
}

func (m *Memory) FindByID(ctx context.Context, tenantID id.TenantID, unitID id.UnitID) (*models.TenantGeoUnit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	unit, ok := m.units[unitID]
	if !ok || unit.TenantID != tenantID {
		return nil, sentinel.ErrNotFound
	}
	return cloneUnit(unit), nil
}

// FindDuplicate locates a live unit a tenant already submitted with the same
// shape, for idempotent resubmission handling.
func (m *Memory) FindDuplicate(ctx context.Context, tenantID id.TenantID, level int, parentID *id.UnitID, declaredName string) (*models.TenantGeoUnit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, unit := range m.units {
		if unit.TenantID != tenantID || unit.Level != level || unit.Retired {
			continue
		}
		if !sameParent(unit.ParentID, parentID) {
			continue
		}
		if unit.DeclaredName() == declaredName {
			return cloneUnit(unit), nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (m *Memory) ListByTenant(ctx context.Context, tenantID id.TenantID) ([]*models.TenantGeoUnit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*models.TenantGeoUnit
	for _, unit := range m.units {
		if unit.TenantID == tenantID && !unit.Retired {
			out = append(out, cloneUnit(unit))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Level != out[j].Level {
			return out[i].Level < out[j].Level
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

// RelinkCanonical re-points every unit linked to the retired canonical unit
// at its merge survivor.
func (m *Memory) RelinkCanonical(ctx context.Context, from, to id.CanonicalID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int
	for _, unit := range m.units {
		if unit.CanonicalID != nil && *unit.CanonicalID == from {
			relinked := to
			unit.CanonicalID = &relinked
			n++
		}
	}
	return n, nil
}

func sameParent(a, b *id.UnitID) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func cloneUnit(unit *models.TenantGeoUnit) *models.TenantGeoUnit {
	cp := *unit
	cp.Names = make(map[string]string, len(unit.Names))
	for k, v := range unit.Names {
		cp.Names[k] = v
	}
	if unit.ParentID != nil {
		parent := *unit.ParentID
		cp.ParentID = &parent
	}
	if unit.CanonicalID != nil {
		canonical := *unit.CanonicalID
		cp.CanonicalID = &canonical
	}
	return &cp
}
