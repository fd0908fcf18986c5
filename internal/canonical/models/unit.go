package models

import (
	"time"

	id "geosync/pkg/domain"
	dErrors "geosync/pkg/domain-errors"
)

// VerificationState tracks how much trust a canonical unit has earned.
type VerificationState string

const (
	// VerificationUnverified: created from a single tenant sighting.
	VerificationUnverified VerificationState = "unverified"
	// VerificationVerified: confirmed by an administrator or official list.
	VerificationVerified VerificationState = "verified"
	// VerificationDisputed: placement or identity under open review.
	VerificationDisputed VerificationState = "disputed"
)

// CanonicalUnit is the single cross-tenant record for one real-world place.
//
// Invariants:
//   - Within one (parent, level), primary names stay pairwise
//     distinguishable beyond the match threshold; near-collisions are a
//     data-quality defect surfaced as conflict cases
//   - Never hard-deleted: merges retire the secondary and fold its names
//     and tenant references into the primary
//   - TenantRefs counts distinct tenants, not submissions
type CanonicalUnit struct {
	ID       id.CanonicalID  `json:"id"`
	Level    int             `json:"level"`
	ParentID *id.CanonicalID `json:"parent_id,omitempty"`
	// PrimaryName is the display name; NormalizedName is the dedupe key
	// within (parent, level).
	PrimaryName    string `json:"primary_name"`
	NormalizedName string `json:"normalized_name"`
	// AlternateNames aggregates distinct speller variants observed across
	// tenants, primary name excluded.
	AlternateNames []string `json:"alternate_names,omitempty"`
	// TenantRefs is the set of distinct tenants referencing this unit.
	TenantRefs   map[id.TenantID]struct{} `json:"-"`
	Verification VerificationState        `json:"verification"`
	// Retired is set when the unit was merged into another; MergedInto
	// points at the surviving unit so old links remain resolvable.
	Retired    bool            `json:"retired"`
	MergedInto *id.CanonicalID `json:"merged_into,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// TenantRefCount returns the number of distinct referencing tenants.
func (u *CanonicalUnit) TenantRefCount() int {
	return len(u.TenantRefs)
}

// AllNames returns primary plus alternates, for matcher scoring.
func (u *CanonicalUnit) AllNames() []string {
	out := make([]string, 0, 1+len(u.AlternateNames))
	out = append(out, u.PrimaryName)
	out = append(out, u.AlternateNames...)
	return out
}

// AddAlternateName admits a tenant spelling into the alternate set. Returns
// true if the spelling was new. The primary name never duplicates into the
// alternates.
func (u *CanonicalUnit) AddAlternateName(name string) bool {
	if name == "" || name == u.PrimaryName {
		return false
	}
	for _, existing := range u.AlternateNames {
		if existing == name {
			return false
		}
	}
	u.AlternateNames = append(u.AlternateNames, name)
	return true
}

// AddTenantRef records a referencing tenant. Idempotent per tenant; returns
// true if the tenant was new.
func (u *CanonicalUnit) AddTenantRef(tenantID id.TenantID) bool {
	if u.TenantRefs == nil {
		u.TenantRefs = make(map[id.TenantID]struct{})
	}
	if _, ok := u.TenantRefs[tenantID]; ok {
		return false
	}
	u.TenantRefs[tenantID] = struct{}{}
	return true
}

// CanMergeInto checks the fold of u into primary is legal.
func (u *CanonicalUnit) CanMergeInto(primary *CanonicalUnit) error {
	if u.Retired {
		return dErrors.New(dErrors.CodeInvalidState, "secondary unit is already retired")
	}
	if primary.Retired {
		return dErrors.New(dErrors.CodeInvalidState, "cannot merge into a retired unit")
	}
	if u.ID == primary.ID {
		return dErrors.New(dErrors.CodeInvariantViolation, "cannot merge a unit into itself")
	}
	if u.Level != primary.Level {
		return dErrors.New(dErrors.CodeInvariantViolation, "merged units must share a hierarchy level")
	}
	return nil
}

// ApplyMergeInto folds u's names and tenant refs into primary and retires u.
// Call CanMergeInto first.
func (u *CanonicalUnit) ApplyMergeInto(primary *CanonicalUnit, now time.Time) {
	primary.AddAlternateName(u.PrimaryName)
	for _, alt := range u.AlternateNames {
		primary.AddAlternateName(alt)
	}
	for tenantID := range u.TenantRefs {
		primary.AddTenantRef(tenantID)
	}
	primary.UpdatedAt = now

	u.Retired = true
	mergedInto := primary.ID
	u.MergedInto = &mergedInto
	u.UpdatedAt = now
}

// NewCanonicalUnit constructs an unverified unit from a first sighting.
func NewCanonicalUnit(canonicalID id.CanonicalID, level int, parentID *id.CanonicalID, primaryName, normalizedName string, firstTenant id.TenantID, now time.Time) (*CanonicalUnit, error) {
	if primaryName == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "primary name is required")
	}
	if normalizedName == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "normalized name is required")
	}
	if level < 0 {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "level must not be negative")
	}
	unit := &CanonicalUnit{
		ID:             canonicalID,
		Level:          level,
		ParentID:       parentID,
		PrimaryName:    primaryName,
		NormalizedName: normalizedName,
		Verification:   VerificationUnverified,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if !firstTenant.IsNil() {
		unit.AddTenantRef(firstTenant)
	}
	return unit, nil
}
