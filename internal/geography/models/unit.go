package models

import (
	"time"

	id "geosync/pkg/domain"
	dErrors "geosync/pkg/domain-errors"
)

// Hierarchy depth limits: 4 official administrative levels plus up to 4
// tenant-defined custom levels. Level 0 is the country.
const (
	LevelCountry = 0
	MaxLevel     = 7
)

// SyncState is the lifecycle of one tenant unit submission.
//
// draft → pending_sync → {matched | conflict_open} → {synced | rejected}
//
// synced and rejected are terminal for the submission; a later re-ingest
// (e.g. after a merge reopens placement) moves the unit back to pending_sync.
type SyncState string

const (
	SyncStateDraft        SyncState = "draft"
	SyncStatePendingSync  SyncState = "pending_sync"
	SyncStateMatched      SyncState = "matched"
	SyncStateConflictOpen SyncState = "conflict_open"
	SyncStateSynced       SyncState = "synced"
	SyncStateRejected     SyncState = "rejected"
)

// transitions enumerates the legal state machine edges.
var transitions = map[SyncState][]SyncState{
	SyncStateDraft:        {SyncStatePendingSync},
	SyncStatePendingSync:  {SyncStateMatched, SyncStateConflictOpen, SyncStateSynced},
	SyncStateMatched:      {SyncStateSynced},
	SyncStateConflictOpen: {SyncStateSynced, SyncStateRejected, SyncStatePendingSync},
	SyncStateSynced:       {SyncStatePendingSync},
	SyncStateRejected:     {SyncStatePendingSync},
}

// CanTransitionTo reports whether the edge s → next is legal.
func (s SyncState) CanTransitionTo(next SyncState) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the state ends the current submission.
func (s SyncState) IsTerminal() bool {
	return s == SyncStateSynced || s == SyncStateRejected
}

// TenantGeoUnit is a geography node as entered by one tenant.
//
// Invariants:
//   - Level within [0, MaxLevel]; level 0 has no parent, others require one
//   - Names carries at least one language entry
//   - A unit is never deleted while members reference it; Retired marks
//     soft retirement instead
//   - CanonicalID is nil until the matching pipeline links the unit
type TenantGeoUnit struct {
	ID       id.UnitID   `json:"id"`
	TenantID id.TenantID `json:"tenant_id"`
	Level    int         `json:"level"`
	// ParentID references another unit of the same tenant, one level up.
	ParentID *id.UnitID `json:"parent_id,omitempty"`
	// Names maps language code to the declared name, e.g. {"en": "Bagmati",
	// "ne": "बागमती"}. The default language key is "en".
	Names          map[string]string `json:"names"`
	GovernmentCode string            `json:"government_code,omitempty"`
	CanonicalID    *id.CanonicalID   `json:"canonical_id,omitempty"`
	SyncState      SyncState         `json:"sync_state"`
	Retired        bool              `json:"retired"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// DefaultLanguage is the language key used for matching when present.
const DefaultLanguage = "en"

// DeclaredName returns the name used for canonical matching: the default
// language entry when present, otherwise the lexically first entry so the
// choice is deterministic.
func (u *TenantGeoUnit) DeclaredName() string {
	if name, ok := u.Names[DefaultLanguage]; ok && name != "" {
		return name
	}
	best := ""
	bestLang := ""
	for lang, name := range u.Names {
		if name == "" {
			continue
		}
		if bestLang == "" || lang < bestLang {
			bestLang = lang
			best = name
		}
	}
	return best
}

// IsLinked reports whether the unit is linked to a canonical unit.
func (u *TenantGeoUnit) IsLinked() bool {
	return u.CanonicalID != nil && !u.CanonicalID.IsNil()
}

// Transition moves the unit to next, enforcing the state machine.
func (u *TenantGeoUnit) Transition(next SyncState, now time.Time) error {
	if !u.SyncState.CanTransitionTo(next) {
		return dErrors.New(dErrors.CodeInvalidState,
			"illegal sync state transition "+string(u.SyncState)+" -> "+string(next))
	}
	u.SyncState = next
	u.UpdatedAt = now
	return nil
}

// Link records the canonical match on the unit.
func (u *TenantGeoUnit) Link(canonicalID id.CanonicalID, now time.Time) {
	u.CanonicalID = &canonicalID
	u.UpdatedAt = now
}

// Retire soft-retires the unit. Member references keep resolving; the unit
// just stops participating in new matches.
func (u *TenantGeoUnit) Retire(now time.Time) {
	u.Retired = true
	u.UpdatedAt = now
}

// NewTenantGeoUnit constructs a draft unit, validating model invariants.
// Hierarchy continuity against the parent row is the service's job; the
// model only checks what it can see.
func NewTenantGeoUnit(unitID id.UnitID, tenantID id.TenantID, level int, parentID *id.UnitID, names map[string]string, govCode string, now time.Time) (*TenantGeoUnit, error) {
	if tenantID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "tenant id is required")
	}
	if level < LevelCountry || level > MaxLevel {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "level must be between 0 and 7")
	}
	if level == LevelCountry && parentID != nil {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "a country level unit cannot have a parent")
	}
	if level > LevelCountry && parentID == nil {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "a non-country unit requires a parent")
	}
	hasName := false
	for _, name := range names {
		if name != "" {
			hasName = true
			break
		}
	}
	if !hasName {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "at least one declared name is required")
	}
	return &TenantGeoUnit{
		ID:             unitID,
		TenantID:       tenantID,
		Level:          level,
		ParentID:       parentID,
		Names:          names,
		GovernmentCode: govCode,
		SyncState:      SyncStateDraft,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}
