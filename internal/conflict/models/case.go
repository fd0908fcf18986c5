package models

import (
	"time"

	id "geosync/pkg/domain"
	dErrors "geosync/pkg/domain-errors"
)

// Status is the conflict case lifecycle. Cases stay open for asynchronous
// human review with no timeout.
type Status string

const (
	StatusOpen     Status = "open"
	StatusResolved Status = "resolved"
)

// Action is the closed set of administrator resolutions.
type Action string

const (
	// ActionLink assigns the tenant unit to a chosen candidate.
	ActionLink Action = "link"
	// ActionCreate registers the tenant unit as a genuinely new place.
	ActionCreate Action = "create"
	// ActionMerge folds one candidate into another, then links.
	ActionMerge Action = "merge"
	// ActionRename fixes a candidate's primary name, then links.
	ActionRename Action = "rename"
	// ActionReject leaves the tenant unit local-only. Tenant autonomy over
	// unreconciled data is acceptable; the unit simply never syncs.
	ActionReject Action = "reject"
	// ActionReassignParent re-parents a candidate whose placement tenants
	// disagreed on, then queues the unit for a fresh match.
	ActionReassignParent Action = "reassign_parent"
)

func (a Action) valid() bool {
	switch a {
	case ActionLink, ActionCreate, ActionMerge, ActionRename, ActionReject, ActionReassignParent:
		return true
	}
	return false
}

// Candidate is one plausible canonical unit recorded on the case, with the
// score it achieved when the case opened.
type Candidate struct {
	CanonicalID id.CanonicalID `json:"canonical_id"`
	Name        string         `json:"name"`
	Score       float64        `json:"score"`
}

// Resolution captures the administrator decision that closed a case.
type Resolution struct {
	Action Action `json:"action"`
	// ChosenID is the candidate acted on (link, merge primary, rename,
	// reassign-parent). Nil for create and reject.
	ChosenID *id.CanonicalID `json:"chosen_id,omitempty"`
	// SecondaryID is the unit folded away by a merge.
	SecondaryID *id.CanonicalID `json:"secondary_id,omitempty"`
	// NewName is the corrected primary name for a rename.
	NewName string `json:"new_name,omitempty"`
	// NewParentID is the corrected canonical parent for reassign-parent.
	NewParentID *id.CanonicalID `json:"new_parent_id,omitempty"`
	ResolvedBy  string          `json:"resolved_by,omitempty"`
}

// Validate checks the resolution carries what its action needs.
func (r *Resolution) Validate() error {
	if !r.Action.valid() {
		return dErrors.New(dErrors.CodeValidation, "unknown resolution action")
	}
	switch r.Action {
	case ActionLink, ActionRename, ActionReassignParent:
		if r.ChosenID == nil || r.ChosenID.IsNil() {
			return dErrors.New(dErrors.CodeValidation, string(r.Action)+" requires a chosen canonical unit")
		}
	case ActionMerge:
		if r.ChosenID == nil || r.ChosenID.IsNil() || r.SecondaryID == nil || r.SecondaryID.IsNil() {
			return dErrors.New(dErrors.CodeValidation, "merge requires both a primary and a secondary unit")
		}
	}
	if r.Action == ActionRename && r.NewName == "" {
		return dErrors.New(dErrors.CodeValidation, "rename requires a new name")
	}
	if r.Action == ActionReassignParent && (r.NewParentID == nil || r.NewParentID.IsNil()) {
		return dErrors.New(dErrors.CodeValidation, "reassign_parent requires a new parent")
	}
	return nil
}

// ConflictCase is a pending human-review item: a tenant submission the
// matcher could not settle, with the ambiguous candidates it saw.
type ConflictCase struct {
	ID           id.CaseID   `json:"id"`
	UnitID       id.UnitID   `json:"unit_id"`
	TenantID     id.TenantID `json:"tenant_id"`
	DeclaredName string      `json:"declared_name"`
	Level        int         `json:"level"`
	Candidates   []Candidate `json:"candidates"`
	Status       Status      `json:"status"`
	Resolution   *Resolution `json:"resolution,omitempty"`
	OpenedAt     time.Time   `json:"opened_at"`
	ResolvedAt   *time.Time  `json:"resolved_at,omitempty"`
}

// CanResolve checks the case accepts a resolution. Single writer per case:
// only one administrator decision may apply.
func (c *ConflictCase) CanResolve() error {
	if c.Status != StatusOpen {
		return dErrors.New(dErrors.CodeInvalidState, "conflict case is already resolved")
	}
	return nil
}

// ApplyResolution closes the case. Call CanResolve first.
func (c *ConflictCase) ApplyResolution(resolution Resolution, now time.Time) {
	c.Status = StatusResolved
	c.Resolution = &resolution
	c.ResolvedAt = &now
}

// NewConflictCase opens a case for a tenant unit.
func NewConflictCase(caseID id.CaseID, unitID id.UnitID, tenantID id.TenantID, declaredName string, level int, candidates []Candidate, now time.Time) (*ConflictCase, error) {
	if unitID.IsNil() || tenantID.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "unit and tenant ids are required")
	}
	if declaredName == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "declared name is required")
	}
	return &ConflictCase{
		ID:           caseID,
		UnitID:       unitID,
		TenantID:     tenantID,
		DeclaredName: declaredName,
		Level:        level,
		Candidates:   candidates,
		Status:       StatusOpen,
		OpenedAt:     now,
	}, nil
}
