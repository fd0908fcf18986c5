package models

import (
	"strings"

	id "geosync/pkg/domain"
	dErrors "geosync/pkg/domain-errors"
)

// IngestRequest is the ingest boundary payload: one locally entered
// geography unit a tenant wants reconciled against the canonical registry.
type IngestRequest struct {
	Level          int               `json:"level"`
	ParentUnitID   *id.UnitID        `json:"parent_unit_id,omitempty"`
	Names          map[string]string `json:"names"`
	GovernmentCode string            `json:"government_code,omitempty"`
}

// Normalize trims whitespace and drops empty name entries in place.
func (r *IngestRequest) Normalize() {
	cleaned := make(map[string]string, len(r.Names))
	for lang, name := range r.Names {
		lang = strings.ToLower(strings.TrimSpace(lang))
		name = strings.TrimSpace(name)
		if lang == "" || name == "" {
			continue
		}
		cleaned[lang] = name
	}
	r.Names = cleaned
	r.GovernmentCode = strings.TrimSpace(r.GovernmentCode)
}

// Validate checks boundary-level shape. Hierarchy continuity against stored
// parents is validated by the service, which can see the parent row.
func (r *IngestRequest) Validate() error {
	if r.Level < LevelCountry || r.Level > MaxLevel {
		return dErrors.New(dErrors.CodeInvalidHierarchy, "level must be between 0 and 7")
	}
	if r.Level == LevelCountry && r.ParentUnitID != nil {
		return dErrors.New(dErrors.CodeInvalidHierarchy, "a country level unit cannot declare a parent")
	}
	if r.Level > LevelCountry && r.ParentUnitID == nil {
		return dErrors.New(dErrors.CodeInvalidHierarchy, "a non-country unit must declare a parent")
	}
	if len(r.Names) == 0 {
		return dErrors.New(dErrors.CodeValidation, "at least one name is required")
	}
	for _, name := range r.Names {
		if len(name) > 256 {
			return dErrors.New(dErrors.CodeValidation, "names must be 256 characters or less")
		}
	}
	return nil
}
