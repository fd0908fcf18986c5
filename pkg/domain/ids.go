// Package domain holds typed identifiers shared across modules.
//
// Each ID is a distinct named uuid type so the compiler rejects passing a
// tenant ID where a canonical unit ID is expected. Parse helpers enforce the
// invariant that IDs are valid, non-nil UUIDs at trust boundaries.
package domain

import (
	"github.com/google/uuid"

	dErrors "geosync/pkg/domain-errors"
)

type (
	// TenantID identifies one tenant organization (a party).
	TenantID uuid.UUID
	// UnitID identifies a tenant-local geography unit.
	UnitID uuid.UUID
	// CanonicalID identifies a cross-tenant canonical geography unit.
	CanonicalID uuid.UUID
	// CaseID identifies a conflict review case.
	CaseID uuid.UUID
	// EntryID identifies a sync ledger entry.
	EntryID uuid.UUID
)

func (id TenantID) String() string    { return uuid.UUID(id).String() }
func (id UnitID) String() string      { return uuid.UUID(id).String() }
func (id CanonicalID) String() string { return uuid.UUID(id).String() }
func (id CaseID) String() string      { return uuid.UUID(id).String() }
func (id EntryID) String() string     { return uuid.UUID(id).String() }

func (id TenantID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id UnitID) IsNil() bool      { return uuid.UUID(id) == uuid.Nil }
func (id CanonicalID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id CaseID) IsNil() bool      { return uuid.UUID(id) == uuid.Nil }
func (id EntryID) IsNil() bool     { return uuid.UUID(id) == uuid.Nil }

// Text marshalling so typed IDs serialize as uuid strings, not byte arrays.

func (id TenantID) MarshalText() ([]byte, error)    { return []byte(id.String()), nil }
func (id UnitID) MarshalText() ([]byte, error)      { return []byte(id.String()), nil }
func (id CanonicalID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }
func (id CaseID) MarshalText() ([]byte, error)      { return []byte(id.String()), nil }
func (id EntryID) MarshalText() ([]byte, error)     { return []byte(id.String()), nil }

func (id *TenantID) UnmarshalText(b []byte) error {
	u, err := uuid.Parse(string(b))
	if err != nil {
		return err
	}
	*id = TenantID(u)
	return nil
}

func (id *UnitID) UnmarshalText(b []byte) error {
	u, err := uuid.Parse(string(b))
	if err != nil {
		return err
	}
	*id = UnitID(u)
	return nil
}

func (id *CanonicalID) UnmarshalText(b []byte) error {
	u, err := uuid.Parse(string(b))
	if err != nil {
		return err
	}
	*id = CanonicalID(u)
	return nil
}

func (id *CaseID) UnmarshalText(b []byte) error {
	u, err := uuid.Parse(string(b))
	if err != nil {
		return err
	}
	*id = CaseID(u)
	return nil
}

func (id *EntryID) UnmarshalText(b []byte) error {
	u, err := uuid.Parse(string(b))
	if err != nil {
		return err
	}
	*id = EntryID(u)
	return nil
}

// NewTenantID returns a fresh random tenant ID.
func NewTenantID() TenantID { return TenantID(uuid.New()) }

// NewUnitID returns a fresh random tenant unit ID.
func NewUnitID() UnitID { return UnitID(uuid.New()) }

// NewCanonicalID returns a fresh random canonical unit ID.
func NewCanonicalID() CanonicalID { return CanonicalID(uuid.New()) }

// NewCaseID returns a fresh random conflict case ID.
func NewCaseID() CaseID { return CaseID(uuid.New()) }

// NewEntryID returns a fresh random ledger entry ID.
func NewEntryID() EntryID { return EntryID(uuid.New()) }

func parseUUID(s, kind string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, kind+" id is required")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, kind+" id is not a valid uuid")
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, kind+" id must not be the nil uuid")
	}
	return u, nil
}

// ParseTenantID validates and converts a string into a TenantID.
func ParseTenantID(s string) (TenantID, error) {
	u, err := parseUUID(s, "tenant")
	return TenantID(u), err
}

// ParseUnitID validates and converts a string into a UnitID.
func ParseUnitID(s string) (UnitID, error) {
	u, err := parseUUID(s, "unit")
	return UnitID(u), err
}

// ParseCanonicalID validates and converts a string into a CanonicalID.
func ParseCanonicalID(s string) (CanonicalID, error) {
	u, err := parseUUID(s, "canonical unit")
	return CanonicalID(u), err
}

// ParseCaseID validates and converts a string into a CaseID.
func ParseCaseID(s string) (CaseID, error) {
	u, err := parseUUID(s, "conflict case")
	return CaseID(u), err
}
