package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"geosync/internal/canonical/models"
	id "geosync/pkg/domain"
	"geosync/pkg/platform/sentinel"
	txcontext "geosync/pkg/platform/tx"
)

// pqUniqueViolation is the Postgres error code for unique constraint hits.
const pqUniqueViolation = "23505"

// Schema creates the canonical registry tables. The partial unique index on
// (level, parent, normalized_name) over live rows is the mutual-exclusion
// guarantee for concurrent first sightings. parent_key denormalizes the
// nullable parent into a non-null column so the index treats root units as
// one scope.
const Schema = `
CREATE TABLE IF NOT EXISTS canonical_units (
	id UUID PRIMARY KEY,
	level INT NOT NULL,
	parent_id UUID REFERENCES canonical_units (id),
	parent_key UUID NOT NULL DEFAULT '00000000-0000-0000-0000-000000000000',
	primary_name TEXT NOT NULL,
	normalized_name TEXT NOT NULL,
	alternate_names JSONB NOT NULL DEFAULT '[]',
	verification TEXT NOT NULL DEFAULT 'unverified',
	retired BOOLEAN NOT NULL DEFAULT FALSE,
	merged_into UUID,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS uq_canonical_scope
	ON canonical_units (level, parent_key, normalized_name) WHERE NOT retired;
CREATE INDEX IF NOT EXISTS idx_canonical_children ON canonical_units (parent_key, level) WHERE NOT retired;

CREATE TABLE IF NOT EXISTS canonical_tenant_refs (
	canonical_id UUID NOT NULL REFERENCES canonical_units (id),
	tenant_id UUID NOT NULL,
	PRIMARY KEY (canonical_id, tenant_id)
);
`

// Postgres persists canonical units. Pure I/O; uniqueness and merge rules
// live in the registry service and the schema.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Postgres) execer(ctx context.Context) querier {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func nullableID(canonicalID *id.CanonicalID) any {
	if canonicalID == nil {
		return nil
	}
	return uuid.UUID(*canonicalID)
}

func parentKey(parentID *id.CanonicalID) uuid.UUID {
	if parentID == nil {
		return uuid.Nil
	}
	return uuid.UUID(*parentID)
}

// Create inserts a unit and its tenant refs. A scope collision surfaces as
// sentinel.ErrConflict via ON CONFLICT DO NOTHING rather than a raised unique
// violation: a 23505 would abort the surrounding transaction and take the
// race loser's FindByScope fallback down with it.
func (s *Postgres) Create(ctx context.Context, unit *models.CanonicalUnit) error {
	alternates, err := json.Marshal(unit.AlternateNames)
	if err != nil {
		return fmt.Errorf("create canonical unit: marshal alternates: %w", err)
	}
	query := `
		INSERT INTO canonical_units
			(id, level, parent_id, parent_key, primary_name, normalized_name, alternate_names, verification, retired, merged_into, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (level, parent_key, normalized_name) WHERE NOT retired DO NOTHING
	`
	res, err := s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(unit.ID),
		unit.Level,
		nullableID(unit.ParentID),
		parentKey(unit.ParentID),
		unit.PrimaryName,
		unit.NormalizedName,
		alternates,
		string(unit.Verification),
		unit.Retired,
		nullableID(unit.MergedInto),
		unit.CreatedAt,
		unit.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create canonical unit: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sentinel.ErrConflict
	}
	return s.upsertRefs(ctx, unit)
}

// Update persists mutable fields and any new tenant refs.
func (s *Postgres) Update(ctx context.Context, unit *models.CanonicalUnit) error {
	alternates, err := json.Marshal(unit.AlternateNames)
	if err != nil {
		return fmt.Errorf("update canonical unit: marshal alternates: %w", err)
	}
	query := `
		UPDATE canonical_units SET
			level = $2,
			parent_id = $3,
			parent_key = $4,
			primary_name = $5,
			normalized_name = $6,
			alternate_names = $7,
			verification = $8,
			retired = $9,
			merged_into = $10,
			updated_at = $11
		WHERE id = $1
	`
	res, err := s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(unit.ID),
		unit.Level,
		nullableID(unit.ParentID),
		parentKey(unit.ParentID),
		unit.PrimaryName,
		unit.NormalizedName,
		alternates,
		string(unit.Verification),
		unit.Retired,
		nullableID(unit.MergedInto),
		unit.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("update canonical unit: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update canonical unit: rows affected: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return s.upsertRefs(ctx, unit)
}

func (s *Postgres) upsertRefs(ctx context.Context, unit *models.CanonicalUnit) error {
	if len(unit.TenantRefs) == 0 {
		return nil
	}
	tenants := make([]uuid.UUID, 0, len(unit.TenantRefs))
	for tenantID := range unit.TenantRefs {
		tenants = append(tenants, uuid.UUID(tenantID))
	}
	query := `
		INSERT INTO canonical_tenant_refs (canonical_id, tenant_id)
		SELECT $1, unnest($2::uuid[])
		ON CONFLICT DO NOTHING
	`
	if _, err := s.execer(ctx).ExecContext(ctx, query, uuid.UUID(unit.ID), pq.Array(tenants)); err != nil {
		return fmt.Errorf("upsert canonical tenant refs: %w", err)
	}
	return nil
}

// lockClause locks fetched rows when the caller carries a transaction, so a
// read-modify-write (link admitting a spelling, merge, rename) serializes
// against concurrent writers instead of losing the last update.
func lockClause(ctx context.Context) string {
	if _, ok := txcontext.From(ctx); ok {
		return " FOR UPDATE"
	}
	return ""
}

// FindByID retrieves one unit with its tenant refs.
func (s *Postgres) FindByID(ctx context.Context, canonicalID id.CanonicalID) (*models.CanonicalUnit, error) {
	query := selectUnits + ` WHERE id = $1` + lockClause(ctx)
	return s.queryOne(ctx, query, uuid.UUID(canonicalID))
}

// FindByScope retrieves the live unit holding a (level, parent, normalized
// name) scope: the race-loser fallback after a Create conflict.
func (s *Postgres) FindByScope(ctx context.Context, parentID *id.CanonicalID, level int, normalized string) (*models.CanonicalUnit, error) {
	query := selectUnits + ` WHERE level = $1 AND parent_key = $2 AND normalized_name = $3 AND NOT retired` + lockClause(ctx)
	return s.queryOne(ctx, query, level, parentKey(parentID), normalized)
}

// ListActive returns live units at a level, optionally under one parent.
func (s *Postgres) ListActive(ctx context.Context, parentID *id.CanonicalID, level int) ([]*models.CanonicalUnit, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if parentID != nil {
		rows, err = s.execer(ctx).QueryContext(ctx, selectUnits+` WHERE level = $1 AND parent_key = $2 AND NOT retired`, level, parentKey(parentID))
	} else {
		rows, err = s.execer(ctx).QueryContext(ctx, selectUnits+` WHERE level = $1 AND NOT retired`, level)
	}
	if err != nil {
		return nil, fmt.Errorf("list canonical units: %w", err)
	}
	defer rows.Close()

	var out []*models.CanonicalUnit
	for rows.Next() {
		unit, err := scanUnit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, unit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate canonical units: %w", err)
	}
	if err := s.loadRefs(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

const selectUnits = `
	SELECT id, level, parent_id, primary_name, normalized_name, alternate_names, verification, retired, merged_into, created_at, updated_at
	FROM canonical_units
`

func (s *Postgres) queryOne(ctx context.Context, query string, args ...any) (*models.CanonicalUnit, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("find canonical unit: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("find canonical unit: %w", err)
		}
		return nil, sentinel.ErrNotFound
	}
	unit, err := scanUnit(rows)
	if err != nil {
		return nil, err
	}
	if err := s.loadRefs(ctx, []*models.CanonicalUnit{unit}); err != nil {
		return nil, err
	}
	return unit, nil
}

func scanUnit(rows *sql.Rows) (*models.CanonicalUnit, error) {
	var (
		unitID     uuid.UUID
		level      int
		parentID   uuid.NullUUID
		primary    string
		normalized string
		alternates []byte
		verif      string
		retired    bool
		mergedInto uuid.NullUUID
		createdAt  time.Time
		updatedAt  time.Time
	)
	if err := rows.Scan(&unitID, &level, &parentID, &primary, &normalized, &alternates, &verif, &retired, &mergedInto, &createdAt, &updatedAt); err != nil {
		return nil, fmt.Errorf("scan canonical unit: %w", err)
	}
	unit := &models.CanonicalUnit{
		ID:             id.CanonicalID(unitID),
		Level:          level,
		PrimaryName:    primary,
		NormalizedName: normalized,
		Verification:   models.VerificationState(verif),
		Retired:        retired,
		CreatedAt:      createdAt,
		UpdatedAt:      updatedAt,
	}
	if parentID.Valid {
		parent := id.CanonicalID(parentID.UUID)
		unit.ParentID = &parent
	}
	if mergedInto.Valid {
		merged := id.CanonicalID(mergedInto.UUID)
		unit.MergedInto = &merged
	}
	if len(alternates) > 0 {
		if err := json.Unmarshal(alternates, &unit.AlternateNames); err != nil {
			return nil, fmt.Errorf("decode alternate names: %w", err)
		}
	}
	return unit, nil
}

func (s *Postgres) loadRefs(ctx context.Context, units []*models.CanonicalUnit) error {
	if len(units) == 0 {
		return nil
	}
	byID := make(map[id.CanonicalID]*models.CanonicalUnit, len(units))
	ids := make([]uuid.UUID, 0, len(units))
	for _, unit := range units {
		byID[unit.ID] = unit
		ids = append(ids, uuid.UUID(unit.ID))
	}
	query := `SELECT canonical_id, tenant_id FROM canonical_tenant_refs WHERE canonical_id = ANY($1)`
	rows, err := s.execer(ctx).QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("load canonical tenant refs: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var canonicalID, tenantID uuid.UUID
		if err := rows.Scan(&canonicalID, &tenantID); err != nil {
			return fmt.Errorf("scan canonical tenant ref: %w", err)
		}
		if unit, ok := byID[id.CanonicalID(canonicalID)]; ok {
			unit.AddTenantRef(id.TenantID(tenantID))
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate canonical tenant refs: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == pqUniqueViolation
	}
	return false
}
