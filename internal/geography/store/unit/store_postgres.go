package unit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"geosync/internal/geography/models"
	id "geosync/pkg/domain"
	"geosync/pkg/platform/sentinel"
	"geosync/pkg/platform/tx"
)

// Schema is the tenant unit DDL. parent_key denormalizes the nullable parent
// into a non-null column so the duplicate lookup index can cover root units.
const Schema = `
CREATE TABLE IF NOT EXISTS tenant_geo_units (
    id              UUID PRIMARY KEY,
    tenant_id       UUID NOT NULL,
    level           INT NOT NULL,
    parent_id       UUID,
    parent_key      UUID NOT NULL DEFAULT '00000000-0000-0000-0000-000000000000',
    names           JSONB NOT NULL,
    declared_name   TEXT NOT NULL,
    government_code TEXT NOT NULL DEFAULT '',
    canonical_id    UUID,
    sync_state      TEXT NOT NULL,
    retired         BOOLEAN NOT NULL DEFAULT FALSE,
    created_at      TIMESTAMPTZ NOT NULL,
    updated_at      TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS ix_tenant_units_dup
    ON tenant_geo_units (tenant_id, level, parent_key, declared_name)
    WHERE NOT retired;

CREATE INDEX IF NOT EXISTS ix_tenant_units_canonical
    ON tenant_geo_units (canonical_id)
    WHERE canonical_id IS NOT NULL;
`

const unitColumns = `id, tenant_id, level, parent_id, names, declared_name, government_code, canonical_id, sync_state, retired, created_at, updated_at`

// Postgres persists tenant units. Writes honor a transaction carried in the
// context so ingest can commit unit, canonical, and ledger rows atomically.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (p *Postgres) execer(ctx context.Context) execer {
	if t, ok := tx.From(ctx); ok {
		return t
	}
	return p.db
}

func (p *Postgres) Create(ctx context.Context, unit *models.TenantGeoUnit) error {
	names, err := json.Marshal(unit.Names)
	if err != nil {
		return fmt.Errorf("marshal names: %w", err)
	}
	_, err = p.execer(ctx).ExecContext(ctx, `
		INSERT INTO tenant_geo_units (`+unitColumns+`, parent_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, COALESCE($4, '00000000-0000-0000-0000-000000000000'))`,
		uuid.UUID(unit.ID), uuid.UUID(unit.TenantID), unit.Level, parentValue(unit.ParentID),
		names, unit.DeclaredName(), unit.GovernmentCode, canonicalValue(unit.CanonicalID),
		string(unit.SyncState), unit.Retired, unit.CreatedAt, unit.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert tenant unit: %w", err)
	}
	return nil
}

func (p *Postgres) Update(ctx context.Context, unit *models.TenantGeoUnit) error {
	names, err := json.Marshal(unit.Names)
	if err != nil {
		return fmt.Errorf("marshal names: %w", err)
	}
	res, err := p.execer(ctx).ExecContext(ctx, `
		UPDATE tenant_geo_units
		SET names = $2, declared_name = $3, government_code = $4, canonical_id = $5,
		    sync_state = $6, retired = $7, updated_at = $8
		WHERE id = $1`,
		uuid.UUID(unit.ID), names, unit.DeclaredName(), unit.GovernmentCode,
		canonicalValue(unit.CanonicalID), string(unit.SyncState), unit.Retired, unit.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update tenant unit: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (p *Postgres) FindByID(ctx context.Context, tenantID id.TenantID, unitID id.UnitID) (*models.TenantGeoUnit, error) {
	row := p.execer(ctx).QueryRowContext(ctx, `
		SELECT `+unitColumns+` FROM tenant_geo_units
		WHERE id = $1 AND tenant_id = $2`,
		uuid.UUID(unitID), uuid.UUID(tenantID))
	return scanUnit(row)
}

func (p *Postgres) FindDuplicate(ctx context.Context, tenantID id.TenantID, level int, parentID *id.UnitID, declaredName string) (*models.TenantGeoUnit, error) {
	row := p.execer(ctx).QueryRowContext(ctx, `
		SELECT `+unitColumns+` FROM tenant_geo_units
		WHERE tenant_id = $1 AND level = $2
		  AND parent_key = COALESCE($3, '00000000-0000-0000-0000-000000000000')
		  AND declared_name = $4 AND NOT retired
		ORDER BY created_at
		LIMIT 1`,
		uuid.UUID(tenantID), level, parentValue(parentID), declaredName)
	return scanUnit(row)
}

func (p *Postgres) ListByTenant(ctx context.Context, tenantID id.TenantID) ([]*models.TenantGeoUnit, error) {
	rows, err := p.execer(ctx).QueryContext(ctx, `
		SELECT `+unitColumns+` FROM tenant_geo_units
		WHERE tenant_id = $1 AND NOT retired
		ORDER BY level, id`,
		uuid.UUID(tenantID))
	if err != nil {
		return nil, fmt.Errorf("list tenant units: %w", err)
	}
	defer rows.Close()

	var out []*models.TenantGeoUnit
	for rows.Next() {
		unit, err := scanUnit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, unit)
	}
	return out, rows.Err()
}

func (p *Postgres) RelinkCanonical(ctx context.Context, from, to id.CanonicalID) (int, error) {
	res, err := p.execer(ctx).ExecContext(ctx, `
		UPDATE tenant_geo_units SET canonical_id = $2, updated_at = NOW()
		WHERE canonical_id = $1`,
		uuid.UUID(from), uuid.UUID(to))
	if err != nil {
		return 0, fmt.Errorf("relink tenant units: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUnit(row rowScanner) (*models.TenantGeoUnit, error) {
	var (
		unit      models.TenantGeoUnit
		unitID    uuid.UUID
		tenantID  uuid.UUID
		parent    uuid.NullUUID
		canonical uuid.NullUUID
		names     []byte
		declared  string
		state     string
	)
	err := row.Scan(&unitID, &tenantID, &unit.Level, &parent, &names, &declared,
		&unit.GovernmentCode, &canonical, &state, &unit.Retired, &unit.CreatedAt, &unit.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan tenant unit: %w", err)
	}
	unit.ID = id.UnitID(unitID)
	unit.TenantID = id.TenantID(tenantID)
	unit.SyncState = models.SyncState(state)
	if parent.Valid {
		pid := id.UnitID(parent.UUID)
		unit.ParentID = &pid
	}
	if canonical.Valid {
		cid := id.CanonicalID(canonical.UUID)
		unit.CanonicalID = &cid
	}
	if err := json.Unmarshal(names, &unit.Names); err != nil {
		return nil, fmt.Errorf("decode names: %w", err)
	}
	return &unit, nil
}

func parentValue(parentID *id.UnitID) any {
	if parentID == nil {
		return nil
	}
	return uuid.UUID(*parentID)
}

func canonicalValue(canonicalID *id.CanonicalID) any {
	if canonicalID == nil {
		return nil
	}
	return uuid.UUID(*canonicalID)
}
