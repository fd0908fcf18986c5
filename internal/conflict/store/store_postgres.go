package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"geosync/internal/conflict/models"
	id "geosync/pkg/domain"
	"geosync/pkg/platform/sentinel"
	txcontext "geosync/pkg/platform/tx"
)

// Schema is the conflict case DDL. Candidates and the resolution are stored
// as JSONB: they are written once and only ever read back whole.
const Schema = `
CREATE TABLE IF NOT EXISTS conflict_cases (
    id            UUID PRIMARY KEY,
    unit_id       UUID NOT NULL,
    tenant_id     UUID NOT NULL,
    declared_name TEXT NOT NULL,
    level         INT NOT NULL,
    candidates    JSONB NOT NULL,
    status        TEXT NOT NULL,
    resolution    JSONB,
    opened_at     TIMESTAMPTZ NOT NULL,
    resolved_at   TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS ix_conflict_cases_open
    ON conflict_cases (opened_at)
    WHERE status = 'open';
`

const caseColumns = `id, unit_id, tenant_id, declared_name, level, candidates, status, resolution, opened_at, resolved_at`

// Postgres persists conflict cases, honoring a transaction carried in the
// context.
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

func (p *Postgres) execer(ctx context.Context) querier {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return p.db
}

func (p *Postgres) Create(ctx context.Context, c *models.ConflictCase) error {
	candidates, resolution, err := encodeCase(c)
	if err != nil {
		return err
	}
	_, err = p.execer(ctx).ExecContext(ctx, `
		INSERT INTO conflict_cases (`+caseColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		uuid.UUID(c.ID), uuid.UUID(c.UnitID), uuid.UUID(c.TenantID), c.DeclaredName,
		c.Level, candidates, string(c.Status), resolution, c.OpenedAt, c.ResolvedAt)
	if err != nil {
		return fmt.Errorf("insert conflict case: %w", err)
	}
	return nil
}

func (p *Postgres) Update(ctx context.Context, c *models.ConflictCase) error {
	candidates, resolution, err := encodeCase(c)
	if err != nil {
		return err
	}
	res, err := p.execer(ctx).ExecContext(ctx, `
		UPDATE conflict_cases
		SET candidates = $2, status = $3, resolution = $4, resolved_at = $5
		WHERE id = $1`,
		uuid.UUID(c.ID), candidates, string(c.Status), resolution, c.ResolvedAt)
	if err != nil {
		return fmt.Errorf("update conflict case: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (p *Postgres) FindByID(ctx context.Context, caseID id.CaseID) (*models.ConflictCase, error) {
	row := p.execer(ctx).QueryRowContext(ctx, `
		SELECT `+caseColumns+` FROM conflict_cases WHERE id = $1`,
		uuid.UUID(caseID))
	return scanCase(row)
}

func (p *Postgres) ListOpen(ctx context.Context) ([]*models.ConflictCase, error) {
	rows, err := p.execer(ctx).QueryContext(ctx, `
		SELECT `+caseColumns+` FROM conflict_cases
		WHERE status = 'open'
		ORDER BY opened_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list open cases: %w", err)
	}
	defer rows.Close()

	var out []*models.ConflictCase
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func encodeCase(c *models.ConflictCase) (candidates []byte, resolution any, err error) {
	candidates, err = json.Marshal(c.Candidates)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal candidates: %w", err)
	}
	if c.Resolution != nil {
		raw, err := json.Marshal(c.Resolution)
		if err != nil {
			return nil, nil, fmt.Errorf("marshal resolution: %w", err)
		}
		resolution = raw
	}
	return candidates, resolution, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCase(row rowScanner) (*models.ConflictCase, error) {
	var (
		c          models.ConflictCase
		caseID     uuid.UUID
		unitID     uuid.UUID
		tenantID   uuid.UUID
		candidates []byte
		resolution []byte
		status     string
	)
	err := row.Scan(&caseID, &unitID, &tenantID, &c.DeclaredName, &c.Level,
		&candidates, &status, &resolution, &c.OpenedAt, &c.ResolvedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan conflict case: %w", err)
	}
	c.ID = id.CaseID(caseID)
	c.UnitID = id.UnitID(unitID)
	c.TenantID = id.TenantID(tenantID)
	c.Status = models.Status(status)
	if err := json.Unmarshal(candidates, &c.Candidates); err != nil {
		return nil, fmt.Errorf("decode candidates: %w", err)
	}
	if len(resolution) > 0 {
		c.Resolution = &models.Resolution{}
		if err := json.Unmarshal(resolution, c.Resolution); err != nil {
			return nil, fmt.Errorf("decode resolution: %w", err)
		}
	}
	return &c, nil
}
