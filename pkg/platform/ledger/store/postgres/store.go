// Package postgres persists ledger entries with the transactional outbox
// pattern. Appends join the caller's transaction when one is carried in
// context, so a ledger write and the registry mutation it describes either
// both commit or both roll back. The relay publishes committed rows to Kafka
// and marks them published; the table itself stays append-only.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	id "geosync/pkg/domain"
	"geosync/pkg/platform/ledger"
	txcontext "geosync/pkg/platform/tx"
)

// Schema creates the ledger table. Exposed for integration test setup.
const Schema = `
CREATE TABLE IF NOT EXISTS sync_ledger (
	id UUID PRIMARY KEY,
	occurred_at TIMESTAMPTZ NOT NULL,
	tenant_id UUID NOT NULL,
	unit_id UUID NOT NULL,
	kind TEXT NOT NULL,
	candidates JSONB NOT NULL DEFAULT '[]',
	payload JSONB NOT NULL,
	published_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_sync_ledger_occurred ON sync_ledger (occurred_at);
CREATE INDEX IF NOT EXISTS idx_sync_ledger_unit ON sync_ledger (unit_id, occurred_at);
CREATE INDEX IF NOT EXISTS idx_sync_ledger_unpublished ON sync_ledger (occurred_at) WHERE published_at IS NULL;
`

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *Store) execer(ctx context.Context) querier {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

// Append inserts one immutable entry. No ON CONFLICT clause: entry IDs are
// generated once and a duplicate insert is a bug worth surfacing.
func (s *Store) Append(ctx context.Context, entry ledger.Entry) error {
	if entry.Payload == nil {
		return fmt.Errorf("append ledger entry: payload is required")
	}
	payload, err := json.Marshal(entry.Payload)
	if err != nil {
		return fmt.Errorf("append ledger entry: marshal payload: %w", err)
	}
	candidates, err := json.Marshal(entry.Candidates)
	if err != nil {
		return fmt.Errorf("append ledger entry: marshal candidates: %w", err)
	}
	query := `
		INSERT INTO sync_ledger (id, occurred_at, tenant_id, unit_id, kind, candidates, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = s.execer(ctx).ExecContext(ctx, query,
		uuid.UUID(entry.ID),
		entry.Timestamp,
		uuid.UUID(entry.TenantID),
		uuid.UUID(entry.UnitID),
		string(entry.Payload.Kind()),
		candidates,
		payload,
	)
	if err != nil {
		return fmt.Errorf("append ledger entry: %w", err)
	}
	return nil
}

// ListFrom returns entries with occurred_at >= since, oldest first. The
// (occurred_at, id) ordering keeps replay deterministic when timestamps tie.
func (s *Store) ListFrom(ctx context.Context, since time.Time) ([]ledger.Entry, error) {
	query := `
		SELECT id, occurred_at, tenant_id, unit_id, kind, candidates, payload
		FROM sync_ledger
		WHERE occurred_at >= $1
		ORDER BY occurred_at, id
	`
	rows, err := s.execer(ctx).QueryContext(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// ListByUnit returns all entries for one tenant unit, oldest first.
func (s *Store) ListByUnit(ctx context.Context, unitID id.UnitID) ([]ledger.Entry, error) {
	query := `
		SELECT id, occurred_at, tenant_id, unit_id, kind, candidates, payload
		FROM sync_ledger
		WHERE unit_id = $1
		ORDER BY occurred_at, id
	`
	rows, err := s.execer(ctx).QueryContext(ctx, query, uuid.UUID(unitID))
	if err != nil {
		return nil, fmt.Errorf("list ledger entries by unit: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// ListUnpublished returns up to limit committed entries the relay has not yet
// published, oldest first.
func (s *Store) ListUnpublished(ctx context.Context, limit int) ([]ledger.Entry, error) {
	query := `
		SELECT id, occurred_at, tenant_id, unit_id, kind, candidates, payload
		FROM sync_ledger
		WHERE published_at IS NULL
		ORDER BY occurred_at, id
		LIMIT $1
	`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list unpublished ledger entries: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// MarkPublished stamps entries after a successful Kafka produce. This is
// relay bookkeeping, not a mutation of history.
func (s *Store) MarkPublished(ctx context.Context, ids []id.EntryID, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	raw := make([]uuid.UUID, len(ids))
	for i, entryID := range ids {
		raw[i] = uuid.UUID(entryID)
	}
	query := `UPDATE sync_ledger SET published_at = $1 WHERE id = ANY($2)`
	if _, err := s.db.ExecContext(ctx, query, at, pq.Array(raw)); err != nil {
		return fmt.Errorf("mark ledger entries published: %w", err)
	}
	return nil
}

func scanEntries(rows *sql.Rows) ([]ledger.Entry, error) {
	var out []ledger.Entry
	for rows.Next() {
		var (
			entryID    uuid.UUID
			occurredAt time.Time
			tenantID   uuid.UUID
			unitID     uuid.UUID
			kind       string
			candidates []byte
			payload    []byte
		)
		if err := rows.Scan(&entryID, &occurredAt, &tenantID, &unitID, &kind, &candidates, &payload); err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		entry, err := decodeEntry(entryID, occurredAt, tenantID, unitID, kind, candidates, payload)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ledger entries: %w", err)
	}
	return out, nil
}

func decodeEntry(entryID uuid.UUID, occurredAt time.Time, tenantID, unitID uuid.UUID, kind string, candidatesRaw, payloadRaw []byte) (ledger.Entry, error) {
	var candidates []ledger.Candidate
	if len(candidatesRaw) > 0 {
		if err := json.Unmarshal(candidatesRaw, &candidates); err != nil {
			return ledger.Entry{}, fmt.Errorf("decode ledger candidates: %w", err)
		}
	}
	payload, err := ledger.DecodePayload(ledger.Kind(kind), payloadRaw)
	if err != nil {
		return ledger.Entry{}, err
	}
	return ledger.Entry{
		ID:         id.EntryID(entryID),
		Timestamp:  occurredAt,
		TenantID:   id.TenantID(tenantID),
		UnitID:     id.UnitID(unitID),
		Candidates: candidates,
		Payload:    payload,
	}, nil
}
