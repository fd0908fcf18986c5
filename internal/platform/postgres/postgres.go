// Package postgres opens the database and provides the shared transaction
// runner the sync path uses to commit unit, canonical, case, and ledger
// writes atomically.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	canonicalstore "geosync/internal/canonical/store"
	conflictstore "geosync/internal/conflict/store"
	unitstore "geosync/internal/geography/store/unit"
	dErrors "geosync/pkg/domain-errors"
	ledgerpg "geosync/pkg/platform/ledger/store/postgres"
	"geosync/pkg/platform/tx"
)

// Open connects and verifies the database.
func Open(url string) (*sql.DB, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres ping failed: %w", err)
	}
	return db, nil
}

// InitSchema applies every module's DDL. All statements are idempotent.
func InitSchema(ctx context.Context, db *sql.DB) error {
	for _, schema := range []string{
		unitstore.Schema,
		canonicalstore.Schema,
		conflictstore.Schema,
		ledgerpg.Schema,
	} {
		if _, err := db.ExecContext(ctx, schema); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

const defaultTxTimeout = 5 * time.Second

// TxRunner runs a function inside one database transaction, carried in the
// context so every store touched inside joins it.
type TxRunner struct {
	db      *sql.DB
	timeout time.Duration
}

func NewTxRunner(db *sql.DB) *TxRunner {
	return &TxRunner{db: db}
}

func (t *TxRunner) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	timeout := t.timeout
	if timeout == 0 {
		timeout = defaultTxTimeout
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	dbTx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = dbTx.Rollback()
	}()

	if err := fn(tx.WithTx(ctx, dbTx)); err != nil {
		return err
	}
	return dbTx.Commit()
}
