//go:build integration

package postgres_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	id "geosync/pkg/domain"
	"geosync/pkg/platform/ledger"
	"geosync/pkg/platform/ledger/store/postgres"
	"geosync/pkg/platform/tx"
	"geosync/pkg/testutil/containers"
)

type LedgerStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *postgres.Store
	tenant   id.TenantID
}

func TestLedgerStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(LedgerStoreSuite))
}

func (s *LedgerStoreSuite) SetupSuite() {
	s.postgres = containers.NewPostgresContainer(s.T())
	s.Require().NoError(s.postgres.ApplySchema(context.Background(), postgres.Schema))
	s.store = postgres.New(s.postgres.DB)
	s.tenant = id.NewTenantID()
}

func (s *LedgerStoreSuite) SetupTest() {
	err := s.postgres.TruncateTables(context.Background(), "sync_ledger")
	s.Require().NoError(err)
}

func (s *LedgerStoreSuite) newEntry(unitID id.UnitID, at time.Time, payload ledger.Payload) ledger.Entry {
	return ledger.Entry{
		ID:        id.NewEntryID(),
		Timestamp: at,
		TenantID:  s.tenant,
		UnitID:    unitID,
		Payload:   payload,
	}
}

func (s *LedgerStoreSuite) TestAppendAndListByUnit() {
	ctx := context.Background()
	unitID := id.NewUnitID()
	canonicalID := id.NewCanonicalID()
	base := time.Now().UTC().Truncate(time.Millisecond)

	created := s.newEntry(unitID, base, ledger.UnitCreated{
		CanonicalID:    canonicalID,
		Level:          1,
		PrimaryName:    "Kathmandu",
		NormalizedName: "kathmandu",
	})
	matched := s.newEntry(unitID, base.Add(time.Second), ledger.UnitMatched{
		CanonicalID: canonicalID,
		Score:       8.0 / 9.0,
		NameAdded:   "Katmandu",
	})
	matched.Candidates = []ledger.Candidate{{CanonicalID: canonicalID, Name: "Kathmandu", Score: 8.0 / 9.0}}
	other := s.newEntry(id.NewUnitID(), base, ledger.UnitCreated{
		CanonicalID:    id.NewCanonicalID(),
		PrimaryName:    "Pokhara",
		NormalizedName: "pokhara",
	})

	for _, entry := range []ledger.Entry{matched, created, other} {
		s.Require().NoError(s.store.Append(ctx, entry))
	}

	entries, err := s.store.ListByUnit(ctx, unitID)
	s.Require().NoError(err)
	s.Require().Len(entries, 2)

	s.Equal(created.ID, entries[0].ID)
	s.Equal(ledger.KindUnitCreated, entries[0].Kind())
	s.Equal(created.Payload, entries[0].Payload)
	s.True(base.Equal(entries[0].Timestamp))

	s.Equal(matched.ID, entries[1].ID)
	s.Equal(s.tenant, entries[1].TenantID)
	s.Equal(matched.Candidates, entries[1].Candidates)
	payload, ok := entries[1].Payload.(ledger.UnitMatched)
	s.Require().True(ok)
	s.Equal("Katmandu", payload.NameAdded)
	s.InDelta(8.0/9.0, payload.Score, 1e-9)
}

func (s *LedgerStoreSuite) TestListFromHonorsCutoff() {
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Millisecond)

	old := s.newEntry(id.NewUnitID(), base.Add(-time.Hour), ledger.UnitCreated{CanonicalID: id.NewCanonicalID(), PrimaryName: "Old", NormalizedName: "old"})
	recent := s.newEntry(id.NewUnitID(), base, ledger.UnitCreated{CanonicalID: id.NewCanonicalID(), PrimaryName: "Recent", NormalizedName: "recent"})
	s.Require().NoError(s.store.Append(ctx, old))
	s.Require().NoError(s.store.Append(ctx, recent))

	entries, err := s.store.ListFrom(ctx, base.Add(-time.Minute))
	s.Require().NoError(err)
	s.Require().Len(entries, 1)
	s.Equal(recent.ID, entries[0].ID)

	entries, err = s.store.ListFrom(ctx, base.Add(-2*time.Hour))
	s.Require().NoError(err)
	s.Len(entries, 2)
}

// TestDuplicateEntryFails pins the append-only contract: entry IDs are
// generated once, so a second insert with the same ID must surface, not
// upsert.
func (s *LedgerStoreSuite) TestDuplicateEntryFails() {
	ctx := context.Background()
	entry := s.newEntry(id.NewUnitID(), time.Now().UTC(), ledger.ConflictOpened{CaseID: id.NewCaseID()})
	s.Require().NoError(s.store.Append(ctx, entry))
	s.Error(s.store.Append(ctx, entry))
}

func (s *LedgerStoreSuite) TestOutboxLifecycle() {
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Millisecond)

	var entries []ledger.Entry
	for i := 0; i < 3; i++ {
		entry := s.newEntry(id.NewUnitID(), base.Add(time.Duration(i)*time.Second),
			ledger.UnitCreated{CanonicalID: id.NewCanonicalID(), PrimaryName: "Unit", NormalizedName: "unit"})
		s.Require().NoError(s.store.Append(ctx, entry))
		entries = append(entries, entry)
	}

	pending, err := s.store.ListUnpublished(ctx, 10)
	s.Require().NoError(err)
	s.Require().Len(pending, 3)
	s.Equal(entries[0].ID, pending[0].ID, "oldest first")

	limited, err := s.store.ListUnpublished(ctx, 2)
	s.Require().NoError(err)
	s.Len(limited, 2)

	err = s.store.MarkPublished(ctx, []id.EntryID{entries[0].ID, entries[1].ID}, time.Now().UTC())
	s.Require().NoError(err)

	pending, err = s.store.ListUnpublished(ctx, 10)
	s.Require().NoError(err)
	s.Require().Len(pending, 1)
	s.Equal(entries[2].ID, pending[0].ID)

	s.NoError(s.store.MarkPublished(ctx, nil, time.Now().UTC()))

	// Publishing is bookkeeping: history itself is untouched.
	all, err := s.store.ListFrom(ctx, base.Add(-time.Minute))
	s.Require().NoError(err)
	s.Len(all, 3)
}

// TestAppendJoinsTransaction verifies an append inside a rolled-back
// transaction leaves no row behind, the property ingest relies on to keep
// ledger and registry in step.
func (s *LedgerStoreSuite) TestAppendJoinsTransaction() {
	ctx := context.Background()
	unitID := id.NewUnitID()

	sqlTx, err := s.postgres.DB.BeginTx(ctx, nil)
	s.Require().NoError(err)
	txCtx := tx.WithTx(ctx, sqlTx)

	entry := s.newEntry(unitID, time.Now().UTC(), ledger.UnitCreated{CanonicalID: id.NewCanonicalID(), PrimaryName: "Doomed", NormalizedName: "doomed"})
	s.Require().NoError(s.store.Append(txCtx, entry))
	s.Require().NoError(sqlTx.Rollback())

	entries, err := s.store.ListByUnit(ctx, unitID)
	s.Require().NoError(err)
	s.Empty(entries)

	sqlTx, err = s.postgres.DB.BeginTx(ctx, nil)
	s.Require().NoError(err)
	s.Require().NoError(s.store.Append(tx.WithTx(ctx, sqlTx), entry))
	s.Require().NoError(sqlTx.Commit())

	entries, err = s.store.ListByUnit(ctx, unitID)
	s.Require().NoError(err)
	s.Len(entries, 1)
}
