package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"geosync/internal/canonical/matcher"
	"geosync/internal/canonical/registry"
	canonicalstore "geosync/internal/canonical/store"
	conflictmodels "geosync/internal/conflict/models"
	conflictservice "geosync/internal/conflict/service"
	conflictstore "geosync/internal/conflict/store"
	"geosync/internal/geography/models"
	unitstore "geosync/internal/geography/store/unit"
	id "geosync/pkg/domain"
	dErrors "geosync/pkg/domain-errors"
	"geosync/pkg/platform/ledger"
	"geosync/pkg/platform/ledger/publisher"
	ledgermem "geosync/pkg/platform/ledger/store/memory"
	"geosync/pkg/requestcontext"
)

// IngestSuite wires the full memory-backed pipeline: unit store, matcher,
// registry, conflict service, and ledger, exactly as the dev-mode server does.
type IngestSuite struct {
	suite.Suite
	units      *unitstore.Memory
	canonicals *canonicalstore.Memory
	cases      *conflictstore.Memory
	ledger     *ledgermem.Store
	conflicts  *conflictservice.Service
	service    *Service
}

func TestIngestSuite(t *testing.T) {
	suite.Run(t, new(IngestSuite))
}

func (s *IngestSuite) SetupTest() {
	s.units = unitstore.NewMemory()
	s.canonicals = canonicalstore.NewMemory()
	s.cases = conflictstore.NewMemory()
	s.ledger = ledgermem.New()

	reg := registry.New(s.canonicals, registry.WithRelinker(s.units))
	match := matcher.New(s.canonicals, matcher.DefaultConfig())
	pub := publisher.New(s.ledger)
	s.conflicts = conflictservice.New(s.cases, s.units, reg, pub, NopTxRunner())

	s.service = New(s.units, match, reg, s.conflicts, pub, NopTxRunner())
}

func (s *IngestSuite) tenantCtx(tenantID id.TenantID) context.Context {
	ctx := requestcontext.WithTenantID(context.Background(), tenantID)
	return requestcontext.WithTime(ctx, time.Now())
}

func (s *IngestSuite) ingest(ctx context.Context, level int, parentID *id.UnitID, name string) *IngestResult {
	result, err := s.service.Ingest(ctx, models.IngestRequest{
		Level:        level,
		ParentUnitID: parentID,
		Names:        map[string]string{"en": name},
	})
	s.Require().NoError(err)
	return result
}

func (s *IngestSuite) TestFirstSightingCreates() {
	ctx := s.tenantCtx(id.NewTenantID())

	result := s.ingest(ctx, 0, nil, "Nepal")

	s.Equal(OutcomeCreated, result.Outcome)
	s.Require().NotNil(result.Canonical)
	s.Equal("Nepal", result.Canonical.PrimaryName)
	s.Equal(models.SyncStateSynced, result.Unit.SyncState)
	s.Require().True(result.Unit.IsLinked())
	s.Equal(result.Canonical.ID, *result.Unit.CanonicalID)

	entries, err := s.ledger.ListByUnit(context.Background(), result.Unit.ID)
	s.Require().NoError(err)
	s.Require().Len(entries, 1)
	s.Equal(ledger.KindUnitCreated, entries[0].Kind())
	s.Empty(entries[0].Candidates)
}

func (s *IngestSuite) TestCloseSpellingMatches() {
	first := s.ingest(s.tenantCtx(id.NewTenantID()), 0, nil, "Kathmandu")

	tenantB := id.NewTenantID()
	second := s.ingest(s.tenantCtx(tenantB), 0, nil, "Katmandu")

	s.Equal(OutcomeMatched, second.Outcome)
	s.Require().NotNil(second.Canonical)
	s.Equal(first.Canonical.ID, second.Canonical.ID)
	s.Contains(second.Canonical.AlternateNames, "Katmandu")
	s.Equal(2, second.Canonical.TenantRefCount())
	s.Equal(models.SyncStateSynced, second.Unit.SyncState)

	entries, err := s.ledger.ListByUnit(context.Background(), second.Unit.ID)
	s.Require().NoError(err)
	s.Require().Len(entries, 1)
	s.Equal(ledger.KindUnitMatched, entries[0].Kind())

	matched, ok := entries[0].Payload.(ledger.UnitMatched)
	s.Require().True(ok)
	s.Equal(first.Canonical.ID, matched.CanonicalID)
	s.Equal("Katmandu", matched.NameAdded)
	s.InDelta(8.0/9.0, matched.Score, 1e-9)
	s.Require().Len(entries[0].Candidates, 1)
}

func (s *IngestSuite) TestAmbiguityOpensConflict() {
	tenantA := id.NewTenantID()
	ctxA := s.tenantCtx(tenantA)
	countryA := s.ingest(ctxA, 0, nil, "Nepal")
	s.ingest(ctxA, 1, &countryA.Unit.ID, "New Road")
	s.ingest(ctxA, 1, &countryA.Unit.ID, "Naya Sadak")

	tenantB := id.NewTenantID()
	ctxB := s.tenantCtx(tenantB)
	countryB := s.ingest(ctxB, 0, nil, "Nepal")
	s.Equal(OutcomeMatched, countryB.Outcome)

	result := s.ingest(ctxB, 1, &countryB.Unit.ID, "Naya Road")

	s.Equal(OutcomeConflict, result.Outcome)
	s.False(result.CaseID.IsNil())
	s.Equal(models.SyncStateConflictOpen, result.Unit.SyncState)
	s.False(result.Unit.IsLinked())

	c, err := s.cases.FindByID(context.Background(), result.CaseID)
	s.Require().NoError(err)
	s.Equal("Naya Road", c.DeclaredName)
	s.Len(c.Candidates, 2)

	entries, err := s.ledger.ListByUnit(context.Background(), result.Unit.ID)
	s.Require().NoError(err)
	s.Require().Len(entries, 1)
	s.Equal(ledger.KindConflictOpened, entries[0].Kind())
	s.Len(entries[0].Candidates, 2)
}

func (s *IngestSuite) TestResubmissionIsDuplicate() {
	ctx := s.tenantCtx(id.NewTenantID())

	first := s.ingest(ctx, 0, nil, "Nepal")
	before := s.ledger.Len()

	second := s.ingest(ctx, 0, nil, "Nepal")

	s.Equal(OutcomeDuplicate, second.Outcome)
	s.Equal(first.Unit.ID, second.Unit.ID)
	s.Equal(before, s.ledger.Len())
}

func (s *IngestSuite) TestRejectedUnitReentersOnResubmit() {
	ctxA := s.tenantCtx(id.NewTenantID())
	countryA := s.ingest(ctxA, 0, nil, "Nepal")
	s.ingest(ctxA, 1, &countryA.Unit.ID, "New Road")
	s.ingest(ctxA, 1, &countryA.Unit.ID, "Naya Sadak")

	ctxB := s.tenantCtx(id.NewTenantID())
	countryB := s.ingest(ctxB, 0, nil, "Nepal")
	first := s.ingest(ctxB, 1, &countryB.Unit.ID, "Naya Road")
	s.Require().Equal(OutcomeConflict, first.Outcome)

	_, err := s.conflicts.Resolve(ctxB, first.CaseID, conflictmodels.Resolution{
		Action: conflictmodels.ActionReject, ResolvedBy: "ops",
	})
	s.Require().NoError(err)

	rejected, err := s.units.FindByID(context.Background(), first.Unit.TenantID, first.Unit.ID)
	s.Require().NoError(err)
	s.Require().Equal(models.SyncStateRejected, rejected.SyncState)

	second, err := s.service.Ingest(ctxB, models.IngestRequest{
		Level:        1,
		ParentUnitID: &countryB.Unit.ID,
		Names:        map[string]string{"en": "Naya Road", "ne": "नयाँ रोड"},
	})
	s.Require().NoError(err)

	s.Equal(OutcomeConflict, second.Outcome)
	s.Equal(first.Unit.ID, second.Unit.ID)
	s.NotEqual(first.CaseID, second.CaseID)
	s.Equal(models.SyncStateConflictOpen, second.Unit.SyncState)
	s.Equal("नयाँ रोड", second.Unit.Names["ne"])
}

func (s *IngestSuite) TestPendingSyncUnitReentersOnResubmit() {
	tenantID := id.NewTenantID()
	ctx := s.tenantCtx(tenantID)
	now := time.Now()

	parked, err := models.NewTenantGeoUnit(id.NewUnitID(), tenantID, 0, nil,
		map[string]string{"en": "Dolpa"}, "", now)
	s.Require().NoError(err)
	s.Require().NoError(parked.Transition(models.SyncStatePendingSync, now))
	s.Require().NoError(s.units.Create(context.Background(), parked))

	result := s.ingest(ctx, 0, nil, "Dolpa")

	s.Equal(OutcomeCreated, result.Outcome)
	s.Equal(parked.ID, result.Unit.ID)
	s.Equal(models.SyncStateSynced, result.Unit.SyncState)
	s.Require().True(result.Unit.IsLinked())

	entries, err := s.ledger.ListByUnit(context.Background(), parked.ID)
	s.Require().NoError(err)
	s.Require().Len(entries, 1)
	s.Equal(ledger.KindUnitCreated, entries[0].Kind())
}

func (s *IngestSuite) TestSameNameAcrossTenantsSharesOneCanonical() {
	const tenants = 5
	for range tenants {
		s.ingest(s.tenantCtx(id.NewTenantID()), 0, nil, "Gorkha")
	}

	canonical, err := s.canonicals.FindByScope(context.Background(), nil, 0, "gorkha")
	s.Require().NoError(err)
	s.Equal(tenants, canonical.TenantRefCount())

	units, err := s.canonicals.ListActive(context.Background(), nil, 0)
	s.Require().NoError(err)
	s.Len(units, 1)
}

func (s *IngestSuite) TestConcurrentFirstSightings() {
	const tenants = 8
	var wg sync.WaitGroup
	errs := make(chan error, tenants)

	for range tenants {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.service.Ingest(s.tenantCtx(id.NewTenantID()), models.IngestRequest{
				Level: 0,
				Names: map[string]string{"en": "Mustang"},
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		s.Require().NoError(err)
	}

	units, err := s.canonicals.ListActive(context.Background(), nil, 0)
	s.Require().NoError(err)
	s.Require().Len(units, 1)
	s.Equal(tenants, units[0].TenantRefCount())
}

func (s *IngestSuite) TestHierarchyValidation() {
	tenantID := id.NewTenantID()
	ctx := s.tenantCtx(tenantID)
	country := s.ingest(ctx, 0, nil, "Nepal")

	s.Run("unknown parent", func() {
		ghost := id.NewUnitID()
		_, err := s.service.Ingest(ctx, models.IngestRequest{
			Level: 1, ParentUnitID: &ghost, Names: map[string]string{"en": "Bagmati"},
		})
		s.Require().Error(err)
		s.Equal(dErrors.CodeInvalidHierarchy, dErrors.CodeOf(err))
	})

	s.Run("parent not one level above", func() {
		_, err := s.service.Ingest(ctx, models.IngestRequest{
			Level: 2, ParentUnitID: &country.Unit.ID, Names: map[string]string{"en": "Kaski"},
		})
		s.Require().Error(err)
		s.Equal(dErrors.CodeInvalidHierarchy, dErrors.CodeOf(err))
	})

	s.Run("another tenant's unit is no parent", func() {
		otherCtx := s.tenantCtx(id.NewTenantID())
		_, err := s.service.Ingest(otherCtx, models.IngestRequest{
			Level: 1, ParentUnitID: &country.Unit.ID, Names: map[string]string{"en": "Bagmati"},
		})
		s.Require().Error(err)
		s.Equal(dErrors.CodeInvalidHierarchy, dErrors.CodeOf(err))
	})

	s.Run("retired parent", func() {
		_, err := s.service.Retire(ctx, country.Unit.ID)
		s.Require().NoError(err)

		_, err = s.service.Ingest(ctx, models.IngestRequest{
			Level: 1, ParentUnitID: &country.Unit.ID, Names: map[string]string{"en": "Bagmati"},
		})
		s.Require().Error(err)
		s.Equal(dErrors.CodeInvalidHierarchy, dErrors.CodeOf(err))
	})
}

func (s *IngestSuite) TestMissingTenantIsUnauthorized() {
	_, err := s.service.Ingest(context.Background(), models.IngestRequest{
		Level: 0, Names: map[string]string{"en": "Nepal"},
	})
	s.Require().Error(err)
	s.Equal(dErrors.CodeUnauthorized, dErrors.CodeOf(err))
}

func (s *IngestSuite) TestUnitQueries() {
	tenantID := id.NewTenantID()
	ctx := s.tenantCtx(tenantID)
	country := s.ingest(ctx, 0, nil, "Nepal")
	province := s.ingest(ctx, 1, &country.Unit.ID, "Bagmati")

	s.Run("get returns an owned unit", func() {
		unit, err := s.service.Get(ctx, province.Unit.ID)
		s.Require().NoError(err)
		s.Equal("Bagmati", unit.DeclaredName())
	})

	s.Run("get hides foreign units", func() {
		_, err := s.service.Get(s.tenantCtx(id.NewTenantID()), province.Unit.ID)
		s.Require().Error(err)
		s.Equal(dErrors.CodeNotFound, dErrors.CodeOf(err))
	})

	s.Run("list orders by level", func() {
		units, err := s.service.List(ctx)
		s.Require().NoError(err)
		s.Require().Len(units, 2)
		s.Equal(country.Unit.ID, units[0].ID)
	})

	s.Run("retire is idempotent", func() {
		retired, err := s.service.Retire(ctx, province.Unit.ID)
		s.Require().NoError(err)
		s.True(retired.Retired)

		again, err := s.service.Retire(ctx, province.Unit.ID)
		s.Require().NoError(err)
		s.True(again.Retired)
	})
}
