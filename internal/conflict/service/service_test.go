package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"geosync/internal/canonical/matcher"
	canonicalmodels "geosync/internal/canonical/models"
	"geosync/internal/canonical/registry"
	canonicalstore "geosync/internal/canonical/store"
	"geosync/internal/conflict/models"
	conflictstore "geosync/internal/conflict/store"
	geomodels "geosync/internal/geography/models"
	unitstore "geosync/internal/geography/store/unit"
	id "geosync/pkg/domain"
	dErrors "geosync/pkg/domain-errors"
	"geosync/pkg/platform/ledger"
	"geosync/pkg/platform/ledger/publisher"
	ledgermem "geosync/pkg/platform/ledger/store/memory"
	"geosync/pkg/requestcontext"
)

type nopTxRunner struct{}

func (nopTxRunner) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type ResolveSuite struct {
	suite.Suite
	cases      *conflictstore.Memory
	units      *unitstore.Memory
	canonicals *canonicalstore.Memory
	registry   *registry.Registry
	ledger     *ledgermem.Store
	service    *Service
	ctx        context.Context
	tenantID   id.TenantID
}

func TestResolveSuite(t *testing.T) {
	suite.Run(t, new(ResolveSuite))
}

func (s *ResolveSuite) SetupTest() {
	s.cases = conflictstore.NewMemory()
	s.units = unitstore.NewMemory()
	s.canonicals = canonicalstore.NewMemory()
	s.registry = registry.New(s.canonicals, registry.WithRelinker(s.units))
	s.ledger = ledgermem.New()
	s.service = New(s.cases, s.units, s.registry, publisher.New(s.ledger), nopTxRunner{})
	s.ctx = requestcontext.WithTime(context.Background(), time.Now())
	s.tenantID = id.NewTenantID()
}

func (s *ResolveSuite) seedCanonical(name string, level int) *canonicalmodels.CanonicalUnit {
	unit, err := canonicalmodels.NewCanonicalUnit(id.NewCanonicalID(), level, nil, name,
		matcher.Normalize(name), id.NewTenantID(), time.Now())
	s.Require().NoError(err)
	s.Require().NoError(s.canonicals.Create(s.ctx, unit))
	return unit
}

// openCase seeds a conflicted tenant unit and its review case, mirroring what
// ingest leaves behind on an ambiguous verdict.
func (s *ResolveSuite) openCase(name string, candidates ...*canonicalmodels.CanonicalUnit) (id.CaseID, *geomodels.TenantGeoUnit) {
	unit, err := geomodels.NewTenantGeoUnit(id.NewUnitID(), s.tenantID, 0, nil,
		map[string]string{"en": name}, "", time.Now())
	s.Require().NoError(err)
	s.Require().NoError(unit.Transition(geomodels.SyncStatePendingSync, time.Now()))
	s.Require().NoError(unit.Transition(geomodels.SyncStateConflictOpen, time.Now()))
	s.Require().NoError(s.units.Create(s.ctx, unit))

	ledgerCandidates := make([]ledger.Candidate, 0, len(candidates))
	for _, c := range candidates {
		ledgerCandidates = append(ledgerCandidates, ledger.Candidate{
			CanonicalID: c.ID, Name: c.PrimaryName, Score: 0.6,
		})
	}
	caseID, err := s.service.Open(s.ctx, unit, ledgerCandidates)
	s.Require().NoError(err)
	return caseID, unit
}

func (s *ResolveSuite) kinds(unitID id.UnitID) []ledger.Kind {
	entries, err := s.ledger.ListByUnit(context.Background(), unitID)
	s.Require().NoError(err)
	out := make([]ledger.Kind, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Kind())
	}
	return out
}

func (s *ResolveSuite) TestLink() {
	chosen := s.seedCanonical("New Road", 0)
	caseID, unit := s.openCase("Naya Road", chosen)

	resolved, err := s.service.Resolve(s.ctx, caseID, models.Resolution{
		Action: models.ActionLink, ChosenID: &chosen.ID, ResolvedBy: "ops",
	})
	s.Require().NoError(err)
	s.Equal(models.StatusResolved, resolved.Status)

	stored, err := s.units.FindByID(s.ctx, s.tenantID, unit.ID)
	s.Require().NoError(err)
	s.Equal(geomodels.SyncStateSynced, stored.SyncState)
	s.Equal(chosen.ID, *stored.CanonicalID)

	linked, err := s.canonicals.FindByID(s.ctx, chosen.ID)
	s.Require().NoError(err)
	s.Contains(linked.AlternateNames, "Naya Road")

	s.Equal([]ledger.Kind{ledger.KindUnitMatched, ledger.KindConflictResolved}, s.kinds(unit.ID))
}

func (s *ResolveSuite) TestCreate() {
	existing := s.seedCanonical("New Road", 0)
	caseID, unit := s.openCase("Naya Road", existing)

	resolved, err := s.service.Resolve(s.ctx, caseID, models.Resolution{
		Action: models.ActionCreate, ResolvedBy: "ops",
	})
	s.Require().NoError(err)
	s.Equal(models.StatusResolved, resolved.Status)

	stored, err := s.units.FindByID(s.ctx, s.tenantID, unit.ID)
	s.Require().NoError(err)
	s.Equal(geomodels.SyncStateSynced, stored.SyncState)
	s.Require().True(stored.IsLinked())
	s.NotEqual(existing.ID, *stored.CanonicalID)

	created, err := s.canonicals.FindByID(s.ctx, *stored.CanonicalID)
	s.Require().NoError(err)
	s.Equal("Naya Road", created.PrimaryName)

	s.Equal([]ledger.Kind{ledger.KindUnitCreated, ledger.KindConflictResolved}, s.kinds(unit.ID))
}

func (s *ResolveSuite) TestCreateFallsBackWhenScopeTaken() {
	caseID, unit := s.openCase("Naya Road")
	winner := s.seedCanonical("Naya Road", 0)

	_, err := s.service.Resolve(s.ctx, caseID, models.Resolution{Action: models.ActionCreate})
	s.Require().NoError(err)

	stored, err := s.units.FindByID(s.ctx, s.tenantID, unit.ID)
	s.Require().NoError(err)
	s.Equal(winner.ID, *stored.CanonicalID)
	s.Equal([]ledger.Kind{ledger.KindUnitMatched, ledger.KindConflictResolved}, s.kinds(unit.ID))
}

func (s *ResolveSuite) TestMerge() {
	primary := s.seedCanonical("New Road", 0)
	secondary := s.seedCanonical("Naya Sadak", 0)
	caseID, unit := s.openCase("Naya Road", primary, secondary)

	resolved, err := s.service.Resolve(s.ctx, caseID, models.Resolution{
		Action: models.ActionMerge, ChosenID: &primary.ID, SecondaryID: &secondary.ID,
	})
	s.Require().NoError(err)
	s.Equal(models.StatusResolved, resolved.Status)

	retired, err := s.canonicals.FindByID(s.ctx, secondary.ID)
	s.Require().NoError(err)
	s.True(retired.Retired)
	s.Equal(primary.ID, *retired.MergedInto)

	stored, err := s.units.FindByID(s.ctx, s.tenantID, unit.ID)
	s.Require().NoError(err)
	s.Equal(primary.ID, *stored.CanonicalID)
	s.Equal(geomodels.SyncStateSynced, stored.SyncState)

	s.Equal([]ledger.Kind{ledger.KindUnitMerged, ledger.KindUnitMatched, ledger.KindConflictResolved}, s.kinds(unit.ID))
}

func (s *ResolveSuite) TestRename() {
	chosen := s.seedCanonical("Katmandu", 0)
	caseID, unit := s.openCase("Kathmandu", chosen)

	_, err := s.service.Resolve(s.ctx, caseID, models.Resolution{
		Action: models.ActionRename, ChosenID: &chosen.ID, NewName: "Kathmandu",
	})
	s.Require().NoError(err)

	renamed, err := s.canonicals.FindByID(s.ctx, chosen.ID)
	s.Require().NoError(err)
	s.Equal("Kathmandu", renamed.PrimaryName)
	s.Contains(renamed.AlternateNames, "Katmandu")

	stored, err := s.units.FindByID(s.ctx, s.tenantID, unit.ID)
	s.Require().NoError(err)
	s.Equal(chosen.ID, *stored.CanonicalID)
	s.Equal(geomodels.SyncStateSynced, stored.SyncState)
}

func (s *ResolveSuite) TestReject() {
	chosen := s.seedCanonical("New Road", 0)
	caseID, unit := s.openCase("Naya Road", chosen)
	before := s.ledger.Len()

	resolved, err := s.service.Resolve(s.ctx, caseID, models.Resolution{
		Action: models.ActionReject, ResolvedBy: "ops",
	})
	s.Require().NoError(err)
	s.Equal(models.StatusResolved, resolved.Status)

	stored, err := s.units.FindByID(s.ctx, s.tenantID, unit.ID)
	s.Require().NoError(err)
	s.Equal(geomodels.SyncStateRejected, stored.SyncState)
	s.False(stored.IsLinked())

	// Only the closing audit record lands; nothing touched the registry.
	s.Equal(before+1, s.ledger.Len())
	s.Equal([]ledger.Kind{ledger.KindConflictResolved}, s.kinds(unit.ID))
}

func (s *ResolveSuite) TestReassignParent() {
	parent := s.seedCanonical("Kathmandu", 0)
	misplaced, err := canonicalmodels.NewCanonicalUnit(id.NewCanonicalID(), 1, nil, "Ward 5",
		"5", id.NewTenantID(), time.Now())
	s.Require().NoError(err)
	s.Require().NoError(s.canonicals.Create(s.ctx, misplaced))

	caseID, unit := s.openCase("Ward Five", misplaced)

	_, err = s.service.Resolve(s.ctx, caseID, models.Resolution{
		Action: models.ActionReassignParent, ChosenID: &misplaced.ID, NewParentID: &parent.ID,
	})
	s.Require().NoError(err)

	moved, err := s.canonicals.FindByID(s.ctx, misplaced.ID)
	s.Require().NoError(err)
	s.Require().NotNil(moved.ParentID)
	s.Equal(parent.ID, *moved.ParentID)

	// The unit goes back in the queue for a fresh match against the corrected
	// placement.
	stored, err := s.units.FindByID(s.ctx, s.tenantID, unit.ID)
	s.Require().NoError(err)
	s.Equal(geomodels.SyncStatePendingSync, stored.SyncState)
	s.False(stored.IsLinked())
}

func (s *ResolveSuite) TestResolveGuards() {
	s.Run("second resolution fails", func() {
		chosen := s.seedCanonical("New Road", 0)
		caseID, _ := s.openCase("Naya Road", chosen)

		_, err := s.service.Resolve(s.ctx, caseID, models.Resolution{Action: models.ActionLink, ChosenID: &chosen.ID})
		s.Require().NoError(err)

		_, err = s.service.Resolve(s.ctx, caseID, models.Resolution{Action: models.ActionReject})
		s.Require().Error(err)
		s.Equal(dErrors.CodeInvalidState, dErrors.CodeOf(err))
	})

	s.Run("unknown case is not found", func() {
		_, err := s.service.Resolve(s.ctx, id.NewCaseID(), models.Resolution{Action: models.ActionReject})
		s.Require().Error(err)
		s.Equal(dErrors.CodeNotFound, dErrors.CodeOf(err))
	})

	s.Run("invalid resolution is rejected before any load", func() {
		_, err := s.service.Resolve(s.ctx, id.NewCaseID(), models.Resolution{Action: models.ActionLink})
		s.Require().Error(err)
		s.Equal(dErrors.CodeValidation, dErrors.CodeOf(err))
	})
}

func (s *ResolveSuite) TestListOpenQueue() {
	chosen := s.seedCanonical("New Road", 0)
	first, _ := s.openCase("Naya Road", chosen)
	second, _ := s.openCase("Nayaa Road", chosen)

	open, err := s.service.ListOpen(s.ctx)
	s.Require().NoError(err)
	s.Len(open, 2)

	_, err = s.service.Resolve(s.ctx, first, models.Resolution{Action: models.ActionReject})
	s.Require().NoError(err)

	open, err = s.service.ListOpen(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(open, 1)
	s.Equal(second, open[0].ID)
}
