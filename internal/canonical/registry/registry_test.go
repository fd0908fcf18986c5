package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"geosync/internal/canonical/matcher"
	"geosync/internal/canonical/models"
	"geosync/internal/canonical/store"
	geomodels "geosync/internal/geography/models"
	unitstore "geosync/internal/geography/store/unit"
	id "geosync/pkg/domain"
	dErrors "geosync/pkg/domain-errors"
	"geosync/pkg/requestcontext"
)

type RegistrySuite struct {
	suite.Suite
	canonicals *store.Memory
	units      *unitstore.Memory
	registry   *Registry
	ctx        context.Context
	tenantID   id.TenantID
}

func TestRegistrySuite(t *testing.T) {
	suite.Run(t, new(RegistrySuite))
}

func (s *RegistrySuite) SetupTest() {
	s.canonicals = store.NewMemory()
	s.units = unitstore.NewMemory()
	s.registry = New(s.canonicals, WithRelinker(s.units))
	s.ctx = requestcontext.WithTime(context.Background(), time.Now())
	s.tenantID = id.NewTenantID()
}

func (s *RegistrySuite) newTenantUnit(tenantID id.TenantID, name string, level int) *geomodels.TenantGeoUnit {
	var parentID *id.UnitID
	if level > geomodels.LevelCountry {
		parent := id.NewUnitID()
		parentID = &parent
	}
	unit, err := geomodels.NewTenantGeoUnit(id.NewUnitID(), tenantID, level, parentID,
		map[string]string{"en": name}, "", time.Now())
	s.Require().NoError(err)
	return unit
}

func (s *RegistrySuite) seedCanonical(name string, level int) *models.CanonicalUnit {
	unit := s.newTenantUnit(id.NewTenantID(), name, level)
	canonical, created, err := s.registry.CreateFromTenantUnit(s.ctx, unit, matcher.Normalize(name), nil)
	s.Require().NoError(err)
	s.Require().True(created)
	return canonical
}

func (s *RegistrySuite) TestCreateFromTenantUnit() {
	s.Run("first sighting creates an unverified unit", func() {
		unit := s.newTenantUnit(s.tenantID, "Tokha", 3)
		canonical, created, err := s.registry.CreateFromTenantUnit(s.ctx, unit, "tokha", nil)
		s.Require().NoError(err)
		s.True(created)
		s.Equal("Tokha", canonical.PrimaryName)
		s.Equal(models.VerificationUnverified, canonical.Verification)
		s.Equal(1, canonical.TenantRefCount())
	})

	s.Run("losing the create race links to the winner", func() {
		winner := s.seedCanonical("Chandragiri", 3)

		loser := s.newTenantUnit(s.tenantID, "Chandragiri", 3)
		canonical, created, err := s.registry.CreateFromTenantUnit(s.ctx, loser, "chandragiri", nil)
		s.Require().NoError(err)
		s.False(created)
		s.Equal(winner.ID, canonical.ID)
	})
}

func (s *RegistrySuite) TestLinkTenantUnit() {
	s.Run("admits new spellings and counts distinct tenants", func() {
		canonical := s.seedCanonical("Kathmandu", 3)

		linked, nameAdded, err := s.registry.LinkTenantUnit(s.ctx, canonical.ID, s.tenantID, "Katmandu")
		s.Require().NoError(err)
		s.Equal("Katmandu", nameAdded)
		s.Contains(linked.AlternateNames, "Katmandu")
		s.Equal(2, linked.TenantRefCount())
	})

	s.Run("relinking the same spelling adds nothing", func() {
		canonical := s.seedCanonical("Bhaktapur", 3)

		_, nameAdded, err := s.registry.LinkTenantUnit(s.ctx, canonical.ID, s.tenantID, "Bhadgaon")
		s.Require().NoError(err)
		s.Equal("Bhadgaon", nameAdded)

		linked, nameAdded, err := s.registry.LinkTenantUnit(s.ctx, canonical.ID, s.tenantID, "Bhadgaon")
		s.Require().NoError(err)
		s.Empty(nameAdded)
		s.Equal(2, linked.TenantRefCount())
	})

	s.Run("linking a merged unit follows the pointer", func() {
		primary := s.seedCanonical("Lalitpur", 3)
		secondary := s.seedCanonical("Patan", 3)
		_, _, err := s.registry.MergeUnits(s.ctx, primary.ID, secondary.ID)
		s.Require().NoError(err)

		linked, _, err := s.registry.LinkTenantUnit(s.ctx, secondary.ID, s.tenantID, "Patan Dhoka")
		s.Require().NoError(err)
		s.Equal(primary.ID, linked.ID)
	})

	s.Run("unknown canonical unit is not found", func() {
		_, _, err := s.registry.LinkTenantUnit(s.ctx, id.NewCanonicalID(), s.tenantID, "Nowhere")
		s.Require().Error(err)
		s.Equal(dErrors.CodeNotFound, dErrors.CodeOf(err))
	})
}

func (s *RegistrySuite) TestMergeUnits() {
	s.Run("fold unions names and refs and retires the secondary", func() {
		primary := s.seedCanonical("Kageshwori Manohara", 3)
		secondary := s.seedCanonical("Kageshwari", 3)

		tenantUnit := s.newTenantUnit(s.tenantID, "Kageshwari", 3)
		tenantUnit.Link(secondary.ID, time.Now())
		s.Require().NoError(s.units.Create(s.ctx, tenantUnit))

		merged, relinked, err := s.registry.MergeUnits(s.ctx, primary.ID, secondary.ID)
		s.Require().NoError(err)
		s.Equal(1, relinked)
		s.Contains(merged.AlternateNames, "Kageshwari")
		s.Equal(2, merged.TenantRefCount())

		retired, err := s.registry.Get(s.ctx, secondary.ID)
		s.Require().NoError(err)
		s.True(retired.Retired)
		s.Require().NotNil(retired.MergedInto)
		s.Equal(primary.ID, *retired.MergedInto)

		moved, err := s.units.FindByID(s.ctx, s.tenantID, tenantUnit.ID)
		s.Require().NoError(err)
		s.Equal(primary.ID, *moved.CanonicalID)
	})

	s.Run("merging a unit into itself fails", func() {
		unit := s.seedCanonical("Budhanilkantha", 3)
		_, _, err := s.registry.MergeUnits(s.ctx, unit.ID, unit.ID)
		s.Require().Error(err)
		s.Equal(dErrors.CodeInvariantViolation, dErrors.CodeOf(err))
	})

	s.Run("merging across levels fails", func() {
		province := s.seedCanonical("Bagmati", 1)
		city := s.seedCanonical("Hetauda", 3)
		_, _, err := s.registry.MergeUnits(s.ctx, province.ID, city.ID)
		s.Require().Error(err)
		s.Equal(dErrors.CodeInvariantViolation, dErrors.CodeOf(err))
	})

	s.Run("merging an already retired secondary fails", func() {
		primary := s.seedCanonical("Tarakeshwor", 3)
		secondary := s.seedCanonical("Tarkeshwor", 3)
		_, _, err := s.registry.MergeUnits(s.ctx, primary.ID, secondary.ID)
		s.Require().NoError(err)

		_, _, err = s.registry.MergeUnits(s.ctx, primary.ID, secondary.ID)
		s.Require().Error(err)
		s.Equal(dErrors.CodeInvalidState, dErrors.CodeOf(err))
	})
}

func (s *RegistrySuite) TestRenamePrimary() {
	s.Run("rename keeps the old spelling as an alternate", func() {
		canonical := s.seedCanonical("Katmandu", 3)

		renamed, err := s.registry.RenamePrimary(s.ctx, canonical.ID, "Kathmandu")
		s.Require().NoError(err)
		s.Equal("Kathmandu", renamed.PrimaryName)
		s.Equal("kathmandu", renamed.NormalizedName)
		s.Contains(renamed.AlternateNames, "Katmandu")
	})

	s.Run("rename into an occupied scope conflicts", func() {
		s.seedCanonical("Pokhara", 3)
		other := s.seedCanonical("Pokhra", 3)

		_, err := s.registry.RenamePrimary(s.ctx, other.ID, "Pokhara")
		s.Require().Error(err)
		s.Equal(dErrors.CodeConflict, dErrors.CodeOf(err))
	})

	s.Run("empty name is rejected", func() {
		canonical := s.seedCanonical("Kirtipur", 3)
		_, err := s.registry.RenamePrimary(s.ctx, canonical.ID, "")
		s.Require().Error(err)
		s.Equal(dErrors.CodeValidation, dErrors.CodeOf(err))
	})
}

func (s *RegistrySuite) TestReassignParent() {
	s.Run("moves the unit under a valid parent", func() {
		parent := s.seedCanonical("Kaski", 2)
		child := s.seedCanonical("Machhapuchchhre", 3)

		moved, err := s.registry.ReassignParent(s.ctx, child.ID, parent.ID)
		s.Require().NoError(err)
		s.Require().NotNil(moved.ParentID)
		s.Equal(parent.ID, *moved.ParentID)
	})

	s.Run("rejects a parent at the wrong level", func() {
		parent := s.seedCanonical("Gandaki", 1)
		child := s.seedCanonical("Annapurna", 3)

		_, err := s.registry.ReassignParent(s.ctx, child.ID, parent.ID)
		s.Require().Error(err)
		s.Equal(dErrors.CodeInvalidHierarchy, dErrors.CodeOf(err))
	})

	s.Run("rejects a retired parent", func() {
		keeper := s.seedCanonical("Lamjung", 2)
		gone := s.seedCanonical("Lamjunga", 2)
		_, _, err := s.registry.MergeUnits(s.ctx, keeper.ID, gone.ID)
		s.Require().NoError(err)

		child := s.seedCanonical("Besisahar", 3)
		_, err = s.registry.ReassignParent(s.ctx, child.ID, gone.ID)
		s.Require().Error(err)
		s.Equal(dErrors.CodeInvalidHierarchy, dErrors.CodeOf(err))
	})
}

func (s *RegistrySuite) TestResolve() {
	first := s.seedCanonical("Suryabinayak", 3)
	second := s.seedCanonical("Surya Binayak", 3)
	third := s.seedCanonical("Surya-Binayaka", 3)

	_, _, err := s.registry.MergeUnits(s.ctx, second.ID, third.ID)
	s.Require().NoError(err)
	_, _, err = s.registry.MergeUnits(s.ctx, first.ID, second.ID)
	s.Require().NoError(err)

	resolved, err := s.registry.Resolve(s.ctx, third.ID)
	s.Require().NoError(err)
	s.Equal(first.ID, resolved.ID)
}
