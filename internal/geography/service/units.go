package service

import (
	"context"
	"errors"

	"geosync/internal/geography/models"
	id "geosync/pkg/domain"
	dErrors "geosync/pkg/domain-errors"
	"geosync/pkg/platform/sentinel"
	"geosync/pkg/requestcontext"
)

// Get returns one of the caller tenant's units.
func (s *Service) Get(ctx context.Context, unitID id.UnitID) (*models.TenantGeoUnit, error) {
	tenantID := requestcontext.TenantID(ctx)
	if tenantID.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "missing tenant identity")
	}
	unit, err := s.units.FindByID(ctx, tenantID, unitID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "unit not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load unit")
	}
	return unit, nil
}

// List returns the caller tenant's live units, shallowest level first.
func (s *Service) List(ctx context.Context) ([]*models.TenantGeoUnit, error) {
	tenantID := requestcontext.TenantID(ctx)
	if tenantID.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "missing tenant identity")
	}
	units, err := s.units.ListByTenant(ctx, tenantID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list units")
	}
	return units, nil
}

// Retire soft-retires one of the caller tenant's units. The row stays for
// reference resolution; the unit just stops matching and listing.
func (s *Service) Retire(ctx context.Context, unitID id.UnitID) (*models.TenantGeoUnit, error) {
	unit, err := s.Get(ctx, unitID)
	if err != nil {
		return nil, err
	}
	if unit.Retired {
		return unit, nil
	}
	unit.Retire(requestcontext.Now(ctx))
	if err := s.units.Update(ctx, unit); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to retire unit")
	}
	s.logger.InfoContext(ctx, "unit retired", "unit_id", unitID.String())
	return unit, nil
}
