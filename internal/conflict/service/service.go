// Package service owns conflict case review: opening cases for ambiguous
// submissions and applying administrator resolutions.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"geosync/internal/canonical/matcher"
	canonicalmodels "geosync/internal/canonical/models"
	"geosync/internal/conflict/metrics"
	"geosync/internal/conflict/models"
	geomodels "geosync/internal/geography/models"
	id "geosync/pkg/domain"
	dErrors "geosync/pkg/domain-errors"
	"geosync/pkg/platform/ledger"
	"geosync/pkg/platform/sentinel"
	"geosync/pkg/requestcontext"
)

// CaseStore persists conflict cases.
type CaseStore interface {
	Create(ctx context.Context, c *models.ConflictCase) error
	Update(ctx context.Context, c *models.ConflictCase) error
	FindByID(ctx context.Context, caseID id.CaseID) (*models.ConflictCase, error)
	ListOpen(ctx context.Context) ([]*models.ConflictCase, error)
}

// UnitStore is the tenant-unit surface resolution needs.
type UnitStore interface {
	FindByID(ctx context.Context, tenantID id.TenantID, unitID id.UnitID) (*geomodels.TenantGeoUnit, error)
	Update(ctx context.Context, unit *geomodels.TenantGeoUnit) error
}

// Registry is the canonical-side surface resolution needs.
type Registry interface {
	CreateFromTenantUnit(ctx context.Context, unit *geomodels.TenantGeoUnit, normalized string, canonicalParent *id.CanonicalID) (*canonicalmodels.CanonicalUnit, bool, error)
	LinkTenantUnit(ctx context.Context, canonicalID id.CanonicalID, tenantID id.TenantID, declaredName string) (*canonicalmodels.CanonicalUnit, string, error)
	MergeUnits(ctx context.Context, primaryID, secondaryID id.CanonicalID) (*canonicalmodels.CanonicalUnit, int, error)
	RenamePrimary(ctx context.Context, canonicalID id.CanonicalID, newName string) (*canonicalmodels.CanonicalUnit, error)
	ReassignParent(ctx context.Context, canonicalID id.CanonicalID, newParentID id.CanonicalID) (*canonicalmodels.CanonicalUnit, error)
}

// LedgerPublisher appends resolution outcomes to the ledger, fail-closed.
type LedgerPublisher interface {
	Emit(ctx context.Context, entry ledger.Entry) error
}

// TxRunner executes fn atomically.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Service opens and resolves conflict cases. Resolution effects (registry
// mutation, unit state change, case closure, ledger entries) commit in one
// transaction.
type Service struct {
	cases     CaseStore
	units     UnitStore
	registry  Registry
	publisher LedgerPublisher
	txRunner  TxRunner
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// Option configures the Service.
type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func New(cases CaseStore, units UnitStore, registry Registry, publisher LedgerPublisher, txRunner TxRunner, opts ...Option) *Service {
	s := &Service{
		cases:     cases,
		units:     units,
		registry:  registry,
		publisher: publisher,
		txRunner:  txRunner,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open files a case for an ambiguous submission. Called by ingest inside its
// transaction; ingest writes the ledger record for the opening.
func (s *Service) Open(ctx context.Context, unit *geomodels.TenantGeoUnit, candidates []ledger.Candidate) (id.CaseID, error) {
	caseCandidates := make([]models.Candidate, 0, len(candidates))
	for _, c := range candidates {
		caseCandidates = append(caseCandidates, models.Candidate{
			CanonicalID: c.CanonicalID,
			Name:        c.Name,
			Score:       c.Score,
		})
	}
	c, err := models.NewConflictCase(id.NewCaseID(), unit.ID, unit.TenantID, unit.DeclaredName(), unit.Level, caseCandidates, requestcontext.Now(ctx))
	if err != nil {
		return id.CaseID{}, err
	}
	if err := s.cases.Create(ctx, c); err != nil {
		return id.CaseID{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create conflict case")
	}
	if s.metrics != nil {
		s.metrics.IncrementOpened()
	}
	s.logger.InfoContext(ctx, "conflict case opened",
		"case_id", c.ID.String(),
		"unit_id", unit.ID.String(),
		"candidates", len(caseCandidates),
	)
	return c.ID, nil
}

// Get returns one conflict case.
func (s *Service) Get(ctx context.Context, caseID id.CaseID) (*models.ConflictCase, error) {
	c, err := s.cases.FindByID(ctx, caseID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "conflict case not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load conflict case")
	}
	return c, nil
}

// ListOpen returns the review queue, oldest first.
func (s *Service) ListOpen(ctx context.Context) ([]*models.ConflictCase, error) {
	cases, err := s.cases.ListOpen(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list conflict cases")
	}
	return cases, nil
}

// Resolve applies an administrator decision to an open case. Exactly one
// resolution may apply per case; a second attempt fails with an invalid
// state error. The registry effect, the unit state change, the case closure
// and the ledger records commit together.
func (s *Service) Resolve(ctx context.Context, caseID id.CaseID, resolution models.Resolution) (*models.ConflictCase, error) {
	if err := resolution.Validate(); err != nil {
		return nil, err
	}

	var resolved *models.ConflictCase
	txErr := s.txRunner.RunInTx(ctx, func(ctx context.Context) error {
		c, err := s.Get(ctx, caseID)
		if err != nil {
			return err
		}
		if err := c.CanResolve(); err != nil {
			return err
		}

		unit, err := s.units.FindByID(ctx, c.TenantID, c.UnitID)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load conflicted unit")
		}
		if unit.SyncState != geomodels.SyncStateConflictOpen {
			return dErrors.New(dErrors.CodeInvalidState, "unit is not awaiting conflict resolution")
		}

		now := requestcontext.Now(ctx)
		outcome, err := s.applyAction(ctx, c, unit, resolution, now)
		if err != nil {
			return err
		}

		c.ApplyResolution(resolution, now)
		if err := s.cases.Update(ctx, c); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to close conflict case")
		}
		if err := s.units.Update(ctx, unit); err != nil {
			return dErrors.Wrap(err, dErrors.CodeSyncPersistence, "failed to persist resolved unit")
		}

		audit := ledger.ConflictResolved{
			CaseID:     c.ID,
			Action:     string(resolution.Action),
			ResolvedBy: resolution.ResolvedBy,
		}
		if resolution.ChosenID != nil {
			audit.ChosenID = *resolution.ChosenID
		}
		if unit.CanonicalID != nil {
			audit.CanonicalID = *unit.CanonicalID
		}
		outcome = append(outcome, audit)

		for _, payload := range outcome {
			entry := ledger.Entry{
				ID:         id.NewEntryID(),
				Timestamp:  now,
				TenantID:   c.TenantID,
				UnitID:     c.UnitID,
				Candidates: caseLedgerCandidates(c),
				Payload:    payload,
			}
			if err := s.publisher.Emit(ctx, entry); err != nil {
				return err
			}
		}

		resolved = c
		return nil
	})
	if txErr != nil {
		return nil, txErr
	}

	if s.metrics != nil {
		s.metrics.IncrementResolved(string(resolution.Action))
	}
	s.logger.InfoContext(ctx, "conflict case resolved",
		"case_id", caseID.String(),
		"action", string(resolution.Action),
		"resolved_by", resolution.ResolvedBy,
	)
	return resolved, nil
}

// applyAction performs the registry effect and unit state change for one
// resolution action, returning the registry-effect ledger payloads. The
// closing audit record is appended by the caller. Only these payloads feed
// replay; the audit record is informational.
func (s *Service) applyAction(ctx context.Context, c *models.ConflictCase, unit *geomodels.TenantGeoUnit, resolution models.Resolution, now time.Time) ([]ledger.Payload, error) {
	switch resolution.Action {
	case models.ActionLink:
		payload, err := s.linkUnit(ctx, c, unit, *resolution.ChosenID, now)
		if err != nil {
			return nil, err
		}
		return []ledger.Payload{payload}, nil

	case models.ActionCreate:
		canonicalParent, err := s.canonicalParentOf(ctx, unit)
		if err != nil {
			return nil, err
		}
		canonical, created, err := s.registry.CreateFromTenantUnit(ctx, unit, matcher.Normalize(unit.DeclaredName()), canonicalParent)
		if err != nil {
			return nil, err
		}
		if !created {
			// The place got registered while the case sat open; link to it.
			payload, err := s.linkUnit(ctx, c, unit, canonical.ID, now)
			if err != nil {
				return nil, err
			}
			return []ledger.Payload{payload}, nil
		}
		unit.Link(canonical.ID, now)
		if err := unit.Transition(geomodels.SyncStateSynced, now); err != nil {
			return nil, err
		}
		payload := ledger.UnitCreated{
			CanonicalID:    canonical.ID,
			Level:          canonical.Level,
			PrimaryName:    canonical.PrimaryName,
			NormalizedName: canonical.NormalizedName,
		}
		if canonical.ParentID != nil {
			payload.ParentID = *canonical.ParentID
		}
		return []ledger.Payload{payload}, nil

	case models.ActionMerge:
		primary, relinked, err := s.registry.MergeUnits(ctx, *resolution.ChosenID, *resolution.SecondaryID)
		if err != nil {
			return nil, err
		}
		merged := ledger.UnitMerged{
			PrimaryID:     primary.ID,
			SecondaryID:   *resolution.SecondaryID,
			RelinkedUnits: relinked,
		}
		matched, err := s.linkUnit(ctx, c, unit, primary.ID, now)
		if err != nil {
			return nil, err
		}
		return []ledger.Payload{merged, matched}, nil

	case models.ActionRename:
		if _, err := s.registry.RenamePrimary(ctx, *resolution.ChosenID, resolution.NewName); err != nil {
			return nil, err
		}
		payload, err := s.linkUnit(ctx, c, unit, *resolution.ChosenID, now)
		if err != nil {
			return nil, err
		}
		return []ledger.Payload{payload}, nil

	case models.ActionReject:
		if err := unit.Transition(geomodels.SyncStateRejected, now); err != nil {
			return nil, err
		}
		return nil, nil

	case models.ActionReassignParent:
		if _, err := s.registry.ReassignParent(ctx, *resolution.ChosenID, *resolution.NewParentID); err != nil {
			return nil, err
		}
		// Placement is fixed; the unit goes back in the queue for a fresh
		// match against the corrected scope.
		if err := unit.Transition(geomodels.SyncStatePendingSync, now); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return nil, dErrors.New(dErrors.CodeValidation, "unknown resolution action")
}

// linkUnit links the conflicted unit to a canonical unit and marks it synced.
func (s *Service) linkUnit(ctx context.Context, c *models.ConflictCase, unit *geomodels.TenantGeoUnit, canonicalID id.CanonicalID, now time.Time) (ledger.Payload, error) {
	canonical, nameAdded, err := s.registry.LinkTenantUnit(ctx, canonicalID, unit.TenantID, unit.DeclaredName())
	if err != nil {
		return nil, err
	}
	unit.Link(canonical.ID, now)
	if err := unit.Transition(geomodels.SyncStateSynced, now); err != nil {
		return nil, err
	}
	return ledger.UnitMatched{
		CanonicalID: canonical.ID,
		Score:       caseScore(c, canonical.ID),
		NameAdded:   nameAdded,
	}, nil
}

func (s *Service) canonicalParentOf(ctx context.Context, unit *geomodels.TenantGeoUnit) (*id.CanonicalID, error) {
	if unit.ParentID == nil {
		return nil, nil
	}
	parent, err := s.units.FindByID(ctx, unit.TenantID, *unit.ParentID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load parent unit")
	}
	return parent.CanonicalID, nil
}

// caseScore recovers the recorded score when the chosen unit was among the
// case candidates; a unit picked from outside the list counts as certain.
func caseScore(c *models.ConflictCase, canonicalID id.CanonicalID) float64 {
	for _, cand := range c.Candidates {
		if cand.CanonicalID == canonicalID {
			return cand.Score
		}
	}
	return 1
}

func caseLedgerCandidates(c *models.ConflictCase) []ledger.Candidate {
	out := make([]ledger.Candidate, 0, len(c.Candidates))
	for _, cand := range c.Candidates {
		out = append(out, ledger.Candidate{
			CanonicalID: cand.CanonicalID,
			Name:        cand.Name,
			Score:       cand.Score,
		})
	}
	return out
}
