package service

import (
	"context"
	"errors"
	"time"

	"geosync/internal/canonical/matcher"
	canonicalmodels "geosync/internal/canonical/models"
	"geosync/internal/geography/models"
	id "geosync/pkg/domain"
	dErrors "geosync/pkg/domain-errors"
	"geosync/pkg/platform/ledger"
	"geosync/pkg/platform/sentinel"
	"geosync/pkg/requestcontext"
)

// Outcome is the terminal result of one ingest submission.
type Outcome string

const (
	OutcomeCreated   Outcome = "created"
	OutcomeMatched   Outcome = "matched"
	OutcomeConflict  Outcome = "conflict"
	OutcomeDuplicate Outcome = "duplicate"
)

// IngestResult reports what ingest did with a submission.
type IngestResult struct {
	Unit    *models.TenantGeoUnit
	Outcome Outcome
	// Canonical is set for created and matched outcomes.
	Canonical *canonicalmodels.CanonicalUnit
	// CaseID is set for conflict outcomes.
	CaseID id.CaseID
}

// Ingest reconciles one tenant-entered unit against the canonical registry.
//
// The unit row, the registry mutation (or conflict case), and the ledger
// entry commit in a single transaction: a submission either fully lands with
// its ledger record or not at all. A failed commit is reported as retryable
// so the tenant client resubmits.
func (s *Service) Ingest(ctx context.Context, req models.IngestRequest) (*IngestResult, error) {
	tenantID := requestcontext.TenantID(ctx)
	if tenantID.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "missing tenant identity")
	}

	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	canonicalParent, err := s.resolveParent(ctx, tenantID, req)
	if err != nil {
		return nil, err
	}

	now := requestcontext.Now(ctx)
	unit, err := models.NewTenantGeoUnit(id.NewUnitID(), tenantID, req.Level, req.ParentUnitID, req.Names, req.GovernmentCode, now)
	if err != nil {
		return nil, err
	}

	// Resubmitting the same shape is a no-op returning the earlier unit,
	// unless the unit dropped out of reconciliation: rejected units and units
	// parked in pending_sync by a parent reassignment re-enter the pipeline.
	resubmitted := false
	existing, err := s.units.FindDuplicate(ctx, tenantID, req.Level, req.ParentUnitID, unit.DeclaredName())
	switch {
	case err == nil:
		if existing.SyncState != models.SyncStateRejected && existing.SyncState != models.SyncStatePendingSync {
			s.observeOutcome(OutcomeDuplicate)
			return &IngestResult{Unit: existing, Outcome: OutcomeDuplicate}, nil
		}
		for lang, name := range req.Names {
			existing.Names[lang] = name
		}
		if req.GovernmentCode != "" {
			existing.GovernmentCode = req.GovernmentCode
		}
		if existing.SyncState == models.SyncStateRejected {
			if err := existing.Transition(models.SyncStatePendingSync, now); err != nil {
				return nil, err
			}
		}
		unit, resubmitted = existing, true
	case errors.Is(err, sentinel.ErrNotFound):
		if err := unit.Transition(models.SyncStatePendingSync, now); err != nil {
			return nil, err
		}
	default:
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "duplicate lookup failed")
	}

	matchStart := time.Now()
	match, err := s.matcher.Match(ctx, unit.DeclaredName(), unit.Level, canonicalParent)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "candidate matching failed")
	}
	if s.metrics != nil {
		s.metrics.ObserveMatch(matchStart)
	}

	result := &IngestResult{Unit: unit}
	txErr := s.txRunner.RunInTx(ctx, func(ctx context.Context) error {
		entry := ledger.Entry{
			ID:         id.NewEntryID(),
			Timestamp:  now,
			TenantID:   tenantID,
			UnitID:     unit.ID,
			Candidates: toLedgerCandidates(match.Candidates),
		}

		switch match.Verdict {
		case matcher.VerdictAccept:
			if err := s.applyAccept(ctx, unit, match.Best.Unit.ID, match.Best.Score, now, &entry, result); err != nil {
				return err
			}

		case matcher.VerdictNoMatch:
			canonical, created, err := s.registry.CreateFromTenantUnit(ctx, unit, match.NormalizedName, canonicalParent)
			if err != nil {
				return err
			}
			if created {
				payload := ledger.UnitCreated{
					CanonicalID:    canonical.ID,
					Level:          canonical.Level,
					PrimaryName:    canonical.PrimaryName,
					NormalizedName: canonical.NormalizedName,
				}
				if canonical.ParentID != nil {
					payload.ParentID = *canonical.ParentID
				}
				entry.Payload = payload
				unit.Link(canonical.ID, now)
				if err := s.markSynced(unit, now); err != nil {
					return err
				}
				result.Outcome = OutcomeCreated
				result.Canonical = canonical
				break
			}
			// Lost a first-sighting race: another tenant registered the
			// same place between match and commit. Fall back to linking
			// against the winner.
			if err := s.applyAccept(ctx, unit, canonical.ID, 1.0, now, &entry, result); err != nil {
				return err
			}

		case matcher.VerdictAmbiguous:
			caseID, err := s.conflicts.Open(ctx, unit, entry.Candidates)
			if err != nil {
				return err
			}
			if err := unit.Transition(models.SyncStateConflictOpen, now); err != nil {
				return err
			}
			entry.Payload = ledger.ConflictOpened{CaseID: caseID}
			result.Outcome = OutcomeConflict
			result.CaseID = caseID
		}

		persist := s.units.Create
		if resubmitted {
			persist = s.units.Update
		}
		if err := persist(ctx, unit); err != nil {
			return dErrors.Wrap(err, dErrors.CodeSyncPersistence, "failed to persist tenant unit")
		}
		return s.publisher.Emit(ctx, entry)
	})
	if txErr != nil {
		if s.metrics != nil {
			s.metrics.IncrementSyncFailure()
		}
		var de *dErrors.Error
		if errors.As(txErr, &de) {
			return nil, txErr
		}
		return nil, dErrors.Wrap(txErr, dErrors.CodeSyncPersistence, "sync transaction failed")
	}

	s.observeOutcome(result.Outcome)
	s.logger.InfoContext(ctx, "unit ingested",
		"unit_id", unit.ID.String(),
		"tenant_id", tenantID.String(),
		"level", unit.Level,
		"outcome", string(result.Outcome),
	)
	return result, nil
}

// applyAccept links the unit to an accepted canonical candidate and records
// the match in the pending ledger entry.
func (s *Service) applyAccept(ctx context.Context, unit *models.TenantGeoUnit, canonicalID id.CanonicalID, score float64, now time.Time, entry *ledger.Entry, result *IngestResult) error {
	canonical, nameAdded, err := s.registry.LinkTenantUnit(ctx, canonicalID, unit.TenantID, unit.DeclaredName())
	if err != nil {
		return err
	}
	unit.Link(canonical.ID, now)
	if err := s.markSynced(unit, now); err != nil {
		return err
	}
	entry.Payload = ledger.UnitMatched{CanonicalID: canonical.ID, Score: score, NameAdded: nameAdded}
	result.Outcome = OutcomeMatched
	result.Canonical = canonical
	return nil
}

func (s *Service) markSynced(unit *models.TenantGeoUnit, now time.Time) error {
	if err := unit.Transition(models.SyncStateMatched, now); err != nil {
		return err
	}
	return unit.Transition(models.SyncStateSynced, now)
}

func (s *Service) resolveParent(ctx context.Context, tenantID id.TenantID, req models.IngestRequest) (*id.CanonicalID, error) {
	if req.ParentUnitID == nil {
		return nil, nil
	}
	parent, err := s.units.FindByID(ctx, tenantID, *req.ParentUnitID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeInvalidHierarchy, "declared parent does not exist for this tenant")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "parent lookup failed")
	}
	if parent.Retired {
		return nil, dErrors.New(dErrors.CodeInvalidHierarchy, "declared parent is retired")
	}
	if parent.Level != req.Level-1 {
		return nil, dErrors.New(dErrors.CodeInvalidHierarchy, "parent must be exactly one level above the unit")
	}
	// An unlinked parent does not block ingest; the match just searches the
	// whole level instead of the parent's children.
	return parent.CanonicalID, nil
}

func (s *Service) observeOutcome(outcome Outcome) {
	if s.metrics != nil {
		s.metrics.IncrementOutcome(string(outcome))
	}
}

func toLedgerCandidates(scored []matcher.Scored) []ledger.Candidate {
	out := make([]ledger.Candidate, 0, len(scored))
	for _, c := range scored {
		out = append(out, ledger.Candidate{
			CanonicalID: c.Unit.ID,
			Name:        c.Unit.PrimaryName,
			Score:       c.Score,
		})
	}
	return out
}
