// Package registry owns the cross-tenant canonical geography registry.
//
// All canonical mutation funnels through this service so the scope
// uniqueness and merge invariants hold; nothing else writes the canonical
// store. Ledger sequencing belongs to the callers (ingest and conflict
// services), which run registry mutations and ledger appends in one
// transaction.
package registry

import (
	"context"
	"errors"
	"log/slog"

	"geosync/internal/canonical/matcher"
	"geosync/internal/canonical/models"
	"geosync/internal/canonical/store"
	geomodels "geosync/internal/geography/models"
	id "geosync/pkg/domain"
	dErrors "geosync/pkg/domain-errors"
	"geosync/pkg/platform/ledger"
	"geosync/pkg/platform/sentinel"
	"geosync/pkg/requestcontext"
)

// UnitRelinker re-points tenant units from one canonical unit to another
// during a merge. Implemented by the geography unit store.
type UnitRelinker interface {
	RelinkCanonical(ctx context.Context, from, to id.CanonicalID) (int, error)
}

// Registry is the canonical unit mutation service.
type Registry struct {
	units    store.Store
	relinker UnitRelinker
	logger   *slog.Logger
}

// Option configures the Registry.
type Option func(*Registry)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

func WithRelinker(relinker UnitRelinker) Option {
	return func(r *Registry) {
		r.relinker = relinker
	}
}

func New(units store.Store, opts ...Option) *Registry {
	r := &Registry{units: units}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// CreateFromTenantUnit registers a first sighting as a new canonical unit.
//
// Safe under concurrent submissions of the same unlisted place: the store's
// scope uniqueness makes one creator win; the loser detects the conflict,
// loads the winner's row and reports created=false so the caller can fall
// back to the link path. The race never surfaces to tenants.
func (r *Registry) CreateFromTenantUnit(ctx context.Context, unit *geomodels.TenantGeoUnit, normalized string, canonicalParent *id.CanonicalID) (*models.CanonicalUnit, bool, error) {
	canonical, err := models.NewCanonicalUnit(
		id.NewCanonicalID(),
		unit.Level,
		canonicalParent,
		unit.DeclaredName(),
		normalized,
		unit.TenantID,
		requestcontext.Now(ctx),
	)
	if err != nil {
		return nil, false, err
	}

	if err := r.units.Create(ctx, canonical); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			winner, findErr := r.units.FindByScope(ctx, canonicalParent, unit.Level, normalized)
			if findErr != nil {
				return nil, false, dErrors.Wrap(findErr, dErrors.CodeInternal, "lost create race but winner not found")
			}
			if r.logger != nil {
				r.logger.InfoContext(ctx, "first-sighting race lost, linking instead",
					"normalized_name", normalized,
					"winner_id", winner.ID.String(),
				)
			}
			return winner, false, nil
		}
		return nil, false, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create canonical unit")
	}
	return canonical, true, nil
}

// LinkTenantUnit records an accepted match: admits the tenant's spelling
// into the alternate-name set and the tenant into the distinct-tenant
// reference set. Returns the spelling that was newly admitted, empty when
// already known. Idempotent per (tenant, spelling).
func (r *Registry) LinkTenantUnit(ctx context.Context, canonicalID id.CanonicalID, tenantID id.TenantID, declaredName string) (*models.CanonicalUnit, string, error) {
	canonical, err := r.units.FindByID(ctx, canonicalID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, "", dErrors.New(dErrors.CodeNotFound, "canonical unit not found")
		}
		return nil, "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to load canonical unit")
	}
	if canonical.Retired {
		// Follow the merge pointer so links outlive folds.
		if canonical.MergedInto == nil {
			return nil, "", dErrors.New(dErrors.CodeInvalidState, "canonical unit is retired with no merge target")
		}
		return r.LinkTenantUnit(ctx, *canonical.MergedInto, tenantID, declaredName)
	}

	nameAdded := ""
	if canonical.AddAlternateName(declaredName) {
		nameAdded = declaredName
	}
	canonical.AddTenantRef(tenantID)
	canonical.UpdatedAt = requestcontext.Now(ctx)

	if err := r.units.Update(ctx, canonical); err != nil {
		return nil, "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to link tenant unit")
	}
	return canonical, nameAdded, nil
}

// MergeUnits folds secondary into primary: unions names and tenant refs,
// re-points every tenant unit linked to secondary, and retires secondary.
// Secondary is never deleted so ledger references stay resolvable.
func (r *Registry) MergeUnits(ctx context.Context, primaryID, secondaryID id.CanonicalID) (*models.CanonicalUnit, int, error) {
	primary, err := r.units.FindByID(ctx, primaryID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, 0, dErrors.New(dErrors.CodeNotFound, "primary canonical unit not found")
		}
		return nil, 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load primary unit")
	}
	secondary, err := r.units.FindByID(ctx, secondaryID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, 0, dErrors.New(dErrors.CodeNotFound, "secondary canonical unit not found")
		}
		return nil, 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load secondary unit")
	}

	if err := secondary.CanMergeInto(primary); err != nil {
		return nil, 0, err
	}
	secondary.ApplyMergeInto(primary, requestcontext.Now(ctx))

	// Retire the secondary first so its scope key frees before the primary
	// (possibly claiming merged names) persists.
	if err := r.units.Update(ctx, secondary); err != nil {
		return nil, 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to retire secondary unit")
	}
	if err := r.units.Update(ctx, primary); err != nil {
		return nil, 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to update primary unit")
	}

	relinked := 0
	if r.relinker != nil {
		relinked, err = r.relinker.RelinkCanonical(ctx, secondaryID, primaryID)
		if err != nil {
			return nil, 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to re-point tenant units")
		}
	}
	if r.logger != nil {
		r.logger.InfoContext(ctx, "canonical units merged",
			"primary_id", primaryID.String(),
			"secondary_id", secondaryID.String(),
			"relinked_units", relinked,
		)
	}
	return primary, relinked, nil
}

// RenamePrimary fixes a canonical display name; the old name drops into the
// alternates so previously matched spellings keep scoring.
func (r *Registry) RenamePrimary(ctx context.Context, canonicalID id.CanonicalID, newName string) (*models.CanonicalUnit, error) {
	if newName == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "new name is required")
	}
	canonical, err := r.units.FindByID(ctx, canonicalID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "canonical unit not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load canonical unit")
	}
	oldName := canonical.PrimaryName
	canonical.PrimaryName = newName
	canonical.NormalizedName = matcher.Normalize(newName)
	canonical.AddAlternateName(oldName)
	canonical.UpdatedAt = requestcontext.Now(ctx)
	if err := r.units.Update(ctx, canonical); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.New(dErrors.CodeConflict, "another canonical unit already holds that name in this scope")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to rename canonical unit")
	}
	return canonical, nil
}

// ReassignParent moves a canonical unit under a different parent one level
// above it, fixing placement tenants disagreed on. Children stay attached;
// only this unit's edge moves.
func (r *Registry) ReassignParent(ctx context.Context, canonicalID id.CanonicalID, newParentID id.CanonicalID) (*models.CanonicalUnit, error) {
	canonical, err := r.Get(ctx, canonicalID)
	if err != nil {
		return nil, err
	}
	parent, err := r.Get(ctx, newParentID)
	if err != nil {
		return nil, err
	}
	if parent.Retired {
		return nil, dErrors.New(dErrors.CodeInvalidHierarchy, "new parent is retired")
	}
	if parent.Level != canonical.Level-1 {
		return nil, dErrors.New(dErrors.CodeInvalidHierarchy, "new parent must be exactly one level above the unit")
	}
	canonical.ParentID = &parent.ID
	canonical.UpdatedAt = requestcontext.Now(ctx)
	if err := r.units.Update(ctx, canonical); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.New(dErrors.CodeConflict, "the new parent already has a unit with this name")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to reassign parent")
	}
	return canonical, nil
}

// Get returns one canonical unit.
func (r *Registry) Get(ctx context.Context, canonicalID id.CanonicalID) (*models.CanonicalUnit, error) {
	canonical, err := r.units.FindByID(ctx, canonicalID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "canonical unit not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load canonical unit")
	}
	return canonical, nil
}

// Resolve follows merge pointers to the surviving unit for a canonical id.
func (r *Registry) Resolve(ctx context.Context, canonicalID id.CanonicalID) (*models.CanonicalUnit, error) {
	canonical, err := r.Get(ctx, canonicalID)
	if err != nil {
		return nil, err
	}
	for canonical.Retired && canonical.MergedInto != nil {
		canonical, err = r.Get(ctx, *canonical.MergedInto)
		if err != nil {
			return nil, err
		}
	}
	return canonical, nil
}

// Replay support: the registry rebuilds itself from ledger history.

// ApplyUnitCreated re-creates a canonical unit with its recorded id.
func (r *Registry) ApplyUnitCreated(ctx context.Context, entry ledger.Entry, p ledger.UnitCreated) error {
	var parent *id.CanonicalID
	if !p.ParentID.IsNil() {
		parentID := p.ParentID
		parent = &parentID
	}
	canonical, err := models.NewCanonicalUnit(p.CanonicalID, p.Level, parent, p.PrimaryName, p.NormalizedName, entry.TenantID, entry.Timestamp)
	if err != nil {
		return err
	}
	if err := r.units.Create(ctx, canonical); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "replay: create canonical unit")
	}
	return nil
}

// ApplyUnitMatched replays an accepted link.
func (r *Registry) ApplyUnitMatched(ctx context.Context, entry ledger.Entry, p ledger.UnitMatched) error {
	canonical, err := r.units.FindByID(ctx, p.CanonicalID)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "replay: load canonical unit")
	}
	if p.NameAdded != "" {
		canonical.AddAlternateName(p.NameAdded)
	}
	canonical.AddTenantRef(entry.TenantID)
	canonical.UpdatedAt = entry.Timestamp
	if err := r.units.Update(ctx, canonical); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "replay: link canonical unit")
	}
	return nil
}

// ApplyUnitMerged replays a fold.
func (r *Registry) ApplyUnitMerged(ctx context.Context, entry ledger.Entry, p ledger.UnitMerged) error {
	_, _, err := r.MergeUnits(requestcontext.WithTime(ctx, entry.Timestamp), p.PrimaryID, p.SecondaryID)
	return err
}
