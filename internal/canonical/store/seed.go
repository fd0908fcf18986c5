package store

import (
	"context"
	"errors"
	"time"

	"geosync/internal/canonical/matcher"
	"geosync/internal/canonical/models"
	id "geosync/pkg/domain"
	"geosync/pkg/platform/sentinel"
)

// SeedUnit is one row of an official administrative list, loadable from a
// JSON seed file.
type SeedUnit struct {
	Level      int      `json:"level"`
	Parent     string   `json:"parent,omitempty"` // primary name of the parent, resolved within the seed batch
	Name       string   `json:"name"`
	Alternates []string `json:"alternates,omitempty"`
}

// Seed preloads canonical units from an official list, verified from the
// start. Parents must appear before their children in the slice. Units whose
// scope is already taken are skipped, so reseeding is safe.
func Seed(ctx context.Context, s Store, units []SeedUnit, now time.Time) (int, error) {
	byName := make(map[string]id.CanonicalID)
	created := 0

	for _, su := range units {
		var parentID *id.CanonicalID
		if su.Parent != "" {
			pid, ok := byName[su.Parent]
			if !ok {
				return created, errors.New("seed: parent not seen before child: " + su.Parent)
			}
			parentID = &pid
		}

		unit := &models.CanonicalUnit{
			ID:             id.NewCanonicalID(),
			Level:          su.Level,
			ParentID:       parentID,
			PrimaryName:    su.Name,
			NormalizedName: matcher.Normalize(su.Name),
			AlternateNames: su.Alternates,
			TenantRefs:     map[id.TenantID]struct{}{},
			Verification:   models.VerificationVerified,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := s.Create(ctx, unit); err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				existing, findErr := s.FindByScope(ctx, parentID, su.Level, unit.NormalizedName)
				if findErr != nil {
					return created, findErr
				}
				byName[su.Name] = existing.ID
				continue
			}
			return created, err
		}
		byName[su.Name] = unit.ID
		created++
	}
	return created, nil
}
