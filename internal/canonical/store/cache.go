package store

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"geosync/internal/canonical/models"
	id "geosync/pkg/domain"
)

// CandidateCache is a read-through Redis cache in front of ListActive, the
// hot path of every ingest: candidate scans hit one (parent, level) scope
// repeatedly while a tenant imports its tree. Writes invalidate the affected
// scope; a cache miss or Redis outage falls through to the inner store.
type CandidateCache struct {
	inner  Store
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// Store is the full canonical store surface the registry depends on.
type Store interface {
	Create(ctx context.Context, unit *models.CanonicalUnit) error
	Update(ctx context.Context, unit *models.CanonicalUnit) error
	FindByID(ctx context.Context, canonicalID id.CanonicalID) (*models.CanonicalUnit, error)
	FindByScope(ctx context.Context, parentID *id.CanonicalID, level int, normalized string) (*models.CanonicalUnit, error)
	ListActive(ctx context.Context, parentID *id.CanonicalID, level int) ([]*models.CanonicalUnit, error)
}

// NewCandidateCache wraps inner with Redis caching. A nil client returns the
// inner store unchanged, mirroring the optional-Redis wiring in main.
func NewCandidateCache(inner Store, client *redis.Client, ttl time.Duration, logger *slog.Logger) Store {
	if client == nil {
		return inner
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CandidateCache{inner: inner, client: client, ttl: ttl, logger: logger}
}

func cacheKey(parentID *id.CanonicalID, level int) string {
	parent := "root"
	if parentID != nil {
		parent = parentID.String()
	}
	return "geosync:candidates:" + parent + ":" + itoaLevel(level)
}

func itoaLevel(level int) string {
	// Levels are single digits by model invariant.
	return string([]byte{byte('0' + level)})
}

func (c *CandidateCache) ListActive(ctx context.Context, parentID *id.CanonicalID, level int) ([]*models.CanonicalUnit, error) {
	key := cacheKey(parentID, level)
	raw, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var units []*models.CanonicalUnit
		if jsonErr := json.Unmarshal(raw, &units); jsonErr == nil {
			return units, nil
		}
		// Corrupt entry: drop it and fall through.
		c.client.Del(ctx, key)
	} else if err != redis.Nil && c.logger != nil {
		c.logger.WarnContext(ctx, "candidate cache read failed", "error", err)
	}

	units, err := c.inner.ListActive(ctx, parentID, level)
	if err != nil {
		return nil, err
	}
	if encoded, jsonErr := json.Marshal(units); jsonErr == nil {
		if setErr := c.client.Set(ctx, key, encoded, c.ttl).Err(); setErr != nil && c.logger != nil {
			c.logger.WarnContext(ctx, "candidate cache write failed", "error", setErr)
		}
	}
	return units, nil
}

func (c *CandidateCache) Create(ctx context.Context, unit *models.CanonicalUnit) error {
	if err := c.inner.Create(ctx, unit); err != nil {
		return err
	}
	c.invalidate(ctx, unit)
	return nil
}

func (c *CandidateCache) Update(ctx context.Context, unit *models.CanonicalUnit) error {
	if err := c.inner.Update(ctx, unit); err != nil {
		return err
	}
	c.invalidate(ctx, unit)
	return nil
}

func (c *CandidateCache) FindByID(ctx context.Context, canonicalID id.CanonicalID) (*models.CanonicalUnit, error) {
	return c.inner.FindByID(ctx, canonicalID)
}

func (c *CandidateCache) FindByScope(ctx context.Context, parentID *id.CanonicalID, level int, normalized string) (*models.CanonicalUnit, error) {
	return c.inner.FindByScope(ctx, parentID, level, normalized)
}

func (c *CandidateCache) invalidate(ctx context.Context, unit *models.CanonicalUnit) {
	if err := c.client.Del(ctx, cacheKey(unit.ParentID, unit.Level)).Err(); err != nil && c.logger != nil {
		c.logger.WarnContext(ctx, "candidate cache invalidation failed", "error", err)
	}
}
