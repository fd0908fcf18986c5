package ledger

import (
	"context"
	"time"

	id "geosync/pkg/domain"
)

// Store persists ledger entries. Append is the only mutation; entries are
// never updated or deleted. Implementations must honor a transaction carried
// in context (pkg/platform/tx) so an append commits atomically with the
// registry mutation it describes.
type Store interface {
	Append(ctx context.Context, entry Entry) error
	// ListFrom returns entries with Timestamp >= since, oldest first.
	// Ordering must be stable for replay.
	ListFrom(ctx context.Context, since time.Time) ([]Entry, error)
	// ListByUnit returns all entries for one tenant unit, oldest first.
	ListByUnit(ctx context.Context, unitID id.UnitID) ([]Entry, error)
}
