package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Applier receives registry-effect entries during replay. The canonical
// registry implements this to rebuild its state from history, e.g. after
// disaster recovery or a matcher version migration.
//
// Only unit_created, unit_matched and unit_merged mutate the registry.
// Conflict entries are audit records; the registry effect of a resolution is
// always written as its own entry in the same transaction, so replay can
// skip conflict kinds entirely.
type Applier interface {
	ApplyUnitCreated(ctx context.Context, entry Entry, payload UnitCreated) error
	ApplyUnitMatched(ctx context.Context, entry Entry, payload UnitMatched) error
	ApplyUnitMerged(ctx context.Context, entry Entry, payload UnitMerged) error
}

// Replayer re-runs recorded decisions against an Applier.
type Replayer struct {
	store  Store
	logger *slog.Logger
}

func NewReplayer(store Store, logger *slog.Logger) *Replayer {
	return &Replayer{store: store, logger: logger}
}

// ReplayFrom applies all entries recorded at or after since, oldest first.
// Replay stops at the first failing entry; a partial replay against a fresh
// registry is still consistent up to that point.
func (r *Replayer) ReplayFrom(ctx context.Context, since time.Time, applier Applier) (int, error) {
	entries, err := r.store.ListFrom(ctx, since)
	if err != nil {
		return 0, fmt.Errorf("replay: list entries: %w", err)
	}

	applied := 0
	for _, entry := range entries {
		if err := replayOne(ctx, entry, applier); err != nil {
			return applied, fmt.Errorf("replay entry %s (%s): %w", entry.ID, entry.Kind(), err)
		}
		applied++
	}
	if r.logger != nil {
		r.logger.InfoContext(ctx, "ledger replay complete",
			"since", since,
			"entries", len(entries),
			"applied", applied,
		)
	}
	return applied, nil
}

func replayOne(ctx context.Context, entry Entry, applier Applier) error {
	switch p := entry.Payload.(type) {
	case UnitCreated:
		return applier.ApplyUnitCreated(ctx, entry, p)
	case UnitMatched:
		return applier.ApplyUnitMatched(ctx, entry, p)
	case UnitMerged:
		return applier.ApplyUnitMerged(ctx, entry, p)
	case ConflictOpened, ConflictResolved:
		// Audit-only kinds: no registry effect.
		return nil
	default:
		return fmt.Errorf("unknown payload type %T", entry.Payload)
	}
}
