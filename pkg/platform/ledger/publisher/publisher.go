// Package publisher provides the fail-closed ledger emitter.
//
// Emit blocks until the entry is durably persisted. If the write fails, an
// error is returned and the calling operation MUST fail: a registry mutation
// without its ledger entry would make the history unreplayable.
package publisher

import (
	"context"
	"log/slog"

	dErrors "geosync/pkg/domain-errors"
	"geosync/pkg/platform/ledger"
)

// Publisher emits ledger entries with fail-closed semantics.
type Publisher struct {
	store   ledger.Store
	logger  *slog.Logger
	metrics *Metrics
}

// Option configures the Publisher.
type Option func(*Publisher)

// WithLogger sets a logger for decision trace lines.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *Metrics) Option {
	return func(p *Publisher) {
		p.metrics = m
	}
}

// New creates a ledger publisher. The store should be outbox-backed in
// production so entries also reach Kafka.
func New(store ledger.Store, opts ...Option) *Publisher {
	p := &Publisher{store: store}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Emit synchronously appends one entry. Callers run Emit inside the same
// transaction as their registry mutation and abort the whole operation on
// error.
func (p *Publisher) Emit(ctx context.Context, entry ledger.Entry) error {
	if err := p.store.Append(ctx, entry); err != nil {
		if p.metrics != nil {
			p.metrics.AppendFailures.Inc()
		}
		if p.logger != nil {
			p.logger.ErrorContext(ctx, "ledger append failed",
				"entry_id", entry.ID.String(),
				"kind", string(entry.Kind()),
				"unit_id", entry.UnitID.String(),
				"error", err,
			)
		}
		return dErrors.Wrap(err, dErrors.CodeSyncPersistence, "ledger append failed")
	}
	if p.metrics != nil {
		p.metrics.Appended.WithLabelValues(string(entry.Kind())).Inc()
	}
	if p.logger != nil {
		p.logger.InfoContext(ctx, "ledger entry appended",
			"log_type", "ledger",
			"entry_id", entry.ID.String(),
			"kind", string(entry.Kind()),
			"tenant_id", entry.TenantID.String(),
			"unit_id", entry.UnitID.String(),
		)
	}
	return nil
}
