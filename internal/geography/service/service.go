package service

import (
	"context"
	"log/slog"

	"geosync/internal/canonical/matcher"
	canonicalmodels "geosync/internal/canonical/models"
	"geosync/internal/geography/metrics"
	"geosync/internal/geography/models"
	id "geosync/pkg/domain"
	"geosync/pkg/platform/ledger"
)

// UnitStore persists tenant geography units.
type UnitStore interface {
	Create(ctx context.Context, unit *models.TenantGeoUnit) error
	Update(ctx context.Context, unit *models.TenantGeoUnit) error
	FindByID(ctx context.Context, tenantID id.TenantID, unitID id.UnitID) (*models.TenantGeoUnit, error)
	FindDuplicate(ctx context.Context, tenantID id.TenantID, level int, parentID *id.UnitID, declaredName string) (*models.TenantGeoUnit, error)
	ListByTenant(ctx context.Context, tenantID id.TenantID) ([]*models.TenantGeoUnit, error)
}

// Matcher scores a declared name against the canonical registry.
type Matcher interface {
	Match(ctx context.Context, declaredName string, level int, canonicalParent *id.CanonicalID) (*matcher.Result, error)
}

// Registry is the canonical-side surface ingest needs.
type Registry interface {
	CreateFromTenantUnit(ctx context.Context, unit *models.TenantGeoUnit, normalized string, canonicalParent *id.CanonicalID) (*canonicalmodels.CanonicalUnit, bool, error)
	LinkTenantUnit(ctx context.Context, canonicalID id.CanonicalID, tenantID id.TenantID, declaredName string) (*canonicalmodels.CanonicalUnit, string, error)
}

// ConflictOpener files a review case for an ambiguous submission.
type ConflictOpener interface {
	Open(ctx context.Context, unit *models.TenantGeoUnit, candidates []ledger.Candidate) (id.CaseID, error)
}

// LedgerPublisher appends sync outcomes to the ledger, fail-closed.
type LedgerPublisher interface {
	Emit(ctx context.Context, entry ledger.Entry) error
}

// TxRunner executes fn atomically. The postgres runner opens a transaction
// and carries it in the context for every store touched inside fn; the
// memory runner just calls fn.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// TxRunnerFunc adapts a function to TxRunner.
type TxRunnerFunc func(ctx context.Context, fn func(ctx context.Context) error) error

func (f TxRunnerFunc) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return f(ctx, fn)
}

// NopTxRunner runs fn directly, for memory-backed wiring and tests.
func NopTxRunner() TxRunner {
	return TxRunnerFunc(func(ctx context.Context, fn func(ctx context.Context) error) error {
		return fn(ctx)
	})
}

// Service orchestrates tenant unit ingest: hierarchy validation, candidate
// matching, canonical registration or linking, conflict escalation, and the
// ledger write, all committed together.
type Service struct {
	units     UnitStore
	matcher   Matcher
	registry  Registry
	conflicts ConflictOpener
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

func New(units UnitStore, m Matcher, registry Registry, conflicts ConflictOpener, publisher LedgerPublisher, txRunner TxRunner, opts ...Option) *Service {
	s := &Service{
		units:     units,
		matcher:   m,
		registry:  registry,
		conflicts: conflicts,
		publisher: publisher,
		txRunner:  txRunner,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}
