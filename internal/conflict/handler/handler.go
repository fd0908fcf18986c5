package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	canonicalmodels "geosync/internal/canonical/models"
	"geosync/internal/conflict/models"
	"geosync/internal/http/shared"
	id "geosync/pkg/domain"
	dErrors "geosync/pkg/domain-errors"
	"geosync/pkg/platform/middleware/admin"
	"geosync/pkg/requestcontext"
)

// Service defines the conflict review operations the handler exposes.
type Service interface {
	Get(ctx context.Context, caseID id.CaseID) (*models.ConflictCase, error)
	ListOpen(ctx context.Context) ([]*models.ConflictCase, error)
	Resolve(ctx context.Context, caseID id.CaseID, resolution models.Resolution) (*models.ConflictCase, error)
}

// Registry is the canonical lookup reviewers use to inspect candidates.
type Registry interface {
	Get(ctx context.Context, canonicalID id.CanonicalID) (*canonicalmodels.CanonicalUnit, error)
}

// Handler exposes the operator review queue.
type Handler struct {
	conflicts  Service
	registry   Registry
	logger     *slog.Logger
	adminToken string
}

// New creates a new conflict Handler.
func New(conflicts Service, registry Registry, logger *slog.Logger, adminToken string) *Handler {
	return &Handler{
		conflicts:  conflicts,
		registry:   registry,
		logger:     logger,
		adminToken: adminToken,
	}
}

// Register mounts the review routes behind the admin token.
func (h *Handler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(admin.RequireAdminToken(h.adminToken, h.logger))
		r.Get("/admin/conflicts", h.handleListOpen)
		r.Get("/admin/conflicts/{caseID}", h.handleGet)
		r.Post("/admin/conflicts/{caseID}/resolve", h.handleResolve)
		r.Get("/admin/canonical/{canonicalID}", h.handleGetCanonical)
	})
}

func (h *Handler) handleListOpen(w http.ResponseWriter, r *http.Request) {
	cases, err := h.conflicts.ListOpen(r.Context())
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, map[string]any{"cases": cases})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	caseID, err := id.ParseCaseID(chi.URLParam(r, "caseID"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	c, err := h.conflicts.Get(r.Context(), caseID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, c)
}

func (h *Handler) handleGetCanonical(w http.ResponseWriter, r *http.Request) {
	canonicalID, err := id.ParseCanonicalID(chi.URLParam(r, "canonicalID"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	unit, err := h.registry.Get(r.Context(), canonicalID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, map[string]any{
		"unit":         unit,
		"tenant_count": unit.TenantRefCount(),
	})
}

func (h *Handler) handleResolve(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	caseID, err := id.ParseCaseID(chi.URLParam(r, "caseID"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	var resolution models.Resolution
	if err := json.NewDecoder(r.Body).Decode(&resolution); err != nil {
		h.logger.WarnContext(ctx, "invalid resolution request",
			"request_id", requestcontext.RequestID(ctx),
			"error", err.Error(),
		)
		shared.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid request body"))
		return
	}

	resolved, err := h.conflicts.Resolve(ctx, caseID, resolution)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, resolved)
}
