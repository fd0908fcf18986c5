package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"geosync/internal/geography/models"
	geoservice "geosync/internal/geography/service"
	"geosync/internal/http/shared"
	id "geosync/pkg/domain"
	dErrors "geosync/pkg/domain-errors"
	"geosync/pkg/platform/middleware/tenantauth"
	"geosync/pkg/requestcontext"
)

// Service defines the geography operations the handler exposes.
type Service interface {
	Ingest(ctx context.Context, req models.IngestRequest) (*geoservice.IngestResult, error)
	Get(ctx context.Context, unitID id.UnitID) (*models.TenantGeoUnit, error)
	List(ctx context.Context) ([]*models.TenantGeoUnit, error)
	Retire(ctx context.Context, unitID id.UnitID) (*models.TenantGeoUnit, error)
}

// Handler exposes the tenant-facing geography endpoints.
type Handler struct {
	geography Service
	logger    *slog.Logger
	validator tenantauth.TokenValidator
}

// New creates a new geography Handler.
func New(geography Service, logger *slog.Logger, validator tenantauth.TokenValidator) *Handler {
	return &Handler{
		geography: geography,
		logger:    logger,
		validator: validator,
	}
}

// Register mounts the geography routes. All routes require a tenant token.
func (h *Handler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(tenantauth.RequireTenant(h.validator, h.logger))
		r.Post("/geography/units", h.handleIngest)
		r.Get("/geography/units", h.handleList)
		r.Get("/geography/units/{unitID}", h.handleGet)
		r.Delete("/geography/units/{unitID}", h.handleRetire)
	})
}

type ingestResponse struct {
	Unit        *models.TenantGeoUnit `json:"unit"`
	Outcome     string                `json:"outcome"`
	CanonicalID string                `json:"canonical_id,omitempty"`
	CaseID      string                `json:"case_id,omitempty"`
}

func (h *Handler) handleIngest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req models.IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.WarnContext(ctx, "invalid ingest request",
			"request_id", requestcontext.RequestID(ctx),
			"error", err.Error(),
		)
		shared.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "invalid request body"))
		return
	}

	result, err := h.geography.Ingest(ctx, req)
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	resp := ingestResponse{Unit: result.Unit, Outcome: string(result.Outcome)}
	if result.Canonical != nil {
		resp.CanonicalID = result.Canonical.ID.String()
	}
	if !result.CaseID.IsNil() {
		resp.CaseID = result.CaseID.String()
	}

	status := http.StatusCreated
	if result.Outcome == geoservice.OutcomeDuplicate {
		status = http.StatusOK
	}
	shared.WriteJSON(w, status, resp)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	unitID, err := id.ParseUnitID(chi.URLParam(r, "unitID"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	unit, err := h.geography.Get(r.Context(), unitID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, unit)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	units, err := h.geography.List(r.Context())
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, map[string]any{"units": units})
}

func (h *Handler) handleRetire(w http.ResponseWriter, r *http.Request) {
	unitID, err := id.ParseUnitID(chi.URLParam(r, "unitID"))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	unit, err := h.geography.Retire(r.Context(), unitID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, unit)
}
