package history

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/welldanyogia/steel-scrap-yard/internal/access"
	"github.com/welldanyogia/steel-scrap-yard/internal/api"
	appctx "github.com/welldanyogia/steel-scrap-yard/internal/context"
	"github.com/welldanyogia/steel-scrap-yard/internal/logger"
	"github.com/welldanyogia/steel-scrap-yard/internal/middleware"
	"github.com/welldanyogia/steel-scrap-yard/internal/repository"
)

var validate = validator.New()

// SubmitRequest is sent by a labourer
type SubmitRequest struct {
	AnalysisID string `json:"analysis_id" validate:"required"`
	Notes      string `json:"notes"`
}

// VerifyRequest is sent by an owner
type VerifyRequest struct {
	AnalysisID                string                 `json:"analysis_id" validate:"required"`
	VerificationStatus        string                 `json:"verification_status" validate:"required,oneof=approved rejected"`
	OwnerNotes                string                 `json:"owner_notes"`
	CorrectedScrapPredictions repository.Predictions `json:"corrected_scrap_predictions"`
	CorrectedPlatePredictions repository.Predictions `json:"corrected_plate_predictions"`
}

// Handler serves history, analytics and verification routes
type Handler struct {
	service *Service
	mode    access.Mode
	logger  *slog.Logger
}

// NewHandler creates a history handler
func NewHandler(service *Service, mode access.Mode, log *slog.Logger) *Handler {
	return &Handler{service: service, mode: mode, logger: logger.OrDefault(log)}
}

// RegisterRoutes mounts the read routes, the owner aliases and the
// verification workflow
func RegisterRoutes(r chi.Router, h *Handler, auth *middleware.AuthMiddleware) {
	r.Group(func(r chi.Router) {
		r.Use(auth.Optional)
		r.Get("/history", h.List)
		r.Get("/analytics", h.Analytics)
		r.Get("/analysis/{id}", h.Get)
	})

	r.Group(func(r chi.Router) {
		r.Use(auth.Authenticate, middleware.RequireRole(string(repository.RoleOwner), string(repository.RoleAdmin)))
		r.Get("/owner/history", h.List)
		r.Get("/owner/analytics", h.Analytics)
		r.Get("/owner/pending-verifications", h.Pending)
		r.Post("/owner/verify-analysis", h.Verify)
		r.Delete("/analysis/{id}", h.Delete)
	})

	r.Group(func(r chi.Router) {
		r.Use(auth.Authenticate, middleware.RequireRole(string(repository.RoleLabourer)))
		r.Post("/labourer/submit-analysis", h.Submit)
	})
}

func (h *Handler) scope(r *http.Request) (access.Scope, error) {
	identity, _ := appctx.ExtractIdentity(r.Context())
	return access.Resolve(identity, r.URL.Query().Get("factory_id"), h.mode)
}

// List returns paged history
// GET /history?factory_id=&page=&limit=
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	scope, err := h.scope(r)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	page, err := queryInt(r, "page")
	if err != nil {
		api.WriteError(w, http.StatusBadRequest, "page must be a positive integer")
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		api.WriteError(w, http.StatusBadRequest, "limit must be a positive integer")
		return
	}

	result, err := h.service.List(r.Context(), scope, page, limit)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	api.WriteSuccess(w, http.StatusOK, api.M{
		"history": result.Records,
		"total":   result.Total,
		"page":    result.Page,
		"limit":   result.Limit,
	})
}

// Analytics returns aggregated counts
// GET /analytics?range=7d|30d|90d|all&factory_id=
func (h *Handler) Analytics(w http.ResponseWriter, r *http.Request) {
	scope, err := h.scope(r)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	q := r.URL.Query()
	raw := q.Get("range")
	if raw == "" {
		raw = q.Get("time_range")
	}
	rng, err := ParseRange(raw)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	result, err := h.service.Analytics(r.Context(), scope, rng)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	api.WriteSuccess(w, http.StatusOK, api.M{"data": result})
}

// Get returns one analysis
// GET /analysis/{id}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	scope, err := h.scope(r)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	rec, err := h.service.Get(r.Context(), scope, chi.URLParam(r, "id"))
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	api.WriteSuccess(w, http.StatusOK, api.M{"analysis": rec})
}

// Delete removes one analysis
// DELETE /analysis/{id}
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	scope, err := h.scope(r)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	if err := h.service.Delete(r.Context(), scope, chi.URLParam(r, "id")); err != nil {
		h.handleError(w, r, err)
		return
	}
	api.WriteSuccess(w, http.StatusOK, api.M{"message": "Analysis deleted"})
}

// Submit hands an analysis to the owner for verification
// POST /labourer/submit-analysis
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if err := api.DecodeJSON(w, r, &req); err != nil {
		api.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	req.AnalysisID = strings.TrimSpace(req.AnalysisID)
	if err := validate.Struct(req); err != nil {
		api.WriteValidationError(w, err)
		return
	}

	scope, err := h.scope(r)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	rec, err := h.service.Submit(r.Context(), scope, req.AnalysisID, req.Notes)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	api.WriteSuccess(w, http.StatusOK, api.M{
		"message":  "Analysis submitted for verification",
		"analysis": rec,
	})
}

// Pending lists submitted analyses
// GET /owner/pending-verifications
func (h *Handler) Pending(w http.ResponseWriter, r *http.Request) {
	scope, err := h.scope(r)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	records, err := h.service.Pending(r.Context(), scope)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	api.WriteSuccess(w, http.StatusOK, api.M{"analyses": records, "total": len(records)})
}

// Verify records an owner's decision
// POST /owner/verify-analysis
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	var req VerifyRequest
	if err := api.DecodeJSON(w, r, &req); err != nil {
		api.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	req.AnalysisID = strings.TrimSpace(req.AnalysisID)
	if err := validate.Struct(req); err != nil {
		api.WriteValidationError(w, err)
		return
	}

	scope, err := h.scope(r)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	verifier, _ := appctx.ExtractUserID(r.Context())
	rec, err := h.service.Verify(r.Context(), scope, verifier, Decision{
		AnalysisID:       req.AnalysisID,
		Status:           req.VerificationStatus,
		OwnerNotes:       req.OwnerNotes,
		ScrapPredictions: req.CorrectedScrapPredictions,
		PlatePredictions: req.CorrectedPlatePredictions,
	})
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	api.WriteSuccess(w, http.StatusOK, api.M{
		"message":  "Analysis " + req.VerificationStatus,
		"analysis": rec,
	})
}

func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, access.ErrUnauthenticated):
		api.WriteError(w, http.StatusUnauthorized, "Invalid or expired session")
	case errors.Is(err, access.ErrForbidden):
		api.WriteError(w, http.StatusForbidden, "Forbidden")
	case errors.Is(err, repository.ErrNotFound):
		api.WriteError(w, http.StatusNotFound, "Analysis not found")
	case errors.Is(err, ErrInvalidRange), errors.Is(err, ErrInvalidDecision):
		api.WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrInvalidTransition):
		api.WriteError(w, http.StatusConflict, err.Error())
	default:
		logger.WithCorrelationID(r.Context(), h.logger).Error("History request failed", "error", err)
		api.WriteError(w, http.StatusInternalServerError, "An unexpected error occurred")
	}
}

// queryInt parses an optional positive integer query parameter
func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, errors.New(name + " must be a positive integer")
	}
	return n, nil
}
