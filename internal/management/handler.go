package management

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/welldanyogia/steel-scrap-yard/internal/access"
	"github.com/welldanyogia/steel-scrap-yard/internal/api"
	appctx "github.com/welldanyogia/steel-scrap-yard/internal/context"
	"github.com/welldanyogia/steel-scrap-yard/internal/logger"
	"github.com/welldanyogia/steel-scrap-yard/internal/middleware"
	"github.com/welldanyogia/steel-scrap-yard/internal/repository"
)

// Handler serves the admin and owner management routes
type Handler struct {
	service *Service
	mode    access.Mode
	logger  *slog.Logger
}

// NewHandler creates a management handler
func NewHandler(service *Service, mode access.Mode, log *slog.Logger) *Handler {
	return &Handler{service: service, mode: mode, logger: logger.OrDefault(log)}
}

// RegisterRoutes mounts /admin/* for admins and the owner provisioning
// routes for owners
func RegisterRoutes(r chi.Router, h *Handler, auth *middleware.AuthMiddleware) {
	r.Group(func(r chi.Router) {
		r.Use(auth.Authenticate, middleware.RequireRole(string(repository.RoleAdmin)))
		r.Post("/admin/create-owner", h.CreateOwner)
		r.Get("/admin/owners", h.ListOwners)
		r.Patch("/admin/owners/{id}/status", h.SetOwnerStatus)
		r.Get("/admin/stats", h.AdminStats)
	})

	r.Group(func(r chi.Router) {
		r.Use(auth.Authenticate, middleware.RequireRole(string(repository.RoleOwner)))
		r.Post("/owner/create-labourer", h.CreateLabourer)
		r.Get("/owner/labourers", h.ListLabourers)
		r.Patch("/owner/labourers/{id}/toggle-status", h.SetLabourerStatus)
		r.Get("/owner/stats", h.OwnerStats)
	})
}

// factory resolves the factory an owner request acts on
func (h *Handler) factory(r *http.Request) (*appctx.Identity, string, error) {
	identity, _ := appctx.ExtractIdentity(r.Context())
	scope, err := access.Resolve(identity, r.URL.Query().Get("factory_id"), h.mode)
	if err != nil {
		return nil, "", err
	}
	factoryID := scope.FactoryID
	if scope.All() && identity != nil {
		factoryID = identity.FactoryID
	}
	if factoryID == "" {
		return nil, "", access.ErrForbidden
	}
	return identity, factoryID, nil
}

// CreateOwner provisions an owner and factory
// POST /admin/create-owner
func (h *Handler) CreateOwner(w http.ResponseWriter, r *http.Request) {
	var req CreateOwnerRequest
	if err := api.DecodeJSON(w, r, &req); err != nil {
		api.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	adminID, _ := appctx.ExtractUserID(r.Context())
	created, err := h.service.CreateOwner(r.Context(), adminID, req)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	fields := api.M{"message": "Factory owner created", "owner": created.Owner}
	if created.GeneratedPassword != "" {
		fields["generated_password"] = created.GeneratedPassword
	}
	api.WriteSuccess(w, http.StatusCreated, fields)
}

// ListOwners lists owners with their factories
// GET /admin/owners
func (h *Handler) ListOwners(w http.ResponseWriter, r *http.Request) {
	owners, err := h.service.ListOwners(r.Context())
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	api.WriteSuccess(w, http.StatusOK, api.M{"owners": owners})
}

// SetOwnerStatus toggles an owner and their factory
// PATCH /admin/owners/{id}/status
func (h *Handler) SetOwnerStatus(w http.ResponseWriter, r *http.Request) {
	var req StatusRequest
	if err := api.DecodeJSON(w, r, &req); err != nil {
		api.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := validate.Struct(req); err != nil {
		api.WriteValidationError(w, err)
		return
	}

	owner, err := h.service.SetOwnerStatus(r.Context(), chi.URLParam(r, "id"), *req.IsActive)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	api.WriteSuccess(w, http.StatusOK, api.M{"owner": owner})
}

// AdminStats returns system totals
// GET /admin/stats
func (h *Handler) AdminStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.AdminStats(r.Context())
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	api.WriteSuccess(w, http.StatusOK, api.M{"stats": stats})
}

// CreateLabourer provisions a labourer in the owner's factory
// POST /owner/create-labourer
func (h *Handler) CreateLabourer(w http.ResponseWriter, r *http.Request) {
	var req CreateLabourerRequest
	if err := api.DecodeJSON(w, r, &req); err != nil {
		api.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	identity, factoryID, err := h.factory(r)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	labourer, err := h.service.CreateLabourer(r.Context(), identity.UserID, factoryID, req)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	api.WriteSuccess(w, http.StatusCreated, api.M{"message": "Labourer created", "labourer": labourer})
}

// ListLabourers lists the owner's labourers
// GET /owner/labourers
func (h *Handler) ListLabourers(w http.ResponseWriter, r *http.Request) {
	_, factoryID, err := h.factory(r)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	labourers, err := h.service.ListLabourers(r.Context(), factoryID)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	api.WriteSuccess(w, http.StatusOK, api.M{"labourers": labourers})
}

// SetLabourerStatus toggles one of the owner's labourers
// PATCH /owner/labourers/{id}/toggle-status
func (h *Handler) SetLabourerStatus(w http.ResponseWriter, r *http.Request) {
	var req StatusRequest
	if err := api.DecodeJSON(w, r, &req); err != nil {
		api.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := validate.Struct(req); err != nil {
		api.WriteValidationError(w, err)
		return
	}

	_, factoryID, err := h.factory(r)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	labourer, err := h.service.SetLabourerStatus(r.Context(), factoryID, chi.URLParam(r, "id"), *req.IsActive)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	api.WriteSuccess(w, http.StatusOK, api.M{"labourer": labourer})
}

// OwnerStats returns the owner's factory totals
// GET /owner/stats
func (h *Handler) OwnerStats(w http.ResponseWriter, r *http.Request) {
	_, factoryID, err := h.factory(r)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	stats, err := h.service.OwnerStats(r.Context(), factoryID)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	api.WriteSuccess(w, http.StatusOK, api.M{"stats": stats})
}

func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	var verrs validator.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		api.WriteValidationError(w, err)
	case errors.Is(err, ErrInvalidPassword):
		api.WriteError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrEmailExists):
		api.WriteError(w, http.StatusConflict, "An account with this email already exists")
	case errors.Is(err, ErrFactoryExists):
		api.WriteError(w, http.StatusConflict, "A factory with this name already exists")
	case errors.Is(err, access.ErrUnauthenticated):
		api.WriteError(w, http.StatusUnauthorized, "Invalid or expired session")
	case errors.Is(err, access.ErrForbidden):
		api.WriteError(w, http.StatusForbidden, "Forbidden")
	case errors.Is(err, repository.ErrNotFound):
		api.WriteError(w, http.StatusNotFound, "Not found")
	default:
		logger.WithCorrelationID(r.Context(), h.logger).Error("Management request failed", "error", err)
		api.WriteError(w, http.StatusInternalServerError, "An unexpected error occurred")
	}
}
