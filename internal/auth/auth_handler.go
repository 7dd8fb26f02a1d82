package auth

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/welldanyogia/steel-scrap-yard/internal/api"
	appctx "github.com/welldanyogia/steel-scrap-yard/internal/context"
	"github.com/welldanyogia/steel-scrap-yard/internal/logger"
)

// AuthHandler handles HTTP requests for authentication endpoints
type AuthHandler struct {
	authService *AuthService
	logger      *slog.Logger
}

// NewAuthHandler creates a new AuthHandler instance
func NewAuthHandler(authService *AuthService, log *slog.Logger) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		logger:      logger.OrDefault(log),
	}
}

// Register handles user registration
// POST /auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := api.DecodeJSON(w, r, &req); err != nil {
		api.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	resp, err := h.authService.Register(r.Context(), req)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	api.WriteSuccess(w, http.StatusCreated, api.M{
		"user":          resp.User,
		"session_token": resp.SessionToken,
		"expires_at":    resp.ExpiresAt,
	})
}

// Login handles user authentication
// POST /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := api.DecodeJSON(w, r, &req); err != nil {
		api.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	resp, err := h.authService.Login(r.Context(), req)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	api.WriteSuccess(w, http.StatusOK, api.M{
		"user":          resp.User,
		"session_token": resp.SessionToken,
		"expires_at":    resp.ExpiresAt,
	})
}

// Verify checks a session token sent in the body
// POST /auth/verify
func (h *AuthHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req VerifyRequest
	if err := api.DecodeJSON(w, r, &req); err != nil || req.SessionToken == "" {
		api.WriteError(w, http.StatusUnauthorized, "Invalid or expired session")
		return
	}

	user, err := h.authService.Verify(r.Context(), req.SessionToken)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	api.WriteSuccess(w, http.StatusOK, api.M{"user": user})
}

// GetMe returns the authenticated user
// GET /auth/me
func (h *AuthHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := appctx.ExtractUserID(r.Context())
	if !ok {
		api.WriteError(w, http.StatusUnauthorized, "Invalid or expired session")
		return
	}

	user, err := h.authService.CurrentUser(r.Context(), userID)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	api.WriteSuccess(w, http.StatusOK, api.M{"user": user})
}

// handleError maps auth errors to HTTP responses with generic messages
func (h *AuthHandler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *ValidationErrors
	switch {
	case errors.As(err, &verr):
		api.WriteJSON(w, http.StatusBadRequest, api.ErrorResponse{
			Status:  api.StatusError,
			Code:    api.CodeValidationError,
			Message: "Request validation failed",
			Details: verr.Fields,
		})
	case errors.Is(err, ErrUnknownFactory):
		api.WriteError(w, http.StatusBadRequest, "Unknown factory")
	case errors.Is(err, ErrEmailExists):
		api.WriteError(w, http.StatusConflict, "An account with this email already exists")
	case errors.Is(err, ErrInvalidCredentials):
		api.WriteError(w, http.StatusUnauthorized, "Invalid credentials")
	case errors.Is(err, ErrInvalidSession):
		api.WriteError(w, http.StatusUnauthorized, "Invalid or expired session")
	case errors.Is(err, ErrRoleMismatch):
		api.WriteError(w, http.StatusForbidden, "Role mismatch")
	case errors.Is(err, ErrAccountDisabled):
		api.WriteError(w, http.StatusForbidden, "Account disabled")
	default:
		logger.WithCorrelationID(r.Context(), h.logger).Error("Auth request failed", "error", err)
		api.WriteError(w, http.StatusInternalServerError, "An unexpected error occurred")
	}
}
