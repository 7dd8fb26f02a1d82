package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	reqctx "github.com/welldanyogia/steel-scrap-yard/internal/context"
	"github.com/welldanyogia/steel-scrap-yard/internal/logger"
	"github.com/welldanyogia/steel-scrap-yard/internal/repository"
)

// Auth service errors
var (
	ErrEmailExists        = errors.New("email already exists")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrRoleMismatch       = errors.New("role mismatch")
	ErrAccountDisabled    = errors.New("account disabled")
	ErrUnknownFactory     = errors.New("factory does not exist")
)

// RegisterRequest represents the registration request payload
type RegisterRequest struct {
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required"`
	Role      string `json:"role" validate:"required,oneof=admin owner labourer"`
	Name      string `json:"name" validate:"max=200"`
	FactoryID string `json:"factory_id"`
}

// LoginRequest represents the login request payload
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
	Role     string `json:"role" validate:"omitempty,oneof=admin owner labourer"`
}

// VerifyRequest represents the session verification payload
type VerifyRequest struct {
	SessionToken string `json:"session_token" validate:"required"`
}

// UserResponse represents the user data in responses
type UserResponse struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Role      string    `json:"role"`
	Name      string    `json:"name,omitempty"`
	FactoryID string    `json:"factory_id,omitempty"`
	OwnerID   string    `json:"owner_id,omitempty"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// AuthResponse is returned by register and login
type AuthResponse struct {
	User         UserResponse `json:"user"`
	SessionToken string       `json:"session_token"`
	ExpiresAt    time.Time    `json:"expires_at"`
}

// ValidationErrors wraps field-level request problems
type ValidationErrors struct {
	Fields map[string][]string
}

func (e *ValidationErrors) Error() string {
	return "validation failed"
}

var validate = validator.New()

// AuthService handles authentication business logic
type AuthService struct {
	users             repository.UserRepository
	factories         repository.FactoryRepository
	sessions          *SessionService
	passwordValidator *PasswordValidator
	logger            *slog.Logger
}

// NewAuthService creates a new AuthService instance
func NewAuthService(
	users repository.UserRepository,
	factories repository.FactoryRepository,
	sessions *SessionService,
	passwordValidator *PasswordValidator,
	log *slog.Logger,
) *AuthService {
	return &AuthService{
		users:             users,
		factories:         factories,
		sessions:          sessions,
		passwordValidator: passwordValidator,
		logger:            logger.OrDefault(log),
	}
}

// Passwords exposes the credential store for provisioning code
func (s *AuthService) Passwords() *PasswordValidator {
	return s.passwordValidator
}

func fieldErrors(err error) *ValidationErrors {
	out := &ValidationErrors{Fields: map[string][]string{}}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fe := range verrs {
			field := strings.ToLower(fe.Field())
			out.Fields[field] = append(out.Fields[field], "failed "+fe.Tag()+" check")
		}
	}
	return out
}

// Register creates a user with the requested role and opens a session
func (s *AuthService) Register(ctx context.Context, req RegisterRequest) (*AuthResponse, error) {
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if err := validate.Struct(req); err != nil {
		return nil, fieldErrors(err)
	}
	if perrs := s.passwordValidator.ValidatePassword(req.Password); len(perrs) > 0 {
		verr := &ValidationErrors{Fields: map[string][]string{}}
		for _, pe := range perrs {
			verr.Fields[pe.Field] = append(verr.Fields[pe.Field], pe.Message)
		}
		return nil, verr
	}

	if req.FactoryID != "" {
		if _, err := s.factories.GetByID(ctx, req.FactoryID); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, ErrUnknownFactory
			}
			return nil, err
		}
	}

	hash, err := s.passwordValidator.HashPassword(req.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &repository.User{
		Email:        req.Email,
		PasswordHash: hash,
		Role:         repository.Role(req.Role),
		Name:         req.Name,
		FactoryID:    req.FactoryID,
		IsActive:     true,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, ErrEmailExists
		}
		return nil, err
	}

	s.logger.Info("User registered", "user_id", user.ID, "role", user.Role)
	return s.openSession(ctx, user)
}

// Login checks credentials and an optional asserted role, then opens a session
func (s *AuthService) Login(ctx context.Context, req LoginRequest) (*AuthResponse, error) {
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if err := validate.Struct(req); err != nil {
		return nil, fieldErrors(err)
	}

	user, err := s.users.GetByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if !s.passwordValidator.VerifyPassword(req.Password, user.PasswordHash) {
		return nil, ErrInvalidCredentials
	}
	if !user.IsActive {
		return nil, ErrAccountDisabled
	}
	if req.Role != "" && repository.Role(req.Role) != user.Role {
		return nil, ErrRoleMismatch
	}

	return s.openSession(ctx, user)
}

func (s *AuthService) openSession(ctx context.Context, user *repository.User) (*AuthResponse, error) {
	token, session, err := s.sessions.Create(ctx, user)
	if err != nil {
		return nil, err
	}

	resp, err := s.userResponse(ctx, user)
	if err != nil {
		return nil, err
	}
	return &AuthResponse{User: *resp, SessionToken: token, ExpiresAt: session.ExpiresAt}, nil
}

// Authenticate resolves a bearer token to the caller's identity. The user
// record is reloaded so role and factory reflect the current state.
func (s *AuthService) Authenticate(ctx context.Context, token string) (*reqctx.Identity, error) {
	session, err := s.sessions.Verify(ctx, token)
	if err != nil {
		return nil, err
	}

	user, err := s.users.GetByID(ctx, session.UserID)
	if err != nil {
		return nil, ErrInvalidSession
	}
	if !user.IsActive {
		return nil, ErrAccountDisabled
	}

	return &reqctx.Identity{
		UserID:    user.ID,
		Email:     user.Email,
		Role:      string(user.Role),
		FactoryID: user.FactoryID,
	}, nil
}

// Verify returns the user behind a session token
func (s *AuthService) Verify(ctx context.Context, token string) (*UserResponse, error) {
	identity, err := s.Authenticate(ctx, token)
	if err != nil {
		return nil, err
	}
	return s.CurrentUser(ctx, identity.UserID)
}

// CurrentUser returns the response view of one user
func (s *AuthService) CurrentUser(ctx context.Context, userID string) (*UserResponse, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.userResponse(ctx, user)
}

// userResponse builds the public view; owner_id is the factory owner for
// labourers and the user itself for owners
func (s *AuthService) userResponse(ctx context.Context, user *repository.User) (*UserResponse, error) {
	resp := &UserResponse{
		ID:        user.ID,
		Email:     user.Email,
		Role:      string(user.Role),
		Name:      user.Name,
		FactoryID: user.FactoryID,
		IsActive:  user.IsActive,
		CreatedAt: user.CreatedAt,
	}

	switch user.Role {
	case repository.RoleOwner:
		resp.OwnerID = user.ID
	case repository.RoleLabourer:
		if user.FactoryID == "" {
			break
		}
		factory, err := s.factories.GetByID(ctx, user.FactoryID)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
		if factory != nil {
			resp.OwnerID = factory.OwnerID
		}
	}
	return resp, nil
}
