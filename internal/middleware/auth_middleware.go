package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/welldanyogia/steel-scrap-yard/internal/api"
	"github.com/welldanyogia/steel-scrap-yard/internal/auth"
	appctx "github.com/welldanyogia/steel-scrap-yard/internal/context"
)

// Authenticator resolves a bearer token to an identity
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*appctx.Identity, error)
}

// AuthMiddleware handles session authentication for protected routes
type AuthMiddleware struct {
	auth Authenticator
}

// NewAuthMiddleware creates a new AuthMiddleware instance
func NewAuthMiddleware(a Authenticator) *AuthMiddleware {
	return &AuthMiddleware{auth: a}
}

// bearerToken extracts the token from an Authorization header. ok is false
// when the header is absent; an empty token with ok true means malformed.
func bearerToken(r *http.Request) (token string, ok bool) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", false
	}
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", true
	}
	return strings.TrimSpace(token), true
}

// Authenticate rejects requests without a valid session token
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, present := bearerToken(r)
		if !present {
			api.WriteError(w, http.StatusUnauthorized, "Authorization header is required")
			return
		}
		if token == "" {
			api.WriteError(w, http.StatusUnauthorized, "Invalid authorization header format")
			return
		}

		identity, err := m.auth.Authenticate(r.Context(), token)
		if err != nil {
			writeAuthError(w, err)
			return
		}

		next.ServeHTTP(w, r.WithContext(appctx.WithIdentity(r.Context(), identity)))
	})
}

// Optional attaches the identity when a valid token is sent and passes
// every request through
func (m *AuthMiddleware) Optional(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if token, _ := bearerToken(r); token != "" {
			if identity, err := m.auth.Authenticate(r.Context(), token); err == nil {
				r = r.WithContext(appctx.WithIdentity(r.Context(), identity))
			}
		}
		next.ServeHTTP(w, r)
	})
}

// RequireRole allows only identities holding one of roles
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	allowed := make(map[string]bool, len(roles))
	for _, role := range roles {
		allowed[role] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := appctx.ExtractIdentity(r.Context())
			if !ok {
				api.WriteError(w, http.StatusUnauthorized, "Invalid or expired session")
				return
			}
			if !allowed[identity.Role] {
				api.WriteError(w, http.StatusForbidden, "Forbidden")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeAuthError(w http.ResponseWriter, err error) {
	if errors.Is(err, auth.ErrAccountDisabled) {
		api.WriteError(w, http.StatusForbidden, "Account disabled")
		return
	}
	api.WriteError(w, http.StatusUnauthorized, "Invalid or expired session")
}
