package auth

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Middleware is an interface for HTTP middleware
type Middleware func(http.Handler) http.Handler

// RegisterRoutes registers all authentication routes with the Chi router.
// loginLimiter guards register and login; authMiddleware guards /me.
func RegisterRoutes(r chi.Router, handler *AuthHandler, authMiddleware, loginLimiter Middleware) {
	r.Route("/auth", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			if loginLimiter != nil {
				r.Use(loginLimiter)
			}
			r.Post("/register", handler.Register)
			r.Post("/login", handler.Login)
		})

		r.Post("/verify", handler.Verify)

		r.Group(func(r chi.Router) {
			r.Use(authMiddleware)
			r.Get("/me", handler.GetMe)
		})
	})
}
