package main

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/welldanyogia/steel-scrap-yard/internal/api"
	"github.com/welldanyogia/steel-scrap-yard/internal/auth"
	"github.com/welldanyogia/steel-scrap-yard/internal/catalog"
	"github.com/welldanyogia/steel-scrap-yard/internal/config"
	"github.com/welldanyogia/steel-scrap-yard/internal/health"
	"github.com/welldanyogia/steel-scrap-yard/internal/history"
	"github.com/welldanyogia/steel-scrap-yard/internal/management"
	"github.com/welldanyogia/steel-scrap-yard/internal/metrics"
	"github.com/welldanyogia/steel-scrap-yard/internal/middleware"
	"github.com/welldanyogia/steel-scrap-yard/internal/storage"
	"github.com/welldanyogia/steel-scrap-yard/internal/upload"
)

// routerDeps are the handlers and stores the HTTP surface is built from
type routerDeps struct {
	auth       *auth.AuthService
	uploads    *upload.Handler
	history    *history.Handler
	management *management.Handler
	catalog    *catalog.Catalog
	health     *health.Handler
	blobs      storage.Store
}

// newRouter assembles every route. The returned func stops background
// work owned by the router.
func newRouter(cfg *config.Config, log *slog.Logger, deps routerDeps) (http.Handler, func()) {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.StructuredLogger(log))
	r.Use(chimw.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(chimw.Timeout(cfg.Server.WriteTimeout))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Security.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	authMiddleware := middleware.NewAuthMiddleware(deps.auth)
	loginLimiter := middleware.NewRateLimiter(cfg.Security.LoginRateLimit, cfg.Security.LoginRateWindow)

	health.RegisterRoutes(r, deps.health)
	r.Handle("/metrics", metrics.Handler())
	catalog.RegisterRoutes(r, deps.catalog)

	auth.RegisterRoutes(r, auth.NewAuthHandler(deps.auth, log), authMiddleware.Authenticate, loginLimiter.LimitByIP)
	upload.RegisterRoutes(r, deps.uploads, authMiddleware.Optional)
	history.RegisterRoutes(r, deps.history, authMiddleware)
	management.RegisterRoutes(r, deps.management, authMiddleware)

	if local, ok := deps.blobs.(*storage.LocalStore); ok {
		r.Handle("/static/*", http.StripPrefix("/static/", filesOnly(http.FileServer(http.Dir(local.Dir())))))
	}
	r.Get("/images/{key}", imageRedirect(deps.blobs))

	return r, loginLimiter.Stop
}

// filesOnly refuses directory listings
func filesOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "" || strings.HasSuffix(r.URL.Path, "/") {
			api.WriteError(w, http.StatusNotFound, "Not found")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// imageRedirect sends the browser to wherever the blob store serves key
// from: a pre-signed URL for S3, /static/ for local disk
func imageRedirect(blobs storage.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		target, err := blobs.URL(r.Context(), chi.URLParam(r, "key"))
		if errors.Is(err, storage.ErrInvalidKey) {
			api.WriteError(w, http.StatusBadRequest, "Invalid image key")
			return
		}
		if err != nil {
			api.WriteError(w, http.StatusInternalServerError, "Image unavailable")
			return
		}
		http.Redirect(w, r, target, http.StatusFound)
	}
}
