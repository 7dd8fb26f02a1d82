// Package health provides health check endpoints for the backend service.
package health

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/welldanyogia/steel-scrap-yard/internal/api"
)

// Probe reports whether a dependency is reachable
type Probe func(ctx context.Context) error

// ServiceStatus represents the status of a single service
type ServiceStatus struct {
	Status  string `json:"status"`
	Latency string `json:"latency,omitempty"`
	Error   string `json:"error,omitempty"`
}

// HealthResponse represents the structured health check response
type HealthResponse struct {
	Status    string                   `json:"status"`
	Database  bool                     `json:"database"`
	Timestamp string                   `json:"timestamp"`
	Services  map[string]ServiceStatus `json:"services"`
	Version   string                   `json:"version,omitempty"`
}

// ReadinessResponse represents the readiness probe response
type ReadinessResponse struct {
	Ready     bool   `json:"ready"`
	Timestamp string `json:"timestamp"`
}

// LivenessResponse represents the liveness probe response
type LivenessResponse struct {
	Alive     bool   `json:"alive"`
	Timestamp string `json:"timestamp"`
}

// Handler handles health check requests
type Handler struct {
	database Probe
	checks   map[string]Probe
	version  string
	timeout  time.Duration
	now      func() time.Time
	ready    bool
	mu       sync.RWMutex
}

// Config holds health handler configuration
type Config struct {
	// Database backs the availability flag and readiness
	Database Probe
	// Checks are optional dependencies reported under services
	Checks  map[string]Probe
	Version string
	Timeout time.Duration // default 5s
}

// NewHandler creates a new health check handler
func NewHandler(cfg Config) *Handler {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}

	checks := make(map[string]Probe, len(cfg.Checks))
	for name, p := range cfg.Checks {
		if p != nil {
			checks[name] = p
		}
	}

	return &Handler{
		database: cfg.Database,
		checks:   checks,
		version:  cfg.Version,
		timeout:  timeout,
		now:      time.Now,
		ready:    true,
	}
}

// RegisterRoutes mounts /health, /health/live and /health/ready
func RegisterRoutes(r chi.Router, h *Handler) {
	r.Get("/health", h.Health)
	r.Get("/health/live", h.Liveness)
	r.Get("/health/ready", h.Readiness)
}

// SetReady sets the readiness state of the service
func (h *Handler) SetReady(ready bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ready = ready
}

// IsReady returns the current readiness state
func (h *Handler) IsReady() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.ready
}

// Health reports every dependency. It answers 200 even when the database is
// down: the service keeps classifying uploads without persistence.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	services := make(map[string]ServiceStatus, len(h.checks)+1)
	overallStatus := "healthy"

	dbStatus := check(ctx, h.database)
	services["database"] = dbStatus
	if dbStatus.Status != "up" {
		overallStatus = "degraded"
	}

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		status := check(ctx, h.checks[name])
		services[name] = status
		if status.Status != "up" {
			overallStatus = "degraded"
		}
	}

	api.WriteJSON(w, http.StatusOK, HealthResponse{
		Status:    overallStatus,
		Database:  dbStatus.Status == "up",
		Timestamp: h.now().UTC().Format(time.RFC3339),
		Services:  services,
		Version:   h.version,
	})
}

// Readiness fails while shutting down or while the database is unreachable
func (h *Handler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	ready := h.IsReady()
	if ready && check(ctx, h.database).Status != "up" {
		ready = false
	}

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	api.WriteJSON(w, status, ReadinessResponse{
		Ready:     ready,
		Timestamp: h.now().UTC().Format(time.RFC3339),
	})
}

// Liveness handles the liveness probe endpoint
func (h *Handler) Liveness(w http.ResponseWriter, _ *http.Request) {
	api.WriteJSON(w, http.StatusOK, LivenessResponse{
		Alive:     true,
		Timestamp: h.now().UTC().Format(time.RFC3339),
	})
}

func check(ctx context.Context, probe Probe) ServiceStatus {
	if probe == nil {
		return ServiceStatus{Status: "down", Error: "not configured"}
	}

	start := time.Now()
	err := probe(ctx)
	latency := time.Since(start)

	if err != nil {
		return ServiceStatus{
			Status:  "down",
			Latency: latency.String(),
			Error:   err.Error(),
		}
	}
	return ServiceStatus{Status: "up", Latency: latency.String()}
}
