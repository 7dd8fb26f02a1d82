package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
)

func up(context.Context) error   { return nil }
func down(context.Context) error { return errors.New("connection refused") }

func serve(h *Handler, path string) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	RegisterRoutes(r, h)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func decodeHealth(t *testing.T, rec *httptest.ResponseRecorder) HealthResponse {
	t.Helper()
	var resp HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return resp
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		cfg        Config
		wantStatus string
		wantDB     bool
	}{
		{"all up", Config{Database: up, Checks: map[string]Probe{"redis": up, "storage": up}}, "healthy", true},
		{"database down", Config{Database: down, Checks: map[string]Probe{"storage": up}}, "degraded", false},
		{"cache down", Config{Database: up, Checks: map[string]Probe{"redis": down}}, "degraded", true},
		{"no database probe", Config{}, "degraded", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(NewHandler(tt.cfg), "/health")
			if rec.Code != http.StatusOK {
				t.Fatalf("status code = %d, want 200", rec.Code)
			}
			resp := decodeHealth(t, rec)
			if resp.Status != tt.wantStatus || resp.Database != tt.wantDB {
				t.Errorf("response = %+v", resp)
			}
			if len(resp.Services) != len(tt.cfg.Checks)+1 {
				t.Errorf("services = %v", resp.Services)
			}
		})
	}
}

func TestHealth_ReportsProbeError(t *testing.T) {
	rec := serve(NewHandler(Config{Database: up, Checks: map[string]Probe{"redis": down, "skipped": nil}}), "/health")
	resp := decodeHealth(t, rec)
	if got := resp.Services["redis"]; got.Status != "down" || got.Error != "connection refused" {
		t.Errorf("redis = %+v", got)
	}
	if _, ok := resp.Services["skipped"]; ok {
		t.Error("nil probes should be dropped")
	}
}

func TestReadiness(t *testing.T) {
	h := NewHandler(Config{Database: up})
	if rec := serve(h, "/health/ready"); rec.Code != http.StatusOK {
		t.Errorf("ready: %d", rec.Code)
	}

	h.SetReady(false)
	if rec := serve(h, "/health/ready"); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("shutting down: %d", rec.Code)
	}

	if rec := serve(NewHandler(Config{Database: down}), "/health/ready"); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("database down: %d", rec.Code)
	}
}

func TestLiveness(t *testing.T) {
	rec := serve(NewHandler(Config{Database: down}), "/health/live")
	var resp LivenessResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if rec.Code != http.StatusOK || !resp.Alive {
		t.Errorf("liveness = %d %+v", rec.Code, resp)
	}
}
