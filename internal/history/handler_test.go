package history

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/welldanyogia/steel-scrap-yard/internal/access"
	appctx "github.com/welldanyogia/steel-scrap-yard/internal/context"
	"github.com/welldanyogia/steel-scrap-yard/internal/middleware"
)

// tokenAuth maps bearer tokens to identities
type tokenAuth map[string]*appctx.Identity

func (a tokenAuth) Authenticate(_ context.Context, token string) (*appctx.Identity, error) {
	if id, ok := a[token]; ok {
		return id, nil
	}
	return nil, errors.New("unknown token")
}

var identities = tokenAuth{
	"admin":    {UserID: "u-admin", Role: "admin"},
	"owner1":   {UserID: "u-owner1", Role: "owner", FactoryID: "f1"},
	"labourer": {UserID: "u-lab", Role: "labourer", FactoryID: "f1"},
}

func newRouter(t *testing.T, mode access.Mode) http.Handler {
	t.Helper()
	svc, repo := newTestService(t, nil)
	seed(t, repo,
		record(1, "f1", "A", "HMS 1", now.Add(-time.Hour)),
		record(2, "f2", "B", "HMS 2", now.Add(-2*time.Hour)),
	)
	r := chi.NewRouter()
	RegisterRoutes(r, NewHandler(svc, mode, nil), middleware.NewAuthMiddleware(identities))
	return r
}

func call(h http.Handler, method, target, token, body string) (int, map[string]any) {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var out map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &out)
	return rec.Code, out
}

func historyLen(body map[string]any) int {
	h, _ := body["history"].([]any)
	return len(h)
}

func TestHistoryHandler_Advisory(t *testing.T) {
	r := newRouter(t, access.ModeAdvisory)

	code, body := call(r, http.MethodGet, "/history?factory_id=f1", "", "")
	if code != http.StatusOK || historyLen(body) != 1 {
		t.Fatalf("filtered: %d %v", code, body)
	}
	code, body = call(r, http.MethodGet, "/history", "", "")
	if code != http.StatusOK || historyLen(body) != 2 || body["total"] != float64(2) {
		t.Fatalf("unfiltered: %d %v", code, body)
	}
}

func TestHistoryHandler_Strict(t *testing.T) {
	r := newRouter(t, access.ModeStrict)

	tests := []struct {
		name     string
		target   string
		token    string
		wantCode int
		wantLen  int
	}{
		{"anonymous", "/history", "", http.StatusUnauthorized, 0},
		{"owner sees own factory", "/history", "owner1", http.StatusOK, 1},
		{"owner names own factory", "/history?factory_id=f1", "owner1", http.StatusOK, 1},
		{"owner names other factory", "/history?factory_id=f2", "owner1", http.StatusForbidden, 0},
		{"admin sees all", "/history", "admin", http.StatusOK, 2},
		{"admin filters", "/history?factory_id=f2", "admin", http.StatusOK, 1},
		{"owner alias", "/owner/history", "owner1", http.StatusOK, 1},
		{"labourer barred from owner alias", "/owner/history", "labourer", http.StatusForbidden, 0},
		{"bad page", "/history?page=zero", "admin", http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := call(r, http.MethodGet, tt.target, tt.token, "")
			if code != tt.wantCode {
				t.Fatalf("status = %d, want %d (%v)", code, tt.wantCode, body)
			}
			if code == http.StatusOK && historyLen(body) != tt.wantLen {
				t.Errorf("history len = %d, want %d", historyLen(body), tt.wantLen)
			}
		})
	}
}

func TestAnalyticsHandler(t *testing.T) {
	r := newRouter(t, access.ModeStrict)

	code, body := call(r, http.MethodGet, "/owner/analytics?time_range=7d", "owner1", "")
	if code != http.StatusOK {
		t.Fatalf("status = %d, body = %v", code, body)
	}
	data, _ := body["data"].(map[string]any)
	if data["total_records"] != float64(1) || data["time_range"] != "7d" {
		t.Errorf("data = %v", data)
	}
	if _, ok := data["daily_data"].([]any); !ok {
		t.Errorf("daily_data should be a list: %v", data["daily_data"])
	}

	if code, _ := call(r, http.MethodGet, "/analytics?range=fortnight", "admin", ""); code != http.StatusBadRequest {
		t.Errorf("unknown range status = %d, want 400", code)
	}
}

func TestVerificationHandlers(t *testing.T) {
	r := newRouter(t, access.ModeStrict)

	if code, _ := call(r, http.MethodPost, "/labourer/submit-analysis", "owner1", `{"analysis_id":"a-1"}`); code != http.StatusForbidden {
		t.Errorf("owner submitting: status = %d, want 403", code)
	}
	if code, _ := call(r, http.MethodPost, "/labourer/submit-analysis", "labourer", `{"notes":"x"}`); code != http.StatusBadRequest {
		t.Errorf("missing analysis_id: status = %d, want 400", code)
	}
	if code, _ := call(r, http.MethodPost, "/labourer/submit-analysis", "labourer", `{"analysis_id":"a-2"}`); code != http.StatusNotFound {
		t.Errorf("other factory's analysis: status = %d, want 404", code)
	}

	code, body := call(r, http.MethodPost, "/labourer/submit-analysis", "labourer", `{"analysis_id":"a-1","notes":"checked"}`)
	if code != http.StatusOK {
		t.Fatalf("submit: %d %v", code, body)
	}

	code, body = call(r, http.MethodGet, "/owner/pending-verifications", "owner1", "")
	if code != http.StatusOK || body["total"] != float64(1) {
		t.Fatalf("pending: %d %v", code, body)
	}

	code, body = call(r, http.MethodPost, "/owner/verify-analysis", "owner1",
		`{"analysis_id":"a-1","verification_status":"rejected","owner_notes":"wrong grade"}`)
	if code != http.StatusOK {
		t.Fatalf("verify: %d %v", code, body)
	}
	analysis, _ := body["analysis"].(map[string]any)
	if analysis["verification_status"] != "rejected" || analysis["verified_by"] != "u-owner1" {
		t.Errorf("analysis = %v", analysis)
	}

	if code, _ := call(r, http.MethodPost, "/owner/verify-analysis", "owner1",
		`{"analysis_id":"a-1","verification_status":"approved"}`); code != http.StatusConflict {
		t.Errorf("re-verifying: status = %d, want 409", code)
	}
}

func TestDeleteHandler(t *testing.T) {
	r := newRouter(t, access.ModeStrict)

	if code, _ := call(r, http.MethodDelete, "/analysis/a-1", "labourer", ""); code != http.StatusForbidden {
		t.Errorf("labourer delete: status = %d, want 403", code)
	}
	if code, _ := call(r, http.MethodDelete, "/analysis/a-2", "owner1", ""); code != http.StatusNotFound {
		t.Errorf("other factory's analysis: status = %d, want 404", code)
	}
	if code, body := call(r, http.MethodDelete, "/analysis/a-1", "owner1", ""); code != http.StatusOK {
		t.Fatalf("delete: %d %v", code, body)
	}
	if code, _ := call(r, http.MethodGet, "/analysis/a-1", "owner1", ""); code != http.StatusNotFound {
		t.Errorf("deleted analysis still readable: %d", code)
	}
}
