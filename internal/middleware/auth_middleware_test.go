package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"pgregory.net/rapid"

	"github.com/welldanyogia/steel-scrap-yard/internal/auth"
	appctx "github.com/welldanyogia/steel-scrap-yard/internal/context"
)

// stubAuthenticator accepts a fixed set of tokens
type stubAuthenticator struct {
	identities map[string]*appctx.Identity
	disabled   map[string]bool
}

func (s stubAuthenticator) Authenticate(_ context.Context, token string) (*appctx.Identity, error) {
	if s.disabled[token] {
		return nil, auth.ErrAccountDisabled
	}
	if id, ok := s.identities[token]; ok {
		return id, nil
	}
	return nil, auth.ErrInvalidSession
}

func newStub() stubAuthenticator {
	return stubAuthenticator{
		identities: map[string]*appctx.Identity{
			"owner-token":    {UserID: "u1", Email: "o@x.com", Role: "owner"},
			"labourer-token": {UserID: "u2", Email: "l@x.com", Role: "labourer", FactoryID: "f1"},
		},
		disabled: map[string]bool{"disabled-token": true},
	}
}

// echoUser writes the user id from the context, or "-" when absent
func echoUser() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := appctx.ExtractUserID(r.Context())
		if !ok {
			userID = "-"
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(userID))
	})
}

func serve(h http.Handler, authorization string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/history", nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAuthenticate_MissingHeaderReturns401(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		path := "/" + rapid.StringMatching(`[a-z]{3,10}`).Draw(t, "path")
		method := rapid.SampledFrom([]string{"GET", "POST", "PUT", "DELETE"}).Draw(t, "method")

		h := NewAuthMiddleware(newStub()).Authenticate(echoUser())
		req := httptest.NewRequest(method, path, nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d, want 401", rec.Code)
		}
		var body map[string]any
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("body is not JSON: %v", err)
		}
		if body["status"] != "error" {
			t.Fatalf("status field = %v", body["status"])
		}
	})
}

func TestAuthenticate(t *testing.T) {
	h := NewAuthMiddleware(newStub()).Authenticate(echoUser())

	tests := []struct {
		name     string
		header   string
		wantCode int
		wantBody string
	}{
		{"valid token", "Bearer owner-token", http.StatusOK, "u1"},
		{"lowercase scheme", "bearer labourer-token", http.StatusOK, "u2"},
		{"unknown token", "Bearer nope", http.StatusUnauthorized, ""},
		{"wrong scheme", "Basic owner-token", http.StatusUnauthorized, ""},
		{"no token", "Bearer ", http.StatusUnauthorized, ""},
		{"disabled account", "Bearer disabled-token", http.StatusForbidden, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(h, tt.header)
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			if tt.wantBody != "" && rec.Body.String() != tt.wantBody {
				t.Errorf("body = %q, want %q", rec.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestOptional(t *testing.T) {
	h := NewAuthMiddleware(newStub()).Optional(echoUser())

	if rec := serve(h, ""); rec.Code != http.StatusOK || rec.Body.String() != "-" {
		t.Errorf("anonymous: %d %q", rec.Code, rec.Body.String())
	}
	if rec := serve(h, "Bearer nope"); rec.Code != http.StatusOK || rec.Body.String() != "-" {
		t.Errorf("bad token: %d %q", rec.Code, rec.Body.String())
	}
	if rec := serve(h, "Bearer owner-token"); rec.Body.String() != "u1" {
		t.Errorf("valid token body = %q, want u1", rec.Body.String())
	}
}

func TestRequireRole(t *testing.T) {
	m := NewAuthMiddleware(newStub())
	h := m.Authenticate(RequireRole("owner", "admin")(echoUser()))

	if rec := serve(h, "Bearer owner-token"); rec.Code != http.StatusOK {
		t.Errorf("owner status = %d", rec.Code)
	}
	if rec := serve(h, "Bearer labourer-token"); rec.Code != http.StatusForbidden {
		t.Errorf("labourer status = %d, want 403", rec.Code)
	}

	// Without an identity in context the gate answers 401
	if rec := serve(RequireRole("admin")(echoUser()), ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("no identity status = %d, want 401", rec.Code)
	}
}
