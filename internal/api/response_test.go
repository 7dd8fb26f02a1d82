package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-playground/validator/v10"
)

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, http.StatusForbidden, "Role mismatch")

	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d", rec.Code)
	}
	var body ErrorResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != StatusError || body.Code != CodeForbidden || body.Message != "Role mismatch" {
		t.Errorf("body = %+v", body)
	}
}

func TestWriteSuccess(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteSuccess(rec, http.StatusCreated, M{"user": M{"id": "1"}})

	var body map[string]any
	_ = json.NewDecoder(rec.Body).Decode(&body)
	if body["status"] != StatusSuccess {
		t.Errorf("status = %v", body["status"])
	}
	if _, ok := body["user"]; !ok {
		t.Error("user field missing")
	}
}

func TestWriteValidationError(t *testing.T) {
	type req struct {
		Email string `validate:"required,email"`
		Role  string `validate:"oneof=admin owner"`
	}
	err := validator.New().Struct(req{Email: "bad", Role: "x"})

	rec := httptest.NewRecorder()
	WriteValidationError(rec, err)

	var body ErrorResponse
	_ = json.NewDecoder(rec.Body).Decode(&body)
	if rec.Code != http.StatusBadRequest || body.Code != CodeValidationError {
		t.Fatalf("got %d %+v", rec.Code, body)
	}
	if len(body.Details["email"]) != 1 || len(body.Details["role"]) != 1 {
		t.Errorf("details = %v", body.Details)
	}
}

func TestDecodeJSON(t *testing.T) {
	var v struct{ A int }
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(""))
	if err := DecodeJSON(httptest.NewRecorder(), r, &v); err == nil {
		t.Error("expected error for empty body")
	}

	r = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"A":3}`))
	if err := DecodeJSON(httptest.NewRecorder(), r, &v); err != nil || v.A != 3 {
		t.Errorf("DecodeJSON() = %v, v = %+v", err, v)
	}
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.1:5555"
	if got := ClientIP(r); got != "10.0.0.1" {
		t.Errorf("ClientIP() = %q", got)
	}

	r.Header.Set("X-Real-IP", "10.0.0.2")
	if got := ClientIP(r); got != "10.0.0.2" {
		t.Errorf("ClientIP() = %q", got)
	}

	r.Header.Set("X-Forwarded-For", " 1.2.3.4 , 10.0.0.3")
	if got := ClientIP(r); got != "1.2.3.4" {
		t.Errorf("ClientIP() = %q", got)
	}
}
