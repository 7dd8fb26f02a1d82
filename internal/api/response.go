// Package api holds the JSON envelope shared by every HTTP handler.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Response status values
const (
	StatusSuccess  = "success"
	StatusDegraded = "degraded"
	StatusError    = "error"
)

// Error codes
const (
	CodeValidationError = "VALIDATION_ERROR"
	CodeUnauthorized    = "UNAUTHORIZED"
	CodeForbidden       = "FORBIDDEN"
	CodeNotFound        = "NOT_FOUND"
	CodeConflict        = "CONFLICT"
	CodeRateLimited     = "RATE_LIMITED"
	CodeInternalError   = "INTERNAL_ERROR"
)

// maxJSONBody bounds JSON request bodies
const maxJSONBody = 1 << 20

// ErrorResponse is the body of every non-2xx response
type ErrorResponse struct {
	Status  string              `json:"status"`
	Code    string              `json:"code,omitempty"`
	Message string              `json:"message"`
	Details map[string][]string `json:"details,omitempty"`
}

// M is a shorthand for ad hoc JSON objects
type M map[string]any

// WriteJSON writes v as a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteSuccess writes {"status":"success", ...fields}
func WriteSuccess(w http.ResponseWriter, statusCode int, fields M) {
	body := M{"status": StatusSuccess}
	for k, v := range fields {
		body[k] = v
	}
	WriteJSON(w, statusCode, body)
}

// WriteError writes an error response with a code derived from the status
func WriteError(w http.ResponseWriter, statusCode int, message string) {
	WriteJSON(w, statusCode, ErrorResponse{
		Status:  StatusError,
		Code:    codeFor(statusCode),
		Message: message,
	})
}

// WriteValidationError writes a 400 carrying per-field validation messages
func WriteValidationError(w http.ResponseWriter, err error) {
	resp := ErrorResponse{
		Status:  StatusError,
		Code:    CodeValidationError,
		Message: "Invalid request",
	}

	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		resp.Details = make(map[string][]string)
		for _, fe := range verrs {
			field := strings.ToLower(fe.Field())
			resp.Details[field] = append(resp.Details[field], describe(fe))
		}
	} else if err != nil {
		resp.Message = err.Error()
	}

	WriteJSON(w, http.StatusBadRequest, resp)
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "min":
		return "must be at least " + fe.Param() + " characters"
	}
	return "is invalid"
}

func codeFor(statusCode int) string {
	switch statusCode {
	case http.StatusBadRequest, http.StatusRequestEntityTooLarge:
		return CodeValidationError
	case http.StatusUnauthorized:
		return CodeUnauthorized
	case http.StatusForbidden:
		return CodeForbidden
	case http.StatusNotFound:
		return CodeNotFound
	case http.StatusConflict:
		return CodeConflict
	case http.StatusTooManyRequests:
		return CodeRateLimited
	}
	return CodeInternalError
}

// DecodeJSON decodes a bounded JSON body into v
func DecodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	body := http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

// ClientIP extracts the client IP address from the request
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}

	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		return xri
	}

	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
