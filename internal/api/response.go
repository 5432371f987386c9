// Package api implements the HTTP REST API layer for the DocRefinery
// server. It uses Chi as the router and exposes every resource under /v1.
// Authentication is enforced by resolving the caller's API key on every
// request except the internal health/metrics group, which is gated by a
// shared-secret header instead. Authorization is scope-based, checked at
// the route level via the RequireScope middleware.
package api

import (
	"encoding/json"
	"net/http"
)

// envelope is a loose JSON object used for success payloads that don't
// warrant their own named type (list wrappers, ad-hoc acknowledgements).
type envelope map[string]any

// JSON writes a JSON-encoded response with the given status code.
// It sets Content-Type to application/json automatically.
func JSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// Ok writes a 200 OK response with payload as the response body directly
// (no envelope) — every resource response already names its own fields.
func Ok(w http.ResponseWriter, payload any) {
	JSON(w, http.StatusOK, payload)
}

// Created writes a 201 Created response with payload as the response body.
func Created(w http.ResponseWriter, payload any) {
	JSON(w, http.StatusCreated, payload)
}

// NoContent writes a 204 No Content response with no body.
func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// errorResponse is the standard error envelope: {error_code, message},
// with an optional details sub-object for per-field validation failures
// (currently only populated by INVALID_OPTIONS).
type errorResponse struct {
	ErrorCode string            `json:"error_code"`
	Message   string            `json:"message"`
	Details   map[string]string `json:"details,omitempty"`
}

// errJSON writes the {error_code, message} envelope with the given status.
func errJSON(w http.ResponseWriter, status int, errorCode, message string, details map[string]string) {
	JSON(w, status, errorResponse{ErrorCode: errorCode, Message: message, Details: details})
}

// ErrBadRequest writes a 400 with the given error code and message.
func ErrBadRequest(w http.ResponseWriter, errorCode, message string) {
	errJSON(w, http.StatusBadRequest, errorCode, message, nil)
}

// ErrInvalidOptions writes the 400 INVALID_OPTIONS response, including the
// field→message validation detail map.
func ErrInvalidOptions(w http.ResponseWriter, details map[string]string) {
	errJSON(w, http.StatusBadRequest, "INVALID_OPTIONS", "one or more options failed validation", details)
}

// ErrUnauthorized writes a 401 Unauthorized error response.
func ErrUnauthorized(w http.ResponseWriter) {
	errJSON(w, http.StatusUnauthorized, "UNAUTHENTICATED", "authentication required", nil)
}

// ErrForbidden writes a 403 Forbidden error response.
func ErrForbidden(w http.ResponseWriter) {
	errJSON(w, http.StatusForbidden, "FORBIDDEN", "insufficient scope", nil)
}

// ErrNotFound writes a 404 Not Found error response. Used both for a
// genuinely missing id and for an id that belongs to another tenant — the
// two are made indistinguishable on purpose, so a caller cannot enumerate
// other tenants' resource ids by probing for a different status code.
func ErrNotFound(w http.ResponseWriter) {
	errJSON(w, http.StatusNotFound, "NOT_FOUND", "resource not found", nil)
}

// ErrConflict writes a 409 Conflict error response with the given code.
func ErrConflict(w http.ResponseWriter, errorCode, message string) {
	errJSON(w, http.StatusConflict, errorCode, message, nil)
}

// ErrUnsupportedMediaType writes the 415 UNSUPPORTED_MEDIA_TYPE response.
func ErrUnsupportedMediaType(w http.ResponseWriter, message string) {
	errJSON(w, http.StatusUnsupportedMediaType, "UNSUPPORTED_MEDIA_TYPE", message, nil)
}

// ErrFileTooLarge writes the 413 FILE_TOO_LARGE response.
func ErrFileTooLarge(w http.ResponseWriter) {
	errJSON(w, http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE", "uploaded file exceeds the configured size limit", nil)
}

// ErrTooManyRequests writes a 429 response for a rate-limited caller.
func ErrTooManyRequests(w http.ResponseWriter) {
	errJSON(w, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests", nil)
}

// ErrInternal writes a 500 Internal Server Error response.
// The internal error detail is intentionally not exposed to the client.
func ErrInternal(w http.ResponseWriter) {
	errJSON(w, http.StatusInternalServerError, "INTERNAL", "an internal error occurred", nil)
}

// decodeJSON decodes the request body into dst. Returns false and writes an
// appropriate error response if decoding fails, so callers can early-return.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20) // 1 MB limit
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		ErrBadRequest(w, "INVALID_REQUEST", "invalid request body: "+err.Error())
		return false
	}
	return true
}