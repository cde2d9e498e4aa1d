// Package handlers provides the HTTP handlers of the control plane.
package handlers

import (
	"encoding/json"
	"net/http"
	"time"
)

// ErrorDetail is the error object embedded in every failed response.
type ErrorDetail struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Timestamp time.Time      `json:"timestamp"`
	Details   map[string]any `json:"details,omitempty"`
}

// errorBody is the envelope of every failed response.
type errorBody struct {
	Success bool        `json:"success"`
	Error   ErrorDetail `json:"error"`
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// WriteError writes the standard error envelope:
// {"success": false, "error": {"code", "message", "timestamp", "details"?}}.
func WriteError(w http.ResponseWriter, status int, code, message string, details map[string]any) {
	WriteJSON(w, status, errorBody{
		Success: false,
		Error: ErrorDetail{
			Code:      code,
			Message:   message,
			Timestamp: time.Now().UTC(),
			Details:   details,
		},
	})
}

// BadRequest writes a 400 error response.
func BadRequest(w http.ResponseWriter, code, message string) {
	WriteError(w, http.StatusBadRequest, code, message, nil)
}

// NotFound writes a 404 error response.
func NotFound(w http.ResponseWriter, code, message string) {
	WriteError(w, http.StatusNotFound, code, message, nil)
}

// Conflict writes a 409 error response.
func Conflict(w http.ResponseWriter, code, message string) {
	WriteError(w, http.StatusConflict, code, message, nil)
}

// InternalServerError writes a 500 error response.
func InternalServerError(w http.ResponseWriter, code, message string) {
	WriteError(w, http.StatusInternalServerError, code, message, nil)
}

// decodeJSONBody decodes a JSON request body into the provided pointer.
// Returns true if successful, false if decoding fails (error response is
// written automatically).
func decodeJSONBody(w http.ResponseWriter, r *http.Request, code string, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		BadRequest(w, code, "invalid request body")
		return false
	}
	return true
}
