package apiclient

import (
	"fmt"
)

// APIError represents an error response from the control plane.
type APIError struct {
	StatusCode int            `json:"-"`
	Code       string         `json:"code,omitempty"`
	Message    string         `json:"message"`
	Details    map[string]any `json:"details,omitempty"`
}

// errorEnvelope matches the API error body.
type errorEnvelope struct {
	Success bool     `json:"success"`
	Error   APIError `json:"error"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return e.Message
}

// IsNotFound returns true if the referenced resource does not exist.
func (e *APIError) IsNotFound() bool {
	return e.Code == "CLIENT_NOT_FOUND" || e.StatusCode == 404
}

// IsNotConnected returns true if the target endpoint is not connected.
func (e *APIError) IsNotConnected() bool {
	return e.Code == "CLIENT_NOT_CONNECTED"
}

// IsConflict returns true if the request conflicts with current state, for
// example a second download for a client that already has one in flight.
func (e *APIError) IsConflict() bool {
	return e.StatusCode == 409
}
