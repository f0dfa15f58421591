package handlers

import (
	"time"
)

// ErrorResponse represents a generic error payload.
type ErrorResponse struct {
	Error string `json:"error"`
}

// MessageResponse represents a simple message payload.
type MessageResponse struct {
	Message string `json:"message"`
}

// HealthResponse reports agent liveness.
type HealthResponse struct {
	Status    string    `json:"status"`
	StartedAt time.Time `json:"started_at"`
}

// ReadinessResponse reports per-dependency readiness.
type ReadinessResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// SessionStatusResponse is the session view the web app polls.
type SessionStatusResponse struct {
	State       string            `json:"state"`
	Subject     string            `json:"subject,omitempty"`
	DisplayName string            `json:"display_name,omitempty"`
	Roles       []string          `json:"roles,omitempty"`
	ExpiresAt   *time.Time        `json:"expires_at,omitempty"`
	Channels    map[string]string `json:"channels,omitempty"`
}

// LogoutResponse carries the provider redirect that finishes a logout.
type LogoutResponse struct {
	EndSessionURL string `json:"end_session_url"`
}
