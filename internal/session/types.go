package session

import "time"

// CreateRequest defines payload for creating a new session.
type CreateRequest struct {
	Language string `json:"language"`
	Voice    string `json:"voice"`
}

// CreateResponse returns created session metadata.
type CreateResponse struct {
	SessionID       string    `json:"session_id"`
	Status          Status    `json:"status"`
	Language        string    `json:"language"`
	Voice           string    `json:"voice,omitempty"`
	StartedAt       time.Time `json:"started_at"`
	LastActivityAt  time.Time `json:"last_activity_at"`
	InactivityTTLMS int64     `json:"inactivity_ttl_ms"`
}
