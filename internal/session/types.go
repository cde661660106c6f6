package session

import "time"

// StartResponse is returned when a session is requested over HTTP.
type StartResponse struct {
	SessionID       string    `json:"session_id"`
	Status          Status    `json:"status"`
	Provider        string    `json:"provider"`
	Voice           string    `json:"voice"`
	StartedAt       time.Time `json:"started_at"`
	InactivityTTLMS int64     `json:"inactivity_ttl_ms"`
}

func NewStartResponse(s *Session, ttl time.Duration) StartResponse {
	return StartResponse{
		SessionID:       s.ID,
		Status:          s.Status,
		Provider:        s.Provider,
		Voice:           s.Voice,
		StartedAt:       s.StartedAt,
		InactivityTTLMS: ttl.Milliseconds(),
	}
}
