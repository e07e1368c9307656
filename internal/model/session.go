package model

import (
	"time"
)

// Session represents one diagnostic investigation instance.
type Session struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	Phase      Phase     `json:"phase"`
	Confidence int       `json:"confidence"`
	NeedsInput bool      `json:"needs_input"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	EventCount int       `json:"event_count,omitempty"`
}

// CreateSessionRequest is the request to start a new session.
type CreateSessionRequest struct {
	Title string `json:"title"`
}

// ListSessionsResponse is the response for listing sessions.
type ListSessionsResponse struct {
	Sessions []Session `json:"sessions"`
	Total    int       `json:"total"`
}
