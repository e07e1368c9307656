// Package model defines data structures for the diagnosis platform.
package model

import (
	"time"
)

// EventType represents the type of a diagnostic task event.
type EventType string

const (
	EventTypeStarted             EventType = "started"
	EventTypeProgress            EventType = "progress"
	EventTypeSuccess             EventType = "success"
	EventTypeWarning             EventType = "warning"
	EventTypeError               EventType = "error"
	EventTypeToolCall            EventType = "tool_call"
	EventTypePhaseChange         EventType = "phase_change"
	EventTypeFinding             EventType = "finding"
	EventTypeSummary             EventType = "summary"
	EventTypeAttestationRequired EventType = "attestation_required"
)

// Phase represents the server-assigned progress of an investigation.
type Phase string

const (
	PhaseInitial           Phase = "initial"
	PhaseCollectingContext Phase = "collecting_context"
	PhaseAnalyzing         Phase = "analyzing"
	PhaseDiagnosisComplete Phase = "diagnosis_complete"
	PhaseComplete          Phase = "complete"
)

// Terminal reports whether the phase marks a finished investigation.
func (p Phase) Terminal() bool {
	return p == PhaseComplete || p == PhaseDiagnosisComplete
}

// TaskEvent represents a single event emitted by the agent pipeline for a
// diagnostic session. Events are immutable once created.
type TaskEvent struct {
	SessionID string         `json:"session_id"`
	AgentName string         `json:"agent_name"`
	EventType EventType      `json:"event_type"`
	Message   string         `json:"message"`
	Timestamp time.Time      `json:"timestamp"`
	Details   map[string]any `json:"details,omitempty"`
}

// EventKey identifies a TaskEvent for deduplication. The pipeline issues no
// event ids, so identity is approximated by (timestamp, agent, message); two
// distinct events sharing all three would collapse. Known limitation.
type EventKey struct {
	Timestamp int64
	AgentName string
	Message   string
}

// Key returns the dedup key for the event.
func (e TaskEvent) Key() EventKey {
	return EventKey{
		Timestamp: e.Timestamp.UnixNano(),
		AgentName: e.AgentName,
		Message:   e.Message,
	}
}

// ConnectionState describes the live channel for a session.
type ConnectionState string

const (
	ConnectionConnecting   ConnectionState = "connecting"
	ConnectionOpen         ConnectionState = "open"
	ConnectionReconnecting ConnectionState = "reconnecting"
	ConnectionClosed       ConnectionState = "closed_permanent"
)

// PublishEventRequest is the request to ingest a task event.
type PublishEventRequest struct {
	AgentName string         `json:"agent_name"`
	EventType EventType      `json:"event_type"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
}

// ListEventsResponse is the replay endpoint response: the complete,
// canonically ordered event history for a session.
type ListEventsResponse struct {
	Events []TaskEvent `json:"events"`
	Count  int         `json:"count"`
}
