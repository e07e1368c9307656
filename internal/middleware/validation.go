package middleware

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/incidentiq-ai/diagnosis-platform/internal/model"
)

const (
	maxTitleLength     = 200
	maxAgentNameLength = 100
	maxMessageLength   = 100000
)

var validEventTypes = map[model.EventType]bool{
	model.EventTypeStarted:             true,
	model.EventTypeProgress:            true,
	model.EventTypeSuccess:             true,
	model.EventTypeWarning:             true,
	model.EventTypeError:               true,
	model.EventTypeToolCall:            true,
	model.EventTypePhaseChange:         true,
	model.EventTypeFinding:             true,
	model.EventTypeSummary:             true,
	model.EventTypeAttestationRequired: true,
}

// ValidateSessionID checks that a session ID is a valid UUID.
func ValidateSessionID(id string) error {
	if id == "" {
		return fmt.Errorf("session ID is required")
	}
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("session ID must be a valid UUID")
	}
	return nil
}

// ValidateTitle checks a session title.
func ValidateTitle(title string) error {
	title = strings.TrimSpace(title)
	if title == "" {
		return fmt.Errorf("title is required")
	}
	if len(title) > maxTitleLength {
		return fmt.Errorf("title must be at most %d characters", maxTitleLength)
	}
	return nil
}

// ValidateMessageContent checks chat message content.
func ValidateMessageContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return fmt.Errorf("content is required")
	}
	if len(content) > maxMessageLength {
		return fmt.Errorf("content must be at most %d characters", maxMessageLength)
	}
	return nil
}

// ValidateEvent checks the agent name and event type of a published event.
func ValidateEvent(agentName string, eventType model.EventType) error {
	if strings.TrimSpace(agentName) == "" {
		return fmt.Errorf("agent_name is required")
	}
	if len(agentName) > maxAgentNameLength {
		return fmt.Errorf("agent_name must be at most %d characters", maxAgentNameLength)
	}
	if !validEventTypes[eventType] {
		return fmt.Errorf("unknown event_type %q", eventType)
	}
	return nil
}
