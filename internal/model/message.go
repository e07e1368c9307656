package model

import (
	"encoding/json"
	"errors"
	"time"
)

// Role represents the role of a chat message sender.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ChatMessage represents one chat exchange entry in a session. Immutable
// once created.
type ChatMessage struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Frame type discriminators on the live channel.
const (
	FrameTaskEvent    = "task_event"
	FrameChatResponse = "chat_response"
	FrameConnected    = "connected"
)

// Frame is the JSON envelope carried on the live channel.
type Frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Decoded is the result of decoding one live frame. At most one of Event and
// Chat is set; both nil means the frame carried nothing for the consumer
// (handshake or an unknown type).
type Decoded struct {
	Event *TaskEvent
	Chat  *ChatMessage
}

// ErrMalformedFrame is returned for frames that cannot be decoded. A
// malformed frame is discarded by the caller; it never closes the connection.
var ErrMalformedFrame = errors.New("malformed frame")

// DecodeFrame decodes a raw live-channel frame. It accepts the enveloped
// shape {"type": ..., "data": ...} and, for backward compatibility, a bare
// object with top-level agent_name and event_type, which is treated as a
// task_event.
func DecodeFrame(raw []byte) (Decoded, error) {
	var frame Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return Decoded{}, errors.Join(ErrMalformedFrame, err)
	}

	switch frame.Type {
	case FrameTaskEvent:
		var event TaskEvent
		if err := json.Unmarshal(frame.Data, &event); err != nil {
			return Decoded{}, errors.Join(ErrMalformedFrame, err)
		}
		return Decoded{Event: &event}, nil

	case FrameChatResponse:
		var msg ChatMessage
		if err := json.Unmarshal(frame.Data, &msg); err != nil {
			return Decoded{}, errors.Join(ErrMalformedFrame, err)
		}
		return Decoded{Chat: &msg}, nil

	case FrameConnected:
		// Handshake only; nothing to deliver.
		return Decoded{}, nil

	case "":
		// Legacy shape: event fields at the top level, no envelope.
		var event TaskEvent
		if err := json.Unmarshal(raw, &event); err != nil {
			return Decoded{}, errors.Join(ErrMalformedFrame, err)
		}
		if event.AgentName == "" || event.EventType == "" {
			return Decoded{}, ErrMalformedFrame
		}
		return Decoded{Event: &event}, nil

	default:
		// Unknown frame types are ignored, not errors.
		return Decoded{}, nil
	}
}

// PostChatRequest is the request to append a chat message to a session.
type PostChatRequest struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}
