package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/incidentiq-ai/diagnosis-platform/internal/model"
	"github.com/incidentiq-ai/diagnosis-platform/pkg/logger"
	"github.com/incidentiq-ai/diagnosis-platform/pkg/metrics"
)

// ErrSessionNotFound is returned for unknown session ids.
var ErrSessionNotFound = errors.New("session not found")

// SessionService owns the session registry and the event ingest path: every
// accepted event is persisted to the store, folded into the session record,
// and broadcast on the live channel.
type SessionService struct {
	store  EventStore
	hub    *Hub
	logger *logger.Logger

	// In-memory session index (would be replaced with a database in
	// production).
	mu       sync.RWMutex
	sessions map[string]*model.Session
	chat     map[string][]model.ChatMessage
}

// NewSessionService creates a new session service.
func NewSessionService(store EventStore, hub *Hub, log *logger.Logger) *SessionService {
	return &SessionService{
		store:    store,
		hub:      hub,
		logger:   log,
		sessions: make(map[string]*model.Session),
		chat:     make(map[string][]model.ChatMessage),
	}
}

// Create starts a new diagnostic session in the initial phase.
func (s *SessionService) Create(_ context.Context, req *model.CreateSessionRequest) (*model.Session, error) {
	now := time.Now().UTC()
	session := &model.Session{
		ID:        uuid.Must(uuid.NewV7()).String(),
		Title:     req.Title,
		Phase:     model.PhaseInitial,
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	s.sessions[session.ID] = session
	s.mu.Unlock()

	metrics.SessionsTotal.Inc()
	s.logger.Info("session created",
		zap.String("session_id", session.ID),
		zap.String("title", session.Title),
	)

	copied := *session
	return &copied, nil
}

// Get returns a session by id.
func (s *SessionService) Get(_ context.Context, sessionID string) (*model.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	copied := *session
	return &copied, nil
}

// List returns all sessions, newest first.
func (s *SessionService) List(_ context.Context) ([]model.Session, error) {
	s.mu.RLock()
	sessions := make([]model.Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		sessions = append(sessions, *session)
	}
	s.mu.RUnlock()

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
	})
	return sessions, nil
}

// PublishEvent ingests one task event from the agent pipeline: it is
// persisted, folded into the session record, and broadcast live.
func (s *SessionService) PublishEvent(ctx context.Context, sessionID string, req *model.PublishEventRequest) (*model.TaskEvent, error) {
	s.mu.RLock()
	_, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}

	event := model.TaskEvent{
		SessionID: sessionID,
		AgentName: req.AgentName,
		EventType: req.EventType,
		Message:   req.Message,
		Timestamp: time.Now().UTC(),
		Details:   req.Details,
	}

	if err := s.store.Append(ctx, event); err != nil {
		return nil, fmt.Errorf("append event: %w", err)
	}

	s.applyEvent(event)
	metrics.RecordEventPublished(string(event.EventType))

	frame, err := frameFor(model.FrameTaskEvent, event)
	if err != nil {
		return nil, err
	}
	if err := s.hub.Publish(sessionID, frame); err != nil {
		// The event is durably stored; a failed broadcast is recovered by
		// the client's gap-fill.
		s.logger.Warn("live broadcast failed",
			zap.String("session_id", sessionID),
			zap.Error(err),
		)
	}

	return &event, nil
}

// ListEvents returns a session's complete event history in canonical order.
func (s *SessionService) ListEvents(ctx context.Context, sessionID string) ([]model.TaskEvent, error) {
	s.mu.RLock()
	_, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s.store.List(ctx, sessionID)
}

// PostChat appends a chat message to the session. Assistant messages are
// broadcast to live subscribers as chat_response frames.
func (s *SessionService) PostChat(_ context.Context, sessionID string, req *model.PostChatRequest) (*model.ChatMessage, error) {
	s.mu.Lock()
	session, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return nil, ErrSessionNotFound
	}

	msg := model.ChatMessage{
		Role:      req.Role,
		Content:   req.Content,
		Timestamp: time.Now().UTC(),
	}
	s.chat[sessionID] = append(s.chat[sessionID], msg)

	// A user reply satisfies whatever input the pipeline was waiting on.
	if req.Role == model.RoleUser {
		session.NeedsInput = false
	}
	session.UpdatedAt = msg.Timestamp
	s.mu.Unlock()

	if req.Role == model.RoleAssistant {
		frame, err := frameFor(model.FrameChatResponse, msg)
		if err != nil {
			return nil, err
		}
		if err := s.hub.Publish(sessionID, frame); err != nil {
			s.logger.Warn("chat broadcast failed",
				zap.String("session_id", sessionID),
				zap.Error(err),
			)
		}
	}

	return &msg, nil
}

// ListChat returns the session's chat history.
func (s *SessionService) ListChat(_ context.Context, sessionID string) ([]model.ChatMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.sessions[sessionID]; !ok {
		return nil, ErrSessionNotFound
	}
	messages := s.chat[sessionID]
	out := make([]model.ChatMessage, len(messages))
	copy(out, messages)
	return out, nil
}

// applyEvent folds an event into the session record: phase transitions,
// confidence updates, and the needs-input flag.
func (s *SessionService) applyEvent(event model.TaskEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[event.SessionID]
	if !ok {
		return
	}
	session.UpdatedAt = event.Timestamp
	session.EventCount++

	switch event.EventType {
	case model.EventTypePhaseChange:
		if phase, ok := event.Details["phase"].(string); ok {
			session.Phase = model.Phase(phase)
		}
	case model.EventTypeAttestationRequired:
		session.NeedsInput = true
	}

	if confidence, ok := event.Details["confidence"].(float64); ok {
		if confidence >= 0 && confidence <= 100 {
			session.Confidence = int(confidence)
		}
	}
}

func frameFor(frameType string, payload any) (model.Frame, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return model.Frame{}, fmt.Errorf("marshal %s payload: %w", frameType, err)
	}
	return model.Frame{Type: frameType, Data: data}, nil
}
