// Package service provides business logic for the diagnosis platform.
package service

import (
	"context"
	"sync"

	"github.com/incidentiq-ai/diagnosis-platform/internal/model"
)

// EventStore persists per-session task events and serves them back in
// publish order. The JetStream stream manager is the production
// implementation; MemoryStore backs tests and NATS-less deployments.
type EventStore interface {
	Append(ctx context.Context, event model.TaskEvent) error
	List(ctx context.Context, sessionID string) ([]model.TaskEvent, error)
}

// MemoryStore is an in-memory EventStore.
type MemoryStore struct {
	mu     sync.RWMutex
	events map[string][]model.TaskEvent
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{events: make(map[string][]model.TaskEvent)}
}

// Append adds an event to the session's history.
func (s *MemoryStore) Append(_ context.Context, event model.TaskEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[event.SessionID] = append(s.events[event.SessionID], event)
	return nil
}

// List returns a copy of the session's history in append order.
func (s *MemoryStore) List(_ context.Context, sessionID string) ([]model.TaskEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	events := s.events[sessionID]
	out := make([]model.TaskEvent, len(events))
	copy(out, events)
	return out, nil
}
