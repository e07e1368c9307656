package service

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/incidentiq-ai/diagnosis-platform/internal/model"
	natsclient "github.com/incidentiq-ai/diagnosis-platform/internal/nats"
	"github.com/incidentiq-ai/diagnosis-platform/pkg/logger"
)

// subscriberBuffer bounds each live subscriber's frame queue. A subscriber
// that cannot keep up has frames dropped rather than stalling the hub; the
// sync client's gap-fill recovers them on its next reconnect.
const subscriberBuffer = 64

// Hub fans live frames out to stream subscribers, keyed by session id. When
// a NATS connection is supplied, frames travel through core NATS so every
// API instance sees every frame; otherwise delivery is in-process only.
type Hub struct {
	logger *zap.Logger

	mu     sync.Mutex
	nextID int
	subs   map[string]map[int]chan []byte

	nc  *nats.Conn
	sub *nats.Subscription
}

// NewHub creates a hub. nc may be nil for in-process-only fan-out.
func NewHub(nc *nats.Conn, log *logger.Logger) (*Hub, error) {
	h := &Hub{
		logger: log.Logger,
		subs:   make(map[string]map[int]chan []byte),
		nc:     nc,
	}

	if nc != nil {
		livePrefix := natsclient.SubjectPrefix + ".live."
		sub, err := nc.Subscribe(natsclient.LiveSubject("*"), func(msg *nats.Msg) {
			sessionID := strings.TrimPrefix(msg.Subject, livePrefix)
			if sessionID == "" || sessionID == msg.Subject {
				return
			}
			h.deliver(sessionID, msg.Data)
		})
		if err != nil {
			return nil, fmt.Errorf("subscribe live subjects: %w", err)
		}
		h.sub = sub
	}

	return h, nil
}

// Close unsubscribes from NATS and drops all local subscribers.
func (h *Hub) Close() {
	if h.sub != nil {
		h.sub.Unsubscribe()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, sessionSubs := range h.subs {
		for _, ch := range sessionSubs {
			close(ch)
		}
	}
	h.subs = make(map[string]map[int]chan []byte)
}

// Publish broadcasts a frame to all subscribers of a session.
func (h *Hub) Publish(sessionID string, frame model.Frame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}

	if h.nc != nil {
		// Local delivery happens when NATS echoes the message back through
		// the subscription, so cross-instance and in-process subscribers
		// see the same stream.
		if err := h.nc.Publish(natsclient.LiveSubject(sessionID), data); err != nil {
			return fmt.Errorf("publish live frame: %w", err)
		}
		return nil
	}

	h.deliver(sessionID, data)
	return nil
}

// Subscribe registers a live frame consumer for a session. The cancel
// function removes the subscription and closes the channel.
func (h *Hub) Subscribe(sessionID string) (<-chan []byte, func()) {
	ch := make(chan []byte, subscriberBuffer)

	h.mu.Lock()
	h.nextID++
	id := h.nextID
	if h.subs[sessionID] == nil {
		h.subs[sessionID] = make(map[int]chan []byte)
	}
	h.subs[sessionID][id] = ch
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if sessionSubs, ok := h.subs[sessionID]; ok {
			if _, ok := sessionSubs[id]; ok {
				delete(sessionSubs, id)
				close(ch)
			}
			if len(sessionSubs) == 0 {
				delete(h.subs, sessionID)
			}
		}
	}
	return ch, cancel
}

func (h *Hub) deliver(sessionID string, data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs[sessionID] {
		select {
		case ch <- data:
		default:
			h.logger.Warn("dropping live frame for slow subscriber",
				zap.String("session_id", sessionID),
			)
		}
	}
}
