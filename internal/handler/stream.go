package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/incidentiq-ai/diagnosis-platform/internal/middleware"
	"github.com/incidentiq-ai/diagnosis-platform/internal/model"
	"github.com/incidentiq-ai/diagnosis-platform/internal/service"
	"github.com/incidentiq-ai/diagnosis-platform/pkg/logger"
	"github.com/incidentiq-ai/diagnosis-platform/pkg/metrics"
)

// heartbeatInterval keeps idle SSE connections alive through proxies.
const heartbeatInterval = 30 * time.Second

// StreamHandler serves the live channel over Server-Sent Events.
type StreamHandler struct {
	service *service.SessionService
	hub     *service.Hub
	logger  *logger.Logger
}

// NewStreamHandler creates a new stream handler.
func NewStreamHandler(svc *service.SessionService, hub *service.Hub, log *logger.Logger) *StreamHandler {
	return &StreamHandler{
		service: svc,
		hub:     hub,
		logger:  log,
	}
}

// Stream handles GET /api/v1/sessions/{id}/stream
// Frames are JSON envelopes; the first is the connected handshake, then
// live task_event / chat_response frames as they are published. The live
// channel is best-effort: anything missed during an outage is recovered by
// the client through the replay endpoint.
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := chi.URLParam(r, "id")

	if err := middleware.ValidateSessionID(sessionID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := h.service.Get(ctx, sessionID); err != nil {
		if errors.Is(err, service.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to get session")
		return
	}

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	metrics.IncrementSSEConnections()
	defer metrics.DecrementSSEConnections()

	frames, cancel := h.hub.Subscribe(sessionID)
	defer cancel()

	// Handshake frame; carries nothing for the consumer's event log.
	handshake, _ := json.Marshal(map[string]string{"session_id": sessionID})
	sendFrame(w, flusher, model.Frame{Type: model.FrameConnected, Data: handshake})

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("stream client disconnected",
				zap.String("session_id", sessionID),
			)
			return

		case data, ok := <-frames:
			if !ok {
				return
			}
			sendRaw(w, flusher, data)

		case <-heartbeat.C:
			// Consumers ignore unknown frame types.
			sendFrame(w, flusher, model.Frame{Type: "heartbeat"})
		}
	}
}

func sendFrame(w http.ResponseWriter, flusher http.Flusher, frame model.Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}
	sendRaw(w, flusher, data)
}

func sendRaw(w http.ResponseWriter, flusher http.Flusher, data []byte) {
	fmt.Fprintf(w, "data: %s\n\n", data)
	flusher.Flush()
}
