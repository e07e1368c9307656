package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/incidentiq-ai/diagnosis-platform/internal/middleware"
	"github.com/incidentiq-ai/diagnosis-platform/internal/model"
	"github.com/incidentiq-ai/diagnosis-platform/internal/service"
	"github.com/incidentiq-ai/diagnosis-platform/pkg/logger"
)

// EventHandler handles the event ingest and replay endpoints.
type EventHandler struct {
	service *service.SessionService
	logger  *logger.Logger
}

// NewEventHandler creates a new event handler.
func NewEventHandler(svc *service.SessionService, log *logger.Logger) *EventHandler {
	return &EventHandler{
		service: svc,
		logger:  log,
	}
}

// Publish handles POST /api/v1/sessions/{id}/events
// The agent pipeline pushes task events here; they are persisted and fanned
// out to live stream subscribers.
func (h *EventHandler) Publish(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	if err := middleware.ValidateSessionID(sessionID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req model.PublishEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateEvent(req.AgentName, req.EventType); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	event, err := h.service.PublishEvent(r.Context(), sessionID, &req)
	if err != nil {
		if errors.Is(err, service.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		h.logger.Error("failed to publish event",
			zap.String("session_id", sessionID),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "failed to publish event")
		return
	}

	writeJSON(w, http.StatusCreated, event)
}

// List handles GET /api/v1/sessions/{id}/events
// This is the replay endpoint: the complete, canonically ordered event
// history for the session. Idempotent; reconnecting clients slice it against
// their watermark.
func (h *EventHandler) List(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	if err := middleware.ValidateSessionID(sessionID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	events, err := h.service.ListEvents(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, service.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		h.logger.Error("failed to list events",
			zap.String("session_id", sessionID),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "failed to list events")
		return
	}

	writeJSON(w, http.StatusOK, model.ListEventsResponse{
		Events: events,
		Count:  len(events),
	})
}
