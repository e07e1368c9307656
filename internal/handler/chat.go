package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/incidentiq-ai/diagnosis-platform/internal/middleware"
	"github.com/incidentiq-ai/diagnosis-platform/internal/model"
	"github.com/incidentiq-ai/diagnosis-platform/internal/service"
	"github.com/incidentiq-ai/diagnosis-platform/pkg/logger"
)

// ChatHandler handles session chat endpoints.
type ChatHandler struct {
	service *service.SessionService
	logger  *logger.Logger
}

// NewChatHandler creates a new chat handler.
func NewChatHandler(svc *service.SessionService, log *logger.Logger) *ChatHandler {
	return &ChatHandler{
		service: svc,
		logger:  log,
	}
}

// Post handles POST /api/v1/sessions/{id}/chat
// Assistant-role messages are broadcast to live subscribers as
// chat_response frames.
func (h *ChatHandler) Post(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	if err := middleware.ValidateSessionID(sessionID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req model.PostChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Role != model.RoleUser && req.Role != model.RoleAssistant {
		writeError(w, http.StatusBadRequest, "role must be user or assistant")
		return
	}
	if err := middleware.ValidateMessageContent(req.Content); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	msg, err := h.service.PostChat(r.Context(), sessionID, &req)
	if err != nil {
		if errors.Is(err, service.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to post message")
		return
	}

	writeJSON(w, http.StatusCreated, msg)
}

// List handles GET /api/v1/sessions/{id}/chat
func (h *ChatHandler) List(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	if err := middleware.ValidateSessionID(sessionID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	messages, err := h.service.ListChat(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, service.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to list messages")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"messages": messages,
		"count":    len(messages),
	})
}
