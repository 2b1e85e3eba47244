package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/agentflow-ai/chat-sync/internal/middleware"
	"github.com/agentflow-ai/chat-sync/internal/model"
	"github.com/agentflow-ai/chat-sync/internal/service"
	"github.com/agentflow-ai/chat-sync/pkg/logger"
)

// SessionHandler handles session endpoints.
type SessionHandler struct {
	sessions *service.SessionService
	logger   *logger.Logger
}

// NewSessionHandler creates a new session handler.
func NewSessionHandler(sessions *service.SessionService, log *logger.Logger) *SessionHandler {
	return &SessionHandler{sessions: sessions, logger: log}
}

// Create handles POST /api/v1/flows/{flowID}/sessions
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := middleware.GetTenantID(ctx)
	userID := middleware.GetUserID(ctx)
	flowID := chi.URLParam(r, "flowID")

	if err := middleware.ValidateFlowID(flowID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req model.CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateSessionName(req.Name); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sess, err := h.sessions.Create(ctx, tenantID, userID, flowID, &req)
	if err != nil {
		h.logger.Error("failed to create session", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	writeJSON(w, http.StatusCreated, sess)
}

// List handles GET /api/v1/flows/{flowID}/sessions
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := middleware.GetTenantID(ctx)
	flowID := chi.URLParam(r, "flowID")

	if err := middleware.ValidateFlowID(flowID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	limit := 50
	offset := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 100 {
			limit = parsed
		}
	}
	if o := r.URL.Query().Get("offset"); o != "" {
		if parsed, err := strconv.Atoi(o); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	resp, err := h.sessions.List(ctx, tenantID, flowID, limit, offset)
	if err != nil {
		h.logger.Error("failed to list sessions", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// Delete handles DELETE /api/v1/flows/{flowID}/sessions/{sessionID}
func (h *SessionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := middleware.GetTenantID(ctx)
	sessionID := chi.URLParam(r, "sessionID")

	if err := middleware.ValidateSessionID(sessionID); err != nil || sessionID == "" {
		writeError(w, http.StatusBadRequest, "invalid session ID format")
		return
	}

	if err := h.sessions.Delete(ctx, tenantID, sessionID); err != nil {
		if errors.Is(err, service.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		h.logger.Error("failed to delete session", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to delete session")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Switch handles POST /api/v1/flows/{flowID}/sessions/{sessionID}/switch
func (h *SessionHandler) Switch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := middleware.GetTenantID(ctx)
	flowID := chi.URLParam(r, "flowID")
	sessionID := chi.URLParam(r, "sessionID")

	if err := middleware.ValidateFlowID(flowID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := middleware.ValidateSessionID(sessionID); err != nil || sessionID == "" {
		writeError(w, http.StatusBadRequest, "invalid session ID format")
		return
	}

	resp, err := h.sessions.Switch(ctx, tenantID, flowID, sessionID)
	if err != nil {
		if errors.Is(err, service.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		h.logger.Error("failed to switch session", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to switch session")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}
