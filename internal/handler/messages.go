package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/agentflow-ai/chat-sync/internal/middleware"
	"github.com/agentflow-ai/chat-sync/internal/model"
	"github.com/agentflow-ai/chat-sync/internal/service"
	"github.com/agentflow-ai/chat-sync/pkg/logger"
)

// MessageHandler handles message endpoints.
type MessageHandler struct {
	messages  *service.MessageService
	responder *service.Responder
	logger    *logger.Logger
}

// NewMessageHandler creates a new message handler.
func NewMessageHandler(messages *service.MessageService, responder *service.Responder, log *logger.Logger) *MessageHandler {
	return &MessageHandler{
		messages:  messages,
		responder: responder,
		logger:    log,
	}
}

// Send handles POST /api/v1/flows/{flowID}/messages
//
// The response carries the optimistic message immediately; backend
// confirmation is observed on subsequent list calls.
func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := middleware.GetTenantID(ctx)
	userID := middleware.GetUserID(ctx)
	flowID := chi.URLParam(r, "flowID")

	if err := middleware.ValidateFlowID(flowID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req model.SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateMessageText(req.Text); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := middleware.ValidateSessionID(req.SessionID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := h.messages.Send(ctx, tenantID, userID, flowID, &req)
	if err != nil {
		h.logger.Error("failed to send message", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to send message")
		return
	}

	if req.Reply && h.responder != nil && h.responder.Enabled() {
		// Fire-and-forget, matching how the chat surface requests replies.
		go func(tenantID, flowID, sessionID, modelName string) {
			replyCtx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()
			h.responder.Reply(replyCtx, tenantID, flowID, sessionID, modelName)
		}(tenantID, flowID, resp.SessionID, req.Model)
	}

	writeJSON(w, http.StatusCreated, resp)
}

// List handles GET /api/v1/flows/{flowID}/messages?session=&limit=
func (h *MessageHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := middleware.GetTenantID(ctx)
	flowID := chi.URLParam(r, "flowID")

	if err := middleware.ValidateFlowID(flowID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sessionID := r.URL.Query().Get("session")
	if err := middleware.ValidateSessionID(sessionID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 100 {
			limit = parsed
		}
	}

	resp, err := h.messages.List(ctx, tenantID, flowID, sessionID, limit)
	if err != nil {
		h.logger.Error("failed to list messages", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list messages")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// Edit handles PUT /api/v1/flows/{flowID}/messages/{messageID}
func (h *MessageHandler) Edit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := middleware.GetTenantID(ctx)
	flowID := chi.URLParam(r, "flowID")
	messageID := chi.URLParam(r, "messageID")

	if err := middleware.ValidateFlowID(flowID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := middleware.ValidateMessageID(messageID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req model.EditMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := middleware.ValidateMessageText(req.Text); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	msg, err := h.messages.Edit(ctx, tenantID, flowID, messageID, &req)
	if err != nil {
		if errors.Is(err, service.ErrMessageNotFound) {
			writeError(w, http.StatusNotFound, "message not found")
			return
		}
		h.logger.Error("failed to edit message", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to edit message")
		return
	}

	writeJSON(w, http.StatusOK, msg)
}
