package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/agentflow-ai/chat-sync/internal/middleware"
	"github.com/agentflow-ai/chat-sync/internal/model"
	"github.com/agentflow-ai/chat-sync/internal/service"
	"github.com/agentflow-ai/chat-sync/pkg/logger"
	"github.com/agentflow-ai/chat-sync/pkg/metrics"
)

// StreamHandler serves the reconciled message feed over SSE.
type StreamHandler struct {
	messages *service.MessageService
	logger   *logger.Logger

	// pollInterval controls how often live updates are composed; tests
	// shorten it.
	pollInterval      time.Duration
	heartbeatInterval time.Duration
}

// NewStreamHandler creates a new stream handler.
func NewStreamHandler(messages *service.MessageService, log *logger.Logger) *StreamHandler {
	return &StreamHandler{
		messages:          messages,
		logger:            log,
		pollInterval:      2 * time.Second,
		heartbeatInterval: 30 * time.Second,
	}
}

// heartbeatEvent is the keep-alive payload.
type heartbeatEvent struct {
	Timestamp time.Time `json:"timestamp"`
}

// replayCompleteEvent marks the end of the initial replay.
type replayCompleteEvent struct {
	LastSequence uint64 `json:"last_sequence"`
	MessageCount int    `json:"message_count"`
}

// Stream handles GET /api/v1/flows/{flowID}/stream?session=
//
// The initial reconciled list is replayed as "message" events, then the
// handler keeps composing the display list and emits messages it has not
// sent yet, so backend confirmations and Machine replies appear without the
// optimistic copy ever duplicating.
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := middleware.GetTenantID(ctx)
	flowID := chi.URLParam(r, "flowID")
	sessionID := r.URL.Query().Get("session")

	if err := middleware.ValidateFlowID(flowID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := middleware.ValidateSessionID(sessionID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

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

	done := ctx.Done()

	sendSSEEvent(w, flusher, "connected", map[string]string{
		"flow_id":    flowID,
		"session_id": sessionID,
	})

	// Keyed by sentKey; the value is the content signature last emitted, so
	// an edit re-emits the message instead of being skipped.
	sent := make(map[string]string)

	resp, err := h.messages.List(ctx, tenantID, flowID, sessionID, 100)
	if err != nil {
		h.logger.Error("failed to replay messages",
			zap.String("flow_id", flowID),
			zap.Error(err),
		)
		sendSSEEvent(w, flusher, "error", map[string]string{
			"code":    "replay_error",
			"message": "failed to replay messages",
		})
		return
	}
	for _, msg := range resp.Messages {
		select {
		case <-done:
			return
		default:
		}
		sendSSEEvent(w, flusher, "message", msg)
		sent[sentKey(msg)] = sentValue(msg)
	}

	sendSSEEvent(w, flusher, "replay_complete", &replayCompleteEvent{
		LastSequence: resp.LastSequence,
		MessageCount: len(sent),
	})

	poll := time.NewTicker(h.pollInterval)
	defer poll.Stop()
	heartbeat := time.NewTicker(h.heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-done:
			return

		case <-heartbeat.C:
			sendSSEEvent(w, flusher, "heartbeat", &heartbeatEvent{Timestamp: time.Now()})

		case <-poll.C:
			resp, err := h.messages.List(ctx, tenantID, flowID, sessionID, 100)
			if err != nil {
				h.logger.Warn("failed to compose live update",
					zap.String("flow_id", flowID),
					zap.Error(err),
				)
				continue
			}
			for _, msg := range resp.Messages {
				key := sentKey(msg)
				if val, ok := sent[key]; ok && val == sentValue(msg) {
					continue
				}
				sendSSEEvent(w, flusher, "message", msg)
				sent[key] = sentValue(msg)
			}
		}
	}
}

// sentKey dedupes across an optimistic message and its backend copy, which
// carry different ids but share the client message id.
func sentKey(msg model.Message) string {
	if msg.ClientMessageID != "" {
		return msg.ClientMessageID
	}
	return msg.ID
}

// sentValue is the content signature for a sent key; a change (an edit)
// causes the message to be emitted again.
func sentValue(msg model.Message) string {
	return fmt.Sprintf("%t|%s", msg.Edited, msg.Text)
}

// sendSSEEvent writes a single SSE event.
func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
