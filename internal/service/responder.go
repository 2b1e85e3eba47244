package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/agentflow-ai/chat-sync/internal/llm"
	"github.com/agentflow-ai/chat-sync/internal/model"
	"github.com/agentflow-ai/chat-sync/pkg/logger"
	"github.com/agentflow-ai/chat-sync/pkg/metrics"
)

// Responder generates Machine replies for the playground by feeding the
// session's reconciled history to the configured LLM provider and publishing
// the reply to the authoritative stream.
type Responder struct {
	messages *MessageService
	client   llm.Client
	logger   *logger.Logger
}

// NewResponder creates a responder. client may be nil, in which case replies
// are disabled.
func NewResponder(messages *MessageService, client llm.Client, log *logger.Logger) *Responder {
	return &Responder{
		messages: messages,
		client:   client,
		logger:   log,
	}
}

// Enabled reports whether an LLM client is configured.
func (r *Responder) Enabled() bool {
	return r.client != nil
}

// Reply generates and publishes a Machine reply to the latest user message
// of a session. Errors are logged, not returned to the sender; the chat
// surface treats reply generation as fire-and-forget.
func (r *Responder) Reply(ctx context.Context, tenantID, flowID, sessionID, modelName string) {
	if r.client == nil {
		return
	}

	list, err := r.messages.List(ctx, tenantID, flowID, sessionID, 100)
	if err != nil {
		r.logger.Error("reply: failed to load session history",
			zap.String("flow_id", flowID),
			zap.String("session_id", sessionID),
			zap.Error(err),
		)
		return
	}

	chat := make([]llm.ChatMessage, 0, len(list.Messages))
	for _, msg := range list.Messages {
		role := "user"
		if msg.Sender == model.SenderMachine {
			role = "assistant"
		}
		chat = append(chat, llm.ChatMessage{Role: role, Content: msg.Text})
	}
	if len(chat) == 0 {
		return
	}

	resp, err := r.client.Complete(ctx, &llm.CompletionRequest{
		Model:    modelName,
		Messages: chat,
	})
	if err != nil {
		r.logger.Error("reply: completion failed",
			zap.String("flow_id", flowID),
			zap.String("session_id", sessionID),
			zap.String("provider", r.client.Name()),
			zap.Error(err),
		)
		return
	}
	metrics.RecordLLMUsage(resp.Model, resp.TokensIn, resp.TokensOut)

	reply := &model.Message{
		FlowID:     flowID,
		SessionID:  sessionID,
		TenantID:   tenantID,
		SenderName: resp.Model,
		Text:       resp.Content,
		Timestamp:  time.Now(),
		Properties: map[string]any{
			"model":       resp.Model,
			"stop_reason": resp.StopReason,
			"latency_ms":  resp.LatencyMs,
		},
	}
	if _, err := r.messages.PublishMachine(ctx, reply); err != nil {
		r.logger.Error("reply: failed to publish machine message",
			zap.String("flow_id", flowID),
			zap.String("session_id", sessionID),
			zap.Error(err),
		)
	}
}
