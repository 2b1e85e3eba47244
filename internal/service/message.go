package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agentflow-ai/chat-sync/internal/model"
	"github.com/agentflow-ai/chat-sync/pkg/logger"
	"github.com/agentflow-ai/chat-sync/pkg/metrics"
)

// ErrMessageNotFound is returned when an edit targets an unknown message.
var ErrMessageNotFound = errors.New("message not found")

// Feed is the authoritative message stream the service publishes to and
// fetches confirmed messages from.
type Feed interface {
	PublishMessage(ctx context.Context, msg *model.Message) (uint64, error)
	FetchMessages(ctx context.Context, tenantID, flowID, sessionID string, afterSequence uint64, limit int) ([]model.Message, uint64, bool, error)
}

// EditStore persists edit records across restarts and session switches.
type EditStore interface {
	Put(rec model.EditRecord) error
	Rekey(sessionID, oldID, newID string) error
	Lookup(sessionID, messageID string) (model.EditRecord, bool)
}

// MessageService handles the optimistic send path, reconciled reads and
// message edits.
type MessageService struct {
	feed     Feed
	sessions *SessionService
	edits    EditStore
	logger   *logger.Logger
}

// NewMessageService creates a new message service.
func NewMessageService(feed Feed, sessions *SessionService, edits EditStore, log *logger.Logger) *MessageService {
	return &MessageService{
		feed:     feed,
		sessions: sessions,
		edits:    edits,
		logger:   log,
	}
}

// Send performs an optimistic send: a client message id is generated, the
// message is tracked locally for immediate display, and the authoritative
// copy is published carrying the client id. A publish failure is logged but
// does not roll the optimistic message back; it stays visible, matching the
// behavior of the chat surface this service backs.
func (s *MessageService) Send(ctx context.Context, tenantID, userID, flowID string, req *model.SendMessageRequest) (*model.SendMessageResponse, error) {
	now := time.Now()

	sessionID := req.SessionID
	if sessionID == "" {
		// First message of a brand-new session: mint the id here and let
		// the engine adopt it when the backend confirms the message.
		sessionID = uuid.Must(uuid.NewV7()).String()
		s.sessions.Ensure(tenantID, flowID, sessionID)
	}

	clientID := uuid.Must(uuid.NewV7()).String()
	optimistic := &model.Message{
		ID:              clientID,
		FlowID:          flowID,
		SessionID:       sessionID,
		TenantID:        tenantID,
		ClientMessageID: clientID,
		Sender:          model.SenderUser,
		SenderName:      userID,
		Text:            req.Text,
		Files:           req.Files,
		Optimistic:      true,
		Timestamp:       now,
	}

	eng := s.sessions.Engine(tenantID, flowID)
	if eng.SessionID() != sessionID {
		if eng.SessionID() == "" {
			eng.Adopt(sessionID)
		} else {
			eng.Switch(sessionID)
			metrics.SessionSwitches.WithLabelValues(tenantID).Inc()
		}
	}
	eng.Track(optimistic)

	published := *optimistic
	published.ID = uuid.Must(uuid.NewV7()).String()
	published.Optimistic = false

	seq, err := s.feed.PublishMessage(ctx, &published)
	if err != nil {
		// No rollback: the optimistic message remains visible even though
		// the send failed.
		s.logger.Error("failed to publish user message",
			zap.String("flow_id", flowID),
			zap.String("client_message_id", clientID),
			zap.Error(err),
		)
		return &model.SendMessageResponse{
			Message:   optimistic,
			SessionID: sessionID,
		}, nil
	}

	s.sessions.Touch(tenantID, sessionID, &published)
	metrics.MessagesTotal.WithLabelValues(tenantID, string(model.SenderUser)).Inc()

	return &model.SendMessageResponse{
		Message:   optimistic,
		SessionID: sessionID,
		Sequence:  seq,
	}, nil
}

// PublishMachine publishes a Machine-sender message to the authoritative
// feed, e.g. a generated reply or an agent step report.
func (s *MessageService) PublishMachine(ctx context.Context, msg *model.Message) (uint64, error) {
	if msg.ID == "" {
		msg.ID = uuid.Must(uuid.NewV7()).String()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	msg.Sender = model.SenderMachine

	seq, err := s.feed.PublishMessage(ctx, msg)
	if err != nil {
		return 0, err
	}
	s.sessions.Touch(msg.TenantID, msg.SessionID, msg)
	metrics.MessagesTotal.WithLabelValues(msg.TenantID, string(model.SenderMachine)).Inc()
	return seq, nil
}

// List returns the reconciled display list for a session. If the requested
// session differs from the flow's visible one, the engine switches first
// (clearing the optimistic tracker and filtering retained messages). The
// fetch pulls the authoritative batch after the last applied sequence,
// applies it through the reconciliation pass, re-keys edit records for any
// newly confirmed optimistic messages, and composes the display list with
// persisted edit overrides.
func (s *MessageService) List(ctx context.Context, tenantID, flowID, sessionID string, limit int) (*model.ListMessagesResponse, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 100 {
		limit = 100
	}

	eng := s.sessions.Engine(tenantID, flowID)
	if sessionID != "" && eng.SessionID() != sessionID {
		if eng.SessionID() == "" {
			eng.Adopt(sessionID)
		} else {
			eng.Switch(sessionID)
			metrics.SessionSwitches.WithLabelValues(tenantID).Inc()
		}
	}
	fetchSession := eng.SessionID()
	if fetchSession == "" {
		fetchSession = sessionID
	}
	if fetchSession == "" {
		// A new session has no id until its first message is confirmed, so
		// there is nothing to fetch; the display list is pending-only.
		return &model.ListMessagesResponse{
			Messages:      eng.DisplayList(s.edits),
			LastSequence:  eng.LastSequence(),
			Transitioning: eng.Transitioning(),
		}, nil
	}

	batch, _, hasMore, err := s.feed.FetchMessages(ctx, tenantID, flowID, fetchSession, eng.LastSequence(), limit)
	if err != nil {
		return nil, err
	}

	for _, conf := range eng.Apply(batch) {
		if err := s.edits.Rekey(conf.SessionID, conf.ClientID, conf.BackendID); err != nil {
			s.logger.Warn("failed to re-key edit record",
				zap.String("client_message_id", conf.ClientID),
				zap.String("message_id", conf.BackendID),
				zap.Error(err),
			)
		}
	}

	return &model.ListMessagesResponse{
		Messages:      eng.DisplayList(s.edits),
		LastSequence:  eng.LastSequence(),
		HasMore:       hasMore,
		Transitioning: eng.Transitioning(),
	}, nil
}

// Edit updates a message's content, marks it edited in the in-memory session
// state and persists an edit record so the override survives restarts. The
// record is keyed by the backend id when the message is confirmed, or the
// client id while it is still optimistic.
func (s *MessageService) Edit(ctx context.Context, tenantID, flowID, messageID string, req *model.EditMessageRequest) (*model.Message, error) {
	eng := s.sessions.Engine(tenantID, flowID)

	updated, original, ok := eng.ApplyEdit(messageID, req.Text)
	if !ok {
		return nil, ErrMessageNotFound
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = updated.SessionID
	}

	rec := model.EditRecord{
		SessionID:        sessionID,
		MessageID:        messageID,
		Sender:           updated.Sender,
		Edited:           true,
		Content:          req.Text,
		OriginalContent:  original,
		OptimisticEdited: updated.Optimistic,
		UpdatedAt:        time.Now().UTC(),
	}
	if err := s.edits.Put(rec); err != nil {
		return nil, err
	}

	return &updated, nil
}
