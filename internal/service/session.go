// Package service provides the business logic of the chat state service.
package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentflow-ai/chat-sync/internal/model"
	"github.com/agentflow-ai/chat-sync/internal/reconcile"
	"github.com/agentflow-ai/chat-sync/pkg/logger"
	"github.com/agentflow-ai/chat-sync/pkg/metrics"
)

// ErrSessionNotFound is returned when a session does not exist, is deleted,
// or belongs to another tenant.
var ErrSessionNotFound = errors.New("session not found")

// SessionService manages flow sessions and the per-flow reconciliation
// engines that track each flow's visible session.
type SessionService struct {
	window time.Duration
	logger *logger.Logger

	// In-memory registry (a database would back this in production).
	mu       sync.RWMutex
	sessions map[string]*model.Session
	engines  map[string]*reconcile.Engine
}

// NewSessionService creates a new session service. window is the timestamp
// proximity window used by the reconciliation engines.
func NewSessionService(window time.Duration, log *logger.Logger) *SessionService {
	return &SessionService{
		window:   window,
		logger:   log,
		sessions: make(map[string]*model.Session),
		engines:  make(map[string]*reconcile.Engine),
	}
}

func engineKey(tenantID, flowID string) string {
	return tenantID + "/" + flowID
}

// Engine returns the reconciliation engine for a flow, creating one with an
// unconfirmed (empty) session if the flow has none yet.
func (s *SessionService) Engine(tenantID, flowID string) *reconcile.Engine {
	key := engineKey(tenantID, flowID)

	s.mu.RLock()
	eng, ok := s.engines[key]
	s.mu.RUnlock()
	if ok {
		return eng
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if eng, ok = s.engines[key]; ok {
		return eng
	}
	eng = reconcile.NewEngine(flowID, "", s.window, s.logger)
	s.engines[key] = eng
	return eng
}

// Create creates a new session for a flow.
func (s *SessionService) Create(ctx context.Context, tenantID, userID, flowID string, req *model.CreateSessionRequest) (*model.Session, error) {
	now := time.Now()

	sess := &model.Session{
		ID:        uuid.Must(uuid.NewV7()).String(),
		FlowID:    flowID,
		TenantID:  tenantID,
		UserID:    userID,
		Name:      req.Name,
		Metadata:  req.Metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()

	return sess, nil
}

// Ensure registers a session id that came into existence through a first
// confirmed message rather than an explicit create call.
func (s *SessionService) Ensure(tenantID, flowID, sessionID string) *model.Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sess, ok := s.sessions[sessionID]; ok {
		return sess
	}
	now := time.Now()
	sess := &model.Session{
		ID:        sessionID,
		FlowID:    flowID,
		TenantID:  tenantID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.sessions[sessionID] = sess
	return sess
}

// Get retrieves a session by id.
func (s *SessionService) Get(ctx context.Context, tenantID, sessionID string) (*model.Session, error) {
	s.mu.RLock()
	sess, exists := s.sessions[sessionID]
	s.mu.RUnlock()

	if !exists || sess.TenantID != tenantID || sess.Deleted {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// List retrieves a flow's sessions for a tenant, most recently updated
// first.
func (s *SessionService) List(ctx context.Context, tenantID, flowID string, limit, offset int) (*model.ListSessionsResponse, error) {
	s.mu.RLock()
	var sessions []model.Session
	for _, sess := range s.sessions {
		if sess.TenantID == tenantID && sess.FlowID == flowID && !sess.Deleted {
			sessions = append(sessions, *sess)
		}
	}
	s.mu.RUnlock()

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].UpdatedAt.After(sessions[j].UpdatedAt)
	})

	total := len(sessions)
	start := offset
	if start > total {
		start = total
	}
	end := start + limit
	if limit <= 0 || end > total {
		end = total
	}

	return &model.ListSessionsResponse{
		Sessions: sessions[start:end],
		Total:    total,
		HasMore:  end < total,
	}, nil
}

// Delete soft deletes a session.
func (s *SessionService) Delete(ctx context.Context, tenantID, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, exists := s.sessions[sessionID]
	if !exists || sess.TenantID != tenantID {
		return ErrSessionNotFound
	}
	sess.Deleted = true
	sess.UpdatedAt = time.Now()
	return nil
}

// Switch makes a session the visible one for its flow: the flow engine's
// optimistic tracker is cleared, retained messages are filtered to the new
// session and the transitioning flag is raised until the session's messages
// have been fetched.
func (s *SessionService) Switch(ctx context.Context, tenantID, flowID, sessionID string) (*model.SwitchSessionResponse, error) {
	if _, err := s.Get(ctx, tenantID, sessionID); err != nil {
		return nil, err
	}

	eng := s.Engine(tenantID, flowID)
	retained := eng.Switch(sessionID)
	metrics.SessionSwitches.WithLabelValues(tenantID).Inc()

	return &model.SwitchSessionResponse{
		SessionID:     sessionID,
		Transitioning: eng.Transitioning(),
		Retained:      retained,
	}, nil
}

// Touch records message activity against a session.
func (s *SessionService) Touch(tenantID, sessionID string, msg *model.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, exists := s.sessions[sessionID]
	if !exists || sess.TenantID != tenantID {
		return
	}
	cp := *msg
	sess.LastMessage = &cp
	sess.MessageCount++
	sess.UpdatedAt = time.Now()
}

// Live reports whether a session exists and is not deleted. Used by the
// retention sweep to decide which edit records to keep.
func (s *SessionService) Live(sessionID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[sessionID]
	return ok && !sess.Deleted
}
