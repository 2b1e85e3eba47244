package model

import (
	"time"
)

// Session is a conversation thread within a flow. A "new" session has an
// empty ID on the client side until the first message is confirmed by the
// backend; by the time a Session record exists here it always has an id.
type Session struct {
	ID        string            `json:"id"`
	FlowID    string            `json:"flow_id"`
	TenantID  string            `json:"tenant_id"`
	UserID    string            `json:"user_id,omitempty"`
	Name      string            `json:"name,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
	Deleted   bool              `json:"deleted,omitempty"`

	MessageCount int      `json:"message_count,omitempty"`
	LastMessage  *Message `json:"last_message,omitempty"`
}

// CreateSessionRequest is the request to create a new session.
type CreateSessionRequest struct {
	Name     string            `json:"name,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// ListSessionsResponse is the response for listing a flow's sessions.
type ListSessionsResponse struct {
	Sessions []Session `json:"sessions"`
	Total    int       `json:"total"`
	HasMore  bool      `json:"has_more"`
}

// SwitchSessionResponse reports the state of a session transition.
type SwitchSessionResponse struct {
	SessionID     string `json:"session_id"`
	Transitioning bool   `json:"transitioning"`
	Retained      int    `json:"retained_messages"`
}
