// Package model defines data structures for the chat state service.
package model

import (
	"time"
)

// Sender identifies which side of the conversation produced a message.
type Sender string

const (
	SenderUser    Sender = "User"
	SenderMachine Sender = "Machine"
)

// Opposite returns the other side of the conversation.
func (s Sender) Opposite() Sender {
	if s == SenderUser {
		return SenderMachine
	}
	return SenderUser
}

// FileRef is a file attachment carried on a message.
type FileRef struct {
	Name string `json:"name"`
	Path string `json:"path"`
	Size int64  `json:"size,omitempty"`
}

// ContentBlock is an opaque structured block attached to a Machine message,
// e.g. a collapsible agent-step timeline. The service carries blocks through
// without interpreting them.
type ContentBlock struct {
	Title    string           `json:"title,omitempty"`
	Contents []map[string]any `json:"contents,omitempty"`
}

// Message is a chat message within a flow session.
type Message struct {
	// Identity
	ID        string `json:"id"`
	FlowID    string `json:"flow_id"`
	SessionID string `json:"session_id"`
	TenantID  string `json:"tenant_id,omitempty"`

	// ClientMessageID is the locally generated id assigned on optimistic
	// send and echoed back by the backend on confirmation.
	ClientMessageID string `json:"client_message_id,omitempty"`

	// Content
	Sender        Sender         `json:"sender"`
	SenderName    string         `json:"sender_name,omitempty"`
	Text          string         `json:"text"`
	Files         []FileRef      `json:"files,omitempty"`
	ContentBlocks []ContentBlock `json:"content_blocks,omitempty"`
	Properties    map[string]any `json:"properties,omitempty"`

	// State
	Edited     bool `json:"edit,omitempty"`
	Optimistic bool `json:"is_optimistic,omitempty"`

	Timestamp time.Time `json:"timestamp"`

	// Stream metadata, populated once the backend has confirmed the message.
	Sequence uint64 `json:"sequence,omitempty"`
}

// SendMessageRequest is the request to send a new message.
type SendMessageRequest struct {
	SessionID string    `json:"session_id,omitempty"`
	Text      string    `json:"text"`
	Files     []FileRef `json:"files,omitempty"`
	// Reply asks the service to generate a Machine reply after the user
	// message is published.
	Reply bool   `json:"reply,omitempty"`
	Model string `json:"model,omitempty"`
}

// SendMessageResponse is the response after an optimistic send. The message
// carries the client message id; session_id is filled in when the send
// created a new session.
type SendMessageResponse struct {
	Message   *Message `json:"message"`
	SessionID string   `json:"session_id"`
	Sequence  uint64   `json:"sequence,omitempty"`
}

// EditMessageRequest is the request to edit an existing message.
type EditMessageRequest struct {
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
}

// ListMessagesResponse is the reconciled display list for a session.
type ListMessagesResponse struct {
	Messages      []Message `json:"messages"`
	LastSequence  uint64    `json:"last_sequence"`
	HasMore       bool      `json:"has_more"`
	Transitioning bool      `json:"transitioning"`
}
