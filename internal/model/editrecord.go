package model

import (
	"fmt"
	"time"
)

// EditRecord captures a user edit to a message. Records are persisted so that
// edited content survives restarts and session switches, and are applied as
// display-time overrides regardless of what the backend returns for the
// message. The record keeps the backend message id once it is known; edits
// made against a still-optimistic message are re-keyed on confirmation.
type EditRecord struct {
	SessionID string `json:"session"`
	MessageID string `json:"id"`
	Sender    Sender `json:"sender"`
	Edited    bool   `json:"edit"`

	// Content is the edited text; OriginalContent is what the message held
	// before the first edit, kept for fingerprint matching against the
	// backend copy.
	Content         string `json:"content"`
	OriginalContent string `json:"original_content,omitempty"`

	// OptimisticEdited marks an edit applied before backend confirmation.
	OptimisticEdited bool `json:"is_optimistic_edited,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// Key returns the composite key for an edit record: sender role, message id
// and edited content.
func (r EditRecord) Key() string {
	return EditKey(r.Sender, r.MessageID, r.Content)
}

// EditKey builds the composite edit-record key.
func EditKey(sender Sender, messageID, content string) string {
	return fmt.Sprintf("%s:%s:%s", sender, messageID, content)
}
