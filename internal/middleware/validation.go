package middleware

import (
	"errors"
	"unicode/utf8"

	"github.com/google/uuid"
)

// ValidateMessageText validates message text.
func ValidateMessageText(text string) error {
	if len(text) == 0 {
		return errors.New("text cannot be empty")
	}
	if len(text) > 100000 { // ~100KB limit
		return errors.New("text exceeds maximum length")
	}
	if !utf8.ValidString(text) {
		return errors.New("text must be valid UTF-8")
	}
	return nil
}

// ValidateFlowID validates a flow ID. Flow ids are opaque identifiers from
// the flow editor, so only size and encoding are checked.
func ValidateFlowID(id string) error {
	if len(id) == 0 {
		return errors.New("flow ID cannot be empty")
	}
	if len(id) > 128 {
		return errors.New("flow ID exceeds maximum length")
	}
	if !utf8.ValidString(id) {
		return errors.New("flow ID must be valid UTF-8")
	}
	return nil
}

// ValidateSessionID validates a session ID. Empty is allowed: it denotes a
// new session that the backend has not confirmed yet.
func ValidateSessionID(id string) error {
	if id == "" {
		return nil
	}
	if _, err := uuid.Parse(id); err != nil {
		return errors.New("invalid session ID format")
	}
	return nil
}

// ValidateMessageID validates a message ID.
func ValidateMessageID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return errors.New("invalid message ID format")
	}
	return nil
}

// ValidateSessionName validates a session name.
func ValidateSessionName(name string) error {
	if len(name) > 256 {
		return errors.New("name exceeds maximum length")
	}
	if !utf8.ValidString(name) {
		return errors.New("name must be valid UTF-8")
	}
	return nil
}
