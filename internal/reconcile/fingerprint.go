// Package reconcile merges the optimistic (locally created) message stream
// with the authoritative backend stream into a single display list. It owns
// the optimistic tracker, the matching heuristics, display-time
// deduplication and session transition state.
package reconcile

import (
	"strings"

	"github.com/agentflow-ai/chat-sync/internal/model"
)

// Fingerprint derives the content identity used to correlate an optimistic
// message with its backend copy when no client message id is available.
// Sender, trimmed text and attachment names participate; timestamps do not
// (proximity is checked separately).
func Fingerprint(msg *model.Message) string {
	var b strings.Builder
	b.WriteString(string(msg.Sender))
	b.WriteByte('|')
	b.WriteString(strings.TrimSpace(msg.Text))
	for _, f := range msg.Files {
		b.WriteByte('|')
		b.WriteString(f.Name)
	}
	return b.String()
}
