package reconcile

import (
	"sync"
	"time"

	"github.com/agentflow-ai/chat-sync/internal/model"
)

// Match methods reported to callers (and used as metric labels).
const (
	MatchByClientID    = "client_id"
	MatchByFingerprint = "fingerprint"
)

type trackedMessage struct {
	msg       *model.Message
	backendID string
	seq       uint64
	confirmed bool
}

// Tracker holds optimistic messages created on send, pending backend
// confirmation. Confirmed entries are kept until a display pass has seen the
// backend copy, so the message never flickers out of the list.
type Tracker struct {
	mu      sync.Mutex
	entries map[string]*trackedMessage
	order   []string
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{entries: make(map[string]*trackedMessage)}
}

// Add registers an optimistic message under its client message id.
func (t *Tracker) Add(msg *model.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.entries[msg.ClientMessageID]; exists {
		return
	}
	cp := *msg
	t.entries[msg.ClientMessageID] = &trackedMessage{msg: &cp}
	t.order = append(t.order, msg.ClientMessageID)
}

// Len returns the number of tracked messages, confirmed included.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Get returns a copy of the tracked message for a client id.
func (t *Tracker) Get(clientID string) (model.Message, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[clientID]
	if !ok {
		return model.Message{}, false
	}
	return *e.msg, true
}

// Match attempts to correlate an incoming backend message with a tracked
// optimistic entry: first by exact client id, then by content fingerprint
// with timestamps within window. Returns the client id and match method.
func (t *Tracker) Match(incoming *model.Message, window time.Duration) (string, string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if incoming.ClientMessageID != "" {
		if _, ok := t.entries[incoming.ClientMessageID]; ok {
			return incoming.ClientMessageID, MatchByClientID, true
		}
	}

	fp := Fingerprint(incoming)
	for _, id := range t.order {
		e, ok := t.entries[id]
		if !ok || e.confirmed {
			continue
		}
		if Fingerprint(e.msg) != fp {
			continue
		}
		delta := incoming.Timestamp.Sub(e.msg.Timestamp)
		if delta < 0 {
			delta = -delta
		}
		if delta <= window {
			return id, MatchByFingerprint, true
		}
	}
	return "", "", false
}

// Confirm annotates a tracked entry with the backend identifiers. The entry
// stays in the tracker until SweepDisplayed observes the backend copy in a
// composed display list.
func (t *Tracker) Confirm(clientID, backendID string, seq uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[clientID]
	if !ok {
		return
	}
	e.backendID = backendID
	e.seq = seq
	e.confirmed = true
}

// Pending returns copies of tracked messages in insertion order. Confirmed
// entries report their backend id so display composition can decide whether
// the backend copy has replaced them.
func (t *Tracker) Pending() []pendingEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]pendingEntry, 0, len(t.order))
	for _, id := range t.order {
		e, ok := t.entries[id]
		if !ok {
			continue
		}
		cp := *e.msg
		out = append(out, pendingEntry{
			msg:       cp,
			backendID: e.backendID,
			confirmed: e.confirmed,
		})
	}
	return out
}

type pendingEntry struct {
	msg       model.Message
	backendID string
	confirmed bool
}

// Edit updates the text of a tracked optimistic message and marks it edited.
// Returns the updated copy and the original text.
func (t *Tracker) Edit(clientID, newText string) (model.Message, string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[clientID]
	if !ok {
		return model.Message{}, "", false
	}
	original := e.msg.Text
	e.msg.Text = newText
	e.msg.Edited = true
	return *e.msg, original, true
}

// SweepDisplayed removes confirmed entries whose backend copy is present in
// the display set, returning how many were removed.
func (t *Tracker) SweepDisplayed(displayed func(backendID string) bool) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	removed := 0
	kept := t.order[:0]
	for _, id := range t.order {
		e, ok := t.entries[id]
		if !ok {
			continue
		}
		if e.confirmed && e.backendID != "" && displayed(e.backendID) {
			delete(t.entries, id)
			removed++
			continue
		}
		kept = append(kept, id)
	}
	t.order = kept
	return removed
}

// Clear drops every tracked entry. Called on session switch.
func (t *Tracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = make(map[string]*trackedMessage)
	t.order = nil
}
