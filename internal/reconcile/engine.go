package reconcile

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/agentflow-ai/chat-sync/internal/model"
	"github.com/agentflow-ai/chat-sync/pkg/logger"
	"github.com/agentflow-ai/chat-sync/pkg/metrics"
)

// EditSource provides persisted edit overrides, looked up by message id
// within a session.
type EditSource interface {
	Lookup(sessionID, messageID string) (model.EditRecord, bool)
}

// Confirmation reports an optimistic message matched to a backend message
// during an Apply pass.
type Confirmation struct {
	ClientID  string
	BackendID string
	SessionID string
	Sequence  uint64
	Method    string
}

// Engine reconciles one flow's visible session: it retains the authoritative
// messages of that session, tracks optimistic sends, and composes the
// deduplicated display list.
type Engine struct {
	flowID  string
	window  time.Duration
	tracker *Tracker
	log     *logger.Logger

	mu            sync.Mutex
	sessionID     string
	transitioning bool
	retained      map[string]*model.Message
	order         []string
	lastSeq       uint64
}

// NewEngine creates an engine for a flow. The session id may be empty for a
// not-yet-confirmed new session; it is adopted from the first authoritative
// message that arrives.
func NewEngine(flowID, sessionID string, window time.Duration, log *logger.Logger) *Engine {
	return &Engine{
		flowID:    flowID,
		sessionID: sessionID,
		window:    window,
		tracker:   NewTracker(),
		log:       log,
		retained:  make(map[string]*model.Message),
	}
}

// Tracker exposes the optimistic tracker for the send path.
func (e *Engine) Tracker() *Tracker { return e.tracker }

// SessionID returns the currently visible session id.
func (e *Engine) SessionID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sessionID
}

// Transitioning reports whether a session switch is awaiting confirmation of
// the new session's messages.
func (e *Engine) Transitioning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.transitioning
}

// LastSequence returns the highest stream sequence applied so far.
func (e *Engine) LastSequence() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastSeq
}

// Track registers an optimistic message for the visible session and updates
// the pending gauge.
func (e *Engine) Track(msg *model.Message) {
	e.tracker.Add(msg)
	metrics.OptimisticPending.Set(float64(e.tracker.Len()))
}

// Adopt assigns a session id to an engine whose visible session is still
// unconfirmed (empty). Unlike Switch it preserves tracked optimistic
// messages: they belong to the session being adopted.
func (e *Engine) Adopt(sessionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sessionID == "" {
		e.sessionID = sessionID
	}
}

// Switch makes a different session visible: the optimistic tracker is
// cleared, retained messages are filtered to the new session, and the
// transitioning flag is raised until the new session's messages have been
// fetched. Returns how many retained messages survived the filter.
func (e *Engine) Switch(sessionID string) int {
	e.tracker.Clear()
	metrics.OptimisticPending.Set(0)

	e.mu.Lock()
	defer e.mu.Unlock()

	e.sessionID = sessionID
	e.transitioning = true
	e.lastSeq = 0

	kept := e.order[:0]
	for _, id := range e.order {
		msg, ok := e.retained[id]
		if !ok {
			continue
		}
		if msg.SessionID != sessionID {
			delete(e.retained, id)
			continue
		}
		kept = append(kept, id)
	}
	e.order = kept

	e.log.Info("session switched",
		zap.String("flow_id", e.flowID),
		zap.String("session_id", sessionID),
		zap.Int("retained", len(e.order)),
	)
	return len(e.order)
}

// Apply ingests a batch of authoritative messages. User-sender messages are
// matched against the optimistic tracker (client id first, content
// fingerprint within the match window as fallback); matches annotate the
// tracked entry with backend identifiers. Machine messages are always
// retained. Messages from other sessions are dropped. A completed apply
// settles any in-flight session transition.
func (e *Engine) Apply(batch []model.Message) []Confirmation {
	var confirmed []Confirmation

	e.mu.Lock()
	defer e.mu.Unlock()

	for i := range batch {
		msg := batch[i]

		// A new session has no id until the backend confirms its first
		// message; adopt the id from that message.
		if e.sessionID == "" && msg.SessionID != "" {
			e.sessionID = msg.SessionID
		}
		if msg.SessionID != e.sessionID {
			continue
		}

		if msg.Sender == model.SenderUser {
			if clientID, method, ok := e.tracker.Match(&msg, e.window); ok {
				e.tracker.Confirm(clientID, msg.ID, msg.Sequence)
				metrics.RecordMatch(method)
				confirmed = append(confirmed, Confirmation{
					ClientID:  clientID,
					BackendID: msg.ID,
					SessionID: msg.SessionID,
					Sequence:  msg.Sequence,
					Method:    method,
				})
			}
		}

		if _, seen := e.retained[msg.ID]; !seen {
			cp := msg
			e.retained[msg.ID] = &cp
			e.order = append(e.order, msg.ID)
		}
		if msg.Sequence > e.lastSeq {
			e.lastSeq = msg.Sequence
		}
	}

	// The fetch that produced this batch confirms the visible session's
	// state, empty or not.
	e.transitioning = false

	return confirmed
}

// DisplayList composes the reconciled list: retained authoritative messages
// plus still-pending optimistic entries, ordered by timestamp, with
// persisted edit overrides applied and consecutive same-sender duplicates
// suppressed. Confirmed optimistic entries whose backend copy made it into
// the list are swept from the tracker afterwards.
func (e *Engine) DisplayList(edits EditSource) []model.Message {
	e.mu.Lock()

	composed := make([]model.Message, 0, len(e.order)+4)
	for _, id := range e.order {
		if msg, ok := e.retained[id]; ok {
			composed = append(composed, *msg)
		}
	}
	sessionID := e.sessionID
	e.mu.Unlock()

	// Pending optimistic entries: unconfirmed ones always show; confirmed
	// ones keep showing only until their backend copy is in the retained
	// set, so the message never disappears between passes.
	for _, p := range e.tracker.Pending() {
		if p.confirmed && p.backendID != "" && e.hasRetained(p.backendID) {
			continue
		}
		composed = append(composed, p.msg)
	}

	sort.SliceStable(composed, func(i, j int) bool {
		return composed[i].Timestamp.Before(composed[j].Timestamp)
	})

	if edits != nil {
		for i := range composed {
			rec, ok := edits.Lookup(sessionID, composed[i].ID)
			if !ok && composed[i].ClientMessageID != "" {
				rec, ok = edits.Lookup(sessionID, composed[i].ClientMessageID)
			}
			if !ok {
				continue
			}
			composed[i].Text = rec.Content
			composed[i].Edited = true
			metrics.EditsRestored.Inc()
		}
	}

	display := dedup(composed)

	swept := e.tracker.SweepDisplayed(e.hasRetained)
	if swept > 0 {
		metrics.OptimisticPending.Set(float64(e.tracker.Len()))
	}

	return display
}

// ApplyEdit updates the in-memory copy of a message with edited text and
// marks it edited. Retained authoritative messages are checked first, then
// still-optimistic tracked ones. Returns the updated message and the text it
// held before the edit.
func (e *Engine) ApplyEdit(messageID, newText string) (model.Message, string, bool) {
	e.mu.Lock()
	if msg, ok := e.retained[messageID]; ok {
		original := msg.Text
		msg.Text = newText
		msg.Edited = true
		cp := *msg
		e.mu.Unlock()
		return cp, original, true
	}
	e.mu.Unlock()

	return e.tracker.Edit(messageID, newText)
}

func (e *Engine) hasRetained(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.retained[id]
	return ok
}

// dedup suppresses repeated (sender, content) pairs that are not separated
// by an opposite-sender message, unless a copy is marked edited. A kept
// message resets the suppression window for the opposite sender.
func dedup(msgs []model.Message) []model.Message {
	out := make([]model.Message, 0, len(msgs))
	seen := make(map[string]model.Sender)

	for i := range msgs {
		msg := msgs[i]
		fp := Fingerprint(&msg)
		if !msg.Edited {
			if _, dup := seen[fp]; dup {
				metrics.DuplicatesSuppressed.Inc()
				continue
			}
		}

		// This message is an intervening opposite-sender message for every
		// fingerprint recorded by the other side.
		for k, sender := range seen {
			if sender != msg.Sender {
				delete(seen, k)
			}
		}
		seen[fp] = msg.Sender
		out = append(out, msg)
	}
	return out
}
