package reconcile

import (
	"fmt"
	"testing"
	"time"

	"github.com/agentflow-ai/chat-sync/internal/model"
	"github.com/agentflow-ai/chat-sync/pkg/logger"
)

const testWindow = 5 * time.Second

func newTestEngine(sessionID string) *Engine {
	return NewEngine("flow-1", sessionID, testWindow, logger.NewNop())
}

func userMsg(id, clientID, sessionID, text string, ts time.Time) model.Message {
	return model.Message{
		ID:              id,
		FlowID:          "flow-1",
		SessionID:       sessionID,
		ClientMessageID: clientID,
		Sender:          model.SenderUser,
		Text:            text,
		Timestamp:       ts,
	}
}

func machineMsg(id, sessionID, text string, ts time.Time) model.Message {
	return model.Message{
		ID:        id,
		FlowID:    "flow-1",
		SessionID: sessionID,
		Sender:    model.SenderMachine,
		Text:      text,
		Timestamp: ts,
	}
}

func optimistic(clientID, sessionID, text string, ts time.Time) *model.Message {
	return &model.Message{
		ID:              clientID,
		FlowID:          "flow-1",
		SessionID:       sessionID,
		ClientMessageID: clientID,
		Sender:          model.SenderUser,
		Text:            text,
		Optimistic:      true,
		Timestamp:       ts,
	}
}

func countText(msgs []model.Message, text string) int {
	n := 0
	for _, m := range msgs {
		if m.Text == text {
			n++
		}
	}
	return n
}

func TestOptimisticShownBeforeConfirmation(t *testing.T) {
	eng := newTestEngine("sess-1")
	eng.Track(optimistic("c1", "sess-1", "hello", time.Now()))

	list := eng.DisplayList(nil)
	if len(list) != 1 {
		t.Fatalf("expected 1 message, got %d", len(list))
	}
	if !list[0].Optimistic {
		t.Errorf("expected optimistic flag on unconfirmed message")
	}
}

func TestConfirmationByClientID_DisplayedExactlyOnce(t *testing.T) {
	eng := newTestEngine("sess-1")
	now := time.Now()
	eng.Track(optimistic("c1", "sess-1", "hello", now))

	backend := userMsg("b1", "c1", "sess-1", "hello", now.Add(200*time.Millisecond))
	backend.Sequence = 1

	confs := eng.Apply([]model.Message{backend})
	if len(confs) != 1 {
		t.Fatalf("expected 1 confirmation, got %d", len(confs))
	}
	if confs[0].Method != MatchByClientID {
		t.Errorf("expected client_id match, got %s", confs[0].Method)
	}
	if confs[0].BackendID != "b1" || confs[0].ClientID != "c1" {
		t.Errorf("unexpected confirmation: %+v", confs[0])
	}

	// The message appears exactly once on every subsequent pass.
	for pass := 0; pass < 3; pass++ {
		list := eng.DisplayList(nil)
		if got := countText(list, "hello"); got != 1 {
			t.Fatalf("pass %d: expected message once, got %d times", pass, got)
		}
	}

	// Once the backend copy is displayed, the tracker entry is gone and the
	// backend id has taken over.
	if eng.Tracker().Len() != 0 {
		t.Errorf("expected tracker swept, still has %d entries", eng.Tracker().Len())
	}
	list := eng.DisplayList(nil)
	if list[0].ID != "b1" {
		t.Errorf("expected backend id b1 after sweep, got %s", list[0].ID)
	}
}

func TestConfirmationByFingerprintWithinWindow(t *testing.T) {
	eng := newTestEngine("sess-1")
	now := time.Now()
	eng.Track(optimistic("c1", "sess-1", "ship it", now))

	// No client id echoed back; timestamps 2s apart.
	backend := userMsg("b1", "", "sess-1", "ship it", now.Add(2*time.Second))
	confs := eng.Apply([]model.Message{backend})
	if len(confs) != 1 || confs[0].Method != MatchByFingerprint {
		t.Fatalf("expected fingerprint confirmation, got %+v", confs)
	}

	list := eng.DisplayList(nil)
	if got := countText(list, "ship it"); got != 1 {
		t.Fatalf("expected message once, got %d times", got)
	}
}

func TestNoMatchOutsideWindow(t *testing.T) {
	eng := newTestEngine("sess-1")
	now := time.Now()
	eng.Track(optimistic("c1", "sess-1", "hello", now))

	backend := userMsg("b1", "", "sess-1", "hello", now.Add(testWindow+5*time.Second))
	confs := eng.Apply([]model.Message{backend})
	if len(confs) != 0 {
		t.Fatalf("expected no confirmation outside window, got %+v", confs)
	}

	// Both copies exist, but display dedup suppresses the duplicate pair.
	list := eng.DisplayList(nil)
	if got := countText(list, "hello"); got != 1 {
		t.Fatalf("expected duplicate suppressed, got %d copies", got)
	}
	if eng.Tracker().Len() != 1 {
		t.Errorf("unmatched optimistic entry must stay tracked")
	}
}

func TestMachineMessagesAlwaysIncluded(t *testing.T) {
	eng := newTestEngine("sess-1")
	now := time.Now()

	eng.Apply([]model.Message{
		machineMsg("m1", "sess-1", "step complete", now),
		userMsg("b1", "", "sess-1", "thanks", now.Add(time.Second)),
	})

	list := eng.DisplayList(nil)
	if len(list) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(list))
	}
}

func TestDedupConsecutiveSameSender(t *testing.T) {
	eng := newTestEngine("sess-1")
	now := time.Now()

	eng.Apply([]model.Message{
		userMsg("b1", "", "sess-1", "hi", now),
		userMsg("b2", "", "sess-1", "hi", now.Add(time.Minute)),
	})

	list := eng.DisplayList(nil)
	if got := countText(list, "hi"); got != 1 {
		t.Fatalf("expected consecutive duplicate suppressed, got %d", got)
	}
}

func TestDedupAllowsRepeatAfterOppositeSender(t *testing.T) {
	eng := newTestEngine("sess-1")
	now := time.Now()

	eng.Apply([]model.Message{
		userMsg("b1", "", "sess-1", "hi", now),
		machineMsg("m1", "sess-1", "hello there", now.Add(time.Second)),
		userMsg("b2", "", "sess-1", "hi", now.Add(2*time.Second)),
	})

	list := eng.DisplayList(nil)
	if got := countText(list, "hi"); got != 2 {
		t.Fatalf("expected both copies kept across opposite sender, got %d", got)
	}
}

func TestDedupKeepsEditedCopy(t *testing.T) {
	eng := newTestEngine("sess-1")
	now := time.Now()

	edited := userMsg("b2", "", "sess-1", "hi", now.Add(time.Minute))
	edited.Edited = true

	eng.Apply([]model.Message{
		userMsg("b1", "", "sess-1", "hi", now),
		edited,
	})

	list := eng.DisplayList(nil)
	if got := countText(list, "hi"); got != 2 {
		t.Fatalf("expected edited duplicate kept, got %d", got)
	}
}

func TestApplyDropsOtherSessions(t *testing.T) {
	eng := newTestEngine("sess-1")
	now := time.Now()

	eng.Apply([]model.Message{
		userMsg("b1", "", "sess-1", "mine", now),
		userMsg("b2", "", "sess-2", "not mine", now),
	})

	list := eng.DisplayList(nil)
	if len(list) != 1 || list[0].Text != "mine" {
		t.Fatalf("expected only sess-1 messages, got %+v", list)
	}
}

func TestSwitchClearsTrackerAndFiltersRetained(t *testing.T) {
	eng := newTestEngine("sess-1")
	now := time.Now()

	eng.Track(optimistic("c1", "sess-1", "pending", now))
	eng.Apply([]model.Message{userMsg("b1", "", "sess-1", "old", now)})

	retained := eng.Switch("sess-2")
	if retained != 0 {
		t.Errorf("expected 0 retained messages after switch, got %d", retained)
	}
	if eng.Tracker().Len() != 0 {
		t.Errorf("expected tracker cleared on switch")
	}
	if !eng.Transitioning() {
		t.Errorf("expected transitioning flag raised")
	}

	list := eng.DisplayList(nil)
	if len(list) != 0 {
		t.Fatalf("expected no messages from previous session, got %d", len(list))
	}

	// The next applied batch settles the transition.
	eng.Apply([]model.Message{userMsg("b2", "", "sess-2", "fresh", now.Add(time.Second))})
	if eng.Transitioning() {
		t.Errorf("expected transition settled after apply")
	}
	list = eng.DisplayList(nil)
	if len(list) != 1 || list[0].SessionID != "sess-2" {
		t.Fatalf("expected only sess-2 messages, got %+v", list)
	}
}

func TestEmptyApplySettlesTransition(t *testing.T) {
	eng := newTestEngine("sess-1")
	eng.Switch("sess-2")
	eng.Apply(nil)
	if eng.Transitioning() {
		t.Errorf("a completed empty fetch settles the transition")
	}
}

func TestAdoptPreservesTracker(t *testing.T) {
	eng := newTestEngine("")
	eng.Track(optimistic("c1", "sess-9", "first message", time.Now()))

	eng.Adopt("sess-9")
	if eng.SessionID() != "sess-9" {
		t.Fatalf("expected adopted session, got %q", eng.SessionID())
	}
	if eng.Tracker().Len() != 1 {
		t.Errorf("adopt must not clear the tracker")
	}

	// Adopt is a no-op once a session is set.
	eng.Adopt("sess-10")
	if eng.SessionID() != "sess-9" {
		t.Errorf("adopt must not replace an existing session")
	}
}

func TestSessionAdoptedFromFirstConfirmedMessage(t *testing.T) {
	eng := newTestEngine("")
	now := time.Now()

	eng.Apply([]model.Message{userMsg("b1", "", "sess-7", "hello", now)})
	if eng.SessionID() != "sess-7" {
		t.Fatalf("expected session adopted from first message, got %q", eng.SessionID())
	}
}

type fakeEdits map[string]model.EditRecord

func (f fakeEdits) Lookup(sessionID, messageID string) (model.EditRecord, bool) {
	rec, ok := f[sessionID+"/"+messageID]
	return rec, ok
}

func TestEditOverrideAppliedFromRecord(t *testing.T) {
	eng := newTestEngine("sess-1")
	now := time.Now()
	eng.Apply([]model.Message{userMsg("b1", "", "sess-1", "orignal txt", now)})

	edits := fakeEdits{
		"sess-1/b1": {
			SessionID: "sess-1",
			MessageID: "b1",
			Sender:    model.SenderUser,
			Edited:    true,
			Content:   "original text",
		},
	}

	list := eng.DisplayList(edits)
	if len(list) != 1 {
		t.Fatalf("expected 1 message, got %d", len(list))
	}
	if list[0].Text != "original text" || !list[0].Edited {
		t.Errorf("expected edit override applied, got %+v", list[0])
	}
}

func TestEditOverrideByClientID(t *testing.T) {
	eng := newTestEngine("sess-1")
	eng.Track(optimistic("c1", "sess-1", "typo", time.Now()))

	edits := fakeEdits{
		"sess-1/c1": {
			SessionID: "sess-1",
			MessageID: "c1",
			Sender:    model.SenderUser,
			Edited:    true,
			Content:   "fixed",
		},
	}

	list := eng.DisplayList(edits)
	if len(list) != 1 || list[0].Text != "fixed" {
		t.Fatalf("expected optimistic edit override, got %+v", list)
	}
}

func TestApplyEditRetainedMessage(t *testing.T) {
	eng := newTestEngine("sess-1")
	eng.Apply([]model.Message{userMsg("b1", "", "sess-1", "before", time.Now())})

	updated, original, ok := eng.ApplyEdit("b1", "after")
	if !ok {
		t.Fatal("expected edit to find retained message")
	}
	if original != "before" || updated.Text != "after" || !updated.Edited {
		t.Errorf("unexpected edit result: original=%q updated=%+v", original, updated)
	}
}

func TestApplyEditOptimisticMessage(t *testing.T) {
	eng := newTestEngine("sess-1")
	eng.Track(optimistic("c1", "sess-1", "draft", time.Now()))

	updated, original, ok := eng.ApplyEdit("c1", "final")
	if !ok {
		t.Fatal("expected edit to find tracked message")
	}
	if original != "draft" || updated.Text != "final" || !updated.Edited {
		t.Errorf("unexpected edit result: original=%q updated=%+v", original, updated)
	}
}

func TestDisplayOrderByTimestamp(t *testing.T) {
	eng := newTestEngine("sess-1")
	base := time.Now()

	// Applied out of order; display must sort by timestamp.
	eng.Apply([]model.Message{
		machineMsg("m1", "sess-1", "second", base.Add(2*time.Second)),
		userMsg("b1", "", "sess-1", "first", base),
	})
	eng.Track(optimistic("c1", "sess-1", "third", base.Add(3*time.Second)))

	list := eng.DisplayList(nil)
	if len(list) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(list))
	}
	for i, want := range []string{"first", "second", "third"} {
		if list[i].Text != want {
			t.Errorf("position %d: expected %q, got %q", i, want, list[i].Text)
		}
	}
}

func TestLastSequenceTracksHighestApplied(t *testing.T) {
	eng := newTestEngine("sess-1")
	now := time.Now()

	var batch []model.Message
	for i := 1; i <= 4; i++ {
		m := userMsg(fmt.Sprintf("b%d", i), "", "sess-1", fmt.Sprintf("msg %d", i), now.Add(time.Duration(i)*time.Second))
		m.Sequence = uint64(i * 10)
		batch = append(batch, m)
	}
	eng.Apply(batch)

	if got := eng.LastSequence(); got != 40 {
		t.Errorf("expected last sequence 40, got %d", got)
	}
}
