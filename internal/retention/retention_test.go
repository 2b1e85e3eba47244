package retention

import (
	"context"
	"testing"
	"time"

	"github.com/agentflow-ai/chat-sync/internal/editstore"
	"github.com/agentflow-ai/chat-sync/internal/model"
	"github.com/agentflow-ai/chat-sync/pkg/logger"
)

func openStore(t *testing.T) *editstore.Store {
	t.Helper()
	s, err := editstore.Open(t.TempDir(), logger.NewNop())
	if err != nil {
		t.Fatalf("open edit store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func record(sessionID, messageID string, age time.Duration) model.EditRecord {
	return model.EditRecord{
		SessionID: sessionID,
		MessageID: messageID,
		Sender:    model.SenderUser,
		Edited:    true,
		Content:   "edited",
		UpdatedAt: time.Now().UTC().Add(-age),
	}
}

func TestNewRejectsBadCron(t *testing.T) {
	if _, err := New(Config{Cron: "not a cron"}, openStore(t), nil, logger.NewNop()); err == nil {
		t.Fatal("expected error for invalid cron expression")
	}
}

func TestNewDefaultsCron(t *testing.T) {
	s, err := New(Config{}, openStore(t), nil, logger.NewNop())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if s.cfg.Cron != "0 2 * * *" {
		t.Errorf("expected default cron, got %q", s.cfg.Cron)
	}
}

func TestRunOncePrunesOldAndDeadRecords(t *testing.T) {
	store := openStore(t)
	store.Put(record("sess-1", "m1", 48*time.Hour))
	store.Put(record("sess-1", "m2", time.Minute))
	store.Put(record("gone", "m3", time.Minute))

	live := func(sessionID string) bool { return sessionID != "gone" }
	sweeper, err := New(Config{Enabled: true, MaxAge: 24 * time.Hour}, store, live, logger.NewNop())
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	if err := sweeper.RunOnce(); err != nil {
		t.Fatalf("run once: %v", err)
	}

	if _, ok := store.Lookup("sess-1", "m1"); ok {
		t.Errorf("stale record survived")
	}
	if _, ok := store.Lookup("gone", "m3"); ok {
		t.Errorf("dead session record survived")
	}
	if _, ok := store.Lookup("sess-1", "m2"); !ok {
		t.Errorf("fresh record of a live session was pruned")
	}
}

func TestRunDisabledReturnsImmediately(t *testing.T) {
	sweeper, err := New(Config{Enabled: false}, openStore(t), nil, logger.NewNop())
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- sweeper.Run(context.Background()) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("disabled sweeper did not return")
	}
}
