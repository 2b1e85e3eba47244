package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/agentflow-ai/chat-sync/internal/editstore"
	"github.com/agentflow-ai/chat-sync/internal/middleware"
	"github.com/agentflow-ai/chat-sync/internal/model"
	"github.com/agentflow-ai/chat-sync/internal/service"
	"github.com/agentflow-ai/chat-sync/pkg/logger"
)

func newStreamFixture(t *testing.T) (*service.MessageService, *StreamHandler) {
	t.Helper()
	log := logger.NewNop()

	edits, err := editstore.Open(t.TempDir(), log)
	if err != nil {
		t.Fatalf("open edit store: %v", err)
	}
	t.Cleanup(func() { edits.Close() })

	sessions := service.NewSessionService(5*time.Second, log)
	messages := service.NewMessageService(&memFeed{}, sessions, edits, log)

	h := NewStreamHandler(messages, log)
	h.pollInterval = 20 * time.Millisecond
	h.heartbeatInterval = time.Minute
	return messages, h
}

func streamRequest(ctx context.Context, flowID, sessionID string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("flowID", flowID)
	ctx = context.WithValue(ctx, chi.RouteCtxKey, rctx)
	ctx = context.WithValue(ctx, middleware.TenantIDKey, "tenant-1")
	ctx = context.WithValue(ctx, middleware.UserIDKey, "user-1")
	return httptest.NewRequest(http.MethodGet, "/stream?session="+sessionID, nil).WithContext(ctx)
}

func TestStreamReemitsEditedMessage(t *testing.T) {
	messages, h := newStreamFixture(t)
	bg := context.Background()

	sent, err := messages.Send(bg, "tenant-1", "user-1", "flow-1", &model.SendMessageRequest{Text: "first wording"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	list, err := messages.List(bg, "tenant-1", "flow-1", sent.SessionID, 50)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	backendID := list.Messages[0].ID

	ctx, cancel := context.WithCancel(bg)
	rec := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		h.Stream(rec, streamRequest(ctx, "flow-1", sent.SessionID))
		close(done)
	}()

	// Let replay finish, then edit and give the poll loop a few ticks to
	// observe the changed content.
	time.Sleep(60 * time.Millisecond)
	if _, err := messages.Edit(bg, "tenant-1", "flow-1", backendID, &model.EditMessageRequest{SessionID: sent.SessionID, Text: "second wording"}); err != nil {
		t.Fatalf("edit: %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	cancel()
	<-done

	body := rec.Body.String()
	if !strings.Contains(body, "replay_complete") {
		t.Fatalf("replay did not complete:\n%s", body)
	}
	if !strings.Contains(body, `"first wording"`) {
		t.Errorf("original content never emitted:\n%s", body)
	}
	if !strings.Contains(body, `"second wording"`) {
		t.Errorf("edited content never emitted to the stream:\n%s", body)
	}
}

func TestStreamDoesNotRepeatUnchangedMessages(t *testing.T) {
	messages, h := newStreamFixture(t)
	bg := context.Background()

	sent, err := messages.Send(bg, "tenant-1", "user-1", "flow-1", &model.SendMessageRequest{Text: "steady state"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}

	ctx, cancel := context.WithCancel(bg)
	rec := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		h.Stream(rec, streamRequest(ctx, "flow-1", sent.SessionID))
		close(done)
	}()

	// Several poll ticks pass with nothing changing.
	time.Sleep(120 * time.Millisecond)
	cancel()
	<-done

	if n := strings.Count(rec.Body.String(), `"steady state"`); n != 1 {
		t.Errorf("unchanged message emitted %d times, want 1", n)
	}
}

func TestStreamRejectsBadSessionID(t *testing.T) {
	_, h := newStreamFixture(t)

	rec := httptest.NewRecorder()
	h.Stream(rec, streamRequest(context.Background(), "flow-1", "not-a-uuid"))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}
