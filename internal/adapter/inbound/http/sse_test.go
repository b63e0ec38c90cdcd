package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/DayDreamerAI/daydreamer-memory/internal/domain/mcpsession"
	"github.com/DayDreamerAI/daydreamer-memory/internal/service/mcpdispatcher"
	"github.com/DayDreamerAI/daydreamer-memory/internal/service/toolregistry"
)

func testEngine() *Engine {
	tools := toolregistry.New()
	tools.Register(toolregistry.Tool{
		Name:        "echo",
		Description: "echoes its arguments",
		InputSchema: json.RawMessage(`{"type":"object"}`),
		Handler: func(ctx context.Context, args json.RawMessage) (any, error) {
			return map[string]any{"ok": true}, nil
		},
	})
	sessions := mcpsession.NewTable(2, time.Minute)
	dispatcher := mcpdispatcher.New(tools)
	return NewEngine(sessions, dispatcher, nil, nil)
}

// sseReadEndpoint reads the opening "event: endpoint" frame off r and
// returns the announced messages path.
func sseReadEndpoint(t *testing.T, r *httptest.ResponseRecorder) string {
	t.Helper()
	body := r.Body.String()
	lines := strings.Split(body, "\n")
	for i, l := range lines {
		if l == "event: endpoint" && i+1 < len(lines) {
			return strings.TrimPrefix(lines[i+1], "data: ")
		}
	}
	t.Fatalf("no endpoint frame found in %q", body)
	return ""
}

func TestEngine_ServeSSE_AnnouncesMessagesEndpoint(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	e := testEngine()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/sse", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	e.ServeSSE(rec, req)

	path := sseReadEndpoint(t, rec)
	if !strings.HasPrefix(path, "/messages?session_id=") {
		t.Errorf("endpoint path = %q, want /messages?session_id=...", path)
	}
	if e.sessions.Count() != 0 {
		t.Errorf("session should be removed after the stream ends, count = %d", e.sessions.Count())
	}
}

func TestEngine_ServeMessages_UnknownSession(t *testing.T) {
	e := testEngine()
	req := httptest.NewRequest(http.MethodPost, "/messages?session_id=nope", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()

	e.ServeMessages(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestEngine_ServeMessages_OversizedPayload413(t *testing.T) {
	e := testEngine()
	sess := mcpsession.New("sess-big", "test", "")
	e.sessions.Admit(sess)

	body := strings.Repeat("x", maxRequestBodySize+1)
	req := httptest.NewRequest(http.MethodPost, "/messages?session_id=sess-big", strings.NewReader(body))
	rec := httptest.NewRecorder()

	e.ServeMessages(rec, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413", rec.Code)
	}
}

func TestEngine_ServeMessages_MissingSessionID(t *testing.T) {
	e := testEngine()
	req := httptest.NewRequest(http.MethodPost, "/messages", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()

	e.ServeMessages(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestEngine_ServeMessages_NotificationReturns204(t *testing.T) {
	e := testEngine()
	sess := mcpsession.New("sess-1", "test", "")
	e.sessions.Admit(sess)

	body := `{"jsonrpc":"2.0","method":"notifications/initialized"}`
	req := httptest.NewRequest(http.MethodPost, "/messages?session_id=sess-1", strings.NewReader(body))
	rec := httptest.NewRecorder()

	e.ServeMessages(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", rec.Code)
	}
}

func TestEngine_ServeMessages_RequestDeliveredBothWays(t *testing.T) {
	e := testEngine()
	sess := mcpsession.New("sess-2", "test", "")
	e.sessions.Admit(sess)

	body := `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"echo"}}`
	req := httptest.NewRequest(http.MethodPost, "/messages?session_id=sess-2", strings.NewReader(body))
	rec := httptest.NewRecorder()

	e.ServeMessages(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body = %s", rec.Code, rec.Body.String())
	}
	select {
	case frame := <-sess.Out:
		if !strings.HasPrefix(string(frame), "data: ") {
			t.Errorf("frame = %q, want a data: frame", frame)
		}
	default:
		t.Error("expected a frame queued on the session's Out channel")
	}
}

func TestEngine_ServeSSE_EvictsLeastRecentlyActive(t *testing.T) {
	e := testEngine()
	old := mcpsession.New("old", "test", "")
	e.sessions.Admit(old)
	time.Sleep(2 * time.Millisecond)
	newer := mcpsession.New("newer", "test", "")
	e.sessions.Admit(newer)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/sse", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	e.ServeSSE(rec, req)

	if !old.Closed() {
		t.Error("the least-recently-active session should have been evicted and closed")
	}
	if newer.Closed() {
		t.Error("the more recently active session should not have been evicted")
	}
}
