package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/DayDreamerAI/daydreamer-memory/internal/domain/audit"
	"github.com/DayDreamerAI/daydreamer-memory/internal/domain/mcpsession"
	"github.com/DayDreamerAI/daydreamer-memory/internal/service/mcpdispatcher"
	"github.com/DayDreamerAI/daydreamer-memory/pkg/mcp"
)

// maxRequestBodySize bounds the JSON-RPC request body accepted on
// POST /messages.
const maxRequestBodySize = 1 << 20 // 1 MB

// Engine drives the classic two-endpoint SSE transport: a long-lived
// "GET /sse" stream announcing its own "POST /messages?session_id="
// endpoint, then subsequent JSON-RPC calls delivered over that stream.
type Engine struct {
	sessions   *mcpsession.Table
	dispatcher *mcpdispatcher.Dispatcher
	metrics    *Metrics
	audit      audit.Store // optional; nil disables the audit trail
	log        *slog.Logger
}

// NewEngine constructs an Engine. metrics may be nil (tests).
func NewEngine(sessions *mcpsession.Table, dispatcher *mcpdispatcher.Dispatcher, metrics *Metrics, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{sessions: sessions, dispatcher: dispatcher, metrics: metrics, log: log}
}

// WithAudit attaches an audit trail sink. Every tools/call dispatch, success
// or failure, is appended as a Record keyed by session and principal.
func (e *Engine) WithAudit(store audit.Store) *Engine {
	e.audit = store
	return e
}

// ServeSSE handles "GET /sse": it admits a new session (evicting the
// least-recently-active one if the table is already full), announces the
// per-session message endpoint, then streams frames until the client
// disconnects or the session is evicted/closed.
func (e *Engine) ServeSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	principal := principalFromContext(r.Context())
	sess := mcpsession.New(uuid.NewString(), r.RemoteAddr, principal)

	if evicted := e.sessions.Admit(sess); evicted != nil {
		e.log.Info("evicting least-recently-active session to admit a new one", "evicted_session_id", evicted.ID)
		evicted.Close()
		if e.metrics != nil {
			e.metrics.SessionsEvicted.Inc()
		}
	}
	defer e.sessions.Remove(sess.ID)
	if e.metrics != nil {
		e.metrics.ActiveSessions.Set(float64(e.sessions.Count()))
		defer e.metrics.ActiveSessions.Set(float64(e.sessions.Count()))
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	_, _ = w.Write(mcp.EncodeSSEEndpointFrame(fmt.Sprintf("/messages?session_id=%s", sess.ID)))
	flusher.Flush()

	ticker := time.NewTicker(mcpsession.DefaultKeepaliveInterval)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			sess.Close()
			return
		case <-sess.Done():
			return
		case <-ticker.C:
			if _, err := w.Write(mcp.EncodeSSEKeepalive()); err != nil {
				sess.Close()
				return
			}
			flusher.Flush()
		case frame, ok := <-sess.Out:
			if !ok {
				return
			}
			if _, err := w.Write(frame); err != nil {
				sess.Close()
				return
			}
			flusher.Flush()
		}
	}
}

// ServeMessages handles "POST /messages?session_id=": it dispatches the
// JSON-RPC body against the session's bound dispatcher. A request with an
// id gets its response both over the SSE stream and as the HTTP response
// body; a notification, or any message without an id, gets 204 No Content
// and nothing is sent on the stream.
func (e *Engine) ServeMessages(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		http.Error(w, "session_id query parameter is required", http.StatusBadRequest)
		return
	}
	sess, ok := e.sessions.Get(sessionID)
	if !ok {
		http.Error(w, "unknown or expired session_id", http.StatusBadRequest)
		return
	}
	sess.Touch()

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer func() { _ = r.Body.Close() }()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "request body exceeds the payload cap", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "request body unreadable", http.StatusBadRequest)
		return
	}
	if !json.Valid(body) {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	var probe struct {
		Method string          `json:"method"`
		ID     json.RawMessage `json:"id"`
		Params struct {
			Name string `json:"name"`
		} `json:"params"`
	}
	_ = json.Unmarshal(body, &probe)

	resp := e.dispatcher.Dispatch(r.Context(), body)

	if probe.Method == "tools/call" {
		if e.metrics != nil {
			status := "ok"
			if resp.Error != nil {
				status = "error"
			}
			e.metrics.ToolCallsTotal.WithLabelValues(probe.Params.Name, status).Inc()
		}
		e.recordAudit(r.Context(), sess, probe.Params.Name, resp)
	}

	if mcp.IsNotification(probe.Method) || probe.ID == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	payload, err := json.Marshal(resp)
	if err != nil {
		http.Error(w, "could not encode response", http.StatusInternalServerError)
		return
	}

	if !sess.Send(mcp.EncodeSSEData(payload)) {
		// A full buffer or closed session is a broken stream: deregister
		// rather than retrying. The HTTP body below still carries the
		// response for clients that accept it there.
		e.sessions.Remove(sess.ID)
		sess.Close()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}

// principalContextKey is the request context key set by the gatekeeper
// middleware after a successful JWT or static-bearer check.
type principalContextKey struct{}

func withPrincipal(ctx context.Context, principal string) context.Context {
	return context.WithValue(ctx, principalContextKey{}, principal)
}

func principalFromContext(ctx context.Context) string {
	principal, _ := ctx.Value(principalContextKey{}).(string)
	return principal
}

// recordAudit appends one Record for a completed tools/call dispatch. It
// never blocks the response path: Append failures are logged and dropped.
func (e *Engine) recordAudit(ctx context.Context, sess *mcpsession.Session, toolName string, resp *mcp.Response) {
	if e.audit == nil {
		return
	}
	record := audit.Record{
		Timestamp: time.Now().UTC(),
		RequestID: RequestIDFromContext(ctx),
		SessionID: sess.ID,
		Principal: sess.Principal,
		ToolName:  toolName,
		Decision:  audit.DecisionAllow,
	}
	if resp.Error != nil {
		record.Decision = audit.DecisionDeny
		record.Category = resp.Error.Category
		record.Message = resp.Error.Message
	}
	if err := e.audit.Append(context.Background(), record); err != nil {
		LoggerFromContext(ctx).Warn("audit append failed", "error", err)
	}
}
