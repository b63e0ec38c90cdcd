// Package mcpsession models the long-lived SSE session engine's in-memory
// state: one entry per open "GET /sse" stream, bound to subsequent
// "POST /messages?session_id=" calls.
package mcpsession

import (
	"sync"
	"time"
)

// Frame is a single SSE wire frame queued for delivery to a session's
// stream (an "event: endpoint" frame, a "data:" JSON-RPC response frame,
// or a ": keepalive" comment).
type Frame []byte

// DefaultIdleTimeout is how long a session may sit without activity before
// the sweeper closes it.
const DefaultIdleTimeout = 300 * time.Second

// DefaultMaxSessions bounds concurrent open sessions.
const DefaultMaxSessions = 10

// DefaultKeepaliveInterval is how often ": keepalive" comments are sent.
const DefaultKeepaliveInterval = 30 * time.Second

// DefaultSweepInterval is how often the background sweeper scans the table
// for idle sessions.
const DefaultSweepInterval = 60 * time.Second

// Session is one open SSE stream. Writes to Out must be serialized by the
// owning adapter through a single writer goroutine per session; this type
// only tracks bookkeeping, leaving the transport-level write loop to the
// HTTP adapter.
type Session struct {
	ID         string
	CreatedAt  time.Time
	PeerAddr   string
	Principal  string // JWT sub or the legacy bearer marker

	Out chan Frame // buffered channel the owning HTTP handler drains and flushes

	mu         sync.Mutex
	lastActive time.Time
	closed     bool
	closeOnce  sync.Once
	closeCh    chan struct{}
}

// New constructs a Session with its bookkeeping initialized to now.
func New(id, peerAddr, principal string) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:         id,
		CreatedAt:  now,
		PeerAddr:   peerAddr,
		Principal:  principal,
		Out:        make(chan Frame, 16),
		lastActive: now,
		closeCh:    make(chan struct{}),
	}
}

// Touch records activity, resetting the idle timer.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActive = time.Now().UTC()
}

// IdleSince reports how long the session has been idle.
func (s *Session) IdleSince(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastActive)
}

// LastActive returns the last recorded activity time.
func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// Send enqueues a frame for delivery. Returns false if the session is
// already closed or its outbound buffer is full; callers treat a full
// buffer as a broken stream and deregister it rather than retrying.
func (s *Session) Send(f Frame) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.mu.Unlock()
	select {
	case s.Out <- f:
		return true
	default:
		return false
	}
}

// Close marks the session closed and closes the Done channel. Safe to call more
// than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.closeCh)
		close(s.Out)
	})
}

// Closed reports whether Close has been called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Done returns a channel closed when the session is closed, for select
// loops driven by the owning HTTP handler's request context.
func (s *Session) Done() <-chan struct{} {
	return s.closeCh
}
