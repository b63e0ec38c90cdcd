package mcpsession

import (
	"sync"
	"time"
)

// Table is the global session table. It enforces the max-concurrent-sessions
// admission control and exposes the idle sweep used by a background task
// in the serve command.
type Table struct {
	mu          sync.Mutex
	sessions    map[string]*Session
	maxSessions int
	idleTimeout time.Duration
}

// NewTable constructs a Table. maxSessions<=0 uses DefaultMaxSessions;
// idleTimeout<=0 uses DefaultIdleTimeout.
func NewTable(maxSessions int, idleTimeout time.Duration) *Table {
	if maxSessions <= 0 {
		maxSessions = DefaultMaxSessions
	}
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	return &Table{
		sessions:    make(map[string]*Session),
		maxSessions: maxSessions,
		idleTimeout: idleTimeout,
	}
}

// Admit registers s, evicting the least-recently-active session first if
// the table is already at capacity. Returns the evicted session, if any,
// so the caller can close its stream gracefully after unlocking.
func (t *Table) Admit(s *Session) (evicted *Session) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.sessions) >= t.maxSessions {
		evicted = t.lockedOldest()
		if evicted != nil {
			delete(t.sessions, evicted.ID)
		}
	}
	t.sessions[s.ID] = s
	return evicted
}

// lockedOldest returns the least-recently-active session. Caller must hold t.mu.
func (t *Table) lockedOldest() *Session {
	var oldest *Session
	for _, s := range t.sessions {
		if oldest == nil || s.LastActive().Before(oldest.LastActive()) {
			oldest = s
		}
	}
	return oldest
}

// Get looks up a session by id.
func (t *Table) Get(id string) (*Session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[id]
	return s, ok
}

// Remove deregisters a session. Safe to call even if already absent.
func (t *Table) Remove(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.sessions, id)
}

// Count returns the number of registered sessions.
func (t *Table) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

// SweepIdle closes and removes every session idle for longer than the
// configured timeout, returning the sessions it closed so the caller can
// log/account for them.
func (t *Table) SweepIdle(now time.Time) []*Session {
	t.mu.Lock()
	var expired []*Session
	for id, s := range t.sessions {
		if s.IdleSince(now) > t.idleTimeout {
			expired = append(expired, s)
			delete(t.sessions, id)
		}
	}
	t.mu.Unlock()

	for _, s := range expired {
		s.Close()
	}
	return expired
}

// CloseAll closes every session, for graceful shutdown.
func (t *Table) CloseAll() {
	t.mu.Lock()
	all := make([]*Session, 0, len(t.sessions))
	for _, s := range t.sessions {
		all = append(all, s)
	}
	t.sessions = make(map[string]*Session)
	t.mu.Unlock()

	for _, s := range all {
		s.Close()
	}
}
