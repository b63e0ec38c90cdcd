// Package memory provides in-memory implementations of outbound ports:
// the rate limiter and, here, a bounded-buffer audit sink used for local
// development and tests. When AUDIT_LOG_DIR is set, serve writes audit
// records to a file via internal/adapter/outbound/audit instead.
package memory

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"

	"github.com/DayDreamerAI/daydreamer-memory/internal/domain/audit"
)

const defaultRecentCap = 1000

// AuditStore implements audit.Store, writing JSON lines to an io.Writer
// and keeping a bounded ring buffer of recent records, read back by GetRecent.
type AuditStore struct {
	encoder *json.Encoder
	writer  io.Writer
	mu      sync.Mutex
	recent  []audit.Record
	cap     int
}

// NewAuditStore creates an audit store writing to stdout.
func NewAuditStore(capacity ...int) *AuditStore {
	return NewAuditStoreWithWriter(os.Stdout, capacity...)
}

// NewAuditStoreWithWriter creates an audit store writing to w.
func NewAuditStoreWithWriter(w io.Writer, capacity ...int) *AuditStore {
	cap := defaultRecentCap
	if len(capacity) > 0 && capacity[0] > 0 {
		cap = capacity[0]
	}
	return &AuditStore{
		encoder: json.NewEncoder(w),
		writer:  w,
		recent:  make([]audit.Record, 0, cap),
		cap:     cap,
	}
}

// Append writes records as JSON lines and retains them in the ring buffer.
func (s *AuditStore) Append(ctx context.Context, records ...audit.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		if err := s.encoder.Encode(r); err != nil {
			return err
		}
		if len(s.recent) >= s.cap {
			copy(s.recent, s.recent[1:])
			s.recent[len(s.recent)-1] = r
		} else {
			s.recent = append(s.recent, r)
		}
	}
	return nil
}

// Flush is a no-op: this implementation does not buffer beyond the ring.
func (s *AuditStore) Flush(ctx context.Context) error { return nil }

// Close closes the underlying file, if any.
func (s *AuditStore) Close() error {
	if f, ok := s.writer.(*os.File); ok && f != os.Stdout && f != os.Stderr {
		return f.Close()
	}
	return nil
}

// GetRecent returns the n most recent records, newest first.
func (s *AuditStore) GetRecent(n int) []audit.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := len(s.recent)
	if n > total {
		n = total
	}
	if n == 0 {
		return nil
	}
	out := make([]audit.Record, n)
	for i := 0; i < n; i++ {
		out[i] = s.recent[total-1-i]
	}
	return out
}

var _ audit.Store = (*AuditStore)(nil)
