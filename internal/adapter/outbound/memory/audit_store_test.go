// Package memory provides in-memory implementations of outbound ports.
package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DayDreamerAI/daydreamer-memory/internal/domain/audit"
)

func TestAuditStore_Append(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	buf := &bytes.Buffer{}
	store := NewAuditStoreWithWriter(buf)

	record := audit.Record{
		RequestID: "req-1",
		ToolName:  "test_tool",
		Decision:  audit.DecisionAllow,
		Timestamp: time.Now().UTC(),
		SessionID: "sess-123",
		Principal: "user-1",
	}

	if err := store.Append(ctx, record); err != nil {
		t.Fatalf("Append() error: %v", err)
	}

	output := buf.String()
	if output == "" {
		t.Fatal("Append() did not write to buffer")
	}

	var decoded audit.Record
	if err := json.Unmarshal([]byte(strings.TrimSpace(output)), &decoded); err != nil {
		t.Fatalf("Written output is not valid JSON: %v", err)
	}

	if decoded.RequestID != "req-1" {
		t.Errorf("RequestID = %q, want %q", decoded.RequestID, "req-1")
	}
	if decoded.ToolName != "test_tool" {
		t.Errorf("ToolName = %q, want %q", decoded.ToolName, "test_tool")
	}
}

func TestAuditStore_AppendMultiple(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	buf := &bytes.Buffer{}
	store := NewAuditStoreWithWriter(buf)

	records := []audit.Record{
		{RequestID: "req-1", ToolName: "tool_1", Decision: audit.DecisionAllow, Timestamp: time.Now().UTC()},
		{RequestID: "req-2", ToolName: "tool_2", Decision: audit.DecisionDeny, Timestamp: time.Now().UTC()},
		{RequestID: "req-3", ToolName: "tool_3", Decision: audit.DecisionAllow, Timestamp: time.Now().UTC()},
	}

	if err := store.Append(ctx, records...); err != nil {
		t.Fatalf("Append() error: %v", err)
	}

	output := buf.String()
	lines := strings.Split(strings.TrimSpace(output), "\n")
	if len(lines) != 3 {
		t.Errorf("Expected 3 JSON lines, got %d", len(lines))
	}

	for i, line := range lines {
		var decoded audit.Record
		if err := json.Unmarshal([]byte(line), &decoded); err != nil {
			t.Errorf("Line %d is not valid JSON: %v", i, err)
		}
		expectedReqID := "req-" + strconv.Itoa(i+1)
		if decoded.RequestID != expectedReqID {
			t.Errorf("Line %d RequestID = %q, want %q", i, decoded.RequestID, expectedReqID)
		}
	}
}

func TestAuditStore_CustomWriter(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	buf := &bytes.Buffer{}
	store := NewAuditStoreWithWriter(buf)

	record := audit.Record{
		RequestID: "req-custom",
		ToolName:  "custom_tool",
		Decision:  audit.DecisionAllow,
		Timestamp: time.Now().UTC(),
		Cause:     "argument validation failed",
	}

	if err := store.Append(ctx, record); err != nil {
		t.Fatalf("Append() error: %v", err)
	}

	output := buf.String()
	if !strings.Contains(output, "custom_tool") {
		t.Error("Expected output to contain 'custom_tool'")
	}
	if !strings.Contains(output, "req-custom") {
		t.Error("Expected output to contain 'req-custom'")
	}
}

func TestAuditStore_Flush(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	buf := &bytes.Buffer{}
	store := NewAuditStoreWithWriter(buf)

	record := audit.Record{RequestID: "req-flush", ToolName: "flush_tool", Timestamp: time.Now().UTC()}
	if err := store.Append(ctx, record); err != nil {
		t.Fatalf("Append() error: %v", err)
	}

	if err := store.Flush(ctx); err != nil {
		t.Errorf("Flush() error: %v (expected nil, flush is no-op)", err)
	}

	if buf.Len() == 0 {
		t.Error("Buffer should still contain data after Flush()")
	}
}

func TestAuditStore_Close(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	store := NewAuditStoreWithWriter(buf)

	if err := store.Close(); err != nil {
		t.Errorf("Close() error: %v (expected nil for non-file writer)", err)
	}
}

func TestAuditStore_AppendEmpty(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	buf := &bytes.Buffer{}
	store := NewAuditStoreWithWriter(buf)

	if err := store.Append(ctx); err != nil {
		t.Errorf("Append() with no records error: %v", err)
	}

	if buf.Len() != 0 {
		t.Errorf("Buffer should be empty after appending no records, got %d bytes", buf.Len())
	}
}

func TestAuditStore_ConcurrentAppend(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	buf := &bytes.Buffer{}
	store := NewAuditStoreWithWriter(buf)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			rec := audit.Record{
				RequestID: "req-" + strconv.Itoa(n),
				ToolName:  "concurrent_tool",
				Decision:  audit.DecisionAllow,
				Timestamp: time.Now().UTC(),
			}
			if err := store.Append(ctx, rec); err != nil {
				t.Errorf("Append() error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 20 {
		t.Errorf("expected 20 JSON lines from concurrent appends, got %d", len(lines))
	}
}

func TestAuditStore_GetRecentBoundedByCapacity(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	buf := &bytes.Buffer{}
	store := NewAuditStoreWithWriter(buf, 3)

	for i := 0; i < 5; i++ {
		rec := audit.Record{RequestID: "req-" + strconv.Itoa(i), Timestamp: time.Now().UTC()}
		if err := store.Append(ctx, rec); err != nil {
			t.Fatalf("Append() error: %v", err)
		}
	}

	recent := store.GetRecent(10)
	if len(recent) != 3 {
		t.Fatalf("GetRecent() len = %d, want 3 (ring buffer capacity)", len(recent))
	}
	if recent[0].RequestID != "req-4" {
		t.Errorf("GetRecent()[0].RequestID = %q, want %q", recent[0].RequestID, "req-4")
	}
	if recent[2].RequestID != "req-2" {
		t.Errorf("GetRecent()[2].RequestID = %q, want %q", recent[2].RequestID, "req-2")
	}
}

func TestAuditStore_GetRecentEmpty(t *testing.T) {
	t.Parallel()

	store := NewAuditStoreWithWriter(&bytes.Buffer{})
	if recent := store.GetRecent(5); recent != nil {
		t.Errorf("GetRecent() on empty store = %v, want nil", recent)
	}
}

func TestAuditStore_RedactSensitiveArgs(t *testing.T) {
	t.Parallel()

	args := map[string]interface{}{
		"entity_name": "memory-core",
		"api_key":     "sk-12345",
		"password":    "hunter2",
	}
	redacted := audit.RedactSensitiveArgs(args)

	if redacted["entity_name"] != "memory-core" {
		t.Errorf("entity_name should not be redacted, got %v", redacted["entity_name"])
	}
	if redacted["api_key"] != "***REDACTED***" {
		t.Errorf("api_key should be redacted, got %v", redacted["api_key"])
	}
	if redacted["password"] != "***REDACTED***" {
		t.Errorf("password should be redacted, got %v", redacted["password"])
	}
}

var _ audit.Store = (*AuditStore)(nil)
