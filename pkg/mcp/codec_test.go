package mcp

import (
	"regexp"
	"testing"
)

func TestEncodeSSEEndpointFrame_MatchesWireFormat(t *testing.T) {
	frame := EncodeSSEEndpointFrame("/messages?session_id=abc-123")
	want := "event: endpoint\ndata: /messages?session_id=abc-123\n\n"
	if string(frame) != want {
		t.Errorf("EncodeSSEEndpointFrame() = %q, want %q", frame, want)
	}
}

// The first SSE frame must match this pattern exactly: the data value is
// a plain URI, never a JSON object.
func TestEncodeSSEEndpointFrame_PlainURIPattern(t *testing.T) {
	re := regexp.MustCompile(`^event: endpoint\ndata: /messages\?session_id=[0-9a-f-]+\n\n$`)
	frame := EncodeSSEEndpointFrame("/messages?session_id=1b9d6bcd-bbfd-4b2d-9b5d-ab8dfbbd4bed")
	if !re.Match(frame) {
		t.Errorf("frame %q does not match the endpoint frame pattern", frame)
	}
}

func TestEncodeSSEData(t *testing.T) {
	frame := EncodeSSEData([]byte(`{"jsonrpc":"2.0","id":1,"result":{}}`))
	want := "data: {\"jsonrpc\":\"2.0\",\"id\":1,\"result\":{}}\n\n"
	if string(frame) != want {
		t.Errorf("EncodeSSEData() = %q, want %q", frame, want)
	}
}

func TestEncodeSSEKeepalive(t *testing.T) {
	if got, want := string(EncodeSSEKeepalive()), ": keepalive\n\n"; got != want {
		t.Errorf("EncodeSSEKeepalive() = %q, want %q", got, want)
	}
}
