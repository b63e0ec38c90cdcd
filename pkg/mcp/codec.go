package mcp

import "fmt"

// EncodeSSEData formats a JSON-RPC response (or any already-marshaled JSON
// payload) as an SSE "data:" frame.
func EncodeSSEData(payload []byte) []byte {
	return []byte(fmt.Sprintf("data: %s\n\n", payload))
}

// EncodeSSEEndpointFrame formats the opening SSE frame that announces the
// per-session message endpoint. The data value is a plain URI, never a
// JSON object.
func EncodeSSEEndpointFrame(messagesPath string) []byte {
	return []byte(fmt.Sprintf("event: endpoint\ndata: %s\n\n", messagesPath))
}

// EncodeSSEKeepalive formats the periodic keepalive comment frame.
func EncodeSSEKeepalive() []byte {
	return []byte(": keepalive\n\n")
}
