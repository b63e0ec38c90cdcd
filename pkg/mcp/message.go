// Package mcp provides the JSON-RPC wire types and codec helpers the MCP
// dispatcher and SSE engine share, built on the MCP SDK's jsonrpc
// subpackage for decoding incoming messages and a lightweight local type
// for encoding replies.
package mcp

import (
	"encoding/json"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
)

// JSON-RPC error codes used by the dispatcher.
const (
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeServerError    = -32000
	CodeUnauthorized   = -32003
)

// Response is the wire shape of a JSON-RPC response or error, encoded
// directly rather than through the SDK type so the `id` field round-trips
// whatever shape the client sent (number, string, or null).
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ErrorObject    `json:"error,omitempty"`
}

// ErrorObject is a JSON-RPC error payload.
type ErrorObject struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	// Category is a non-standard extension carrying the error taxonomy:
	// validation, auth, protocol, resource_exhausted, timeout, database,
	// schema_violation.
	Category string `json:"category,omitempty"`
}

// NewResultResponse builds a successful JSON-RPC response.
func NewResultResponse(id json.RawMessage, result any) (*Response, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, err
	}
	return &Response{JSONRPC: "2.0", ID: id, Result: raw}, nil
}

// NewErrorResponse builds a JSON-RPC error response.
func NewErrorResponse(id json.RawMessage, code int, message, category string) *Response {
	return &Response{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &ErrorObject{Code: code, Message: message, Category: category},
	}
}

// DecodeIncoming decodes raw bytes as an MCP-SDK jsonrpc.Message: either a
// *jsonrpc.Request (covers both calls and notifications — the SDK
// represents a notification as a Request with no ID) or a *jsonrpc.Response.
func DecodeIncoming(raw []byte) (jsonrpc.Message, error) {
	return jsonrpc.DecodeMessage(raw)
}

// IsNotification reports whether method names a JSON-RPC notification
// (a method name starting with "notifications/").
func IsNotification(method string) bool {
	return strings.HasPrefix(method, "notifications/")
}

// RawID extracts the "id" field from raw JSON-RPC request/response bytes,
// preserving its original JSON shape (number, string, or null) for
// round-tripping into a Response. Returns a JSON null if absent.
func RawID(raw []byte) json.RawMessage {
	var probe struct {
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil || probe.ID == nil {
		return json.RawMessage("null")
	}
	return probe.ID
}
