// Package mcpdispatcher routes decoded JSON-RPC requests to the handful of
// MCP methods this gateway understands (initialize, tools/list, tools/call,
// prompts/list, resources/list, resources/templates/list) and to the tool
// registry for everything under tools/call. It never writes to the SSE
// stream itself; the inbound HTTP adapter owns framing and delivery.
package mcpdispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/DayDreamerAI/daydreamer-memory/internal/ctxkey"
	"github.com/DayDreamerAI/daydreamer-memory/internal/domain/apperr"
	"github.com/DayDreamerAI/daydreamer-memory/internal/service/toolregistry"
	"github.com/DayDreamerAI/daydreamer-memory/pkg/mcp"
)

// ProtocolVersion is the Model Context Protocol version this gateway
// speaks, returned verbatim from initialize.
const ProtocolVersion = "2024-11-05"

// ServerName and ServerVersion populate initialize's serverInfo.
const ServerName = "daydreamer-memory"

// ServerVersion is returned from initialize's serverInfo.version.
var ServerVersion = "6.0.0"

// Dispatcher routes one decoded request at a time. It is safe for
// concurrent use: all state (the tool registry) is read-only after
// construction.
type Dispatcher struct {
	tools *toolregistry.Registry
}

// New constructs a Dispatcher bound to tools.
func New(tools *toolregistry.Registry) *Dispatcher {
	return &Dispatcher{tools: tools}
}

// incomingRequest is the minimal shape this dispatcher needs from a
// decoded JSON-RPC request: method and optional params. The id is read
// separately with mcp.RawID and preserved verbatim for the reply, whatever
// shape the client sent.
type incomingRequest struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// Dispatch decodes raw as a JSON-RPC request and routes it to the matching
// method handler. The returned *mcp.Response always carries raw's
// original id. A notification (method "notifications/...") still
// produces a Response so callers can detect "no id" via the caller's own
// check of mcp.IsNotification before deciding whether to reply; the
// dispatcher itself does not special-case delivery.
func (d *Dispatcher) Dispatch(ctx context.Context, raw []byte) *mcp.Response {
	id := mcp.RawID(raw)

	if _, err := mcp.DecodeIncoming(raw); err != nil {
		return mcp.NewErrorResponse(id, mcp.CodeInvalidParams, "malformed JSON-RPC message", string(apperr.CategoryProtocol))
	}

	var req incomingRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return mcp.NewErrorResponse(id, mcp.CodeInvalidParams, "malformed JSON-RPC message", string(apperr.CategoryProtocol))
	}

	if !d.isKnownMethod(req.Method) {
		return mcp.NewErrorResponse(id, mcp.CodeMethodNotFound, fmt.Sprintf("method not found: %s", req.Method), string(apperr.CategoryValidation))
	}

	result, err := d.route(ctx, req.Method, req.Params)
	if err != nil {
		return errorResponse(id, err)
	}

	resp, err := mcp.NewResultResponse(id, result)
	if err != nil {
		return mcp.NewErrorResponse(id, mcp.CodeServerError, "could not encode result", string(apperr.CategoryProtocol))
	}
	return resp
}

func (d *Dispatcher) route(ctx context.Context, method string, params json.RawMessage) (any, error) {
	switch method {
	case "initialize":
		return d.initialize(), nil
	case "notifications/initialized":
		return map[string]any{}, nil
	case "tools/list":
		return d.toolsList(), nil
	case "tools/call":
		return d.toolsCall(ctx, params)
	case "prompts/list":
		return map[string]any{"prompts": []any{}}, nil
	case "resources/list":
		return map[string]any{"resources": []any{}}, nil
	case "resources/templates/list":
		return map[string]any{"resourceTemplates": []any{}}, nil
	default:
		// isKnownMethod is checked before route is ever called; reaching
		// this default would be a bug in that list, not a client error.
		return nil, apperr.New(apperr.CategoryValidation, fmt.Sprintf("method not found: %s", method))
	}
}

func (d *Dispatcher) isKnownMethod(method string) bool {
	switch method {
	case "initialize", "notifications/initialized", "tools/list", "tools/call",
		"prompts/list", "resources/list", "resources/templates/list":
		return true
	default:
		return false
	}
}

func (d *Dispatcher) initialize() map[string]any {
	return map[string]any{
		"protocolVersion": ProtocolVersion,
		"capabilities":    map[string]any{"tools": map[string]any{}},
		"serverInfo": map[string]any{
			"name":    ServerName,
			"version": ServerVersion,
		},
	}
}

func (d *Dispatcher) toolsList() map[string]any {
	tools := d.tools.List()
	out := make([]map[string]any, len(tools))
	for i, t := range tools {
		out[i] = map[string]any{
			"name":        t.Name,
			"description": t.Description,
			"inputSchema": t.InputSchema,
		}
	}
	return map[string]any{"tools": out}
}

type toolsCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

func (d *Dispatcher) toolsCall(ctx context.Context, params json.RawMessage) (any, error) {
	var p toolsCallParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, apperr.Wrap(apperr.CategoryValidation, "invalid tools/call params", err)
		}
	}
	if p.Name == "" {
		return nil, apperr.New(apperr.CategoryValidation, "tools/call requires a tool name")
	}

	tool, ok := d.tools.Lookup(p.Name)
	if !ok {
		return nil, apperr.New(apperr.CategoryValidation, fmt.Sprintf("unknown tool: %s", p.Name))
	}

	result, err := d.callHandler(ctx, tool, p.Arguments)
	if err != nil {
		return nil, err
	}
	return wrapToolResult(result)
}

// wrapToolResult wraps a handler's result in the MCP tool-result envelope:
// the JSON-serialized result as a single text content block.
func wrapToolResult(result any) (any, error) {
	text, err := json.Marshal(result)
	if err != nil {
		return nil, apperr.Wrap(apperr.CategoryValidation, "tool result is not serializable", err)
	}
	return map[string]any{
		"content": []map[string]any{
			{"type": "text", "text": string(text)},
		},
	}, nil
}

// loggerFromContext retrieves the request-enriched logger stored by the
// HTTP middleware. Returns nil if none is in context.
func loggerFromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(ctxkey.LoggerKey{}).(*slog.Logger); ok {
		return logger
	}
	return nil
}

// callHandler invokes tool.Handler, recovering a panic into a categorized
// database-class error so a single bad handler never crashes the
// dispatcher's goroutine.
func (d *Dispatcher) callHandler(ctx context.Context, tool toolregistry.Tool, args json.RawMessage) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			if log := loggerFromContext(ctx); log != nil {
				log.Error("tool handler panicked", "tool", tool.Name, "panic", fmt.Sprint(r))
			}
			err = apperr.New(apperr.CategoryDatabase, fmt.Sprintf("tool %q panicked", tool.Name))
		}
	}()
	return tool.Handler(ctx, args)
}

// errorResponse maps a returned error to a JSON-RPC error response,
// classifying by apperr.Category when possible and otherwise falling
// back to an opaque server error.
func errorResponse(id json.RawMessage, err error) *mcp.Response {
	var appErr *apperr.Error
	if e, ok := err.(*apperr.Error); ok {
		appErr = e
	}
	if appErr == nil {
		return mcp.NewErrorResponse(id, mcp.CodeServerError, "internal error", string(apperr.CategoryDatabase))
	}

	code := mcp.CodeServerError
	switch appErr.Category {
	case apperr.CategoryValidation:
		code = mcp.CodeInvalidParams
	case apperr.CategoryAuth:
		code = mcp.CodeUnauthorized
	}
	return mcp.NewErrorResponse(id, code, appErr.Message, string(appErr.Category))
}
