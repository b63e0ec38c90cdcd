package mcpdispatcher

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/DayDreamerAI/daydreamer-memory/internal/domain/apperr"
	"github.com/DayDreamerAI/daydreamer-memory/internal/service/toolregistry"
)

func newTestDispatcher() *Dispatcher {
	r := toolregistry.New()
	r.Register(toolregistry.Tool{
		Name:        "echo",
		Description: "echoes its arguments back",
		InputSchema: json.RawMessage(`{"type":"object"}`),
		Handler: func(ctx context.Context, args json.RawMessage) (any, error) {
			var m map[string]any
			if len(args) > 0 {
				_ = json.Unmarshal(args, &m)
			}
			return m, nil
		},
	})
	r.Register(toolregistry.Tool{
		Name:        "boom",
		Description: "always panics",
		InputSchema: json.RawMessage(`{"type":"object"}`),
		Handler: func(ctx context.Context, args json.RawMessage) (any, error) {
			panic("boom")
		},
	})
	r.Register(toolregistry.Tool{
		Name:        "fails",
		Description: "always returns a validation error",
		InputSchema: json.RawMessage(`{"type":"object"}`),
		Handler: func(ctx context.Context, args json.RawMessage) (any, error) {
			return nil, apperr.Validationf("deliberately invalid")
		},
	})
	return New(r)
}

func TestDispatch_Initialize(t *testing.T) {
	d := newTestDispatcher()
	resp := d.Dispatch(context.Background(), []byte(`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`))
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	var result map[string]any
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if result["protocolVersion"] != ProtocolVersion {
		t.Errorf("protocolVersion = %v, want %v", result["protocolVersion"], ProtocolVersion)
	}
	serverInfo, ok := result["serverInfo"].(map[string]any)
	if !ok {
		t.Fatalf("serverInfo type = %T", result["serverInfo"])
	}
	if serverInfo["name"] != ServerName {
		t.Errorf("serverInfo.name = %v, want %v", serverInfo["name"], ServerName)
	}
}

func TestDispatch_ToolsList(t *testing.T) {
	d := newTestDispatcher()
	resp := d.Dispatch(context.Background(), []byte(`{"jsonrpc":"2.0","id":2,"method":"tools/list","params":{}}`))
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	var result struct {
		Tools []map[string]any `json:"tools"`
	}
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if len(result.Tools) != 3 {
		t.Fatalf("len(tools) = %d, want 3", len(result.Tools))
	}
}

func TestDispatch_ToolsCall_Success(t *testing.T) {
	d := newTestDispatcher()
	resp := d.Dispatch(context.Background(), []byte(`{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"echo","arguments":{"x":1}}}`))
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
	var result struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if len(result.Content) != 1 || result.Content[0].Type != "text" {
		t.Fatalf("result = %s, want a single text content block", resp.Result)
	}
	var inner map[string]any
	if err := json.Unmarshal([]byte(result.Content[0].Text), &inner); err != nil {
		t.Fatalf("content text is not JSON: %v", err)
	}
	if inner["x"] != float64(1) {
		t.Errorf("content text = %q, want the echoed arguments", result.Content[0].Text)
	}
}

func TestDispatch_ToolsCall_UnknownTool(t *testing.T) {
	d := newTestDispatcher()
	resp := d.Dispatch(context.Background(), []byte(`{"jsonrpc":"2.0","id":4,"method":"tools/call","params":{"name":"nope"}}`))
	if resp.Error == nil {
		t.Fatal("expected an error for an unknown tool")
	}
	if resp.Error.Category != string(apperr.CategoryValidation) {
		t.Errorf("Category = %q, want %q", resp.Error.Category, apperr.CategoryValidation)
	}
}

func TestDispatch_ToolsCall_HandlerError(t *testing.T) {
	d := newTestDispatcher()
	resp := d.Dispatch(context.Background(), []byte(`{"jsonrpc":"2.0","id":5,"method":"tools/call","params":{"name":"fails"}}`))
	if resp.Error == nil {
		t.Fatal("expected an error")
	}
	if resp.Error.Code != -32602 {
		t.Errorf("Code = %d, want -32602", resp.Error.Code)
	}
}

func TestDispatch_ToolsCall_HandlerPanicRecovered(t *testing.T) {
	d := newTestDispatcher()
	resp := d.Dispatch(context.Background(), []byte(`{"jsonrpc":"2.0","id":6,"method":"tools/call","params":{"name":"boom"}}`))
	if resp.Error == nil {
		t.Fatal("expected a recovered-panic error")
	}
	if resp.Error.Code != -32000 {
		t.Errorf("Code = %d, want -32000", resp.Error.Code)
	}
}

func TestDispatch_UnknownMethod(t *testing.T) {
	d := newTestDispatcher()
	resp := d.Dispatch(context.Background(), []byte(`{"jsonrpc":"2.0","id":7,"method":"not/a/real/method"}`))
	if resp.Error == nil {
		t.Fatal("expected a method-not-found error")
	}
	if resp.Error.Code != -32601 {
		t.Errorf("Code = %d, want -32601", resp.Error.Code)
	}
}

func TestDispatch_PreservesRequestID(t *testing.T) {
	d := newTestDispatcher()
	resp := d.Dispatch(context.Background(), []byte(`{"jsonrpc":"2.0","id":"abc-123","method":"tools/list"}`))
	if string(resp.ID) != `"abc-123"` {
		t.Errorf("ID = %s, want %q", resp.ID, `"abc-123"`)
	}
}

func TestDispatch_NotificationsInitialized(t *testing.T) {
	d := newTestDispatcher()
	resp := d.Dispatch(context.Background(), []byte(`{"jsonrpc":"2.0","method":"notifications/initialized"}`))
	if resp.Error != nil {
		t.Fatalf("unexpected error: %+v", resp.Error)
	}
}
