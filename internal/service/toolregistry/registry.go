// Package toolregistry declares the fixed set of MCP tools this gateway
// exposes and binds each to a handler closure. The dispatcher looks tools
// up by name; it never branches on tool name itself.
package toolregistry

import (
	"context"
	"encoding/json"
)

// Tool is one entry in tools/list, paired with the handler tools/call
// invokes.
type Tool struct {
	Name        string
	Description string
	InputSchema json.RawMessage
	Handler     Handler
}

// Handler executes one tool call. args is the raw "arguments" object from
// the JSON-RPC request; dispatcher JSON-serializes result into a single
// text content block of the tools/call result. Handlers never panic across this boundary: the
// dispatcher recovers and converts any panic into a categorized error,
// but handlers should return errors normally instead of relying on that.
type Handler func(ctx context.Context, args json.RawMessage) (any, error)

// Registry is an ordered, name-indexed table of tools. Construction order
// is preserved in List() so tools/list responses are stable across calls.
type Registry struct {
	order []string
	tools map[string]Tool
}

// New builds an empty registry.
func New() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds t to the registry. Registering the same name twice
// replaces the earlier entry but keeps its original position in List().
func (r *Registry) Register(t Tool) {
	if _, exists := r.tools[t.Name]; !exists {
		r.order = append(r.order, t.Name)
	}
	r.tools[t.Name] = t
}

// Lookup returns the tool named name, if registered.
func (r *Registry) Lookup(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// List returns every registered tool in registration order.
func (r *Registry) List() []Tool {
	out := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name])
	}
	return out
}
