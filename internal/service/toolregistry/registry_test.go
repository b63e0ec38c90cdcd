package toolregistry

import (
	"context"
	"encoding/json"
	"testing"
)

func TestRegistry_RegisterAndLookup(t *testing.T) {
	r := New()
	r.Register(Tool{Name: "a", Description: "first"})
	r.Register(Tool{Name: "b", Description: "second"})

	got, ok := r.Lookup("a")
	if !ok {
		t.Fatal("expected to find tool a")
	}
	if got.Description != "first" {
		t.Errorf("Description = %q, want %q", got.Description, "first")
	}

	if _, ok := r.Lookup("missing"); ok {
		t.Error("expected Lookup(missing) to report not found")
	}
}

func TestRegistry_ListPreservesOrder(t *testing.T) {
	r := New()
	names := []string{"z", "a", "m"}
	for _, n := range names {
		r.Register(Tool{Name: n})
	}
	list := r.List()
	if len(list) != len(names) {
		t.Fatalf("List() len = %d, want %d", len(list), len(names))
	}
	for i, n := range names {
		if list[i].Name != n {
			t.Errorf("List()[%d].Name = %q, want %q", i, list[i].Name, n)
		}
	}
}

func TestRegistry_RegisterReplacesKeepsPosition(t *testing.T) {
	r := New()
	r.Register(Tool{Name: "a", Description: "v1"})
	r.Register(Tool{Name: "b", Description: "v1"})
	r.Register(Tool{Name: "a", Description: "v2"})

	list := r.List()
	if len(list) != 2 {
		t.Fatalf("expected 2 entries after replace, got %d", len(list))
	}
	if list[0].Name != "a" || list[0].Description != "v2" {
		t.Errorf("expected a/v2 still in first position, got %+v", list[0])
	}
}

func TestDefaultRegistry_HasSeventeenTools(t *testing.T) {
	r := NewDefaultRegistry(Deps{})
	list := r.List()
	if len(list) != 17 {
		t.Fatalf("len(List()) = %d, want 17", len(list))
	}
	for _, tool := range list {
		if tool.Name == "" {
			t.Error("tool with empty name")
		}
		if tool.Description == "" {
			t.Errorf("tool %q has empty description", tool.Name)
		}
		if len(tool.InputSchema) == 0 {
			t.Errorf("tool %q has empty InputSchema", tool.Name)
		}
		if tool.Handler == nil {
			t.Errorf("tool %q has nil Handler", tool.Name)
		}
	}
}

func TestDefaultRegistry_StubToolsReturnNotImplemented(t *testing.T) {
	r := NewDefaultRegistry(Deps{})
	for _, name := range []string{"conversational_memory_search", "virtual_context_search", "lightweight_embodiment"} {
		tool, ok := r.Lookup(name)
		if !ok {
			t.Fatalf("expected stub tool %q to be registered", name)
		}
		res, err := tool.Handler(context.Background(), json.RawMessage(`{}`))
		if err != nil {
			t.Fatalf("%s handler error: %v", name, err)
		}
		m, ok := res.(map[string]any)
		if !ok {
			t.Fatalf("%s result type = %T, want map[string]any", name, res)
		}
		if implemented, _ := m["implemented"].(bool); implemented {
			t.Errorf("%s should report implemented=false", name)
		}
	}
}
