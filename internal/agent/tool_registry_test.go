package agent

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func schemaTool(name string, schema string) *mockTool {
	return &mockTool{
		name:   name,
		schema: json.RawMessage(schema),
		execFunc: func(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
			return &ToolResult{Content: "ran"}, nil
		},
	}
}

func TestRegistry_SchemaValidation_Conforming(t *testing.T) {
	registry := NewToolRegistry()
	registry.Register(schemaTool("echo", `{
		"type": "object",
		"properties": {"msg": {"type": "string"}},
		"required": ["msg"]
	}`))

	result, err := registry.Execute(context.Background(), "echo", json.RawMessage(`{"msg":"hi"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("expected success, got error result: %s", result.Content)
	}
	if result.Content != "ran" {
		t.Errorf("content = %q, want %q", result.Content, "ran")
	}
}

func TestRegistry_SchemaValidation_MissingRequired(t *testing.T) {
	registry := NewToolRegistry()
	tool := schemaTool("echo", `{
		"type": "object",
		"properties": {"msg": {"type": "string"}},
		"required": ["msg"]
	}`)
	registry.Register(tool)

	result, err := registry.Execute(context.Background(), "echo", json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected schema failure result")
	}
	if !strings.Contains(result.Content, "schema") {
		t.Errorf("error should mention schema, got: %s", result.Content)
	}
	if tool.execCount.Load() != 0 {
		t.Errorf("tool must not execute on schema failure, ran %d times", tool.execCount.Load())
	}
}

func TestRegistry_SchemaValidation_WrongType(t *testing.T) {
	registry := NewToolRegistry()
	registry.Register(schemaTool("count", `{
		"type": "object",
		"properties": {"n": {"type": "integer"}},
		"required": ["n"]
	}`))

	result, err := registry.Execute(context.Background(), "count", json.RawMessage(`{"n":"three"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected schema failure for string where integer required")
	}
}

func TestRegistry_SchemaValidation_InvalidJSONInput(t *testing.T) {
	registry := NewToolRegistry()
	registry.Register(schemaTool("echo", `{"type":"object"}`))

	result, err := registry.Execute(context.Background(), "echo", json.RawMessage(`{not json`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected error result for malformed JSON input")
	}
}

func TestRegistry_SchemaValidation_UncompilableSchemaSkipped(t *testing.T) {
	// A tool whose Schema() is unusable should still execute; validation is
	// skipped rather than failing every call.
	registry := NewToolRegistry()
	tool := &mockTool{name: "raw"}
	registry.Register(tool)

	result, err := registry.Execute(context.Background(), "raw", json.RawMessage(`{"anything":true}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("expected success, got: %s", result.Content)
	}
	if tool.execCount.Load() != 1 {
		t.Errorf("tool should have executed once, ran %d times", tool.execCount.Load())
	}
}

func TestRegistry_ReRegisterInvalidatesSchema(t *testing.T) {
	registry := NewToolRegistry()
	registry.Register(schemaTool("echo", `{
		"type": "object",
		"properties": {"msg": {"type": "string"}},
		"required": ["msg"]
	}`))

	// Prime the schema cache, then replace the tool with a looser schema.
	if res, _ := registry.Execute(context.Background(), "echo", json.RawMessage(`{}`)); !res.IsError {
		t.Fatal("expected schema failure before re-registration")
	}
	registry.Register(schemaTool("echo", `{"type":"object"}`))
	res, err := registry.Execute(context.Background(), "echo", json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.IsError {
		t.Fatalf("re-registered tool should accept empty input, got: %s", res.Content)
	}
}
