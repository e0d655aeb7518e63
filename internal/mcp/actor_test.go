package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"testing"
	"time"
)

// routingTransport answers the fixed handshake/list/call sequence a
// ServerActor drives through Client, without spawning a real subprocess.
type routingTransport struct {
	callErr error
}

func (t *routingTransport) Connect(ctx context.Context) error { return nil }
func (t *routingTransport) Close() error                      { return nil }
func (t *routingTransport) Connected() bool                   { return true }

func (t *routingTransport) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if t.callErr != nil {
		return nil, t.callErr
	}
	switch method {
	case "initialize":
		return json.Marshal(InitializeResult{
			ProtocolVersion: "2024-11-05",
			ServerInfo:      ServerInfo{Name: "fake", Version: "0.0.1"},
		})
	case "tools/list":
		return json.Marshal(ListToolsResult{Tools: []*MCPTool{{Name: "echo"}}})
	case "resources/list":
		return json.Marshal(ListResourcesResult{})
	case "prompts/list":
		return json.Marshal(ListPromptsResult{})
	case "tools/call":
		return json.Marshal(ToolCallResult{Content: []ToolResultContent{{Type: "text", Text: "done"}}})
	default:
		return nil, fmt.Errorf("unhandled method %q", method)
	}
}

func (t *routingTransport) Notify(ctx context.Context, method string, params any) error { return nil }
func (t *routingTransport) Events() <-chan *JSONRPCNotification                         { return nil }
func (t *routingTransport) Requests() <-chan *JSONRPCRequest                            { return nil }
func (t *routingTransport) Respond(ctx context.Context, id any, result any, rpcErr *JSONRPCError) error {
	return nil
}

func newTestActor(t *testing.T, transport Transport) *ServerActor {
	cfg := &ServerConfig{ID: "fake"}
	a := NewServerActor(cfg)
	a.client = &Client{config: cfg, transport: transport, logger: slog.Default()}
	return a
}

func TestServerActorServesToolsAfterReady(t *testing.T) {
	a := newTestActor(t, &routingTransport{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := a.connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	a.setState(ActorReady)
	go a.serve(ctx)

	tools, err := a.GetToolSpecs(ctx)
	if err != nil {
		t.Fatalf("GetToolSpecs: %v", err)
	}
	if len(tools) != 1 || tools[0].Name != "echo" {
		t.Errorf("unexpected tools: %+v", tools)
	}

	result, err := a.ExecuteTool(ctx, "echo", map[string]any{"x": 1})
	if err != nil {
		t.Fatalf("ExecuteTool: %v", err)
	}
	if len(result.Content) != 1 || result.Content[0].Text != "done" {
		t.Errorf("unexpected result: %+v", result)
	}
}

func TestServerActorRunPublishesInitialized(t *testing.T) {
	cfg := &ServerConfig{ID: "fake"}
	a := NewServerActor(cfg)

	// Pre-set the client with a fake transport so run() skips allocating a
	// real one from cfg.Transport.
	a.client = &Client{config: cfg, transport: &routingTransport{}, logger: slog.Default()}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		a.run(ctx)
	}()

	select {
	case ev := <-a.Events():
		if ev.Initialized == nil {
			t.Fatalf("expected Initialized event, got %+v", ev)
		}
		if ev.Initialized.Server != "fake" {
			t.Errorf("unexpected server: %q", ev.Initialized.Server)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for Initialized event")
	}

	a.Stop()
	<-done
}
