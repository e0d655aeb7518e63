package mcp

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"
)

var errConnectFailed = errors.New("connect failed")

func TestManagerActorLaunchServerReady(t *testing.T) {
	m := NewManagerActor(nil)
	defer m.Shutdown()

	cfg := &ServerConfig{ID: "fake"}
	actor := NewServerActor(cfg)
	actor.client = &Client{config: cfg, transport: &routingTransport{}, logger: slog.Default()}

	m.mu.Lock()
	m.initializing[cfg.ID] = actor
	waitCh := make(chan error, 1)
	m.launchWaiters[cfg.ID] = append(m.launchWaiters[cfg.ID], waitCh)
	m.mu.Unlock()
	go m.relayEvents(cfg.ID, actor)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go actor.run(ctx)

	select {
	case err := <-waitCh:
		if err != nil {
			t.Fatalf("launch error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for launch")
	}

	if _, ok := m.Server(cfg.ID); !ok {
		t.Error("expected server to be registered as ready")
	}

	tools, err := m.GetToolSpecs(ctx, cfg.ID)
	if err != nil {
		t.Fatalf("GetToolSpecs: %v", err)
	}
	if len(tools) != 1 {
		t.Errorf("expected 1 tool, got %d", len(tools))
	}
}

func TestManagerActorLaunchServerFailure(t *testing.T) {
	m := NewManagerActor(nil)
	defer m.Shutdown()

	cfg := &ServerConfig{ID: "broken"}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	actor := NewServerActor(cfg)
	actor.client = &Client{config: cfg, transport: &routingTransport{callErr: errConnectFailed}, logger: slog.Default()}

	m.mu.Lock()
	m.initializing[cfg.ID] = actor
	waitCh := make(chan error, 1)
	m.launchWaiters[cfg.ID] = append(m.launchWaiters[cfg.ID], waitCh)
	m.mu.Unlock()
	go m.relayEvents(cfg.ID, actor)
	go actor.run(ctx)

	select {
	case err := <-waitCh:
		if err == nil {
			t.Fatal("expected launch error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for launch failure")
	}

	if _, ok := m.Server(cfg.ID); ok {
		t.Error("did not expect broken server to be registered")
	}
}

func TestManagerActorUnknownServer(t *testing.T) {
	m := NewManagerActor(nil)
	defer m.Shutdown()

	if _, err := m.GetToolSpecs(context.Background(), "nope"); err == nil {
		t.Error("expected error for unknown server")
	}
}
