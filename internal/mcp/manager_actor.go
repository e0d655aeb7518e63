package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// ManagerEvent is republished from the actors the ManagerActor supervises,
// tagged with the server ID so a caller fanning events out to a single sink
// (the agent loop's event stream) can tell which server they came from.
type ManagerEvent struct {
	ServerID string
	ActorEvent
}

// ManagerActor supervises a set of ServerActors across the lifetime of an
// agent session. Requests to launch a server, list its tools, or invoke a
// tool all go through the actors' request mailboxes, so a slow or wedged
// server can never block an unrelated lookup.
type ManagerActor struct {
	logger *slog.Logger

	mu            sync.RWMutex
	initializing  map[string]*ServerActor
	servers       map[string]*ServerActor
	launchWaiters map[string][]chan error

	events *EventChannel[ManagerEvent]

	fanIn chan ManagerEvent
	stop  chan struct{}
	done  chan struct{}
}

// NewManagerActor creates a ManagerActor with no servers launched yet.
func NewManagerActor(logger *slog.Logger) *ManagerActor {
	if logger == nil {
		logger = slog.Default()
	}
	m := &ManagerActor{
		logger:        logger.With("component", "mcp_manager_actor"),
		initializing:  make(map[string]*ServerActor),
		servers:       make(map[string]*ServerActor),
		launchWaiters: make(map[string][]chan error),
		events:        NewEventChannel[ManagerEvent](DefaultEventChannelCapacity),
		fanIn:         make(chan ManagerEvent, DefaultEventChannelCapacity),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	go m.fanOutLoop()
	return m
}

// Events returns the manager's republished event stream: every
// InitializedEvent, InitializeErrorEvent, OauthRequestEvent, and
// TerminatedEvent from every supervised ServerActor, tagged with ServerID.
func (m *ManagerActor) Events() <-chan ManagerEvent {
	return m.events.Events()
}

// LaunchServer spawns a ServerActor for the given config if one is not
// already running or initializing for that ID, and blocks until the actor
// reaches Ready or Failed (or ctx is done).
func (m *ManagerActor) LaunchServer(ctx context.Context, cfg *ServerConfig) error {
	m.mu.Lock()
	if _, ok := m.servers[cfg.ID]; ok {
		m.mu.Unlock()
		return nil
	}
	waitCh := make(chan error, 1)
	if _, ok := m.initializing[cfg.ID]; ok {
		m.launchWaiters[cfg.ID] = append(m.launchWaiters[cfg.ID], waitCh)
		m.mu.Unlock()
	} else {
		actor := NewServerActor(cfg)
		m.initializing[cfg.ID] = actor
		m.launchWaiters[cfg.ID] = append(m.launchWaiters[cfg.ID], waitCh)
		m.mu.Unlock()

		go m.relayEvents(cfg.ID, actor)
		actor.Start(ctx)
	}

	select {
	case err := <-waitCh:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// relayEvents is the sole consumer of one actor's event channel. It
// forwards every event into the manager's fan-in channel tagged with the
// server ID, and on Initialized/InitializeError it also performs the
// initializing->servers bookkeeping and wakes any LaunchServer callers
// waiting on that server ID.
func (m *ManagerActor) relayEvents(serverID string, actor *ServerActor) {
	for ev := range actor.Events() {
		switch {
		case ev.Initialized != nil:
			m.mu.Lock()
			delete(m.initializing, serverID)
			m.servers[serverID] = actor
			waiters := m.launchWaiters[serverID]
			delete(m.launchWaiters, serverID)
			m.mu.Unlock()
			for _, w := range waiters {
				w <- nil
			}
		case ev.InitializeError != nil:
			m.mu.Lock()
			delete(m.initializing, serverID)
			waiters := m.launchWaiters[serverID]
			delete(m.launchWaiters, serverID)
			m.mu.Unlock()
			for _, w := range waiters {
				w <- ev.InitializeError.Err
			}
		}

		select {
		case m.fanIn <- ManagerEvent{ServerID: serverID, ActorEvent: ev}:
		case <-m.stop:
			return
		}
	}
}

func (m *ManagerActor) fanOutLoop() {
	defer close(m.done)
	for {
		select {
		case ev := <-m.fanIn:
			if !m.events.Publish(ev) {
				m.logger.Warn("manager event channel full, dropping", "server", ev.ServerID)
			}
		case <-m.stop:
			return
		}
	}
}

// Server returns the running actor for a server ID, if any.
func (m *ManagerActor) Server(serverID string) (*ServerActor, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.servers[serverID]
	return a, ok
}

// Servers returns a snapshot of every currently running server actor.
func (m *ManagerActor) Servers() map[string]*ServerActor {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make(map[string]*ServerActor, len(m.servers))
	for id, a := range m.servers {
		result[id] = a
	}
	return result
}

// GetToolSpecs returns the tool list for a running server.
func (m *ManagerActor) GetToolSpecs(ctx context.Context, serverID string) ([]*MCPTool, error) {
	actor, ok := m.Server(serverID)
	if !ok {
		return nil, fmt.Errorf("mcp server %q not running", serverID)
	}
	return actor.GetToolSpecs(ctx)
}

// GetPrompts returns the prompt list for a running server.
func (m *ManagerActor) GetPrompts(ctx context.Context, serverID string) ([]*MCPPrompt, error) {
	actor, ok := m.Server(serverID)
	if !ok {
		return nil, fmt.Errorf("mcp server %q not running", serverID)
	}
	return actor.GetPrompts(ctx)
}

// ExecuteTool invokes a tool on a running server.
func (m *ManagerActor) ExecuteTool(ctx context.Context, serverID, toolName string, arguments map[string]any) (*ToolCallResult, error) {
	actor, ok := m.Server(serverID)
	if !ok {
		return nil, fmt.Errorf("mcp server %q not running", serverID)
	}
	return actor.ExecuteTool(ctx, toolName, arguments)
}

// Shutdown stops every supervised actor and the manager's fan-out loop.
func (m *ManagerActor) Shutdown() {
	m.mu.Lock()
	servers := make([]*ServerActor, 0, len(m.servers)+len(m.initializing))
	for _, a := range m.servers {
		servers = append(servers, a)
	}
	for _, a := range m.initializing {
		servers = append(servers, a)
	}
	m.servers = make(map[string]*ServerActor)
	m.initializing = make(map[string]*ServerActor)
	m.mu.Unlock()

	for _, a := range servers {
		a.Stop()
	}

	close(m.stop)
	<-m.done
}
