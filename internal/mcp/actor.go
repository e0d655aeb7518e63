package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// ActorState is the lifecycle state of a ServerActor.
type ActorState string

const (
	ActorSpawning     ActorState = "spawning"
	ActorInitializing ActorState = "initializing"
	ActorReady        ActorState = "ready"
	ActorTerminated   ActorState = "terminated"
	ActorFailed       ActorState = "failed"
)

// ActorEvent is the tagged union of lifecycle events a ServerActor publishes
// to its EventChannel. Exactly one of the fields below is non-nil.
type ActorEvent struct {
	Initialized     *InitializedEvent
	InitializeError *InitializeErrorEvent
	OauthRequest    *OauthRequestEvent
	Terminated      *TerminatedEvent
}

// InitializedEvent reports a successful handshake, with each step timed
// individually so slow tool/prompt listing on one server doesn't get
// conflated with a slow process start on another.
type InitializedEvent struct {
	Server      string
	ServeMS     int64
	ListToolsMS int64
	ListPromptsMS int64
}

// InitializeErrorEvent reports a failed handshake.
type InitializeErrorEvent struct {
	Server string
	Err    error
}

// OauthRequestEvent is published when a server's transport reports it needs
// user authorization before it can proceed.
type OauthRequestEvent struct {
	Server string
	URL    string
}

// TerminatedEvent is published when the actor's run loop exits, whether
// from Stop, a transport failure, or context cancellation.
type TerminatedEvent struct {
	Server string
	Err    error
}

type getToolsReq struct{}
type getPromptsReq struct{}
type executeToolReq struct {
	Name      string
	Arguments map[string]any
}

type getToolsResp struct {
	Tools []*MCPTool
	Err   error
}
type getPromptsResp struct {
	Prompts []*MCPPrompt
	Err     error
}
type executeToolResp struct {
	Result *ToolCallResult
	Err    error
}

// ServerActor owns a single MCP server connection end to end: spawning its
// transport, running the initialize handshake, and serving tool/prompt
// queries for the lifetime of the connection. All mutable state lives in
// the run loop goroutine; every other goroutine talks to it exclusively
// through mailboxes, so ServerActor needs no mutex.
type ServerActor struct {
	config *ServerConfig
	logger *slog.Logger

	client *Client

	state      ActorState
	stateCh    *EventChannel[ActorState]
	events     *EventChannel[ActorEvent]

	toolsReq    *RequestChannel[getToolsReq, getToolsResp]
	promptsReq  *RequestChannel[getPromptsReq, getPromptsResp]
	execReq     *RequestChannel[executeToolReq, executeToolResp]

	stop chan struct{}
	done chan struct{}
}

// NewServerActor builds an actor for the given server configuration. The
// actor does not connect until Start is called.
func NewServerActor(cfg *ServerConfig) *ServerActor {
	return &ServerActor{
		config:     cfg,
		logger:     slog.Default().With("mcp_server", cfg.ID),
		state:      ActorSpawning,
		stateCh:    NewEventChannel[ActorState](8),
		events:     NewEventChannel[ActorEvent](DefaultEventChannelCapacity),
		toolsReq:   NewRequestChannel[getToolsReq, getToolsResp](1),
		promptsReq: NewRequestChannel[getPromptsReq, getPromptsResp](1),
		execReq:    NewRequestChannel[executeToolReq, executeToolResp](4),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Events returns the actor's lifecycle event stream.
func (a *ServerActor) Events() <-chan ActorEvent {
	return a.events.Events()
}

// State returns the actor's current lifecycle state. Safe to call from any
// goroutine; it only ever reads a value the run loop last published.
func (a *ServerActor) State() ActorState {
	return a.state
}

// Start spawns the run loop. It returns immediately; callers should watch
// Events() for Initialized or InitializeError.
func (a *ServerActor) Start(ctx context.Context) {
	go a.run(ctx)
}

// Stop terminates the actor and closes its transport. It blocks until the
// run loop has exited.
func (a *ServerActor) Stop() {
	select {
	case <-a.done:
		return
	default:
	}
	close(a.stop)
	<-a.done
}

func (a *ServerActor) run(ctx context.Context) {
	defer close(a.done)
	defer a.toolsReq.Close()
	defer a.promptsReq.Close()
	defer a.execReq.Close()

	a.setState(ActorInitializing)

	if a.client == nil {
		a.client = NewClient(a.config, a.logger)
	}

	start := time.Now()
	if err := a.connect(ctx); err != nil {
		a.setState(ActorFailed)
		a.events.Publish(ActorEvent{InitializeError: &InitializeErrorEvent{Server: a.config.ID, Err: err}})
		a.logger.Error("mcp server initialize failed", "error", err)
		return
	}
	serveMS := time.Since(start).Milliseconds()

	listToolsStart := time.Now()
	_ = a.client.Tools()
	listToolsMS := time.Since(listToolsStart).Milliseconds()

	listPromptsStart := time.Now()
	_ = a.client.Prompts()
	listPromptsMS := time.Since(listPromptsStart).Milliseconds()

	a.setState(ActorReady)
	a.events.Publish(ActorEvent{Initialized: &InitializedEvent{
		Server:        a.config.ID,
		ServeMS:       serveMS,
		ListToolsMS:   listToolsMS,
		ListPromptsMS: listPromptsMS,
	}})

	a.serve(ctx)
}

// connect runs the transport connect + initialize handshake. client.Connect
// already performs this sequentially (initialize RPC, notifications/initialized,
// then RefreshCapabilities); the actor's job is just to time and report it.
func (a *ServerActor) connect(ctx context.Context) error {
	return a.client.Connect(ctx)
}

func (a *ServerActor) serve(ctx context.Context) {
	defer func() {
		if a.client != nil {
			a.client.Close()
		}
		a.setState(ActorTerminated)
		a.events.Publish(ActorEvent{Terminated: &TerminatedEvent{Server: a.config.ID}})
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-a.stop:
			return
		case env := <-a.toolsReq.Recv():
			a.toolsReq.Reply(env, getToolsResp{Tools: a.client.Tools()})
		case env := <-a.promptsReq.Recv():
			a.promptsReq.Reply(env, getPromptsResp{Prompts: a.client.Prompts()})
		case env := <-a.execReq.Recv():
			result, err := a.client.CallTool(ctx, env.Req.Name, env.Req.Arguments)
			a.execReq.Reply(env, executeToolResp{Result: result, Err: err})
		}
	}
}

func (a *ServerActor) setState(s ActorState) {
	a.state = s
	a.stateCh.Publish(s)
}

// GetToolSpecs asks the running actor for its current tool list.
func (a *ServerActor) GetToolSpecs(ctx context.Context) ([]*MCPTool, error) {
	resp, err := a.toolsReq.Send(ctx, getToolsReq{})
	if err != nil {
		return nil, err
	}
	return resp.Tools, resp.Err
}

// GetPrompts asks the running actor for its current prompt list.
func (a *ServerActor) GetPrompts(ctx context.Context) ([]*MCPPrompt, error) {
	resp, err := a.promptsReq.Send(ctx, getPromptsReq{})
	if err != nil {
		return nil, err
	}
	return resp.Prompts, resp.Err
}

// ExecuteTool invokes a tool on the actor's server and waits for the result.
func (a *ServerActor) ExecuteTool(ctx context.Context, name string, arguments map[string]any) (*ToolCallResult, error) {
	resp, err := a.execReq.Send(ctx, executeToolReq{Name: name, Arguments: arguments})
	if err != nil {
		return nil, fmt.Errorf("mcp actor %s: %w", a.config.ID, err)
	}
	return resp.Result, resp.Err
}
