package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/haasonsaas/nexus/internal/mcp"
	"github.com/haasonsaas/nexus/internal/toolname"
)

// MCPToolDispatcher routes Mcp-kind tool calls to a running ManagerActor.
// Wire it with SetDispatcher(toolname.MCPKind, ...) once the manager is
// supervising at least one server.
type MCPToolDispatcher struct {
	Manager *mcp.ManagerActor
}

func (d MCPToolDispatcher) Dispatch(ctx context.Context, name toolname.Name, input json.RawMessage) (*ToolResult, error) {
	var args map[string]any
	if len(input) > 0 {
		if err := json.Unmarshal(input, &args); err != nil {
			return nil, fmt.Errorf("decode mcp tool arguments: %w", err)
		}
	}
	res, err := d.Manager.ExecuteTool(ctx, name.Server, name.Tool, args)
	if err != nil {
		return nil, err
	}
	return &ToolResult{Content: joinToolResultText(res), IsError: res.IsError}, nil
}

// joinToolResultText concatenates an MCP tool result's text content items.
// Non-text items (image, resource) are skipped; CoreLoop's ToolResult is
// text-only for now.
func joinToolResultText(res *mcp.ToolCallResult) string {
	if res == nil {
		return ""
	}
	var b []byte
	for _, item := range res.Content {
		if item.Text == "" {
			continue
		}
		if len(b) > 0 {
			b = append(b, '\n')
		}
		b = append(b, item.Text...)
	}
	return string(b)
}

// SubAgentDispatcher routes Agent-kind tool calls to a nested CoreLoop run
// to completion on a scoped task string: a fresh ConversationState and,
// typically, a narrower tool policy than the parent, sharing only the
// parent's MCP manager and provider.
type SubAgentDispatcher struct {
	Factory func(agentName string) (*CoreLoop, error)
}

func (d SubAgentDispatcher) Dispatch(ctx context.Context, name toolname.Name, input json.RawMessage) (*ToolResult, error) {
	var args struct {
		Task string `json:"task"`
	}
	if err := json.Unmarshal(input, &args); err != nil {
		return nil, fmt.Errorf("decode sub-agent task: %w", err)
	}

	sub, err := d.Factory(name.Tool)
	if err != nil {
		return nil, fmt.Errorf("spawn sub-agent %q: %w", name.Tool, err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	sub.Start(subCtx)
	defer sub.Stop()

	handle := NewAgentHandle(sub)
	if err := handle.SendPrompt(subCtx, args.Task); err != nil {
		return nil, fmt.Errorf("sub-agent %q: %w", name.Tool, err)
	}

	for {
		select {
		case ev, ok := <-handle.RecvEvent():
			if !ok {
				return nil, fmt.Errorf("sub-agent %q: event stream closed before turn end", name.Tool)
			}
			switch ev.Kind {
			case EventTurnEnd:
				snap, err := handle.Snapshot(subCtx)
				if err != nil {
					return nil, err
				}
				text := ""
				if msgs := snap.ConversationState.Messages; len(msgs) > 0 {
					text = msgs[len(msgs)-1].Content
				}
				return &ToolResult{Content: text}, nil
			case EventRequestError, EventAgentError, EventProtocolError:
				return nil, ev.Err
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}
