package agent

import "github.com/haasonsaas/nexus/pkg/models"

// AgentEventKind tags the variant carried by an AgentEvent, mirroring the
// CompletionChunk tagged-union style already used for streaming data in
// this package.
type AgentEventKind string

const (
	EventInitialized     AgentEventKind = "initialized"
	EventTurnStart       AgentEventKind = "turn_start"
	EventAssistantText   AgentEventKind = "assistant_text"
	EventToolUseStart    AgentEventKind = "tool_use_start"
	EventToolUseEnd      AgentEventKind = "tool_use_end"
	EventApprovalRequest AgentEventKind = "approval_request"
	EventTurnEnd         AgentEventKind = "turn_end"
	EventTurnCancelled   AgentEventKind = "turn_cancelled"
	EventRequestError    AgentEventKind = "request_error"
	EventAgentError      AgentEventKind = "agent_error"
	EventProtocolError   AgentEventKind = "protocol_error"
)

// AgentEvent is the public event stream a caller drains via
// AgentHandle.RecvEvent. Exactly one payload field is populated per Kind.
type AgentEvent struct {
	Kind AgentEventKind

	AssistantTextDelta string

	ToolUseID   string
	ToolName    string
	ToolResult  *ToolResult
	ToolErr     error

	ApprovalToolUseID string
	ApprovalToolUse   models.ToolUseBlock
	ApprovalContext   string

	TurnMetadata map[string]any

	Err error
}

func evInitialized() AgentEvent { return AgentEvent{Kind: EventInitialized} }

func evTurnStart() AgentEvent { return AgentEvent{Kind: EventTurnStart} }

func evAssistantText(delta string) AgentEvent {
	return AgentEvent{Kind: EventAssistantText, AssistantTextDelta: delta}
}

func evToolUseStart(id, name string) AgentEvent {
	return AgentEvent{Kind: EventToolUseStart, ToolUseID: id, ToolName: name}
}

func evToolUseEnd(id, name string, result *ToolResult, err error) AgentEvent {
	return AgentEvent{Kind: EventToolUseEnd, ToolUseID: id, ToolName: name, ToolResult: result, ToolErr: err}
}

func evApprovalRequest(use models.ToolUseBlock, context string) AgentEvent {
	return AgentEvent{Kind: EventApprovalRequest, ApprovalToolUseID: use.ID, ApprovalToolUse: use, ApprovalContext: context}
}

func evTurnEnd(metadata map[string]any) AgentEvent {
	return AgentEvent{Kind: EventTurnEnd, TurnMetadata: metadata}
}

func evTurnCancelled() AgentEvent { return AgentEvent{Kind: EventTurnCancelled} }

func evRequestError(err error) AgentEvent { return AgentEvent{Kind: EventRequestError, Err: err} }

func evAgentError(err error) AgentEvent { return AgentEvent{Kind: EventAgentError, Err: err} }

func evProtocolError(err error) AgentEvent { return AgentEvent{Kind: EventProtocolError, Err: err} }
