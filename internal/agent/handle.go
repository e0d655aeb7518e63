package agent

import "context"

// AgentHandle is a thin, cloneable reference to a running CoreLoop. Every
// operation except RecvEvent is non-blocking on the caller beyond the
// mailbox round-trip itself; RecvEvent suspends until an event is
// available or the loop's event stream is closed.
type AgentHandle struct {
	loop *CoreLoop
}

// NewAgentHandle wraps a started CoreLoop in a handle. Handles are safe to
// copy and share across goroutines; all of them address the same loop.
func NewAgentHandle(loop *CoreLoop) AgentHandle {
	return AgentHandle{loop: loop}
}

// SendPrompt submits a new user turn. Only valid while the loop is Idle.
func (h AgentHandle) SendPrompt(ctx context.Context, content string) error {
	resp, err := h.loop.promptReq.Send(ctx, sendPromptReq{Content: content})
	if err != nil {
		return err
	}
	return resp.Err
}

// SendApproval answers a pending ApprovalRequest event.
func (h AgentHandle) SendApproval(ctx context.Context, toolUseID string, result ApprovalResult, denyReason string) error {
	resp, err := h.loop.approvalReq.Send(ctx, sendApprovalReq{
		ToolUseID:  toolUseID,
		Result:     result,
		DenyReason: denyReason,
	})
	if err != nil {
		return err
	}
	return resp.Err
}

// Cancel aborts the current turn, if any, and returns the loop to Idle.
func (h AgentHandle) Cancel(ctx context.Context) error {
	resp, err := h.loop.cancelReq.Send(ctx, struct{}{})
	if err != nil {
		return err
	}
	return resp.Err
}

// RecvEvent returns the loop's outbound event stream. Callers drain it in a
// loop; the channel closes when the loop terminates.
func (h AgentHandle) RecvEvent() <-chan AgentEvent {
	return h.loop.Events()
}

// Snapshot synchronously projects the loop's current state.
func (h AgentHandle) Snapshot(ctx context.Context) (AgentSnapshot, error) {
	return h.loop.snapshotReq.Send(ctx, struct{}{})
}

// Import restores the loop's conversation and execution state from a
// snapshot previously produced by Snapshot. Only valid while the loop is
// Idle.
func (h AgentHandle) Import(ctx context.Context, snap AgentSnapshot) error {
	resp, err := h.loop.importReq.Send(ctx, snap)
	if err != nil {
		return err
	}
	return resp.Err
}
