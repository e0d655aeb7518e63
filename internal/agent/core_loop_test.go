package agent

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/haasonsaas/nexus/internal/toolname"
	"github.com/haasonsaas/nexus/pkg/models"
)

// scriptedProvider replays canned chunk sequences, one per Complete call.
type scriptedProvider struct {
	mu        sync.Mutex
	responses [][]*CompletionChunk
	calls     int
}

func (p *scriptedProvider) Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.calls >= len(p.responses) {
		return nil, errors.New("no scripted response left")
	}
	chunks := p.responses[p.calls]
	p.calls++
	ch := make(chan *CompletionChunk, len(chunks))
	for _, c := range chunks {
		ch <- c
	}
	close(ch)
	return ch, nil
}

func (p *scriptedProvider) Name() string        { return "scripted" }
func (p *scriptedProvider) Models() []Model     { return nil }
func (p *scriptedProvider) SupportsTools() bool { return true }

// blockingProvider emits one text chunk, then holds the stream open until
// the request context is cancelled.
type blockingProvider struct{}

func (p *blockingProvider) Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error) {
	ch := make(chan *CompletionChunk, 1)
	ch <- &CompletionChunk{Text: "partial"}
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}

func (p *blockingProvider) Name() string        { return "blocking" }
func (p *blockingProvider) Models() []Model     { return nil }
func (p *blockingProvider) SupportsTools() bool { return true }

func textDone(text string) []*CompletionChunk {
	return []*CompletionChunk{
		{Text: text},
		{Done: true, InputTokens: 10, OutputTokens: 5},
	}
}

func toolCallThenDone(id, name string, input string) []*CompletionChunk {
	return []*CompletionChunk{
		{ToolCall: &models.ToolCall{ID: id, Name: name, Input: json.RawMessage(input)}},
		{Done: true},
	}
}

func newTestLoop(t *testing.T, provider LLMProvider, tools []Tool, mutate func(*CoreLoopConfig)) (*CoreLoop, AgentHandle, context.CancelFunc) {
	t.Helper()
	registry := NewToolRegistry()
	names := make([]string, 0, len(tools))
	for _, tool := range tools {
		registry.Register(tool)
		names = append(names, tool.Name())
	}

	cfg := DefaultCoreLoopConfig()
	cfg.CompactionThresholdTokens = 0
	cfg.CompactionThresholdPercent = 0
	cfg.Catalog = toolname.Catalog{BuiltIns: names}
	if mutate != nil {
		mutate(&cfg)
	}

	loop := NewCoreLoop(provider, registry, nil, nil, cfg)
	ctx, cancel := context.WithCancel(context.Background())
	loop.Start(ctx)
	t.Cleanup(func() {
		cancel()
		loop.Stop()
	})
	return loop, NewAgentHandle(loop), cancel
}

// collectTurn drains events until the turn ends one way or another,
// answering approval requests with answer (or auto-approving if answer is
// nil).
func collectTurn(t *testing.T, handle AgentHandle, answer func(ev AgentEvent) (ApprovalResult, string)) []AgentEvent {
	t.Helper()
	var events []AgentEvent
	deadline := time.After(10 * time.Second)
	for {
		select {
		case <-deadline:
			t.Fatalf("turn did not finish; events so far: %+v", events)
		case ev, ok := <-handle.RecvEvent():
			if !ok {
				t.Fatal("event stream closed mid-turn")
			}
			if ev.Kind == EventInitialized {
				continue
			}
			events = append(events, ev)
			switch ev.Kind {
			case EventApprovalRequest:
				result, reason := ApprovalApprove, ""
				if answer != nil {
					result, reason = answer(ev)
				}
				if err := handle.SendApproval(context.Background(), ev.ApprovalToolUseID, result, reason); err != nil {
					t.Fatalf("send approval: %v", err)
				}
			case EventTurnEnd, EventTurnCancelled, EventRequestError, EventAgentError, EventProtocolError:
				return events
			}
		}
	}
}

func eventKinds(events []AgentEvent) []AgentEventKind {
	kinds := make([]AgentEventKind, len(events))
	for i, ev := range events {
		kinds[i] = ev.Kind
	}
	return kinds
}

func TestCoreLoop_SimpleEchoTurn(t *testing.T) {
	provider := &scriptedProvider{responses: [][]*CompletionChunk{textDone("hi")}}
	_, handle, _ := newTestLoop(t, provider, nil, nil)

	if err := handle.SendPrompt(context.Background(), "hello"); err != nil {
		t.Fatalf("send prompt: %v", err)
	}
	events := collectTurn(t, handle, nil)

	want := []AgentEventKind{EventTurnStart, EventAssistantText, EventTurnEnd}
	got := eventKinds(events)
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events[%d] = %v, want %v", i, got[i], want[i])
		}
	}
	if events[1].AssistantTextDelta != "hi" {
		t.Errorf("assistant text = %q, want %q", events[1].AssistantTextDelta, "hi")
	}

	snap, err := handle.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.ExecutionState.State != StateIdle {
		t.Errorf("state = %s, want idle", snap.ExecutionState.State)
	}
	if len(snap.ConversationState.Messages) != 2 {
		t.Fatalf("conversation has %d messages, want 2", len(snap.ConversationState.Messages))
	}
	if snap.ConversationState.Messages[0].Role != models.RoleUser {
		t.Errorf("first message role = %s, want user", snap.ConversationState.Messages[0].Role)
	}
	if snap.ConversationState.Messages[1].Content != "hi" {
		t.Errorf("assistant content = %q, want %q", snap.ConversationState.Messages[1].Content, "hi")
	}
}

func TestCoreLoop_ReadOnlyToolAutoApproved(t *testing.T) {
	tool := &mockTool{name: "file_read", execFunc: func(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
		return &ToolResult{Content: "file contents"}, nil
	}}
	provider := &scriptedProvider{responses: [][]*CompletionChunk{
		toolCallThenDone("u1", "file_read", `{"path":"/tmp/x"}`),
		textDone("here is the file"),
	}}
	_, handle, _ := newTestLoop(t, provider, []Tool{tool}, func(cfg *CoreLoopConfig) {
		cfg.ReadOnlyTools["file_read"] = true
	})

	if err := handle.SendPrompt(context.Background(), "show me /tmp/x"); err != nil {
		t.Fatalf("send prompt: %v", err)
	}
	events := collectTurn(t, handle, nil)

	var sawStart, sawEnd bool
	for _, ev := range events {
		switch ev.Kind {
		case EventApprovalRequest:
			t.Fatal("read-only tool must not require approval")
		case EventToolUseStart:
			sawStart = true
			if ev.ToolUseID != "u1" || ev.ToolName != "file_read" {
				t.Errorf("tool use start = %s/%s", ev.ToolUseID, ev.ToolName)
			}
		case EventToolUseEnd:
			sawEnd = true
			if ev.ToolErr != nil {
				t.Errorf("tool error: %v", ev.ToolErr)
			}
			if ev.ToolResult == nil || ev.ToolResult.Content != "file contents" {
				t.Errorf("tool result = %+v", ev.ToolResult)
			}
		}
	}
	if !sawStart || !sawEnd {
		t.Fatalf("missing tool events in %v", eventKinds(events))
	}
	if events[len(events)-1].Kind != EventTurnEnd {
		t.Fatalf("turn should complete, got %v", eventKinds(events))
	}
	if tool.execCount.Load() != 1 {
		t.Errorf("tool ran %d times, want 1", tool.execCount.Load())
	}

	// Two model round-trips: the tool turn and the follow-up reply.
	if provider.calls != 2 {
		t.Errorf("model requests = %d, want 2", provider.calls)
	}

	// Turn pairing invariant: tool-use matched 1:1 by the following
	// tool-result message.
	snap, _ := handle.Snapshot(context.Background())
	msgs := snap.ConversationState.Messages
	if len(msgs) != 4 {
		t.Fatalf("conversation has %d messages, want 4", len(msgs))
	}
	if err := models.ValidateToolPairing(msgs[1], msgs[2]); err != nil {
		t.Errorf("tool pairing: %v", err)
	}
}

func TestCoreLoop_WriteApprovedOnce(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "y")
	tool := &mockTool{name: "fs_write", execFunc: func(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
		if err := os.WriteFile(target, []byte("z"), 0o644); err != nil {
			return nil, err
		}
		return &ToolResult{Content: "written"}, nil
	}}
	provider := &scriptedProvider{responses: [][]*CompletionChunk{
		toolCallThenDone("u2", "fs_write", `{"command":"create","path":"y","content":"z"}`),
		textDone("done"),
	}}
	loop, handle, _ := newTestLoop(t, provider, []Tool{tool}, nil)

	if err := handle.SendPrompt(context.Background(), "write it"); err != nil {
		t.Fatalf("send prompt: %v", err)
	}

	var sawApproval bool
	events := collectTurn(t, handle, func(ev AgentEvent) (ApprovalResult, string) {
		sawApproval = true
		if ev.ApprovalToolUseID != "u2" {
			t.Errorf("approval for %s, want u2", ev.ApprovalToolUseID)
		}
		if loop.State() != StateAwaitingApproval {
			t.Errorf("state during approval = %s", loop.State())
		}
		return ApprovalApprove, ""
	})

	if !sawApproval {
		t.Fatal("expected an approval request")
	}
	if events[len(events)-1].Kind != EventTurnEnd {
		t.Fatalf("turn should complete, got %v", eventKinds(events))
	}
	data, err := os.ReadFile(target)
	if err != nil || string(data) != "z" {
		t.Errorf("file = %q, err=%v, want z", data, err)
	}
}

func TestCoreLoop_WriteDenied(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "y")
	tool := &mockTool{name: "fs_write", execFunc: func(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
		t.Error("denied tool must not execute")
		return &ToolResult{Content: "written"}, nil
	}}
	provider := &scriptedProvider{responses: [][]*CompletionChunk{
		toolCallThenDone("u3", "fs_write", `{"command":"create","path":"y","content":"z"}`),
		textDone("understood"),
	}}
	_, handle, _ := newTestLoop(t, provider, []Tool{tool}, nil)

	if err := handle.SendPrompt(context.Background(), "write it"); err != nil {
		t.Fatalf("send prompt: %v", err)
	}
	events := collectTurn(t, handle, func(ev AgentEvent) (ApprovalResult, string) {
		return ApprovalDeny, "nope"
	})

	if events[len(events)-1].Kind != EventTurnEnd {
		t.Fatalf("turn should continue after denial, got %v", eventKinds(events))
	}
	if _, err := os.Stat(target); !os.IsNotExist(err) {
		t.Error("file must not exist after denial")
	}

	snap, _ := handle.Snapshot(context.Background())
	var denial *models.ToolResult
	for _, m := range snap.ConversationState.Messages {
		for i := range m.ToolResults {
			if m.ToolResults[i].ToolCallID == "u3" {
				denial = &m.ToolResults[i]
			}
		}
	}
	if denial == nil {
		t.Fatal("no tool result for denied call")
	}
	if !denial.IsError || !strings.Contains(denial.Content, "nope") {
		t.Errorf("denial result = %+v", denial)
	}
}

func TestCoreLoop_ApproveAlwaysSkipsSecondPrompt(t *testing.T) {
	tool := &mockTool{name: "fs_write", execFunc: func(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
		return &ToolResult{Content: "ok"}, nil
	}}
	provider := &scriptedProvider{responses: [][]*CompletionChunk{
		toolCallThenDone("u4", "fs_write", `{"command":"create","path":"a","content":"1"}`),
		textDone("first done"),
		toolCallThenDone("u5", "fs_write", `{"command":"create","path":"a","content":"2"}`),
		textDone("second done"),
	}}
	_, handle, _ := newTestLoop(t, provider, []Tool{tool}, nil)

	if err := handle.SendPrompt(context.Background(), "first"); err != nil {
		t.Fatalf("send prompt: %v", err)
	}
	approvals := 0
	collectTurn(t, handle, func(ev AgentEvent) (ApprovalResult, string) {
		approvals++
		return ApprovalApproveAlways, ""
	})
	if approvals != 1 {
		t.Fatalf("first turn approvals = %d, want 1", approvals)
	}

	if err := handle.SendPrompt(context.Background(), "second"); err != nil {
		t.Fatalf("send prompt: %v", err)
	}
	events := collectTurn(t, handle, func(ev AgentEvent) (ApprovalResult, string) {
		t.Error("approve-always should have been cached")
		return ApprovalApprove, ""
	})
	if events[len(events)-1].Kind != EventTurnEnd {
		t.Fatalf("second turn should complete, got %v", eventKinds(events))
	}
}

func TestCoreLoop_UnknownToolBecomesErrorResult(t *testing.T) {
	provider := &scriptedProvider{responses: [][]*CompletionChunk{
		toolCallThenDone("u6", "no_such_tool", `{}`),
		textDone("recovered"),
	}}
	_, handle, _ := newTestLoop(t, provider, nil, nil)

	if err := handle.SendPrompt(context.Background(), "go"); err != nil {
		t.Fatalf("send prompt: %v", err)
	}
	events := collectTurn(t, handle, nil)
	if events[len(events)-1].Kind != EventTurnEnd {
		t.Fatalf("turn should recover from parse failure, got %v", eventKinds(events))
	}

	snap, _ := handle.Snapshot(context.Background())
	found := false
	for _, m := range snap.ConversationState.Messages {
		for _, tr := range m.ToolResults {
			if tr.ToolCallID == "u6" && tr.IsError {
				found = true
			}
		}
	}
	if !found {
		t.Error("expected an error tool result for the unknown tool")
	}
}

func TestCoreLoop_CancellationMidStream(t *testing.T) {
	_, handle, _ := newTestLoop(t, &blockingProvider{}, nil, nil)

	if err := handle.SendPrompt(context.Background(), "hello"); err != nil {
		t.Fatalf("send prompt: %v", err)
	}

	// Wait for the first delta so the stream is known to be in flight.
	deadline := time.After(5 * time.Second)
waitDelta:
	for {
		select {
		case <-deadline:
			t.Fatal("never saw the first delta")
		case ev := <-handle.RecvEvent():
			if ev.Kind == EventAssistantText {
				break waitDelta
			}
		}
	}

	if err := handle.Cancel(context.Background()); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	sawCancelled := false
	drain := time.After(2 * time.Second)
	for !sawCancelled {
		select {
		case <-drain:
			t.Fatal("no TurnCancelled event")
		case ev := <-handle.RecvEvent():
			switch ev.Kind {
			case EventTurnCancelled:
				sawCancelled = true
			case EventAssistantText, EventToolUseStart, EventToolUseEnd:
				t.Fatalf("event %s after cancel", ev.Kind)
			}
		}
	}

	// No further turn events arrive after the cancellation.
	select {
	case ev, ok := <-handle.RecvEvent():
		if ok && (ev.Kind == EventAssistantText || ev.Kind == EventToolUseStart || ev.Kind == EventToolUseEnd) {
			t.Fatalf("event %s after TurnCancelled", ev.Kind)
		}
	case <-time.After(200 * time.Millisecond):
	}

	snap, _ := handle.Snapshot(context.Background())
	if snap.ExecutionState.State != StateIdle {
		t.Errorf("state = %s, want idle", snap.ExecutionState.State)
	}
}

func TestCoreLoop_SendPromptRejectedWhileBusy(t *testing.T) {
	_, handle, _ := newTestLoop(t, &blockingProvider{}, nil, nil)

	if err := handle.SendPrompt(context.Background(), "first"); err != nil {
		t.Fatalf("send prompt: %v", err)
	}
	if err := handle.SendPrompt(context.Background(), "second"); err == nil {
		t.Fatal("second prompt while busy should fail")
	}
	if err := handle.Cancel(context.Background()); err != nil {
		t.Fatalf("cancel: %v", err)
	}
}

func TestCoreLoop_SnapshotRoundTrip(t *testing.T) {
	provider := &scriptedProvider{responses: [][]*CompletionChunk{textDone("hi")}}
	_, handle, _ := newTestLoop(t, provider, nil, nil)

	if err := handle.SendPrompt(context.Background(), "hello"); err != nil {
		t.Fatalf("send prompt: %v", err)
	}
	collectTurn(t, handle, nil)

	snap, err := handle.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	data, err := MarshalSnapshot(snap)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	restored, err := UnmarshalSnapshot(data)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	provider2 := &scriptedProvider{responses: [][]*CompletionChunk{textDone("again")}}
	_, handle2, _ := newTestLoop(t, provider2, nil, nil)
	if err := handle2.Import(context.Background(), restored); err != nil {
		t.Fatalf("import: %v", err)
	}
	snap2, _ := handle2.Snapshot(context.Background())
	if len(snap2.ConversationState.Messages) != len(snap.ConversationState.Messages) {
		t.Fatalf("imported %d messages, want %d",
			len(snap2.ConversationState.Messages), len(snap.ConversationState.Messages))
	}
}

func TestCoreLoop_MonotonicHistory(t *testing.T) {
	tool := &mockTool{name: "file_read", execFunc: func(ctx context.Context, params json.RawMessage) (*ToolResult, error) {
		return &ToolResult{Content: "x"}, nil
	}}
	provider := &scriptedProvider{responses: [][]*CompletionChunk{
		toolCallThenDone("m1", "file_read", `{}`),
		textDone("one"),
		textDone("two"),
	}}
	_, handle, _ := newTestLoop(t, provider, []Tool{tool}, func(cfg *CoreLoopConfig) {
		cfg.ReadOnlyTools["file_read"] = true
	})

	for _, prompt := range []string{"first", "second"} {
		if err := handle.SendPrompt(context.Background(), prompt); err != nil {
			t.Fatalf("send prompt %q: %v", prompt, err)
		}
		collectTurn(t, handle, nil)
	}

	snap, _ := handle.Snapshot(context.Background())
	msgs := snap.ConversationState.Messages
	// Turn 1: user, assistant(tool), tool-result, assistant. Turn 2: user, assistant.
	if len(msgs) != 6 {
		t.Fatalf("conversation has %d messages, want 6", len(msgs))
	}
	for i, m := range msgs {
		if m.TurnIndex != i {
			t.Errorf("message %d has turn index %d; indices must increase by exactly one", i, m.TurnIndex)
		}
	}
	for i := 1; i < len(msgs); i++ {
		if msgs[i].CreatedAt.Before(msgs[i-1].CreatedAt) {
			t.Errorf("message %d is older than message %d", i, i-1)
		}
	}
}
