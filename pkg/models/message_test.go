package models

import (
	"encoding/json"
	"testing"
	"time"
)

func TestRole_Constants(t *testing.T) {
	tests := []struct {
		constant Role
		expected string
	}{
		{RoleUser, "user"},
		{RoleAssistant, "assistant"},
		{RoleSystem, "system"},
		{RoleTool, "tool"},
	}

	for _, tt := range tests {
		t.Run(string(tt.constant), func(t *testing.T) {
			if string(tt.constant) != tt.expected {
				t.Errorf("constant = %q, want %q", tt.constant, tt.expected)
			}
		})
	}
}

func TestMessage_JSONRoundTrip(t *testing.T) {
	now := time.Now().Truncate(time.Second)
	original := Message{
		ID:        "msg-123",
		SessionID: "sess-1",
		Role:      RoleAssistant,
		Content:   "hello",
		ToolCalls: []ToolCall{
			{ID: "tc-1", Name: "search", Input: json.RawMessage(`{"q":"test"}`)},
		},
		TurnIndex: 2,
		CreatedAt: now,
	}

	data, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}

	var decoded Message
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}

	if decoded.ID != original.ID {
		t.Errorf("ID = %q, want %q", decoded.ID, original.ID)
	}
	if decoded.TurnIndex != 2 {
		t.Errorf("TurnIndex = %d, want 2", decoded.TurnIndex)
	}
	if len(decoded.ToolCalls) != 1 || decoded.ToolCalls[0].ID != "tc-1" {
		t.Errorf("ToolCalls = %+v, want one call with ID tc-1", decoded.ToolCalls)
	}
}

func TestMessage_Blocks(t *testing.T) {
	m := Message{
		Content: "thinking...",
		ToolCalls: []ToolCall{
			{ID: "u1", Name: "file_read", Input: json.RawMessage(`{}`)},
		},
		ToolResults: []ToolResult{
			{ToolCallID: "u1", Content: "ok"},
		},
	}

	blocks := m.Blocks()
	if len(blocks) != 3 {
		t.Fatalf("Blocks() length = %d, want 3", len(blocks))
	}
	if blocks[0].Kind != BlockText || blocks[0].Text != "thinking..." {
		t.Errorf("Blocks[0] = %+v, want text block", blocks[0])
	}
	if blocks[1].Kind != BlockToolUse || blocks[1].ToolUse == nil || blocks[1].ToolUse.ID != "u1" {
		t.Errorf("Blocks[1] = %+v, want tool-use block u1", blocks[1])
	}
	if blocks[2].Kind != BlockToolResult || blocks[2].ToolResult == nil || blocks[2].ToolResult.ToolUseID != "u1" {
		t.Errorf("Blocks[2] = %+v, want tool-result block u1", blocks[2])
	}
}

func TestMessage_Text(t *testing.T) {
	m := Message{Content: "hello"}
	if got := m.Text(); got != "hello" {
		t.Errorf("Text() = %q, want %q", got, "hello")
	}
}

func TestValidateToolPairing(t *testing.T) {
	assistant := Message{
		Role:      RoleAssistant,
		ToolCalls: []ToolCall{{ID: "u1", Name: "file_read", Input: json.RawMessage(`{}`)}},
	}

	t.Run("matched", func(t *testing.T) {
		results := Message{Role: RoleTool, ToolResults: []ToolResult{{ToolCallID: "u1", Content: "ok"}}}
		if err := ValidateToolPairing(assistant, results); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("missing result", func(t *testing.T) {
		results := Message{Role: RoleTool}
		if err := ValidateToolPairing(assistant, results); err == nil {
			t.Error("expected protocol error, got nil")
		}
	})

	t.Run("duplicate result", func(t *testing.T) {
		results := Message{Role: RoleTool, ToolResults: []ToolResult{
			{ToolCallID: "u1", Content: "ok"},
			{ToolCallID: "u1", Content: "ok again"},
		}}
		if err := ValidateToolPairing(assistant, results); err == nil {
			t.Error("expected protocol error for duplicate result, got nil")
		}
	})

	t.Run("no tool uses", func(t *testing.T) {
		plain := Message{Role: RoleAssistant, Content: "hi"}
		if err := ValidateToolPairing(plain, Message{}); err != nil {
			t.Errorf("unexpected error for plain message: %v", err)
		}
	})
}

func TestAppendAssignsMonotonicTurnIndex(t *testing.T) {
	var conv ConversationState
	for i := 0; i < 4; i++ {
		conv.Append(Message{Role: RoleUser, Content: "m"})
	}
	for i, m := range conv.Messages {
		if m.TurnIndex != i {
			t.Errorf("message %d has turn index %d", i, m.TurnIndex)
		}
	}

	// Compaction keeps indices monotonic: the summary inherits the last
	// summarized index, the tail keeps its own, and appends continue from
	// the previous maximum.
	conv.Compact(2, ConversationSummary{ID: "s1", Text: "recap"})
	last := -1
	for _, m := range conv.Messages {
		if m.TurnIndex < last {
			t.Errorf("turn index %d decreased after compaction", m.TurnIndex)
		}
		last = m.TurnIndex
	}
	conv.Append(Message{Role: RoleUser, Content: "next"})
	tail := conv.Messages[len(conv.Messages)-1]
	if tail.TurnIndex != 4 {
		t.Errorf("post-compaction append index = %d, want 4", tail.TurnIndex)
	}
}
