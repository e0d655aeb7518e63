// Package models defines the core conversation data types shared by the
// agent loop, the tool pipeline, and the MCP layer.
package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Role indicates the author of a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Message is one conversation entry. Content, ToolCalls, and ToolResults are
// the wire-level fields a provider or a durable store operates on directly;
// Blocks() projects them into the ordered content-block view the agent loop
// and tool pipeline reason about, so a message that carries text and one or
// more tool directives is still a single ordered sequence rather than three
// independently-indexed slices.
type Message struct {
	ID          string         `json:"id"`
	SessionID   string         `json:"session_id"`
	Role        Role           `json:"role"`
	Content     string         `json:"content"`
	Attachments []Attachment   `json:"attachments,omitempty"`
	ToolCalls   []ToolCall     `json:"tool_calls,omitempty"`
	ToolResults []ToolResult   `json:"tool_results,omitempty"`

	// TurnIndex is the message's position in its conversation, assigned by
	// ConversationState.Append: each appended message gets the previous
	// message's index plus one, and the numbering survives compaction.
	TurnIndex int `json:"turn_index"`

	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// BlockKind discriminates the variants of ContentBlock.
type BlockKind string

const (
	BlockText       BlockKind = "text"
	BlockToolUse    BlockKind = "tool-use"
	BlockToolResult BlockKind = "tool-result"
	BlockImage      BlockKind = "image"
)

// ContentBlock is one entry in a Message's ordered content, as projected by
// Message.Blocks(). Exactly the fields matching Kind are meaningful.
type ContentBlock struct {
	Kind       BlockKind        `json:"kind"`
	Text       string           `json:"text,omitempty"`
	ToolUse    *ToolUseBlock    `json:"tool_use,omitempty"`
	ToolResult *ToolResultBlock `json:"tool_result,omitempty"`
	Image      *ImageBlock      `json:"image,omitempty"`
}

// ToolUseBlock is a model-emitted directive to invoke a named tool. ID is
// opaque and correlates the later ToolResultBlock.
type ToolUseBlock struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolResultBlock is the response to a ToolUseBlock, paired by ToolUseID.
type ToolResultBlock struct {
	ToolUseID string `json:"tool_use_id"`
	Content   string `json:"content"`
	IsError   bool   `json:"is_error,omitempty"`
}

// ImageBlock carries inline image bytes or a reference URL.
type ImageBlock struct {
	MimeType string `json:"mime_type"`
	Data     []byte `json:"data,omitempty"`
	URL      string `json:"url,omitempty"`
}

// TextBlock constructs a BlockText content block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Kind: BlockText, Text: text}
}

// ToolUseContentBlock constructs a BlockToolUse content block.
func ToolUseContentBlock(id, name string, input json.RawMessage) ContentBlock {
	return ContentBlock{Kind: BlockToolUse, ToolUse: &ToolUseBlock{ID: id, Name: name, Input: input}}
}

// ToolResultContentBlock constructs a BlockToolResult content block.
func ToolResultContentBlock(toolUseID, content string, isError bool) ContentBlock {
	return ContentBlock{Kind: BlockToolResult, ToolResult: &ToolResultBlock{
		ToolUseID: toolUseID,
		Content:   content,
		IsError:   isError,
	}}
}

// Blocks projects the message's wire fields into an ordered content-block
// sequence: a text block first (if Content is non-empty), then one image
// block per image attachment, then one tool-use block per ToolCall, then
// one tool-result block per ToolResult, preserving each slice's original
// order. Providers build their request content from this projection.
func (m Message) Blocks() []ContentBlock {
	out := make([]ContentBlock, 0, 1+len(m.Attachments)+len(m.ToolCalls)+len(m.ToolResults))
	if m.Content != "" {
		out = append(out, TextBlock(m.Content))
	}
	for _, att := range m.Attachments {
		if att.Type != "image" {
			continue
		}
		out = append(out, ContentBlock{Kind: BlockImage, Image: &ImageBlock{
			MimeType: att.MimeType,
			Data:     att.Data,
			URL:      att.URL,
		}})
	}
	for _, tc := range m.ToolCalls {
		out = append(out, ToolUseContentBlock(tc.ID, tc.Name, tc.Input))
	}
	for _, tr := range m.ToolResults {
		out = append(out, ToolResultContentBlock(tr.ToolCallID, tr.Content, tr.IsError))
	}
	return out
}

// ToolUseBlocks returns every tool call on the message as ToolUseBlock values.
func (m Message) ToolUseBlocks() []ToolUseBlock {
	out := make([]ToolUseBlock, len(m.ToolCalls))
	for i, tc := range m.ToolCalls {
		out[i] = ToolUseBlock{ID: tc.ID, Name: tc.Name, Input: tc.Input}
	}
	return out
}

// ToolResultBlocks returns every tool result on the message as ToolResultBlock values.
func (m Message) ToolResultBlocks() []ToolResultBlock {
	out := make([]ToolResultBlock, len(m.ToolResults))
	for i, tr := range m.ToolResults {
		out[i] = ToolResultBlock{ToolUseID: tr.ToolCallID, Content: tr.Content, IsError: tr.IsError}
	}
	return out
}

// Text returns the message's plain-text content.
func (m Message) Text() string {
	return m.Content
}

// ValidateToolPairing checks the turn-pairing invariant: every tool call
// in assistantMsg must be matched 1:1, by id, by a tool result in
// toolResultMsg, with no extras on either side.
func ValidateToolPairing(assistantMsg, toolResultMsg Message) error {
	if len(assistantMsg.ToolCalls) == 0 {
		return nil
	}
	byID := make(map[string]int, len(toolResultMsg.ToolResults))
	for _, r := range toolResultMsg.ToolResults {
		byID[r.ToolCallID]++
	}
	for _, u := range assistantMsg.ToolCalls {
		if byID[u.ID] == 0 {
			return fmt.Errorf("protocol error: tool-use %q has no matching tool-result", u.ID)
		}
		if byID[u.ID] > 1 {
			return fmt.Errorf("protocol error: tool-use %q matched by %d tool-results", u.ID, byID[u.ID])
		}
	}
	if len(toolResultMsg.ToolResults) != len(assistantMsg.ToolCalls) {
		return fmt.Errorf("protocol error: %d tool-results but %d tool-uses", len(toolResultMsg.ToolResults), len(assistantMsg.ToolCalls))
	}
	return nil
}
