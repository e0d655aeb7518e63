package models

import "time"

// ConversationState is the in-memory, ordered view of a conversation that the
// agent loop operates on directly. Unlike Session, which is a storage-layer
// record keyed independently of loop state, ConversationState is the live
// working set: the message sequence the next model request is built from.
type ConversationState struct {
	// ID identifies the conversation. For single-branch sessions this is the
	// session ID; branched sessions key it by branch.
	ID string `json:"id"`

	// SessionID is the owning session.
	SessionID string `json:"session_id"`

	// Messages is the ordered message history, oldest first. A compaction
	// replaces a prefix of this slice with a single synthetic message whose
	// Metadata carries the ConversationSummary that replaced it.
	Messages []Message `json:"messages"`

	// Summaries records every compaction applied to this conversation, in
	// the order they occurred, even after the summarized messages have been
	// dropped from Messages.
	Summaries []ConversationSummary `json:"summaries,omitempty"`

	// UpdatedAt is when Messages was last appended to or compacted.
	UpdatedAt time.Time `json:"updated_at"`
}

// Append adds a message to the conversation, assigning its monotonic
// TurnIndex, and advances UpdatedAt. Indices increase by exactly one per
// append and are never reassigned, so they stay monotonic across
// compaction even though Messages shrinks.
func (c *ConversationState) Append(msg Message) {
	msg.TurnIndex = c.nextTurnIndex()
	c.Messages = append(c.Messages, msg)
	c.UpdatedAt = msg.CreatedAt
}

func (c *ConversationState) nextTurnIndex() int {
	if len(c.Messages) == 0 {
		return 0
	}
	return c.Messages[len(c.Messages)-1].TurnIndex + 1
}

// LastAssistantMessage returns the most recent assistant message, if any.
func (c *ConversationState) LastAssistantMessage() (Message, bool) {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if c.Messages[i].Role == RoleAssistant {
			return c.Messages[i], true
		}
	}
	return Message{}, false
}

// Compact replaces Messages[:cut] with a single synthetic summary message
// and records the ConversationSummary that produced it. cut must be a valid
// index into the pre-compaction Messages slice; callers are responsible for
// choosing a cut point that does not split a tool-use/tool-result pair.
func (c *ConversationState) Compact(cut int, summary ConversationSummary) {
	if cut < 0 || cut > len(c.Messages) {
		return
	}
	sm := summary.AsMessage()
	if cut > 0 {
		// The summary inherits the last summarized message's index so the
		// surviving sequence stays ordered.
		sm.TurnIndex = c.Messages[cut-1].TurnIndex
	}
	remainder := make([]Message, 0, len(c.Messages)-cut+1)
	remainder = append(remainder, sm)
	remainder = append(remainder, c.Messages[cut:]...)
	c.Messages = remainder
	c.Summaries = append(c.Summaries, summary)
	c.UpdatedAt = summary.CreatedAt
}

// ConversationSummary is a synthetic replacement for a prefix of a
// conversation's message history, produced by compaction when the
// conversation's estimated token usage crosses a configured threshold.
type ConversationSummary struct {
	// ID uniquely identifies this summary.
	ID string `json:"id"`

	// ConversationID is the conversation this summary was produced for.
	ConversationID string `json:"conversation_id"`

	// Text is the model-generated (or deterministic, for small histories)
	// summary of the replaced messages.
	Text string `json:"text"`

	// SummarizedCount is the number of original messages this summary
	// replaces.
	SummarizedCount int `json:"summarized_count"`

	// SummarizedThroughSeq is the sequence/index of the last original
	// message folded into this summary, used to detect whether a later
	// compaction needs to summarize the prior summary too.
	SummarizedThroughSeq int64 `json:"summarized_through_seq"`

	// EstimatedTokensBefore and EstimatedTokensAfter record the token
	// estimate for the replaced prefix before and after summarization, for
	// diagnostics and the usage percentage reported to callers.
	EstimatedTokensBefore int `json:"estimated_tokens_before"`
	EstimatedTokensAfter  int `json:"estimated_tokens_after"`

	// CreatedAt is when the summary was produced.
	CreatedAt time.Time `json:"created_at"`
}

// AsMessage renders the summary as a synthetic system message suitable for
// splicing into Messages in place of the prefix it replaces.
func (s ConversationSummary) AsMessage() Message {
	return Message{
		ID:        s.ID,
		SessionID: s.ConversationID,
		Role:      RoleSystem,
		Content:   s.Text,
		Metadata: map[string]any{
			"type":                   "conversation_summary",
			"summarized_count":       s.SummarizedCount,
			"summarized_through_seq": s.SummarizedThroughSeq,
		},
		CreatedAt: s.CreatedAt,
	}
}
