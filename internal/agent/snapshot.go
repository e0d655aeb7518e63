package agent

import (
	"encoding/json"
	"fmt"

	"github.com/haasonsaas/nexus/pkg/models"
)

// AgentSnapshot is the serializable projection of a CoreLoop's in-memory
// state, exported via the agent handle's snapshot operation. Field names
// are stable across releases; unrecognized fields in a loaded snapshot are
// ignored rather than rejected, so older snapshots stay loadable as new
// fields are added.
type AgentSnapshot struct {
	ID     string           `json:"id"`
	Config AgentConfigState `json:"agent_config"`

	ConversationState    ConversationStateSnapshot `json:"conversation_state"`
	ConversationMetadata map[string]any             `json:"conversation_metadata,omitempty"`
	CompactionSnapshots   []models.ConversationSummary `json:"compaction_snapshots,omitempty"`

	ExecutionState ExecutionStateSnapshot `json:"execution_state"`
	ModelState     map[string]any         `json:"model_state,omitempty"`
	ToolState      map[string]any          `json:"tool_state,omitempty"`

	Settings map[string]any `json:"settings,omitempty"`
}

// AgentConfigState is the subset of CoreLoopConfig worth persisting in a
// snapshot; it excludes the in-memory-only Catalog.
type AgentConfigState struct {
	DefaultModel              string `json:"default_model,omitempty"`
	DefaultSystem             string `json:"default_system,omitempty"`
	TrustAll                  bool   `json:"trust_all,omitempty"`
	CompactionThresholdTokens int    `json:"compaction_threshold_tokens,omitempty"`
}

// ConversationStateSnapshot mirrors spec's {id, messages} shape exactly;
// ConversationState carries more (SessionID, Summaries, UpdatedAt), which
// is surfaced separately via ConversationMetadata/CompactionSnapshots
// rather than folded in here, to keep this projection stable.
type ConversationStateSnapshot struct {
	ID       string           `json:"id"`
	Messages []models.Message `json:"messages"`
}

// ExecutionStateSnapshot captures the loop's lifecycle state and the
// in-progress turn, if any, sufficient to resume or at least explain where
// a loop was when it was snapshotted.
type ExecutionStateSnapshot struct {
	State          CoreState `json:"state"`
	PendingToolIDs []string  `json:"pending_tool_ids,omitempty"`
	InflightIndex  int       `json:"inflight_index,omitempty"`
	LastError      string    `json:"last_error,omitempty"`
	TrustedTools   []string  `json:"trusted_tools,omitempty"`
}

// exportSnapshot is a synchronous projection of CoreLoop's in-memory state;
// it must only be called from the run loop goroutine.
func (l *CoreLoop) exportSnapshot() AgentSnapshot {
	pendingIDs := make([]string, len(l.pending))
	for i, p := range l.pending {
		pendingIDs[i] = p.Block.ID
	}
	trusted := make([]string, 0, len(l.trustedTools))
	for k := range l.trustedTools {
		trusted = append(trusted, k)
	}
	lastErr := ""
	if l.lastErr != nil {
		lastErr = l.lastErr.Error()
	}

	return AgentSnapshot{
		ID: l.conv.ID,
		Config: AgentConfigState{
			DefaultModel:              l.config.DefaultModel,
			DefaultSystem:             l.config.DefaultSystem,
			TrustAll:                  l.config.TrustAll,
			CompactionThresholdTokens: l.config.CompactionThresholdTokens,
		},
		ConversationState: ConversationStateSnapshot{
			ID:       l.conv.ID,
			Messages: l.conv.Messages,
		},
		CompactionSnapshots: l.conv.Summaries,
		ExecutionState: ExecutionStateSnapshot{
			State:          l.state,
			PendingToolIDs: pendingIDs,
			InflightIndex:  l.inflightIdx,
			LastError:      lastErr,
			TrustedTools:   trusted,
		},
	}
}

// handleImportSnapshot restores conversation and execution state from a
// previously exported snapshot. It is only valid from Idle: importing into
// a loop mid-turn would clobber turn-scoped state (turnCtx, pending tool
// calls, in-flight stream) that the snapshot doesn't describe.
//
// Restored messages are passed through repairTranscript first, since a
// snapshot taken mid-turn (or hand-edited before import) can carry
// tool_use blocks with no matching tool_result, or the reverse; the model
// API rejects either.
func (l *CoreLoop) handleImportSnapshot(snap AgentSnapshot) error {
	if l.state != StateIdle {
		return fmt.Errorf("import_snapshot invalid in state %s", l.state)
	}

	ptrs := make([]*models.Message, len(snap.ConversationState.Messages))
	for i := range snap.ConversationState.Messages {
		ptrs[i] = &snap.ConversationState.Messages[i]
	}
	repaired := repairTranscript(ptrs)
	messages := make([]models.Message, len(repaired))
	for i, m := range repaired {
		messages[i] = *m
	}

	l.conv = models.ConversationState{
		ID:        snap.ConversationState.ID,
		Messages:  messages,
		Summaries: snap.CompactionSnapshots,
	}

	l.trustedTools = make(map[string]bool, len(snap.ExecutionState.TrustedTools))
	for _, name := range snap.ExecutionState.TrustedTools {
		l.trustedTools[name] = true
	}

	if snap.Config.DefaultModel != "" {
		l.config.DefaultModel = snap.Config.DefaultModel
	}
	if snap.Config.DefaultSystem != "" {
		l.config.DefaultSystem = snap.Config.DefaultSystem
	}

	return nil
}

// MarshalSnapshot encodes a snapshot to its stable JSON form.
func MarshalSnapshot(s AgentSnapshot) ([]byte, error) {
	return json.MarshalIndent(s, "", "  ")
}

// UnmarshalSnapshot decodes a snapshot, tolerating unknown fields per the
// forward-compatibility contract (encoding/json already ignores unknown
// fields by default; this wrapper exists so callers have one name for the
// operation rather than reaching for json.Unmarshal directly).
func UnmarshalSnapshot(data []byte) (AgentSnapshot, error) {
	var s AgentSnapshot
	err := json.Unmarshal(data, &s)
	return s, err
}
