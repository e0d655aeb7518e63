package agent

import (
	"context"
	"strings"
	"sync"
	"time"

	agentctx "github.com/haasonsaas/nexus/internal/agent/context"
	"github.com/haasonsaas/nexus/pkg/models"
)

// CompactionState tracks the memory-flush monitor's state for a session.
type CompactionState string

const (
	// CompactionIdle means no flush is pending.
	CompactionIdle CompactionState = "idle"
	// CompactionPending means usage crossed the threshold and a flush
	// prompt was issued.
	CompactionPending CompactionState = "pending"
	// CompactionAwaitingConfirm means the flush prompt was delivered and
	// the monitor is waiting for confirmation.
	CompactionAwaitingConfirm CompactionState = "awaiting_confirm"
	// CompactionInProgress means the post-flush compaction is running.
	CompactionInProgress CompactionState = "in_progress"
)

// CompactionConfig configures the memory-flush monitor. This runs beside
// the loop's in-place summarizing compaction: before history is dropped,
// the monitor gives the agent one chance to persist durable facts.
type CompactionConfig struct {
	// Enabled turns the monitor on.
	Enabled bool

	// ThresholdPercent is the context usage percentage (0-100) that
	// triggers a flush prompt. Default: 80.
	ThresholdPercent int

	// FlushPrompt is the message sent to prompt a memory flush.
	FlushPrompt string

	// ConfirmationTimeout bounds the wait for flush confirmation.
	// Default: 5 minutes.
	ConfirmationTimeout time.Duration

	// AutoCompactOnTimeout proceeds without confirmation after the
	// timeout. Default: true.
	AutoCompactOnTimeout bool
}

// DefaultCompactionConfig returns sensible defaults.
func DefaultCompactionConfig() *CompactionConfig {
	return &CompactionConfig{
		Enabled:              true,
		ThresholdPercent:     80,
		FlushPrompt:          "Session nearing compaction. If there are durable facts, store them in memory/YYYY-MM-DD.md or MEMORY.md. Reply NO_REPLY if nothing needs attention.",
		ConfirmationTimeout:  5 * time.Minute,
		AutoCompactOnTimeout: true,
	}
}

// CompactionManager watches per-session context usage via the packer's
// diagnostics and raises flush callbacks when a session nears its budget.
type CompactionManager struct {
	mu       sync.RWMutex
	config   *CompactionConfig
	packer   *agentctx.Packer
	sessions map[string]*sessionCompaction

	onFlushRequired      func(ctx context.Context, sessionID string, prompt string) error
	onCompactionComplete func(ctx context.Context, sessionID string, dropped int) error
}

type sessionCompaction struct {
	state        CompactionState
	lastCheck    time.Time
	flushSentAt  time.Time
	usagePercent int
}

// NewCompactionManager creates a monitor. A nil packer disables it.
func NewCompactionManager(config *CompactionConfig, packer *agentctx.Packer) *CompactionManager {
	if config == nil {
		config = DefaultCompactionConfig()
	}
	return &CompactionManager{
		config:   config,
		packer:   packer,
		sessions: make(map[string]*sessionCompaction),
	}
}

// SetFlushCallback sets the function called when a flush is required.
func (m *CompactionManager) SetFlushCallback(fn func(ctx context.Context, sessionID string, prompt string) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onFlushRequired = fn
}

// SetCompactionCallback sets the function called when compaction completes.
func (m *CompactionManager) SetCompactionCallback(fn func(ctx context.Context, sessionID string, dropped int) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onCompactionComplete = fn
}

// Check evaluates context usage and raises the flush callback when usage
// crosses the threshold. Returns true if a flush was triggered.
func (m *CompactionManager) Check(ctx context.Context, sessionID string, history []*models.Message, incoming *models.Message, summary *models.Message) (bool, error) {
	if !m.config.Enabled || m.packer == nil {
		return false, nil
	}

	result := m.packer.PackWithDiagnostics(history, incoming, summary)
	if result.Diagnostics == nil {
		return false, nil
	}
	usagePercent := 0
	if result.Diagnostics.BudgetChars > 0 {
		usagePercent = (result.Diagnostics.UsedChars * 100) / result.Diagnostics.BudgetChars
	}

	m.mu.Lock()
	session := m.sessions[sessionID]
	if session == nil {
		session = &sessionCompaction{state: CompactionIdle}
		m.sessions[sessionID] = session
	}
	session.lastCheck = time.Now()
	session.usagePercent = usagePercent

	if usagePercent >= m.config.ThresholdPercent && session.state == CompactionIdle {
		session.state = CompactionPending
		session.flushSentAt = time.Now()
		flush := m.onFlushRequired
		prompt := m.config.FlushPrompt
		m.mu.Unlock()

		if flush != nil {
			if err := flush(ctx, sessionID, prompt); err != nil {
				return false, err
			}
		}
		return true, nil
	}

	if session.state == CompactionAwaitingConfirm && time.Since(session.flushSentAt) > m.config.ConfirmationTimeout {
		if m.config.AutoCompactOnTimeout {
			session.state = CompactionInProgress
			m.mu.Unlock()
			return m.finishCompaction(ctx, sessionID, result.Diagnostics.Dropped)
		}
		session.state = CompactionIdle
	}
	m.mu.Unlock()
	return false, nil
}

// ConfirmFlush records that the memory flush completed and runs the
// compaction callback.
func (m *CompactionManager) ConfirmFlush(ctx context.Context, sessionID string) error {
	return m.resolveFlush(ctx, sessionID)
}

// RejectFlush proceeds with compaction without a memory write.
func (m *CompactionManager) RejectFlush(ctx context.Context, sessionID string) error {
	return m.resolveFlush(ctx, sessionID)
}

func (m *CompactionManager) resolveFlush(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	session := m.sessions[sessionID]
	if session == nil || (session.state != CompactionPending && session.state != CompactionAwaitingConfirm) {
		m.mu.Unlock()
		return nil
	}
	session.state = CompactionInProgress
	m.mu.Unlock()

	_, err := m.finishCompaction(ctx, sessionID, 0)
	return err
}

func (m *CompactionManager) finishCompaction(ctx context.Context, sessionID string, dropped int) (bool, error) {
	m.mu.Lock()
	callback := m.onCompactionComplete
	if session := m.sessions[sessionID]; session != nil {
		session.state = CompactionIdle
	}
	m.mu.Unlock()

	if callback != nil {
		if err := callback(ctx, sessionID, dropped); err != nil {
			return false, err
		}
	}
	return true, nil
}

// GetState returns the monitor state for a session.
func (m *CompactionManager) GetState(sessionID string) CompactionState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if session := m.sessions[sessionID]; session != nil {
		return session.state
	}
	return CompactionIdle
}

// GetUsage returns the last observed context usage percentage.
func (m *CompactionManager) GetUsage(sessionID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if session := m.sessions[sessionID]; session != nil {
		return session.usagePercent
	}
	return 0
}

// Reset clears the monitor state for a session.
func (m *CompactionManager) Reset(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
}

// CompactionInfo is a diagnostic snapshot of a session's monitor state.
type CompactionInfo struct {
	SessionID    string          `json:"session_id"`
	State        CompactionState `json:"state"`
	UsagePercent int             `json:"usage_percent"`
	LastCheck    time.Time       `json:"last_check"`
	FlushSentAt  time.Time       `json:"flush_sent_at,omitempty"`
	Threshold    int             `json:"threshold"`
}

// GetInfo returns diagnostic information for a session.
func (m *CompactionManager) GetInfo(sessionID string) *CompactionInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	info := &CompactionInfo{
		SessionID: sessionID,
		State:     CompactionIdle,
		Threshold: m.config.ThresholdPercent,
	}
	if session := m.sessions[sessionID]; session != nil {
		info.State = session.state
		info.UsagePercent = session.usagePercent
		info.LastCheck = session.lastCheck
		info.FlushSentAt = session.flushSentAt
	}
	return info
}

// flushResponsePatterns are the acknowledgment phrasings a model replies
// to a flush prompt with.
var flushResponsePatterns = []string{
	"no_reply",
	"nothing to save",
	"nothing needs attention",
	"saved to memory",
	"stored in memory",
	"memory updated",
}

// IsFlushResponse reports whether content looks like a reply to the flush
// prompt. Only the head of the message is examined; a long assistant turn
// that merely mentions memory somewhere is not a flush acknowledgment.
func IsFlushResponse(content string) bool {
	head := content
	if len(head) > 50 {
		head = head[:50]
	}
	head = strings.ToLower(head)
	for _, p := range flushResponsePatterns {
		if strings.Contains(head, p) {
			return true
		}
	}
	return false
}
