package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	agentctx "github.com/haasonsaas/nexus/internal/agent/context"
	"github.com/haasonsaas/nexus/internal/mcp"
	"github.com/haasonsaas/nexus/internal/toolname"
	"github.com/haasonsaas/nexus/pkg/models"
)

// CoreState is the agent loop's explicit lifecycle state. Exactly one of
// these is active at any instant; the run loop's select statement is built
// directly around the transitions between them.
type CoreState string

const (
	StateIdle             CoreState = "idle"
	StateRequestInFlight  CoreState = "request_in_flight"
	StateExecutingTools   CoreState = "executing_tools"
	StateAwaitingApproval CoreState = "awaiting_approval"
	StateCompacting       CoreState = "compacting"
	StateErrored          CoreState = "errored"
	StateTerminated       CoreState = "terminated"
)

// ToolDispatcher executes one resolved tool call and returns its result.
// CoreLoop holds one dispatcher per toolname.Kind; BuiltIn is always
// wired in by NewCoreLoop, Mcp and Agent are wired in only when the
// corresponding subsystem (MCP manager actor, sub-agent spawner) is
// available.
type ToolDispatcher interface {
	Dispatch(ctx context.Context, name toolname.Name, input json.RawMessage) (*ToolResult, error)
}

// ToolDispatcherFunc adapts a function to ToolDispatcher.
type ToolDispatcherFunc func(ctx context.Context, name toolname.Name, input json.RawMessage) (*ToolResult, error)

func (f ToolDispatcherFunc) Dispatch(ctx context.Context, name toolname.Name, input json.RawMessage) (*ToolResult, error) {
	return f(ctx, name, input)
}

// ApprovalResult is the caller's answer to an ApprovalRequest event.
type ApprovalResult int

const (
	ApprovalApprove ApprovalResult = iota
	ApprovalApproveAlways
	ApprovalDeny
)

// CoreLoopConfig controls the approval ladder, compaction thresholds, and
// the resolvable tool catalog for a CoreLoop.
type CoreLoopConfig struct {
	DefaultModel  string
	DefaultSystem string

	// Workspace is the filesystem root FileWrite operations resolve
	// paths against. Used only to build the diff preview in
	// ApprovalRequest.context; the loop otherwise has no filesystem
	// dependency.
	Workspace string

	// TrustAll auto-approves every tool call, bypassing the rest of the
	// ladder. Intended for non-interactive or sandboxed runs.
	TrustAll bool

	// ReadOnlyTools lists tool display names that are intrinsically
	// read-only (file-read, ls, grep) and therefore auto-approved.
	ReadOnlyTools map[string]bool

	// CompactionThresholdTokens triggers Compacting when the estimated
	// conversation token count exceeds it. Zero disables threshold-based
	// compaction; context-overflow request errors still trigger it.
	CompactionThresholdTokens int

	// CompactionThresholdPercent triggers Compacting when the estimated
	// conversation token count exceeds this percentage of the model's
	// context window. Zero disables the percentage trigger.
	CompactionThresholdPercent float64

	// SummarizeTailMessages keeps this many of the most recent messages
	// out of the summarized prefix when compacting.
	SummarizeTailMessages int

	// Pruning, when non-nil, trims or clears stale tool-result content
	// from outgoing requests once the conversation ages past its TTL.
	Pruning *agentctx.ContextPruningSettings

	// Catalog resolves model-facing tool names to CanonicalToolNames.
	Catalog toolname.Catalog
}

// DefaultCoreLoopConfig returns defaults grounded on the legacy runtime's
// DefaultLoopConfig/DefaultCompactionConfig values.
func DefaultCoreLoopConfig() CoreLoopConfig {
	return CoreLoopConfig{
		ReadOnlyTools:              map[string]bool{},
		CompactionThresholdTokens:  150000,
		CompactionThresholdPercent: 80,
		SummarizeTailMessages:      4,
	}
}

type sendPromptReq struct {
	Content string
}

type sendApprovalReq struct {
	ToolUseID  string
	Result     ApprovalResult
	DenyReason string
}

type ackResp struct {
	Err error
}

// pendingToolUse is a tool-use block the model emitted, resolved (or
// failed to resolve) to a canonical name, awaiting execution.
type pendingToolUse struct {
	Block    models.ToolUseBlock
	Resolved toolname.Name
	ParseErr error
}

// toolOutcome is the result of executing one pendingToolUse, delivered
// asynchronously so the run loop's select can keep servicing Cancel and
// SendApproval while a tool runs.
type toolOutcome struct {
	idx    int
	use    models.ToolUseBlock
	result *ToolResult
	err    error
}

// CoreLoop is the agent loop proper: the single-threaded, cooperatively
// scheduled state machine that owns a ConversationState and drives model
// requests and tool executions to completion. External callers never touch
// CoreLoop directly; they hold an AgentHandle, whose methods are thin
// wrappers around CoreLoop's request mailboxes.
type CoreLoop struct {
	provider  LLMProvider
	registry  *ToolRegistry
	executor  *Executor
	compactor *CompactionManager
	logger    *slog.Logger

	config CoreLoopConfig

	dispatchers map[toolname.Kind]ToolDispatcher

	conv         models.ConversationState
	state        CoreState
	trustedTools map[string]bool
	lastErr      error

	obs       Observer
	turnID    string
	turnStart time.Time
	turnSpan  trace.Span
	llmStart  time.Time
	llmSpan   trace.Span

	// Per-turn working state. Exclusively owned by the run loop goroutine;
	// never touched from any other goroutine.
	turnCtx           context.Context
	turnCancel        context.CancelFunc
	compactedThisTurn bool
	assistant         models.Message
	pending           []pendingToolUse
	toolResults       []models.ToolResult
	inflightIdx       int
	streamCh          <-chan *CompletionChunk
	toolDoneCh        chan toolOutcome
	compactDone       chan compactOutcome

	events      *mcp.EventChannel[AgentEvent]
	promptReq   *mcp.RequestChannel[sendPromptReq, ackResp]
	approvalReq *mcp.RequestChannel[sendApprovalReq, ackResp]
	cancelReq   *mcp.RequestChannel[struct{}, ackResp]
	snapshotReq *mcp.RequestChannel[struct{}, AgentSnapshot]
	importReq   *mcp.RequestChannel[AgentSnapshot, ackResp]

	stop chan struct{}
	done chan struct{}
}

// NewCoreLoop constructs a CoreLoop. provider and registry are required;
// executor and compactor may be nil, in which case defaults grounded on
// DefaultExecutorConfig/DefaultCompactionConfig are used.
func NewCoreLoop(provider LLMProvider, registry *ToolRegistry, executor *Executor, compactor *CompactionManager, cfg CoreLoopConfig) *CoreLoop {
	if executor == nil {
		executor = NewExecutor(registry, DefaultExecutorConfig())
	}
	if compactor == nil {
		compactor = NewCompactionManager(DefaultCompactionConfig(), nil)
	}
	if cfg.ReadOnlyTools == nil {
		cfg.ReadOnlyTools = map[string]bool{}
	}

	l := &CoreLoop{
		provider:     provider,
		registry:     registry,
		executor:     executor,
		compactor:    compactor,
		logger:       slog.Default().With("component", "core_loop"),
		config:       cfg,
		dispatchers:  make(map[toolname.Kind]ToolDispatcher),
		state:        StateIdle,
		trustedTools: make(map[string]bool),
		events:       mcp.NewEventChannel[AgentEvent](mcp.DefaultEventChannelCapacity),
		promptReq:    mcp.NewRequestChannel[sendPromptReq, ackResp](1),
		approvalReq:  mcp.NewRequestChannel[sendApprovalReq, ackResp](1),
		cancelReq:    mcp.NewRequestChannel[struct{}, ackResp](1),
		snapshotReq:  mcp.NewRequestChannel[struct{}, AgentSnapshot](1),
		importReq:    mcp.NewRequestChannel[AgentSnapshot, ackResp](1),
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
	l.dispatchers[toolname.BuiltInKind] = ToolDispatcherFunc(l.dispatchBuiltIn)
	return l
}

// SetDispatcher wires a ToolDispatcher for an MCP or Agent kind. Calling
// this after Start is not safe; dispatchers must be configured before the
// run loop starts.
func (l *CoreLoop) SetDispatcher(kind toolname.Kind, d ToolDispatcher) {
	l.dispatchers[kind] = d
}

// State returns the loop's current lifecycle state.
func (l *CoreLoop) State() CoreState { return l.state }

// setState transitions the lifecycle state, emitting a diagnostic for the
// transition. All state changes after construction go through here.
func (l *CoreLoop) setState(next CoreState) {
	l.observeStateChange(l.state, next)
	l.state = next
}

// Events returns the loop's outbound AgentEvent stream.
func (l *CoreLoop) Events() <-chan AgentEvent {
	return l.events.Events()
}

// Start launches the run loop. ctx governs the loop's entire lifetime; use
// per-turn cancellation (via the Cancel request) to abort a single turn
// without tearing down the loop.
func (l *CoreLoop) Start(ctx context.Context) {
	go l.run(ctx)
}

// Stop requests the run loop to exit and blocks until it has.
func (l *CoreLoop) Stop() {
	select {
	case <-l.done:
		return
	default:
	}
	close(l.stop)
	<-l.done
}

func (l *CoreLoop) run(ctx context.Context) {
	defer close(l.done)
	defer l.events.Close()
	defer l.promptReq.Close()
	defer l.approvalReq.Close()
	defer l.cancelReq.Close()
	defer l.snapshotReq.Close()
	defer l.importReq.Close()

	l.events.Publish(evInitialized())

	for {
		select {
		case <-ctx.Done():
			l.setState(StateTerminated)
			return
		case <-l.stop:
			l.setState(StateTerminated)
			return

		case env := <-l.promptReq.Recv():
			err := l.handleSendPrompt(ctx, env.Req)
			l.promptReq.Reply(env, ackResp{Err: err})

		case env := <-l.approvalReq.Recv():
			err := l.handleSendApproval(env.Req)
			l.approvalReq.Reply(env, ackResp{Err: err})

		case env := <-l.cancelReq.Recv():
			l.handleCancel()
			l.cancelReq.Reply(env, ackResp{})

		case env := <-l.snapshotReq.Recv():
			l.snapshotReq.Reply(env, l.exportSnapshot())

		case env := <-l.importReq.Recv():
			err := l.handleImportSnapshot(env.Req)
			l.importReq.Reply(env, ackResp{Err: err})

		case chunk, ok := <-l.streamCh:
			if !ok {
				l.streamCh = nil
				continue
			}
			l.handleChunk(chunk)

		case outcome, ok := <-l.toolDoneCh:
			if !ok {
				l.toolDoneCh = nil
				continue
			}
			l.applyToolOutcome(outcome)

		case outcome, ok := <-l.compactDone:
			if !ok {
				l.compactDone = nil
				continue
			}
			l.onCompactDone(outcome)
		}
	}
}

// handleSendPrompt starts a new turn. It is only valid from Idle.
func (l *CoreLoop) handleSendPrompt(ctx context.Context, req sendPromptReq) error {
	if l.state != StateIdle {
		return fmt.Errorf("send_prompt invalid in state %s", l.state)
	}
	l.conv.Append(models.Message{Role: models.RoleUser, Content: req.Content, CreatedAt: time.Now()})
	l.events.Publish(evTurnStart())

	// The memory-flush compaction monitor runs alongside the in-place
	// summarizing compaction below: when context usage crosses its
	// threshold it asks its flush callback to prompt for durable-memory
	// writes before history is dropped.
	history := make([]*models.Message, len(l.conv.Messages))
	for i := range l.conv.Messages {
		history[i] = &l.conv.Messages[i]
	}
	if flushed, err := l.compactor.Check(ctx, l.conv.ID, history, nil, agentctx.FindLatestSummary(history)); err != nil {
		l.logger.Warn("compaction monitor check failed", "error", err)
	} else if flushed {
		l.logger.Info("memory flush requested", "session", l.conv.ID, "usage_percent", l.compactor.GetUsage(l.conv.ID))
	}

	l.turnCtx, l.turnCancel = context.WithCancel(ctx)
	l.turnCtx = l.observeTurnStart(l.turnCtx, uuid.NewString())
	l.compactedThisTurn = false
	l.assistant = models.Message{Role: models.RoleAssistant}
	l.pending = nil
	l.toolResults = nil
	l.inflightIdx = 0
	l.setState(StateRequestInFlight)
	l.streamCh = l.beginModelRequest(l.turnCtx)
	return nil
}

func (l *CoreLoop) handleCancel() {
	if l.turnCancel != nil {
		l.turnCancel()
	}
	wasActive := l.state != StateIdle
	l.setState(StateIdle)
	l.streamCh = nil
	l.toolDoneCh = nil
	l.compactDone = nil
	if wasActive {
		l.observeTurnEnd("cancelled")
		l.events.Publish(evTurnCancelled())
	}
}

// onCompactDone applies a finished compaction to the conversation. The
// summarization goroutine only computes; the replacement of the summarized
// prefix happens here, on the run loop goroutine that owns l.conv.
func (l *CoreLoop) onCompactDone(outcome compactOutcome) {
	l.observeCompaction(outcome.err)
	if outcome.err != nil {
		l.lastErr = outcome.err
		l.events.Publish(evAgentError(fmt.Errorf("compaction failed: %w", outcome.err)))
		l.setState(StateErrored)
		l.observeTurnEnd("errored")
		return
	}
	if outcome.applied {
		l.conv.Compact(outcome.cut, outcome.summary)
	}
	l.setState(StateRequestInFlight)
	l.streamCh = l.beginModelRequest(l.turnCtx)
}
