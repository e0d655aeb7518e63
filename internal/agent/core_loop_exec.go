package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	agentctx "github.com/haasonsaas/nexus/internal/agent/context"
	"github.com/haasonsaas/nexus/internal/compaction"
	ctxwindow "github.com/haasonsaas/nexus/internal/context"
	"github.com/haasonsaas/nexus/internal/toolname"
	"github.com/haasonsaas/nexus/pkg/models"
)

// handleSendApproval answers a pending ApprovalRequest. Only valid from
// AwaitingApproval, and only for the tool use currently at l.pending[l.inflightIdx].
func (l *CoreLoop) handleSendApproval(req sendApprovalReq) error {
	if l.state != StateAwaitingApproval {
		return fmt.Errorf("send_approval invalid in state %s", l.state)
	}
	if l.inflightIdx >= len(l.pending) || l.pending[l.inflightIdx].Block.ID != req.ToolUseID {
		return fmt.Errorf("send_approval: %q is not the tool use currently awaiting approval", req.ToolUseID)
	}
	cur := l.pending[l.inflightIdx]

	switch req.Result {
	case ApprovalDeny:
		reason := req.DenyReason
		if reason == "" {
			reason = "denied by user"
		}
		l.observeApproval("deny")
		l.setState(StateExecutingTools)
		l.applyToolOutcome(toolOutcome{idx: l.inflightIdx, use: cur.Block, result: &ToolResult{Content: reason, IsError: true}})
		return nil
	case ApprovalApproveAlways:
		l.trustedTools[canonicalKey(cur.Resolved)] = true
		l.observeApproval("approve_always")
		l.setState(StateExecutingTools)
		l.toolDoneCh = l.executeAsync(l.turnCtx, cur, l.inflightIdx)
		return nil
	case ApprovalApprove:
		l.observeApproval("approve")
		l.setState(StateExecutingTools)
		l.toolDoneCh = l.executeAsync(l.turnCtx, cur, l.inflightIdx)
		return nil
	default:
		return fmt.Errorf("send_approval: unknown result %d", req.Result)
	}
}

// beginModelRequest issues the next model request carrying the current
// conversation and returns the streaming response channel.
func (l *CoreLoop) beginModelRequest(ctx context.Context) <-chan *CompletionChunk {
	ctx = l.observeLLMStart(ctx)
	req := &CompletionRequest{
		Model:    l.config.DefaultModel,
		System:   l.config.DefaultSystem,
		Messages: l.toCompletionMessages(),
		Tools:    l.registry.AsLLMTools(),
	}
	ch, err := l.provider.Complete(ctx, req)
	if err != nil {
		out := make(chan *CompletionChunk, 1)
		out <- &CompletionChunk{Error: err, Done: true}
		close(out)
		return out
	}
	return ch
}

// toCompletionMessages prepares the outgoing history: stale tool results
// pruned, then truncated to the model's window if compaction left it over.
func (l *CoreLoop) toCompletionMessages() []models.Message {
	return l.fitToWindow(l.pruneMessages(l.conv.Messages))
}

// handleChunk applies one CompletionChunk to the in-flight turn.
func (l *CoreLoop) handleChunk(chunk *CompletionChunk) {
	switch {
	case chunk.Error != nil:
		l.streamCh = nil
		l.observeLLMEnd(chunk.Error, 0, 0)
		if isContextOverflow(chunk.Error) && !l.compactedThisTurn && l.config.SummarizeTailMessages > 0 && len(l.conv.Messages) > l.config.SummarizeTailMessages {
			l.compactedThisTurn = true
			l.setState(StateCompacting)
			l.compactDone = l.startCompaction(l.turnCtx)
			return
		}
		l.lastErr = chunk.Error
		l.setState(StateIdle)
		l.observeTurnEnd("errored")
		l.events.Publish(evRequestError(chunk.Error))

	case chunk.ToolCall != nil:
		use := models.ToolUseBlock{ID: chunk.ToolCall.ID, Name: chunk.ToolCall.Name, Input: chunk.ToolCall.Input}
		l.assistant.ToolCalls = append(l.assistant.ToolCalls, *chunk.ToolCall)
		resolved, err := l.config.Catalog.ResolveOne(use.Name)
		l.pending = append(l.pending, pendingToolUse{Block: use, Resolved: resolved, ParseErr: err})
		l.events.Publish(evToolUseStart(use.ID, use.Name))

	case chunk.Text != "":
		l.assistant.Content += chunk.Text
		l.events.Publish(evAssistantText(chunk.Text))

	case chunk.Done:
		l.streamCh = nil
		l.observeLLMEnd(nil, chunk.InputTokens, chunk.OutputTokens)
		if len(l.pending) == 0 {
			l.finalizeTurn(map[string]any{"input_tokens": chunk.InputTokens, "output_tokens": chunk.OutputTokens})
			return
		}
		l.setState(StateExecutingTools)
		l.toolDoneCh = l.tryAdvance(l.inflightIdx)
	}
}

// tryAdvance evaluates the approval policy for l.pending[idx] and either
// spawns its execution or suspends into AwaitingApproval. Callers must only
// invoke it with idx < len(l.pending); the "no more pending tools" case is
// handled by finishToolsAndContinue, not here.
func (l *CoreLoop) tryAdvance(idx int) chan toolOutcome {
	cur := l.pending[idx]

	if cur.ParseErr != nil {
		ch := make(chan toolOutcome, 1)
		ch <- toolOutcome{idx: idx, use: cur.Block, err: cur.ParseErr}
		close(ch)
		return ch
	}

	if !l.requiresApproval(cur) {
		l.observeApproval("auto")
		return l.executeAsync(l.turnCtx, cur, idx)
	}

	l.setState(StateAwaitingApproval)
	l.events.Publish(evApprovalRequest(cur.Block, l.approvalContext(cur)))
	return nil
}

// executeAsync dispatches one approved tool call on its own goroutine so
// the run loop's select keeps servicing Cancel/SendApproval while it runs.
func (l *CoreLoop) executeAsync(ctx context.Context, ptu pendingToolUse, idx int) chan toolOutcome {
	out := make(chan toolOutcome, 1)
	dispatcher, ok := l.dispatchers[ptu.Resolved.Kind]
	if !ok {
		out <- toolOutcome{idx: idx, use: ptu.Block, err: fmt.Errorf("no dispatcher registered for %s tools", ptu.Resolved.Kind)}
		close(out)
		return out
	}
	done := l.observeToolStart(ctx, ptu.Block.ID, ptu.Block.Name)
	go func() {
		result, err := dispatcher.Dispatch(ctx, ptu.Resolved, ptu.Block.Input)
		done(err)
		out <- toolOutcome{idx: idx, use: ptu.Block, result: result, err: err}
		close(out)
	}()
	return out
}

// applyToolOutcome records one completed tool execution and advances to the
// next pending tool, or finishes the ExecutingTools phase if none remain.
func (l *CoreLoop) applyToolOutcome(outcome toolOutcome) {
	l.appendToolResult(outcome)
	l.events.Publish(evToolUseEnd(outcome.use.ID, outcome.use.Name, outcome.result, outcome.err))

	l.inflightIdx++
	if l.inflightIdx >= len(l.pending) {
		l.toolDoneCh = nil
		l.finishToolsAndContinue()
		return
	}
	l.setState(StateExecutingTools)
	l.toolDoneCh = l.tryAdvance(l.inflightIdx)
}

func (l *CoreLoop) appendToolResult(outcome toolOutcome) {
	content := ""
	isError := outcome.err != nil
	if outcome.err != nil {
		content = outcome.err.Error()
	} else if outcome.result != nil {
		content = outcome.result.Content
		isError = outcome.result.IsError
	}
	l.toolResults = append(l.toolResults, models.ToolResult{
		ToolCallID: outcome.use.ID,
		Content:    content,
		IsError:    isError,
	})
}

// finishToolsAndContinue is reached once every pending tool for this
// assistant message has a result. It commits the assistant message and its
// paired tool-result message to the conversation, then either compacts or
// issues the next model request.
func (l *CoreLoop) finishToolsAndContinue() {
	l.assistant.CreatedAt = time.Now()
	l.conv.Append(l.assistant)
	l.conv.Append(models.Message{Role: models.RoleTool, ToolResults: l.toolResults, CreatedAt: time.Now()})

	if err := models.ValidateToolPairing(l.conv.Messages[len(l.conv.Messages)-2], l.conv.Messages[len(l.conv.Messages)-1]); err != nil {
		l.lastErr = err
		l.setState(StateIdle)
		l.observeTurnEnd("errored")
		l.events.Publish(evProtocolError(err))
		return
	}

	l.assistant = models.Message{Role: models.RoleAssistant}
	l.pending = nil
	l.toolResults = nil
	l.inflightIdx = 0

	if l.shouldCompact() {
		l.setState(StateCompacting)
		l.compactDone = l.startCompaction(l.turnCtx)
		return
	}
	l.setState(StateRequestInFlight)
	l.streamCh = l.beginModelRequest(l.turnCtx)
}

// finalizeTurn ends a turn that produced no pending tool uses: the
// assistant's text-only reply is committed and the loop returns to Idle.
func (l *CoreLoop) finalizeTurn(metadata map[string]any) {
	l.assistant.CreatedAt = time.Now()
	l.conv.Append(l.assistant)
	l.assistant = models.Message{Role: models.RoleAssistant}
	l.setState(StateIdle)
	l.observeTurnEnd("completed")
	l.events.Publish(evTurnEnd(metadata))
}

func canonicalKey(n toolname.Name) string { return n.FullName() }

// requiresApproval implements the approval policy ladder: trust-all, then
// per-session trusted list, then intrinsic read-only tools, else require
// approval.
func (l *CoreLoop) requiresApproval(ptu pendingToolUse) bool {
	if l.config.TrustAll {
		return false
	}
	if l.trustedTools[canonicalKey(ptu.Resolved)] {
		return false
	}
	if l.config.ReadOnlyTools[ptu.Block.Name] {
		return false
	}
	return true
}

// ApprovalPreviewer is implemented by tools that can render the context
// shown alongside an ApprovalRequest event: a diff preview for file
// writes, the command line and its safety analysis for exec. Tools that
// don't implement it get their raw input shown instead.
type ApprovalPreviewer interface {
	PreviewApproval(input json.RawMessage) string
}

// approvalContext builds the tool-specific preview shown alongside an
// ApprovalRequest, delegating to the tool itself when it can render one.
func (l *CoreLoop) approvalContext(ptu pendingToolUse) string {
	if ptu.Resolved.Kind == toolname.BuiltInKind {
		if tool, ok := l.registry.Get(ptu.Resolved.Tool); ok {
			if p, ok := tool.(ApprovalPreviewer); ok {
				if preview := p.PreviewApproval(ptu.Block.Input); preview != "" {
					return preview
				}
			}
		}
	}
	return string(ptu.Block.Input)
}

// dispatchBuiltIn runs a BuiltIn-kind tool through the executor, which
// provides retry/timeout/backpressure handling even for the loop's
// sequential single-call dispatch.
func (l *CoreLoop) dispatchBuiltIn(ctx context.Context, name toolname.Name, input json.RawMessage) (*ToolResult, error) {
	res := l.executor.Execute(ctx, models.ToolCall{Name: name.Tool, Input: input})
	if l.obs.Metrics != nil {
		l.obs.Metrics.RecordToolRetries(name.Tool, res.Attempts-1)
	}
	if res.Error != nil {
		return nil, res.Error
	}
	return res.Result, nil
}

// shouldCompact reports whether the conversation's estimated token count
// exceeds either the absolute threshold or the configured percentage of
// the model's context window.
func (l *CoreLoop) shouldCompact() bool {
	est := compaction.EstimateMessagesTokens(l.compactionMessages(l.conv.Messages))
	if l.config.CompactionThresholdTokens > 0 && est > l.config.CompactionThresholdTokens {
		return true
	}
	if l.config.CompactionThresholdPercent > 0 {
		win := ctxwindow.NewWindowForModel(l.config.DefaultModel)
		win.SetUsed(est)
		return win.Info().UsedPercent >= l.config.CompactionThresholdPercent
	}
	return false
}

// pruneMessages applies the configured cache-TTL pruning pass to a copy of
// the conversation before it is sent to the model: stale tool results are
// soft-trimmed or cleared while the conversation itself stays intact.
func (l *CoreLoop) pruneMessages(msgs []models.Message) []models.Message {
	if l.config.Pruning == nil || len(msgs) == 0 {
		return msgs
	}
	win := ctxwindow.NewWindowForModel(l.config.DefaultModel)
	charWindow := win.Info().TotalTokens * 4

	ptrs := make([]*models.Message, len(msgs))
	for i := range msgs {
		copied := msgs[i]
		ptrs[i] = &copied
	}
	pruned := agentctx.PruneContextMessages(ptrs, *l.config.Pruning, charWindow)
	out := make([]models.Message, len(pruned))
	for i, m := range pruned {
		out[i] = *m
	}
	return out
}

// fitToWindow is the last-resort guard between compaction and the model
// API's hard context limit: when the conversation still cannot fit the
// model's window, the oldest messages are dropped (keeping the most
// recent ones) and tool pairing is re-repaired, rather than sending a
// request the API is guaranteed to reject.
func (l *CoreLoop) fitToWindow(msgs []models.Message) []models.Message {
	if len(msgs) <= 2 {
		return msgs
	}
	win := ctxwindow.NewWindowForModel(l.config.DefaultModel)
	budget := int(float64(win.Info().TotalTokens) * 0.9)

	cms := make([]ctxwindow.Message, len(msgs))
	for i, m := range msgs {
		toolJSON, _ := json.Marshal(m.ToolCalls)
		resultJSON, _ := json.Marshal(m.ToolResults)
		cms[i] = ctxwindow.Message{
			Role:    string(m.Role),
			Content: m.Content + string(toolJSON) + string(resultJSON),
		}
	}
	tr := ctxwindow.NewTruncator(ctxwindow.TruncateOldest, budget)
	tr.SetKeepFirst(0)
	tr.SetKeepLast(2)
	_, res := tr.Truncate(cms)
	if res.RemovedCount == 0 || res.NewCount <= 0 || res.NewCount >= len(msgs) {
		return msgs
	}

	kept := msgs[len(msgs)-res.NewCount:]
	ptrs := make([]*models.Message, len(kept))
	for i := range kept {
		ptrs[i] = &kept[i]
	}
	repaired := repairTranscript(ptrs)
	out := make([]models.Message, len(repaired))
	for i, m := range repaired {
		out[i] = *m
	}
	l.logger.Warn("conversation truncated to fit context window",
		"removed", res.RemovedCount, "kept", len(out), "tokens_freed", res.TokensFreed)
	return out
}

func (l *CoreLoop) compactionMessages(msgs []models.Message) []*compaction.Message {
	out := make([]*compaction.Message, len(msgs))
	for i, m := range msgs {
		toolCallsJSON, _ := json.Marshal(m.ToolCalls)
		toolResultsJSON, _ := json.Marshal(m.ToolResults)
		out[i] = &compaction.Message{
			Role:        string(m.Role),
			Content:     m.Content,
			ToolCalls:   string(toolCallsJSON),
			ToolResults: string(toolResultsJSON),
		}
	}
	return out
}

// providerSummarizer adapts CoreLoop's LLMProvider into a compaction.Summarizer.
type providerSummarizer struct {
	l *CoreLoop
}

func (s providerSummarizer) GenerateSummary(ctx context.Context, messages []*compaction.Message, cfg *compaction.SummarizationConfig) (string, error) {
	req := &CompletionRequest{
		Model:  s.l.config.DefaultModel,
		System: "Produce a durable recap of this conversation excerpt: decisions made, files touched, open threads. Do not include a verbatim transcript.",
		Messages: []models.Message{{
			Role:    models.RoleUser,
			Content: compaction.FormatMessagesForSummary(messages),
		}},
	}
	ch, err := s.l.provider.Complete(ctx, req)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for chunk := range ch {
		if chunk.Error != nil {
			return "", chunk.Error
		}
		sb.WriteString(chunk.Text)
		if chunk.Done {
			break
		}
	}
	return sb.String(), nil
}

// compactOutcome is what the summarization goroutine hands back to the run
// loop. The goroutine never touches l.conv itself; the run loop applies the
// summary in onCompactDone.
type compactOutcome struct {
	applied bool
	cut     int
	summary models.ConversationSummary
	err     error
}

// startCompaction summarizes the conversation prefix (everything before the
// last SummarizeTailMessages) in a background goroutine, grounded in the
// chunked-summarization compactor's token budgeting. The prefix is copied
// into compaction messages up front so the goroutine holds no reference to
// the live conversation.
func (l *CoreLoop) startCompaction(ctx context.Context) chan compactOutcome {
	out := make(chan compactOutcome, 1)

	tail := l.config.SummarizeTailMessages
	if tail <= 0 || tail >= len(l.conv.Messages) {
		out <- compactOutcome{}
		close(out)
		return out
	}
	cut := len(l.conv.Messages) - tail
	prefix := l.compactionMessages(l.conv.Messages[:cut])
	before := compaction.EstimateMessagesTokens(prefix)
	convID := l.conv.ID

	cfg := compaction.DefaultSummarizationConfig()
	cfg.MaxChunkTokens = int(compaction.BaseChunkRatio * float64(cfg.ContextWindow))

	go func() {
		text, err := compaction.SummarizeInStages(ctx, prefix, providerSummarizer{l: l}, cfg)
		if err != nil {
			out <- compactOutcome{err: err}
			close(out)
			return
		}
		out <- compactOutcome{
			applied: true,
			cut:     cut,
			summary: models.ConversationSummary{
				ConversationID:        convID,
				Text:                  text,
				SummarizedCount:       cut,
				EstimatedTokensBefore: before,
				EstimatedTokensAfter:  compaction.EstimateTokens(&compaction.Message{Content: text}),
				CreatedAt:             time.Now(),
			},
		}
		close(out)
	}()
	return out
}
