package agent

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/haasonsaas/nexus/internal/observability"
)

// Observer bundles the optional metrics, tracing, and event-timeline sinks
// a CoreLoop reports into. Any field may be nil; a zero Observer disables
// all reporting.
type Observer struct {
	Metrics  *observability.Metrics
	Tracer   *observability.Tracer
	Recorder *observability.EventRecorder
}

// SetObserver attaches observability sinks. Like SetDispatcher, this must
// be called before Start.
func (l *CoreLoop) SetObserver(obs Observer) {
	l.obs = obs
}

// observeTurnStart opens the turn span and timeline entry. The returned
// context carries the span and correlation IDs and becomes the turn
// context, so model-request and tool spans nest under the turn.
func (l *CoreLoop) observeTurnStart(ctx context.Context, turnID string) context.Context {
	l.turnID = turnID
	l.turnStart = time.Now()

	ctx = observability.AddSessionID(ctx, l.conv.ID)
	ctx = observability.AddRunID(ctx, turnID)
	ctx = observability.AddTurnID(ctx, turnID)

	if l.obs.Metrics != nil {
		l.obs.Metrics.TurnStarted()
	}
	if l.obs.Tracer != nil {
		ctx, l.turnSpan = l.obs.Tracer.TraceTurn(ctx, l.conv.ID, turnID)
	}
	if l.obs.Recorder != nil {
		_ = l.obs.Recorder.RecordRunStart(ctx, turnID, nil)
	}
	return ctx
}

// observeTurnEnd closes the turn span with the given outcome: "completed",
// "cancelled", or "errored".
func (l *CoreLoop) observeTurnEnd(outcome string) {
	if l.turnID == "" {
		return
	}
	elapsed := time.Since(l.turnStart)

	if l.obs.Metrics != nil {
		l.obs.Metrics.TurnEnded(outcome, elapsed.Seconds())
	}
	if l.turnSpan != nil {
		l.turnSpan.End()
		l.turnSpan = nil
	}
	if l.obs.Recorder != nil && l.turnCtx != nil {
		var err error
		if outcome == "errored" {
			err = l.lastErr
		}
		_ = l.obs.Recorder.RecordRunEnd(l.turnCtx, elapsed, err)
	}
	l.turnID = ""
}

// observeLLMStart opens a model-request span nested under the turn.
func (l *CoreLoop) observeLLMStart(ctx context.Context) context.Context {
	l.llmStart = time.Now()
	if l.obs.Tracer != nil {
		ctx, l.llmSpan = l.obs.Tracer.TraceLLMRequest(ctx, l.provider.Name(), l.config.DefaultModel)
	}
	return ctx
}

// observeLLMEnd records one finished model request. tokens are only known
// on success.
func (l *CoreLoop) observeLLMEnd(err error, inputTokens, outputTokens int) {
	elapsed := time.Since(l.llmStart)
	status := "success"
	if err != nil {
		status = "error"
	}

	if l.obs.Metrics != nil {
		l.obs.Metrics.RecordLLMRequest(l.provider.Name(), l.config.DefaultModel, status, elapsed.Seconds(), inputTokens, outputTokens)
		if err != nil {
			l.obs.Metrics.RecordError("provider", "request_failed")
		} else if inputTokens > 0 {
			l.obs.Metrics.RecordContextWindow(l.provider.Name(), l.config.DefaultModel, inputTokens)
		}
	}
	if l.llmSpan != nil {
		if err != nil && l.obs.Tracer != nil {
			l.obs.Tracer.RecordError(l.llmSpan, err)
		}
		l.llmSpan.End()
		l.llmSpan = nil
	}
	if err == nil && observability.IsDiagnosticsEnabled() {
		observability.EmitModelUsage(&observability.ModelUsageEvent{
			SessionID:  l.conv.ID,
			TurnID:     l.turnID,
			Provider:   l.provider.Name(),
			Model:      l.config.DefaultModel,
			DurationMs: elapsed.Milliseconds(),
			Usage: observability.UsageDetails{
				Input:  int64(inputTokens),
				Output: int64(outputTokens),
				Total:  int64(inputTokens + outputTokens),
			},
		})
	}
}

// observeToolStart opens a tool span; the returned end function records the
// outcome. Safe to call from the tool's executor goroutine: metrics and
// span operations are concurrency-safe, and the values it closes over are
// fixed at call time.
func (l *CoreLoop) observeToolStart(ctx context.Context, toolUseID, toolName string) func(resultErr error) {
	start := time.Now()
	ctx = observability.AddToolCallID(ctx, toolUseID)

	var span trace.Span
	if l.obs.Tracer != nil {
		_, span = l.obs.Tracer.TraceToolExecution(ctx, toolName)
	}
	if l.obs.Recorder != nil {
		_ = l.obs.Recorder.RecordToolStart(ctx, toolName, nil)
	}

	return func(resultErr error) {
		elapsed := time.Since(start)
		status := "success"
		if resultErr != nil {
			status = "error"
		}
		if l.obs.Metrics != nil {
			l.obs.Metrics.RecordToolExecution(toolName, status, elapsed.Seconds())
			if resultErr != nil {
				l.obs.Metrics.RecordError("tool", "execution_failed")
			}
		}
		if span != nil {
			if resultErr != nil && l.obs.Tracer != nil {
				l.obs.Tracer.RecordError(span, resultErr)
			}
			span.End()
		}
		if l.obs.Recorder != nil {
			_ = l.obs.Recorder.RecordToolEnd(ctx, toolName, elapsed, nil, resultErr)
		}
		if observability.IsDiagnosticsEnabled() {
			errText := ""
			if resultErr != nil {
				errText = resultErr.Error()
			}
			observability.EmitToolUse(&observability.ToolUseEvent{
				SessionID:  l.conv.ID,
				TurnID:     l.turnID,
				ToolUseID:  toolUseID,
				ToolName:   toolName,
				Outcome:    status,
				DurationMs: elapsed.Milliseconds(),
				Error:      errText,
			})
		}
	}
}

// observeApproval records one approval-ladder decision.
func (l *CoreLoop) observeApproval(decision string) {
	if l.obs.Metrics != nil {
		l.obs.Metrics.RecordApproval(decision)
	}
}

// observeStateChange emits a loop state transition diagnostic.
func (l *CoreLoop) observeStateChange(prev, next CoreState) {
	if prev == next || !observability.IsDiagnosticsEnabled() {
		return
	}
	observability.EmitLoopState(&observability.LoopStateEvent{
		SessionID: l.conv.ID,
		TurnID:    l.turnID,
		PrevState: string(prev),
		State:     string(next),
	})
}

// observeCompaction records a compaction pass outcome.
func (l *CoreLoop) observeCompaction(err error) {
	if l.obs.Metrics == nil {
		return
	}
	if err != nil {
		l.obs.Metrics.RecordCompaction("error")
		return
	}
	l.obs.Metrics.RecordCompaction("success")
}
