package chatloop

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/relaycore/chatengine/internal/chatmodel"
	"github.com/relaycore/chatengine/internal/contextprep"
	"github.com/relaycore/chatengine/internal/eventstream"
	"github.com/relaycore/chatengine/internal/guard"
	"github.com/relaycore/chatengine/internal/provider"
	"github.com/relaycore/chatengine/internal/usage"
)

// ErrDaemonNotNormal is returned when the pre-flight operation-mode check
// rejects a new run (§4.G pre-flight, §6's HTTP 423).
var ErrDaemonNotNormal = errors.New("chatloop: daemon is not in normal operation mode")

// processToolName and pollAction identify the one call shape the polling
// exception (§4.G step 9) names explicitly: a "process" tool invocation
// whose action is "poll". Matched with a cheap substring check on the raw
// args, the same tolerant style isProcessReadOnly in internal/guard uses
// rather than a full JSON parse.
const (
	processToolName = "process"
	pollAction      = `"poll"`
)

// Run drives one complete chat run to completion: pre-flight checks, the
// iteration loop, and exactly one terminal event written to enc. The
// returned error is non-nil only for pre-flight rejections that occur
// before any event is written (so the caller can map it to an HTTP status);
// every failure that occurs after the run starts is instead reported as a
// terminal `error` event and Run returns nil.
func (l *Loop) Run(ctx context.Context, req Request, enc *eventstream.Encoder) error {
	if mode := l.deps.OperationMode; mode != nil && mode() != "normal" {
		return ErrDaemonNotNormal
	}
	if err := l.deps.SpendGuard.PrecheckRun(); err != nil {
		return err
	}

	run, runCtx := l.deps.Supervisor.Start(ctx, req.SessionID, guard.EffectiveMaxIterations(l.runMode, l.economy))
	defer l.deps.Supervisor.End(run.RunID)

	var runStarted time.Time
	if m := l.deps.Metrics; m != nil {
		m.RecordRunAttempt("started")
		m.SetActiveRuns(len(l.deps.Supervisor.Active()))
		runStarted = l.deps.Clock()
		defer func() { m.SetActiveRuns(len(l.deps.Supervisor.Active())) }()
	}

	_ = enc.Write(eventstream.New(eventstream.KindRunStart, map[string]string{"runId": run.RunID, "sessionId": req.SessionID}))
	_ = enc.Write(eventstream.New(eventstream.KindSessionInfo, map[string]string{"sessionId": req.SessionID, "agentId": l.agent.ID}))

	text, directives := ParseDirectives(req.Message)
	for _, d := range directives {
		l.applyDirective(d)
		_ = enc.Write(eventstream.New(eventstream.KindDirectiveApplied, map[string]string{"name": string(d.Name), "arg": d.Arg}))
	}

	if strings.TrimSpace(text) == "" && len(directives) > 0 {
		_ = enc.Write(eventstream.New(eventstream.KindDone, eventstream.DonePayload{}))
		return nil
	}

	if suggestions, err := l.deps.Skills.Discover(runCtx, text); err == nil && len(suggestions) > 0 {
		_ = enc.Write(eventstream.New(eventstream.KindWarning, eventstream.WarningPayload{
			Code:    "skills_suggested",
			Message: strings.Join(suggestions, ", "),
		}))
	}

	if err := l.deps.History.Append(runCtx, req.SessionID, chatmodel.Message{Role: chatmodel.RoleUser, Content: text}); err != nil {
		_ = enc.Write(eventstream.New(eventstream.KindError, eventstream.ErrorPayload{Message: err.Error(), Code: "history_write_failed"}))
		return nil
	}

	st := &loopRun{
		req:     req,
		run:     run,
		enc:     enc,
		tally:   &chatmodel.UsageTally{},
		maxIter: run.MaxIterations,
	}

	l.execute(runCtx, st)

	if m := l.deps.Metrics; m != nil {
		m.RecordRun(l.agent.ID, l.deps.Clock().Sub(runStarted).Seconds(), st.iterationsDone)
		m.RecordRunAttempt(st.outcome)
	}
	return nil
}

func (l *Loop) applyDirective(d Directive) {
	switch d.Name {
	case DirectiveThink:
		if level, ok := parseThinkingLevel(d.Arg); ok {
			l.thinking.Level = level
		}
	case DirectiveModel:
		// Session-scoped model override is out of this build's scope
		// (no session config store); request-scoped override via
		// Request.Model already takes precedence in resolveTargets.
	case DirectiveReset, DirectiveStatus, DirectiveHelp:
		// No state changes for these: the loop only reports that the
		// directive was seen via KindDirectiveApplied.
	}
}

func parseThinkingLevel(arg string) (chatmodel.ThinkingLevel, bool) {
	switch strings.ToLower(strings.TrimSpace(arg)) {
	case "off":
		return chatmodel.ThinkingOff, true
	case "low":
		return chatmodel.ThinkingLow, true
	case "medium":
		return chatmodel.ThinkingMedium, true
	case "high":
		return chatmodel.ThinkingHigh, true
	default:
		return "", false
	}
}

// loopRun carries the mutable state threaded through one run's iterations.
type loopRun struct {
	req     Request
	run     *chatmodel.RunState
	enc     *eventstream.Encoder
	tally   *chatmodel.UsageTally
	maxIter int

	// iterationsDone and outcome are filled in by execute for the benefit
	// of the metrics recording in Run, which runs after execute returns.
	iterationsDone int
	outcome        string
}

func (l *Loop) execute(ctx context.Context, st *loopRun) {
	if drifted, stabilizer, err := l.deps.Drift.Check(ctx, nil); err == nil && drifted {
		_ = st.enc.Write(eventstream.New(eventstream.KindAlignment, map[string]string{"stabilizer": stabilizer}))
	}

	var chargedTally chatmodel.UsageTally
	iteration := 0
	for iteration < st.maxIter {
		select {
		case <-ctx.Done():
			st.iterationsDone, st.outcome = iteration, "aborted"
			_ = st.enc.Write(eventstream.New(eventstream.KindAborted, eventstream.AbortedPayload{Reason: ctx.Err().Error()}))
			return
		default:
		}

		_ = st.enc.Write(eventstream.New(eventstream.KindProgress, eventstream.ProgressPayload{Iteration: iteration, Max: st.maxIter}))

		prepared, err := l.deps.Preparer.Prepare(ctx, st.req.SessionID, l.systemPrompt())
		if err != nil {
			st.iterationsDone, st.outcome = iteration, "error"
			l.emitError(st, err, "context_prepare_failed")
			return
		}
		if prepared.Compaction != nil {
			_ = st.enc.Write(eventstream.New(eventstream.KindCompaction, eventstream.CompactionPayload{
				MessageCountBefore: prepared.Compaction.MessageCountBefore,
				MessageCountAfter:  prepared.Compaction.MessageCountAfter,
				Dropped:            prepared.Compaction.DroppedCount,
				Metadata:           prepared.Compaction.Metadata,
			}))
		}

		targets := l.resolveTargets(st.req)
		streamResult, err := l.callWithFallback(ctx, st, targets, prepared.Messages)
		if err != nil {
			st.iterationsDone, st.outcome = iteration, "error"
			l.emitError(st, err, "provider_failed")
			return
		}

		toolCalls := streamResult.toolCalls
		assistantMsg := chatmodel.Message{Role: chatmodel.RoleAssistant, Content: streamResult.text, ToolCalls: toolCalls}
		if err := l.deps.History.Append(ctx, st.req.SessionID, assistantMsg); err != nil {
			st.iterationsDone, st.outcome = iteration, "error"
			l.emitError(st, err, "history_write_failed")
			return
		}

		// st.tally is cumulative across iterations; charge only the part not
		// yet recorded for this run.
		delta := chatmodel.UsageTally{
			PromptTokens:     st.tally.PromptTokens - chargedTally.PromptTokens,
			CompletionTokens: st.tally.CompletionTokens - chargedTally.CompletionTokens,
			TotalTokens:      st.tally.TotalTokens - chargedTally.TotalTokens,
		}
		chargedTally = *st.tally
		charged := usage.Record{
			RunID:    st.run.RunID,
			Provider: streamResult.target.ProviderName,
			Model:    streamResult.target.Model,
			Tally:    delta,
			CostUSD:  streamResult.target.Cost.Estimate(delta),
		}
		l.deps.Tracker.Record(charged)
		st.run.SpendCharged += charged.CostUSD

		if l.deps.SpendGuard.ShouldHalt() && len(toolCalls) > 0 {
			st.iterationsDone, st.outcome = iteration, "done"
			note := "\n\n[run stopped: daily spend limit reached]"
			final := chatmodel.Message{Role: chatmodel.RoleAssistant, Content: streamResult.text + note}
			_ = l.deps.History.Append(ctx, st.req.SessionID, final)
			_ = st.enc.Write(eventstream.New(eventstream.KindDone, eventstream.DonePayload{Spend: l.deps.SpendGuard.Snapshot()}))
			return
		}

		if len(toolCalls) == 0 {
			st.iterationsDone, st.outcome = iteration, "done"
			_ = st.enc.Write(eventstream.New(eventstream.KindDone, eventstream.DonePayload{}))
			return
		}

		pollOnly := allPollCalls(toolCalls)
		cancelled := l.runToolCalls(ctx, st, iteration, toolCalls)
		if cancelled {
			if ctx.Err() == nil {
				// A tool execution failure already wrote the terminal error event.
				st.iterationsDone, st.outcome = iteration, "error"
				return
			}
			continue
		}

		if pollOnly {
			continue
		}
		iteration++
	}

	st.iterationsDone, st.outcome = iteration, "done"
	_ = st.enc.Write(eventstream.New(eventstream.KindWarning, eventstream.WarningPayload{
		Code:    "iteration_cap_reached",
		Message: fmt.Sprintf("mode=%s maxIterations=%d", l.runMode.Mode, st.maxIter),
	}))
	_ = st.enc.Write(eventstream.New(eventstream.KindDone, eventstream.DonePayload{}))
}

func allPollCalls(calls []chatmodel.ToolCall) bool {
	if len(calls) == 0 {
		return false
	}
	for _, c := range calls {
		if c.Name != processToolName || !strings.Contains(c.ArgsJSON, pollAction) {
			return false
		}
	}
	return true
}

// runToolCalls executes each tool call in order, journaling and emitting
// events through the Tool Registry. It returns true if the iteration was cut
// short: by cancellation, or by a tool execution failure, in which case the
// terminal error event has already been written.
func (l *Loop) runToolCalls(ctx context.Context, st *loopRun, iteration int, calls []chatmodel.ToolCall) bool {
	resultLimit := guard.EffectiveToolResultLimit(l.economy)

	for _, call := range calls {
		select {
		case <-ctx.Done():
			return true
		default:
		}

		_ = st.enc.Write(eventstream.New(eventstream.KindToolCall, eventstream.ToolCallPayload{
			Name: call.Name, Args: call.ArgsJSON, Iteration: iteration, Max: st.maxIter,
		}))

		toolStarted := l.deps.Clock()
		outcome, err := l.deps.Registry.Execute(ctx, st.run.RunID, l.agent.ID, call, l.runMode)
		if m := l.deps.Metrics; m != nil {
			status := "success"
			if err != nil || outcome.Result.IsError {
				status = "error"
			}
			m.RecordToolExecution(call.Name, status, l.deps.Clock().Sub(toolStarted).Seconds())
			m.RecordApprovalDecision(string(outcome.Approval))
			if outcome.Denied {
				reason := "approval_denied"
				if outcome.Result.BlockedByUndoGuarantee {
					reason = "undo_guarantee"
				}
				m.RecordToolDenied(reason)
			}
		}
		if err != nil {
			if ctx.Err() != nil {
				return true
			}
			l.emitError(st, err, "tool_execute_failed")
			return true
		}

		content := outcome.Result.Content
		if resultLimit > 0 && len(content) > resultLimit {
			content = content[:resultLimit]
		}

		if outcome.Denied {
			code := "approval_denied"
			if outcome.Result.BlockedByUndoGuarantee {
				code = "undo_guarantee_blocked"
			}
			_ = st.enc.Write(eventstream.New(eventstream.KindWarning, eventstream.WarningPayload{
				Code:    code,
				Message: content,
			}))
		}

		toolMsg := chatmodel.Message{Role: chatmodel.RoleTool, Content: content, ToolCallID: call.ID}
		_ = l.deps.History.Append(ctx, st.req.SessionID, toolMsg)

		_ = st.enc.Write(eventstream.New(eventstream.KindToolResult, eventstream.ToolResultPayload{
			Name: call.Name, Result: content, IsError: outcome.Result.IsError,
		}))
	}
	return false
}

func (l *Loop) emitError(st *loopRun, err error, code string) {
	_ = st.enc.Write(eventstream.New(eventstream.KindError, eventstream.ErrorPayload{Message: err.Error(), Code: code}))
}

func (l *Loop) systemPrompt() string {
	return contextprep.BuildSystemPrompt(contextprep.SystemPromptInputs{
		AgentIdentity: l.agent.Identity,
		Tools:         l.deps.Registry.Definitions(l.agent.ToolPolicy),
		Runtime:       contextprep.RuntimeFacts{Provider: l.agent.Primary.ProviderName, Model: l.agent.Primary.Model, OS: runtime.GOOS, Architecture: runtime.GOARCH},
		EconomyMode:   l.economy.Enabled,
		UndoGuarantee: !l.runMode.AllowIrreversibleActions,
	})
}

// resolveTargets builds the fallback chain: request override first (if it
// equals the Model of one of the agent's targets; otherwise it is ignored),
// then the agent's configured primary and fallbacks (§4.G step 4).
func (l *Loop) resolveTargets(req Request) []ModelTarget {
	targets := append([]ModelTarget{l.agent.Primary}, l.agent.Fallbacks...)
	if req.Model == "" {
		return targets
	}
	for i, t := range targets {
		if t.Model == req.Model {
			// Move the requested model to the front without disturbing
			// the rest of the fallback order.
			reordered := make([]ModelTarget, 0, len(targets))
			reordered = append(reordered, targets[i])
			reordered = append(reordered, targets[:i]...)
			reordered = append(reordered, targets[i+1:]...)
			return reordered
		}
	}
	return targets
}

type streamResult struct {
	text      string
	toolCalls []chatmodel.ToolCall
	target    ModelTarget
}

// callWithFallback tries each candidate target in order, emitting a
// `fallback` event and advancing past retryable failures (§4.G step 5).
func (l *Loop) callWithFallback(ctx context.Context, st *loopRun, targets []ModelTarget, messages []chatmodel.Message) (streamResult, error) {
	var lastErr error
	for _, target := range targets {
		req := provider.CompletionRequest{
			Model:           target.Model,
			Messages:        messages,
			Tools:           l.deps.Registry.Definitions(l.agent.ToolPolicy),
			ReasoningEffort: l.thinking.Level,
			IncludeUsage:    true,
		}
		promptTokensBefore, completionTokensBefore := st.tally.PromptTokens, st.tally.CompletionTokens
		callStarted := l.deps.Clock()
		result, err := l.consumeStream(ctx, st, target, req)
		if m := l.deps.Metrics; m != nil {
			status := "success"
			if err != nil {
				status = "error"
			}
			m.RecordLLMRequest(target.ProviderName, target.Model, status, l.deps.Clock().Sub(callStarted).Seconds(),
				int(st.tally.PromptTokens-promptTokensBefore), int(st.tally.CompletionTokens-completionTokensBefore))
		}
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !provider.IsRetryable(err) {
			return streamResult{}, err
		}
		_ = st.enc.Write(eventstream.New(eventstream.KindFallback, eventstream.FallbackPayload{
			FailedModel: target.Model, Error: err.Error(),
		}))
	}
	return streamResult{}, lastErr
}

// consumeStream drains one provider call's canonical stream, splitting
// tag-reasoning content and accumulating tool call deltas and usage
// (§4.G step 6).
func (l *Loop) consumeStream(ctx context.Context, st *loopRun, target ModelTarget, req provider.CompletionRequest) (streamResult, error) {
	ch, err := target.Adapter.Stream(ctx, req)
	if err != nil {
		return streamResult{}, err
	}

	var splitter thinkSplitter
	var fullText strings.Builder
	toolBuilders := map[int]*toolCallBuilder{}
	var toolOrder []int

	visibility := l.thinking.Visibility

	for ev := range ch {
		if ev.Err != nil {
			return streamResult{}, ev.Err
		}

		if ev.ContentDelta != "" {
			split := splitter.Feed(ev.ContentDelta)
			if split.Text != "" {
				fullText.WriteString(split.Text)
				_ = st.enc.Write(eventstream.New(eventstream.KindToken, eventstream.TokenPayload{Text: split.Text}))
			}
			if split.Thinking != "" && visibility == chatmodel.VisibilityStream {
				_ = st.enc.Write(eventstream.New(eventstream.KindThinking, eventstream.ThinkingPayload{Text: split.Thinking, Streaming: true}))
			}
		}

		for _, delta := range ev.ToolCallDeltas {
			b, ok := toolBuilders[delta.Index]
			if !ok {
				b = &toolCallBuilder{}
				toolBuilders[delta.Index] = b
				toolOrder = append(toolOrder, delta.Index)
			}
			if delta.ID != "" {
				b.id = delta.ID
			}
			if delta.Name != "" {
				b.name = delta.Name
			}
			b.args.WriteString(delta.ArgumentsDelta)
		}

		if ev.Usage != nil {
			st.tally.Add(ev.Usage.PromptTokens, ev.Usage.CompletionTokens)
			_ = st.enc.Write(eventstream.New(eventstream.KindUsage, eventstream.UsagePayload{
				PromptTokens: st.tally.PromptTokens, CompletionTokens: st.tally.CompletionTokens, TotalTokens: st.tally.TotalTokens,
			}))
		}

		if ev.Done {
			break
		}
	}

	final := splitter.Flush()
	if final.Text != "" {
		fullText.WriteString(final.Text)
		_ = st.enc.Write(eventstream.New(eventstream.KindToken, eventstream.TokenPayload{Text: final.Text}))
	}
	if final.Thinking != "" && visibility != chatmodel.VisibilityOff {
		_ = st.enc.Write(eventstream.New(eventstream.KindThinking, eventstream.ThinkingPayload{Text: final.Thinking, Streaming: false}))
	}

	toolCalls := make([]chatmodel.ToolCall, 0, len(toolOrder))
	for _, idx := range toolOrder {
		b := toolBuilders[idx]
		toolCalls = append(toolCalls, chatmodel.ToolCall{ID: b.id, Name: b.name, ArgsJSON: b.args.String()})
	}

	return streamResult{text: fullText.String(), toolCalls: toolCalls, target: target}, nil
}

type toolCallBuilder struct {
	id   string
	name string
	args strings.Builder
}
