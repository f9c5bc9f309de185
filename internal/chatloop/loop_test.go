package chatloop

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/relaycore/chatengine/internal/chathistory"
	"github.com/relaycore/chatengine/internal/chatmodel"
	"github.com/relaycore/chatengine/internal/config"
	"github.com/relaycore/chatengine/internal/contextprep"
	"github.com/relaycore/chatengine/internal/eventstream"
	"github.com/relaycore/chatengine/internal/guard"
	"github.com/relaycore/chatengine/internal/journal"
	"github.com/relaycore/chatengine/internal/metrics"
	"github.com/relaycore/chatengine/internal/provider"
	"github.com/relaycore/chatengine/internal/runsupervisor"
	"github.com/relaycore/chatengine/internal/toolregistry"
	"github.com/relaycore/chatengine/internal/usage"
)

type fakeAdapter struct {
	name      string
	responses [][]provider.StreamEvent
	calls     int
	err       error
}

func (f *fakeAdapter) Name() string              { return f.name }
func (f *fakeAdapter) Dialect() provider.Dialect { return provider.DialectOpenAI }

func (f *fakeAdapter) Stream(ctx context.Context, req provider.CompletionRequest) (<-chan provider.StreamEvent, error) {
	if f.err != nil {
		return nil, f.err
	}
	idx := f.calls
	if idx >= len(f.responses) {
		idx = len(f.responses) - 1
	}
	f.calls++
	events := f.responses[idx]
	ch := make(chan provider.StreamEvent, len(events))
	for _, e := range events {
		ch <- e
	}
	close(ch)
	return ch, nil
}

func newTestLoop(t *testing.T, adapter provider.Adapter, registerEcho bool) (*Loop, chathistory.Store) {
	t.Helper()

	history := chathistory.NewMemoryStore()
	preparer := contextprep.NewPreparer(history, 0)

	j := journal.NewMemoryStore()
	approvalGate := guard.NewApprovalGate(chatmodel.ApprovalModeOff)
	stack := guard.NewStack(approvalGate)
	registry := toolregistry.New(stack, j)

	if registerEcho {
		err := registry.Register(chatmodel.ToolDefinition{
			Name:     "echo",
			Category: chatmodel.CategoryRead,
		}, func(ctx context.Context, argsJSON string) chatmodel.ToolResult {
			return chatmodel.ToolResult{Content: "echoed:" + argsJSON}
		})
		if err != nil {
			t.Fatalf("register tool: %v", err)
		}
	}

	tracker := usage.NewTracker(usage.TrackerConfig{})
	spendGuard := guard.NewSpendGuard(chatmodel.SpendGuardConfig{}, tracker)

	deps := Dependencies{
		Supervisor: runsupervisor.New(),
		Preparer:   preparer,
		Registry:   registry,
		History:    history,
		SpendGuard: spendGuard,
		Tracker:    tracker,
	}

	agent := AgentProfile{
		ID:       "test-agent",
		Identity: "You are a test agent.",
		Primary: ModelTarget{
			ProviderName: "fake",
			Model:        "fake-model",
			Adapter:      adapter,
			Cost:         usage.Cost{},
		},
	}

	runMode := chatmodel.RunModeConfig{Mode: chatmodel.ModeInteractive, MaxIterations: 5}
	loop := New(deps, agent, runMode, chatmodel.EconomyConfig{}, chatmodel.DefaultThinkingConfig())
	return loop, history
}

func decodeEvents(t *testing.T, raw []byte) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, frame := range strings.Split(string(raw), "\n\n") {
		frame = strings.TrimSpace(frame)
		if !strings.HasPrefix(frame, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(frame, "data: ")
		if payload == "[DONE]" {
			continue
		}
		var obj map[string]any
		if err := json.Unmarshal([]byte(payload), &obj); err != nil {
			t.Fatalf("decode event %q: %v", payload, err)
		}
		out = append(out, obj)
	}
	return out
}

func eventTypes(events []map[string]any) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i], _ = e["type"].(string)
	}
	return out
}

func containsType(events []map[string]any, want string) bool {
	for _, e := range events {
		if e["type"] == want {
			return true
		}
	}
	return false
}

func TestRunCompletesWithNoToolCalls(t *testing.T) {
	adapter := &fakeAdapter{
		name: "fake",
		responses: [][]provider.StreamEvent{
			{{ContentDelta: "hello there", Done: true}},
		},
	}
	loop, history := newTestLoop(t, adapter, false)

	var buf bytes.Buffer
	enc := eventstream.NewEncoder(&buf)

	err := loop.Run(context.Background(), Request{SessionID: "s1", Message: "hi"}, enc)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	events := decodeEvents(t, buf.Bytes())
	if !containsType(events, string(eventstream.KindDone)) {
		t.Fatalf("expected a done event, got %v", eventTypes(events))
	}
	if !containsType(events, string(eventstream.KindToken)) {
		t.Fatalf("expected token events, got %v", eventTypes(events))
	}

	msgs, err := history.History(context.Background(), "s1")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected user+assistant messages, got %d", len(msgs))
	}
	if msgs[1].Content != "hello there" {
		t.Fatalf("unexpected assistant content: %q", msgs[1].Content)
	}
}

func TestRunRecordsMetrics(t *testing.T) {
	adapter := &fakeAdapter{
		name: "fake",
		responses: [][]provider.StreamEvent{
			{{ContentDelta: "hi", Done: true, Usage: &provider.UsageDelta{PromptTokens: 10, CompletionTokens: 4}}},
		},
	}
	loop, _ := newTestLoop(t, adapter, false)
	reg := metrics.New()
	loop.deps.Metrics = reg

	var buf bytes.Buffer
	enc := eventstream.NewEncoder(&buf)
	if err := loop.Run(context.Background(), Request{SessionID: "s1", Message: "hi"}, enc); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	count := testutil.CollectAndCount(reg.RunAttempts)
	if count == 0 {
		t.Fatalf("expected run-attempt metrics to be recorded")
	}
	if testutil.CollectAndCount(reg.LLMRequestCounter) == 0 {
		t.Fatalf("expected an LLM request metric to be recorded")
	}
}

func TestRunExecutesToolCallThenCompletes(t *testing.T) {
	adapter := &fakeAdapter{
		name: "fake",
		responses: [][]provider.StreamEvent{
			{{ToolCallDeltas: []provider.ToolCallDelta{{Index: 0, ID: "call_1", Name: "echo", ArgumentsDelta: `{"x":1}`}}, Done: true}},
			{{ContentDelta: "done now", Done: true}},
		},
	}
	loop, history := newTestLoop(t, adapter, true)

	var buf bytes.Buffer
	enc := eventstream.NewEncoder(&buf)

	if err := loop.Run(context.Background(), Request{SessionID: "s2", Message: "use the tool"}, enc); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	events := decodeEvents(t, buf.Bytes())
	if !containsType(events, string(eventstream.KindToolCall)) {
		t.Fatalf("expected tool_call event, got %v", eventTypes(events))
	}
	if !containsType(events, string(eventstream.KindToolResult)) {
		t.Fatalf("expected tool_result event, got %v", eventTypes(events))
	}
	if !containsType(events, string(eventstream.KindDone)) {
		t.Fatalf("expected done event, got %v", eventTypes(events))
	}

	msgs, err := history.History(context.Background(), "s2")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	var sawTool bool
	for _, m := range msgs {
		if m.Role == chatmodel.RoleTool && strings.Contains(m.Content, "echoed:") {
			sawTool = true
		}
	}
	if !sawTool {
		t.Fatalf("expected a tool-role message in history, got %+v", msgs)
	}
}

func TestRunApprovalDenialEmitsApprovalDeniedWarning(t *testing.T) {
	adapter := &fakeAdapter{
		name: "fake",
		responses: [][]provider.StreamEvent{
			{{ToolCallDeltas: []provider.ToolCallDelta{{Index: 0, ID: "call_1", Name: "echo", ArgumentsDelta: `{"x":1}`}}, Done: true}},
			{{ContentDelta: "done now", Done: true}},
		},
	}

	history := chathistory.NewMemoryStore()
	preparer := contextprep.NewPreparer(history, 0)

	j := journal.NewMemoryStore()
	approvalGate := guard.NewApprovalGate(chatmodel.ApprovalModeOff)
	approvalGate.SetAgentPolicy("test-agent", &guard.AgentPolicy{Deny: []string{"echo"}})
	stack := guard.NewStack(approvalGate)
	registry := toolregistry.New(stack, j)
	if err := registry.Register(chatmodel.ToolDefinition{
		Name:     "echo",
		Category: chatmodel.CategoryRead,
	}, func(ctx context.Context, argsJSON string) chatmodel.ToolResult {
		return chatmodel.ToolResult{Content: "echoed:" + argsJSON}
	}); err != nil {
		t.Fatalf("register tool: %v", err)
	}

	tracker := usage.NewTracker(usage.TrackerConfig{})
	spendGuard := guard.NewSpendGuard(chatmodel.SpendGuardConfig{}, tracker)

	deps := Dependencies{
		Supervisor: runsupervisor.New(),
		Preparer:   preparer,
		Registry:   registry,
		History:    history,
		SpendGuard: spendGuard,
		Tracker:    tracker,
	}
	agent := AgentProfile{
		ID:       "test-agent",
		Identity: "You are a test agent.",
		Primary: ModelTarget{
			ProviderName: "fake",
			Model:        "fake-model",
			Adapter:      adapter,
			Cost:         usage.Cost{},
		},
	}
	runMode := chatmodel.RunModeConfig{Mode: chatmodel.ModeInteractive, MaxIterations: 5}
	loop := New(deps, agent, runMode, chatmodel.EconomyConfig{}, chatmodel.DefaultThinkingConfig())

	var buf bytes.Buffer
	enc := eventstream.NewEncoder(&buf)
	if err := loop.Run(context.Background(), Request{SessionID: "s-deny", Message: "use the tool"}, enc); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	events := decodeEvents(t, buf.Bytes())
	var warning map[string]any
	for _, e := range events {
		if e["type"] == string(eventstream.KindWarning) {
			warning = e
		}
	}
	if warning == nil {
		t.Fatalf("expected a warning event for the denied tool call, got %v", eventTypes(events))
	}
	if code, _ := warning["code"].(string); code != "approval_denied" {
		t.Fatalf("expected approval_denied warning code for an approval-gate denial, got %q (full event: %+v)", code, warning)
	}
}

func TestRunDirectiveOnlyMessageSkipsProvider(t *testing.T) {
	adapter := &fakeAdapter{name: "fake"}
	loop, _ := newTestLoop(t, adapter, false)

	var buf bytes.Buffer
	enc := eventstream.NewEncoder(&buf)

	if err := loop.Run(context.Background(), Request{SessionID: "s3", Message: "/status"}, enc); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if adapter.calls != 0 {
		t.Fatalf("expected provider not to be called for a directive-only message, got %d calls", adapter.calls)
	}

	events := decodeEvents(t, buf.Bytes())
	if !containsType(events, string(eventstream.KindDirectiveApplied)) {
		t.Fatalf("expected directive_applied event, got %v", eventTypes(events))
	}
	if !containsType(events, string(eventstream.KindDone)) {
		t.Fatalf("expected done event, got %v", eventTypes(events))
	}
}

func TestRunRejectsWhenDaemonNotNormal(t *testing.T) {
	adapter := &fakeAdapter{name: "fake"}
	loop, _ := newTestLoop(t, adapter, false)
	loop.deps.OperationMode = func() config.OperationMode { return config.ModeMaintenance }

	var buf bytes.Buffer
	enc := eventstream.NewEncoder(&buf)

	err := loop.Run(context.Background(), Request{SessionID: "s5", Message: "hi"}, enc)
	if err != ErrDaemonNotNormal {
		t.Fatalf("expected ErrDaemonNotNormal, got %v", err)
	}
	if adapter.calls != 0 {
		t.Fatalf("expected provider not to be called, got %d calls", adapter.calls)
	}
}

func TestRunStopsOnCancellation(t *testing.T) {
	adapter := &fakeAdapter{
		name: "fake",
		responses: [][]provider.StreamEvent{
			{{ContentDelta: "partial", Done: true}},
		},
	}
	loop, _ := newTestLoop(t, adapter, false)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var buf bytes.Buffer
	enc := eventstream.NewEncoder(&buf)

	if err := loop.Run(ctx, Request{SessionID: "s4", Message: "hi"}, enc); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	events := decodeEvents(t, buf.Bytes())
	if !containsType(events, string(eventstream.KindAborted)) {
		t.Fatalf("expected aborted event, got %v", eventTypes(events))
	}
}
