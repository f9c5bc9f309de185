package httpapi

import (
	"context"
	"testing"

	"github.com/relaycore/chatengine/internal/chathistory"
	"github.com/relaycore/chatengine/internal/chatloop"
	"github.com/relaycore/chatengine/internal/chatmodel"
	"github.com/relaycore/chatengine/internal/contextprep"
	"github.com/relaycore/chatengine/internal/guard"
	"github.com/relaycore/chatengine/internal/journal"
	"github.com/relaycore/chatengine/internal/provider"
	"github.com/relaycore/chatengine/internal/runsupervisor"
	"github.com/relaycore/chatengine/internal/toolregistry"
	"github.com/relaycore/chatengine/internal/undo"
	"github.com/relaycore/chatengine/internal/usage"
)

// fakeAdapter mirrors chatloop's own test double: a scripted sequence of
// stream events per call, used here because httpapi's tests exercise the
// real Loop.Run rather than a mock.
type fakeAdapter struct {
	name      string
	responses [][]provider.StreamEvent
	calls     int
}

func (f *fakeAdapter) Name() string              { return f.name }
func (f *fakeAdapter) Dialect() provider.Dialect { return provider.DialectOpenAI }

func (f *fakeAdapter) Stream(ctx context.Context, req provider.CompletionRequest) (<-chan provider.StreamEvent, error) {
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

// testHarness bundles a Server with every dependency it was built from, so
// tests can reach past the HTTP layer (e.g. to flip the spend guard) the
// way an operator driving run-config would.
type testHarness struct {
	server       *Server
	supervisor   *runsupervisor.Supervisor
	approval     *guard.ApprovalGate
	spendGuard   *guard.SpendGuard
	undoSvc      *undo.Service
	undoRegistry *undo.Registry
	journal      journal.Journal
	loop         *chatloop.Loop
	adapter      *fakeAdapter
}

func newHarness(t *testing.T, adapter *fakeAdapter) *testHarness {
	t.Helper()

	history := chathistory.NewMemoryStore()
	preparer := contextprep.NewPreparer(history, 0)

	j := journal.NewMemoryStore()
	approval := guard.NewApprovalGate(chatmodel.ApprovalModeOff)
	stack := guard.NewStack(approval)
	registry := toolregistry.New(stack, j)

	err := registry.Register(chatmodel.ToolDefinition{Name: "echo", Category: chatmodel.CategoryRead},
		func(ctx context.Context, argsJSON string) chatmodel.ToolResult {
			return chatmodel.ToolResult{Content: "echoed:" + argsJSON}
		})
	if err != nil {
		t.Fatalf("register tool: %v", err)
	}

	tracker := usage.NewTracker(usage.TrackerConfig{})
	spendGuard := guard.NewSpendGuard(chatmodel.SpendGuardConfig{}, tracker)
	supervisor := runsupervisor.New()

	deps := chatloop.Dependencies{
		Supervisor: supervisor,
		Preparer:   preparer,
		Registry:   registry,
		History:    history,
		SpendGuard: spendGuard,
		Tracker:    tracker,
	}
	agent := chatloop.AgentProfile{
		ID:       "test-agent",
		Identity: "test agent",
		Primary: chatloop.ModelTarget{
			ProviderName: "fake",
			Model:        "fake-model",
			Adapter:      adapter,
		},
	}
	runMode := chatmodel.RunModeConfig{Mode: chatmodel.ModeInteractive, MaxIterations: 5}
	loop := chatloop.New(deps, agent, runMode, chatmodel.EconomyConfig{}, chatmodel.DefaultThinkingConfig())

	undoReg := undo.NewRegistry()
	undoSvc := undo.New(j, undoReg)

	srv := New(Config{
		Loops:        map[string]*chatloop.Loop{"test-agent": loop},
		DefaultAgent: "test-agent",
		Supervisor:   supervisor,
		Approval:     approval,
		SpendGuard:   spendGuard,
		Undo:         undoSvc,
		Journal:      j,
	})

	return &testHarness{
		server: srv, supervisor: supervisor, approval: approval,
		spendGuard: spendGuard, undoSvc: undoSvc, undoRegistry: undoReg,
		journal: j, loop: loop, adapter: adapter,
	}
}
