package guard

import (
	"context"
	"testing"
	"time"

	"github.com/relaycore/chatengine/internal/chatmodel"
)

func TestUndoGuaranteeDeniesUnreversedMutate(t *testing.T) {
	g := NewUndoGuaranteeGate()
	call := Call{
		Tool: chatmodel.ToolDefinition{Name: "write_file", Category: chatmodel.CategoryMutate, IsUndoable: false},
	}
	decision, err := g.Check(context.Background(), call)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if decision.Allowed || !decision.BlockedByUndoGuarantee {
		t.Fatalf("expected denial blocked by undo guarantee, got %+v", decision)
	}
}

func TestUndoGuaranteeAllowsWithReverseHandler(t *testing.T) {
	g := NewUndoGuaranteeGate()
	call := Call{
		Tool: chatmodel.ToolDefinition{Name: "write_file", Category: chatmodel.CategoryMutate, IsUndoable: true},
	}
	decision, _ := g.Check(context.Background(), call)
	if !decision.Allowed {
		t.Fatalf("expected allow, got %+v", decision)
	}
}

func TestUndoGuaranteeAllowsWithOverride(t *testing.T) {
	g := NewUndoGuaranteeGate()
	call := Call{
		RunMode: chatmodel.RunModeConfig{AllowIrreversibleActions: true},
		Tool:    chatmodel.ToolDefinition{Name: "write_file", Category: chatmodel.CategoryMutate},
	}
	decision, _ := g.Check(context.Background(), call)
	if !decision.Allowed {
		t.Fatalf("expected allow when allowIrreversibleActions=true, got %+v", decision)
	}
}

func TestUndoGuaranteeExecRequiresStaticReversal(t *testing.T) {
	g := NewUndoGuaranteeGate()
	withReversal := Call{
		Tool: chatmodel.ToolDefinition{
			Name: "exec",
			ReverseHint: func(argsJSON string) (string, bool) {
				return "rmdir X", true
			},
		},
	}
	decision, _ := g.Check(context.Background(), withReversal)
	if !decision.Allowed {
		t.Fatalf("expected exec with known reversal to be allowed, got %+v", decision)
	}

	withoutReversal := Call{
		Tool: chatmodel.ToolDefinition{
			Name: "exec",
			ReverseHint: func(argsJSON string) (string, bool) {
				return "", false
			},
		},
	}
	decision, _ = g.Check(context.Background(), withoutReversal)
	if decision.Allowed {
		t.Fatalf("expected exec with no known reversal to be denied")
	}
}

func TestUndoGuaranteeProcessPollAllowed(t *testing.T) {
	g := NewUndoGuaranteeGate()
	call := Call{
		Tool:     chatmodel.ToolDefinition{Name: "process"},
		ToolCall: chatmodel.ToolCall{ArgsJSON: `{"op":"poll","id":"1"}`},
	}
	decision, _ := g.Check(context.Background(), call)
	if !decision.Allowed {
		t.Fatalf("expected process.poll to be allowed, got %+v", decision)
	}
}

func TestUndoGuaranteeMutatingNameHeuristic(t *testing.T) {
	g := NewUndoGuaranteeGate()
	call := Call{
		Tool: chatmodel.ToolDefinition{Name: "delete_workspace"},
	}
	decision, _ := g.Check(context.Background(), call)
	if decision.Allowed {
		t.Fatalf("expected uncategorized mutating-sounding tool to be denied")
	}
}

func TestApprovalGateOffAlwaysAllows(t *testing.T) {
	gate := NewApprovalGate(chatmodel.ApprovalModeOff)
	decision, err := gate.Check(context.Background(), Call{Tool: chatmodel.ToolDefinition{Category: chatmodel.CategoryMutate}})
	if err != nil || !decision.Allowed {
		t.Fatalf("expected allow in off mode, got %+v (err=%v)", decision, err)
	}
}

func TestApprovalGateAlwaysModeBlocksUntilResolved(t *testing.T) {
	gate := NewApprovalGate(chatmodel.ApprovalModeAlways)

	var seen *PendingRequest
	gate.SetOnPending(func(req *PendingRequest) { seen = req })

	resultCh := make(chan Decision, 1)
	errCh := make(chan error, 1)
	go func() {
		decision, err := gate.Check(context.Background(), Call{Tool: chatmodel.ToolDefinition{Name: "read_file"}})
		resultCh <- decision
		errCh <- err
	}()

	deadline := time.After(time.Second)
	for seen == nil {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for onPending callback")
		default:
		}
	}

	if err := gate.Resolve(seen.ID, true, false); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	select {
	case decision := <-resultCh:
		if !decision.Allowed {
			t.Fatalf("expected approval to allow after Resolve, got %+v", decision)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for Check to return")
	}
}

func TestApprovalGateDenied(t *testing.T) {
	gate := NewApprovalGate(chatmodel.ApprovalModeAlways)
	var id string
	gate.SetOnPending(func(req *PendingRequest) { id = req.ID })

	resultCh := make(chan Decision, 1)
	go func() {
		decision, _ := gate.Check(context.Background(), Call{Tool: chatmodel.ToolDefinition{Name: "exec"}})
		resultCh <- decision
	}()

	for id == "" {
	}
	if err := gate.Resolve(id, false, false); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	decision := <-resultCh
	if decision.Allowed {
		t.Fatalf("expected denial, got %+v", decision)
	}
}

func TestApprovalGateAllowAlwaysSkipsFutureApprovals(t *testing.T) {
	gate := NewApprovalGate(chatmodel.ApprovalModeAlways)
	var id string
	gate.SetOnPending(func(req *PendingRequest) { id = req.ID })

	resultCh := make(chan Decision, 1)
	go func() {
		decision, _ := gate.Check(context.Background(), Call{Tool: chatmodel.ToolDefinition{Name: "send_email"}})
		resultCh <- decision
	}()
	for id == "" {
	}
	_ = gate.Resolve(id, true, true)
	<-resultCh

	decision, err := gate.Check(context.Background(), Call{Tool: chatmodel.ToolDefinition{Name: "send_email"}})
	if err != nil || !decision.Allowed {
		t.Fatalf("expected subsequent call to auto-allow after allowAlways, got %+v (err=%v)", decision, err)
	}
}

func TestApprovalGateLockForcesOff(t *testing.T) {
	gate := NewApprovalGate(chatmodel.ApprovalModeAlways)
	gate.Lock()
	if err := gate.SetMode(chatmodel.ApprovalModeAlways); err == nil {
		t.Fatalf("expected SetMode to fail while locked")
	}
	mode, locked := gate.Mode()
	if mode != chatmodel.ApprovalModeOff || !locked {
		t.Fatalf("expected mode=off locked=true, got mode=%v locked=%v", mode, locked)
	}
}

func TestEffectiveMaxIterations(t *testing.T) {
	runMode := chatmodel.RunModeConfig{MaxIterations: 10}
	if got := EffectiveMaxIterations(runMode, chatmodel.EconomyConfig{Enabled: false}); got != 10 {
		t.Fatalf("expected 10 when economy disabled, got %d", got)
	}
	economy := chatmodel.EconomyConfig{Enabled: true, MaxIterationsCap: 4}
	if got := EffectiveMaxIterations(runMode, economy); got != 4 {
		t.Fatalf("expected economy cap of 4 to win, got %d", got)
	}
}
