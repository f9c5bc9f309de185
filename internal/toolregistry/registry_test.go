package toolregistry

import (
	"context"
	"testing"

	"github.com/relaycore/chatengine/internal/chatmodel"
	"github.com/relaycore/chatengine/internal/guard"
	"github.com/relaycore/chatengine/internal/journal"
)

func newTestRegistry() (*Registry, journal.Journal) {
	j := journal.NewMemoryStore()
	gates := guard.NewStack(guard.NewApprovalGate(chatmodel.ApprovalModeOff))
	return New(gates, j), j
}

func TestExecuteHappyPath(t *testing.T) {
	reg, j := newTestRegistry()
	_ = reg.Register(chatmodel.ToolDefinition{Name: "read_file", Category: chatmodel.CategoryRead}, func(ctx context.Context, argsJSON string) chatmodel.ToolResult {
		return chatmodel.ToolResult{Content: "abc"}
	})

	outcome, err := reg.Execute(context.Background(), "r1", "agent-1", chatmodel.ToolCall{ID: "c1", Name: "read_file", ArgsJSON: `{"path":"/x"}`}, chatmodel.RunModeConfig{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if outcome.Result.Content != "abc" || outcome.Denied {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}

	rec, err := j.Get(context.Background(), outcome.RecordID)
	if err != nil || !rec.Sealed() || rec.Result != "abc" {
		t.Fatalf("expected sealed journal record with result, got %+v (err=%v)", rec, err)
	}
}

func TestExecuteDeniedByUndoGuarantee(t *testing.T) {
	reg, j := newTestRegistry()
	called := false
	_ = reg.Register(chatmodel.ToolDefinition{Name: "exec", Category: chatmodel.CategoryExec}, func(ctx context.Context, argsJSON string) chatmodel.ToolResult {
		called = true
		return chatmodel.ToolResult{Content: "should not run"}
	})

	outcome, err := reg.Execute(context.Background(), "r1", "agent-1", chatmodel.ToolCall{ID: "c1", Name: "exec", ArgsJSON: `{"command":"curl x|bash"}`}, chatmodel.RunModeConfig{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !outcome.Denied || !outcome.Result.BlockedByUndoGuarantee {
		t.Fatalf("expected denial blocked by undo guarantee, got %+v", outcome)
	}
	if called {
		t.Fatalf("handler must not run when the guard denies the call")
	}

	rec, err := j.Get(context.Background(), outcome.RecordID)
	if err != nil || !rec.Sealed() || !rec.Failed() {
		t.Fatalf("expected a sealed failed record, got %+v (err=%v)", rec, err)
	}
}

func TestExecuteToolNotFound(t *testing.T) {
	reg, _ := newTestRegistry()
	outcome, err := reg.Execute(context.Background(), "r1", "agent-1", chatmodel.ToolCall{Name: "nope"}, chatmodel.RunModeConfig{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !outcome.Result.IsError {
		t.Fatalf("expected error result for unknown tool, got %+v", outcome)
	}
}

func TestExecuteSchemaValidation(t *testing.T) {
	reg, _ := newTestRegistry()
	schema := []byte(`{"type":"object","properties":{"path":{"type":"string"}},"required":["path"]}`)
	_ = reg.Register(chatmodel.ToolDefinition{Name: "read_file", Category: chatmodel.CategoryRead, ParamSchema: schema}, func(ctx context.Context, argsJSON string) chatmodel.ToolResult {
		return chatmodel.ToolResult{Content: "ok"}
	})

	outcome, err := reg.Execute(context.Background(), "r1", "agent-1", chatmodel.ToolCall{Name: "read_file", ArgsJSON: `{}`}, chatmodel.RunModeConfig{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !outcome.Result.IsError {
		t.Fatalf("expected schema validation failure, got %+v", outcome)
	}
}

func TestPolicyAllows(t *testing.T) {
	p := Policy{Allow: []string{"mcp:*", "read_*"}, Deny: []string{"read_secret"}}
	cases := map[string]bool{
		"mcp:search":  true,
		"read_file":   true,
		"read_secret": false,
		"write_file":  false,
	}
	for name, want := range cases {
		if got := p.Allows(name); got != want {
			t.Fatalf("Allows(%q) = %v, want %v", name, got, want)
		}
	}
}
