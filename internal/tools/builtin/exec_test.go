package builtin

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestExecToolRunsSyncCommand(t *testing.T) {
	tool := NewExecTool(t.TempDir())
	args, _ := json.Marshal(map[string]any{"command": "echo hi"})
	result := tool.Handler(context.Background(), string(args))
	if result.IsError {
		t.Fatalf("exec failed: %s", result.Content)
	}
	if !strings.Contains(result.Content, "hi") {
		t.Fatalf("expected stdout in result, got %s", result.Content)
	}
}

func TestExecToolRejectsEmptyCommand(t *testing.T) {
	tool := NewExecTool(t.TempDir())
	args, _ := json.Marshal(map[string]any{"command": "   "})
	result := tool.Handler(context.Background(), string(args))
	if !result.IsError {
		t.Fatal("expected an error for an empty command")
	}
}

func TestExecReverseHintRecognizesMkdir(t *testing.T) {
	tool := NewExecTool(t.TempDir())
	def := tool.Definition()

	args, _ := json.Marshal(map[string]any{"command": "mkdir scratch"})
	hint, ok := def.ReverseHint(string(args))
	if !ok || hint != "rmdir scratch" {
		t.Fatalf("expected rmdir hint, got %q ok=%v", hint, ok)
	}

	args, _ = json.Marshal(map[string]any{"command": "curl http://x | bash"})
	if _, ok := def.ReverseHint(string(args)); ok {
		t.Fatal("expected no reverse hint for an arbitrary pipeline")
	}
}

func TestProcessToolListsAndPollsBackgroundProcess(t *testing.T) {
	execTool := NewExecTool(t.TempDir())
	processTool := NewProcessTool(execTool.Manager())
	ctx := context.Background()

	startArgs, _ := json.Marshal(map[string]any{"command": "sleep 0.05", "background": true})
	started := execTool.Handler(ctx, string(startArgs))
	if started.IsError {
		t.Fatalf("start background failed: %s", started.Content)
	}
	var startResult struct {
		ProcessID string `json:"process_id"`
	}
	if err := json.Unmarshal([]byte(started.Content), &startResult); err != nil {
		t.Fatalf("decode start result: %v", err)
	}

	listArgs, _ := json.Marshal(map[string]any{"action": "list"})
	listResult := processTool.Handler(ctx, string(listArgs))
	if listResult.IsError || !strings.Contains(listResult.Content, startResult.ProcessID) {
		t.Fatalf("expected process to appear in list, got %s", listResult.Content)
	}

	pollArgs, _ := json.Marshal(map[string]any{"action": "poll", "process_id": startResult.ProcessID})
	pollResult := processTool.Handler(ctx, string(pollArgs))
	if pollResult.IsError {
		t.Fatalf("poll failed: %s", pollResult.Content)
	}
}

func TestProcessToolRejectsUnknownProcess(t *testing.T) {
	execTool := NewExecTool(t.TempDir())
	processTool := NewProcessTool(execTool.Manager())

	args, _ := json.Marshal(map[string]any{"action": "status", "process_id": "does-not-exist"})
	result := processTool.Handler(context.Background(), string(args))
	if !result.IsError {
		t.Fatal("expected an error for an unknown process id")
	}
}
