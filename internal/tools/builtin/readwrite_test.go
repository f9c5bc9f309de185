package builtin

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/relaycore/chatengine/internal/chatmodel"
	"github.com/relaycore/chatengine/internal/journal"
	"github.com/relaycore/chatengine/internal/undo"
)

// recordAndUndo journals argsJSON under tool, completes it, and undoes it
// through a fresh undo.Service wired to reg — the same path the real Tool
// Registry and chat loop drive in production.
func recordAndUndo(t *testing.T, ctx context.Context, reg *undo.Registry, tool, argsJSON string) undo.Outcome {
	t.Helper()
	j := journal.NewMemoryStore()
	rec, err := j.Record(ctx, journal.Draft{Tool: tool, Category: chatmodel.CategoryMutate, Args: argsJSON, Undoable: true})
	if err != nil {
		t.Fatalf("journal record: %v", err)
	}
	if err := j.Complete(ctx, rec.ID, "ok", ""); err != nil {
		t.Fatalf("journal complete: %v", err)
	}
	svc := undo.New(j, reg)
	outcome, err := svc.UndoOne(ctx)
	if err != nil {
		t.Fatalf("UndoOne: %v", err)
	}
	return outcome
}

func TestWriteThenReadRoundTrip(t *testing.T) {
	root := t.TempDir()
	writeTool := NewWriteFileTool(root)
	readTool := NewReadFileTool(root, 0)
	ctx := context.Background()

	writeArgs, _ := json.Marshal(map[string]any{"path": "notes.txt", "content": "hello world"})
	result := writeTool.Handler(ctx, string(writeArgs))
	if result.IsError {
		t.Fatalf("write failed: %s", result.Content)
	}

	readArgs, _ := json.Marshal(map[string]any{"path": "notes.txt"})
	result = readTool.Handler(ctx, string(readArgs))
	if result.IsError {
		t.Fatalf("read failed: %s", result.Content)
	}
	if !strings.Contains(result.Content, "hello world") {
		t.Fatalf("expected content in result, got %s", result.Content)
	}
}

func TestWriteFileUndoRestoresPriorContent(t *testing.T) {
	root := t.TempDir()
	writeTool := NewWriteFileTool(root)
	reg := undo.NewRegistry()
	writeTool.RegisterReverse(reg)
	ctx := context.Background()

	first, _ := json.Marshal(map[string]any{"path": "config.txt", "content": "version=1"})
	if res := writeTool.Handler(ctx, string(first)); res.IsError {
		t.Fatalf("first write failed: %s", res.Content)
	}

	second, _ := json.Marshal(map[string]any{"path": "config.txt", "content": "version=2"})
	if res := writeTool.Handler(ctx, string(second)); res.IsError {
		t.Fatalf("second write failed: %s", res.Content)
	}

	data, err := os.ReadFile(filepath.Join(root, "config.txt"))
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	if string(data) != "version=2" {
		t.Fatalf("expected version=2 before undo, got %q", data)
	}

	if outcome := recordAndUndo(t, ctx, reg, "write_file", string(second)); outcome.Err != nil {
		t.Fatalf("undo: %v", outcome.Err)
	}

	data, err = os.ReadFile(filepath.Join(root, "config.txt"))
	if err != nil {
		t.Fatalf("read file after undo: %v", err)
	}
	if string(data) != "version=1" {
		t.Fatalf("expected version=1 after undo, got %q", data)
	}
}

func TestWriteFileUndoRemovesNewlyCreatedFile(t *testing.T) {
	root := t.TempDir()
	writeTool := NewWriteFileTool(root)
	reg := undo.NewRegistry()
	writeTool.RegisterReverse(reg)
	ctx := context.Background()

	args, _ := json.Marshal(map[string]any{"path": "new.txt", "content": "brand new"})
	if res := writeTool.Handler(ctx, string(args)); res.IsError {
		t.Fatalf("write failed: %s", res.Content)
	}

	if outcome := recordAndUndo(t, ctx, reg, "write_file", string(args)); outcome.Err != nil {
		t.Fatalf("undo: %v", outcome.Err)
	}

	if _, err := os.Stat(filepath.Join(root, "new.txt")); !os.IsNotExist(err) {
		t.Fatalf("expected file to be removed by undo, stat err = %v", err)
	}
}

func TestWriteFileReverseHintExcludesAppends(t *testing.T) {
	writeTool := NewWriteFileTool(t.TempDir())
	def := writeTool.Definition()

	args, _ := json.Marshal(map[string]any{"path": "log.txt", "content": "line", "append": true})
	if _, ok := def.ReverseHint(string(args)); ok {
		t.Fatal("expected append writes to have no reverse hint")
	}

	args, _ = json.Marshal(map[string]any{"path": "log.txt", "content": "line"})
	if _, ok := def.ReverseHint(string(args)); !ok {
		t.Fatal("expected overwrite writes to have a reverse hint")
	}
}
