package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/relaycore/chatengine/internal/chatmodel"
	"github.com/relaycore/chatengine/internal/undo"
)

type writeFileArgs struct {
	Path    string `json:"path"`
	Content string `json:"content"`
	Append  bool   `json:"append,omitempty"`
}

var (
	writeFileSchemaOnce sync.Once
	writeFileSchema     json.RawMessage
)

// WriteFileTool writes files within a workspace root. Every overwrite
// pushes the file's prior contents (or its prior absence) onto a per-path
// backup stack before writing, so the registered reverse handler can pop
// and restore it; append writes are not reversible and are excluded from
// the backup stack, since reversing an append would require knowing how
// many bytes were added versus already present.
type WriteFileTool struct {
	resolver resolver

	mu      sync.Mutex
	backups map[string][]fileBackup
}

type fileBackup struct {
	existed bool
	content []byte
	mode    os.FileMode
}

// NewWriteFileTool constructs a write tool scoped to workspace.
func NewWriteFileTool(workspace string) *WriteFileTool {
	return &WriteFileTool{
		resolver: newResolver(workspace),
		backups:  make(map[string][]fileBackup),
	}
}

// Definition returns the ToolDefinition. write_file is CategoryMutate and
// undoable: the reverse handler registered via RegisterReverse restores the
// backed-up prior content, so the Undo-Guarantee gate allows it even under
// allowIrreversibleActions=false.
func (t *WriteFileTool) Definition() chatmodel.ToolDefinition {
	return chatmodel.ToolDefinition{
		Name:        "write_file",
		Description: "Write content to a file in the workspace (overwrites by default).",
		ParamSchema: reflectSchema(&writeFileSchemaOnce, &writeFileSchema, &writeFileArgs{}),
		Category:    chatmodel.CategoryMutate,
		IsUndoable:  true,
		ReverseHint: t.reverseHint,
	}
}

func (t *WriteFileTool) reverseHint(argsJSON string) (string, bool) {
	var args writeFileArgs
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil || args.Append {
		return "", false
	}
	return fmt.Sprintf("restore the previous contents of %s", args.Path), true
}

// Handler returns the toolregistry.Handler closure bound to this instance.
func (t *WriteFileTool) Handler(_ context.Context, argsJSON string) chatmodel.ToolResult {
	var args writeFileArgs
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
		return toolError(fmt.Sprintf("invalid parameters: %v", err))
	}
	if strings.TrimSpace(args.Path) == "" {
		return toolError("path is required")
	}

	resolved, err := t.resolver.resolve(args.Path)
	if err != nil {
		return toolError(err.Error())
	}

	if !args.Append {
		t.pushBackup(resolved)
	}

	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return toolError(fmt.Sprintf("create directory: %v", err))
	}

	flags := os.O_CREATE | os.O_WRONLY
	if args.Append {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	file, err := os.OpenFile(resolved, flags, 0o644)
	if err != nil {
		return toolError(fmt.Sprintf("open file: %v", err))
	}
	defer file.Close()

	n, err := file.WriteString(args.Content)
	if err != nil {
		return toolError(fmt.Sprintf("write file: %v", err))
	}

	payload, _ := json.MarshalIndent(map[string]any{
		"path":          args.Path,
		"bytes_written": n,
		"append":        args.Append,
	}, "", "  ")
	return chatmodel.ToolResult{Content: string(payload)}
}

// pushBackup snapshots resolved's current content (or its absence) before
// it gets overwritten. Best-effort: a stat/read failure other than
// not-exist leaves nothing pushed, matching the tolerant posture the rest
// of this package takes with filesystem edge cases.
func (t *WriteFileTool) pushBackup(resolved string) {
	info, err := os.Stat(resolved)
	if err != nil {
		if os.IsNotExist(err) {
			t.mu.Lock()
			t.backups[resolved] = append(t.backups[resolved], fileBackup{existed: false})
			t.mu.Unlock()
		}
		return
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return
	}
	t.mu.Lock()
	t.backups[resolved] = append(t.backups[resolved], fileBackup{existed: true, content: data, mode: info.Mode()})
	t.mu.Unlock()
}

func (t *WriteFileTool) popBackup(resolved string) (fileBackup, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	stack := t.backups[resolved]
	if len(stack) == 0 {
		return fileBackup{}, false
	}
	last := stack[len(stack)-1]
	t.backups[resolved] = stack[:len(stack)-1]
	return last, true
}

// reverseHandler is registered under the "write_file" tool name with the
// Undo Service. It pops the most recent backup for the path named in
// argsJSON and restores it, recreating the file if it previously did not
// exist, or removing it if the write had created it from nothing.
func (t *WriteFileTool) reverseHandler(_ context.Context, argsJSON string) error {
	var args writeFileArgs
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
		return fmt.Errorf("decode args: %w", err)
	}
	resolved, err := t.resolver.resolve(args.Path)
	if err != nil {
		return err
	}
	backup, ok := t.popBackup(resolved)
	if !ok {
		return fmt.Errorf("no backup recorded for %s", args.Path)
	}
	if !backup.existed {
		if err := os.Remove(resolved); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove file created by write: %w", err)
		}
		return nil
	}
	if err := os.WriteFile(resolved, backup.content, backup.mode); err != nil {
		return fmt.Errorf("restore previous contents: %w", err)
	}
	return nil
}

// RegisterReverse wires this tool's reverse handler into reg under the
// "write_file" name.
func (t *WriteFileTool) RegisterReverse(reg *undo.Registry) {
	reg.Register("write_file", t.reverseHandler)
}
