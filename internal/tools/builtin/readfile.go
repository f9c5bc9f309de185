package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/relaycore/chatengine/internal/chatmodel"
)

// readFileArgs is the argument shape read_file accepts. Path has no
// omitempty, so jsonschema.Reflect marks it required; Offset/MaxBytes do,
// so they're optional.
type readFileArgs struct {
	Path     string `json:"path"`
	Offset   int64  `json:"offset,omitempty"`
	MaxBytes int    `json:"max_bytes,omitempty"`
}

var (
	readFileSchemaOnce sync.Once
	readFileSchema     json.RawMessage
)

const defaultMaxReadBytes = 200_000

// ReadFileTool reads files within a workspace root, truncating to a byte
// cap rather than ever loading an unbounded file into memory.
type ReadFileTool struct {
	resolver resolver
	maxBytes int
}

// NewReadFileTool constructs a read tool scoped to workspace. maxBytes <= 0
// falls back to defaultMaxReadBytes.
func NewReadFileTool(workspace string, maxBytes int) *ReadFileTool {
	if maxBytes <= 0 {
		maxBytes = defaultMaxReadBytes
	}
	return &ReadFileTool{resolver: newResolver(workspace), maxBytes: maxBytes}
}

// Definition returns the ToolDefinition for registration with the Tool
// Registry. read_file never mutates state, so it carries CategoryRead and
// is never subject to the Undo-Guarantee gate.
func (t *ReadFileTool) Definition() chatmodel.ToolDefinition {
	return chatmodel.ToolDefinition{
		Name:        "read_file",
		Description: "Read a file from the workspace with an optional offset and byte limit.",
		ParamSchema: reflectSchema(&readFileSchemaOnce, &readFileSchema, &readFileArgs{}),
		Category:    chatmodel.CategoryRead,
	}
}

// Handler returns the toolregistry.Handler closure bound to this instance.
func (t *ReadFileTool) Handler(_ context.Context, argsJSON string) chatmodel.ToolResult {
	var args readFileArgs
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
		return toolError(fmt.Sprintf("invalid parameters: %v", err))
	}
	if strings.TrimSpace(args.Path) == "" {
		return toolError("path is required")
	}
	if args.Offset < 0 {
		return toolError("offset must be >= 0")
	}

	resolved, err := t.resolver.resolve(args.Path)
	if err != nil {
		return toolError(err.Error())
	}

	file, err := os.Open(resolved)
	if err != nil {
		return toolError(fmt.Sprintf("open file: %v", err))
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return toolError(fmt.Sprintf("stat file: %v", err))
	}
	if args.Offset > 0 {
		if _, err := file.Seek(args.Offset, io.SeekStart); err != nil {
			return toolError(fmt.Sprintf("seek file: %v", err))
		}
	}

	limit := t.maxBytes
	if args.MaxBytes > 0 && args.MaxBytes < limit {
		limit = args.MaxBytes
	}
	remaining := int64(limit)
	if size := info.Size(); size > 0 {
		remaining = size - args.Offset
		if remaining < 0 {
			remaining = 0
		}
		if remaining > int64(limit) {
			remaining = int64(limit)
		}
	}

	buf, err := io.ReadAll(io.LimitReader(file, remaining))
	if err != nil {
		return toolError(fmt.Sprintf("read file: %v", err))
	}

	truncated := info.Size() > 0 && args.Offset+int64(len(buf)) < info.Size()
	payload, _ := json.MarshalIndent(map[string]any{
		"path":      args.Path,
		"content":   string(buf),
		"offset":    args.Offset,
		"bytes":     len(buf),
		"truncated": truncated,
	}, "", "  ")
	return chatmodel.ToolResult{Content: string(payload)}
}

func toolError(message string) chatmodel.ToolResult {
	payload, err := json.Marshal(map[string]string{"error": message})
	if err != nil {
		return chatmodel.ToolResult{Content: message, IsError: true}
	}
	return chatmodel.ToolResult{Content: string(payload), IsError: true}
}
