package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/relaycore/chatengine/internal/chatmodel"
)

// processArgs.Action documents its allowed values in ProcessTool's
// Description rather than here, matching reflectSchema's plain-json-tag
// style.
type processArgs struct {
	Action    string `json:"action"`
	ProcessID string `json:"process_id,omitempty"`
	Input     string `json:"input,omitempty"`
}

var (
	processSchemaOnce sync.Once
	processSchema     json.RawMessage
)

// ProcessTool inspects and manages background exec processes started by an
// ExecTool. "poll" is an alias for "status" — the name the Undo-Guarantee
// gate and the chat loop's polling exception both recognize as read-only.
type ProcessTool struct {
	manager *execManager
}

// NewProcessTool constructs a process tool over the same manager an
// ExecTool uses, so both see the same set of background processes.
func NewProcessTool(manager *execManager) *ProcessTool {
	return &ProcessTool{manager: manager}
}

// Definition returns the ToolDefinition. CategoryMeta: the Undo-Guarantee
// gate special-cases this tool by name regardless of category, but Meta is
// the closest fit for an introspection/control surface.
func (t *ProcessTool) Definition() chatmodel.ToolDefinition {
	return chatmodel.ToolDefinition{
		Name:        "process",
		Description: "Manage background exec processes (list, status, poll, log, write, kill, remove).",
		ParamSchema: reflectSchema(&processSchemaOnce, &processSchema, &processArgs{}),
		Category:    chatmodel.CategoryMeta,
	}
}

// Handler returns the toolregistry.Handler closure bound to this instance.
func (t *ProcessTool) Handler(_ context.Context, argsJSON string) chatmodel.ToolResult {
	if t.manager == nil {
		return toolError("process manager unavailable")
	}
	var args processArgs
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
		return toolError(fmt.Sprintf("invalid parameters: %v", err))
	}
	action := strings.ToLower(strings.TrimSpace(args.Action))
	if action == "" {
		return toolError("action is required")
	}

	if action == "list" {
		payload, _ := json.MarshalIndent(map[string]any{"processes": t.manager.list()}, "", "  ")
		return chatmodel.ToolResult{Content: string(payload)}
	}

	if strings.TrimSpace(args.ProcessID) == "" {
		return toolError("process_id is required")
	}
	proc, ok := t.manager.get(strings.TrimSpace(args.ProcessID))
	if !ok {
		return toolError("process not found")
	}

	switch action {
	case "status", "poll":
		payload, _ := json.MarshalIndent(proc.info(), "", "  ")
		return chatmodel.ToolResult{Content: string(payload)}
	case "log":
		payload, _ := json.MarshalIndent(map[string]any{
			"stdout": proc.stdout.String(),
			"stderr": proc.stderr.String(),
			"status": proc.status(),
		}, "", "  ")
		return chatmodel.ToolResult{Content: string(payload)}
	case "write":
		if proc.stdin == nil {
			return toolError("process stdin unavailable")
		}
		if args.Input == "" {
			return toolError("input is required")
		}
		if _, err := proc.stdin.Write([]byte(args.Input)); err != nil {
			return toolError(fmt.Sprintf("write stdin: %v", err))
		}
		payload, _ := json.MarshalIndent(map[string]any{"status": "written"}, "", "  ")
		return chatmodel.ToolResult{Content: string(payload)}
	case "kill":
		if proc.cmd.Process == nil {
			return toolError("process not running")
		}
		if err := proc.cmd.Process.Kill(); err != nil {
			return toolError(fmt.Sprintf("kill process: %v", err))
		}
		payload, _ := json.MarshalIndent(map[string]any{"status": "killed"}, "", "  ")
		return chatmodel.ToolResult{Content: string(payload)}
	case "remove":
		if proc.status() == "running" {
			return toolError("process still running")
		}
		if !t.manager.remove(proc.id) {
			return toolError("remove failed")
		}
		payload, _ := json.MarshalIndent(map[string]any{"status": "removed"}, "", "  ")
		return chatmodel.ToolResult{Content: string(payload)}
	default:
		return toolError("unsupported action")
	}
}
