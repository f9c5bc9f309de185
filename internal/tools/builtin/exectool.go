package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/relaycore/chatengine/internal/chatmodel"
)

type execArgs struct {
	Command        string            `json:"command"`
	Cwd            string            `json:"cwd,omitempty"`
	Env            map[string]string `json:"env,omitempty"`
	Input          string            `json:"input,omitempty"`
	TimeoutSeconds int               `json:"timeout_seconds,omitempty"`
	Background     bool              `json:"background,omitempty"`
}

var (
	execSchemaOnce sync.Once
	execSchema     json.RawMessage
)

// reversibleCommand matches a small set of shell commands the Undo-Guarantee
// gate's static reversal lookup recognizes (spec's own example is
// "mkdir X" -> "rmdir X"). Anything else is treated as having no known
// reversal and is denied unless allowIrreversibleActions is set.
var reversibleCommand = regexp.MustCompile(`^\s*(mkdir|touch)\s+(-p\s+)?(\S+)\s*$`)

// ExecTool runs shell commands inside a workspace, synchronously or in the
// background.
type ExecTool struct {
	manager *execManager
}

// NewExecTool constructs an exec tool scoped to workspace.
func NewExecTool(workspace string) *ExecTool {
	return &ExecTool{manager: newExecManager(workspace)}
}

// Definition returns the ToolDefinition. exec carries CategoryExec; its
// ReverseHint implements the static lookup the Undo-Guarantee gate's
// exec/bash/shell special case calls.
func (t *ExecTool) Definition() chatmodel.ToolDefinition {
	return chatmodel.ToolDefinition{
		Name:        "exec",
		Description: "Run a shell command in the workspace (supports optional background execution).",
		ParamSchema: reflectSchema(&execSchemaOnce, &execSchema, &execArgs{}),
		Category:    chatmodel.CategoryExec,
		ReverseHint: reverseHintForCommand,
	}
}

func reverseHintForCommand(argsJSON string) (string, bool) {
	var args execArgs
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
		return "", false
	}
	m := reversibleCommand.FindStringSubmatch(args.Command)
	if m == nil {
		return "", false
	}
	switch m[1] {
	case "mkdir":
		return fmt.Sprintf("rmdir %s", m[3]), true
	case "touch":
		return fmt.Sprintf("rm %s", m[3]), true
	default:
		return "", false
	}
}

// Handler returns the toolregistry.Handler closure bound to this instance.
func (t *ExecTool) Handler(ctx context.Context, argsJSON string) chatmodel.ToolResult {
	var args execArgs
	if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
		return toolError(fmt.Sprintf("invalid parameters: %v", err))
	}
	command := strings.TrimSpace(args.Command)
	if command == "" {
		return toolError("command is required")
	}

	timeout := time.Duration(args.TimeoutSeconds) * time.Second

	if args.Background {
		proc, err := t.manager.startBackground(ctx, command, args.Cwd, args.Env, args.Input, timeout)
		if err != nil {
			return toolError(err.Error())
		}
		payload, _ := json.MarshalIndent(map[string]any{
			"status":     "running",
			"process_id": proc.id,
		}, "", "  ")
		return chatmodel.ToolResult{Content: string(payload)}
	}

	result, err := t.manager.runSync(ctx, command, args.Cwd, args.Env, args.Input, timeout)
	if err != nil {
		return toolError(err.Error())
	}
	payload, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return toolError(fmt.Sprintf("encode result: %v", err))
	}
	return chatmodel.ToolResult{Content: string(payload)}
}

// Manager exposes the underlying process manager so a ProcessTool built
// separately can inspect the same background processes this tool starts.
func (t *ExecTool) Manager() *execManager { return t.manager }
