package guard

import (
	"context"
	"strings"

	"github.com/relaycore/chatengine/internal/chatmodel"
)

// mutatingVerbs is the "looks-mutating" name heuristic applied to tools
// left uncategorized. Brittle by nature — flagged in DESIGN.md as a
// candidate for replacement by explicit tool metadata.
var mutatingVerbs = []string{
	"write", "delete", "remove", "rm", "create", "mkdir", "move", "rename",
	"update", "set", "patch", "install", "uninstall", "kill", "restart",
	"send", "post", "push", "deploy", "format",
}

// UndoGuaranteeGate denies mutate/exec tool calls that have no reversal
// plan, unless allowIrreversibleActions disables the check entirely.
type UndoGuaranteeGate struct{}

// NewUndoGuaranteeGate constructs the gate. It holds no state: every check
// is answered from the Call and the run-mode config alone.
func NewUndoGuaranteeGate() *UndoGuaranteeGate {
	return &UndoGuaranteeGate{}
}

func (g *UndoGuaranteeGate) Name() string { return "undo_guarantee" }

func (g *UndoGuaranteeGate) Check(_ context.Context, call Call) (Decision, error) {
	if call.RunMode.AllowIrreversibleActions {
		return allow, nil
	}

	name := call.Tool.Name

	// Introspection tools always pass: they never mutate state.
	if name == "undo" || name == "actions" {
		return allow, nil
	}

	// process passes only for read-only sub-operations.
	if name == "process" {
		if isProcessReadOnly(call.ToolCall.ArgsJSON) {
			return allow, nil
		}
		return deny(true, "process tool denied: only list|poll|log are permitted without a reversal plan")
	}

	// exec/bash/shell pass only when a static reversal is known for the
	// command.
	if name == "exec" || name == "bash" || name == "shell" {
		if call.Tool.ReverseHint != nil {
			if _, ok := call.Tool.ReverseHint(call.ToolCall.ArgsJSON); ok {
				return allow, nil
			}
		}
		return deny(true, "command has no known reversal; denied under the undo guarantee")
	}

	switch call.Tool.Category {
	case chatmodel.CategoryRead, chatmodel.CategoryMeta:
		return allow, nil
	case chatmodel.CategoryMutate, chatmodel.CategoryExec:
		if call.Tool.IsUndoable {
			// An undoable tool can still mark one call irreversible through
			// its ReverseHint (write_file does so for appends).
			if call.Tool.ReverseHint != nil {
				if _, ok := call.Tool.ReverseHint(call.ToolCall.ArgsJSON); !ok {
					return deny(true, "this call has no known reversal; denied under the undo guarantee")
				}
			}
			return allow, nil
		}
		return deny(true, "tool has no reverse handler registered; denied under the undo guarantee")
	default:
		// Uncategorized tool: fall back to the name heuristic.
		if looksMutating(name) {
			return deny(true, "tool name suggests a mutating effect and carries no category or reverse handler")
		}
		return allow, nil
	}
}

func looksMutating(name string) bool {
	lower := strings.ToLower(name)
	for _, verb := range mutatingVerbs {
		if strings.Contains(lower, verb) {
			return true
		}
	}
	return false
}

// isProcessReadOnly does a cheap substring check for the permitted
// sub-operations rather than a full JSON parse, matching the tolerant
// "best-effort" posture the rest of the adapter takes with partial args.
func isProcessReadOnly(argsJSON string) bool {
	for _, op := range []string{"list", "poll", "log"} {
		if strings.Contains(argsJSON, `"`+op+`"`) {
			return true
		}
	}
	return false
}

func deny(blockedByUndoGuarantee bool, reason string) (Decision, error) {
	return Decision{
		Allowed:                false,
		DenyReason:             reason,
		BlockedByUndoGuarantee: blockedByUndoGuarantee,
	}, nil
}
