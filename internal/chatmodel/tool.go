package chatmodel

import "encoding/json"

// ToolCategory classifies a tool for the Undo-Guarantee and approval gates.
type ToolCategory string

const (
	CategoryRead   ToolCategory = "read"
	CategoryMutate ToolCategory = "mutate"
	CategoryExec   ToolCategory = "exec"
	CategoryMeta   ToolCategory = "meta"
)

// ToolDefinition describes one tool the loop can offer to the LLM and
// dispatch through the Tool Registry.
type ToolDefinition struct {
	Name        string
	Description string

	// ParamSchema is a JSON-schema object describing the tool's arguments.
	// The Tool Registry validates ToolCall.ArgsJSON against it before
	// dispatch.
	ParamSchema json.RawMessage

	Category ToolCategory

	// IsUndoable marks the tool as having a reverse handler registered with
	// the Undo Service. Tools without one never appear in listUndoable().
	IsUndoable bool

	// ReverseHint, when non-nil, derives a human-readable description of how
	// a given invocation would be reversed (e.g. "rmdir X" for "mkdir X").
	// Returning ("", false) means no static reversal is known for these args.
	ReverseHint func(argsJSON string) (string, bool)
}

// ToolResult is what a tool handler returns for one invocation.
type ToolResult struct {
	Content string
	IsError bool

	// BlockedByUndoGuarantee is set by the Guard Stack (not by the tool
	// itself) when the undo-guarantee gate denies the call.
	BlockedByUndoGuarantee bool `json:"blockedByUndoGuarantee,omitempty"`
}
