// Package guard implements the ordered gate pipeline applied to every tool
// call: the Undo-Guarantee gate, the Approval gate, the run-mode iteration
// cap, and the rolling Spend Guard.
package guard

import (
	"context"

	"github.com/relaycore/chatengine/internal/chatmodel"
)

// Call is everything a gate needs to judge one pending tool invocation.
type Call struct {
	RunID     string
	AgentID   string
	Tool      chatmodel.ToolDefinition
	ToolCall  chatmodel.ToolCall
	RunMode   chatmodel.RunModeConfig
}

// Decision is the verdict of a single gate. A gate that does not deny or
// require approval leaves Allowed true and every other field zero.
type Decision struct {
	Allowed bool

	// DenyReason is set when Allowed is false and no approval is pending;
	// it becomes the synthetic tool_result error text.
	DenyReason string

	// BlockedByUndoGuarantee marks a denial as originating from the
	// Undo-Guarantee gate specifically, for ToolResult.BlockedByUndoGuarantee
	// and the warning{code=undo_guarantee_blocked} event.
	BlockedByUndoGuarantee bool

	// RequiresApproval is set by the Approval gate when the call must wait
	// on an external decision before proceeding. ApprovalID names the
	// pending request for chat/approve to resolve.
	RequiresApproval bool
	ApprovalID       string
}

// allow is the zero-value "pass" decision, used by gates with nothing to add.
var allow = Decision{Allowed: true}

// Gate evaluates one concern against a pending call. Gates are pure with
// respect to the call itself; any gate may consult shared external state
// (the journal, the approval store, the spend tracker).
type Gate interface {
	Name() string
	Check(ctx context.Context, call Call) (Decision, error)
}
