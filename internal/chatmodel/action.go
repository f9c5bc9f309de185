package chatmodel

import "time"

// ApprovalOutcome records how a tool invocation cleared (or failed to clear)
// the approval gate.
type ApprovalOutcome string

const (
	ApprovalAuto     ApprovalOutcome = "auto"
	ApprovalGranted  ApprovalOutcome = "granted"
	ApprovalDenied   ApprovalOutcome = "denied"
	ApprovalBypassed ApprovalOutcome = "bypassed"
)

// Reversal describes how an ActionRecord was undone or redone.
type Reversal struct {
	// PairsWith is the id of the original ActionRecord this reversal
	// applies to, for undo and redo reversals alike.
	PairsWith int64     `json:"pairsWith"`
	Kind      string    `json:"kind"` // "undo" | "redo"
	AppliedAt time.Time `json:"appliedAt"`
}

// ActionRecord is the append-only, per-invocation unit of the Action
// Journal. It is created at invocation start and sealed at completion;
// once sealed only the Undo Service may append a paired reversal record
// that references it.
type ActionRecord struct {
	ID       int64  `json:"id"`
	RunID    string `json:"runId"`
	Tool     string `json:"tool"`

	Category ToolCategory    `json:"category"`
	Args     string          `json:"args"` // snapshot of ArgsJSON at invocation time
	Approval ApprovalOutcome `json:"approval"`
	Undoable bool            `json:"undoable"`

	StartedAt time.Time  `json:"startedAt"`
	EndedAt   *time.Time `json:"endedAt,omitempty"`

	DurationMs int64  `json:"durationMs,omitempty"`
	Result     string `json:"result,omitempty"`
	Error      string `json:"error,omitempty"`

	Reversal *Reversal `json:"reversal,omitempty"`
}

// Sealed reports whether the record has completed (endedAt populated).
func (r *ActionRecord) Sealed() bool {
	return r.EndedAt != nil
}

// Failed reports whether the sealed record ended in an error.
func (r *ActionRecord) Failed() bool {
	return r.Error != ""
}
