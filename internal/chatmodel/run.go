package chatmodel

import (
	"context"
	"time"
)

// UsageTally is the monotonic token counter for a single run.
type UsageTally struct {
	PromptTokens     int64
	CompletionTokens int64
	TotalTokens      int64
}

// Add accumulates another delta into the tally. Both fields are clamped to
// be non-negative so a malformed provider delta cannot move totals backward,
// preserving the "usage is monotonic within a run" invariant.
func (u *UsageTally) Add(promptDelta, completionDelta int64) {
	if promptDelta > 0 {
		u.PromptTokens += promptDelta
	}
	if completionDelta > 0 {
		u.CompletionTokens += completionDelta
	}
	u.TotalTokens = u.PromptTokens + u.CompletionTokens
}

// RunState tracks one live execution of the chat loop. It exists only while
// the run is active; the Run Supervisor destroys it on terminal event or
// cancellation.
type RunState struct {
	RunID     string
	SessionID string

	Cancel context.CancelFunc

	StartedAt     time.Time
	Iteration     int
	MaxIterations int

	Usage UsageTally

	// SpendCharged is the USD amount already recorded against the rolling
	// spend window for this run, so re-entrant accounting never double-charges.
	SpendCharged float64
}
