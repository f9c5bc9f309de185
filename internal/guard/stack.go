package guard

import (
	"context"

	"github.com/relaycore/chatengine/internal/chatmodel"
)

// Stack composes the Undo-Guarantee and Approval gates in the fixed order
// required by §4.C: undo guarantee first (it is a hard property of the
// tool, independent of any human decision), approval second. The run-mode
// iteration cap and spend guard are evaluated by the Chat Loop directly
// (EffectiveMaxIterations below, and SpendGuard) rather than through this
// per-call pipeline, since they gate the run rather than the call.
type Stack struct {
	UndoGuarantee *UndoGuaranteeGate
	Approval      *ApprovalGate
}

// NewStack wires the two per-call gates together.
func NewStack(approval *ApprovalGate) *Stack {
	return &Stack{
		UndoGuarantee: NewUndoGuaranteeGate(),
		Approval:      approval,
	}
}

// Check runs both gates in order, short-circuiting on the first denial.
func (s *Stack) Check(ctx context.Context, call Call) (Decision, error) {
	decision, err := s.UndoGuarantee.Check(ctx, call)
	if err != nil {
		return Decision{}, err
	}
	if !decision.Allowed {
		return decision, nil
	}

	decision, err = s.Approval.Check(ctx, call)
	if err != nil {
		return Decision{}, err
	}
	return decision, nil
}

// EffectiveMaxIterations applies §4.C-3: the configured cap is clamped by
// the economy cap whenever economy mode is enabled.
func EffectiveMaxIterations(runMode chatmodel.RunModeConfig, economy chatmodel.EconomyConfig) int {
	if !economy.Enabled {
		return runMode.MaxIterations
	}
	if economy.MaxIterationsCap > 0 && economy.MaxIterationsCap < runMode.MaxIterations {
		return economy.MaxIterationsCap
	}
	return runMode.MaxIterations
}

// EffectiveToolResultLimit applies economy mode's tool-result truncation
// cap, or 0 (no limit) when economy mode is off or unset.
func EffectiveToolResultLimit(economy chatmodel.EconomyConfig) int {
	if !economy.Enabled {
		return 0
	}
	return economy.ToolResultMaxChars
}
