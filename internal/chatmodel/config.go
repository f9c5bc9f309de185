package chatmodel

// ThinkingLevel controls how much extended-reasoning budget a request asks
// the provider for.
type ThinkingLevel string

const (
	ThinkingOff    ThinkingLevel = "off"
	ThinkingLow    ThinkingLevel = "low"
	ThinkingMedium ThinkingLevel = "medium"
	ThinkingHigh   ThinkingLevel = "high"
)

// ThinkingVisibility controls whether and how reasoning content reaches the
// client.
type ThinkingVisibility string

const (
	VisibilityOff    ThinkingVisibility = "off"
	VisibilityOn     ThinkingVisibility = "on"
	VisibilityStream ThinkingVisibility = "stream"
)

// ThinkingConfig is the session/request-scoped reasoning configuration.
type ThinkingConfig struct {
	Level      ThinkingLevel      `yaml:"level" json:"level"`
	Visibility ThinkingVisibility `yaml:"visibility" json:"visibility"`
}

// DefaultThinkingConfig returns reasoning switched off, matching the
// teacher's pattern of opt-in extended thinking.
func DefaultThinkingConfig() ThinkingConfig {
	return ThinkingConfig{Level: ThinkingOff, Visibility: VisibilityOff}
}

// RunMode selects how much autonomy the loop is granted.
type RunMode string

const (
	ModeInteractive RunMode = "interactive"
	ModeSupervised  RunMode = "supervised"
	ModeAutonomous  RunMode = "autonomous"
)

// RunModeConfig governs iteration caps and the permission bypass switch.
type RunModeConfig struct {
	Mode          RunMode `yaml:"mode" json:"mode"`
	MaxIterations int     `yaml:"max_iterations" json:"maxIterations"`

	// BypassAllPermissions forces the approval gate to "off" and locks it;
	// GET/POST chat/approval-mode reports it as locked while this is set.
	BypassAllPermissions bool `yaml:"bypass_all_permissions" json:"bypassAllPermissions"`

	// AllowIrreversibleActions disables the Undo-Guarantee gate entirely.
	AllowIrreversibleActions bool `yaml:"allow_irreversible_actions" json:"allowIrreversibleActions"`
}

// DefaultRunModeConfig matches the teacher's DefaultLoopConfig iteration cap.
func DefaultRunModeConfig() RunModeConfig {
	return RunModeConfig{
		Mode:          ModeInteractive,
		MaxIterations: 10,
	}
}

// EconomyConfig clamps loop behavior to reduce token/iteration spend when
// enabled.
type EconomyConfig struct {
	Enabled                    bool `yaml:"enabled" json:"enabled"`
	MaxIterationsCap           int  `yaml:"max_iterations_cap" json:"maxIterationsCap"`
	ToolResultMaxChars         int  `yaml:"tool_result_max_chars" json:"toolResultMaxChars"`
	ContextMaxTokens           int  `yaml:"context_max_tokens" json:"contextMaxTokens"`
	ContextCompactionThreshold int  `yaml:"context_compaction_threshold" json:"contextCompactionThreshold"`
}

// DefaultEconomyConfig returns economy mode disabled with conservative caps
// ready to apply the moment it is enabled.
func DefaultEconomyConfig() EconomyConfig {
	return EconomyConfig{
		Enabled:                    false,
		MaxIterationsCap:           4,
		ToolResultMaxChars:         4000,
		ContextMaxTokens:           32000,
		ContextCompactionThreshold: 24000,
	}
}

// ApprovalMode selects how aggressively the approval gate intercepts tools.
type ApprovalMode string

const (
	ApprovalModeOff    ApprovalMode = "off"
	ApprovalModeMutate ApprovalMode = "mutate"
	ApprovalModeAlways ApprovalMode = "always"
)

// SpendGuardConfig is the rolling 24h budget configuration.
type SpendGuardConfig struct {
	DailyBudgetUSD   *float64 `yaml:"daily_budget_usd" json:"dailyBudgetUsd,omitempty"`
	AutoPauseOnLimit bool     `yaml:"auto_pause_on_limit" json:"autoPauseOnLimit"`
	Paused           bool     `yaml:"-" json:"paused"`
}

// SpendGuardSnapshot is the read-only view returned to callers; two reads
// with no usage recorded in between must be identical (idempotence, §8).
type SpendGuardSnapshot struct {
	DailyBudgetUSD   *float64 `json:"dailyBudgetUsd,omitempty"`
	Spent24h         float64  `json:"spent24h"`
	Remaining        float64  `json:"remaining"`
	Exceeded         bool     `json:"exceeded"`
	AutoPauseOnLimit bool     `json:"autoPauseOnLimit"`
	Paused           bool     `json:"paused"`
}
