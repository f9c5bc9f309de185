// Package chatloop drives the iterative LLM-and-tool loop for a single run:
// directive parsing, provider fallback, streaming consumption, guarded tool
// execution, and the event stream every step of that is reported through.
package chatloop

import (
	"context"
	"log/slog"
	"time"

	"github.com/relaycore/chatengine/internal/chathistory"
	"github.com/relaycore/chatengine/internal/chatmodel"
	"github.com/relaycore/chatengine/internal/config"
	"github.com/relaycore/chatengine/internal/contextprep"
	"github.com/relaycore/chatengine/internal/guard"
	"github.com/relaycore/chatengine/internal/metrics"
	"github.com/relaycore/chatengine/internal/provider"
	"github.com/relaycore/chatengine/internal/runsupervisor"
	"github.com/relaycore/chatengine/internal/toolregistry"
	"github.com/relaycore/chatengine/internal/usage"
)

// SkillDiscoverer runs the bounded-time lexical search against the skills
// service (§4.G pre-flight). spec.md treats the service itself as external;
// NoopSkillDiscoverer is the zero-value default when none is wired.
type SkillDiscoverer interface {
	Discover(ctx context.Context, userMessage string) ([]string, error)
}

// NoopSkillDiscoverer never suggests anything.
type NoopSkillDiscoverer struct{}

func (NoopSkillDiscoverer) Discover(context.Context, string) ([]string, error) { return nil, nil }

// DriftDetector evaluates whether the conversation has drifted from the
// agent's intended alignment (§4.G pre-flight "drift detection").
type DriftDetector interface {
	Check(ctx context.Context, messages []chatmodel.Message) (drifted bool, stabilizer string, err error)
}

// NoopDriftDetector never reports drift.
type NoopDriftDetector struct{}

func (NoopDriftDetector) Check(context.Context, []chatmodel.Message) (bool, string, error) {
	return false, "", nil
}

// ModelTarget is the resolved {provider, model} pair one completion attempt
// targets, with its adapter and per-million-token pricing attached.
type ModelTarget struct {
	ProviderName string
	Model        string
	Adapter      provider.Adapter
	Cost         usage.Cost
}

// AgentProfile is the agent-scoped configuration the Chat Loop reads when
// resolving overrides and building the system prompt (§4.G step 4).
type AgentProfile struct {
	ID         string
	Identity   string
	Primary    ModelTarget
	Fallbacks  []ModelTarget
	ToolPolicy toolregistry.Policy
}

// Dependencies wires every component the Chat Loop calls into. All fields
// are required except the pluggable discovery/detection hooks and Logger,
// which default to no-ops / slog.Default().
type Dependencies struct {
	Supervisor *runsupervisor.Supervisor
	Preparer   *contextprep.Preparer
	Registry   *toolregistry.Registry
	History    chathistory.Store
	SpendGuard *guard.SpendGuard
	Tracker    *usage.Tracker

	Skills SkillDiscoverer
	Drift  DriftDetector

	// OperationMode reports the daemon's current mode; a nil func is
	// treated as always-normal.
	OperationMode func() config.OperationMode

	// Metrics is optional; a nil Registry disables all Prometheus
	// recording without the caller needing a no-op implementation.
	Metrics *metrics.Registry

	Clock  func() time.Time
	Logger *slog.Logger
}

func (d *Dependencies) withDefaults() *Dependencies {
	out := *d
	if out.Skills == nil {
		out.Skills = NoopSkillDiscoverer{}
	}
	if out.Drift == nil {
		out.Drift = NoopDriftDetector{}
	}
	if out.Clock == nil {
		out.Clock = time.Now
	}
	if out.Logger == nil {
		out.Logger = slog.Default()
	}
	return &out
}

// Request is one inbound `POST chat` call, already past transport-level
// validation (§6; the httpapi package owns JSON decoding and attachment
// checks).
type Request struct {
	SessionID string
	AgentID   string
	Message   string

	// Model, when set, is the request-scoped provider/model override,
	// taking precedence over the agent's and session's defaults (§4.G
	// step 4's override chain).
	Model string
}

// Loop drives one agent's runs. One Loop is normally shared process-wide
// per agent; RunState isolation lives in the Run Supervisor, not here.
type Loop struct {
	deps     *Dependencies
	agent    AgentProfile
	thinking chatmodel.ThinkingConfig
	runMode  chatmodel.RunModeConfig
	economy  chatmodel.EconomyConfig
}

// New builds a Loop for one agent profile and its starting run-time
// configuration (mutable afterward via chat/run-config, chat/thinking).
func New(deps Dependencies, agent AgentProfile, runMode chatmodel.RunModeConfig, economy chatmodel.EconomyConfig, thinking chatmodel.ThinkingConfig) *Loop {
	return &Loop{
		deps:     deps.withDefaults(),
		agent:    agent,
		thinking: thinking,
		runMode:  runMode,
		economy:  economy,
	}
}

// SetThinking updates the reasoning configuration (chat/thinking PATCH).
func (l *Loop) SetThinking(cfg chatmodel.ThinkingConfig) { l.thinking = cfg }

// Thinking returns the current reasoning configuration.
func (l *Loop) Thinking() chatmodel.ThinkingConfig { return l.thinking }

// SetRunMode updates run-mode/iteration-cap configuration (chat/run-config PATCH).
func (l *Loop) SetRunMode(cfg chatmodel.RunModeConfig) { l.runMode = cfg }

// RunMode returns the current run-mode configuration.
func (l *Loop) RunMode() chatmodel.RunModeConfig { return l.runMode }

// SetEconomy updates economy-mode configuration.
func (l *Loop) SetEconomy(cfg chatmodel.EconomyConfig) { l.economy = cfg }

// Economy returns the current economy-mode configuration.
func (l *Loop) Economy() chatmodel.EconomyConfig { return l.economy }
