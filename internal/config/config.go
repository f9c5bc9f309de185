// Package config loads and hot-reloads the daemon's YAML configuration
// tree, with environment-variable overrides applied once at boot.
package config

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/relaycore/chatengine/internal/chatmodel"
	"github.com/relaycore/chatengine/internal/usage"
)

// OperationMode gates whether the Chat Loop accepts new runs (§4.G
// pre-flight: "reject if daemon operation mode is not normal").
type OperationMode string

const (
	ModeNormal      OperationMode = "normal"
	ModeMaintenance OperationMode = "maintenance"
	ModeDegraded    OperationMode = "degraded"
)

// ProviderConfig is one configured LLM backend.
type ProviderConfig struct {
	Name    string     `yaml:"name"`
	Dialect string     `yaml:"dialect"`
	BaseURL string     `yaml:"base_url"`
	APIKey  string     `yaml:"api_key"`
	Model   string     `yaml:"model"`
	Cost    usage.Cost `yaml:"cost"`
}

// AgentConfig is one configured agent: its default provider/model plus a
// fallback chain (§4.G step 4's "[primary, ...agent.fallbacks]").
type AgentConfig struct {
	ID        string   `yaml:"id"`
	Provider  string   `yaml:"provider"`
	Model     string   `yaml:"model"`
	Fallbacks []string `yaml:"fallbacks"`
	Identity  string   `yaml:"identity"`

	// Approval narrows the process-wide approval mode for this agent only.
	// Nil means the agent is governed by the global mode alone.
	Approval *AgentApprovalConfig `yaml:"approval,omitempty"`
}

// AgentApprovalConfig is the YAML shape of guard.AgentPolicy.
type AgentApprovalConfig struct {
	Deny    []string `yaml:"deny"`
	Require []string `yaml:"require"`
}

// Config is the daemon's full configuration tree.
type Config struct {
	OperationMode OperationMode              `yaml:"operation_mode"`
	Providers     []ProviderConfig           `yaml:"providers"`
	Agents        []AgentConfig              `yaml:"agents"`
	RunMode       chatmodel.RunModeConfig    `yaml:"run_mode"`
	Economy       chatmodel.EconomyConfig    `yaml:"economy"`
	Thinking      chatmodel.ThinkingConfig   `yaml:"thinking"`
	Approval      chatmodel.ApprovalMode     `yaml:"approval_mode"`
	SpendGuard    chatmodel.SpendGuardConfig `yaml:"spend_guard"`
	JournalTTL    time.Duration              `yaml:"journal_ttl"`
	Logging       LoggingConfig              `yaml:"logging"`
}

// LoggingConfig configures the process-wide slog logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads and parses path, applies environment variable overrides
// (§6's Environment section), then defaults and validation, matching the
// teacher's Load pipeline in internal/config/config.go.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	decoder := yaml.NewDecoder(strings.NewReader(expanded))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("config: %s must contain exactly one YAML document", path)
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnvOverrides reads the environment variables §6 names, once at boot.
func applyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("DAILY_BUDGET_USD")); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.SpendGuard.DailyBudgetUSD = &f
		}
	}
	if v := strings.TrimSpace(os.Getenv("DAILY_BUDGET_AUTO_PAUSE")); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.SpendGuard.AutoPauseOnLimit = b
		}
	}
	if v := strings.TrimSpace(os.Getenv("ALLOW_IRREVERSIBLE_ACTIONS")); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.RunMode.AllowIrreversibleActions = b
		}
	}
}

func applyDefaults(cfg *Config) {
	if cfg.OperationMode == "" {
		cfg.OperationMode = ModeNormal
	}
	if cfg.RunMode.Mode == "" {
		defaults := chatmodel.DefaultRunModeConfig()
		defaults.BypassAllPermissions = cfg.RunMode.BypassAllPermissions
		defaults.AllowIrreversibleActions = cfg.RunMode.AllowIrreversibleActions
		cfg.RunMode = defaults
	}
	if cfg.Economy == (chatmodel.EconomyConfig{}) {
		cfg.Economy = chatmodel.DefaultEconomyConfig()
	}
	if cfg.Thinking == (chatmodel.ThinkingConfig{}) {
		cfg.Thinking = chatmodel.DefaultThinkingConfig()
	}
	if cfg.Approval == "" {
		cfg.Approval = chatmodel.ApprovalModeMutate
	}
	if cfg.JournalTTL == 0 {
		cfg.JournalTTL = 30 * 24 * time.Hour
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
}

func validate(cfg *Config) error {
	switch cfg.OperationMode {
	case ModeNormal, ModeMaintenance, ModeDegraded:
	default:
		return fmt.Errorf("config: invalid operation_mode %q", cfg.OperationMode)
	}
	seen := make(map[string]bool, len(cfg.Providers))
	for _, p := range cfg.Providers {
		if p.Name == "" {
			return fmt.Errorf("config: provider entry missing name")
		}
		if seen[p.Name] {
			return fmt.Errorf("config: duplicate provider name %q", p.Name)
		}
		seen[p.Name] = true
	}
	return nil
}
