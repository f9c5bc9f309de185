package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/relaycore/chatengine/internal/chathistory"
	"github.com/relaycore/chatengine/internal/chatloop"
	"github.com/relaycore/chatengine/internal/config"
	"github.com/relaycore/chatengine/internal/contextprep"
	"github.com/relaycore/chatengine/internal/guard"
	"github.com/relaycore/chatengine/internal/httpapi"
	"github.com/relaycore/chatengine/internal/journal"
	"github.com/relaycore/chatengine/internal/metrics"
	"github.com/relaycore/chatengine/internal/provider"
	"github.com/relaycore/chatengine/internal/runsupervisor"
	"github.com/relaycore/chatengine/internal/tools/builtin"
	"github.com/relaycore/chatengine/internal/toolregistry"
	"github.com/relaycore/chatengine/internal/undo"
	"github.com/relaycore/chatengine/internal/usage"
)

// contextCompactionThreshold is the context preparer's Threshold: an
// estimated token count above which the transcript is compacted rather
// than replayed in full. The default SizeCompactor drops older turns
// (keeping the system message and the most recent ones); it does not
// summarize them (§4.G step 3, context compaction).
const contextCompactionThreshold = 40

// runServe implements the serve command: builds every dependency, boots
// the HTTP surface and the background prune job, then blocks until a
// shutdown signal arrives.
func runServe(ctx context.Context, configPath, addr string, debug bool) error {
	if debug {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})))
	}

	slog.Info("starting chatengined", "version", version, "commit", commit, "config", configPath)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	store := config.NewStore(cfg)

	watcher, err := config.NewWatcher(configPath, store, slog.Default())
	if err != nil {
		slog.Warn("config hot-reload disabled", "error", err)
	} else {
		watcher.Start()
		defer watcher.Close()
	}

	reg := metrics.New()

	j := journal.NewMemoryStore()
	undoRegistry := undo.NewRegistry()
	undoService := undo.New(j, undoRegistry)

	approvalGate := guard.NewApprovalGate(cfg.Approval)
	stack := guard.NewStack(approvalGate)
	toolRegistry := toolregistry.New(stack, j)

	toolSet := builtin.NewToolSet(workspaceDir())
	if err := toolSet.Register(toolRegistry); err != nil {
		return fmt.Errorf("register built-in tools: %w", err)
	}
	toolSet.RegisterReverseHandlers(undoRegistry)

	tracker := usage.NewTracker(usage.DefaultTrackerConfig())
	spendGuard := guard.NewSpendGuard(cfg.SpendGuard, tracker)

	supervisor := runsupervisor.New()
	opMode := func() config.OperationMode { return store.Get().OperationMode }

	providers := make(map[string]config.ProviderConfig, len(cfg.Providers))
	for _, p := range cfg.Providers {
		providers[p.Name] = p
	}

	loops := make(map[string]*chatloop.Loop, len(cfg.Agents))
	for _, a := range cfg.Agents {
		agentProfile, err := buildAgentProfile(a, providers)
		if err != nil {
			return fmt.Errorf("agent %q: %w", a.ID, err)
		}
		if a.Approval != nil {
			approvalGate.SetAgentPolicy(a.ID, &guard.AgentPolicy{
				Deny:    a.Approval.Deny,
				Require: a.Approval.Require,
			})
		}

		history := chathistory.NewMemoryStore()
		preparer := contextprep.NewPreparer(history, contextCompactionThreshold)

		deps := chatloop.Dependencies{
			Supervisor:    supervisor,
			Preparer:      preparer,
			Registry:      toolRegistry,
			History:       history,
			SpendGuard:    spendGuard,
			Tracker:       tracker,
			OperationMode: opMode,
			Metrics:       reg,
		}
		loops[a.ID] = chatloop.New(deps, agentProfile, cfg.RunMode, cfg.Economy, cfg.Thinking)
	}
	if len(loops) == 0 {
		return fmt.Errorf("config: at least one agent must be configured")
	}
	defaultAgent := cfg.Agents[0].ID

	server := httpapi.New(httpapi.Config{
		Loops:         loops,
		DefaultAgent:  defaultAgent,
		Supervisor:    supervisor,
		Approval:      approvalGate,
		SpendGuard:    spendGuard,
		Undo:          undoService,
		Journal:       j,
		OperationMode: opMode,
		Metrics:       reg,
	})

	pruneJob := cron.New()
	ttl := cfg.JournalTTL
	if _, err := pruneJob.AddFunc("@every 1h", func() {
		pruned, err := j.Prune(context.Background(), ttl)
		if err != nil {
			slog.Error("journal prune failed", "error", err)
			return
		}
		if pruned > 0 {
			slog.Info("journal pruned", "removed", pruned, "ttl", ttl)
		}
		snapshot := spendGuard.Snapshot()
		reg.SetSpendSnapshot(defaultAgent, snapshot.Remaining, snapshot.Paused)
	}); err != nil {
		return fmt.Errorf("schedule journal prune: %w", err)
	}
	pruneJob.Start()
	defer pruneJob.Stop()

	if err := server.Start(addr); err != nil {
		return fmt.Errorf("start http server: %w", err)
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	<-ctx.Done()

	slog.Info("shutdown signal received, stopping")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	server.Stop(shutdownCtx)

	slog.Info("chatengined stopped")
	return nil
}

func workspaceDir() string {
	if v := os.Getenv("CHATENGINE_WORKSPACE"); v != "" {
		return v
	}
	wd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return wd
}

// buildAgentProfile resolves an agent's primary and fallback model targets
// against the configured provider table, instantiating one wire adapter
// per distinct provider entry referenced.
func buildAgentProfile(a config.AgentConfig, providers map[string]config.ProviderConfig) (chatloop.AgentProfile, error) {
	primary, err := buildModelTarget(a.Provider, a.Model, providers)
	if err != nil {
		return chatloop.AgentProfile{}, fmt.Errorf("primary target: %w", err)
	}

	fallbacks := make([]chatloop.ModelTarget, 0, len(a.Fallbacks))
	for _, name := range a.Fallbacks {
		target, err := buildModelTarget(name, "", providers)
		if err != nil {
			return chatloop.AgentProfile{}, fmt.Errorf("fallback target %q: %w", name, err)
		}
		fallbacks = append(fallbacks, target)
	}

	return chatloop.AgentProfile{
		ID:        a.ID,
		Identity:  a.Identity,
		Primary:   primary,
		Fallbacks: fallbacks,
	}, nil
}

func buildModelTarget(providerName, modelOverride string, providers map[string]config.ProviderConfig) (chatloop.ModelTarget, error) {
	p, ok := providers[providerName]
	if !ok {
		return chatloop.ModelTarget{}, fmt.Errorf("unknown provider %q", providerName)
	}
	model := p.Model
	if modelOverride != "" {
		model = modelOverride
	}

	dialect := provider.DetectDialect(provider.Dialect(p.Dialect), p.BaseURL)
	var adapter provider.Adapter
	switch dialect {
	case provider.DialectAnthropic:
		adapter = provider.NewAnthropicAdapter(p.Name, p.APIKey, p.BaseURL)
	default:
		adapter = provider.NewOpenAIAdapter(p.Name, p.APIKey, p.BaseURL)
	}

	return chatloop.ModelTarget{
		ProviderName: p.Name,
		Model:        model,
		Adapter:      adapter,
		Cost:         p.Cost,
	}, nil
}
