package guard

import (
	"errors"
	"sync"

	"github.com/relaycore/chatengine/internal/chatmodel"
	"github.com/relaycore/chatengine/internal/usage"
)

// ErrSpendLimitReached is returned by PrecheckRun when a new run must be
// rejected outright (HTTP 429, code=CHAT_SPEND_LIMIT_REACHED).
var ErrSpendLimitReached = errors.New("guard: daily spend limit reached")

// SpendGuard tracks the rolling 24h budget and decides, at two distinct
// points, whether to act: PrecheckRun before a run is admitted, and
// ShouldHalt mid-run once usage has been recorded.
//
// SpendGuard is not itself a Gate: it does not judge individual tool
// calls, it judges whether the run as a whole may continue. The Chat Loop
// calls it directly rather than through the gate pipeline.
type SpendGuard struct {
	mu      sync.RWMutex
	cfg     chatmodel.SpendGuardConfig
	tracker *usage.Tracker
}

// NewSpendGuard constructs a guard over the given config and tracker.
func NewSpendGuard(cfg chatmodel.SpendGuardConfig, tracker *usage.Tracker) *SpendGuard {
	return &SpendGuard{cfg: cfg, tracker: tracker}
}

// SetConfig replaces the guard's configuration, e.g. from
// POST chat/run-config.
func (g *SpendGuard) SetConfig(cfg chatmodel.SpendGuardConfig) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cfg = cfg
}

// Snapshot returns the current read-only view. Idempotent: calling it
// twice with no Record in between returns identical values (§8).
func (g *SpendGuard) Snapshot() chatmodel.SpendGuardSnapshot {
	g.mu.RLock()
	cfg := g.cfg
	g.mu.RUnlock()
	return usage.Snapshot(g.tracker, cfg)
}

// PrecheckRun is run before a new run is admitted. It rejects when spend is
// paused, or when a budget is configured, already exceeded, and
// autoPauseOnLimit is set (§4.C-4's pre-run rule).
func (g *SpendGuard) PrecheckRun() error {
	g.mu.RLock()
	cfg := g.cfg
	g.mu.RUnlock()

	if cfg.Paused {
		return ErrSpendLimitReached
	}
	if cfg.DailyBudgetUSD == nil || !cfg.AutoPauseOnLimit {
		return nil
	}
	if g.tracker.Spent24h() >= *cfg.DailyBudgetUSD {
		return ErrSpendLimitReached
	}
	return nil
}

// Charge appends rec to the rolling window as given; it does no
// deduplication (RunState.SpendCharged is where a caller tracks what it
// has already charged for a run).
func (g *SpendGuard) Charge(rec usage.Record) {
	g.tracker.Record(rec)
}

// ShouldHalt is evaluated after a completion, once usage has been charged.
// It reports whether the budget is now exceeded and pending tool calls
// must be skipped (mid-run rule, §4.C-4): unlike PrecheckRun, this check
// does not require autoPauseOnLimit — an exceeded budget always halts a
// run already in flight once it learns about it.
func (g *SpendGuard) ShouldHalt() bool {
	g.mu.RLock()
	cfg := g.cfg
	g.mu.RUnlock()

	if cfg.DailyBudgetUSD == nil {
		return false
	}
	return g.tracker.Spent24h() >= *cfg.DailyBudgetUSD
}

// Pause/Resume implement the spendPaused field of chat/run-config.
func (g *SpendGuard) Pause() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cfg.Paused = true
}

func (g *SpendGuard) Resume() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cfg.Paused = false
}
