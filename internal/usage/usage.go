// Package usage tracks per-run token usage and a rolling 24h spend window,
// adapted from the teacher's standalone usage tracker into the Spend Guard's
// backing store.
package usage

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/relaycore/chatengine/internal/chatmodel"
)

// Cost is per-million-token pricing for one model.
type Cost struct {
	Input  float64 `yaml:"input" json:"input"`
	Output float64 `yaml:"output" json:"output"`
}

// Estimate returns the USD cost of the given tally under this pricing.
func (c Cost) Estimate(tally chatmodel.UsageTally) float64 {
	total := float64(tally.PromptTokens)*c.Input + float64(tally.CompletionTokens)*c.Output
	return total / 1_000_000
}

// Record is one charge against the rolling window (the Chat Loop records
// one per iteration, holding the usage not yet charged for that run), kept
// only long enough to compute the rolling 24h total.
type Record struct {
	RunID     string
	Provider  string
	Model     string
	Tally     chatmodel.UsageTally
	CostUSD   float64
	Timestamp time.Time
}

// Tracker accumulates spend Records and answers rolling-window queries for
// the Spend Guard gate.
type Tracker struct {
	mu       sync.RWMutex
	records  []Record
	maxAge   time.Duration
	maxCount int
}

// TrackerConfig configures retention.
type TrackerConfig struct {
	MaxAge   time.Duration
	MaxCount int
}

// DefaultTrackerConfig matches the teacher's defaults: a 24h window capped
// at 10000 records, which is also exactly the Spend Guard's accounting
// window.
func DefaultTrackerConfig() TrackerConfig {
	return TrackerConfig{MaxAge: 24 * time.Hour, MaxCount: 10000}
}

// NewTracker builds a Tracker, falling back to defaults for zero fields.
func NewTracker(cfg TrackerConfig) *Tracker {
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 24 * time.Hour
	}
	if cfg.MaxCount <= 0 {
		cfg.MaxCount = 10000
	}
	return &Tracker{maxAge: cfg.MaxAge, maxCount: cfg.MaxCount}
}

// Record appends a charge and prunes anything that has aged out of the
// window. Charging the same run twice is the caller's responsibility to
// avoid (RunState.SpendCharged exists for exactly this).
func (t *Tracker) Record(r Record) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now()
	}
	t.records = append(t.records, r)
	t.pruneLocked()
}

func (t *Tracker) pruneLocked() {
	cutoff := time.Now().Add(-t.maxAge)
	startIdx := len(t.records)
	for i, r := range t.records {
		if r.Timestamp.After(cutoff) {
			startIdx = i
			break
		}
	}
	if startIdx > 0 {
		t.records = t.records[startIdx:]
	}
	if len(t.records) > t.maxCount {
		t.records = t.records[len(t.records)-t.maxCount:]
	}
}

// Spent24h sums CostUSD across every record still inside the rolling
// window. Calling it twice with no intervening Record is idempotent: the
// window only shrinks on a Record call, not on a read.
func (t *Tracker) Spent24h() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	cutoff := time.Now().Add(-t.maxAge)
	var total float64
	for _, r := range t.records {
		if r.Timestamp.After(cutoff) {
			total += r.CostUSD
		}
	}
	return total
}

// Snapshot evaluates the tracker's spend against cfg without mutating
// either.
func Snapshot(t *Tracker, cfg chatmodel.SpendGuardConfig) chatmodel.SpendGuardSnapshot {
	spent := t.Spent24h()
	snap := chatmodel.SpendGuardSnapshot{
		DailyBudgetUSD:   cfg.DailyBudgetUSD,
		Spent24h:         spent,
		AutoPauseOnLimit: cfg.AutoPauseOnLimit,
		Paused:           cfg.Paused,
	}
	if cfg.DailyBudgetUSD != nil {
		snap.Remaining = *cfg.DailyBudgetUSD - spent
		snap.Exceeded = spent >= *cfg.DailyBudgetUSD
	}
	return snap
}

// FormatTokenCount renders a token count the way the daemon's status
// surface and CLI do.
func FormatTokenCount(count int64) string {
	switch {
	case count <= 0:
		return "0"
	case count >= 1_000_000:
		return fmt.Sprintf("%.1fm", float64(count)/1_000_000)
	case count >= 10_000:
		return fmt.Sprintf("%dk", count/1_000)
	case count >= 1_000:
		return fmt.Sprintf("%.1fk", float64(count)/1_000)
	default:
		return fmt.Sprintf("%d", count)
	}
}

// FormatUSD renders a dollar amount, collapsing non-finite or non-positive
// values to an empty string so callers can omit them from a status line.
func FormatUSD(amount float64) string {
	if amount <= 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return ""
	}
	if amount >= 0.01 {
		return fmt.Sprintf("$%.2f", amount)
	}
	return fmt.Sprintf("$%.4f", amount)
}
