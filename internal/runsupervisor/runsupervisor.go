// Package runsupervisor tracks per-run lifecycle: id allocation, cancel
// handles, and concurrent-run bookkeeping (§4.H).
package runsupervisor

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/relaycore/chatengine/internal/chatmodel"
)

// Supervisor owns every RunState currently live. A RunState exists only
// between Start and its terminal End/Abort call, matching §3's lifecycle
// invariant.
type Supervisor struct {
	mu      sync.RWMutex
	runs    map[string]*chatmodel.RunState
	counter int64

	// clock is overridable so tests can pin wall-clock time without the
	// Date.now()-style nondeterminism the rest of the build must avoid.
	clock func() time.Time
}

// New returns an empty Supervisor using time.Now as its clock.
func New() *Supervisor {
	return &Supervisor{
		runs:  make(map[string]*chatmodel.RunState),
		clock: time.Now,
	}
}

// Start allocates a new RunState for sessionID and registers it. The
// returned context is cancelled when the run is aborted or when the parent
// ctx is cancelled; End deregisters the run without cancelling it.
func (s *Supervisor) Start(ctx context.Context, sessionID string, maxIterations int) (*chatmodel.RunState, context.Context) {
	runCtx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	s.counter++
	runID := fmt.Sprintf("run-%s-%s", strconv.FormatInt(s.clock().UnixNano(), 36), strconv.FormatInt(s.counter, 10))
	run := &chatmodel.RunState{
		RunID:         runID,
		SessionID:     sessionID,
		Cancel:        cancel,
		StartedAt:     s.clock(),
		MaxIterations: maxIterations,
	}
	s.runs[runID] = run
	s.mu.Unlock()

	return run, runCtx
}

// Get returns the live RunState for runID, or nil if it is not running.
func (s *Supervisor) Get(runID string) *chatmodel.RunState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.runs[runID]
}

// Abort cancels the run's context and removes it from the live set. Safe to
// call more than once; subsequent calls are no-ops.
func (s *Supervisor) Abort(runID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return false
	}
	run.Cancel()
	delete(s.runs, runID)
	return true
}

// AbortSession aborts every live run belonging to sessionID, returning how
// many were aborted. Used when a session is torn down while runs are live.
func (s *Supervisor) AbortSession(sessionID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, run := range s.runs {
		if run.SessionID == sessionID {
			run.Cancel()
			delete(s.runs, id)
			n++
		}
	}
	return n
}

// End marks a run as finished normally, removing it from the live set
// without cancelling (the run already reached a terminal event on its own).
func (s *Supervisor) End(runID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.runs, runID)
}

// Active returns the RunIDs of every currently live run, for diagnostics
// and concurrent-run bookkeeping.
func (s *Supervisor) Active() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.runs))
	for id := range s.runs {
		out = append(out, id)
	}
	return out
}

// ActiveCount reports how many runs are currently live.
func (s *Supervisor) ActiveCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.runs)
}
