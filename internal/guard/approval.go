package guard

import (
	"context"
	"fmt"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/relaycore/chatengine/internal/chatmodel"
)

// AgentPolicy narrows the global approval mode for one agent. It can only
// tighten what the global mode already does: Deny removes a tool outright
// for this agent regardless of mode, and Require forces approval for a
// tool this agent's mode would otherwise wave through. While the gate is
// locked (bypassAllPermissions), Require is ignored; Deny still applies.
// There is no allow list, since that would loosen the global mode rather
// than narrow it.
// Patterns match chatmodel.ToolDefinition.Name with path.Match, so
// "fs.*" matches every tool in the fs family.
type AgentPolicy struct {
	Deny    []string
	Require []string
}

func matchesAny(patterns []string, name string) bool {
	for _, p := range patterns {
		if ok, err := path.Match(p, name); ok && err == nil {
			return true
		}
	}
	return false
}

// PendingRequest is a tool call awaiting an external approve/deny decision,
// modeled as a future: ApprovalGate.Check registers it, hands it to the
// OnPending hook and then blocks in Await itself, and a separate
// control-plane call to Resolve (triggered by POST chat/approve) completes
// it.
type PendingRequest struct {
	ID        string
	RunID     string
	ToolName  string
	ArgsJSON  string
	CreatedAt time.Time

	done     chan struct{}
	approved bool
	once     sync.Once
}

func newPendingRequest(runID, toolName, argsJSON string) *PendingRequest {
	return &PendingRequest{
		ID:        uuid.NewString(),
		RunID:     runID,
		ToolName:  toolName,
		ArgsJSON:  argsJSON,
		CreatedAt: time.Now(),
		done:      make(chan struct{}),
	}
}

func (p *PendingRequest) resolve(approved bool) {
	p.once.Do(func() {
		p.approved = approved
		close(p.done)
	})
}

// Await blocks until the request is resolved or ctx is cancelled.
func (p *PendingRequest) Await(ctx context.Context) (bool, error) {
	select {
	case <-p.done:
		return p.approved, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// OnPending is invoked synchronously whenever a new approval request is
// opened, so the caller can emit the approval_pending stream event.
type OnPendingFunc func(req *PendingRequest)

// ApprovalGate implements the off|mutate|always approval modes. It is
// shared process-wide (one instance per agent, typically), since pending
// requests must be resolvable by a later, unrelated RPC.
type ApprovalGate struct {
	mu      sync.Mutex
	mode    chatmodel.ApprovalMode
	locked  bool // true once BypassAllPermissions forces mode=off
	pending map[string]*PendingRequest

	// alwaysApprove holds tool names granted "allow always" for the
	// lifetime of the gate via allowAlways=true on a resolution.
	alwaysApprove map[string]bool

	// agentPolicies holds per-agent narrowing overrides, keyed by agent ID.
	agentPolicies map[string]AgentPolicy

	onPending OnPendingFunc
}

// NewApprovalGate constructs a gate in the given mode.
func NewApprovalGate(mode chatmodel.ApprovalMode) *ApprovalGate {
	return &ApprovalGate{
		mode:          mode,
		pending:       make(map[string]*PendingRequest),
		alwaysApprove: make(map[string]bool),
		agentPolicies: make(map[string]AgentPolicy),
	}
}

// SetAgentPolicy installs or clears (policy == nil) the narrowing override
// for one agent. It never loosens the global mode set by SetMode/Lock.
func (g *ApprovalGate) SetAgentPolicy(agentID string, policy *AgentPolicy) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if policy == nil {
		delete(g.agentPolicies, agentID)
		return
	}
	g.agentPolicies[agentID] = *policy
}

// AgentPolicy returns the narrowing override for an agent, if any.
func (g *ApprovalGate) AgentPolicy(agentID string) (AgentPolicy, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.agentPolicies[agentID]
	return p, ok
}

func (g *ApprovalGate) Name() string { return "approval" }

// SetOnPending installs the callback fired each time a new pending request
// opens.
func (g *ApprovalGate) SetOnPending(fn OnPendingFunc) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onPending = fn
}

// SetMode changes the approval mode. While locked it leaves the mode
// unchanged and returns an error.
func (g *ApprovalGate) SetMode(mode chatmodel.ApprovalMode) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.locked {
		return fmt.Errorf("guard: approval mode is locked by bypassAllPermissions")
	}
	g.mode = mode
	return nil
}

// Mode returns the current mode and whether it is locked.
func (g *ApprovalGate) Mode() (chatmodel.ApprovalMode, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.mode, g.locked
}

// Lock forces mode=off and prevents SetMode from changing it, mirroring
// bypassAllPermissions on the run-mode config.
func (g *ApprovalGate) Lock() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.mode = chatmodel.ApprovalModeOff
	g.locked = true
}

// Unlock releases a previous Lock, restoring normal SetMode behavior.
func (g *ApprovalGate) Unlock() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.locked = false
}

func (g *ApprovalGate) Check(ctx context.Context, call Call) (Decision, error) {
	g.mu.Lock()
	mode := g.mode
	locked := g.locked
	alwaysApproved := g.alwaysApprove[call.Tool.Name]
	policy, hasPolicy := g.agentPolicies[call.AgentID]
	g.mu.Unlock()

	if hasPolicy && matchesAny(policy.Deny, call.Tool.Name) {
		return Decision{Allowed: false, DenyReason: "denied by agent approval policy"}, nil
	}

	if alwaysApproved {
		return allow, nil
	}

	requiresApproval := false
	switch mode {
	case chatmodel.ApprovalModeOff:
		requiresApproval = false
	case chatmodel.ApprovalModeAlways:
		requiresApproval = true
	case chatmodel.ApprovalModeMutate:
		requiresApproval = call.Tool.Category == chatmodel.CategoryMutate || call.Tool.Category == chatmodel.CategoryExec
	}

	if hasPolicy && !locked && matchesAny(policy.Require, call.Tool.Name) {
		requiresApproval = true
	}

	if !requiresApproval {
		return allow, nil
	}

	req := newPendingRequest(call.RunID, call.Tool.Name, call.ToolCall.ArgsJSON)

	g.mu.Lock()
	g.pending[req.ID] = req
	onPending := g.onPending
	g.mu.Unlock()

	if onPending != nil {
		onPending(req)
	}

	approved, err := req.Await(ctx)

	g.mu.Lock()
	delete(g.pending, req.ID)
	g.mu.Unlock()

	if err != nil {
		return Decision{}, err
	}
	if !approved {
		return Decision{Allowed: false, DenyReason: "approval denied"}, nil
	}
	return Decision{Allowed: true, RequiresApproval: true, ApprovalID: req.ID}, nil
}

// Resolve answers a pending approval request by id, as triggered by
// POST chat/approve. allowAlways auto-approves the same tool name for the
// remainder of the gate's lifetime.
func (g *ApprovalGate) Resolve(id string, approved, allowAlways bool) error {
	g.mu.Lock()
	req, ok := g.pending[id]
	if ok && approved && allowAlways {
		g.alwaysApprove[req.ToolName] = true
	}
	g.mu.Unlock()

	if !ok {
		return fmt.Errorf("guard: no pending approval with id %s", strings.TrimSpace(id))
	}
	req.resolve(approved)
	return nil
}

// PendingFor lists outstanding requests, most useful for a status surface.
func (g *ApprovalGate) PendingFor(runID string) []*PendingRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []*PendingRequest
	for _, req := range g.pending {
		if runID == "" || req.RunID == runID {
			out = append(out, req)
		}
	}
	return out
}
