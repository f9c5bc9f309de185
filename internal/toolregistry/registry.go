// Package toolregistry holds ToolDefinitions, exposes a policy-filtered
// schema list to the Provider Adapter, and dispatches execution through the
// Guard Stack, journaling every invocation.
package toolregistry

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/relaycore/chatengine/internal/chatmodel"
	"github.com/relaycore/chatengine/internal/guard"
	"github.com/relaycore/chatengine/internal/journal"
)

// Tool limits mirror the teacher's resource-exhaustion guards.
const (
	MaxToolNameLength  = 256
	MaxToolParamsBytes = 10 << 20
)

// Handler executes one tool invocation given its raw argument JSON.
type Handler func(ctx context.Context, argsJSON string) chatmodel.ToolResult

// entry pairs a ToolDefinition with its handler and compiled schema.
type entry struct {
	def     chatmodel.ToolDefinition
	handler Handler
	schema  *jsonschema.Schema
}

// Policy is an agent-scoped allow/deny filter over tool names. Patterns
// support exact match, "mcp:*", and trailing-"*" prefix match, matching the
// pattern language the corpus uses for approval and tool-result policies.
type Policy struct {
	Allow []string
	Deny  []string
}

func matchesPattern(patterns []string, name string) bool {
	for _, pattern := range patterns {
		if pattern == "" {
			continue
		}
		if pattern == "*" {
			return true
		}
		if pattern == "mcp:*" && strings.HasPrefix(name, "mcp:") {
			return true
		}
		if strings.HasSuffix(pattern, "*") {
			if strings.HasPrefix(name, strings.TrimSuffix(pattern, "*")) {
				return true
			}
			continue
		}
		if pattern == name {
			return true
		}
	}
	return false
}

// Allows reports whether name passes the policy: denylist wins over
// allowlist; an empty allowlist means "no restriction".
func (p Policy) Allows(name string) bool {
	if matchesPattern(p.Deny, name) {
		return false
	}
	if len(p.Allow) == 0 {
		return true
	}
	return matchesPattern(p.Allow, name)
}

// Registry is the thread-safe home of every tool the loop can call.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry

	guards  *guard.Stack
	journal journal.Journal
}

// New wires a registry to the guard stack and journal it must consult on
// every Execute call.
func New(guards *guard.Stack, j journal.Journal) *Registry {
	return &Registry{
		entries: make(map[string]*entry),
		guards:  guards,
		journal: j,
	}
}

// Register adds or replaces a tool. ParamSchema, if non-empty, is compiled
// once up front so a malformed schema fails at registration rather than on
// the first call.
func (r *Registry) Register(def chatmodel.ToolDefinition, handler Handler) error {
	var compiled *jsonschema.Schema
	if len(def.ParamSchema) > 0 {
		sch, err := jsonschema.CompileString(def.Name+".schema.json", string(def.ParamSchema))
		if err != nil {
			return fmt.Errorf("toolregistry: compile schema for %s: %w", def.Name, err)
		}
		compiled = sch
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[def.Name] = &entry{def: def, handler: handler, schema: compiled}
	return nil
}

// Unregister removes a tool, e.g. when a sub-agent's swarm session ends.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, name)
}

// Get returns a tool's definition by name.
func (r *Registry) Get(name string) (chatmodel.ToolDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return chatmodel.ToolDefinition{}, false
	}
	return e.def, true
}

// Definitions returns the schema list filtered by policy, for the Provider
// Adapter to pass to the LLM.
func (r *Registry) Definitions(policy Policy) []chatmodel.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]chatmodel.ToolDefinition, 0, len(r.entries))
	for name, e := range r.entries {
		if policy.Allows(name) {
			out = append(out, e.def)
		}
	}
	return out
}

// ExecuteOutcome is what Execute reports back to the Chat Loop: the tool
// result plus the sealed ActionRecord id it was journaled under, so the
// loop can build the tool_result event and, on denial, the
// undo_guarantee_blocked warning.
type ExecuteOutcome struct {
	Result   chatmodel.ToolResult
	RecordID int64
	Denied   bool
	Approval chatmodel.ApprovalOutcome
}

// Execute validates, guards, journals, and dispatches one tool call in
// sequence, matching §4.D/§4.G's ordering: journal record opens before the
// tool runs, the guard stack is consulted first, and the record seals
// exactly once regardless of outcome.
func (r *Registry) Execute(ctx context.Context, runID, agentID string, call chatmodel.ToolCall, runMode chatmodel.RunModeConfig) (ExecuteOutcome, error) {
	if len(call.Name) > MaxToolNameLength {
		return ExecuteOutcome{Result: chatmodel.ToolResult{
			Content: fmt.Sprintf("tool name exceeds maximum length of %d characters", MaxToolNameLength),
			IsError: true,
		}}, nil
	}
	if len(call.ArgsJSON) > MaxToolParamsBytes {
		return ExecuteOutcome{Result: chatmodel.ToolResult{
			Content: fmt.Sprintf("tool parameters exceed maximum size of %d bytes", MaxToolParamsBytes),
			IsError: true,
		}}, nil
	}

	r.mu.RLock()
	e, ok := r.entries[call.Name]
	r.mu.RUnlock()
	if !ok {
		return ExecuteOutcome{Result: chatmodel.ToolResult{
			Content: "tool not found: " + call.Name,
			IsError: true,
		}}, nil
	}

	if e.schema != nil {
		var decoded any
		if err := json.Unmarshal([]byte(call.ArgsJSON), &decoded); err != nil {
			return ExecuteOutcome{Result: chatmodel.ToolResult{
				Content: fmt.Sprintf("invalid arguments for %s: %v", call.Name, err),
				IsError: true,
			}}, nil
		}
		if err := e.schema.Validate(decoded); err != nil {
			return ExecuteOutcome{Result: chatmodel.ToolResult{
				Content: fmt.Sprintf("arguments for %s failed schema validation: %v", call.Name, err),
				IsError: true,
			}}, nil
		}
	}

	gateCall := guard.Call{RunID: runID, AgentID: agentID, Tool: e.def, ToolCall: call, RunMode: runMode}
	decision, err := r.guards.Check(ctx, gateCall)
	if err != nil {
		return ExecuteOutcome{}, err
	}

	approval := chatmodel.ApprovalAuto
	if runMode.BypassAllPermissions {
		approval = chatmodel.ApprovalBypassed
	} else if decision.RequiresApproval {
		approval = chatmodel.ApprovalGranted
	}

	rec, err := r.journal.Record(ctx, journal.Draft{
		RunID:    runID,
		Tool:     call.Name,
		Category: e.def.Category,
		Args:     call.ArgsJSON,
		Approval: approval,
		Undoable: e.def.IsUndoable,
	})
	if err != nil {
		return ExecuteOutcome{}, err
	}

	if !decision.Allowed {
		result := chatmodel.ToolResult{
			Content:                decision.DenyReason,
			IsError:                true,
			BlockedByUndoGuarantee: decision.BlockedByUndoGuarantee,
		}
		sealErr := "denied"
		if decision.BlockedByUndoGuarantee {
			sealErr = "blocked_by_undo_guarantee"
		}
		_ = r.journal.Complete(ctx, rec.ID, "", sealErr+": "+decision.DenyReason)
		return ExecuteOutcome{Result: result, RecordID: rec.ID, Denied: true, Approval: chatmodel.ApprovalDenied}, nil
	}

	result := e.handler(ctx, call.ArgsJSON)

	toolErr := ""
	if result.IsError {
		toolErr = result.Content
	}
	if err := r.journal.Complete(ctx, rec.ID, result.Content, toolErr); err != nil {
		return ExecuteOutcome{}, err
	}

	return ExecuteOutcome{Result: result, RecordID: rec.ID, Approval: approval}, nil
}
