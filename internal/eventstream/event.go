// Package eventstream frames internal chat-loop events into the
// server-to-client wire protocol: one JSON object per event, heartbeat
// comments while idle, and a terminal [DONE] sentinel (§4.I).
package eventstream

// Kind is the required `type` field on every wire event.
type Kind string

const (
	KindRunStart         Kind = "run_start"
	KindSessionInfo      Kind = "session_info"
	KindProgress         Kind = "progress"
	KindToken            Kind = "token"
	KindThinking         Kind = "thinking"
	KindToolCall         Kind = "tool_call"
	KindToolResult       Kind = "tool_result"
	KindApprovalPending  Kind = "approval_pending"
	KindWarning          Kind = "warning"
	KindUsage            Kind = "usage"
	KindCompaction       Kind = "compaction"
	KindAlignment        Kind = "alignment"
	KindFallback         Kind = "fallback"
	KindDirectiveApplied Kind = "directive_applied"
	KindAborted          Kind = "aborted"
	KindError            Kind = "error"
	KindDone             Kind = "done"
)

// terminalKinds are the kinds that end a run's event stream. Per §5's
// ordering guarantee, exactly one of these is emitted, and it is last.
var terminalKinds = map[Kind]bool{
	KindDone:    true,
	KindAborted: true,
	KindError:   true,
}

// IsTerminal reports whether kind ends the stream.
func IsTerminal(kind Kind) bool {
	return terminalKinds[kind]
}

// Event is one frame on the wire: a required Type plus a kind-specific
// payload. Payload is left as `any` (usually a map or a typed payload
// struct) since every kind's shape differs and the encoder only needs to
// marshal it alongside Type.
type Event struct {
	Type    Kind `json:"type"`
	Payload any  `json:"-"`
}

// MarshalJSON flattens Payload's fields alongside "type" so the wire
// representation is a single flat object, not {"type":...,"payload":{...}}.
func (e Event) MarshalJSON() ([]byte, error) {
	return marshalFlat(e.Type, e.Payload)
}

// New builds an Event of the given kind with the given payload (typically
// a struct or map with json tags for its fields).
func New(kind Kind, payload any) Event {
	return Event{Type: kind, Payload: payload}
}

// ProgressPayload accompanies KindProgress.
type ProgressPayload struct {
	Iteration int `json:"iteration"`
	Max       int `json:"max"`
}

// TokenPayload accompanies KindToken.
type TokenPayload struct {
	Text string `json:"text"`
}

// ThinkingPayload accompanies KindThinking.
type ThinkingPayload struct {
	Text      string `json:"text"`
	Streaming bool   `json:"streaming"`
}

// ToolCallPayload accompanies KindToolCall.
type ToolCallPayload struct {
	Name      string `json:"name"`
	Args      string `json:"args"`
	Iteration int    `json:"iteration"`
	Max       int    `json:"max"`
}

// ToolResultPayload accompanies KindToolResult.
type ToolResultPayload struct {
	Name    string `json:"name"`
	Result  string `json:"result"`
	IsError bool   `json:"isError,omitempty"`
}

// ApprovalPendingPayload accompanies KindApprovalPending.
type ApprovalPendingPayload struct {
	ID       string `json:"id"`
	ToolName string `json:"toolName"`
	Args     string `json:"args"`
}

// WarningPayload accompanies KindWarning.
type WarningPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// UsagePayload accompanies KindUsage.
type UsagePayload struct {
	PromptTokens     int64 `json:"promptTokens"`
	CompletionTokens int64 `json:"completionTokens"`
	TotalTokens      int64 `json:"totalTokens"`
}

// CompactionPayload accompanies KindCompaction.
type CompactionPayload struct {
	MessageCountBefore int               `json:"messageCountBefore"`
	MessageCountAfter  int               `json:"messageCountAfter"`
	Dropped            int               `json:"dropped"`
	Metadata           map[string]string `json:"metadata,omitempty"`
}

// FallbackPayload accompanies KindFallback.
type FallbackPayload struct {
	FailedModel string `json:"failedModel"`
	Error       string `json:"error"`
}

// DonePayload accompanies KindDone.
type DonePayload struct {
	Spend any `json:"spend,omitempty"`
}

// AbortedPayload accompanies KindAborted.
type AbortedPayload struct {
	Reason string `json:"reason,omitempty"`
}

// ErrorPayload accompanies KindError.
type ErrorPayload struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}
