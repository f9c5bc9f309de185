package provider

import (
	"context"

	"github.com/relaycore/chatengine/internal/chatmodel"
)

// CompletionRequest is the canonical request built by the Context Preparer
// for one provider call.
type CompletionRequest struct {
	Model    string
	System   string
	Messages []chatmodel.Message
	Tools    []chatmodel.ToolDefinition

	MaxTokens int

	// ReasoningEffort maps from ThinkingConfig.Level for providers whose
	// capability table advertises support for it.
	ReasoningEffort chatmodel.ThinkingLevel

	// IncludeUsage requests a trailing usage chunk on OpenAI-style streams.
	IncludeUsage bool
}

// ToolCallDelta is one fragment of a streaming tool call, keyed by a
// stable index so fragments from different calls never interleave
// (§4.E/§9: "maintain a per-index {id,name,argsBuffer} record").
type ToolCallDelta struct {
	Index          int
	ID             string
	Name           string
	ArgumentsDelta string
}

// UsageDelta reports token counts as they become known. OpenAI-style
// streams emit this once, on the final chunk; Anthropic-style streams
// emit prompt tokens at message_start and completion tokens at
// message_delta, both converted here.
type UsageDelta struct {
	PromptTokens     int64
	CompletionTokens int64
}

// StreamEvent is one unit of the canonical stream every dialect adapter
// produces, mirroring the OpenAI delta shape the spec names directly:
// choices[0].delta.{content, tool_calls[]}.
type StreamEvent struct {
	ContentDelta   string
	ToolCallDeltas []ToolCallDelta
	Usage          *UsageDelta
	FinishReason   string
	Done           bool
	Err            error
}

// Adapter is a single provider's translation of the canonical request/
// stream shapes to and from its concrete wire protocol.
type Adapter interface {
	Name() string
	Dialect() Dialect
	Stream(ctx context.Context, req CompletionRequest) (<-chan StreamEvent, error)
}
