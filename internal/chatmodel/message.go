// Package chatmodel defines the canonical, provider-neutral data model shared
// by every component of the chat orchestration core: messages, tool calls,
// tool definitions, and the journal/run types layered on top of them.
package chatmodel

import (
	"encoding/json"
	"fmt"
)

// Role identifies who authored a Message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// PartType distinguishes the kinds of content a Message part can carry.
type PartType string

const (
	PartText       PartType = "text"
	PartImage      PartType = "image"
	PartToolUse    PartType = "tool_use"
	PartToolResult PartType = "tool_result"
)

// Part is one element of a structured message body. Messages are either a
// plain Content string or a list of Parts; never both populated at once.
type Part struct {
	Type PartType `json:"type"`

	// Text holds the text for PartText.
	Text string `json:"text,omitempty"`

	// ImageBase64 and MediaType hold inline image data for PartImage.
	ImageBase64 string `json:"image_base64,omitempty"`
	MediaType   string `json:"media_type,omitempty"`

	// ToolCall holds the call for PartToolUse.
	ToolCall *ToolCall `json:"tool_call,omitempty"`

	// ToolResult holds the outcome for PartToolResult.
	ToolCallID string `json:"tool_call_id,omitempty"`
	Result     string `json:"result,omitempty"`
	IsError    bool   `json:"is_error,omitempty"`
}

// ImageDataURL renders a PartImage as a data: URL, the form OpenAI-style
// vision content and Anthropic's data-URL parsing both expect.
func (p Part) ImageDataURL() string {
	return fmt.Sprintf("data:%s;base64,%s", p.MediaType, p.ImageBase64)
}

// ToolCall is an LLM-requested tool invocation. ArgsJSON is kept as raw text
// while streaming: provider adapters concatenate argument fragments across
// chunks and only parse once the call is complete (see provider.Dialect).
type ToolCall struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	ArgsJSON string `json:"args_json"`
}

// Args unmarshals ArgsJSON into v. Malformed JSON is the caller's concern;
// ArgsRawOrFallback below is used where a best-effort parse is wanted.
func (tc ToolCall) Args(v any) error {
	return json.Unmarshal([]byte(tc.ArgsJSON), v)
}

// ArgsRawOrFallback parses ArgsJSON as a generic map, falling back to
// {"raw": argsJSON} when the arguments are not valid JSON. The Anthropic
// adapter's tool_use re-emission needs this best-effort behavior rather
// than a hard failure.
func ArgsRawOrFallback(argsJSON string) map[string]any {
	var parsed map[string]any
	if err := json.Unmarshal([]byte(argsJSON), &parsed); err != nil || parsed == nil {
		return map[string]any{"raw": argsJSON}
	}
	return parsed
}

// Message is one turn in the canonical transcript.
type Message struct {
	Role Role `json:"role"`

	// Content is the plain-text body. Empty when Parts is used instead.
	Content string `json:"content,omitempty"`

	// Parts carries structured content (images, tool use/result blocks).
	Parts []Part `json:"parts,omitempty"`

	// ToolCalls is populated on assistant messages that request tool use.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID links a tool-role message back to the ToolCall it answers.
	ToolCallID string `json:"tool_call_id,omitempty"`
}

// HasToolCalls reports whether the message carries one or more tool calls.
func (m Message) HasToolCalls() bool {
	return len(m.ToolCalls) > 0
}
