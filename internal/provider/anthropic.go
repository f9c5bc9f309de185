package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/relaycore/chatengine/internal/chatmodel"
)

// AnthropicAdapter speaks the Anthropic Messages API and converts its SSE
// stream into the same canonical StreamEvent shape the OpenAI adapter
// produces, so the Chat Loop never branches on dialect past this point.
type AnthropicAdapter struct {
	client anthropic.Client
	name   string
}

// NewAnthropicAdapter builds an adapter with the given API key and
// (optional) base URL override, for Anthropic-compatible gateways.
func NewAnthropicAdapter(name, apiKey, baseURL string) *AnthropicAdapter {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &AnthropicAdapter{client: anthropic.NewClient(opts...), name: name}
}

func (a *AnthropicAdapter) Name() string     { return a.name }
func (a *AnthropicAdapter) Dialect() Dialect { return DialectAnthropic }

func (a *AnthropicAdapter) Stream(ctx context.Context, req CompletionRequest) (<-chan StreamEvent, error) {
	messages, err := convertMessagesToAnthropic(req.Messages)
	if err != nil {
		return nil, fmt.Errorf("provider: convert messages: %w", err)
	}

	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		Messages:  messages,
		MaxTokens: maxTokens,
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if len(req.Tools) > 0 {
		params.Tools = convertToolsToAnthropic(req.Tools)
	}

	stream := a.client.Messages.NewStreaming(ctx, params)

	events := make(chan StreamEvent)
	go streamAnthropic(a.name, req.Model, stream, events)
	return events, nil
}

// anthropicEventStream is the minimal surface of ssestream.Stream this
// adapter consumes, kept as an interface so tests can supply a fake.
type anthropicEventStream interface {
	Next() bool
	Current() anthropic.MessageStreamEventUnion
	Err() error
}

func streamAnthropic(providerName, model string, stream anthropicEventStream, events chan<- StreamEvent) {
	defer close(events)

	// toolIndex maps an Anthropic content-block index to the stable
	// canonical tool-call index emitted on content_block_start, per §4.E.
	toolIndex := make(map[int64]int)
	nextIndex := 0

	for stream.Next() {
		event := stream.Current()

		switch event.Type {
		case "message_start":
			ms := event.AsMessageStart()
			if ms.Message.Usage.InputTokens > 0 {
				events <- StreamEvent{Usage: &UsageDelta{PromptTokens: ms.Message.Usage.InputTokens}}
			}

		case "content_block_start":
			cbs := event.AsContentBlockStart()
			if cbs.ContentBlock.Type != "tool_use" {
				continue
			}
			toolUse := cbs.ContentBlock.AsToolUse()
			idx := nextIndex
			nextIndex++
			toolIndex[cbs.Index] = idx
			events <- StreamEvent{ToolCallDeltas: []ToolCallDelta{{
				Index: idx,
				ID:    toolUse.ID,
				Name:  toolUse.Name,
			}}}

		case "content_block_delta":
			cbd := event.AsContentBlockDelta()
			switch cbd.Delta.Type {
			case "text_delta":
				if cbd.Delta.Text != "" {
					events <- StreamEvent{ContentDelta: cbd.Delta.Text}
				}
			case "input_json_delta":
				if cbd.Delta.PartialJSON != "" {
					idx, ok := toolIndex[cbd.Index]
					if !ok {
						continue
					}
					events <- StreamEvent{ToolCallDeltas: []ToolCallDelta{{
						Index:          idx,
						ArgumentsDelta: cbd.Delta.PartialJSON,
					}}}
				}
			}

		case "message_delta":
			md := event.AsMessageDelta()
			if md.Usage.OutputTokens > 0 {
				events <- StreamEvent{Usage: &UsageDelta{CompletionTokens: md.Usage.OutputTokens}}
			}
			if reason := string(md.Delta.StopReason); reason != "" {
				events <- StreamEvent{FinishReason: mapAnthropicStopReason(reason)}
			}

		case "message_stop":
			events <- StreamEvent{Done: true}
			return

		case "error":
			events <- StreamEvent{Err: NewAPIError(providerName, model, 0, "anthropic stream error", errors.New("stream error event")), Done: true}
			return
		}
	}

	if err := stream.Err(); err != nil {
		events <- StreamEvent{Err: classifyAnthropicErr(providerName, model, err), Done: true}
		return
	}
	events <- StreamEvent{Done: true}
}

func mapAnthropicStopReason(reason string) string {
	switch reason {
	case "tool_use":
		return "tool_calls"
	case "end_turn", "stop_sequence":
		return "stop"
	case "max_tokens":
		return "length"
	default:
		return reason
	}
}

func convertMessagesToAnthropic(messages []chatmodel.Message) ([]anthropic.MessageParam, error) {
	result := make([]anthropic.MessageParam, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case chatmodel.RoleSystem:
			// System text is extracted separately by the caller (req.System);
			// a stray system message mid-transcript is folded into a user
			// message so content is never silently dropped.
			result = append(result, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))

		case chatmodel.RoleUser:
			var blocks []anthropic.ContentBlockParamUnion
			if msg.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			blocks = append(blocks, imageBlocksFromParts(msg.Parts)...)
			if len(blocks) == 0 {
				blocks = append(blocks, anthropic.NewTextBlock(""))
			}
			result = append(result, anthropic.NewUserMessage(blocks...))

		case chatmodel.RoleAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			if msg.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, chatmodel.ArgsRawOrFallback(tc.ArgsJSON), tc.Name))
			}
			result = append(result, anthropic.NewAssistantMessage(blocks...))

		case chatmodel.RoleTool:
			result = append(result, anthropic.NewUserMessage(
				anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, false),
			))
		}
	}
	return result, nil
}

func imageBlocksFromParts(parts []chatmodel.Part) []anthropic.ContentBlockParamUnion {
	var blocks []anthropic.ContentBlockParamUnion
	for _, p := range parts {
		if p.Type != chatmodel.PartImage {
			continue
		}
		blocks = append(blocks, anthropic.NewImageBlockBase64(p.MediaType, p.ImageBase64))
	}
	return blocks
}

func convertToolsToAnthropic(tools []chatmodel.ToolDefinition) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		schema := anthropic.ToolInputSchemaParam{}
		if len(t.ParamSchema) > 0 {
			_ = schema.UnmarshalJSON(t.ParamSchema)
		}
		toolParam := anthropic.ToolUnionParamOfTool(schema, t.Name)
		toolParam.OfTool.Description = anthropic.String(t.Description)
		out = append(out, toolParam)
	}
	return out
}

func classifyAnthropicErr(providerName, model string, err error) *LLMApiError {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return NewAPIError(providerName, model, apiErr.StatusCode, apiErr.Error(), err)
	}
	if strings.Contains(strings.ToLower(err.Error()), "context canceled") {
		return NewAPIError(providerName, model, 0, err.Error(), err)
	}
	return NewAPIError(providerName, model, 0, err.Error(), err)
}
