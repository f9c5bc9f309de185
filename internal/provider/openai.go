package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	openai "github.com/sashabaranov/go-openai"

	"github.com/relaycore/chatengine/internal/chatmodel"
)

// OpenAIAdapter speaks the OpenAI-style Chat Completions wire protocol.
// Canonical messages map 1-to-1 onto it, so this adapter is the baseline
// the Anthropic adapter's streaming conversion is measured against.
type OpenAIAdapter struct {
	client *openai.Client
	name   string
}

// NewOpenAIAdapter builds an adapter against baseURL (empty for the public
// API) using apiKey for Bearer auth.
func NewOpenAIAdapter(name, apiKey, baseURL string) *OpenAIAdapter {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIAdapter{client: openai.NewClientWithConfig(cfg), name: name}
}

func (a *OpenAIAdapter) Name() string   { return a.name }
func (a *OpenAIAdapter) Dialect() Dialect { return DialectOpenAI }

// reasoningEffortCapable lists models known to accept reasoning_effort;
// the mapping from ThinkingLevel is a straight pass-through for these and
// omitted entirely for anything else.
var reasoningEffortCapable = map[string]bool{
	"o1":      true,
	"o1-mini": true,
	"o3":      true,
	"o3-mini": true,
}

func (a *OpenAIAdapter) Stream(ctx context.Context, req CompletionRequest) (<-chan StreamEvent, error) {
	messages, err := convertMessagesToOpenAI(req.Messages, req.System)
	if err != nil {
		return nil, fmt.Errorf("provider: convert messages: %w", err)
	}

	chatReq := openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: messages,
		Stream:   true,
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = convertToolsToOpenAI(req.Tools)
	}
	if req.IncludeUsage {
		chatReq.StreamOptions = &openai.StreamOptions{IncludeUsage: true}
	}
	if req.ReasoningEffort != "" && req.ReasoningEffort != chatmodel.ThinkingOff && reasoningEffortCapable[req.Model] {
		chatReq.ReasoningEffort = string(req.ReasoningEffort)
	}

	stream, err := a.client.CreateChatCompletionStream(ctx, chatReq)
	if err != nil {
		return nil, classifyOpenAIErr(a.name, req.Model, err)
	}

	events := make(chan StreamEvent)
	go streamOpenAI(ctx, a.name, req.Model, stream, events)
	return events, nil
}

func streamOpenAI(ctx context.Context, providerName, model string, stream *openai.ChatCompletionStream, events chan<- StreamEvent) {
	defer close(events)
	defer stream.Close()

	for {
		select {
		case <-ctx.Done():
			events <- StreamEvent{Err: ctx.Err(), Done: true}
			return
		default:
		}

		chunk, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				events <- StreamEvent{Done: true}
				return
			}
			events <- StreamEvent{Err: classifyOpenAIErr(providerName, model, err), Done: true}
			return
		}

		if len(chunk.Choices) == 0 {
			if chunk.Usage != nil {
				events <- StreamEvent{Usage: &UsageDelta{
					PromptTokens:     int64(chunk.Usage.PromptTokens),
					CompletionTokens: int64(chunk.Usage.CompletionTokens),
				}}
			}
			continue
		}

		choice := chunk.Choices[0]
		event := StreamEvent{ContentDelta: choice.Delta.Content}

		for _, tc := range choice.Delta.ToolCalls {
			index := 0
			if tc.Index != nil {
				index = *tc.Index
			}
			event.ToolCallDeltas = append(event.ToolCallDeltas, ToolCallDelta{
				Index:          index,
				ID:             tc.ID,
				Name:           tc.Function.Name,
				ArgumentsDelta: tc.Function.Arguments,
			})
		}

		if choice.FinishReason != "" {
			event.FinishReason = string(choice.FinishReason)
		}

		if chunk.Usage != nil {
			event.Usage = &UsageDelta{
				PromptTokens:     int64(chunk.Usage.PromptTokens),
				CompletionTokens: int64(chunk.Usage.CompletionTokens),
			}
		}

		events <- event
	}
}

func convertMessagesToOpenAI(messages []chatmodel.Message, system string) ([]openai.ChatCompletionMessage, error) {
	result := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if system != "" {
		result = append(result, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}

	for _, msg := range messages {
		oaiMsg := openai.ChatCompletionMessage{Role: string(msg.Role)}

		if hasImageParts(msg.Parts) {
			oaiMsg.MultiContent = convertPartsToOpenAI(msg.Content, msg.Parts)
		} else {
			oaiMsg.Content = msg.Content
		}

		for _, tc := range msg.ToolCalls {
			oaiMsg.ToolCalls = append(oaiMsg.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: tc.ArgsJSON,
				},
			})
		}
		if msg.Role == chatmodel.RoleTool {
			oaiMsg.ToolCallID = msg.ToolCallID
		}

		result = append(result, oaiMsg)
	}
	return result, nil
}

func hasImageParts(parts []chatmodel.Part) bool {
	for _, p := range parts {
		if p.Type == chatmodel.PartImage {
			return true
		}
	}
	return false
}

func convertPartsToOpenAI(fallbackText string, parts []chatmodel.Part) []openai.ChatMessagePart {
	var out []openai.ChatMessagePart
	if fallbackText != "" {
		out = append(out, openai.ChatMessagePart{Type: openai.ChatMessagePartTypeText, Text: fallbackText})
	}
	for _, p := range parts {
		switch p.Type {
		case chatmodel.PartText:
			out = append(out, openai.ChatMessagePart{Type: openai.ChatMessagePartTypeText, Text: p.Text})
		case chatmodel.PartImage:
			out = append(out, openai.ChatMessagePart{
				Type:     openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{URL: p.ImageDataURL()},
			})
		}
	}
	return out
}

func convertToolsToOpenAI(tools []chatmodel.ToolDefinition) []openai.Tool {
	out := make([]openai.Tool, 0, len(tools))
	for _, t := range tools {
		var params any
		if len(t.ParamSchema) > 0 {
			_ = json.Unmarshal(t.ParamSchema, &params)
		}
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			},
		})
	}
	return out
}

func classifyOpenAIErr(providerName, model string, err error) *LLMApiError {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return NewAPIError(providerName, model, apiErr.HTTPStatusCode, apiErr.Message, err)
	}
	return NewAPIError(providerName, model, 0, err.Error(), err)
}
