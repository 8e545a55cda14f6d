// Anthropic Provider implementation using official anthropic-sdk-go.
//
// Information Hiding:
// - API endpoint and authentication
// - Request/response format for Anthropic Messages API
// - System prompt lifted out of the message list
// - Streaming via official SDK

package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicProvider implements the Provider interface for Anthropic Claude.
type AnthropicProvider struct {
	client      anthropic.Client
	model       string
	maxTokens   int64
	temperature float64
}

// NewAnthropicProvider creates a new Anthropic provider.
func NewAnthropicProvider(apiKey, model string, maxTokens uint32, temperature float32) *AnthropicProvider {
	client := anthropic.NewClient(
		option.WithAPIKey(apiKey),
	)

	return &AnthropicProvider{
		client:      client,
		model:       model,
		maxTokens:   int64(maxTokens),
		temperature: float64(temperature),
	}
}

// Name returns the provider name.
func (p *AnthropicProvider) Name() string {
	return "anthropic"
}

// Model returns the current model.
func (p *AnthropicProvider) Model() string {
	return p.model
}

// Chat sends a chat completion request.
func (p *AnthropicProvider) Chat(ctx context.Context, messages []ChatMessage) (LLMResponse, error) {
	message, err := p.client.Messages.New(ctx, p.params(messages))
	if err != nil {
		return LLMResponse{}, fmt.Errorf("chat completion failed: %w", err)
	}

	var content strings.Builder
	for _, block := range message.Content {
		if variant, ok := block.AsAny().(anthropic.TextBlock); ok {
			content.WriteString(variant.Text)
		}
	}

	var usage *TokenUsage
	if message.Usage.InputTokens > 0 || message.Usage.OutputTokens > 0 {
		usage = &TokenUsage{
			PromptTokens:     uint32(message.Usage.InputTokens),
			CompletionTokens: uint32(message.Usage.OutputTokens),
			TotalTokens:      uint32(message.Usage.InputTokens + message.Usage.OutputTokens),
		}
	}

	return LLMResponse{Content: content.String(), Usage: usage}, nil
}

// StreamChat streams a chat completion.
func (p *AnthropicProvider) StreamChat(ctx context.Context, messages []ChatMessage, chunks chan<- string) (*TokenUsage, error) {
	stream := p.client.Messages.NewStreaming(ctx, p.params(messages))

	var usage *TokenUsage
	for stream.Next() {
		event := stream.Current()

		switch eventVariant := event.AsAny().(type) {
		case anthropic.MessageStartEvent:
			if eventVariant.Message.Usage.InputTokens > 0 {
				usage = &TokenUsage{
					PromptTokens: uint32(eventVariant.Message.Usage.InputTokens),
				}
			}
		case anthropic.ContentBlockDeltaEvent:
			if deltaVariant, ok := eventVariant.Delta.AsAny().(anthropic.TextDelta); ok && deltaVariant.Text != "" {
				select {
				case chunks <- deltaVariant.Text:
				case <-ctx.Done():
					return usage, ctx.Err()
				}
			}
		case anthropic.MessageDeltaEvent:
			if eventVariant.Usage.OutputTokens > 0 {
				if usage == nil {
					usage = &TokenUsage{}
				}
				usage.CompletionTokens = uint32(eventVariant.Usage.OutputTokens)
				usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
			}
		}
	}

	if stream.Err() != nil {
		return usage, fmt.Errorf("stream error: %w", stream.Err())
	}

	return usage, nil
}

func (p *AnthropicProvider) params(messages []ChatMessage) anthropic.MessageNewParams {
	anthropicMessages, systemPrompt := convertToAnthropicMessages(messages)

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(p.model),
		MaxTokens:   p.maxTokens,
		Messages:    anthropicMessages,
		Temperature: anthropic.Float(p.temperature),
	}
	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{
			{Text: systemPrompt},
		}
	}
	return params
}

// convertToAnthropicMessages converts our ChatMessage to Anthropic format.
// System messages are concatenated and returned separately.
func convertToAnthropicMessages(messages []ChatMessage) ([]anthropic.MessageParam, string) {
	var anthropicMessages []anthropic.MessageParam
	var system []string

	for _, msg := range messages {
		switch msg.Role {
		case "system":
			system = append(system, msg.Content)
		case "user":
			anthropicMessages = append(anthropicMessages, anthropic.NewUserMessage(
				anthropic.NewTextBlock(msg.Content),
			))
		case "assistant":
			anthropicMessages = append(anthropicMessages, anthropic.NewAssistantMessage(
				anthropic.NewTextBlock(msg.Content),
			))
		}
	}

	return anthropicMessages, strings.Join(system, "\n\n")
}

// Verify AnthropicProvider implements Provider
var _ Provider = (*AnthropicProvider)(nil)
