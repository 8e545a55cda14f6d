// OpenAI Provider implementation using go-openai library.
//
// Information Hiding:
// - API endpoint and authentication
// - Request/response format for OpenAI Chat Completions API
// - Streaming via go-openai library (shared with OpenAI-compatible endpoints)

package llm

import (
	"context"
	"errors"
	"fmt"
	"io"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIProvider implements the Provider interface for OpenAI.
type OpenAIProvider struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float32
}

// NewOpenAIProvider creates a new OpenAI provider.
func NewOpenAIProvider(apiKey, model string, maxTokens uint32, temperature float32) *OpenAIProvider {
	return &OpenAIProvider{
		client:      openai.NewClient(apiKey),
		model:       model,
		maxTokens:   int(maxTokens),
		temperature: temperature,
	}
}

// Name returns the provider name.
func (p *OpenAIProvider) Name() string {
	return "openai"
}

// Model returns the current model.
func (p *OpenAIProvider) Model() string {
	return p.model
}

// Chat sends a chat completion request.
func (p *OpenAIProvider) Chat(ctx context.Context, messages []ChatMessage) (LLMResponse, error) {
	return openAIChat(ctx, p.client, p.request(messages))
}

// StreamChat streams a chat completion.
func (p *OpenAIProvider) StreamChat(ctx context.Context, messages []ChatMessage, chunks chan<- string) (*TokenUsage, error) {
	req := p.request(messages)
	req.Stream = true
	req.StreamOptions = &openai.StreamOptions{IncludeUsage: true}
	return openAIStream(ctx, p.client, req, chunks)
}

func (p *OpenAIProvider) request(messages []ChatMessage) openai.ChatCompletionRequest {
	return openai.ChatCompletionRequest{
		Model:       p.model,
		Messages:    convertToOpenAIMessages(messages),
		MaxTokens:   p.maxTokens,
		Temperature: p.temperature,
	}
}

func openAIChat(ctx context.Context, client *openai.Client, req openai.ChatCompletionRequest) (LLMResponse, error) {
	resp, err := client.CreateChatCompletion(ctx, req)
	if err != nil {
		return LLMResponse{}, fmt.Errorf("chat completion failed: %w", err)
	}

	content := ""
	if len(resp.Choices) > 0 {
		content = resp.Choices[0].Message.Content
	}

	usage := &TokenUsage{
		PromptTokens:     uint32(resp.Usage.PromptTokens),
		CompletionTokens: uint32(resp.Usage.CompletionTokens),
		TotalTokens:      uint32(resp.Usage.TotalTokens),
	}

	return LLMResponse{Content: content, Usage: usage}, nil
}

func openAIStream(ctx context.Context, client *openai.Client, req openai.ChatCompletionRequest, chunks chan<- string) (*TokenUsage, error) {
	stream, err := client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("stream creation failed: %w", err)
	}
	defer stream.Close()

	var usage *TokenUsage
	for {
		response, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return usage, nil
		}
		if err != nil {
			return usage, fmt.Errorf("stream recv failed: %w", err)
		}

		// Usage arrives on the final chunk
		if response.Usage != nil {
			usage = &TokenUsage{
				PromptTokens:     uint32(response.Usage.PromptTokens),
				CompletionTokens: uint32(response.Usage.CompletionTokens),
				TotalTokens:      uint32(response.Usage.TotalTokens),
			}
		}

		if len(response.Choices) > 0 {
			content := response.Choices[0].Delta.Content
			if content != "" {
				select {
				case chunks <- content:
				case <-ctx.Done():
					return usage, ctx.Err()
				}
			}
		}
	}
}

// convertToOpenAIMessages converts our ChatMessage to openai.ChatCompletionMessage
func convertToOpenAIMessages(messages []ChatMessage) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, len(messages))
	for i, msg := range messages {
		result[i] = openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		}
	}
	return result
}

// Verify OpenAIProvider implements Provider
var _ Provider = (*OpenAIProvider)(nil)
