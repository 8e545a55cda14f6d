// Cloudflare Workers AI Provider implementation using go-openai library.
//
// Information Hiding:
// - Uses the OpenAI-compatible Workers AI endpoint scoped to an account
// - Model ids carry the "@cf/" catalog prefix
// - Streaming via go-openai library

package llm

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// CloudflareBaseURL returns the OpenAI-compatible endpoint for an account.
func CloudflareBaseURL(accountID string) string {
	return fmt.Sprintf("https://api.cloudflare.com/client/v4/accounts/%s/ai/v1", accountID)
}

// CloudflareProvider implements the Provider interface for Cloudflare Workers AI.
type CloudflareProvider struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float32
}

// NewCloudflareProvider creates a new Workers AI provider against baseURL.
func NewCloudflareProvider(apiKey, baseURL, model string, maxTokens uint32, temperature float32) *CloudflareProvider {
	config := openai.DefaultConfig(apiKey)
	config.BaseURL = baseURL

	return &CloudflareProvider{
		client:      openai.NewClientWithConfig(config),
		model:       model,
		maxTokens:   int(maxTokens),
		temperature: temperature,
	}
}

// Name returns the provider name.
func (p *CloudflareProvider) Name() string {
	return "cloudflare"
}

// Model returns the current model.
func (p *CloudflareProvider) Model() string {
	return p.model
}

// Chat sends a chat completion request.
func (p *CloudflareProvider) Chat(ctx context.Context, messages []ChatMessage) (LLMResponse, error) {
	return openAIChat(ctx, p.client, p.request(messages))
}

// StreamChat streams a chat completion. Workers AI does not report usage on
// streamed responses, so the returned usage is usually nil.
func (p *CloudflareProvider) StreamChat(ctx context.Context, messages []ChatMessage, chunks chan<- string) (*TokenUsage, error) {
	req := p.request(messages)
	req.Stream = true
	return openAIStream(ctx, p.client, req, chunks)
}

func (p *CloudflareProvider) request(messages []ChatMessage) openai.ChatCompletionRequest {
	return openai.ChatCompletionRequest{
		Model:       p.model,
		Messages:    convertToOpenAIMessages(messages),
		MaxTokens:   p.maxTokens,
		Temperature: p.temperature,
	}
}

// Verify CloudflareProvider implements Provider
var _ Provider = (*CloudflareProvider)(nil)
