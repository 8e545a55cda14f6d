// Google Gemini Provider implementation using official google.golang.org/genai SDK.
//
// Information Hiding:
// - API authentication and client creation
// - Request/response format for Gemini API
// - System instruction handling via config
// - Streaming via official SDK iterator

package llm

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// GeminiProvider implements the Provider interface for Google Gemini.
type GeminiProvider struct {
	client      *genai.Client
	model       string
	maxTokens   int32
	temperature float32
	initErr     error // returned on first use
}

// NewGeminiProvider creates a new Gemini provider.
// If client initialization fails, the error is stored and returned on first use.
func NewGeminiProvider(apiKey, model string, maxTokens uint32, temperature float32) *GeminiProvider {
	p := &GeminiProvider{
		model:       model,
		maxTokens:   int32(maxTokens),
		temperature: temperature,
	}
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		p.initErr = fmt.Errorf("failed to initialize Gemini client: %w", err)
		return p
	}
	p.client = client
	return p
}

// Name returns the provider name.
func (p *GeminiProvider) Name() string {
	return "gemini"
}

// Model returns the current model.
func (p *GeminiProvider) Model() string {
	return p.model
}

// Chat sends a chat completion request.
func (p *GeminiProvider) Chat(ctx context.Context, messages []ChatMessage) (LLMResponse, error) {
	if err := p.ready(); err != nil {
		return LLMResponse{}, err
	}

	contents, config := p.request(messages)
	response, err := p.client.Models.GenerateContent(ctx, p.model, contents, config)
	if err != nil {
		return LLMResponse{}, fmt.Errorf("chat completion failed: %w", err)
	}

	content := response.Text()
	if content == "" {
		return LLMResponse{}, fmt.Errorf("empty response from Gemini")
	}

	return LLMResponse{Content: content, Usage: geminiUsage(response)}, nil
}

// StreamChat streams a chat completion.
func (p *GeminiProvider) StreamChat(ctx context.Context, messages []ChatMessage, chunks chan<- string) (*TokenUsage, error) {
	if err := p.ready(); err != nil {
		return nil, err
	}

	contents, config := p.request(messages)

	var usage *TokenUsage
	for response, err := range p.client.Models.GenerateContentStream(ctx, p.model, contents, config) {
		if err != nil {
			return usage, fmt.Errorf("stream error: %w", err)
		}
		if u := geminiUsage(response); u != nil {
			usage = u
		}

		text := response.Text()
		if text != "" {
			select {
			case chunks <- text:
			case <-ctx.Done():
				return usage, ctx.Err()
			}
		}
	}

	return usage, nil
}

func (p *GeminiProvider) ready() error {
	if p.initErr != nil {
		return p.initErr
	}
	if p.client == nil {
		return fmt.Errorf("gemini client not initialized")
	}
	return nil
}

func (p *GeminiProvider) request(messages []ChatMessage) ([]*genai.Content, *genai.GenerateContentConfig) {
	contents, systemInstruction := convertToGeminiMessages(messages)

	config := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(p.temperature),
		MaxOutputTokens: p.maxTokens,
	}
	if systemInstruction != "" {
		config.SystemInstruction = genai.NewContentFromText(systemInstruction, genai.RoleUser)
	}
	return contents, config
}

func geminiUsage(response *genai.GenerateContentResponse) *TokenUsage {
	if response == nil || response.UsageMetadata == nil {
		return nil
	}
	return &TokenUsage{
		PromptTokens:     uint32(response.UsageMetadata.PromptTokenCount),
		CompletionTokens: uint32(response.UsageMetadata.CandidatesTokenCount),
		TotalTokens:      uint32(response.UsageMetadata.TotalTokenCount),
	}
}

// convertToGeminiMessages converts our ChatMessage to Gemini format.
// System messages are concatenated and returned separately.
func convertToGeminiMessages(messages []ChatMessage) ([]*genai.Content, string) {
	var contents []*genai.Content
	var system []string

	for _, msg := range messages {
		switch msg.Role {
		case "system":
			system = append(system, msg.Content)
		case "user":
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleUser))
		case "assistant":
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleModel))
		}
	}

	return contents, strings.Join(system, "\n\n")
}

// Verify GeminiProvider implements Provider
var _ Provider = (*GeminiProvider)(nil)
