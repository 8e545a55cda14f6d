// Package llm provides LLM provider abstractions and the model registry.
//
// LLM Provider interface - the abstract interface for LLM providers.
// Each provider implementation hides:
// - API client initialization and authentication
// - Request/response format conversion
// - Provider-specific streaming

package llm

import (
	"context"
)

// Provider defines the abstract interface for LLM providers.
type Provider interface {
	// Name returns the provider name (for logging/debugging).
	Name() string

	// Model returns the current model being used.
	Model() string

	// Chat sends a chat completion request.
	Chat(ctx context.Context, messages []ChatMessage) (LLMResponse, error)

	// StreamChat streams a chat completion, sending chunks to the provided channel.
	// Returns token usage (available in final chunk when supported by provider).
	StreamChat(ctx context.Context, messages []ChatMessage, chunks chan<- string) (*TokenUsage, error)
}
