// LLM Provider Factory - builder-first API for creating LLM providers.
//
// Quick Start:
//
//	// Defaults, API key from the environment
//	openai, err := llm.ProviderOpenAI.FromEnv()
//
//	// Full configuration
//	custom, err := llm.ProviderAnthropic.
//	    Model(llm.ModelAnthropicClaudeSonnet4).
//	    MaxTokens(8192).
//	    Temperature(0.3).
//	    FromEnv()
//
//	// Workers AI needs an account-scoped endpoint
//	cf, err := llm.ProviderCloudflare.Model(llm.ModelCloudflareLlama31_8B).
//	    BaseURL(llm.CloudflareBaseURL(accountID)).
//	    APIKey(token)
//
// Provider selection from a registry entry is a pure switch over ProviderType;
// see NewProviderForModel.

package llm

import (
	"fmt"
	"os"
	"strings"
)

// ProviderType represents supported LLM providers.
type ProviderType int

const (
	// ProviderOpenAI is the OpenAI provider (GPT models).
	ProviderOpenAI ProviderType = iota
	// ProviderAnthropic is the Anthropic provider (Claude models).
	ProviderAnthropic
	// ProviderCloudflare is Cloudflare Workers AI through its OpenAI-compatible endpoint.
	ProviderCloudflare
	// ProviderGemini is the Google Gemini provider.
	ProviderGemini
)

// String returns the string representation of the provider type.
func (p ProviderType) String() string {
	switch p {
	case ProviderOpenAI:
		return "openai"
	case ProviderAnthropic:
		return "anthropic"
	case ProviderCloudflare:
		return "cloudflare"
	case ProviderGemini:
		return "gemini"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (p ProviderType) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *ProviderType) UnmarshalText(text []byte) error {
	parsed, err := ParseProviderType(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// EnvVar returns the environment variable name for this provider's API key.
func (p ProviderType) EnvVar() string {
	switch p {
	case ProviderOpenAI:
		return "OPENAI_API_KEY"
	case ProviderAnthropic:
		return "ANTHROPIC_API_KEY"
	case ProviderCloudflare:
		return "CLOUDFLARE_API_TOKEN"
	case ProviderGemini:
		return "GEMINI_API_KEY"
	default:
		return ""
	}
}

// DefaultModel returns the default model for this provider.
func (p ProviderType) DefaultModel() string {
	switch p {
	case ProviderOpenAI:
		return ModelOpenAIGPT4oMini
	case ProviderAnthropic:
		return ModelAnthropicClaudeSonnet4
	case ProviderCloudflare:
		return ModelCloudflareLlama31_8B
	case ProviderGemini:
		return ModelGeminiFlash3
	default:
		return ""
	}
}

// ParseProviderType parses a provider from string (case-insensitive).
func ParseProviderType(s string) (ProviderType, error) {
	switch strings.ToLower(s) {
	case "openai", "gpt":
		return ProviderOpenAI, nil
	case "anthropic", "claude":
		return ProviderAnthropic, nil
	case "cloudflare", "workers-ai", "cf":
		return ProviderCloudflare, nil
	case "gemini", "google":
		return ProviderGemini, nil
	default:
		return 0, fmt.Errorf("unknown provider: %s", s)
	}
}

// FromEnv creates a provider with defaults, reading API key from environment.
func (p ProviderType) FromEnv() (Provider, error) {
	return NewProviderBuilder(p).FromEnv()
}

// Model starts configuring this provider with a specific model.
func (p ProviderType) Model(model string) *ProviderBuilder {
	return NewProviderBuilder(p).Model(model)
}

// ProviderBuilder is a builder for configuring LLM providers.
type ProviderBuilder struct {
	providerType ProviderType
	model        string
	baseURL      string
	maxTokens    uint32
	temperature  *float32
}

// NewProviderBuilder creates a new builder for the given provider.
func NewProviderBuilder(providerType ProviderType) *ProviderBuilder {
	return &ProviderBuilder{
		providerType: providerType,
	}
}

// Model sets the model to use.
func (b *ProviderBuilder) Model(model string) *ProviderBuilder {
	b.model = model
	return b
}

// BaseURL overrides the API endpoint. Required for Cloudflare unless
// CLOUDFLARE_ACCOUNT_ID is set.
func (b *ProviderBuilder) BaseURL(url string) *ProviderBuilder {
	b.baseURL = url
	return b
}

// MaxTokens sets maximum tokens for responses.
func (b *ProviderBuilder) MaxTokens(tokens uint32) *ProviderBuilder {
	b.maxTokens = tokens
	return b
}

// Temperature sets temperature (0.0 = deterministic, 1.0 = creative).
func (b *ProviderBuilder) Temperature(temp float32) *ProviderBuilder {
	b.temperature = &temp
	return b
}

// FromEnv builds the provider, reading API key from environment.
func (b *ProviderBuilder) FromEnv() (Provider, error) {
	envVar := b.providerType.EnvVar()
	apiKey := os.Getenv(envVar)
	if apiKey == "" {
		return nil, fmt.Errorf("%s: %s environment variable not set", b.providerType, envVar)
	}
	return b.build(apiKey)
}

// APIKey builds the provider with an explicit API key.
func (b *ProviderBuilder) APIKey(key string) (Provider, error) {
	return b.build(key)
}

func (b *ProviderBuilder) build(apiKey string) (Provider, error) {
	model := b.model
	if model == "" {
		model = b.providerType.DefaultModel()
	}

	maxTokens := b.maxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}

	temperature := float32(0.7)
	if b.temperature != nil {
		temperature = *b.temperature
	}

	switch b.providerType {
	case ProviderOpenAI:
		return NewOpenAIProvider(apiKey, model, maxTokens, temperature), nil
	case ProviderAnthropic:
		return NewAnthropicProvider(apiKey, model, maxTokens, temperature), nil
	case ProviderCloudflare:
		baseURL := b.baseURL
		if baseURL == "" {
			account := os.Getenv("CLOUDFLARE_ACCOUNT_ID")
			if account == "" {
				return nil, fmt.Errorf("cloudflare: CLOUDFLARE_ACCOUNT_ID environment variable not set")
			}
			baseURL = CloudflareBaseURL(account)
		}
		return NewCloudflareProvider(apiKey, baseURL, model, maxTokens, temperature), nil
	case ProviderGemini:
		return NewGeminiProvider(apiKey, model, maxTokens, temperature), nil
	default:
		return nil, fmt.Errorf("unknown provider type: %v", b.providerType)
	}
}

// ProviderFactory creates a provider for a resolved registry entry.
type ProviderFactory interface {
	NewProvider(m ModelConfig, maxTokens int, temperature float64) (Provider, error)
}

// ProviderFactoryFunc adapts a function to ProviderFactory.
type ProviderFactoryFunc func(m ModelConfig, maxTokens int, temperature float64) (Provider, error)

// NewProvider calls f.
func (f ProviderFactoryFunc) NewProvider(m ModelConfig, maxTokens int, temperature float64) (Provider, error) {
	return f(m, maxTokens, temperature)
}

// KeyFunc returns the API key for a provider.
type KeyFunc func(p ProviderType) (string, error)

// NewProviderForModel builds the provider a registry entry names. Non-positive
// maxTokens falls back to the entry's default.
func NewProviderForModel(m ModelConfig, maxTokens int, temperature float64, key KeyFunc) (Provider, error) {
	if maxTokens <= 0 {
		maxTokens = m.DefaultMaxTokens
	}
	apiKey, err := key(m.Provider)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", m.Provider, err)
	}
	return NewProviderBuilder(m.Provider).
		Model(m.ID).
		MaxTokens(uint32(maxTokens)).
		Temperature(float32(temperature)).
		APIKey(apiKey)
}

// Model identifier constants for all supported providers.

// OpenAI model identifiers
const (
	ModelOpenAIGPT52     = "gpt-5.2"
	ModelOpenAIGPT4o     = "gpt-4o"
	ModelOpenAIGPT4oMini = "gpt-4o-mini"
)

// Anthropic model identifiers
const (
	ModelAnthropicClaudeOpus45  = "claude-opus-4-5-20251101"
	ModelAnthropicClaudeSonnet4 = "claude-sonnet-4-20250514"
	ModelAnthropicClaudeHaiku4  = "claude-haiku-4-20250514"
)

// Cloudflare Workers AI model identifiers
const (
	ModelCloudflareLlama31_8B  = "@cf/meta/llama-3.1-8b-instruct"
	ModelCloudflareLlama33_70B = "@cf/meta/llama-3.3-70b-instruct-fp8-fast"
	ModelCloudflareMistral7B   = "@cf/mistral/mistral-7b-instruct-v0.1"
)

// Gemini model identifiers
const (
	ModelGeminiPro3   = "gemini-3-pro"
	ModelGeminiFlash3 = "gemini-3-flash"
)
