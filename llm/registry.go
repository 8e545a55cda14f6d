// Model Registry - static table of known models and what they can do.
//
// Information Hiding:
// - Per-model capability flags and token limits
// - Registration order (used for listing)

package llm

import (
	"fmt"
	"sort"
)

// Capability names a feature a model may support.
type Capability int

const (
	CapabilityStreaming Capability = iota
	CapabilityToolUse
	CapabilityStructuredOutput
)

// String returns the capability name.
func (c Capability) String() string {
	switch c {
	case CapabilityStreaming:
		return "streaming"
	case CapabilityToolUse:
		return "toolUse"
	case CapabilityStructuredOutput:
		return "structuredOutput"
	default:
		return "unknown"
	}
}

// Capabilities is the capability set of one model.
type Capabilities struct {
	Streaming        bool `json:"streaming" yaml:"streaming"`
	ToolUse          bool `json:"toolUse" yaml:"toolUse"`
	StructuredOutput bool `json:"structuredOutput" yaml:"structuredOutput"`
}

// Has reports whether c includes capability.
func (c Capabilities) Has(capability Capability) bool {
	switch capability {
	case CapabilityStreaming:
		return c.Streaming
	case CapabilityToolUse:
		return c.ToolUse
	case CapabilityStructuredOutput:
		return c.StructuredOutput
	default:
		return false
	}
}

// ModelConfig describes one registered model. Entries are read-only once
// registered.
type ModelConfig struct {
	ID                 string       `json:"id" yaml:"id"`
	Provider           ProviderType `json:"provider" yaml:"provider"`
	Capabilities       Capabilities `json:"capabilities" yaml:"capabilities"`
	DefaultTemperature float64      `json:"defaultTemperature" yaml:"defaultTemperature"`
	DefaultMaxTokens   int          `json:"defaultMaxTokens" yaml:"defaultMaxTokens"`
	ContextWindow      int          `json:"contextWindow" yaml:"contextWindow"`
	// DocumentsTokens caps retrieved context. Zero derives it from the
	// resolver's documents ratio.
	DocumentsTokens int `json:"documentsTokens,omitempty" yaml:"documentsTokens,omitempty"`
}

// Registry is an immutable set of models keyed by id.
type Registry struct {
	models map[string]ModelConfig
	order  []string
}

// NewRegistry builds a registry. Ids must be unique and limits positive.
func NewRegistry(models ...ModelConfig) (*Registry, error) {
	r := &Registry{models: make(map[string]ModelConfig, len(models))}
	for _, m := range models {
		if m.ID == "" {
			return nil, fmt.Errorf("model with empty id")
		}
		if _, dup := r.models[m.ID]; dup {
			return nil, fmt.Errorf("duplicate model id: %s", m.ID)
		}
		if m.ContextWindow <= 0 || m.DefaultMaxTokens <= 0 {
			return nil, fmt.Errorf("model %s: context window and max tokens must be positive", m.ID)
		}
		r.models[m.ID] = m
		r.order = append(r.order, m.ID)
	}
	return r, nil
}

// Lookup returns the entry for id.
func (r *Registry) Lookup(id string) (ModelConfig, bool) {
	m, ok := r.models[id]
	return m, ok
}

// Models returns every entry in registration order.
func (r *Registry) Models() []ModelConfig {
	out := make([]ModelConfig, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.models[id])
	}
	return out
}

// IDs returns the registered ids sorted alphabetically.
func (r *Registry) IDs() []string {
	ids := append([]string(nil), r.order...)
	sort.Strings(ids)
	return ids
}

var defaultModels = []ModelConfig{
	{
		ID:                 ModelCloudflareLlama31_8B,
		Provider:           ProviderCloudflare,
		Capabilities:       Capabilities{Streaming: true},
		DefaultTemperature: 0.6,
		DefaultMaxTokens:   1024,
		ContextWindow:      8192,
	},
	{
		ID:                 ModelCloudflareLlama33_70B,
		Provider:           ProviderCloudflare,
		Capabilities:       Capabilities{Streaming: true, ToolUse: true},
		DefaultTemperature: 0.6,
		DefaultMaxTokens:   2048,
		ContextWindow:      24000,
	},
	{
		ID:                 ModelCloudflareMistral7B,
		Provider:           ProviderCloudflare,
		Capabilities:       Capabilities{},
		DefaultTemperature: 0.7,
		DefaultMaxTokens:   1024,
		ContextWindow:      2824,
	},
	{
		ID:                 ModelOpenAIGPT4oMini,
		Provider:           ProviderOpenAI,
		Capabilities:       Capabilities{Streaming: true, ToolUse: true, StructuredOutput: true},
		DefaultTemperature: 0.7,
		DefaultMaxTokens:   4096,
		ContextWindow:      128000,
	},
	{
		ID:                 ModelOpenAIGPT4o,
		Provider:           ProviderOpenAI,
		Capabilities:       Capabilities{Streaming: true, ToolUse: true, StructuredOutput: true},
		DefaultTemperature: 0.7,
		DefaultMaxTokens:   4096,
		ContextWindow:      128000,
	},
	{
		ID:                 ModelOpenAIGPT52,
		Provider:           ProviderOpenAI,
		Capabilities:       Capabilities{Streaming: true, ToolUse: true, StructuredOutput: true},
		DefaultTemperature: 0.7,
		DefaultMaxTokens:   16384,
		ContextWindow:      400000,
	},
	{
		ID:                 ModelAnthropicClaudeSonnet4,
		Provider:           ProviderAnthropic,
		Capabilities:       Capabilities{Streaming: true, ToolUse: true},
		DefaultTemperature: 0.7,
		DefaultMaxTokens:   8192,
		ContextWindow:      200000,
	},
	{
		ID:                 ModelAnthropicClaudeHaiku4,
		Provider:           ProviderAnthropic,
		Capabilities:       Capabilities{Streaming: true, ToolUse: true},
		DefaultTemperature: 0.7,
		DefaultMaxTokens:   4096,
		ContextWindow:      200000,
	},
	{
		ID:                 ModelAnthropicClaudeOpus45,
		Provider:           ProviderAnthropic,
		Capabilities:       Capabilities{Streaming: true, ToolUse: true},
		DefaultTemperature: 0.7,
		DefaultMaxTokens:   8192,
		ContextWindow:      200000,
	},
	{
		ID:                 ModelGeminiFlash3,
		Provider:           ProviderGemini,
		Capabilities:       Capabilities{Streaming: true, ToolUse: true, StructuredOutput: true},
		DefaultTemperature: 0.7,
		DefaultMaxTokens:   8192,
		ContextWindow:      1048576,
		DocumentsTokens:    200000,
	},
	{
		ID:                 ModelGeminiPro3,
		Provider:           ProviderGemini,
		Capabilities:       Capabilities{Streaming: true, ToolUse: true, StructuredOutput: true},
		DefaultTemperature: 0.7,
		DefaultMaxTokens:   8192,
		ContextWindow:      1048576,
		DocumentsTokens:    200000,
	},
}

// DefaultRegistry returns the built-in model table.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(defaultModels...)
	if err != nil {
		panic(fmt.Sprintf("llm: invalid built-in registry: %v", err))
	}
	return r
}
