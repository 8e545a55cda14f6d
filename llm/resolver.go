// Model Capability Resolver - picks the model a run will use.
//
// Information Hiding:
// - Default model and capability fallback order
// - Documents share of the context window
//
// Resolution never fails: configuration is validated once in NewResolver.

package llm

import "fmt"

// DefaultDocumentsRatio is the share of the context window given to retrieved
// documents when a model does not set DocumentsTokens.
const DefaultDocumentsRatio = 0.40

// ContextLimits are the token budgets for one run.
type ContextLimits struct {
	MaxContextTokens   int `json:"maxContextTokens"`
	MaxResponseTokens  int `json:"maxResponseTokens"`
	MaxDocumentsTokens int `json:"maxDocumentsTokens"`
}

// ResolverConfig configures a Resolver.
type ResolverConfig struct {
	DefaultModel   string
	FallbackOrder  []string
	DocumentsRatio float64
}

// DefaultResolverConfig returns the built-in defaults.
func DefaultResolverConfig() ResolverConfig {
	return ResolverConfig{
		DefaultModel: ModelCloudflareLlama31_8B,
		FallbackOrder: []string{
			ModelOpenAIGPT4oMini,
			ModelAnthropicClaudeSonnet4,
			ModelGeminiFlash3,
		},
		DocumentsRatio: DefaultDocumentsRatio,
	}
}

// Resolver maps requested model ids to registry entries.
type Resolver struct {
	registry *Registry
	def      ModelConfig
	fallback []ModelConfig
	ratio    float64
}

// NewResolver validates cfg against registry.
func NewResolver(registry *Registry, cfg ResolverConfig) (*Resolver, error) {
	def, ok := registry.Lookup(cfg.DefaultModel)
	if !ok {
		return nil, fmt.Errorf("default model %q is not registered", cfg.DefaultModel)
	}
	ratio := cfg.DocumentsRatio
	if ratio == 0 {
		ratio = DefaultDocumentsRatio
	}
	if ratio < 0 || ratio > 1 {
		return nil, fmt.Errorf("documents ratio %v out of range [0,1]", ratio)
	}

	r := &Resolver{registry: registry, def: def, ratio: ratio}
	for _, id := range cfg.FallbackOrder {
		m, ok := registry.Lookup(id)
		if !ok {
			return nil, fmt.Errorf("fallback model %q is not registered", id)
		}
		r.fallback = append(r.fallback, m)
	}
	return r, nil
}

// Registry returns the underlying registry.
func (r *Resolver) Registry() *Registry {
	return r.registry
}

// Default returns the default model.
func (r *Resolver) Default() ModelConfig {
	return r.def
}

// Resolve returns the entry for id, or the default when id is empty or unknown.
func (r *Resolver) Resolve(id string) ModelConfig {
	if m, ok := r.registry.Lookup(id); ok {
		return m
	}
	return r.def
}

// ResolveForCapability resolves id and, when that model lacks capability,
// returns the first capable model in the fallback order. When none qualifies
// the originally resolved model is returned unchanged.
func (r *Resolver) ResolveForCapability(id string, capability Capability) ModelConfig {
	m := r.Resolve(id)
	if m.Capabilities.Has(capability) {
		return m
	}
	for _, candidate := range r.fallback {
		if candidate.Capabilities.Has(capability) {
			return candidate
		}
	}
	return m
}

// ContextLimits derives the token budgets for m.
func (r *Resolver) ContextLimits(m ModelConfig) ContextLimits {
	docs := m.DocumentsTokens
	if docs <= 0 {
		docs = int(float64(m.ContextWindow) * r.ratio)
	}
	return ContextLimits{
		MaxContextTokens:   m.ContextWindow,
		MaxResponseTokens:  m.DefaultMaxTokens,
		MaxDocumentsTokens: docs,
	}
}
