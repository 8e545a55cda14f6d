package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestResolver(t *testing.T) *Resolver {
	t.Helper()
	r, err := NewResolver(DefaultRegistry(), DefaultResolverConfig())
	require.NoError(t, err)
	return r
}

func TestResolve_Known(t *testing.T) {
	r := newTestResolver(t)

	m := r.Resolve(ModelAnthropicClaudeSonnet4)
	assert.Equal(t, ModelAnthropicClaudeSonnet4, m.ID)
	assert.Equal(t, ProviderAnthropic, m.Provider)
}

func TestResolve_UnknownFallsBackToDefault(t *testing.T) {
	r := newTestResolver(t)

	for _, id := range []string{"", "no-such-model", "GPT-4O-MINI"} {
		m := r.Resolve(id)
		assert.Equal(t, r.Default(), m, id)
		assert.Equal(t, ModelCloudflareLlama31_8B, m.ID)
	}
}

func TestResolve_Deterministic(t *testing.T) {
	r := newTestResolver(t)

	first := r.Resolve("mystery")
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, r.Resolve("mystery"))
	}
}

func TestResolveForCapability_KeepsCapableModel(t *testing.T) {
	r := newTestResolver(t)

	m := r.ResolveForCapability(ModelCloudflareLlama31_8B, CapabilityStreaming)
	assert.Equal(t, ModelCloudflareLlama31_8B, m.ID)
}

func TestResolveForCapability_UsesFallbackOrder(t *testing.T) {
	r := newTestResolver(t)

	m := r.ResolveForCapability(ModelCloudflareLlama31_8B, CapabilityStructuredOutput)
	assert.Equal(t, ModelOpenAIGPT4oMini, m.ID)

	m = r.ResolveForCapability(ModelCloudflareMistral7B, CapabilityStreaming)
	assert.Equal(t, ModelOpenAIGPT4oMini, m.ID)
}

func TestResolveForCapability_NoCapableModelReturnsOriginal(t *testing.T) {
	reg, err := NewRegistry(
		ModelConfig{ID: "plain", Provider: ProviderCloudflare, DefaultMaxTokens: 100, ContextWindow: 1000},
		ModelConfig{ID: "streamer", Provider: ProviderOpenAI, Capabilities: Capabilities{Streaming: true}, DefaultMaxTokens: 100, ContextWindow: 1000},
	)
	require.NoError(t, err)
	r, err := NewResolver(reg, ResolverConfig{DefaultModel: "plain", FallbackOrder: []string{"streamer"}})
	require.NoError(t, err)

	m := r.ResolveForCapability("plain", CapabilityToolUse)
	assert.Equal(t, "plain", m.ID)

	m = r.ResolveForCapability("plain", CapabilityStreaming)
	assert.Equal(t, "streamer", m.ID)
}

func TestContextLimits_DefaultRatio(t *testing.T) {
	r := newTestResolver(t)

	m := r.Resolve(ModelOpenAIGPT4oMini)
	limits := r.ContextLimits(m)
	assert.Equal(t, 128000, limits.MaxContextTokens)
	assert.Equal(t, 4096, limits.MaxResponseTokens)
	assert.Equal(t, 51200, limits.MaxDocumentsTokens)
}

func TestContextLimits_ExplicitDocumentsTokens(t *testing.T) {
	r := newTestResolver(t)

	limits := r.ContextLimits(r.Resolve(ModelGeminiFlash3))
	assert.Equal(t, 200000, limits.MaxDocumentsTokens)
}

func TestContextLimits_ConfiguredRatio(t *testing.T) {
	cfg := DefaultResolverConfig()
	cfg.DocumentsRatio = 0.25
	r, err := NewResolver(DefaultRegistry(), cfg)
	require.NoError(t, err)

	limits := r.ContextLimits(r.Resolve(ModelCloudflareLlama31_8B))
	assert.Equal(t, 2048, limits.MaxDocumentsTokens)
}

func TestNewResolver_Validation(t *testing.T) {
	reg := DefaultRegistry()

	_, err := NewResolver(reg, ResolverConfig{DefaultModel: "nope"})
	assert.Error(t, err)

	_, err = NewResolver(reg, ResolverConfig{DefaultModel: ModelOpenAIGPT4o, FallbackOrder: []string{"nope"}})
	assert.Error(t, err)

	_, err = NewResolver(reg, ResolverConfig{DefaultModel: ModelOpenAIGPT4o, DocumentsRatio: 1.5})
	assert.Error(t, err)
}

func TestNewRegistry_Validation(t *testing.T) {
	_, err := NewRegistry(ModelConfig{ID: "a", DefaultMaxTokens: 1, ContextWindow: 1}, ModelConfig{ID: "a", DefaultMaxTokens: 1, ContextWindow: 1})
	assert.ErrorContains(t, err, "duplicate")

	_, err = NewRegistry(ModelConfig{ID: "b"})
	assert.Error(t, err)
}

func TestRegistry_ModelsInOrder(t *testing.T) {
	reg := DefaultRegistry()

	models := reg.Models()
	require.NotEmpty(t, models)
	assert.Equal(t, ModelCloudflareLlama31_8B, models[0].ID)
	assert.Len(t, reg.IDs(), len(models))
}
