// Engine builder for fluent configuration.
//
// Information Hiding:
// - Builder state management hidden
// - Default value application hidden

package agent

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/richinex/relay/internal/tokens"
	"github.com/richinex/relay/llm"
	"github.com/richinex/relay/storage"
)

// Builder provides fluent configuration for creating a Graph.
// Usage: agent.NewBuilder("name").Providers(f).Checkpoints(s).Build()
type Builder struct {
	config      Config
	providers   llm.ProviderFactory
	checkpoints storage.CheckpointStore
	documents   storage.DocumentStore
	count       tokens.Counter
	logger      *slog.Logger
	now         func() time.Time
}

// NewBuilder creates a new engine builder with the given name.
func NewBuilder(name string) *Builder {
	cfg := DefaultConfig()
	if name != "" {
		cfg.Name = name
	}
	return &Builder{config: cfg}
}

// SystemPrompt sets the system prompt.
func (b *Builder) SystemPrompt(prompt string) *Builder {
	if prompt != "" {
		b.config.SystemPrompt = prompt
	}
	return b
}

// ContextHeader sets the text introducing retrieved documents.
func (b *Builder) ContextHeader(header string) *Builder {
	if header != "" {
		b.config.ContextHeader = header
	}
	return b
}

// Providers sets the factory used to reach the resolved model. Required.
func (b *Builder) Providers(f llm.ProviderFactory) *Builder {
	b.providers = f
	return b
}

// Checkpoints sets the store the engine writes after every node. Required.
func (b *Builder) Checkpoints(s storage.CheckpointStore) *Builder {
	b.checkpoints = s
	return b
}

// Documents enables context retrieval from s.
func (b *Builder) Documents(s storage.DocumentStore) *Builder {
	b.documents = s
	return b
}

// TokenCounter overrides token counting. Defaults to tokens.Count.
func (b *Builder) TokenCounter(c tokens.Counter) *Builder {
	b.count = c
	return b
}

// Logger sets the logger. Defaults to slog.Default().
func (b *Builder) Logger(l *slog.Logger) *Builder {
	b.logger = l
	return b
}

// Clock overrides the time source.
func (b *Builder) Clock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// Build creates the engine.
func (b *Builder) Build() (*Graph, error) {
	if b.providers == nil {
		return nil, fmt.Errorf("agent %s: provider factory is required", b.config.Name)
	}
	if b.checkpoints == nil {
		return nil, fmt.Errorf("agent %s: checkpoint store is required", b.config.Name)
	}

	g := &Graph{
		config:      b.config,
		providers:   b.providers,
		checkpoints: b.checkpoints,
		documents:   b.documents,
		count:       b.count,
		logger:      b.logger,
		now:         b.now,
	}
	if g.count == nil {
		g.count = tokens.Count
	}
	if g.logger == nil {
		g.logger = slog.Default()
	}
	if g.now == nil {
		g.now = time.Now
	}
	g.logger = g.logger.With("component", "agent", "agent", b.config.Name)
	return g, nil
}
