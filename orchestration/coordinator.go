// Coordinator - drives one run from request to result or stream.
//
// Information Hiding:
// - Phase transitions and their logging hidden
// - Model resolution and token clamping hidden
// - Engine error translation hidden

package orchestration

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/richinex/relay/agent"
	"github.com/richinex/relay/llm"
	"github.com/richinex/relay/model"
	"github.com/richinex/relay/state"
	"github.com/richinex/relay/storage"
)

// Coordinator runs requests through the assembler, resolver and engine.
// Runs share no mutable state; a Coordinator is safe for concurrent use.
type Coordinator struct {
	assembler   *state.Assembler
	resolver    *llm.Resolver
	engine      Engine
	checkpoints storage.CheckpointStore
	mux         *Multiplexer
	buffer      int
	metrics     *Metrics
	logger      *slog.Logger
	newThreadID func() string
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = logger }
}

// WithMetrics enables Prometheus reporting.
func WithMetrics(m *Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithStreamBuffer sets how many events may queue between engine and writer.
func WithStreamBuffer(n int) Option {
	return func(c *Coordinator) { c.buffer = n }
}

// WithThreadIDGenerator overrides the per-invocation thread id source.
func WithThreadIDGenerator(gen func() string) Option {
	return func(c *Coordinator) { c.newThreadID = gen }
}

// NewCoordinator creates a coordinator.
func NewCoordinator(assembler *state.Assembler, resolver *llm.Resolver, engine Engine, checkpoints storage.CheckpointStore, opts ...Option) *Coordinator {
	c := &Coordinator{
		assembler:   assembler,
		resolver:    resolver,
		engine:      engine,
		checkpoints: checkpoints,
		logger:      slog.Default(),
		newThreadID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "coordinator")
	c.mux = NewMultiplexer(c.buffer, c.logger)
	return c
}

// Generate builds a new run and executes it to completion.
func (c *Coordinator) Generate(ctx context.Context, req model.Request) (*Result, error) {
	st, err := c.build(ctx, func() (*model.ExecutionState, error) { return c.assembler.BuildInitial(ctx, req) })
	if err != nil {
		return nil, err
	}
	return c.RunOnce(ctx, st)
}

// StartSession builds a new run and streams its events.
func (c *Coordinator) StartSession(ctx context.Context, req model.Request) (io.ReadCloser, error) {
	st, err := c.build(ctx, func() (*model.ExecutionState, error) { return c.assembler.BuildInitial(ctx, req) })
	if err != nil {
		return nil, err
	}
	return c.RunStreaming(ctx, st)
}

// ResumeSession continues runID, optionally with one new message, and
// streams its events.
func (c *Coordinator) ResumeSession(ctx context.Context, runID string, newMessage *model.ChatMessage) (io.ReadCloser, error) {
	st, err := c.build(ctx, func() (*model.ExecutionState, error) {
		return c.assembler.BuildResume(ctx, model.ResumeRequest{RunID: runID, NewMessage: newMessage})
	})
	if err != nil {
		return nil, err
	}
	return c.RunStreaming(ctx, st)
}

func (c *Coordinator) build(ctx context.Context, fn func() (*model.ExecutionState, error)) (*model.ExecutionState, error) {
	st, err := fn()
	if err != nil {
		c.logger.DebugContext(ctx, "run rejected", "phase", PhaseBuilding, "kind", model.KindOf(err), "error", err)
		return nil, err
	}
	c.logger.DebugContext(ctx, "run built", "phase", PhaseBuilding, "run_id", st.RunID, "messages", len(st.Messages))
	return st, nil
}

// RunOnce executes st to completion and returns the final state as JSON.
func (c *Coordinator) RunOnce(ctx context.Context, st *model.ExecutionState) (*Result, error) {
	cfg, err := c.prepare(ctx, st, false)
	if err != nil {
		return nil, err
	}
	logger := c.logger.With("run_id", st.RunID, "model", cfg.Model.ID)

	started := time.Now()
	c.metrics.runStarted()
	logger.DebugContext(ctx, "run executing", "phase", PhaseExecuting)
	out, err := c.engine.Invoke(ctx, st, cfg)
	c.metrics.runFinished(modeOnce, started, err)
	if err != nil {
		logger.ErrorContext(ctx, "run failed", "phase", PhaseFailed, "error", err)
		return nil, model.EngineFailure(err)
	}

	payload, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	logger.InfoContext(ctx, "run completed", "phase", PhaseCompleted, "duration", time.Since(started))
	return &Result{RunID: st.RunID, Model: cfg.Model.ID, Payload: payload}, nil
}

// RunStreaming executes st and returns its events as newline-delimited JSON.
// A failure inside the engine ends the stream with an error frame; the
// reader then returns a model.EngineFailure.
func (c *Coordinator) RunStreaming(ctx context.Context, st *model.ExecutionState) (io.ReadCloser, error) {
	cfg, err := c.prepare(ctx, st, true)
	if err != nil {
		return nil, err
	}
	logger := c.logger.With("run_id", st.RunID, "model", cfg.Model.ID)

	started := time.Now()
	c.metrics.runStarted()
	logger.DebugContext(ctx, "run executing", "phase", PhaseExecuting, "streaming", true)

	src := EventSource(func(ctx context.Context) iter.Seq2[agent.Event, error] {
		return c.engine.Stream(ctx, st, cfg)
	})
	onEvent := func(ev agent.Event) { c.metrics.streamEvent(string(ev.Mode)) }
	onDone := func(err error) {
		c.metrics.runFinished(modeStream, started, err)
		if err != nil {
			logger.Error("run failed", "phase", PhaseFailed, "error", err)
			return
		}
		logger.Info("run completed", "phase", PhaseCompleted, "duration", time.Since(started))
	}
	return c.mux.Pipe(ctx, src, onEvent, onDone), nil
}

// prepare resolves the model, clamps the response budget and makes sure the
// checkpoint store is ready.
func (c *Coordinator) prepare(ctx context.Context, st *model.ExecutionState, streaming bool) (agent.RunConfig, error) {
	if st == nil {
		return agent.RunConfig{}, model.InvalidRequest("state", "is required")
	}

	var m llm.ModelConfig
	if streaming {
		m = c.resolver.ResolveForCapability(st.Options.ModelID, llm.CapabilityStreaming)
	} else {
		m = c.resolver.Resolve(st.Options.ModelID)
	}
	limits := c.resolver.ContextLimits(m)
	if st.Options.MaxTokens <= 0 || st.Options.MaxTokens > limits.MaxResponseTokens {
		st.Options.MaxTokens = limits.MaxResponseTokens
	}
	st.Metadata.Model = m.ID
	c.logger.DebugContext(ctx, "model resolved", "phase", PhaseResolving, "run_id", st.RunID,
		"requested", st.Options.ModelID, "model", m.ID)

	if err := c.checkpoints.Initialize(ctx); err != nil {
		return agent.RunConfig{}, fmt.Errorf("initialize checkpoints: %w", err)
	}

	cfg := agent.RunConfig{
		Configurable: agent.Configurable{ThreadID: c.newThreadID(), RunID: st.RunID},
		Model:        m,
		Limits:       limits,
	}
	if streaming {
		cfg.StreamModes = []agent.StreamMode{agent.StreamMessages, agent.StreamUpdates}
	}
	return cfg, nil
}
