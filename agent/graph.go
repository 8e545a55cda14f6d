// Execution graph - restore, retrieve and generate nodes run in order over a
// private copy of the execution state.
//
// Information Hiding:
// - Checkpoint encoding and restore merge rules hidden
// - Prompt construction and token budgeting hidden
// - Provider streaming goroutine and chunk forwarding hidden

package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"iter"
	"log/slog"
	"strings"
	"time"

	"github.com/richinex/relay/internal/tokens"
	"github.com/richinex/relay/llm"
	"github.com/richinex/relay/model"
	"github.com/richinex/relay/state"
	"github.com/richinex/relay/storage"
)

// errStopped signals that the stream consumer stopped pulling events.
var errStopped = errors.New("agent: consumer stopped")

// Graph is the execution engine. It is safe for concurrent use; each
// invocation works on its own copy of the state.
type Graph struct {
	config      Config
	providers   llm.ProviderFactory
	checkpoints storage.CheckpointStore
	documents   storage.DocumentStore
	count       tokens.Counter
	logger      *slog.Logger
	now         func() time.Time
}

// Name returns the engine name.
func (g *Graph) Name() string {
	return g.config.Name
}

// Invoke runs the graph to completion and returns the final state. The input
// state is not modified.
func (g *Graph) Invoke(ctx context.Context, st *model.ExecutionState, cfg RunConfig) (*model.ExecutionState, error) {
	return g.execute(ctx, st, cfg, false, func(Event) bool { return true })
}

// Stream runs the graph and yields events for the modes selected in cfg. A
// failure is yielded once as the final item. Stopping the iteration early
// cancels the run.
func (g *Graph) Stream(ctx context.Context, st *model.ExecutionState, cfg RunConfig) iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		_, err := g.execute(ctx, st, cfg, true, func(ev Event) bool {
			if !cfg.Streams(ev.Mode) {
				return true
			}
			return yield(ev, nil)
		})
		if err != nil && !errors.Is(err, errStopped) {
			yield(Event{}, err)
		}
	}
}

func (g *Graph) execute(ctx context.Context, st *model.ExecutionState, cfg RunConfig, streaming bool, emit func(Event) bool) (*model.ExecutionState, error) {
	if st == nil {
		return nil, fmt.Errorf("agent %s: nil state", g.config.Name)
	}
	run := cloneState(st)
	if run.RunID == "" {
		run.RunID = cfg.Configurable.RunID
	}
	if cfg.Model.ID != "" {
		run.Metadata.Model = cfg.Model.ID
	}
	logger := g.logger.With("run_id", run.RunID, "thread_id", cfg.Configurable.ThreadID)

	restored, err := g.restore(ctx, run)
	if err != nil {
		return nil, err
	}
	if err := g.finishNode(ctx, run, NodeRestore, map[string]any{
		"restored": restored,
		"messages": len(run.Messages),
	}, emit); err != nil {
		return nil, err
	}

	if run.Options.EnhanceWithContext && g.documents != nil && run.Options.MaxContextItems > 0 {
		if err := g.retrieve(ctx, run, cfg.Limits); err != nil {
			return nil, err
		}
		logger.Debug("context retrieved", "docs", len(run.Docs))
		if err := g.finishNode(ctx, run, NodeRetrieve, map[string]any{"docs": run.Docs}, emit); err != nil {
			return nil, err
		}
	}

	last := len(run.Messages) - 1
	if last < 0 || run.Messages[last].Role == model.RoleAssistant {
		// Nothing left to answer: a resumed run that already completed.
		logger.Debug("no pending user turn, skipping generation")
		return run, nil
	}

	usage, err := g.generate(ctx, run, cfg, streaming, emit)
	if err != nil {
		return nil, err
	}
	update := map[string]any{"generatedText": run.GeneratedText}
	if usage != nil {
		update["usage"] = usage
	}
	if err := g.finishNode(ctx, run, NodeGenerate, update, emit); err != nil {
		return nil, err
	}

	logger.Info("run generated", "model", cfg.Model.ID, "chars", len(run.GeneratedText))
	return run, nil
}

// finishNode records the task, checkpoints the state and emits the update.
func (g *Graph) finishNode(ctx context.Context, run *model.ExecutionState, node string, update map[string]any, emit func(Event) bool) error {
	run.TaskIDs = append(run.TaskIDs, fmt.Sprintf("%s-%d", node, len(run.TaskIDs)+1))

	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("%s: encode state: %w", node, err)
	}
	if err := g.checkpoints.PutCheckpoint(ctx, model.Checkpoint{
		RunID:     run.RunID,
		UserID:    run.UserID,
		Step:      node,
		StateJSON: data,
	}); err != nil {
		return fmt.Errorf("%s: checkpoint: %w", node, err)
	}

	if !emit(Event{Mode: StreamUpdates, Node: node, Data: update}) {
		return errStopped
	}
	return nil
}

// restore merges a prior checkpoint for the run, if any, ahead of the new input.
func (g *Graph) restore(ctx context.Context, run *model.ExecutionState) (bool, error) {
	cp, err := g.checkpoints.GetCheckpoint(ctx, run.RunID)
	if err != nil {
		return false, fmt.Errorf("restore: %w", err)
	}
	if cp == nil {
		run.ChatHistory = state.PairMessages(run.Messages, g.now())
		return false, nil
	}

	var prior model.ExecutionState
	if err := json.Unmarshal(cp.StateJSON, &prior); err != nil {
		return false, fmt.Errorf("restore: decode checkpoint %s: %w", run.RunID, err)
	}

	if run.UserID == "" || run.UserID == run.RunID {
		run.UserID = prior.UserID
	}
	run.Messages = append(prior.Messages, run.Messages...)
	run.TaskIDs = append(prior.TaskIDs, run.TaskIDs...)
	if len(run.Docs) == 0 {
		run.Docs = prior.Docs
	}
	if run.GeneratedText == "" {
		run.GeneratedText = prior.GeneratedText
	}
	if run.Metadata.Model == "" {
		run.Metadata.Model = prior.Metadata.Model
	}
	run.ChatHistory = state.PairMessages(run.Messages, g.now())
	return true, nil
}

// retrieve searches the document store with the last user message and keeps
// as many results as fit the documents budget.
func (g *Graph) retrieve(ctx context.Context, run *model.ExecutionState, limits llm.ContextLimits) error {
	msg, ok := run.LastUserMessage()
	if !ok {
		return nil
	}
	found, err := g.documents.SearchDocuments(ctx, html.UnescapeString(msg.Content), run.Options.MaxContextItems)
	if err != nil {
		return fmt.Errorf("retrieve: %w", err)
	}

	budget := limits.MaxDocumentsTokens
	docs := make([]model.Document, 0, len(found))
	for _, d := range found {
		if budget > 0 {
			n := g.count(d.Content)
			if n > budget {
				d.Content = tokens.Truncate(d.Content, budget, g.count)
				n = budget
			}
			budget -= n
		} else if limits.MaxDocumentsTokens > 0 {
			break
		}
		if d.Content == "" {
			continue
		}
		docs = append(docs, d)
	}
	run.Docs = docs
	return nil
}

// generate builds the prompt, calls the model and appends the reply.
func (g *Graph) generate(ctx context.Context, run *model.ExecutionState, cfg RunConfig, streaming bool, emit func(Event) bool) (*llm.TokenUsage, error) {
	maxTokens := run.Options.MaxTokens
	if maxTokens <= 0 {
		maxTokens = cfg.Model.DefaultMaxTokens
	}
	if cfg.Limits.MaxResponseTokens > 0 && maxTokens > cfg.Limits.MaxResponseTokens {
		maxTokens = cfg.Limits.MaxResponseTokens
	}
	temperature := cfg.Model.DefaultTemperature
	if run.Options.Temperature != nil {
		temperature = *run.Options.Temperature
	}

	provider, err := g.providers.NewProvider(cfg.Model, maxTokens, temperature)
	if err != nil {
		return nil, fmt.Errorf("generate: %w", err)
	}
	prompt := g.buildPrompt(run, cfg.Limits, maxTokens)

	var (
		text  string
		usage *llm.TokenUsage
	)
	if streaming && cfg.Model.Capabilities.Has(llm.CapabilityStreaming) {
		text, usage, err = g.streamReply(ctx, provider, prompt, cfg.Model.ID, emit)
	} else {
		var resp llm.LLMResponse
		resp, err = provider.Chat(ctx, prompt)
		text, usage = resp.Content, resp.Usage
		if err == nil && streaming && text != "" {
			if !emit(Event{Mode: StreamMessages, Node: NodeGenerate, Data: MessageChunk{Content: text, Model: cfg.Model.ID}}) {
				err = errStopped
			}
		}
	}
	if err != nil {
		if errors.Is(err, errStopped) {
			return nil, err
		}
		return nil, fmt.Errorf("generate: %s: %w", provider.Name(), err)
	}

	ts := g.now().UnixMilli()
	run.GeneratedText = text
	run.Messages = append(run.Messages, model.ChatMessage{Role: model.RoleAssistant, Content: text, Timestamp: &ts})
	run.ChatHistory = state.PairMessages(run.Messages, g.now())
	if usage != nil {
		if run.Metadata.Extra == nil {
			run.Metadata.Extra = make(map[string]any)
		}
		run.Metadata.Extra["usage"] = usage
	}
	return usage, nil
}

// streamReply forwards provider chunks as message events until the provider
// finishes or the consumer stops.
func (g *Graph) streamReply(ctx context.Context, p llm.Provider, prompt []llm.ChatMessage, modelID string, emit func(Event) bool) (string, *llm.TokenUsage, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type result struct {
		usage *llm.TokenUsage
		err   error
	}
	chunks := make(chan string, 16)
	done := make(chan result, 1)
	go func() {
		defer close(chunks)
		usage, err := p.StreamChat(ctx, prompt, chunks)
		done <- result{usage, err}
	}()

	var sb strings.Builder
	stopped := false
	for chunk := range chunks {
		if stopped {
			continue
		}
		sb.WriteString(chunk)
		if !emit(Event{Mode: StreamMessages, Node: NodeGenerate, Data: MessageChunk{Content: chunk, Model: modelID}}) {
			stopped = true
			cancel()
		}
	}
	res := <-done
	if stopped {
		return "", nil, errStopped
	}
	return sb.String(), res.usage, res.err
}

// buildPrompt assembles system prompt, context and as much recent history as
// the model's window allows. The latest message is always included.
func (g *Graph) buildPrompt(run *model.ExecutionState, limits llm.ContextLimits, maxTokens int) []llm.ChatMessage {
	system := g.config.SystemPrompt
	if len(run.Docs) > 0 {
		system += "\n\n" + g.contextBlock(run.Docs, run.Options.IncludeSourceInfo)
	}

	budget := limits.MaxContextTokens - maxTokens - g.count(system)
	history := make([]llm.ChatMessage, 0, len(run.Messages))
	for i := len(run.Messages) - 1; i >= 0; i-- {
		m := run.Messages[i]
		content := html.UnescapeString(m.Content)
		if limits.MaxContextTokens > 0 {
			n := g.count(content)
			if n > budget {
				if len(history) > 0 {
					break
				}
				content = tokens.Truncate(content, budget, g.count)
				n = budget
			}
			budget -= n
		}
		history = append(history, llm.ChatMessage{Role: string(m.Role), Content: content})
	}

	prompt := make([]llm.ChatMessage, 0, len(history)+1)
	prompt = append(prompt, llm.SystemMessage(system))
	for i := len(history) - 1; i >= 0; i-- {
		prompt = append(prompt, history[i])
	}
	return prompt
}

func (g *Graph) contextBlock(docs []model.Document, withSources bool) string {
	var sb strings.Builder
	sb.WriteString(g.config.ContextHeader)
	for i, d := range docs {
		fmt.Fprintf(&sb, "\n\n[%d] %s", i+1, d.Content)
		if withSources && d.Source != "" {
			fmt.Fprintf(&sb, "\n(source: %s)", d.Source)
		}
	}
	if withSources {
		sb.WriteString("\n\nCite the sources you use.")
	}
	return sb.String()
}

func cloneState(st *model.ExecutionState) *model.ExecutionState {
	c := *st
	c.Messages = append([]model.ChatMessage(nil), st.Messages...)
	c.ChatHistory = append([]model.MessagePair(nil), st.ChatHistory...)
	c.TaskIDs = append([]string(nil), st.TaskIDs...)
	c.Docs = append([]model.Document(nil), st.Docs...)
	if st.Metadata.Extra != nil {
		c.Metadata.Extra = make(map[string]any, len(st.Metadata.Extra))
		for k, v := range st.Metadata.Extra {
			c.Metadata.Extra[k] = v
		}
	}
	return &c
}
