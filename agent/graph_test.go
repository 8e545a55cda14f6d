package agent

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/richinex/relay/llm"
	"github.com/richinex/relay/model"
	"github.com/richinex/relay/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	mu      sync.Mutex
	chunks  []string
	err     error
	prompts [][]llm.ChatMessage
}

func (p *fakeProvider) Name() string  { return "fake" }
func (p *fakeProvider) Model() string { return "fake-model" }

func (p *fakeProvider) record(messages []llm.ChatMessage) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prompts = append(p.prompts, messages)
}

func (p *fakeProvider) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.prompts)
}

func (p *fakeProvider) Chat(ctx context.Context, messages []llm.ChatMessage) (llm.LLMResponse, error) {
	p.record(messages)
	if p.err != nil {
		return llm.LLMResponse{}, p.err
	}
	return llm.LLMResponse{
		Content: strings.Join(p.chunks, ""),
		Usage:   &llm.TokenUsage{PromptTokens: 10, CompletionTokens: 3, TotalTokens: 13},
	}, nil
}

func (p *fakeProvider) StreamChat(ctx context.Context, messages []llm.ChatMessage, chunks chan<- string) (*llm.TokenUsage, error) {
	p.record(messages)
	if p.err != nil {
		return nil, p.err
	}
	for _, c := range p.chunks {
		select {
		case chunks <- c:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return &llm.TokenUsage{TotalTokens: 13}, nil
}

func factoryFor(p llm.Provider) llm.ProviderFactory {
	return llm.ProviderFactoryFunc(func(m llm.ModelConfig, maxTokens int, temperature float64) (llm.Provider, error) {
		return p, nil
	})
}

var testNow = time.UnixMilli(1_700_000_000_000)

func streamingModel() llm.ModelConfig {
	return llm.ModelConfig{
		ID:               "test-model",
		Provider:         llm.ProviderCloudflare,
		Capabilities:     llm.Capabilities{Streaming: true},
		DefaultMaxTokens: 256,
		ContextWindow:    8192,
	}
}

func testConfig(runID string) RunConfig {
	return RunConfig{
		Configurable: Configurable{ThreadID: "thread-1", RunID: runID},
		Model:        streamingModel(),
		Limits:       llm.ContextLimits{MaxContextTokens: 8192, MaxResponseTokens: 256, MaxDocumentsTokens: 1000},
	}
}

func newState(runID string, msgs ...model.ChatMessage) *model.ExecutionState {
	return &model.ExecutionState{
		UserID:   "u1",
		RunID:    runID,
		Messages: msgs,
		Options: model.GenerationOptions{
			EnhanceWithContext: true,
			MaxContextItems:    5,
			MaxTokens:          128,
		},
	}
}

func user(content string) model.ChatMessage {
	return model.ChatMessage{Role: model.RoleUser, Content: content}
}

func newTestGraph(t *testing.T, p llm.Provider, store *storage.InMemoryStorage) *Graph {
	t.Helper()
	g, err := NewBuilder("test").
		Providers(factoryFor(p)).
		Checkpoints(store).
		Documents(store).
		TokenCounter(func(s string) int { return len(strings.Fields(s)) }).
		Clock(func() time.Time { return testNow }).
		Build()
	require.NoError(t, err)
	return g
}

func TestBuilder_RequiresDependencies(t *testing.T) {
	_, err := NewBuilder("x").Checkpoints(storage.NewInMemoryStorage()).Build()
	assert.ErrorContains(t, err, "provider factory")

	_, err = NewBuilder("x").Providers(factoryFor(&fakeProvider{})).Build()
	assert.ErrorContains(t, err, "checkpoint store")

	g, err := NewBuilder("").Providers(factoryFor(&fakeProvider{})).Checkpoints(storage.NewInMemoryStorage()).Build()
	require.NoError(t, err)
	assert.Equal(t, "relay", g.Name())
}

func TestInvoke_GeneratesAndCheckpoints(t *testing.T) {
	ctx := t.Context()
	store := storage.NewInMemoryStorage()
	require.NoError(t, store.StoreDocument(ctx, model.Document{ID: "d1", Source: "faq.md", Content: "relay coordinates conversations"}))
	p := &fakeProvider{chunks: []string{"Hello", " there"}}
	g := newTestGraph(t, p, store)

	in := newState("run-1", user("what is relay"))
	out, err := g.Invoke(ctx, in, testConfig("run-1"))
	require.NoError(t, err)

	assert.Equal(t, "Hello there", out.GeneratedText)
	require.Len(t, out.Messages, 2)
	assert.Equal(t, model.RoleAssistant, out.Messages[1].Role)
	require.NotNil(t, out.Messages[1].Timestamp)
	assert.Equal(t, testNow.UnixMilli(), *out.Messages[1].Timestamp)
	require.Len(t, out.ChatHistory, 1)
	assert.Equal(t, "Hello there", out.ChatHistory[0].Assistant)
	require.Len(t, out.Docs, 1)
	assert.Equal(t, "d1", out.Docs[0].ID)
	assert.Equal(t, []string{"restore-1", "retrieve-2", "generate-3"}, out.TaskIDs)
	assert.Equal(t, "test-model", out.Metadata.Model)
	assert.Contains(t, out.Metadata.Extra, "usage")

	// Input is left untouched.
	assert.Len(t, in.Messages, 1)
	assert.Empty(t, in.GeneratedText)

	cp, err := store.GetCheckpoint(ctx, "run-1")
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, NodeGenerate, cp.Step)
	assert.Equal(t, "u1", cp.UserID)

	var saved model.ExecutionState
	require.NoError(t, json.Unmarshal(cp.StateJSON, &saved))
	assert.Equal(t, "Hello there", saved.GeneratedText)

	require.Equal(t, 1, p.calls())
	prompt := p.prompts[0]
	assert.Equal(t, "system", prompt[0].Role)
	assert.Contains(t, prompt[0].Content, "relay coordinates conversations")
	assert.NotContains(t, prompt[0].Content, "faq.md")
	assert.Equal(t, llm.UserMessage("what is relay"), prompt[len(prompt)-1])
}

func TestInvoke_SourceInfoAndUnescaping(t *testing.T) {
	ctx := t.Context()
	store := storage.NewInMemoryStorage()
	require.NoError(t, store.StoreDocument(ctx, model.Document{ID: "d1", Source: "faq.md", Content: "tags like <b> matter"}))
	p := &fakeProvider{chunks: []string{"ok"}}
	g := newTestGraph(t, p, store)

	in := newState("run-src", user("what about tags &lt;b&gt;"))
	in.Options.IncludeSourceInfo = true
	_, err := g.Invoke(ctx, in, testConfig("run-src"))
	require.NoError(t, err)

	prompt := p.prompts[0]
	assert.Contains(t, prompt[0].Content, "(source: faq.md)")
	assert.Equal(t, "what about tags <b>", prompt[len(prompt)-1].Content)
}

func TestInvoke_RetrievalDisabled(t *testing.T) {
	ctx := t.Context()
	store := storage.NewInMemoryStorage()
	require.NoError(t, store.StoreDocument(ctx, model.Document{ID: "d1", Content: "relay docs"}))
	g := newTestGraph(t, &fakeProvider{chunks: []string{"ok"}}, store)

	in := newState("run-2", user("relay?"))
	in.Options.EnhanceWithContext = false
	out, err := g.Invoke(ctx, in, testConfig("run-2"))
	require.NoError(t, err)
	assert.Empty(t, out.Docs)
	assert.Equal(t, []string{"restore-1", "generate-2"}, out.TaskIDs)
}

func TestInvoke_DocumentBudget(t *testing.T) {
	ctx := t.Context()
	store := storage.NewInMemoryStorage()
	require.NoError(t, store.StoreDocument(ctx, model.Document{ID: "a", Content: "relay one two three four"}))
	require.NoError(t, store.StoreDocument(ctx, model.Document{ID: "b", Content: "relay five six"}))
	g := newTestGraph(t, &fakeProvider{chunks: []string{"ok"}}, store)

	cfg := testConfig("run-budget")
	cfg.Limits.MaxDocumentsTokens = 3
	out, err := g.Invoke(ctx, newState("run-budget", user("relay")), cfg)
	require.NoError(t, err)

	require.Len(t, out.Docs, 1)
	assert.Equal(t, "a", out.Docs[0].ID)
	assert.Equal(t, "relay one two", strings.TrimSpace(out.Docs[0].Content))
}

func TestInvoke_ResumeMergesCheckpoint(t *testing.T) {
	ctx := t.Context()
	store := storage.NewInMemoryStorage()
	p := &fakeProvider{chunks: []string{"first"}}
	g := newTestGraph(t, p, store)

	_, err := g.Invoke(ctx, newState("run-3", user("hi")), testConfig("run-3"))
	require.NoError(t, err)

	p.chunks = []string{"second"}
	resume := &model.ExecutionState{
		UserID:   "run-3",
		RunID:    "run-3",
		Messages: []model.ChatMessage{user("again")},
		Options:  model.GenerationOptions{MaxTokens: 64},
	}
	out, err := g.Invoke(ctx, resume, testConfig("run-3"))
	require.NoError(t, err)

	assert.Equal(t, "u1", out.UserID)
	require.Len(t, out.Messages, 4)
	assert.Equal(t, "hi", out.Messages[0].Content)
	assert.Equal(t, "first", out.Messages[1].Content)
	assert.Equal(t, "again", out.Messages[2].Content)
	assert.Equal(t, "second", out.Messages[3].Content)
	assert.Len(t, out.ChatHistory, 2)
	assert.Equal(t, "second", out.GeneratedText)

	// History from the first turn reaches the model.
	last := p.prompts[len(p.prompts)-1]
	assert.Len(t, last, 4)
}

func TestInvoke_ResumeCompletedRunSkipsGeneration(t *testing.T) {
	ctx := t.Context()
	store := storage.NewInMemoryStorage()
	p := &fakeProvider{chunks: []string{"done"}}
	g := newTestGraph(t, p, store)

	_, err := g.Invoke(ctx, newState("run-4", user("hi")), testConfig("run-4"))
	require.NoError(t, err)

	out, err := g.Invoke(ctx, &model.ExecutionState{RunID: "run-4", UserID: "run-4"}, testConfig("run-4"))
	require.NoError(t, err)
	assert.Equal(t, 1, p.calls())
	assert.Equal(t, "done", out.GeneratedText)
	assert.Len(t, out.Messages, 2)
}

func TestInvoke_ProviderErrorKeepsEarlierCheckpoint(t *testing.T) {
	ctx := t.Context()
	store := storage.NewInMemoryStorage()
	g := newTestGraph(t, &fakeProvider{err: errors.New("upstream 500")}, store)

	_, err := g.Invoke(ctx, newState("run-5", user("hi")), testConfig("run-5"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upstream 500")

	cp, err := store.GetCheckpoint(ctx, "run-5")
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, NodeRetrieve, cp.Step)
}

func TestInvoke_FactoryError(t *testing.T) {
	store := storage.NewInMemoryStorage()
	g, err := NewBuilder("test").
		Providers(llm.ProviderFactoryFunc(func(llm.ModelConfig, int, float64) (llm.Provider, error) {
			return nil, errors.New("no key")
		})).
		Checkpoints(store).
		Build()
	require.NoError(t, err)

	_, err = g.Invoke(t.Context(), newState("run-6", user("hi")), testConfig("run-6"))
	assert.ErrorContains(t, err, "no key")
}

func TestStream_EventOrder(t *testing.T) {
	ctx := t.Context()
	store := storage.NewInMemoryStorage()
	require.NoError(t, store.StoreDocument(ctx, model.Document{ID: "d1", Content: "relay docs"}))
	g := newTestGraph(t, &fakeProvider{chunks: []string{"a", "b", "c"}}, store)

	var got []string
	for ev, err := range g.Stream(ctx, newState("run-7", user("relay")), testConfig("run-7")) {
		require.NoError(t, err)
		label := string(ev.Mode) + ":" + ev.Node
		if chunk, ok := ev.Data.(MessageChunk); ok {
			label += ":" + chunk.Content
		}
		got = append(got, label)
	}
	assert.Equal(t, []string{
		"updates:restore",
		"updates:retrieve",
		"messages:generate:a",
		"messages:generate:b",
		"messages:generate:c",
		"updates:generate",
	}, got)
}

func TestStream_FiltersModes(t *testing.T) {
	g := newTestGraph(t, &fakeProvider{chunks: []string{"a", "b"}}, storage.NewInMemoryStorage())
	cfg := testConfig("run-8")
	cfg.StreamModes = []StreamMode{StreamMessages}

	var modes []StreamMode
	for ev, err := range g.Stream(t.Context(), newState("run-8", user("hi")), cfg) {
		require.NoError(t, err)
		modes = append(modes, ev.Mode)
	}
	assert.Equal(t, []StreamMode{StreamMessages, StreamMessages}, modes)
}

func TestStream_NonStreamingModelEmitsOneChunk(t *testing.T) {
	g := newTestGraph(t, &fakeProvider{chunks: []string{"a", "b"}}, storage.NewInMemoryStorage())
	cfg := testConfig("run-9")
	cfg.Model.Capabilities.Streaming = false
	cfg.StreamModes = []StreamMode{StreamMessages}

	var chunks []string
	for ev, err := range g.Stream(t.Context(), newState("run-9", user("hi")), cfg) {
		require.NoError(t, err)
		chunks = append(chunks, ev.Data.(MessageChunk).Content)
	}
	assert.Equal(t, []string{"ab"}, chunks)
}

func TestStream_YieldsErrorLast(t *testing.T) {
	g := newTestGraph(t, &fakeProvider{err: errors.New("boom")}, storage.NewInMemoryStorage())

	var events int
	var last error
	for _, err := range g.Stream(t.Context(), newState("run-10", user("hi")), testConfig("run-10")) {
		if err != nil {
			last = err
			continue
		}
		events++
	}
	require.Error(t, last)
	assert.Contains(t, last.Error(), "boom")
	assert.Equal(t, 2, events)
}

func TestStream_EarlyStop(t *testing.T) {
	p := &fakeProvider{chunks: []string{"a", "b", "c", "d"}}
	store := storage.NewInMemoryStorage()
	g := newTestGraph(t, p, store)
	cfg := testConfig("run-11")
	cfg.StreamModes = []StreamMode{StreamMessages}

	for ev, err := range g.Stream(t.Context(), newState("run-11", user("hi")), cfg) {
		require.NoError(t, err)
		assert.Equal(t, "a", ev.Data.(MessageChunk).Content)
		break
	}

	cp, err := store.GetCheckpoint(t.Context(), "run-11")
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.NotEqual(t, NodeGenerate, cp.Step)
}

func TestRunConfig_Streams(t *testing.T) {
	assert.True(t, RunConfig{}.Streams(StreamUpdates))
	cfg := RunConfig{StreamModes: []StreamMode{StreamUpdates}}
	assert.True(t, cfg.Streams(StreamUpdates))
	assert.False(t, cfg.Streams(StreamMessages))
}
