// Application wiring for CLI commands.
//
// Information Hiding:
// - Store selection and initialization hidden
// - Provider factory and engine construction hidden
// - Logger and metrics registry setup hidden

package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/richinex/relay/agent"
	"github.com/richinex/relay/config"
	"github.com/richinex/relay/llm"
	"github.com/richinex/relay/model"
	"github.com/richinex/relay/orchestration"
	"github.com/richinex/relay/security"
	"github.com/richinex/relay/state"
	"github.com/richinex/relay/storage"
)

// Options holds CLI execution options.
type Options struct {
	ConfigPath string
	Verbose    bool
	// Providers overrides how models are reached. Nil uses the real SDKs
	// with keys from the environment.
	Providers llm.ProviderFactory
}

// Store is the persistence surface the CLI needs. Both the sqlite and the
// in-memory stores satisfy it.
type Store interface {
	storage.CheckpointStore
	storage.RetentionRecorder
	storage.DocumentStore
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

var (
	_ Store = (*storage.SqliteStorage)(nil)
	_ Store = (*storage.InMemoryStorage)(nil)
)

// App holds the wired components shared by all commands.
type App struct {
	Settings    config.Settings
	Logger      *slog.Logger
	Store       Store
	Resolver    *llm.Resolver
	Coordinator *orchestration.Coordinator
	Registry    *prometheus.Registry

	closers []io.Closer
}

// Close releases resources held by the app.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			a.Logger.Warn("close failed", "error", err)
		}
	}
}

// NewApp loads configuration and wires every component.
func NewApp(ctx context.Context, opts Options) (*App, error) {
	settings, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	return NewAppWithSettings(ctx, settings, opts, os.Stderr)
}

// NewAppWithSettings wires components from settings. Logs go to logOut.
func NewAppWithSettings(ctx context.Context, settings config.Settings, opts Options, logOut io.Writer) (*App, error) {
	logger := newLogger(settings, opts.Verbose, logOut)
	app := &App{Settings: settings, Logger: logger}

	store, closer, err := openStore(settings)
	if err != nil {
		return nil, err
	}
	if closer != nil {
		app.closers = append(app.closers, closer)
	}
	if err := store.Initialize(ctx); err != nil {
		app.Close()
		return nil, fmt.Errorf("initialize store: %w", err)
	}
	app.Store = store

	resolver, err := llm.NewResolver(llm.DefaultRegistry(), settings.ResolverConfig())
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("model resolver: %w", err)
	}
	app.Resolver = resolver

	var factory llm.ProviderFactory = llm.ProviderFactoryFunc(func(m llm.ModelConfig, maxTokens int, temperature float64) (llm.Provider, error) {
		return llm.NewProviderForModel(m, maxTokens, temperature, config.ProviderKey)
	})
	if opts.Providers != nil {
		factory = opts.Providers
	}
	graph, err := agent.NewBuilder(settings.Engine.Name).
		SystemPrompt(settings.Engine.SystemPrompt).
		Providers(factory).
		Checkpoints(store).
		Documents(store).
		Logger(logger).
		Build()
	if err != nil {
		app.Close()
		return nil, err
	}

	app.Registry = prometheus.NewRegistry()
	app.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	assembler := state.NewAssembler(security.NewFilter(settings.FilterOptions()), store, state.WithLogger(logger))
	app.Coordinator = orchestration.NewCoordinator(assembler, resolver, graph, store,
		orchestration.WithLogger(logger),
		orchestration.WithMetrics(orchestration.MustNewMetrics(app.Registry)),
		orchestration.WithStreamBuffer(settings.Engine.StreamBuffer),
	)
	return app, nil
}

func openStore(settings config.Settings) (Store, io.Closer, error) {
	opts := []storage.Option{storage.WithRetentionPolicy(settings.RetentionPolicy())}
	switch settings.Storage.Driver {
	case "memory":
		return storage.NewInMemoryStorage(opts...), nil, nil
	default:
		s, err := storage.OpenSqlite(settings.Storage.Path, opts...)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open database: %w", err)
		}
		return s, s, nil
	}
}

func newLogger(settings config.Settings, verbose bool, w io.Writer) *slog.Logger {
	level := settings.LogLevel()
	if verbose {
		level = slog.LevelDebug
	}
	handlerOpts := &slog.HandlerOptions{Level: level}
	if settings.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, handlerOpts))
	}
	return slog.New(slog.NewTextHandler(w, handlerOpts))
}

// userMessage builds a user chat message stamped with the current time.
func userMessage(content string) model.ChatMessage {
	ts := time.Now().UnixMilli()
	return model.ChatMessage{Role: model.RoleUser, Content: content, Timestamp: &ts}
}
