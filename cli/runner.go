// Command execution for CLI commands.
//
// Information Hiding:
// - Session bookkeeping for interactive chat hidden
// - Output formatting hidden

package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"

	"github.com/richinex/relay/llm"
	"github.com/richinex/relay/model"
	"github.com/richinex/relay/server"
)

// GenerateOptions configures a one-shot generation.
type GenerateOptions struct {
	UserID  string
	RunID   string
	ModelID string
	NoDocs  bool
	Sources bool
	JSON    bool
}

// Generate runs a single prompt to completion and prints the reply.
func Generate(ctx context.Context, app *App, out io.Writer, prompt string, opts GenerateOptions) error {
	req := model.Request{
		UserID:   opts.UserID,
		RunID:    opts.RunID,
		Messages: []model.ChatMessage{userMessage(prompt)},
		Options:  requestOptions(opts),
	}
	res, err := app.Coordinator.Generate(ctx, req)
	if err != nil {
		return err
	}

	if opts.JSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	var final model.ExecutionState
	if err := json.Unmarshal(res.Payload, &final); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	fmt.Fprintf(out, "%s\n", final.GeneratedText)
	if len(final.Docs) > 0 && opts.Sources {
		fmt.Fprintln(out)
		for _, d := range final.Docs {
			fmt.Fprintf(out, "  %s\n", dim.Sprintf("source: %s", d.Source))
		}
	}
	fmt.Fprintf(out, "%s\n", dim.Sprintf("(run %s, model %s)", res.RunID, res.Model))
	return nil
}

func requestOptions(opts GenerateOptions) *model.GenerationOptions {
	return &model.GenerationOptions{
		EnhanceWithContext: !opts.NoDocs,
		MaxContextItems:    5,
		IncludeSourceInfo:  opts.Sources,
		ModelID:            opts.ModelID,
	}
}

// Resume continues a run with an optional message and prints its stream.
func Resume(ctx context.Context, app *App, out io.Writer, runID, message string, verbose bool) error {
	var msg *model.ChatMessage
	if message != "" {
		m := userMessage(message)
		msg = &m
	}
	stream, err := app.Coordinator.ResumeSession(ctx, runID, msg)
	if err != nil {
		return err
	}
	defer stream.Close()

	_, err = renderStream(stream, out, verbose)
	fmt.Fprintln(out)
	return err
}

// Chat starts an interactive streaming session. With runID set, an existing
// run is continued.
func Chat(ctx context.Context, app *App, in io.Reader, out io.Writer, runID string, opts GenerateOptions, verbose bool) error {
	resuming := false
	if runID != "" {
		cp, err := app.Store.GetCheckpoint(ctx, runID)
		if err != nil {
			return fmt.Errorf("failed to load run: %w", err)
		}
		resuming = cp != nil
	} else {
		runID = uuid.NewString()
	}

	if resuming {
		fmt.Fprintf(out, "Resuming run '%s'\n\n", runID)
	}
	fmt.Fprintf(out, "Chat session %s. Type 'exit' to quit.\n\n", runID)

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, prompt.Sprint("> "))
		if !scanner.Scan() {
			break
		}

		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			break
		}

		var (
			stream io.ReadCloser
			err    error
		)
		if resuming {
			m := userMessage(input)
			stream, err = app.Coordinator.ResumeSession(ctx, runID, &m)
		} else {
			stream, err = app.Coordinator.StartSession(ctx, model.Request{
				UserID:   opts.UserID,
				RunID:    runID,
				Messages: []model.ChatMessage{userMessage(input)},
				Options:  requestOptions(opts),
			})
		}
		if err != nil {
			fmt.Fprintf(out, "\n%s\n\n", failure.Sprintf("Error: %v", err))
			continue
		}

		fmt.Fprintln(out)
		_, err = renderStream(stream, out, verbose)
		stream.Close()
		fmt.Fprintln(out)
		fmt.Fprintln(out)
		if err != nil {
			continue
		}
		resuming = true
	}
	return scanner.Err()
}

// Serve runs the HTTP API until ctx is cancelled.
func Serve(ctx context.Context, app *App) error {
	s := app.Settings.Server
	h := server.NewHandler(app.Coordinator,
		server.WithLogger(app.Logger),
		server.WithGatherer(app.Registry),
		server.WithRequestTimeout(s.RequestTimeout),
	)
	return server.ListenAndServe(ctx, s.Addr, h.Routes(), s.ShutdownTimeout, app.Logger)
}

// ListModels prints the model registry.
func ListModels(app *App, out io.Writer) {
	def := app.Resolver.Default().ID
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "MODEL\tPROVIDER\tCONTEXT\tMAX OUT\tCAPABILITIES\t")
	for _, m := range app.Resolver.Registry().Models() {
		id := m.ID
		if id == def {
			id += " (default)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\t\n", id, m.Provider, m.ContextWindow, m.DefaultMaxTokens, capabilityList(m.Capabilities))
	}
	tw.Flush()
}

func capabilityList(c llm.Capabilities) string {
	var names []string
	for _, cp := range []llm.Capability{llm.CapabilityStreaming, llm.CapabilityToolUse, llm.CapabilityStructuredOutput} {
		if c.Has(cp) {
			names = append(names, cp.String())
		}
	}
	if len(names) == 0 {
		return "-"
	}
	return strings.Join(names, ",")
}

// ListRuns prints the most recently updated runs.
func ListRuns(ctx context.Context, app *App, out io.Writer, limit int) error {
	cps, err := app.Store.ListCheckpoints(ctx, limit)
	if err != nil {
		return err
	}
	if len(cps) == 0 {
		fmt.Fprintln(out, "No runs.")
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tUSER\tSTEP\tUPDATED\t")
	for _, cp := range cps {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t\n", cp.RunID, cp.UserID, cp.Step, cp.UpdatedAt.Local().Format(time.DateTime))
	}
	return tw.Flush()
}

// AddDocuments stores each file as a context document keyed by its path.
func AddDocuments(ctx context.Context, app *App, out io.Writer, paths []string) error {
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return fmt.Errorf("read %s: %w", p, err)
		}
		doc := model.Document{ID: filepath.Clean(p), Source: filepath.Base(p), Content: string(data)}
		if err := app.Store.StoreDocument(ctx, doc); err != nil {
			return fmt.Errorf("store %s: %w", p, err)
		}
		fmt.Fprintf(out, "%s %s (%d bytes)\n", success.Sprint("stored"), doc.ID, len(data))
	}
	return nil
}

// PurgeRetention deletes expired retention records and their checkpoints.
func PurgeRetention(ctx context.Context, app *App, out io.Writer, now time.Time) error {
	n, err := app.Store.PurgeExpired(ctx, now)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Purged %d expired record(s)\n", n)
	return nil
}
