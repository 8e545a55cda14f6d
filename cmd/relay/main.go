// Package main provides the relay CLI entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/richinex/relay/cli"
)

var (
	// Global flags
	configPath string
	verbose    bool
)

func main() {
	// Load .env file if present (ignore "file not found" errors)
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Warning: failed to load .env file: %v\n", err)
		}
	}

	rootCmd := &cobra.Command{
		Use:   "relay",
		Short: "Conversation orchestration over pluggable LLM providers",
		Long: `Relay turns chat requests into runs: it filters and redacts input,
resolves a model, retrieves context documents, generates a reply and
checkpoints every step so a run can be resumed later.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to YAML config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Show debug logs and node updates")

	rootCmd.AddCommand(generateCmd())
	rootCmd.AddCommand(chatCmd())
	rootCmd.AddCommand(resumeCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(modelsCmd())
	rootCmd.AddCommand(runsCmd())
	rootCmd.AddCommand(docsCmd())
	rootCmd.AddCommand(retentionCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// withApp wires the application for the duration of fn.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, app *cli.App) error) error {
	ctx := cmd.Context()
	app, err := cli.NewApp(ctx, cli.Options{ConfigPath: configPath, Verbose: verbose})
	if err != nil {
		return err
	}
	defer app.Close()
	return fn(ctx, app)
}

func addGenerateFlags(cmd *cobra.Command, opts *cli.GenerateOptions) {
	cmd.Flags().StringVarP(&opts.UserID, "user", "u", "cli", "User id the run is attributed to")
	cmd.Flags().StringVar(&opts.ModelID, "model", "", "Model id (defaults to the configured default)")
	cmd.Flags().BoolVar(&opts.NoDocs, "no-docs", false, "Skip context document retrieval")
	cmd.Flags().BoolVar(&opts.Sources, "sources", false, "Include document sources in the prompt")
}

func generateCmd() *cobra.Command {
	var opts cli.GenerateOptions

	cmd := &cobra.Command{
		Use:   "generate [prompt]",
		Short: "Run a single prompt to completion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, app *cli.App) error {
				return cli.Generate(ctx, app, cmd.OutOrStdout(), args[0], opts)
			})
		},
	}

	addGenerateFlags(cmd, &opts)
	cmd.Flags().StringVar(&opts.RunID, "run", "", "Run id (generated when empty)")
	cmd.Flags().BoolVar(&opts.JSON, "json", false, "Print the full result as JSON")
	return cmd
}

func chatCmd() *cobra.Command {
	var opts cli.GenerateOptions
	var runID string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive streaming session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, app *cli.App) error {
				return cli.Chat(ctx, app, cmd.InOrStdin(), cmd.OutOrStdout(), runID, opts, verbose)
			})
		},
	}

	addGenerateFlags(cmd, &opts)
	cmd.Flags().StringVar(&runID, "run", "", "Run id to continue or create")
	return cmd
}

func resumeCmd() *cobra.Command {
	var message string

	cmd := &cobra.Command{
		Use:   "resume [run-id]",
		Short: "Continue a run, optionally with a new message",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, app *cli.App) error {
				return cli.Resume(ctx, app, cmd.OutOrStdout(), args[0], message, verbose)
			})
		},
	}

	cmd.Flags().StringVarP(&message, "message", "m", "", "New user message")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, app *cli.App) error {
				if addr != "" {
					app.Settings.Server.Addr = addr
				}
				return cli.Serve(ctx, app)
			})
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides config)")
	return cmd
}

func modelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List registered models",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, app *cli.App) error {
				cli.ListModels(app, cmd.OutOrStdout())
				return nil
			})
		},
	}
}

func runsCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, app *cli.App) error {
				return cli.ListRuns(ctx, app, cmd.OutOrStdout(), limit)
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum runs to show")
	return cmd
}

func docsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "docs",
		Short: "Manage context documents",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "add [file...]",
		Short: "Store files as context documents",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, app *cli.App) error {
				return cli.AddDocuments(ctx, app, cmd.OutOrStdout(), args)
			})
		},
	})
	return cmd
}

func retentionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "retention",
		Short: "Manage data retention",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "purge",
		Short: "Delete expired retention records and their runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, app *cli.App) error {
				return cli.PurgeRetention(ctx, app, cmd.OutOrStdout(), time.Now())
			})
		},
	})
	return cmd
}
