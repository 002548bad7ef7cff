// Command cfbfeatures turns raw college-football box scores into a relative
// feature table for match-outcome models. It loads configuration, validates
// it, wires the configured backends and runs a single build, the scheduler
// and API service, or one of the maintenance commands.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/JonahBenton321/college-football-prediction/internal/app"
	"github.com/JonahBenton321/college-football-prediction/internal/config"
	"github.com/JonahBenton321/college-football-prediction/internal/domain"
	"github.com/JonahBenton321/college-football-prediction/internal/pipeline"
)

// Exit codes.
const (
	exitFailure = 1
	exitConfig  = 2
	exitInput   = 3
	exitBusy    = 4
)

// exitErr carries a numeric exit code through the cobra error path.
type exitErr struct {
	code int
	msg  string
}

func (e *exitErr) Error() string { return e.msg }

// codeError returns an exitErr for the given code.
func codeError(code int, format string, args ...any) error {
	return &exitErr{code: code, msg: fmt.Sprintf(format, args...)}
}

// globalFlags are shared by every command.
type globalFlags struct {
	configPath string
	logLevel   string
}

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		var ee *exitErr
		if errors.As(err, &ee) {
			fmt.Fprintln(os.Stderr, "Error:", ee.msg)
			os.Exit(ee.code)
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(exitFailure)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	var flags globalFlags

	root := &cobra.Command{
		Use:   "cfbfeatures",
		Short: "Build relative form features from college football box scores",
		Long: "cfbfeatures smooths each team's box-score history, pairs the two teams of every " +
			"fixture and writes their differences with a win label as a CSV feature table.\n\n" +
			"Without a subcommand the mode from the configuration file is run.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, &flags, out, func(ctx context.Context, a *app.App) error {
				return a.Run(ctx)
			})
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flags.configPath, "config", "config.toml", "Path to the TOML configuration file")
	pf.StringVar(&flags.logLevel, "log-level", "", "Override log_level: debug, info, warn or error")

	root.AddCommand(
		newBuildCmd(&flags, out),
		newServeCmd(&flags, out),
		newIngestCmd(&flags, out),
		newArchiveCmd(&flags, out),
		newConfigCmd(&flags, out),
	)
	return root
}

func newBuildCmd(flags *globalFlags, out io.Writer) *cobra.Command {
	var req pipeline.Request
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Run one feature build and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req.Trigger = "cli"
			return withApp(cmd, flags, out, func(ctx context.Context, a *app.App) error {
				_, err := a.Build(ctx, req)
				return err
			})
		},
	}
	cmd.Flags().StringVar(&req.InputKey, "input", "", "Raw table object key (default source.input_key)")
	cmd.Flags().StringVar(&req.OutputKey, "output", "", "Feature table object key (default output.key)")
	return cmd
}

func newServeCmd(flags *globalFlags, out io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Rebuild on a schedule and serve the run API until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, flags, out, func(ctx context.Context, a *app.App) error {
				return a.Serve(ctx)
			})
		},
	}
}

func newIngestCmd(flags *globalFlags, out io.Writer) *cobra.Command {
	var req app.IngestRequest
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Load a raw box-score CSV into Postgres",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, flags, out, func(ctx context.Context, a *app.App) error {
				n, err := a.Ingest(ctx, req)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "ingested %d records\n", n)
				return nil
			})
		},
	}
	f := cmd.Flags()
	f.StringVar(&req.Key, "key", "", "Object key in blob storage (default source.input_key)")
	f.StringVar(&req.File, "file", "", "Local CSV path; takes precedence over --key")
	f.BoolVar(&req.Replace, "replace", false, "Replace the stored table instead of upserting")
	return cmd
}

func newArchiveCmd(flags *globalFlags, out io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "archive",
		Short: "Copy build runs older than schedule.retention_days to blob storage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, flags, out, func(ctx context.Context, a *app.App) error {
				return a.Archive(ctx)
			})
		},
	}
}

func newConfigCmd(flags *globalFlags, out io.Writer) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration with secrets redacted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			redacted := config.RedactedConfig(cfg)
			switch format {
			case "toml":
				if err := toml.NewEncoder(out).Encode(redacted); err != nil {
					return codeError(exitFailure, "encode config: %s", err)
				}
			case "json":
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(redacted); err != nil {
					return codeError(exitFailure, "encode config: %s", err)
				}
			default:
				return codeError(exitConfig, "unknown format %q (valid: toml, json)", format)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "toml", "Output format: toml or json")
	return cmd
}

// loadConfig reads and validates the configuration named by flags.
func loadConfig(flags *globalFlags) (*config.Config, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, codeError(exitConfig, "load config %s: %s", flags.configPath, err)
	}
	if flags.logLevel != "" {
		cfg.LogLevel = flags.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, codeError(exitConfig, "%s", err)
	}
	return cfg, nil
}

// withApp loads the configuration, sets up logging and signal handling and
// runs fn against a fresh App. The returned error carries an exit code.
func withApp(cmd *cobra.Command, flags *globalFlags, out io.Writer, fn func(context.Context, *app.App) error) error {
	cfg, err := loadConfig(flags)
	if err != nil {
		return err
	}

	logger := newLogger(out, cfg.LogLevel)
	slog.SetDefault(logger)

	application := app.New(cfg, logger)
	defer application.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := fn(ctx, application); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Info("application shut down gracefully")
			return nil
		}
		logger.Error("application exited with error", slog.String("error", err.Error()))
		return exitError(err)
	}
	return nil
}

// newLogger returns a JSON logger writing to w at the named level.
func newLogger(w io.Writer, level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: l}))
}

// exitError maps a run error to its exit code.
func exitError(err error) error {
	switch {
	case errors.Is(err, domain.ErrLockHeld):
		return codeError(exitBusy, "%s", err)
	case errors.Is(err, domain.ErrSchema),
		errors.Is(err, domain.ErrOddRecordCount),
		errors.Is(err, domain.ErrMispairedFixture),
		errors.Is(err, domain.ErrMisaligned),
		errors.Is(err, domain.ErrEmptyInput),
		errors.Is(err, domain.ErrNotFound):
		return codeError(exitInput, "%s", err)
	default:
		return codeError(exitFailure, "%s", err)
	}
}
