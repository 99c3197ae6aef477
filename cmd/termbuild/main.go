// Package main is the entry point for the termbuild CLI.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/musher-dev/termbuild/internal/buildinfo"
	"github.com/musher-dev/termbuild/internal/config"
	clierrors "github.com/musher-dev/termbuild/internal/errors"
	"github.com/musher-dev/termbuild/internal/launcher"
	"github.com/musher-dev/termbuild/internal/observability"
	"github.com/musher-dev/termbuild/internal/output"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	os.Exit(run())
}

func run() (exitCode int) {
	// Restore cursor visibility on panic to prevent hidden cursor if process crashes during spinner
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprint(os.Stderr, "\033[?25h") // Show cursor (ANSI escape sequence) - use stderr as it's unbuffered
			panic(r)
		}
	}()

	buildinfo.Version = version
	buildinfo.Commit = commit
	buildinfo.Date = date

	out := output.Default()

	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		return handleError(out, err)
	}

	return 0
}

// handleError formats and displays a CLI error, returning the appropriate exit code.
// Library errors are mapped to CLIErrors first so they carry a hint and code.
func handleError(out *output.Writer, err error) int {
	err = classifyError(err)

	var cliErr *clierrors.CLIError
	if clierrors.As(err, &cliErr) {
		if cliErr.Message != "" {
			out.Failure("%s", cliErr.Message)
		}

		if cliErr.Hint != "" {
			out.Info("%s", cliErr.Hint)
		}

		return cliErr.Code
	}

	errStr := err.Error()

	// Format: "unknown command \"xyz\" for \"termbuild\"\n\nDid you mean this?\n\t..."
	if strings.HasPrefix(errStr, "unknown command") {
		out.Failure("%s", errStr)

		if !strings.Contains(errStr, "--help") {
			out.Info("Run 'termbuild --help' for usage")
		}

		return clierrors.ExitUsage
	}

	// Flag errors are normally wrapped by SetFlagErrorFunc; this catches
	// commands built without the root.
	if strings.HasPrefix(errStr, "unknown flag") ||
		strings.HasPrefix(errStr, "unknown shorthand flag") ||
		strings.Contains(errStr, "required flag") {
		out.Failure("%s", errStr)
		out.Info("Run 'termbuild --help' for usage")

		return clierrors.ExitUsage
	}

	out.Failure("%s", errStr)

	return clierrors.ExitGeneral
}

func newRootCmd() *cobra.Command {
	var (
		jsonOutput bool
		quiet      bool
		noColor    bool
		noInput    bool
		logLevel   string
		logFormat  string
		logFile    string
		logStderr  string
	)

	out := output.Default()

	rootCmd := &cobra.Command{
		Use:   "termbuild",
		Short: "termbuild - run builds in a terminal window and follow their output",
		Long: `termbuild launches a build command in a separate terminal window, copies
its output into a relay file, and streams that output back here while the
build runs. When the build ends it prints a finished marker with the
elapsed time and the number of error locations it matched.

Get started:
  termbuild run -- make all            Build in a new terminal window
  termbuild run -f build.toml          Build from a build definition
  termbuild run --terminal pty -- go test ./...
  termbuild history list               Past builds and their outcomes
  termbuild doctor                     Check the terminal and relay setup`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			out.JSON = pickBoolFlagOrEnv(jsonOutput, "TERMBUILD_JSON")
			out.Quiet = pickBoolFlagOrEnv(quiet, "TERMBUILD_QUIET")
			out.NoInput = pickBoolFlagOrEnv(noInput, "TERMBUILD_NO_INPUT") || pickBoolFlagOrEnv(false, "CI")

			if noColor {
				out.SetNoColor(true)

				color.NoColor = true
			}

			buildEnv := buildEnvFromConfig(config.Load())

			logCfg := observability.Config{
				Level:          pickFlagOrEnv(logLevel, "TERMBUILD_LOG_LEVEL", "info"),
				Format:         pickFlagOrEnv(logFormat, "TERMBUILD_LOG_FORMAT", "json"),
				LogFile:        pickFlagOrEnv(logFile, "TERMBUILD_LOG_FILE", ""),
				StderrMode:     pickFlagOrEnv(logStderr, "TERMBUILD_LOG_STDERR", "auto"),
				InteractiveTTY: out.Terminal().IsTTY && isInteractiveCommand(cmd.CommandPath()),
				RunID:          uuid.NewString(),
				CommandPath:    cmd.CommandPath(),
				Version:        version,
				Commit:         commit,
				Build:          buildEnv,
			}

			logger, cleanup, err := observability.NewLogger(&logCfg)
			if err != nil {
				return &clierrors.CLIError{
					Message: fmt.Sprintf("Invalid logging configuration: %v", err),
					Hint:    "Use --log-level (error|warn|info|debug), --log-format (json|text), --log-stderr (auto|on|off), and/or --log-file",
					Code:    clierrors.ExitUsage,
				}
			}

			slog.SetDefault(logger)

			ctx := out.WithContext(cmd.Context())
			ctx = observability.WithLogger(ctx, logger)
			cmd.SetContext(ctx)

			if cleanup != nil {
				cmd.PostRunE = wrapPostRunCleanup(cmd.PostRunE, cleanup)
			}

			// Opt-in via OTEL_ENABLED.
			telemetryCfg := &observability.TelemetryConfig{
				Enabled: observability.IsTelemetryEnabled(),
				Version: version,
				Commit:  commit,
				Build:   buildEnv,
			}

			telemetryShutdown, telemetryErr := observability.SetupTelemetry(ctx, telemetryCfg)
			if telemetryErr != nil {
				logger.Warn("telemetry initialization failed", slog.String("error", telemetryErr.Error()))
			}

			if telemetryShutdown != nil {
				cmd.PostRunE = wrapNamedPostRunCleanup(cmd.PostRunE, "telemetry resources", func() error {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()

					return telemetryShutdown(shutdownCtx)
				})
			}

			return nil
		},
	}

	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "Minimal output (for CI)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().BoolVar(&noInput, "no-input", false, "Disable interactive prompts")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: error, warn, info, debug")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format: json, text")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Optional structured log file path")
	rootCmd.PersistentFlags().StringVar(&logStderr, "log-stderr", "", "Structured logging to stderr: auto, on, off")

	rootCmd.SuggestionsMinimumDistance = 2

	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return &clierrors.CLIError{
			Message: err.Error(),
			Hint:    fmt.Sprintf("Run '%s --help' for available flags", cmd.CommandPath()),
			Code:    clierrors.ExitUsage,
		}
	})

	// Primary commands
	rootCmd.AddCommand(newRunCmd())

	// Resource commands (noun-first)
	rootCmd.AddCommand(newCacheCmd())
	rootCmd.AddCommand(newConfigCmd())
	rootCmd.AddCommand(newHistoryCmd())

	// Utility commands
	rootCmd.AddCommand(newDoctorCmd())
	rootCmd.AddCommand(newPathsCmd())
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newCompletionCmd())

	return rootCmd
}

func wrapPostRunCleanup(postRun func(*cobra.Command, []string) error, cleanup func() error) func(*cobra.Command, []string) error {
	return wrapNamedPostRunCleanup(postRun, "logger resources", cleanup)
}

func wrapNamedPostRunCleanup(postRun func(*cobra.Command, []string) error, name string, cleanup func() error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		if postRun != nil {
			if err := postRun(cmd, args); err != nil {
				_ = cleanup()
				return err
			}
		}

		if err := cleanup(); err != nil {
			return fmt.Errorf("cleanup %s: %w", name, err) //nolint:rawerror // internal cleanup, not user-facing
		}

		return nil
	}
}

func pickBoolFlagOrEnv(flagValue bool, envKey string) bool {
	if flagValue {
		return true
	}

	v := strings.ToLower(strings.TrimSpace(os.Getenv(envKey)))

	return v == "1" || v == "true" || v == "yes"
}

func pickFlagOrEnv(flagValue, envKey, fallback string) string {
	trimmed := strings.TrimSpace(flagValue)
	if trimmed != "" {
		return trimmed
	}

	if envValue := strings.TrimSpace(os.Getenv(envKey)); envValue != "" {
		return envValue
	}

	return fallback
}

// isInteractiveCommand reports whether the command streams build output to
// the terminal, where log lines on stderr would interleave with it.
func isInteractiveCommand(path string) bool {
	return path == "termbuild run" || strings.HasPrefix(path, "termbuild run ")
}

// VersionInfo represents version information for JSON output.
type VersionInfo struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Date    string `json:"date"`
}

// noArgs returns a Cobra positional-arg validator that rejects any arguments
// with a clear, user-friendly message (unlike cobra.NoArgs which says "unknown command").
func noArgs(cmd *cobra.Command, args []string) error {
	if len(args) > 0 {
		return &clierrors.CLIError{
			Message: fmt.Sprintf("'%s' accepts no arguments", cmd.CommandPath()),
			Hint:    fmt.Sprintf("Run '%s --help' for usage", cmd.CommandPath()),
			Code:    clierrors.ExitUsage,
		}
	}

	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "version",
		Short:   "Show version information",
		Long:    `Display the termbuild binary version, git commit, and build date.`,
		Example: `  termbuild version`,
		Args:    noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.FromContext(cmd.Context())

			if out.JSON {
				return out.PrintJSON(VersionInfo{
					Version: version,
					Commit:  commit,
					Date:    date,
				})
			}

			out.Print("termbuild %s\n", version)
			out.Print("  commit: %s\n", commit)
			out.Print("  built:  %s\n", date)

			return nil
		},
	}
}

func newCompletionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "completion <bash|zsh|fish|powershell>",
		Short: "Generate shell completion scripts",
		Example: `  termbuild completion bash > /etc/bash_completion.d/termbuild
  termbuild completion zsh > "${fpath[1]}/_termbuild"`,
		Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"bash", "zsh", "fish", "powershell"},
		RunE: func(cmd *cobra.Command, args []string) error {
			root := cmd.Root()
			w := cmd.OutOrStdout()

			switch args[0] {
			case "bash":
				return root.GenBashCompletionV2(w, true)
			case "zsh":
				return root.GenZshCompletion(w)
			case "fish":
				return root.GenFishCompletion(w, true)
			default:
				return root.GenPowerShellCompletionWithDesc(w)
			}
		},
	}
}

// buildEnvFromConfig describes the configured terminal and relay for logs and
// traces. Per-run flags are recorded on the session span instead.
func buildEnvFromConfig(cfg *config.Config) observability.BuildEnv {
	program := cfg.TerminalProgram()

	return observability.BuildEnv{
		TerminalProgram:   program,
		Headless:          launcher.New(launcher.Options{Terminal: program}).Headless(),
		RelayPath:         cfg.TeePath(),
		AllowMissingRelay: cfg.AllowMissingTee(),
	}
}
