package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/musher-dev/termbuild/internal/buildfile"
	"github.com/musher-dev/termbuild/internal/config"
	clierrors "github.com/musher-dev/termbuild/internal/errors"
	"github.com/musher-dev/termbuild/internal/launcher"
	"github.com/musher-dev/termbuild/internal/observability"
	"github.com/musher-dev/termbuild/internal/output"
	"github.com/musher-dev/termbuild/internal/prompt"
	"github.com/musher-dev/termbuild/internal/pump"
	"github.com/musher-dev/termbuild/internal/results"
	"github.com/musher-dev/termbuild/internal/session"
	"github.com/musher-dev/termbuild/internal/transcript"
)

type runFlags struct {
	file         string
	shell        string
	dir          string
	env          []string
	path         string
	fileRegex    string
	lineRegex    string
	encoding     string
	tee          string
	prompt       bool
	allowNoRelay bool
	exitMethod   string
	terminal     string
	geometry     string
	pollInterval time.Duration
	lineBuffered bool
	watch        bool
	noMarker     bool
	noHistory    bool
}

// buildPlan is everything needed to start one build.
type buildPlan struct {
	command   session.Command
	fileRegex string
	lineRegex string
	launcher  launcher.Options
	pump      pump.Options
	watch     bool
	scratch   string
	history   string
}

// RunSummary is the JSON form of a finished build.
type RunSummary struct {
	ID          string             `json:"id"`
	CommandLine string             `json:"commandLine"`
	Outcome     string             `json:"outcome"`
	ElapsedMS   int64              `json:"elapsedMs"`
	ErrorCount  int                `json:"errorCount"`
	Errors      []results.Location `json:"errors,omitempty"`
}

func newRunCmd() *cobra.Command {
	var flags runFlags

	cmd := &cobra.Command{
		Use:   "run [flags] [-- command [args...]]",
		Short: "Run a build in a terminal window and stream its output",
		Long: `Launch a build command in a new terminal window. The command's combined
output is copied into a relay file that termbuild follows, so the output
appears both in the window and here. When the build ends a marker such as
"[Finished in 1.2]" or "[Finished in 1.2 with 3 errors]" is printed.

Press Ctrl-C to cancel: the terminal and everything it started are
terminated and "[Cancelled]" is printed.

Use --terminal pty or --terminal direct to run without a window.`,
		Example: `  termbuild run -- make -j8
  termbuild run --shell 'go build ./... && go vet ./...'
  termbuild run -f build.toml --exit manual
  termbuild run --terminal pty --file-regex '^(\S+?):(\d+):(?:(\d+):)? (.*)$' -- go build ./...`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.FromContext(cmd.Context())
			cfg := config.Load()

			plan, err := planBuild(cfg, &flags, args)
			if err != nil {
				return err
			}

			return runBuild(cmd.Context(), out, plan)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&flags.file, "file", "f", "", "Build definition (.toml, .yaml, .yml or .json)")
	f.StringVar(&flags.shell, "shell", "", "Run a shell command line instead of an argument list")
	f.StringVar(&flags.dir, "dir", "", "Working directory (default: current directory)")
	f.StringArrayVarP(&flags.env, "env", "e", nil, "Environment override KEY=VALUE; $VAR expands (repeatable)")
	f.StringVar(&flags.path, "path", "", "Replace PATH for the build; $PATH expands to the current value")
	f.StringVar(&flags.fileRegex, "file-regex", "", "Error pattern with groups file, line, column, message")
	f.StringVar(&flags.lineRegex, "line-regex", "", "Error pattern with groups line, column, message for the last file seen")
	f.StringVar(&flags.encoding, "encoding", "", "Output encoding, or 'auto' to detect (default from build.encoding)")
	f.StringVar(&flags.tee, "tee", "", "Relay utility (default from relay.tee_path)")
	f.BoolVar(&flags.prompt, "prompt", false, "Edit the command line before launching")
	f.BoolVar(&flags.allowNoRelay, "allow-no-relay", false, "Run without captured output when the relay utility is missing")
	f.StringVar(&flags.exitMethod, "exit", "", "After the build: prompt, manual, or auto (default from terminal.exit_method)")
	f.StringVar(&flags.terminal, "terminal", "", "Terminal program, or 'pty' / 'direct' to run headless")
	f.StringVar(&flags.geometry, "geometry", "", "Terminal size COLUMNSxLINES, e.g. 120x40")
	f.DurationVar(&flags.pollInterval, "poll-interval", 0, "How often the relay file is polled (default from pump.poll_interval)")
	f.BoolVar(&flags.lineBuffered, "line-buffered", false, "Deliver output a whole line at a time")
	f.BoolVar(&flags.watch, "watch", false, "Wake on file changes in addition to polling")
	f.BoolVar(&flags.noMarker, "no-marker", false, "Do not print the finished marker")
	f.BoolVar(&flags.noHistory, "no-history", false, "Do not record this build in history")

	return cmd
}

func planBuild(cfg *config.Config, flags *runFlags, args []string) (*buildPlan, error) {
	plan := &buildPlan{}

	var def *buildfile.File

	if flags.file != "" {
		loaded, err := buildfile.Load(flags.file)
		if err != nil {
			return nil, clierrors.BuildFileInvalid(flags.file, err)
		}

		def = loaded
	} else {
		def = &buildfile.File{}
	}

	if len(args) > 0 {
		def.Cmd, def.ShellCmd = args, ""
	}

	if flags.shell != "" {
		def.Cmd, def.ShellCmd = nil, flags.shell
	}

	if len(def.Cmd) == 0 && def.ShellCmd == "" {
		return nil, clierrors.NoCommand()
	}

	overrideString(&def.FileRegex, flags.fileRegex)
	overrideString(&def.LineRegex, flags.lineRegex)
	overrideString(&def.PathEnv, flags.path)
	overrideString(&def.Tee, flags.tee)

	if flags.dir != "" {
		def.WorkingDir, def.Path = flags.dir, ""
	}

	def.Encoding = firstNonEmpty(flags.encoding, def.Encoding, cfg.Encoding())
	def.ExitMethod = firstNonEmpty(flags.exitMethod, def.ExitMethod, cfg.ExitMethod())
	def.Prompt = def.Prompt || flags.prompt
	def.Quiet = def.Quiet || flags.noMarker

	if len(flags.env) > 0 {
		env, err := parseEnv(flags.env)
		if err != nil {
			return nil, err
		}

		if def.Env == nil {
			def.Env = map[string]string{}
		}

		for k, v := range env {
			def.Env[k] = v
		}
	}

	exitMethod, err := launcher.ParseExitMethod(def.ExitMethod)
	if err != nil {
		return nil, clierrors.InvalidChoice("exit", def.ExitMethod, []string{"prompt", "manual", "auto"})
	}

	if err := def.Validate(); err != nil {
		source := flags.file
		if source == "" {
			source = "command line"
		}

		return nil, clierrors.BuildFileInvalid(source, err)
	}

	plan.command = def.Command()

	if plan.command.Dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("resolve working directory: %w", err)
		}

		plan.command.Dir = wd
	} else if abs, err := filepath.Abs(plan.command.Dir); err == nil {
		plan.command.Dir = abs
	}

	geometry, err := resolveGeometry(cfg, flags.geometry)
	if err != nil {
		return nil, err
	}

	plan.fileRegex = def.FileRegex
	plan.lineRegex = def.LineRegex
	plan.launcher = launcher.Options{
		Terminal:     firstNonEmpty(flags.terminal, cfg.TerminalProgram()),
		TeePath:      firstNonEmpty(def.Tee, cfg.TeePath()),
		AllowNoRelay: flags.allowNoRelay || cfg.AllowMissingTee(),
		ExitMethod:   exitMethod,
		Geometry:     geometry,
	}

	interval := flags.pollInterval
	if interval <= 0 {
		interval = cfg.PollInterval()
	}

	plan.pump = pump.Options{
		Interval:     interval,
		Encoding:     def.Encoding,
		LineBuffered: flags.lineBuffered,
	}
	plan.watch = flags.watch || cfg.WatchEnabled()
	plan.scratch = cfg.ScratchDir()

	if cfg.HistoryEnabled() && !flags.noHistory {
		plan.history = cfg.HistoryDir()
	}

	return plan, nil
}

func runBuild(ctx context.Context, out *output.Writer, plan *buildPlan) error {
	logger := observability.FromContext(ctx).With(slog.String("component", "cli.run"))

	sessCfg := session.Config{
		ScratchDir: plan.scratch,
		Launcher:   launcher.New(plan.launcher),
		Pump:       plan.pump,
		Watch:      plan.watch,
	}

	if plan.command.Prompt {
		p := prompt.New(out)
		if !p.CanPrompt() {
			return clierrors.CannotPrompt()
		}

		sessCfg.Prompt = p.CommandLine
	}

	// JSON mode prints only the summary.
	panelOut := out
	if out.JSON {
		panelOut = output.NewWriter(io.Discard, out.Err, out.Terminal())
	}

	var rec *historyRecorder

	panelOpts := results.Options{
		FileRegex: plan.fileRegex,
		LineRegex: plan.lineRegex,
		BaseDir:   plan.command.Dir,
	}

	if plan.history != "" {
		rec = &historyRecorder{dir: plan.history, logger: logger}
		panelOpts.Recorder = rec
	}

	panel, err := results.New(panelOut, panelOpts)
	if err != nil {
		return clierrors.Wrap(clierrors.ExitUsage, "Invalid error pattern", err)
	}

	sink := &buildSink{Panel: panel, out: panelOut, rec: rec}
	manager := session.NewManager(sessCfg, true)

	// Installed before Start so an interrupt at the prompt or during the
	// launch still removes the relay files.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	defer signal.Stop(sigCh)

	finished := make(chan struct{})
	defer close(finished)

	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("cancelling build", slog.String("event.type", "session.cancel"), slog.String("signal", sig.String()))
			manager.CancelAll()
		case <-ctx.Done():
			manager.CancelAll()
		case <-finished:
		}
	}()

	s, err := manager.Start(ctx, plan.command, sink)
	if err != nil {
		return classifyError(err)
	}

	res, _ := s.Wait(context.Background())

	if rec != nil {
		if closeErr := rec.Close(); closeErr != nil {
			logger.Warn("history close failed", slog.String("error", closeErr.Error()))
		}
	}

	if res.CleanupErr != nil {
		logger.Warn("relay files left behind", slog.String("event.type", "session.cleanup"), slog.String("error", res.CleanupErr.Error()))
	}

	if out.JSON {
		if err := out.PrintJSON(RunSummary{
			ID:          res.ID,
			CommandLine: res.CommandLine,
			Outcome:     string(res.Outcome),
			ElapsedMS:   res.Elapsed.Milliseconds(),
			ErrorCount:  res.ErrorCount,
			Errors:      panel.Errors(),
		}); err != nil {
			return err
		}
	}

	switch {
	case res.Outcome == session.OutcomeCancelled:
		return clierrors.BuildCancelled()
	case res.ErrorCount > 0:
		return clierrors.BuildFailed(res.ErrorCount)
	default:
		return nil
	}
}

// buildSink adds start notices and history recording to the results panel.
type buildSink struct {
	*results.Panel

	out *output.Writer
	rec *historyRecorder
}

func (b *buildSink) OnStarted(info session.Info) {
	if !info.Relay {
		b.out.Warning("Relay utility missing; output appears only in the terminal window")
	}

	if b.rec != nil {
		b.rec.open(info)
	}

	b.Panel.OnStarted(info)
}

// historyRecorder opens the transcript once the session id and final
// command line are known.
type historyRecorder struct {
	dir    string
	logger *slog.Logger

	mu    sync.Mutex
	store *transcript.Store
}

func (h *historyRecorder) open(info session.Info) {
	store, err := transcript.NewStore(transcript.StoreOptions{
		SessionID:   info.ID,
		Dir:         h.dir,
		CommandLine: info.CommandLine,
		WorkDir:     info.Dir,
	})
	if err != nil {
		h.logger.Warn("history disabled for this build", slog.String("error", err.Error()))
		return
	}

	h.mu.Lock()
	h.store = store
	h.mu.Unlock()
}

func (h *historyRecorder) Append(kind, text string, final bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.store == nil {
		return nil
	}

	return h.store.Append(kind, text, final)
}

func (h *historyRecorder) Finish(outcome string, errorCount int, elapsed time.Duration) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.store == nil {
		return nil
	}

	return h.store.Finish(outcome, errorCount, elapsed)
}

func (h *historyRecorder) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.store == nil {
		return nil
	}

	return h.store.Close()
}

func parseEnv(pairs []string) (map[string]string, error) {
	env := make(map[string]string, len(pairs))

	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return nil, &clierrors.CLIError{
				Message: fmt.Sprintf("Invalid --env value: %q", pair),
				Hint:    "Use KEY=VALUE, e.g. --env CC=clang",
				Code:    clierrors.ExitUsage,
			}
		}

		env[key] = value
	}

	return env, nil
}

func resolveGeometry(cfg *config.Config, flag string) (launcher.Geometry, error) {
	if flag == "" {
		columns, lines := cfg.TerminalGeometry()
		return launcher.Geometry{Columns: columns, Lines: lines}, nil
	}

	cols, rows, ok := strings.Cut(strings.ToLower(flag), "x")

	c, errC := strconv.Atoi(cols)
	r, errR := strconv.Atoi(rows)

	if !ok || errC != nil || errR != nil || c <= 0 || r <= 0 {
		return launcher.Geometry{}, &clierrors.CLIError{
			Message: fmt.Sprintf("Invalid --geometry value: %q", flag),
			Hint:    "Use COLUMNSxLINES, e.g. --geometry 120x40",
			Code:    clierrors.ExitUsage,
		}
	}

	return launcher.Geometry{Columns: c, Lines: r}, nil
}

func overrideString(dst *string, value string) {
	if value != "" {
		*dst = value
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}

	return ""
}
