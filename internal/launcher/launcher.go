// Package launcher starts a build command inside a visible terminal window
// (or a headless backend) with its merged output relayed into a file through
// tee, followed by a completion marker.
package launcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/musher-dev/termbuild/internal/observability"
)

// Headless backends selectable through Options.Terminal.
const (
	// BackendDirect runs the relay script with no terminal attached.
	BackendDirect = "direct"
	// BackendPTY runs the relay script on a pseudo-terminal owned by the host.
	BackendPTY = "pty"
)

// DefaultGracePeriod is how long Terminate waits before force-killing.
const DefaultGracePeriod = 2 * time.Second

// ExitMethod controls what the terminal does once the command has finished.
type ExitMethod string

// Exit methods.
const (
	ExitPrompt ExitMethod = "prompt"
	ExitManual ExitMethod = "manual"
	ExitAuto   ExitMethod = "auto"
)

// ParseExitMethod validates s. The empty string maps to ExitPrompt.
func ParseExitMethod(s string) (ExitMethod, error) {
	switch ExitMethod(strings.ToLower(strings.TrimSpace(s))) {
	case "", ExitPrompt:
		return ExitPrompt, nil
	case ExitManual:
		return ExitManual, nil
	case ExitAuto:
		return ExitAuto, nil
	default:
		return "", fmt.Errorf("invalid exit method %q (expected prompt, manual, or auto)", s)
	}
}

// Geometry is the requested terminal size. Zero fields keep the emulator's
// default.
type Geometry struct {
	Columns int
	Lines   int
}

// IsZero reports whether no size was requested.
func (g Geometry) IsZero() bool {
	return g.Columns <= 0 || g.Lines <= 0
}

func (g Geometry) String() string {
	return fmt.Sprintf("%dx%d", g.Columns, g.Lines)
}

// Options configures a Launcher.
type Options struct {
	// Terminal is the emulator program, or BackendDirect / BackendPTY.
	Terminal string
	// TeePath is the relay utility, resolved through PATH when not absolute.
	TeePath string
	// AllowNoRelay degrades to running without output capture when the relay
	// utility is missing.
	AllowNoRelay bool
	ExitMethod   ExitMethod
	Geometry     Geometry
	// GracePeriod bounds how long Terminate waits before force-killing.
	GracePeriod time.Duration
}

// PromptFunc lets the user edit the command line before launch. Returning an
// error aborts the launch.
type PromptFunc func(ctx context.Context, commandLine string) (string, error)

// Request describes one build to launch.
type Request struct {
	// Args is the argv form of the command. Ignored when Shell is set.
	Args []string
	// Shell is a command line passed to the shell verbatim.
	Shell string
	Dir   string
	Env   map[string]string
	// Path replaces PATH for the command; $PATH references expand against
	// the current value.
	Path string

	DataPath string
	DonePath string

	// Prompt, when set, is called with the command line before launch.
	Prompt PromptFunc
}

// CommandLine renders the request as a single shell command line.
func (r Request) CommandLine() (string, error) {
	if strings.TrimSpace(r.Shell) != "" {
		return r.Shell, nil
	}

	if len(r.Args) == 0 {
		return "", errors.New("no command to run")
	}

	return quoteArgs(r.Args)
}

// LaunchError reports that the terminal could not be started.
type LaunchError struct {
	Program string
	Err     error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launch %s: %v", e.Program, e.Err)
}

func (e *LaunchError) Unwrap() error {
	return e.Err
}

// TeeNotFoundError reports that the relay utility is missing.
type TeeNotFoundError struct {
	Path string
	Err  error
}

func (e *TeeNotFoundError) Error() string {
	return fmt.Sprintf("relay utility %q not found: %v", e.Path, e.Err)
}

func (e *TeeNotFoundError) Unwrap() error {
	return e.Err
}

// Launcher spawns build terminals.
type Launcher struct {
	opts     Options
	lookPath func(string) (string, error)
}

// New creates a Launcher. Empty options fall back to platform defaults.
func New(opts Options) *Launcher {
	if opts.Terminal == "" {
		opts.Terminal = defaultTerminal
	}

	if opts.TeePath == "" {
		opts.TeePath = defaultTee
	}

	if opts.ExitMethod == "" {
		opts.ExitMethod = ExitPrompt
	}

	if opts.GracePeriod <= 0 {
		opts.GracePeriod = DefaultGracePeriod
	}

	return &Launcher{opts: opts, lookPath: exec.LookPath}
}

// Options returns the effective options.
func (l *Launcher) Options() Options {
	return l.opts
}

// Headless reports whether the launcher runs without a terminal window.
func (l *Launcher) Headless() bool {
	return isHeadless(l.opts.Terminal)
}

func isHeadless(program string) bool {
	return program == BackendDirect || program == BackendPTY
}

// Launch resolves the relay utility, prompts if requested, and spawns the
// terminal. The returned Process is already running.
func (l *Launcher) Launch(ctx context.Context, req Request) (*Process, error) {
	logger := observability.FromContext(ctx).With(
		slog.String("component", "launcher"),
		slog.String("terminal.program", l.opts.Terminal),
	)

	commandLine, err := req.CommandLine()
	if err != nil {
		return nil, &LaunchError{Program: l.opts.Terminal, Err: err}
	}

	if req.Prompt != nil {
		edited, promptErr := req.Prompt(ctx, commandLine)
		if promptErr != nil {
			return nil, promptErr
		}

		if strings.TrimSpace(edited) == "" {
			return nil, &LaunchError{Program: l.opts.Terminal, Err: errors.New("no command to run")}
		}

		commandLine = edited
	}

	relay := true

	teeBin, err := l.lookPath(l.opts.TeePath)
	if err != nil {
		if !l.opts.AllowNoRelay {
			return nil, &TeeNotFoundError{Path: l.opts.TeePath, Err: err}
		}

		relay = false

		logger.Warn("relay utility missing; output will not be captured",
			slog.String("event.type", "launcher.no_relay"),
			slog.String("relay.path", l.opts.TeePath),
		)
	}

	exitMethod := l.opts.ExitMethod
	if l.Headless() {
		// Nobody can press ENTER or close a headless terminal.
		exitMethod = ExitAuto
	}

	script := relayScript(scriptParams{
		CommandLine: commandLine,
		Dir:         req.Dir,
		Tee:         teeBin,
		Relay:       relay,
		DataPath:    req.DataPath,
		DonePath:    req.DonePath,
		ExitMethod:  exitMethod,
		Geometry:    l.opts.Geometry,
	})

	env := mergeEnv(os.Environ(), req.Env, req.Path)

	// A cancelled caller never gets a terminal.
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("launch aborted: %w", err)
	}

	proc, err := l.spawn(logger, script, req.Dir, env)
	if err != nil {
		return nil, err
	}

	proc.Relay = relay
	proc.CommandLine = commandLine
	proc.grace = l.opts.GracePeriod

	logger.Info("build terminal started",
		slog.String("event.type", "launcher.spawn"),
		slog.Int("process.pid", proc.Pid),
		slog.Bool("relay", relay),
	)

	return proc, nil
}

func (l *Launcher) spawn(logger *slog.Logger, script, dir string, env []string) (*Process, error) {
	switch l.opts.Terminal {
	case BackendDirect:
		if !l.opts.Geometry.IsZero() {
			logger.Warn("terminal geometry not supported; using default size",
				slog.String("event.type", "launcher.geometry"),
				slog.String("geometry", l.opts.Geometry.String()),
			)
		}

		return startDirect(script, dir, env)
	case BackendPTY:
		return startPTY(script, dir, env, l.opts.Geometry)
	}

	program, err := l.lookPath(l.opts.Terminal)
	if err != nil {
		return nil, &LaunchError{Program: l.opts.Terminal, Err: err}
	}

	argv, geometryApplied := terminalArgv(program, l.opts.Geometry, script)
	if !l.opts.Geometry.IsZero() && !geometryApplied {
		logger.Warn("terminal geometry not supported; using default size",
			slog.String("event.type", "launcher.geometry"),
			slog.String("geometry", l.opts.Geometry.String()),
		)
	}

	return startTerminal(argv, dir, env)
}

// scriptParams is the input to the platform relay script builder.
type scriptParams struct {
	CommandLine string
	Dir         string
	Tee         string
	Relay       bool
	DataPath    string
	DonePath    string
	ExitMethod  ExitMethod
	Geometry    Geometry
}

// Process is a handle on a spawned build terminal. The launcher does not own
// its lifetime beyond the handle; Terminate is best-effort.
type Process struct {
	Pid int
	// Relay is false when output capture was disabled.
	Relay bool
	// CommandLine is the command that was launched, after any prompt edits.
	CommandLine string

	cmd   *exec.Cmd
	grace time.Duration

	done    chan struct{}
	waitErr error

	closeOnce sync.Once
	closers   []func() error
}

func newProcess(cmd *exec.Cmd, closers ...func() error) *Process {
	p := &Process{
		Pid:     cmd.Process.Pid,
		cmd:     cmd,
		grace:   DefaultGracePeriod,
		done:    make(chan struct{}),
		closers: closers,
	}

	go func() {
		p.waitErr = cmd.Wait()
		p.release()
		close(p.done)
	}()

	return p
}

// Done is closed once the process has exited and been reaped.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Exited reports whether the process has exited.
func (p *Process) Exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Err returns the wait error once the process has exited. The value reflects
// the terminal, not the build: no build exit status crosses the terminal.
func (p *Process) Err() error {
	if !p.Exited() {
		return nil
	}

	return p.waitErr
}

// Terminate asks the process tree to stop, waits up to the grace period, and
// then force-kills it. It returns once the process has been signalled; it
// does not fail when the process is already gone.
func (p *Process) Terminate() error {
	if p.Exited() {
		return nil
	}

	if err := terminateTree(p.Pid); err != nil && !p.Exited() {
		return fmt.Errorf("terminate process %d: %w", p.Pid, err)
	}

	timer := time.NewTimer(p.grace)
	defer timer.Stop()

	select {
	case <-p.done:
		return nil
	case <-timer.C:
	}

	if err := killTree(p.Pid); err != nil && !p.Exited() {
		return fmt.Errorf("kill process %d: %w", p.Pid, err)
	}

	return nil
}

func (p *Process) release() {
	p.closeOnce.Do(func() {
		for _, c := range p.closers {
			_ = c()
		}
	})
}

// mergeEnv applies overrides onto base. Override values expand $VAR against
// the merged environment; path, when non-empty, replaces PATH after the same
// expansion.
func mergeEnv(base []string, overrides map[string]string, path string) []string {
	values := make(map[string]string, len(base)+len(overrides)+1)
	order := make([]string, 0, len(base)+len(overrides)+1)

	set := func(key, value string) {
		if _, ok := values[key]; !ok {
			order = append(order, key)
		}

		values[key] = value
	}

	for _, kv := range base {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			continue
		}

		set(key, value)
	}

	lookup := func(key string) string { return values[key] }

	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	for _, k := range keys {
		set(k, os.Expand(overrides[k], lookup))
	}

	if strings.TrimSpace(path) != "" {
		set("PATH", os.Expand(path, lookup))
	}

	out := make([]string, 0, len(order))
	for _, k := range order {
		out = append(out, k+"="+values[k])
	}

	return out
}
