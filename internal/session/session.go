// Package session runs one build per Session: it opens the relay channel,
// launches the terminal, pumps output to a Sink, and guarantees the relay
// files are removed exactly once however the build ends.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/musher-dev/termbuild/internal/launcher"
	"github.com/musher-dev/termbuild/internal/observability"
	"github.com/musher-dev/termbuild/internal/pump"
	"github.com/musher-dev/termbuild/internal/teefile"
)

const tracerName = "github.com/musher-dev/termbuild/internal/session"

// ErrCancelled is returned by Start when Cancel interrupted the launch. It
// matches context.Canceled.
var ErrCancelled = fmt.Errorf("build cancelled before launch: %w", context.Canceled)

// Command is what a session runs.
type Command struct {
	// Args is the argv form; Shell, when set, is a shell command line.
	Args  []string
	Shell string
	Dir   string
	Env   map[string]string
	// Path replaces PATH; $PATH expands to the current value.
	Path string
	// Prompt asks Config.Prompt for an edited command line before launch.
	Prompt bool
	// Quiet suppresses the finished marker and debug trailer.
	Quiet bool
}

// Config is shared by every session a host starts.
type Config struct {
	// ScratchDir holds relay files. Required.
	ScratchDir string
	Launcher   *launcher.Launcher
	Pump       pump.Options
	// Watch adds file-change wake-ups for the relay files.
	Watch bool
	// Prompt edits the command line when Command.Prompt is set.
	Prompt launcher.PromptFunc
}

// Session is a single build invocation.
type Session struct {
	id   string
	cfg  Config
	cmd  Command
	sink Sink

	mu              sync.Mutex
	state           State
	starting        bool
	cancelRequested bool
	abortStart      context.CancelFunc
	startDone       chan struct{}
	started         time.Time
	result          Result

	channel *teefile.Channel
	proc    *launcher.Process
	pump    *pump.Pump
	info    Info

	logger *slog.Logger
	span   trace.Span

	stopWatch chan struct{}
	done      chan struct{}
}

// New creates an idle session with a fresh id.
func New(cfg Config, cmd Command, sink Sink) *Session {
	if cfg.Launcher == nil {
		cfg.Launcher = launcher.New(launcher.Options{})
	}

	if sink == nil {
		sink = NopSink{}
	}

	return &Session{
		id:        uuid.NewString(),
		cfg:       cfg,
		cmd:       cmd,
		sink:      sink,
		logger:    slog.Default(),
		stopWatch: make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// ID returns the session id. Relay file names derive from it.
func (s *Session) ID() string {
	return s.id
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state
}

// Info returns launch details; zero until Running.
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.info
}

// Done is closed once the session is Closed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Result returns the outcome once the session is Closed.
func (s *Session) Result() (Result, bool) {
	select {
	case <-s.done:
		return s.result, true
	default:
		return Result{}, false
	}
}

// Wait blocks until the session is Closed or ctx ends.
func (s *Session) Wait(ctx context.Context) (Result, error) {
	select {
	case <-s.done:
		return s.result, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Start moves Idle to Running: it opens the relay channel, launches the
// terminal, and starts delivering output. If launching fails the session
// stays Idle and the error is returned. Cancelling ctx, or calling Cancel,
// while Start waits on the prompt or the launch aborts it; after Cancel the
// session is Closed and Start returns ErrCancelled.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != Idle || s.starting {
		state := s.state
		s.mu.Unlock()

		return &InvalidStateError{Op: "start", State: state}
	}

	startCtx, abort := context.WithCancel(ctx)
	defer abort()

	s.starting = true
	s.abortStart = abort
	s.startDone = make(chan struct{})
	startDone := s.startDone
	s.mu.Unlock()

	err := s.start(startCtx)

	s.mu.Lock()
	s.starting = false
	cancelled := s.cancelRequested && s.state == Idle

	if cancelled {
		s.state = Closed
		s.result = Result{ID: s.id, Outcome: OutcomeCancelled, Marker: CancelledMarker}
	}
	s.mu.Unlock()

	if cancelled {
		close(s.done)
		err = ErrCancelled
	}

	close(startDone)

	return err
}

func (s *Session) start(ctx context.Context) error {
	logger := observability.FromContext(ctx).With(
		slog.String("component", "session"),
		slog.String("session.id", s.id),
	)

	if strings.TrimSpace(s.cfg.ScratchDir) == "" {
		return &ScratchDirError{Err: errors.New("not configured")}
	}

	channel, err := teefile.Open(s.cfg.ScratchDir, s.id)
	if err != nil {
		return &ScratchDirError{Dir: s.cfg.ScratchDir, Err: err}
	}

	// Detach from the caller's cancellation; the session outlives Start.
	runCtx := observability.WithLogger(context.WithoutCancel(ctx), logger)

	runCtx, span := observability.Tracer(tracerName).Start(runCtx, "session.build",
		trace.WithAttributes(
			attribute.String("session.id", s.id),
			attribute.String("terminal.program", s.cfg.Launcher.Options().Terminal),
		),
	)

	// The prompt and the launch still follow ctx.
	launchCtx := trace.ContextWithSpan(observability.WithLogger(ctx, logger), span)

	req := launcher.Request{
		Args:     s.cmd.Args,
		Shell:    s.cmd.Shell,
		Dir:      s.cmd.Dir,
		Env:      s.cmd.Env,
		Path:     s.cmd.Path,
		DataPath: channel.DataPath(),
		DonePath: channel.DonePath(),
	}

	if s.cmd.Prompt && s.cfg.Prompt != nil {
		req.Prompt = s.cfg.Prompt
	}

	proc, err := s.cfg.Launcher.Launch(launchCtx, req)
	if err != nil {
		if closeErr := channel.Close(); closeErr != nil {
			logger.Warn("relay cleanup failed", slog.String("event.type", "session.cleanup"), slog.String("error", closeErr.Error()))
		}

		span.RecordError(err)
		span.SetStatus(codes.Error, "launch failed")
		span.End()

		return err
	}

	channel.Watch(proc)

	var p *pump.Pump

	if proc.Relay {
		opts := s.cfg.Pump
		if s.cfg.Watch {
			opts.WatchPaths = []string{channel.DataPath(), channel.DonePath()}
		}

		p, err = pump.New(opts)
		if err != nil {
			_ = proc.Terminate()
			_ = channel.Close()

			span.RecordError(err)
			span.End()

			return fmt.Errorf("configure output pump: %w", err)
		}
	}

	now := time.Now()
	info := Info{
		ID:          s.id,
		CommandLine: proc.CommandLine,
		Dir:         s.cmd.Dir,
		Pid:         proc.Pid,
		Relay:       proc.Relay,
		Started:     now,
	}

	s.mu.Lock()
	if s.cancelRequested {
		s.mu.Unlock()

		logger.Info("build cancelled during launch", slog.String("event.type", "session.cancel"))

		_ = proc.Terminate()
		_ = channel.Close()

		span.SetStatus(codes.Error, "cancelled")
		span.End()

		return ErrCancelled
	}

	s.state = Running
	s.started = now
	s.channel = channel
	s.proc = proc
	s.pump = p
	s.info = info
	s.logger = logger
	s.span = span
	s.mu.Unlock()

	span.SetAttributes(attribute.Int("process.pid", proc.Pid), attribute.Bool("relay", proc.Relay))

	logger.Info("build started",
		slog.String("event.type", "session.start"),
		slog.Int("process.pid", proc.Pid),
		slog.Bool("relay", proc.Relay),
	)

	s.sink.OnStarted(info)

	if p == nil {
		go s.watchCompletion()
		return nil
	}

	if err := p.Start(runCtx, channel, s.onChunk); err != nil {
		// Only reachable if Cancel raced in and stopped the pump already.
		return nil
	}

	go func() {
		<-p.Done()
		s.complete()
	}()

	return nil
}

// onChunk forwards pump output while the session is Running. Once Cancel
// has moved the session on, in-flight chunks are dropped.
func (s *Session) onChunk(c pump.Chunk) {
	s.mu.Lock()
	if s.state != Running {
		s.mu.Unlock()
		return
	}

	if c.Final {
		s.state = Completing
	}
	s.mu.Unlock()

	if c.Warning != nil {
		s.span.AddEvent("encoding.warning", trace.WithAttributes(attribute.Int("replaced", c.Warning.Replaced)))
	}

	s.sink.OnChunk(c)
}

// watchCompletion stands in for the pump in no-relay mode.
func (s *Session) watchCompletion() {
	interval := s.cfg.Pump.Interval
	if interval <= 0 {
		interval = pump.DefaultInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if s.channel.IsComplete() {
			s.mu.Lock()
			if s.state == Running {
				s.state = Completing
			}
			s.mu.Unlock()

			s.complete()

			return
		}

		select {
		case <-s.stopWatch:
			return
		case <-ticker.C:
		}
	}
}

// complete closes a session that reached Completing.
func (s *Session) complete() {
	s.mu.Lock()
	if s.state != Completing {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	cleanupErr := s.teardown(false)

	elapsed := time.Since(s.started)

	errorCount := 0
	if counter, ok := s.sink.(ErrorCounter); ok {
		errorCount = counter.ErrorCount()
	}

	result := Result{
		ID:          s.id,
		CommandLine: s.info.CommandLine,
		Outcome:     OutcomeFinished,
		Elapsed:     elapsed,
		ErrorCount:  errorCount,
		CleanupErr:  cleanupErr,
	}

	if !s.cmd.Quiet {
		result.Marker = FinishedMarker(elapsed, errorCount)
		if errorCount > 0 {
			result.Debug = s.debugTrailer()
		}
	}

	s.span.SetAttributes(attribute.Int("build.errors", errorCount))

	s.logger.Info("build finished",
		slog.String("event.type", "session.finish"),
		slog.Duration("elapsed", elapsed),
		slog.Int("errors", errorCount),
	)

	s.close(result, s.sink.OnFinished)
}

// Cancel stops a running build: no chunk is delivered after Cancel returns,
// the terminal is asked to terminate, and the relay files are removed.
// Cancel on a Closed session is a no-op. If the build is already completing,
// Cancel waits for it to close. During Start, Cancel aborts the prompt or the
// launch and returns once the relay files are gone and the session is Closed.
//
// Cancel must not be called from Sink.OnChunk or Config.Prompt.
func (s *Session) Cancel() error {
	s.mu.Lock()

	switch s.state {
	case Closed:
		s.mu.Unlock()
		return nil
	case Idle:
		if s.starting {
			s.cancelRequested = true
			abort := s.abortStart
			startDone := s.startDone
			s.mu.Unlock()

			abort()
			<-startDone

			return nil
		}

		s.state = Closed
		s.result = Result{ID: s.id, Outcome: OutcomeCancelled}
		s.mu.Unlock()
		close(s.done)

		return nil
	case Completing, Cancelling:
		s.mu.Unlock()
		<-s.done

		return nil
	case Running:
	}

	s.state = Cancelling
	s.mu.Unlock()

	s.logger.Info("build cancelled",
		slog.String("event.type", "session.cancel"),
	)

	cleanupErr := s.teardown(true)

	result := Result{
		ID:          s.id,
		CommandLine: s.info.CommandLine,
		Outcome:     OutcomeCancelled,
		Elapsed:     time.Since(s.started),
		Marker:      CancelledMarker,
		CleanupErr:  cleanupErr,
	}

	s.span.SetStatus(codes.Error, "cancelled")

	s.close(result, s.sink.OnCancelled)

	return nil
}

// teardown stops the pump, optionally terminates the terminal, and deletes
// the relay files. It runs once per session, from complete or Cancel.
func (s *Session) teardown(terminate bool) error {
	if s.pump != nil {
		s.pump.Stop()
	}

	close(s.stopWatch)

	if terminate {
		if err := s.proc.Terminate(); err != nil {
			s.logger.Warn("terminate build terminal failed",
				slog.String("event.type", "session.terminate"),
				slog.String("error", err.Error()),
			)
		}
	}

	err := s.channel.Close()
	if err != nil {
		s.logger.Warn("relay cleanup failed",
			slog.String("event.type", "session.cleanup"),
			slog.String("error", err.Error()),
		)
	}

	return err
}

func (s *Session) close(result Result, notify func(Result)) {
	s.mu.Lock()
	s.state = Closed
	s.result = result
	s.mu.Unlock()

	notify(result)

	s.span.End()
	close(s.done)
}

func (s *Session) debugTrailer() []string {
	lines := []string{"[cmd: " + s.info.CommandLine + "]"}

	dir := s.cmd.Dir
	if dir == "" {
		dir, _ = os.Getwd()
	}

	lines = append(lines, "[dir: "+dir+"]")

	path := os.Getenv("PATH")
	if s.cmd.Path != "" {
		path = os.Expand(s.cmd.Path, func(key string) string {
			if key == "PATH" {
				return os.Getenv("PATH")
			}

			if v, ok := s.cmd.Env[key]; ok {
				return v
			}

			return os.Getenv(key)
		})
	}

	return append(lines, "[path: "+path+"]")
}
