//go:build unix

package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/musher-dev/termbuild/internal/launcher"
	"github.com/musher-dev/termbuild/internal/pump"
)

var finishedPattern = regexp.MustCompile(`^\[Finished in \d+\.\d\]$`)

type recordingSink struct {
	mu        sync.Mutex
	errors    int
	started   []Info
	chunks    []pump.Chunk
	finished  []Result
	cancelled []Result
}

func (r *recordingSink) OnStarted(info Info) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.started = append(r.started, info)
}

func (r *recordingSink) OnChunk(c pump.Chunk) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.chunks = append(r.chunks, c)
}

func (r *recordingSink) OnFinished(res Result) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.finished = append(r.finished, res)
}

func (r *recordingSink) OnCancelled(res Result) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.cancelled = append(r.cancelled, res)
}

func (r *recordingSink) ErrorCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.errors
}

func (r *recordingSink) chunkCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.chunks)
}

func (r *recordingSink) text() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var b strings.Builder
	for _, c := range r.chunks {
		b.WriteString(c.Text)
	}

	return b.String()
}

func testConfig(t *testing.T, opts launcher.Options) Config {
	t.Helper()

	if _, err := exec.LookPath("tee"); err != nil && opts.TeePath == "" {
		t.Skip("tee not available")
	}

	opts.Terminal = launcher.BackendDirect
	if opts.GracePeriod == 0 {
		opts.GracePeriod = 500 * time.Millisecond
	}

	return Config{
		ScratchDir: t.TempDir(),
		Launcher:   launcher.New(opts),
		Pump:       pump.Options{Interval: 10 * time.Millisecond},
	}
}

func waitClosed(t *testing.T, s *Session) Result {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	res, err := s.Wait(ctx)
	if err != nil {
		t.Fatalf("session %s did not close: %v (state %s)", s.ID(), err, s.State())
	}

	return res
}

func assertNoRelayFiles(t *testing.T, dir string) {
	t.Helper()

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}

	if len(entries) != 0 {
		var names []string
		for _, e := range entries {
			names = append(names, e.Name())
		}

		t.Fatalf("relay files left behind: %v", names)
	}
}

func TestSessionEchoHi(t *testing.T) {
	cfg := testConfig(t, launcher.Options{})
	sink := &recordingSink{}
	s := New(cfg, Command{Args: []string{"echo", "hi"}}, sink)

	if s.State() != Idle {
		t.Fatalf("initial state = %s", s.State())
	}

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	res := waitClosed(t, s)

	if s.State() != Closed {
		t.Fatalf("state = %s, want closed", s.State())
	}

	sink.mu.Lock()
	chunks := append([]pump.Chunk(nil), sink.chunks...)
	started := len(sink.started)
	finished := len(sink.finished)
	sink.mu.Unlock()

	if started != 1 || finished != 1 {
		t.Fatalf("lifecycle calls: started=%d finished=%d", started, finished)
	}

	if len(chunks) != 2 || chunks[0].Text != "hi\n" || chunks[0].Final || !chunks[1].Final || chunks[1].Text != "" {
		t.Fatalf("chunks = %+v, want [hi\\n] then empty final", chunks)
	}

	if res.Outcome != OutcomeFinished || !finishedPattern.MatchString(res.Marker) {
		t.Fatalf("result = %+v", res)
	}

	if res.Debug != nil {
		t.Fatalf("debug trailer without errors: %v", res.Debug)
	}

	assertNoRelayFiles(t, cfg.ScratchDir)
}

func TestSessionConcatenatedOutputMatches(t *testing.T) {
	cfg := testConfig(t, launcher.Options{})
	sink := &recordingSink{}

	var want strings.Builder
	for i := range 200 {
		fmt.Fprintf(&want, "line %03d ünïcödé\n", i)
	}

	s := New(cfg, Command{Shell: `i=0; while [ $i -lt 200 ]; do printf 'line %03d ünïcödé\n' $i; i=$((i+1)); done`}, sink)

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	waitClosed(t, s)

	if got := sink.text(); got != want.String() {
		t.Fatalf("concatenated output mismatch:\n got %d bytes\nwant %d bytes", len(got), want.Len())
	}

	finals := 0

	for _, c := range sink.chunks {
		if c.Final {
			finals++
		}
	}

	if finals != 1 || !sink.chunks[len(sink.chunks)-1].Final {
		t.Fatalf("final chunks = %d", finals)
	}
}

func TestSessionErrorsAddDebugTrailer(t *testing.T) {
	cfg := testConfig(t, launcher.Options{})
	sink := &recordingSink{errors: 2}
	dir := t.TempDir()

	s := New(cfg, Command{Args: []string{"echo", "x"}, Dir: dir, Path: "/opt/bin:$PATH"}, sink)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	res := waitClosed(t, s)

	if !regexp.MustCompile(`^\[Finished in \d+\.\d with 2 errors\]$`).MatchString(res.Marker) {
		t.Fatalf("marker = %q", res.Marker)
	}

	if len(res.Debug) != 3 {
		t.Fatalf("debug = %v", res.Debug)
	}

	if res.Debug[0] != "[cmd: echo x]" || res.Debug[1] != "[dir: "+dir+"]" {
		t.Fatalf("debug = %v", res.Debug)
	}

	if !strings.HasPrefix(res.Debug[2], "[path: /opt/bin:") {
		t.Fatalf("path line = %q", res.Debug[2])
	}
}

func TestSessionQuietSuppressesMarker(t *testing.T) {
	cfg := testConfig(t, launcher.Options{})
	sink := &recordingSink{errors: 1}

	s := New(cfg, Command{Args: []string{"true"}, Quiet: true}, sink)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	res := waitClosed(t, s)
	if res.Marker != "" || res.Debug != nil {
		t.Fatalf("quiet result = %+v", res)
	}

	if res.ErrorCount != 1 {
		t.Fatalf("ErrorCount = %d", res.ErrorCount)
	}
}

func TestSessionCancelStopsDelivery(t *testing.T) {
	cfg := testConfig(t, launcher.Options{})
	sink := &recordingSink{}

	s := New(cfg, Command{Shell: "while :; do echo tick; sleep 0.02; done"}, sink)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	time.Sleep(500 * time.Millisecond)

	start := time.Now()

	if err := s.Cancel(); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}

	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("Cancel() took %s", elapsed)
	}

	if s.State() != Closed {
		t.Fatalf("state after Cancel = %s", s.State())
	}

	delivered := sink.chunkCount()
	if delivered == 0 {
		t.Fatal("no output before cancel")
	}

	assertNoRelayFiles(t, cfg.ScratchDir)

	time.Sleep(200 * time.Millisecond)

	if got := sink.chunkCount(); got != delivered {
		t.Fatalf("%d chunks delivered after Cancel returned", got-delivered)
	}

	res, ok := s.Result()
	if !ok || res.Outcome != OutcomeCancelled || res.Marker != CancelledMarker {
		t.Fatalf("result = %+v, %v", res, ok)
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()

	if len(sink.cancelled) != 1 || len(sink.finished) != 0 {
		t.Fatalf("cancelled=%d finished=%d", len(sink.cancelled), len(sink.finished))
	}

	for _, c := range sink.chunks {
		if c.Final {
			t.Fatal("final chunk delivered to a cancelled session")
		}
	}
}

func TestSessionCancelIsIdempotent(t *testing.T) {
	cfg := testConfig(t, launcher.Options{})
	sink := &recordingSink{}

	s := New(cfg, Command{Shell: "sleep 30"}, sink)
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	for i := range 3 {
		if err := s.Cancel(); err != nil {
			t.Fatalf("Cancel() #%d error = %v", i, err)
		}
	}

	sink.mu.Lock()
	cancelled := len(sink.cancelled)
	sink.mu.Unlock()

	if cancelled != 1 {
		t.Fatalf("OnCancelled called %d times", cancelled)
	}

	var stateErr *InvalidStateError
	if err := s.Start(context.Background()); !errors.As(err, &stateErr) {
		t.Fatalf("Start() on closed session = %v, want *InvalidStateError", err)
	}
}

func TestSessionConcurrentCancel(t *testing.T) {
	cfg := testConfig(t, launcher.Options{})
	sink := &recordingSink{}

	s := New(cfg, Command{Shell: "sleep 30"}, sink)
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_ = s.Cancel()
		}()
	}

	wg.Wait()

	if s.State() != Closed {
		t.Fatalf("state = %s", s.State())
	}

	if len(sink.cancelled) != 1 {
		t.Fatalf("OnCancelled called %d times", len(sink.cancelled))
	}
}

func TestSessionStartTwice(t *testing.T) {
	cfg := testConfig(t, launcher.Options{})

	s := New(cfg, Command{Shell: "sleep 30"}, nil)
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Cancel() })

	var stateErr *InvalidStateError
	if err := s.Start(context.Background()); !errors.As(err, &stateErr) {
		t.Fatalf("second Start() = %v, want *InvalidStateError", err)
	}

	if stateErr.State != Running {
		t.Fatalf("reported state = %s", stateErr.State)
	}
}

func TestSessionCancelIdle(t *testing.T) {
	s := New(Config{ScratchDir: t.TempDir()}, Command{Args: []string{"true"}}, nil)

	if err := s.Cancel(); err != nil {
		t.Fatalf("Cancel() on idle = %v", err)
	}

	if s.State() != Closed {
		t.Fatalf("state = %s", s.State())
	}
}

func TestSessionCancelDuringPrompt(t *testing.T) {
	tests := []struct {
		name string
		// honorCtx reports whether the prompt returns when its context ends.
		honorCtx bool
	}{
		{name: "prompt follows context", honorCtx: true},
		{name: "prompt answers after cancel", honorCtx: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t, launcher.Options{})
			marker := filepath.Join(t.TempDir(), "ran")

			entered := make(chan struct{})
			release := make(chan struct{})

			cfg.Prompt = func(ctx context.Context, line string) (string, error) {
				close(entered)

				if tt.honorCtx {
					<-ctx.Done()
					return "", ctx.Err()
				}

				<-release

				return line, nil
			}

			sink := &recordingSink{}
			s := New(cfg, Command{Shell: "echo ran > " + marker + "; echo out", Prompt: true}, sink)

			startErr := make(chan error, 1)
			go func() { startErr <- s.Start(context.Background()) }()

			select {
			case <-entered:
			case <-time.After(5 * time.Second):
				t.Fatal("prompt never called")
			}

			cancelled := make(chan struct{})
			go func() {
				_ = s.Cancel()
				close(cancelled)
			}()

			if !tt.honorCtx {
				time.Sleep(50 * time.Millisecond)
				close(release)
			}

			select {
			case <-cancelled:
			case <-time.After(5 * time.Second):
				t.Fatal("Cancel() did not return")
			}

			// Everything below holds as soon as Cancel returns.
			if s.State() != Closed {
				t.Fatalf("state after Cancel = %s, want closed", s.State())
			}

			assertNoRelayFiles(t, cfg.ScratchDir)

			if err := <-startErr; !errors.Is(err, ErrCancelled) || !errors.Is(err, context.Canceled) {
				t.Fatalf("Start() = %v, want ErrCancelled", err)
			}

			time.Sleep(200 * time.Millisecond)

			if _, err := os.Stat(marker); !errors.Is(err, os.ErrNotExist) {
				t.Fatalf("build ran after Cancel: %v", err)
			}

			if sink.chunkCount() != 0 || len(sink.started) != 0 {
				t.Fatalf("sink saw started=%d chunks=%d", len(sink.started), sink.chunkCount())
			}

			res := waitClosed(t, s)
			if res.Outcome != OutcomeCancelled {
				t.Fatalf("outcome = %s", res.Outcome)
			}
		})
	}
}

func TestSessionLaunchFailureStaysIdle(t *testing.T) {
	cfg := testConfig(t, launcher.Options{TeePath: "/nonexistent/tee"})
	sink := &recordingSink{}

	s := New(cfg, Command{Args: []string{"echo", "hi"}}, sink)

	err := s.Start(context.Background())

	var teeErr *launcher.TeeNotFoundError
	if !errors.As(err, &teeErr) {
		t.Fatalf("Start() = %v, want *TeeNotFoundError", err)
	}

	if s.State() != Idle {
		t.Fatalf("state = %s, want idle", s.State())
	}

	assertNoRelayFiles(t, cfg.ScratchDir)

	if len(sink.started) != 0 {
		t.Fatal("OnStarted called for a failed launch")
	}
}

func TestSessionScratchDirRequired(t *testing.T) {
	s := New(Config{}, Command{Args: []string{"true"}}, nil)

	var scratchErr *ScratchDirError
	if err := s.Start(context.Background()); !errors.As(err, &scratchErr) {
		t.Fatalf("Start() = %v, want *ScratchDirError", err)
	}
}

func TestSessionNoRelayNeverDeliversChunks(t *testing.T) {
	cfg := testConfig(t, launcher.Options{TeePath: "/nonexistent/tee", AllowNoRelay: true})
	sink := &recordingSink{}

	s := New(cfg, Command{Args: []string{"echo", "hidden"}}, sink)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	res := waitClosed(t, s)

	if sink.chunkCount() != 0 {
		t.Fatalf("no-relay session delivered %d chunks", sink.chunkCount())
	}

	if res.Outcome != OutcomeFinished || len(sink.finished) != 1 {
		t.Fatalf("result = %+v", res)
	}

	if sink.started[0].Relay {
		t.Fatal("Info.Relay = true in no-relay mode")
	}

	assertNoRelayFiles(t, cfg.ScratchDir)
}

func TestSessionProcessExitWithoutMarker(t *testing.T) {
	cfg := testConfig(t, launcher.Options{})
	sink := &recordingSink{}

	// Killing the outer shell skips the completion marker, as closing the
	// terminal window would.
	s := New(cfg, Command{Shell: "echo before; sleep 0.3; kill -9 $$"}, sink)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	res := waitClosed(t, s)

	if res.Outcome != OutcomeFinished {
		t.Fatalf("outcome = %s", res.Outcome)
	}

	if got := sink.text(); got != "before\n" {
		t.Fatalf("text = %q", got)
	}

	assertNoRelayFiles(t, cfg.ScratchDir)
}

func TestConcurrentSessionsDoNotInterfere(t *testing.T) {
	cfg := testConfig(t, launcher.Options{})

	const n = 4

	sessions := make([]*Session, n)
	sinks := make([]*recordingSink, n)

	var wg sync.WaitGroup

	for i := range n {
		sinks[i] = &recordingSink{}
		sessions[i] = New(cfg, Command{Shell: fmt.Sprintf("for j in 1 2 3; do echo session-%d; sleep 0.01; done", i)}, sinks[i])

		wg.Add(1)

		go func(s *Session) {
			defer wg.Done()

			if err := s.Start(context.Background()); err != nil {
				t.Errorf("Start() error = %v", err)
			}
		}(sessions[i])
	}

	wg.Wait()

	for i, s := range sessions {
		waitClosed(t, s)

		want := strings.Repeat(fmt.Sprintf("session-%d\n", i), 3)
		if got := sinks[i].text(); got != want {
			t.Fatalf("session %d text = %q, want %q", i, got, want)
		}
	}

	assertNoRelayFiles(t, cfg.ScratchDir)
}

func TestSessionWatchOption(t *testing.T) {
	cfg := testConfig(t, launcher.Options{})
	cfg.Watch = true
	cfg.Pump.Interval = time.Second

	sink := &recordingSink{}

	s := New(cfg, Command{Args: []string{"echo", "watched"}}, sink)
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	waitClosed(t, s)

	if got := sink.text(); got != "watched\n" {
		t.Fatalf("text = %q", got)
	}
}
