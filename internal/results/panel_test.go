package results

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/musher-dev/termbuild/internal/output"
	"github.com/musher-dev/termbuild/internal/pump"
	"github.com/musher-dev/termbuild/internal/session"
	"github.com/musher-dev/termbuild/internal/terminal"
	"github.com/musher-dev/termbuild/internal/testutil"
)

const gccFileRegex = `^(\S+?):(\d+):(?:(\d+):)? (.*)$`

func newPanel(t *testing.T, opts Options) (*Panel, *bytes.Buffer) {
	t.Helper()

	var out bytes.Buffer

	w := output.NewWriter(&out, &out, &terminal.Info{NoColor: true})

	p, err := New(w, opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	return p, &out
}

func feed(p *Panel, texts ...string) {
	for i, text := range texts {
		p.OnChunk(pump.Chunk{Seq: i, Text: text, Final: i == len(texts)-1})
	}
}

func TestPanelBuildWithErrorsGolden(t *testing.T) {
	p, out := newPanel(t, Options{FileRegex: gccFileRegex, BaseDir: "/src"})

	feed(p, "main.c:3:5: error: boom\r\nwarn\r", "\nutils.c:10: note\n", "")

	if got := p.ErrorCount(); got != 2 {
		t.Fatalf("ErrorCount() = %d, want 2", got)
	}

	p.OnFinished(session.Result{
		Outcome:    session.OutcomeFinished,
		ErrorCount: 2,
		Marker:     "[Finished in 0.4 with 2 errors]",
		Debug:      []string{"[cmd: make]", "[dir: /src]", "[path: /usr/bin]"},
	})

	testutil.AssertGolden(t, out.String(), "build_with_errors.golden")

	errs := p.Errors()
	want := []Location{
		{File: filepath.Join("/src", "main.c"), Line: 3, Column: 5, Message: "error: boom"},
		{File: filepath.Join("/src", "utils.c"), Line: 10, Message: "note"},
	}

	if len(errs) != len(want) {
		t.Fatalf("Errors() = %+v", errs)
	}

	for i := range want {
		if errs[i] != want[i] {
			t.Errorf("Errors()[%d] = %+v, want %+v", i, errs[i], want[i])
		}
	}

	if res, ok := p.Result(); !ok || res.ErrorCount != 2 {
		t.Fatalf("Result() = %+v, %v", res, ok)
	}
}

func TestPanelNormalizesNewlines(t *testing.T) {
	tests := []struct {
		name   string
		chunks []string
		want   string
	}{
		{name: "crlf", chunks: []string{"a\r\nb\r\n", ""}, want: "a\nb\n"},
		{name: "lone cr", chunks: []string{"50%\r100%\r", "done\n", ""}, want: "50%\n100%\ndone\n"},
		{name: "split crlf", chunks: []string{"x\r", "\ny\n", ""}, want: "x\ny\n"},
		{name: "trailing cr on final", chunks: []string{"z\r"}, want: "z\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, out := newPanel(t, Options{})
			feed(p, tt.chunks...)

			if out.String() != tt.want {
				t.Fatalf("output = %q, want %q", out.String(), tt.want)
			}
		})
	}
}

func TestPanelLineRegexUsesLastFile(t *testing.T) {
	p, _ := newPanel(t, Options{
		FileRegex: `^In file (\S+):$`,
		LineRegex: `^\s+line (\d+)(?:, col (\d+))?: (.*)$`,
	})

	var seen []Location

	p.opts.OnError = func(l Location) { seen = append(seen, l) }

	feed(p, "  line 4: orphan\nIn file a.go:\n  line 7, col 2: bad\n", "  line 9: worse")

	want := []Location{
		{File: "a.go", Line: 7, Column: 2, Message: "bad"},
		{File: "a.go", Line: 9, Message: "worse"},
	}

	errs := p.Errors()
	if len(errs) != 2 || errs[0] != want[0] || errs[1] != want[1] {
		t.Fatalf("Errors() = %+v, want %+v", errs, want)
	}

	if len(seen) != 2 {
		t.Fatalf("OnError calls = %d", len(seen))
	}
}

func TestPanelMatchesThroughANSI(t *testing.T) {
	p, _ := newPanel(t, Options{FileRegex: gccFileRegex})
	feed(p, "\x1b[1mlib.go:12:\x1b[0m \x1b[31mundefined: x\x1b[0m\n", "")

	errs := p.Errors()
	if len(errs) != 1 || errs[0].String() != "lib.go:12: undefined: x" {
		t.Fatalf("Errors() = %+v", errs)
	}
}

func TestPanelCancelledMarkerOnOwnLine(t *testing.T) {
	p, out := newPanel(t, Options{})

	p.OnChunk(pump.Chunk{Text: "tick\ntick"})
	p.OnCancelled(session.Result{Outcome: session.OutcomeCancelled, Marker: session.CancelledMarker})

	if out.String() != "tick\ntick\n[Cancelled]\n" {
		t.Fatalf("output = %q", out.String())
	}
}

func TestPanelQuietResultPrintsNothing(t *testing.T) {
	p, out := newPanel(t, Options{})

	feed(p, "ok\n", "")
	p.OnFinished(session.Result{Outcome: session.OutcomeFinished})

	if out.String() != "ok\n" {
		t.Fatalf("output = %q", out.String())
	}
}

type fakeRecorder struct {
	texts    []string
	kinds    []string
	outcome  string
	errors   int
	finished int
}

func (f *fakeRecorder) Append(kind, text string, _ bool) error {
	f.kinds = append(f.kinds, kind)
	f.texts = append(f.texts, text)

	return nil
}

func (f *fakeRecorder) Finish(outcome string, errorCount int, _ time.Duration) error {
	f.outcome = outcome
	f.errors = errorCount
	f.finished++

	return nil
}

func TestPanelRecordsTranscript(t *testing.T) {
	rec := &fakeRecorder{}
	p, _ := newPanel(t, Options{Recorder: rec})

	feed(p, "hi\n", "")
	p.OnFinished(session.Result{Outcome: session.OutcomeFinished, Marker: "[Finished in 0.1]"})

	if rec.finished != 1 || rec.outcome != "finished" {
		t.Fatalf("recorder = %+v", rec)
	}

	wantTexts := []string{"hi\n", "", "[Finished in 0.1]"}
	if len(rec.texts) != len(wantTexts) {
		t.Fatalf("recorded %q", rec.texts)
	}

	for i := range wantTexts {
		if rec.texts[i] != wantTexts[i] {
			t.Fatalf("recorded %q, want %q", rec.texts, wantTexts)
		}
	}

	if rec.kinds[2] != "marker" {
		t.Fatalf("kinds = %v", rec.kinds)
	}
}

func TestNewRejectsBadPattern(t *testing.T) {
	var out bytes.Buffer

	w := output.NewWriter(&out, &out, &terminal.Info{})
	if _, err := New(w, Options{FileRegex: `(unclosed`}); err == nil {
		t.Fatal("New() with invalid pattern error = nil")
	}
}
