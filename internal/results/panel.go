// Package results is the CLI results sink: it prints build output as it
// streams in, finds error locations with the build's patterns, and prints
// the end-of-build markers.
package results

import (
	"strings"
	"sync"
	"time"

	"github.com/musher-dev/termbuild/internal/output"
	"github.com/musher-dev/termbuild/internal/pump"
	"github.com/musher-dev/termbuild/internal/session"
	"github.com/musher-dev/termbuild/internal/transcript"
)

// Recorder stores what the panel shows. *transcript.Store implements it.
type Recorder interface {
	Append(kind, text string, final bool) error
	Finish(outcome string, errorCount int, elapsed time.Duration) error
}

// Options configures a Panel.
type Options struct {
	// FileRegex and LineRegex locate errors; see CompilePattern.
	FileRegex string
	LineRegex string
	// BaseDir resolves relative file names, normally the build directory.
	BaseDir string
	// Recorder, when set, receives everything the panel prints.
	Recorder Recorder
	// OnError is called for each location as it is found.
	OnError func(Location)
}

// Panel implements session.Sink and session.ErrorCounter.
type Panel struct {
	out  *output.Writer
	opts Options

	mu        sync.Mutex
	match     matcher
	pendingCR bool
	partial   strings.Builder
	lastByte  byte
	errors    []Location
	result    *session.Result
}

var (
	_ session.Sink         = (*Panel)(nil)
	_ session.ErrorCounter = (*Panel)(nil)
	_ Recorder             = (*transcript.Store)(nil)
)

// New compiles the patterns and returns a panel writing to out.
func New(out *output.Writer, opts Options) (*Panel, error) {
	fileRe, err := CompilePattern(opts.FileRegex)
	if err != nil {
		return nil, err
	}

	lineRe, err := CompilePattern(opts.LineRegex)
	if err != nil {
		return nil, err
	}

	return &Panel{
		out:  out,
		opts: opts,
		match: matcher{
			fileRe:  fileRe,
			lineRe:  lineRe,
			baseDir: opts.BaseDir,
		},
		lastByte: '\n',
	}, nil
}

// OnStarted implements session.Sink.
func (p *Panel) OnStarted(session.Info) {}

// OnChunk prints normalised text and scans complete lines for errors.
func (p *Panel) OnChunk(c pump.Chunk) {
	p.mu.Lock()
	defer p.mu.Unlock()

	text := p.normalize(c.Text, c.Final)
	if text != "" {
		_, _ = p.out.Write([]byte(text))
		p.lastByte = text[len(text)-1]
	}

	p.scan(text, c.Final)
	p.record(transcript.KindOutput, text, c.Final)
}

// OnFinished prints the finished marker and, with errors, the debug trailer.
func (p *Panel) OnFinished(res session.Result) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.result = &res

	if res.Marker != "" {
		tone := output.ToneSuccess
		if res.ErrorCount > 0 {
			tone = output.ToneError
		}

		p.marker(tone, res.Marker)
	}

	for _, line := range res.Debug {
		p.out.Muted("%s", line)
		p.record(transcript.KindMarker, line, false)
	}

	p.finish(res)
}

// OnCancelled prints the cancelled marker.
func (p *Panel) OnCancelled(res session.Result) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.result = &res

	if res.Marker != "" {
		p.marker(output.ToneWarning, res.Marker)
	}

	p.finish(res)
}

// ErrorCount returns how many error locations were found.
func (p *Panel) ErrorCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.errors)
}

// Errors returns the locations found so far, in output order.
func (p *Panel) Errors() []Location {
	p.mu.Lock()
	defer p.mu.Unlock()

	return append([]Location(nil), p.errors...)
}

// Result returns the session result once a lifecycle end was delivered.
func (p *Panel) Result() (session.Result, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.result == nil {
		return session.Result{}, false
	}

	return *p.result, true
}

// marker prints a marker on its own line.
func (p *Panel) marker(tone output.Tone, text string) {
	if p.lastByte != '\n' {
		_, _ = p.out.Write([]byte("\n"))
	}

	p.out.Styled(tone, text)
	p.lastByte = '\n'

	p.record(transcript.KindMarker, text, false)
}

// normalize converts \r\n and lone \r to \n. A trailing \r is held until
// the next chunk shows whether a \n follows.
func (p *Panel) normalize(text string, final bool) string {
	if p.pendingCR {
		p.pendingCR = false
		text = "\r" + text
	}

	if !final && strings.HasSuffix(text, "\r") {
		p.pendingCR = true
		text = text[:len(text)-1]
	}

	text = strings.ReplaceAll(text, "\r\n", "\n")

	return strings.ReplaceAll(text, "\r", "\n")
}

func (p *Panel) scan(text string, final bool) {
	if !p.match.enabled() {
		return
	}

	p.partial.WriteString(text)
	buffered := p.partial.String()
	p.partial.Reset()

	lines := strings.Split(buffered, "\n")
	last := lines[len(lines)-1]
	lines = lines[:len(lines)-1]

	if final && last != "" {
		lines = append(lines, last)
		last = ""
	}

	p.partial.WriteString(last)

	for _, line := range lines {
		loc, ok := p.match.match(line)
		if !ok {
			continue
		}

		p.errors = append(p.errors, loc)

		if p.opts.OnError != nil {
			p.opts.OnError(loc)
		}
	}
}

func (p *Panel) record(kind, text string, final bool) {
	if p.opts.Recorder == nil {
		return
	}

	_ = p.opts.Recorder.Append(kind, text, final)
}

func (p *Panel) finish(res session.Result) {
	if p.opts.Recorder == nil {
		return
	}

	_ = p.opts.Recorder.Finish(string(res.Outcome), res.ErrorCount, res.Elapsed)
}
