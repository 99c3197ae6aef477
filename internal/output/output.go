// Package output writes CLI text for termbuild.
//
// Commands write through a Writer rather than os.Stdout so tests can capture
// output, and so quiet, JSON, and no-color modes apply uniformly. Build
// output itself is written verbatim; status lines and build markers are
// styled when the terminal supports color.
package output

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"

	"github.com/musher-dev/termbuild/internal/terminal"
)

type contextKey struct{}

// Tone selects the color of a styled line.
type Tone int

// Tones.
const (
	ToneNone Tone = iota
	ToneSuccess
	ToneError
	ToneWarning
	ToneInfo
	ToneMuted
)

// Status symbols.
const (
	CheckMark   = "✓"
	XMark       = "✗"
	WarningMark = "⚠"
	InfoMark    = "ℹ"
)

// Writer handles CLI output.
type Writer struct {
	Out     io.Writer
	Err     io.Writer
	JSON    bool
	Quiet   bool
	NoInput bool

	terminal *terminal.Info
	tones    map[Tone]*color.Color
}

// Default returns a Writer on stdout/stderr with detected capabilities.
func Default() *Writer {
	return NewWriter(os.Stdout, os.Stderr, terminal.Detect())
}

// NewWriter creates a Writer with explicit streams and terminal info.
func NewWriter(out, errOut io.Writer, term *terminal.Info) *Writer {
	if term == nil {
		term = &terminal.Info{}
	}

	w := &Writer{
		Out:      out,
		Err:      errOut,
		terminal: term,
		tones: map[Tone]*color.Color{
			ToneSuccess: color.New(color.FgGreen),
			ToneError:   color.New(color.FgRed),
			ToneWarning: color.New(color.FgYellow),
			ToneInfo:    color.New(color.FgCyan),
			ToneMuted:   color.New(color.FgHiBlack),
		},
	}

	w.applyColorMode()

	return w
}

// WithContext stores the Writer in ctx.
func (w *Writer) WithContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, contextKey{}, w)
}

// FromContext returns the Writer stored in ctx, or Default().
func FromContext(ctx context.Context) *Writer {
	if ctx != nil {
		if w, ok := ctx.Value(contextKey{}).(*Writer); ok {
			return w
		}
	}

	return Default()
}

// Terminal returns the terminal capabilities the Writer was built with.
func (w *Writer) Terminal() *terminal.Info {
	return w.terminal
}

// SetNoColor forces plain output.
func (w *Writer) SetNoColor(disabled bool) {
	w.terminal.ForceFlag = disabled
	w.applyColorMode()
}

func (w *Writer) applyColorMode() {
	enabled := w.terminal.ColorEnabled()
	for _, c := range w.tones {
		if enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
}

// Print writes formatted text to stdout unless quiet.
func (w *Writer) Print(format string, args ...any) {
	if !w.Quiet {
		fmt.Fprintf(w.Out, format, args...)
	}
}

// Println writes a line to stdout unless quiet.
func (w *Writer) Println(args ...any) {
	if !w.Quiet {
		fmt.Fprintln(w.Out, args...)
	}
}

// Write passes build output through to stdout unless quiet.
func (w *Writer) Write(p []byte) (int, error) {
	if w.Quiet {
		return len(p), nil
	}

	return w.Out.Write(p)
}

// PrintJSON writes v as indented JSON.
func (w *Writer) PrintJSON(v any) error {
	enc := json.NewEncoder(w.Out)
	enc.SetIndent("", "  ")

	return enc.Encode(v)
}

// Error writes formatted text to stderr.
func (w *Writer) Error(format string, args ...any) {
	fmt.Fprintf(w.Err, format, args...)
}

// Styled writes one line in the given tone to stdout. Markers use it so the
// text stays verbatim and only the color varies.
func (w *Writer) Styled(tone Tone, line string) {
	if w.Quiet {
		return
	}

	c, ok := w.tones[tone]
	if !ok || !w.terminal.ColorEnabled() {
		fmt.Fprintln(w.Out, line)
		return
	}

	c.Fprintln(w.Out, line)
}

func (w *Writer) status(dst io.Writer, tone Tone, mark, msg string) {
	if w.terminal.ColorEnabled() {
		w.tones[tone].Fprint(dst, mark+" ")
		fmt.Fprintln(dst, msg)

		return
	}

	fmt.Fprintln(dst, mark+" "+msg)
}

// Success writes a check-marked line.
func (w *Writer) Success(format string, args ...any) {
	if !w.Quiet {
		w.status(w.Out, ToneSuccess, CheckMark, fmt.Sprintf(format, args...))
	}
}

// Failure writes an X-marked line to stderr. Quiet mode does not hide it.
func (w *Writer) Failure(format string, args ...any) {
	w.status(w.Err, ToneError, XMark, fmt.Sprintf(format, args...))
}

// Warning writes a warning line.
func (w *Writer) Warning(format string, args ...any) {
	if !w.Quiet {
		w.status(w.Out, ToneWarning, WarningMark, fmt.Sprintf(format, args...))
	}
}

// Info writes an informational line.
func (w *Writer) Info(format string, args ...any) {
	if !w.Quiet {
		w.status(w.Out, ToneInfo, InfoMark, fmt.Sprintf(format, args...))
	}
}

// Muted writes a dimmed line.
func (w *Writer) Muted(format string, args ...any) {
	w.Styled(ToneMuted, fmt.Sprintf(format, args...))
}
