package output

import (
	"time"

	"github.com/briandowns/spinner"
)

// Spinner shows progress for slow checks. On non-TTY output it degrades to a
// plain "message... done" line.
type Spinner struct {
	spinner  *spinner.Spinner
	message  string
	writer   *Writer
	disabled bool
}

// Spinner creates a spinner bound to w.
func (w *Writer) Spinner(message string) *Spinner {
	if w.Quiet || !w.terminal.SpinnersEnabled() {
		return &Spinner{disabled: true, message: message, writer: w}
	}

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	s.Writer = w.Out
	s.Suffix = " " + message

	return &Spinner{spinner: s, message: message, writer: w}
}

// Start begins the animation.
func (s *Spinner) Start() {
	if s.disabled {
		s.writer.Print("%s... ", s.message)
		return
	}

	s.spinner.Start()
}

// Stop ends the animation without a status line.
func (s *Spinner) Stop() {
	if s.disabled {
		s.writer.Println()
		return
	}

	s.spinner.Stop()
}

// StopWithSuccess ends the animation with a success line.
func (s *Spinner) StopWithSuccess(message string) {
	s.finish("done", message, s.writer.Success)
}

// StopWithFailure ends the animation with a failure line.
func (s *Spinner) StopWithFailure(message string) {
	s.finish("failed", message, s.writer.Failure)
}

// StopWithWarning ends the animation with a warning line.
func (s *Spinner) StopWithWarning(message string) {
	s.finish("warning", message, s.writer.Warning)
}

func (s *Spinner) finish(word, message string, emit func(string, ...any)) {
	if s.disabled {
		s.writer.Println(word)
	} else {
		s.spinner.Stop()
	}

	if message != "" {
		emit("%s", message)
	}
}
