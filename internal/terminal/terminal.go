// Package terminal detects what the invoking terminal can do: whether
// stdout and stdin are TTYs, whether color is allowed, and its size.
package terminal

import (
	"os"

	"golang.org/x/term"
)

// Info holds terminal capabilities.
type Info struct {
	IsTTY      bool
	StdinIsTTY bool
	NoColor    bool
	Width      int
	Height     int
	// ForceFlag is set by --no-color.
	ForceFlag bool
}

// Detect inspects the current process's stdio and environment.
func Detect() *Info {
	return detect(int(os.Stdout.Fd()), int(os.Stdin.Fd()), os.LookupEnv) //nolint:gosec // G115: fds fit in int
}

func detect(stdoutFD, stdinFD int, lookup func(string) (string, bool)) *Info {
	info := &Info{
		IsTTY:      term.IsTerminal(stdoutFD),
		StdinIsTTY: term.IsTerminal(stdinFD),
		Width:      80,
		Height:     24,
	}

	if info.IsTTY {
		if w, h, err := term.GetSize(stdoutFD); err == nil && w > 0 && h > 0 {
			info.Width, info.Height = w, h
		}
	}

	// https://no-color.org/
	if _, ok := lookup("NO_COLOR"); ok {
		info.NoColor = true
	}

	if v, _ := lookup("TERM"); v == "dumb" {
		info.NoColor = true
	}

	return info
}

// ColorEnabled reports whether styled output should be used.
func (t *Info) ColorEnabled() bool {
	return !t.ForceFlag && t.IsTTY && !t.NoColor
}

// InteractiveEnabled reports whether the user can answer prompts.
func (t *Info) InteractiveEnabled() bool {
	return t.IsTTY && t.StdinIsTTY
}

// SpinnersEnabled reports whether animated progress is appropriate.
func (t *Info) SpinnersEnabled() bool {
	return t.IsTTY && !t.NoColor
}
