// Package prompt asks the user questions on the invoking terminal.
package prompt

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/musher-dev/termbuild/internal/output"
)

// ErrCancelled is returned when input ends before an answer (Ctrl-D).
var ErrCancelled = errors.New("prompt cancelled")

// IsCancelled reports whether err came from an abandoned prompt.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled)
}

// Prompter reads answers from a line-oriented input.
type Prompter struct {
	out         *output.Writer
	reader      *bufio.Reader
	interactive bool
}

// New creates a Prompter on stdin.
func New(out *output.Writer) *Prompter {
	return &Prompter{
		out:         out,
		reader:      bufio.NewReader(os.Stdin),
		interactive: out.Terminal().InteractiveEnabled(),
	}
}

// NewWithReader creates a Prompter on r. Tests use it with interactive set.
func NewWithReader(out *output.Writer, r io.Reader, interactive bool) *Prompter {
	return &Prompter{out: out, reader: bufio.NewReader(r), interactive: interactive}
}

// CanPrompt reports whether questions can be asked.
func (p *Prompter) CanPrompt() bool {
	return p.interactive && !p.out.NoInput
}

// Confirm asks a yes/no question.
func (p *Prompter) Confirm(message string, defaultValue bool) (bool, error) {
	hint := "y/N"
	if defaultValue {
		hint = "Y/n"
	}

	fmt.Fprintf(p.out.Out, "%s [%s]: ", message, hint)

	line, err := p.readLine(context.Background())
	if err != nil {
		return defaultValue, err
	}

	switch strings.ToLower(line) {
	case "":
		return defaultValue, nil
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

// CommandLine shows the build command and returns the user's edit. An empty
// answer keeps current. It waits without a timeout; only ctx or end of
// input end the wait.
func (p *Prompter) CommandLine(ctx context.Context, current string) (string, error) {
	fmt.Fprintf(p.out.Out, "Command: %s\n", current)
	fmt.Fprint(p.out.Out, "Edit (enter to keep)> ")

	line, err := p.readLine(ctx)
	if err != nil {
		return "", err
	}

	if line == "" {
		return current, nil
	}

	return line, nil
}

type lineResult struct {
	line string
	err  error
}

func (p *Prompter) readLine(ctx context.Context) (string, error) {
	ch := make(chan lineResult, 1)

	go func() {
		line, err := p.reader.ReadString('\n')
		ch <- lineResult{line: line, err: err}
	}()

	select {
	case <-ctx.Done():
		return "", fmt.Errorf("read input: %w", ctx.Err())
	case res := <-ch:
		if res.err != nil {
			if errors.Is(res.err, io.EOF) && strings.TrimSpace(res.line) == "" {
				return "", ErrCancelled
			}

			if !errors.Is(res.err, io.EOF) {
				return "", fmt.Errorf("read input: %w", res.err)
			}
		}

		return strings.TrimSpace(res.line), nil
	}
}
