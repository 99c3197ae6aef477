//go:build unix

package launcher

import (
	"errors"
	"fmt"
	"io"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"
	"mvdan.cc/sh/v3/syntax"
)

const (
	defaultTerminal = "xterm"
	defaultTee      = "tee"
	shellPath       = "/bin/sh"
)

// quote renders s as a single POSIX shell word.
func quote(s string) (string, error) {
	q, err := syntax.Quote(s, syntax.LangPOSIX)
	if err != nil {
		return "", fmt.Errorf("quote %q: %w", s, err)
	}

	return q, nil
}

func quoteArgs(args []string) (string, error) {
	words := make([]string, 0, len(args))

	for _, a := range args {
		q, err := quote(a)
		if err != nil {
			return "", err
		}

		words = append(words, q)
	}

	return strings.Join(words, " "), nil
}

// relayScript builds the sh script run inside the terminal:
//
//	{ <command>
//	} 2>&1 | tee <data>
//	printf 'done\n' > <done>
//
// followed by the exit step. The marker is written before the exit step so
// completion is seen while the window waits for ENTER.
func relayScript(p scriptParams) string {
	var b strings.Builder

	if p.Dir != "" {
		fmt.Fprintf(&b, "cd -- %s || exit 1\n", mustQuote(p.Dir))
	}

	fmt.Fprintf(&b, "{ %s\n}", p.CommandLine)

	if p.Relay {
		fmt.Fprintf(&b, " 2>&1 | %s %s", mustQuote(p.Tee), mustQuote(p.DataPath))
	}

	b.WriteString("\n")

	if p.DonePath != "" {
		fmt.Fprintf(&b, "printf 'done\\n' > %s\n", mustQuote(p.DonePath))
	}

	switch p.ExitMethod {
	case ExitPrompt:
		b.WriteString("printf '\\n[Press ENTER to close]'; read -r _\n")
	case ExitManual:
		b.WriteString("exec \"${SHELL:-/bin/sh}\"\n")
	case ExitAuto:
	}

	return b.String()
}

// mustQuote is used for host-generated paths; on the rare unquotable path it
// falls back to single-quote escaping.
func mustQuote(s string) string {
	if q, err := quote(s); err == nil {
		return q
	}

	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// terminalArgv returns the argv that runs script in the given emulator, and
// whether the geometry could be expressed for it. Emulators that hand new
// windows to a running instance are told not to: the spawned process must
// live as long as the build, since its exit counts as completion.
func terminalArgv(program string, g Geometry, script string) ([]string, bool) {
	argv := []string{program}
	applied := g.IsZero()

	var execFlag []string

	switch strings.TrimSuffix(filepath.Base(program), ".exe") {
	case "xterm", "uxterm", "urxvt", "rxvt":
		if !g.IsZero() {
			argv = append(argv, "-geometry", g.String())
			applied = true
		}

		execFlag = []string{"-e"}
	case "st":
		if !g.IsZero() {
			argv = append(argv, "-g", g.String())
			applied = true
		}

		execFlag = []string{"-e"}
	case "gnome-terminal":
		if !g.IsZero() {
			argv = append(argv, "--geometry="+g.String())
			applied = true
		}

		execFlag = []string{"--wait", "--"}
	case "mate-terminal":
		argv = append(argv, "--disable-factory")

		if !g.IsZero() {
			argv = append(argv, "--geometry="+g.String())
			applied = true
		}

		execFlag = []string{"-x"}
	case "xfce4-terminal":
		argv = append(argv, "--disable-server")

		if !g.IsZero() {
			argv = append(argv, "--geometry="+g.String())
			applied = true
		}

		execFlag = []string{"-x"}
	case "alacritty":
		if !g.IsZero() {
			argv = append(argv,
				"-o", fmt.Sprintf("window.dimensions.columns=%d", g.Columns),
				"-o", fmt.Sprintf("window.dimensions.lines=%d", g.Lines),
			)
			applied = true
		}

		execFlag = []string{"-e"}
	case "kitty":
		if !g.IsZero() {
			argv = append(argv,
				"-o", fmt.Sprintf("initial_window_width=%dc", g.Columns),
				"-o", fmt.Sprintf("initial_window_height=%dc", g.Lines),
			)
			applied = true
		}
	case "wezterm":
		execFlag = []string{"start", "--always-new-process", "--"}
	default:
		execFlag = []string{"-e"}
	}

	argv = append(argv, execFlag...)
	argv = append(argv, shellPath, "-c", script)

	return argv, applied
}

func startTerminal(argv []string, dir string, env []string) (*Process, error) {
	cmd := exec.Command(argv[0], argv[1:]...) //nolint:gosec // G204: argv is built from configured terminal and user build command
	cmd.Dir = dir
	cmd.Env = env
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return nil, &LaunchError{Program: argv[0], Err: err}
	}

	return newProcess(cmd), nil
}

func startDirect(script, dir string, env []string) (*Process, error) {
	cmd := exec.Command(shellPath, "-c", script) //nolint:gosec // G204: script wraps the user's build command
	cmd.Dir = dir
	cmd.Env = env
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return nil, &LaunchError{Program: BackendDirect, Err: err}
	}

	return newProcess(cmd), nil
}

func startPTY(script, dir string, env []string, g Geometry) (*Process, error) {
	cmd := exec.Command(shellPath, "-c", script) //nolint:gosec // G204: script wraps the user's build command
	cmd.Dir = dir
	cmd.Env = env

	var size *pty.Winsize
	if !g.IsZero() {
		size = &pty.Winsize{Cols: uint16(g.Columns), Rows: uint16(g.Lines)} //nolint:gosec // G115: geometry is small
	}

	// pty.Start puts the child in a new session, so its pid is also the
	// process group id used by terminateTree.
	ptmx, err := pty.StartWithSize(cmd, size)
	if err != nil {
		return nil, &LaunchError{Program: BackendPTY, Err: err}
	}

	// The pseudo-terminal must be drained or the child blocks once its
	// buffer fills; the relay file is the real output path.
	go func() {
		_, _ = io.Copy(io.Discard, ptmx)
	}()

	return newProcess(cmd, ptmx.Close), nil
}

func terminateTree(pid int) error {
	err := unix.Kill(-pid, unix.SIGTERM)
	if errors.Is(err, unix.ESRCH) {
		return nil
	}

	return err
}

func killTree(pid int) error {
	err := unix.Kill(-pid, unix.SIGKILL)
	if errors.Is(err, unix.ESRCH) {
		return nil
	}

	return err
}
