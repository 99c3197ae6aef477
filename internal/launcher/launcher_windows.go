//go:build windows

package launcher

import (
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"golang.org/x/sys/windows"
)

const (
	defaultTerminal = "cmd"
	defaultTee      = "tee.exe"
)

func quote(s string) (string, error) {
	if strings.ContainsAny(s, "\x00\r\n") {
		return "", fmt.Errorf("quote %q: unsupported character", s)
	}

	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`, nil
}

func quoteArgs(args []string) (string, error) {
	words := make([]string, 0, len(args))
	for _, a := range args {
		words = append(words, windows.EscapeArg(a))
	}

	return strings.Join(words, " "), nil
}

func mustQuote(s string) string {
	q, err := quote(s)
	if err != nil {
		return `"` + s + `"`
	}

	return q
}

// relayScript builds the cmd.exe line run inside the console window.
func relayScript(p scriptParams) string {
	var steps []string

	if !p.Geometry.IsZero() {
		steps = append(steps, fmt.Sprintf("mode con: cols=%d lines=%d", p.Geometry.Columns, p.Geometry.Lines))
	}

	if p.Dir != "" {
		steps = append(steps, "cd /d "+mustQuote(p.Dir))
	}

	if p.Relay {
		steps = append(steps, fmt.Sprintf("(%s) 2>&1 | %s %s", p.CommandLine, mustQuote(p.Tee), mustQuote(p.DataPath)))
	} else {
		steps = append(steps, p.CommandLine)
	}

	if p.DonePath != "" {
		steps = append(steps, "echo done> "+mustQuote(p.DonePath))
	}

	switch p.ExitMethod {
	case ExitPrompt:
		steps = append(steps, "pause")
	case ExitManual:
		steps = append(steps, "cmd /k")
	case ExitAuto:
	}

	return strings.Join(steps, " & ")
}

func terminalArgv(program string, g Geometry, script string) ([]string, bool) {
	switch strings.ToLower(strings.TrimSuffix(filepath.Base(program), ".exe")) {
	case "wt":
		argv := []string{program}
		if !g.IsZero() {
			argv = append(argv, "--size", fmt.Sprintf("%d,%d", g.Columns, g.Lines))
		}

		return append(argv, "cmd", "/c", script), true
	default:
		// cmd applies geometry itself through "mode con".
		return []string{program, "/c", script}, true
	}
}

func commandLine(argv []string) string {
	parts := make([]string, 0, len(argv))
	for i, a := range argv {
		if i == len(argv)-1 {
			// The script is consumed by cmd.exe verbatim.
			parts = append(parts, a)
			continue
		}

		parts = append(parts, windows.EscapeArg(a))
	}

	return strings.Join(parts, " ")
}

func startTerminal(argv []string, dir string, env []string) (*Process, error) {
	cmd := exec.Command(argv[0]) //nolint:gosec // G204: argv is built from configured terminal and user build command
	cmd.Dir = dir
	cmd.Env = env
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CmdLine:       commandLine(argv),
		CreationFlags: windows.CREATE_NEW_CONSOLE | windows.CREATE_NEW_PROCESS_GROUP,
	}

	if err := cmd.Start(); err != nil {
		return nil, &LaunchError{Program: argv[0], Err: err}
	}

	return newProcess(cmd), nil
}

func startDirect(script, dir string, env []string) (*Process, error) {
	argv := []string{"cmd.exe", "/c", script}

	cmd := exec.Command(argv[0]) //nolint:gosec // G204: script wraps the user's build command
	cmd.Dir = dir
	cmd.Env = env
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CmdLine:       commandLine(argv),
		CreationFlags: windows.CREATE_NO_WINDOW | windows.CREATE_NEW_PROCESS_GROUP,
	}

	if err := cmd.Start(); err != nil {
		return nil, &LaunchError{Program: BackendDirect, Err: err}
	}

	return newProcess(cmd), nil
}

func startPTY(string, string, []string, Geometry) (*Process, error) {
	return nil, &LaunchError{Program: BackendPTY, Err: errors.New("pty backend is not supported on windows")}
}

// terminateTree asks the console tree to close. A console-hosted foreground
// process may ignore it; Terminate escalates after the grace period.
func terminateTree(pid int) error {
	return exec.Command("taskkill", "/PID", strconv.Itoa(pid), "/T").Run() //nolint:gosec // G204: pid is numeric
}

func killTree(pid int) error {
	return exec.Command("taskkill", "/PID", strconv.Itoa(pid), "/T", "/F").Run() //nolint:gosec // G204: pid is numeric
}
