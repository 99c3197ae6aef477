// Package doctor provides diagnostic checks for termbuild's environment.
//
// The checks cover:
//   - the terminal program used to open build windows
//   - the relay utility (tee) that copies output to the scratch directory
//   - write access to the scratch directory
//   - relay files left behind by earlier builds
package doctor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/musher-dev/termbuild/internal/buildinfo"
	"github.com/musher-dev/termbuild/internal/launcher"
	"github.com/musher-dev/termbuild/internal/teefile"
)

// Status represents the result of a diagnostic check.
type Status int

const (
	// StatusPass indicates the check passed.
	StatusPass Status = iota
	// StatusWarn indicates a non-critical issue.
	StatusWarn
	// StatusFail indicates a critical failure.
	StatusFail
)

// Result holds the outcome of a single check.
type Result struct {
	Name    string
	Status  Status
	Message string
	Detail  string // Optional additional detail
}

// Check is a diagnostic check function.
type Check func(ctx context.Context) Result

// Env is what the checks inspect.
type Env struct {
	Terminal        string
	TeePath         string
	AllowMissingTee bool
	ScratchDir      string
	// LookPath defaults to exec.LookPath.
	LookPath func(string) (string, error)
}

// Runner executes diagnostic checks.
type Runner struct {
	env    Env
	checks []namedCheck
}

type namedCheck struct {
	name  string
	check Check
}

// New creates a runner with the default checks for env.
func New(env Env) *Runner {
	if env.LookPath == nil {
		env.LookPath = exec.LookPath
	}

	r := &Runner{env: env}

	r.AddCheck("Terminal", r.checkTerminal)
	r.AddCheck("Relay", r.checkTee)
	r.AddCheck("Scratch Directory", r.checkScratchDir)
	r.AddCheck("Stale Relay Files", r.checkStale)
	r.AddCheck("CLI Version", checkCLIVersion)

	return r
}

// AddCheck registers a diagnostic check.
func (r *Runner) AddCheck(name string, check Check) {
	r.checks = append(r.checks, namedCheck{name: name, check: check})
}

// Run executes all registered checks and returns the results.
func (r *Runner) Run(ctx context.Context) []Result {
	results := make([]Result, 0, len(r.checks))

	for _, nc := range r.checks {
		result := nc.check(ctx)
		result.Name = nc.name
		results = append(results, result)
	}

	return results
}

// Summary returns counts of passed, failed, and warning checks.
func Summary(results []Result) (passed, failed, warnings int) {
	for _, r := range results {
		switch r.Status {
		case StatusPass:
			passed++
		case StatusFail:
			failed++
		case StatusWarn:
			warnings++
		}
	}

	return passed, failed, warnings
}

func (r *Runner) checkTerminal(context.Context) Result {
	program := r.env.Terminal

	if program == launcher.BackendDirect || program == launcher.BackendPTY {
		return Result{
			Status:  StatusPass,
			Message: fmt.Sprintf("headless (%s backend)", program),
		}
	}

	path, err := r.env.LookPath(program)
	if err != nil {
		return Result{
			Status:  StatusFail,
			Message: fmt.Sprintf("%s not found in PATH", program),
			Detail:  "Install it, set terminal.program, or use --terminal pty",
		}
	}

	return Result{
		Status:  StatusPass,
		Message: fmt.Sprintf("%s at %s", program, path),
	}
}

func (r *Runner) checkTee(context.Context) Result {
	path, err := r.env.LookPath(r.env.TeePath)
	if err == nil {
		return Result{
			Status:  StatusPass,
			Message: fmt.Sprintf("%s at %s", r.env.TeePath, path),
		}
	}

	if r.env.AllowMissingTee {
		return Result{
			Status:  StatusWarn,
			Message: fmt.Sprintf("%s not found; builds run without captured output", r.env.TeePath),
		}
	}

	return Result{
		Status:  StatusFail,
		Message: fmt.Sprintf("%s not found in PATH", r.env.TeePath),
		Detail:  "Set relay.tee_path, or relay.allow_missing to run without captured output",
	}
}

func (r *Runner) checkScratchDir(context.Context) Result {
	dir := r.env.ScratchDir
	if dir == "" {
		return Result{
			Status:  StatusFail,
			Message: "Not configured",
			Detail:  "Set scratch.dir",
		}
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return Result{
			Status:  StatusFail,
			Message: dir,
			Detail:  err.Error(),
		}
	}

	if err := writable(dir); err != nil {
		return Result{
			Status:  StatusFail,
			Message: fmt.Sprintf("%s is not writable", dir),
			Detail:  err.Error(),
		}
	}

	return Result{
		Status:  StatusPass,
		Message: dir,
	}
}

func (r *Runner) checkStale(context.Context) Result {
	stale, err := teefile.ListStale(r.env.ScratchDir, nil)
	if err != nil {
		return Result{
			Status:  StatusWarn,
			Message: "Could not list relay files",
			Detail:  err.Error(),
		}
	}

	if len(stale) == 0 {
		return Result{
			Status:  StatusPass,
			Message: "None",
		}
	}

	var size int64
	for _, f := range stale {
		size += f.Size
	}

	return Result{
		Status:  StatusWarn,
		Message: fmt.Sprintf("%d file(s), %s", len(stale), formatBytes(size)),
		Detail:  "Run 'termbuild cache clear' to remove them",
	}
}

func checkCLIVersion(context.Context) Result {
	if buildinfo.Version == "dev" {
		return Result{
			Status:  StatusWarn,
			Message: "Development build",
		}
	}

	return Result{
		Status:  StatusPass,
		Message: "v" + strings.TrimPrefix(buildinfo.Version, "v"),
	}
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}

	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}

	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// Printer is the styled writer results are rendered to.
type Printer interface {
	Print(format string, args ...any)
	Println(args ...any)
	Success(format string, args ...any)
	Warning(format string, args ...any)
	Failure(format string, args ...any)
	Muted(format string, args ...any)
}

// Render writes the results and summary line to out.
func Render(out Printer, results []Result) {
	maxNameLen := 0
	for _, r := range results {
		if len(r.Name) > maxNameLen {
			maxNameLen = len(r.Name)
		}
	}

	for _, r := range results {
		width := maxNameLen + 4

		switch r.Status {
		case StatusPass:
			out.Success("%-*s%s", width, r.Name, r.Message)
		case StatusWarn:
			out.Warning("%-*s%s", width, r.Name, r.Message)
		case StatusFail:
			out.Failure("%-*s%s", width, r.Name, r.Message)
		default:
			out.Print("? %-*s%s\n", width, r.Name, r.Message)
		}

		if r.Detail != "" {
			out.Muted("    %s", r.Detail)
		}
	}

	passed, failed, warnings := Summary(results)

	out.Println()
	out.Print("%d passed", passed)

	if failed > 0 {
		out.Print(", %d failed", failed)
	}

	if warnings > 0 {
		out.Print(", %d warning(s)", warnings)
	}

	out.Println()
}
