// Package errors provides structured CLI error types for termbuild.
//
// CLIError wraps errors with user-facing messages, hints, and exit codes
// to provide consistent, actionable error output across all commands.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Exit codes for CLI errors.
const (
	ExitSuccess   = 0   // Successful execution
	ExitGeneral   = 1   // General error
	ExitConfig    = 4   // Configuration error
	ExitExecution = 6   // Execution failure
	ExitUsage     = 64  // Command line usage error (BSD convention)
	ExitCancelled = 130 // Interrupted by the user (128 + SIGINT)
)

// CLIError represents a user-facing CLI error with actionable guidance.
type CLIError struct {
	// Message is the primary error message shown to the user.
	Message string

	// Hint provides actionable guidance on how to fix the error.
	Hint string

	// Cause is the underlying error, if any.
	Cause error

	// Code is the exit code for the CLI.
	Code int
}

// Error implements the error interface.
func (e *CLIError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}

	return e.Message
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *CLIError) Unwrap() error {
	return e.Cause
}

// New creates a new CLIError with the given message and exit code.
func New(code int, message string) *CLIError {
	return &CLIError{
		Message: message,
		Code:    code,
	}
}

// Wrap wraps an existing error with a CLIError.
func Wrap(code int, message string, cause error) *CLIError {
	return &CLIError{
		Message: message,
		Cause:   cause,
		Code:    code,
	}
}

// WithHint adds a hint to the error.
func (e *CLIError) WithHint(hint string) *CLIError {
	e.Hint = hint
	return e
}

// As is a convenience function for errors.As with CLIError.
func As(err error, target **CLIError) bool {
	return errors.As(err, target)
}

// --- Common error constructors ---

// TerminalNotFound returns an error when the terminal program cannot be spawned.
func TerminalNotFound(program string, cause error) *CLIError {
	return &CLIError{
		Message: fmt.Sprintf("Could not launch terminal: %s", program),
		Hint:    "Install it, set terminal.program (e.g. 'termbuild config set terminal.program gnome-terminal'), or use --terminal direct",
		Cause:   cause,
		Code:    ExitConfig,
	}
}

// TeeNotFound returns an error when the relay utility is missing.
func TeeNotFound(teePath string) *CLIError {
	return &CLIError{
		Message: fmt.Sprintf("Relay utility not found: %s", teePath),
		Hint:    "Install tee, set relay.tee_path, or pass --allow-no-relay to run without capturing output",
		Code:    ExitConfig,
	}
}

// ScratchDirUnavailable returns an error when the relay directory is unusable.
func ScratchDirUnavailable(dir string, cause error) *CLIError {
	return &CLIError{
		Message: fmt.Sprintf("Scratch directory is not writable: %s", dir),
		Hint:    "Check permissions or set scratch.dir to a writable directory",
		Cause:   cause,
		Code:    ExitConfig,
	}
}

// BuildFileInvalid returns an error for an unreadable or invalid build definition.
func BuildFileInvalid(path string, cause error) *CLIError {
	return &CLIError{
		Message: fmt.Sprintf("Invalid build file: %s", path),
		Hint:    "Build files need exactly one of 'cmd' or 'shell_cmd'; supported formats are .toml, .yaml, .yml and .json",
		Cause:   cause,
		Code:    ExitUsage,
	}
}

// NoCommand returns an error when neither arguments nor a build file were given.
func NoCommand() *CLIError {
	return &CLIError{
		Message: "No build command given",
		Hint:    "Pass the command after '--' (termbuild run -- make all) or use --file",
		Code:    ExitUsage,
	}
}

// BuildCancelled returns an error for a build interrupted by the user.
func BuildCancelled() *CLIError {
	return &CLIError{
		Message: "Build cancelled",
		Code:    ExitCancelled,
	}
}

// BuildFailed returns an error for a build that finished with matched errors.
func BuildFailed(errorCount int) *CLIError {
	noun := "error"
	if errorCount != 1 {
		noun = "errors"
	}

	return &CLIError{
		Message: fmt.Sprintf("Build finished with %d %s", errorCount, noun),
		Code:    ExitExecution,
	}
}

// PromptCancelled returns an error when the command-line prompt was dismissed.
func PromptCancelled() *CLIError {
	return &CLIError{
		Message: "Build prompt dismissed",
		Code:    ExitCancelled,
	}
}

// CannotPrompt returns an error when interactive prompts are unavailable.
func CannotPrompt() *CLIError {
	return &CLIError{
		Message: "Cannot prompt in non-interactive mode",
		Hint:    "Drop --prompt or run from an interactive terminal",
		Code:    ExitUsage,
	}
}

// SessionNotFound returns an error for an unknown transcript session.
func SessionNotFound(id string) *CLIError {
	return &CLIError{
		Message: fmt.Sprintf("Build session not found: %s", id),
		Hint:    "Run 'termbuild history list' to see recorded builds",
		Code:    ExitGeneral,
	}
}

// ConfigFailed returns an error for configuration save failures.
func ConfigFailed(operation string, cause error) *CLIError {
	return &CLIError{
		Message: fmt.Sprintf("Failed to %s", operation),
		Hint:    "Check file permissions for your termbuild config directory or run 'termbuild doctor'",
		Cause:   cause,
		Code:    ExitConfig,
	}
}

// InvalidChoice returns a usage error for a flag outside its allowed values.
func InvalidChoice(flag, value string, allowed []string) *CLIError {
	return &CLIError{
		Message: fmt.Sprintf("Invalid value for --%s: %q", flag, value),
		Hint:    fmt.Sprintf("Allowed values: %s", strings.Join(allowed, ", ")),
		Code:    ExitUsage,
	}
}
