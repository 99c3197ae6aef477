package main

import (
	"context"
	"errors"
	"fmt"

	clierrors "github.com/musher-dev/termbuild/internal/errors"
	"github.com/musher-dev/termbuild/internal/launcher"
	"github.com/musher-dev/termbuild/internal/prompt"
	"github.com/musher-dev/termbuild/internal/session"
)

// classifyError maps library errors to CLIErrors with hints and exit codes.
// Errors it does not recognise are returned unchanged.
func classifyError(err error) error {
	var cliErr *clierrors.CLIError
	if clierrors.As(err, &cliErr) {
		return err
	}

	var (
		teeErr     *launcher.TeeNotFoundError
		launchErr  *launcher.LaunchError
		scratchErr *session.ScratchDirError
		stateErr   *session.InvalidStateError
	)

	switch {
	case errors.As(err, &teeErr):
		return clierrors.TeeNotFound(teeErr.Path)
	case errors.As(err, &launchErr):
		return clierrors.TerminalNotFound(launchErr.Program, launchErr.Err)
	case errors.As(err, &scratchErr):
		return clierrors.ScratchDirUnavailable(scratchErr.Dir, scratchErr.Err)
	case prompt.IsCancelled(err):
		return clierrors.PromptCancelled()
	case errors.As(err, &stateErr):
		return clierrors.Wrap(clierrors.ExitGeneral, fmt.Sprintf("Build session is %s", stateErr.State), err)
	case errors.Is(err, context.Canceled):
		return clierrors.BuildCancelled()
	default:
		return err
	}
}
