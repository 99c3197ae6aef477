package main

import (
	"github.com/spf13/cobra"

	"github.com/musher-dev/termbuild/internal/config"
	"github.com/musher-dev/termbuild/internal/doctor"
	"github.com/musher-dev/termbuild/internal/output"
)

func newDoctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Diagnose common issues",
		Long: `Run diagnostic checks on the build environment.

Checks performed:
  - Terminal program availability
  - Relay utility (tee) availability
  - Scratch directory write access
  - Relay files left behind by earlier builds`,
		Example: `  termbuild doctor`,
		Args:    noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.FromContext(cmd.Context())
			cfg := config.Load()

			runner := doctor.New(doctor.Env{
				Terminal:        cfg.TerminalProgram(),
				TeePath:         cfg.TeePath(),
				AllowMissingTee: cfg.AllowMissingTee(),
				ScratchDir:      cfg.ScratchDir(),
			})

			out.Println("termbuild doctor")
			out.Println("================")
			out.Println()

			spin := out.Spinner("Running checks")
			spin.Start()
			results := runner.Run(cmd.Context())
			spin.Stop()

			doctor.Render(out, results)

			return nil
		},
	}
}
