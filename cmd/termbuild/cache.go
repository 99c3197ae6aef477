package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/musher-dev/termbuild/internal/config"
	clierrors "github.com/musher-dev/termbuild/internal/errors"
	"github.com/musher-dev/termbuild/internal/output"
	"github.com/musher-dev/termbuild/internal/prompt"
	"github.com/musher-dev/termbuild/internal/teefile"
)

func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage relay files in the scratch directory",
		Long: `Builds relay their output through files in the scratch directory. The
files are removed when a build ends; a crashed or killed termbuild can
leave them behind.`,
	}

	cmd.AddCommand(newCacheListCmd())
	cmd.AddCommand(newCacheClearCmd())

	return cmd
}

func newCacheListCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Short:   "List relay files left in the scratch directory",
		Example: `  termbuild cache list --json`,
		Args:    noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.FromContext(cmd.Context())
			dir := config.Load().ScratchDir()

			files, err := teefile.ListStale(dir, nil)
			if err != nil {
				return clierrors.ScratchDirUnavailable(dir, err)
			}

			if out.JSON {
				if files == nil {
					files = []teefile.StaleFile{}
				}

				return out.PrintJSON(files)
			}

			if len(files) == 0 {
				out.Muted("No relay files in %s", dir)
				return nil
			}

			for _, f := range files {
				out.Print("%s  %8d  %s\n", f.ModTime.Local().Format(time.DateTime), f.Size, f.Path)
			}

			return nil
		},
	}
}

func newCacheClearCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove relay files from the scratch directory",
		Long: `Remove relay files from the scratch directory. Files of a build that is
still running in another termbuild process are removed too, which stops
its output from being followed; the build itself keeps running.`,
		Example: `  termbuild cache clear
  termbuild cache clear --force`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.FromContext(cmd.Context())
			dir := config.Load().ScratchDir()

			files, err := teefile.ListStale(dir, nil)
			if err != nil {
				return clierrors.ScratchDirUnavailable(dir, err)
			}

			if len(files) == 0 {
				out.Muted("No relay files to remove")
				return nil
			}

			if !force {
				p := prompt.New(out)
				if p.CanPrompt() {
					ok, err := p.Confirm("Remove "+pluralFiles(len(files))+"?", false)
					if err != nil || !ok {
						out.Muted("Nothing removed")
						return nil
					}
				}
			}

			removed, err := teefile.ClearStale(dir, nil)
			if err != nil {
				return clierrors.Wrap(clierrors.ExitGeneral, "Some relay files could not be removed", err)
			}

			out.Success("Removed %s", pluralFiles(removed))

			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Do not ask for confirmation")

	return cmd
}

func pluralFiles(n int) string {
	if n == 1 {
		return "1 relay file"
	}

	return fmt.Sprintf("%d relay files", n)
}
