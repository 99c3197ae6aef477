package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/musher-dev/termbuild/internal/config"
	"github.com/musher-dev/termbuild/internal/output"
	"github.com/musher-dev/termbuild/internal/paths"
)

// PathsInfo holds all resolved paths for JSON output.
type PathsInfo struct {
	ConfigRoot string `json:"config_root"`
	StateRoot  string `json:"state_root"`
	CacheRoot  string `json:"cache_root"`
	ConfigFile string `json:"config_file"`
	LogFile    string `json:"log_file"`
	ScratchDir string `json:"scratch_dir"`
	HistoryDir string `json:"history_dir"`
}

func newPathsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "paths",
		Short: "Show where termbuild stores files",
		Long: `Display all file and directory paths used by termbuild.

The scratch and history directories reflect configuration overrides.`,
		Example: `  termbuild paths
  termbuild paths --json`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.FromContext(cmd.Context())

			info := resolvePathsInfo()

			if out.JSON {
				return out.PrintJSON(info)
			}

			out.Print("Config root:    %s\n", info.ConfigRoot)
			out.Print("State root:     %s\n", info.StateRoot)
			out.Print("Cache root:     %s\n", info.CacheRoot)
			out.Print("\n")
			out.Print("Config file:    %s\n", info.ConfigFile)
			out.Print("Log file:       %s\n", info.LogFile)
			out.Print("Scratch dir:    %s\n", info.ScratchDir)
			out.Print("History dir:    %s\n", info.HistoryDir)

			return nil
		},
	}
}

func resolvePathsInfo() PathsInfo {
	cfg := config.Load()

	return PathsInfo{
		ConfigRoot: resolveOrError(paths.ConfigRoot),
		StateRoot:  resolveOrError(paths.StateRoot),
		CacheRoot:  resolveOrError(paths.CacheRoot),
		ConfigFile: resolveOrError(paths.ConfigFile),
		LogFile:    resolveOrError(paths.DefaultLogFile),
		ScratchDir: cfg.ScratchDir(),
		HistoryDir: cfg.HistoryDir(),
	}
}

func resolveOrError(fn func() (string, error)) string {
	val, err := fn()
	if err != nil {
		return fmt.Sprintf("<error: %v>", err)
	}

	return val
}
