package main

import (
	"sort"

	"github.com/spf13/cobra"

	"github.com/musher-dev/termbuild/internal/config"
	clierrors "github.com/musher-dev/termbuild/internal/errors"
	"github.com/musher-dev/termbuild/internal/output"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
		Long:  `View and modify termbuild configuration settings.`,
	}

	cmd.AddCommand(newConfigListCmd())
	cmd.AddCommand(newConfigGetCmd())
	cmd.AddCommand(newConfigSetCmd())

	return cmd
}

// configSetting documents one key for 'config list'.
type configSetting struct {
	key  string
	help string
}

var knownSettings = []configSetting{
	{"terminal.program", "Terminal emulator, or pty / direct for headless builds"},
	{"terminal.exit_method", "After the build: prompt, manual, or auto"},
	{"terminal.columns", "Terminal width (0 = emulator default)"},
	{"terminal.lines", "Terminal height (0 = emulator default)"},
	{"relay.tee_path", "Relay utility"},
	{"relay.allow_missing", "Run without captured output when the relay utility is missing"},
	{"scratch.dir", "Relay file directory"},
	{"pump.poll_interval", "Relay poll interval"},
	{"pump.watch", "Wake on file changes in addition to polling"},
	{"build.encoding", "Output encoding, or auto to detect"},
	{"history.enabled", "Record builds in history"},
	{"history.dir", "History directory"},
	{"history.retention", "Default prune window"},
}

func newConfigListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all configuration settings",
		Long:  `Display every configuration setting with its effective value, including defaults.`,
		Example: `  termbuild config list
  termbuild config list --json`,
		Args: noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.FromContext(cmd.Context())
			cfg := config.Load()

			effective := map[string]any{
				"terminal.program":     cfg.TerminalProgram(),
				"terminal.exit_method": cfg.ExitMethod(),
				"terminal.columns":     cfg.GetInt("terminal.columns"),
				"terminal.lines":       cfg.GetInt("terminal.lines"),
				"relay.tee_path":       cfg.TeePath(),
				"relay.allow_missing":  cfg.AllowMissingTee(),
				"scratch.dir":          cfg.ScratchDir(),
				"pump.poll_interval":   cfg.PollInterval().String(),
				"pump.watch":           cfg.WatchEnabled(),
				"build.encoding":       cfg.Encoding(),
				"history.enabled":      cfg.HistoryEnabled(),
				"history.dir":          cfg.HistoryDir(),
				"history.retention":    cfg.HistoryRetention().String(),
			}

			if out.JSON {
				return out.PrintJSON(effective)
			}

			width := 0
			for _, s := range knownSettings {
				width = max(width, len(s.key))
			}

			for _, s := range knownSettings {
				out.Print("%-*s  %v\n", width, s.key, effective[s.key])
				out.Muted("%-*s  %s", width, "", s.help)
			}

			// Keys set in the file or environment that termbuild does not use.
			var extra []string

			for _, key := range cfg.Keys() {
				if _, ok := effective[key]; !ok {
					extra = append(extra, key)
				}
			}

			sort.Strings(extra)

			for _, key := range extra {
				out.Print("%-*s  %v\n", width, key, cfg.Get(key))
			}

			return nil
		},
	}
}

func newConfigGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "get <key>",
		Short:   "Get a configuration value",
		Long:    `Retrieve and display the current value of a single configuration key.`,
		Example: `  termbuild config get terminal.program`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.FromContext(cmd.Context())
			key := args[0]
			cfg := config.Load()
			value := cfg.Get(key)

			if value == nil {
				out.Muted("%s is not set", key)
				return nil
			}

			out.Print("%s = %v\n", key, value)

			return nil
		},
	}
}

func newConfigSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "set <key> <value>",
		Short:   "Set a configuration value",
		Long:    `Set a configuration key to the given value. The value is persisted to the config file.`,
		Example: `  termbuild config set terminal.program kitty`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.FromContext(cmd.Context())
			key, value := args[0], args[1]
			cfg := config.Load()

			if err := cfg.Set(key, value); err != nil {
				return clierrors.ConfigFailed("set config", err)
			}

			out.Success("Set %s = %s", key, value)

			return nil
		},
	}
}
