package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"

	"github.com/musher-dev/termbuild/internal/ansi"
	"github.com/musher-dev/termbuild/internal/config"
	clierrors "github.com/musher-dev/termbuild/internal/errors"
	"github.com/musher-dev/termbuild/internal/output"
	"github.com/musher-dev/termbuild/internal/transcript"
)

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect recorded builds",
	}

	cmd.AddCommand(newHistoryListCmd())
	cmd.AddCommand(newHistoryViewCmd())
	cmd.AddCommand(newHistoryPruneCmd())

	return cmd
}

func newHistoryListCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Short:   "List recorded builds, newest first",
		Example: `  termbuild history list --json`,
		Args:    noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.FromContext(cmd.Context())
			dir := config.Load().HistoryDir()

			sessions, err := transcript.ListSessions(dir)
			if err != nil {
				return err
			}

			if out.JSON {
				return out.PrintJSON(sessions)
			}

			if len(sessions) == 0 {
				out.Muted("No recorded builds found.")
				return nil
			}

			renderHistoryList(out, sessions, out.Terminal().Width)

			return nil
		},
	}
}

// renderHistoryList prints one row per build, truncating the command line
// to the terminal width.
func renderHistoryList(out *output.Writer, sessions []transcript.Session, width int) {
	if width <= 0 {
		width = 80
	}

	const header = "%-8s  %-16s  %-9s  %6s  %8s  %s\n"

	// Everything before the command column.
	fixed := runewidth.StringWidth(strings.TrimSuffix(fmt.Sprintf(header, "", "", "", "", "", ""), "\n"))
	cmdWidth := max(width-fixed, 12)

	out.Print(header, "ID", "STARTED", "OUTCOME", "ERRORS", "ELAPSED", "COMMAND")

	for _, s := range sessions {
		outcome := s.Outcome
		if outcome == "" {
			outcome = "running"
			if s.ClosedAt != nil {
				outcome = "closed"
			}
		}

		elapsed := "-"
		if s.ElapsedMS > 0 {
			elapsed = fmt.Sprintf("%.1fs", float64(s.ElapsedMS)/1000)
		}

		out.Print(header,
			shortID(s.SessionID),
			s.StartedAt.Local().Format("2006-01-02 15:04"),
			outcome,
			fmt.Sprint(s.ErrorCount),
			elapsed,
			runewidth.Truncate(s.CommandLine, cmdWidth, "…"),
		)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}

	return id
}

func newHistoryViewCmd() *cobra.Command {
	var (
		search string
		follow bool
		raw    bool
	)

	cmd := &cobra.Command{
		Use:   "view <session-id>",
		Short: "Show the output of a recorded build",
		Long: `Print a recorded build's output and markers. The id may be any unique
prefix shown by 'termbuild history list'.`,
		Example: `  termbuild history view 3f2a9c1e
  termbuild history view 3f2a --search error
  termbuild history view 3f2a --follow`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.FromContext(cmd.Context())
			dir := config.Load().HistoryDir()

			found, err := transcript.FindSession(dir, args[0])
			if err != nil {
				if errors.Is(err, os.ErrNotExist) {
					return clierrors.SessionNotFound(args[0])
				}

				return clierrors.Wrap(clierrors.ExitUsage, "Ambiguous build id", err)
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

			defer signal.Stop(sigCh)

			go func() {
				select {
				case <-sigCh:
					cancel()
				case <-ctx.Done():
				}
			}()

			v := &eventViewer{out: out, search: strings.ToLower(search), raw: raw}

			for {
				events, err := transcript.ReadEvents(dir, found.SessionID)
				if err != nil {
					return err
				}

				v.show(events)

				if !follow {
					v.flush()
					return nil
				}

				select {
				case <-ctx.Done():
					v.flush()
					return nil
				case <-time.After(1 * time.Second):
				}
			}
		},
	}

	cmd.Flags().StringVar(&search, "search", "", "Only show lines containing this text (case-insensitive)")
	cmd.Flags().BoolVar(&follow, "follow", false, "Keep printing output as a running build records it")
	cmd.Flags().BoolVar(&raw, "raw", false, "Keep ANSI escape sequences")

	return cmd
}

// eventViewer prints events line by line so --search can filter whole
// lines even when a line arrived in several chunks.
type eventViewer struct {
	out     *output.Writer
	search  string
	raw     bool
	lastSeq uint64
	partial string
}

func (v *eventViewer) show(events []transcript.Event) {
	for _, ev := range events {
		if ev.Seq <= v.lastSeq {
			continue
		}

		v.lastSeq = ev.Seq

		text := ev.Text
		if !v.raw {
			text = ansi.Strip(text)
		}

		if ev.Kind == transcript.KindMarker {
			v.flush()
			v.emit(text)

			continue
		}

		lines := strings.Split(v.partial+text, "\n")
		v.partial = lines[len(lines)-1]

		for _, line := range lines[:len(lines)-1] {
			v.emit(line)
		}
	}
}

func (v *eventViewer) flush() {
	if v.partial != "" {
		v.emit(v.partial)
		v.partial = ""
	}
}

func (v *eventViewer) emit(line string) {
	if v.search != "" && !strings.Contains(strings.ToLower(line), v.search) {
		return
	}

	v.out.Print("%s\n", line)
}

func newHistoryPruneCmd() *cobra.Command {
	var olderThan string

	cmd := &cobra.Command{
		Use:     "prune",
		Short:   "Delete recorded builds older than a duration",
		Example: `  termbuild history prune --older-than 168h`,
		Args:    noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := output.FromContext(cmd.Context())
			cfg := config.Load()

			window := cfg.HistoryRetention()
			if olderThan != "" {
				d, err := time.ParseDuration(olderThan)
				if err != nil {
					return &clierrors.CLIError{
						Message: fmt.Sprintf("Invalid duration for --older-than: %q", olderThan),
						Hint:    "Use a Go duration such as 168h or 30m",
						Cause:   err,
						Code:    clierrors.ExitUsage,
					}
				}

				window = d
			}

			removed, err := transcript.PruneOlderThan(cfg.HistoryDir(), time.Now().Add(-window))
			if err != nil {
				return err
			}

			out.Success("Removed %d recorded build(s)", removed)

			return nil
		},
	}

	cmd.Flags().StringVar(&olderThan, "older-than", "", "Override retention window (example: 168h)")

	return cmd
}
