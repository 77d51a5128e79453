package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"rollcall/internal/daemon"
	"rollcall/internal/preflight"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show system readiness, daemon state, and queue counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := ctx.configValue()
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)

			for _, line := range renderSectionHeader("System Status", colorize) {
				fmt.Fprintln(out, line)
			}
			for _, result := range preflight.RunAll(cmd.Context(), cfg) {
				fmt.Fprintln(out, renderStatusLine(result.Name, passKind(result.Passed), result.Detail, colorize))
			}
			classifier := preflight.CheckClassifierFromConfig(cfg)
			fmt.Fprintln(out, renderStatusLine(classifier.Name, resultKind(classifier), classifier.Detail, colorize))
			notify := preflight.CheckNotificationsFromConfig(cfg)
			fmt.Fprintln(out, renderStatusLine(notify.Name, resultKind(notify), notify.Detail, colorize))
			fmt.Fprintln(out)

			for _, line := range renderSectionHeader("Dependencies", colorize) {
				fmt.Fprintln(out, line)
			}
			for _, dep := range preflight.CheckSystemDeps(cmd.Context(), cfg) {
				kind := statusOK
				detail := "Ready"
				if dep.Command != "" {
					detail = fmt.Sprintf("Ready (command: %s)", dep.Command)
				}
				if !dep.Available {
					kind = statusError
					if dep.Optional {
						kind = statusWarn
					}
					detail = dep.Detail
				}
				fmt.Fprintln(out, renderStatusLine(dep.Name, kind, detail, colorize))
			}
			fmt.Fprintln(out)

			for _, line := range renderSectionHeader("Daemon", colorize) {
				fmt.Fprintln(out, line)
			}
			running, err := daemon.InstanceRunning(cfg)
			switch {
			case err != nil:
				fmt.Fprintln(out, renderStatusLine("Daemon", statusWarn, err.Error(), colorize))
			case running:
				fmt.Fprintln(out, renderStatusLine("Daemon", statusOK, "Running", colorize))
			default:
				fmt.Fprintln(out, renderStatusLine("Daemon", statusWarn, "Not running (rollcall start)", colorize))
			}
			fmt.Fprintln(out)

			return ctx.withStores(func(s *stores) error {
				for _, line := range renderSectionHeader("Queue Status", colorize) {
					fmt.Fprintln(out, line)
				}
				stats, err := s.queue.Stats(cmd.Context())
				if err != nil {
					return err
				}
				rows := buildQueueStatusRows(stats)
				if len(rows) == 0 {
					fmt.Fprintln(out, "Queue is empty")
				} else {
					fmt.Fprintln(out, renderTable([]string{"Status", "Count"}, rows, 2))
				}

				failures, err := s.queue.RecentPipelineErrors(cmd.Context(), 5)
				if err != nil {
					return err
				}
				if len(failures) > 0 {
					fmt.Fprintln(out)
					for _, line := range renderSectionHeader("Recent Failures", colorize) {
						fmt.Fprintln(out, line)
					}
					failureRows := make([][]string, 0, len(failures))
					for _, failure := range failures {
						failureRows = append(failureRows, []string{
							fmt.Sprint(failure.JobID),
							failure.EpisodeID,
							failure.Stage,
							failure.Kind,
							truncate(failure.Message, 60),
							formatTime(failure.CreatedAt),
						})
					}
					fmt.Fprintln(out, renderTable(
						[]string{"Job", "Episode", "Stage", "Kind", "Message", "When"},
						failureRows,
						1,
					))
				}
				return nil
			})
		},
	}
}

func resultKind(result preflight.Result) statusKind {
	if result.Passed {
		return statusOK
	}
	return statusWarn
}
