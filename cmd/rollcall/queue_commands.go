package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"rollcall/internal/queue"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the diarization job queue",
	}

	queueCmd.AddCommand(newQueueStatusCommand(ctx))
	queueCmd.AddCommand(newQueueListCommand(ctx))
	queueCmd.AddCommand(newQueueShowCommand(ctx))
	queueCmd.AddCommand(newQueueCancelCommand(ctx))
	queueCmd.AddCommand(newQueueRetryCommand(ctx))
	queueCmd.AddCommand(newQueueRemoveCommand(ctx))
	queueCmd.AddCommand(newQueueClearCommand(ctx))
	queueCmd.AddCommand(newQueueResetCommand(ctx))
	queueCmd.AddCommand(newQueueHealthCommand(ctx))

	return queueCmd
}

func newQueueStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show queue counts by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStores(func(s *stores) error {
				stats, err := s.queue.Stats(cmd.Context())
				if err != nil {
					return err
				}
				rows := buildQueueStatusRows(stats)
				if len(rows) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty")
					return nil
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Status", "Count"}, rows, 2))
				return nil
			})
		},
	}
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var listStatuses []string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queued jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			statuses := make([]queue.Status, 0, len(listStatuses))
			for _, raw := range listStatuses {
				status, ok := queue.ParseStatus(raw)
				if !ok {
					return fmt.Errorf("unknown status %q", raw)
				}
				statuses = append(statuses, status)
			}
			return ctx.withStores(func(s *stores) error {
				jobs, err := s.queue.List(cmd.Context(), statuses...)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, buildJobViews(jobs))
				}
				if len(jobs) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty")
					return nil
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"ID", "Episode", "Status", "Reason", "Priority", "Retries", "Created"},
					buildQueueListRows(jobs),
					1, 5, 6,
				))
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVar(&listStatuses, "status", nil, "Filter by status (pending, processing, completed, failed, cancelled)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON instead of a table")
	return cmd
}

func newQueueShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show one job with its episode output",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			return ctx.withStores(func(s *stores) error {
				job, err := s.queue.GetByID(cmd.Context(), id)
				if err != nil {
					return err
				}
				assignments, err := s.attribution.ListForEpisode(cmd.Context(), job.EpisodeID)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, map[string]any{
						"job":         buildJobView(job),
						"assignments": buildAssignmentViews(assignments),
					})
				}
				out := cmd.OutOrStdout()
				renderJobDetail(out, job)
				if len(assignments) > 0 {
					fmt.Fprintln(out)
					fmt.Fprintln(out, renderTable(
						[]string{"Cluster", "Speaker", "Confidence", "Similarity", "Backend", "Source"},
						buildAssignmentRows(assignments),
						4,
					))
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON instead of a table")
	return cmd
}

func newQueueCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a pending job (processing jobs run to completion)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			return ctx.withStores(func(s *stores) error {
				if err := s.queue.Cancel(cmd.Context(), id); err != nil {
					var invalid *queue.InvalidTransitionError
					if errors.As(err, &invalid) {
						return fmt.Errorf("job %d is %s; only pending jobs can be cancelled", id, invalid.From)
					}
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Cancelled job %d\n", id)
				return nil
			})
		},
	}
}

func newQueueRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry [job-id...]",
		Short: "Return failed jobs to pending with a fresh retry budget",
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseJobIDs(args)
			if err != nil {
				return err
			}
			return ctx.withStores(func(s *stores) error {
				count, err := s.queue.RetryFailed(cmd.Context(), ids...)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Requeued %d failed job(s)\n", count)
				return nil
			})
		},
	}
}

func newQueueRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <job-id>",
		Short: "Remove a single job from the queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			return ctx.withStores(func(s *stores) error {
				removed, err := s.queue.Remove(cmd.Context(), id)
				if err != nil {
					return err
				}
				if !removed {
					fmt.Fprintf(cmd.OutOrStdout(), "Job %d not found\n", id)
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed job %d\n", id)
				return nil
			})
		},
	}
}

func newQueueClearCommand(ctx *commandContext) *cobra.Command {
	var clearFailed bool
	var clearAll bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Clear completed jobs (or failed / all with flags)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStores(func(s *stores) error {
				var (
					count int64
					err   error
					what  string
				)
				switch {
				case clearAll:
					count, err = s.queue.Clear(cmd.Context())
					what = "job(s)"
				case clearFailed:
					count, err = s.queue.ClearFailed(cmd.Context())
					what = "failed job(s)"
				default:
					count, err = s.queue.ClearCompleted(cmd.Context())
					what = "completed job(s)"
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d %s\n", count, what)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&clearFailed, "failed", false, "Clear failed jobs instead of completed")
	cmd.Flags().BoolVar(&clearAll, "all", false, "Clear every job regardless of status")
	return cmd
}

func newQueueResetCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "reset-stuck",
		Short: "Return processing jobs to pending without burning retries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStores(func(s *stores) error {
				count, err := s.queue.ResetStuckProcessing(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Reset %d stuck job(s) to pending\n", count)
				return nil
			})
		},
	}
}

func newQueueHealthCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Show queue health and database diagnostics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStores(func(s *stores) error {
				health, err := s.queue.Health(cmd.Context())
				if err != nil {
					return err
				}
				dbHealth, err := s.db.CheckHealth(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				colorize := shouldColorize(out)
				fmt.Fprintln(out, renderTable([]string{"Metric", "Count"}, [][]string{
					{"Total", fmt.Sprint(health.Total)},
					{"Pending", fmt.Sprint(health.Pending)},
					{"Processing", fmt.Sprint(health.Processing)},
					{"Completed", fmt.Sprint(health.Completed)},
					{"Failed", fmt.Sprint(health.Failed)},
					{"Cancelled", fmt.Sprint(health.Cancelled)},
				}, 2))
				kind := statusOK
				detail := fmt.Sprintf("schema %s, %d job(s)", dbHealth.SchemaVersion, dbHealth.TotalJobs)
				switch {
				case dbHealth.Error != "":
					kind = statusError
					detail = dbHealth.Error
				case len(dbHealth.MissingColumns) > 0:
					kind = statusError
					detail = "missing columns: " + strings.Join(dbHealth.MissingColumns, ", ")
				case !dbHealth.IntegrityCheck:
					kind = statusError
					detail = "integrity check failed"
				}
				fmt.Fprintln(out, renderStatusLine("Database", kind, detail, colorize))
				return nil
			})
		},
	}
}
