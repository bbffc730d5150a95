package main

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/semmidev/backupd/internal/app"
	"github.com/semmidev/backupd/internal/domain"
	"github.com/semmidev/backupd/internal/usecase"
)

const timeLayout = "2006-01-02 15:04:05 MST"

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withApp(cmd, func(a *app.App) error {
				return a.Serve(cmd.Context())
			})
		},
	}
}

func newSweepCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Check for due jobs once and run them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withApp(cmd, func(a *app.App) error {
				fmt.Fprintln(cmd.ErrOrStderr(), "Running due-job sweep...")
				summary, err := a.Sweep(cmd.Context())
				if err != nil {
					return err
				}
				if err := opts.render(cmd.OutOrStdout(), summary, func(w io.Writer) { printSweep(w, summary) }); err != nil {
					return err
				}
				if len(summary.Errors) > 0 {
					return errFailed
				}
				return nil
			})
		},
	}
}

func printSweep(w io.Writer, s *usecase.SweepSummary) {
	fmt.Fprintf(w, "Checked jobs: %d\n", s.CheckedJobs)
	fmt.Fprintf(w, "Triggered jobs: %d\n", s.TriggeredJobs)
	if len(s.Triggered) > 0 {
		fmt.Fprintln(w, "Triggered jobs:")
		for _, t := range s.Triggered {
			fmt.Fprintf(w, "  - Job %d: %s\n", t.JobID, t.JobName)
			fmt.Fprintf(w, "    Schedule: %s\n", t.Schedule)
			fmt.Fprintf(w, "    Task ID: %s\n", t.TaskID)
		}
	}
	if len(s.Errors) > 0 {
		fmt.Fprintln(w, "Errors:")
		for _, e := range s.Errors {
			fmt.Fprintf(w, "  - %s\n", e)
		}
	}
}

func newRunCmd(opts *rootOptions) *cobra.Command {
	var retry bool

	cmd := &cobra.Command{
		Use:   "run <job-id>",
		Short: "Execute a backup job now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			return opts.withApp(cmd, func(a *app.App) error {
				fmt.Fprintf(cmd.ErrOrStderr(), "Executing backup job %d...\n", jobID)
				res, err := a.RunJob(cmd.Context(), jobID, retry)
				if err != nil {
					return err
				}
				if err := opts.render(cmd.OutOrStdout(), res, func(w io.Writer) { printRun(w, res) }); err != nil {
					return err
				}
				if res.Failed() {
					return errFailed
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&retry, "retry", false, "retry unexpected failures with backoff")
	return cmd
}

func printRun(w io.Writer, res *usecase.RunResult) {
	if !res.Failed() {
		fmt.Fprintf(w, "✅ Job completed successfully in %.1fs\n", res.Duration.Seconds())
		fmt.Fprintf(w, "File size: %d bytes\n", res.FileSize)
		return
	}
	fmt.Fprintf(w, "❌ Job failed: %s\n", res.Error)
	if res.RetriesExhausted {
		fmt.Fprintf(w, "Retries exhausted after %d attempt(s)\n", res.Attempts)
	}
}

func newScheduleCmd(opts *rootOptions) *cobra.Command {
	var (
		count  int
		within time.Duration
	)

	cmd := &cobra.Command{
		Use:   "schedule <job-id>",
		Short: "Preview the upcoming runs of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			return opts.withApp(cmd, func(a *app.App) error {
				report, err := a.PreviewJob(cmd.Context(), jobID, count, within)
				if err != nil {
					return err
				}
				if err := opts.render(cmd.OutOrStdout(), report, func(w io.Writer) { printSchedule(w, report) }); err != nil {
					return err
				}
				if !report.Valid {
					return errFailed
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&count, "count", 10, "maximum number of runs to list")
	cmd.Flags().DurationVar(&within, "within", 24*time.Hour, "look-ahead window")
	return cmd
}

func printSchedule(w io.Writer, r *usecase.ScheduleReport) {
	if !r.Valid {
		fmt.Fprintf(w, "❌ Invalid cron: %s\n", r.Error)
		return
	}
	fmt.Fprintln(w, "✅ Schedule is valid")
	fmt.Fprintf(w, "Job: %s\n", r.JobName)
	fmt.Fprintf(w, "Schedule: %s\n", r.Schedule)
	fmt.Fprintf(w, "Current time: %s\n", r.CurrentTime.Format(timeLayout))
	if len(r.NextRuns) == 0 {
		fmt.Fprintln(w, "No runs scheduled in the look-ahead window")
		return
	}
	fmt.Fprintln(w, "Next runs:")
	for i, t := range r.NextRuns {
		fmt.Fprintf(w, "  %d. %s\n", i+1, t.Format(timeLayout))
	}
}

func newJobsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "jobs",
		Short: "List all backup jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withApp(cmd, func(a *app.App) error {
				jobs, err := a.ListJobs(cmd.Context())
				if err != nil {
					return err
				}
				return opts.render(cmd.OutOrStdout(), jobViews(jobs), func(w io.Writer) { printJobs(w, jobs) })
			})
		},
	}
}

type jobView struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	Source       string `json:"source"`
	SourceType   string `json:"source_type"`
	Destination  string `json:"destination"`
	Schedule     string `json:"schedule"`
	OutputFormat string `json:"output_format"`
	Active       bool   `json:"is_active"`
}

func jobViews(jobs []domain.Job) []jobView {
	views := make([]jobView, 0, len(jobs))
	for _, j := range jobs {
		views = append(views, jobView{
			ID:           j.ID,
			Name:         j.Name,
			Source:       j.Source.Name,
			SourceType:   j.Source.TypeLabel(),
			Destination:  j.Destination.Name,
			Schedule:     j.Schedule,
			OutputFormat: string(j.OutputFormat),
			Active:       j.IsActive,
		})
	}
	return views
}

func printJobs(w io.Writer, jobs []domain.Job) {
	if len(jobs) == 0 {
		fmt.Fprintln(w, "No backup jobs found")
		return
	}
	fmt.Fprintf(w, "Found %d backup jobs:\n\n", len(jobs))
	for _, j := range jobs {
		status := "🔴 Inactive"
		if j.IsActive {
			status = "🟢 Active"
		}
		fmt.Fprintf(w, "ID: %d\n", j.ID)
		fmt.Fprintf(w, "  Source: %s (%s)\n", j.Source.Name, j.Source.TypeLabel())
		fmt.Fprintf(w, "  Destination: %s\n", j.Destination.Name)
		fmt.Fprintf(w, "  Schedule: %s\n", j.Schedule)
		fmt.Fprintf(w, "  Format: %s\n", j.OutputFormat)
		fmt.Fprintf(w, "  Status: %s\n\n", status)
	}
}

func newHistoryCmd(opts *rootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history <job-id>",
		Short: "Show recent execution records of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID, err := parseJobID(args[0])
			if err != nil {
				return err
			}
			return opts.withApp(cmd, func(a *app.App) error {
				recs, err := a.History(cmd.Context(), jobID, limit)
				if err != nil {
					return err
				}
				return opts.render(cmd.OutOrStdout(), recordViews(recs), func(w io.Writer) { printHistory(w, recs) })
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of records to show")
	return cmd
}

type recordView struct {
	ID        int64     `json:"id"`
	Status    string    `json:"status"`
	Details   string    `json:"details"`
	FileSize  *int64    `json:"file_size"`
	CreatedAt time.Time `json:"created_at"`
}

func recordViews(recs []domain.ExecutionRecord) []recordView {
	views := make([]recordView, 0, len(recs))
	for _, r := range recs {
		views = append(views, recordView{
			ID:        r.ID,
			Status:    string(r.Status),
			Details:   r.Details,
			FileSize:  r.FileSize,
			CreatedAt: r.CreatedAt,
		})
	}
	return views
}

func printHistory(w io.Writer, recs []domain.ExecutionRecord) {
	if len(recs) == 0 {
		fmt.Fprintln(w, "No executions recorded")
		return
	}
	for _, r := range recs {
		size := "-"
		if r.FileSize != nil {
			size = strconv.FormatInt(*r.FileSize, 10)
		}
		fmt.Fprintf(w, "%s  %-7s  %10s  %s\n", r.CreatedAt.Format(timeLayout), r.Status, size, r.Details)
	}
}

func newRetentionCmd(opts *rootOptions) *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "retention",
		Short: "Delete old execution records and archived backups",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withApp(cmd, func(a *app.App) error {
				res, err := a.Retention(cmd.Context(), days)
				if err != nil {
					return err
				}
				return opts.render(cmd.OutOrStdout(), res, func(w io.Writer) {
					fmt.Fprintf(w, "Deleted %d execution record(s) older than %s (%d days kept)\n",
						res.DeletedCount, res.Cutoff.Format(timeLayout), res.DaysKept)
					fmt.Fprintf(w, "Deleted %d archived backup(s)\n", res.ArchiveDeleted)
					for _, a := range res.Archives {
						if a.Error != "" {
							fmt.Fprintf(w, "  %s: %s\n", a.Target, a.Error)
							continue
						}
						fmt.Fprintf(w, "  %s: %d/%d\n", a.Target, a.Deleted, a.Stale)
					}
				})
			})
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "days to keep; 0 uses the configured value")
	return cmd
}

func parseJobID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid job id %q", s)
	}
	return id, nil
}
