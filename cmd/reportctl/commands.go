package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/iago/mileage-reports-back/internal/domain"
)

type jobView struct {
	ID            string     `json:"id"`
	UserID        string     `json:"user_id"`
	Period        string     `json:"period"`
	Status        string     `json:"status"`
	FileName      string     `json:"file_name,omitempty"`
	ErrorMessage  string     `json:"error_message,omitempty"`
	RetryAttempts int        `json:"retry_attempts"`
	RequestedAt   time.Time  `json:"requested_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
}

func toView(job *domain.ReportJob) jobView {
	return jobView{
		ID:            job.ID,
		UserID:        job.UserID,
		Period:        job.Period.String(),
		Status:        string(job.Status),
		FileName:      job.FileName,
		ErrorMessage:  job.ErrorMessage,
		RetryAttempts: job.RetryAttempts,
		RequestedAt:   job.RequestedAt,
		CompletedAt:   job.CompletedAt,
		ExpiresAt:     job.ExpiresAt,
	}
}

func (c *cli) printJobs(w io.Writer, jobs ...domain.ReportJob) error {
	if c.jsonOutput {
		views := make([]jobView, 0, len(jobs))
		for i := range jobs {
			views = append(views, toView(&jobs[i]))
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if len(views) == 1 {
			return enc.Encode(views[0])
		}
		return enc.Encode(views)
	}
	for _, j := range jobs {
		fmt.Fprintf(w, "%s  %-10s  user=%s  period=%s  retries=%d  err=%q\n",
			j.ID, j.Status, j.UserID, j.Period, j.RetryAttempts, j.ErrorMessage)
	}
	return nil
}

func (c *cli) generateCmd() *cobra.Command {
	var userID, start, end string
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Request a report for a user and period",
		RunE: func(cmd *cobra.Command, _ []string) error {
			period, err := domain.ParseDateRange(start, end)
			if err != nil {
				return err
			}
			job, err := c.app.Reports.GenerateReport(cmd.Context(), userID, period)
			if err != nil {
				return err
			}
			return c.printJobs(cmd.OutOrStdout(), *job)
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "owning user id")
	cmd.Flags().StringVar(&start, "start", "", "period start (YYYY-MM-DD)")
	cmd.Flags().StringVar(&end, "end", "", "period end (YYYY-MM-DD)")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")
	return cmd
}

func (c *cli) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show a report job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := c.app.Reports.GetReportStatus(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return c.printJobs(cmd.OutOrStdout(), *job)
		},
	}
}

func (c *cli) listCmd() *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a user's report jobs, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			jobs, err := c.app.Reports.ListUserReports(cmd.Context(), userID)
			if err != nil {
				return err
			}
			if len(jobs) == 0 && !c.jsonOutput {
				fmt.Fprintln(cmd.OutOrStdout(), "no reports")
				return nil
			}
			return c.printJobs(cmd.OutOrStdout(), jobs...)
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "owning user id")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func (c *cli) retryCmd() *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "retry <job-id>",
		Short: "Re-queue a failed report job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := c.app.Reports.RetryReport(cmd.Context(), args[0], userID)
			if err != nil {
				return err
			}
			return c.printJobs(cmd.OutOrStdout(), *job)
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "owning user id")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func (c *cli) sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one maintenance pass over stuck, abandoned and expired jobs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			res, err := c.app.Sweeper().RunOnce(cmd.Context())
			if err != nil {
				return err
			}
			if c.jsonOutput {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]int{
					"stuck":     res.Stuck,
					"abandoned": res.Abandoned,
					"expired":   res.Expired,
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "stuck=%d abandoned=%d expired=%d\n", res.Stuck, res.Abandoned, res.Expired)
			return nil
		},
	}
}

func (c *cli) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := c.app.Migrate(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
}
