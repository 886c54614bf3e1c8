package client

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/spf13/cobra"
)

// NewJobsCommand constructs the `jobs` command group.
func NewJobsCommand(baseURL BaseURLFunc) *cobra.Command {
	jobsCmd := &cobra.Command{
		Use:   "jobs",
		Short: "Durable queue operations",
		Long: `Inspect and repair jobs in the durable queue.

Job Lifecycle:
  waiting → [claim] → active → [ack] → completed
                         ↓ (nack)
                      retrying → [claim] → active
                         ↓ (attempts exhausted)
                       failed → [requeue] → waiting`,
	}
	jobsCmd.AddCommand(
		newJobsStatsCommand(baseURL),
		newJobsFailedCommand(baseURL),
		newJobsGetCommand(baseURL),
		newJobsRequeueCommand(baseURL),
	)
	return jobsCmd
}

func newJobsStatsCommand(baseURL BaseURLFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Count jobs per state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var stats map[string]int
			if err := call(cmd.Context(), baseURL, "GET", "/v1/jobs/stats", nil, &stats); err != nil {
				return err
			}
			return printJSON(cmd, stats)
		},
	}
}

func newJobsFailedCommand(baseURL BaseURLFunc) *cobra.Command {
	failedCmd := &cobra.Command{
		Use:   "failed",
		Short: "List terminally failed jobs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			var data struct {
				Jobs []map[string]any `json:"jobs"`
			}
			path := "/v1/jobs/failed?limit=" + strconv.Itoa(limit)
			if err := call(cmd.Context(), baseURL, "GET", path, nil, &data); err != nil {
				return err
			}
			return printJSON(cmd, data)
		},
	}
	failedCmd.Flags().Int("limit", 100, "Maximum jobs to list")
	return failedCmd
}

func newJobsGetCommand(baseURL BaseURLFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "get JOB_ID",
		Short: "Show one job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var job map[string]any
			if err := call(cmd.Context(), baseURL, "GET", "/v1/jobs/get?id="+url.QueryEscape(args[0]), nil, &job); err != nil {
				return err
			}
			return printJSON(cmd, job)
		},
	}
}

func newJobsRequeueCommand(baseURL BaseURLFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "requeue JOB_ID...",
		Short: "Move failed jobs back to waiting",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, id := range args {
				if err := call(cmd.Context(), baseURL, "POST", "/v1/jobs/requeue", map[string]string{"id": id}, nil); err != nil {
					return fmt.Errorf("requeue %s: %w", id, err)
				}
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "requeued:", id)
			}
			return nil
		},
	}
}
