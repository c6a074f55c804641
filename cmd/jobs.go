package cmd

import (
	"github.com/spf13/cobra"

	"github.com/JakeFAU/scrape-orchestrator/internal/scrape"
)

func newStopJobCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "stop-job <job-id>",
		Short: "Stop a running job",
		Long: `Marks the job stopped and frees its mode. The worker sees the stop on its
next poll; its final report is recorded as the stop confirmation.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.console()
			if err != nil {
				return err
			}
			job, err := c.client.StopJob(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return c.printJob(job)
		},
	}
}

func newJobsCmd(opts *options) *cobra.Command {
	var (
		rawMode   string
		rawStatus string
		limit     int
	)
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List recent jobs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			filter := scrape.JobFilter{Limit: limit}
			if rawMode != "" {
				mode, err := scrape.ParseMode(rawMode)
				if err != nil {
					return err
				}
				filter.Mode = mode
			}
			if rawStatus != "" {
				status, err := scrape.ParseStatus(rawStatus)
				if err != nil {
					return err
				}
				filter.Status = status
			}
			c, err := opts.console()
			if err != nil {
				return err
			}
			jobs, err := c.client.Jobs(cmd.Context(), filter)
			if err != nil {
				return err
			}
			return c.printJobs(jobs)
		},
	}
	cmd.Flags().StringVar(&rawMode, "mode", "", "only jobs of this mode")
	cmd.Flags().StringVar(&rawStatus, "status", "", "only jobs with this status")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of jobs")
	return cmd
}

func newJobCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "job <job-id>",
		Short: "Show one job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.console()
			if err != nil {
				return err
			}
			job, err := c.client.Job(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return c.printJob(job)
		},
	}
}

func newLogsCmd(opts *options) *cobra.Command {
	var follow bool
	cmd := &cobra.Command{
		Use:   "logs <job-id>",
		Short: "Print a job's log lines",
		Long: `Prints the job's stored log lines. With --follow it keeps printing new
lines until the job ends and exits like run-once --wait.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.console()
			if err != nil {
				return err
			}
			if follow {
				job, err := c.waitForJob(cmd.Context(), args[0], true)
				if err != nil {
					return err
				}
				if err := c.printJob(job); err != nil {
					return err
				}
				return exitForJob(job)
			}
			logs, err := c.client.Logs(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			for _, rec := range logs {
				c.printLog(rec)
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "stream new lines until the job ends")
	return cmd
}
