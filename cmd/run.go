package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/scrape-orchestrator/internal/scrape"
)

// newRunOnceCmd creates the run-once command.
func newRunOnceCmd(opts *options) *cobra.Command {
	var wait, follow bool
	cmd := &cobra.Command{
		Use:   "run-once <history|watcher>",
		Short: "Dispatch one run of a mode now",
		Long: `Dispatches a single run of the given mode. Fails if that mode already has
a job in flight.

With --wait the command blocks until the job ends and exits 0 when it
completed, 1 when it failed, 3 when it was stopped and 4 when it stalled.
--follow also prints the job's log lines as they arrive.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, err := scrape.ParseMode(args[0])
			if err != nil {
				return err
			}
			c, err := opts.console()
			if err != nil {
				return err
			}
			run, err := c.client.RunOnce(cmd.Context(), mode)
			if err != nil {
				return err
			}
			c.logger.Debug("job dispatched", zap.String("job_id", run.JobID), zap.Int("page", run.Job.PageNum))
			if !wait && !follow {
				return c.printJob(run.Job)
			}
			if !c.json {
				fmt.Fprintf(c.out, "dispatched %s job %s for page %d\n", mode, run.JobID, run.Job.PageNum)
			}
			job, err := c.waitForJob(cmd.Context(), run.JobID, follow)
			if err != nil {
				return err
			}
			if err := c.printJob(job); err != nil {
				return err
			}
			return exitForJob(job)
		},
	}
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "block until the job ends")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "print log lines until the job ends (implies --wait)")
	return cmd
}

// waitForJob streams the job's logs until it ends, printing them when
// follow is set.
func (c *console) waitForJob(ctx context.Context, jobID string, follow bool) (scrape.Job, error) {
	var onLog func(scrape.LogRecord)
	if follow {
		onLog = c.printLog
	}
	return c.client.FollowLogs(ctx, jobID, onLog)
}

// exitForJob maps a terminal job onto the process exit code.
func exitForJob(job scrape.Job) error {
	switch {
	case job.Status == scrape.JobStatusCompleted:
		return nil
	case job.Status == scrape.JobStatusStopped:
		return &exitError{code: ExitStopped}
	case job.Status == scrape.JobStatusFailed && job.ErrorText == scrape.StallReason:
		return &exitError{code: ExitStalled}
	default:
		return &exitError{code: ExitFailed}
	}
}
