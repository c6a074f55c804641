package cmd

import (
	"github.com/spf13/cobra"

	"github.com/JakeFAU/scrape-orchestrator/internal/api"
	"github.com/JakeFAU/scrape-orchestrator/internal/scrape"
)

func newStartLoopCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "start-loop <history|watcher>",
		Short: "Arm a mode's loop",
		Long: `Arms the loop for a mode. The loop fires once immediately and then every
configured interval. A tick that finds the mode busy is skipped.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return loopCommand(cmd, opts, args[0], func(c *console, mode scrape.JobMode) (api.LoopView, error) {
				return c.client.StartLoop(cmd.Context(), mode)
			})
		},
	}
}

func newStopLoopCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "stop-loop <history|watcher>",
		Short: "Disarm a mode's loop",
		Long:  `Disarms the loop for a mode. A job already in flight keeps running.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return loopCommand(cmd, opts, args[0], func(c *console, mode scrape.JobMode) (api.LoopView, error) {
				return c.client.StopLoop(cmd.Context(), mode)
			})
		},
	}
}

func loopCommand(
	_ *cobra.Command,
	opts *options,
	rawMode string,
	call func(*console, scrape.JobMode) (api.LoopView, error),
) error {
	mode, err := scrape.ParseMode(rawMode)
	if err != nil {
		return err
	}
	c, err := opts.console()
	if err != nil {
		return err
	}
	view, err := call(c, mode)
	if err != nil {
		return err
	}
	return c.printLoops([]api.LoopView{view})
}

func newLoopsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "loops",
		Short: "Show both loops",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := opts.console()
			if err != nil {
				return err
			}
			loops, err := c.client.Loops(cmd.Context())
			if err != nil {
				return err
			}
			return c.printLoops(loops)
		},
	}
}
