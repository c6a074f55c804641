package cmd

import (
	"github.com/spf13/cobra"
)

func newShowConfigCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "show-config",
		Short: "Print the live scraper configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := opts.console()
			if err != nil {
				return err
			}
			cfg, err := c.client.ShowConfig(cmd.Context())
			if err != nil {
				return err
			}
			return c.printConfig(cfg)
		},
	}
}

func newSetConfigCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "set-config <field> <value>",
		Short: "Change one configuration field",
		Long: `Sets one field of the scraper configuration. Fields are categoryUrl,
cursor, historyIntervalSeconds, watcherIntervalSeconds, delayMin and delayMax.
The cursor can only move forward. Changes apply from the next run.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := opts.console()
			if err != nil {
				return err
			}
			cfg, err := c.client.SetConfig(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			return c.printConfig(cfg)
		},
	}
}
