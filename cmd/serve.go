package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/scrape-orchestrator/internal/config"
	"github.com/JakeFAU/scrape-orchestrator/internal/logging"
	"github.com/JakeFAU/scrape-orchestrator/internal/server"
)

// newServeCmd creates the command that runs the service until SIGINT or
// SIGTERM.
func newServeCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the orchestrator service",
		Long: `Loads configuration from --config, SCRAPER_* environment variables and
.env files, then serves the HTTP API and runs both loops until interrupted.
Loops start disarmed; arm them with start-loop.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(cfg.Logging.Development)
			if err != nil {
				return fmt.Errorf("logger init failed: %w", err)
			}
			zap.ReplaceGlobals(logger)

			app, err := server.Build(cmd.Context(), &cfg, logger)
			if err != nil {
				logger.Error("build failed", zap.Error(err))
				return err
			}
			return app.Run(cmd.Context())
		},
	}
}
