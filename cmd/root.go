// Package cmd defines the CLI for the scrape orchestrator: the serve command
// that runs the service, and the operator console commands that drive it.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/JakeFAU/scrape-orchestrator/internal/client"
	"github.com/JakeFAU/scrape-orchestrator/internal/config"
	"github.com/JakeFAU/scrape-orchestrator/internal/logging"
)

// Process exit codes. A waited run maps its job's terminal status onto them.
const (
	ExitOK      = 0
	ExitFailed  = 1
	ExitStopped = 3
	ExitStalled = 4
)

const defaultServerURL = "http://localhost:8080"

// exitError carries a non-zero exit code out of a command without printing
// an error message.
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

// options holds the persistent flags shared by every command.
type options struct {
	configPath string
	verbose    bool
	json       bool
	timeout    time.Duration

	// server and apiKey are resolved through viper so they can also come
	// from SCRAPER_SERVER_URL and SCRAPER_AUTH_API_KEY.
	v *viper.Viper

	out    io.Writer
	errOut io.Writer
}

// console is what the operator commands work with.
type console struct {
	client *client.Client
	logger *zap.Logger
	out    io.Writer
	json   bool
}

func (o *options) console() (*console, error) {
	logger, err := logging.NewConsole(o.verbose)
	if err != nil {
		return nil, err
	}
	serverURL := o.v.GetString("server_url")
	c, err := client.New(client.Config{
		BaseURL: serverURL,
		APIKey:  o.v.GetString("api_key"),
		Timeout: o.timeout,
	})
	if err != nil {
		return nil, err
	}
	logger.Debug("using server", zap.String("url", serverURL))
	return &console{client: c, logger: logger, out: o.out, json: o.json}, nil
}

// newRootCmd creates the root command with every subcommand attached.
func newRootCmd(out, errOut io.Writer) *cobra.Command {
	opts := &options{v: viper.New(), out: out, errOut: errOut}

	cmd := &cobra.Command{
		Use:   "scrape-orchestrator",
		Short: "Schedules and supervises paginated category scrapes.",
		Long: `scrape-orchestrator keeps a cursor over a paginated product category and
drives an external scraping worker through two loops: history, which walks
older pages one run at a time, and watcher, which re-reads the newest page.

Run "serve" to start the service. Every other command talks to a running
service over HTTP.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			// Console commands read SCRAPER_* variables from .env files too.
			if err := config.LoadDotEnv(); err != nil {
				fmt.Fprintf(errOut, "warning: %v\n", err)
			}
		},
	}
	cmd.SetOut(out)
	cmd.SetErr(errOut)

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "config file for serve (yaml, json or toml)")
	flags.String("server", defaultServerURL, "base URL of a running service (env SCRAPER_SERVER_URL)")
	flags.String("api-key", "", "operator API key (env SCRAPER_AUTH_API_KEY)")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "log debug output to stderr")
	flags.BoolVar(&opts.json, "json", false, "print JSON instead of tables")
	flags.DurationVar(&opts.timeout, "timeout", 30*time.Second, "per-request timeout")

	_ = opts.v.BindPFlag("server_url", flags.Lookup("server"))
	_ = opts.v.BindPFlag("api_key", flags.Lookup("api-key"))
	_ = opts.v.BindEnv("server_url", config.EnvPrefix+"_SERVER_URL")
	_ = opts.v.BindEnv("api_key", config.EnvPrefix+"_AUTH_API_KEY")

	cmd.AddCommand(
		newServeCmd(opts),
		newRunOnceCmd(opts),
		newStartLoopCmd(opts),
		newStopLoopCmd(opts),
		newLoopsCmd(opts),
		newStopJobCmd(opts),
		newJobsCmd(opts),
		newJobCmd(opts),
		newLogsCmd(opts),
		newShowConfigCmd(opts),
		newSetConfigCmd(opts),
	)
	return cmd
}

// Run executes the CLI with args and returns the process exit code.
func Run(ctx context.Context, args []string, out, errOut io.Writer) int {
	root := newRootCmd(out, errOut)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if err == nil {
		return ExitOK
	}
	var exit *exitError
	if errors.As(err, &exit) {
		return exit.code
	}
	fmt.Fprintf(errOut, "error: %v\n", err)
	return ExitFailed
}

// Execute is the main entry point.
func Execute() {
	os.Exit(Run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}
