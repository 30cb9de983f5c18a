package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/marmos91/dittomover/internal/logger"
	"github.com/marmos91/dittomover/pkg/config"
)

// Build information, set with -ldflags "-X".
var (
	Version = "dev"
	Commit  = "none"
)

type rootOptions struct {
	configPath string
	logLevel   string
}

// newRootCmd builds the command tree. Every call returns fresh commands and
// flag state.
func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	rootCmd := &cobra.Command{
		Use:   "dittomover",
		Short: "dittomover moves data from an incoming directory to a target",
		Long: `dittomover watches an incoming directory and moves every item that has
been quiet long enough through a local buffer into a filesystem or S3 target.

Items that keep failing are quarantined in a faulty paths file, interrupted
transfers are resumed after a restart and a persistent queue keeps the order
of outgoing items across crashes.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if opts.logLevel != "" {
				logger.SetLevel(opts.logLevel)
			}
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", fmt.Sprintf("Config file (default %s)", config.GetDefaultConfigPath()))
	flags.StringVar(&opts.logLevel, "log-level", "", "Override the configured log level (DEBUG, INFO, WARN, ERROR)")

	rootCmd.AddCommand(
		newRunCmd(opts),
		newInitCmd(),
		newTemplateCmd(),
		newPasswdCmd(),
		newChecksumCmd(),
		newQueueCmd(),
		newFaultyCmd(),
		newScheduleCmd(),
		newVersionCmd(),
	)
	return rootCmd
}

// Execute runs the command line. It is called by main.main().
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// loadConfig loads the configuration named by --config, or the default one,
// and applies --log-level on top of it.
func loadConfig(opts *rootOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}
	return cfg, nil
}
