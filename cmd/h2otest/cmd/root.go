package cmd

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/h2oai/h2o-3-sub001/internal/config"
)

// RootCmd is the root Cobra command that gets called from the main func.
// All other sub-commands should be registered here.
func RootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "h2otest",
		Short: "h2otest runs a test tree against a pool of local compute clouds.",
		Long: `h2otest starts a pool of clouds, runs every selected test script against
a healthy cloud and writes per-test logs, summary.txt and failed.txt into the
results directory.

Any flag can also be set in a config file or in an H2OTEST_* environment
variable, e.g. H2OTEST_ACQUIRE_TIMEOUT=30m. The config file is passed with
--config; if not provided, $HOME/.h2otest.yaml is used when present.

Example config:
clouds: 4
nodes: 2
xmx: 4g
jar: build/h2o.jar
results-dir: results`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().String("config", "", "config file (default $HOME/.h2otest.yaml)")
	config.AddLogFlags(cmd.PersistentFlags())

	cmd.AddCommand(
		runCmd(),
		listCmd(),
		versionCmd(),
	)

	return cmd
}

// initParams resolves the configuration of cmd and builds the logger.
func initParams(cmd *cobra.Command) (config.Config, *logrus.Logger, error) {
	cfgFile, err := cmd.Flags().GetString("config")
	if err != nil {
		return config.Config{}, nil, err
	}

	cfg, err := config.Load(viper.New(), cmd.Flags(), cfgFile)
	if err != nil {
		return config.Config{}, nil, err
	}

	logger, err := config.NewLogger(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, logger, nil
}
