// Package commands implements the flowguard command-line interface.
package commands

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/telhawk-systems/flowguard/internal/config"
	"github.com/telhawk-systems/flowguard/internal/logging"
	"github.com/telhawk-systems/flowguard/internal/output"
)

var (
	cfgFile  string
	logLevel string
	noColor  bool

	cfg    *config.Config
	logger *slog.Logger
	out    *output.Printer
)

var rootCmd = &cobra.Command{
	Use:   "flowguard",
	Short: "FlowGuard log and KPI alerting pipeline",
	Long: `flowguard ingests service logs and metrics, aggregates KPIs, detects
anomalies and dispatches deduplicated alerts to Slack and email.

Run "flowguard serve" for the HTTP API and "flowguard worker" for the
pipeline workers consuming from NATS JetStream.`,
	Version:           "0.1.0",
	SilenceUsage:      true,
	PersistentPreRunE: initConfig,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override logging.level")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
}

func initConfig(cmd *cobra.Command, _ []string) error {
	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	l := logging.NewWithWriter(os.Stderr, logging.ParseLevel(cfg.Logging.Level), cfg.Logging.Format)
	logging.SetDefault(l)
	logger = l.Logger

	out = &output.Printer{Out: cmd.OutOrStdout(), Err: cmd.ErrOrStderr(), Color: !noColor}
	return nil
}
