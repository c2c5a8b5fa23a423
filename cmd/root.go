package cmd

import (
	"os"

	"github.com/kebairia/backupd/internal/logger"
	"github.com/spf13/cobra"
)

var (
	// ConfigFile is the path to the YAML configuration.
	ConfigFile string
	// LogFormat selects the console or json encoder.
	LogFormat string

	// rootCmd is the base command for backupd.
	rootCmd = &cobra.Command{
		Use:   "backupd",
		Short: "Scheduled database backup daemon",
		Long: `backupd runs a database dump script on a cron cadence, uploads the
artifact to object storage and mails the operator the outcome. A failed
attempt is retried once after a fixed delay.`,
		SilenceUsage: true,
	}
)

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		logger.Cleanup()
		os.Exit(1)
	}
	logger.Cleanup()
}

func init() {
	rootCmd.PersistentFlags().
		StringVarP(&ConfigFile, "config", "c", "./configs/config.yaml", "path to YAML config file")
	rootCmd.PersistentFlags().
		StringVar(&LogFormat, "log-format", logger.FormatConsole, "log encoding: console or json")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(nextCmd)
}
