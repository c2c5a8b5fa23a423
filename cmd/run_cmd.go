package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/kebairia/backupd/internal/logger"
	"github.com/kebairia/backupd/internal/operations"
	"github.com/spf13/cobra"
)

var noRetry bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one backup cycle now",
	RunE: func(cmd *cobra.Command, args []string) error {
		log, err := logger.Init(LogFormat)
		if err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		om, err := operations.NewOperationManager(ctx, ConfigFile, log)
		if err != nil {
			log.Error("startup failed", "config", ConfigFile, "error", err.Error())
			return err
		}

		runs, err := om.RunNow(ctx, !noRetry)
		last := runs[len(runs)-1]
		if err != nil {
			log.Error("backup failed", "attempts", len(runs), "error", err.Error())
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), last.Locator.URL)
		return nil
	},
}

func init() {
	runCmd.Flags().BoolVar(&noRetry, "no-retry", false, "run a single attempt without the delayed retry")
}
