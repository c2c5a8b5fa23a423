package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/kebairia/backupd/internal/logger"
	"github.com/kebairia/backupd/internal/operations"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run backups on the configured schedule until interrupted",
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
		return om.Serve(ctx)
	},
}
