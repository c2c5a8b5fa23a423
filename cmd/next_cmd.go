package cmd

import (
	"fmt"
	"time"

	"github.com/kebairia/backupd/internal/config"
	"github.com/kebairia/backupd/internal/schedule"
	"github.com/spf13/cobra"
)

var nextCount int

var nextCmd = &cobra.Command{
	Use:   "next",
	Short: "Print the upcoming scheduled backup times",
	RunE: func(cmd *cobra.Command, args []string) error {
		var cfg config.Config
		if err := cfg.Load(ConfigFile); err != nil {
			return err
		}
		times, err := schedule.Upcoming(cfg.Schedule.Cron, cfg.Location(), time.Now(), nextCount)
		if err != nil {
			return err
		}
		for _, t := range times {
			fmt.Fprintln(cmd.OutOrStdout(), t.Format(time.RFC3339))
		}
		return nil
	},
}

func init() {
	nextCmd.Flags().IntVarP(&nextCount, "count", "n", 5, "number of fire times to print")
}
