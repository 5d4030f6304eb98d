package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/teranos/repost/cmd/repost/commands"
	"github.com/teranos/repost/logger"
)

var rootCmd = &cobra.Command{
	Use:   "repost",
	Short: "repost - Scheduled classified-ad republishing",
	Long: `repost - Scheduled classified-ad republishing.

repost logs into a classifieds site with a headless browser, solves the
CAPTCHA with the strategy configured on each account, and submits a listing
on a fixed interval.

Available commands:
  serve      - Run the scheduler and the schedule-events HTTP API
  schedule   - Install, pause, resume and remove republish schedules
  executions - Show run history for a schedule
  post       - Publish a listing once, without scheduling
  budget     - Show CAPTCHA solving spend
  am         - Manage repost configuration ("I am")
  db         - Manage the trigger database
  version    - Show build information

Examples:
  repost am init                    # Write a starter am.toml
  repost serve -v                   # Run the daemon with progress logs
  repost schedule set S1 --every 12h --file job.json
  repost schedule ls                # List schedules
  repost post --file job.json --visible`,
	SilenceUsage:      true,
	PersistentPreRunE: commands.Setup,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Cleanup()
	},
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (repeat for more detail: -v, -vv)")
	rootCmd.PersistentFlags().StringP("config", "c", "", "Config file (default: am.toml cascade)")
	rootCmd.PersistentFlags().Bool("json-logs", false, "Emit JSON logs instead of console output")

	rootCmd.AddCommand(commands.ServeCmd)
	rootCmd.AddCommand(commands.ScheduleCmd)
	rootCmd.AddCommand(commands.ExecutionsCmd)
	rootCmd.AddCommand(commands.PostCmd)
	rootCmd.AddCommand(commands.BudgetCmd)
	rootCmd.AddCommand(commands.AmCmd)
	rootCmd.AddCommand(commands.DbCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
