package commands

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/repost/pulse/schedule"
	"github.com/teranos/repost/sym"
)

// ExecutionsCmd shows run history for one schedule
var ExecutionsCmd = &cobra.Command{
	Use:     "executions <schedule-id>",
	Aliases: []string{"history"},
	Short:   sym.Pulse + " Show run history for a schedule",
	Long: `Show recent executions for a schedule, newest first.

Each fired slot records the stage a failed run stopped at and the path of
its diagnostic snapshot. Slots skipped because the previous run was still
in flight are listed with status "skipped".`,
	Args: cobra.ExactArgs(1),
	RunE: runExecutions,
}

func init() {
	ExecutionsCmd.Flags().IntP("limit", "n", 20, "Number of executions to show")
	ExecutionsCmd.Flags().BoolP("json", "j", false, "Output as JSON")
}

func runExecutions(cmd *cobra.Command, args []string) error {
	limit, _ := cmd.Flags().GetInt("limit")
	asJSON, _ := cmd.Flags().GetBool("json")

	return withScheduler(func(ctx context.Context, s *schedule.Scheduler) error {
		execs, err := s.ListExecutions(ctx, args[0], limit)
		if err != nil {
			return err
		}
		if asJSON {
			out, err := json.MarshalIndent(execs, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		}
		if len(execs) == 0 {
			pterm.Info.Printfln("No executions recorded for %s", args[0])
			return nil
		}

		data := pterm.TableData{{"Started", "Slot", "Status", "Stage", "Duration", "Error", "Artifact"}}
		for _, e := range execs {
			data = append(data, []string{
				formatTime(e.StartedAt),
				formatTime(e.ScheduledFor),
				statusStyle(e.Status),
				e.Stage,
				formatDurationMs(e.DurationMs),
				truncate(e.ErrorMessage, 48),
				e.Artifact,
			})
		}
		return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
	})
}

func statusStyle(status string) string {
	switch status {
	case schedule.ExecutionStatusCompleted:
		return pterm.FgGreen.Sprint(status)
	case schedule.ExecutionStatusFailed:
		return pterm.FgRed.Sprint(status)
	case schedule.ExecutionStatusSkipped:
		return pterm.FgYellow.Sprint(status)
	default:
		return status
	}
}
