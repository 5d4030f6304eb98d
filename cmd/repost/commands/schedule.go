package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/repost/errors"
	"github.com/teranos/repost/pulse/posting"
	"github.com/teranos/repost/pulse/schedule"
	"github.com/teranos/repost/sym"
)

// ScheduleCmd groups schedule management commands
var ScheduleCmd = &cobra.Command{
	Use:     "schedule",
	Aliases: []string{"sched"},
	Short:   sym.Pulse + " Manage republish schedules",
	Long: sym.Pulse + ` Manage republish schedules.

Schedules are written to the trigger database directly. A running
'repost serve' picks changes up on its next tick.

Examples:
  repost schedule set S1 --every 12h --file job.json
  repost schedule pause S1
  repost schedule resume S1      # re-anchors at now
  repost schedule rm S1
  repost schedule ls`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var scheduleSetCmd = &cobra.Command{
	Use:   "set <id>",
	Short: "Install or replace a schedule",
	Long: `Install or replace the schedule <id>. The first run is one interval from now.

The interval accepts Go durations (12h), whole hours (24), @every 12h,
@hourly, @daily and @weekly. --every overrides an interval in the job file.`,
	Args: cobra.ExactArgs(1),
	RunE: runScheduleSet,
}

var scheduleRmCmd = &cobra.Command{
	Use:     "rm <id>",
	Aliases: []string{"remove"},
	Short:   "Remove a schedule (unknown ids are ignored)",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withScheduler(func(ctx context.Context, s *schedule.Scheduler) error {
			if err := s.Remove(ctx, args[0]); err != nil {
				return err
			}
			pterm.Success.Printfln("Removed schedule %s", args[0])
			return nil
		})
	},
}

var schedulePauseCmd = &cobra.Command{
	Use:   "pause <id>",
	Short: "Stop firing a schedule without deleting it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setActive(args[0], false)
	},
}

var scheduleResumeCmd = &cobra.Command{
	Use:   "resume <id>",
	Short: "Resume a paused schedule, anchored at now",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setActive(args[0], true)
	},
}

var scheduleLsCmd = &cobra.Command{
	Use:     "ls",
	Aliases: []string{"list"},
	Short:   "List schedules",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withScheduler(func(ctx context.Context, s *schedule.Scheduler) error {
			jobs, err := s.List(ctx)
			if err != nil {
				return err
			}
			if len(jobs) == 0 {
				pterm.Info.Println("No schedules installed")
				return nil
			}
			return pterm.DefaultTable.WithHasHeader().WithData(scheduleTable(jobs)).Render()
		})
	},
}

func init() {
	scheduleSetCmd.Flags().StringP("file", "f", "", "Job file with credential and listing (JSON)")
	scheduleSetCmd.Flags().String("every", "", "Republish interval")
	scheduleSetCmd.Flags().Bool("paused", false, "Install the schedule paused")
	_ = scheduleSetCmd.MarkFlagRequired("file")

	ScheduleCmd.AddCommand(scheduleSetCmd)
	ScheduleCmd.AddCommand(scheduleRmCmd)
	ScheduleCmd.AddCommand(schedulePauseCmd)
	ScheduleCmd.AddCommand(scheduleResumeCmd)
	ScheduleCmd.AddCommand(scheduleLsCmd)
}

func runScheduleSet(cmd *cobra.Command, args []string) error {
	id := args[0]
	path, _ := cmd.Flags().GetString("file")
	every, _ := cmd.Flags().GetString("every")
	paused, _ := cmd.Flags().GetBool("paused")

	jf, err := readJobFile(path)
	if err != nil {
		return err
	}
	if every == "" {
		every = jf.Interval
	}
	if every == "" {
		return errors.New("an interval is required: pass --every or set \"interval\" in the job file")
	}
	interval, err := schedule.ParseInterval(every)
	if err != nil {
		return err
	}

	return withScheduler(func(ctx context.Context, s *schedule.Scheduler) error {
		if err := s.Install(ctx, id, interval, jf.Credential, jf.Listing, !paused); err != nil {
			return err
		}
		job, err := s.Get(ctx, id)
		if err != nil {
			return err
		}
		pterm.Success.Printfln("Schedule %s every %s for %s, next run %s",
			id, interval, jf.Credential, formatTime(job.NextRunAt))
		return nil
	})
}

func setActive(id string, active bool) error {
	return withScheduler(func(ctx context.Context, s *schedule.Scheduler) error {
		if err := s.SetActive(ctx, id, active); err != nil {
			return err
		}
		job, err := s.Get(ctx, id)
		if err != nil {
			return err
		}
		if active {
			pterm.Success.Printfln("Resumed %s, next run %s", id, formatTime(job.NextRunAt))
		} else {
			pterm.Success.Printfln("Paused %s", id)
		}
		return nil
	})
}

// withScheduler runs fn against an unstarted scheduler over the configured database
func withScheduler(fn func(context.Context, *schedule.Scheduler) error) error {
	s, closeDB, err := openScheduler(schedule.RunnerFunc(noRun))
	if err != nil {
		return err
	}
	defer closeDB()
	return fn(context.Background(), s)
}

// noRun backs CLI schedulers, which never start and so never fire
func noRun(ctx context.Context, cred posting.Credential, listing posting.Listing) posting.Outcome {
	return posting.Outcome{Err: errors.New("schedule commands do not run jobs")}
}

func scheduleTable(jobs []*schedule.Job) pterm.TableData {
	data := pterm.TableData{{"ID", "State", "Every", "Account", "Title", "Next run", "Last run", "Last success"}}
	for _, j := range jobs {
		data = append(data, []string{
			j.ID,
			j.State,
			j.Interval.String(),
			j.Credential.String(),
			truncate(j.Listing.Title, 32),
			formatTime(j.NextRunAt),
			formatTimePtr(j.LastRunAt),
			formatTimePtr(j.LastSuccessAt),
		})
	}
	return data
}

func formatTime(t time.Time) string {
	return t.Local().Format("2006-01-02 15:04:05")
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return formatTime(*t)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func formatDurationMs(ms *int64) string {
	if ms == nil {
		return "-"
	}
	return fmt.Sprint((time.Duration(*ms) * time.Millisecond).Round(time.Second))
}
