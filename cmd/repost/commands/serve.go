package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/teranos/repost/errors"
	"github.com/teranos/repost/logger"
	"github.com/teranos/repost/pulse/schedule"
	"github.com/teranos/repost/server"
	"github.com/teranos/repost/sym"
)

// ServeCmd runs the scheduler daemon and the schedule-events API
var ServeCmd = &cobra.Command{
	Use:   "serve",
	Short: sym.Pulse + " Run the scheduler and HTTP API",
	Long: sym.Pulse + ` Run the republish daemon in the foreground.

The daemon will:
- Recover persisted schedules and fire any slot missed within the grace window once
- Dispatch due schedules to the posting workflow
- Serve the schedule-events API on server.addr
- Run until interrupted (Ctrl+C) with GRACE shutdown, waiting for in-flight runs`,
	RunE: runServe,
}

func init() {
	ServeCmd.Flags().String("addr", "", "Listen address (overrides server.addr)")
	ServeCmd.Flags().Bool("visible", false, "Run every browser session non-headless")
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		cfg.Server.Addr = addr
	}
	visible, _ := cmd.Flags().GetBool("visible")
	log := logger.Logger

	conn, dialect, err := openDatabase(log)
	if err != nil {
		return err
	}
	defer conn.Close()

	spend := newSpendTracker(conn, dialect, log)
	workflow := newWorkflow(log, visible, spend)
	sched := schedule.NewScheduler(
		schedule.NewStore(conn, dialect),
		workflow,
		schedule.ConfigFromAM(cfg.Scheduler),
		log,
		schedule.WithExecutionStore(schedule.NewExecutionStore(conn, dialect)),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := sched.Start(ctx); err != nil {
		return errors.Wrap(err, "start scheduler")
	}

	api := server.New(cfg.Server, sched, log, server.WithBudget(spend))
	serveErr := make(chan error, 1)
	go func() { serveErr <- api.ListenAndServe() }()

	fmt.Printf("%s repost daemon started\n", sym.Pulse)
	fmt.Printf("  API: http://%s/api\n", cfg.Server.Addr)
	fmt.Printf("  Database: %s\n", dialect)
	fmt.Printf("  Tick interval: %v\n", cfg.Scheduler.TickInterval)
	fmt.Printf("\n%s Press Ctrl+C for graceful shutdown\n\n", sym.Pulse)

	select {
	case <-ctx.Done():
	case err = <-serveErr:
		if err != nil {
			log.Errorw("HTTP API failed", logger.FieldError, err)
		}
	}

	fmt.Printf("\n%s Initiating GRACE shutdown...\n", sym.PulseClose)

	// Stop accepting schedule edits before waiting on runs
	httpCtx, cancelHTTP := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancelHTTP()
	if shutdownErr := api.Shutdown(httpCtx); shutdownErr != nil {
		log.Warnw("HTTP API shutdown incomplete", logger.FieldError, shutdownErr)
	}

	schedCtx, cancelSched := context.WithTimeout(context.Background(), cfg.Scheduler.ShutdownTimeout)
	defer cancelSched()
	if stopErr := sched.Stop(schedCtx); stopErr != nil {
		log.Warnw("Scheduler stopped with runs cancelled", logger.FieldError, stopErr)
	}

	fmt.Printf("%s repost daemon stopped\n", sym.PulseClose)
	return err
}
