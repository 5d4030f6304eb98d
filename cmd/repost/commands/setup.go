// Package commands implements the repost CLI.
package commands

import (
	"database/sql"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/teranos/repost/am"
	"github.com/teranos/repost/browser"
	"github.com/teranos/repost/db"
	"github.com/teranos/repost/errors"
	"github.com/teranos/repost/logger"
	"github.com/teranos/repost/pulse/budget"
	"github.com/teranos/repost/pulse/captcha"
	"github.com/teranos/repost/pulse/posting"
	"github.com/teranos/repost/pulse/schedule"
)

// cfg is loaded once per invocation by Setup
var cfg *am.Config

// Setup loads configuration and initializes the global logger.
// -v flags override log.level; without them the configured level applies.
func Setup(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("config")
	verbosity, _ := cmd.Flags().GetCount("verbose")
	jsonLogs, _ := cmd.Flags().GetBool("json-logs")

	var err error
	if path != "" {
		cfg, err = am.LoadFromFile(path)
	} else {
		cfg, err = am.Load()
	}
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}

	level := cfg.Log.Level
	if verbosity > 0 {
		level = logger.VerbosityToLevel(verbosity).String()
	}
	if err := logger.Initialize(jsonLogs || cfg.Log.JSON, level); err != nil {
		return errors.Wrap(err, "failed to initialize logger")
	}
	return nil
}

// openDatabase opens and migrates the configured trigger database
func openDatabase(log *zap.SugaredLogger) (*sql.DB, db.Dialect, error) {
	dialect, err := db.DialectFor(cfg.Database.Driver)
	if err != nil {
		return nil, "", err
	}
	source := cfg.Database.Path
	if dialect == db.Postgres {
		source = cfg.Database.DSN
	}
	conn, dialect, err := db.OpenWithMigrations(cfg.Database.Driver, source, log)
	if err != nil {
		return nil, "", errors.Wrapf(err, "failed to open %s database", cfg.Database.Driver)
	}
	return conn, dialect, nil
}

// openScheduler builds a scheduler over the configured database without
// starting it. CLI edits go straight to the trigger store; a running
// daemon picks them up on its next tick.
func openScheduler(runner schedule.Runner) (*schedule.Scheduler, func(), error) {
	log := logger.Logger
	conn, dialect, err := openDatabase(log)
	if err != nil {
		return nil, nil, err
	}
	sched := schedule.NewScheduler(
		schedule.NewStore(conn, dialect),
		runner,
		schedule.ConfigFromAM(cfg.Scheduler),
		log,
		schedule.WithExecutionStore(schedule.NewExecutionStore(conn, dialect)),
	)
	return sched, func() { conn.Close() }, nil
}

// newSpendTracker meters paid CAPTCHA solves in the trigger database
func newSpendTracker(conn *sql.DB, dialect db.Dialect, log *zap.SugaredLogger) *budget.Tracker {
	return budget.NewTracker(
		budget.NewStore(conn, dialect),
		budget.ConfigFromAM(cfg.Captcha.Budget),
		clockwork.NewRealClock(),
		log,
	)
}

// newWorkflow wires the posting workflow to Chrome and the configured
// CAPTCHA strategies
func newWorkflow(log *zap.SugaredLogger, forceVisible bool, spend captcha.SpendGuard) *posting.Workflow {
	clock := clockwork.NewRealClock()
	return posting.NewWorkflow(
		browser.NewLauncher(cfg.Browser, log),
		captcha.NewFactoryFromConfig(cfg.Captcha, clock, log, captcha.WithSpendGuard(spend)),
		posting.SiteFromConfig(cfg.Site),
		posting.WithClock(clock),
		posting.WithLogger(log),
		posting.WithDiagnosticsDir(cfg.Diagnostics.Dir),
		posting.WithForceVisible(forceVisible || cfg.Browser.ForceVisible),
	)
}
