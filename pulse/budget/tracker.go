package budget

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/teranos/repost/am"
	"github.com/teranos/repost/errors"
	"github.com/teranos/repost/logger"
)

// ErrBudgetExceeded is returned by Allow when a paid solve would cross a limit
var ErrBudgetExceeded = errors.Mark(errors.New("captcha budget exceeded"), errors.ErrServiceUnavailable)

// Sliding window lengths
const (
	Day   = 24 * time.Hour
	Week  = 7 * Day
	Month = 30 * Day
)

// Config contains spend limits in USD. A zero limit is unlimited.
type Config struct {
	DailyUSD        float64
	WeeklyUSD       float64
	MonthlyUSD      float64
	CostPerSolveUSD float64
}

// ConfigFromAM adapts the captcha.budget section
func ConfigFromAM(cfg am.CaptchaBudgetConfig) Config {
	return Config{
		DailyUSD:        cfg.DailyUSD,
		WeeklyUSD:       cfg.WeeklyUSD,
		MonthlyUSD:      cfg.MonthlyUSD,
		CostPerSolveUSD: cfg.CostPerSolveUSD,
	}
}

// Status is spend per window. Remaining is negative once a limit is crossed
// and zero for unlimited windows.
type Status struct {
	DailySpend       float64 `json:"daily_spend_usd"`
	WeeklySpend      float64 `json:"weekly_spend_usd"`
	MonthlySpend     float64 `json:"monthly_spend_usd"`
	DailyRemaining   float64 `json:"daily_remaining_usd"`
	WeeklyRemaining  float64 `json:"weekly_remaining_usd"`
	MonthlyRemaining float64 `json:"monthly_remaining_usd"`
	DailyOps         int     `json:"daily_solves"`
	WeeklyOps        int     `json:"weekly_solves"`
	MonthlyOps       int     `json:"monthly_solves"`
}

// Tracker enforces the spend limits. Safe for concurrent use; two solves
// checked at the same instant may both pass, so a limit can be overshot by
// at most the number of concurrent runs times CostPerSolveUSD.
type Tracker struct {
	store *Store
	clock clockwork.Clock
	log   *zap.SugaredLogger

	config Config
}

// NewTracker creates a tracker over store
func NewTracker(store *Store, config Config, clock clockwork.Clock, log *zap.SugaredLogger) *Tracker {
	return &Tracker{
		store:  store,
		config: config,
		clock:  clock,
		log:    logger.AddCaptchaSymbol(log),
	}
}

// Status reads spend for the three windows ending now
func (t *Tracker) Status(ctx context.Context) (*Status, error) {
	now := t.clock.Now()

	dailySpend, dailyOps, err := t.store.SpendSince(ctx, now.Add(-Day))
	if err != nil {
		return nil, errors.Wrap(err, "daily spend")
	}
	weeklySpend, weeklyOps, err := t.store.SpendSince(ctx, now.Add(-Week))
	if err != nil {
		return nil, errors.Wrap(err, "weekly spend")
	}
	monthlySpend, monthlyOps, err := t.store.SpendSince(ctx, now.Add(-Month))
	if err != nil {
		return nil, errors.Wrap(err, "monthly spend")
	}

	cfg := t.Limits()
	return &Status{
		DailySpend:       dailySpend,
		WeeklySpend:      weeklySpend,
		MonthlySpend:     monthlySpend,
		DailyRemaining:   remaining(cfg.DailyUSD, dailySpend),
		WeeklyRemaining:  remaining(cfg.WeeklyUSD, weeklySpend),
		MonthlyRemaining: remaining(cfg.MonthlyUSD, monthlySpend),
		DailyOps:         dailyOps,
		WeeklyOps:        weeklyOps,
		MonthlyOps:       monthlyOps,
	}, nil
}

func remaining(limit, spend float64) float64 {
	if limit <= 0 {
		return 0
	}
	return limit - spend
}

// Allow reports whether one more solve fits every configured window.
// With no limits configured the store is never queried.
func (t *Tracker) Allow(ctx context.Context) error {
	cfg := t.Limits()
	if cfg.DailyUSD <= 0 && cfg.WeeklyUSD <= 0 && cfg.MonthlyUSD <= 0 {
		return nil
	}

	status, err := t.Status(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to get budget status")
	}

	cost := cfg.CostPerSolveUSD
	for _, w := range []struct {
		name         string
		spend, limit float64
	}{
		{"daily", status.DailySpend, cfg.DailyUSD},
		{"weekly", status.WeeklySpend, cfg.WeeklyUSD},
		{"monthly", status.MonthlySpend, cfg.MonthlyUSD},
	} {
		if w.limit > 0 && w.spend+cost > w.limit {
			t.log.Warnw("CAPTCHA budget exhausted",
				"window", w.name,
				"spend_usd", w.spend,
				"limit_usd", w.limit)
			return errors.WithDetailf(
				errors.Wrapf(ErrBudgetExceeded, "%s: current $%.3f + $%.3f > limit $%.2f", w.name, w.spend, cost, w.limit),
				"window=%s", w.name)
		}
	}
	return nil
}

// Record stores one paid solve at the configured unit cost
func (t *Tracker) Record(ctx context.Context, strategy string) error {
	return t.store.RecordUsage(ctx, strategy, t.Limits().CostPerSolveUSD, t.clock.Now())
}

// Limits returns the current configuration
func (t *Tracker) Limits() Config {
	return t.config
}
