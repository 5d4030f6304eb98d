package am

import (
	"strings"

	"github.com/teranos/repost/errors"
)

// Validate checks that the configuration is usable.
// Every problem is reported, not just the first.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...interface{}) {
		problems = append(problems, errors.Newf(format, args...).Error())
	}

	switch c.Database.Driver {
	case "sqlite3":
		if c.Database.Path == "" {
			add("database.path is required for driver sqlite3")
		}
	case "postgres":
		if c.Database.DSN == "" {
			add("database.dsn is required for driver postgres")
		}
	default:
		add("database.driver must be sqlite3 or postgres, got %q", c.Database.Driver)
	}

	if c.Scheduler.TickInterval <= 0 {
		add("scheduler.tick_interval must be > 0, got %s", c.Scheduler.TickInterval)
	}
	if c.Scheduler.MisfireGrace < 0 {
		add("scheduler.misfire_grace must be >= 0, got %s", c.Scheduler.MisfireGrace)
	}
	if c.Scheduler.MaxConcurrentRuns < 0 {
		add("scheduler.max_concurrent_runs must be >= 0, got %d", c.Scheduler.MaxConcurrentRuns)
	}

	if c.Captcha.API.PollInterval <= 0 {
		add("captcha.api.poll_interval must be > 0, got %s", c.Captcha.API.PollInterval)
	}
	if c.Captcha.API.MaxPolls <= 0 {
		add("captcha.api.max_polls must be > 0, got %d", c.Captcha.API.MaxPolls)
	}
	if c.Captcha.API.SubmitsPerMinute < 0 {
		add("captcha.api.submits_per_minute must be >= 0, got %d", c.Captcha.API.SubmitsPerMinute)
	}
	if b := c.Captcha.Budget; b.DailyUSD < 0 || b.WeeklyUSD < 0 || b.MonthlyUSD < 0 || b.CostPerSolveUSD < 0 {
		add("captcha.budget limits and cost_per_solve_usd must be >= 0")
	}
	if c.Captcha.Manual.Wait < 0 {
		add("captcha.manual.wait must be >= 0, got %s", c.Captcha.Manual.Wait)
	}

	if c.Site.LoginURL == "" || c.Site.PostURL == "" {
		add("site.login_url and site.post_url are required")
	}
	if c.Site.LoginTimeout <= 0 || c.Site.PostTimeout <= 0 {
		add("site.login_timeout and site.post_timeout must be > 0")
	}

	if len(problems) == 0 {
		return nil
	}
	return errors.NewInvalidRequestError("invalid configuration: %s", strings.Join(problems, "; "))
}
