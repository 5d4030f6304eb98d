// Package am loads and validates repost configuration ("I am").
package am

import "time"

// Config represents the complete repost configuration
type Config struct {
	Database    DatabaseConfig    `mapstructure:"database"`
	Server      ServerConfig      `mapstructure:"server"`
	Scheduler   SchedulerConfig   `mapstructure:"scheduler"`
	Captcha     CaptchaConfig     `mapstructure:"captcha"`
	Browser     BrowserConfig     `mapstructure:"browser"`
	Site        SiteConfig        `mapstructure:"site"`
	Diagnostics DiagnosticsConfig `mapstructure:"diagnostics"`
	Log         LogConfig         `mapstructure:"log"`
}

// DatabaseConfig selects the durable store for triggers and execution history.
// Driver "sqlite3" uses Path; driver "postgres" uses DSN.
type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`
	Path   string `mapstructure:"path"`
	DSN    string `mapstructure:"dsn"`
}

// ServerConfig configures the inbound schedule-events HTTP API
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// SchedulerConfig configures the recurring-job dispatcher
type SchedulerConfig struct {
	TickInterval      time.Duration `mapstructure:"tick_interval"`       // how often due triggers are checked
	MisfireGrace      time.Duration `mapstructure:"misfire_grace"`       // late firings within this window still run once
	MaxConcurrentRuns int           `mapstructure:"max_concurrent_runs"` // 0 = unbounded
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`    // wait for in-flight runs on stop
}

// CaptchaConfig configures every CAPTCHA resolution strategy
type CaptchaConfig struct {
	API    CaptchaAPIConfig    `mapstructure:"api"`
	Script CaptchaScriptConfig `mapstructure:"script"`
	Manual CaptchaManualConfig `mapstructure:"manual"`
	Budget CaptchaBudgetConfig `mapstructure:"budget"`
}

// CaptchaAPIConfig configures the remote solving service (2captcha protocol)
type CaptchaAPIConfig struct {
	Key              string        `mapstructure:"key"`
	SubmitURL        string        `mapstructure:"submit_url"`
	ResultURL        string        `mapstructure:"result_url"`
	PollInterval     time.Duration `mapstructure:"poll_interval"`
	MaxPolls         int           `mapstructure:"max_polls"`
	SubmitsPerMinute int           `mapstructure:"submits_per_minute"`
	RequestTimeout   time.Duration `mapstructure:"request_timeout"`
}

// CaptchaScriptConfig configures the local automated solver.
// An empty endpoint keeps the placeholder-token behaviour.
type CaptchaScriptConfig struct {
	Endpoint string `mapstructure:"endpoint"`
}

// CaptchaManualConfig configures the human-in-the-loop wait window
type CaptchaManualConfig struct {
	Wait time.Duration `mapstructure:"wait"`
}

// CaptchaBudgetConfig caps spend on the paid solving service over sliding
// windows. A zero limit is unlimited.
type CaptchaBudgetConfig struct {
	DailyUSD        float64 `mapstructure:"daily_usd"`
	WeeklyUSD       float64 `mapstructure:"weekly_usd"`
	MonthlyUSD      float64 `mapstructure:"monthly_usd"`
	CostPerSolveUSD float64 `mapstructure:"cost_per_solve_usd"`
}

// BrowserConfig configures the automation browser
type BrowserConfig struct {
	ExecPath     string `mapstructure:"exec_path"`
	ForceVisible bool   `mapstructure:"force_visible"`
	UserAgent    string `mapstructure:"user_agent"`
}

// SiteConfig describes the target classifieds site
type SiteConfig struct {
	LoginURL            string        `mapstructure:"login_url"`
	PostURL             string        `mapstructure:"post_url"`
	LoginSiteKey        string        `mapstructure:"login_site_key"`
	PostSiteKey         string        `mapstructure:"post_site_key"`
	LoginSuccessPattern string        `mapstructure:"login_success_pattern"`
	PostSuccessPattern  string        `mapstructure:"post_success_pattern"`
	LoginTimeout        time.Duration `mapstructure:"login_timeout"`
	PostTimeout         time.Duration `mapstructure:"post_timeout"`
	VisiblePause        time.Duration `mapstructure:"visible_pause"`
}

// DiagnosticsConfig configures where failure snapshots are written
type DiagnosticsConfig struct {
	Dir string `mapstructure:"dir"`
}

// LogConfig configures structured logging
type LogConfig struct {
	JSON  bool   `mapstructure:"json"`
	Level string `mapstructure:"level"`
}
