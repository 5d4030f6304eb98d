package am

import (
	"os"
	"sort"
	"time"

	"github.com/spf13/viper"
)

// DefaultDirPermissions is used for ~/.repost and the diagnostics directory
const DefaultDirPermissions = 0o755

// Default API endpoints of the 2captcha-compatible solving service
const (
	DefaultCaptchaSubmitURL = "http://2captcha.com/in.php"
	DefaultCaptchaResultURL = "http://2captcha.com/res.php"
)

// defaultValues is the single source of defaults, keyed by dotted config path.
// SetDefaults and WriteDefault both read from it.
func defaultValues() map[string]interface{} {
	return map[string]interface{}{
		"database.driver": "sqlite3",
		"database.path":   "repost.db",
		"database.dsn":    "",

		"server.addr":             "127.0.0.1:8787",
		"server.read_timeout":     15 * time.Second,
		"server.shutdown_timeout": 10 * time.Second,

		"scheduler.tick_interval":       1 * time.Second,
		"scheduler.misfire_grace":       1 * time.Hour,
		"scheduler.max_concurrent_runs": 0,
		"scheduler.shutdown_timeout":    5 * time.Minute, // a posting run can take minutes under manual CAPTCHA

		"captcha.api.key":                   "",
		"captcha.api.submit_url":            DefaultCaptchaSubmitURL,
		"captcha.api.result_url":            DefaultCaptchaResultURL,
		"captcha.api.poll_interval":         5 * time.Second,
		"captcha.api.max_polls":             24,
		"captcha.api.submits_per_minute":    10,
		"captcha.api.request_timeout":       30 * time.Second,
		"captcha.script.endpoint":           "",
		"captcha.manual.wait":               60 * time.Second,
		"captcha.budget.daily_usd":          0.0,
		"captcha.budget.weekly_usd":         0.0,
		"captcha.budget.monthly_usd":        0.0,
		"captcha.budget.cost_per_solve_usd": 0.003, // 2captcha reCAPTCHA v2 list price

		"browser.exec_path":     "",
		"browser.force_visible": false,
		"browser.user_agent":    "",

		"site.login_url":             "https://www.wanuncios.com/gestionar/",
		"site.post_url":              "https://panama.wanuncios.com/publicar/",
		"site.login_site_key":        "6LeIxAcTAAAAAJcZVRqyHh71UMIEGNQ_MXjiZKhI",
		"site.post_site_key":         "6LeIxAcTAAAAAJcZVRqyHh71UMIEGNQ_MXjiZKhI",
		"site.login_success_pattern": "**/gestionar/mis-anuncios",
		"site.post_success_pattern":  "**/anuncio-publicado.html",
		"site.login_timeout":         15 * time.Second,
		"site.post_timeout":          20 * time.Second,
		"site.visible_pause":         10 * time.Second,

		"diagnostics.dir": "diagnostics",

		"log.json":  false,
		"log.level": "info",
	}
}

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	defaults := defaultValues()
	keys := make([]string, 0, len(defaults))
	for k := range defaults {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v.SetDefault(k, defaults[k])
	}
}

// BindSensitiveEnvVars explicitly binds sensitive configuration to environment variables.
// TWOCAPTCHA_API_KEY is honoured for deployments that predate the REPOST_ prefix.
func BindSensitiveEnvVars(v *viper.Viper) {
	_ = v.BindEnv("captcha.api.key", "REPOST_CAPTCHA_API_KEY", "TWOCAPTCHA_API_KEY")
	_ = v.BindEnv("database.dsn", "REPOST_DATABASE_DSN")
}

// userConfigDir returns ~/.repost, or "" when the home directory is unknown
func userConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ""
	}
	return home + string(os.PathSeparator) + ".repost"
}
