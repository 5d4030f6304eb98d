package am

import "net/url"

const redacted = "********"

// Redacted returns a copy safe to print: the CAPTCHA API key is masked and
// the password is stripped from a postgres DSN.
func (c Config) Redacted() Config {
	if c.Captcha.API.Key != "" {
		c.Captcha.API.Key = redacted
	}
	if c.Database.DSN != "" {
		c.Database.DSN = redactDSN(c.Database.DSN)
	}
	return c
}

// redactDSN masks the password of a URL-form DSN. Keyword-form DSNs
// ("host=... password=...") are masked whole.
func redactDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.Scheme == "" {
		return redacted
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), redacted)
	}
	return u.String()
}
