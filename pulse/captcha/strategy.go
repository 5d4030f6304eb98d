// Package captcha obtains CAPTCHA bypass tokens through interchangeable
// strategies: a remote solving API, a local automated solver, or a human
// operator working in a visible browser.
package captcha

import (
	"context"
	"strings"

	"github.com/teranos/repost/errors"
)

// Strategy is the tag stored on a credential that selects a resolver
type Strategy string

const (
	StrategyAPI    Strategy = "api"
	StrategyScript Strategy = "script"
	StrategyManual Strategy = "manual"
)

// ErrUnknownStrategy is returned for tags outside api/script/manual
var ErrUnknownStrategy = errors.Mark(errors.New("unknown captcha strategy"), errors.ErrInvalidRequest)

// ParseStrategy validates a stored strategy tag. Empty means api, the
// default for new accounts.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(s))) {
	case "", StrategyAPI:
		return StrategyAPI, nil
	case StrategyScript:
		return StrategyScript, nil
	case StrategyManual:
		return StrategyManual, nil
	default:
		return "", errors.Wrapf(ErrUnknownStrategy, "%q", s)
	}
}

// Valid reports whether s is one of the known strategies
func (s Strategy) Valid() bool {
	return s == StrategyAPI || s == StrategyScript || s == StrategyManual
}

// RequiresVisible reports whether the strategy needs an observable
// (non-headless) browser session.
func (s Strategy) RequiresVisible() bool {
	return s == StrategyManual
}

// HardGate reports whether a failed resolution must abort the posting run.
// Only the api strategy is a hard dependency; script and manual are best-effort.
func (s Strategy) HardGate() bool {
	return s == StrategyAPI
}

// Challenge identifies one CAPTCHA instance on the target site
type Challenge struct {
	SiteKey string
	PageURL string
}

// Resolver produces a bypass token for a challenge.
// An empty token with a nil error means the challenge was handled out of
// band and there is nothing to inject.
type Resolver interface {
	Strategy() Strategy
	Resolve(ctx context.Context, ch Challenge) (string, error)
}
