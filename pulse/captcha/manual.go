package captcha

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// ManualResolver gives a human operator a fixed window to solve the
// CAPTCHA in the visible browser, then reports success unconditionally.
// It only makes sense when the session is not headless.
type ManualResolver struct {
	wait  time.Duration
	clock clockwork.Clock
	log   *zap.SugaredLogger
}

// NewManualResolver creates a manual-strategy resolver
func NewManualResolver(wait time.Duration, clock clockwork.Clock, log *zap.SugaredLogger) *ManualResolver {
	return &ManualResolver{wait: wait, clock: clock, log: log}
}

// Strategy implements Resolver
func (r *ManualResolver) Strategy() Strategy { return StrategyManual }

// Resolve implements Resolver. The returned token is always empty: the
// operator's solution already lives in the page.
func (r *ManualResolver) Resolve(ctx context.Context, ch Challenge) (string, error) {
	r.log.Warnw("Manual CAPTCHA solving selected, pausing for operator",
		"wait", r.wait,
		"page_url", ch.PageURL)

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-r.clock.After(r.wait):
	}

	r.log.Warnw("Manual CAPTCHA solving period has ended", "page_url", ch.PageURL)
	return "", nil
}
