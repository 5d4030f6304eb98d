package captcha

import "github.com/teranos/repost/errors"

// Resolution failures. All are recoverable by choosing a different strategy
// on the next run; none are retried internally beyond the poll budget.
var (
	ErrMissingAPIKey  = errors.WithHint(errors.New("captcha api key not configured"), "set REPOST_CAPTCHA_API_KEY or captcha.api.key")
	ErrSubmitRejected = errors.New("captcha submission rejected")
	ErrSolveFailed    = errors.New("captcha solving failed")
	ErrTimeout        = errors.Mark(errors.New("captcha not solved within poll budget"), errors.ErrTimeout)
)
