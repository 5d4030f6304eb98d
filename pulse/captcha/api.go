package captcha

import (
	"context"
	"net/url"
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/teranos/repost/errors"
	"github.com/teranos/repost/internal/httpclient"
)

// notReady is the poll response while the service is still working
const notReady = "CAPCHA_NOT_READY"

// APIConfig configures the remote solving service
type APIConfig struct {
	Key              string
	SubmitURL        string
	ResultURL        string
	PollInterval     time.Duration
	MaxPolls         int
	SubmitsPerMinute int // 0 disables submit throttling
}

// apiResponse is the shape of both in.php and res.php replies with json=1
type apiResponse struct {
	Status  int    `json:"status"`
	Request string `json:"request"`
}

// SpendGuard meters paid solves. Allow is consulted before each submit;
// Record is called once per token received.
type SpendGuard interface {
	Allow(ctx context.Context) error
	Record(ctx context.Context, strategy string) error
}

// APIOption configures an APIResolver
type APIOption func(*APIResolver)

// WithSpendGuard refuses submits the guard does not allow
func WithSpendGuard(g SpendGuard) APIOption {
	return func(r *APIResolver) { r.guard = g }
}

// APIResolver solves reCAPTCHA v2 through a 2captcha-compatible service:
// submit, then poll every PollInterval for at most MaxPolls attempts.
type APIResolver struct {
	cfg     APIConfig
	http    *httpclient.Client
	clock   clockwork.Clock
	limiter *rate.Limiter
	guard   SpendGuard
	log     *zap.SugaredLogger
}

// NewAPIResolver creates an api-strategy resolver
func NewAPIResolver(cfg APIConfig, client *httpclient.Client, clock clockwork.Clock, log *zap.SugaredLogger, opts ...APIOption) *APIResolver {
	r := &APIResolver{cfg: cfg, http: client, clock: clock, log: log}
	if cfg.SubmitsPerMinute > 0 {
		r.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.SubmitsPerMinute)), cfg.SubmitsPerMinute)
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Strategy implements Resolver
func (r *APIResolver) Strategy() Strategy { return StrategyAPI }

// Resolve implements Resolver
func (r *APIResolver) Resolve(ctx context.Context, ch Challenge) (string, error) {
	if r.cfg.Key == "" {
		return "", ErrMissingAPIKey
	}

	if r.guard != nil {
		if err := r.guard.Allow(ctx); err != nil {
			return "", err
		}
	}

	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return "", errors.Wrap(err, "waiting for captcha submit slot")
		}
	}

	requestID, err := r.submit(ctx, ch)
	if err != nil {
		return "", err
	}
	r.log.Infow("CAPTCHA submitted", "request_id", requestID, "page_url", ch.PageURL)

	query := url.Values{
		"key":    {r.cfg.Key},
		"action": {"get"},
		"id":     {requestID},
		"json":   {"1"},
	}

	for attempt := 1; attempt <= r.cfg.MaxPolls; attempt++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-r.clock.After(r.cfg.PollInterval):
		}

		var resp apiResponse
		if err := r.http.GetJSON(ctx, r.cfg.ResultURL, query, &resp); err != nil {
			return "", errors.WithDetailf(errors.Wrap(err, "poll captcha result"), "request_id=%s attempt=%d", requestID, attempt)
		}

		switch {
		case resp.Status == 1:
			r.log.Infow("CAPTCHA solved", "request_id", requestID, "attempt", attempt)
			if r.guard != nil {
				if err := r.guard.Record(ctx, string(StrategyAPI)); err != nil {
					r.log.Warnw("Failed to record captcha spend", "request_id", requestID, "error", err)
				}
			}
			return resp.Request, nil
		case resp.Request == notReady:
			r.log.Debugw("CAPTCHA not ready, polling again", "request_id", requestID, "attempt", attempt)
		default:
			return "", errors.WithDetailf(errors.Wrapf(ErrSolveFailed, "service returned %q", resp.Request), "request_id=%s attempt=%d", requestID, attempt)
		}
	}

	return "", errors.WithDetailf(errors.Wrapf(ErrTimeout, "after %d polls", r.cfg.MaxPolls), "request_id=%s", requestID)
}

func (r *APIResolver) submit(ctx context.Context, ch Challenge) (string, error) {
	form := url.Values{
		"key":       {r.cfg.Key},
		"method":    {"userrecaptcha"},
		"googlekey": {ch.SiteKey},
		"pageurl":   {ch.PageURL},
		"json":      {"1"},
	}

	var resp apiResponse
	if err := r.http.PostFormJSON(ctx, r.cfg.SubmitURL, form, &resp); err != nil {
		return "", errors.Wrap(err, "submit captcha")
	}
	if resp.Status != 1 {
		return "", errors.WithDetailf(errors.Wrapf(ErrSubmitRejected, "service returned %q", resp.Request), "status=%s", strconv.Itoa(resp.Status))
	}
	if resp.Request == "" {
		return "", errors.Wrap(ErrSubmitRejected, "service returned an empty request id")
	}
	return resp.Request, nil
}
