package captcha

import (
	"context"

	"go.uber.org/zap"

	"github.com/teranos/repost/errors"
	"github.com/teranos/repost/internal/httpclient"
)

// PlaceholderToken is returned by the script strategy when no local solver
// endpoint is configured.
const PlaceholderToken = "placeholder_token_from_local_script"

// ScriptResolver delegates to a local automated solver.
type ScriptResolver struct {
	endpoint string
	http     *httpclient.Client
	log      *zap.SugaredLogger
}

// NewScriptResolver creates a script-strategy resolver
func NewScriptResolver(endpoint string, client *httpclient.Client, log *zap.SugaredLogger) *ScriptResolver {
	return &ScriptResolver{endpoint: endpoint, http: client, log: log}
}

// Strategy implements Resolver
func (r *ScriptResolver) Strategy() Strategy { return StrategyScript }

// Resolve implements Resolver
func (r *ScriptResolver) Resolve(ctx context.Context, ch Challenge) (string, error) {
	if r.endpoint == "" {
		r.log.Warnw("Local script solver not configured, returning placeholder token", "page_url", ch.PageURL)
		return PlaceholderToken, nil
	}

	req := struct {
		SiteKey string `json:"site_key"`
		PageURL string `json:"page_url"`
	}{ch.SiteKey, ch.PageURL}
	var resp struct {
		Token string `json:"token"`
		Error string `json:"error"`
	}

	r.log.Infow("Solving CAPTCHA with local script", "page_url", ch.PageURL)
	if err := r.http.PostJSON(ctx, r.endpoint, req, &resp); err != nil {
		return "", errors.Wrap(err, "local solver request")
	}
	if resp.Token == "" {
		msg := resp.Error
		if msg == "" {
			msg = "empty token"
		}
		return "", errors.Wrapf(ErrSolveFailed, "local solver: %s", msg)
	}
	return resp.Token, nil
}
