package captcha

import (
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/teranos/repost/am"
	"github.com/teranos/repost/errors"
	"github.com/teranos/repost/internal/httpclient"
	"github.com/teranos/repost/logger"
)

// Factory hands out the resolver for a stored strategy tag.
// Resolvers are built once so the api submit limiter is shared by every run.
type Factory struct {
	resolvers map[Strategy]Resolver
}

// NewFactory builds one resolver per strategy
func NewFactory(resolvers ...Resolver) *Factory {
	f := &Factory{resolvers: make(map[Strategy]Resolver, len(resolvers))}
	for _, r := range resolvers {
		f.resolvers[r.Strategy()] = r
	}
	return f
}

// NewFactoryFromConfig wires all three strategies from configuration.
// apiOpts apply to the api resolver only.
func NewFactoryFromConfig(cfg am.CaptchaConfig, clock clockwork.Clock, log *zap.SugaredLogger, apiOpts ...APIOption) *Factory {
	log = logger.AddCaptchaSymbol(log)

	timeout := cfg.API.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	remote := httpclient.New(timeout)
	// The script solver runs next to the process, usually on localhost
	allowLocal := false
	local := httpclient.NewWithOptions(timeout, httpclient.Options{BlockPrivateIP: &allowLocal})

	return NewFactory(
		NewAPIResolver(APIConfig{
			Key:              cfg.API.Key,
			SubmitURL:        cfg.API.SubmitURL,
			ResultURL:        cfg.API.ResultURL,
			PollInterval:     cfg.API.PollInterval,
			MaxPolls:         cfg.API.MaxPolls,
			SubmitsPerMinute: cfg.API.SubmitsPerMinute,
		}, remote, clock, log.Named("api"), apiOpts...),
		NewScriptResolver(cfg.Script.Endpoint, local, log.Named("script")),
		NewManualResolver(cfg.Manual.Wait, clock, log.Named("manual")),
	)
}

// For returns the resolver for a strategy tag
func (f *Factory) For(s Strategy) (Resolver, error) {
	s, err := ParseStrategy(string(s))
	if err != nil {
		return nil, err
	}
	r, ok := f.resolvers[s]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownStrategy, "%q", string(s))
	}
	return r, nil
}
