package posting

import (
	"context"
	"time"

	"github.com/teranos/repost/pulse/captcha"
)

// SessionOptions configures one browser session
type SessionOptions struct {
	Headless bool
}

// Browser starts isolated sessions. Each run gets a fresh one.
type Browser interface {
	Open(ctx context.Context, opts SessionOptions) (Session, error)
}

// Session is the page-level surface the workflow needs.
// WaitForURL returns an error when the pattern is not reached within timeout.
type Session interface {
	Navigate(ctx context.Context, url string) error
	Fill(ctx context.Context, selector, value string) error
	SelectOption(ctx context.Context, selector, label string) error
	Check(ctx context.Context, selector string) error
	Click(ctx context.Context, selector string) error
	SetInnerHTML(ctx context.Context, elementID, value string) error
	WaitForURL(ctx context.Context, pattern string, timeout time.Duration) error
	Screenshot(ctx context.Context, path string) error
	Close() error
}

// ResolverFactory hands out the CAPTCHA resolver for a credential's strategy
type ResolverFactory interface {
	For(s captcha.Strategy) (captcha.Resolver, error)
}
