// Package browser implements posting.Browser on top of a local Chrome
// driven through the DevTools protocol.
package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/teranos/repost/am"
	"github.com/teranos/repost/errors"
	"github.com/teranos/repost/pulse/posting"
)

// urlPollInterval is how often WaitForURL samples the page location
const urlPollInterval = 250 * time.Millisecond

// Launcher starts one Chrome process per session
type Launcher struct {
	execPath  string
	userAgent string
	clock     clockwork.Clock
	log       *zap.SugaredLogger
}

// NewLauncher creates a launcher from the [browser] config section
func NewLauncher(cfg am.BrowserConfig, log *zap.SugaredLogger) *Launcher {
	return &Launcher{
		execPath:  cfg.ExecPath,
		userAgent: cfg.UserAgent,
		clock:     clockwork.NewRealClock(),
		log:       log,
	}
}

// Open implements posting.Browser
func (l *Launcher) Open(ctx context.Context, opts posting.SessionOptions) (posting.Session, error) {
	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:], chromedp.Flag("headless", opts.Headless))
	if l.execPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(l.execPath))
	}
	if l.userAgent != "" {
		allocOpts = append(allocOpts, chromedp.UserAgent(l.userAgent))
	}

	// The session outlives individual operations; Close ends it.
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocOpts...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx, chromedp.WithLogf(l.log.Debugf))

	started := make(chan error, 1)
	go func() { started <- chromedp.Run(tabCtx) }()
	select {
	case err := <-started:
		if err != nil {
			tabCancel()
			allocCancel()
			return nil, errors.Wrap(err, "start chrome")
		}
	case <-ctx.Done():
		tabCancel()
		allocCancel()
		return nil, ctx.Err()
	}

	l.log.Debugw("Browser session opened", "headless", opts.Headless)
	return &Session{
		ctx:         tabCtx,
		tabCancel:   tabCancel,
		allocCancel: allocCancel,
		clock:       l.clock,
	}, nil
}

// Session is one Chrome tab
type Session struct {
	ctx         context.Context
	tabCancel   context.CancelFunc
	allocCancel context.CancelFunc
	clock       clockwork.Clock
}

// run executes actions in the tab, aborting when ctx is cancelled
func (s *Session) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(runCtx, actions...)
}

func (s *Session) Navigate(ctx context.Context, url string) error {
	return errors.Wrapf(s.run(ctx, chromedp.Navigate(url)), "navigate %s", url)
}

func (s *Session) Fill(ctx context.Context, selector, value string) error {
	return errors.Wrapf(s.run(ctx,
		chromedp.WaitVisible(selector, chromedp.BySearch),
		chromedp.Clear(selector, chromedp.BySearch),
		chromedp.SendKeys(selector, value, chromedp.BySearch),
	), "fill %s", selector)
}

func (s *Session) SelectOption(ctx context.Context, selector, label string) error {
	var problem string
	err := s.run(ctx,
		chromedp.WaitReady(selector, chromedp.BySearch),
		chromedp.Evaluate(selectByLabelJS(selector, label), &problem),
	)
	if err != nil {
		return errors.Wrapf(err, "select %s", selector)
	}
	if problem != "" {
		return errors.Newf("select %s: %s", selector, problem)
	}
	return nil
}

func (s *Session) Check(ctx context.Context, selector string) error {
	var checked bool
	err := s.run(ctx,
		chromedp.WaitVisible(selector, chromedp.BySearch),
		chromedp.Evaluate(fmt.Sprintf(`!!(document.querySelector(%s) || {}).checked`, jsString(selector)), &checked),
	)
	if err != nil {
		return errors.Wrapf(err, "check %s", selector)
	}
	if checked {
		return nil
	}
	return errors.Wrapf(s.run(ctx, chromedp.Click(selector, chromedp.BySearch)), "check %s", selector)
}

func (s *Session) Click(ctx context.Context, selector string) error {
	return errors.Wrapf(s.run(ctx,
		chromedp.WaitVisible(selector, chromedp.BySearch),
		chromedp.Click(selector, chromedp.BySearch),
	), "click %s", selector)
}

func (s *Session) SetInnerHTML(ctx context.Context, elementID, value string) error {
	var found bool
	err := s.run(ctx, chromedp.Evaluate(setInnerHTMLJS(elementID, value), &found))
	if err != nil {
		return errors.Wrapf(err, "set #%s", elementID)
	}
	if !found {
		return errors.NewNotFoundError("element #%s", elementID)
	}
	return nil
}

// WaitForURL polls the tab location until it matches pattern
func (s *Session) WaitForURL(ctx context.Context, pattern string, timeout time.Duration) error {
	re, err := compileURLPattern(pattern)
	if err != nil {
		return err
	}
	deadline := s.clock.After(timeout)
	for {
		var loc string
		if err := s.run(ctx, chromedp.Location(&loc)); err != nil {
			return errors.Wrap(err, "read location")
		}
		if re.MatchString(loc) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return errors.Mark(errors.Newf("url %q did not match %q within %s", loc, pattern, timeout), errors.ErrTimeout)
		case <-s.clock.After(urlPollInterval):
		}
	}
}

func (s *Session) Screenshot(ctx context.Context, path string) error {
	var buf []byte
	if err := s.run(ctx, chromedp.FullScreenshot(&buf, 100)); err != nil {
		return errors.Wrap(err, "capture screenshot")
	}
	return errors.Wrapf(os.WriteFile(path, buf, 0o644), "write %s", path)
}

// Close ends the tab and the browser process
func (s *Session) Close() error {
	s.tabCancel()
	s.allocCancel()
	return nil
}

func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

// selectByLabelJS picks the option whose visible text equals label and
// fires change so dependent lists reload. It evaluates to "" on success.
func selectByLabelJS(selector, label string) string {
	return fmt.Sprintf(`(function(sel, label) {
	const el = document.querySelector(sel);
	if (!el) return "element not found";
	const opt = Array.from(el.options).find(o => o.text.trim() === label);
	if (!opt) return "no option labelled " + label;
	el.value = opt.value;
	el.dispatchEvent(new Event("change", {bubbles: true}));
	return "";
})(%s, %s)`, jsString(selector), jsString(label))
}

func setInnerHTMLJS(elementID, value string) string {
	return fmt.Sprintf(`(function(id, v) {
	const el = document.getElementById(id);
	if (!el) return false;
	el.innerHTML = v;
	return true;
})(%s, %s)`, jsString(elementID), jsString(value))
}
