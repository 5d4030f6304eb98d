package posting

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/teranos/repost/errors"
	"github.com/teranos/repost/logger"
	"github.com/teranos/repost/pulse/captcha"
)

// snapshotTimeout bounds the diagnostic screenshot after a failure
const snapshotTimeout = 10 * time.Second

// Workflow publishes a listing through a browser session.
// A Workflow is safe for concurrent use; every Run opens its own session.
type Workflow struct {
	browser        Browser
	resolvers      ResolverFactory
	site           Site
	clock          clockwork.Clock
	log            *zap.SugaredLogger
	diagnosticsDir string
	forceVisible   bool
}

// Option configures a Workflow
type Option func(*Workflow)

// WithClock sets the clock used for pauses
func WithClock(c clockwork.Clock) Option {
	return func(w *Workflow) { w.clock = c }
}

// WithLogger sets the workflow logger
func WithLogger(l *zap.SugaredLogger) Option {
	return func(w *Workflow) { w.log = l }
}

// WithDiagnosticsDir sets where failure snapshots are written
func WithDiagnosticsDir(dir string) Option {
	return func(w *Workflow) { w.diagnosticsDir = dir }
}

// WithForceVisible opens every session non-headless
func WithForceVisible(v bool) Option {
	return func(w *Workflow) { w.forceVisible = v }
}

// NewWorkflow creates a posting workflow for site
func NewWorkflow(b Browser, resolvers ResolverFactory, site Site, opts ...Option) *Workflow {
	w := &Workflow{
		browser:        b,
		resolvers:      resolvers,
		site:           site,
		clock:          clockwork.NewRealClock(),
		log:            zap.NewNop().Sugar(),
		diagnosticsDir: "diagnostics",
	}
	for _, opt := range opts {
		opt(w)
	}
	w.log = logger.AddPostSymbol(w.log)
	return w
}

// Run performs login and submission once. It never panics on site errors;
// every failure is reported through the returned Outcome.
func (w *Workflow) Run(ctx context.Context, cred Credential, listing Listing) Outcome {
	start := w.clock.Now()
	log := logger.FromContext(ctx, w.log).With(
		logger.FieldAccount, cred.Identifier,
		logger.FieldStrategy, cred.Strategy,
		logger.FieldTitle, listing.Title)

	resolver, err := w.resolvers.For(cred.Strategy)
	if err != nil {
		log.Errorw("No CAPTCHA resolver for credential", logger.FieldError, err)
		return Outcome{Stage: StageLoginCaptcha, Err: err, StartedAt: start, Duration: w.clock.Since(start)}
	}

	headless := !cred.Strategy.RequiresVisible() && !w.forceVisible
	sess, err := w.browser.Open(ctx, SessionOptions{Headless: headless})
	if err != nil {
		log.Errorw("Failed to open browser session", logger.FieldError, err)
		return Outcome{Stage: StageSession, Err: errors.Wrap(err, "open browser session"), StartedAt: start, Duration: w.clock.Since(start)}
	}
	defer func() {
		if err := sess.Close(); err != nil {
			log.Warnw("Failed to close browser session", logger.FieldError, err)
		}
	}()

	r := &run{
		Workflow: w,
		sess:     sess,
		resolver: resolver,
		cred:     cred,
		listing:  listing,
		headless: headless,
		log:      log.With(logger.FieldHeadless, headless),
	}

	out := Outcome{StartedAt: start}
	stage, err := r.login(ctx)
	if err == nil {
		stage, err = r.post(ctx)
	}
	if err != nil {
		out.Stage = stage
		out.Err = err
		out.Artifact = r.snapshot(ctx, stage)
		r.log.Errorw("Posting failed",
			logger.FieldStage, stage,
			logger.FieldArtifact, out.Artifact,
			logger.FieldError, err)
	} else {
		out.Success = true
		out.Stage = StageDone
	}
	out.Duration = w.clock.Since(start)
	if out.Success {
		r.log.Infow("Listing published", logger.FieldDurationMS, out.Duration.Milliseconds())
	}
	return out
}

// run carries the per-session state of one Workflow.Run
type run struct {
	*Workflow
	sess     Session
	resolver captcha.Resolver
	cred     Credential
	listing  Listing
	headless bool
	log      *zap.SugaredLogger
}

func (r *run) login(ctx context.Context) (Stage, error) {
	sel := r.site.Selectors

	r.log.Infow("Logging in", logger.FieldURL, r.site.LoginURL)
	if err := r.sess.Navigate(ctx, r.site.LoginURL); err != nil {
		return StageLoginCredentials, errors.Wrap(err, "open login page")
	}

	ch := captcha.Challenge{SiteKey: r.site.LoginSiteKey, PageURL: r.site.LoginURL}
	if err := r.solve(ctx, StageLoginCaptcha, ch, sel.LoginTokenID); err != nil {
		return StageLoginCaptcha, err
	}

	if err := r.sess.Fill(ctx, sel.Email, r.cred.Identifier); err != nil {
		return StageLoginCredentials, errors.Wrap(err, "fill identifier")
	}
	if err := r.sess.Fill(ctx, sel.Password, r.cred.Secret); err != nil {
		return StageLoginCredentials, errors.Wrap(err, "fill secret")
	}
	if err := r.visiblePause(ctx, "login"); err != nil {
		return StageLoginCredentials, err
	}
	if err := r.sess.Click(ctx, sel.LoginButton); err != nil {
		return StageLoginCredentials, errors.Wrap(err, "submit login")
	}

	if err := r.sess.WaitForURL(ctx, r.site.LoginSuccessPattern, r.site.LoginTimeout); err != nil {
		return StageLoginTimeout, errors.Mark(errors.Wrapf(err, "login not confirmed within %s", r.site.LoginTimeout), errors.ErrTimeout)
	}
	r.log.Infow("Login successful")
	return "", nil
}

func (r *run) post(ctx context.Context) (Stage, error) {
	sel := r.site.Selectors

	r.log.Infow("Opening posting form", logger.FieldURL, r.site.PostURL)
	if err := r.sess.Navigate(ctx, r.site.PostURL); err != nil {
		return StageFormFill, errors.Wrap(err, "open posting page")
	}
	if err := r.fillForm(ctx); err != nil {
		return StageFormFill, err
	}

	ch := captcha.Challenge{SiteKey: r.site.PostSiteKey, PageURL: r.site.PostURL}
	if err := r.solve(ctx, StageSubmitCaptcha, ch, sel.SubmitTokenID); err != nil {
		return StageSubmitCaptcha, err
	}

	if err := r.visiblePause(ctx, "submission"); err != nil {
		return StageSubmitCaptcha, err
	}
	if err := r.sess.Click(ctx, sel.SubmitButton); err != nil {
		return StageFormFill, errors.Wrap(err, "submit listing")
	}

	if err := r.sess.WaitForURL(ctx, r.site.PostSuccessPattern, r.site.PostTimeout); err != nil {
		return StageSubmitTimeout, errors.Mark(errors.Wrapf(err, "publication not confirmed within %s", r.site.PostTimeout), errors.ErrTimeout)
	}
	return "", nil
}

func (r *run) fillForm(ctx context.Context) error {
	sel := r.site.Selectors
	l := r.listing

	r.log.Infow("Filling posting form")
	if err := r.sess.SelectOption(ctx, sel.Region, l.Region); err != nil {
		return errors.Wrap(err, "select region")
	}
	if sel.SubRegion != "" && l.SubRegion != "" {
		if err := r.sess.SelectOption(ctx, sel.SubRegion, l.SubRegion); err != nil {
			return errors.Wrap(err, "select sub-region")
		}
	}
	if err := r.sess.SelectOption(ctx, sel.Category, l.Category); err != nil {
		return errors.Wrap(err, "select category")
	}
	// subcategory options load after the category changes
	if err := r.sleep(ctx, r.site.FormSettle); err != nil {
		return err
	}
	if err := r.sess.SelectOption(ctx, sel.Subcategory, l.Subcategory); err != nil {
		return errors.Wrap(err, "select subcategory")
	}
	if err := r.sess.Fill(ctx, sel.Title, l.Title); err != nil {
		return errors.Wrap(err, "fill title")
	}
	if err := r.sess.Fill(ctx, sel.Description, l.Description); err != nil {
		return errors.Wrap(err, "fill description")
	}
	if sel.Price != "" && l.Price != nil {
		if err := r.sess.Fill(ctx, sel.Price, strconv.FormatFloat(*l.Price, 'f', -1, 64)); err != nil {
			return errors.Wrap(err, "fill price")
		}
	}
	if err := r.sess.Check(ctx, sel.AcceptTerms); err != nil {
		return errors.Wrap(err, "accept terms")
	}
	return nil
}

// solve resolves a challenge and injects the token. Failures abort the run
// only when the strategy is a hard gate; cancellation always aborts.
func (r *run) solve(ctx context.Context, stage Stage, ch captcha.Challenge, tokenID string) error {
	log := r.log.With(logger.FieldStage, stage)

	token, err := r.resolver.Resolve(ctx, ch)
	if err == nil && token != "" {
		err = errors.Wrap(r.sess.SetInnerHTML(ctx, tokenID, token), "inject captcha token")
	}
	if err == nil {
		log.Infow("CAPTCHA handled")
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if r.cred.Strategy.HardGate() {
		return errors.Wrap(err, "resolve captcha")
	}
	log.Warnw("CAPTCHA not resolved, continuing", logger.FieldError, err)
	return nil
}

// visiblePause gives an observer time before each submission click
func (r *run) visiblePause(ctx context.Context, what string) error {
	if r.headless || r.site.VisiblePause <= 0 {
		return nil
	}
	r.log.Infow("Pausing before "+what, "pause", r.site.VisiblePause)
	return r.sleep(ctx, r.site.VisiblePause)
}

func (r *run) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-r.clock.After(d):
		return nil
	}
}

// snapshot captures the page for diagnosis. Errors are logged only.
func (r *run) snapshot(ctx context.Context, stage Stage) string {
	if r.diagnosticsDir == "" {
		return ""
	}
	if err := os.MkdirAll(r.diagnosticsDir, 0o755); err != nil {
		r.log.Warnw("Failed to create diagnostics directory", logger.FieldError, err)
		return ""
	}

	name := string(stage) + "-" + r.clock.Now().UTC().Format("20060102T150405.000") + ".png"
	path := filepath.Join(r.diagnosticsDir, name)

	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), snapshotTimeout)
	defer cancel()
	if err := r.sess.Screenshot(sctx, path); err != nil {
		r.log.Warnw("Failed to capture diagnostic snapshot", logger.FieldArtifact, path, logger.FieldError, err)
		return ""
	}
	return path
}
