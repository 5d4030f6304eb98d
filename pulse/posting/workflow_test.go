package posting

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"github.com/teranos/repost/errors"
	"github.com/teranos/repost/pulse/captcha"
)

func headlessSite() Site {
	s := testSite()
	s.FormSettle = 0
	return s
}

func apiCred() Credential {
	return Credential{Identifier: "ana@example.com", Secret: "hunter2", Strategy: captcha.StrategyAPI}
}

func newTestWorkflow(t *testing.T, b Browser, r captcha.Resolver, site Site, clock clockwork.Clock, opts ...Option) *Workflow {
	t.Helper()
	opts = append([]Option{
		WithClock(clock),
		WithLogger(zaptest.NewLogger(t).Sugar()),
		WithDiagnosticsDir(t.TempDir()),
	}, opts...)
	return NewWorkflow(b, captcha.NewFactory(r), site, opts...)
}

// advanceSteps waits for each expected timer and fires it
func advanceSteps(t *testing.T, clock *clockwork.FakeClock, steps ...time.Duration) {
	t.Helper()
	for i, d := range steps {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := clock.BlockUntilContext(ctx, 1)
		cancel()
		require.NoError(t, err, "no timer pending at step %d (%s)", i, d)
		clock.Advance(d)
	}
}

func runAsync(w *Workflow, cred Credential, listing Listing) <-chan Outcome {
	done := make(chan Outcome, 1)
	go func() { done <- w.Run(context.Background(), cred, listing) }()
	return done
}

func await(t *testing.T, done <-chan Outcome) Outcome {
	t.Helper()
	select {
	case out := <-done:
		return out
	case <-time.After(5 * time.Second):
		t.Fatal("workflow did not finish")
		return Outcome{}
	}
}

func TestRun_PublishesWithAPIStrategy(t *testing.T) {
	clock := clockwork.NewFakeClock()
	b := newFakeBrowser(clock)
	r := &stubResolver{strategy: captcha.StrategyAPI, results: []stubResult{{token: "TOKEN-LOGIN"}, {token: "TOKEN-POST"}}}
	site := headlessSite()
	w := newTestWorkflow(t, b, r, site, clock)

	out := w.Run(context.Background(), apiCred(), testListing())

	require.True(t, out.Success, "outcome: %+v", out)
	assert.Equal(t, StageDone, out.Stage)
	assert.NoError(t, out.Err)
	assert.Empty(t, out.Artifact)

	require.Len(t, b.opts, 1)
	assert.True(t, b.opts[0].Headless)

	require.Len(t, r.calls, 2)
	assert.Equal(t, captcha.Challenge{SiteKey: "login-key", PageURL: site.LoginURL}, r.calls[0])
	assert.Equal(t, captcha.Challenge{SiteKey: "post-key", PageURL: site.PostURL}, r.calls[1])

	sess := b.last()
	injects := sess.ops("inject")
	require.Len(t, injects, 2)
	assert.Equal(t, call{Op: "inject", Target: "g-recaptcha-response", Value: "TOKEN-LOGIN", At: injects[0].At}, injects[0])
	assert.Equal(t, "g-recaptcha-response-1", injects[1].Target)
	assert.Equal(t, "TOKEN-POST", injects[1].Value)

	fills := sess.ops("fill")
	require.Len(t, fills, 4)
	assert.Equal(t, "ana@example.com", fills[0].Value)
	assert.Equal(t, "hunter2", fills[1].Value)
	assert.Equal(t, "Piso en alquiler", fills[2].Value)

	selects := sess.ops("select")
	require.Len(t, selects, 3)
	assert.Equal(t, []string{"Madrid", "Inmobiliaria", "Pisos"}, []string{selects[0].Value, selects[1].Value, selects[2].Value})

	assert.True(t, sess.did("check", site.Selectors.AcceptTerms))
	assert.True(t, sess.did("click", site.Selectors.SubmitButton))
	assert.Equal(t, 1, sess.closed)
}

func TestRun_LoginTimeout(t *testing.T) {
	clock := clockwork.NewFakeClock()
	b := newFakeBrowser(clock)
	site := headlessSite()
	b.failOps["wait "+site.LoginSuccessPattern] = errors.New("waiting for url: context deadline exceeded")
	r := &stubResolver{strategy: captcha.StrategyAPI, results: []stubResult{{token: "T"}}}
	dir := t.TempDir()
	w := newTestWorkflow(t, b, r, site, clock, WithDiagnosticsDir(dir))

	out := w.Run(context.Background(), apiCred(), testListing())

	assert.False(t, out.Success)
	assert.Equal(t, StageLoginTimeout, out.Stage)
	assert.True(t, errors.IsTimeoutError(out.Err))

	sess := b.last()
	assert.False(t, sess.did("navigate", site.PostURL), "must not navigate to the posting form")
	assert.Empty(t, sess.ops("select"))

	require.NotEmpty(t, out.Artifact)
	assert.Equal(t, dir, filepath.Dir(out.Artifact))
	assert.True(t, strings.HasPrefix(filepath.Base(out.Artifact), "login-timeout-"))
	assert.FileExists(t, out.Artifact)
	assert.Equal(t, 1, sess.closed)
}

func TestRun_APICaptchaFailureStopsBeforeCredentials(t *testing.T) {
	clock := clockwork.NewFakeClock()
	b := newFakeBrowser(clock)
	r := &stubResolver{strategy: captcha.StrategyAPI, results: []stubResult{{err: errSolve}}}
	w := newTestWorkflow(t, b, r, headlessSite(), clock)

	out := w.Run(context.Background(), apiCred(), testListing())

	assert.False(t, out.Success)
	assert.Equal(t, StageLoginCaptcha, out.Stage)
	assert.True(t, errors.Is(out.Err, errSolve))

	sess := b.last()
	assert.Empty(t, sess.ops("fill"), "credentials must not be filled")
	assert.Empty(t, sess.ops("click"))
	assert.Equal(t, 1, sess.closed)
}

func TestRun_SubmitCaptchaFailureStopsBeforeSubmit(t *testing.T) {
	clock := clockwork.NewFakeClock()
	b := newFakeBrowser(clock)
	r := &stubResolver{strategy: captcha.StrategyAPI, results: []stubResult{{token: "T"}, {err: captcha.ErrTimeout}}}
	site := headlessSite()
	w := newTestWorkflow(t, b, r, site, clock)

	out := w.Run(context.Background(), apiCred(), testListing())

	assert.False(t, out.Success)
	assert.Equal(t, StageSubmitCaptcha, out.Stage)
	sess := b.last()
	assert.True(t, sess.did("check", site.Selectors.AcceptTerms))
	assert.False(t, sess.did("click", site.Selectors.SubmitButton))
}

func TestRun_ScriptCaptchaFailureIsBestEffort(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	clock := clockwork.NewFakeClock()
	b := newFakeBrowser(clock)
	r := &stubResolver{strategy: captcha.StrategyScript, results: []stubResult{{err: errSolve}}}
	w := newTestWorkflow(t, b, r, headlessSite(), clock, WithLogger(zap.New(core).Sugar()))

	cred := apiCred()
	cred.Strategy = captcha.StrategyScript
	out := w.Run(context.Background(), cred, testListing())

	assert.True(t, out.Success, "outcome: %+v", out)
	assert.Empty(t, b.last().ops("inject"))
	assert.Len(t, b.last().ops("fill"), 4)
	assert.Equal(t, 2, logs.FilterMessage("CAPTCHA not resolved, continuing").Len())
}

func TestRun_ManualWaitsAtBothCaptchaStages(t *testing.T) {
	clock := clockwork.NewFakeClock()
	start := clock.Now()
	b := newFakeBrowser(clock)
	site := testSite()
	manual := captcha.NewManualResolver(60*time.Second, clock, zap.NewNop().Sugar())
	w := newTestWorkflow(t, b, manual, site, clock)

	cred := apiCred()
	cred.Strategy = captcha.StrategyManual
	done := runAsync(w, cred, testListing())

	// login captcha, login pause, category settle, submit captcha, submit pause
	advanceSteps(t, clock, 60*time.Second, 10*time.Second, time.Second, 60*time.Second, 10*time.Second)
	out := await(t, done)

	require.True(t, out.Success, "outcome: %+v", out)
	require.Len(t, b.opts, 1)
	assert.False(t, b.opts[0].Headless, "manual solving needs a visible browser")

	sess := b.last()
	assert.Empty(t, sess.ops("inject"), "manual solving has no token to inject")

	fills := sess.ops("fill")
	require.NotEmpty(t, fills)
	assert.Equal(t, start.Add(60*time.Second), fills[0].At, "credentials filled after the login wait")

	clicks := sess.ops("click")
	require.Len(t, clicks, 2)
	assert.Equal(t, start.Add(70*time.Second), clicks[0].At)
	assert.Equal(t, start.Add(141*time.Second), clicks[1].At)
	assert.Equal(t, 141*time.Second, out.Duration)
}

func TestRun_ForceVisiblePausesBeforeSubmissions(t *testing.T) {
	clock := clockwork.NewFakeClock()
	start := clock.Now()
	b := newFakeBrowser(clock)
	r := &stubResolver{strategy: captcha.StrategyAPI, results: []stubResult{{token: "T"}}}
	w := newTestWorkflow(t, b, r, headlessSite(), clock, WithForceVisible(true))

	done := runAsync(w, apiCred(), testListing())
	advanceSteps(t, clock, 10*time.Second, 10*time.Second)
	out := await(t, done)

	require.True(t, out.Success)
	assert.False(t, b.opts[0].Headless)
	clicks := b.last().ops("click")
	require.Len(t, clicks, 2)
	assert.Equal(t, start.Add(10*time.Second), clicks[0].At)
	assert.Equal(t, start.Add(20*time.Second), clicks[1].At)
}

func TestRun_SubmitTimeoutIsFailure(t *testing.T) {
	clock := clockwork.NewFakeClock()
	b := newFakeBrowser(clock)
	site := headlessSite()
	b.failOps["wait "+site.PostSuccessPattern] = errors.New("timeout")
	r := &stubResolver{strategy: captcha.StrategyAPI, results: []stubResult{{token: "T"}}}
	w := newTestWorkflow(t, b, r, site, clock)

	out := w.Run(context.Background(), apiCred(), testListing())

	assert.False(t, out.Success)
	assert.Equal(t, StageSubmitTimeout, out.Stage)
	assert.True(t, strings.HasPrefix(filepath.Base(out.Artifact), "submit-timeout-"))
	assert.Equal(t, 1, b.last().closed)
}

func TestRun_FormFillError(t *testing.T) {
	clock := clockwork.NewFakeClock()
	b := newFakeBrowser(clock)
	site := headlessSite()
	b.failOps["select "+site.Selectors.Category] = errors.New("no option labelled Inmobiliaria")
	r := &stubResolver{strategy: captcha.StrategyAPI, results: []stubResult{{token: "T"}}}
	w := newTestWorkflow(t, b, r, site, clock)

	out := w.Run(context.Background(), apiCred(), testListing())

	assert.False(t, out.Success)
	assert.Equal(t, StageFormFill, out.Stage)
	assert.Contains(t, out.ErrorMessage(), "select category")
	assert.Len(t, r.calls, 1, "submit captcha must not be requested")
	assert.Equal(t, 1, b.last().closed)
}

func TestRun_CredentialFillError(t *testing.T) {
	clock := clockwork.NewFakeClock()
	b := newFakeBrowser(clock)
	site := headlessSite()
	b.failOps["fill "+site.Selectors.Password] = errors.New("element not found")
	r := &stubResolver{strategy: captcha.StrategyAPI, results: []stubResult{{token: "T"}}}
	w := newTestWorkflow(t, b, r, site, clock)

	out := w.Run(context.Background(), apiCred(), testListing())

	assert.Equal(t, StageLoginCredentials, out.Stage)
	assert.Empty(t, b.last().ops("click"))
}

func TestRun_SnapshotFailureKeepsStageError(t *testing.T) {
	clock := clockwork.NewFakeClock()
	b := newFakeBrowser(clock)
	site := headlessSite()
	b.failOps["wait "+site.LoginSuccessPattern] = errors.New("timeout")
	r := &stubResolver{strategy: captcha.StrategyAPI, results: []stubResult{{token: "T"}}}
	w := newTestWorkflow(t, b, r, site, clock, WithDiagnosticsDir(filepath.Join(t.TempDir(), "snaps")))

	// any screenshot path fails
	w.browser = &failingShotBrowser{fakeBrowser: b}
	out := w.Run(context.Background(), apiCred(), testListing())

	assert.Equal(t, StageLoginTimeout, out.Stage)
	assert.Empty(t, out.Artifact)
	assert.Contains(t, out.ErrorMessage(), "login not confirmed")
}

type failingShotBrowser struct{ *fakeBrowser }

func (b *failingShotBrowser) Open(ctx context.Context, opts SessionOptions) (Session, error) {
	s, err := b.fakeBrowser.Open(ctx, opts)
	if err != nil {
		return nil, err
	}
	return failingShotSession{s.(*fakeSession)}, nil
}

type failingShotSession struct{ *fakeSession }

func (failingShotSession) Screenshot(ctx context.Context, path string) error {
	return errors.New("target closed")
}

func TestRun_BrowserOpenFailure(t *testing.T) {
	clock := clockwork.NewFakeClock()
	b := newFakeBrowser(clock)
	b.openErr = errors.New("chrome not found")
	r := &stubResolver{strategy: captcha.StrategyAPI, results: []stubResult{{token: "T"}}}
	w := newTestWorkflow(t, b, r, headlessSite(), clock)

	out := w.Run(context.Background(), apiCred(), testListing())

	assert.False(t, out.Success)
	assert.Equal(t, StageSession, out.Stage)
	assert.Empty(t, out.Artifact)
	assert.Empty(t, r.calls)
}

func TestRun_UnknownStrategy(t *testing.T) {
	clock := clockwork.NewFakeClock()
	b := newFakeBrowser(clock)
	r := &stubResolver{strategy: captcha.StrategyAPI, results: []stubResult{{token: "T"}}}
	w := newTestWorkflow(t, b, r, headlessSite(), clock)

	cred := apiCred()
	cred.Strategy = captcha.StrategyManual // not registered in this factory
	out := w.Run(context.Background(), cred, testListing())

	assert.Equal(t, StageLoginCaptcha, out.Stage)
	assert.True(t, errors.Is(out.Err, captcha.ErrUnknownStrategy))
	assert.Empty(t, b.opts, "no session opened")
}

func TestRun_CancelledDuringManualWait(t *testing.T) {
	clock := clockwork.NewFakeClock()
	b := newFakeBrowser(clock)
	manual := captcha.NewManualResolver(60*time.Second, clock, zap.NewNop().Sugar())
	w := newTestWorkflow(t, b, manual, testSite(), clock)

	cred := apiCred()
	cred.Strategy = captcha.StrategyManual
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan Outcome, 1)
	go func() { done <- w.Run(ctx, cred, testListing()) }()

	bctx, bcancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer bcancel()
	require.NoError(t, clock.BlockUntilContext(bctx, 1))
	cancel()

	out := await(t, done)
	assert.False(t, out.Success)
	assert.Equal(t, StageLoginCaptcha, out.Stage)
	assert.ErrorIs(t, out.Err, context.Canceled)
	assert.Empty(t, b.last().ops("fill"))
	assert.Equal(t, 1, b.last().closed)
}
