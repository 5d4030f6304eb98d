package posting

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/teranos/repost/errors"
	"github.com/teranos/repost/pulse/captcha"
)

// call is one recorded session interaction
type call struct {
	Op     string
	Target string
	Value  string
	At     time.Time
}

type fakeBrowser struct {
	clock    clockwork.Clock
	openErr  error
	failOps  map[string]error // "op target" -> error
	sessions []*fakeSession
	opts     []SessionOptions
	mu       sync.Mutex
}

func newFakeBrowser(clock clockwork.Clock) *fakeBrowser {
	return &fakeBrowser{clock: clock, failOps: map[string]error{}}
}

func (b *fakeBrowser) Open(ctx context.Context, opts SessionOptions) (Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.opts = append(b.opts, opts)
	if b.openErr != nil {
		return nil, b.openErr
	}
	s := &fakeSession{browser: b}
	b.sessions = append(b.sessions, s)
	return s, nil
}

func (b *fakeBrowser) last() *fakeSession {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.sessions) == 0 {
		return nil
	}
	return b.sessions[len(b.sessions)-1]
}

type fakeSession struct {
	browser *fakeBrowser
	mu      sync.Mutex
	calls   []call
	closed  int
}

func (s *fakeSession) record(op, target, value string) error {
	s.mu.Lock()
	s.calls = append(s.calls, call{Op: op, Target: target, Value: value, At: s.browser.clock.Now()})
	s.mu.Unlock()
	return s.browser.failOps[op+" "+target]
}

func (s *fakeSession) Navigate(ctx context.Context, url string) error {
	return s.record("navigate", url, "")
}

func (s *fakeSession) Fill(ctx context.Context, selector, value string) error {
	return s.record("fill", selector, value)
}

func (s *fakeSession) SelectOption(ctx context.Context, selector, label string) error {
	return s.record("select", selector, label)
}

func (s *fakeSession) Check(ctx context.Context, selector string) error {
	return s.record("check", selector, "")
}

func (s *fakeSession) Click(ctx context.Context, selector string) error {
	return s.record("click", selector, "")
}

func (s *fakeSession) SetInnerHTML(ctx context.Context, elementID, value string) error {
	return s.record("inject", elementID, value)
}

func (s *fakeSession) WaitForURL(ctx context.Context, pattern string, timeout time.Duration) error {
	return s.record("wait", pattern, timeout.String())
}

func (s *fakeSession) Screenshot(ctx context.Context, path string) error {
	if err := s.record("screenshot", path, ""); err != nil {
		return err
	}
	return os.WriteFile(path, []byte("png"), 0o644)
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

func (s *fakeSession) ops(op string) []call {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []call
	for _, c := range s.calls {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

func (s *fakeSession) did(op, target string) bool {
	for _, c := range s.ops(op) {
		if c.Target == target {
			return true
		}
	}
	return false
}

// stubResolver returns scripted results in order; the last one repeats
type stubResolver struct {
	strategy captcha.Strategy
	results  []stubResult
	mu       sync.Mutex
	calls    []captcha.Challenge
}

type stubResult struct {
	token string
	err   error
}

func (r *stubResolver) Strategy() captcha.Strategy { return r.strategy }

func (r *stubResolver) Resolve(ctx context.Context, ch captcha.Challenge) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := len(r.calls)
	r.calls = append(r.calls, ch)
	if i >= len(r.results) {
		i = len(r.results) - 1
	}
	return r.results[i].token, r.results[i].err
}

var errSolve = errors.New("solver unavailable")

func testSite() Site {
	return Site{
		LoginURL:            "https://site.test/login",
		PostURL:             "https://site.test/publicar",
		LoginSiteKey:        "login-key",
		PostSiteKey:         "post-key",
		LoginSuccessPattern: "**/gestionar/mis-anuncios",
		PostSuccessPattern:  "**/anuncio-publicado.html",
		LoginTimeout:        15 * time.Second,
		PostTimeout:         20 * time.Second,
		VisiblePause:        10 * time.Second,
		FormSettle:          time.Second,
		Selectors:           DefaultSelectors(),
	}
}

func testListing() Listing {
	return Listing{
		Title:       "Piso en alquiler",
		Description: "Luminoso, tres habitaciones",
		Category:    "Inmobiliaria",
		Subcategory: "Pisos",
		Region:      "Madrid",
	}
}
