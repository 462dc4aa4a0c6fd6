package browser

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/sessionkeeper/internal/config"
	"github.com/xkilldash9x/sessionkeeper/internal/harvest"
)

const defaultNavigationTimeout = 60 * time.Second

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Session is one tab kept on the target page.
type Session struct {
	id         string
	ctx        context.Context
	cancel     context.CancelFunc
	target     config.TargetConfig
	navTimeout time.Duration
	setup      chromedp.Tasks
	logger     *zap.Logger

	closeOnce sync.Once
	onClose   func()
}

// newSession prepares a tab. setup runs on it before the first navigation.
func newSession(browserCtx context.Context, target config.TargetConfig, navTimeout time.Duration, setup chromedp.Tasks, logger *zap.Logger) *Session {
	if navTimeout <= 0 {
		navTimeout = defaultNavigationTimeout
	}
	id := uuid.NewString()
	tabCtx, cancel := chromedp.NewContext(browserCtx)
	return &Session{
		id:         id,
		ctx:        tabCtx,
		cancel:     cancel,
		target:     target,
		navTimeout: navTimeout,
		setup:      setup,
		logger:     logger.Named("session").With(zap.String("session_id", id)),
	}
}

// open enables network events, runs the tab setup, navigates to the target
// and checks where the tab ended up.
func (s *Session) open(ctx context.Context) error {
	s.logger.Info("Opening target.", zap.String("url", s.target.URL))

	navCtx, cancel := context.WithTimeout(ctx, s.navTimeout)
	defer cancel()
	actions := append(chromedp.Tasks{network.Enable()}, s.setup...)
	actions = append(actions, chromedp.Navigate(s.target.URL))
	if err := s.runActions(navCtx, actions); err != nil {
		return fmt.Errorf("failed to open %s: %w", s.target.URL, err)
	}
	return s.checkTarget(ctx)
}

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id }

// Target returns the page the session is kept on.
func (s *Session) Target() config.TargetConfig { return s.target }

// Done is closed when the tab goes away, either through Close or because the
// browser exited.
func (s *Session) Done() <-chan struct{} { return s.ctx.Done() }

// Close closes the tab. It is safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.logger.Debug("Closing browser session.")
		s.cancel()
		if s.onClose != nil {
			s.onClose()
		}
	})
}

// URL returns the tab's current location.
func (s *Session) URL(ctx context.Context) (string, error) {
	var loc string
	if err := s.runActions(ctx, chromedp.Location(&loc)); err != nil {
		return "", fmt.Errorf("failed to read location: %w", err)
	}
	return loc, nil
}

func (s *Session) checkTarget(ctx context.Context) error {
	loc, err := s.URL(ctx)
	if err != nil {
		return err
	}
	if !MatchURL(s.target.Match, loc) {
		return fmt.Errorf("%w: %s", ErrOffTarget, loc)
	}
	return nil
}

// Reload reloads the page and waits for it to load. It returns ErrOffTarget
// (wrapped) if the reload landed somewhere else, such as a login page.
func (s *Session) Reload(ctx context.Context) error {
	navCtx, cancel := context.WithTimeout(ctx, s.navTimeout)
	defer cancel()
	if err := s.runActions(navCtx, chromedp.Reload()); err != nil {
		return fmt.Errorf("reload failed: %w", err)
	}
	return s.checkTarget(ctx)
}

// DocumentCookie returns document.cookie.
func (s *Session) DocumentCookie(ctx context.Context) (string, error) {
	var cookie string
	if err := s.runActions(ctx, chromedp.Evaluate(`document.cookie`, &cookie)); err != nil {
		return "", fmt.Errorf("failed to read document.cookie: %w", err)
	}
	return cookie, nil
}

// Provoke fetches rawURL from inside the page with credentials included and
// waits for the response status.
func (s *Session) Provoke(ctx context.Context, rawURL string) error {
	quoted, err := json.Marshal(rawURL)
	if err != nil {
		return err
	}
	expr := fmt.Sprintf(`fetch(%s, {credentials: 'include'}).then(r => r.status)`, quoted)

	var status int
	if err := s.runActions(ctx, chromedp.Evaluate(expr, &status, awaitPromise)); err != nil {
		return fmt.Errorf("in-page fetch failed: %w", err)
	}
	s.logger.Debug("In-page fetch complete.", zap.String("url", rawURL), zap.Int("status", status))
	return nil
}

func awaitPromise(p *runtime.EvaluateParams) *runtime.EvaluateParams {
	return p.WithAwaitPromise(true)
}

// ObserveResponses delivers every response the tab receives to fn, including
// the raw header set reported by responseReceivedExtraInfo, which carries
// Set-Cookie lines the regular event omits. The listener is removed when the
// returned func is called or ctx ends.
func (s *Session) ObserveResponses(ctx context.Context, fn func(harvest.Response)) (func(), error) {
	lctx, release := CombineContext(s.ctx, ctx)
	chromedp.ListenTarget(lctx, func(ev interface{}) {
		if lctx.Err() != nil {
			return
		}
		switch e := ev.(type) {
		case *network.EventResponseReceived:
			if e.Response == nil {
				return
			}
			fn(harvest.Response{URL: e.Response.URL, Headers: convertHeaders(e.Response.Headers)})
		case *network.EventResponseReceivedExtraInfo:
			fn(harvest.Response{Headers: convertHeaders(e.Headers)})
		}
	})

	if err := s.runActions(ctx, network.Enable()); err != nil {
		release()
		return nil, fmt.Errorf("failed to enable network events: %w", err)
	}
	return release, nil
}

// WatchResources delivers every element inserted into the document to fn,
// with its src resolved against the page URL. The full document is requested
// first so the browser reports insertions anywhere in the tree.
func (s *Session) WatchResources(ctx context.Context, fn func(harvest.Resource)) (func(), error) {
	loc, err := s.URL(ctx)
	if err != nil {
		return nil, err
	}
	base, err := url.Parse(loc)
	if err != nil {
		return nil, fmt.Errorf("invalid page url %q: %w", loc, err)
	}

	lctx, release := CombineContext(s.ctx, ctx)
	emit := func(n *cdp.Node) {
		walkNodes(n, func(n *cdp.Node) {
			if lctx.Err() != nil {
				return
			}
			fn(harvest.Resource{Tag: n.NodeName, URL: resolveSrc(base, n.AttributeValue("src"))})
		})
	}
	chromedp.ListenTarget(lctx, func(ev interface{}) {
		switch e := ev.(type) {
		case *dom.EventChildNodeInserted:
			emit(e.Node)
		case *dom.EventSetChildNodes:
			for _, n := range e.Nodes {
				emit(n)
			}
		}
	})

	err = s.runActions(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		_, err := dom.GetDocument().WithDepth(-1).Do(ctx)
		return err
	}))
	if err != nil {
		release()
		return nil, fmt.Errorf("failed to request document: %w", err)
	}
	return release, nil
}

// Cookies exports the browser's cookies for the target URL.
func (s *Session) Cookies(ctx context.Context) ([]*http.Cookie, error) {
	return s.CookiesFor(ctx, s.target.URL)
}

// CookiesFor exports the cookies the browser would send to any of urls, for
// seeding an HTTP client that acts on the session's behalf.
func (s *Session) CookiesFor(ctx context.Context, urls ...string) ([]*http.Cookie, error) {
	var cookies []*network.Cookie
	err := s.runActions(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		cookies, err = network.GetCookies().WithURLs(urls).Do(ctx)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to export cookies: %w", err)
	}
	return convertCookies(cookies), nil
}

// runActions executes actions on the tab, bounded by both the tab's lifetime
// and ctx.
func (s *Session) runActions(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := CombineContext(s.ctx, ctx)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}

// convertHeaders flattens CDP headers into name-sorted pairs. Non-string
// values are formatted with %v.
func convertHeaders(h network.Headers) []harvest.Header {
	out := make([]harvest.Header, 0, len(h))
	for name, v := range h {
		value, ok := v.(string)
		if !ok {
			value = fmt.Sprintf("%v", v)
		}
		out = append(out, harvest.Header{Name: name, Value: value})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func convertCookies(in []*network.Cookie) []*http.Cookie {
	out := make([]*http.Cookie, 0, len(in))
	for _, c := range in {
		if c == nil {
			continue
		}
		hc := &http.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HttpOnly: c.HTTPOnly,
		}
		if !c.Session && c.Expires > 0 {
			hc.Expires = time.Unix(int64(c.Expires), 0)
		}
		out = append(out, hc)
	}
	return out
}

// walkNodes visits n and its known descendants.
func walkNodes(n *cdp.Node, visit func(*cdp.Node)) {
	if n == nil {
		return
	}
	visit(n)
	for _, c := range n.Children {
		walkNodes(c, visit)
	}
}

func resolveSrc(base *url.URL, src string) string {
	if src == "" {
		return ""
	}
	ref, err := url.Parse(src)
	if err != nil {
		return ""
	}
	return base.ResolveReference(ref).String()
}
