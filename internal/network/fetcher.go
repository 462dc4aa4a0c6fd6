package network

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"

	"go.uber.org/zap"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/sessionkeeper/internal/config"
)

// CookieSource reports the cookies a browser would send to the given URLs.
type CookieSource interface {
	CookiesFor(ctx context.Context, urls ...string) ([]*http.Cookie, error)
}

// Fetcher issues credentialed GET requests: cookies seeded from the browser
// are replayed, and cookies set by responses are kept for later requests.
// It is safe for concurrent use once configured.
type Fetcher struct {
	client    *http.Client
	jar       *cookiejar.Jar
	limiter   *rate.Limiter
	source    CookieSource
	userAgent string
	maxDrain  int64
	logger    *zap.Logger
}

// NewFetcher builds a Fetcher from the network settings and the side-fetch
// rate limits.
func NewFetcher(netCfg config.NetworkConfig, harvestCfg config.HarvestConfig, logger *zap.Logger) (*Fetcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	clientCfg := NewDefaultClientConfig()
	clientCfg.IgnoreTLSErrors = netCfg.IgnoreTLSErrors
	if netCfg.Timeout > 0 {
		clientCfg.RequestTimeout = netCfg.Timeout
	}
	clientCfg.Jar = jar
	clientCfg.Logger = logger.Named("httpclient")

	limit := rate.Inf
	if harvestCfg.SideFetchRate > 0 {
		limit = rate.Limit(harvestCfg.SideFetchRate)
	}
	burst := harvestCfg.SideFetchBurst
	if burst <= 0 {
		burst = 1
	}

	return &Fetcher{
		client:    NewClient(clientCfg),
		jar:       jar,
		limiter:   rate.NewLimiter(limit, burst),
		userAgent: netCfg.UserAgent,
		maxDrain:  netCfg.MaxDrainBytes,
		logger:    logger.Named("fetcher"),
	}, nil
}

// Seed adds cookies the browser holds for u so they accompany requests.
func (f *Fetcher) Seed(u *url.URL, cookies []*http.Cookie) {
	if len(cookies) == 0 {
		return
	}
	f.jar.SetCookies(u, cookies)
	f.logger.Debug("Seeded cookie jar.", zap.String("host", u.Host), zap.Int("count", len(cookies)))
}

// UseCookieSource makes every Fetch first copy the source's cookies for the
// requested URL into the jar, so requests to any host carry what the browser
// currently holds for it. Call it before the first Fetch.
func (f *Fetcher) UseCookieSource(src CookieSource) {
	f.source = src
}

// Cookies returns the jar's cookies for u.
func (f *Fetcher) Cookies(u *url.URL) []*http.Cookie {
	return f.jar.Cookies(u)
}

// Fetch performs a GET of rawURL and returns the response headers. The body
// is drained up to the configured limit and discarded. Only http and https
// URLs are fetched.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (http.Header, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid url %q: %w", rawURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}

	if err := f.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	if f.source != nil {
		cookies, err := f.source.CookiesFor(ctx, u.String())
		if err != nil {
			f.logger.Debug("Could not read browser cookies, fetching without them.",
				zap.String("url", u.Redacted()), zap.Error(err))
		} else {
			f.Seed(u, cookies)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}
	req.Header.Set("Accept", "*/*")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request to %s failed: %w", u.Redacted(), err)
	}
	defer resp.Body.Close()

	if f.maxDrain > 0 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, f.maxDrain))
	}

	f.logger.Debug("Side-fetch complete.",
		zap.String("url", u.Redacted()),
		zap.Int("status", resp.StatusCode),
		zap.Int("set_cookie", len(resp.Header.Values("Set-Cookie"))),
	)
	return resp.Header.Clone(), nil
}
