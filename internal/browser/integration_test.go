package browser

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"os/exec"
	"testing"
	"time"

	cdpnetwork "github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/sessionkeeper/internal/config"
	"github.com/xkilldash9x/sessionkeeper/internal/harvest"
	"github.com/xkilldash9x/sessionkeeper/internal/network"
)

const integrationTimeout = 90 * time.Second

// findChrome returns a Chromium binary, or "" if none is installed.
func findChrome() string {
	if p := os.Getenv("SESSIONKEEPER_CHROME"); p != "" {
		return p
	}
	for _, name := range []string{"headless-shell", "chromium", "chromium-browser", "google-chrome", "google-chrome-stable"} {
		if p, err := exec.LookPath(name); err == nil {
			return p
		}
	}
	return ""
}

const targetPage = `<!doctype html>
<html><head><title>view</title></head>
<body>
<script>
document.cookie = "js=1; path=/";
setTimeout(function () {
  var s = document.createElement("script");
  s.src = "/static/app.js";
  document.body.appendChild(s);
}, 300);
</script>
</body></html>`

func newTargetServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/user/view", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "srv", Value: "1", Path: "/"})
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, targetPage)
	})
	mux.HandleFunc("/static/app.js", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "res", Value: "2", Path: "/"})
		w.Header().Set("Content-Type", "application/javascript")
		fmt.Fprint(w, "void 0;")
	})
	mux.HandleFunc("/signin", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html><body>sign in</body></html>")
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func newTestManager(t *testing.T, ctx context.Context) *Manager {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping browser integration test in short mode")
	}
	chrome := findChrome()
	if chrome == "" {
		t.Skip("no Chromium binary found")
	}

	cfg := config.NewDefaultConfig().Browser
	cfg.ExecPath = chrome
	cfg.UserDataDir = t.TempDir()
	cfg.NavigationTimeout = 30 * time.Second

	m, err := NewManager(ctx, cfg, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = m.Shutdown(shutdownCtx)
	})
	return m
}

func TestSessionIntegration(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), integrationTimeout)
	defer cancel()

	server := newTargetServer(t)
	m := newTestManager(t, ctx)
	target := config.TargetConfig{URL: server.URL + "/user/view", Match: server.URL + "/user/view*"}

	s, err := m.NewSession(ctx, target)
	require.NoError(t, err)
	defer s.Close()

	t.Run("document cookie", func(t *testing.T) {
		cookie, err := s.DocumentCookie(ctx)
		require.NoError(t, err)
		assert.Contains(t, cookie, "srv=1")
		assert.Contains(t, cookie, "js=1")
	})

	t.Run("stealth persona is applied", func(t *testing.T) {
		var webdriver bool
		var languages []string
		var ua string
		require.NoError(t, s.runActions(ctx,
			chromedp.Evaluate(`navigator.webdriver`, &webdriver),
			chromedp.Evaluate(`navigator.languages`, &languages),
			chromedp.Evaluate(`navigator.userAgent`, &ua),
		))
		persona := config.NewDefaultConfig().Browser.Persona
		assert.False(t, webdriver)
		assert.Equal(t, persona.Languages, languages)
		assert.Equal(t, persona.UserAgent, ua)
	})

	t.Run("reload stays on target", func(t *testing.T) {
		require.NoError(t, s.Reload(ctx))
	})

	t.Run("browser cookies export", func(t *testing.T) {
		cookies, err := s.Cookies(ctx)
		require.NoError(t, err)
		names := map[string]bool{}
		for _, c := range cookies {
			names[c.Name] = true
		}
		assert.True(t, names["srv"])
	})

	t.Run("harvest collects every source", func(t *testing.T) {
		require.NoError(t, s.Reload(ctx))

		netCfg := config.NewDefaultConfig().Network
		fetcher, err := network.NewFetcher(netCfg, config.HarvestConfig{}, zaptest.NewLogger(t))
		require.NoError(t, err)
		fetcher.UseCookieSource(s)

		h := harvest.New(harvest.Capabilities{Page: s, Observer: s, Watcher: s, Fetcher: fetcher},
			target.URL, config.HarvestConfig{Window: 3 * time.Second, SideFetch: true, SideFetchConcurrency: 2},
			zaptest.NewLogger(t))
		res := h.Harvest(ctx)

		assert.Contains(t, res.Fragments, "srv=1")
		assert.Contains(t, res.Fragments, "js=1")
		assert.Positive(t, res.Counts.Response, "the provoked response carries Set-Cookie")
	})

	t.Run("side fetch to another host carries that host's cookies", func(t *testing.T) {
		cdn := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if c, err := r.Cookie("cdn_sess"); err == nil {
				http.SetCookie(w, &http.Cookie{Name: "cdn_seen", Value: c.Value, Path: "/"})
			}
		}))
		defer cdn.Close()
		cdnURL, err := url.Parse(cdn.URL)
		require.NoError(t, err)
		// A different host name for the same listener, so the cookie belongs
		// to a host other than the target's.
		otherHost := "http://localhost:" + cdnURL.Port()

		require.NoError(t, s.runActions(ctx, cdpnetwork.SetCookie("cdn_sess", "abc").WithURL(otherHost+"/")))

		fetcher, err := network.NewFetcher(config.NewDefaultConfig().Network, config.HarvestConfig{}, zaptest.NewLogger(t))
		require.NoError(t, err)
		fetcher.UseCookieSource(s)

		headers, err := fetcher.Fetch(ctx, otherHost+"/pixel.gif")
		require.NoError(t, err)
		assert.Equal(t, "cdn_seen=abc; Path=/", headers.Get("Set-Cookie"))
	})

	t.Run("off target", func(t *testing.T) {
		_, err := m.NewSession(ctx, config.TargetConfig{URL: server.URL + "/signin", Match: server.URL + "/user/view*"})
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrOffTarget))
	})
}
