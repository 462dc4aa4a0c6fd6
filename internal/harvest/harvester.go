// Package harvest collects the cookies of a live page within a short time
// window, from the page's cookie string, from the headers of responses the
// page receives, and from side-fetches of script and image resources the
// page inserts while the window is open.
package harvest

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/xkilldash9x/sessionkeeper/internal/config"
)

// DefaultWindow is how long a harvest keeps listening.
const DefaultWindow = 3 * time.Second

// Page is the live page being harvested.
type Page interface {
	// DocumentCookie returns the page's script-visible cookie string.
	DocumentCookie(ctx context.Context) (string, error)
	// Provoke issues a credentialed request to url from inside the page.
	Provoke(ctx context.Context, url string) error
}

// Header is one response header line.
type Header struct {
	Name  string
	Value string
}

// Response is a network response observed on the page.
type Response struct {
	URL     string
	Headers []Header
}

// Resource is an element inserted into the page's document.
type Resource struct {
	// Tag is the upper-case node name, e.g. SCRIPT.
	Tag string
	// URL is the absolute source URL, empty when the element has none.
	URL string
}

// ResponseObserver delivers responses the page receives to fn until the
// returned release func is called or ctx ends. fn may be called from any
// goroutine.
type ResponseObserver interface {
	ObserveResponses(ctx context.Context, fn func(Response)) (release func(), err error)
}

// ResourceWatcher delivers inserted document nodes to fn until the returned
// release func is called or ctx ends.
type ResourceWatcher interface {
	WatchResources(ctx context.Context, fn func(Resource)) (release func(), err error)
}

// Fetcher performs a credentialed request and returns the response headers.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (http.Header, error)
}

// Capabilities are the page facilities a Harvester draws on. Only Page is
// required; a nil Observer, Watcher or Fetcher disables that source.
type Capabilities struct {
	Page     Page
	Observer ResponseObserver
	Watcher  ResourceWatcher
	Fetcher  Fetcher
}

// Counts is the number of distinct non-empty fragments each source contributed.
type Counts struct {
	Document  int `json:"document"`
	Response  int `json:"response"`
	SideFetch int `json:"side_fetch"`
}

// Result is the outcome of one harvest.
type Result struct {
	ID        string        `json:"id"`
	Cookies   string        `json:"cookies"`
	Fragments []string      `json:"fragments"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Counts    Counts        `json:"counts"`
	// SideFetches is the number of side-fetches issued; SideFetchErrors of
	// those failed.
	SideFetches     int `json:"side_fetches"`
	SideFetchErrors int `json:"side_fetch_errors"`
	// Late is the number of fragments that arrived after the window closed.
	Late int `json:"late"`
}

// Harvester runs time-boxed cookie harvests against one page.
type Harvester struct {
	caps        Capabilities
	target      string
	window      time.Duration
	sideFetch   bool
	concurrency int64
	logger      *zap.Logger
}

// New builds a Harvester. target is the URL the page is provoked with.
func New(caps Capabilities, target string, cfg config.HarvestConfig, logger *zap.Logger) *Harvester {
	if logger == nil {
		logger = zap.NewNop()
	}
	window := cfg.Window
	if window <= 0 {
		window = DefaultWindow
	}
	concurrency := int64(cfg.SideFetchConcurrency)
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Harvester{
		caps:        caps,
		target:      target,
		window:      window,
		sideFetch:   cfg.SideFetch && caps.Fetcher != nil,
		concurrency: concurrency,
		logger:      logger.Named("harvester"),
	}
}

// Window returns how long each harvest listens.
func (h *Harvester) Window() time.Duration { return h.window }

// run is the state of one harvest call.
type run struct {
	h       *Harvester
	ctx     context.Context
	acc     *accumulator
	logger  *zap.Logger
	sem     *semaphore.Weighted
	wg      sync.WaitGroup
	mu      sync.Mutex
	fetched map[string]struct{}
	issued  int
	failed  int
	// closed is set under mu once the window is over; no side-fetch may
	// start after that.
	closed bool
}

// Harvest collects cookies for the configured window and returns them joined
// with "; ". It never fails: every source error is logged and skipped, and a
// cancelled ctx ends the window early with whatever was collected. Nothing it
// installs on the page outlives the call.
func (h *Harvester) Harvest(ctx context.Context) Result {
	res := Result{ID: uuid.NewString(), StartedAt: time.Now()}
	logger := h.logger.With(zap.String("harvest_id", res.ID))

	wctx, cancel := context.WithTimeout(ctx, h.window)
	defer cancel()

	r := &run{
		h:       h,
		ctx:     wctx,
		acc:     newAccumulator(),
		logger:  logger,
		sem:     semaphore.NewWeighted(h.concurrency),
		fetched: make(map[string]struct{}),
	}

	r.seedDocument()

	var releases []func()
	if h.caps.Observer != nil {
		release, err := h.caps.Observer.ObserveResponses(wctx, r.onResponse)
		if err != nil {
			logger.Warn("Could not observe responses.", zap.Error(err))
		} else {
			releases = append(releases, release)
		}
	}
	if h.sideFetch && h.caps.Watcher != nil {
		release, err := h.caps.Watcher.WatchResources(wctx, r.onResource)
		if err != nil {
			logger.Warn("Could not watch inserted resources.", zap.Error(err))
		} else {
			releases = append(releases, release)
		}
	}

	if h.target != "" {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			if err := h.caps.Page.Provoke(wctx, h.target); err != nil && wctx.Err() == nil {
				logger.Debug("Provoking request failed.", zap.String("url", h.target), zap.Error(err))
			}
		}()
	}

	<-wctx.Done()

	for i := len(releases) - 1; i >= 0; i-- {
		releases[i]()
	}
	res.Fragments = r.acc.seal()
	cancel()
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.wg.Wait()

	counts, late := r.acc.stats()
	res.Counts = Counts{
		Document:  counts[SourceDocument],
		Response:  counts[SourceResponse],
		SideFetch: counts[SourceSideFetch],
	}
	res.Late = late
	r.mu.Lock()
	res.SideFetches, res.SideFetchErrors = r.issued, r.failed
	r.mu.Unlock()
	res.Cookies = strings.Join(res.Fragments, "; ")
	res.Duration = time.Since(res.StartedAt)

	logger.Info("Harvest complete.",
		zap.Int("fragments", len(res.Fragments)),
		zap.Int("from_document", res.Counts.Document),
		zap.Int("from_responses", res.Counts.Response),
		zap.Int("from_side_fetches", res.Counts.SideFetch),
		zap.Duration("duration", res.Duration),
	)
	return res
}

func (r *run) seedDocument() {
	cookie, err := r.h.caps.Page.DocumentCookie(r.ctx)
	if err != nil {
		r.logger.Warn("Could not read document cookie.", zap.Error(err))
		return
	}
	r.acc.addSplit(SourceDocument, cookie, ";")
}

// onResponse takes every header whose name mentions cookie. Folded headers
// arrive newline-joined and contribute one fragment per line.
func (r *run) onResponse(resp Response) {
	for _, hdr := range resp.Headers {
		if !strings.Contains(strings.ToLower(hdr.Name), "cookie") {
			continue
		}
		r.acc.addSplit(SourceResponse, hdr.Value, "\n")
	}
}

func (r *run) onResource(res Resource) {
	if res.URL == "" || (res.Tag != "SCRIPT" && res.Tag != "IMG") {
		return
	}
	if r.ctx.Err() != nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	if _, dup := r.fetched[res.URL]; dup {
		return
	}
	r.fetched[res.URL] = struct{}{}
	r.issued++

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.sideFetch(res.URL); err != nil {
			r.mu.Lock()
			r.failed++
			r.mu.Unlock()
			if r.ctx.Err() == nil {
				r.logger.Debug("Side-fetch failed.", zap.String("url", res.URL), zap.Error(err))
			}
		}
	}()
}

func (r *run) sideFetch(url string) error {
	if err := r.sem.Acquire(r.ctx, 1); err != nil {
		return err
	}
	defer r.sem.Release(1)

	headers, err := r.h.caps.Fetcher.Fetch(r.ctx, url)
	if err != nil {
		return err
	}
	for _, v := range headers.Values("Set-Cookie") {
		r.acc.addSplit(SourceSideFetch, v, ";")
	}
	return nil
}
