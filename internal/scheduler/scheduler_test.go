package scheduler

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hotel-crawler/hotelspider/internal/config"
	"github.com/hotel-crawler/hotelspider/internal/frontier"
	"github.com/hotel-crawler/hotelspider/internal/page"
	"github.com/hotel-crawler/hotelspider/internal/politeness"
	"github.com/hotel-crawler/hotelspider/internal/robots"
	"github.com/hotel-crawler/hotelspider/internal/urlutil"
)

// fakeRenderer serves scripted outcomes per URL: the queued errors are
// returned first, then every render succeeds.
type fakeRenderer struct {
	mu       sync.Mutex
	failures map[string][]error
	calls    map[string]int

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
	delay       time.Duration
}

func newFakeRenderer() *fakeRenderer {
	return &fakeRenderer{
		failures: make(map[string][]error),
		calls:    make(map[string]int),
	}
}

func (r *fakeRenderer) failNext(url string, errs ...error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures[url] = append(r.failures[url], errs...)
}

func (r *fakeRenderer) callCount(url string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[url]
}

func (r *fakeRenderer) Render(ctx context.Context, url, userAgent string) (*page.Page, error) {
	cur := r.inFlight.Add(1)
	defer r.inFlight.Add(-1)
	for {
		prev := r.maxInFlight.Load()
		if cur <= prev || r.maxInFlight.CompareAndSwap(prev, cur) {
			break
		}
	}

	if r.delay > 0 {
		select {
		case <-time.After(r.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	r.mu.Lock()
	r.calls[url]++
	if queued := r.failures[url]; len(queued) > 0 {
		err := queued[0]
		r.failures[url] = queued[1:]
		r.mu.Unlock()
		return nil, err
	}
	r.mu.Unlock()

	return &page.Page{URL: url, FinalURL: url, Title: "Test Page"}, nil
}

func (r *fakeRenderer) Close() error { return nil }

// fakeExtractor returns scripted outbound links per URL and the page URL
// itself as the record.
type fakeExtractor struct {
	links map[string][]string
}

func (e *fakeExtractor) Extract(p *page.Page) (any, []string) {
	return p.URL, e.links[p.URL]
}

// recordingSink collects written records.
type recordingSink struct {
	mu      sync.Mutex
	records []any
}

func (s *recordingSink) Write(record any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, record)
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func testConfig(seeds ...string) *config.Config {
	cfg := config.Default()
	cfg.Seeds = seeds
	cfg.ConcurrentRequests = 2
	cfg.RequestTimeout = 5 * time.Second
	cfg.RetryBackoff = time.Millisecond
	cfg.RateLimitMin = 0
	cfg.RateLimitMax = 0
	cfg.RespectRobots = false
	return cfg
}

type fixture struct {
	cfg      *config.Config
	frontier *frontier.Frontier
	renderer *fakeRenderer
	sink     *recordingSink
	sched    *Scheduler
}

func newFixture(t *testing.T, cfg *config.Config, links map[string][]string, robotsCache *robots.Cache) *fixture {
	t.Helper()

	canon := urlutil.NewCanonicalizer(cfg.PageSuffix, cfg.Locale)
	front := frontier.New(canon, cfg.MaxDepth, cfg.MaxRetries)
	limiter := politeness.NewDomainLimiter(cfg.RateLimitMin, cfg.RateLimitMax, cfg.RequestsPerSecond)
	if robotsCache == nil {
		robotsCache = robots.NewCache(nil, false)
	}
	rend := newFakeRenderer()
	sink := &recordingSink{}

	return &fixture{
		cfg:      cfg,
		frontier: front,
		renderer: rend,
		sink:     sink,
		sched:    New(cfg, front, limiter, robotsCache, rend, &fakeExtractor{links: links}, sink),
	}
}

func canonical(n int) string {
	return fmt.Sprintf("https://site.example/hotel/ke/page%d.en-gb.html", n)
}

func rawPage(n int) string {
	return fmt.Sprintf("https://site.example/hotel/ke/page%d.html", n)
}

func TestRunVisitsEachAddressOnce(t *testing.T) {
	// page0 links to page1 and page2; both link back to page0 and to each
	// other in differently-localized forms. Every page renders exactly once.
	links := map[string][]string{
		canonical(0): {rawPage(1), rawPage(2), rawPage(1)},
		canonical(1): {rawPage(0), "https://site.example/hotel/ke/page2.de.html"},
		canonical(2): {rawPage(0), rawPage(1)},
	}

	fx := newFixture(t, testConfig(rawPage(0)), links, nil)
	require.NoError(t, fx.sched.Run(context.Background()))

	stats := fx.sched.Stats()
	assert.Equal(t, int64(3), stats.Visited)
	assert.Equal(t, int64(0), stats.Failed)
	for n := 0; n < 3; n++ {
		assert.Equal(t, 1, fx.renderer.callCount(canonical(n)), "page%d", n)
	}
	assert.Equal(t, 3, fx.sink.count())
}

func TestRunRetriesTransientThenSucceeds(t *testing.T) {
	fx := newFixture(t, testConfig(rawPage(0)), nil, nil)

	timeout := &page.Failure{Kind: page.FailureTimeout, URL: canonical(0)}
	fx.renderer.failNext(canonical(0), timeout, timeout, timeout)

	require.NoError(t, fx.sched.Run(context.Background()))

	stats := fx.sched.Stats()
	assert.Equal(t, int64(1), stats.Visited)
	assert.Equal(t, int64(0), stats.Failed)
	assert.Equal(t, int64(3), stats.Retried)
	assert.Equal(t, 4, fx.renderer.callCount(canonical(0)))
	assert.Equal(t, 1, fx.sink.count())
}

func TestRunRetryBudgetExhausted(t *testing.T) {
	cfg := testConfig(rawPage(0))
	cfg.MaxRetries = 2
	fx := newFixture(t, cfg, nil, nil)

	stale := &page.Failure{Kind: page.FailureStale, URL: canonical(0)}
	fx.renderer.failNext(canonical(0), stale, stale, stale, stale)

	require.NoError(t, fx.sched.Run(context.Background()))

	stats := fx.sched.Stats()
	assert.Equal(t, int64(0), stats.Visited)
	assert.Equal(t, int64(1), stats.Failed)
	assert.Equal(t, int64(2), stats.Retried)
	// Initial attempt plus two retries.
	assert.Equal(t, 3, fx.renderer.callCount(canonical(0)))
	assert.Equal(t, 0, fx.sink.count())
}

func TestRunPermanentFailureNotRetried(t *testing.T) {
	fx := newFixture(t, testConfig(rawPage(0)), nil, nil)

	fx.renderer.failNext(canonical(0), &page.Failure{Kind: page.FailureNotFound, URL: canonical(0)})

	require.NoError(t, fx.sched.Run(context.Background()))

	stats := fx.sched.Stats()
	assert.Equal(t, int64(1), stats.Failed)
	assert.Equal(t, int64(0), stats.Retried)
	assert.Equal(t, 1, fx.renderer.callCount(canonical(0)))
}

func TestRunUnknownErrorTreatedAsPermanent(t *testing.T) {
	fx := newFixture(t, testConfig(rawPage(0)), nil, nil)

	fx.renderer.failNext(canonical(0), fmt.Errorf("browser crashed"))

	require.NoError(t, fx.sched.Run(context.Background()))

	stats := fx.sched.Stats()
	assert.Equal(t, int64(1), stats.Failed)
	assert.Equal(t, int64(0), stats.Retried)
}

func TestRunDisallowedNeverRendered(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("User-agent: *\nDisallow: /hotel/private/\n"))
	}))
	defer server.Close()

	open := server.URL + "/hotel/ke/page0.html"
	blocked := server.URL + "/hotel/private/page1.html"
	openCanonical := server.URL + "/hotel/ke/page0.en-gb.html"
	blockedCanonical := server.URL + "/hotel/private/page1.en-gb.html"

	links := map[string][]string{openCanonical: {blocked}}

	cfg := testConfig(open)
	cfg.RespectRobots = true
	fx := newFixture(t, cfg, links, robots.NewCache(server.Client(), true))

	require.NoError(t, fx.sched.Run(context.Background()))

	stats := fx.sched.Stats()
	assert.Equal(t, int64(1), stats.Visited)
	assert.Equal(t, int64(1), stats.Failed)
	assert.Equal(t, 0, fx.renderer.callCount(blockedCanonical))
}

func TestRunConcurrencyBounded(t *testing.T) {
	seeds := make([]string, 12)
	for i := range seeds {
		seeds[i] = rawPage(i)
	}

	cfg := testConfig(seeds...)
	cfg.ConcurrentRequests = 3
	fx := newFixture(t, cfg, nil, nil)
	fx.renderer.delay = 10 * time.Millisecond

	require.NoError(t, fx.sched.Run(context.Background()))

	assert.Equal(t, int64(12), fx.sched.Stats().Visited)
	assert.LessOrEqual(t, fx.renderer.maxInFlight.Load(), int32(3))
}

func TestRunCancellation(t *testing.T) {
	seeds := make([]string, 6)
	for i := range seeds {
		seeds[i] = rawPage(i)
	}

	fx := newFixture(t, testConfig(seeds...), nil, nil)
	fx.renderer.delay = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	require.NoError(t, fx.sched.Run(ctx))

	stats := fx.sched.Stats()
	assert.Less(t, stats.Visited, int64(6))

	// Unfinished work is visible for checkpointing.
	assert.NotEmpty(t, fx.sched.Snapshot())
}

func TestRunDepthLimit(t *testing.T) {
	links := map[string][]string{
		canonical(0): {rawPage(1)},
		canonical(1): {rawPage(2)},
		canonical(2): {rawPage(3)},
	}

	cfg := testConfig(rawPage(0))
	cfg.MaxDepth = 1
	fx := newFixture(t, cfg, links, nil)

	require.NoError(t, fx.sched.Run(context.Background()))

	assert.Equal(t, int64(2), fx.sched.Stats().Visited)
	assert.Equal(t, 0, fx.renderer.callCount(canonical(2)))
}

func TestRunSeedRejectedStillCompletes(t *testing.T) {
	fx := newFixture(t, testConfig(rawPage(0), "https://site.example/not-a-page/"), nil, nil)

	require.NoError(t, fx.sched.Run(context.Background()))

	stats := fx.sched.Stats()
	assert.Equal(t, int64(1), stats.Visited)
	assert.Equal(t, 1, stats.Frontier.Rejected)
}

func TestBackoffGrowsAndCaps(t *testing.T) {
	cfg := testConfig(rawPage(0))
	cfg.RetryBackoff = 100 * time.Millisecond
	fx := newFixture(t, cfg, nil, nil)

	assert.Equal(t, 100*time.Millisecond, fx.sched.backoff(0))
	assert.Equal(t, 200*time.Millisecond, fx.sched.backoff(1))
	assert.Equal(t, 400*time.Millisecond, fx.sched.backoff(2))
	assert.Equal(t, 6400*time.Millisecond, fx.sched.backoff(6))
	// Capped past the maximum shift.
	assert.Equal(t, 6400*time.Millisecond, fx.sched.backoff(10))
}
