// Package renderer renders document pages with headless Chromium.
package renderer

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/hotel-crawler/hotelspider/internal/page"
)

// Options configures the renderer.
type Options struct {
	// PoolSize is the number of browser contexts; sized to the worker count
	// so each crawl worker effectively owns one browser for its lifetime.
	PoolSize int

	// WaitSelector is the element that must become visible before the page
	// counts as rendered. Empty waits for the document body only.
	WaitSelector string

	// ChromiumPath overrides the discovered Chromium executable.
	ChromiumPath string
}

// Renderer implements page.Renderer on top of chromedp.
type Renderer struct {
	opts      Options
	allocator context.Context
	cancel    context.CancelFunc

	mu     sync.Mutex
	closed bool
	pool   chan context.Context
}

// ErrClosed is returned by Render after Close.
var ErrClosed = errors.New("renderer is closed")

var _ page.Renderer = (*Renderer)(nil)

// New starts a Chromium allocator and a pool of browser contexts.
func New(opts Options) (*Renderer, error) {
	if opts.PoolSize < 1 {
		opts.PoolSize = 1
	}

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-background-networking", true),
		chromedp.Flag("mute-audio", true),
		chromedp.Flag("window-size", "1920,1080"),
	)
	if opts.ChromiumPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.ChromiumPath))
	}

	r := &Renderer{opts: opts}
	r.allocator, r.cancel = chromedp.NewExecAllocator(context.Background(), allocOpts...)

	r.pool = make(chan context.Context, opts.PoolSize)
	for i := 0; i < opts.PoolSize; i++ {
		browserCtx, _ := chromedp.NewContext(r.allocator)
		r.pool <- browserCtx
	}

	return r, nil
}

// Render loads the page and returns its settled markup. Failures are
// reported as *page.Failure values from the closed classification set.
func (r *Renderer) Render(ctx context.Context, url, userAgent string) (*page.Page, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrClosed
	}
	r.mu.Unlock()

	var browserCtx context.Context
	select {
	case browserCtx = <-r.pool:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { r.pool <- browserCtx }()

	runCtx, cancel := context.WithCancel(browserCtx)
	defer cancel()
	if deadline, ok := ctx.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		runCtx, cancelDeadline = context.WithDeadline(runCtx, deadline)
		defer cancelDeadline()
	}
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	start := time.Now()

	rec := &statusRecorder{}
	chromedp.ListenTarget(runCtx, rec.record)

	waitAction := chromedp.WaitReady("body", chromedp.ByQuery)
	if r.opts.WaitSelector != "" {
		waitAction = chromedp.WaitVisible(r.opts.WaitSelector, chromedp.ByQuery)
	}

	var html, title, finalURL string
	err := chromedp.Run(runCtx,
		network.Enable(),
		chromedp.ActionFunc(func(ctx context.Context) error {
			return emulation.SetUserAgentOverride(userAgent).Do(ctx)
		}),
		chromedp.Navigate(url),
		waitAction,
		chromedp.Location(&finalURL),
		chromedp.Title(&title),
		chromedp.ActionFunc(func(ctx context.Context) error {
			node, err := dom.GetDocument().Do(ctx)
			if err != nil {
				return err
			}
			html, err = dom.GetOuterHTML().WithNodeID(node.NodeID).Do(ctx)
			return err
		}),
	)
	statusCode := rec.status()
	if err != nil {
		return nil, classify(url, err, statusCode, ctx)
	}
	if failure := classifyStatus(url, statusCode); failure != nil {
		return nil, failure
	}

	return &page.Page{
		URL:        url,
		FinalURL:   finalURL,
		HTML:       html,
		Title:      title,
		StatusCode: statusCode,
		RenderTime: time.Since(start),
	}, nil
}

// statusRecorder captures the main document's response status. Target events
// arrive on chromedp's dispatch goroutine while Run is still in flight; the
// mutex makes the first recorded status safe to read after Run returns.
type statusRecorder struct {
	mu   sync.Mutex
	code int
}

func (s *statusRecorder) record(ev interface{}) {
	e, ok := ev.(*network.EventResponseReceived)
	if !ok || e.Type != network.ResourceTypeDocument {
		return
	}
	s.mu.Lock()
	if s.code == 0 {
		s.code = int(e.Response.Status)
	}
	s.mu.Unlock()
}

func (s *statusRecorder) status() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.code
}

// classify maps a chromedp error onto the closed failure set.
func classify(url string, err error, statusCode int, ctx context.Context) *page.Failure {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &page.Failure{Kind: page.FailureTimeout, URL: url, Err: err}
	}
	if failure := classifyStatus(url, statusCode); failure != nil {
		failure.Err = err
		return failure
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "detached"),
		strings.Contains(msg, "node not found"),
		strings.Contains(msg, "waiting for target"):
		// The page changed or the target went away mid-capture; a fresh
		// navigation usually succeeds.
		return &page.Failure{Kind: page.FailureStale, URL: url, Err: err}
	default:
		return &page.Failure{Kind: page.FailureNavigation, URL: url, Err: err}
	}
}

// classifyStatus maps HTTP statuses that count as failures. Server errors
// are transient, missing documents are permanent.
func classifyStatus(url string, statusCode int) *page.Failure {
	switch {
	case statusCode == 404 || statusCode == 410:
		return &page.Failure{Kind: page.FailureNotFound, URL: url}
	case statusCode >= 500:
		return &page.Failure{Kind: page.FailureStale, URL: url}
	case statusCode >= 400:
		return &page.Failure{Kind: page.FailureNavigation, URL: url}
	}
	return nil
}

// Close tears down the browser pool and the allocator. The pool channel is
// never closed: Close reclaims every context instead, waiting for in-flight
// renders to hand theirs back, so a racing Render returns its context to the
// pool without panicking. Close is idempotent.
func (r *Renderer) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	for i := 0; i < r.opts.PoolSize; i++ {
		chromedp.Cancel(<-r.pool)
	}
	r.cancel()
	return nil
}
