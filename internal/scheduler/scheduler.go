// Package scheduler drives fetch, extract, and enqueue cycles over the
// frontier with bounded concurrency.
package scheduler

import (
	"context"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/hotel-crawler/hotelspider/internal/config"
	"github.com/hotel-crawler/hotelspider/internal/frontier"
	"github.com/hotel-crawler/hotelspider/internal/page"
	"github.com/hotel-crawler/hotelspider/internal/politeness"
	"github.com/hotel-crawler/hotelspider/internal/robots"
)

// idlePoll is how long an idle worker sleeps before re-checking the frontier.
const idlePoll = 50 * time.Millisecond

// maxBackoffShift caps the exponential retry backoff at base * 2^6.
const maxBackoffShift = 6

// Extractor pulls a record and raw outbound links out of a rendered page.
// The scheduler does not interpret records; it only forwards them.
type Extractor interface {
	Extract(p *page.Page) (record any, links []string)
}

// Sink receives extracted records. Delivery is fire-and-forget: sinks handle
// and log their own failures.
type Sink interface {
	Write(record any)
}

// Stats holds scheduler counters.
type Stats struct {
	Processed int64
	Visited   int64
	Failed    int64
	Retried   int64
	Frontier  frontier.Stats
	Elapsed   time.Duration
}

// Scheduler owns a crawl run. It is the only active component: the frontier,
// rate limiter, and robots cache are passive services it calls.
type Scheduler struct {
	cfg       *config.Config
	frontier  *frontier.Frontier
	limiter   *politeness.DomainLimiter
	robots    *robots.Cache
	renderer  page.Renderer
	extractor Extractor
	sink      Sink

	processed atomic.Int64
	visited   atomic.Int64
	failed    atomic.Int64
	retried   atomic.Int64
	startTime time.Time
}

// New wires a scheduler from its collaborators.
func New(
	cfg *config.Config,
	f *frontier.Frontier,
	limiter *politeness.DomainLimiter,
	robotsCache *robots.Cache,
	renderer page.Renderer,
	extractor Extractor,
	sink Sink,
) *Scheduler {
	return &Scheduler{
		cfg:       cfg,
		frontier:  f,
		limiter:   limiter,
		robots:    robotsCache,
		renderer:  renderer,
		extractor: extractor,
		sink:      sink,
	}
}

// Run seeds the frontier and processes it with a fixed pool of workers until
// the frontier is drained or ctx is cancelled. Cancellation is observed
// between dispatch steps, never mid-render; entries left in flight at
// cancellation remain visible through Snapshot.
func (s *Scheduler) Run(ctx context.Context) error {
	s.startTime = time.Now()

	seeded := 0
	for _, seed := range s.cfg.Seeds {
		if s.frontier.Enqueue(seed, 0) {
			seeded++
		} else {
			log.Warn().Str("seed", seed).Msg("seed address rejected")
		}
	}
	log.Info().Int("seeds", seeded).Int("workers", s.cfg.ConcurrentRequests).Msg("crawl started")

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < s.cfg.ConcurrentRequests; i++ {
		id := i
		g.Go(func() error {
			s.worker(ctx, id)
			return nil
		})
	}
	err := g.Wait()
	s.frontier.Close()
	return err
}

// worker is one sequential dequeue-process loop.
func (s *Scheduler) worker(ctx context.Context, id int) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		entry, ok := s.frontier.Dequeue()
		if !ok {
			if s.frontier.IsDrained() {
				return
			}
			// Empty but not drained: another worker may still discover
			// links, or a retry is waiting out its backoff.
			select {
			case <-time.After(idlePoll):
			case <-ctx.Done():
				return
			}
			continue
		}

		s.dispatch(ctx, entry)
	}
}

// dispatch runs the per-entry sequence: policy check, rate-limit wait,
// render, then either retry/fail or extract and enqueue discovered links.
func (s *Scheduler) dispatch(ctx context.Context, entry *frontier.Entry) {
	addr := entry.Address
	agent := s.pickAgent()
	s.processed.Add(1)

	if !s.robots.Allowed(ctx, addr, agent) {
		// Expected outcome, not an error.
		log.Debug().Str("url", addr.Canonical).Msg("disallowed by robots policy")
		s.frontier.MarkFailed(addr)
		s.failed.Add(1)
		return
	}

	if err := s.limiter.Wait(ctx, addr.Domain()); err != nil {
		// Cancelled while waiting; the entry stays in flight for the snapshot.
		return
	}

	select {
	case <-ctx.Done():
		return
	default:
	}

	renderCtx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	rendered, err := s.renderer.Render(renderCtx, addr.Canonical, agent)
	cancel()

	if err != nil {
		s.handleFailure(entry, page.Classify(addr.Canonical, err))
		return
	}

	record, links := s.extractor.Extract(rendered)
	// One frontier transition for the visit and its discovered links: between
	// MarkVisited and separate Enqueues the frontier would look drained and
	// an idle worker could exit for good.
	enqueued := s.frontier.CompleteVisit(addr, links, entry.Depth+1)
	s.visited.Add(1)

	if record != nil {
		s.sink.Write(record)
	}

	log.Info().
		Str("url", addr.Canonical).
		Int("depth", entry.Depth).
		Int("discovered", enqueued).
		Dur("render_time", rendered.RenderTime).
		Msg("visited")
}

// handleFailure applies the retry policy: transient failures back off and
// re-queue until the retry budget runs out, permanent ones fail immediately.
func (s *Scheduler) handleFailure(entry *frontier.Entry, failure *page.Failure) {
	addr := entry.Address

	if failure.Transient() {
		delay := s.backoff(entry.RetryCount)
		if s.frontier.Retry(addr, delay) {
			s.retried.Add(1)
			log.Warn().
				Str("url", addr.Canonical).
				Str("kind", failure.Kind.String()).
				Dur("backoff", delay).
				Int("retry", entry.RetryCount).
				Msg("transient failure, retrying")
			return
		}
	} else {
		s.frontier.MarkFailed(addr)
	}

	s.failed.Add(1)
	log.Error().
		Str("url", addr.Canonical).
		Str("kind", failure.Kind.String()).
		Err(failure.Err).
		Msg("address failed")
}

// backoff computes the exponential retry delay: base * 2^retryCount, capped.
func (s *Scheduler) backoff(retryCount int) time.Duration {
	shift := retryCount
	if shift > maxBackoffShift {
		shift = maxBackoffShift
	}
	return s.cfg.RetryBackoff * time.Duration(1<<uint(shift))
}

// pickAgent chooses one configured user agent for a fetch.
func (s *Scheduler) pickAgent() string {
	agents := s.cfg.UserAgents
	if len(agents) == 1 {
		return agents[0]
	}
	return agents[rand.Intn(len(agents))]
}

// Stats returns current run counters.
func (s *Scheduler) Stats() Stats {
	return Stats{
		Processed: s.processed.Load(),
		Visited:   s.visited.Load(),
		Failed:    s.failed.Load(),
		Retried:   s.retried.Load(),
		Frontier:  s.frontier.Stats(),
		Elapsed:   time.Since(s.startTime),
	}
}

// Snapshot exposes the frontier's unfinished work for checkpointing.
func (s *Scheduler) Snapshot() []frontier.SnapshotEntry {
	return s.frontier.Snapshot()
}
