package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/hotel-crawler/hotelspider/internal/checkpoint"
	"github.com/hotel-crawler/hotelspider/internal/config"
	"github.com/hotel-crawler/hotelspider/internal/extractor"
	"github.com/hotel-crawler/hotelspider/internal/frontier"
	"github.com/hotel-crawler/hotelspider/internal/politeness"
	"github.com/hotel-crawler/hotelspider/internal/renderer"
	"github.com/hotel-crawler/hotelspider/internal/robots"
	"github.com/hotel-crawler/hotelspider/internal/scheduler"
	"github.com/hotel-crawler/hotelspider/internal/storage"
	"github.com/hotel-crawler/hotelspider/internal/urlutil"
)

// statsInterval is how often the running crawl logs progress.
const statsInterval = 10 * time.Second

func newCrawlCmd() *cobra.Command {
	var (
		maxDepth    int
		workers     int
		noRobots    bool
		dbPath      string
		chromiumBin string
	)

	cmd := &cobra.Command{
		Use:   "crawl [seed-url...]",
		Short: "Crawl listing pages starting from the given seeds",
		Long: `Crawl seeds the frontier with the given URLs (or the configured seeds
when none are passed) and processes it until drained or interrupted.
On SIGINT/SIGTERM the run shuts down gracefully and writes a frontier
snapshot so unfinished work is not lost silently.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if len(args) > 0 {
				cfg.Seeds = args
			}
			if cmd.Flags().Changed("depth") {
				cfg.MaxDepth = maxDepth
			}
			if cmd.Flags().Changed("workers") {
				cfg.ConcurrentRequests = workers
			}
			if noRobots {
				cfg.RespectRobots = false
			}
			if dbPath != "" {
				cfg.DatabasePath = dbPath
			}
			if chromiumBin != "" {
				cfg.ChromiumPath = chromiumBin
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			if len(cfg.Seeds) == 0 {
				return errors.New("no seed URLs: pass them as arguments or set seeds in the config file")
			}

			return runCrawl(cmd.Context(), cfg)
		},
	}

	cmd.Flags().IntVarP(&maxDepth, "depth", "d", 0, "maximum discovery depth (0 = unlimited)")
	cmd.Flags().IntVarP(&workers, "workers", "w", 0, "number of concurrent workers")
	cmd.Flags().BoolVar(&noRobots, "no-robots", false, "ignore robots.txt")
	cmd.Flags().StringVar(&dbPath, "db", "", "sqlite database path")
	cmd.Flags().StringVar(&chromiumBin, "chromium", "", "chromium executable path")
	return cmd
}

func runCrawl(parent context.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer store.Close()

	runID, err := store.StartRun(cfg.Seeds)
	if err != nil {
		return err
	}
	log.Info().Str("run_id", runID).Strs("seeds", cfg.Seeds).Msg("run recorded")

	rend, err := renderer.New(renderer.Options{
		PoolSize:     cfg.ConcurrentRequests,
		WaitSelector: cfg.Extraction.WaitSelector,
		ChromiumPath: cfg.ChromiumPath,
	})
	if err != nil {
		return fmt.Errorf("start renderer: %w", err)
	}
	defer rend.Close()

	canon := urlutil.NewCanonicalizer(cfg.PageSuffix, cfg.Locale)
	front := frontier.New(canon, cfg.MaxDepth, cfg.MaxRetries)
	limiter := politeness.NewDomainLimiter(cfg.RateLimitMin, cfg.RateLimitMax, cfg.RequestsPerSecond)
	// nil installs a client with a fetch timeout; http.DefaultClient has
	// none and would let a hung robots endpoint wedge its domain's workers.
	robotsCache := robots.NewCache(nil, cfg.RespectRobots)

	sched := scheduler.New(cfg, front, limiter, robotsCache, rend, extractor.New(cfg.Extraction), store)

	progressDone := make(chan struct{})
	go func() {
		defer close(progressDone)
		ticker := time.NewTicker(statsInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				logStats(sched.Stats())
			}
		}
	}()

	runErr := sched.Run(ctx)
	stop()
	<-progressDone

	stats := sched.Stats()
	if ctx.Err() != nil {
		writeCheckpoint(cfg.CheckpointDir, runID, cfg.Seeds, sched.Snapshot())
	}
	if err := store.FinishRun(stats.Visited, stats.Failed, stats.Retried); err != nil {
		log.Error().Err(err).Msg("record run completion")
	}

	log.Info().
		Int64("processed", stats.Processed).
		Int64("visited", stats.Visited).
		Int64("failed", stats.Failed).
		Int64("retried", stats.Retried).
		Int("duplicates", stats.Frontier.Duplicates).
		Int("rejected", stats.Frontier.Rejected).
		Dur("elapsed", stats.Elapsed.Round(time.Millisecond)).
		Msg("crawl complete")
	return runErr
}

func logStats(stats scheduler.Stats) {
	log.Info().
		Int64("processed", stats.Processed).
		Int64("visited", stats.Visited).
		Int64("failed", stats.Failed).
		Int64("retried", stats.Retried).
		Int("pending", stats.Frontier.Pending).
		Int("in_flight", stats.Frontier.InFlight).
		Dur("elapsed", stats.Elapsed.Round(time.Second)).
		Msg("progress")
}

// writeCheckpoint saves the unfinished frontier after an interrupted run.
// Failure to save is logged, not fatal: the run is already ending.
func writeCheckpoint(dir, runID string, seeds []string, entries []frontier.SnapshotEntry) {
	if len(entries) == 0 {
		return
	}
	path, err := checkpoint.Write(dir, &checkpoint.Snapshot{
		RunID:     runID,
		CreatedAt: time.Now(),
		Seeds:     seeds,
		Entries:   entries,
	})
	if err != nil {
		log.Error().Err(err).Msg("write frontier snapshot")
		return
	}
	log.Info().Str("path", path).Int("entries", len(entries)).Msg("frontier snapshot written")
}
