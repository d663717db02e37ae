// Package robots caches per-domain crawl permissions for one run.
package robots

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/temoto/robotstxt"

	"github.com/hotel-crawler/hotelspider/internal/urlutil"
)

const (
	fetchAttempts = 3
	fetchBackoff  = 500 * time.Millisecond
	fetchTimeout  = 10 * time.Second
)

// Cache lazily fetches, parses, and caches robots.txt rules per domain.
// Rules are fetched once per domain per run; after that, permission checks
// are pure in-memory rule evaluations. A policy document that cannot be
// fetched never blocks the crawl: the domain is treated as fully permitted.
type Cache struct {
	client       *http.Client
	respect      bool
	fetchTimeout time.Duration

	mu      sync.Mutex
	domains map[string]*domainPolicy
}

// domainPolicy is fetched at most once. A nil rules field after the fetch
// settles means fail-open.
type domainPolicy struct {
	once  sync.Once
	rules *robotstxt.RobotsData
}

// NewCache creates a robots cache. When respect is false every query returns
// permitted and no policy document is ever fetched. A nil client gets a
// default with a fetch timeout.
func NewCache(client *http.Client, respect bool) *Cache {
	if client == nil {
		client = &http.Client{Timeout: fetchTimeout}
	}
	return &Cache{
		client:       client,
		respect:      respect,
		fetchTimeout: fetchTimeout,
		domains:      make(map[string]*domainPolicy),
	}
}

// Allowed reports whether the given address may be fetched by agent.
func (c *Cache) Allowed(ctx context.Context, addr *urlutil.Address, agent string) bool {
	if !c.respect {
		return true
	}

	domain := addr.Domain()

	c.mu.Lock()
	policy, ok := c.domains[domain]
	if !ok {
		policy = &domainPolicy{}
		c.domains[domain] = policy
	}
	c.mu.Unlock()

	// The fetch runs outside the cache lock; concurrent workers asking about
	// one domain block only on each other, not on unrelated domains.
	policy.once.Do(func() {
		policy.rules = c.fetch(ctx, domain, agent)
	})

	if policy.rules == nil {
		return true
	}

	group := policy.rules.FindGroup(agent)
	if group == nil {
		return true
	}
	return group.Test(pathOf(addr))
}

// fetch retrieves and parses a domain's robots.txt with bounded retry and
// exponential backoff. It returns nil when the document could not be
// obtained, which callers interpret as fail-open.
func (c *Cache) fetch(ctx context.Context, domain, agent string) *robotstxt.RobotsData {
	robotsURL := domain + "/robots.txt"

	var lastErr error
	for attempt := 0; attempt < fetchAttempts; attempt++ {
		if attempt > 0 {
			backoff := fetchBackoff << (attempt - 1)
			timer := time.NewTimer(backoff)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return nil
			}
		}

		rules, err := c.fetchOnce(ctx, robotsURL, agent)
		if err == nil {
			return rules
		}
		lastErr = err
	}

	log.Warn().
		Str("url", robotsURL).
		Err(lastErr).
		Msg("robots.txt unavailable, treating domain as permitted")
	return nil
}

func (c *Cache) fetchOnce(ctx context.Context, robotsURL, agent string) (*robotstxt.RobotsData, error) {
	// Each attempt gets its own deadline. The caller's context is the
	// crawl-wide one; without this a server that accepts the connection and
	// never responds would hold the domain's sync.Once, and every worker
	// behind it, for the rest of the run.
	ctx, cancel := context.WithTimeout(ctx, c.fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build robots request: %w", err)
	}
	req.Header.Set("User-Agent", agent)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch robots.txt: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("robots.txt returned status %d", resp.StatusCode)
	}

	// 4xx statuses are meaningful per the robots exclusion protocol (absent
	// document = everything permitted); the parser handles them.
	rules, err := robotstxt.FromResponse(resp)
	if err != nil {
		return nil, fmt.Errorf("parse robots.txt: %w", err)
	}
	return rules, nil
}

func pathOf(addr *urlutil.Address) string {
	path := strings.TrimPrefix(addr.Canonical, addr.Domain())
	if path == "" {
		return "/"
	}
	return path
}
