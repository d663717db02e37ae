// Package politeness enforces per-domain request spacing.
package politeness

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DomainLimiter spaces out request initiations per domain. Each pair of
// consecutive requests to one domain is separated by a delay sampled
// uniformly from [minDelay, maxDelay]; requests to distinct domains never
// delay each other. An optional global limiter additionally caps overall
// initiation rate across all domains.
type DomainLimiter struct {
	minDelay time.Duration
	maxDelay time.Duration
	global   *rate.Limiter

	mu   sync.Mutex
	next map[string]time.Time // domain -> earliest next initiation
	rng  *rand.Rand
}

// NewDomainLimiter creates a limiter with the given per-domain delay bounds.
// globalRPS of 0 disables the global cap.
func NewDomainLimiter(minDelay, maxDelay time.Duration, globalRPS float64) *DomainLimiter {
	l := &DomainLimiter{
		minDelay: minDelay,
		maxDelay: maxDelay,
		next:     make(map[string]time.Time),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	if globalRPS > 0 {
		l.global = rate.NewLimiter(rate.Limit(globalRPS), 1)
	}
	return l
}

// Wait blocks the calling worker until it is safe to initiate the next
// request to domain. The domain's slot is reserved before sleeping, so
// concurrent callers for one domain serialize without blocking workers on
// other domains. The reservation stands even if the subsequent request
// fails: spacing bounds initiation rate, not completion.
func (l *DomainLimiter) Wait(ctx context.Context, domain string) error {
	if l.global != nil {
		if err := l.global.Wait(ctx); err != nil {
			return err
		}
	}

	now := time.Now()

	l.mu.Lock()
	target, ok := l.next[domain]
	if !ok || target.Before(now) {
		target = now
	}
	l.next[domain] = target.Add(l.jitter())
	l.mu.Unlock()

	wait := time.Until(target)
	if wait <= 0 {
		return nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// jitter samples the next delay from [minDelay, maxDelay].
// Callers must hold l.mu: the rng is not safe for concurrent use.
func (l *DomainLimiter) jitter() time.Duration {
	if l.maxDelay <= l.minDelay {
		return l.minDelay
	}
	return l.minDelay + time.Duration(l.rng.Int63n(int64(l.maxDelay-l.minDelay)))
}
