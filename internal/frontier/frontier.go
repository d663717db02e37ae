package frontier

import (
	"container/list"
	"sync"
	"time"

	"github.com/hotel-crawler/hotelspider/internal/urlutil"
)

// Frontier is the deduplicated work queue for one crawl run. Raw links are
// canonicalized on entry; each canonical address is admitted at most once,
// so total visits per address never exceed one.
//
// All methods are safe for concurrent use. No lock is held across I/O or
// timer waits.
type Frontier struct {
	canon      *urlutil.Canonicalizer
	maxDepth   int
	maxRetries int

	mu      sync.Mutex
	queue   *list.List        // pending *Entry, FIFO by discovery order
	states  map[string]State  // canonical address -> state
	entries map[string]*Entry // canonical address -> entry, non-terminal only
	timers  map[string]*time.Timer
	closed  bool

	enqueued   int
	duplicates int
	rejected   int
	visited    int
	failed     int
}

// New creates an empty frontier. maxDepth of 0 means unlimited depth.
func New(canon *urlutil.Canonicalizer, maxDepth, maxRetries int) *Frontier {
	return &Frontier{
		canon:      canon,
		maxDepth:   maxDepth,
		maxRetries: maxRetries,
		queue:      list.New(),
		states:     make(map[string]State),
		entries:    make(map[string]*Entry),
		timers:     make(map[string]*time.Timer),
	}
}

// Enqueue canonicalizes a raw link and admits it as pending work. It returns
// false when the link fails canonicalization, exceeds the depth limit, or its
// canonical address already holds a state for this run.
func (f *Frontier) Enqueue(raw string, depth int) bool {
	addr, err := f.canon.Canonicalize(raw)
	if err != nil {
		f.mu.Lock()
		f.rejected++
		f.mu.Unlock()
		return false
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return false
	}
	return f.admitLocked(addr, depth)
}

// admitLocked admits a canonical address as pending work. Callers hold f.mu.
func (f *Frontier) admitLocked(addr *urlutil.Address, depth int) bool {
	if f.maxDepth > 0 && depth > f.maxDepth {
		f.rejected++
		return false
	}
	if _, seen := f.states[addr.Canonical]; seen {
		f.duplicates++
		return false
	}

	entry := &Entry{
		Address:    addr,
		Depth:      depth,
		EnqueuedAt: time.Now(),
	}
	f.states[addr.Canonical] = StatePending
	f.entries[addr.Canonical] = entry
	f.queue.PushBack(entry)
	f.enqueued++
	return true
}

// Dequeue pops the oldest pending entry and marks it in-flight. The second
// return value is false when no pending work is available right now; callers
// must consult IsDrained to distinguish an idle moment from a finished run.
func (f *Frontier) Dequeue() (*Entry, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	front := f.queue.Front()
	if front == nil {
		return nil, false
	}
	entry := f.queue.Remove(front).(*Entry)
	f.states[entry.Address.Canonical] = StateInFlight
	return entry, true
}

// MarkVisited transitions an in-flight address to its terminal visited state.
func (f *Frontier) MarkVisited(addr *urlutil.Address) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.states[addr.Canonical] != StateInFlight {
		return
	}
	f.states[addr.Canonical] = StateVisited
	delete(f.entries, addr.Canonical)
	f.visited++
}

// CompleteVisit marks an in-flight address visited and admits the links
// discovered on it at the given depth, in one critical section. Holding the
// lock across both steps means the frontier is never momentarily drained
// between a page's completion and the admission of its outbound links, so an
// idle worker polling IsDrained cannot exit while discovery is still in
// progress. It returns the number of links admitted.
func (f *Frontier) CompleteVisit(addr *urlutil.Address, links []string, depth int) int {
	// Canonicalization stays outside the lock.
	resolved := make([]*urlutil.Address, 0, len(links))
	badLinks := 0
	for _, raw := range links {
		linkAddr, err := f.canon.Canonicalize(raw)
		if err != nil {
			badLinks++
			continue
		}
		resolved = append(resolved, linkAddr)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.rejected += badLinks
	if f.states[addr.Canonical] != StateInFlight {
		return 0
	}

	admitted := 0
	if !f.closed {
		for _, linkAddr := range resolved {
			if f.admitLocked(linkAddr, depth) {
				admitted++
			}
		}
	}

	f.states[addr.Canonical] = StateVisited
	delete(f.entries, addr.Canonical)
	f.visited++
	return admitted
}

// MarkFailed transitions an in-flight address to its terminal failed state.
func (f *Frontier) MarkFailed(addr *urlutil.Address) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failLocked(addr.Canonical)
}

func (f *Frontier) failLocked(canonical string) {
	if f.states[canonical] != StateInFlight {
		return
	}
	f.states[canonical] = StateFailed
	delete(f.entries, canonical)
	f.failed++
}

// Retry re-queues an in-flight address after the given delay, incrementing
// its retry count. When the retry budget is exhausted the address is marked
// failed instead and Retry returns false. The wait is scheduled, not
// blocking: the address stays in-flight until the delay elapses, so the run
// is not considered drained in the meantime.
func (f *Frontier) Retry(addr *urlutil.Address, delay time.Duration) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	canonical := addr.Canonical
	if f.states[canonical] != StateInFlight {
		return false
	}
	entry := f.entries[canonical]
	if entry == nil || entry.RetryCount >= f.maxRetries {
		f.failLocked(canonical)
		return false
	}
	entry.RetryCount++

	f.timers[canonical] = time.AfterFunc(delay, func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.timers, canonical)
		if f.closed || f.states[canonical] != StateInFlight {
			return
		}
		f.states[canonical] = StatePending
		// Retried entries go to the front so they are not starved behind
		// freshly discovered work.
		f.queue.PushFront(entry)
	})
	return true
}

// IsDrained reports whether no work is pending or in flight.
func (f *Frontier) IsDrained() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries) == 0
}

// Snapshot returns all non-terminal entries, pending first, for checkpoint
// tooling. Resumption itself is outside the frontier's scope.
func (f *Frontier) Snapshot() []SnapshotEntry {
	f.mu.Lock()
	defer f.mu.Unlock()

	snap := make([]SnapshotEntry, 0, len(f.entries))
	for canonical, entry := range f.entries {
		snap = append(snap, SnapshotEntry{
			Canonical:  canonical,
			Raw:        entry.Address.Raw,
			Depth:      entry.Depth,
			RetryCount: entry.RetryCount,
			State:      f.states[canonical].String(),
		})
	}
	return snap
}

// Stats returns current frontier counters.
func (f *Frontier) Stats() Stats {
	f.mu.Lock()
	defer f.mu.Unlock()

	s := Stats{
		Pending:    f.queue.Len(),
		Visited:    f.visited,
		Failed:     f.failed,
		Enqueued:   f.enqueued,
		Duplicates: f.duplicates,
		Rejected:   f.rejected,
	}
	s.InFlight = len(f.entries) - s.Pending
	return s
}

// Close stops pending retry timers. The frontier accepts no new work after
// Close; in-flight entries remain visible to Snapshot.
func (f *Frontier) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.closed = true
	for canonical, timer := range f.timers {
		timer.Stop()
		delete(f.timers, canonical)
	}
}
